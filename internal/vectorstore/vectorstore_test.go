package vectorstore

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
)

func TestSearchHit_Similarity(t *testing.T) {
	tests := []struct {
		name     string
		distance *float32
		want     float32
	}{
		{"no distance reported", nil, 1},
		{"zero distance", qdrant.PtrOf(float32(0)), 1},
		{"partial distance", qdrant.PtrOf(float32(0.25)), 0.75},
		{"max distance", qdrant.PtrOf(float32(1)), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := SearchHit{Distance: tt.distance}
			if got := h.Similarity(); got != tt.want {
				t.Errorf("Similarity() = %g, want %g", got, tt.want)
			}
		})
	}
}

func TestMarkerPointID_Stable(t *testing.T) {
	// The marker must resolve to the same point across processes.
	const want = "fec1b89b-2157-5637-9708-aa46e00e2476"
	if MarkerPointID != want {
		t.Errorf("MarkerPointID = %s, want %s", MarkerPointID, want)
	}
}
