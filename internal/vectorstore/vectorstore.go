// Package vectorstore provides the fragment store backed by a vector
// similarity engine.
package vectorstore

import (
	"context"

	"github.com/google/uuid"
)

// MarkerKey is the reserved identity under which the corpus fingerprint
// is persisted inside the store's own namespace.
const MarkerKey = "corpus-fingerprint"

// MarkerPointID is the stable point ID of the fingerprint marker.
// Derived deterministically so every process addresses the same point.
var MarkerPointID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(MarkerKey)).String()

// Fragment is one stored unit of source text together with its embedding.
// IDs are ordinals assigned during ingestion; the marker point never uses
// a numeric ID, so fragment IDs and the marker cannot collide.
type Fragment struct {
	ID         uint64
	SourceFile string
	Text       string
	Ordinal    int
	Vector     []float32
}

// SearchHit is one nearest-neighbour result.
type SearchHit struct {
	PointID  string
	Content  string
	Distance *float32 // nil when the engine reports no distance
}

// Similarity converts the engine's distance into a similarity score.
// A hit without a distance counts as a perfect match.
func (h SearchHit) Similarity() float32 {
	if h.Distance == nil {
		return 1
	}
	return 1 - *h.Distance
}

// Store defines fragment storage and retrieval operations.
// All(), Count() and Search() never surface the fingerprint marker; it is
// reachable only through Fingerprint and SetFingerprint.
type Store interface {
	// EnsureCollection creates the backing collection if it does not exist.
	EnsureCollection(ctx context.Context, dimension int) error

	// Upsert inserts or updates fragments.
	Upsert(ctx context.Context, fragments []Fragment) error

	// Search returns the nearest neighbours of vector, best first.
	Search(ctx context.Context, vector []float32, limit int) ([]SearchHit, error)

	// All returns up to limit fragment texts in storage order.
	All(ctx context.Context, limit int) ([]string, error)

	// Count returns the number of stored fragments.
	Count(ctx context.Context) (int, error)

	// DeleteAll removes every fragment, including the fingerprint marker.
	DeleteAll(ctx context.Context) error

	// Fingerprint returns the persisted corpus fingerprint, or "" if the
	// marker has never been written.
	Fingerprint(ctx context.Context) (string, error)

	// SetFingerprint persists the corpus fingerprint.
	SetFingerprint(ctx context.Context, fingerprint string) error
}
