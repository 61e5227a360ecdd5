package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/ymiyake/localrag/internal/vectorstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLister struct {
	texts    []string
	err      error
	calls    int
	gotLimit int
}

func (f *fakeLister) All(ctx context.Context, limit int) ([]string, error) {
	f.calls++
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if len(f.texts) > limit {
		return f.texts[:limit], nil
	}
	return f.texts, nil
}

func hit(content string, similarity float32) vectorstore.SearchHit {
	d := 1 - similarity
	return vectorstore.SearchHit{PointID: content, Content: content, Distance: &d}
}

func testConfig() CascadeConfig {
	return CascadeConfig{
		MinSimilarity:   0.15,
		RelaxFactor:     0.8,
		FloorSimilarity: 0.05,
		MaxResults:      150,
		FallbackEnabled: true,
		FallbackLimit:   50,
	}
}

func TestCascade_PrimaryTier(t *testing.T) {
	store := &fakeLister{texts: []string{"dump"}}
	cascade := NewCascade(testConfig(), store, testLogger())

	// Threshold is 0.15 * 0.8 = 0.12.
	hits := []vectorstore.SearchHit{
		hit("middle", 0.5),
		hit("best", 0.9),
		hit("borderline", 0.13),
		hit("below", 0.05),
	}

	texts, err := cascade.Select(context.Background(), hits, nil)
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}

	want := []string{"best", "middle", "borderline"}
	if len(texts) != len(want) {
		t.Fatalf("expected %d texts, got %d: %v", len(want), len(texts), texts)
	}
	for i, w := range want {
		if texts[i] != w {
			t.Errorf("texts[%d] = %q, expected %q", i, texts[i], w)
		}
	}
	if store.calls != 0 {
		t.Error("primary tier should not touch the store")
	}
}

func TestCascade_HitWithoutDistanceIsPerfectMatch(t *testing.T) {
	cascade := NewCascade(testConfig(), &fakeLister{}, testLogger())

	hits := []vectorstore.SearchHit{
		{PointID: "1", Content: "no distance"},
		hit("good", 0.5),
		hit("fine", 0.3),
	}

	texts, err := cascade.Select(context.Background(), hits, nil)
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if len(texts) != 3 || texts[0] != "no distance" {
		t.Errorf("expected distance-less hit ranked first, got %v", texts)
	}
}

func TestCascade_MaxResultsCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxResults = 4
	cascade := NewCascade(cfg, &fakeLister{}, testLogger())

	var hits []vectorstore.SearchHit
	for i := 0; i < 10; i++ {
		hits = append(hits, hit(fmt.Sprintf("frag-%d", i), 0.9))
	}

	texts, err := cascade.Select(context.Background(), hits, nil)
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if len(texts) != 4 {
		t.Errorf("expected 4 texts, got %d", len(texts))
	}
}

func TestCascade_RelaxationAppendsUpToCap(t *testing.T) {
	cascade := NewCascade(testConfig(), &fakeLister{}, testLogger())

	// Only two hits clear the relaxed threshold, so the relaxation pass
	// runs and appends floor-clearing hits in original hit order.
	hits := []vectorstore.SearchHit{
		hit("a", 0.9),
		hit("b", 0.13),
		hit("c", 0.08),
		hit("d", 0.06),
		hit("e", 0.03),
	}

	texts, err := cascade.Select(context.Background(), hits, nil)
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}

	want := []string{"a", "b", "c", "d"}
	if len(texts) != len(want) {
		t.Fatalf("expected %d texts, got %d: %v", len(want), len(texts), texts)
	}
	for i, w := range want {
		if texts[i] != w {
			t.Errorf("texts[%d] = %q, expected %q", i, texts[i], w)
		}
	}
}

func TestCascade_RelaxationCappedAtFive(t *testing.T) {
	cascade := NewCascade(testConfig(), &fakeLister{}, testLogger())

	var hits []vectorstore.SearchHit
	for i := 0; i < 8; i++ {
		hits = append(hits, hit(fmt.Sprintf("weak-%d", i), 0.08))
	}

	texts, err := cascade.Select(context.Background(), hits, nil)
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if len(texts) != 5 {
		t.Errorf("expected relaxation capped at 5, got %d", len(texts))
	}
}

func TestCascade_RelaxationDeduplicates(t *testing.T) {
	cascade := NewCascade(testConfig(), &fakeLister{}, testLogger())

	hits := []vectorstore.SearchHit{
		hit("a", 0.9),
		hit("b", 0.13),
		{PointID: "b2", Content: "b", Distance: ptr(float32(0.93))}, // same text, floor-level
		hit("c", 0.08),
	}

	texts, err := cascade.Select(context.Background(), hits, nil)
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}

	seen := make(map[string]int)
	for _, text := range texts {
		seen[text]++
	}
	if seen["b"] != 1 {
		t.Errorf("expected text b exactly once, got %d times in %v", seen["b"], texts)
	}
}

func TestCascade_FullFallbackOnEmpty(t *testing.T) {
	store := &fakeLister{texts: []string{"x", "y", "z"}}
	cascade := NewCascade(testConfig(), store, testLogger())

	// Everything below the floor.
	hits := []vectorstore.SearchHit{hit("junk", 0.01)}

	texts, err := cascade.Select(context.Background(), hits, nil)
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}

	if len(texts) != 3 {
		t.Errorf("expected full dump of 3 texts, got %d", len(texts))
	}
	if store.gotLimit != 50 {
		t.Errorf("expected fallback limit 50, got %d", store.gotLimit)
	}
}

func TestCascade_FallbackRespectsLimit(t *testing.T) {
	var many []string
	for i := 0; i < 80; i++ {
		many = append(many, fmt.Sprintf("frag-%d", i))
	}
	store := &fakeLister{texts: many}
	cascade := NewCascade(testConfig(), store, testLogger())

	texts, err := cascade.Select(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if len(texts) != 50 {
		t.Errorf("expected 50 texts, got %d", len(texts))
	}
}

func TestCascade_FallbackDisabledReturnsEmpty(t *testing.T) {
	cfg := testConfig()
	cfg.FallbackEnabled = false
	store := &fakeLister{texts: []string{"x"}}
	cascade := NewCascade(cfg, store, testLogger())

	texts, err := cascade.Select(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if len(texts) != 0 {
		t.Errorf("expected empty result with fallback disabled, got %v", texts)
	}
	if store.calls != 0 {
		t.Error("store should not be consulted with fallback disabled")
	}
}

func TestCascade_SearchErrorRoutesToFallback(t *testing.T) {
	store := &fakeLister{texts: []string{"x", "y"}}
	cascade := NewCascade(testConfig(), store, testLogger())

	texts, err := cascade.Select(context.Background(), nil, errors.New("engine down"))
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if len(texts) != 2 {
		t.Errorf("expected dump of 2 texts, got %d", len(texts))
	}
}

func TestCascade_SearchErrorPropagatesWhenFallbackDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.FallbackEnabled = false
	cascade := NewCascade(cfg, &fakeLister{}, testLogger())

	searchErr := errors.New("engine down")
	if _, err := cascade.Select(context.Background(), nil, searchErr); !errors.Is(err, searchErr) {
		t.Errorf("expected wrapped search error, got %v", err)
	}
}

func TestCascade_MarkerExcluded(t *testing.T) {
	cascade := NewCascade(testConfig(), &fakeLister{}, testLogger())

	hits := []vectorstore.SearchHit{
		{PointID: vectorstore.MarkerPointID, Content: "deadbeef"},
		hit("real-1", 0.9),
		hit("real-2", 0.8),
		hit("real-3", 0.7),
	}

	texts, err := cascade.Select(context.Background(), hits, nil)
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	for _, text := range texts {
		if text == "deadbeef" {
			t.Error("fingerprint marker leaked into results")
		}
	}
	if len(texts) != 3 {
		t.Errorf("expected 3 texts, got %d", len(texts))
	}
}

func ptr[T any](v T) *T { return &v }
