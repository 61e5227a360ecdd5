// Package retrieval turns raw nearest-neighbour hits into the fragment set
// handed to the prompt builder.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ymiyake/localrag/internal/vectorstore"
)

const (
	// Fewer primary results than this triggers the relaxation pass.
	relaxationTrigger = 3

	// The relaxation pass never grows the result set beyond this.
	relaxationCap = 5
)

// CascadeConfig holds the thresholds and limits of the selection tiers.
type CascadeConfig struct {
	// MinSimilarity is the configured similarity threshold. The primary
	// tier applies it multiplied by RelaxFactor.
	MinSimilarity float32

	// RelaxFactor softens the configured threshold (default 0.8).
	RelaxFactor float32

	// FloorSimilarity is the absolute floor used by the relaxation pass
	// (default 0.05).
	FloorSimilarity float32

	// MaxResults caps the primary tier's output.
	MaxResults int

	// FallbackEnabled controls whether a failed or empty search may fall
	// through to a full store dump.
	FallbackEnabled bool

	// FallbackLimit caps the full dump.
	FallbackLimit int
}

// Lister is the slice of the fragment store the fallback tier needs.
type Lister interface {
	All(ctx context.Context, limit int) ([]string, error)
}

// Cascade selects fragments from search hits through a sequence of
// progressively more permissive tiers. Each tier reports whether its
// result is sufficient; the first sufficient result wins.
type Cascade struct {
	config CascadeConfig
	store  Lister
	logger *slog.Logger
}

// NewCascade creates a new selection cascade backed by store.
func NewCascade(config CascadeConfig, store Lister, logger *slog.Logger) *Cascade {
	if config.RelaxFactor <= 0 {
		config.RelaxFactor = 0.8
	}
	if config.FloorSimilarity <= 0 {
		config.FloorSimilarity = 0.05
	}
	return &Cascade{config: config, store: store, logger: logger}
}

// selection carries state between tiers: the surviving hits and the
// texts accumulated so far.
type selection struct {
	hits  []vectorstore.SearchHit
	texts []string
}

// Select runs the tiers in order until one reports a sufficient result.
// searchErr is the error from the neighbour search, if any; it is routed
// into the full fallback unless fallback is disabled, in which case it
// propagates.
func (c *Cascade) Select(ctx context.Context, hits []vectorstore.SearchHit, searchErr error) ([]string, error) {
	if searchErr != nil {
		if !c.config.FallbackEnabled {
			return nil, fmt.Errorf("neighbour search failed: %w", searchErr)
		}
		c.logger.Warn("neighbour search failed, falling back to full dump", "error", searchErr)
		return c.dump(ctx)
	}

	sel := &selection{hits: excludeMarker(hits)}

	tiers := []struct {
		name  string
		apply func(context.Context, *selection) (bool, error)
	}{
		{"primary-filter", c.primaryFilter},
		{"low-count-relaxation", c.lowCountRelaxation},
		{"full-fallback", c.fullFallback},
	}

	for _, tier := range tiers {
		sufficient, err := tier.apply(ctx, sel)
		if err != nil {
			return nil, err
		}
		if sufficient {
			c.logger.Debug("selection tier satisfied",
				"tier", tier.name, "fragments", len(sel.texts))
			return sel.texts, nil
		}
	}

	return sel.texts, nil
}

// primaryFilter keeps hits at or above the relaxed threshold, best first,
// capped at MaxResults. Sufficient when it finds enough to skip the
// relaxation pass.
func (c *Cascade) primaryFilter(_ context.Context, sel *selection) (bool, error) {
	threshold := c.config.MinSimilarity * c.config.RelaxFactor

	type candidate struct {
		text       string
		similarity float32
	}
	var candidates []candidate
	for _, hit := range sel.hits {
		if sim := hit.Similarity(); sim >= threshold {
			candidates = append(candidates, candidate{text: hit.Content, similarity: sim})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].similarity > candidates[j].similarity
	})
	if c.config.MaxResults > 0 && len(candidates) > c.config.MaxResults {
		candidates = candidates[:c.config.MaxResults]
	}

	sel.texts = sel.texts[:0]
	for _, cand := range candidates {
		sel.texts = append(sel.texts, cand.text)
	}

	return len(sel.texts) >= relaxationTrigger, nil
}

// lowCountRelaxation re-scans the hits against the absolute floor and
// appends previously unselected texts until the capped size is reached.
// Sufficient as soon as anything at all has been selected.
func (c *Cascade) lowCountRelaxation(_ context.Context, sel *selection) (bool, error) {
	seen := make(map[string]bool, len(sel.texts))
	for _, text := range sel.texts {
		seen[text] = true
	}

	for _, hit := range sel.hits {
		if len(sel.texts) >= relaxationCap {
			break
		}
		if hit.Similarity() < c.config.FloorSimilarity {
			continue
		}
		if seen[hit.Content] {
			continue
		}
		seen[hit.Content] = true
		sel.texts = append(sel.texts, hit.Content)
	}

	return len(sel.texts) > 0, nil
}

// fullFallback dumps the store when everything above came back empty.
// With fallback disabled the empty result stands.
func (c *Cascade) fullFallback(ctx context.Context, sel *selection) (bool, error) {
	if !c.config.FallbackEnabled {
		return true, nil
	}

	texts, err := c.dump(ctx)
	if err != nil {
		return false, err
	}
	sel.texts = texts
	return true, nil
}

func (c *Cascade) dump(ctx context.Context) ([]string, error) {
	texts, err := c.store.All(ctx, c.config.FallbackLimit)
	if err != nil {
		return nil, fmt.Errorf("full fallback failed: %w", err)
	}
	c.logger.Info("serving full fallback", "fragments", len(texts))
	return texts, nil
}

// excludeMarker drops the fingerprint marker from a hit list. The store
// already filters it; this guards against stores that do not.
func excludeMarker(hits []vectorstore.SearchHit) []vectorstore.SearchHit {
	out := hits[:0]
	for _, hit := range hits {
		if hit.PointID == vectorstore.MarkerPointID || hit.Content == vectorstore.MarkerKey {
			continue
		}
		out = append(out, hit)
	}
	return out
}
