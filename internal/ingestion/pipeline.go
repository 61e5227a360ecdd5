package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/ymiyake/localrag/internal/embedder"
	"github.com/ymiyake/localrag/internal/vectorstore"
)

// PipelineConfig holds configuration for the ingestion pipeline.
type PipelineConfig struct {
	Chunker ChunkerConfig

	// EmbedTimeout bounds each embedding call, batch or single. Zero
	// disables the per-call timeout.
	EmbedTimeout time.Duration
}

// Summary reports what one synchronisation pass did.
type Summary struct {
	Fingerprint      string
	Rebuilt          bool
	FilesLoaded      int
	FilesSkipped     int
	FilesFailed      int
	FragmentsStored  int
	FragmentsDropped int
	Duration         time.Duration
}

// Pipeline keeps the fragment store synchronised with the corpus folder.
type Pipeline struct {
	folder   string
	loader   *Loader
	chunker  *Chunker
	embedder embedder.Embedder
	store    vectorstore.Store
	config   PipelineConfig
	logger   *slog.Logger
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(folder string, emb embedder.Embedder, store vectorstore.Store, config PipelineConfig, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		folder:   folder,
		loader:   NewLoader(folder, logger),
		chunker:  NewChunker(config.Chunker),
		embedder: emb,
		store:    store,
		config:   config,
		logger:   logger,
	}
}

// Sync brings the store in line with the corpus folder. An unchanged
// fingerprint with a populated store is a no-op; anything else triggers a
// full delete and rebuild.
func (p *Pipeline) Sync(ctx context.Context) (*Summary, error) {
	start := time.Now()

	fingerprint, err := Fingerprint(p.folder)
	if err != nil {
		return nil, err
	}

	stored, err := p.store.Fingerprint(ctx)
	if err != nil {
		p.logger.Warn("failed to read stored fingerprint, forcing rebuild", "error", err)
		stored = ""
	}
	count, err := p.store.Count(ctx)
	if err != nil {
		count = 0
	}

	if stored == fingerprint && count > 0 {
		p.logger.Info("corpus unchanged, skipping re-embedding", "fragments", count)
		return &Summary{Fingerprint: fingerprint, Duration: time.Since(start)}, nil
	}

	return p.rebuild(ctx, fingerprint, start)
}

// Rebuild drops the store and re-ingests the corpus regardless of the
// stored fingerprint.
func (p *Pipeline) Rebuild(ctx context.Context) (*Summary, error) {
	start := time.Now()

	fingerprint, err := Fingerprint(p.folder)
	if err != nil {
		return nil, err
	}

	return p.rebuild(ctx, fingerprint, start)
}

func (p *Pipeline) rebuild(ctx context.Context, fingerprint string, start time.Time) (*Summary, error) {
	docs, stats, err := p.loader.Load()
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("no ingestible documents in %s", p.folder)
	}

	if err := p.store.DeleteAll(ctx); err != nil {
		return nil, fmt.Errorf("failed to clear store: %w", err)
	}

	summary := &Summary{
		Fingerprint:  fingerprint,
		Rebuilt:      true,
		FilesLoaded:  stats.FilesLoaded,
		FilesSkipped: stats.FilesSkipped,
		FilesFailed:  stats.FilesFailed,
	}

	var nextID uint64 = 1
	for _, doc := range docs {
		var pending []vectorstore.Fragment
		for _, frag := range p.chunker.ChunkDocument(doc) {
			text, ok := p.prepare(frag.Text)
			if !ok {
				summary.FragmentsDropped++
				continue
			}
			pending = append(pending, vectorstore.Fragment{
				SourceFile: frag.SourceFile,
				Text:       text,
				Ordinal:    frag.Ordinal,
			})
		}

		stored, dropped, err := p.storeBatch(ctx, pending, &nextID)
		if err != nil {
			return nil, err
		}
		summary.FragmentsStored += stored
		summary.FragmentsDropped += dropped
	}

	if err := p.store.SetFingerprint(ctx, fingerprint); err != nil {
		return nil, fmt.Errorf("failed to persist fingerprint: %w", err)
	}

	summary.Duration = time.Since(start)
	p.logger.Info("corpus rebuilt",
		"files", summary.FilesLoaded,
		"fragments", summary.FragmentsStored,
		"dropped", summary.FragmentsDropped,
		"duration", summary.Duration)

	return summary, nil
}

// prepare applies the storage-side tolerance pass: re-normalise, drop
// near-empty leftovers, and cap runaway fragments at twice the chunk budget.
func (p *Pipeline) prepare(text string) (string, bool) {
	text = Normalize(text)
	if utf8.RuneCountInString(text) <= trivialSentenceLen {
		return "", false
	}

	limit := 2 * p.chunker.config.MaxSize
	if runes := []rune(text); len(runes) > limit {
		text = string(runes[:limit]) + "..."
	}
	return text, true
}

// storeBatch embeds one document's fragments in a single batch call and
// upserts them together. When the batch fails, each fragment is retried
// individually so one bad fragment cannot sink the whole document.
func (p *Pipeline) storeBatch(ctx context.Context, frags []vectorstore.Fragment, nextID *uint64) (int, int, error) {
	if len(frags) == 0 {
		return 0, 0, nil
	}

	texts := make([]string, len(frags))
	for i := range frags {
		texts[i] = frags[i].Text
	}

	vectors, err := p.embedBatch(ctx, texts)
	if err == nil && len(vectors) == len(frags) {
		for i := range frags {
			frags[i].ID = *nextID + uint64(i)
			frags[i].Vector = vectors[i]
		}
		if err := p.store.Upsert(ctx, frags); err == nil {
			*nextID += uint64(len(frags))
			return len(frags), 0, nil
		}
	}
	if ctx.Err() != nil {
		return 0, 0, ctx.Err()
	}

	var stored, dropped int
	for _, frag := range frags {
		frag.ID = *nextID
		ok, err := p.storeFragment(ctx, frag)
		if err != nil {
			return stored, dropped, err
		}
		if ok {
			stored++
			*nextID++
		} else {
			dropped++
		}
	}
	return stored, dropped, nil
}

func (p *Pipeline) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if p.config.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.EmbedTimeout)
		defer cancel()
	}
	return p.embedder.EmbedBatch(ctx, texts)
}

// storeFragment embeds and upserts one fragment, retrying once with an
// aggressively cleaned text before giving up on it. Only context errors
// abort the whole rebuild; anything else drops just this fragment.
func (p *Pipeline) storeFragment(ctx context.Context, frag vectorstore.Fragment) (bool, error) {
	err := p.embedAndUpsert(ctx, frag)
	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	cleaned := DeepClean(frag.Text)
	if utf8.RuneCountInString(cleaned) > trivialSentenceLen {
		frag.Text = cleaned
		if retryErr := p.embedAndUpsert(ctx, frag); retryErr == nil {
			p.logger.Debug("fragment stored after aggressive clean",
				"id", frag.ID, "source", frag.SourceFile)
			return true, nil
		}
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	p.logger.Warn("dropping fragment",
		"id", frag.ID, "source", frag.SourceFile, "error", err)
	return false, nil
}

func (p *Pipeline) embedAndUpsert(ctx context.Context, frag vectorstore.Fragment) error {
	embedCtx := ctx
	if p.config.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		embedCtx, cancel = context.WithTimeout(ctx, p.config.EmbedTimeout)
		defer cancel()
	}

	vector, err := p.embedder.Embed(embedCtx, frag.Text)
	if err != nil {
		return fmt.Errorf("failed to embed fragment: %w", err)
	}
	frag.Vector = vector

	if err := p.store.Upsert(ctx, []vectorstore.Fragment{frag}); err != nil {
		return fmt.Errorf("failed to upsert fragment: %w", err)
	}
	return nil
}
