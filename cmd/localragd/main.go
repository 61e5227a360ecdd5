package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ymiyake/localrag/internal/catalog"
	"github.com/ymiyake/localrag/internal/config"
	"github.com/ymiyake/localrag/internal/embedder"
	"github.com/ymiyake/localrag/internal/ingestion"
	"github.com/ymiyake/localrag/internal/llm"
	"github.com/ymiyake/localrag/internal/retrieval"
	"github.com/ymiyake/localrag/internal/server"
	"github.com/ymiyake/localrag/internal/service"
	"github.com/ymiyake/localrag/internal/vectorstore"
)

func main() {
	logLevel := slog.LevelInfo
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting localrag",
		"http_port", cfg.HTTPPort,
		"data_folder", cfg.DataFolder,
		"collection", cfg.CollectionName,
		"environment", cfg.Environment,
	)

	// Qdrant vector store
	store, err := vectorstore.NewQdrantStore(ctx, cfg.QdrantGRPCURL, cfg.CollectionName)
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer store.Close()
	slog.Info("connected to Qdrant", "url", cfg.QdrantGRPCURL)

	// Ollama embedder
	embed := embedder.NewOllamaEmbedder(embedder.OllamaConfig{
		BaseURL: cfg.OllamaURL,
		Model:   cfg.OllamaEmbeddingModel,
	})
	if err := embed.Ping(ctx); err != nil {
		return fmt.Errorf("embedding model unavailable: %w", err)
	}
	slog.Info("initialized Ollama embedder", "model", cfg.OllamaEmbeddingModel)

	if err := store.EnsureCollection(ctx, embed.Dimension()); err != nil {
		return fmt.Errorf("failed to ensure collection: %w", err)
	}

	// Ollama LLM
	llmClient := llm.NewOllamaClient(
		llm.WithBaseURL(cfg.OllamaURL),
		llm.WithModel(cfg.OllamaLLMModel),
	)
	slog.Info("initialized Ollama LLM", "model", cfg.OllamaLLMModel)

	// Optional PostgreSQL catalog
	var cat *catalog.Catalog
	if cfg.DatabaseURL != "" {
		cat, err = catalog.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to catalog database: %w", err)
		}
		defer cat.Close()
		slog.Info("connected to ingest catalog")
	}

	// Ingestion pipeline, synced once at startup
	pipeline := ingestion.NewPipeline(cfg.DataFolder, embed, store, ingestion.PipelineConfig{
		Chunker: ingestion.ChunkerConfig{
			MaxSize:       cfg.MaxChunkSize,
			MinSize:       cfg.MinChunkSize,
			Overlap:       cfg.OverlapSize,
			SentenceSplit: cfg.SentenceSplit,
		},
		EmbedTimeout: cfg.EmbedTimeout,
	}, slog.Default())

	syncStart := time.Now()
	summary, err := pipeline.Sync(ctx)
	if err != nil {
		return fmt.Errorf("failed to sync corpus: %w", err)
	}
	slog.Info("corpus sync complete",
		"rebuilt", summary.Rebuilt,
		"files_loaded", summary.FilesLoaded,
		"fragments_stored", summary.FragmentsStored,
		"fragments_dropped", summary.FragmentsDropped,
		"duration", summary.Duration,
	)
	recordRun(ctx, cat, summary, syncStart)

	// Retrieval and query service
	cascade := retrieval.NewCascade(retrieval.CascadeConfig{
		MinSimilarity:   cfg.MinSimilarity,
		RelaxFactor:     cfg.SimilarityRelaxFactor,
		FloorSimilarity: cfg.Tier2Floor,
		MaxResults:      cfg.MaxResults,
		FallbackEnabled: cfg.FallbackEnabled,
		FallbackLimit:   cfg.FallbackLimit,
	}, store, slog.Default())

	assembler := retrieval.NewAssembler(retrieval.AssemblerConfig{
		MaxContextChars: cfg.MaxContextChars,
		CandidateCap:    cfg.CandidateCap,
		KeywordTopN:     cfg.KeywordTopN,
	})

	ragSvc := service.NewRAGService(embed, store, llmClient, cascade, assembler, service.Options{
		MaxResults:      cfg.MaxResults,
		Model:           cfg.OllamaLLMModel,
		Temperature:     cfg.Temperature,
		TopP:            cfg.TopP,
		RepeatPenalty:   cfg.RepeatPenalty,
		MaxTokens:       cfg.MaxTokens,
		EmbedTimeout:    cfg.EmbedTimeout,
		SearchTimeout:   cfg.SearchTimeout,
		GenerateTimeout: cfg.GenerateTimeout,
	}, slog.Default())

	httpServer := server.NewHTTPServer(server.Config{
		Port:   cfg.HTTPPort,
		APIKey: cfg.APIKey,
		Logger: slog.Default(),
	}, ragSvc, &recordingReindexer{pipeline: pipeline, catalog: cat})

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}

// recordingReindexer wraps the pipeline so API-triggered rebuilds are also
// recorded in the catalog.
type recordingReindexer struct {
	pipeline *ingestion.Pipeline
	catalog  *catalog.Catalog
}

func (r *recordingReindexer) Rebuild(ctx context.Context) (*ingestion.Summary, error) {
	start := time.Now()
	summary, err := r.pipeline.Rebuild(ctx)
	if err != nil {
		return nil, err
	}
	recordRun(ctx, r.catalog, summary, start)
	return summary, nil
}

// recordRun writes an ingest run to the catalog. Catalog failures are logged
// and never fail the ingestion itself.
func recordRun(ctx context.Context, cat *catalog.Catalog, summary *ingestion.Summary, startedAt time.Time) {
	if cat == nil {
		return
	}

	err := cat.RecordRun(ctx, &catalog.IngestRun{
		Fingerprint:      summary.Fingerprint,
		Rebuilt:          summary.Rebuilt,
		FilesLoaded:      summary.FilesLoaded,
		FilesSkipped:     summary.FilesSkipped,
		FilesFailed:      summary.FilesFailed,
		FragmentsStored:  summary.FragmentsStored,
		FragmentsDropped: summary.FragmentsDropped,
		StartedAt:        startedAt,
		FinishedAt:       startedAt.Add(summary.Duration),
	})
	if err != nil {
		slog.Warn("failed to record ingest run", "error", err)
	}
}

// Ensure interfaces are satisfied at compile time
var (
	_ vectorstore.Store = (*vectorstore.QdrantStore)(nil)
	_ embedder.Embedder = (*embedder.OllamaEmbedder)(nil)
	_ llm.LLM           = (*llm.OllamaClient)(nil)
	_ server.RAG        = (*service.RAGService)(nil)
	_ server.Reindexer  = (*recordingReindexer)(nil)
)
