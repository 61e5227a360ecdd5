// Package catalog records ingestion runs in PostgreSQL. The catalog is
// optional: when no database URL is configured the server runs without it.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// IngestRun is one recorded ingestion pass over the corpus folder.
type IngestRun struct {
	ID               uuid.UUID
	Fingerprint      string
	Rebuilt          bool
	FilesLoaded      int
	FilesSkipped     int
	FilesFailed      int
	FragmentsStored  int
	FragmentsDropped int
	StartedAt        time.Time
	FinishedAt       time.Time
}

// Catalog wraps a PostgreSQL connection pool.
type Catalog struct {
	pool *pgxpool.Pool
}

// New creates a catalog backed by a new connection pool and ensures the
// schema exists.
func New(ctx context.Context, databaseURL string) (*Catalog, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &Catalog{pool: pool}, nil
}

// Close closes the connection pool.
func (c *Catalog) Close() {
	c.pool.Close()
}

// RecordRun inserts an ingestion run. A zero ID is assigned a new UUID.
func (c *Catalog) RecordRun(ctx context.Context, run *IngestRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	query := `
		INSERT INTO ingest_runs (id, fingerprint, rebuilt, files_loaded, files_skipped, files_failed, fragments_stored, fragments_dropped, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := c.pool.Exec(ctx, query,
		run.ID, run.Fingerprint, run.Rebuilt,
		run.FilesLoaded, run.FilesSkipped, run.FilesFailed,
		run.FragmentsStored, run.FragmentsDropped,
		run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to record ingest run: %w", err)
	}
	return nil
}

// LastRun returns the most recent ingestion run, or nil if none exist.
func (c *Catalog) LastRun(ctx context.Context) (*IngestRun, error) {
	runs, err := c.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return runs[0], nil
}

// ListRuns returns the most recent ingestion runs, newest first.
func (c *Catalog) ListRuns(ctx context.Context, limit int) ([]*IngestRun, error) {
	query := `
		SELECT id, fingerprint, rebuilt, files_loaded, files_skipped, files_failed, fragments_stored, fragments_dropped, started_at, finished_at
		FROM ingest_runs
		ORDER BY finished_at DESC
		LIMIT $1
	`
	rows, err := c.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingest runs: %w", err)
	}
	defer rows.Close()

	var runs []*IngestRun
	for rows.Next() {
		var run IngestRun
		if err := rows.Scan(&run.ID, &run.Fingerprint, &run.Rebuilt,
			&run.FilesLoaded, &run.FilesSkipped, &run.FilesFailed,
			&run.FragmentsStored, &run.FragmentsDropped,
			&run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ingest run: %w", err)
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ingest runs: %w", err)
	}

	return runs, nil
}
