package build

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists build rows against the builds table for status lookups
// (e.g. a client polling "is my preview ready yet").
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a Store against pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create inserts a build row in the "running" state.
func (s *Store) Create(ctx context.Context, buildID, sandboxID, runID string) error {
	var runIDArg any
	if runID != "" {
		runIDArg = runID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO builds (id, sandbox_id, run_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, 'running', now(), now())
		ON CONFLICT (id) DO NOTHING
	`, buildID, sandboxID, runIDArg)
	if err != nil {
		return fmt.Errorf("create build row: %w", err)
	}
	return nil
}

// Finish records a build's terminal outcome.
func (s *Store) Finish(ctx context.Context, result *Result) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE builds
		SET status = $1, package_manager = $2, output_dir = $3,
		    artifact_url = $4, preview_url = $5, error = $6, updated_at = now()
		WHERE id = $7
	`, string(result.Status), string(result.PackageManager), result.OutputDir,
		nullIfEmpty(result.ArtifactURL), nullIfEmpty(result.PreviewURL), nullIfEmpty(result.ErrorLog), result.BuildID)
	if err != nil {
		return fmt.Errorf("finish build row: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
