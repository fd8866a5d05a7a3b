package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ToolCallRecord is a persisted tool-call execution, keyed by idempotency
// key within a run so a retried turn reuses the stored output instead of
// re-executing (spec §4.9).
type ToolCallRecord struct {
	Turn     int
	Name     ToolName
	Output   string
	ExitCode int
	Failed   bool
}

// ToolCallStore persists and looks up tool call results by idempotency key.
type ToolCallStore interface {
	Get(ctx context.Context, runID, idempotencyKey string) (*ToolCallRecord, error)
	Put(ctx context.Context, runID, idempotencyKey string, rec ToolCallRecord, args json.RawMessage) error
}

// pgToolCallStore is the Postgres-backed ToolCallStore against run_tool_calls.
type pgToolCallStore struct {
	pool *pgxpool.Pool
}

// NewPostgresToolCallStore wires a ToolCallStore against pool.
func NewPostgresToolCallStore(pool *pgxpool.Pool) ToolCallStore {
	return &pgToolCallStore{pool: pool}
}

func (s *pgToolCallStore) Get(ctx context.Context, runID, idempotencyKey string) (*ToolCallRecord, error) {
	var rec ToolCallRecord
	var result []byte
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT turn, tool_name, status, result FROM run_tool_calls
		 WHERE run_id = $1 AND idempotency_key = $2`,
		runID, idempotencyKey,
	).Scan(&rec.Turn, &rec.Name, &status, &result)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query tool call: %w", err)
	}

	var payload struct {
		Output   string `json:"output"`
		ExitCode int    `json:"exitCode"`
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal tool call result: %w", err)
		}
	}
	rec.Output = payload.Output
	rec.ExitCode = payload.ExitCode
	rec.Failed = status == "failed"
	return &rec, nil
}

func (s *pgToolCallStore) Put(ctx context.Context, runID, idempotencyKey string, rec ToolCallRecord, args json.RawMessage) error {
	status := "completed"
	if rec.Failed {
		status = "failed"
	}

	result, err := json.Marshal(struct {
		Output   string `json:"output"`
		ExitCode int    `json:"exitCode"`
	}{Output: rec.Output, ExitCode: rec.ExitCode})
	if err != nil {
		return fmt.Errorf("marshal tool call result: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO run_tool_calls (id, run_id, turn, idempotency_key, tool_name, args, result, status, created_at, completed_at)
		 VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, now(), now())
		 ON CONFLICT (run_id, idempotency_key) DO NOTHING`,
		runID, rec.Turn, idempotencyKey, rec.Name, args, result, status,
	)
	if err != nil {
		return fmt.Errorf("insert tool call: %w", err)
	}
	return nil
}
