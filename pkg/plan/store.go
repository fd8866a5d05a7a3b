package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// planDocument is the full JSON document persisted in plans.steps — it
// carries the whole Plan, not just the step array; the column predates
// the richer Plan shape and was kept rather than migrated.
type planDocument struct {
	Summary       string    `json:"summary"`
	Steps         []Step    `json:"steps"`
	Decisions     []string  `json:"decisions,omitempty"`
	Assumptions   []string  `json:"assumptions,omitempty"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}

// Store persists Plans against the plans table, one row per run.
type Store struct {
	pool *pgxpool.Pool
}

// New wires a plan Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func toDocument(p Plan) planDocument {
	return planDocument{
		Summary:       p.Summary,
		Steps:         p.Steps,
		Decisions:     p.Decisions,
		Assumptions:   p.Assumptions,
		LastUpdatedAt: p.LastUpdatedAt,
	}
}

// Save upserts runID's plan, replacing the stored document wholesale.
func (s *Store) Save(ctx context.Context, runID string, p *Plan) error {
	snap := p.Clone()
	body, err := json.Marshal(toDocument(snap))
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO plans (id, run_id, steps, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (run_id) DO UPDATE SET steps = $3, updated_at = now()
	`, uuid.NewString(), runID, body)
	if err != nil {
		return fmt.Errorf("save plan: %w", err)
	}
	return nil
}

// Load reads runID's persisted plan, or nil if none has been saved yet.
func (s *Store) Load(ctx context.Context, runID string) (*Plan, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT steps FROM plans WHERE run_id = $1`, runID,
	).Scan(&body)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load plan: %w", err)
	}

	var doc planDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}

	return &Plan{
		Summary:       doc.Summary,
		Steps:         doc.Steps,
		Decisions:     doc.Decisions,
		Assumptions:   doc.Assumptions,
		LastUpdatedAt: doc.LastUpdatedAt,
	}, nil
}
