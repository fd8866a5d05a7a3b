// Package runlog implements the run event log and SSE resumption protocol
// (C11): every event an agent run produces is assigned a monotonic sequence
// number and persisted in one transaction, then published for live
// subscribers once that transaction has committed.
package runlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgeplatform/forge/pkg/kv"
)

const defaultReadAfterLimit = 500

// Event is one row of the run_events table.
type Event struct {
	RunID     string          `json:"runId"`
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

func channelName(runID string) string { return fmt.Sprintf("run-events:%s", runID) }

// Store appends and reads run events against Postgres, publishing each
// appended event to Redis for live SSE subscribers.
type Store struct {
	pool *pgxpool.Pool
	kv   *kv.Client
}

// New wires a runlog Store.
func New(pool *pgxpool.Pool, kvClient *kv.Client) *Store {
	return &Store{pool: pool, kv: kvClient}
}

// CreateRun inserts the initial runs row a run's Append calls depend on
// (Append's UPDATE ... WHERE id = $1 matches no row otherwise). Must be
// called once, before the first Append for runID.
func (s *Store) CreateRun(ctx context.Context, runID, userID, sandboxID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, user_id, sandbox_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, 'running', now(), now())`,
		runID, userID, sandboxID,
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// Append atomically increments the run's next sequence number, inserts the
// event row, and publishes it — the returned seq is authoritative order
// (spec §4.10). Event types matching "meta/session_complete" mark the run
// as terminal for Resume's completion check.
func (s *Store) Append(ctx context.Context, runID, eventType string, payload any) (int64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}

	var seq int64
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`UPDATE runs SET last_seq = last_seq + 1, updated_at = now() WHERE id = $1 RETURNING last_seq`,
			runID,
		).Scan(&seq); err != nil {
			return fmt.Errorf("increment run sequence: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO run_events (run_id, seq, type, payload, created_at) VALUES ($1, $2, $3, $4, now())`,
			runID, seq, eventType, body,
		); err != nil {
			return fmt.Errorf("insert run event: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	ev := Event{RunID: runID, Seq: seq, Type: eventType, Payload: body, CreatedAt: time.Now().UTC()}
	encoded, err := json.Marshal(ev)
	if err != nil {
		return seq, fmt.Errorf("marshal published event: %w", err)
	}
	if err := s.kv.Publish(ctx, channelName(runID), string(encoded)); err != nil {
		// Persisted but not live-delivered: Resume's catchup read still
		// surfaces it, so this is a soft failure, logged by the caller.
		return seq, fmt.Errorf("publish run event: %w", err)
	}

	return seq, nil
}

// SetStatus updates a run's terminal status (e.g. "completed", "failed",
// "cancelled") once its agent loop stops.
func (s *Store) SetStatus(ctx context.Context, runID, status string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $2, updated_at = now() WHERE id = $1`,
		runID, status,
	)
	if err != nil {
		return fmt.Errorf("set run status: %w", err)
	}
	return nil
}

// ReadAfter returns events with seq > afterSeq, ascending, capped at limit
// (spec default 500).
func (s *Store) ReadAfter(ctx context.Context, runID string, afterSeq int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultReadAfterLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT run_id, seq, type, payload, created_at FROM run_events
		 WHERE run_id = $1 AND seq > $2 ORDER BY seq ASC LIMIT $3`,
		runID, afterSeq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("read run events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.RunID, &ev.Seq, &ev.Type, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// LatestByType returns the most recent event of eventType for runID, or nil
// if none exists — used to detect a prior meta/session_complete so Resume
// can drain and terminate instead of subscribing forever.
func (s *Store) LatestByType(ctx context.Context, runID, eventType string) (*Event, error) {
	var ev Event
	err := s.pool.QueryRow(ctx,
		`SELECT run_id, seq, type, payload, created_at FROM run_events
		 WHERE run_id = $1 AND type = $2 ORDER BY seq DESC LIMIT 1`,
		runID, eventType,
	).Scan(&ev.RunID, &ev.Seq, &ev.Type, &ev.Payload, &ev.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query latest event: %w", err)
	}
	return &ev, nil
}

// Subscribe opens a live feed of events appended to runID after this call,
// for the resumption protocol's second phase (catchup, then subscribe).
// Callers must cancel ctx to release the subscription.
func (s *Store) Subscribe(ctx context.Context, runID string) (<-chan Event, error) {
	sub := s.kv.Subscribe(ctx, channelName(runID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe to run channel: %w", err)
	}

	out := make(chan Event, 32)
	go func() {
		defer close(out)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Resume implements the client-facing resumption protocol: drain
// readAfter(runId, lastSeq) first, then subscribe, deduping any live event
// whose seq was already delivered during catchup. It terminates once a
// meta/session_complete event has been delivered.
func (s *Store) Resume(ctx context.Context, runID string, lastSeq int64, emit func(Event) error) error {
	caughtUp, err := s.ReadAfter(ctx, runID, lastSeq, defaultReadAfterLimit)
	if err != nil {
		return err
	}

	highWater := lastSeq
	for _, ev := range caughtUp {
		if err := emit(ev); err != nil {
			return err
		}
		highWater = ev.Seq
		if ev.Type == "meta/session_complete" {
			return nil
		}
	}

	if complete, err := s.LatestByType(ctx, runID, "meta/session_complete"); err == nil && complete != nil && complete.Seq <= highWater {
		return nil
	}

	live, err := s.Subscribe(ctx, runID)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-live:
			if !ok {
				return nil
			}
			if ev.Seq <= highWater {
				continue
			}
			highWater = ev.Seq
			if err := emit(ev); err != nil {
				return err
			}
			if ev.Type == "meta/session_complete" {
				return nil
			}
		}
	}
}
