package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists jobs against the jobs table and implements the
// claim/heartbeat/complete/retry lifecycle workers drive.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a Store against pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// DeriveJobID computes the deterministic "<type>-<sandboxId>-<suffix>" job
// ID (spec §4.11), so accidental re-enqueues of the same logical job dedup
// instead of running twice. suffix is a short hash of whichever
// disambiguating field on the payload is set.
func DeriveJobID(payload JobPayload) string {
	disambiguator := payload.MessageID
	if disambiguator == "" {
		disambiguator = payload.BuildID
	}
	if disambiguator == "" {
		disambiguator = payload.RunID
	}
	if disambiguator == "" {
		disambiguator = payload.Reason
	}
	if disambiguator == "" {
		disambiguator = "default"
	}

	h := sha256.Sum256([]byte(disambiguator))
	suffix := hex.EncodeToString(h[:])[:10]
	return fmt.Sprintf("%s-%s-%s", payload.Type, payload.SandboxID, suffix)
}

// Enqueue inserts a job, applying the type's default retry policy for any
// zero-valued EnqueueOptions field. A job ID collision is treated as a
// successful dedup, not an error.
func (s *Store) Enqueue(ctx context.Context, payload JobPayload, opts EnqueueOptions) (string, error) {
	id := opts.JobID
	if id == "" {
		id = DeriveJobID(payload)
	}

	attempts := opts.Attempts
	if attempts == 0 {
		attempts, _ = defaultRetryPolicy(payload.Type)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
	}

	runAfter := time.Now().Add(opts.Delay)

	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (id, type, payload, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES ($1, $2, $3, 'pending', 0, $4, $5, now(), now())
		ON CONFLICT (id) DO NOTHING
	`, id, string(payload.Type), body, attempts, runAfter)
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}

	return id, nil
}

// Claim atomically takes the next runnable job for workerID using
// FOR UPDATE SKIP LOCKED, ordered FIFO by creation time.
func (s *Store) Claim(ctx context.Context, workerID string) (*Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var job Job
	var payloadBody []byte
	err = tx.QueryRow(ctx, `
		SELECT id, type, payload, attempts, max_attempts
		FROM jobs
		WHERE status = 'pending' AND run_after <= now()
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`).Scan(&job.ID, &job.Type, &payloadBody, &job.Attempts, &job.MaxAttempts)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNoJobsAvailable
		}
		return nil, fmt.Errorf("query claimable job: %w", err)
	}

	if err := json.Unmarshal(payloadBody, &job.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal job payload: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE jobs SET status = 'running', locked_by = $1, locked_at = now(), last_heartbeat = now(), updated_at = now()
		WHERE id = $2
	`, workerID, job.ID); err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	job.Status = "running"
	job.LockedBy = workerID
	return &job, nil
}

// Heartbeat refreshes a claimed job's liveness timestamp for orphan detection.
func (s *Store) Heartbeat(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET last_heartbeat = now() WHERE id = $1`, jobID)
	return err
}

// Complete marks jobID as succeeded, deleting the row if removeOnComplete.
func (s *Store) Complete(ctx context.Context, jobID string, removeOnComplete bool) error {
	if removeOnComplete {
		_, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, jobID)
		return err
	}
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET status = 'completed', updated_at = now() WHERE id = $1`, jobID)
	return err
}

// Retry records a failed attempt: if attempts remain, reschedules at
// run_after = now() + backoff.Delay(attempts); otherwise marks the job
// permanently failed (deleting it if removeOnFail).
func (s *Store) Retry(ctx context.Context, job Job, cause error, removeOnFail bool) error {
	attempts := job.Attempts + 1
	_, backoff := defaultRetryPolicy(job.Type)

	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}

	if attempts >= job.MaxAttempts {
		if removeOnFail {
			_, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, job.ID)
			return err
		}
		_, err := s.pool.Exec(ctx, `
			UPDATE jobs SET status = 'failed', attempts = $1, last_error = $2, updated_at = now()
			WHERE id = $3
		`, attempts, errMsg, job.ID)
		return err
	}

	runAfter := time.Now().Add(backoff.Delay(attempts))
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = 'pending', attempts = $1, last_error = $2, run_after = $3,
		       locked_by = NULL, locked_at = NULL, updated_at = now()
		WHERE id = $4
	`, attempts, errMsg, runAfter, job.ID)
	return err
}

// QueueDepth counts pending, runnable jobs.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM jobs WHERE status = 'pending' AND run_after <= now()`).Scan(&n)
	return n, err
}

// StaleRunning returns jobs stuck in "running" whose heartbeat is older
// than threshold — candidates for orphan recovery.
func (s *Store) StaleRunning(ctx context.Context, threshold time.Time) ([]Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, payload, attempts, max_attempts, locked_by
		FROM jobs
		WHERE status = 'running' AND (last_heartbeat IS NULL OR last_heartbeat < $1)
	`, threshold)
	if err != nil {
		return nil, fmt.Errorf("query stale running jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var job Job
		var payloadBody []byte
		if err := rows.Scan(&job.ID, &job.Type, &payloadBody, &job.Attempts, &job.MaxAttempts, &job.LockedBy); err != nil {
			return nil, fmt.Errorf("scan stale job: %w", err)
		}
		if err := json.Unmarshal(payloadBody, &job.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal stale job payload: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// RequeueStale resets an orphaned running job back to pending immediately,
// preserving its attempt count.
func (s *Store) RequeueStale(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = 'pending', locked_by = NULL, locked_at = NULL, run_after = now(), updated_at = now()
		WHERE id = $1 AND status = 'running'
	`, jobID)
	return err
}
