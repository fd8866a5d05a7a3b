// Package queue implements the job queue and worker pool (C12): typed
// build/backup/cleanup payloads, deterministic dedup job IDs, per-type
// retry/backoff defaults, and a fixed-size worker pool claiming jobs with
// FOR UPDATE SKIP LOCKED.
package queue

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for queue operations.
var (
	// ErrNoJobsAvailable indicates no claimable job is in the queue.
	ErrNoJobsAvailable = errors.New("no jobs available")

	// ErrAtCapacity indicates the pool's concurrent job limit has been reached.
	ErrAtCapacity = errors.New("at capacity")
)

// JobType is the tagged-variant discriminator for JobPayload (spec §4.11).
type JobType string

const (
	JobBuild   JobType = "build"
	JobBackup  JobType = "backup"
	JobCleanup JobType = "cleanup"
)

// JobPayload is the tagged-variant job body enqueued against a sandbox.
type JobPayload struct {
	Type      JobType `json:"type"`
	SandboxID string  `json:"sandboxId"`
	UserID    string  `json:"userId"`
	ChatID    string  `json:"chatId,omitempty"`
	MessageID string  `json:"messageId,omitempty"`
	RunID     string  `json:"runId,omitempty"`
	BuildID   string  `json:"buildId,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

// BackoffKind selects how retry delay grows with attempt count.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// BackoffPolicy computes the delay before the next retry attempt.
type BackoffPolicy struct {
	Kind BackoffKind
	Base time.Duration
}

// Delay returns the wait before attempt number n (1-indexed: n=1 is the
// first retry after the initial failed attempt).
func (b BackoffPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	switch b.Kind {
	case BackoffExponential:
		d := b.Base
		for i := 1; i < n; i++ {
			d *= 2
		}
		return d
	default:
		return b.Base
	}
}

// EnqueueOptions controls how a job is scheduled. A zero Attempts falls
// back to the job type's default retry policy; backoff always follows that
// type's default (spec §4.11 names no per-call override).
type EnqueueOptions struct {
	JobID            string
	Attempts         int
	RemoveOnComplete bool
	RemoveOnFail     bool
	Delay            time.Duration
}

// defaultRetryPolicy returns the spec §4.11 per-type defaults: build
// attempts=3 exponential 2s, backup attempts=2 fixed 1s, cleanup attempts=2
// delay 1s.
func defaultRetryPolicy(t JobType) (attempts int, backoff BackoffPolicy) {
	switch t {
	case JobBuild:
		return 3, BackoffPolicy{Kind: BackoffExponential, Base: 2 * time.Second}
	case JobBackup:
		return 2, BackoffPolicy{Kind: BackoffFixed, Base: time.Second}
	case JobCleanup:
		return 2, BackoffPolicy{Kind: BackoffFixed, Base: time.Second}
	default:
		return 1, BackoffPolicy{Kind: BackoffFixed, Base: time.Second}
	}
}

// Handler processes one job type's payload. A returned error (or a
// recovered panic, which the worker turns into an error) triggers the
// job's retry policy.
type Handler interface {
	Handle(ctx context.Context, payload JobPayload) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, payload JobPayload) error

func (f HandlerFunc) Handle(ctx context.Context, payload JobPayload) error { return f(ctx, payload) }

// Job is one row of the jobs table.
type Job struct {
	ID          string
	Type        JobType
	Payload     JobPayload
	Status      string
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	LockedBy    string
}

// PoolHealth reports the worker pool's aggregate state.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	DBReachable      bool           `json:"db_reachable"`
	DBError          string         `json:"db_error,omitempty"`
	WorkerID         string         `json:"worker_id"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	QueueDepth       int            `json:"queue_depth"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
}

// WorkerHealth reports a single worker's state.
type WorkerHealth struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"` // "idle" or "working"
	CurrentJobID  string    `json:"current_job_id,omitempty"`
	JobsProcessed int       `json:"jobs_processed"`
	LastActivity  time.Time `json:"last_activity"`
}
