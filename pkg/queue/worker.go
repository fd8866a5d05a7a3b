package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker is a single queue worker that polls for and processes jobs.
type Worker struct {
	id       string
	store    *Store
	handlers map[JobType]Handler
	poll     time.Duration
	jitter   time.Duration
	registry JobRegistry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu            sync.RWMutex
	status        WorkerStatus
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
}

// JobRegistry is the subset of WorkerPool a Worker uses to register an
// in-flight job's cancel function for cooperative shutdown.
type JobRegistry interface {
	RegisterJob(jobID string, cancel context.CancelFunc)
	UnregisterJob(jobID string)
}

// NewWorker creates a queue worker against store, dispatching claimed jobs
// to handlers by type.
func NewWorker(id string, store *Store, handlers map[JobType]Handler, poll, jitter time.Duration, registry JobRegistry) *Worker {
	return &Worker{
		id:           id,
		store:        store,
		handlers:     handlers,
		poll:         poll,
		jitter:       jitter,
		registry:     registry,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for its current job to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        string(w.status),
		CurrentJobID:  w.currentJobID,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoJobsAvailable) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("error claiming job", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess claims the next runnable job and dispatches it to its
// type's handler, applying the retry policy on failure.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	job, err := w.store.Claim(ctx, w.id)
	if err != nil {
		return err
	}

	log := slog.With("job_id", job.ID, "job_type", job.Type, "worker_id", w.id)
	log.Info("job claimed")

	w.setStatus(WorkerStatusWorking, job.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	jobCtx, cancel := context.WithCancel(ctx)
	w.registry.RegisterJob(job.ID, cancel)
	defer w.registry.UnregisterJob(job.ID)
	defer cancel()

	heartbeatCtx, cancelHeartbeat := context.WithCancel(jobCtx)
	go w.runHeartbeat(heartbeatCtx, job.ID)

	err = w.dispatch(jobCtx, *job)
	cancelHeartbeat()

	if err != nil {
		log.Error("job handler failed", "error", err)
		if retryErr := w.store.Retry(context.Background(), *job, err, false); retryErr != nil {
			log.Error("failed to record job retry", "error", retryErr)
			return retryErr
		}
	} else {
		if completeErr := w.store.Complete(context.Background(), job.ID, false); completeErr != nil {
			log.Error("failed to mark job complete", "error", completeErr)
			return completeErr
		}
		log.Info("job completed")
	}

	w.mu.Lock()
	w.jobsProcessed++
	w.mu.Unlock()

	return nil
}

// dispatch invokes the handler for job.Type, converting a handler panic
// into an error so it participates in the retry policy like any other
// failure (spec §4.11).
func (w *Worker) dispatch(ctx context.Context, job Job) (err error) {
	handler, ok := w.handlers[job.Type]
	if !ok {
		return fmt.Errorf("no handler registered for job type %q", job.Type)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()

	return handler.Handle(ctx, job.Payload)
}

func (w *Worker) runHeartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.Heartbeat(ctx, jobID); err != nil {
				slog.Warn("job heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}

func (w *Worker) pollInterval() time.Duration {
	if w.jitter <= 0 {
		return w.poll
	}
	offset := time.Duration(rand.Int64N(int64(2 * w.jitter)))
	return w.poll - w.jitter + offset
}

func (w *Worker) setStatus(status WorkerStatus, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}
