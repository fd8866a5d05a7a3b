package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/forgeplatform/forge/pkg/config"
)

// WorkerPool manages a fixed-size pool of queue workers (spec §4.11,
// WORKER_CONCURRENCY).
type WorkerPool struct {
	id       string
	store    *Store
	cfg      *config.QueueConfig
	handlers map[JobType]Handler
	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	activeJobs map[string]context.CancelFunc
	mu         sync.RWMutex
	started    bool

	orphans orphanState
}

// NewWorkerPool creates a worker pool dispatching claimed jobs to handlers
// by type. id identifies this process for worker naming and job locking.
func NewWorkerPool(id string, store *Store, cfg *config.QueueConfig, handlers map[JobType]Handler) *WorkerPool {
	return &WorkerPool{
		id:         id,
		store:      store,
		cfg:        cfg,
		handlers:   handlers,
		workers:    make([]*Worker, 0, cfg.WorkerCount),
		stopCh:     make(chan struct{}),
		activeJobs: make(map[string]context.CancelFunc),
	}
}

// Start spawns worker goroutines and the orphan-detection background task.
// Safe to call multiple times; later calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("worker pool already started, ignoring duplicate Start call", "pool_id", p.id)
		return nil
	}
	p.started = true

	slog.Info("starting worker pool", "pool_id", p.id, "worker_count", p.cfg.WorkerCount)

	for i := 0; i < p.cfg.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.id, i)
		worker := NewWorker(workerID, p.store, p.handlers, p.cfg.PollInterval, p.cfg.PollJitter, p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runOrphanDetection(ctx)
	}()

	slog.Info("worker pool started")
	return nil
}

// Stop signals all workers to stop claiming jobs and waits for in-flight
// jobs to finish. It does not cancel their contexts itself; a job's context
// derives from the one passed to Start and ends when that one is cancelled.
func (p *WorkerPool) Stop() {
	slog.Info("stopping worker pool gracefully")

	active := p.activeJobIDs()
	if len(active) > 0 {
		slog.Info("waiting for in-flight jobs to complete", "count", len(active), "job_ids", active)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("worker pool stopped gracefully")
}

// RegisterJob stores a cancel function for an in-flight job.
func (p *WorkerPool) RegisterJob(jobID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeJobs[jobID] = cancel
}

// UnregisterJob removes the cancel function once a job finishes.
func (p *WorkerPool) UnregisterJob(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeJobs, jobID)
}

// CancelJob cancels an in-flight job's context if it's running on this pool.
func (p *WorkerPool) CancelJob(jobID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeJobs[jobID]; ok {
		cancel()
		return true
	}
	return false
}

// Health reports the pool's aggregate state.
func (p *WorkerPool) Health() *PoolHealth {
	ctx := context.Background()

	queueDepth, err := p.store.QueueDepth(ctx)
	dbHealthy := err == nil
	var dbError string
	if err != nil {
		dbError = fmt.Sprintf("queue depth query failed: %v", err)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	p.orphans.mu.Lock()
	lastScan := p.orphans.lastScan
	recovered := p.orphans.recovered
	p.orphans.mu.Unlock()

	return &PoolHealth{
		IsHealthy:        len(p.workers) > 0 && dbHealthy,
		DBReachable:      dbHealthy,
		DBError:          dbError,
		WorkerID:         p.id,
		ActiveWorkers:    activeWorkers,
		TotalWorkers:     len(p.workers),
		QueueDepth:       queueDepth,
		WorkerStats:      workerStats,
		LastOrphanScan:   lastScan,
		OrphansRecovered: recovered,
	}
}

func (p *WorkerPool) activeJobIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeJobs))
	for id := range p.activeJobs {
		ids = append(ids, id)
	}
	return ids
}
