package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// orphanState tracks orphan detection metrics (thread-safe).
type orphanState struct {
	mu        sync.Mutex
	lastScan  time.Time
	recovered int
}

// runOrphanDetection periodically scans for jobs stuck in "running" with a
// stale heartbeat and requeues them. All pool instances run this
// independently — requeuing is idempotent.
func (p *WorkerPool) runOrphanDetection(ctx context.Context) {
	interval := p.cfg.OrphanScanInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.detectAndRecoverOrphans(ctx); err != nil {
				slog.Error("orphan detection failed", "error", err)
			}
		}
	}
}

func (p *WorkerPool) detectAndRecoverOrphans(ctx context.Context) error {
	orphanThreshold := p.cfg.OrphanThreshold
	if orphanThreshold <= 0 {
		orphanThreshold = 2 * time.Minute
	}
	threshold := time.Now().Add(-orphanThreshold)

	stale, err := p.store.StaleRunning(ctx, threshold)
	if err != nil {
		return err
	}

	p.orphans.mu.Lock()
	p.orphans.lastScan = time.Now()
	p.orphans.mu.Unlock()

	if len(stale) == 0 {
		return nil
	}

	slog.Warn("detected orphaned jobs", "count", len(stale))

	recovered := 0
	for _, job := range stale {
		if err := p.store.RequeueStale(ctx, job.ID); err != nil {
			slog.Error("failed to requeue orphaned job", "job_id", job.ID, "locked_by", job.LockedBy, "error", err)
			continue
		}
		slog.Warn("orphaned job requeued", "job_id", job.ID, "locked_by", job.LockedBy)
		recovered++
	}

	p.orphans.mu.Lock()
	p.orphans.recovered += recovered
	p.orphans.mu.Unlock()

	return nil
}
