package sandbox

import (
	"context"
	"log/slog"
	"time"
)

// LabeledContainer is one container the driver reports as carrying the
// sandbox=true label, as returned by ContainerLister.
type LabeledContainer struct {
	ContainerID string
	SandboxID   string
}

// ContainerLister lists all containers the driver manages. Satisfied by
// pkg/container.Driver.
type ContainerLister interface {
	ListLabeled(ctx context.Context) ([]LabeledContainer, error)
	Destroy(ctx context.Context, containerID string) error
}

// Reconciler runs the background sweep (spec §4.14.4): every interval, any
// container labeled sandbox=true whose sandboxId has no live state record
// is destroyed, restoring the invariant "sandboxId present in the store IFF
// a matching container exists".
type Reconciler struct {
	store    *Store
	lister   ContainerLister
	interval time.Duration
}

// NewReconciler returns a Reconciler that sweeps every interval (spec
// default 60s).
func NewReconciler(store *Store, lister ContainerLister, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Reconciler{store: store, lister: lister, interval: interval}
}

// Run blocks, sweeping on a ticker until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce(ctx)
		}
	}
}

func (r *Reconciler) sweepOnce(ctx context.Context) {
	containers, err := r.lister.ListLabeled(ctx)
	if err != nil {
		slog.Warn("reconciliation sweep: failed to list labeled containers", "error", err)
		return
	}

	for _, c := range containers {
		sb, err := r.store.Get(ctx, c.SandboxID)
		if err != nil {
			slog.Warn("reconciliation sweep: failed to read sandbox state",
				"sandbox_id", c.SandboxID, "error", err)
			continue
		}
		if sb != nil {
			continue
		}

		slog.Info("reconciliation sweep: destroying orphaned container",
			"sandbox_id", c.SandboxID, "container_id", c.ContainerID)
		if err := r.lister.Destroy(ctx, c.ContainerID); err != nil {
			slog.Warn("reconciliation sweep: destroy failed",
				"container_id", c.ContainerID, "error", err)
		}
	}
}
