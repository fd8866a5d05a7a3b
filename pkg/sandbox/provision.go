package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/forgeplatform/forge/pkg/lock"
)

const (
	provisionLockTTL     = 60 * time.Second
	provisionMaxAttempts = 10
	provisionPollMin     = 200 * time.Millisecond
	provisionPollMax     = 500 * time.Millisecond
	provisionWaitBudget  = 30 * time.Second
)

// ContainerCreator creates the backing container for a new sandbox.
// Satisfied by pkg/container.Driver.
type ContainerCreator interface {
	Create(ctx context.Context, userID, chatID, sandboxID string) (containerID string, err error)
}

// BackupRestorer best-effort restores a prior workspace snapshot into a
// freshly created container. Satisfied by pkg/backup.Service; failures are
// logged, not propagated — a fresh sandbox is still usable without it.
type BackupRestorer interface {
	Restore(ctx context.Context, userID, chatID, containerID string) error
}

// Provisioner implements spec §4.14: return an existing live sandbox for a
// chat, or create one under a short-lived lock with jittered retry on
// contention.
type Provisioner struct {
	store     *Store
	locker    *lock.Locker
	container ContainerCreator
	backup    BackupRestorer
}

// NewProvisioner wires the store, locker, container creator, and restorer.
func NewProvisioner(store *Store, locker *lock.Locker, container ContainerCreator, backup BackupRestorer) *Provisioner {
	return &Provisioner{store: store, locker: locker, container: container, backup: backup}
}

// Provision returns the id of a live sandbox for (userID, chatID), creating
// one if none exists. At most one caller across the fleet actually creates
// a container per chat at a time; the rest either see the populated index
// and reuse it, or exhaust their retry budget.
func (p *Provisioner) Provision(ctx context.Context, userID, chatID string) (string, error) {
	if sb, err := p.store.GetActive(ctx, chatID); err != nil {
		return "", err
	} else if sb != nil {
		if err := p.store.RefreshTTL(ctx, sb); err != nil {
			slog.Warn("failed to refresh sandbox TTL", "sandbox_id", sb.ID, "error", err)
		}
		return sb.ID, nil
	}

	lockKey := fmt.Sprintf("provision:%s", chatID)
	deadline := time.Now().Add(provisionWaitBudget)

	for attempt := 0; attempt < provisionMaxAttempts; attempt++ {
		token, ok, err := p.locker.Acquire(ctx, lockKey, provisionLockTTL)
		if err != nil {
			return "", fmt.Errorf("acquire provision lock: %w", err)
		}

		if ok {
			id, err := p.createAndPersist(ctx, userID, chatID)
			if relErr := p.locker.Release(ctx, lockKey, token); relErr != nil {
				slog.Warn("failed to release provision lock", "chat_id", chatID, "error", relErr)
			}
			return id, err
		}

		// Someone else holds the lock; poll for them to populate the index.
		if sb, err := p.store.GetActive(ctx, chatID); err == nil && sb != nil {
			return sb.ID, nil
		}

		if time.Now().After(deadline) {
			break
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(jitteredPoll()):
		}
	}

	return "", fmt.Errorf("provision %s: exhausted retries under lock contention", chatID)
}

func (p *Provisioner) createAndPersist(ctx context.Context, userID, chatID string) (string, error) {
	sandboxID := uuid.NewString()

	containerID, err := p.container.Create(ctx, userID, chatID, sandboxID)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}

	if p.backup != nil {
		if err := p.backup.Restore(ctx, userID, chatID, containerID); err != nil {
			slog.Warn("best-effort restore failed, continuing with empty workspace",
				"chat_id", chatID, "error", err)
		}
	}

	sb := &Sandbox{
		ID:          sandboxID,
		ContainerID: containerID,
		UserID:      userID,
		ChatID:      chatID,
		ExpiresAt:   time.Now().Add(DefaultTTL),
	}
	if err := p.store.Put(ctx, sb); err != nil {
		return "", fmt.Errorf("persist sandbox state: %w", err)
	}

	return sandboxID, nil
}

func jitteredPoll() time.Duration {
	span := provisionPollMax - provisionPollMin
	return provisionPollMin + time.Duration(rand.Int64N(int64(span)))
}
