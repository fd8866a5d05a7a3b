package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/forgeplatform/forge/pkg/kv"
)

// LivenessChecker reports whether a container is still alive. Satisfied by
// pkg/container.Driver; kept as a narrow interface so Store has no direct
// dependency on the Docker client.
type LivenessChecker interface {
	IsAlive(ctx context.Context, containerID string) (bool, error)
}

const livenessCacheTTL = 10 * time.Second

// Store is the Redis-backed sandbox state store (C4). Primary keys:
//   - sandbox:<id>               — the serialized Sandbox record
//   - chat:sandbox:<chatId>      — index from chat to active sandbox id
//   - chat:framework:<chatId>    — last scaffolded framework for the chat
//
// sandbox:<id> and chat:sandbox:<chatId> always carry equal TTL and are
// refreshed as a pair; a reader observing only one treats the sandbox as
// absent (spec §5 shared-pair invariant).
type Store struct {
	kv  *kv.Client
	ttl time.Duration

	checker LivenessChecker

	mu          sync.Mutex
	liveCache   map[string]livenessEntry
}

type livenessEntry struct {
	alive    bool
	checked  time.Time
}

// NewStore returns a Store with the given idle TTL and liveness checker.
func NewStore(kvClient *kv.Client, ttl time.Duration, checker LivenessChecker) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		kv:        kvClient,
		ttl:       ttl,
		checker:   checker,
		liveCache: make(map[string]livenessEntry),
	}
}

func sandboxKey(id string) string    { return fmt.Sprintf("sandbox:%s", id) }
func chatIndexKey(chatID string) string { return fmt.Sprintf("chat:sandbox:%s", chatID) }
func frameworkKey(chatID string) string { return fmt.Sprintf("chat:framework:%s", chatID) }

// Put persists sb and refreshes both the primary record and the chat index
// with the store's configured TTL.
func (s *Store) Put(ctx context.Context, sb *Sandbox) error {
	data, err := json.Marshal(sb)
	if err != nil {
		return fmt.Errorf("marshal sandbox: %w", err)
	}
	if err := s.kv.Set(ctx, sandboxKey(sb.ID), string(data), s.ttl); err != nil {
		return err
	}
	if err := s.kv.Set(ctx, chatIndexKey(sb.ChatID), sb.ID, s.ttl); err != nil {
		return err
	}
	if sb.ScaffoldedFramework != "" {
		_ = s.kv.Set(ctx, frameworkKey(sb.ChatID), sb.ScaffoldedFramework, s.ttl)
	}
	return nil
}

// Get reads the sandbox record by id, returning (nil, nil) if absent.
func (s *Store) Get(ctx context.Context, id string) (*Sandbox, error) {
	raw, err := s.kv.Get(ctx, sandboxKey(id))
	if err != nil {
		if kv.IsNil(err) {
			return nil, nil
		}
		return nil, err
	}
	var sb Sandbox
	if err := json.Unmarshal([]byte(raw), &sb); err != nil {
		return nil, fmt.Errorf("unmarshal sandbox: %w", err)
	}
	return &sb, nil
}

// GetActive reads the chat→sandbox index, validates the container behind it
// is alive (liveness cached for 10s to bound exec driver load), and drops
// stale index entries it discovers along the way. Returns (nil, nil) if no
// live sandbox exists for chatID.
func (s *Store) GetActive(ctx context.Context, chatID string) (*Sandbox, error) {
	id, err := s.kv.Get(ctx, chatIndexKey(chatID))
	if err != nil {
		if kv.IsNil(err) {
			return nil, nil
		}
		return nil, err
	}

	sb, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sb == nil {
		_ = s.kv.Del(ctx, chatIndexKey(chatID))
		return nil, nil
	}

	alive, err := s.isAliveCached(ctx, sb.ContainerID)
	if err != nil {
		// Treat a liveness-check failure as "unknown" rather than destroying
		// state on a transient Docker API hiccup.
		return sb, nil
	}
	if !alive {
		_ = s.Del(ctx, sb)
		return nil, nil
	}

	return sb, nil
}

func (s *Store) isAliveCached(ctx context.Context, containerID string) (bool, error) {
	s.mu.Lock()
	if entry, ok := s.liveCache[containerID]; ok && time.Since(entry.checked) < livenessCacheTTL {
		s.mu.Unlock()
		return entry.alive, nil
	}
	s.mu.Unlock()

	alive, err := s.checker.IsAlive(ctx, containerID)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	s.liveCache[containerID] = livenessEntry{alive: alive, checked: time.Now()}
	s.mu.Unlock()

	return alive, nil
}

// RefreshTTL re-applies the store's TTL to the sandbox record and then to
// the chat index. The two updates are sequential, not atomic: if the second
// fails, the first stays applied and the error is returned.
func (s *Store) RefreshTTL(ctx context.Context, sb *Sandbox) error {
	if err := s.kv.Expire(ctx, sandboxKey(sb.ID), s.ttl); err != nil {
		return err
	}
	return s.kv.Expire(ctx, chatIndexKey(sb.ChatID), s.ttl)
}

// Del removes both the sandbox record and the chat index.
func (s *Store) Del(ctx context.Context, sb *Sandbox) error {
	return s.kv.Del(ctx, sandboxKey(sb.ID), chatIndexKey(sb.ChatID))
}
