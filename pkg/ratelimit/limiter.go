// Package ratelimit implements the per-user concurrency slot limiter: an
// atomic INCR/DECR with TTL that fails closed on KV errors.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/forgeplatform/forge/pkg/kv"
)

// ErrRateLimited is returned by With when no slot is available, including
// when the KV driver itself errored (fail-closed per spec).
var ErrRateLimited = errors.New("rate limited")

const (
	defaultMaxConcurrentPerUser = 2
	slotTTL                     = 300 * time.Second
)

// acquireScript increments the per-user counter, sets its TTL on first
// increment, and rolls back (decrementing) if the cap is exceeded.
const acquireScript = `
local count = redis.call("incr", KEYS[1])
if count == 1 then
	redis.call("expire", KEYS[1], ARGV[2])
end
if count > tonumber(ARGV[1]) then
	redis.call("decr", KEYS[1])
	return 0
end
return 1
`

// Limiter caps concurrent runs per user via a Redis-backed counter.
type Limiter struct {
	kv        *kv.Client
	maxPerUser int
}

// New returns a Limiter with the given per-user cap (spec default 2).
func New(kvClient *kv.Client, maxPerUser int) *Limiter {
	if maxPerUser <= 0 {
		maxPerUser = defaultMaxConcurrentPerUser
	}
	return &Limiter{kv: kvClient, maxPerUser: maxPerUser}
}

func key(userID string) string {
	return fmt.Sprintf("slots:%s", userID)
}

// Acquire attempts to take one slot for userID. On any KV error it fails
// closed and returns false, per spec §4.2.
func (l *Limiter) Acquire(ctx context.Context, userID string) bool {
	res, err := l.kv.Eval(ctx, acquireScript, []string{key(userID)}, l.maxPerUser, int(slotTTL.Seconds()))
	if err != nil {
		return false
	}
	n, ok := res.(int64)
	return ok && n == 1
}

// Release decrements userID's slot counter, deleting the key once it
// reaches zero or below (clamped so a duplicate release cannot go negative
// and linger).
func (l *Limiter) Release(ctx context.Context, userID string) error {
	k := key(userID)
	n, err := l.kv.Eval(ctx, `
local n = redis.call("decr", KEYS[1])
if n <= 0 then
	redis.call("del", KEYS[1])
end
return n
`, []string{k})
	if err != nil {
		return err
	}
	_ = n
	return nil
}

// With acquires a slot, runs fn, and releases the slot on every exit path
// (including panic-free early return and fn's own error).
func (l *Limiter) With(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	if !l.Acquire(ctx, userID) {
		return ErrRateLimited
	}
	defer func() {
		_ = l.Release(ctx, userID)
	}()
	return fn(ctx)
}
