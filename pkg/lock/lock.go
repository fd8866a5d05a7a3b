// Package lock implements the distributed lock primitive: SET NX EX to
// acquire, a token-bound Lua compare-and-delete to release.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/forgeplatform/forge/pkg/kv"
)

// ErrNotHeld is returned by Release when the caller's token no longer
// matches the stored value (lock expired and was re-acquired, or was never
// held by this caller).
var ErrNotHeld = errors.New("lock not held")

// releaseScript deletes key only if its current value equals the caller's
// token, preventing a caller from releasing a lock that TTL-expired and was
// re-acquired by someone else.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Locker acquires and releases named locks backed by Redis.
type Locker struct {
	kv *kv.Client
}

// New returns a Locker over the given KV client.
func New(kvClient *kv.Client) *Locker {
	return &Locker{kv: kvClient}
}

// Acquire attempts to set key to a fresh random token with the given TTL.
// Returns the token (to be passed to Release) and true on success; on
// contention it returns ("", false, nil) — not an error. On a KV error it
// returns ("", false, err): the lock is not granted, and the error lets
// callers tell a KV failure apart from contention.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token, err := randomToken()
	if err != nil {
		return "", false, fmt.Errorf("generate lock token: %w", err)
	}

	ok, err := l.kv.SetNX(ctx, key, token, ttl)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release deletes key iff its value still equals token. A stale token
// (lock already expired and re-acquired) deletes nothing and returns
// ErrNotHeld, which signals "may have lost ownership" rather than a hard
// failure.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	res, err := l.kv.Eval(ctx, releaseScript, []string{key}, token)
	if err != nil {
		return err
	}
	if n, ok := res.(int64); ok && n == 0 {
		return ErrNotHeld
	}
	return nil
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
