// Package dlock implements a cluster-safe mutual-exclusion lock on Redis.
//
// Acquisition is a single SET NX PX; release is a single Lua script that
// deletes the key only if it still holds this caller's owner token. There is
// no retry or backoff inside the primitive: failing to acquire is an ordinary
// outcome signaling contention, and callers decide their own retry policy.
// The TTL is the safety net against crashed holders.
package dlock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/rueidis"

	"github.com/promoflash/promoflash/internal/contextx"
	"github.com/promoflash/promoflash/internal/keys"
	"github.com/promoflash/promoflash/internal/logger"
	"github.com/promoflash/promoflash/internal/owner"
)

// releaseScript atomically deletes the lock key iff the stored value is the
// caller's owner token. A plain read-then-delete would race: A's lock expires,
// B acquires, A's delayed delete removes B's lock.
var releaseScript = rueidis.NewLuaScript(`if redis.call("GET",KEYS[1]) == ARGV[1] then return redis.call("DEL",KEYS[1]) else return 0 end`)

// ErrInvalidTTL is returned when a lock TTL is zero or negative.
var ErrInvalidTTL = errors.New("lock TTL must be positive")

// Locker acquires distributed locks against a shared Redis instance.
// One Locker per process is sufficient; it is safe for concurrent use.
type Locker struct {
	client rueidis.Client
	owner  *owner.Generator
	logger logger.Logger
}

// Option configures a Locker.
type Option func(*Locker)

// WithLogger overrides the default slog logger.
func WithLogger(l logger.Logger) Option {
	return func(lk *Locker) { lk.logger = l }
}

// NewLocker creates a Locker bound to client.
func NewLocker(client rueidis.Client, opts ...Option) *Locker {
	lk := &Locker{
		client: client,
		owner:  owner.New(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(lk)
	}
	return lk
}

// Lease represents a held lock. Release it exactly once; releasing a lease
// whose lock has already expired is a silent no-op.
type Lease struct {
	key    string
	token  string
	locker *Locker
}

// Key returns the Redis key the lease holds.
func (l *Lease) Key() string { return l.key }

// Token returns the owner token stored under the lock key.
func (l *Lease) Token() string { return l.token }

// TryAcquire attempts to take the lock named name for at most ttl.
//
// It returns (lease, true, nil) on success and (nil, false, nil) when another
// holder owns the lock; contention is not an error. The error return is
// reserved for Redis transport failures.
func (lk *Locker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (*Lease, bool, error) {
	if ttl <= 0 {
		return nil, false, ErrInvalidTTL
	}
	key := keys.Lock + name
	token := lk.owner.Next()
	resp := lk.client.Do(ctx, lk.client.B().Set().Key(key).Value(token).Nx().Px(ttl).Build())
	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			// SET NX produced no reply: key already held.
			lk.logger.Debug("lock contention", "key", key)
			return nil, false, nil
		}
		return nil, false, err
	}
	lk.logger.Debug("lock acquired", "key", key, "token", token)
	return &Lease{key: key, token: token, locker: lk}, true, nil
}

// Release gives the lock back. The delete only happens if the stored token
// still matches this lease, so releasing after TTL expiry (and possible
// re-acquisition by another holder) never destroys somebody else's lock.
// In that case Release returns nil: expiry already released it.
func (l *Lease) Release(ctx context.Context) error {
	resp := releaseScript.Exec(ctx, l.locker.client, []string{l.key}, []string{l.token})
	if err := resp.Error(); err != nil {
		return err
	}
	if n, err := resp.AsInt64(); err == nil && n == 0 {
		l.locker.logger.Debug("lock already expired or foreign-owned on release", "key", l.key)
	}
	return nil
}

// ReleaseDetached releases the lease on a context that survives cancellation
// of ctx. Used by cleanup paths that must run even when the request is gone.
// Errors are logged, not returned: the TTL will reap the lock regardless.
func (l *Lease) ReleaseDetached(ctx context.Context, timeout time.Duration) {
	cleanupCtx, cancel := contextx.Detach(ctx, timeout)
	defer cancel()
	if err := l.Release(cleanupCtx); err != nil {
		l.locker.logger.Error("failed to release lock", "key", l.key, "error", err)
	}
}
