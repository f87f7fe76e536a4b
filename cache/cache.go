// Package cache implements the cache-aside pattern on Redis with defenses
// for the three classic failure modes:
//
//   - Penetration: a loader "not found" result is cached as an empty
//     tombstone with a short TTL, so a flood of requests for ids that do not
//     exist never reaches the loader.
//   - Breakdown: hot keys use logical expiration. The stored envelope never
//     physically expires; staleness is a value-encoded timestamp, and an
//     expired envelope triggers at most one background rebuild (guarded by a
//     distributed lock) while every caller gets the stale payload
//     immediately.
//   - Avalanche: physical TTLs are jittered so co-populated keys do not
//     expire in the same instant.
//
// The two strategies are independent entry points: GetOrLoad for ordinary
// entities, GetOrLoadWithLogicalExpiry for pre-warmed hot entities.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/redis/rueidis"

	"github.com/promoflash/promoflash/dlock"
	"github.com/promoflash/promoflash/internal/contextx"
	"github.com/promoflash/promoflash/internal/keys"
	"github.com/promoflash/promoflash/internal/logger"
)

// Errors returned by cache lookups.
var (
	// ErrNotFound means the entity does not exist upstream. It is returned
	// both for a fresh loader miss and for a cached tombstone.
	ErrNotFound = errors.New("cache: entity not found")

	// ErrEnvelopeMissing means a logical-expiry key that should have been
	// pre-warmed is absent. That keyspace is populated ahead of time and
	// never physically expires, so a miss is a provisioning anomaly, not a
	// normal cache miss, and must not be masked as one.
	ErrEnvelopeMissing = errors.New("cache: logical-expiry envelope missing")
)

// Loader fetches an entity from the authoritative store. It returns
// ErrNotFound (possibly wrapped) when the id does not exist.
type Loader[T any] func(ctx context.Context, id string) (T, error)

// envelope wraps a payload with its value-encoded expiry. The key carrying it
// has no store-level TTL.
type envelope struct {
	Data      json.RawMessage `json:"data"`
	ExpiresAt time.Time       `json:"logicalExpiresAt"`
}

// Options configures a Client. All fields are optional.
type Options struct {
	// NullTTL is the physical TTL for anti-penetration tombstones.
	// Defaults to 2 minutes.
	NullTTL time.Duration

	// RebuildLockTTL bounds how long an async rebuild may hold its mutex.
	// Defaults to 10 seconds.
	RebuildLockTTL time.Duration

	// RebuildWorkers is the size of the background rebuild pool.
	// Defaults to 10.
	RebuildWorkers int

	// RebuildBacklog is the rebuild task queue capacity. When the queue is
	// full further rebuilds are skipped (callers keep serving stale data).
	// Defaults to 64.
	RebuildBacklog int

	// TTLJitter spreads physical TTLs by a random factor in
	// [0, TTLJitter), e.g. 0.1 stretches a 30m TTL up to 33m. Defaults to
	// 0.1. Set negative to disable.
	TTLJitter float64

	// Logger defaults to slog.Default().
	Logger logger.Logger
}

// Client is the cache-aside engine. It owns a bounded rebuild pool; call
// Close to drain it.
type Client struct {
	client  rueidis.Client
	locker  *dlock.Locker
	logger  logger.Logger
	pool    *rebuildPool
	nullTTL time.Duration
	lockTTL time.Duration
	jitter  float64
	now     func() time.Time
}

// NewClient creates a cache Client on top of a shared Redis client and lock
// service.
func NewClient(client rueidis.Client, locker *dlock.Locker, opt Options) (*Client, error) {
	if client == nil {
		return nil, errors.New("cache: redis client must not be nil")
	}
	if locker == nil {
		return nil, errors.New("cache: locker must not be nil")
	}
	if opt.NullTTL < 0 || opt.RebuildLockTTL < 0 || opt.RebuildWorkers < 0 || opt.RebuildBacklog < 0 {
		return nil, errors.New("cache: options must not be negative")
	}
	if opt.NullTTL == 0 {
		opt.NullTTL = keys.CacheNullTTL
	}
	if opt.RebuildLockTTL == 0 {
		opt.RebuildLockTTL = keys.RebuildLockTTL
	}
	if opt.RebuildWorkers == 0 {
		opt.RebuildWorkers = 10
	}
	if opt.RebuildBacklog == 0 {
		opt.RebuildBacklog = 64
	}
	if opt.TTLJitter == 0 {
		opt.TTLJitter = 0.1
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	return &Client{
		client:  client,
		locker:  locker,
		logger:  opt.Logger,
		pool:    newRebuildPool(opt.RebuildWorkers, opt.RebuildBacklog),
		nullTTL: opt.NullTTL,
		lockTTL: opt.RebuildLockTTL,
		jitter:  max(opt.TTLJitter, 0),
		now:     time.Now,
	}, nil
}

// Close stops the rebuild pool after letting queued rebuilds finish.
func (c *Client) Close() {
	c.pool.close()
}

// Delete removes a cached entry. Authoritative writes call this after
// updating the durable store so the next read repopulates.
func (c *Client) Delete(ctx context.Context, prefix, id string) error {
	return c.client.Do(ctx, c.client.B().Del().Key(prefix+id).Build()).Error()
}

// physicalTTL applies jitter so keys populated together do not expire
// together.
func (c *Client) physicalTTL(ttl time.Duration) time.Duration {
	if c.jitter <= 0 {
		return ttl
	}
	return ttl + time.Duration(rand.Float64()*c.jitter*float64(ttl))
}

// GetOrLoad reads prefix+id, falling back to loader on a true miss.
//
// A present-but-empty value is a cached "confirmed absent" and returns
// ErrNotFound without touching the loader. A loader miss writes such a
// tombstone with a short TTL. There is deliberately no locking on this path:
// a duplicate-loader race between the miss and the first write is tolerated
// as cheap, because the first caller's result lands immediately.
//
// Malformed cached JSON is an error, never treated as a miss; silently
// reloading over it would hide corruption.
func GetOrLoad[T any](ctx context.Context, c *Client, prefix, id string, ttl time.Duration, loader Loader[T]) (T, error) {
	var zero T
	key := prefix + id

	raw, err := c.client.Do(ctx, c.client.B().Get().Key(key).Build()).ToString()
	switch {
	case err == nil && raw != "":
		var v T
		if uerr := json.Unmarshal([]byte(raw), &v); uerr != nil {
			return zero, fmt.Errorf("cache: malformed payload at %q: %w", key, uerr)
		}
		c.logger.Debug("cache hit", "key", key)
		return v, nil
	case err == nil:
		// Tombstone: upstream absence already confirmed.
		c.logger.Debug("cache hit on tombstone", "key", key)
		return zero, ErrNotFound
	case !rueidis.IsRedisNil(err):
		return zero, err
	}

	c.logger.Debug("cache miss", "key", key)
	v, err := loader(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if serr := c.setRaw(ctx, key, "", c.nullTTL); serr != nil {
				c.logger.Error("failed to write tombstone", "key", key, "error", serr)
			}
			return zero, ErrNotFound
		}
		return zero, err
	}

	if err := Set(ctx, c, prefix, id, v, ttl); err != nil {
		// The caller still gets the loaded value; the next request reloads.
		c.logger.Error("failed to populate cache", "key", key, "error", err)
	}
	return v, nil
}

// GetOrLoadWithLogicalExpiry reads the envelope at prefix+id.
//
// A fresh envelope returns its payload in one round trip without ever calling
// the loader, which removes breakdown latency for hot keys entirely. An
// expired envelope schedules at most one background rebuild across the whole
// cluster (guarded by the lock "lock:<prefix><id>") and still returns the
// stale payload immediately; staleness is the accepted price for a flat
// latency profile.
//
// The keyspace is assumed pre-warmed: a missing or blank key returns
// ErrEnvelopeMissing.
func GetOrLoadWithLogicalExpiry[T any](ctx context.Context, c *Client, prefix, id string, ttl time.Duration, loader Loader[T]) (T, error) {
	var zero T
	key := prefix + id

	raw, err := c.client.Do(ctx, c.client.B().Get().Key(key).Build()).ToString()
	if rueidis.IsRedisNil(err) || (err == nil && raw == "") {
		return zero, fmt.Errorf("%w: %q", ErrEnvelopeMissing, key)
	}
	if err != nil {
		return zero, err
	}

	var env envelope
	if uerr := json.Unmarshal([]byte(raw), &env); uerr != nil {
		return zero, fmt.Errorf("cache: malformed envelope at %q: %w", key, uerr)
	}
	var v T
	if uerr := json.Unmarshal(env.Data, &v); uerr != nil {
		return zero, fmt.Errorf("cache: malformed envelope payload at %q: %w", key, uerr)
	}

	if env.ExpiresAt.After(c.now()) {
		return v, nil
	}

	// Stale. Whoever wins the lock schedules the rebuild; everybody returns
	// the stale payload right away.
	lease, ok, lerr := c.locker.TryAcquire(ctx, prefix+id, c.lockTTL)
	if lerr != nil {
		c.logger.Error("rebuild lock acquisition failed", "key", key, "error", lerr)
		return v, nil
	}
	if ok {
		// If the pool is saturated, release right away so a later caller
		// can retry the rebuild.
		if !c.pool.submit(rebuildTask(c, lease, prefix, id, ttl, loader)) {
			c.logger.Warn("rebuild pool saturated, skipping rebuild", "key", key)
			lease.ReleaseDetached(ctx, c.lockTTL)
		}
	}
	return v, nil
}

// rebuildTask builds the background refresh closure. The lock is released in
// a deferred cleanup regardless of loader success or failure, and loader
// errors never propagate to the original caller, who already got the stale
// payload.
func rebuildTask[T any](c *Client, lease *dlock.Lease, prefix, id string, ttl time.Duration, loader Loader[T]) func() {
	return func() {
		// The originating request has long returned; rebuild on a detached
		// context bounded by the lock TTL.
		ctx, cancel := context.WithTimeout(context.Background(), c.lockTTL)
		defer cancel()
		defer lease.ReleaseDetached(ctx, c.lockTTL)

		v, err := loader(ctx, id)
		if err != nil {
			c.logger.Error("cache rebuild loader failed", "key", prefix+id, "error", err)
			return
		}
		if err := SetWithLogicalExpiry(ctx, c, prefix, id, v, ttl); err != nil {
			c.logger.Error("cache rebuild write failed", "key", prefix+id, "error", err)
		}
	}
}

// Set serializes v as JSON and stores it under prefix+id with a jittered
// physical TTL.
func Set[T any](ctx context.Context, c *Client, prefix, id string, v T, ttl time.Duration) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: marshal %q: %w", prefix+id, err)
	}
	return c.setRaw(ctx, prefix+id, string(buf), c.physicalTTL(ttl))
}

// SetWithLogicalExpiry stores v inside an envelope whose expiry is
// now + ttl. The key itself never expires; pre-warm and rebuild are the only
// writers.
func SetWithLogicalExpiry[T any](ctx context.Context, c *Client, prefix, id string, v T, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: marshal %q: %w", prefix+id, err)
	}
	env := envelope{Data: data, ExpiresAt: c.now().Add(ttl)}
	buf, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("cache: marshal envelope %q: %w", prefix+id, err)
	}
	return c.client.Do(ctx, c.client.B().Set().Key(prefix+id).Value(string(buf)).Build()).Error()
}

// setRaw writes a raw value, detached from request cancellation: once a
// loader result exists it should land in the cache even if the caller gave
// up.
func (c *Client) setRaw(ctx context.Context, key, val string, ttl time.Duration) error {
	wctx, cancel := contextx.Detach(ctx, 5*time.Second)
	defer cancel()
	if ttl > 0 {
		return c.client.Do(wctx, c.client.B().Set().Key(key).Value(val).Px(ttl).Build()).Error()
	}
	return c.client.Do(wctx, c.client.B().Set().Key(key).Value(val).Build()).Error()
}
