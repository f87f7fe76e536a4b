// Package keys centralizes Redis key prefixes and cache TTLs.
//
// Key format: {domain}:{entity}:{id}, e.g. "cache:shop:7", "lock:order:42",
// "seckill:stock:10". Keeping every prefix here prevents two components from
// silently colliding on the same keyspace.
package keys

import "time"

const (
	// CacheShop prefixes pass-through and logical-expiry shop entries.
	CacheShop = "cache:shop:"

	// Lock prefixes every distributed lock key.
	Lock = "lock:"

	// LockOrder scopes the per-user lock taken by the order persist worker.
	LockOrder = "lock:order:"

	// SeckillStock holds the authoritative remaining stock for a voucher,
	// stored as a plain integer string and mutated only by the admission
	// script.
	SeckillStock = "seckill:stock:"

	// SeckillOrders is the per-voucher set of user ids that already hold a
	// reservation. Checked and extended by the admission script.
	SeckillOrders = "seckill:order:"

	// SeckillVoucher prefixes the per-voucher snapshot hash (stock, begin,
	// end) used for advisory pre-checks on the request path.
	SeckillVoucher = "seckill:voucher:"

	// Sequence prefixes the per-day counters backing id generation.
	Sequence = "icr:"
)

const (
	// CacheShopTTL is the physical TTL for pass-through shop entries and the
	// logical lifetime for pre-warmed envelopes.
	CacheShopTTL = 30 * time.Minute

	// CacheNullTTL bounds how long a confirmed-absent tombstone lingers.
	// Short on purpose: it only needs to outlast a penetration burst.
	CacheNullTTL = 2 * time.Minute

	// RebuildLockTTL caps how long a cache rebuild may hold its mutex before
	// a crashed worker's lock self-expires.
	RebuildLockTTL = 10 * time.Second

	// OrderLockTTL caps the per-user lock held around the durable order
	// write.
	OrderLockTTL = 20 * time.Minute
)
