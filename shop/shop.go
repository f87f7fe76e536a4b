// Package shop serves read-heavy shop lookups through the cache engine.
//
// Two read paths exist on purpose: GetByID caches confirmed absences for the
// long tail of ids (penetration defense), GetByIDHot serves pre-warmed hot
// shops via logical expiry so a popular shop never pays rebuild latency.
package shop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/promoflash/promoflash/cache"
	"github.com/promoflash/promoflash/internal/keys"
	"github.com/promoflash/promoflash/internal/logger"
	"github.com/promoflash/promoflash/store"
)

// ErrNotFound is returned when a shop does not exist.
var ErrNotFound = errors.New("shop: not found")

// Service looks up and updates shops.
type Service struct {
	cache  *cache.Client
	store  *store.Store
	logger logger.Logger
	ttl    time.Duration
}

// New creates a shop Service.
func New(c *cache.Client, st *store.Store) *Service {
	return &Service{cache: c, store: st, logger: slog.Default(), ttl: keys.CacheShopTTL}
}

// loader adapts the durable store to a cache Loader, translating the store's
// miss into the cache's.
func (s *Service) loader(ctx context.Context, id string) (*store.Shop, error) {
	shopID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("shop: bad id %q: %w", id, err)
	}
	shop, err := s.store.GetShop(ctx, shopID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, cache.ErrNotFound
	}
	return shop, err
}

// GetByID returns the shop, serving from cache when possible. Ids confirmed
// absent are cached as tombstones so repeated lookups of dead ids stay off
// the database.
func (s *Service) GetByID(ctx context.Context, id int64) (*store.Shop, error) {
	shop, err := cache.GetOrLoad(ctx, s.cache, keys.CacheShop, strconv.FormatInt(id, 10), s.ttl, s.loader)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, ErrNotFound
	}
	return shop, err
}

// GetByIDHot returns a pre-warmed hot shop via the logical-expiry path.
// Callers may receive a slightly stale shop while a background rebuild runs.
func (s *Service) GetByIDHot(ctx context.Context, id int64) (*store.Shop, error) {
	return cache.GetOrLoadWithLogicalExpiry(ctx, s.cache, keys.CacheShop, strconv.FormatInt(id, 10), s.ttl, s.loader)
}

// Update writes the shop durably, then invalidates its cache entry so the
// next read repopulates from the fresh row. Store first, delete second: the
// brief window of stale cache is preferable to caching a row that failed to
// commit.
func (s *Service) Update(ctx context.Context, shop *store.Shop) error {
	if shop.ID == 0 {
		return errors.New("shop: id required for update")
	}
	if err := s.store.SaveShop(ctx, shop); err != nil {
		return err
	}
	return s.cache.Delete(ctx, keys.CacheShop, strconv.FormatInt(shop.ID, 10))
}

// Prewarm seeds logical-expiry envelopes for the given shops, in parallel.
// Run it before opening traffic on the hot path: GetByIDHot treats a missing
// envelope as a provisioning anomaly.
func (s *Service) Prewarm(ctx context.Context, ids []int64, ttl time.Duration) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(8)
	for _, id := range ids {
		eg.Go(func() error {
			shop, err := s.store.GetShop(ctx, id)
			if err != nil {
				return fmt.Errorf("shop: prewarm %d: %w", id, err)
			}
			return cache.SetWithLogicalExpiry(ctx, s.cache, keys.CacheShop, strconv.FormatInt(id, 10), shop, ttl)
		})
	}
	return eg.Wait()
}
