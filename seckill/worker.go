package seckill

import (
	"context"
	"strconv"

	"github.com/promoflash/promoflash/store"
)

// drain is the single consumer of the intent queue. Intents are persisted
// strictly in arrival order; one consumer keeps the queue itself free of a
// second layer of contention. Cross-process coordination still happens
// through the per-user lock.
func (s *Service) drain() {
	defer s.wg.Done()
	for intent := range s.queue {
		s.persist(intent)
	}
}

// persist writes one admitted order durably.
//
// The lock is scoped to the user, not the voucher: stock authority already
// lives in the admission script, and the invariant defended here is "at most
// one durable order per (user, voucher)", which must hold against other
// replicas persisting for the same user concurrently.
//
// Every failure path after admission is a durable-write-loss candidate; it
// is logged for reconciliation, never retried here.
func (s *Service) persist(intent OrderIntent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	lease, ok, err := s.locker.TryAcquire(ctx, "order:"+strconv.FormatInt(intent.UserID, 10), s.lockTTL)
	if err != nil {
		s.logger.Error("order persist lock error, durable write lost, reconciliation candidate",
			"orderId", intent.OrderID, "userId", intent.UserID, "voucherId", intent.VoucherID, "error", err)
		return
	}
	if !ok {
		s.logger.Warn("order persist lock contended, durable write lost, reconciliation candidate",
			"orderId", intent.OrderID, "userId", intent.UserID, "voucherId", intent.VoucherID)
		return
	}
	defer lease.ReleaseDetached(ctx, s.lockTTL)

	err = s.store.Transact(ctx, func(tx *store.Store) error {
		// Defense in depth: the admission script already rejected
		// duplicates, but the durable store is re-checked under the lock
		// before inserting.
		n, err := tx.CountOrders(ctx, intent.UserID, intent.VoucherID)
		if err != nil {
			return err
		}
		if n > 0 {
			s.logger.Warn("order already persisted, skipping insert",
				"orderId", intent.OrderID, "userId", intent.UserID, "voucherId", intent.VoucherID)
			return nil
		}
		if ok, err := tx.DecrementStock(ctx, intent.VoucherID); err != nil {
			return err
		} else if !ok {
			s.logger.Error("durable stock exhausted for admitted order, reconciliation candidate",
				"orderId", intent.OrderID, "voucherId", intent.VoucherID)
			return nil
		}
		return tx.CreateOrder(ctx, &store.Order{
			ID:        intent.OrderID,
			UserID:    intent.UserID,
			VoucherID: intent.VoucherID,
			CreatedAt: intent.CreatedAt,
		})
	})
	if err != nil {
		s.logger.Error("order persist failed, durable write lost, reconciliation candidate",
			"orderId", intent.OrderID, "userId", intent.UserID, "voucherId", intent.VoucherID, "error", err)
	}
}
