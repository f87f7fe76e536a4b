// Package seckill implements the flash-sale order-admission pipeline.
//
// A request moves through: window/stock pre-checks against the Redis voucher
// snapshot (advisory), the atomic admission script (authoritative), order id
// generation, and a bounded in-process queue. The caller gets the order id
// back before the order is durably written; a single background worker
// drains the queue, takes the per-user distributed lock, and persists the
// order idempotently. The synchronous path never touches the relational
// store.
package seckill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/rueidis"

	"github.com/promoflash/promoflash/dlock"
	"github.com/promoflash/promoflash/idgen"
	"github.com/promoflash/promoflash/internal/keys"
	"github.com/promoflash/promoflash/internal/logger"
	"github.com/promoflash/promoflash/store"
)

// Contention-expected outcomes. These are ordinary negative results, not
// failures.
var (
	// ErrNotStarted means the sale window has not opened yet.
	ErrNotStarted = errors.New("seckill: sale has not started")

	// ErrEnded means the sale window has closed.
	ErrEnded = errors.New("seckill: sale has ended")

	// ErrOutOfStock means no stock remains for the voucher.
	ErrOutOfStock = errors.New("seckill: out of stock")

	// ErrDuplicateOrder means the user already holds a reservation or order
	// for the voucher.
	ErrDuplicateOrder = errors.New("seckill: duplicate order")

	// ErrVoucherNotFound means the voucher has no Redis snapshot, i.e. it
	// was never prewarmed for sale.
	ErrVoucherNotFound = errors.New("seckill: voucher not on sale")

	// ErrQueueFull means the order-intent queue rejected the admission.
	// The Redis reservation has already been taken at that point; the
	// rejection is logged as a reconciliation candidate.
	ErrQueueFull = errors.New("seckill: order queue full")

	// ErrClosed means the service is shutting down and no longer admits
	// orders.
	ErrClosed = errors.New("seckill: service closed")
)

// OrderIntent is everything the persist worker needs. It crosses the
// concurrency boundary by value: no request-scoped context or ambient state
// is inherited.
type OrderIntent struct {
	OrderID   int64
	UserID    int64
	VoucherID int64
	CreatedAt time.Time
}

// Options configures a Service.
type Options struct {
	// QueueSize caps the order-intent queue. Defaults to 1024.
	QueueSize int

	// OrderLockTTL bounds the per-user lock around the durable write.
	// Defaults to 20 minutes.
	OrderLockTTL time.Duration

	// PersistTimeout bounds one durable write attempt. Defaults to 10s.
	PersistTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger logger.Logger
}

// Service is the order-admission pipeline. Construct with New, stop with
// Close.
type Service struct {
	client  rueidis.Client
	locker  *dlock.Locker
	ids     *idgen.Generator
	store   *store.Store
	logger  logger.Logger
	now     func() time.Time
	lockTTL time.Duration
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	queue  chan OrderIntent
	wg     sync.WaitGroup
}

// New creates the pipeline and starts its single persist worker.
func New(client rueidis.Client, locker *dlock.Locker, ids *idgen.Generator, st *store.Store, opt Options) (*Service, error) {
	if client == nil || locker == nil || ids == nil || st == nil {
		return nil, errors.New("seckill: client, locker, idgen and store are required")
	}
	if opt.QueueSize < 0 {
		return nil, errors.New("seckill: queue size must not be negative")
	}
	if opt.QueueSize == 0 {
		opt.QueueSize = 1024
	}
	if opt.OrderLockTTL == 0 {
		opt.OrderLockTTL = keys.OrderLockTTL
	}
	if opt.PersistTimeout == 0 {
		opt.PersistTimeout = 10 * time.Second
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	s := &Service{
		client:  client,
		locker:  locker,
		ids:     ids,
		store:   st,
		logger:  opt.Logger,
		now:     time.Now,
		lockTTL: opt.OrderLockTTL,
		timeout: opt.PersistTimeout,
		queue:   make(chan OrderIntent, opt.QueueSize),
	}
	s.wg.Add(1)
	go s.drain()
	return s, nil
}

// Close stops admitting orders, drains queued intents through the worker,
// and waits for it to finish.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()
}

// PrewarmVoucher publishes a voucher to Redis for sale: the authoritative
// stock counter the admission script decrements, and the snapshot hash the
// request path reads for its advisory pre-checks.
func (s *Service) PrewarmVoucher(ctx context.Context, v *store.SeckillVoucher) error {
	id := strconv.FormatInt(v.VoucherID, 10)
	cmds := rueidis.Commands{
		s.client.B().Set().Key(keys.SeckillStock + id).Value(strconv.Itoa(v.Stock)).Build(),
		s.client.B().Hset().Key(keys.SeckillVoucher + id).FieldValue().
			FieldValue("stock", strconv.Itoa(v.Stock)).
			FieldValue("begin", strconv.FormatInt(v.BeginTime.Unix(), 10)).
			FieldValue("end", strconv.FormatInt(v.EndTime.Unix(), 10)).
			Build(),
	}
	for _, resp := range s.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("seckill: prewarm voucher %s: %w", id, err)
		}
	}
	return nil
}

// snapshot is the advisory per-voucher view kept in a Redis hash.
type snapshot struct {
	stock int
	begin time.Time
	end   time.Time
}

func (s *Service) voucherSnapshot(ctx context.Context, voucherID string) (snapshot, error) {
	fields, err := s.client.Do(ctx, s.client.B().Hgetall().Key(keys.SeckillVoucher+voucherID).Build()).AsStrMap()
	if err != nil {
		return snapshot{}, err
	}
	if len(fields) == 0 {
		return snapshot{}, fmt.Errorf("%w: voucher %s", ErrVoucherNotFound, voucherID)
	}
	stock, err := strconv.Atoi(fields["stock"])
	if err != nil {
		return snapshot{}, fmt.Errorf("seckill: malformed snapshot for voucher %s: %w", voucherID, err)
	}
	begin, err := strconv.ParseInt(fields["begin"], 10, 64)
	if err != nil {
		return snapshot{}, fmt.Errorf("seckill: malformed snapshot for voucher %s: %w", voucherID, err)
	}
	end, err := strconv.ParseInt(fields["end"], 10, 64)
	if err != nil {
		return snapshot{}, fmt.Errorf("seckill: malformed snapshot for voucher %s: %w", voucherID, err)
	}
	return snapshot{stock: stock, begin: time.Unix(begin, 0), end: time.Unix(end, 0)}, nil
}

// Seckill admits one purchase attempt. On success it returns the order id;
// the durable order row lands asynchronously.
//
// Window and stock pre-checks against the snapshot are optimizations only.
// The admission script is the authority: clock skew between the pre-check
// and the script is immaterial because the script re-derives truth from the
// stock state, not from time.
func (s *Service) Seckill(ctx context.Context, userID, voucherID int64) (int64, error) {
	vid := strconv.FormatInt(voucherID, 10)
	uid := strconv.FormatInt(userID, 10)

	snap, err := s.voucherSnapshot(ctx, vid)
	if err != nil {
		return 0, err
	}
	now := s.now()
	if now.Before(snap.begin) {
		return 0, ErrNotStarted
	}
	if now.After(snap.end) {
		return 0, ErrEnded
	}
	if snap.stock < 1 {
		return 0, ErrOutOfStock
	}

	res, err := admissionScript.Exec(ctx, s.client, []string{}, []string{vid, uid}).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("seckill: admission script: %w", err)
	}
	switch res {
	case admitReserved:
	case admitNoStock:
		return 0, ErrOutOfStock
	case admitDuplicateOrder:
		return 0, ErrDuplicateOrder
	default:
		return 0, fmt.Errorf("seckill: admission script returned unknown result %d", res)
	}

	orderID, err := s.ids.NextID(ctx, "order")
	if err != nil {
		// The reservation is already taken in Redis but no order id exists.
		s.logger.Error("reservation taken but id generation failed, reconciliation candidate",
			"userId", userID, "voucherId", voucherID, "error", err)
		return 0, err
	}

	intent := OrderIntent{
		OrderID:   orderID,
		UserID:    userID,
		VoucherID: voucherID,
		CreatedAt: now,
	}
	if err := s.enqueue(intent); err != nil {
		s.logger.Error("reservation taken but intent not enqueued, reconciliation candidate",
			"orderId", orderID, "userId", userID, "voucherId", voucherID, "error", err)
		return 0, err
	}
	return orderID, nil
}

// enqueue submits the intent without blocking. A full queue is backpressure
// and surfaces as a fatal admission error rather than a silent drop.
func (s *Service) enqueue(intent OrderIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.queue <- intent:
		return nil
	default:
		return ErrQueueFull
	}
}
