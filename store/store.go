// Package store is the durable relational adapter, implemented with GORM.
//
// The rest of the system treats it as an opaque transactional
// entity-by-id store with conditional updates; everything here is plain CRUD
// plus the two operations the seckill pipeline leans on: the conditional
// stock decrement and the (userId, voucherId) existence count.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a looked-up entity does not exist.
var ErrNotFound = errors.New("store: not found")

// Shop is a listed shop. Read-heavy; served through the cache engine.
type Shop struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:128;not null" json:"name"`
	Area      string    `gorm:"size:64;index" json:"area"`
	Address   string    `gorm:"size:255" json:"address"`
	AvgPrice  int64     `json:"avgPrice"`
	Score     int       `json:"score"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SeckillVoucher is the finite-stock flash-sale voucher. Stock never goes
// negative: the only mutation is the conditional decrement.
type SeckillVoucher struct {
	VoucherID int64     `gorm:"primaryKey" json:"voucherId"`
	Title     string    `gorm:"size:128" json:"title"`
	Stock     int       `gorm:"not null" json:"stock"`
	BeginTime time.Time `gorm:"not null" json:"beginTime"`
	EndTime   time.Time `gorm:"not null" json:"endTime"`
}

// Order is a redeemed voucher order. At most one row may ever exist per
// (UserID, VoucherID); the persist worker enforces that under the per-user
// lock.
type Order struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	UserID    int64     `gorm:"not null;index:idx_user_voucher" json:"userId"`
	VoucherID int64     `gorm:"not null;index:idx_user_voucher" json:"voucherId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store wraps a gorm.DB with the operations the services need.
type Store struct {
	db *gorm.DB
}

// New creates a Store and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Shop{}, &SeckillVoucher{}, &Order{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Transact runs fn inside a database transaction. This is the explicit
// unit-of-work boundary: callers that need the decrement and the insert to
// commit or roll back together wrap both in one Transact call.
func (s *Store) Transact(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// GetShop looks up a shop by id.
func (s *Store) GetShop(ctx context.Context, id int64) (*Shop, error) {
	var shop Shop
	if err := s.db.WithContext(ctx).First(&shop, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &shop, nil
}

// SaveShop inserts or updates a shop.
func (s *Store) SaveShop(ctx context.Context, shop *Shop) error {
	return s.db.WithContext(ctx).Save(shop).Error
}

// GetVoucher looks up a seckill voucher by id.
func (s *Store) GetVoucher(ctx context.Context, voucherID int64) (*SeckillVoucher, error) {
	var v SeckillVoucher
	if err := s.db.WithContext(ctx).First(&v, voucherID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

// SaveVoucher inserts or updates a voucher.
func (s *Store) SaveVoucher(ctx context.Context, v *SeckillVoucher) error {
	return s.db.WithContext(ctx).Save(v).Error
}

// DecrementStock applies "stock = stock - 1 WHERE voucher_id = ? AND
// stock > 0" and reports whether a row changed. Check and mutation are one
// conditional UPDATE, so stock can never be driven below zero however many
// workers race on the last unit.
func (s *Store) DecrementStock(ctx context.Context, voucherID int64) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&SeckillVoucher{}).
		Where("voucher_id = ? AND stock > 0", voucherID).
		UpdateColumn("stock", gorm.Expr("stock - 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CountOrders returns how many orders the user holds for the voucher.
func (s *Store) CountOrders(ctx context.Context, userID, voucherID int64) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&Order{}).
		Where("user_id = ? AND voucher_id = ?", userID, voucherID).
		Count(&n).Error
	return n, err
}

// CountOrdersForVoucher returns how many orders exist for the voucher across
// all users. Used to reconcile durable orders against the Redis reservation
// count.
func (s *Store) CountOrdersForVoucher(ctx context.Context, voucherID int64) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&Order{}).
		Where("voucher_id = ?", voucherID).
		Count(&n).Error
	return n, err
}

// CreateOrder inserts an order row.
func (s *Store) CreateOrder(ctx context.Context, order *Order) error {
	return s.db.WithContext(ctx).Create(order).Error
}
