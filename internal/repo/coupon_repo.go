// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Coupon model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a coupon is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// The counter columns (usage_count, payout_usage) are written exclusively by
// IncrementCouponCounters, which performs the addition in SQL so concurrent
// increments from different callers are both reflected. Higher-level
// idempotency (one increment per payment/coupon pair) is enforced by the
// application ledger, not here; see services.CouponService.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/go-commerce-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateCoupon inserts a new Coupon row. The caller is expected to pass the
// code in canonical form (codes.Normalize). A unique-index violation on the
// code surfaces as ErrDuplicate.
func CreateCoupon(ctx context.Context, db *gorm.DB, c *domain.Coupon) (*domain.Coupon, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return c, nil
}

// FindCouponByCode fetches a single active coupon by its canonical code.
// Inactive or soft-deleted coupons are treated as missing. Returns ErrNotFound
// when no row matches; other DB errors are returned as-is.
func FindCouponByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Coupon, error) {
	var c domain.Coupon
	err := db.WithContext(ctx).
		Where("code = ? AND is_active = ?", code, true).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCouponByCode fetches a coupon by canonical code regardless of its active
// flag. Admin surfaces use this; the apply path must use FindCouponByCode so
// deactivated coupons stop accruing usage.
func GetCouponByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Coupon, error) {
	var c domain.Coupon
	err := db.WithContext(ctx).
		Where("code = ?", code).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// IncrementCouponCounters adds usageDelta to usage_count and payoutDelta to
// payout_usage in a single UPDATE. The arithmetic happens in SQL, so two
// concurrent increments both land (no read-modify-write lost updates), and
// NOT NULL DEFAULT 0 columns make the first increment on a fresh row safe.
//
// Returns ErrNotFound when couponID does not match an existing row.
// Negative deltas are not expected from the service layer; refunds and
// reversals are handled outside this subsystem.
func IncrementCouponCounters(ctx context.Context, db *gorm.DB, couponID string, usageDelta int64, payoutDelta decimal.Decimal) error {
	res := db.WithContext(ctx).
		Model(&domain.Coupon{}).
		Where("id = ?", couponID).
		Updates(map[string]any{
			"usage_count":  gorm.Expr("usage_count + ?", usageDelta),
			"payout_usage": gorm.Expr("payout_usage + ?", payoutDelta),
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountCoupons returns the total number of coupons (active and inactive).
// On DB error, it returns the error.
func CountCoupons(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Coupon{}).
		Count(&total).Error
	return total, err
}

// ListCouponsPage returns a paginated slice of coupons ordered by creation
// time descending. Use CountCoupons to obtain the total for pagination
// metadata. On DB error, it returns the error.
//
// The caller is responsible for computing offset and limit (e.g., (page-1)*pageSize).
func ListCouponsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Coupon, error) {
	var out []domain.Coupon
	err := db.WithContext(ctx).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
