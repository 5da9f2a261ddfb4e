// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer and for admin dashboard freshness checks. Each function is
// context-aware and safe to call from services or handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-commerce-backend/internal/domain"
)

// CouponsStats returns aggregate metadata for the coupon table: the total
// number of rows and the maximum UpdatedAt timestamp among those rows.
//
// Because counter increments touch updated_at, maxUpdatedAt moves every time
// any coupon is applied, which makes it a cheap cache-invalidation signal for
// dashboards that read usage_count / payout_usage.
//
// Return values:
//   - count:        total coupons
//   - maxUpdatedAt: pointer to the greatest UpdatedAt, or nil if no rows
//   - err:          database error, if any
func CouponsStats(ctx context.Context, db *gorm.DB) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Coupon{})

	// Count
	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// ApplicationsStats returns aggregate metadata for the ledger entries of a
// given order: the total number of rows and the latest AppliedAt timestamp.
// Ledger rows are immutable, so AppliedAt is the freshness signal here.
//
// Return values:
//   - count:        total ledger entries for orderID
//   - lastAppliedAt: pointer to the greatest AppliedAt, or nil if no rows
//   - err:          database error, if any
func ApplicationsStats(ctx context.Context, db *gorm.DB, orderID string) (count int64, lastAppliedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.CouponApplication{}).Where("order_id = ?", orderID)

	// Count
	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	var row struct {
		AppliedAt time.Time
	}
	if err = q.Select("applied_at").Order("applied_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.AppliedAt, nil
}
