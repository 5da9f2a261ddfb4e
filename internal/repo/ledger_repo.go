// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the
// CouponApplication model, the idempotency ledger that makes coupon counter
// increments safe to retry.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-commerce-backend/internal/domain"
)

// ErrDuplicate indicates that a ledger entry already exists for the given
// (order_id, guard_key) pair, i.e. this payment/coupon combination has
// already been accounted for.
var ErrDuplicate = errors.New("duplicate")

// ApplicationExists reports whether a ledger entry exists for orderID and
// guardKey. It is a read-only probe; writers must rely on CreateApplication,
// whose unique index closes the gap between "check" and "create".
func ApplicationExists(ctx context.Context, db *gorm.DB, orderID, guardKey string) (bool, error) {
	if strings.TrimSpace(orderID) == "" || strings.TrimSpace(guardKey) == "" {
		return false, nil
	}
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.CouponApplication{}).
		Where("order_id = ? AND guard_key = ?", orderID, guardKey).
		Count(&n).Error
	return n > 0, err
}

// ApplicationExistsByGuard reports whether any ledger entry carries guardKey.
// The intake routes have no order id in the URL, so their idempotency check
// matches on the echoed guard key alone. Guard keys hash the payment id and
// canonical code, which makes them unique across orders in practice.
func ApplicationExistsByGuard(ctx context.Context, db *gorm.DB, guardKey string) (bool, error) {
	if strings.TrimSpace(guardKey) == "" {
		return false, nil
	}
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.CouponApplication{}).
		Where("guard_key = ?", guardKey).
		Count(&n).Error
	return n > 0, err
}

// CreateApplication inserts a ledger entry and returns ErrDuplicate on unique
// violation. At most one concurrent caller for the same (order_id, guard_key)
// observes success; everyone else gets ErrDuplicate and must not re-apply the
// counter increment.
func CreateApplication(ctx context.Context, db *gorm.DB, entry *domain.CouponApplication) (*domain.CouponApplication, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.AppliedAt.IsZero() {
		entry.AppliedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(entry).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return entry, nil
}

// ListApplicationsByOrder returns every ledger entry recorded for orderID,
// oldest first. An order with no applied coupons yields an empty slice.
func ListApplicationsByOrder(ctx context.Context, db *gorm.DB, orderID string) ([]domain.CouponApplication, error) {
	var out []domain.CouponApplication
	err := db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("applied_at asc").
		Find(&out).Error
	return out, err
}

// isUniqueViolation detects unique-constraint violations across drivers.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}
