// Package services – CouponAdminService
//
// Read/write surfaces for operators: coupon creation and lookup, paginated
// listing, and per-order ledger inspection. These paths read the counters the
// apply path maintains but never write them.
package services

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/go-commerce-backend/internal/codes"
	"github.com/tbourn/go-commerce-backend/internal/domain"
	"github.com/tbourn/go-commerce-backend/internal/repo"
)

// CreateCouponInput is the operator-supplied coupon definition. Code is
// canonicalized before storage, so clients may submit any formatting variant.
type CreateCouponInput struct {
	Code          string
	Type          string
	Value         decimal.Decimal
	IsAffiliate   bool
	AffiliateCode string
}

// CouponAdminService implements operator-facing coupon management.
// It is context-aware and safe for concurrent use.
type CouponAdminService struct {
	// DB is the database handle used for all admin operations.
	DB *gorm.DB
}

// CreateCoupon validates and persists a new coupon.
//
// Validation:
//   - Code must be non-empty after canonicalization; otherwise ErrInvalidCoupon.
//   - Type must be "percentage" or "fixed"; otherwise ErrInvalidCoupon.
//   - Value must not be negative; otherwise ErrInvalidCoupon.
//   - An affiliate coupon must name its affiliate; otherwise ErrInvalidCoupon.
//   - A taken code yields ErrCouponExists.
func (s *CouponAdminService) CreateCoupon(ctx context.Context, in CreateCouponInput) (*domain.Coupon, error) {
	code := codes.Normalize(in.Code)
	if code == "" {
		return nil, ErrInvalidCoupon
	}
	if in.Type != domain.CouponTypePercentage && in.Type != domain.CouponTypeFixed {
		return nil, ErrInvalidCoupon
	}
	if in.Value.IsNegative() {
		return nil, ErrInvalidCoupon
	}
	if in.IsAffiliate && strings.TrimSpace(in.AffiliateCode) == "" {
		return nil, ErrInvalidCoupon
	}

	c := &domain.Coupon{
		Code:              code,
		Type:              in.Type,
		Value:             in.Value,
		IsActive:          true,
		IsAffiliateCoupon: in.IsAffiliate,
	}
	if in.IsAffiliate {
		aff := codes.Normalize(in.AffiliateCode)
		c.AffiliateCode = &aff
	}

	created, err := repo.CreateCoupon(ctx, s.DB, c)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrCouponExists
		}
		return nil, err
	}
	return created, nil
}

// GetCoupon returns a coupon (active or not) by any formatting variant of its
// code, including its current counters. Returns ErrCouponNotFound if missing.
func (s *CouponAdminService) GetCoupon(ctx context.Context, code string) (*domain.Coupon, error) {
	c, err := repo.GetCouponByCode(ctx, s.DB, codes.Normalize(code))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, err
	}
	return c, nil
}

// ListCoupons returns one page of coupons plus the total count for pagination
// metadata. page and pageSize are 1-based and already clamped by the caller.
func (s *CouponAdminService) ListCoupons(ctx context.Context, page, pageSize int) ([]domain.Coupon, int64, error) {
	total, err := repo.CountCoupons(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	items, err := repo.ListCouponsPage(ctx, s.DB, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListOrderApplications returns the ledger entries recorded for an order,
// oldest first. Returns ErrOrderNotFound when the order itself is unknown, so
// callers can distinguish "no coupons applied" from "no such order".
func (s *CouponAdminService) ListOrderApplications(ctx context.Context, orderID string) ([]domain.CouponApplication, error) {
	if _, err := repo.GetOrder(ctx, s.DB, orderID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return repo.ListApplicationsByOrder(ctx, s.DB, orderID)
}
