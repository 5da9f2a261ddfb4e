// Package services – CouponService
//
// This file implements the coupon application orchestrator: the single entry
// point through which a completed payment credits a coupon's usage counter
// and, for affiliate coupons, its payout accumulator. The triggering call may
// arrive any number of times (gateway webhooks retry with at-least-once
// delivery, success pages re-poll, operators replay manually, and all of those
// can race), so Apply must produce exactly one increment per unique
// (order, payment, coupon) combination.
//
// Concurrency & atomicity:
//   - The ledger insert and the counter increment run inside one database
//     transaction. The ledger's unique index on (order_id, guard_key)
//     arbitrates concurrent writers: the loser's insert fails with a
//     duplicate-key error, the whole transaction rolls back with nothing
//     written, and the caller receives an idempotent success. A ledger row
//     without its counter increment can therefore never persist.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/go-commerce-backend/internal/codes"
	"github.com/tbourn/go-commerce-backend/internal/domain"
	"github.com/tbourn/go-commerce-backend/internal/repo"
)

// errAlreadyApplied aborts the apply transaction when the ledger reports a
// duplicate; it never escapes Apply.
var errAlreadyApplied = errors.New("already applied")

// ApplyInput is the validated tuple handed to Apply by the order-confirmation
// path (webhook handler, success-page trigger, or admin replay tool).
type ApplyInput struct {
	CouponCode    string
	OrderID       string
	PaymentID     string
	Amount        decimal.Decimal
	CustomerEmail string
	IsAffiliate   bool
}

// AppliedCoupon carries the coupon-side outcome of a fresh (non-idempotent)
// application, consumed by the caller to trigger the commission notification.
type AppliedCoupon struct {
	IsAffiliate   bool            `json:"is_affiliate"`
	AffiliateCode string          `json:"affiliate_code,omitempty"`
	PayoutAmount  decimal.Decimal `json:"payout_amount"`
}

// ApplyResult is the outcome of one Apply call. Idempotent is true when the
// (payment, coupon) pair had already been accounted for; in that case no
// counter was mutated and Coupon is nil.
type ApplyResult struct {
	Success    bool           `json:"success"`
	Idempotent bool           `json:"idempotent"`
	Message    string         `json:"message"`
	Coupon     *AppliedCoupon `json:"coupon,omitempty"`
}

// CouponService implements the idempotent "apply coupon to order" use-case.
// It is the sole writer of coupon counters and ledger entries; admin and
// reporting surfaces read them but never write.
//
// The service is context-aware and safe for concurrent use; each Apply call
// opens its own transaction.
type CouponService struct {
	// DB is the database handle used for all apply operations.
	DB *gorm.DB

	// Calc computes the affiliate commission. Construct with
	// NewCommissionCalculator; the zero value credits nothing.
	Calc CommissionCalculator

	// Now is the clock used for ledger timestamps; defaults to time.Now.
	Now func() time.Time
}

// Apply credits one coupon application for the given completed payment.
//
// Semantics:
//   - The coupon code is canonicalized (codes.Normalize) before lookup and
//     guard-key hashing; client formatting never splits a coupon's counters.
//   - A missing or inactive coupon yields ErrCouponNotFound; nothing is
//     written.
//   - A negative amount yields ErrInvalidAmount; empty order/payment
//     identifiers yield ErrMissingReference.
//   - The commission is computed before the ledger write so the recorded
//     commission and the counter delta agree.
//   - The first caller for a (order, payment, coupon) combination wins:
//     ledger row inserted, usage_count += 1, payout_usage += commission, all
//     in one transaction. Every later (or concurrently losing) caller gets
//     {Success: true, Idempotent: true} and mutates nothing.
//
// Errors:
//   - Terminal: ErrCouponNotFound, ErrInvalidAmount, ErrMissingReference.
//   - Retryable: ErrStoreUnavailable, ErrLedgerConflict. Retrying is safe;
//     the guard key guarantees the increment cannot be double-applied.
func (s *CouponService) Apply(ctx context.Context, in ApplyInput) (*ApplyResult, error) {
	if strings.TrimSpace(in.OrderID) == "" || strings.TrimSpace(in.PaymentID) == "" {
		return nil, ErrMissingReference
	}
	if in.Amount.IsNegative() {
		return nil, ErrInvalidAmount
	}

	code := codes.Normalize(in.CouponCode)
	if code == "" {
		return nil, ErrCouponNotFound
	}
	guardKey := codes.GuardKey(in.PaymentID, code)

	var applied AppliedCoupon
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1) Resolve the coupon inside the transaction so the increment
		//    targets the row we validated.
		coupon, err := repo.FindCouponByCode(ctx, tx, code)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCouponNotFound
			}
			return err
		}

		// 2) Commission is fixed before the ledger write.
		commission := s.Calc.Commission(in.IsAffiliate && coupon.IsAffiliateCoupon, in.Amount)

		// 3) Claim the guard key. Exactly one writer per (order, guard_key)
		//    gets past this line.
		entry := &domain.CouponApplication{
			OrderID:       in.OrderID,
			GuardKey:      guardKey,
			CouponCode:    code,
			AffiliateCode: coupon.AffiliateCode,
			Amount:        in.Amount,
			Commission:    commission,
			AppliedAt:     s.now(),
		}
		if _, err := repo.CreateApplication(ctx, tx, entry); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return errAlreadyApplied
			}
			return err
		}

		// 4) Same transaction: the increment commits with the ledger row or
		//    not at all.
		if err := repo.IncrementCouponCounters(ctx, tx, coupon.ID, 1, commission); err != nil {
			return err
		}

		applied = AppliedCoupon{
			IsAffiliate:  in.IsAffiliate && coupon.IsAffiliateCoupon,
			PayoutAmount: commission,
		}
		if coupon.AffiliateCode != nil {
			applied.AffiliateCode = *coupon.AffiliateCode
		}
		return nil
	})

	switch {
	case err == nil:
		recordApplyOutcome(outcomeApplied)
		if applied.IsAffiliate {
			recordCommission(applied.PayoutAmount)
		}
		return &ApplyResult{
			Success: true,
			Message: "coupon applied",
			Coupon:  &applied,
		}, nil
	case errors.Is(err, errAlreadyApplied):
		recordApplyOutcome(outcomeReplayed)
		return &ApplyResult{
			Success:    true,
			Idempotent: true,
			Message:    "already applied",
		}, nil
	case errors.Is(err, ErrCouponNotFound):
		recordApplyOutcome(outcomeRejected)
		return nil, err
	default:
		recordApplyOutcome(outcomeFailed)
		return nil, classifyStoreError(err)
	}
}

// now returns the service clock, defaulting to the wall clock in UTC.
func (s *CouponService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// classifyStoreError maps low-level persistence failures onto the service
// taxonomy so callers can tell retryable conditions from terminal ones.
// Unknown errors pass through unchanged.
func classifyStoreError(err error) error {
	low := strings.ToLower(err.Error())
	switch {
	case strings.Contains(low, "database is locked"),
		strings.Contains(low, "database table is locked"),
		strings.Contains(low, "busy"),
		strings.Contains(low, "connection"),
		strings.Contains(low, "i/o"),
		strings.Contains(low, "timeout"):
		return errors.Join(ErrStoreUnavailable, err)
	case strings.Contains(low, "serialization"),
		strings.Contains(low, "could not serialize"),
		strings.Contains(low, "conflict"):
		return errors.Join(ErrLedgerConflict, err)
	default:
		return err
	}
}
