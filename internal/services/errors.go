// Package services defines the business logic for coupon application, the
// affiliate commission ledger, and coupon administration. This file
// centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

// Terminal errors: retrying the same call cannot succeed.
var (
	// ErrCouponNotFound indicates that the coupon code does not resolve to an
	// active coupon record.
	ErrCouponNotFound = errors.New("coupon not found")

	// ErrOrderNotFound indicates that the referenced order does not exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrCouponExists is returned when creating a coupon whose canonical code
	// is already taken.
	ErrCouponExists = errors.New("coupon code already exists")

	// ErrInvalidCoupon is returned when a coupon definition fails validation
	// (unknown type, negative value, empty code).
	ErrInvalidCoupon = errors.New("invalid coupon definition")

	// ErrInvalidAmount is returned when an order amount is negative. Amounts
	// are validated before any commission math or ledger write happens.
	ErrInvalidAmount = errors.New("order amount must not be negative")

	// ErrMissingReference is returned when the order or payment identifier is
	// empty; without both, no guard key can be derived.
	ErrMissingReference = errors.New("order and payment identifiers are required")
)

// Retryable errors: the idempotency ledger makes it safe for callers to retry
// with backoff.
var (
	// ErrStoreUnavailable wraps transient persistence failures (connection
	// loss, SQLITE_BUSY, lock timeouts).
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrLedgerConflict indicates a lost write race that was not a clean
	// duplicate (e.g. a serialization failure). The caller should re-check
	// ledger state rather than blindly retrying the increment.
	ErrLedgerConflict = errors.New("ledger write conflict")
)
