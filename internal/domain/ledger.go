package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CouponApplication is the idempotency ledger entry for a single successful
// coupon application, keyed by (order_id, guard_key). The guard key is a
// deterministic hash of the gateway payment ID and the canonical coupon code
// (see codes.GuardKey), so retried deliveries of the same payment always map
// to the same row.
//
// The mere existence of a row prevents a duplicate counter increment: the
// composite unique index arbitrates concurrent writers, and the losing insert
// surfaces as a duplicate-key error. Rows are created exactly once and are
// never mutated or deleted afterwards.
type CouponApplication struct {
	ID            string          `json:"id"             gorm:"type:char(36);primaryKey"`
	OrderID       string          `json:"order_id"       gorm:"type:varchar(64);not null;index;uniqueIndex:ux_application_order_guard,priority:1"`
	GuardKey      string          `json:"guard_key"      gorm:"type:char(40);not null;uniqueIndex:ux_application_order_guard,priority:2"`
	CouponCode    string          `json:"coupon_code"    gorm:"type:varchar(64);not null;index"`
	AffiliateCode *string         `json:"affiliate_code,omitempty" gorm:"type:varchar(64)"`
	Amount        decimal.Decimal `json:"amount"         gorm:"type:decimal(20,2);not null;default:0"`
	Commission    decimal.Decimal `json:"commission"     gorm:"type:decimal(20,2);not null;default:0"`
	AppliedAt     time.Time       `json:"applied_at"     gorm:"type:DATETIME;not null"`
}

// TableName implements the GORM tabler interface.
func (CouponApplication) TableName() string { return "coupon_applications" }
