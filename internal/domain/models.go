// Package domain defines the persistence models for coupons, orders, and
// coupon applications. These types are mapped with GORM and form the core
// data layer of the commerce backend.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Coupon discount semantics. The discount itself is computed at checkout by
// the storefront; this service only stores the parameters and maintains the
// usage / payout counters.
const (
	CouponTypePercentage = "percentage"
	CouponTypeFixed      = "fixed"
)

// Coupon represents a named discount or referral code. Every successful order
// that carries the code increments UsageCount; affiliate coupons additionally
// accrue a monetary commission in PayoutUsage.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Code: canonical coupon code (see codes.Normalize); unique.
//   - Type: "percentage" or "fixed" (enforced by DB constraint).
//   - Value: discount parameter (percent or fixed amount, per Type).
//   - UsageCount: number of orders that have applied this coupon.
//   - PayoutUsage: cumulative affiliate commission attributed to this code.
//   - IsActive: inactive coupons are invisible to lookups.
//   - IsAffiliateCoupon / AffiliateCode: referral-program linkage.
//
// UsageCount and PayoutUsage only ever increase, and only through
// services.CouponService; nothing else may write them.
type Coupon struct {
	ID                string          `json:"id"              gorm:"type:char(36);primaryKey"`
	Code              string          `json:"code"            gorm:"type:varchar(64);not null;uniqueIndex:ux_coupon_code"`
	Type              string          `json:"type"            gorm:"type:varchar(16);not null;check:type IN ('percentage','fixed')"`
	Value             decimal.Decimal `json:"value"           gorm:"type:decimal(10,2);not null;default:0"`
	UsageCount        int64           `json:"usage_count"     gorm:"not null;default:0"`
	PayoutUsage       decimal.Decimal `json:"payout_usage"    gorm:"type:decimal(20,2);not null;default:0"`
	IsActive          bool            `json:"is_active"       gorm:"not null;default:true"`
	IsAffiliateCoupon bool            `json:"is_affiliate_coupon" gorm:"not null;default:false"`
	AffiliateCode     *string         `json:"affiliate_code,omitempty" gorm:"type:varchar(64);index"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	DeletedAt         gorm.DeletedAt  `json:"-"               gorm:"index"`
}

// TableName returns the database table name for Coupon.
func (Coupon) TableName() string { return "coupons" }

// Order lifecycle statuses tracked by this service.
const (
	OrderStatusCreated = "created"
	OrderStatusPaid    = "paid"
	OrderStatusFailed  = "failed"
)

// Order represents an order as seen by the ledger: enough context to scope
// coupon applications and to notify affiliates. The authoritative order record
// (items, shipping, invoicing) lives in the storefront; this table carries the
// payment identity and the amount at the time the gateway confirmed the charge.
//
// Fields:
//   - ID: external order identifier (storefront-issued), primary key.
//   - PaymentID: gateway payment identifier; indexed for webhook replays.
//   - Amount: charged order total.
//   - Status: "created", "paid", or "failed".
//   - CustomerEmail / CustomerName: used for commission notifications.
type Order struct {
	ID            string          `json:"id"             gorm:"type:varchar(64);primaryKey"`
	PaymentID     string          `json:"payment_id"     gorm:"type:varchar(64);not null;index:idx_order_payment"`
	Amount        decimal.Decimal `json:"amount"         gorm:"type:decimal(20,2);not null;default:0"`
	Status        string          `json:"status"         gorm:"type:varchar(16);not null;default:'created';check:status IN ('created','paid','failed')"`
	CustomerEmail string          `json:"customer_email" gorm:"type:varchar(255)"`
	CustomerName  string          `json:"customer_name"  gorm:"type:varchar(255)"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TableName returns the database table name for Order.
func (Order) TableName() string { return "orders" }
