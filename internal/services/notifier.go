// Package services – commission notification seam
//
// Sending the actual email is an external collaborator's job (the
// transactional email API lives behind the storefront). The ledger only needs
// a narrow interface to hand off the notification after a fresh affiliate
// application; failures here must never affect the apply result.
package services

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// CommissionNotice carries everything the downstream mailer needs to tell an
// affiliate about a newly credited commission.
type CommissionNotice struct {
	Email         string
	Name          string
	CouponCode    string
	AffiliateCode string
	Commission    decimal.Decimal
	OrderID       string
}

// CommissionNotifier is implemented by the component that delivers commission
// notifications. Implementations must be safe for concurrent use.
type CommissionNotifier interface {
	Notify(ctx context.Context, n CommissionNotice) error
}

// LogNotifier is the default CommissionNotifier: it records the notice in the
// structured log and succeeds. Deployments wire the real mailer in its place.
type LogNotifier struct {
	Log zerolog.Logger
}

// Notify implements CommissionNotifier.
func (l LogNotifier) Notify(_ context.Context, n CommissionNotice) error {
	l.Log.Info().
		Str("order_id", n.OrderID).
		Str("coupon_code", n.CouponCode).
		Str("affiliate_code", n.AffiliateCode).
		Str("commission", n.Commission.StringFixed(2)).
		Msg("affiliate commission notice")
	return nil
}
