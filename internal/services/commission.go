// Package services – CommissionCalculator
//
// This file implements the affiliate commission computation. It is pure
// arithmetic: no I/O, no errors. Validation of the order amount happens in
// the CouponService before this is invoked.
package services

import "github.com/shopspring/decimal"

// DefaultCommissionRate is the fraction of the order amount credited to an
// affiliate per application (10%).
var DefaultCommissionRate = decimal.NewFromFloat(0.10)

// currencyPrecision is the number of decimal places of the store currency.
const currencyPrecision = 2

// CommissionCalculator derives the monetary amount added to a coupon's payout
// accumulator for one application. The zero value is not useful; construct it
// with NewCommissionCalculator so the rate is always set.
type CommissionCalculator struct {
	rate decimal.Decimal
}

// NewCommissionCalculator returns a calculator using the given rate. Rates
// outside (0, 1] fall back to DefaultCommissionRate.
func NewCommissionCalculator(rate decimal.Decimal) CommissionCalculator {
	if rate.LessThanOrEqual(decimal.Zero) || rate.GreaterThan(decimal.NewFromInt(1)) {
		rate = DefaultCommissionRate
	}
	return CommissionCalculator{rate: rate}
}

// Rate returns the configured commission rate.
func (c CommissionCalculator) Rate() decimal.Decimal { return c.rate }

// Commission returns the amount to credit for a single coupon application:
// zero for non-affiliate coupons, orderAmount * rate rounded half-up to the
// store's currency precision for affiliate coupons. The rounding happens here,
// before the ledger write, so the recorded commission and the accumulator
// delta always agree.
func (c CommissionCalculator) Commission(isAffiliate bool, orderAmount decimal.Decimal) decimal.Decimal {
	if !isAffiliate {
		return decimal.Zero
	}
	return orderAmount.Mul(c.rate).Round(currencyPrecision)
}
