// Package services – ledger metrics
//
// Prometheus instrumentation for the coupon application path. Outcome labels
// are a small fixed set to keep cardinality bounded:
//
//   - applied:  fresh application, counters incremented
//   - replayed: idempotent no-op (guard key already claimed)
//   - rejected: terminal caller error (unknown coupon)
//   - failed:   infrastructure failure (retryable by the caller)
package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

const (
	outcomeApplied  = "applied"
	outcomeReplayed = "replayed"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)

var (
	// applyOutcomes counts Apply calls by outcome.
	applyOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupon_applications_total",
			Help: "Total coupon application attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// commissionCredited accumulates affiliate commission credited to payout
	// counters, in currency units.
	commissionCredited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "affiliate_commission_credited_total",
			Help: "Cumulative affiliate commission credited, in currency units.",
		},
	)
)

func init() {
	prometheus.MustRegister(applyOutcomes, commissionCredited)
}

func recordApplyOutcome(outcome string) {
	applyOutcomes.WithLabelValues(outcome).Inc()
}

func recordCommission(amount decimal.Decimal) {
	f, _ := amount.Float64()
	if f > 0 {
		commissionCredited.Add(f)
	}
}
