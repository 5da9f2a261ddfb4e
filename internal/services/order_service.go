// Package services – OrderService
//
// Records the order context the payment gateway reports when a charge is
// captured. The ledger does not own orders; it keeps just enough of them to
// scope coupon applications and address commission notifications.
package services

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/go-commerce-backend/internal/domain"
	"github.com/tbourn/go-commerce-backend/internal/repo"
)

// PaymentCapture is the order context extracted from a verified
// payment-captured event.
type PaymentCapture struct {
	OrderID       string
	PaymentID     string
	Amount        decimal.Decimal
	CustomerEmail string
	CustomerName  string
}

// OrderService persists gateway-reported order state.
// It is context-aware and safe for concurrent use.
type OrderService struct {
	// DB is the database handle used for all order operations.
	DB *gorm.DB
}

// RecordPayment upserts the order as paid. Duplicate webhook deliveries
// re-apply the same values, which keeps the intake path idempotent.
//
// Errors:
//   - ErrMissingReference when the order or payment identifier is empty.
//   - ErrInvalidAmount when the amount is negative.
//   - The underlying DB error for unexpected failures.
func (s *OrderService) RecordPayment(ctx context.Context, p PaymentCapture) (*domain.Order, error) {
	if strings.TrimSpace(p.OrderID) == "" || strings.TrimSpace(p.PaymentID) == "" {
		return nil, ErrMissingReference
	}
	if p.Amount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	return repo.UpsertOrder(ctx, s.DB, &domain.Order{
		ID:            p.OrderID,
		PaymentID:     p.PaymentID,
		Amount:        p.Amount,
		Status:        domain.OrderStatusPaid,
		CustomerEmail: p.CustomerEmail,
		CustomerName:  p.CustomerName,
	})
}

// MarkPaymentFailed transitions an order to the failed status after the
// gateway reports a failed or reversed charge. Failed payments never touch
// coupon counters, so this is a plain status update.
//
// Errors:
//   - ErrMissingReference when the order identifier is empty.
//   - ErrOrderNotFound when no such order was ever recorded.
//   - The underlying DB error for unexpected failures.
func (s *OrderService) MarkPaymentFailed(ctx context.Context, orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return ErrMissingReference
	}
	if err := repo.UpdateOrderStatus(ctx, s.DB, orderID, domain.OrderStatusFailed); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOrderNotFound
		}
		return err
	}
	return nil
}
