// Payment webhook handler.
//
// This file exposes the intake endpoint the payment gateway calls when a
// charge is captured:
//   - POST /webhooks/payment
//
// Signature verification happens upstream (reverse proxy / gateway SDK shim);
// by the time a request reaches this handler its payload is trusted. Gateways
// deliver at least once, so the handler never treats a repeat delivery as an
// error: the ledger answers replays idempotently and the response is 200
// either way. A 5xx is returned only for transient store failures, which
// tells the gateway to redeliver, which the guard key makes safe.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/tbourn/go-commerce-backend/internal/domain"
	"github.com/tbourn/go-commerce-backend/internal/http/middleware"
	"github.com/tbourn/go-commerce-backend/internal/services"
)

// PaymentWebhookRequest is the payment event payload. Status distinguishes a
// captured charge (empty or "paid") from a failed or reversed one ("failed").
type PaymentWebhookRequest struct {
	OrderID     string          `json:"order_id"    binding:"required" example:"order_1042"`
	PaymentID   string          `json:"payment_id"  binding:"required" example:"pay_NcXq9f2aZ"`
	Status      string          `json:"status"      binding:"omitempty,oneof=paid failed" example:"paid"`
	Amount      decimal.Decimal `json:"amount"      example:"1299.00"`
	Email       string          `json:"email"       example:"jane@example.com"`
	Name        string          `json:"name"        example:"Jane Doe"`
	CouponCode  string          `json:"coupon_code" example:"JOHN-REF"`
	IsAffiliate bool            `json:"is_affiliate" example:"true"`
}

// PaymentWebhookResponse acknowledges the event and reports what the ledger
// did with it.
type PaymentWebhookResponse struct {
	Received      bool                  `json:"received"`
	CouponApplied bool                  `json:"coupon_applied"`
	Idempotent    bool                  `json:"idempotent,omitempty"`
	Reason        string                `json:"reason,omitempty"`
	Result        *services.ApplyResult `json:"result,omitempty"`
}

// PaymentWebhook godoc
// @ID          paymentWebhook
// @Summary     Ingest a payment-captured event
// @Description Records the order as paid and applies the attached coupon exactly once per payment. Duplicate deliveries are acknowledged with 200.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
// @Param       body body handlers.PaymentWebhookRequest true "Payment-captured event"
// @Success     200 {object} handlers.PaymentWebhookResponse
// @Failure     400 {object} handlers.ErrorResponse "Malformed event"
// @Failure     503 {object} handlers.ErrorResponse "Store unavailable (gateway should redeliver)"
// @Router      /webhooks/payment [post]
func (h *Handlers) PaymentWebhook(c *gin.Context) {
	var req PaymentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "order_id and payment_id are required")
		return
	}

	// A redelivered event whose Idempotency-Key is already in the ledger was
	// fully processed the first time; acknowledge without touching the store.
	if middleware.IsReplay(c) {
		ok(c, http.StatusOK, PaymentWebhookResponse{
			Received:      true,
			CouponApplied: req.CouponCode != "",
			Idempotent:    true,
		})
		return
	}

	// Failed and reversed charges only flip the order status; coupon
	// counters are never touched for them.
	if req.Status == domain.OrderStatusFailed {
		if err := h.orderSvc.MarkPaymentFailed(c.Request.Context(), req.OrderID); err != nil {
			switch {
			case errors.Is(err, services.ErrOrderNotFound):
				// A failure event for an order this ledger never saw needs
				// no state; acknowledge so the gateway stops redelivering.
				ok(c, http.StatusOK, PaymentWebhookResponse{
					Received: true,
					Reason:   "order not recorded",
				})
			case errors.Is(err, services.ErrMissingReference):
				fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			default:
				fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "unable to record failed payment; redeliver")
			}
			return
		}
		ok(c, http.StatusOK, PaymentWebhookResponse{Received: true})
		return
	}

	if _, err := h.orderSvc.RecordPayment(c.Request.Context(), services.PaymentCapture{
		OrderID:       req.OrderID,
		PaymentID:     req.PaymentID,
		Amount:        req.Amount,
		CustomerEmail: req.Email,
		CustomerName:  req.Name,
	}); err != nil {
		switch {
		case errors.Is(err, services.ErrMissingReference), errors.Is(err, services.ErrInvalidAmount):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		default:
			fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "unable to record payment; redeliver")
		}
		return
	}

	resp := PaymentWebhookResponse{Received: true}

	// Orders without a coupon are done after the order upsert.
	if req.CouponCode == "" {
		ok(c, http.StatusOK, resp)
		return
	}

	res, err := h.applySvc.Apply(c.Request.Context(), services.ApplyInput{
		CouponCode:    req.CouponCode,
		OrderID:       req.OrderID,
		PaymentID:     req.PaymentID,
		Amount:        req.Amount,
		CustomerEmail: req.Email,
		IsAffiliate:   req.IsAffiliate,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrStoreUnavailable), errors.Is(err, services.ErrLedgerConflict):
			// Ask the gateway to redeliver; the guard key makes that safe.
			fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "temporarily unable to apply coupon; redeliver")
		default:
			// Terminal apply failures (unknown code, bad amount) must not
			// make the gateway retry forever: acknowledge and report.
			resp.Reason = err.Error()
			ok(c, http.StatusOK, resp)
		}
		return
	}

	resp.CouponApplied = true
	resp.Idempotent = res.Idempotent
	resp.Result = res
	h.notifyIfCommissioned(c, req.OrderID, req.CouponCode, req.Email, req.Name, res)
	ok(c, http.StatusOK, resp)
}
