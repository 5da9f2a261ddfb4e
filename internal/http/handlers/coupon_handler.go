// Coupon HTTP handlers.
//
// This file exposes the REST endpoints for the coupon ledger:
//   - POST /coupons/apply          (apply a coupon to a paid order; replay-safe)
//   - POST /coupons                (create a coupon)
//   - GET  /coupons                (list, paginated)
//   - GET  /coupons/{code}         (single coupon with counters)
//   - GET  /orders/{id}/applications (per-order ledger entries)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate domain/service errors into HTTP results. The apply endpoint is
// deliberately idempotent at the transport level: replaying a request that was
// already accounted for answers 200 with `idempotent: true`, never an error.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/go-commerce-backend/internal/domain"
	"github.com/tbourn/go-commerce-backend/internal/http/middleware"
	"github.com/tbourn/go-commerce-backend/internal/repo"
	"github.com/tbourn/go-commerce-backend/internal/services"
	"github.com/tbourn/go-commerce-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// CouponApplier is the idempotent apply operation consumed by HTTP handlers.
//
// Implementations must be safe for concurrent use and must honor the provided
// context for cancellation and timeouts.
type CouponApplier interface {
	// Apply credits one coupon application for a completed payment.
	Apply(ctx context.Context, in services.ApplyInput) (*services.ApplyResult, error)
}

// CouponAdmin defines the operator-facing coupon management operations.
type CouponAdmin interface {
	// CreateCoupon validates and persists a new coupon.
	CreateCoupon(ctx context.Context, in services.CreateCouponInput) (*domain.Coupon, error)
	// GetCoupon returns a coupon (with counters) by code.
	GetCoupon(ctx context.Context, code string) (*domain.Coupon, error)
	// ListCoupons returns a page of coupons and the total count.
	ListCoupons(ctx context.Context, page, pageSize int) ([]domain.Coupon, int64, error)
	// ListOrderApplications returns the ledger entries for an order.
	ListOrderApplications(ctx context.Context, orderID string) ([]domain.CouponApplication, error)
}

// OrderRecorder persists gateway-reported order state.
type OrderRecorder interface {
	// RecordPayment upserts the order as paid.
	RecordPayment(ctx context.Context, p services.PaymentCapture) (*domain.Order, error)
	// MarkPaymentFailed flips an order to the failed status.
	MarkPaymentFailed(ctx context.Context, orderID string) error
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for coupons, orders, and webhooks.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	applySvc CouponApplier
	adminSvc CouponAdmin
	orderSvc OrderRecorder
	notifier services.CommissionNotifier
}

// New constructs and returns a Handlers instance bound to the given services.
// notifier may be nil, in which case no commission notifications are emitted.
func New(applySvc CouponApplier, adminSvc CouponAdmin, orderSvc OrderRecorder, notifier services.CommissionNotifier) *Handlers {
	return &Handlers{applySvc: applySvc, adminSvc: adminSvc, orderSvc: orderSvc, notifier: notifier}
}

//
// DTOs
//

// ApplyCouponRequest is the JSON payload for applying a coupon to a paid order.
// PaymentID identifies the captured charge; retries with the same payment and
// coupon are answered idempotently.
type ApplyCouponRequest struct {
	CouponCode    string          `json:"coupon_code"    binding:"required" example:"SAVE20"`
	OrderID       string          `json:"order_id"       binding:"required" example:"order_1042"`
	PaymentID     string          `json:"payment_id"     binding:"required" example:"pay_NcXq9f2aZ"`
	Amount        decimal.Decimal `json:"amount"         example:"999"`
	CustomerEmail string          `json:"customer_email" example:"jane@example.com"`
	IsAffiliate   bool            `json:"is_affiliate"   example:"false"`
}

// CreateCouponRequest is the JSON payload for creating a coupon.
type CreateCouponRequest struct {
	Code          string          `json:"code"  binding:"required" example:"JOHN-REF"`
	Type          string          `json:"type"  binding:"required,oneof=percentage fixed" example:"percentage"`
	Value         decimal.Decimal `json:"value" example:"20"`
	IsAffiliate   bool            `json:"is_affiliate" example:"true"`
	AffiliateCode string          `json:"affiliate_code,omitempty" example:"JOHN"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
}

// CouponListResponse is the paged coupon listing envelope.
type CouponListResponse struct {
	Items      []domain.Coupon `json:"items"`
	Pagination Pagination      `json:"pagination"`
}

// ApplyCoupon godoc
// @ID          applyCoupon
// @Summary     Apply a coupon to a paid order
// @Description Credits the coupon's usage counter (and affiliate payout) exactly once per payment. Safe to retry: replays answer 200 with idempotent=true.
// @Tags        Coupons
// @Accept      json
// @Produce     json
// @Param       body body handlers.ApplyCouponRequest true "Application tuple"
// @Success     200 {object} services.ApplyResult
// @Failure     400 {object} handlers.ErrorResponse "Invalid payload or amount"
// @Failure     404 {object} handlers.ErrorResponse "Coupon not found"
// @Failure     503 {object} handlers.ErrorResponse "Store unavailable (retry with backoff)"
// @Router      /coupons/apply [post]
func (h *Handlers) ApplyCoupon(c *gin.Context) {
	var req ApplyCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "coupon_code, order_id and payment_id are required")
		return
	}

	// An Idempotency-Key already present in the ledger means this
	// application was accounted for; answer the replay without re-entering
	// the apply transaction.
	if middleware.IsReplay(c) {
		ok(c, http.StatusOK, &services.ApplyResult{
			Success:    true,
			Idempotent: true,
			Message:    "already applied",
		})
		return
	}

	res, err := h.applySvc.Apply(c.Request.Context(), services.ApplyInput{
		CouponCode:    req.CouponCode,
		OrderID:       req.OrderID,
		PaymentID:     req.PaymentID,
		Amount:        req.Amount,
		CustomerEmail: req.CustomerEmail,
		IsAffiliate:   req.IsAffiliate,
	})
	if err != nil {
		failApply(c, err)
		return
	}

	h.notifyIfCommissioned(c, req.OrderID, req.CouponCode, req.CustomerEmail, "", res)
	ok(c, http.StatusOK, res)
}

// CreateCoupon godoc
// @ID          createCoupon
// @Summary     Create a coupon
// @Tags        Coupons
// @Accept      json
// @Produce     json
// @Param       body body handlers.CreateCouponRequest true "Coupon definition"
// @Success     201 {object} domain.Coupon
// @Failure     400 {object} handlers.ErrorResponse "Invalid definition"
// @Failure     409 {object} handlers.ErrorResponse "Code already exists"
// @Router      /coupons [post]
func (h *Handlers) CreateCoupon(c *gin.Context) {
	var req CreateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "code and type are required; type must be percentage or fixed")
		return
	}

	coupon, err := h.adminSvc.CreateCoupon(c.Request.Context(), services.CreateCouponInput{
		Code:          req.Code,
		Type:          req.Type,
		Value:         req.Value,
		IsAffiliate:   req.IsAffiliate,
		AffiliateCode: req.AffiliateCode,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidCoupon):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid coupon definition")
		case errors.Is(err, services.ErrCouponExists):
			fail(c, http.StatusConflict, ErrCodeConflict, "coupon code already exists")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusCreated, coupon)
}

// GetCoupon godoc
// @ID          getCoupon
// @Summary     Fetch a coupon with its usage and payout counters
// @Tags        Coupons
// @Produce     json
// @Param       code path string true "Coupon code (any formatting variant)" example(SAVE20)
// @Success     200 {object} domain.Coupon
// @Failure     404 {object} handlers.ErrorResponse "Coupon not found"
// @Router      /coupons/{code} [get]
func (h *Handlers) GetCoupon(c *gin.Context) {
	coupon, err := h.adminSvc.GetCoupon(c.Request.Context(), c.Param("code"))
	if err != nil {
		if errors.Is(err, services.ErrCouponNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "coupon not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, coupon)
}

// ListCoupons godoc
// @ID          listCoupons
// @Summary     List coupons (paginated)
// @Tags        Coupons
// @Produce     json
// @Param       page      query int false "1-based page"   default(1)
// @Param       page_size query int false "items per page"  default(20)
// @Success     200 {object} handlers.CouponListResponse
// @Router      /coupons [get]
func (h *Handlers) ListCoupons(c *gin.Context) {
	page := utils.AtoiDefault(c.Query("page"), 1)
	pageSize := utils.AtoiDefault(c.Query("page_size"), 20)
	page, pageSize = utils.ClampPage(page, pageSize, 100)

	// Conditional GET: a weak ETag over (row count, newest update) lets
	// dashboards poll the listing cheaply.
	if db := h.adminDB(); db != nil {
		count, maxTS, err := repo.CouponsStats(c.Request.Context(), db)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"coupons:%d:%d:%d:%d"`, page, pageSize, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.adminSvc.ListCoupons(c.Request.Context(), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if items == nil {
		items = []domain.Coupon{}
	}
	ok(c, http.StatusOK, CouponListResponse{
		Items:      items,
		Pagination: Pagination{Page: page, PageSize: pageSize, TotalItems: total},
	})
}

// ListOrderApplications godoc
// @ID          listOrderApplications
// @Summary     List the coupon applications recorded for an order
// @Tags        Orders
// @Produce     json
// @Param       id path string true "Order ID" example(order_1042)
// @Success     200 {array}  domain.CouponApplication
// @Failure     404 {object} handlers.ErrorResponse "Order not found"
// @Router      /orders/{id}/applications [get]
func (h *Handlers) ListOrderApplications(c *gin.Context) {
	orderID := c.Param("id")

	// The ledger is append-only, so (entry count, newest applied_at) fully
	// versions an order's listing.
	if db := h.adminDB(); db != nil {
		count, lastTS, err := repo.ApplicationsStats(c.Request.Context(), db, orderID)
		if err == nil && count > 0 {
			var ts int64
			if lastTS != nil {
				ts = lastTS.Unix()
			}
			etag := fmt.Sprintf(`W/"applications:%s:%d:%d"`, orderID, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	entries, err := h.adminSvc.ListOrderApplications(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "order not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if entries == nil {
		entries = []domain.CouponApplication{}
	}
	ok(c, http.StatusOK, entries)
}

// failApply maps apply-path service errors to HTTP results. Retryable
// conditions answer 503 so gateways and clients back off and retry; the guard
// key makes the retry safe.
func failApply(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrCouponNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "coupon not found")
	case errors.Is(err, services.ErrInvalidAmount), errors.Is(err, services.ErrMissingReference):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrStoreUnavailable), errors.Is(err, services.ErrLedgerConflict):
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "temporarily unable to record application; retry with backoff")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeApplyFailed, err.Error())
	}
}

// adminDB exposes the admin service's database handle for conditional-GET
// stats. Stubbed services in tests yield nil and the ETag block is skipped.
func (h *Handlers) adminDB() *gorm.DB {
	if svc, ok := h.adminSvc.(*services.CouponAdminService); ok {
		return svc.DB
	}
	return nil
}

// notifyIfCommissioned hands a commission notice to the notifier after a
// fresh affiliate application. A notification failure is logged here and
// never alters the HTTP response; the commission itself is already in the
// ledger.
func (h *Handlers) notifyIfCommissioned(c *gin.Context, orderID, couponCode, email, name string, res *services.ApplyResult) {
	if h.notifier == nil || res == nil || res.Idempotent || res.Coupon == nil || !res.Coupon.IsAffiliate {
		return
	}
	if err := h.notifier.Notify(c.Request.Context(), services.CommissionNotice{
		Email:         email,
		Name:          name,
		CouponCode:    couponCode,
		AffiliateCode: res.Coupon.AffiliateCode,
		Commission:    res.Coupon.PayoutAmount,
		OrderID:       orderID,
	}); err != nil {
		middleware.LoggerFrom(c).Error().
			Err(err).
			Str("order_id", orderID).
			Str("coupon_code", couponCode).
			Msg("commission notification failed")
	}
}
