// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Order model.
//
// Orders are written by the webhook intake path when the payment gateway
// confirms a charge; the ledger scopes coupon applications to them.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-commerce-backend/internal/domain"
)

// UpsertOrder inserts the order row or, when it already exists (duplicate
// webhook delivery), refreshes the payment identity, amount, status, and
// customer fields. The upsert keeps the intake path idempotent without
// treating re-delivery as an error.
func UpsertOrder(ctx context.Context, db *gorm.DB, o *domain.Order) (*domain.Order, error) {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"payment_id", "amount", "status", "customer_email", "customer_name", "updated_at",
			}),
		}).
		Create(o).Error
	if err != nil {
		return nil, err
	}
	return o, nil
}

// GetOrder fetches a single order by its external identifier. If the record
// does not exist, it returns ErrNotFound. On other DB errors, the raw error
// is returned.
func GetOrder(ctx context.Context, db *gorm.DB, id string) (*domain.Order, error) {
	var o domain.Order
	err := db.WithContext(ctx).
		Where("id = ?", id).
		First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// UpdateOrderStatus transitions an order to the given status. If no rows are
// affected (order missing), it returns ErrNotFound. On DB error, the raw
// error is returned.
func UpdateOrderStatus(ctx context.Context, db *gorm.DB, id, status string) error {
	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
