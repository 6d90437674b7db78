package payments

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jmuthoni/samani-backend/pkg/db/models"
	"github.com/jmuthoni/samani-backend/pkg/enums"
	"github.com/jmuthoni/samani-backend/pkg/types"
)

// ErrAlreadyFinal is returned by MarkSuccess/MarkFailed when the row was no
// longer pending at write time. Concurrent deliveries race to this guard; the
// loser must treat the delivery as a duplicate, not an error.
var ErrAlreadyFinal = errors.New("transaction already finalized")

// Repository persists payment transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, transaction *models.PaymentTransaction) (*models.PaymentTransaction, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error)
	FindByCorrelation(ctx context.Context, checkoutRequestID, merchantRequestID string) (*models.PaymentTransaction, error)
	SetCorrelation(ctx context.Context, id uuid.UUID, checkoutRequestID, merchantRequestID string) error
	MarkSuccess(ctx context.Context, id uuid.UUID, receipt string, resultCode *int, resultDesc string, payload types.JSONMap, completedAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, resultCode *int, resultDesc string, payload types.JSONMap, completedAt time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentTransaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payments repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, transaction *models.PaymentTransaction) (*models.PaymentTransaction, error) {
	if err := r.db.WithContext(ctx).Create(transaction).Error; err != nil {
		return nil, err
	}
	return transaction, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	var transaction models.PaymentTransaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&transaction).Error
	if err != nil {
		return nil, err
	}
	return &transaction, nil
}

// FindByCorrelation matches either Daraja correlation id. Some sandbox
// callbacks only echo the merchant request id reliably.
func (r *repository) FindByCorrelation(ctx context.Context, checkoutRequestID, merchantRequestID string) (*models.PaymentTransaction, error) {
	var transaction models.PaymentTransaction
	query := r.db.WithContext(ctx)
	switch {
	case checkoutRequestID != "" && merchantRequestID != "":
		query = query.Where("checkout_request_id = ? OR merchant_request_id = ?", checkoutRequestID, merchantRequestID)
	case checkoutRequestID != "":
		query = query.Where("checkout_request_id = ?", checkoutRequestID)
	case merchantRequestID != "":
		query = query.Where("merchant_request_id = ?", merchantRequestID)
	default:
		return nil, gorm.ErrRecordNotFound
	}
	if err := query.First(&transaction).Error; err != nil {
		return nil, err
	}
	return &transaction, nil
}

func (r *repository) SetCorrelation(ctx context.Context, id uuid.UUID, checkoutRequestID, merchantRequestID string) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"checkout_request_id": checkoutRequestID,
			"merchant_request_id": merchantRequestID,
		}).Error
}

func (r *repository) MarkSuccess(ctx context.Context, id uuid.UUID, receipt string, resultCode *int, resultDesc string, payload types.JSONMap, completedAt time.Time) error {
	updates := map[string]any{
		"status":        enums.TransactionStatusSuccess,
		"mpesa_receipt": receipt,
		"result_code":   resultCode,
		"result_desc":   resultDesc,
		"completed_at":  completedAt,
	}
	if encoded, err := encodePayload(payload); err == nil && encoded != "" {
		updates["callback_payload"] = encoded
	}
	return r.finalize(ctx, id, updates)
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, resultCode *int, resultDesc string, payload types.JSONMap, completedAt time.Time) error {
	updates := map[string]any{
		"status":       enums.TransactionStatusFailed,
		"result_code":  resultCode,
		"result_desc":  resultDesc,
		"completed_at": completedAt,
	}
	if encoded, err := encodePayload(payload); err == nil && encoded != "" {
		updates["callback_payload"] = encoded
	}
	return r.finalize(ctx, id, updates)
}

// finalize flips the status conditionally so that only one writer ever moves a
// transaction out of pending, regardless of delivery interleaving.
func (r *repository) finalize(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id = ? AND status = ?", id, enums.TransactionStatusPending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyFinal
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.PaymentTransaction{}).Error
}

// encodePayload serializes callback metadata for the jsonb column. Map updates
// bypass GORM's field serializer, so the repo encodes by hand.
func encodePayload(payload types.JSONMap) (string, error) {
	if len(payload) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (r *repository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.TransactionStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
