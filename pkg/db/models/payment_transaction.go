package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/jmuthoni/samani-backend/pkg/enums"
	"github.com/jmuthoni/samani-backend/pkg/types"
)

// PaymentTransaction tracks one STK push attempt against an order. Callback
// reconciliation correlates on CheckoutRequestID or MerchantRequestID. The
// order reference is nullable: a failed payment deletes the order but the
// transaction row stays as the audit record, keyed to the buyer.
type PaymentTransaction struct {
	ID                uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID           *uuid.UUID              `gorm:"column:order_id;type:uuid;index"`
	BuyerID           uuid.UUID               `gorm:"column:buyer_id;type:uuid;not null;index"`
	PhoneNumber       string                  `gorm:"column:phone_number;not null"`
	AmountCents       int64                   `gorm:"column:amount_cents;not null"`
	Status            enums.TransactionStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	CheckoutRequestID *string                 `gorm:"column:checkout_request_id;uniqueIndex"`
	MerchantRequestID *string                 `gorm:"column:merchant_request_id;index"`
	MpesaReceipt      *string                 `gorm:"column:mpesa_receipt"`
	ResultCode        *int                    `gorm:"column:result_code"`
	ResultDesc        *string                 `gorm:"column:result_desc"`
	CallbackPayload   types.JSONMap           `gorm:"column:callback_payload;type:jsonb;serializer:json"`
	CompletedAt       *time.Time              `gorm:"column:completed_at"`
	CreatedAt         time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
