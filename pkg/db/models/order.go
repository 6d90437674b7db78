package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/jmuthoni/samani-backend/pkg/enums"
	"github.com/jmuthoni/samani-backend/pkg/types"
)

// Order is the buyer-facing record produced at checkout. Money is stored in
// integer cents; the gateway is charged whole KES derived from TotalCents.
type Order struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber   string              `gorm:"column:order_number;not null;uniqueIndex"`
	BuyerID       uuid.UUID           `gorm:"column:buyer_id;type:uuid;not null;index"`
	Status        enums.OrderStatus   `gorm:"column:status;type:text;not null;default:'pending'"`
	PaymentStatus enums.PaymentStatus `gorm:"column:payment_status;type:text;not null;default:'pending'"`
	PaymentMethod enums.PaymentMethod `gorm:"column:payment_method;type:text;not null;default:'mpesa'"`
	Currency      string              `gorm:"column:currency;not null;default:'KES'"`
	SubtotalCents int64               `gorm:"column:subtotal_cents;not null"`
	ShippingCents int64               `gorm:"column:shipping_cents;not null;default:0"`
	TotalCents    int64               `gorm:"column:total_cents;not null"`
	Shipping      types.ShippingInfo  `gorm:"column:shipping;type:jsonb;serializer:json"`
	Items         []OrderItem         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	PaidAt        *time.Time          `gorm:"column:paid_at"`
	CancelledAt   *time.Time          `gorm:"column:cancelled_at"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
