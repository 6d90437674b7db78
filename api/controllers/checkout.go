package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/jmuthoni/samani-backend/api/middleware"
	"github.com/jmuthoni/samani-backend/api/responses"
	"github.com/jmuthoni/samani-backend/api/validators"
	checkoutsvc "github.com/jmuthoni/samani-backend/internal/checkout"
	"github.com/jmuthoni/samani-backend/pkg/db/models"
	pkgerrors "github.com/jmuthoni/samani-backend/pkg/errors"
	"github.com/jmuthoni/samani-backend/pkg/logger"
	"github.com/jmuthoni/samani-backend/pkg/types"
)

// Checkout reserves stock, creates the order, and fires the payment prompt.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		actor := middleware.ActorFromContext(r.Context())
		if actor.UserID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]checkoutsvc.Item, 0, len(payload.Items))
		for _, line := range payload.Items {
			items = append(items, checkoutsvc.Item{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
			})
		}

		result, err := svc.Checkout(r.Context(), checkoutsvc.Input{
			BuyerID:       actor.UserID,
			PhoneNumber:   payload.PhoneNumber,
			PaymentMethod: payload.PaymentMethod,
			Items:         items,
			Shipping:      payload.Shipping.toShippingInfo(),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newCheckoutResponse(result))
	}
}

type checkoutRequest struct {
	PhoneNumber   string                `json:"phone_number" validate:"required"`
	PaymentMethod string                `json:"payment_method" validate:"omitempty"`
	Items         []checkoutItemRequest `json:"items" validate:"required,min=1,dive"`
	Shipping      shippingRequest       `json:"shipping" validate:"required"`
}

type checkoutItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,gt=0"`
}

type shippingRequest struct {
	RecipientName string  `json:"recipient_name" validate:"required"`
	PhoneNumber   string  `json:"phone_number" validate:"required"`
	AddressLine   string  `json:"address_line" validate:"required"`
	City          string  `json:"city" validate:"required"`
	County        *string `json:"county,omitempty"`
	Notes         *string `json:"notes,omitempty"`
}

func (s shippingRequest) toShippingInfo() types.ShippingInfo {
	return types.ShippingInfo{
		RecipientName: s.RecipientName,
		PhoneNumber:   s.PhoneNumber,
		AddressLine:   s.AddressLine,
		City:          s.City,
		County:        s.County,
		Notes:         s.Notes,
	}
}

type checkoutResponse struct {
	Order           orderResponse       `json:"order"`
	Transaction     transactionResponse `json:"transaction"`
	CustomerMessage string              `json:"customer_message"`
}

func newCheckoutResponse(result *checkoutsvc.Result) checkoutResponse {
	if result == nil {
		return checkoutResponse{}
	}
	return checkoutResponse{
		Order:           newOrderResponse(result.Order),
		Transaction:     newTransactionResponse(result.Transaction),
		CustomerMessage: result.CustomerMessage,
	}
}

type orderResponse struct {
	OrderID       uuid.UUID           `json:"order_id"`
	OrderNumber   string              `json:"order_number"`
	Status        string              `json:"status"`
	PaymentStatus string              `json:"payment_status"`
	Currency      string              `json:"currency"`
	SubtotalCents int64               `json:"subtotal_cents"`
	ShippingCents int64               `json:"shipping_cents"`
	TotalCents    int64               `json:"total_cents"`
	Shipping      types.ShippingInfo  `json:"shipping"`
	Items         []orderItemResponse `json:"items"`
	PaidAt        *string             `json:"paid_at,omitempty"`
	CancelledAt   *string             `json:"cancelled_at,omitempty"`
	CreatedAt     string              `json:"created_at"`
}

type orderItemResponse struct {
	ProductID      uuid.UUID `json:"product_id"`
	ProductName    string    `json:"product_name"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	Quantity       int       `json:"quantity"`
	LineTotalCents int64     `json:"line_total_cents"`
}

func newOrderResponse(order *models.Order) orderResponse {
	if order == nil {
		return orderResponse{}
	}
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			UnitPriceCents: item.UnitPriceCents,
			Quantity:       item.Quantity,
			LineTotalCents: item.LineTotalCents,
		})
	}
	return orderResponse{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Currency:      order.Currency,
		SubtotalCents: order.SubtotalCents,
		ShippingCents: order.ShippingCents,
		TotalCents:    order.TotalCents,
		Shipping:      order.Shipping,
		Items:         items,
		PaidAt:        formatTimePtr(order.PaidAt),
		CancelledAt:   formatTimePtr(order.CancelledAt),
		CreatedAt:     formatTime(order.CreatedAt),
	}
}

type transactionResponse struct {
	TransactionID     uuid.UUID  `json:"transaction_id"`
	OrderID           *uuid.UUID `json:"order_id,omitempty"`
	PhoneNumber       string     `json:"phone_number"`
	AmountCents       int64      `json:"amount_cents"`
	Status            string     `json:"status"`
	CheckoutRequestID *string    `json:"checkout_request_id,omitempty"`
	MpesaReceipt      *string    `json:"mpesa_receipt,omitempty"`
	ResultDesc        *string    `json:"result_desc,omitempty"`
	CompletedAt       *string    `json:"completed_at,omitempty"`
	CreatedAt         string     `json:"created_at"`
}

func newTransactionResponse(transaction *models.PaymentTransaction) transactionResponse {
	if transaction == nil {
		return transactionResponse{}
	}
	return transactionResponse{
		TransactionID:     transaction.ID,
		OrderID:           transaction.OrderID,
		PhoneNumber:       transaction.PhoneNumber,
		AmountCents:       transaction.AmountCents,
		Status:            string(transaction.Status),
		CheckoutRequestID: transaction.CheckoutRequestID,
		MpesaReceipt:      transaction.MpesaReceipt,
		ResultDesc:        transaction.ResultDesc,
		CompletedAt:       formatTimePtr(transaction.CompletedAt),
		CreatedAt:         formatTime(transaction.CreatedAt),
	}
}
