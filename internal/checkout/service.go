package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/jmuthoni/samani-backend/internal/inventory"
	"github.com/jmuthoni/samani-backend/internal/orders"
	"github.com/jmuthoni/samani-backend/internal/payments"
	"github.com/jmuthoni/samani-backend/internal/products"
	"github.com/jmuthoni/samani-backend/pkg/db"
	"github.com/jmuthoni/samani-backend/pkg/db/models"
	"github.com/jmuthoni/samani-backend/pkg/enums"
	pkgerrors "github.com/jmuthoni/samani-backend/pkg/errors"
	"github.com/jmuthoni/samani-backend/pkg/logger"
	"github.com/jmuthoni/samani-backend/pkg/mpesa"
	"github.com/jmuthoni/samani-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

const orderNumberRetries = 2

// Item is one requested purchase line.
type Item struct {
	ProductID uuid.UUID
	Quantity  int
}

// Input carries everything needed to start a purchase. PaymentMethod may be
// empty, which means mpesa; any other value is rejected.
type Input struct {
	BuyerID       uuid.UUID
	PhoneNumber   string
	PaymentMethod string
	Items         []Item
	Shipping      types.ShippingInfo
}

// Result is returned to the buyer app after the prompt is sent (or, in test
// mode, after the synchronous settlement).
type Result struct {
	Order           *models.Order
	Transaction     *models.PaymentTransaction
	CustomerMessage string
}

// Config captures the policy knobs checkout needs.
type Config struct {
	ShippingRate decimal.Decimal
	TestMode     bool
}

// Service orchestrates reservation, order creation, and payment initiation.
type Service interface {
	Checkout(ctx context.Context, input Input) (*Result, error)
}

type service struct {
	products   products.Repository
	orders     orders.Repository
	payments   payments.Repository
	reconciler payments.Service
	inventory  inventory.Service
	gateway    mpesa.Gateway
	tx         txRunner
	logg       *logger.Logger
	cfg        Config
}

// NewService builds the checkout orchestrator with the required dependencies.
func NewService(
	productsRepo products.Repository,
	ordersRepo orders.Repository,
	paymentsRepo payments.Repository,
	reconciler payments.Service,
	inv inventory.Service,
	gateway mpesa.Gateway,
	tx txRunner,
	logg *logger.Logger,
	cfg Config,
) (Service, error) {
	if productsRepo == nil {
		return nil, fmt.Errorf("products repository required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if paymentsRepo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if reconciler == nil {
		return nil, fmt.Errorf("payments reconciler required")
	}
	if inv == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if gateway == nil && !cfg.TestMode {
		return nil, fmt.Errorf("payment gateway required outside test mode")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		products:   productsRepo,
		orders:     ordersRepo,
		payments:   paymentsRepo,
		reconciler: reconciler,
		inventory:  inv,
		gateway:    gateway,
		tx:         tx,
		logg:       logg,
		cfg:        cfg,
	}, nil
}

func (s *service) Checkout(ctx context.Context, input Input) (*Result, error) {
	if input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	for _, item := range input.Items {
		if item.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required on every item")
		}
		if item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item quantity must be positive")
		}
	}

	method := enums.PaymentMethodMpesa
	if input.PaymentMethod != "" {
		parsed, err := enums.ParsePaymentMethod(input.PaymentMethod)
		if err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported payment method %q", input.PaymentMethod))
		}
		method = parsed
	}

	phone, err := mpesa.NormalizePhone(input.PhoneNumber)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid phone number")
	}

	var (
		order       *models.Order
		transaction *models.PaymentTransaction
	)

	// Reservation, order, and transaction commit or roll back together. A
	// mid-list stock failure aborts the whole attempt with nothing decremented.
	attempt := func(tx *gorm.DB) error {
		productsRepo := s.products.WithTx(tx)
		ordersRepo := s.orders.WithTx(tx)
		paymentsRepo := s.payments.WithTx(tx)

		var subtotal int64
		items := make([]models.OrderItem, 0, len(input.Items))
		for _, line := range input.Items {
			product, err := productsRepo.FindActiveByID(ctx, line.ProductID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %s not found", line.ProductID))
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
			}

			if err := s.inventory.Reserve(ctx, tx, product.ID, line.Quantity); err != nil {
				return err
			}

			items = append(items, models.OrderItem{
				ID:             uuid.New(),
				ProductID:      product.ID,
				ProductName:    product.Name,
				UnitPriceCents: product.PriceCents,
				Quantity:       line.Quantity,
				LineTotalCents: product.PriceCents * int64(line.Quantity),
			})
			subtotal += product.PriceCents * int64(line.Quantity)
		}

		shipping := shippingCents(subtotal, s.cfg.ShippingRate)
		total := subtotal + shipping

		order = &models.Order{
			ID:            uuid.New(),
			OrderNumber:   orders.NewOrderNumber(),
			BuyerID:       input.BuyerID,
			Status:        enums.OrderStatusPending,
			PaymentStatus: enums.PaymentStatusPending,
			PaymentMethod: method,
			Currency:      "KES",
			SubtotalCents: subtotal,
			ShippingCents: shipping,
			TotalCents:    total,
			Shipping:      input.Shipping,
		}
		if _, err := ordersRepo.Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		for i := range items {
			items[i].OrderID = order.ID
		}
		if err := ordersRepo.CreateItems(ctx, items); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order items")
		}
		order.Items = items

		transaction = &models.PaymentTransaction{
			ID:          uuid.New(),
			OrderID:     &order.ID,
			BuyerID:     input.BuyerID,
			PhoneNumber: phone,
			AmountCents: total,
			Status:      enums.TransactionStatusPending,
		}
		if _, err := paymentsRepo.Create(ctx, transaction); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment transaction")
		}
		return nil
	}

	// Order numbers are random, so a collision is rare; retry the whole
	// attempt with a fresh number rather than fight an aborted transaction.
	for tries := 0; ; tries++ {
		err = s.tx.WithTx(ctx, attempt)
		if err == nil || tries >= orderNumberRetries || !db.IsUniqueViolation(err, "order_number") {
			break
		}
		s.logg.Warn(ctx, "order number collision, retrying checkout")
	}
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_number":   order.OrderNumber,
		"transaction_id": transaction.ID.String(),
	})

	if s.cfg.TestMode {
		return s.finishTestMode(ctx, order, transaction)
	}

	result, err := s.gateway.StkPush(ctx, mpesa.StkPushParams{
		PhoneNumber:      phone,
		AmountCents:      order.TotalCents,
		AccountReference: order.OrderNumber,
		Description:      "Samani order " + order.OrderNumber,
	})
	if err != nil {
		s.logg.Error(ctx, "payment initiation failed, rolling back reservation", err)
		if compErr := s.compensate(ctx, order, transaction); compErr != nil {
			s.logg.Error(ctx, "compensation after failed initiation also failed", compErr)
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, compErr, "rollback after failed payment initiation")
		}
		return nil, err
	}

	if err := s.payments.SetCorrelation(ctx, transaction.ID, result.CheckoutRequestID, result.MerchantRequestID); err != nil {
		// The prompt is already on the customer's phone; the sweep will
		// eventually expire the transaction if the callback cannot match it.
		s.logg.Error(ctx, "storing gateway correlation ids failed", err)
	}
	checkoutID := result.CheckoutRequestID
	merchantID := result.MerchantRequestID
	transaction.CheckoutRequestID = &checkoutID
	transaction.MerchantRequestID = &merchantID

	s.logg.Info(ctx, "stk push sent")
	return &Result{
		Order:           order,
		Transaction:     transaction,
		CustomerMessage: result.CustomerMessage,
	}, nil
}

// finishTestMode settles synchronously through the shared reconciler path so
// sandbox checkouts exercise exactly the production settlement logic.
func (s *service) finishTestMode(ctx context.Context, order *models.Order, transaction *models.PaymentTransaction) (*Result, error) {
	settled, err := s.reconciler.CompleteManually(ctx, transaction.ID)
	if err != nil {
		return nil, err
	}

	confirmed, err := s.orders.FindByID(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order after test settlement")
	}

	s.logg.Info(ctx, "test mode checkout settled")
	return &Result{
		Order:           confirmed,
		Transaction:     settled,
		CustomerMessage: "Test mode: payment settled without gateway",
	}, nil
}

// compensate undoes a committed checkout after the gateway refused to start
// the payment: stock returns, and both the order and the transaction are
// removed. The prompt never reached the customer, so there is nothing to
// reconcile later.
func (s *service) compensate(ctx context.Context, order *models.Order, transaction *models.PaymentTransaction) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ordersRepo := s.orders.WithTx(tx)
		paymentsRepo := s.payments.WithTx(tx)

		for _, item := range order.Items {
			if err := s.inventory.Release(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
		if err := paymentsRepo.Delete(ctx, transaction.ID); err != nil {
			return err
		}
		return ordersRepo.Delete(ctx, order.ID)
	})
}

func shippingCents(subtotal int64, rate decimal.Decimal) int64 {
	if subtotal <= 0 || rate.IsZero() {
		return 0
	}
	return decimal.NewFromInt(subtotal).Mul(rate).Round(0).IntPart()
}
