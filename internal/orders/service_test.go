package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/jmuthoni/samani-backend/internal/inventory"
	pkgdb "github.com/jmuthoni/samani-backend/pkg/db"
	"github.com/jmuthoni/samani-backend/pkg/db/models"
	"github.com/jmuthoni/samani-backend/pkg/enums"
	pkgerrors "github.com/jmuthoni/samani-backend/pkg/errors"
	"github.com/jmuthoni/samani-backend/pkg/pagination"
)

type testTxRunner struct {
	db *gorm.DB
}

func (r testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:orders_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
  id TEXT PRIMARY KEY,
  seller_id TEXT NOT NULL,
  name TEXT NOT NULL,
  description TEXT,
  category TEXT NOT NULL DEFAULT 'general',
  price_cents INTEGER NOT NULL,
  stock INTEGER NOT NULL DEFAULT 0,
  image_url TEXT,
  is_active INTEGER NOT NULL DEFAULT 1,
  deleted_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  order_number TEXT NOT NULL UNIQUE,
  buyer_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  payment_status TEXT NOT NULL DEFAULT 'pending',
  payment_method TEXT NOT NULL DEFAULT 'mpesa',
  currency TEXT NOT NULL DEFAULT 'KES',
  subtotal_cents INTEGER NOT NULL,
  shipping_cents INTEGER NOT NULL DEFAULT 0,
  total_cents INTEGER NOT NULL,
  shipping TEXT,
  paid_at DATETIME,
  cancelled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  product_name TEXT NOT NULL,
  unit_price_cents INTEGER NOT NULL,
  quantity INTEGER NOT NULL,
  line_total_cents INTEGER NOT NULL,
  created_at DATETIME
);`,
	}
	for _, stmt := range statements {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func seedProduct(t *testing.T, db *gorm.DB, sellerID uuid.UUID, stock int) *models.Product {
	t.Helper()
	product := &models.Product{
		ID:         uuid.New(),
		SellerID:   sellerID,
		Name:       "Teak Bookshelf",
		PriceCents: 800000,
		Stock:      stock,
		IsActive:   true,
	}
	require.NoError(t, db.Create(product).Error)
	return product
}

func seedOrder(t *testing.T, db *gorm.DB, buyerID uuid.UUID, product *models.Product, qty int, status enums.OrderStatus, created time.Time) *models.Order {
	t.Helper()

	total := product.PriceCents * int64(qty)
	order := &models.Order{
		ID:            uuid.New(),
		OrderNumber:   NewOrderNumber(),
		BuyerID:       buyerID,
		Status:        status,
		PaymentStatus: enums.PaymentStatusPending,
		PaymentMethod: enums.PaymentMethodMpesa,
		Currency:      "KES",
		SubtotalCents: total,
		TotalCents:    total,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
	require.NoError(t, db.Create(order).Error)

	item := &models.OrderItem{
		ID:             uuid.New(),
		OrderID:        order.ID,
		ProductID:      product.ID,
		ProductName:    product.Name,
		UnitPriceCents: product.PriceCents,
		Quantity:       qty,
		LineTotalCents: total,
		CreatedAt:      created,
	}
	require.NoError(t, db.Create(item).Error)
	order.Items = []models.OrderItem{*item}
	return order
}

func newTestService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(NewRepository(db), testTxRunner{db: db}, inventory.NewService())
	require.NoError(t, err)
	return svc
}

func TestCancelRestoresStock(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)

	buyerID := uuid.New()
	product := seedProduct(t, db, uuid.New(), 3)
	order := seedOrder(t, db, buyerID, product, 2, enums.OrderStatusPending, time.Now().UTC())

	cancelled, err := svc.Cancel(context.Background(), CancelInput{
		OrderID: order.ID,
		Actor:   Actor{UserID: buyerID, Role: enums.UserRoleBuyer},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, enums.PaymentStatusCancelled, cancelled.PaymentStatus)
	assert.NotNil(t, cancelled.CancelledAt)

	var got models.Product
	require.NoError(t, db.First(&got, "id = ?", product.ID).Error)
	assert.Equal(t, 5, got.Stock)
}

func TestCancelIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)

	buyerID := uuid.New()
	product := seedProduct(t, db, uuid.New(), 3)
	order := seedOrder(t, db, buyerID, product, 2, enums.OrderStatusPending, time.Now().UTC())

	actor := Actor{UserID: buyerID, Role: enums.UserRoleBuyer}
	_, err := svc.Cancel(context.Background(), CancelInput{OrderID: order.ID, Actor: actor})
	require.NoError(t, err)
	_, err = svc.Cancel(context.Background(), CancelInput{OrderID: order.ID, Actor: actor})
	require.NoError(t, err)

	// stock restored exactly once
	var got models.Product
	require.NoError(t, db.First(&got, "id = ?", product.ID).Error)
	assert.Equal(t, 5, got.Stock)
}

func TestCancelRejectedAfterShipment(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)

	buyerID := uuid.New()
	product := seedProduct(t, db, uuid.New(), 3)
	order := seedOrder(t, db, buyerID, product, 1, enums.OrderStatusShipped, time.Now().UTC())

	_, err := svc.Cancel(context.Background(), CancelInput{
		OrderID: order.ID,
		Actor:   Actor{UserID: buyerID, Role: enums.UserRoleBuyer},
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())

	var got models.Product
	require.NoError(t, db.First(&got, "id = ?", product.ID).Error)
	assert.Equal(t, 3, got.Stock)
}

func TestCancelForbiddenForStranger(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)

	product := seedProduct(t, db, uuid.New(), 3)
	order := seedOrder(t, db, uuid.New(), product, 1, enums.OrderStatusPending, time.Now().UTC())

	_, err := svc.Cancel(context.Background(), CancelInput{
		OrderID: order.ID,
		Actor:   Actor{UserID: uuid.New(), Role: enums.UserRoleBuyer},
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeForbidden, typed.Code())
}

func TestUpdateStatusHappyPath(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)

	sellerID := uuid.New()
	product := seedProduct(t, db, sellerID, 3)
	order := seedOrder(t, db, uuid.New(), product, 1, enums.OrderStatusConfirmed, time.Now().UTC())

	updated, err := svc.UpdateStatus(context.Background(), StatusUpdateInput{
		OrderID: order.ID,
		Status:  enums.OrderStatusShipped,
		Actor:   Actor{UserID: sellerID, Role: enums.UserRoleSeller},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, updated.Status)
}

func TestUpdateStatusRejectsIllegalTransition(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)

	sellerID := uuid.New()
	product := seedProduct(t, db, sellerID, 3)
	order := seedOrder(t, db, uuid.New(), product, 1, enums.OrderStatusPending, time.Now().UTC())

	_, err := svc.UpdateStatus(context.Background(), StatusUpdateInput{
		OrderID: order.ID,
		Status:  enums.OrderStatusDelivered,
		Actor:   Actor{UserID: sellerID, Role: enums.UserRoleSeller},
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
}

func TestUpdateStatusForbiddenForBuyers(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)

	buyerID := uuid.New()
	product := seedProduct(t, db, uuid.New(), 3)
	order := seedOrder(t, db, buyerID, product, 1, enums.OrderStatusConfirmed, time.Now().UTC())

	_, err := svc.UpdateStatus(context.Background(), StatusUpdateInput{
		OrderID: order.ID,
		Status:  enums.OrderStatusShipped,
		Actor:   Actor{UserID: buyerID, Role: enums.UserRoleBuyer},
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeForbidden, typed.Code())
}

func TestUpdateStatusForbiddenForOtherSeller(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)

	product := seedProduct(t, db, uuid.New(), 3)
	order := seedOrder(t, db, uuid.New(), product, 1, enums.OrderStatusConfirmed, time.Now().UTC())

	_, err := svc.UpdateStatus(context.Background(), StatusUpdateInput{
		OrderID: order.ID,
		Status:  enums.OrderStatusShipped,
		Actor:   Actor{UserID: uuid.New(), Role: enums.UserRoleSeller},
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeForbidden, typed.Code())
}

func TestDuplicateOrderNumberIsAUniqueViolation(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)

	buyerID := uuid.New()
	product := seedProduct(t, db, uuid.New(), 10)
	first := seedOrder(t, db, buyerID, product, 1, enums.OrderStatusPending, time.Now().UTC())

	clash := &models.Order{
		ID:            uuid.New(),
		OrderNumber:   first.OrderNumber,
		BuyerID:       buyerID,
		Status:        enums.OrderStatusPending,
		PaymentStatus: enums.PaymentStatusPending,
		PaymentMethod: enums.PaymentMethodMpesa,
		Currency:      "KES",
		SubtotalCents: 100,
		TotalCents:    100,
	}
	_, err := repo.Create(context.Background(), clash)
	require.Error(t, err)
	assert.True(t, pkgdb.IsUniqueViolation(err, "order_number"))
}

func TestListByBuyerPagination(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)

	buyerID := uuid.New()
	product := seedProduct(t, db, uuid.New(), 10)
	now := time.Now().UTC()
	seedOrder(t, db, buyerID, product, 1, enums.OrderStatusPending, now.Add(-time.Hour))
	newer := seedOrder(t, db, buyerID, product, 2, enums.OrderStatusPending, now)
	seedOrder(t, db, uuid.New(), product, 1, enums.OrderStatusPending, now)

	page, err := repo.ListByBuyer(context.Background(), buyerID, pagination.Params{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, newer.ID, page.Orders[0].ID)
	assert.NotEmpty(t, page.NextCursor)

	second, err := repo.ListByBuyer(context.Background(), buyerID, pagination.Params{Limit: 1, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Orders, 1)
	assert.NotEqual(t, newer.ID, second.Orders[0].ID)
	assert.Empty(t, second.NextCursor)
}

func TestListBySellerOnlyIncludesOwnOrders(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)

	sellerID := uuid.New()
	mine := seedProduct(t, db, sellerID, 10)
	other := seedProduct(t, db, uuid.New(), 10)
	now := time.Now().UTC()
	wanted := seedOrder(t, db, uuid.New(), mine, 1, enums.OrderStatusConfirmed, now)
	seedOrder(t, db, uuid.New(), other, 1, enums.OrderStatusConfirmed, now)

	page, err := repo.ListBySeller(context.Background(), sellerID, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, wanted.ID, page.Orders[0].ID)
}
