package orders

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jmuthoni/samani-backend/pkg/db/models"
	"github.com/jmuthoni/samani-backend/pkg/enums"
	"github.com/jmuthoni/samani-backend/pkg/pagination"
)

// Repository persists orders and their line snapshots.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	CreateItems(ctx context.Context, items []models.OrderItem) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) (*OrderPage, error)
	ListBySeller(ctx context.Context, sellerID uuid.UUID, params pagination.Params) (*OrderPage, error)
	SellerOwnsOrder(ctx context.Context, sellerID, orderID uuid.UUID) (bool, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.OrderStatus) error
	MarkPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) error
	MarkCancelled(ctx context.Context, id uuid.UUID, paymentStatus enums.PaymentStatus, cancelledAt time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// OrderPage is one cursor page of orders.
type OrderPage struct {
	Orders     []models.Order
	NextCursor string
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}

func (r *repository) CreateItems(ctx context.Context, items []models.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListByBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) (*OrderPage, error) {
	query := r.db.WithContext(ctx).
		Preload("Items").
		Where("buyer_id = ?", buyerID)
	return r.page(query, params)
}

func (r *repository) ListBySeller(ctx context.Context, sellerID uuid.UUID, params pagination.Params) (*OrderPage, error) {
	query := r.db.WithContext(ctx).
		Preload("Items").
		Where(`orders.id IN (
			SELECT order_items.order_id FROM order_items
			JOIN products ON products.id = order_items.product_id
			WHERE products.seller_id = ?
		)`, sellerID)
	return r.page(query, params)
}

func (r *repository) page(query *gorm.DB, params pagination.Params) (*OrderPage, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		query = query.Where(
			"(orders.created_at < ?) OR (orders.created_at = ? AND orders.id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	limit := pagination.NormalizeLimit(params.Limit)
	var rows []models.Order
	err = query.
		Order("orders.created_at DESC").
		Order("orders.id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	page := &OrderPage{Orders: rows}
	if len(rows) > limit {
		page.Orders = rows[:limit]
		last := page.Orders[len(page.Orders)-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return page, nil
}

func (r *repository) SellerOwnsOrder(ctx context.Context, sellerID, orderID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Table("order_items").
		Joins("JOIN products ON products.id = order_items.product_id").
		Where("order_items.order_id = ? AND products.seller_id = ?", orderID, sellerID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.OrderStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (r *repository) MarkPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":         enums.OrderStatusConfirmed,
			"payment_status": enums.PaymentStatusPaid,
			"paid_at":        paidAt,
		}).Error
}

func (r *repository) MarkCancelled(ctx context.Context, id uuid.UUID, paymentStatus enums.PaymentStatus, cancelledAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":         enums.OrderStatusCancelled,
			"payment_status": paymentStatus,
			"cancelled_at":   cancelledAt,
		}).Error
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.db.WithContext(ctx).Where("order_id = ?", id).Delete(&models.OrderItem{}).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Order{}).Error
}

// NewOrderNumber builds the human readable order reference, e.g. #-3FA85F64-042.
func NewOrderNumber() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	suffix := strings.ToUpper(uuid.NewString())
	return "#-" + id[:8] + "-" + suffix[len(suffix)-3:]
}
