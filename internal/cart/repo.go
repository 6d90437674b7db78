package cart

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jmuthoni/samani-backend/pkg/db/models"
)

// Repository stores buyer carts. The payment reconciler clears a buyer's cart
// once their purchase is confirmed.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByBuyer(ctx context.Context, buyerID uuid.UUID) (*models.Cart, error)
	DeleteByBuyer(ctx context.Context, buyerID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a cart repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByBuyer(ctx context.Context, buyerID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("buyer_id = ?", buyerID).
		First(&cart).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *repository) DeleteByBuyer(ctx context.Context, buyerID uuid.UUID) error {
	var cart models.Cart
	err := r.db.WithContext(ctx).Where("buyer_id = ?", buyerID).First(&cart).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		return err
	}

	if err := r.db.WithContext(ctx).Where("cart_id = ?", cart.ID).Delete(&models.CartItem{}).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).Delete(&cart).Error
}
