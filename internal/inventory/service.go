package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jmuthoni/samani-backend/pkg/db/models"
	pkgerrors "github.com/jmuthoni/samani-backend/pkg/errors"
)

// Service guards product stock. Reserve and Release run inside the caller's
// transaction so checkout stays atomic across multiple lines.
type Service interface {
	Reserve(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
	Release(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
}

type service struct{}

// NewService builds the stock guard.
func NewService() Service {
	return service{}
}

// Reserve decrements stock only when enough remains. The conditional update is
// the oversell guard: two concurrent buyers can never both win the last unit.
func (service) Reserve(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "reservation qty must be positive")
	}
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for stock reservation")
	}

	res := tx.WithContext(ctx).Exec(`
		UPDATE products
		SET stock = stock - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND is_active = ? AND deleted_at IS NULL AND stock >= ?
	`, qty, productID, true, qty)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve stock")
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var product models.Product
	err := tx.WithContext(ctx).Where("id = ?", productID).First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %s not found", productID))
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product after failed reservation")
	}
	if !product.IsActive || product.DeletedAt != nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %q is no longer available", product.Name))
	}
	return pkgerrors.New(
		pkgerrors.CodeInsufficientStock,
		fmt.Sprintf("insufficient stock for %q", product.Name),
	).WithDetails(map[string]any{
		"product_id": productID,
		"requested":  qty,
		"available":  product.Stock,
	})
}

// Release returns previously reserved stock, used when payment initiation or
// settlement fails after checkout decremented.
func (service) Release(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return nil
	}
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for stock release")
	}

	res := tx.WithContext(ctx).Exec(`
		UPDATE products
		SET stock = stock + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, qty, productID)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release stock")
	}
	return nil
}
