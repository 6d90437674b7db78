package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jmuthoni/samani-backend/internal/inventory"
	"github.com/jmuthoni/samani-backend/pkg/db/models"
	"github.com/jmuthoni/samani-backend/pkg/enums"
	pkgerrors "github.com/jmuthoni/samani-backend/pkg/errors"
	"github.com/jmuthoni/samani-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Actor identifies the caller for ownership checks.
type Actor struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

// StatusUpdateInput carries a seller fulfillment transition.
type StatusUpdateInput struct {
	OrderID uuid.UUID
	Status  enums.OrderStatus
	Actor   Actor
}

// CancelInput carries a buyer or seller cancellation.
type CancelInput struct {
	OrderID uuid.UUID
	Actor   Actor
}

// Service exposes order reads and lifecycle transitions.
type Service interface {
	Get(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.Order, error)
	List(ctx context.Context, actor Actor, params pagination.Params) (*OrderPage, error)
	UpdateStatus(ctx context.Context, input StatusUpdateInput) (*models.Order, error)
	Cancel(ctx context.Context, input CancelInput) (*models.Order, error)
}

type service struct {
	repo      Repository
	tx        txRunner
	inventory inventory.Service
}

// NewService builds the orders service with the required dependencies.
func NewService(repo Repository, tx txRunner, inv inventory.Service) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if inv == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	return &service{repo: repo, tx: tx, inventory: inv}, nil
}

func (s *service) Get(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.Order, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	if err := s.authorize(ctx, actor, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) List(ctx context.Context, actor Actor, params pagination.Params) (*OrderPage, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	var (
		page *OrderPage
		err  error
	)
	if actor.Role == enums.UserRoleSeller {
		page, err = s.repo.ListBySeller(ctx, actor.UserID, params)
	} else {
		page, err = s.repo.ListByBuyer(ctx, actor.UserID, params)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return page, nil
}

func (s *service) UpdateStatus(ctx context.Context, input StatusUpdateInput) (*models.Order, error) {
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.Actor.Role != enums.UserRoleSeller && input.Actor.Role != enums.UserRoleAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only sellers can update fulfillment status")
	}
	if !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown order status %q", input.Status))
	}

	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		order, err := repo.FindByID(ctx, input.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}

		if input.Actor.Role == enums.UserRoleSeller {
			owns, err := repo.SellerOwnsOrder(ctx, input.Actor.UserID, order.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check order ownership")
			}
			if !owns {
				return pkgerrors.New(pkgerrors.CodeForbidden, "order does not include this seller's products")
			}
		}

		if order.Status == input.Status {
			updated = order
			return nil
		}
		if !order.Status.CanTransitionTo(input.Status) {
			return pkgerrors.New(
				pkgerrors.CodeStateConflict,
				fmt.Sprintf("cannot move order from %s to %s", order.Status, input.Status),
			)
		}
		if input.Status == enums.OrderStatusCancelled {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "use the cancel endpoint to cancel an order")
		}

		if err := repo.UpdateStatus(ctx, order.ID, input.Status); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		order.Status = input.Status
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Cancel flips a pre-fulfillment order to cancelled and returns its reserved
// stock in the same transaction.
func (s *service) Cancel(ctx context.Context, input CancelInput) (*models.Order, error) {
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	var cancelled *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		order, err := repo.FindByID(ctx, input.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}

		if err := s.authorizeTx(ctx, repo, input.Actor, order); err != nil {
			return err
		}

		if order.Status == enums.OrderStatusCancelled {
			cancelled = order
			return nil
		}
		if !order.Status.IsCancellable() {
			return pkgerrors.New(
				pkgerrors.CodeStateConflict,
				fmt.Sprintf("order in status %s can no longer be cancelled", order.Status),
			)
		}

		for _, item := range order.Items {
			if err := s.inventory.Release(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}

		paymentStatus := order.PaymentStatus
		if !paymentStatus.IsFinal() {
			paymentStatus = enums.PaymentStatusCancelled
		}

		now := time.Now().UTC()
		if err := repo.MarkCancelled(ctx, order.ID, paymentStatus, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
		}

		order.Status = enums.OrderStatusCancelled
		order.PaymentStatus = paymentStatus
		order.CancelledAt = &now
		cancelled = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

func (s *service) authorize(ctx context.Context, actor Actor, order *models.Order) error {
	return authorizeWithRepo(ctx, s.repo, actor, order)
}

func (s *service) authorizeTx(ctx context.Context, repo Repository, actor Actor, order *models.Order) error {
	return authorizeWithRepo(ctx, repo, actor, order)
}

func authorizeWithRepo(ctx context.Context, repo Repository, actor Actor, order *models.Order) error {
	if actor.Role == enums.UserRoleAdmin {
		return nil
	}
	if order.BuyerID == actor.UserID {
		return nil
	}
	if actor.Role == enums.UserRoleSeller {
		owns, err := repo.SellerOwnsOrder(ctx, actor.UserID, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check order ownership")
		}
		if owns {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to caller")
}
