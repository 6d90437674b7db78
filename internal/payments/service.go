package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/jmuthoni/samani-backend/internal/cart"
	"github.com/jmuthoni/samani-backend/internal/inventory"
	"github.com/jmuthoni/samani-backend/internal/orders"
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

// Outcome reports what a callback delivery did.
type Outcome string

const (
	// OutcomeApplied means the transaction was finalized by this delivery.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the transaction was already final; nothing changed.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIgnored means no transaction matched the correlation ids.
	OutcomeIgnored Outcome = "ignored"
)

// TransactionView pairs a transaction with its order for polling clients.
type TransactionView struct {
	Transaction *models.PaymentTransaction
	Order       *models.Order
}

// Service reconciles gateway outcomes onto transactions and orders. Webhook,
// manual completion, checkout test mode, and the timeout sweep all funnel into
// the same two finalize paths.
type Service interface {
	HandleCallback(ctx context.Context, cb *mpesa.StkCallback) (Outcome, error)
	CompleteManually(ctx context.Context, transactionID uuid.UUID) (*models.PaymentTransaction, error)
	Get(ctx context.Context, actor orders.Actor, transactionID uuid.UUID) (*TransactionView, error)
	ExpirePending(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

type service struct {
	repo      Repository
	orders    orders.Repository
	carts     cart.Repository
	inventory inventory.Service
	tx        txRunner
	logg      *logger.Logger
	now       func() time.Time
}

// NewService builds the reconciler with the required dependencies.
func NewService(repo Repository, ordersRepo orders.Repository, carts cart.Repository, inv inventory.Service, tx txRunner, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if carts == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if inv == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:      repo,
		orders:    ordersRepo,
		carts:     carts,
		inventory: inv,
		tx:        tx,
		logg:      logg,
		now:       time.Now,
	}, nil
}

func (s *service) HandleCallback(ctx context.Context, cb *mpesa.StkCallback) (Outcome, error) {
	if cb == nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "callback payload required")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"checkout_request_id": cb.CheckoutRequestID,
		"merchant_request_id": cb.MerchantRequestID,
		"result_code":         cb.ResultCode,
	})

	transaction, err := s.repo.FindByCorrelation(ctx, cb.CheckoutRequestID, cb.MerchantRequestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logg.Warn(ctx, "callback for unknown transaction ignored")
			return OutcomeIgnored, nil
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup transaction")
	}

	// Fast path for redeliveries; the conditional status flip inside finalize
	// is the authoritative guard when deliveries race.
	if transaction.Status.IsFinal() {
		s.logg.Info(ctx, "duplicate callback delivery, transaction already final")
		return OutcomeDuplicate, nil
	}

	payload := callbackPayload(cb)
	resultCode := cb.ResultCode

	if cb.Succeeded() {
		receipt := cb.Receipt()
		if err := s.finalizeSuccess(ctx, transaction, receipt, &resultCode, cb.ResultDesc, payload); err != nil {
			if errors.Is(err, ErrAlreadyFinal) {
				s.logg.Info(ctx, "concurrent delivery already finalized transaction")
				return OutcomeDuplicate, nil
			}
			return "", err
		}
		s.logg.Info(ctx, "payment confirmed")
		return OutcomeApplied, nil
	}

	reason := failureReason(cb.ResultCode, cb.ResultDesc)
	if err := s.finalizeFailure(ctx, transaction, &resultCode, reason, payload); err != nil {
		if errors.Is(err, ErrAlreadyFinal) {
			s.logg.Info(ctx, "concurrent delivery already finalized transaction")
			return OutcomeDuplicate, nil
		}
		return "", err
	}
	s.logg.Info(ctx, "payment failed, reservation released")
	return OutcomeApplied, nil
}

// CompleteManually finalizes a pending transaction as paid with a synthetic
// receipt. Exposed on non-production routes for sandbox testing, and reused by
// checkout test mode.
func (s *service) CompleteManually(ctx context.Context, transactionID uuid.UUID) (*models.PaymentTransaction, error) {
	transaction, err := s.repo.FindByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}

	if transaction.Status == enums.TransactionStatusSuccess {
		return transaction, nil
	}
	if transaction.Status == enums.TransactionStatusFailed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction already failed")
	}

	receipt := syntheticReceipt()
	resultCode := 0
	desc := "Completed manually"
	if err := s.finalizeSuccess(ctx, transaction, receipt, &resultCode, desc, types.JSONMap{"manual": true}); err != nil {
		if !errors.Is(err, ErrAlreadyFinal) {
			return nil, err
		}
		// A callback won the race; report whatever it settled on.
		settled, readErr := s.repo.FindByID(ctx, transactionID)
		if readErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, readErr, "reload transaction")
		}
		if settled.Status == enums.TransactionStatusFailed {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction already failed")
		}
		return settled, nil
	}

	return s.repo.FindByID(ctx, transactionID)
}

func (s *service) Get(ctx context.Context, actor orders.Actor, transactionID uuid.UUID) (*TransactionView, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	transaction, err := s.repo.FindByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}

	if actor.Role != enums.UserRoleAdmin && transaction.BuyerID != actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "transaction does not belong to caller")
	}

	// A failed payment removes the order; the buyer still gets the failed
	// transaction back from the poll.
	var order *models.Order
	if transaction.OrderID != nil {
		order, err = s.orders.FindByID(ctx, *transaction.OrderID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
	}

	return &TransactionView{Transaction: transaction, Order: order}, nil
}

// ExpirePending fails every transaction stuck pending longer than olderThan,
// releasing its reservation through the shared failure path.
func (s *service) ExpirePending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	cutoff := s.now().UTC().Add(-olderThan)
	stale, err := s.repo.ListPendingBefore(ctx, cutoff, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale transactions")
	}

	expired := 0
	var errs error
	for i := range stale {
		transaction := stale[i]
		txCtx := s.logg.WithTransactionID(ctx, transaction.ID.String())
		if err := s.finalizeFailure(txCtx, &transaction, nil, "payment window expired", nil); err != nil {
			// A callback that landed after the listing keeps its settlement.
			if errors.Is(err, ErrAlreadyFinal) {
				continue
			}
			errs = multierr.Append(errs, err)
			continue
		}
		expired++
	}
	return expired, errs
}

// finalizeSuccess marks the transaction paid, confirms the order, and clears
// the buyer's cart. Stock stays reserved: it was decremented at checkout.
func (s *service) finalizeSuccess(ctx context.Context, transaction *models.PaymentTransaction, receipt string, resultCode *int, resultDesc string, payload types.JSONMap) error {
	now := s.now().UTC()
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ordersRepo := s.orders.WithTx(tx)
		carts := s.carts.WithTx(tx)

		if err := repo.MarkSuccess(ctx, transaction.ID, receipt, resultCode, resultDesc, payload, now); err != nil {
			if errors.Is(err, ErrAlreadyFinal) {
				return err
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark transaction success")
		}

		if transaction.OrderID == nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "transaction has no linked order")
		}
		order, err := ordersRepo.FindByID(ctx, *transaction.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order for settlement")
		}

		if err := ordersRepo.MarkPaid(ctx, order.ID, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
		}

		if err := carts.DeleteByBuyer(ctx, order.BuyerID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear buyer cart")
		}
		return nil
	})
}

// finalizeFailure marks the transaction failed, returns the reserved stock,
// and removes the unpaid order.
func (s *service) finalizeFailure(ctx context.Context, transaction *models.PaymentTransaction, resultCode *int, reason string, payload types.JSONMap) error {
	now := s.now().UTC()
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ordersRepo := s.orders.WithTx(tx)

		if err := repo.MarkFailed(ctx, transaction.ID, resultCode, reason, payload, now); err != nil {
			if errors.Is(err, ErrAlreadyFinal) {
				return err
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark transaction failed")
		}

		if transaction.OrderID == nil {
			return nil
		}
		order, err := ordersRepo.FindByID(ctx, *transaction.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order for rollback")
		}

		for _, item := range order.Items {
			if err := s.inventory.Release(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}

		if err := ordersRepo.Delete(ctx, order.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete unpaid order")
		}
		return nil
	})
}

func callbackPayload(cb *mpesa.StkCallback) types.JSONMap {
	payload := types.JSONMap{
		"merchant_request_id": cb.MerchantRequestID,
		"checkout_request_id": cb.CheckoutRequestID,
		"result_code":         cb.ResultCode,
		"result_desc":         cb.ResultDesc,
	}
	if receipt := cb.Receipt(); receipt != "" {
		payload["mpesa_receipt"] = receipt
	}
	if phone := cb.PayerPhone(); phone != "" {
		payload["payer_phone"] = phone
	}
	if amount, ok := cb.AmountCents(); ok {
		payload["amount_cents"] = amount
	}
	return payload
}

// failureReason maps Daraja result codes onto buyer readable text, keeping the
// raw description as a fallback.
func failureReason(code int, desc string) string {
	switch code {
	case 1:
		return "Insufficient M-Pesa balance"
	case 1019:
		return "Payment request expired"
	case 1025, 9999:
		return "Payment could not be processed, try again"
	case 1032:
		return "Payment cancelled by user"
	case 1037:
		return "Payment request timed out, phone unreachable"
	case 2001:
		return "Wrong M-Pesa PIN entered"
	}
	if strings.TrimSpace(desc) != "" {
		return desc
	}
	return fmt.Sprintf("Payment failed with code %d", code)
}

func syntheticReceipt() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "TEST" + id[:8]
}
