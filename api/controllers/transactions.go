package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jmuthoni/samani-backend/api/middleware"
	"github.com/jmuthoni/samani-backend/api/responses"
	"github.com/jmuthoni/samani-backend/internal/payments"
	pkgerrors "github.com/jmuthoni/samani-backend/pkg/errors"
	"github.com/jmuthoni/samani-backend/pkg/logger"
)

// TransactionDetail lets buyers poll a payment while the prompt is open on
// their phone.
func TransactionDetail(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		transactionID, err := parseTransactionID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.Get(r.Context(), middleware.ActorFromContext(r.Context()), transactionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := transactionDetailResponse{
			Transaction: newTransactionResponse(view.Transaction),
		}
		if view.Order != nil {
			order := newOrderResponse(view.Order)
			resp.Order = &order
		}
		responses.WriteSuccess(w, resp)
	}
}

// TransactionCompleteManually settles a pending transaction with a synthetic
// receipt. Only routed outside production.
func TransactionCompleteManually(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		transactionID, err := parseTransactionID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		transaction, err := svc.CompleteManually(r.Context(), transactionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newTransactionResponse(transaction))
	}
}

type transactionDetailResponse struct {
	Transaction transactionResponse `json:"transaction"`
	Order       *orderResponse      `json:"order,omitempty"`
}

func parseTransactionID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "transactionId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}
	transactionID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transaction id")
	}
	return transactionID, nil
}
