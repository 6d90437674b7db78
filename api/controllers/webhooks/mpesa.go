package webhooks

import (
	"io"
	"net/http"

	"github.com/jmuthoni/samani-backend/internal/payments"
	pkgerrors "github.com/jmuthoni/samani-backend/pkg/errors"
	"github.com/jmuthoni/samani-backend/pkg/logger"
	"github.com/jmuthoni/samani-backend/pkg/mpesa"
)

type darajaAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// Daraja callbacks are a few hundred bytes; anything near the cap is not the
// gateway.
const maxCallbackBytes = 64 << 10

// MpesaCallback receives STK push results from Daraja. Unknown and duplicate
// deliveries are acknowledged with 200 so the gateway stops retrying; only a
// body Daraja should never send gets a 400.
func MpesaCallback(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			writeAck(w, http.StatusInternalServerError, darajaAck{ResultCode: 1, ResultDesc: "Service unavailable"})
			return
		}

		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBytes))
		if err != nil {
			writeAck(w, http.StatusBadRequest, darajaAck{ResultCode: 1, ResultDesc: "Unreadable body"})
			return
		}

		cb, err := mpesa.ParseCallback(raw)
		if err != nil {
			if logg != nil {
				logg.Warn(logg.WithField(ctx, "error", err.Error()), "malformed gateway callback rejected")
			}
			writeAck(w, http.StatusBadRequest, darajaAck{ResultCode: 1, ResultDesc: "Malformed callback"})
			return
		}

		outcome, err := svc.HandleCallback(ctx, cb)
		if err != nil {
			// Daraja retries on non-200; a transient DB failure should be retried.
			if logg != nil {
				logg.Error(ctx, "callback processing failed", err)
			}
			status := http.StatusInternalServerError
			if typed := pkgerrors.As(err); typed != nil {
				status = pkgerrors.MetadataFor(typed.Code()).HTTPStatus
			}
			writeAck(w, status, darajaAck{ResultCode: 1, ResultDesc: "Processing failed"})
			return
		}

		if logg != nil {
			logg.Info(logg.WithField(ctx, "outcome", string(outcome)), "gateway callback acknowledged")
		}
		writeAck(w, http.StatusOK, darajaAck{ResultCode: 0, ResultDesc: "Accepted"})
	}
}
