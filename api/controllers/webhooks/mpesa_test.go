package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jmuthoni/samani-backend/internal/orders"
	"github.com/jmuthoni/samani-backend/internal/payments"
	"github.com/jmuthoni/samani-backend/pkg/db/models"
	pkgerrors "github.com/jmuthoni/samani-backend/pkg/errors"
	"github.com/jmuthoni/samani-backend/pkg/mpesa"
)

type stubPaymentsService struct {
	outcome  payments.Outcome
	err      error
	received *mpesa.StkCallback
}

func (s *stubPaymentsService) HandleCallback(_ context.Context, cb *mpesa.StkCallback) (payments.Outcome, error) {
	s.received = cb
	return s.outcome, s.err
}

func (s *stubPaymentsService) CompleteManually(context.Context, uuid.UUID) (*models.PaymentTransaction, error) {
	panic("unused")
}

func (s *stubPaymentsService) Get(context.Context, orders.Actor, uuid.UUID) (*payments.TransactionView, error) {
	panic("unused")
}

func (s *stubPaymentsService) ExpirePending(context.Context, time.Duration, int) (int, error) {
	panic("unused")
}

const callbackEnvelope = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "Amount", "Value": 24000.00},
          {"Name": "MpesaReceiptNumber", "Value": "RKT3XYZ9AB"},
          {"Name": "PhoneNumber", "Value": 254712345678}
        ]
      }
    }
  }
}`

func decodeAck(t *testing.T, resp *httptest.ResponseRecorder) darajaAck {
	t.Helper()
	var ack darajaAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatalf("failed to decode ack: %v", err)
	}
	return ack
}

func TestMpesaCallbackAcknowledgesProcessedDelivery(t *testing.T) {
	svc := &stubPaymentsService{outcome: payments.OutcomeApplied}
	handler := MpesaCallback(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mpesa", strings.NewReader(callbackEnvelope))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	ack := decodeAck(t, resp)
	if ack.ResultCode != 0 {
		t.Fatalf("expected result code 0 got %d", ack.ResultCode)
	}
	if svc.received == nil || svc.received.CheckoutRequestID != "ws_CO_191220191020363925" {
		t.Fatalf("expected parsed callback handed to service, got %+v", svc.received)
	}
}

func TestMpesaCallbackAcknowledgesIgnoredDelivery(t *testing.T) {
	svc := &stubPaymentsService{outcome: payments.OutcomeIgnored}
	handler := MpesaCallback(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mpesa", strings.NewReader(callbackEnvelope))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unmatched callbacks still get 200, got %d", resp.Code)
	}
}

func TestMpesaCallbackRejectsMalformedBody(t *testing.T) {
	svc := &stubPaymentsService{outcome: payments.OutcomeApplied}
	handler := MpesaCallback(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mpesa", strings.NewReader(`{"not":"daraja"}`))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	ack := decodeAck(t, resp)
	if ack.ResultCode != 1 {
		t.Fatalf("expected result code 1 got %d", ack.ResultCode)
	}
	if svc.received != nil {
		t.Fatalf("service should not see malformed callbacks")
	}
}

func TestMpesaCallbackRejectsOversizedBody(t *testing.T) {
	svc := &stubPaymentsService{outcome: payments.OutcomeApplied}
	handler := MpesaCallback(svc, nil)

	body := strings.NewReader(strings.Repeat("x", maxCallbackBytes+1))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mpesa", body)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if svc.received != nil {
		t.Fatalf("service should not see oversized callbacks")
	}
}

func TestMpesaCallbackSurfacesProcessingFailure(t *testing.T) {
	svc := &stubPaymentsService{err: pkgerrors.New(pkgerrors.CodeDependency, "db down")}
	handler := MpesaCallback(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mpesa", strings.NewReader(callbackEnvelope))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code == http.StatusOK {
		t.Fatalf("processing failures must not be acknowledged with 200")
	}
	ack := decodeAck(t, resp)
	if ack.ResultCode != 1 {
		t.Fatalf("expected result code 1 got %d", ack.ResultCode)
	}
}
