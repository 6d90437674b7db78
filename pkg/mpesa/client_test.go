package mpesa

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jmuthoni/samani-backend/pkg/config"
	pkgerrors "github.com/jmuthoni/samani-backend/pkg/errors"
)

func testConfig(baseURL string) config.MpesaConfig {
	return config.MpesaConfig{
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		PassKey:        "passkey",
		BaseURL:        baseURL,
		CallbackURL:    "https://example.com/webhooks/mpesa",
	}
}

func newDarajaStub(t *testing.T, tokenCalls *int32, stkHandler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(tokenCalls, 1)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "key", user)
		require.Equal(t, "secret", pass)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token": "test-token",
			"expires_in":   "3599",
		})
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", stkHandler)
	return httptest.NewServer(mux)
}

func TestStkPushSuccess(t *testing.T) {
	var tokenCalls int32
	var captured map[string]any

	srv := newDarajaStub(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(StkPushResult{
			MerchantRequestID:   "mr-1",
			CheckoutRequestID:   "ws_CO_1",
			ResponseCode:        "0",
			ResponseDescription: "Success. Request accepted for processing",
		})
	})
	defer srv.Close()

	client, err := NewClient(context.Background(), testConfig(srv.URL), nil)
	require.NoError(t, err)

	result, err := client.StkPush(context.Background(), StkPushParams{
		PhoneNumber:      "0712345678",
		AmountCents:      250050,
		AccountReference: "SAM-20260830-0001",
	})
	require.NoError(t, err)
	require.Equal(t, "ws_CO_1", result.CheckoutRequestID)
	require.Equal(t, "mr-1", result.MerchantRequestID)

	require.Equal(t, "254712345678", captured["PhoneNumber"])
	require.Equal(t, "254712345678", captured["PartyA"])
	require.Equal(t, float64(2501), captured["Amount"])
	require.Equal(t, "174379", captured["BusinessShortCode"])
	require.Equal(t, "SAM-20260830-0001", captured["AccountReference"])
	require.NotEmpty(t, captured["Password"])
	require.NotEmpty(t, captured["Timestamp"])
}

func TestStkPushReusesCachedToken(t *testing.T) {
	var tokenCalls int32

	srv := newDarajaStub(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(StkPushResult{
			CheckoutRequestID: "ws_CO_x",
			ResponseCode:      "0",
		})
	})
	defer srv.Close()

	client, err := NewClient(context.Background(), testConfig(srv.URL), nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := client.StkPush(context.Background(), StkPushParams{
			PhoneNumber:      "0712345678",
			AmountCents:      10000,
			AccountReference: "SAM-1",
		})
		require.NoError(t, err)
	}

	require.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
}

func TestStkPushDeclined(t *testing.T) {
	var tokenCalls int32

	srv := newDarajaStub(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(StkPushResult{
			ResponseCode:        "1",
			ResponseDescription: "Invalid Access Token",
		})
	})
	defer srv.Close()

	client, err := NewClient(context.Background(), testConfig(srv.URL), nil)
	require.NoError(t, err)

	_, err = client.StkPush(context.Background(), StkPushParams{
		PhoneNumber:      "0712345678",
		AmountCents:      10000,
		AccountReference: "SAM-2",
	})
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodePaymentInitiation, typed.Code())
}

func TestStkPushRejectsBadPhone(t *testing.T) {
	client, err := NewClient(context.Background(), testConfig("http://unused"), nil)
	require.NoError(t, err)

	_, err = client.StkPush(context.Background(), StkPushParams{
		PhoneNumber: "12345",
		AmountCents: 10000,
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestNewClientValidatesConfig(t *testing.T) {
	cfg := testConfig("http://unused")
	cfg.ConsumerKey = ""
	_, err := NewClient(context.Background(), cfg, nil)
	require.Error(t, err)

	cfg = testConfig("http://unused")
	cfg.CallbackURL = ""
	_, err = NewClient(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestAmountKES(t *testing.T) {
	require.Equal(t, int64(1), AmountKES(0))
	require.Equal(t, int64(1), AmountKES(49))
	require.Equal(t, int64(1), AmountKES(100))
	require.Equal(t, int64(2), AmountKES(150))
	require.Equal(t, int64(2500), AmountKES(250000))
	require.Equal(t, int64(2501), AmountKES(250050))
}
