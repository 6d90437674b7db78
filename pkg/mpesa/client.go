package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/jmuthoni/samani-backend/pkg/config"
	pkgerrors "github.com/jmuthoni/samani-backend/pkg/errors"
	"github.com/jmuthoni/samani-backend/pkg/logger"
)

const (
	tokenPath   = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath = "/mpesa/stkpush/v1/processrequest"

	timestampLayout = "20060102150405"

	// tokenExpirySlack refreshes tokens slightly before Daraja expires them.
	tokenExpirySlack = 30 * time.Second
)

var (
	errCredentialsRequired = errors.New("mpesa consumer key and secret are required")
	errShortCodeRequired   = errors.New("mpesa shortcode and passkey are required")
	errCallbackURLRequired = errors.New("mpesa callback url is required")
)

// StkPushParams carries one payment prompt request.
type StkPushParams struct {
	PhoneNumber      string
	AmountCents      int64
	AccountReference string
	Description      string
}

// StkPushResult is the acknowledgement Daraja returns for an accepted prompt.
type StkPushResult struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// Gateway is the surface checkout and reconciliation depend on.
type Gateway interface {
	StkPush(ctx context.Context, params StkPushParams) (*StkPushResult, error)
}

// Client talks to the Daraja sandbox or production API.
type Client struct {
	cfg        config.MpesaConfig
	httpClient *http.Client
	logger     *logger.Logger
	now        func() time.Time

	tokenGroup singleflight.Group
	tokenMu    sync.Mutex
	token      string
	tokenExp   time.Time
}

// NewClient validates credentials and builds the gateway client.
func NewClient(ctx context.Context, cfg config.MpesaConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.ConsumerKey) == "" || strings.TrimSpace(cfg.ConsumerSecret) == "" {
		return nil, errCredentialsRequired
	}
	if strings.TrimSpace(cfg.ShortCode) == "" || strings.TrimSpace(cfg.PassKey) == "" {
		return nil, errShortCodeRequired
	}
	if strings.TrimSpace(cfg.CallbackURL) == "" {
		return nil, errCallbackURLRequired
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logg,
		now:        time.Now,
	}

	if logg != nil {
		logg.Info(ctx, "mpesa client initialized")
	}
	return c, nil
}

// AmountKES converts integer cents into the whole shillings Daraja charges.
// Rounds half up and never bills below the 1 KES gateway minimum.
func AmountKES(amountCents int64) int64 {
	kes := decimal.NewFromInt(amountCents).Div(decimal.NewFromInt(100)).Round(0).IntPart()
	if kes < 1 {
		return 1
	}
	return kes
}

// StkPush sends the payment prompt to the customer's phone.
func (c *Client) StkPush(ctx context.Context, params StkPushParams) (*StkPushResult, error) {
	phone, err := NormalizePhone(params.PhoneNumber)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid msisdn")
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := c.now().Format(timestampLayout)
	password := base64.StdEncoding.EncodeToString(
		[]byte(c.cfg.ShortCode + c.cfg.PassKey + timestamp),
	)

	payload := map[string]any{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          password,
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            AmountKES(params.AmountCents),
		"PartyA":            phone,
		"PartyB":            c.cfg.ShortCode,
		"PhoneNumber":       phone,
		"CallBackURL":       c.cfg.CallbackURL,
		"AccountReference":  params.AccountReference,
		"TransactionDesc":   defaultDescription(params.Description),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal stk payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+stkPushPath, bytes.NewReader(body))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build stk request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	c.log(ctx, "request", "stk_push", map[string]any{
		"account_reference": params.AccountReference,
		"amount_kes":        AmountKES(params.AmountCents),
	})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePaymentInitiation, err, "stk push request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePaymentInitiation, err, "read stk response")
	}

	if resp.StatusCode != http.StatusOK {
		c.log(ctx, "error", "stk_push", map[string]any{"status": resp.StatusCode})
		return nil, pkgerrors.New(
			pkgerrors.CodePaymentInitiation,
			fmt.Sprintf("stk push rejected with status %d", resp.StatusCode),
		).WithDetails(string(raw))
	}

	var result StkPushResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePaymentInitiation, err, "decode stk response")
	}
	if result.ResponseCode != "0" {
		return nil, pkgerrors.New(
			pkgerrors.CodePaymentInitiation,
			fmt.Sprintf("stk push declined: %s", result.ResponseDescription),
		)
	}
	if result.CheckoutRequestID == "" {
		return nil, pkgerrors.New(pkgerrors.CodePaymentInitiation, "stk push response missing CheckoutRequestID")
	}

	c.log(ctx, "response", "stk_push", map[string]any{
		"checkout_request_id": result.CheckoutRequestID,
		"merchant_request_id": result.MerchantRequestID,
	})
	return &result, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// accessToken returns a cached OAuth token, refreshing through singleflight
// so concurrent checkouts trigger at most one token request.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	if c.token != "" && c.now().Before(c.tokenExp) {
		token := c.token
		c.tokenMu.Unlock()
		return token, nil
	}
	c.tokenMu.Unlock()

	value, err, _ := c.tokenGroup.Do("token", func() (any, error) {
		return c.fetchToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build token request")
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodePaymentInitiation, err, "token request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", pkgerrors.New(
			pkgerrors.CodePaymentInitiation,
			fmt.Sprintf("token request rejected with status %d", resp.StatusCode),
		)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodePaymentInitiation, err, "decode token response")
	}
	if tr.AccessToken == "" {
		return "", pkgerrors.New(pkgerrors.CodePaymentInitiation, "token response missing access_token")
	}

	ttl := 3600
	if parsed, err := strconv.Atoi(tr.ExpiresIn); err == nil && parsed > 0 {
		ttl = parsed
	}

	c.tokenMu.Lock()
	c.token = tr.AccessToken
	c.tokenExp = c.now().Add(time.Duration(ttl)*time.Second - tokenExpirySlack)
	c.tokenMu.Unlock()

	return tr.AccessToken, nil
}

func defaultDescription(desc string) string {
	if strings.TrimSpace(desc) == "" {
		return "Samani order payment"
	}
	return desc
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{"operation": op, "phase": phase}
	for k, v := range fields {
		logFields[k] = v
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Warn(ctx, fmt.Sprintf("mpesa %s", op))
	default:
		c.logger.Info(ctx, fmt.Sprintf("mpesa %s", phase))
	}
}
