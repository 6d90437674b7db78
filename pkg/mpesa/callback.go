package mpesa

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// CallbackEnvelope is the wrapper Daraja posts to the callback URL.
type CallbackEnvelope struct {
	Body struct {
		StkCallback StkCallback `json:"stkCallback"`
	} `json:"Body"`
}

// StkCallback is the result payload for one STK push attempt.
type StkCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        int    `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []MetadataItem `json:"Item"`
	} `json:"CallbackMetadata,omitempty"`
}

// MetadataItem is a loosely typed name/value pair from CallbackMetadata.
type MetadataItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value,omitempty"`
}

// Succeeded reports whether the prompt completed with payment.
func (c StkCallback) Succeeded() bool {
	return c.ResultCode == 0
}

// Receipt digs the MpesaReceiptNumber out of the callback metadata.
func (c StkCallback) Receipt() string {
	return c.metadataString("MpesaReceiptNumber")
}

// PayerPhone digs the paying MSISDN out of the callback metadata.
func (c StkCallback) PayerPhone() string {
	return c.metadataString("PhoneNumber")
}

// AmountCents returns the paid amount in cents, if present.
func (c StkCallback) AmountCents() (int64, bool) {
	if c.CallbackMetadata == nil {
		return 0, false
	}
	for _, item := range c.CallbackMetadata.Item {
		if item.Name != "Amount" {
			continue
		}
		switch v := item.Value.(type) {
		case float64:
			return int64(v * 100), true
		case string:
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return int64(parsed * 100), true
			}
		}
	}
	return 0, false
}

// TransactionTime parses the TransactionDate metadata (yyyymmddhhmmss, EAT).
func (c StkCallback) TransactionTime() (time.Time, bool) {
	raw := c.metadataString("TransactionDate")
	if raw == "" {
		return time.Time{}, false
	}
	loc := time.FixedZone("EAT", 3*60*60)
	t, err := time.ParseInLocation(timestampLayout, raw, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (c StkCallback) metadataString(name string) string {
	if c.CallbackMetadata == nil {
		return ""
	}
	for _, item := range c.CallbackMetadata.Item {
		if item.Name != name {
			continue
		}
		switch v := item.Value.(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		default:
			if v != nil {
				return fmt.Sprint(v)
			}
		}
	}
	return ""
}

// ParseCallback decodes a Daraja callback body.
func ParseCallback(raw []byte) (*StkCallback, error) {
	var envelope CallbackEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode callback: %w", err)
	}
	cb := envelope.Body.StkCallback
	if cb.CheckoutRequestID == "" && cb.MerchantRequestID == "" {
		return nil, fmt.Errorf("callback missing correlation ids")
	}
	return &cb, nil
}
