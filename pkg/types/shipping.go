package types

// ShippingInfo is the delivery snapshot captured on an order at checkout.
// It is stored as jsonb so later profile edits never rewrite past orders.
type ShippingInfo struct {
	RecipientName string  `json:"recipient_name"`
	PhoneNumber   string  `json:"phone_number"`
	AddressLine   string  `json:"address_line"`
	City          string  `json:"city"`
	County        *string `json:"county,omitempty"`
	Notes         *string `json:"notes,omitempty"`
}
