package mpesa

import (
	"fmt"
	"strings"
)

// NormalizePhone converts user supplied Kenyan phone numbers into the
// 254XXXXXXXXX form Daraja expects. Accepts 07.., +2547.., 2547.. inputs.
func NormalizePhone(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	cleaned = strings.TrimPrefix(cleaned, "+")
	if strings.HasPrefix(cleaned, "0") {
		cleaned = "254" + cleaned[1:]
	}

	if len(cleaned) != 12 || !strings.HasPrefix(cleaned, "254") {
		return "", fmt.Errorf("invalid phone number %q", raw)
	}
	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("invalid phone number %q", raw)
		}
	}
	return cleaned, nil
}
