package enums

import "fmt"

// PaymentRail selects which fee pair of a merchant profile applies.
type PaymentRail string

const (
	PaymentRailCard PaymentRail = "card"
	PaymentRailACH  PaymentRail = "ach"
)

var validPaymentRails = []PaymentRail{
	PaymentRailCard,
	PaymentRailACH,
}

// String implements fmt.Stringer.
func (r PaymentRail) String() string {
	return string(r)
}

// IsValid reports whether the value is a known PaymentRail.
func (r PaymentRail) IsValid() bool {
	for _, candidate := range validPaymentRails {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParsePaymentRail converts raw input into a PaymentRail.
func ParsePaymentRail(value string) (PaymentRail, error) {
	for _, candidate := range validPaymentRails {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment rail %q", value)
}
