package types

import "strings"

// BillingAddress is the optional payer address forwarded to the gateway for
// wallet tokenization and address verification.
type BillingAddress struct {
	Name       string `json:"name,omitempty" validate:"omitempty,max=200"`
	Line1      string `json:"line1,omitempty" validate:"omitempty,max=200"`
	City       string `json:"city,omitempty" validate:"omitempty,max=100"`
	State      string `json:"state,omitempty" validate:"omitempty,max=50"`
	PostalCode string `json:"postal_code,omitempty" validate:"omitempty,max=20"`
	Country    string `json:"country,omitempty" validate:"omitempty,len=2"`
}

// IsEmpty reports whether no field carries a value.
func (b *BillingAddress) IsEmpty() bool {
	if b == nil {
		return true
	}
	return strings.TrimSpace(b.Name+b.Line1+b.City+b.State+b.PostalCode+b.Country) == ""
}
