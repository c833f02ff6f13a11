package square

import (
	"strings"

	sq "github.com/square/square-go-sdk"
)

// CustomerCreateParams defines the payload to create a Square customer.
type CustomerCreateParams struct {
	Email          string
	PhoneNumber    string
	GivenName      string
	FamilyName     string
	CompanyName    string
	ReferenceID    string
	Address        *sq.Address
	Note           string
	IdempotencyKey string
}

func (p CustomerCreateParams) toSquareRequest(key string) *sq.CreateCustomerRequest {
	return &sq.CreateCustomerRequest{
		IdempotencyKey: optional(key),
		EmailAddress:   optional(p.Email),
		PhoneNumber:    optional(e164(p.PhoneNumber)),
		GivenName:      optional(p.GivenName),
		FamilyName:     optional(p.FamilyName),
		CompanyName:    optional(p.CompanyName),
		ReferenceID:    optional(p.ReferenceID),
		Address:        p.Address,
		Note:           optional(p.Note),
	}
}

// CardCreateParams groups the data needed to vault a card on file.
type CardCreateParams struct {
	CustomerID        string
	SourceID          string
	CardholderName    string
	BillingAddress    *sq.Address
	ReferenceID       string
	VerificationToken string
	IdempotencyKey    string
}

func (p CardCreateParams) toSquareRequest(key string) *sq.CreateCardRequest {
	card := &sq.Card{
		CustomerID:     optional(p.CustomerID),
		CardholderName: optional(p.CardholderName),
		ReferenceID:    optional(p.ReferenceID),
		BillingAddress: p.BillingAddress,
	}
	if card.CustomerID == nil && card.CardholderName == nil && card.ReferenceID == nil && card.BillingAddress == nil {
		card = nil
	}
	return &sq.CreateCardRequest{
		IdempotencyKey:    key,
		SourceID:          p.SourceID,
		VerificationToken: optional(p.VerificationToken),
		Card:              card,
	}
}

// PaymentCreateParams encapsulates the inputs for a Square payment.
type PaymentCreateParams struct {
	AmountCents    int64
	Currency       string
	LocationID     string
	CustomerID     string
	SourceID       string
	IdempotencyKey string
	Note           string
	ReferenceID    string
	BillingAddress *sq.Address
}

func (p PaymentCreateParams) toSquareRequest(key string) *sq.CreatePaymentRequest {
	return &sq.CreatePaymentRequest{
		IdempotencyKey: key,
		SourceID:       p.SourceID,
		LocationID:     optional(p.LocationID),
		CustomerID:     optional(p.CustomerID),
		AmountMoney:    money(p.AmountCents, p.Currency),
		Autocomplete:   ptr(true),
		Note:           optional(p.Note),
		ReferenceID:    optional(p.ReferenceID),
		BillingAddress: p.BillingAddress,
	}
}

// Address builds a Square address from the billing fields a payer may supply,
// returning nil when every field is blank.
func Address(name, line1, locality, region, postalCode, country string) *sq.Address {
	addr := &sq.Address{
		AddressLine1:                 optional(line1),
		Locality:                     optional(locality),
		AdministrativeDistrictLevel1: optional(region),
		PostalCode:                   optional(postalCode),
	}
	if given, family, _ := strings.Cut(strings.TrimSpace(name), " "); given != "" {
		addr.FirstName = optional(given)
		addr.LastName = optional(family)
	}
	if code := strings.ToUpper(strings.TrimSpace(country)); code != "" {
		addr.Country = ptr(sq.Country(code))
	}
	if addr.AddressLine1 == nil && addr.Locality == nil && addr.AdministrativeDistrictLevel1 == nil &&
		addr.PostalCode == nil && addr.FirstName == nil && addr.Country == nil {
		return nil
	}
	return addr
}

// e164 assumes a bare number is North American.
func e164(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" || strings.HasPrefix(phone, "+") {
		return phone
	}
	return "+1" + phone
}

func money(amount int64, currency string) *sq.Money {
	if amount <= 0 {
		return nil
	}
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" {
		code = defaultCurrency
	}
	return &sq.Money{Amount: ptr(amount), Currency: ptr(sq.Currency(code))}
}

// optional trims value and returns nil for blanks.
func optional(value string) *string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return &trimmed
	}
	return nil
}

func ptr[T any](v T) *T {
	return &v
}
