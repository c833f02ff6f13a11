package enums

import "fmt"

// PaymentMethodType identifies how the payer funds a transfer.
type PaymentMethodType string

const (
	PaymentMethodTypeCard          PaymentMethodType = "card"
	PaymentMethodTypeUSBankAccount PaymentMethodType = "us_bank_account"
	PaymentMethodTypeApplePay      PaymentMethodType = "apple_pay"
	PaymentMethodTypeGooglePay     PaymentMethodType = "google_pay"
)

var validPaymentMethodTypes = []PaymentMethodType{
	PaymentMethodTypeCard,
	PaymentMethodTypeUSBankAccount,
	PaymentMethodTypeApplePay,
	PaymentMethodTypeGooglePay,
}

// String implements fmt.Stringer.
func (p PaymentMethodType) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p PaymentMethodType) IsValid() bool {
	for _, candidate := range validPaymentMethodTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentMethodType converts raw input into a PaymentMethodType.
func ParsePaymentMethodType(value string) (PaymentMethodType, error) {
	for _, candidate := range validPaymentMethodTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method type %q", value)
}

// IsWallet reports whether the method arrives as a single-use wallet token.
func (p PaymentMethodType) IsWallet() bool {
	return p == PaymentMethodTypeApplePay || p == PaymentMethodTypeGooglePay
}

// Rail maps the method onto the fee rail. Wallets settle over card rails.
func (p PaymentMethodType) Rail() PaymentRail {
	if p == PaymentMethodTypeUSBankAccount {
		return PaymentRailACH
	}
	return PaymentRailCard
}
