package fees

import (
	"github.com/shopspring/decimal"

	"github.com/cityportal/payments-backend/pkg/enums"
	pkgerrors "github.com/cityportal/payments-backend/pkg/errors"
)

// MaxBasisPoints is 100%. A profile at or above it cannot be grossed up.
const MaxBasisPoints = 10000

// Validation reasons carried in error details.
const (
	ReasonInvalidFeeConfiguration = "invalid_fee_configuration"
	ReasonAmountMismatch          = "amount_mismatch"
	ReasonInvalidAmount           = "invalid_amount"
)

// Profile is a merchant's fee schedule: one basis-points/fixed-fee pair per rail.
type Profile struct {
	CardBasisPoints   int64 `json:"card_basis_points"`
	CardFixedFeeCents int64 `json:"card_fixed_fee_cents"`
	ACHBasisPoints    int64 `json:"ach_basis_points"`
	ACHFixedFeeCents  int64 `json:"ach_fixed_fee_cents"`
}

// ForRail returns the pair that applies to rail.
func (p Profile) ForRail(rail enums.PaymentRail) (basisPoints, fixedFeeCents int64) {
	if rail == enums.PaymentRailACH {
		return p.ACHBasisPoints, p.ACHFixedFeeCents
	}
	return p.CardBasisPoints, p.CardFixedFeeCents
}

// Quote is the breakdown shown to the payer and recorded on the ledger.
type Quote struct {
	Rail             enums.PaymentRail `json:"rail"`
	BaseAmountCents  int64             `json:"base_amount_cents"`
	FeeCents         int64             `json:"fee_cents"`
	TotalAmountCents int64             `json:"total_amount_cents"`
	BasisPoints      int64             `json:"basis_points"`
	FixedFeeCents    int64             `json:"fixed_fee_cents"`
}

// Compute grosses up base so the merchant nets base after the processor takes
// basisPoints of the total:
//
//	total = round_half_up((base + fixed) / (1 - bp/10000))
func Compute(baseAmountCents, basisPoints, fixedFeeCents int64) (int64, error) {
	if basisPoints < 0 || basisPoints >= MaxBasisPoints || fixedFeeCents < 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "invalid fee configuration").
			WithDetails(map[string]any{
				"reason":          ReasonInvalidFeeConfiguration,
				"basis_points":    basisPoints,
				"fixed_fee_cents": fixedFeeCents,
			})
	}
	if baseAmountCents < 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "base amount must not be negative").
			WithDetails(map[string]any{"reason": ReasonInvalidAmount})
	}

	numerator := decimal.NewFromInt(baseAmountCents + fixedFeeCents).Mul(decimal.NewFromInt(MaxBasisPoints))
	denominator := decimal.NewFromInt(MaxBasisPoints - basisPoints)
	// DivRound rounds half away from zero, which is half-up for non-negative amounts.
	return numerator.DivRound(denominator, 0).IntPart(), nil
}

// QuoteFor computes the quote for base under the profile pair selected by rail.
func QuoteFor(baseAmountCents int64, profile Profile, rail enums.PaymentRail) (Quote, error) {
	bp, fixed := profile.ForRail(rail)
	total, err := Compute(baseAmountCents, bp, fixed)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Rail:             rail,
		BaseAmountCents:  baseAmountCents,
		FeeCents:         total - baseAmountCents,
		TotalAmountCents: total,
		BasisPoints:      bp,
		FixedFeeCents:    fixed,
	}, nil
}

// ValidateClientTotal rejects a client total further than toleranceCents from the server total.
func ValidateClientTotal(serverTotalCents, clientTotalCents, toleranceCents int64) error {
	diff := serverTotalCents - clientTotalCents
	if diff < 0 {
		diff = -diff
	}
	if diff > toleranceCents {
		return pkgerrors.New(pkgerrors.CodeValidation, "client total does not match the computed total").
			WithDetails(map[string]any{
				"reason":                    ReasonAmountMismatch,
				"expected_total_cents":      serverTotalCents,
				"client_total_amount_cents": clientTotalCents,
			})
	}
	return nil
}

// Reason returns the validation reason carried by err, or "".
func Reason(err error) string {
	typed := pkgerrors.As(err)
	if typed == nil {
		return ""
	}
	details, ok := typed.Details().(map[string]any)
	if !ok {
		return ""
	}
	reason, _ := details["reason"].(string)
	return reason
}
