package fees

import (
	"testing"

	"github.com/cityportal/payments-backend/pkg/enums"
	pkgerrors "github.com/cityportal/payments-backend/pkg/errors"
)

func TestCompute(t *testing.T) {
	cases := []struct {
		name  string
		base  int64
		bp    int64
		fixed int64
		want  int64
	}{
		{name: "card profile", base: 10000, bp: 250, fixed: 50, want: 10308},
		{name: "zero fee", base: 10000, bp: 0, fixed: 0, want: 10000},
		{name: "fixed only", base: 2500, bp: 0, fixed: 30, want: 2530},
		{name: "rounds half up", base: 2, bp: 2000, fixed: 0, want: 3},
		{name: "rounds down below half", base: 100, bp: 300, fixed: 0, want: 103},
		{name: "ach profile", base: 55000, bp: 80, fixed: 0, want: 55444},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Compute(tc.base, tc.bp, tc.fixed)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestComputeRejectsInvalidFeeConfiguration(t *testing.T) {
	for _, bp := range []int64{10000, 12000, -1} {
		_, err := Compute(1000, bp, 0)
		if err == nil {
			t.Fatalf("bp=%d: expected error", bp)
		}
		if Reason(err) != ReasonInvalidFeeConfiguration {
			t.Fatalf("bp=%d: unexpected reason %q", bp, Reason(err))
		}
		if pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
			t.Fatalf("bp=%d: expected validation code", bp)
		}
	}
}

func TestQuoteForSelectsRail(t *testing.T) {
	profile := Profile{CardBasisPoints: 250, CardFixedFeeCents: 50, ACHBasisPoints: 0, ACHFixedFeeCents: 100}

	card, err := QuoteFor(10000, profile, enums.PaymentRailCard)
	if err != nil {
		t.Fatalf("card quote: %v", err)
	}
	if card.TotalAmountCents != 10308 || card.FeeCents != 308 {
		t.Fatalf("unexpected card quote %+v", card)
	}

	ach, err := QuoteFor(10000, profile, enums.PaymentRailACH)
	if err != nil {
		t.Fatalf("ach quote: %v", err)
	}
	if ach.TotalAmountCents != 10100 || ach.FeeCents != 100 || ach.Rail != enums.PaymentRailACH {
		t.Fatalf("unexpected ach quote %+v", ach)
	}
}

func TestValidateClientTotal(t *testing.T) {
	if err := ValidateClientTotal(10308, 10308, 2); err != nil {
		t.Fatalf("exact total rejected: %v", err)
	}
	if err := ValidateClientTotal(10308, 10306, 2); err != nil {
		t.Fatalf("total within tolerance rejected: %v", err)
	}
	if err := ValidateClientTotal(10308, 10310, 2); err != nil {
		t.Fatalf("total within tolerance rejected: %v", err)
	}
	err := ValidateClientTotal(10308, 10305, 2)
	if err == nil {
		t.Fatal("expected amount mismatch")
	}
	if Reason(err) != ReasonAmountMismatch {
		t.Fatalf("unexpected reason %q", Reason(err))
	}
	if err := ValidateClientTotal(10308, 10000, 2); Reason(err) != ReasonAmountMismatch {
		t.Fatal("expected base-only total to be rejected")
	}
}
