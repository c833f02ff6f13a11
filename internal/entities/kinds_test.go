package entities

import (
	"testing"

	"github.com/cityportal/payments-backend/pkg/enums"
)

func TestSuccessStatusByKind(t *testing.T) {
	cases := map[enums.EntityType]enums.EntityStatus{
		enums.EntityTypeBill:               enums.EntityStatusApproved,
		enums.EntityTypeTaxSubmission:      enums.EntityStatusApproved,
		enums.EntityTypePermit:             enums.EntityStatusSubmitted,
		enums.EntityTypeBusinessLicense:    enums.EntityStatusSubmitted,
		enums.EntityTypeServiceApplication: enums.EntityStatusSubmitted,
	}
	for kind, want := range cases {
		spec, ok := SpecFor(kind)
		if !ok {
			t.Fatalf("missing spec for %s", kind)
		}
		if got := spec.SuccessStatus(); got != want {
			t.Fatalf("%s: expected %s, got %s", kind, want, got)
		}
	}
}

func TestCreateAndPayKinds(t *testing.T) {
	for _, kind := range []enums.EntityType{enums.EntityTypeTaxSubmission, enums.EntityTypeServiceApplication} {
		if spec, _ := SpecFor(kind); !spec.CreateAndPay {
			t.Fatalf("%s should be create-and-pay", kind)
		}
	}
	for _, kind := range []enums.EntityType{enums.EntityTypeBill, enums.EntityTypePermit, enums.EntityTypeBusinessLicense} {
		if spec, _ := SpecFor(kind); spec.CreateAndPay {
			t.Fatalf("%s should not be create-and-pay", kind)
		}
	}
}

func TestPayableStatuses(t *testing.T) {
	for _, status := range []enums.EntityStatus{enums.EntityStatusDraft, enums.EntityStatusSubmitted} {
		if !IsPayableStatus(status) {
			t.Fatalf("%s should be payable", status)
		}
	}
	for _, status := range []enums.EntityStatus{enums.EntityStatusUnderReview, enums.EntityStatusApproved, enums.EntityStatusDenied, enums.EntityStatusIssued} {
		if IsPayableStatus(status) {
			t.Fatalf("%s should not be payable", status)
		}
	}
}

func TestCanTransition(t *testing.T) {
	bill, _ := SpecFor(enums.EntityTypeBill)
	permit, _ := SpecFor(enums.EntityTypePermit)

	cases := []struct {
		name string
		spec KindSpec
		from enums.EntityStatus
		to   enums.EntityStatus
		want bool
	}{
		{"bill pays straight to approved", bill, enums.EntityStatusDraft, enums.EntityStatusApproved, true},
		{"permit cannot skip review", permit, enums.EntityStatusDraft, enums.EntityStatusApproved, false},
		{"permit draft to submitted", permit, enums.EntityStatusDraft, enums.EntityStatusSubmitted, true},
		{"permit stays submitted", permit, enums.EntityStatusSubmitted, enums.EntityStatusSubmitted, true},
		{"review to denied", permit, enums.EntityStatusUnderReview, enums.EntityStatusDenied, true},
		{"approved to issued", permit, enums.EntityStatusApproved, enums.EntityStatusIssued, true},
		{"denied is final", permit, enums.EntityStatusDenied, enums.EntityStatusIssued, false},
		{"no going back", bill, enums.EntityStatusApproved, enums.EntityStatusDraft, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.spec.CanTransition(tc.from, tc.to); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
