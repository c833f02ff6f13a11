package entities

import (
	"github.com/cityportal/payments-backend/pkg/enums"
)

// KindSpec is the per-kind behavior table. Every payable kind runs through the
// same orchestration; only these properties differ.
type KindSpec struct {
	Type  enums.EntityType
	Table string
	// RequiresReview kinds stop at submitted after payment; the rest jump to approved.
	RequiresReview bool
	// CreateAndPay kinds are created by the payment request itself and deleted if it fails.
	CreateAndPay bool
}

var kindSpecs = map[enums.EntityType]KindSpec{
	enums.EntityTypeBill: {
		Type:  enums.EntityTypeBill,
		Table: "bills",
	},
	enums.EntityTypePermit: {
		Type:           enums.EntityTypePermit,
		Table:          "permits",
		RequiresReview: true,
	},
	enums.EntityTypeBusinessLicense: {
		Type:           enums.EntityTypeBusinessLicense,
		Table:          "business_licenses",
		RequiresReview: true,
	},
	enums.EntityTypeTaxSubmission: {
		Type:         enums.EntityTypeTaxSubmission,
		Table:        "tax_submissions",
		CreateAndPay: true,
	},
	enums.EntityTypeServiceApplication: {
		Type:           enums.EntityTypeServiceApplication,
		Table:          "service_applications",
		RequiresReview: true,
		CreateAndPay:   true,
	},
}

// SpecFor returns the behavior table entry for t.
func SpecFor(t enums.EntityType) (KindSpec, bool) {
	spec, ok := kindSpecs[t]
	return spec, ok
}

// SuccessStatus is the workflow status a confirmed payment moves the entity to.
func (k KindSpec) SuccessStatus() enums.EntityStatus {
	if k.RequiresReview {
		return enums.EntityStatusSubmitted
	}
	return enums.EntityStatusApproved
}

var payableStatuses = map[enums.EntityStatus]bool{
	enums.EntityStatusDraft:     true,
	enums.EntityStatusSubmitted: true,
}

// IsPayableStatus reports whether an entity in status s may be paid.
func IsPayableStatus(s enums.EntityStatus) bool {
	return payableStatuses[s]
}

var workflow = map[enums.EntityStatus][]enums.EntityStatus{
	enums.EntityStatusDraft:       {enums.EntityStatusSubmitted},
	enums.EntityStatusSubmitted:   {enums.EntityStatusUnderReview},
	enums.EntityStatusUnderReview: {enums.EntityStatusApproved, enums.EntityStatusDenied},
	enums.EntityStatusApproved:    {enums.EntityStatusIssued},
}

// CanTransition reports whether k may move from one status to another. A payment
// may additionally jump straight to approved for kinds without review, and a
// submitted entity of a review kind stays submitted.
func (k KindSpec) CanTransition(from, to enums.EntityStatus) bool {
	if !k.RequiresReview && to == enums.EntityStatusApproved && IsPayableStatus(from) {
		return true
	}
	if k.RequiresReview && from == enums.EntityStatusSubmitted && to == enums.EntityStatusSubmitted {
		return true
	}
	for _, next := range workflow[from] {
		if next == to {
			return true
		}
	}
	return false
}
