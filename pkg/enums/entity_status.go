package enums

import "fmt"

// EntityStatus is the workflow state shared by every payable entity kind.
type EntityStatus string

const (
	EntityStatusDraft       EntityStatus = "draft"
	EntityStatusSubmitted   EntityStatus = "submitted"
	EntityStatusUnderReview EntityStatus = "under_review"
	EntityStatusApproved    EntityStatus = "approved"
	EntityStatusDenied      EntityStatus = "denied"
	EntityStatusIssued      EntityStatus = "issued"
)

var validEntityStatuses = []EntityStatus{
	EntityStatusDraft,
	EntityStatusSubmitted,
	EntityStatusUnderReview,
	EntityStatusApproved,
	EntityStatusDenied,
	EntityStatusIssued,
}

// String implements fmt.Stringer.
func (s EntityStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known EntityStatus.
func (s EntityStatus) IsValid() bool {
	for _, candidate := range validEntityStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseEntityStatus converts raw input into a EntityStatus.
func ParseEntityStatus(value string) (EntityStatus, error) {
	for _, candidate := range validEntityStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid entity status %q", value)
}
