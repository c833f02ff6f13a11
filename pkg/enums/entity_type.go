package enums

import "fmt"

// EntityType enumerates the payable entity kinds the orchestrator can charge for.
type EntityType string

const (
	EntityTypeBill               EntityType = "bill"
	EntityTypePermit             EntityType = "permit"
	EntityTypeBusinessLicense    EntityType = "business_license"
	EntityTypeTaxSubmission      EntityType = "tax_submission"
	EntityTypeServiceApplication EntityType = "service_application"
)

var validEntityTypes = []EntityType{
	EntityTypeBill,
	EntityTypePermit,
	EntityTypeBusinessLicense,
	EntityTypeTaxSubmission,
	EntityTypeServiceApplication,
}

// String implements fmt.Stringer.
func (e EntityType) String() string {
	return string(e)
}

// IsValid reports whether the value is a known EntityType.
func (e EntityType) IsValid() bool {
	for _, candidate := range validEntityTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEntityType converts raw input into a EntityType.
func ParseEntityType(value string) (EntityType, error) {
	for _, candidate := range validEntityTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid entity type %q", value)
}
