package entities

import (
	"strings"

	"github.com/google/uuid"

	"github.com/cityportal/payments-backend/pkg/db/models"
	"github.com/cityportal/payments-backend/pkg/enums"
	pkgerrors "github.com/cityportal/payments-backend/pkg/errors"
)

// Entity is the payable entity a single payment attempt operates on.
type Entity struct {
	Type enums.EntityType
	*models.Payable
	// CreatedInAttempt marks drafts inserted by the current attempt; compensation deletes them.
	CreatedInAttempt bool
	row              any
}

// Spec returns the behavior table entry for the entity's kind.
func (e *Entity) Spec() KindSpec {
	spec, _ := SpecFor(e.Type)
	return spec
}

// Clone copies e so a write attempt can mutate it without touching the original.
func (e *Entity) Clone() *Entity {
	c := *e
	if e.Payable != nil {
		p := *e.Payable
		c.Payable = &p
	}
	return &c
}

// Draft is the inline body of a create-and-pay request.
type Draft struct {
	MerchantID      uuid.UUID `json:"merchant_id"`
	BaseAmountCents int64     `json:"base_amount_cents"`
	TaxType         string    `json:"tax_type,omitempty"`
	Period          string    `json:"period,omitempty"`
	ServiceType     string    `json:"service_type,omitempty"`
	Description     string    `json:"description,omitempty"`
}

// BuildDraft validates d and returns an unsaved entity owned by ownerID and tagged
// with the attempt's idempotency key.
func BuildDraft(t enums.EntityType, ownerID uuid.UUID, originKey string, d Draft) (*Entity, error) {
	spec, ok := SpecFor(t)
	if !ok || !spec.CreateAndPay {
		return nil, draftError("entity_type", "entity type is not created at payment time")
	}
	if d.MerchantID == uuid.Nil {
		return nil, draftError("merchant_id", "merchant_id is required")
	}
	if d.BaseAmountCents <= 0 {
		return nil, draftError("base_amount_cents", "base_amount_cents must be positive")
	}

	key := originKey
	base := models.Payable{
		ID:                   uuid.New(),
		OwnerID:              ownerID,
		MerchantID:           d.MerchantID,
		Status:               enums.EntityStatusDraft,
		PaymentStatus:        enums.PaymentStatusUnpaid,
		BaseAmountCents:      d.BaseAmountCents,
		OriginIdempotencyKey: &key,
	}

	entity := &Entity{Type: t, CreatedInAttempt: true}
	switch t {
	case enums.EntityTypeTaxSubmission:
		if strings.TrimSpace(d.TaxType) == "" || strings.TrimSpace(d.Period) == "" {
			return nil, draftError("tax_type", "tax_type and period are required")
		}
		row := &models.TaxSubmission{Payable: base, TaxType: strings.TrimSpace(d.TaxType), Period: strings.TrimSpace(d.Period)}
		entity.Payable, entity.row = &row.Payable, row
	case enums.EntityTypeServiceApplication:
		if strings.TrimSpace(d.ServiceType) == "" {
			return nil, draftError("service_type", "service_type is required")
		}
		row := &models.ServiceApplication{Payable: base, ServiceType: strings.TrimSpace(d.ServiceType), Description: d.Description}
		entity.Payable, entity.row = &row.Payable, row
	default:
		return nil, draftError("entity_type", "entity type is not created at payment time")
	}
	return entity, nil
}

func draftError(field, msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(map[string]any{
		"reason": "invalid_entity_draft",
		"field":  field,
	})
}
