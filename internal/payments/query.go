package payments

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cityportal/payments-backend/internal/entities"
	"github.com/cityportal/payments-backend/internal/fees"
	"github.com/cityportal/payments-backend/pkg/enums"
	pkgerrors "github.com/cityportal/payments-backend/pkg/errors"
)

// Get returns a recorded attempt owned by principalID.
func (s *Service) Get(ctx context.Context, principalID, ledgerID uuid.UUID) (*Result, error) {
	if principalID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	record, err := s.ledger.GetByID(ctx, ledgerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}
	if record.OwnerID != principalID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return resultFromRecord(record), nil
}

// History lists the caller's attempts against one entity, failures included.
// Attempts by other principals are omitted rather than reported.
func (s *Service) History(ctx context.Context, principalID uuid.UUID, entityType enums.EntityType, entityID uuid.UUID) ([]*Result, error) {
	if principalID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if _, ok := entities.SpecFor(entityType); !ok {
		return nil, invalid("entity_type", "unknown entity_type")
	}
	records, err := s.ledger.GetByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment history")
	}
	out := make([]*Result, 0, len(records))
	for i := range records {
		if records[i].OwnerID == principalID {
			out = append(out, resultFromRecord(&records[i]))
		}
	}
	return out, nil
}

// QuoteRequest asks for the fee breakdown of paying an entity with a method.
// Create-and-pay kinds have no entity yet and name the merchant and base amount.
type QuoteRequest struct {
	PrincipalID     uuid.UUID
	EntityType      enums.EntityType
	EntityID        *uuid.UUID
	MerchantID      uuid.UUID
	BaseAmountCents int64
	MethodType      enums.PaymentMethodType
}

// PreviewFee computes the amount the client must present, using the same
// calculation the payment itself is checked against.
func (s *Service) PreviewFee(ctx context.Context, req QuoteRequest) (fees.Quote, error) {
	if req.PrincipalID == uuid.Nil {
		return fees.Quote{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	spec, ok := entities.SpecFor(req.EntityType)
	if !ok {
		return fees.Quote{}, invalid("entity_type", "unknown entity_type")
	}
	rail, err := s.instruments.RailFor(req.MethodType)
	if err != nil {
		return fees.Quote{}, err
	}

	merchantID, base := req.MerchantID, req.BaseAmountCents
	if !spec.CreateAndPay {
		if req.EntityID == nil || *req.EntityID == uuid.Nil {
			return fees.Quote{}, invalid("entity_id", "entity_id is required")
		}
		entity, err := s.entities.Resolve(ctx, req.EntityType, *req.EntityID, req.PrincipalID)
		if err != nil {
			return fees.Quote{}, err
		}
		merchantID, base = entity.MerchantID, entity.BaseAmountCents
	} else {
		if merchantID == uuid.Nil {
			return fees.Quote{}, invalid("merchant_id", "merchant_id is required")
		}
		if base <= 0 {
			return fees.Quote{}, invalid("base_amount_cents", "base_amount_cents must be positive")
		}
		if err := s.merchants.CheckDraftKind(ctx, merchantID, req.EntityType); err != nil {
			return fees.Quote{}, err
		}
	}

	profile, err := s.merchants.GetFeeProfile(ctx, merchantID)
	if err != nil {
		return fees.Quote{}, err
	}
	return fees.QuoteFor(base, profile.Fees, rail)
}
