package instruments

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cityportal/payments-backend/internal/gateway"
	"github.com/cityportal/payments-backend/pkg/db/models"
	"github.com/cityportal/payments-backend/pkg/enums"
	pkgerrors "github.com/cityportal/payments-backend/pkg/errors"
	"github.com/cityportal/payments-backend/pkg/types"
)

// EnrollCardInput captures a card nonce the resident wants to keep on file.
type EnrollCardInput struct {
	Nonce             string
	VerificationToken string
	Billing           *types.BillingAddress
	IdempotencyKey    string
}

// Enroller stores cards with the gateway and records them as instruments.
type Enroller struct {
	repo    Repository
	vaulter gateway.Vaulter
}

// NewEnroller builds an Enroller.
func NewEnroller(repo Repository, vaulter gateway.Vaulter) (*Enroller, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "instrument repository required")
	}
	if vaulter == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "card vaulter required")
	}
	return &Enroller{repo: repo, vaulter: vaulter}, nil
}

// EnrollCard vaults the nonce and persists the resulting stored instrument.
func (e *Enroller) EnrollCard(ctx context.Context, ownerID uuid.UUID, input EnrollCardInput) (*models.PaymentInstrument, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if strings.TrimSpace(input.Nonce) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "card nonce is required")
	}
	if strings.TrimSpace(input.IdempotencyKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}

	vaulted, err := e.vaulter.VaultCard(ctx, gateway.VaultCardInput{
		PrincipalID:       ownerID,
		Nonce:             input.Nonce,
		VerificationToken: strings.TrimSpace(input.VerificationToken),
		Billing:           input.Billing,
		IdempotencyKey:    input.IdempotencyKey,
	})
	if err != nil {
		if failure, ok := gateway.AsFailure(err); ok {
			if failure.Unreachable {
				return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayUnreachable, err, "payment processor unreachable")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodePaymentFailed, err, "card was rejected").WithDetails(map[string]any{
				"failure_code":    failure.Code,
				"failure_message": failure.Message,
			})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid card enrollment")
	}

	instrument := &models.PaymentInstrument{
		OwnerID:             ownerID,
		MethodType:          enums.PaymentMethodTypeCard,
		GatewayCustomerID:   optional(vaulted.CustomerID),
		GatewayInstrumentID: vaulted.InstrumentID,
		Brand:               optional(vaulted.Brand),
		LastFour:            optional(vaulted.LastFour),
		Enabled:             true,
	}
	if err := e.repo.Create(ctx, instrument); err != nil {
		if errors.Is(err, ErrDuplicateInstrument) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "card already enrolled")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist payment instrument")
	}
	return instrument, nil
}

// List returns the owner's enabled instruments, newest first.
func (e *Enroller) List(ctx context.Context, ownerID uuid.UUID) ([]models.PaymentInstrument, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	list, err := e.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list payment instruments")
	}
	return list, nil
}

// Remove disables an instrument so it can no longer fund payments. Past ledger
// rows keep their gateway instrument id.
func (e *Enroller) Remove(ctx context.Context, ownerID, instrumentID uuid.UUID) error {
	if ownerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if err := e.repo.Disable(ctx, instrumentID, ownerID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payment instrument not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "disable payment instrument")
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
