package instruments

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cityportal/payments-backend/internal/gateway"
	"github.com/cityportal/payments-backend/pkg/enums"
	pkgerrors "github.com/cityportal/payments-backend/pkg/errors"
	"github.com/cityportal/payments-backend/pkg/logger"
	"github.com/cityportal/payments-backend/pkg/types"
)

// Source names the funding source of a payment request: a stored instrument id or
// a single-use wallet token.
type Source struct {
	InstrumentID *uuid.UUID
	WalletToken  string
	WalletType   enums.PaymentMethodType
	Billing      *types.BillingAddress
}

// Validate checks that exactly one funding source is present.
func (s Source) Validate() error {
	hasStored := s.InstrumentID != nil && *s.InstrumentID != uuid.Nil
	hasWallet := strings.TrimSpace(s.WalletToken) != ""
	switch {
	case hasStored && hasWallet:
		return sourceError("provide either payment_instrument_id or wallet_token, not both")
	case !hasStored && !hasWallet:
		return sourceError("payment_instrument_id or wallet_token is required")
	case hasWallet && !s.WalletType.IsWallet():
		return sourceError("wallet_type must be apple_pay or google_pay")
	}
	return nil
}

// ResolvedInstrument is a funding source ready to be charged.
type ResolvedInstrument struct {
	GatewayInstrumentID string
	CustomerID          string
	Rail                enums.PaymentRail
	MethodType          enums.PaymentMethodType
	Brand               string
	LastFour            string
	// Ephemeral instruments come from wallet tokens and are never persisted.
	Ephemeral bool
}

// ResolverParams groups the resolver's collaborators.
type ResolverParams struct {
	Repo     Repository
	Gateway  gateway.Client
	AllowACH bool
	Logger   *logger.Logger
}

// Resolver turns a Source into a ResolvedInstrument.
type Resolver struct {
	repo     Repository
	gateway  gateway.Client
	allowACH bool
	logg     *logger.Logger
}

// NewResolver validates params and builds a Resolver.
func NewResolver(params ResolverParams) (*Resolver, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "instrument repository required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway client required")
	}
	return &Resolver{
		repo:     params.Repo,
		gateway:  params.Gateway,
		allowACH: params.AllowACH,
		logg:     params.Logger,
	}, nil
}

// ResolveStored loads a stored instrument owned by principalID.
func (r *Resolver) ResolveStored(ctx context.Context, principalID, instrumentID uuid.UUID) (*ResolvedInstrument, error) {
	instrument, err := r.repo.GetInstrument(ctx, instrumentID, principalID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment instrument not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment instrument")
	}
	if !instrument.Enabled {
		// removed instruments look the same as missing ones
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment instrument not found")
	}
	rail, err := r.RailFor(instrument.MethodType)
	if err != nil {
		return nil, err
	}
	return &ResolvedInstrument{
		GatewayInstrumentID: instrument.GatewayInstrumentID,
		CustomerID:          deref(instrument.GatewayCustomerID),
		Rail:                rail,
		MethodType:          instrument.MethodType,
		Brand:               deref(instrument.Brand),
		LastFour:            deref(instrument.LastFour),
	}, nil
}

// RailFor maps a method type onto its fee rail, rejecting rails that are turned off.
func (r *Resolver) RailFor(method enums.PaymentMethodType) (enums.PaymentRail, error) {
	if !method.IsValid() {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "unknown payment method type").WithDetails(map[string]any{
			"reason": "invalid_method_type",
		})
	}
	rail := method.Rail()
	if rail == enums.PaymentRailACH && !r.allowACH {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "bank account payments are not enabled").WithDetails(map[string]any{
			"reason": "rail_disabled",
		})
	}
	return rail, nil
}

// ExchangeWallet trades a wallet token for a single-use gateway instrument. The
// returned error wraps a *gateway.Failure when the processor refused or was unreachable.
func (r *Resolver) ExchangeWallet(ctx context.Context, principalID uuid.UUID, merchantRef, attemptKey string, src Source) (*ResolvedInstrument, error) {
	instrument, err := r.gateway.CreateInstrument(ctx, gateway.CreateInstrumentInput{
		PrincipalID:    principalID,
		MerchantRef:    merchantRef,
		Token:          strings.TrimSpace(src.WalletToken),
		MethodType:     src.WalletType,
		Billing:        src.Billing,
		IdempotencyKey: attemptKey,
	})
	if err != nil {
		if r.logg != nil {
			r.logg.Warn(r.logg.WithField(ctx, "wallet_type", src.WalletType), "wallet token exchange failed")
		}
		return nil, err
	}
	return &ResolvedInstrument{
		GatewayInstrumentID: instrument.InstrumentID,
		CustomerID:          instrument.CustomerID,
		Rail:                src.WalletType.Rail(),
		MethodType:          src.WalletType,
		Brand:               instrument.Brand,
		LastFour:            instrument.LastFour,
		Ephemeral:           true,
	}, nil
}

func sourceError(msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(map[string]any{"reason": "invalid_payment_source"})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
