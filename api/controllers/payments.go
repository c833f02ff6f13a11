package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cityportal/payments-backend/api/middleware"
	"github.com/cityportal/payments-backend/api/responses"
	"github.com/cityportal/payments-backend/api/validators"
	"github.com/cityportal/payments-backend/internal/entities"
	"github.com/cityportal/payments-backend/internal/fees"
	"github.com/cityportal/payments-backend/internal/instruments"
	"github.com/cityportal/payments-backend/internal/payments"
	"github.com/cityportal/payments-backend/pkg/enums"
	pkgerrors "github.com/cityportal/payments-backend/pkg/errors"
	"github.com/cityportal/payments-backend/pkg/logger"
	"github.com/cityportal/payments-backend/pkg/types"
)

// PaymentService is the orchestrator surface the HTTP layer needs.
type PaymentService interface {
	Pay(ctx context.Context, req payments.PayRequest) (*payments.Result, error)
	Get(ctx context.Context, principalID, ledgerID uuid.UUID) (*payments.Result, error)
	PreviewFee(ctx context.Context, req payments.QuoteRequest) (fees.Quote, error)
	History(ctx context.Context, principalID uuid.UUID, entityType enums.EntityType, entityID uuid.UUID) ([]*payments.Result, error)
}

type paymentRequest struct {
	EntityType             string                `json:"entity_type" validate:"required"`
	EntityID               *uuid.UUID            `json:"entity_id,omitempty"`
	EntityDraft            *entities.Draft       `json:"entity_draft,omitempty"`
	PaymentInstrumentID    *uuid.UUID            `json:"payment_instrument_id,omitempty"`
	WalletToken            string                `json:"wallet_token,omitempty" validate:"omitempty,max=4096"`
	WalletType             string                `json:"wallet_type,omitempty"`
	ClientTotalAmountCents int64                 `json:"client_total_amount_cents" validate:"required,gt=0"`
	IdempotencyKey         string                `json:"idempotency_key" validate:"required,max=255"`
	FraudSessionID         string                `json:"fraud_session_id,omitempty" validate:"omitempty,max=255"`
	BillingAddress         *types.BillingAddress `json:"billing_address,omitempty"`
}

// PaymentCreate charges the caller for a payable entity.
func PaymentCreate(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		var payload paymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		req, err := payload.toPayRequest(middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if header := strings.TrimSpace(r.Header.Get(middleware.IdempotencyHeader)); header != "" && header != req.IdempotencyKey {
			responses.WriteError(r.Context(), logg, w, fieldError("idempotency_key", "Idempotency-Key header must match idempotency_key"))
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithField(ctx, "idempotency_key", req.IdempotencyKey)
		}

		result, err := svc.Pay(ctx, req)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if failure := result.Err(); failure != nil {
			responses.WriteError(ctx, logg, w, failure)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func (p paymentRequest) toPayRequest(principalID uuid.UUID) (payments.PayRequest, error) {
	entityType, err := enums.ParseEntityType(strings.TrimSpace(p.EntityType))
	if err != nil {
		return payments.PayRequest{}, fieldError("entity_type", err.Error())
	}

	source := instruments.Source{
		InstrumentID: p.PaymentInstrumentID,
		WalletToken:  strings.TrimSpace(p.WalletToken),
	}
	if !p.BillingAddress.IsEmpty() {
		source.Billing = p.BillingAddress
	}
	if raw := strings.TrimSpace(p.WalletType); raw != "" {
		walletType, err := enums.ParsePaymentMethodType(raw)
		if err != nil {
			return payments.PayRequest{}, fieldError("wallet_type", err.Error())
		}
		source.WalletType = walletType
	}

	return payments.PayRequest{
		PrincipalID:      principalID,
		EntityType:       entityType,
		EntityID:         p.EntityID,
		Draft:            p.EntityDraft,
		Source:           source,
		ClientTotalCents: p.ClientTotalAmountCents,
		IdempotencyKey:   strings.TrimSpace(p.IdempotencyKey),
		FraudSessionID:   strings.TrimSpace(p.FraudSessionID),
	}, nil
}

// PaymentGet returns the recorded outcome of an earlier attempt owned by the caller.
func PaymentGet(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		ledgerID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "ledgerID")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, fieldError("ledger_id", "ledger id must be a uuid"))
			return
		}

		result, err := svc.Get(r.Context(), middleware.UserIDFromContext(r.Context()), ledgerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// PaymentHistory lists the caller's attempts for the entity named in the query.
func PaymentHistory(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		rawType, err := validators.RequireQuery(r, "entity_type")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entityType, err := enums.ParseEntityType(rawType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, fieldError("entity_type", err.Error()))
			return
		}
		entityID, err := validators.ParseQueryUUID(r, "entity_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if entityID == nil {
			responses.WriteError(r.Context(), logg, w, fieldError("entity_id", "entity_id is required"))
			return
		}

		results, err := svc.History(r.Context(), middleware.UserIDFromContext(r.Context()), entityType, *entityID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, results)
	}
}

// PaymentQuote previews the fee and total for paying an entity with a method type.
func PaymentQuote(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		req, err := quoteRequestFromQuery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		quote, err := svc.PreviewFee(r.Context(), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, quote)
	}
}

func quoteRequestFromQuery(r *http.Request) (payments.QuoteRequest, error) {
	rawType, err := validators.RequireQuery(r, "entity_type")
	if err != nil {
		return payments.QuoteRequest{}, err
	}
	entityType, err := enums.ParseEntityType(rawType)
	if err != nil {
		return payments.QuoteRequest{}, fieldError("entity_type", err.Error())
	}

	rawMethod, err := validators.RequireQuery(r, "method_type")
	if err != nil {
		return payments.QuoteRequest{}, err
	}
	methodType, err := enums.ParsePaymentMethodType(rawMethod)
	if err != nil {
		return payments.QuoteRequest{}, fieldError("method_type", err.Error())
	}

	entityID, err := validators.ParseQueryUUID(r, "entity_id")
	if err != nil {
		return payments.QuoteRequest{}, err
	}
	merchantID, err := validators.ParseQueryUUID(r, "merchant_id")
	if err != nil {
		return payments.QuoteRequest{}, err
	}
	base, err := validators.ParseQueryInt64(r, "base_amount_cents", 0, 0, maxQuoteBaseCents)
	if err != nil {
		return payments.QuoteRequest{}, err
	}

	req := payments.QuoteRequest{
		PrincipalID:     middleware.UserIDFromContext(r.Context()),
		EntityType:      entityType,
		EntityID:        entityID,
		BaseAmountCents: base,
		MethodType:      methodType,
	}
	if merchantID != nil {
		req.MerchantID = *merchantID
	}
	return req, nil
}

// maxQuoteBaseCents caps previews at $10M.
const maxQuoteBaseCents = 1_000_000_000

func fieldError(field, msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(map[string]any{
		"reason": "invalid_request",
		"field":  field,
	})
}
