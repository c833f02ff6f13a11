package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cityportal/payments-backend/api/middleware"
	"github.com/cityportal/payments-backend/api/responses"
	"github.com/cityportal/payments-backend/api/validators"
	"github.com/cityportal/payments-backend/internal/instruments"
	"github.com/cityportal/payments-backend/pkg/db/models"
	"github.com/cityportal/payments-backend/pkg/enums"
	pkgerrors "github.com/cityportal/payments-backend/pkg/errors"
	"github.com/cityportal/payments-backend/pkg/logger"
	"github.com/cityportal/payments-backend/pkg/types"
)

// InstrumentService manages the caller's stored payment instruments.
type InstrumentService interface {
	EnrollCard(ctx context.Context, ownerID uuid.UUID, input instruments.EnrollCardInput) (*models.PaymentInstrument, error)
	List(ctx context.Context, ownerID uuid.UUID) ([]models.PaymentInstrument, error)
	Remove(ctx context.Context, ownerID, instrumentID uuid.UUID) error
}

type enrollCardRequest struct {
	Nonce             string                `json:"nonce" validate:"required,max=4096"`
	VerificationToken string                `json:"verification_token,omitempty" validate:"omitempty,max=4096"`
	BillingAddress    *types.BillingAddress `json:"billing_address,omitempty"`
}

type instrumentResponse struct {
	ID         uuid.UUID               `json:"id"`
	MethodType enums.PaymentMethodType `json:"method_type"`
	Brand      string                  `json:"brand,omitempty"`
	LastFour   string                  `json:"last_four,omitempty"`
	Enabled    bool                    `json:"enabled"`
	CreatedAt  time.Time               `json:"created_at"`
}

// InstrumentEnroll vaults a card nonce and returns the stored instrument.
func InstrumentEnroll(svc InstrumentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "instrument service unavailable"))
			return
		}

		var payload enrollCardRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := instruments.EnrollCardInput{
			Nonce:             strings.TrimSpace(payload.Nonce),
			VerificationToken: strings.TrimSpace(payload.VerificationToken),
			IdempotencyKey:    strings.TrimSpace(r.Header.Get(middleware.IdempotencyHeader)),
		}
		if !payload.BillingAddress.IsEmpty() {
			input.Billing = payload.BillingAddress
		}

		instrument, err := svc.EnrollCard(r.Context(), middleware.UserIDFromContext(r.Context()), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toInstrumentResponse(instrument))
	}
}

// InstrumentList returns the caller's enabled instruments.
func InstrumentList(svc InstrumentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "instrument service unavailable"))
			return
		}
		list, err := svc.List(r.Context(), middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]instrumentResponse, 0, len(list))
		for i := range list {
			out = append(out, toInstrumentResponse(&list[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

// InstrumentRemove disables one of the caller's instruments.
func InstrumentRemove(svc InstrumentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "instrument service unavailable"))
			return
		}
		id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "instrumentID")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, fieldError("instrument_id", "instrument id must be a uuid"))
			return
		}
		if err := svc.Remove(r.Context(), middleware.UserIDFromContext(r.Context()), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func toInstrumentResponse(m *models.PaymentInstrument) instrumentResponse {
	resp := instrumentResponse{
		ID:         m.ID,
		MethodType: m.MethodType,
		Enabled:    m.Enabled,
		CreatedAt:  m.CreatedAt,
	}
	if m.Brand != nil {
		resp.Brand = *m.Brand
	}
	if m.LastFour != nil {
		resp.LastFour = *m.LastFour
	}
	return resp
}
