package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sq "github.com/square/square-go-sdk"

	"github.com/cityportal/payments-backend/pkg/enums"
	"github.com/cityportal/payments-backend/pkg/logger"
	"github.com/cityportal/payments-backend/pkg/metrics"
	"github.com/cityportal/payments-backend/pkg/square"
	"github.com/cityportal/payments-backend/pkg/types"
)

type squareAPI interface {
	EnsureCustomer(ctx context.Context, params square.CustomerCreateParams) (*sq.Customer, error)
	CreateCard(ctx context.Context, params square.CardCreateParams) (*sq.Card, error)
	CreatePayment(ctx context.Context, params square.PaymentCreateParams) (*sq.Payment, error)
}

// Square implements Client over the Square Payments API. A merchant's MerchantRef
// is its Square location id.
type Square struct {
	api      squareAPI
	currency string
	logg     *logger.Logger
	metrics  *metrics.PaymentMetrics
	now      func() time.Time
}

// NewSquare builds a Square-backed gateway for cfg.
func NewSquare(ctx context.Context, cfg Config, logg *logger.Logger, m *metrics.PaymentMetrics) (*Square, error) {
	client, err := square.NewClient(ctx, cfg.squareConfig(), logg)
	if err != nil {
		return nil, fmt.Errorf("square gateway: %w", err)
	}
	return newSquare(client, client.Currency(), logg, m), nil
}

func newSquare(api squareAPI, currency string, logg *logger.Logger, m *metrics.PaymentMetrics) *Square {
	if currency == "" {
		currency = "USD"
	}
	return &Square{api: api, currency: currency, logg: logg, metrics: m, now: time.Now}
}

// CreateInstrument binds the payer to a Square customer and returns the wallet
// nonce as a single-use source. Square does not vault digital wallet cards, so the
// nonce itself is the ephemeral instrument.
func (s *Square) CreateInstrument(ctx context.Context, input CreateInstrumentInput) (*Instrument, error) {
	token := strings.TrimSpace(input.Token)
	if token == "" {
		return nil, &Failure{Code: "INVALID_WALLET_TOKEN", Message: "wallet token is required"}
	}
	if !input.MethodType.IsWallet() {
		return nil, &Failure{Code: "UNSUPPORTED_METHOD", Message: fmt.Sprintf("%s cannot be tokenized", input.MethodType)}
	}

	params := square.CustomerCreateParams{
		ReferenceID:    input.PrincipalID.String(),
		IdempotencyKey: processorKey("cust-", input.IdempotencyKey),
	}
	if input.Billing != nil {
		given, family, _ := strings.Cut(strings.TrimSpace(input.Billing.Name), " ")
		params.GivenName = given
		params.FamilyName = strings.TrimSpace(family)
	}

	started := s.now()
	customer, err := s.api.EnsureCustomer(ctx, params)
	if err != nil {
		failure := classify(err)
		s.metrics.ObserveGateway("create_instrument", outcomeFor(failure), s.now().Sub(started))
		return nil, failure
	}
	s.metrics.ObserveGateway("create_instrument", metrics.OutcomeSucceeded, s.now().Sub(started))

	return &Instrument{
		InstrumentID: token,
		CustomerID:   derefString(customer.GetID()),
	}, nil
}

// VaultCard stores a card nonce on the payer's Square customer so it can be reused
// as a stored instrument.
func (s *Square) VaultCard(ctx context.Context, input VaultCardInput) (*Instrument, error) {
	nonce := strings.TrimSpace(input.Nonce)
	if nonce == "" {
		return nil, &Failure{Code: "INVALID_CARD_NONCE", Message: "card nonce is required"}
	}
	if strings.TrimSpace(input.IdempotencyKey) == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}

	started := s.now()
	customer, err := s.api.EnsureCustomer(ctx, square.CustomerCreateParams{
		ReferenceID:    input.PrincipalID.String(),
		IdempotencyKey: processorKey("cust-", input.IdempotencyKey),
	})
	if err != nil {
		failure := classify(err)
		s.metrics.ObserveGateway("vault_card", outcomeFor(failure), s.now().Sub(started))
		return nil, failure
	}

	params := square.CardCreateParams{
		CustomerID:        derefString(customer.GetID()),
		SourceID:          nonce,
		ReferenceID:       input.PrincipalID.String(),
		VerificationToken: input.VerificationToken,
		IdempotencyKey:    processorKey("card-", input.IdempotencyKey),
		BillingAddress:    squareAddress(input.Billing),
	}
	if input.Billing != nil {
		params.CardholderName = strings.TrimSpace(input.Billing.Name)
	}
	card, err := s.api.CreateCard(ctx, params)
	if err != nil {
		failure := classify(err)
		s.metrics.ObserveGateway("vault_card", outcomeFor(failure), s.now().Sub(started))
		return nil, failure
	}
	s.metrics.ObserveGateway("vault_card", metrics.OutcomeSucceeded, s.now().Sub(started))
	if card == nil || derefString(card.GetID()) == "" {
		return nil, &Failure{Code: "CARD_MISSING_ID", Message: "square returned a card without an id"}
	}

	instrument := &Instrument{
		InstrumentID: derefString(card.GetID()),
		CustomerID:   params.CustomerID,
		LastFour:     derefString(card.GetLast4()),
	}
	if brand := card.GetCardBrand(); brand != nil {
		instrument.Brand = string(*brand)
	}
	return instrument, nil
}

// CreateTransfer charges the instrument. The caller's idempotency key is forwarded
// so a retried request cannot charge twice.
func (s *Square) CreateTransfer(ctx context.Context, input TransferInput) (TransferResult, error) {
	if strings.TrimSpace(input.IdempotencyKey) == "" {
		return TransferResult{}, fmt.Errorf("idempotency key is required")
	}
	if input.AmountCents <= 0 {
		return TransferResult{}, fmt.Errorf("transfer amount must be positive")
	}
	currency := input.Currency
	if currency == "" {
		currency = s.currency
	}

	params := square.PaymentCreateParams{
		AmountCents:    input.AmountCents,
		Currency:       currency,
		LocationID:     input.MerchantRef,
		CustomerID:     input.CustomerID,
		SourceID:       input.SourceInstrumentID,
		IdempotencyKey: processorKey("", input.IdempotencyKey),
		ReferenceID:    input.ReferenceID,
		BillingAddress: squareAddress(input.Billing),
	}
	if fs := strings.TrimSpace(input.FraudSessionID); fs != "" {
		params.Note = "fraud_session_id=" + fs
	}

	started := s.now()
	payment, err := s.api.CreatePayment(ctx, params)
	elapsed := s.now().Sub(started)
	if err != nil {
		failure := classify(err)
		s.metrics.ObserveGateway("create_transfer", outcomeFor(failure), elapsed)
		if s.logg != nil {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"failure_code": failure.Code,
				"unreachable":  failure.Unreachable,
			}), "square transfer failed")
		}
		return FailedResult(failure), nil
	}

	result := transferResult(payment)
	outcome := metrics.OutcomeSucceeded
	if !result.Succeeded() {
		outcome = metrics.OutcomeFailed
	}
	s.metrics.ObserveGateway("create_transfer", outcome, elapsed)
	return result, nil
}

func transferResult(payment *sq.Payment) TransferResult {
	raw, err := json.Marshal(payment)
	if err != nil {
		raw = nil
	}
	status := strings.ToUpper(derefString(payment.GetStatus()))
	result := TransferResult{
		TransferID: derefString(payment.GetID()),
		Raw:        raw,
	}
	switch status {
	case "COMPLETED", "APPROVED", "PENDING":
		// PENDING is Square's accepted-but-unsettled state for bank transfers.
		result.State = enums.LedgerStateSucceeded
	default:
		result.State = enums.LedgerStateFailed
		result.FailureCode = "PAYMENT_" + status
		if status == "" {
			result.FailureCode = "PAYMENT_STATUS_UNKNOWN"
		}
		result.FailureMessage = fmt.Sprintf("square payment finished with status %q", status)
	}
	return result
}

// classify splits processor rejections (the request was received and refused)
// from failures that leave the outcome unconfirmed.
func classify(err error) *Failure {
	apiFailure, ok := square.FailureFrom(err)
	if !ok || apiFailure.Status >= 500 || apiFailure.Status == 429 || apiFailure.Status == 0 {
		return unreachable(err)
	}
	raw, _ := json.Marshal(apiFailure)
	code := apiFailure.Code
	if code == "" {
		code = fmt.Sprintf("HTTP_%d", apiFailure.Status)
	}
	msg := apiFailure.Detail
	if msg == "" {
		msg = "payment was declined"
	}
	return &Failure{Code: code, Message: msg, Raw: raw, cause: err}
}

func outcomeFor(f *Failure) string {
	if f.Unreachable {
		return metrics.OutcomeUnreachable
	}
	return metrics.OutcomeFailed
}

func squareAddress(b *types.BillingAddress) *sq.Address {
	if b.IsEmpty() {
		return nil
	}
	return square.Address(b.Name, b.Line1, b.City, b.State, b.PostalCode, b.Country)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
