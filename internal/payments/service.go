package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/cityportal/payments-backend/internal/entities"
	"github.com/cityportal/payments-backend/internal/fees"
	"github.com/cityportal/payments-backend/internal/gateway"
	"github.com/cityportal/payments-backend/internal/idempotency"
	"github.com/cityportal/payments-backend/internal/instruments"
	"github.com/cityportal/payments-backend/internal/ledger"
	"github.com/cityportal/payments-backend/internal/merchants"
	"github.com/cityportal/payments-backend/pkg/config"
	"github.com/cityportal/payments-backend/pkg/db/models"
	"github.com/cityportal/payments-backend/pkg/enums"
	pkgerrors "github.com/cityportal/payments-backend/pkg/errors"
	"github.com/cityportal/payments-backend/pkg/logger"
	"github.com/cityportal/payments-backend/pkg/metrics"
)

const failureCodeInvalidTransfer = "INVALID_TRANSFER_REQUEST"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups the orchestrator's collaborators.
type ServiceParams struct {
	Tx          txRunner
	Ledger      ledger.Repository
	Entities    *entities.Synchronizer
	Merchants   merchants.Repository
	Instruments *instruments.Resolver
	Guard       *idempotency.Guard
	Gateway     gateway.Client
	Config      config.PaymentsConfig
	Currency    string
	Metrics     *metrics.PaymentMetrics
	Logger      *logger.Logger
	// Events is optional; when set, terminal outcomes are queued for publishing
	// in the same transaction as the ledger finalize.
	Events EventEmitter
}

// Service turns payment requests into confirmed, recorded transfers.
type Service struct {
	tx              txRunner
	ledger          ledger.Repository
	entities        *entities.Synchronizer
	merchants       merchants.Repository
	instruments     *instruments.Resolver
	guard           *idempotency.Guard
	gateway         gateway.Client
	cfg             config.PaymentsConfig
	currency        string
	metrics         *metrics.PaymentMetrics
	logg            *logger.Logger
	events          EventEmitter
	finalizeBackoff time.Duration
}

// NewService validates params and builds the orchestrator.
func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Tx == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	case params.Ledger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repository required")
	case params.Entities == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "entity synchronizer required")
	case params.Merchants == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "merchant repository required")
	case params.Instruments == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "instrument resolver required")
	case params.Guard == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard required")
	case params.Gateway == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway client required")
	case params.Logger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	cfg := params.Config
	if cfg.FinalizeAttempts <= 0 {
		cfg.FinalizeAttempts = 1
	}
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = 45 * time.Second
	}
	currency := params.Currency
	if currency == "" {
		currency = "USD"
	}
	return &Service{
		tx:              params.Tx,
		ledger:          params.Ledger,
		entities:        params.Entities,
		merchants:       params.Merchants,
		instruments:     params.Instruments,
		guard:           params.Guard,
		gateway:         params.Gateway,
		cfg:             cfg,
		currency:        currency,
		metrics:         params.Metrics,
		logg:            params.Logger,
		events:          params.Events,
		finalizeBackoff: 100 * time.Millisecond,
	}, nil
}

// Pay runs one payment attempt. Gateway declines and unreachable processors are
// returned as a failed Result, not an error; use Result.Err to render them.
func (s *Service) Pay(ctx context.Context, req PayRequest) (*Result, error) {
	if req.PrincipalID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	// The key is stored and looked up trimmed so transport padding never forks an attempt.
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.FraudSessionID = strings.TrimSpace(req.FraudSessionID)
	if err := req.validate(); err != nil {
		s.metrics.IncAttempt(req.EntityType.String(), metrics.OutcomeRejected)
		return nil, err
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"idempotency_key": req.IdempotencyKey,
		"entity_type":     req.EntityType.String(),
	})

	existing, err := s.guard.Check(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.replay(ctx, req, existing)
	}

	entity, err := s.resolveEntity(ctx, req)
	if err != nil {
		// A concurrent attempt with this key may have just paid the entity.
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeValidation {
			if winner, checkErr := s.guard.Check(ctx, req.IdempotencyKey); checkErr == nil && winner != nil {
				return s.replay(ctx, req, winner)
			}
		}
		s.metrics.IncAttempt(req.EntityType.String(), metrics.OutcomeRejected)
		return nil, err
	}
	ctx = s.logg.WithEntity(ctx, entity.Type.String(), entity.ID.String())

	profile, err := s.merchants.GetFeeProfile(ctx, entity.MerchantID)
	if err != nil {
		return nil, err
	}

	var stored *instruments.ResolvedInstrument
	method := req.Source.WalletType
	if req.Source.InstrumentID != nil {
		stored, err = s.instruments.ResolveStored(ctx, req.PrincipalID, *req.Source.InstrumentID)
		if err != nil {
			s.metrics.IncAttempt(req.EntityType.String(), metrics.OutcomeRejected)
			return nil, err
		}
		method = stored.MethodType
	}
	rail, err := s.instruments.RailFor(method)
	if err != nil {
		return nil, err
	}

	quote, err := fees.QuoteFor(entity.BaseAmountCents, profile.Fees, rail)
	if err != nil {
		return nil, err
	}
	if err := fees.ValidateClientTotal(quote.TotalAmountCents, req.ClientTotalCents, s.cfg.AmountToleranceCents); err != nil {
		s.metrics.IncAttempt(req.EntityType.String(), metrics.OutcomeRejected)
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"server_total_cents": quote.TotalAmountCents,
			"client_total_cents": req.ClientTotalCents,
			"reason":             fees.Reason(err),
		}), "client total rejected")
		return nil, err
	}

	record := &models.LedgerRecord{
		IdempotencyKey:   req.IdempotencyKey,
		OwnerID:          req.PrincipalID,
		EntityType:       entity.Type,
		EntityID:         entity.ID,
		MerchantID:       entity.MerchantID,
		BaseAmountCents:  quote.BaseAmountCents,
		FeeCents:         quote.FeeCents,
		TotalAmountCents: quote.TotalAmountCents,
		Currency:         s.currency,
		Rail:             rail,
		MethodType:       method,
	}
	if stored != nil {
		record.GatewayInstrumentID = &stored.GatewayInstrumentID
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if entity.CreatedInAttempt {
			if err := s.entities.WithTx(tx).CreatePending(ctx, entity); err != nil {
				return err
			}
		}
		return s.ledger.WithTx(tx).Insert(ctx, record)
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateKey) {
			winner, err := s.guard.ResolveConflict(ctx, req.IdempotencyKey)
			if err != nil {
				return nil, err
			}
			return s.replay(ctx, req, winner)
		}
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reserve payment attempt")
	}

	// The row is reserved; from here on it must reach a terminal state even if the
	// caller goes away.
	ctx = s.logg.WithLedgerID(ctx, record.ID.String())
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CompletionTimeout)
	defer cancel()

	s.logg.Info(detached, "payment attempt reserved")
	return s.complete(detached, req, entity, record, profile, stored)
}

func (s *Service) complete(
	ctx context.Context,
	req PayRequest,
	entity *entities.Entity,
	record *models.LedgerRecord,
	profile *merchants.FeeProfile,
	source *instruments.ResolvedInstrument,
) (*Result, error) {
	var outcome gateway.TransferResult
	if source == nil {
		wallet, err := s.instruments.ExchangeWallet(ctx, req.PrincipalID, profile.GatewayLocationID, req.IdempotencyKey, req.Source)
		if err != nil {
			outcome = gateway.FailedResult(err)
		} else {
			source = wallet
		}
	}

	if source != nil {
		res, err := s.gateway.CreateTransfer(ctx, gateway.TransferInput{
			MerchantRef:        profile.GatewayLocationID,
			AmountCents:        record.TotalAmountCents,
			Currency:           record.Currency,
			SourceInstrumentID: source.GatewayInstrumentID,
			CustomerID:         source.CustomerID,
			IdempotencyKey:     req.IdempotencyKey,
			FraudSessionID:     req.FraudSessionID,
			ReferenceID:        record.ID.String(),
			Billing:            req.Source.Billing,
		})
		if err != nil {
			res = gateway.TransferResult{
				State:          enums.LedgerStateFailed,
				FailureCode:    failureCodeInvalidTransfer,
				FailureMessage: err.Error(),
			}
		}
		outcome = res
	}

	fin := ledger.Finalization{
		State:             outcome.State,
		GatewayTransferID: outcome.TransferID,
		FailureCode:       outcome.FailureCode,
		FailureMessage:    outcome.FailureMessage,
		RawPayload:        outcome.Raw,
	}
	if source != nil {
		fin.GatewayInstrumentID = source.GatewayInstrumentID
	}

	if outcome.Succeeded() {
		return s.commitSuccess(ctx, entity, record, fin)
	}
	return s.recordFailure(ctx, entity, record, fin)
}

func (s *Service) commitSuccess(ctx context.Context, entity *entities.Entity, record *models.LedgerRecord, fin ledger.Finalization) (*Result, error) {
	var conflict error
	err := s.finalizeWithRetry(ctx, record.ID, enums.LedgerStateSucceeded, func() error {
		conflict = nil
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.ledger.WithTx(tx).Finalize(ctx, record.ID, fin); err != nil {
				return err
			}
			// The guarded update writes nothing on conflict, so the finalize can still commit.
			if err := s.entities.WithTx(tx).Commit(ctx, entity.Clone()); err != nil {
				if !entities.IsConflict(err) {
					return err
				}
				conflict = err
			}
			return s.emitOutcome(ctx, tx, record, fin)
		})
	})
	if err != nil {
		return nil, s.requireReconciliation(ctx, record, fin, err)
	}

	applyFinalization(record, fin)
	if conflict != nil {
		reason := fmt.Sprintf("entity could not advance after transfer %s: %v", fin.GatewayTransferID, conflict)
		_ = s.flagReconciliation(ctx, record, fin, reason, conflict)
	}
	s.metrics.IncAttempt(record.EntityType.String(), metrics.OutcomeSucceeded)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"gateway_transfer_id": fin.GatewayTransferID,
		"total_amount_cents":  record.TotalAmountCents,
	}), "payment succeeded")
	return resultFromRecord(record), nil
}

func (s *Service) recordFailure(ctx context.Context, entity *entities.Entity, record *models.LedgerRecord, fin ledger.Finalization) (*Result, error) {
	if fin.State != enums.LedgerStateFailed {
		fin.State = enums.LedgerStateFailed
	}
	var compensation error
	err := s.finalizeWithRetry(ctx, record.ID, enums.LedgerStateFailed, func() error {
		compensation = nil
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.ledger.WithTx(tx).Finalize(ctx, record.ID, fin); err != nil {
				return err
			}
			if err := s.emitOutcome(ctx, tx, record, fin); err != nil {
				return err
			}
			if entity != nil && entity.CreatedInAttempt {
				// Savepoint: a failed delete rolls back alone and the FAILED row still commits.
				compensation = tx.Transaction(func(sp *gorm.DB) error {
					return s.entities.WithTx(sp).Compensate(ctx, entity)
				})
			}
			return nil
		})
	})
	if err != nil {
		return nil, s.requireReconciliation(ctx, record, fin, err)
	}

	applyFinalization(record, fin)
	if compensation != nil {
		reason := fmt.Sprintf("draft %s %s could not be removed: %v", entity.Type, entity.ID, compensation)
		_ = s.flagReconciliation(ctx, record, fin, reason, compensation)
	}
	outcome := metrics.OutcomeFailed
	if fin.FailureCode == gateway.FailureCodeUnreachable {
		outcome = metrics.OutcomeUnreachable
	}
	s.metrics.IncAttempt(record.EntityType.String(), outcome)
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"failure_code":    fin.FailureCode,
		"failure_message": fin.FailureMessage,
	}), "payment failed")
	return resultFromRecord(record), nil
}

// finalizeWithRetry runs write up to FinalizeAttempts times. A write that reports
// the row already terminal counts as done when the stored state matches want.
// Only transient failures are retried.
func (s *Service) finalizeWithRetry(ctx context.Context, id uuid.UUID, want enums.LedgerState, write func() error) error {
	var errs error
	for attempt := 1; attempt <= s.cfg.FinalizeAttempts; attempt++ {
		err := write()
		if err == nil {
			return nil
		}
		errs = multierr.Append(errs, err)
		if errors.Is(err, ledger.ErrNotPending) {
			if current, getErr := s.ledger.GetByID(ctx, id); getErr == nil && current.State == want {
				return nil
			}
			return errs
		}
		if !transient(err) {
			return errs
		}
		s.logg.Warn(s.logg.WithField(ctx, "attempt", attempt), "ledger finalize failed")
		if attempt < s.cfg.FinalizeAttempts && s.finalizeBackoff > 0 {
			select {
			case <-ctx.Done():
				return multierr.Append(errs, ctx.Err())
			case <-time.After(time.Duration(attempt) * s.finalizeBackoff):
			}
		}
	}
	return errs
}

func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if typed := pkgerrors.As(err); typed != nil {
		return pkgerrors.MetadataFor(typed.Code()).Retryable
	}
	return true
}

func (s *Service) requireReconciliation(ctx context.Context, record *models.LedgerRecord, fin ledger.Finalization, cause error) error {
	reason := fmt.Sprintf("finalize %s failed: %v", fin.State, cause)
	if fin.GatewayTransferID != "" {
		reason = fmt.Sprintf("finalize %s of transfer %s failed: %v", fin.State, fin.GatewayTransferID, cause)
	}
	cause = s.flagReconciliation(ctx, record, fin, reason, cause)
	return pkgerrors.Wrap(pkgerrors.CodeReconciliation, cause, "payment outcome could not be recorded").WithDetails(map[string]any{
		"ledger_id":   record.ID.String(),
		"transfer_id": fin.GatewayTransferID,
	})
}

// flagReconciliation marks the row for an operator, keeping the processor transfer
// id on it, and returns cause combined with any error from the flag write.
func (s *Service) flagReconciliation(ctx context.Context, record *models.LedgerRecord, fin ledger.Finalization, reason string, cause error) error {
	if err := s.ledger.MarkReconciliationRequired(ctx, record.ID, fin.GatewayTransferID, reason); err != nil {
		cause = multierr.Append(cause, err)
	} else {
		record.ReconciliationRequired = true
		record.ReconciliationReason = &reason
	}
	s.metrics.IncReconciliation(record.EntityType.String())
	s.logg.Error(s.logg.WithFields(ctx, map[string]any{
		"gateway_transfer_id":   fin.GatewayTransferID,
		"gateway_instrument_id": fin.GatewayInstrumentID,
		"outcome":               fin.State,
		"total_amount_cents":    record.TotalAmountCents,
		"reconciliation_reason": reason,
	}), "payment requires reconciliation", cause)
	return cause
}

func (s *Service) replay(ctx context.Context, req PayRequest, record *models.LedgerRecord) (*Result, error) {
	if record.OwnerID != req.PrincipalID || record.EntityType != req.EntityType ||
		(req.EntityID != nil && record.EntityID != *req.EntityID) {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key was used for a different payment")
	}
	s.metrics.IncAttempt(record.EntityType.String(), metrics.OutcomeReplayed)
	s.logg.Info(s.logg.WithLedgerID(ctx, record.ID.String()), "payment replayed")
	res := resultFromRecord(record)
	res.Replayed = true
	return res, nil
}

func (s *Service) resolveEntity(ctx context.Context, req PayRequest) (*entities.Entity, error) {
	spec, _ := entities.SpecFor(req.EntityType)
	if spec.CreateAndPay {
		if err := s.merchants.CheckDraftKind(ctx, req.Draft.MerchantID, req.EntityType); err != nil {
			return nil, err
		}
		return entities.BuildDraft(req.EntityType, req.PrincipalID, req.IdempotencyKey, *req.Draft)
	}
	return s.entities.Resolve(ctx, req.EntityType, *req.EntityID, req.PrincipalID)
}

func applyFinalization(record *models.LedgerRecord, fin ledger.Finalization) {
	record.State = fin.State
	if fin.GatewayInstrumentID != "" {
		id := fin.GatewayInstrumentID
		record.GatewayInstrumentID = &id
	}
	if fin.GatewayTransferID != "" {
		id := fin.GatewayTransferID
		record.GatewayTransferID = &id
	}
	if fin.FailureCode != "" {
		code, msg := fin.FailureCode, fin.FailureMessage
		record.FailureCode = &code
		record.FailureMessage = &msg
	}
}
