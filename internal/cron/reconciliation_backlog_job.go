package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/cityportal/payments-backend/pkg/db/models"
	"github.com/cityportal/payments-backend/pkg/logger"
)

const defaultReconciliationScanLimit = 500

type reconciliationLister interface {
	ListReconciliationRequired(ctx context.Context, limit int) ([]models.LedgerRecord, error)
}

type backlogRecorder interface {
	SetReconciliationBacklog(counts map[string]int)
}

type ReconciliationBacklogJobParams struct {
	Logger  *logger.Logger
	Ledger  reconciliationLister
	Metrics backlogRecorder
	Limit   int
}

// NewReconciliationBacklogJob reports ledger rows charged at the gateway but never
// finalized locally. It never writes to the ledger; operators resolve each row.
func NewReconciliationBacklogJob(params ReconciliationBacklogJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconciliationScanLimit
	}
	return &reconciliationBacklogJob{
		logg:    params.Logger,
		ledger:  params.Ledger,
		metrics: params.Metrics,
		limit:   limit,
		now:     time.Now,
	}, nil
}

type reconciliationBacklogJob struct {
	logg    *logger.Logger
	ledger  reconciliationLister
	metrics backlogRecorder
	limit   int
	now     func() time.Time
}

func (j *reconciliationBacklogJob) Name() string { return "reconciliation-backlog" }

func (j *reconciliationBacklogJob) Run(ctx context.Context) error {
	records, err := j.ledger.ListReconciliationRequired(ctx, j.limit)
	if err != nil {
		return fmt.Errorf("list reconciliation backlog: %w", err)
	}

	counts := make(map[string]int)
	for _, record := range records {
		counts[record.EntityType.String()]++

		fields := map[string]any{
			"ledger_id":          record.ID.String(),
			"entity_type":        record.EntityType,
			"entity_id":          record.EntityID.String(),
			"state":              record.State,
			"total_amount_cents": record.TotalAmountCents,
			"age_hours":          j.now().Sub(record.UpdatedAt).Hours(),
		}
		if record.GatewayTransferID != nil {
			fields["gateway_transfer_id"] = *record.GatewayTransferID
		}
		if record.ReconciliationReason != nil {
			fields["reason"] = *record.ReconciliationReason
		}
		j.logg.Warn(j.logg.WithFields(ctx, fields), "ledger record awaiting reconciliation")
	}
	if j.metrics != nil {
		j.metrics.SetReconciliationBacklog(counts)
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"flagged":   len(records),
		"truncated": len(records) == j.limit,
	}), "reconciliation backlog scanned")
	return nil
}
