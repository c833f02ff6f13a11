// Package testdb opens an isolated in-memory sqlite database carrying the payments schema.
package testdb

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cityportal/payments-backend/pkg/db/models"
	"github.com/cityportal/payments-backend/pkg/enums"
)

const payableColumns = `
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  merchant_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'draft',
  payment_status TEXT NOT NULL DEFAULT 'unpaid',
  base_amount_cents INTEGER NOT NULL,
  paid_at DATETIME,
  origin_idempotency_key TEXT,
  created_at DATETIME,
  updated_at DATETIME,`

var schema = []string{
	`CREATE TABLE merchants (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  gateway_location_id TEXT NOT NULL,
  card_basis_points INTEGER NOT NULL DEFAULT 0,
  card_fixed_fee_cents INTEGER NOT NULL DEFAULT 0,
  ach_basis_points INTEGER NOT NULL DEFAULT 0,
  ach_fixed_fee_cents INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE merchant_draft_kinds (
  merchant_id TEXT NOT NULL REFERENCES merchants(id) ON DELETE CASCADE,
  entity_type TEXT NOT NULL,
  created_at DATETIME,
  PRIMARY KEY (merchant_id, entity_type)
);`,
	`CREATE TABLE payment_instruments (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  method_type TEXT NOT NULL DEFAULT 'card',
  gateway_customer_id TEXT,
  gateway_instrument_id TEXT NOT NULL UNIQUE,
  brand TEXT,
  last_four TEXT,
  enabled BOOLEAN NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE ledger_records (
  id TEXT PRIMARY KEY,
  idempotency_key TEXT NOT NULL UNIQUE,
  owner_id TEXT NOT NULL,
  entity_type TEXT NOT NULL,
  entity_id TEXT NOT NULL,
  merchant_id TEXT NOT NULL,
  state TEXT NOT NULL DEFAULT 'pending',
  base_amount_cents INTEGER NOT NULL,
  fee_cents INTEGER NOT NULL,
  total_amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  rail TEXT NOT NULL,
  method_type TEXT NOT NULL,
  gateway_instrument_id TEXT,
  gateway_transfer_id TEXT,
  failure_code TEXT,
  failure_message TEXT,
  raw_payload BLOB,
  reconciliation_required BOOLEAN NOT NULL DEFAULT 0,
  reconciliation_reason TEXT,
  finalized_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE bills (` + payableColumns + `
  account_number TEXT NOT NULL,
  description TEXT,
  due_date DATETIME
);`,
	`CREATE TABLE permits (` + payableColumns + `
  permit_type TEXT NOT NULL,
  site_address TEXT NOT NULL,
  description TEXT
);`,
	`CREATE TABLE business_licenses (` + payableColumns + `
  business_name TEXT NOT NULL,
  license_class TEXT NOT NULL
);`,
	`CREATE TABLE tax_submissions (` + payableColumns + `
  tax_type TEXT NOT NULL,
  period TEXT NOT NULL
);`,
	`CREATE TABLE service_applications (` + payableColumns + `
  service_type TEXT NOT NULL,
  description TEXT
);`,
	`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload BLOB NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	`CREATE UNIQUE INDEX ux_outbox_events_event_aggregate ON outbox_events (event_type, aggregate_id);`,
	`CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json BLOB NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);`,
}

// Open returns a fresh database private to the calling test.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", name, uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}

// SeedMerchant inserts a merchant with the given card and ACH fee pairs.
func SeedMerchant(t *testing.T, conn *gorm.DB, cardBP, cardFixed, achBP, achFixed int64) *models.Merchant {
	t.Helper()
	m := &models.Merchant{
		ID:                uuid.New(),
		Name:              "Department of Public Works",
		GatewayLocationID: "LOC-" + uuid.NewString()[:8],
		CardBasisPoints:   cardBP,
		CardFixedFeeCents: cardFixed,
		ACHBasisPoints:    achBP,
		ACHFixedFeeCents:  achFixed,
	}
	require.NoError(t, conn.Create(m).Error)
	AllowDraftKinds(t, conn, m.ID, enums.EntityTypeTaxSubmission, enums.EntityTypeServiceApplication)
	return m
}

// AllowDraftKinds lets merchantID receive create-and-pay entities of the given kinds.
func AllowDraftKinds(t *testing.T, conn *gorm.DB, merchantID uuid.UUID, kinds ...enums.EntityType) {
	t.Helper()
	for _, kind := range kinds {
		require.NoError(t, conn.Create(&models.MerchantDraftKind{MerchantID: merchantID, EntityType: kind}).Error)
	}
}

// SeedEntity inserts an unpaid entity of kind t and returns its shared columns.
func SeedEntity(t *testing.T, conn *gorm.DB, kind enums.EntityType, ownerID, merchantID uuid.UUID, base int64, status enums.EntityStatus) *models.Payable {
	t.Helper()
	p := models.Payable{
		ID:              uuid.New(),
		OwnerID:         ownerID,
		MerchantID:      merchantID,
		Status:          status,
		PaymentStatus:   enums.PaymentStatusUnpaid,
		BaseAmountCents: base,
	}
	var row any
	switch kind {
	case enums.EntityTypeBill:
		row = &models.Bill{Payable: p, AccountNumber: "WTR-001"}
	case enums.EntityTypePermit:
		row = &models.Permit{Payable: p, PermitType: "building", SiteAddress: "1 Main St"}
	case enums.EntityTypeBusinessLicense:
		row = &models.BusinessLicense{Payable: p, BusinessName: "Corner Cafe", LicenseClass: "food"}
	case enums.EntityTypeTaxSubmission:
		row = &models.TaxSubmission{Payable: p, TaxType: "sales", Period: "2026-Q1"}
	case enums.EntityTypeServiceApplication:
		row = &models.ServiceApplication{Payable: p, ServiceType: "bulk_pickup"}
	default:
		t.Fatalf("unknown entity type %q", kind)
	}
	require.NoError(t, conn.Create(row).Error)
	return &p
}
