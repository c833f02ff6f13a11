package instruments

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cityportal/payments-backend/internal/gateway"
	"github.com/cityportal/payments-backend/internal/testdb"
	"github.com/cityportal/payments-backend/pkg/db/models"
	"github.com/cityportal/payments-backend/pkg/enums"
	pkgerrors "github.com/cityportal/payments-backend/pkg/errors"
	"github.com/cityportal/payments-backend/pkg/types"
)

type stubGateway struct {
	instrument *gateway.Instrument
	err        error
	inputs     []gateway.CreateInstrumentInput
	vaults     []gateway.VaultCardInput
}

func (s *stubGateway) CreateInstrument(ctx context.Context, input gateway.CreateInstrumentInput) (*gateway.Instrument, error) {
	s.inputs = append(s.inputs, input)
	if s.err != nil {
		return nil, s.err
	}
	return s.instrument, nil
}

func (s *stubGateway) CreateTransfer(ctx context.Context, input gateway.TransferInput) (gateway.TransferResult, error) {
	return gateway.TransferResult{}, errors.New("not used")
}

func (s *stubGateway) VaultCard(ctx context.Context, input gateway.VaultCardInput) (*gateway.Instrument, error) {
	s.vaults = append(s.vaults, input)
	if s.err != nil {
		return nil, s.err
	}
	return s.instrument, nil
}

func seedInstrument(t *testing.T, repo Repository, owner uuid.UUID, method enums.PaymentMethodType, enabled bool) *models.PaymentInstrument {
	t.Helper()
	brand, last4 := "VISA", "4242"
	inst := &models.PaymentInstrument{
		OwnerID:             owner,
		MethodType:          method,
		GatewayInstrumentID: "ccof:" + uuid.NewString(),
		Brand:               &brand,
		LastFour:            &last4,
		Enabled:             enabled,
	}
	require.NoError(t, repo.Create(context.Background(), inst))
	return inst
}

func newResolver(t *testing.T, gw gateway.Client, allowACH bool) (*Resolver, Repository) {
	t.Helper()
	repo := NewRepository(testdb.Open(t))
	resolver, err := NewResolver(ResolverParams{Repo: repo, Gateway: gw, AllowACH: allowACH})
	require.NoError(t, err)
	return resolver, repo
}

func TestResolveStoredInstrument(t *testing.T) {
	resolver, repo := newResolver(t, &stubGateway{}, true)
	owner := uuid.New()
	inst := seedInstrument(t, repo, owner, enums.PaymentMethodTypeCard, true)

	resolved, err := resolver.ResolveStored(context.Background(), owner, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, inst.GatewayInstrumentID, resolved.GatewayInstrumentID)
	assert.Equal(t, enums.PaymentRailCard, resolved.Rail)
	assert.Equal(t, "4242", resolved.LastFour)
	assert.False(t, resolved.Ephemeral)
}

func TestResolveStoredInstrumentNotOwned(t *testing.T) {
	resolver, repo := newResolver(t, &stubGateway{}, true)
	inst := seedInstrument(t, repo, uuid.New(), enums.PaymentMethodTypeCard, true)

	_, err := resolver.ResolveStored(context.Background(), uuid.New(), inst.ID)
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())

	missing := uuid.New()
	_, err = resolver.ResolveStored(context.Background(), uuid.New(), missing)
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestResolveStoredInstrumentDisabled(t *testing.T) {
	resolver, repo := newResolver(t, &stubGateway{}, true)
	owner := uuid.New()
	inst := seedInstrument(t, repo, owner, enums.PaymentMethodTypeCard, false)

	_, err := resolver.ResolveStored(context.Background(), owner, inst.ID)
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestResolveBankAccountRail(t *testing.T) {
	owner := uuid.New()

	resolver, repo := newResolver(t, &stubGateway{}, true)
	inst := seedInstrument(t, repo, owner, enums.PaymentMethodTypeUSBankAccount, true)
	resolved, err := resolver.ResolveStored(context.Background(), owner, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentRailACH, resolved.Rail)

	blocked, repo := newResolver(t, &stubGateway{}, false)
	inst = seedInstrument(t, repo, owner, enums.PaymentMethodTypeUSBankAccount, true)
	_, err = blocked.ResolveStored(context.Background(), owner, inst.ID)
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestResolveWalletToken(t *testing.T) {
	gw := &stubGateway{instrument: &gateway.Instrument{InstrumentID: "wnon:1", CustomerID: "cust_1"}}
	resolver, _ := newResolver(t, gw, true)
	owner := uuid.New()

	resolved, err := resolver.ExchangeWallet(context.Background(), owner, "LOC1", "attempt-1", Source{
		WalletToken: "wnon:1",
		WalletType:  enums.PaymentMethodTypeGooglePay,
		Billing:     &types.BillingAddress{Name: "Ada", PostalCode: "94103"},
	})
	require.NoError(t, err)
	assert.True(t, resolved.Ephemeral)
	assert.Equal(t, enums.PaymentRailCard, resolved.Rail)
	assert.Equal(t, enums.PaymentMethodTypeGooglePay, resolved.MethodType)
	require.Len(t, gw.inputs, 1)
	assert.Equal(t, "94103", gw.inputs[0].Billing.PostalCode)
	assert.Equal(t, "LOC1", gw.inputs[0].MerchantRef)
}

func TestResolveWalletFailurePassesThrough(t *testing.T) {
	gw := &stubGateway{err: &gateway.Failure{Code: "INVALID_CARD_DATA", Message: "bad token"}}
	resolver, _ := newResolver(t, gw, true)

	_, err := resolver.ExchangeWallet(context.Background(), uuid.New(), "LOC1", "k", Source{WalletToken: "bad", WalletType: enums.PaymentMethodTypeApplePay})
	failure, ok := gateway.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, "INVALID_CARD_DATA", failure.Code)
}

func TestSourceValidate(t *testing.T) {
	id := uuid.New()
	cases := []struct {
		name string
		src  Source
		ok   bool
	}{
		{"stored", Source{InstrumentID: &id}, true},
		{"wallet", Source{WalletToken: "t", WalletType: enums.PaymentMethodTypeApplePay}, true},
		{"both", Source{InstrumentID: &id, WalletToken: "t", WalletType: enums.PaymentMethodTypeApplePay}, false},
		{"neither", Source{}, false},
		{"wallet with card type", Source{WalletToken: "t", WalletType: enums.PaymentMethodTypeCard}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.src.Validate()
			if tc.ok != (err == nil) {
				t.Fatalf("expected ok=%v, got %v", tc.ok, err)
			}
		})
	}
}

func TestEnrollCard(t *testing.T) {
	conn := testdb.Open(t)
	repo := NewRepository(conn)
	gw := &stubGateway{instrument: &gateway.Instrument{InstrumentID: "ccof:new", CustomerID: "cust_1", Brand: "VISA", LastFour: "1111"}}
	enroller, err := NewEnroller(repo, gw)
	require.NoError(t, err)
	owner := uuid.New()

	inst, err := enroller.EnrollCard(context.Background(), owner, EnrollCardInput{Nonce: "cnon:ok", IdempotencyKey: "enroll-1"})
	require.NoError(t, err)
	assert.True(t, inst.Enabled)
	assert.Equal(t, "ccof:new", inst.GatewayInstrumentID)

	stored, err := repo.GetInstrument(context.Background(), inst.ID, owner)
	require.NoError(t, err)
	assert.True(t, stored.Enabled)
	require.NotNil(t, stored.LastFour)
	assert.Equal(t, "1111", *stored.LastFour)

	_, err = enroller.EnrollCard(context.Background(), owner, EnrollCardInput{Nonce: "cnon:ok", IdempotencyKey: "enroll-1"})
	require.Equal(t, pkgerrors.CodeConflict, pkgerrors.As(err).Code())
}

func TestEnrollCardDeclined(t *testing.T) {
	gw := &stubGateway{err: &gateway.Failure{Code: "CARD_DECLINED", Message: "declined"}}
	enroller, err := NewEnroller(NewRepository(testdb.Open(t)), gw)
	require.NoError(t, err)

	_, err = enroller.EnrollCard(context.Background(), uuid.New(), EnrollCardInput{Nonce: "cnon:x", IdempotencyKey: "k"})
	require.Equal(t, pkgerrors.CodePaymentFailed, pkgerrors.As(err).Code())
}

func TestRepositoryDisable(t *testing.T) {
	repo := NewRepository(testdb.Open(t))
	owner := uuid.New()
	inst := seedInstrument(t, repo, owner, enums.PaymentMethodTypeCard, true)

	require.ErrorIs(t, repo.Disable(context.Background(), inst.ID, uuid.New()), gorm.ErrRecordNotFound)
	require.NoError(t, repo.Disable(context.Background(), inst.ID, owner))

	list, err := repo.ListByOwner(context.Background(), owner)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestEnrollerListAndRemove(t *testing.T) {
	repo := NewRepository(testdb.Open(t))
	enroller, err := NewEnroller(repo, &stubGateway{})
	require.NoError(t, err)
	owner := uuid.New()
	kept := seedInstrument(t, repo, owner, enums.PaymentMethodTypeCard, true)
	removed := seedInstrument(t, repo, owner, enums.PaymentMethodTypeUSBankAccount, true)
	seedInstrument(t, repo, uuid.New(), enums.PaymentMethodTypeCard, true)

	require.NoError(t, enroller.Remove(context.Background(), owner, removed.ID))
	err = enroller.Remove(context.Background(), uuid.New(), kept.ID)
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())

	list, err := enroller.List(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, kept.ID, list[0].ID)

	resolver, err := NewResolver(ResolverParams{Repo: repo, Gateway: &stubGateway{}, AllowACH: true})
	require.NoError(t, err)
	_, err = resolver.ResolveStored(context.Background(), owner, removed.ID)
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}
