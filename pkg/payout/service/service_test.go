package service

import (
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/hashgraph/mass-payout/pkg/app/errors"
	"github.com/hashgraph/mass-payout/pkg/payout"
	"github.com/hashgraph/mass-payout/pkg/payoutstore"
)

const (
	tokenHederaID = "0.0.1001"
	lccHederaID   = "0.0.1002"
	txID          = "0.0.4242@1760000000.000000001"
	retryTxID     = "0.0.4242@1760000060.000000002"
)

var (
	tokenEvm = "0x00000000000000000000000000000000000003e9"
	lccEvm   = "0x00000000000000000000000000000000000003ea"
	holderA  = "0x" + strings.Repeat("a", 40)
	holderB  = "0x" + strings.Repeat("b", 40)
	holderC  = "0x" + strings.Repeat("c", 40)
	holderD  = "0x" + strings.Repeat("d", 40)
	holderE  = "0x" + strings.Repeat("e", 40)
	txHash   = "0x" + strings.Repeat("1f", 48)
	// keccak hash of a sent transaction
	evmTxHash = "0x" + strings.Repeat("e7", 32)
)

type testEnv struct {
	store    *memStore
	cashFlow *cashFlowMock
	token    *fakeToken
	resolver *fakeResolver
	clock    *clockwork.FakeClock
	settings Settings
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cashFlow := &cashFlowMock{}
	t.Cleanup(func() { cashFlow.AssertExpectations(t) })
	return &testEnv{
		store:    newMemStore(),
		cashFlow: cashFlow,
		token:    &fakeToken{decimals: 2, snapshotID: 7},
		resolver: &fakeResolver{evmByHedera: map[string]string{
			tokenHederaID: tokenEvm,
			lccHederaID:   lccEvm,
		}},
		clock: clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)),
		settings: Settings{
			PageLength:           10,
			RetryCeiling:         3,
			RetryBackoff:         time.Minute,
			RetryConcurrency:     4,
			PaymentTokenDecimals: 2,
		},
	}
}

func (e *testEnv) orchestrator() Orchestrator {
	return NewOrchestrator(e.store, e.cashFlow, e.token, e.resolver, e.settings, e.clock, zap.NewNop())
}

func (e *testEnv) retries() RetryService {
	return NewRetryService(e.store, e.cashFlow, e.settings, e.clock, zap.NewNop())
}

func (e *testEnv) assets() AssetService {
	return NewAssetService(e.store, e.cashFlow, e.resolver, e.clock, zap.NewNop())
}

func (e *testEnv) distributions(o Orchestrator) DistributionService {
	return NewDistributionService(e.store, o, e.settings, e.clock, zap.NewNop())
}

func (e *testEnv) addAsset(t *testing.T) *payout.Asset {
	t.Helper()
	asset, err := payout.NewAsset("Bond 2030", tokenHederaID, tokenEvm, lccHederaID, lccEvm, e.clock.Now())
	require.NoError(t, err)
	require.NoError(t, e.store.CreateAsset(t.Context(), asset))
	return asset
}

func (e *testEnv) addCorporateAction(t *testing.T, asset *payout.Asset, corporateActionID string) *payout.Distribution {
	t.Helper()
	d, err := payout.NewCorporateActionDistribution(asset.ID, corporateActionID, e.clock.Now().Add(time.Hour), e.clock.Now())
	require.NoError(t, err)
	require.NoError(t, e.store.CreateDistribution(t.Context(), d))
	return d
}

func (e *testEnv) addPayout(t *testing.T, asset *payout.Asset, amountType payout.AmountType, amount string) *payout.Distribution {
	t.Helper()
	d, err := payout.NewPayoutDistribution(payout.PayoutParams{
		AssetID:       asset.ID,
		Subtype:       payout.PayoutSubtypeOneOff,
		ExecutionDate: e.clock.Now().Add(time.Hour),
		AmountType:    amountType,
		Amount:        decimalOf(t, amount),
	}, e.clock.Now())
	require.NoError(t, err)
	require.NoError(t, e.store.CreateDistribution(t.Context(), d))
	return d
}

func (e *testEnv) distribution(t *testing.T, id string) *payout.Distribution {
	t.Helper()
	d, err := e.store.GetDistribution(t.Context(), id)
	require.NoError(t, err)
	return d
}

func (e *testEnv) asset(t *testing.T, id string) *payout.Asset {
	t.Helper()
	a, err := e.store.GetAsset(t.Context(), payoutstore.WithAssetID(id))
	require.NoError(t, err)
	return a
}

func decimalOf(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func page(index, length int) payout.Pagination {
	return payout.Pagination{PageIndex: index, PageLength: length}
}

func paid(amounts ...int64) []*big.Int {
	out := make([]*big.Int, len(amounts))
	for i, a := range amounts {
		out[i] = big.NewInt(a)
	}
	return out
}

func requireCategory(t *testing.T, err error, cat apperrors.Category) {
	t.Helper()
	require.Error(t, err)
	if !apperrors.Is(err, cat) {
		t.Fatalf("expected %s, got %v", cat, err)
	}
}

func TestServiceError_Categories(t *testing.T) {
	tests := []struct {
		name string
		err  error
		cat  apperrors.Category
	}{
		{"not found", payout.ErrDistributionNotFound, apperrors.CategoryResourceNotFound},
		{"invalid data", payout.ErrInvalidAmount, apperrors.CategoryDataError},
		{"conflict", payout.ErrAssetPaused, apperrors.CategoryDataConflict},
		{"wrapped conflict", errors.Join(errors.New("ctx"), payout.ErrInvalidStatusTransition), apperrors.CategoryDataConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := serviceError(tt.err)
			requireCategory(t, err, tt.cat)
			require.ErrorIs(t, err, tt.err)
		})
	}

	plain := errors.New("connection reset")
	require.True(t, serviceError(plain) == plain)
	require.NoError(t, serviceError(nil))
}

func TestParseUint256(t *testing.T) {
	n, err := parseUint256("snapshot id", "42")
	require.NoError(t, err)
	require.Equal(t, int64(42), n.Int64())

	_, err = parseUint256("snapshot id", "-1")
	requireCategory(t, err, apperrors.CategoryDataError)

	_, err = parseUint256("snapshot id", "abc")
	requireCategory(t, err, apperrors.CategoryDataError)
}
