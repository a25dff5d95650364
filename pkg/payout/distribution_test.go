package payout

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPayout(t *testing.T, subtype PayoutSubtype, amountType AmountType, amount string) *Distribution {
	t.Helper()
	d, err := NewPayoutDistribution(PayoutParams{
		AssetID:       "asset-1",
		Subtype:       subtype,
		ExecutionDate: t0.Add(24 * time.Hour),
		Recurrency:    RecurrencyWeekly,
		AmountType:    amountType,
		Amount:        decimal.RequireFromString(amount),
		Concept:       "coupon",
	}, t0)
	require.NoError(t, err)
	return d
}

func TestNewCorporateActionDistribution(t *testing.T) {
	d, err := NewCorporateActionDistribution("asset-1", "7", t0.Add(time.Hour), t0)
	require.NoError(t, err)
	assert.Equal(t, DistributionStatusPending, d.Status)
	assert.Equal(t, DistributionTypeCorporateAction, d.Type)

	_, err = NewCorporateActionDistribution("asset-1", "7", t0, t0)
	require.ErrorIs(t, err, ErrExecutionDateInPast)

	_, err = NewCorporateActionDistribution("asset-1", "", t0.Add(time.Hour), t0)
	require.ErrorIs(t, err, ErrInvalidCorporateActionID)
}

func TestNewPayoutDistribution_Validation(t *testing.T) {
	base := PayoutParams{
		AssetID:       "asset-1",
		Subtype:       PayoutSubtypeOneOff,
		ExecutionDate: t0.Add(time.Hour),
		AmountType:    AmountTypeFixed,
		Amount:        decimal.NewFromInt(100),
	}

	tests := []struct {
		name   string
		mutate func(p *PayoutParams)
		want   error
	}{
		{"past one-off", func(p *PayoutParams) { p.ExecutionDate = t0.Add(-time.Hour) }, ErrExecutionDateInPast},
		{"zero amount", func(p *PayoutParams) { p.Amount = decimal.Zero }, ErrInvalidAmount},
		{"percentage over 100", func(p *PayoutParams) {
			p.AmountType = AmountTypePercentage
			p.Amount = decimal.NewFromInt(101)
		}, ErrInvalidPercentage},
		{"unknown amount type", func(p *PayoutParams) { p.AmountType = "BOTH" }, ErrInvalidAmountType},
		{"unknown subtype", func(p *PayoutParams) { p.Subtype = "SOMETIMES" }, ErrInvalidPayoutSubtype},
		{"recurring without period", func(p *PayoutParams) { p.Subtype = PayoutSubtypeRecurring }, ErrInvalidRecurrency},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := base
			tc.mutate(&p)
			_, err := NewPayoutDistribution(p, t0)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestNewPayoutDistribution_ImmediateRunsNow(t *testing.T) {
	d, err := NewPayoutDistribution(PayoutParams{
		AssetID:       "asset-1",
		Subtype:       PayoutSubtypeImmediate,
		ExecutionDate: t0.Add(-48 * time.Hour),
		AmountType:    AmountTypePercentage,
		Amount:        decimal.NewFromInt(100),
	}, t0)
	require.NoError(t, err)
	assert.Equal(t, t0, d.ExecutionDate)
	assert.True(t, d.IsDue(t0))
	assert.Empty(t, d.Recurrency)
}

func TestDistribution_CancelTerminalIsConflict(t *testing.T) {
	d := newPayout(t, PayoutSubtypeOneOff, AmountTypeFixed, "10")
	require.NoError(t, d.Start(t0))
	require.NoError(t, d.ApplyAggregate(DistributionStatusCompleted, t0))

	err := d.Cancel(t0.Add(time.Minute))
	require.ErrorIs(t, err, ErrInvalidStatusTransition)
	assert.Equal(t, DistributionStatusCompleted, d.Status)
}

func TestDistribution_StartOnlyFromPending(t *testing.T) {
	d := newPayout(t, PayoutSubtypeOneOff, AmountTypeFixed, "10")
	assert.True(t, d.IsExecutable())
	require.NoError(t, d.Start(t0))
	assert.True(t, d.IsExecutable())

	require.ErrorIs(t, d.Start(t0), ErrInvalidStatusTransition)

	require.NoError(t, d.ApplyAggregate(DistributionStatusPartiallyCompleted, t0))
	assert.False(t, d.IsExecutable())
	require.ErrorIs(t, d.Start(t0), ErrInvalidStatusTransition)
	assert.Equal(t, DistributionStatusPartiallyCompleted, d.Status)
}

func TestDistribution_Transitions(t *testing.T) {
	tests := []struct {
		from, to DistributionStatus
		ok       bool
	}{
		{DistributionStatusPending, DistributionStatusInProgress, true},
		{DistributionStatusPending, DistributionStatusCompleted, false},
		{DistributionStatusInProgress, DistributionStatusPartiallyCompleted, true},
		{DistributionStatusPartiallyCompleted, DistributionStatusInProgress, true},
		{DistributionStatusPartiallyCompleted, DistributionStatusCompleted, true},
		{DistributionStatusInProgress, DistributionStatusInProgress, true},
		{DistributionStatusCompleted, DistributionStatusInProgress, false},
		{DistributionStatusFailed, DistributionStatusInProgress, false},
		{DistributionStatusCancelled, DistributionStatusCompleted, false},
		{DistributionStatusCancelled, DistributionStatusCancelled, false},
	}
	for _, tc := range tests {
		assert.Equalf(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestDistribution_NextOccurrence(t *testing.T) {
	d := newPayout(t, PayoutSubtypeRecurring, AmountTypeFixed, "5")

	next, err := d.NextOccurrence(t0.Add(20 * 24 * time.Hour))
	require.NoError(t, err)
	// first run is day 1, weekly steps land on day 8, 15, 22
	assert.Equal(t, t0.Add(22*24*time.Hour), next.ExecutionDate)
	assert.Equal(t, DistributionStatusPending, next.Status)
	assert.NotEqual(t, d.ID, next.ID)
	assert.True(t, next.Amount.Equal(d.Amount))

	oneOff := newPayout(t, PayoutSubtypeOneOff, AmountTypeFixed, "5")
	_, err = oneOff.NextOccurrence(t0)
	require.ErrorIs(t, err, ErrDistributionNotRecurring)
}

func TestRecurrency_Monthly(t *testing.T) {
	next, err := RecurrencyMonthly.Next(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC), next)
}

func TestRecurrency_MonthlyClampsToMonthEnd(t *testing.T) {
	tests := []struct {
		from time.Time
		want time.Time
	}{
		{time.Date(2026, 1, 31, 9, 30, 0, 0, time.UTC), time.Date(2026, 2, 28, 9, 30, 0, 0, time.UTC)},
		{time.Date(2028, 1, 31, 0, 0, 0, 0, time.UTC), time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC)},
		{time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)},
		{time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		next, err := RecurrencyMonthly.Next(tc.from)
		require.NoError(t, err)
		assert.Equal(t, tc.want, next, "from %s", tc.from)
	}
}

func TestAggregateDistributionStatus(t *testing.T) {
	const ceiling = 3
	batch := func(id string, s BatchPayoutStatus) *BatchPayout {
		return &BatchPayout{ID: id, Status: s}
	}

	t.Run("completed and partially completed", func(t *testing.T) {
		got := AggregateDistributionStatus([]*BatchPayout{
			batch("a", BatchPayoutStatusCompleted),
			batch("b", BatchPayoutStatusPartiallyCompleted),
		}, nil, ceiling)
		assert.Equal(t, DistributionStatusPartiallyCompleted, got)
	})

	t.Run("completed and failed", func(t *testing.T) {
		got := AggregateDistributionStatus([]*BatchPayout{
			batch("a", BatchPayoutStatusCompleted),
			batch("b", BatchPayoutStatusFailed),
		}, nil, ceiling)
		assert.Equal(t, DistributionStatusPartiallyCompleted, got)
	})

	t.Run("all completed", func(t *testing.T) {
		got := AggregateDistributionStatus([]*BatchPayout{
			batch("a", BatchPayoutStatusCompleted),
			batch("b", BatchPayoutStatusCompleted),
		}, nil, ceiling)
		assert.Equal(t, DistributionStatusCompleted, got)
	})

	t.Run("in progress wins", func(t *testing.T) {
		got := AggregateDistributionStatus([]*BatchPayout{
			batch("a", BatchPayoutStatusCompleted),
			batch("b", BatchPayoutStatusInProgress),
		}, nil, ceiling)
		assert.Equal(t, DistributionStatusInProgress, got)
	})

	t.Run("all failed with retries left", func(t *testing.T) {
		got := AggregateDistributionStatus(
			[]*BatchPayout{batch("a", BatchPayoutStatusFailed)},
			map[string][]*Holder{"a": {{Status: HolderStatusFailed, RetryCounter: 1}}},
			ceiling,
		)
		assert.Equal(t, DistributionStatusInProgress, got)
	})

	t.Run("all failed and exhausted", func(t *testing.T) {
		got := AggregateDistributionStatus(
			[]*BatchPayout{batch("a", BatchPayoutStatusFailed)},
			map[string][]*Holder{"a": {{Status: HolderStatusFailed, RetryCounter: ceiling}}},
			ceiling,
		)
		assert.Equal(t, DistributionStatusFailed, got)
	})

	t.Run("no batches", func(t *testing.T) {
		assert.Equal(t, DistributionStatusCompleted, AggregateDistributionStatus(nil, nil, ceiling))
	})
}

func TestPercentageAmount_RoundsDown(t *testing.T) {
	got, err := PercentageAmount(decimal.RequireFromString("333.333333"), decimal.RequireFromString("33.3"), 6)
	require.NoError(t, err)
	// 333.333333 * 0.333 = 110.999999889
	assert.Equal(t, "110.999999", got.String())

	got, err = PercentageAmount(decimal.RequireFromString("0.000001"), decimal.NewFromInt(50), 6)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = PercentageAmount(decimal.NewFromInt(1), decimal.Zero, 6)
	require.ErrorIs(t, err, ErrInvalidPercentage)
}

func TestScaleAmount(t *testing.T) {
	raw, err := UnscaleAmount(decimal.RequireFromString("12.3456789"), 6)
	require.NoError(t, err)
	assert.Equal(t, "12345678", raw.String())

	assert.Equal(t, "12.345678", ScaleAmount(raw, 6).String())
	assert.True(t, ScaleAmount(nil, 6).IsZero())
}

func TestListenerConfig_Advance(t *testing.T) {
	c := &BlockchainEventListenerConfig{ContractID: "0.0.42", StartTimestamp: "1700000000.5", Timestamps: newTimestamps(t0)}
	require.NoError(t, c.Validate())

	assert.False(t, c.Advance("1700000000.500000000", t0))
	assert.False(t, c.Advance("1699999999.9", t0))
	assert.True(t, c.Advance("1700000000.500000001", t0.Add(time.Second)))
	assert.Equal(t, "1700000000.500000001", c.StartTimestamp)

	c.StartTimestamp = "yesterday"
	require.ErrorIs(t, c.Validate(), ErrInvalidTimestamps)
}

func TestPagination(t *testing.T) {
	require.NoError(t, Pagination{PageIndex: 0, PageLength: 1}.Validate())
	require.ErrorIs(t, Pagination{PageIndex: -1, PageLength: 1}.Validate(), ErrInvalidPagination)
	require.ErrorIs(t, Pagination{PageIndex: 0, PageLength: 0}.Validate(), ErrInvalidPagination)
	assert.Equal(t, 200, Pagination{PageIndex: 2, PageLength: 100}.Offset())
}
