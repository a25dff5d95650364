package payout

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0       = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	evmAlice = "0x00000000000000000000000000000000000004d2"
	evmBob   = "0xAbCdEf0123456789aBcDeF0123456789aBCDef01"
)

func TestTimestamps_TouchNeverGoesBackwards(t *testing.T) {
	ts := newTimestamps(t0)
	ts.Touch(t0.Add(-time.Hour))

	assert.Equal(t, t0, ts.UpdatedAt)
	require.NoError(t, ts.Validate())

	ts.Touch(t0.Add(time.Minute))
	assert.Equal(t, t0.Add(time.Minute), ts.UpdatedAt)
}

func TestRestoreTimestamps_RejectsInverted(t *testing.T) {
	_, err := RestoreTimestamps(t0, t0.Add(-time.Second))
	require.ErrorIs(t, err, ErrInvalidTimestamps)

	ts, err := RestoreTimestamps(t0, t0)
	require.NoError(t, err)
	assert.Equal(t, t0, ts.CreatedAt)
}

func TestAddresses(t *testing.T) {
	require.NoError(t, ValidateHederaAddress("0.0.1234"))
	require.ErrorIs(t, ValidateHederaAddress("0.0"), ErrInvalidHederaAddress)
	require.ErrorIs(t, ValidateHederaAddress("a.b.c"), ErrInvalidHederaAddress)

	require.NoError(t, ValidateEvmAddress(evmBob))
	require.ErrorIs(t, ValidateEvmAddress("abcdef0123456789abcdef0123456789abcdef01"), ErrInvalidEvmAddress)
	require.ErrorIs(t, ValidateEvmAddress("0x1234"), ErrInvalidEvmAddress)

	assert.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", NormalizeEvmAddress(evmBob))
}

func TestLongZeroRoundTrip(t *testing.T) {
	assert.True(t, IsLongZeroAddress(evmAlice))
	assert.False(t, IsLongZeroAddress(evmBob))

	id, err := LongZeroToHederaID(evmAlice)
	require.NoError(t, err)
	assert.Equal(t, "0.0.1234", id)

	addr, err := HederaIDToLongZero("0.0.1234")
	require.NoError(t, err)
	assert.Equal(t, evmAlice, addr)

	_, err = LongZeroToHederaID(evmBob)
	require.ErrorIs(t, err, ErrInvalidEvmAddress)
}

func TestNewAsset(t *testing.T) {
	a, err := NewAsset("  Bond 2030 ", "0.0.100", evmBob, "0.0.200", evmAlice, t0)
	require.NoError(t, err)
	assert.Equal(t, "Bond 2030", a.Name)
	assert.Equal(t, NormalizeEvmAddress(evmBob), a.EvmTokenAddress)
	assert.True(t, a.SyncEnabled)
	assert.False(t, a.IsPaused)

	_, err = NewAsset("", "0.0.100", evmBob, "0.0.200", evmAlice, t0)
	require.ErrorIs(t, err, ErrInvalidName)

	_, err = NewAsset("x", "100", evmBob, "0.0.200", evmAlice, t0)
	require.ErrorIs(t, err, ErrInvalidHederaAddress)

	_, err = NewAsset("x", "0.0.100", "0xnothex", "0.0.200", evmAlice, t0)
	require.ErrorIs(t, err, ErrInvalidEvmAddress)
}

func TestAsset_PauseIsIdempotent(t *testing.T) {
	a, err := NewAsset("Bond", "0.0.100", evmBob, "0.0.200", evmAlice, t0)
	require.NoError(t, err)

	assert.True(t, a.Pause(t0.Add(time.Minute)))
	assert.False(t, a.Pause(t0.Add(2*time.Minute)))
	assert.Equal(t, t0.Add(time.Minute), a.UpdatedAt)

	assert.True(t, a.Unpause(t0.Add(3*time.Minute)))
	assert.False(t, a.Unpause(t0.Add(4*time.Minute)))
}

func TestNewHolder_RejectsNegativeRetryCounter(t *testing.T) {
	_, err := NewHolder(HolderParams{EvmAddress: evmBob, RetryCounter: -1}, t0)
	require.ErrorIs(t, err, ErrHolderRetryCounterNegative)
}

func TestNewHolder_Addresses(t *testing.T) {
	h, err := NewHolder(HolderParams{BatchPayoutID: "b1", EvmAddress: evmBob}, t0)
	require.NoError(t, err)
	assert.Equal(t, HolderStatusPending, h.Status)
	assert.Nil(t, h.Amount)

	_, err = NewHolder(HolderParams{EvmAddress: "0.0.5"}, t0)
	require.ErrorIs(t, err, ErrInvalidEvmAddress)

	_, err = NewHolder(HolderParams{EvmAddress: evmBob, HederaAddress: "0x5"}, t0)
	require.ErrorIs(t, err, ErrInvalidHederaAddress)

	neg := decimal.NewFromInt(-1)
	_, err = NewHolder(HolderParams{EvmAddress: evmBob, Amount: &neg}, t0)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestHolder_RetryCeiling(t *testing.T) {
	const ceiling = 3
	backoff := 10 * time.Minute

	h, err := NewHolder(HolderParams{EvmAddress: evmBob, Status: HolderStatusFailed}, t0)
	require.NoError(t, err)

	now := t0
	var delays []time.Duration
	for h.Retriable(ceiling) {
		require.NoError(t, h.BeginRetry(now, ceiling, backoff))
		assert.Equal(t, HolderStatusFailed, h.Status)
		delays = append(delays, h.NextRetryAt.Sub(now))
		h.Fail("transfer reverted", now)
		now = now.Add(time.Hour)
	}

	assert.Equal(t, ceiling, h.RetryCounter)
	assert.True(t, h.Exhausted(ceiling))
	assert.Equal(t, []time.Duration{10 * time.Minute, 20 * time.Minute, 40 * time.Minute}, delays)

	err = h.BeginRetry(now, ceiling, backoff)
	require.ErrorIs(t, err, ErrHolderNotRetriable)
	assert.Equal(t, ceiling, h.RetryCounter)
}

func TestHolder_RetryBackoffIsCapped(t *testing.T) {
	const ceiling = 100
	backoff := 10 * time.Minute

	h, err := NewHolder(HolderParams{EvmAddress: evmBob, Status: HolderStatusFailed, RetryCounter: 60}, t0)
	require.NoError(t, err)
	require.NoError(t, h.BeginRetry(t0, ceiling, backoff))

	require.NotNil(t, h.NextRetryAt)
	assert.Equal(t, t0.Add(24*time.Hour), *h.NextRetryAt)

	long := 48 * time.Hour
	require.NoError(t, h.BeginRetry(t0, ceiling, long))
	assert.Equal(t, t0.Add(long), *h.NextRetryAt)

	h.RetryCounter = 5
	require.NoError(t, h.BeginRetry(t0, ceiling, 0))
	assert.Equal(t, t0, *h.NextRetryAt)
}

func TestHolder_AwaitReceiptAndSettle(t *testing.T) {
	expected := decimal.RequireFromString("7.5")

	paid, err := NewHolder(HolderParams{EvmAddress: evmBob}, t0)
	require.NoError(t, err)
	paid.AwaitReceipt(&expected, t0)
	assert.True(t, paid.AwaitingReceipt())
	assert.Equal(t, HolderStatusPending, paid.Status)

	unpaid, err := NewHolder(HolderParams{EvmAddress: evmBob}, t0)
	require.NoError(t, err)
	unpaid.AwaitReceipt(nil, t0)

	paid.Settle(false, t0)
	unpaid.Settle(false, t0)
	assert.Equal(t, HolderStatusSucceeded, paid.Status)
	assert.True(t, paid.Amount.Equal(expected))
	assert.Equal(t, HolderStatusFailed, unpaid.Status)
	assert.False(t, unpaid.AwaitingReceipt())

	reverted, err := NewHolder(HolderParams{EvmAddress: evmBob}, t0)
	require.NoError(t, err)
	reverted.AwaitReceipt(&expected, t0)
	reverted.Settle(true, t0)
	assert.Equal(t, HolderStatusFailed, reverted.Status)
	assert.Nil(t, reverted.Amount)
}

func TestHolder_SucceedClearsRetryState(t *testing.T) {
	h, err := NewHolder(HolderParams{EvmAddress: evmBob, Status: HolderStatusFailed, LastError: "boom"}, t0)
	require.NoError(t, err)
	require.NoError(t, h.BeginRetry(t0, 3, time.Minute))

	paid := decimal.RequireFromString("12.5")
	h.Succeed(&paid, t0.Add(time.Second))

	assert.Equal(t, HolderStatusSucceeded, h.Status)
	assert.Empty(t, h.LastError)
	assert.Nil(t, h.NextRetryAt)
	assert.True(t, h.Amount.Equal(paid))
	assert.False(t, h.Retriable(3))

	assert.True(t, h.Due(t0))
}

func TestBatchPayout_FormatValidation(t *testing.T) {
	validHash := "0x" + strings.Repeat("ab", 48)

	_, err := NewBatchPayout("d1", "batch-0", "0.0.1234@1700000000.123456789", validHash, 2, BatchPayoutStatusCompleted, t0)
	require.NoError(t, err)

	_, err = NewBatchPayout("d1", "batch-0", "0.0.1234@1700000000.123456789", "0x"+strings.Repeat("ab", 32), 2, BatchPayoutStatusCompleted, t0)
	require.ErrorIs(t, err, ErrBatchPayoutHederaTransactionHashInvalid)

	_, err = NewBatchPayout("d1", "batch-0", "0.0.1234-1700000000-123456789", validHash, 2, BatchPayoutStatusCompleted, t0)
	require.ErrorIs(t, err, ErrBatchPayoutHederaTransactionIDInvalid)

	_, err = NewBatchPayout("d1", "batch-0", "", "", 2, BatchPayoutStatusFailed, t0)
	require.NoError(t, err)

	_, err = NewBatchPayout("d1", "batch-0", "", "", -1, BatchPayoutStatusFailed, t0)
	require.ErrorIs(t, err, ErrBatchPayoutHoldersNumberInvalid)
}

func TestBatchStatusFromHolders(t *testing.T) {
	s := func(statuses ...HolderStatus) []*Holder {
		hs := make([]*Holder, 0, len(statuses))
		for _, st := range statuses {
			hs = append(hs, &Holder{Status: st})
		}
		return hs
	}

	assert.Equal(t, BatchPayoutStatusCompleted, BatchStatusFromHolders(s(HolderStatusSucceeded, HolderStatusSucceeded)))
	assert.Equal(t, BatchPayoutStatusPartiallyCompleted, BatchStatusFromHolders(s(HolderStatusSucceeded, HolderStatusFailed)))
	assert.Equal(t, BatchPayoutStatusFailed, BatchStatusFromHolders(s(HolderStatusFailed)))
	assert.Equal(t, BatchPayoutStatusInProgress, BatchStatusFromHolders(s(HolderStatusFailed, HolderStatusPending)))
}

func TestBatchPayout_Finalized(t *testing.T) {
	exhausted := &Holder{Status: HolderStatusFailed, RetryCounter: 3}
	retriable := &Holder{Status: HolderStatusFailed, RetryCounter: 1}

	b := &BatchPayout{Status: BatchPayoutStatusFailed}
	assert.True(t, b.Finalized([]*Holder{exhausted}, 3))
	assert.False(t, b.Finalized([]*Holder{exhausted, retriable}, 3))

	b.Status = BatchPayoutStatusCompleted
	assert.True(t, b.Finalized(nil, 3))
	require.ErrorIs(t, b.Reconcile(nil, t0), ErrBatchPayoutFinalized)

	b.Status = BatchPayoutStatusPartiallyCompleted
	assert.False(t, b.Finalized(nil, 3))
	require.NoError(t, b.Reconcile([]*Holder{{Status: HolderStatusSucceeded}}, t0))
	assert.Equal(t, BatchPayoutStatusCompleted, b.Status)
}
