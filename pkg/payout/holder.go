package payout

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// maxRetryBackoff caps the exponential retry delay unless the base backoff
// is already longer.
const maxRetryBackoff = 24 * time.Hour

// reasonAwaitingReceipt marks legs whose transaction was sent without a
// receipt yet.
const reasonAwaitingReceipt = "awaiting transaction receipt"

// HolderStatus is the status of a single payout leg.
type HolderStatus string

const (
	HolderStatusPending   HolderStatus = "PENDING"
	HolderStatusSucceeded HolderStatus = "SUCCEEDED"
	HolderStatusFailed    HolderStatus = "FAILED"
)

// Holder is one holder's payout leg within a BatchPayout.
type Holder struct {
	ID                  string
	BatchPayoutID       string
	HolderHederaAddress string
	HolderEvmAddress    string
	// Amount is nil until resolved: a failed fixed-amount leg has no paid amount yet.
	Amount       *decimal.Decimal
	RetryCounter int
	Status       HolderStatus
	NextRetryAt  *time.Time
	LastError    string
	Timestamps
}

// HolderParams describes a holder leg as returned by an on-chain batch call.
type HolderParams struct {
	BatchPayoutID string
	HederaAddress string
	EvmAddress    string
	Amount        *decimal.Decimal
	RetryCounter  int
	Status        HolderStatus
	LastError     string
}

// NewHolder validates and creates a holder leg.
func NewHolder(p HolderParams, now time.Time) (*Holder, error) {
	if p.RetryCounter < 0 {
		return nil, ErrHolderRetryCounterNegative
	}
	if err := ValidateEvmAddress(p.EvmAddress); err != nil {
		return nil, err
	}
	if p.HederaAddress != "" {
		if err := ValidateHederaAddress(p.HederaAddress); err != nil {
			return nil, err
		}
	}
	if p.Amount != nil && p.Amount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	status := p.Status
	if status == "" {
		status = HolderStatusPending
	}
	return &Holder{
		ID:                  newID(),
		BatchPayoutID:       p.BatchPayoutID,
		HolderHederaAddress: p.HederaAddress,
		HolderEvmAddress:    NormalizeEvmAddress(p.EvmAddress),
		Amount:              p.Amount,
		RetryCounter:        p.RetryCounter,
		Status:              status,
		LastError:           p.LastError,
		Timestamps:          newTimestamps(now),
	}, nil
}

// Validate checks the holder invariants on a loaded record.
func (h *Holder) Validate() error {
	if h.RetryCounter < 0 {
		return ErrHolderRetryCounterNegative
	}
	if err := ValidateEvmAddress(h.HolderEvmAddress); err != nil {
		return err
	}
	if h.HolderHederaAddress != "" {
		if err := ValidateHederaAddress(h.HolderHederaAddress); err != nil {
			return err
		}
	}
	return h.Timestamps.Validate()
}

// Retriable reports whether the leg failed and still has attempts left.
func (h *Holder) Retriable(ceiling int) bool {
	return h.Status == HolderStatusFailed && h.RetryCounter < ceiling
}

// Exhausted reports whether the leg failed for good.
func (h *Holder) Exhausted(ceiling int) bool {
	return h.Status == HolderStatusFailed && h.RetryCounter >= ceiling
}

// Due reports whether the scheduled retry time has passed.
func (h *Holder) Due(now time.Time) bool {
	return h.NextRetryAt == nil || !h.NextRetryAt.After(now)
}

// BeginRetry records another attempt on a failed leg: the counter is
// incremented and the next retry time backs off exponentially. The leg stays
// FAILED until the attempt's outcome is recorded, so the attempt can be
// persisted before it is made.
func (h *Holder) BeginRetry(now time.Time, ceiling int, backoff time.Duration) error {
	if !h.Retriable(ceiling) {
		return fmt.Errorf("%w: status %s, retries %d/%d", ErrHolderNotRetriable, h.Status, h.RetryCounter, ceiling)
	}
	h.RetryCounter++
	next := now.UTC().Add(retryDelay(backoff, h.RetryCounter))
	h.NextRetryAt = &next
	h.Touch(now)
	return nil
}

// retryDelay doubles backoff for every attempt after the first, up to
// maxRetryBackoff.
func retryDelay(backoff time.Duration, attempt int) time.Duration {
	limit := max(backoff, maxRetryBackoff)
	delay := backoff
	for i := 1; i < attempt && delay > 0 && delay < limit; i++ {
		delay *= 2
	}
	return min(delay, limit)
}

// AwaitReceipt marks a leg whose transaction was sent but not confirmed.
// expected is what the simulated call would pay the holder, nil when the
// holder was not going to be paid.
func (h *Holder) AwaitReceipt(expected *decimal.Decimal, now time.Time) {
	h.Status = HolderStatusPending
	h.Amount = expected
	h.LastError = reasonAwaitingReceipt
	h.Touch(now)
}

// AwaitingReceipt reports whether the leg waits for a transaction receipt.
func (h *Holder) AwaitingReceipt() bool {
	return h.Status == HolderStatusPending && h.LastError == reasonAwaitingReceipt
}

// Settle resolves a leg that awaited a receipt. A mined transaction pays the
// legs the simulated call expected to pay; a reverted one pays nobody.
func (h *Holder) Settle(reverted bool, now time.Time) {
	switch {
	case reverted:
		h.Amount = nil
		h.Fail("transaction reverted", now)
	case h.Amount != nil:
		h.Succeed(nil, now)
	default:
		h.Fail("payout failed on-chain", now)
	}
}

// Succeed records a paid leg.
func (h *Holder) Succeed(amount *decimal.Decimal, now time.Time) {
	h.Status = HolderStatusSucceeded
	if amount != nil {
		h.Amount = amount
	}
	h.LastError = ""
	h.NextRetryAt = nil
	h.Touch(now)
}

// Fail records a failed attempt.
func (h *Holder) Fail(reason string, now time.Time) {
	h.Status = HolderStatusFailed
	h.LastError = reason
	h.Touch(now)
}
