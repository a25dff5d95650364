package payout

import (
	"fmt"
	"regexp"
	"time"
)

var (
	// shard.realm.account@seconds.nanos
	hederaTransactionIDPattern = regexp.MustCompile(`^\d+\.\d+\.\d+@\d+\.\d+$`)
	// 0x followed by a 48 byte SHA-384 digest
	hederaTransactionHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{96}$`)
)

// BatchPayoutStatus is the execution status of one on-chain batch.
type BatchPayoutStatus string

const (
	BatchPayoutStatusInProgress         BatchPayoutStatus = "IN_PROGRESS"
	BatchPayoutStatusCompleted          BatchPayoutStatus = "COMPLETED"
	BatchPayoutStatusPartiallyCompleted BatchPayoutStatus = "PARTIALLY_COMPLETED"
	BatchPayoutStatusFailed             BatchPayoutStatus = "FAILED"
)

// ValidateHederaTransactionID checks the shard.realm.account@seconds.nanos format.
// An empty id is accepted; it means the call never produced a transaction.
func ValidateHederaTransactionID(id string) error {
	if id == "" || hederaTransactionIDPattern.MatchString(id) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrBatchPayoutHederaTransactionIDInvalid, id)
}

// ValidateHederaTransactionHash checks the 0x + 96 hex format.
// An empty hash is accepted; it means the mirror node could not resolve it.
func ValidateHederaTransactionHash(hash string) error {
	if hash == "" || hederaTransactionHashPattern.MatchString(hash) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrBatchPayoutHederaTransactionHashInvalid, hash)
}

// BatchPayout is one on-chain execution of a page of holders of a Distribution.
type BatchPayout struct {
	ID                    string
	DistributionID        string
	Name                  string
	HederaTransactionID   string
	HederaTransactionHash string
	// EvmTransactionHash is set while a sent transaction awaits its receipt.
	EvmTransactionHash string
	HoldersNumber      int
	Status             BatchPayoutStatus
	Timestamps
}

// NewBatchPayout validates and creates a batch payout record.
func NewBatchPayout(
	distributionID, name, txID, txHash string,
	holdersNumber int,
	status BatchPayoutStatus,
	now time.Time,
) (*BatchPayout, error) {
	b := &BatchPayout{
		ID:                    newID(),
		DistributionID:        distributionID,
		Name:                  name,
		HederaTransactionID:   txID,
		HederaTransactionHash: txHash,
		HoldersNumber:         holdersNumber,
		Status:                status,
		Timestamps:            newTimestamps(now),
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate checks the transaction formats, holder count and timestamps.
func (b *BatchPayout) Validate() error {
	if err := ValidateHederaTransactionID(b.HederaTransactionID); err != nil {
		return err
	}
	if err := ValidateHederaTransactionHash(b.HederaTransactionHash); err != nil {
		return err
	}
	if b.HoldersNumber < 0 {
		return ErrBatchPayoutHoldersNumberInvalid
	}
	return b.Timestamps.Validate()
}

// Finalized reports whether the batch can no longer change: it completed, or
// it failed and none of its holders has retries left.
func (b *BatchPayout) Finalized(holders []*Holder, ceiling int) bool {
	switch b.Status {
	case BatchPayoutStatusCompleted:
		return true
	case BatchPayoutStatusFailed:
		for _, h := range holders {
			if h.Retriable(ceiling) {
				return false
			}
		}
		return true
	}
	return false
}

// AwaitingReceipt reports whether the batch has a sent transaction whose
// outcome is unknown. Such a batch must not be sent again until settled.
func (b *BatchPayout) AwaitingReceipt() bool {
	return b.Status == BatchPayoutStatusInProgress && b.EvmTransactionHash != ""
}

// RecordAttempt stores the transaction of a retry attempt.
func (b *BatchPayout) RecordAttempt(txID, txHash string, now time.Time) error {
	if err := ValidateHederaTransactionID(txID); err != nil {
		return err
	}
	if err := ValidateHederaTransactionHash(txHash); err != nil {
		return err
	}
	if txID != "" {
		b.HederaTransactionID = txID
		b.HederaTransactionHash = txHash
	}
	b.Touch(now)
	return nil
}

// Reconcile re-derives the batch status from its holders after a retry.
// Callers check Finalized before retrying; a completed batch is never touched.
func (b *BatchPayout) Reconcile(holders []*Holder, now time.Time) error {
	if b.Status == BatchPayoutStatusCompleted {
		return ErrBatchPayoutFinalized
	}
	next := BatchStatusFromHolders(holders)
	if next != b.Status {
		b.Status = next
		b.Touch(now)
	}
	return nil
}

// BatchStatusFromHolders derives a batch status: every holder paid is
// COMPLETED, nobody paid is FAILED, anything in between PARTIALLY_COMPLETED.
// Holders still PENDING keep the batch IN_PROGRESS.
func BatchStatusFromHolders(holders []*Holder) BatchPayoutStatus {
	var succeeded, failed, pending int
	for _, h := range holders {
		switch h.Status {
		case HolderStatusSucceeded:
			succeeded++
		case HolderStatusFailed:
			failed++
		default:
			pending++
		}
	}
	switch {
	case pending > 0:
		return BatchPayoutStatusInProgress
	case failed == 0:
		return BatchPayoutStatusCompleted
	case succeeded == 0:
		return BatchPayoutStatusFailed
	default:
		return BatchPayoutStatusPartiallyCompleted
	}
}
