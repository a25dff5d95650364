package payout

import (
	"fmt"
	"math/big"
	"time"
)

// ExecutionResult is the outcome of one life-cycle-cash-flow batch call.
// PaidAmounts runs parallel to Succeeded and is expressed in raw token units.
type ExecutionResult struct {
	Failed          []string
	Succeeded       []string
	PaidAmounts     []*big.Int
	Executed        bool
	TransactionID   string
	TransactionHash string
	// EvmTransactionHash is the 0x-prefixed keccak hash of the sent transaction.
	EvmTransactionHash string
}

// PaidAmount returns the raw amount paid to addr, or nil when addr was not paid.
func (r *ExecutionResult) PaidAmount(addr string) *big.Int {
	addr = NormalizeEvmAddress(addr)
	for i, s := range r.Succeeded {
		if NormalizeEvmAddress(s) == addr && i < len(r.PaidAmounts) {
			return r.PaidAmounts[i]
		}
	}
	return nil
}

// PendingTransactionError is returned when a batch transaction was sent but
// no receipt arrived. Result holds the simulated outcome of the call, if any.
type PendingTransactionError struct {
	Method string
	TxHash string
	Result *ExecutionResult
	Err    error
}

func (e *PendingTransactionError) Error() string {
	return fmt.Sprintf("%s transaction %s sent without a receipt: %v", e.Method, e.TxHash, e.Err)
}

func (e *PendingTransactionError) Unwrap() error { return e.Err }

func (e *PendingTransactionError) Is(target error) bool { return target == ErrTransactionPending }

// TransactionOutcome is what the network knows about a sent transaction.
type TransactionOutcome struct {
	Mined           bool
	Reverted        bool
	TransactionID   string
	TransactionHash string
}

// Dividend is a corporate action registered on an asset token.
type Dividend struct {
	ID             *big.Int
	RecordDate     time.Time
	ExecutionDate  time.Time
	Amount         *big.Int
	AmountDecimals int32
	SnapshotID     *big.Int
}
