package payout

import "errors"

// Not-found errors.
var (
	ErrAssetNotFound        = errors.New("asset not found")
	ErrDistributionNotFound = errors.New("distribution not found")
	ErrBatchPayoutNotFound  = errors.New("batch payout not found")
	ErrListenerNotFound     = errors.New("blockchain event listener config not found")
)

// Invalid-data errors, raised when constructing or validating values.
var (
	ErrInvalidHederaAddress                    = errors.New("invalid hedera address")
	ErrInvalidEvmAddress                       = errors.New("invalid evm address")
	ErrInvalidAmount                           = errors.New("invalid amount")
	ErrInvalidPercentage                       = errors.New("percentage must be greater than 0 and at most 100")
	ErrExecutionDateInPast                     = errors.New("execution date must be in the future")
	ErrInvalidPagination                       = errors.New("page index must be >= 0 and page length >= 1")
	ErrInvalidTimestamps                       = errors.New("createdAt must not be after updatedAt")
	ErrInvalidRecurrency                       = errors.New("invalid recurrency")
	ErrInvalidName                             = errors.New("name must not be empty")
	ErrBatchPayoutHederaTransactionIDInvalid   = errors.New("batch payout hedera transaction id is invalid")
	ErrBatchPayoutHederaTransactionHashInvalid = errors.New("batch payout hedera transaction hash is invalid")
	ErrBatchPayoutHoldersNumberInvalid         = errors.New("batch payout holders number must not be negative")
	ErrHolderRetryCounterNegative              = errors.New("holder retry counter must not be negative")
	ErrInvalidTokenDecimals                    = errors.New("token decimals must not be negative")
	ErrInvalidCorporateActionID                = errors.New("corporate action id is required")
	ErrInvalidPayoutSubtype                    = errors.New("invalid payout subtype")
	ErrInvalidAmountType                       = errors.New("invalid amount type")
)

// Conflict errors, raised when the current state rejects an operation.
var (
	ErrAssetPaused                = errors.New("asset is paused")
	ErrInvalidStatusTransition    = errors.New("invalid distribution status transition")
	ErrDistributionNotExecutable  = errors.New("distribution is not executable in its current status")
	ErrDistributionNotRetriable   = errors.New("distribution has no retriable holders in its current status")
	ErrHolderNotRetriable         = errors.New("holder is not retriable")
	ErrBatchPayoutFinalized       = errors.New("batch payout is finalized")
	ErrAssetAlreadyExists         = errors.New("asset already exists")
	ErrListenerConfigConflict     = errors.New("blockchain event listener config was modified concurrently")
	ErrDistributionAlreadyExists  = errors.New("distribution already exists for corporate action")
	ErrDistributionNotRecurring   = errors.New("distribution is not a recurring payout")
	ErrSnapshotRequiredForPayouts = errors.New("payout distribution requires a snapshot")
	ErrDistributionRunning        = errors.New("distribution is already being executed")
)

// ErrTransactionPending means a transaction was sent but its receipt could
// not be read. The transaction may still be mined.
var ErrTransactionPending = errors.New("transaction sent without a receipt")
