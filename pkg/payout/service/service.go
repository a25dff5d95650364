// Package service implements the payout use cases: asset registration and the
// pause guard, the distribution lifecycle, batch execution across holder pages
// and the retry of failed holders.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	apperrors "github.com/hashgraph/mass-payout/pkg/app/errors"
	"github.com/hashgraph/mass-payout/pkg/config"
	"github.com/hashgraph/mass-payout/pkg/payout"
)

// CashFlow is the life-cycle-cash-flow contract of an asset.
type CashFlow interface {
	Pause(ctx context.Context, lcc string) error
	Unpause(ctx context.Context, lcc string) error
	IsPaused(ctx context.Context, lcc string) (bool, error)
	ExecuteDistribution(ctx context.Context, lcc, asset string, distributionID *big.Int, page payout.Pagination) (*payout.ExecutionResult, error)
	ExecuteDistributionByAddresses(ctx context.Context, lcc, asset string, distributionID *big.Int, holders []string) (*payout.ExecutionResult, error)
	ExecuteAmountSnapshot(ctx context.Context, lcc, asset string, snapshotID *big.Int, page payout.Pagination, amount *big.Int) (*payout.ExecutionResult, error)
	ExecuteAmountSnapshotByAddresses(ctx context.Context, lcc, asset string, snapshotID *big.Int, holders []string, amount *big.Int) (*payout.ExecutionResult, error)
	ExecutePercentageSnapshot(ctx context.Context, lcc, asset string, snapshotID *big.Int, page payout.Pagination, percentage *big.Int) (*payout.ExecutionResult, error)
	ExecutePercentageSnapshotByAddresses(ctx context.Context, lcc, asset string, snapshotID *big.Int, holders []string, percentage *big.Int) (*payout.ExecutionResult, error)
	TransactionOutcome(ctx context.Context, evmHash string) (*payout.TransactionOutcome, error)
}

// AssetToken reads holders, balances and corporate actions of an asset token.
type AssetToken interface {
	TakeSnapshot(ctx context.Context, token string) (*big.Int, error)
	Decimals(ctx context.Context, token string) (int32, error)
	TotalTokenHoldersAtSnapshot(ctx context.Context, token string, snapshotID *big.Int) (int, error)
	TokenHoldersAtSnapshot(ctx context.Context, token string, snapshotID *big.Int, page payout.Pagination) ([]string, error)
	BalanceOfAtSnapshot(ctx context.Context, token string, snapshotID *big.Int, holder string) (*big.Int, error)
	DividendsCount(ctx context.Context, token string) (int, error)
	Dividend(ctx context.Context, token string, dividendID *big.Int) (*payout.Dividend, error)
	TotalDividendHolders(ctx context.Context, token string, dividendID *big.Int) (int, error)
	DividendHolders(ctx context.Context, token string, dividendID *big.Int, page payout.Pagination) ([]string, error)
}

// AddressResolver translates between Hedera entity ids and EVM addresses.
type AddressResolver interface {
	GetEvmAddressFromHedera(ctx context.Context, hederaID string) (string, error)
	GetHederaAddressFromEvm(ctx context.Context, evmAddress string) (string, error)
}

// Settings tunes batch execution and retries.
type Settings struct {
	PageLength           int
	RetryCeiling         int
	RetryBackoff         time.Duration
	RetryConcurrency     int
	PaymentTokenDecimals int32
}

// NewSettings builds Settings from the payout and hedera config sections.
func NewSettings(p *config.PayoutConfig, h *config.HederaConfig) Settings {
	return Settings{
		PageLength:           p.PageLength,
		RetryCeiling:         p.RetryCeiling,
		RetryBackoff:         p.RetryBackoff,
		RetryConcurrency:     p.RetryConcurrency,
		PaymentTokenDecimals: h.PaymentTokenDecimals,
	}
}

// percentageDecimals is the fixed-point precision of percentages sent on-chain:
// 12.5% travels as 1250.
const percentageDecimals = 2

var (
	notFoundErrors = []error{
		payout.ErrAssetNotFound,
		payout.ErrDistributionNotFound,
		payout.ErrBatchPayoutNotFound,
		payout.ErrListenerNotFound,
	}
	dataErrors = []error{
		payout.ErrInvalidHederaAddress,
		payout.ErrInvalidEvmAddress,
		payout.ErrInvalidAmount,
		payout.ErrInvalidPercentage,
		payout.ErrExecutionDateInPast,
		payout.ErrInvalidPagination,
		payout.ErrInvalidTimestamps,
		payout.ErrInvalidRecurrency,
		payout.ErrInvalidName,
		payout.ErrBatchPayoutHederaTransactionIDInvalid,
		payout.ErrBatchPayoutHederaTransactionHashInvalid,
		payout.ErrBatchPayoutHoldersNumberInvalid,
		payout.ErrHolderRetryCounterNegative,
		payout.ErrInvalidTokenDecimals,
		payout.ErrInvalidCorporateActionID,
		payout.ErrInvalidPayoutSubtype,
		payout.ErrInvalidAmountType,
	}
	conflictErrors = []error{
		payout.ErrAssetPaused,
		payout.ErrInvalidStatusTransition,
		payout.ErrDistributionNotExecutable,
		payout.ErrDistributionNotRetriable,
		payout.ErrHolderNotRetriable,
		payout.ErrBatchPayoutFinalized,
		payout.ErrAssetAlreadyExists,
		payout.ErrListenerConfigConflict,
		payout.ErrDistributionAlreadyExists,
		payout.ErrDistributionNotRecurring,
		payout.ErrSnapshotRequiredForPayouts,
		payout.ErrDistributionRunning,
	}
)

// serviceError categorizes domain sentinels so the HTTP layer can map them.
// Anything else is returned unchanged and surfaces as an internal error.
func serviceError(err error) error {
	if err == nil {
		return nil
	}
	var svcErr *apperrors.ServiceError
	if errors.As(err, &svcErr) {
		return err
	}
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return apperrors.ResourceNotFoundError(err, err.Error())
		}
	}
	for _, target := range dataErrors {
		if errors.Is(err, target) {
			return apperrors.BadRequestError(err, err.Error())
		}
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return apperrors.ConflictError(err, err.Error())
		}
	}
	return err
}

// parseUint256 reads a decimal on-chain id stored as a string.
func parseUint256(field, value string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(value, 10)
	if !ok || n.Sign() < 0 {
		return nil, apperrors.BadRequestError(nil, fmt.Sprintf("invalid %s %q", field, value))
	}
	return n, nil
}

// keyedLocks hands out one mutex per key.
type keyedLocks struct {
	m sync.Map
}

func (k *keyedLocks) get(key string) *sync.Mutex {
	v, _ := k.m.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}
