package hedera

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/hashgraph/mass-payout/pkg/hedera/mirror"
	"github.com/hashgraph/mass-payout/pkg/payout"
)

// TransactionResolver maps EVM transaction hashes to Hedera transaction ids and hashes.
type TransactionResolver interface {
	GetTransactionIDByEvmHash(ctx context.Context, evmHash string) (string, error)
	GetParentHederaTransactionHash(ctx context.Context, txID string) mirror.TransactionHash
}

// LifeCycleCashFlow drives the life-cycle-cash-flow contract of an asset.
type LifeCycleCashFlow struct {
	client   *Client
	resolver TransactionResolver
	logger   *zap.Logger
}

// NewLifeCycleCashFlow creates the contract port.
func NewLifeCycleCashFlow(client *Client, resolver TransactionResolver, logger *zap.Logger) *LifeCycleCashFlow {
	return &LifeCycleCashFlow{
		client:   client,
		resolver: resolver,
		logger:   logger,
	}
}

// Pause pauses the contract.
func (l *LifeCycleCashFlow) Pause(ctx context.Context, lcc string) error {
	return l.send(ctx, lcc, "pause")
}

// Unpause resumes the contract.
func (l *LifeCycleCashFlow) Unpause(ctx context.Context, lcc string) error {
	return l.send(ctx, lcc, "unpause")
}

// IsPaused reads the contract's paused flag.
func (l *LifeCycleCashFlow) IsPaused(ctx context.Context, lcc string) (bool, error) {
	data, err := lifeCycleCashFlowABI.Pack("isPaused")
	if err != nil {
		return false, fmt.Errorf("failed to pack isPaused: %w", err)
	}
	raw, err := l.client.call(ctx, common.HexToAddress(lcc), data)
	if err != nil {
		return false, fmt.Errorf("failed to call isPaused on %s: %w", lcc, err)
	}
	out, err := lifeCycleCashFlowABI.Unpack("isPaused", raw)
	if err != nil || len(out) != 1 {
		return false, fmt.Errorf("failed to unpack isPaused: %w", err)
	}
	paused, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected isPaused output %T", out[0])
	}
	return paused, nil
}

// ExecuteDistribution pays one page of holders of a corporate action.
func (l *LifeCycleCashFlow) ExecuteDistribution(ctx context.Context, lcc, asset string, distributionID *big.Int, page payout.Pagination) (*payout.ExecutionResult, error) {
	return l.execute(ctx, lcc, "executeDistribution",
		common.HexToAddress(asset), distributionID, pageIndex(page), pageLength(page))
}

// ExecuteDistributionByAddresses pays the given holders of a corporate action.
func (l *LifeCycleCashFlow) ExecuteDistributionByAddresses(ctx context.Context, lcc, asset string, distributionID *big.Int, holders []string) (*payout.ExecutionResult, error) {
	return l.execute(ctx, lcc, "executeDistributionByAddresses",
		common.HexToAddress(asset), distributionID, toAddresses(holders))
}

// ExecuteAmountSnapshot splits amount across one page of snapshot holders.
func (l *LifeCycleCashFlow) ExecuteAmountSnapshot(ctx context.Context, lcc, asset string, snapshotID *big.Int, page payout.Pagination, amount *big.Int) (*payout.ExecutionResult, error) {
	return l.execute(ctx, lcc, "executeAmountSnapshot",
		common.HexToAddress(asset), snapshotID, pageIndex(page), pageLength(page), amount)
}

// ExecuteAmountSnapshotByAddresses splits amount across the given snapshot holders.
func (l *LifeCycleCashFlow) ExecuteAmountSnapshotByAddresses(ctx context.Context, lcc, asset string, snapshotID *big.Int, holders []string, amount *big.Int) (*payout.ExecutionResult, error) {
	return l.execute(ctx, lcc, "executeAmountSnapshotByAddresses",
		common.HexToAddress(asset), snapshotID, toAddresses(holders), amount)
}

// ExecutePercentageSnapshot pays a percentage of each snapshot balance for one page.
func (l *LifeCycleCashFlow) ExecutePercentageSnapshot(ctx context.Context, lcc, asset string, snapshotID *big.Int, page payout.Pagination, percentage *big.Int) (*payout.ExecutionResult, error) {
	return l.execute(ctx, lcc, "executePercentageSnapshot",
		common.HexToAddress(asset), snapshotID, pageIndex(page), pageLength(page), percentage)
}

// ExecutePercentageSnapshotByAddresses pays a percentage of each snapshot balance of the given holders.
func (l *LifeCycleCashFlow) ExecutePercentageSnapshotByAddresses(ctx context.Context, lcc, asset string, snapshotID *big.Int, holders []string, percentage *big.Int) (*payout.ExecutionResult, error) {
	return l.execute(ctx, lcc, "executePercentageSnapshotByAddresses",
		common.HexToAddress(asset), snapshotID, toAddresses(holders), percentage)
}

func (l *LifeCycleCashFlow) send(ctx context.Context, lcc, method string) error {
	data, err := lifeCycleCashFlowABI.Pack(method)
	if err != nil {
		return fmt.Errorf("failed to pack %s: %w", method, err)
	}
	if _, err := l.client.transact(ctx, method, common.HexToAddress(lcc), data); err != nil {
		return fmt.Errorf("failed to %s life cycle cash flow %s: %w", method, lcc, err)
	}
	return nil
}

// execute simulates the call to learn the per-holder outcome, then sends it.
// A write landing between the two can make the simulated outcome stale.
func (l *LifeCycleCashFlow) execute(ctx context.Context, lcc, method string, args ...any) (*payout.ExecutionResult, error) {
	data, err := lifeCycleCashFlowABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	to := common.HexToAddress(lcc)

	raw, err := l.client.call(ctx, to, data)
	if err != nil {
		return nil, fmt.Errorf("failed to simulate %s on %s: %w", method, lcc, err)
	}
	result, err := decodeExecutionResult(method, raw)
	if err != nil {
		return nil, err
	}
	if !result.Executed {
		l.logger.Warn("Contract reported nothing to execute",
			zap.String("method", method),
			zap.String("lcc", lcc))
		return result, nil
	}

	receipt, err := l.client.transact(ctx, method, to, data)
	if err != nil {
		var pending *payout.PendingTransactionError
		if errors.As(err, &pending) {
			pending.Result = result
		}
		return nil, err
	}

	result.EvmTransactionHash = receipt.TxHash.Hex()
	result.TransactionID, result.TransactionHash = l.resolve(context.WithoutCancel(ctx), method, result.EvmTransactionHash)

	l.logger.Info("Executed life cycle cash flow batch",
		zap.String("method", method),
		zap.String("transaction_id", result.TransactionID),
		zap.Int("succeeded", len(result.Succeeded)),
		zap.Int("failed", len(result.Failed)))
	return result, nil
}

// TransactionOutcome checks whether a batch transaction sent earlier has been
// mined. Not-yet-mined transactions report Mined false.
func (l *LifeCycleCashFlow) TransactionOutcome(ctx context.Context, evmHash string) (*payout.TransactionOutcome, error) {
	receipt, err := l.client.receipt(ctx, common.HexToHash(evmHash))
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt of %s: %w", evmHash, err)
	}
	if receipt == nil {
		return &payout.TransactionOutcome{}, nil
	}

	outcome := &payout.TransactionOutcome{
		Mined:    true,
		Reverted: receipt.Status != types.ReceiptStatusSuccessful,
	}
	outcome.TransactionID, outcome.TransactionHash = l.resolve(ctx, "receipt", evmHash)
	return outcome, nil
}

// resolve maps an EVM hash to its Hedera transaction id and hash. A lookup
// failure leaves both empty.
func (l *LifeCycleCashFlow) resolve(ctx context.Context, method, evmHash string) (string, string) {
	txID, err := l.resolver.GetTransactionIDByEvmHash(ctx, evmHash)
	if err != nil {
		l.logger.Warn("Failed to resolve Hedera transaction id",
			zap.String("method", method),
			zap.String("evm_tx_hash", evmHash),
			zap.Error(err))
		return "", ""
	}
	return txID, l.resolver.GetParentHederaTransactionHash(ctx, txID).Hash
}

func decodeExecutionResult(method string, raw []byte) (*payout.ExecutionResult, error) {
	out, err := lifeCycleCashFlowABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	if len(out) != 4 {
		return nil, fmt.Errorf("unexpected %s result arity %d", method, len(out))
	}
	failed, ok1 := out[0].([]common.Address)
	succeeded, ok2 := out[1].([]common.Address)
	paid, ok3 := out[2].([]*big.Int)
	executed, ok4 := out[3].(bool)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, fmt.Errorf("unexpected %s result types", method)
	}
	if len(paid) != len(succeeded) {
		return nil, fmt.Errorf("%s returned %d paid amounts for %d succeeded holders", method, len(paid), len(succeeded))
	}

	return &payout.ExecutionResult{
		Failed:      fromAddresses(failed),
		Succeeded:   fromAddresses(succeeded),
		PaidAmounts: paid,
		Executed:    executed,
	}, nil
}

func pageIndex(p payout.Pagination) *big.Int  { return big.NewInt(int64(p.PageIndex)) }
func pageLength(p payout.Pagination) *big.Int { return big.NewInt(int64(p.PageLength)) }

func toAddresses(addrs []string) []common.Address {
	out := make([]common.Address, len(addrs))
	for i, a := range addrs {
		out[i] = common.HexToAddress(a)
	}
	return out
}

func fromAddresses(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = payout.NormalizeEvmAddress(a.Hex())
	}
	return out
}
