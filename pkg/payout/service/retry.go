package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hashgraph/mass-payout/internal/metrics"
	"github.com/hashgraph/mass-payout/pkg/payout"
	"github.com/hashgraph/mass-payout/pkg/payoutstore"
)

// unminedExpiry is how long a sent transaction may go without a receipt
// before it is treated as dropped. Hedera rejects transactions that do not
// reach consensus within their valid duration of at most three minutes.
const unminedExpiry = 15 * time.Minute

const reasonNotMined = "transaction was not mined"

// RetryReport summarizes one retry pass over a distribution.
type RetryReport struct {
	Distribution *payout.Distribution
	Retried      int
	Succeeded    int
	Failed       int
	// AwaitingReceipt counts holders whose transaction has no receipt yet.
	AwaitingReceipt int
	// Settled counts holders of earlier sent transactions resolved by this pass.
	Settled int
	// SkippedBatches counts batches that already had a retry in flight.
	SkippedBatches int
}

// RetryService re-attempts failed holders up to the retry ceiling.
type RetryService interface {
	Execute(ctx context.Context, distributionID string) (*RetryReport, error)
	RetryDue(ctx context.Context) (int, error)
}

// RetryStore is the persistence the retry service needs.
type RetryStore interface {
	statusStore
	GetAsset(ctx context.Context, opts ...payoutstore.AssetQueryOption) (*payout.Asset, error)
	UpdateBatchPayout(ctx context.Context, batch *payout.BatchPayout, holders []*payout.Holder) error
	ListFailedHolders(ctx context.Context, distributionID string) ([]*payout.Holder, error)
	ListDistributionsWithDueRetries(ctx context.Context, now time.Time, ceiling int) ([]string, error)
}

type retryService struct {
	store    RetryStore
	cashFlow CashFlow
	settings Settings
	clock    clockwork.Clock
	// at most one retry in flight per batch payout
	batchLocks keyedLocks
	logger     *zap.Logger
}

// NewRetryService creates a RetryService.
func NewRetryService(
	store RetryStore,
	cashFlow CashFlow,
	settings Settings,
	clock clockwork.Clock,
	logger *zap.Logger,
) RetryService {
	return &retryService{
		store:    store,
		cashFlow: cashFlow,
		settings: settings,
		clock:    clock,
		logger:   logger,
	}
}

// Execute retries every retriable failed holder of the distribution now,
// regardless of its scheduled retry time. Batches whose transaction awaits a
// receipt are settled first and never sent again while unresolved.
func (s *retryService) Execute(ctx context.Context, distributionID string) (*RetryReport, error) {
	return s.retry(ctx, distributionID, false)
}

// RetryDue retries the holders whose backoff has elapsed. A failing
// distribution does not stop the sweep. It returns the number of
// distributions processed.
func (s *retryService) RetryDue(ctx context.Context) (int, error) {
	ids, err := s.store.ListDistributionsWithDueRetries(ctx, s.clock.Now(), s.settings.RetryCeiling)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, id := range ids {
		if _, err := s.retry(ctx, id, true); err != nil {
			s.logger.Error("Failed to retry distribution",
				zap.String("distribution_id", id),
				zap.Error(err))
			continue
		}
		processed++
	}
	return processed, nil
}

func (s *retryService) retry(ctx context.Context, distributionID string, onlyDue bool) (*RetryReport, error) {
	d, err := s.store.GetDistribution(ctx, distributionID)
	if err != nil {
		return nil, serviceError(err)
	}
	switch d.Status {
	case payout.DistributionStatusInProgress, payout.DistributionStatusPartiallyCompleted:
	default:
		return nil, serviceError(fmt.Errorf("%w: distribution %s is %s", payout.ErrDistributionNotRetriable, d.ID, d.Status))
	}
	asset, err := s.store.GetAsset(ctx, payoutstore.WithAssetID(d.AssetID))
	if err != nil {
		return nil, serviceError(err)
	}
	if err := validatePauseState(asset, d.ID); err != nil {
		return nil, err
	}

	report := &RetryReport{}
	if err := s.settlePending(ctx, d, report); err != nil {
		return nil, err
	}

	failed, err := s.store.ListFailedHolders(ctx, d.ID)
	if err != nil {
		return nil, serviceError(err)
	}
	batchIDs := make(map[string]struct{})
	for _, h := range failed {
		if h.Retriable(s.settings.RetryCeiling) {
			batchIDs[h.BatchPayoutID] = struct{}{}
		}
	}

	if len(batchIDs) > 0 {
		batches, err := s.store.ListBatchPayouts(ctx, d.ID)
		if err != nil {
			return nil, serviceError(err)
		}

		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.settings.RetryConcurrency)
		for _, batch := range batches {
			if _, ok := batchIDs[batch.ID]; !ok {
				continue
			}
			g.Go(func() error {
				outcome, err := s.retryBatch(gctx, d, asset, batch, onlyDue)
				if err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				if outcome == nil {
					report.SkippedBatches++
					return nil
				}
				report.Retried += outcome.Retried
				report.Succeeded += outcome.Succeeded
				report.Failed += outcome.Failed
				report.AwaitingReceipt += outcome.AwaitingReceipt
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	final, err := refreshStatus(ctx, s.store, d.ID, s.settings.RetryCeiling, s.clock.Now())
	if err != nil {
		return nil, err
	}
	report.Distribution = final
	return report, nil
}

// settlePending resolves the batches of d whose transaction was sent without
// a receipt. Unmined transactions are left alone until they expire.
func (s *retryService) settlePending(ctx context.Context, d *payout.Distribution, report *RetryReport) error {
	batches, err := s.store.ListBatchPayouts(ctx, d.ID)
	if err != nil {
		return serviceError(err)
	}
	for _, batch := range batches {
		if !batch.AwaitingReceipt() {
			continue
		}
		settled, err := s.settleBatch(ctx, d, batch)
		if err != nil {
			return err
		}
		if settled < 0 {
			report.SkippedBatches++
			continue
		}
		report.Settled += settled
	}
	return nil
}

// settleBatch returns the number of holders settled, or -1 when another
// retry of the batch is in flight.
func (s *retryService) settleBatch(ctx context.Context, d *payout.Distribution, batch *payout.BatchPayout) (int, error) {
	mu := s.batchLocks.get(batch.ID)
	if !mu.TryLock() {
		return -1, nil
	}
	defer mu.Unlock()

	outcome, err := s.cashFlow.TransactionOutcome(ctx, batch.EvmTransactionHash)
	if err != nil {
		s.logger.Warn("Failed to check pending batch transaction",
			zap.String("distribution_id", d.ID),
			zap.String("batch_payout_id", batch.ID),
			zap.String("evm_tx_hash", batch.EvmTransactionHash),
			zap.Error(err))
		return 0, nil
	}
	now := s.clock.Now()
	if !outcome.Mined && now.Sub(batch.UpdatedAt) < unminedExpiry {
		return 0, nil
	}

	holders, err := s.store.ListHoldersByBatchPayout(ctx, batch.ID)
	if err != nil {
		return 0, serviceError(err)
	}
	var settled []*payout.Holder
	for _, h := range holders {
		if !h.AwaitingReceipt() {
			continue
		}
		if outcome.Mined {
			h.Settle(outcome.Reverted, now)
		} else {
			h.Amount = nil
			h.Fail(reasonNotMined, now)
		}
		settled = append(settled, h)
		metrics.Holders.WithLabelValues(string(h.Status)).Inc()
	}

	if outcome.Mined && !outcome.Reverted {
		if err := batch.RecordAttempt(outcome.TransactionID, outcome.TransactionHash, now); err != nil {
			return 0, serviceError(err)
		}
	}
	if err := batch.Reconcile(holders, now); err != nil {
		return 0, serviceError(err)
	}
	if err := s.store.UpdateBatchPayout(ctx, batch, settled); err != nil {
		if errors.Is(err, payout.ErrBatchPayoutFinalized) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to settle batch payout %s: %w", batch.ID, err)
	}

	s.logger.Info("Settled pending batch transaction",
		zap.String("distribution_id", d.ID),
		zap.String("batch_payout_id", batch.ID),
		zap.String("evm_tx_hash", batch.EvmTransactionHash),
		zap.Bool("mined", outcome.Mined),
		zap.Bool("reverted", outcome.Reverted),
		zap.Int("holders", len(settled)))
	metrics.BatchPayouts.WithLabelValues(string(batch.Status)).Inc()
	return len(settled), nil
}

// retryBatch retries the retriable holders of one batch in a single by-address
// call. It returns nil when another retry of the batch is in flight. The
// attempt is stored before the call is made, and its outcome is stored even
// if ctx is cancelled during the call.
func (s *retryService) retryBatch(
	ctx context.Context,
	d *payout.Distribution,
	asset *payout.Asset,
	batch *payout.BatchPayout,
	onlyDue bool,
) (*RetryReport, error) {
	mu := s.batchLocks.get(batch.ID)
	if !mu.TryLock() {
		return nil, nil
	}
	defer mu.Unlock()

	// re-read under the lock; a previous holder of the lock may have moved them
	holders, err := s.store.ListHoldersByBatchPayout(ctx, batch.ID)
	if err != nil {
		return nil, serviceError(err)
	}
	if batch.Finalized(holders, s.settings.RetryCeiling) || batch.AwaitingReceipt() {
		return &RetryReport{}, nil
	}

	now := s.clock.Now()
	var (
		retrying  []*payout.Holder
		addresses []string
	)
	for _, h := range holders {
		if !h.Retriable(s.settings.RetryCeiling) || (onlyDue && !h.Due(now)) {
			continue
		}
		if err := h.BeginRetry(now, s.settings.RetryCeiling, s.settings.RetryBackoff); err != nil {
			return nil, serviceError(err)
		}
		retrying = append(retrying, h)
		addresses = append(addresses, h.HolderEvmAddress)
	}
	if len(retrying) == 0 {
		return &RetryReport{}, nil
	}
	if err := s.store.UpdateBatchPayout(ctx, batch, retrying); err != nil {
		if errors.Is(err, payout.ErrBatchPayoutFinalized) {
			return &RetryReport{}, nil
		}
		return nil, fmt.Errorf("failed to record retry attempt of batch payout %s: %w", batch.ID, err)
	}

	result, callErr := s.callByAddresses(ctx, d, asset, addresses)
	ctx = context.WithoutCancel(ctx)
	now = s.clock.Now()
	outcome := &RetryReport{Retried: len(retrying)}

	var pending *payout.PendingTransactionError
	if errors.As(callErr, &pending) {
		for _, h := range retrying {
			h.AwaitReceipt(expectedPaid(pending.Result, h.HolderEvmAddress, s.settings.PaymentTokenDecimals), now)
			metrics.Retries.WithLabelValues("pending").Inc()
		}
		outcome.AwaitingReceipt = len(retrying)
		batch.EvmTransactionHash = pending.TxHash
		batch.Touch(now)
		s.logger.Warn("Retry transaction awaiting receipt",
			zap.String("distribution_id", d.ID),
			zap.String("batch_payout_id", batch.ID),
			zap.String("evm_tx_hash", pending.TxHash),
			zap.Error(callErr))
		return s.saveRetry(ctx, batch, holders, retrying, outcome, now)
	}

	for _, h := range retrying {
		switch {
		case callErr != nil:
			h.Fail(callErr.Error(), now)
		case contains(result.Succeeded, h.HolderEvmAddress):
			amount := payout.ScaleAmount(result.PaidAmount(h.HolderEvmAddress), s.settings.PaymentTokenDecimals)
			h.Succeed(&amount, now)
		case contains(result.Failed, h.HolderEvmAddress):
			h.Fail(reasonFailedOnChain, now)
		default:
			h.Fail(reasonNotReturned, now)
		}

		if h.Status == payout.HolderStatusSucceeded {
			outcome.Succeeded++
			metrics.Retries.WithLabelValues("succeeded").Inc()
		} else {
			outcome.Failed++
			if h.Exhausted(s.settings.RetryCeiling) {
				metrics.Retries.WithLabelValues("exhausted").Inc()
			} else {
				metrics.Retries.WithLabelValues("failed").Inc()
			}
		}
		metrics.Holders.WithLabelValues(string(h.Status)).Inc()
	}

	if callErr != nil {
		s.logger.Warn("Retry call failed",
			zap.String("distribution_id", d.ID),
			zap.String("batch_payout_id", batch.ID),
			zap.Int("holders", len(retrying)),
			zap.Error(callErr))
	} else {
		if err := batch.RecordAttempt(result.TransactionID, result.TransactionHash, now); err != nil {
			return nil, serviceError(err)
		}
		batch.EvmTransactionHash = result.EvmTransactionHash
	}
	return s.saveRetry(ctx, batch, holders, retrying, outcome, now)
}

func (s *retryService) saveRetry(
	ctx context.Context,
	batch *payout.BatchPayout,
	holders, retrying []*payout.Holder,
	outcome *RetryReport,
	now time.Time,
) (*RetryReport, error) {
	if err := batch.Reconcile(holders, now); err != nil {
		return nil, serviceError(err)
	}
	if err := s.store.UpdateBatchPayout(ctx, batch, retrying); err != nil {
		if errors.Is(err, payout.ErrBatchPayoutFinalized) {
			return outcome, nil
		}
		return nil, fmt.Errorf("failed to update batch payout %s: %w", batch.ID, err)
	}
	metrics.BatchPayouts.WithLabelValues(string(batch.Status)).Inc()
	return outcome, nil
}

func (s *retryService) callByAddresses(ctx context.Context, d *payout.Distribution, asset *payout.Asset, addresses []string) (*payout.ExecutionResult, error) {
	lcc := asset.LifeCycleCashFlowEvmAddress
	token := asset.EvmTokenAddress

	if d.Type == payout.DistributionTypeCorporateAction {
		id, err := parseUint256("corporate action id", d.CorporateActionID)
		if err != nil {
			return nil, err
		}
		return s.cashFlow.ExecuteDistributionByAddresses(ctx, lcc, token, id, addresses)
	}

	if d.SnapshotID == "" {
		return nil, payout.ErrSnapshotRequiredForPayouts
	}
	snapshot, err := parseUint256("snapshot id", d.SnapshotID)
	if err != nil {
		return nil, err
	}
	if d.AmountType == payout.AmountTypePercentage {
		percentage, err := payout.UnscaleAmount(d.Amount, percentageDecimals)
		if err != nil {
			return nil, err
		}
		return s.cashFlow.ExecutePercentageSnapshotByAddresses(ctx, lcc, token, snapshot, addresses, percentage)
	}
	amount, err := payout.UnscaleAmount(d.Amount, s.settings.PaymentTokenDecimals)
	if err != nil {
		return nil, err
	}
	return s.cashFlow.ExecuteAmountSnapshotByAddresses(ctx, lcc, token, snapshot, addresses, amount)
}
