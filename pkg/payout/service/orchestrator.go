package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hashgraph/mass-payout/internal/metrics"
	"github.com/hashgraph/mass-payout/pkg/payout"
	"github.com/hashgraph/mass-payout/pkg/payoutstore"
)

// Holder failure reasons recorded when the contract did not pay an address.
const (
	reasonFailedOnChain = "payout failed on-chain"
	reasonNotReturned   = "address missing from contract result"
)

// errPageRecorded marks a page whose holders all have a batch payout already.
var errPageRecorded = errors.New("page already recorded")

// ExecutionReport summarizes one orchestrator run.
type ExecutionReport struct {
	Distribution *payout.Distribution
	BatchPayouts []*payout.BatchPayout
	Succeeded    int
	Failed       int
	// AwaitingReceipt counts holders of sent transactions with no receipt yet.
	AwaitingReceipt int
	// StoppedReason is set when pages were left unprocessed.
	StoppedReason string
}

// Orchestrator drives a distribution across all its holder pages.
type Orchestrator interface {
	Execute(ctx context.Context, distributionID string, page payout.Pagination) (*ExecutionReport, error)
}

// OrchestratorStore is the persistence the orchestrator needs.
type OrchestratorStore interface {
	GetAsset(ctx context.Context, opts ...payoutstore.AssetQueryOption) (*payout.Asset, error)
	GetDistribution(ctx context.Context, id string) (*payout.Distribution, error)
	UpdateDistributionStatus(ctx context.Context, id string, from, to payout.DistributionStatus, now time.Time) error
	SetDistributionSnapshot(ctx context.Context, id, snapshotID string, now time.Time) error
	SaveBatchPayout(ctx context.Context, batch *payout.BatchPayout, holders []*payout.Holder) error
	ListBatchPayouts(ctx context.Context, distributionID string) ([]*payout.BatchPayout, error)
	ListHoldersByBatchPayout(ctx context.Context, batchPayoutID string) ([]*payout.Holder, error)
}

type orchestrator struct {
	store    OrchestratorStore
	cashFlow CashFlow
	token    AssetToken
	resolver AddressResolver
	settings Settings
	clock    clockwork.Clock
	logger   *zap.Logger
	// one run per distribution in this process
	runLocks keyedLocks
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	store OrchestratorStore,
	cashFlow CashFlow,
	token AssetToken,
	resolver AddressResolver,
	settings Settings,
	clock clockwork.Clock,
	logger *zap.Logger,
) Orchestrator {
	return &orchestrator{
		store:    store,
		cashFlow: cashFlow,
		token:    token,
		resolver: resolver,
		settings: settings,
		clock:    clock,
		logger:   logger,
	}
}

// Execute processes pages sequentially from page.PageIndex until the holder
// set is exhausted. A zero PageLength uses the configured default. The asset
// pause flag and the distribution status are re-read before every page.
//
// Only PENDING distributions are started. An IN_PROGRESS one is resumed:
// holders that already have a batch payout are never sent again.
func (o *orchestrator) Execute(ctx context.Context, distributionID string, page payout.Pagination) (*ExecutionReport, error) {
	if page.PageLength == 0 {
		page.PageLength = o.settings.PageLength
	}
	if err := page.Validate(); err != nil {
		return nil, serviceError(err)
	}

	run := o.runLocks.get(distributionID)
	if !run.TryLock() {
		return nil, serviceError(fmt.Errorf("%w: %s", payout.ErrDistributionRunning, distributionID))
	}
	defer run.Unlock()

	d, err := o.store.GetDistribution(ctx, distributionID)
	if err != nil {
		return nil, serviceError(err)
	}
	if !d.IsExecutable() {
		return nil, serviceError(fmt.Errorf("%w: distribution %s is %s", payout.ErrDistributionNotExecutable, d.ID, d.Status))
	}
	asset, err := o.store.GetAsset(ctx, payoutstore.WithAssetID(d.AssetID))
	if err != nil {
		return nil, serviceError(err)
	}
	if err := validatePauseState(asset, d.ID); err != nil {
		return nil, err
	}

	plan, err := o.plan(ctx, asset, d)
	if err != nil {
		return nil, err
	}

	if d.Status == payout.DistributionStatusPending {
		from := d.Status
		now := o.clock.Now()
		if err := d.Start(now); err != nil {
			return nil, serviceError(err)
		}
		if err := o.store.UpdateDistributionStatus(ctx, d.ID, from, d.Status, now); err != nil {
			return nil, serviceError(err)
		}
	} else if plan.recorded, err = o.recordedHolders(ctx, d.ID); err != nil {
		return nil, err
	}

	report := &ExecutionReport{}
	for p := page; p.Offset() < plan.total; p.PageIndex++ {
		stop, err := o.checkpoint(ctx, d.ID, asset.ID)
		if err != nil {
			return nil, err
		}
		if stop != "" {
			report.StoppedReason = stop
			o.logger.Warn("Stopping distribution execution",
				zap.String("distribution_id", d.ID),
				zap.Int("page_index", p.PageIndex),
				zap.String("reason", stop))
			break
		}

		batch, holders, err := o.executePage(ctx, plan, p)
		if errors.Is(err, errPageRecorded) {
			o.logger.Info("Skipping recorded page",
				zap.String("distribution_id", d.ID),
				zap.Int("page_index", p.PageIndex))
			continue
		}
		if err != nil {
			return nil, err
		}
		if batch == nil {
			break
		}
		report.BatchPayouts = append(report.BatchPayouts, batch)
		for _, h := range holders {
			switch h.Status {
			case payout.HolderStatusSucceeded:
				report.Succeeded++
			case payout.HolderStatusFailed:
				report.Failed++
			default:
				report.AwaitingReceipt++
			}
		}
	}

	// a stopped run leaves pages unprocessed, so its status is not re-derived
	var final *payout.Distribution
	if report.StoppedReason != "" {
		final, err = o.store.GetDistribution(ctx, d.ID)
		if err != nil {
			return nil, serviceError(err)
		}
	} else {
		final, err = refreshStatus(ctx, o.store, d.ID, o.settings.RetryCeiling, o.clock.Now())
		if err != nil {
			return nil, err
		}
	}
	report.Distribution = final
	metrics.DistributionsExecuted.WithLabelValues(string(final.Status)).Inc()
	return report, nil
}

// executionPlan is everything needed to dispatch pages of one distribution.
type executionPlan struct {
	asset        *payout.Asset
	distribution *payout.Distribution
	// onChainID is the dividend id for corporate actions, the snapshot id otherwise.
	onChainID *big.Int
	amount    *big.Int
	total     int
	// assetDecimals scales snapshot balances of percentage payouts.
	assetDecimals int32
	// recorded holds the addresses that already have a holder record.
	recorded map[string]struct{}
}

func (o *orchestrator) plan(ctx context.Context, asset *payout.Asset, d *payout.Distribution) (*executionPlan, error) {
	plan := &executionPlan{asset: asset, distribution: d}
	token := asset.EvmTokenAddress

	if d.Type == payout.DistributionTypeCorporateAction {
		id, err := parseUint256("corporate action id", d.CorporateActionID)
		if err != nil {
			return nil, err
		}
		total, err := o.token.TotalDividendHolders(ctx, token, id)
		if err != nil {
			return nil, fmt.Errorf("failed to count holders of dividend %s for asset %s: %w", id, asset.ID, err)
		}
		plan.onChainID, plan.total = id, total
		return plan, nil
	}

	if d.SnapshotID == "" {
		snapshot, err := o.token.TakeSnapshot(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("failed to take snapshot for asset %s: %w", asset.ID, err)
		}
		now := o.clock.Now()
		if err := o.store.SetDistributionSnapshot(ctx, d.ID, snapshot.String(), now); err != nil {
			return nil, serviceError(err)
		}
		d.SetSnapshot(snapshot.String(), now)
	}
	snapshot, err := parseUint256("snapshot id", d.SnapshotID)
	if err != nil {
		return nil, err
	}
	total, err := o.token.TotalTokenHoldersAtSnapshot(ctx, token, snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to count holders at snapshot %s for asset %s: %w", snapshot, asset.ID, err)
	}
	plan.onChainID, plan.total = snapshot, total

	switch d.AmountType {
	case payout.AmountTypePercentage:
		if plan.amount, err = payout.UnscaleAmount(d.Amount, percentageDecimals); err != nil {
			return nil, serviceError(err)
		}
		if plan.assetDecimals, err = o.token.Decimals(ctx, token); err != nil {
			return nil, fmt.Errorf("failed to read decimals of asset %s: %w", asset.ID, err)
		}
	default:
		if plan.amount, err = payout.UnscaleAmount(d.Amount, o.settings.PaymentTokenDecimals); err != nil {
			return nil, serviceError(err)
		}
	}
	return plan, nil
}

// checkpoint returns a non-empty reason when no further page may be dispatched.
func (o *orchestrator) checkpoint(ctx context.Context, distributionID, assetID string) (string, error) {
	asset, err := o.store.GetAsset(ctx, payoutstore.WithAssetID(assetID))
	if err != nil {
		return "", serviceError(err)
	}
	if asset.IsPaused {
		return payout.ErrAssetPaused.Error(), nil
	}
	d, err := o.store.GetDistribution(ctx, distributionID)
	if err != nil {
		return "", serviceError(err)
	}
	if d.Status == payout.DistributionStatusCancelled {
		return "distribution cancelled", nil
	}
	return "", nil
}

// recordedHolders collects the holder addresses of every stored batch payout
// of a distribution.
func (o *orchestrator) recordedHolders(ctx context.Context, distributionID string) (map[string]struct{}, error) {
	batches, err := o.store.ListBatchPayouts(ctx, distributionID)
	if err != nil {
		return nil, serviceError(err)
	}
	recorded := make(map[string]struct{})
	for _, b := range batches {
		holders, err := o.store.ListHoldersByBatchPayout(ctx, b.ID)
		if err != nil {
			return nil, serviceError(err)
		}
		for _, h := range holders {
			recorded[h.HolderEvmAddress] = struct{}{}
		}
	}
	return recorded, nil
}

// executePage runs one on-chain call and records its batch payout. It returns
// a nil batch when the page holds no addresses, and errPageRecorded when all
// of them were recorded by an earlier run. A partly recorded page is paid by
// address for the remaining holders only.
//
// Once the call is made its outcome is saved even if ctx is cancelled.
func (o *orchestrator) executePage(ctx context.Context, plan *executionPlan, p payout.Pagination) (*payout.BatchPayout, []*payout.Holder, error) {
	all, err := o.pageAddresses(ctx, plan, p)
	if err != nil {
		return nil, nil, err
	}
	if len(all) == 0 {
		return nil, nil, nil
	}
	addresses := make([]string, 0, len(all))
	for _, a := range all {
		if _, ok := plan.recorded[a]; !ok {
			addresses = append(addresses, a)
		}
	}
	if len(addresses) == 0 {
		return nil, nil, errPageRecorded
	}

	var (
		result  *payout.ExecutionResult
		callErr error
	)
	if len(addresses) == len(all) {
		result, callErr = o.call(ctx, plan, p)
	} else {
		result, callErr = o.callAddresses(ctx, plan, addresses)
	}
	ctx = context.WithoutCancel(ctx)

	var pending *payout.PendingTransactionError
	switch {
	case errors.As(callErr, &pending):
		o.logger.Warn("Batch transaction awaiting receipt",
			zap.String("distribution_id", plan.distribution.ID),
			zap.Int("page_index", p.PageIndex),
			zap.String("evm_tx_hash", pending.TxHash),
			zap.Error(callErr))
		result = &payout.ExecutionResult{EvmTransactionHash: pending.TxHash}
	case callErr != nil:
		o.logger.Error("Batch execution failed",
			zap.String("distribution_id", plan.distribution.ID),
			zap.Int("page_index", p.PageIndex),
			zap.Int("holders", len(addresses)),
			zap.Error(callErr))
		result = &payout.ExecutionResult{}
	}

	now := o.clock.Now()
	name := fmt.Sprintf("%s-page-%d", plan.distribution.ID, p.PageIndex)

	holders := make([]*payout.Holder, 0, len(addresses))
	for _, addr := range addresses {
		var h *payout.Holder
		if pending != nil {
			h, err = o.awaitingHolder(ctx, pending.Result, addr, now)
		} else {
			h, err = o.holderFromResult(ctx, plan, result, addr, callErr, now)
		}
		if err != nil {
			return nil, nil, err
		}
		holders = append(holders, h)
	}

	status := payout.BatchPayoutStatusFailed
	switch {
	case pending != nil:
		status = payout.BatchPayoutStatusInProgress
	case callErr == nil:
		status = payout.BatchStatusFromHolders(holders)
	}

	batch, err := payout.NewBatchPayout(plan.distribution.ID, name, result.TransactionID, result.TransactionHash, len(addresses), status, now)
	if err != nil {
		return nil, nil, serviceError(err)
	}
	batch.EvmTransactionHash = result.EvmTransactionHash
	for _, h := range holders {
		h.BatchPayoutID = batch.ID
	}
	if err := o.store.SaveBatchPayout(ctx, batch, holders); err != nil {
		return nil, nil, fmt.Errorf("failed to save batch payout %s of distribution %s: %w", name, plan.distribution.ID, err)
	}

	if plan.recorded == nil {
		plan.recorded = make(map[string]struct{}, len(addresses))
	}
	for _, a := range addresses {
		plan.recorded[a] = struct{}{}
	}

	metrics.BatchPayouts.WithLabelValues(string(batch.Status)).Inc()
	for _, h := range holders {
		metrics.Holders.WithLabelValues(string(h.Status)).Inc()
	}
	return batch, holders, nil
}

func (o *orchestrator) pageAddresses(ctx context.Context, plan *executionPlan, p payout.Pagination) ([]string, error) {
	token := plan.asset.EvmTokenAddress
	var (
		addrs []string
		err   error
	)
	if plan.distribution.Type == payout.DistributionTypeCorporateAction {
		addrs, err = o.token.DividendHolders(ctx, token, plan.onChainID, p)
	} else {
		addrs, err = o.token.TokenHoldersAtSnapshot(ctx, token, plan.onChainID, p)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read holders page %d of distribution %s: %w", p.PageIndex, plan.distribution.ID, err)
	}

	seen := make(map[string]struct{}, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		a = payout.NormalizeEvmAddress(a)
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out, nil
}

func (o *orchestrator) call(ctx context.Context, plan *executionPlan, p payout.Pagination) (*payout.ExecutionResult, error) {
	lcc := plan.asset.LifeCycleCashFlowEvmAddress
	token := plan.asset.EvmTokenAddress
	switch {
	case plan.distribution.Type == payout.DistributionTypeCorporateAction:
		return o.cashFlow.ExecuteDistribution(ctx, lcc, token, plan.onChainID, p)
	case plan.distribution.AmountType == payout.AmountTypePercentage:
		return o.cashFlow.ExecutePercentageSnapshot(ctx, lcc, token, plan.onChainID, p, plan.amount)
	default:
		return o.cashFlow.ExecuteAmountSnapshot(ctx, lcc, token, plan.onChainID, p, plan.amount)
	}
}

func (o *orchestrator) callAddresses(ctx context.Context, plan *executionPlan, addresses []string) (*payout.ExecutionResult, error) {
	lcc := plan.asset.LifeCycleCashFlowEvmAddress
	token := plan.asset.EvmTokenAddress
	switch {
	case plan.distribution.Type == payout.DistributionTypeCorporateAction:
		return o.cashFlow.ExecuteDistributionByAddresses(ctx, lcc, token, plan.onChainID, addresses)
	case plan.distribution.AmountType == payout.AmountTypePercentage:
		return o.cashFlow.ExecutePercentageSnapshotByAddresses(ctx, lcc, token, plan.onChainID, addresses, plan.amount)
	default:
		return o.cashFlow.ExecuteAmountSnapshotByAddresses(ctx, lcc, token, plan.onChainID, addresses, plan.amount)
	}
}

// awaitingHolder records a holder of a batch whose transaction has no receipt
// yet. simulated is the outcome the call predicted, possibly nil.
func (o *orchestrator) awaitingHolder(ctx context.Context, simulated *payout.ExecutionResult, addr string, now time.Time) (*payout.Holder, error) {
	h, err := payout.NewHolder(payout.HolderParams{
		EvmAddress:    addr,
		HederaAddress: o.hederaAddress(ctx, addr),
	}, now)
	if err != nil {
		return nil, serviceError(fmt.Errorf("failed to record holder %s: %w", addr, err))
	}
	h.AwaitReceipt(expectedPaid(simulated, addr, o.settings.PaymentTokenDecimals), now)
	return h, nil
}

// expectedPaid is the scaled amount a simulated call would pay addr, or nil.
func expectedPaid(simulated *payout.ExecutionResult, addr string, decimals int32) *decimal.Decimal {
	if simulated == nil || !contains(simulated.Succeeded, addr) {
		return nil
	}
	amount := payout.ScaleAmount(simulated.PaidAmount(addr), decimals)
	return &amount
}

func (o *orchestrator) holderFromResult(
	ctx context.Context,
	plan *executionPlan,
	result *payout.ExecutionResult,
	addr string,
	callErr error,
	now time.Time,
) (*payout.Holder, error) {
	params := payout.HolderParams{
		EvmAddress:    addr,
		HederaAddress: o.hederaAddress(ctx, addr),
		Status:        payout.HolderStatusFailed,
	}

	switch {
	case callErr != nil:
		params.LastError = callErr.Error()
	case contains(result.Succeeded, addr):
		amount := payout.ScaleAmount(result.PaidAmount(addr), o.settings.PaymentTokenDecimals)
		params.Amount = &amount
		params.Status = payout.HolderStatusSucceeded
	case contains(result.Failed, addr):
		params.LastError = reasonFailedOnChain
	default:
		params.LastError = reasonNotReturned
	}

	if params.Status == payout.HolderStatusFailed && plan.distribution.AmountType == payout.AmountTypePercentage {
		params.Amount = o.expectedPercentageAmount(ctx, plan, addr)
	}

	h, err := payout.NewHolder(params, now)
	if err != nil {
		return nil, serviceError(fmt.Errorf("failed to record holder %s: %w", addr, err))
	}
	return h, nil
}

// expectedPercentageAmount is the amount a failed percentage leg is owed. It
// is left unresolved when the balance cannot be read.
func (o *orchestrator) expectedPercentageAmount(ctx context.Context, plan *executionPlan, addr string) *decimal.Decimal {
	raw, err := o.token.BalanceOfAtSnapshot(ctx, plan.asset.EvmTokenAddress, plan.onChainID, addr)
	if err != nil {
		o.logger.Warn("Failed to read snapshot balance",
			zap.String("distribution_id", plan.distribution.ID),
			zap.String("holder", addr),
			zap.Error(err))
		return nil
	}
	balance := payout.ScaleAmount(raw, plan.assetDecimals)
	amount, err := payout.PercentageAmount(balance, plan.distribution.Amount, o.settings.PaymentTokenDecimals)
	if err != nil {
		return nil
	}
	return &amount
}

func (o *orchestrator) hederaAddress(ctx context.Context, addr string) string {
	id, err := o.resolver.GetHederaAddressFromEvm(ctx, addr)
	if err != nil {
		o.logger.Debug("Holder has no Hedera account id", zap.String("holder", addr), zap.Error(err))
		return ""
	}
	return id
}

func contains(addrs []string, addr string) bool {
	for _, a := range addrs {
		if payout.NormalizeEvmAddress(a) == addr {
			return true
		}
	}
	return false
}

// statusStore is what re-aggregating a distribution status needs.
type statusStore interface {
	GetDistribution(ctx context.Context, id string) (*payout.Distribution, error)
	UpdateDistributionStatus(ctx context.Context, id string, from, to payout.DistributionStatus, now time.Time) error
	ListBatchPayouts(ctx context.Context, distributionID string) ([]*payout.BatchPayout, error)
	ListHoldersByBatchPayout(ctx context.Context, batchPayoutID string) ([]*payout.Holder, error)
}

// refreshStatus re-derives a distribution status from its batch payouts.
// Pending and terminal distributions are left as they are. A concurrent status
// change, such as a cancel, wins.
func refreshStatus(ctx context.Context, store statusStore, distributionID string, ceiling int, now time.Time) (*payout.Distribution, error) {
	d, err := store.GetDistribution(ctx, distributionID)
	if err != nil {
		return nil, serviceError(err)
	}
	if d.Status == payout.DistributionStatusPending || d.Status.IsTerminal() {
		return d, nil
	}

	batches, err := store.ListBatchPayouts(ctx, d.ID)
	if err != nil {
		return nil, serviceError(err)
	}
	holders := make(map[string][]*payout.Holder, len(batches))
	for _, b := range batches {
		hs, err := store.ListHoldersByBatchPayout(ctx, b.ID)
		if err != nil {
			return nil, serviceError(err)
		}
		holders[b.ID] = hs
	}

	from := d.Status
	next := payout.AggregateDistributionStatus(batches, holders, ceiling)
	if err := d.ApplyAggregate(next, now); err != nil {
		return nil, serviceError(err)
	}
	if from == next {
		return d, nil
	}
	if err := store.UpdateDistributionStatus(ctx, d.ID, from, next, now); err != nil {
		if errors.Is(err, payout.ErrInvalidStatusTransition) {
			return store.GetDistribution(ctx, d.ID)
		}
		return nil, serviceError(err)
	}
	return d, nil
}
