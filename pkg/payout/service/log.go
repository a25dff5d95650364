package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hashgraph/mass-payout/pkg/payout"
)

const (
	assetServiceName        = "AssetService"
	distributionServiceName = "DistributionService"
	orchestratorName        = "Orchestrator"
	retryServiceName        = "RetryService"
)

// logCall logs the start of a method and returns a func that logs its outcome.
func logCall(logger *zap.Logger, service, method string, fields ...zap.Field) func(err error, result ...zap.Field) {
	start := time.Now()
	base := append([]zap.Field{zap.String("service", service), zap.String("method", method)}, fields...)
	logger.Info(method+" started", base...)

	return func(err error, result ...zap.Field) {
		out := append(append([]zap.Field{}, base...), zap.Duration("duration", time.Since(start)))
		if err != nil {
			logger.Error(method+" failed", append(out, zap.Error(err))...)
			return
		}
		logger.Info(method+" completed", append(out, result...)...)
	}
}

// logAssetService wraps AssetService with logging of every method call
type logAssetService struct {
	svc    AssetService
	logger *zap.Logger
}

// NewLogAssetService creates a logging decorator for AssetService.
func NewLogAssetService(svc AssetService, logger *zap.Logger) AssetService {
	return &logAssetService{svc: svc, logger: logger}
}

func (ls *logAssetService) Import(ctx context.Context, req *ImportAssetRequest) (asset *payout.Asset, err error) {
	done := logCall(ls.logger, assetServiceName, "Import",
		zap.String("name", req.Name),
		zap.String("hedera_token_address", req.HederaTokenAddress))
	defer func() {
		if err != nil {
			done(err)
			return
		}
		done(nil, zap.String("asset_id", asset.ID), zap.Bool("paused", asset.IsPaused))
	}()
	return ls.svc.Import(ctx, req)
}

func (ls *logAssetService) Get(ctx context.Context, id string) (*payout.Asset, error) {
	return ls.svc.Get(ctx, id)
}

func (ls *logAssetService) GetByName(ctx context.Context, name string) (*payout.Asset, error) {
	return ls.svc.GetByName(ctx, name)
}

func (ls *logAssetService) List(ctx context.Context, page payout.Pagination) (payout.Page[*payout.Asset], error) {
	return ls.svc.List(ctx, page)
}

func (ls *logAssetService) Rename(ctx context.Context, id, name string) (asset *payout.Asset, err error) {
	done := logCall(ls.logger, assetServiceName, "Rename", zap.String("asset_id", id), zap.String("name", name))
	defer func() { done(err) }()
	return ls.svc.Rename(ctx, id, name)
}

func (ls *logAssetService) EnableSync(ctx context.Context, id string) (asset *payout.Asset, err error) {
	done := logCall(ls.logger, assetServiceName, "EnableSync", zap.String("asset_id", id))
	defer func() { done(err) }()
	return ls.svc.EnableSync(ctx, id)
}

func (ls *logAssetService) DisableSync(ctx context.Context, id string) (asset *payout.Asset, err error) {
	done := logCall(ls.logger, assetServiceName, "DisableSync", zap.String("asset_id", id))
	defer func() { done(err) }()
	return ls.svc.DisableSync(ctx, id)
}

func (ls *logAssetService) Pause(ctx context.Context, id string) (asset *payout.Asset, err error) {
	done := logCall(ls.logger, assetServiceName, "Pause", zap.String("asset_id", id))
	defer func() { done(err) }()
	return ls.svc.Pause(ctx, id)
}

func (ls *logAssetService) Unpause(ctx context.Context, id string) (asset *payout.Asset, err error) {
	done := logCall(ls.logger, assetServiceName, "Unpause", zap.String("asset_id", id))
	defer func() { done(err) }()
	return ls.svc.Unpause(ctx, id)
}

func (ls *logAssetService) DeleteAll(ctx context.Context) (n int, err error) {
	done := logCall(ls.logger, assetServiceName, "DeleteAll")
	defer func() { done(err, zap.Int("deleted", n)) }()
	return ls.svc.DeleteAll(ctx)
}

func (ls *logAssetService) ValidateDomainPauseState(asset *payout.Asset, distributionID string) error {
	return ls.svc.ValidateDomainPauseState(asset, distributionID)
}

// logDistributionService wraps DistributionService with logging of every method call
type logDistributionService struct {
	svc    DistributionService
	logger *zap.Logger
}

// NewLogDistributionService creates a logging decorator for DistributionService.
func NewLogDistributionService(svc DistributionService, logger *zap.Logger) DistributionService {
	return &logDistributionService{svc: svc, logger: logger}
}

func (ls *logDistributionService) CreatePayout(ctx context.Context, req *CreatePayoutRequest) (d *payout.Distribution, err error) {
	done := logCall(ls.logger, distributionServiceName, "CreatePayout",
		zap.String("asset_id", req.AssetID),
		zap.String("subtype", req.Subtype),
		zap.String("amount_type", req.AmountType),
		zap.String("amount", req.Amount))
	defer func() {
		if err != nil {
			done(err)
			return
		}
		done(nil, zap.String("distribution_id", d.ID), zap.String("status", string(d.Status)))
	}()
	return ls.svc.CreatePayout(ctx, req)
}

func (ls *logDistributionService) Get(ctx context.Context, id string) (*payout.Distribution, error) {
	return ls.svc.Get(ctx, id)
}

func (ls *logDistributionService) ListByAsset(ctx context.Context, assetID string, page payout.Pagination) (payout.Page[*payout.Distribution], error) {
	return ls.svc.ListByAsset(ctx, assetID, page)
}

func (ls *logDistributionService) ListBatchPayouts(ctx context.Context, distributionID string) ([]*payout.BatchPayout, error) {
	return ls.svc.ListBatchPayouts(ctx, distributionID)
}

func (ls *logDistributionService) ListHolders(ctx context.Context, distributionID string, page payout.Pagination) (payout.Page[*payout.Holder], error) {
	return ls.svc.ListHolders(ctx, distributionID, page)
}

func (ls *logDistributionService) Cancel(ctx context.Context, id string) (d *payout.Distribution, err error) {
	done := logCall(ls.logger, distributionServiceName, "Cancel", zap.String("distribution_id", id))
	defer func() { done(err) }()
	return ls.svc.Cancel(ctx, id)
}

func (ls *logDistributionService) Recalculate(ctx context.Context, id string) (d *payout.Distribution, err error) {
	done := logCall(ls.logger, distributionServiceName, "Recalculate", zap.String("distribution_id", id))
	defer func() {
		if err != nil {
			done(err)
			return
		}
		done(nil, zap.String("status", string(d.Status)))
	}()
	return ls.svc.Recalculate(ctx, id)
}

type logOrchestrator struct {
	svc    Orchestrator
	logger *zap.Logger
}

// NewLogOrchestrator creates a logging decorator for Orchestrator.
func NewLogOrchestrator(svc Orchestrator, logger *zap.Logger) Orchestrator {
	return &logOrchestrator{svc: svc, logger: logger}
}

func (ls *logOrchestrator) Execute(ctx context.Context, distributionID string, page payout.Pagination) (report *ExecutionReport, err error) {
	done := logCall(ls.logger, orchestratorName, "Execute",
		zap.String("distribution_id", distributionID),
		zap.Int("page_index", page.PageIndex),
		zap.Int("page_length", page.PageLength))
	defer func() {
		if err != nil {
			done(err)
			return
		}
		done(nil,
			zap.String("status", string(report.Distribution.Status)),
			zap.Int("batch_payouts", len(report.BatchPayouts)),
			zap.Int("succeeded", report.Succeeded),
			zap.Int("failed", report.Failed),
			zap.String("stopped_reason", report.StoppedReason))
	}()
	return ls.svc.Execute(ctx, distributionID, page)
}

type logRetryService struct {
	svc    RetryService
	logger *zap.Logger
}

// NewLogRetryService creates a logging decorator for RetryService.
func NewLogRetryService(svc RetryService, logger *zap.Logger) RetryService {
	return &logRetryService{svc: svc, logger: logger}
}

func (ls *logRetryService) Execute(ctx context.Context, distributionID string) (report *RetryReport, err error) {
	done := logCall(ls.logger, retryServiceName, "Execute", zap.String("distribution_id", distributionID))
	defer func() {
		if err != nil {
			done(err)
			return
		}
		done(nil,
			zap.String("status", string(report.Distribution.Status)),
			zap.Int("retried", report.Retried),
			zap.Int("succeeded", report.Succeeded),
			zap.Int("failed", report.Failed),
			zap.Int("skipped_batches", report.SkippedBatches))
	}()
	return ls.svc.Execute(ctx, distributionID)
}

func (ls *logRetryService) RetryDue(ctx context.Context) (n int, err error) {
	done := logCall(ls.logger, retryServiceName, "RetryDue")
	defer func() { done(err, zap.Int("distributions", n)) }()
	return ls.svc.RetryDue(ctx)
}
