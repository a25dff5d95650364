// Package scheduler runs the periodic payout jobs: executing due
// distributions, retrying failed holders and importing corporate actions.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/hashgraph/mass-payout/pkg/payout"
	"github.com/hashgraph/mass-payout/pkg/payout/service"
	"github.com/hashgraph/mass-payout/pkg/payoutstore"
)

// Store is the persistence the jobs need.
type Store interface {
	ListDistributions(ctx context.Context, opts ...payoutstore.DistributionQueryOption) ([]*payout.Distribution, error)
	GetDistributionByCorporateActionID(ctx context.Context, assetID, corporateActionID string) (*payout.Distribution, error)
	CreateDistribution(ctx context.Context, d *payout.Distribution) error
	ListSyncEnabledAssets(ctx context.Context) ([]*payout.Asset, error)
}

// DividendReader reads the corporate actions registered on an asset token.
type DividendReader interface {
	DividendsCount(ctx context.Context, token string) (int, error)
	Dividend(ctx context.Context, token string, dividendID *big.Int) (*payout.Dividend, error)
}

// Jobs holds the logic of the scheduled tasks.
type Jobs struct {
	store        Store
	orchestrator service.Orchestrator
	retries      service.RetryService
	token        DividendReader
	clock        clockwork.Clock
	logger       *zap.Logger
}

// NewJobs creates a Jobs runner.
func NewJobs(
	store Store,
	orchestrator service.Orchestrator,
	retries service.RetryService,
	token DividendReader,
	clock clockwork.Clock,
	logger *zap.Logger,
) *Jobs {
	return &Jobs{
		store:        store,
		orchestrator: orchestrator,
		retries:      retries,
		token:        token,
		clock:        clock,
		logger:       logger,
	}
}

// ExecuteDue runs every pending distribution whose execution date has passed.
// A failing distribution is logged and the rest still run. Recurring payouts
// that did not fail get their next occurrence scheduled. It returns the
// number of distributions executed without error.
func (j *Jobs) ExecuteDue(ctx context.Context) (int, error) {
	now := j.clock.Now()
	due, err := j.store.ListDistributions(ctx,
		payoutstore.WithStatus(payout.DistributionStatusPending),
		payoutstore.WithExecutionDateBetween(time.Time{}, now),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to list due distributions: %w", err)
	}
	if len(due) == 0 {
		j.logger.Debug("No due distributions")
		return 0, nil
	}

	j.logger.Info("Executing due distributions", zap.Int("count", len(due)))
	executed := 0
	for _, d := range due {
		if ctx.Err() != nil {
			return executed, ctx.Err()
		}
		report, err := j.orchestrator.Execute(ctx, d.ID, payout.Pagination{})
		if err != nil {
			j.logger.Error("Failed to execute due distribution",
				zap.String("distribution_id", d.ID),
				zap.String("asset_id", d.AssetID),
				zap.Error(err))
			continue
		}
		executed++

		if d.PayoutSubtype != payout.PayoutSubtypeRecurring || report.Distribution.Status == payout.DistributionStatusFailed {
			continue
		}
		if err := j.scheduleNext(ctx, d); err != nil {
			j.logger.Error("Failed to schedule next recurring payout",
				zap.String("distribution_id", d.ID),
				zap.Error(err))
		}
	}
	return executed, nil
}

func (j *Jobs) scheduleNext(ctx context.Context, d *payout.Distribution) error {
	next, err := d.NextOccurrence(j.clock.Now())
	if err != nil {
		return err
	}
	if err := j.store.CreateDistribution(ctx, next); err != nil {
		return err
	}
	j.logger.Info("Scheduled next recurring payout",
		zap.String("distribution_id", next.ID),
		zap.String("previous_id", d.ID),
		zap.Time("execution_date", next.ExecutionDate))
	return nil
}

// RetryDue retries failed holders whose backoff elapsed.
func (j *Jobs) RetryDue(ctx context.Context) (int, error) {
	return j.retries.RetryDue(ctx)
}

// SyncCorporateActions creates a pending distribution for every dividend of a
// sync enabled asset that is not imported yet and still lies in the future.
// Paused assets are skipped. It returns the number of distributions created.
func (j *Jobs) SyncCorporateActions(ctx context.Context) (int, error) {
	assets, err := j.store.ListSyncEnabledAssets(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list sync enabled assets: %w", err)
	}

	created := 0
	for _, asset := range assets {
		if asset.IsPaused {
			j.logger.Debug("Skipping corporate action sync of paused asset", zap.String("asset_id", asset.ID))
			continue
		}
		n, err := j.syncAsset(ctx, asset)
		created += n
		if err != nil {
			j.logger.Error("Failed to sync corporate actions",
				zap.String("asset_id", asset.ID),
				zap.String("token", asset.HederaTokenAddress),
				zap.Error(err))
		}
	}
	return created, nil
}

func (j *Jobs) syncAsset(ctx context.Context, asset *payout.Asset) (int, error) {
	count, err := j.token.DividendsCount(ctx, asset.EvmTokenAddress)
	if err != nil {
		return 0, fmt.Errorf("failed to read dividends count: %w", err)
	}

	created := 0
	for i := 1; i <= count; i++ {
		caID := strconv.Itoa(i)
		_, err := j.store.GetDistributionByCorporateActionID(ctx, asset.ID, caID)
		if err == nil {
			continue
		}
		if !errors.Is(err, payout.ErrDistributionNotFound) {
			return created, err
		}

		div, err := j.token.Dividend(ctx, asset.EvmTokenAddress, big.NewInt(int64(i)))
		if err != nil {
			return created, fmt.Errorf("failed to read dividend %d: %w", i, err)
		}
		now := j.clock.Now()
		if !div.ExecutionDate.After(now) {
			continue
		}

		d, err := payout.NewCorporateActionDistribution(asset.ID, caID, div.ExecutionDate, now)
		if err != nil {
			return created, err
		}
		if err := j.store.CreateDistribution(ctx, d); err != nil {
			if errors.Is(err, payout.ErrDistributionAlreadyExists) {
				continue
			}
			return created, err
		}
		created++
		j.logger.Info("Imported corporate action",
			zap.String("asset_id", asset.ID),
			zap.String("corporate_action_id", caID),
			zap.Time("execution_date", d.ExecutionDate))
	}
	return created, nil
}
