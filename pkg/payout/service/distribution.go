package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hashgraph/mass-payout/pkg/payout"
	"github.com/hashgraph/mass-payout/pkg/payoutstore"
)

// CreatePayoutRequest describes an ad-hoc payout against an asset.
type CreatePayoutRequest struct {
	AssetID       string    `json:"-"`
	Subtype       string    `json:"subtype" validate:"required,oneof=IMMEDIATE ONE_OFF RECURRING"`
	ExecutionDate time.Time `json:"executionDate"`
	Recurrency    string    `json:"recurrency" validate:"omitempty,oneof=HOURLY DAILY WEEKLY MONTHLY"`
	AmountType    string    `json:"amountType" validate:"required,oneof=FIXED PERCENTAGE"`
	Amount        string    `json:"amount" validate:"required"`
	Concept       string    `json:"concept" validate:"max=255"`
}

// DistributionService manages the lifecycle of distributions.
type DistributionService interface {
	CreatePayout(ctx context.Context, req *CreatePayoutRequest) (*payout.Distribution, error)
	Get(ctx context.Context, id string) (*payout.Distribution, error)
	ListByAsset(ctx context.Context, assetID string, page payout.Pagination) (payout.Page[*payout.Distribution], error)
	ListBatchPayouts(ctx context.Context, distributionID string) ([]*payout.BatchPayout, error)
	ListHolders(ctx context.Context, distributionID string, page payout.Pagination) (payout.Page[*payout.Holder], error)
	Cancel(ctx context.Context, id string) (*payout.Distribution, error)
	Recalculate(ctx context.Context, id string) (*payout.Distribution, error)
}

// DistributionStore is the persistence the distribution service needs.
type DistributionStore interface {
	statusStore
	GetAsset(ctx context.Context, opts ...payoutstore.AssetQueryOption) (*payout.Asset, error)
	CreateDistribution(ctx context.Context, d *payout.Distribution) error
	ListDistributionsByAsset(ctx context.Context, assetID string, page payout.Pagination) (payout.Page[*payout.Distribution], error)
	ListHoldersByDistribution(ctx context.Context, distributionID string, page payout.Pagination) (payout.Page[*payout.Holder], error)
}

type distributionService struct {
	store        DistributionStore
	orchestrator Orchestrator
	settings     Settings
	clock        clockwork.Clock
	logger       *zap.Logger
}

// NewDistributionService creates a DistributionService. Immediate payouts are
// handed to the orchestrator as soon as they are stored.
func NewDistributionService(
	store DistributionStore,
	orchestrator Orchestrator,
	settings Settings,
	clock clockwork.Clock,
	logger *zap.Logger,
) DistributionService {
	return &distributionService{
		store:        store,
		orchestrator: orchestrator,
		settings:     settings,
		clock:        clock,
		logger:       logger,
	}
}

func (s *distributionService) CreatePayout(ctx context.Context, req *CreatePayoutRequest) (*payout.Distribution, error) {
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, serviceError(fmt.Errorf("%w: %q", payout.ErrInvalidAmount, req.Amount))
	}

	asset, err := s.store.GetAsset(ctx, payoutstore.WithAssetID(req.AssetID))
	if err != nil {
		return nil, serviceError(err)
	}
	if err := validatePauseState(asset, ""); err != nil {
		return nil, err
	}

	d, err := payout.NewPayoutDistribution(payout.PayoutParams{
		AssetID:       asset.ID,
		Subtype:       payout.PayoutSubtype(req.Subtype),
		ExecutionDate: req.ExecutionDate,
		Recurrency:    payout.Recurrency(req.Recurrency),
		AmountType:    payout.AmountType(req.AmountType),
		Amount:        amount,
		Concept:       req.Concept,
	}, s.clock.Now())
	if err != nil {
		return nil, serviceError(err)
	}
	if err := s.store.CreateDistribution(ctx, d); err != nil {
		return nil, serviceError(err)
	}

	if d.PayoutSubtype != payout.PayoutSubtypeImmediate {
		return d, nil
	}
	s.logger.Info("Executing immediate payout",
		zap.String("distribution_id", d.ID),
		zap.String("asset_id", asset.ID))
	report, err := s.orchestrator.Execute(ctx, d.ID, payout.Pagination{PageLength: s.settings.PageLength})
	if err != nil {
		return nil, err
	}
	return report.Distribution, nil
}

func (s *distributionService) Get(ctx context.Context, id string) (*payout.Distribution, error) {
	d, err := s.store.GetDistribution(ctx, id)
	if err != nil {
		return nil, serviceError(err)
	}
	return d, nil
}

func (s *distributionService) ListByAsset(ctx context.Context, assetID string, page payout.Pagination) (payout.Page[*payout.Distribution], error) {
	if err := page.Validate(); err != nil {
		return payout.Page[*payout.Distribution]{}, serviceError(err)
	}
	if _, err := s.store.GetAsset(ctx, payoutstore.WithAssetID(assetID)); err != nil {
		return payout.Page[*payout.Distribution]{}, serviceError(err)
	}
	out, err := s.store.ListDistributionsByAsset(ctx, assetID, page)
	if err != nil {
		return payout.Page[*payout.Distribution]{}, serviceError(err)
	}
	return out, nil
}

func (s *distributionService) ListBatchPayouts(ctx context.Context, distributionID string) ([]*payout.BatchPayout, error) {
	if _, err := s.Get(ctx, distributionID); err != nil {
		return nil, err
	}
	batches, err := s.store.ListBatchPayouts(ctx, distributionID)
	if err != nil {
		return nil, serviceError(err)
	}
	return batches, nil
}

func (s *distributionService) ListHolders(ctx context.Context, distributionID string, page payout.Pagination) (payout.Page[*payout.Holder], error) {
	if err := page.Validate(); err != nil {
		return payout.Page[*payout.Holder]{}, serviceError(err)
	}
	if _, err := s.Get(ctx, distributionID); err != nil {
		return payout.Page[*payout.Holder]{}, err
	}
	holders, err := s.store.ListHoldersByDistribution(ctx, distributionID, page)
	if err != nil {
		return payout.Page[*payout.Holder]{}, serviceError(err)
	}
	return holders, nil
}

// Cancel stops a non-terminal distribution from scheduling further batches.
// A batch already submitted on-chain is still recorded when it returns.
func (s *distributionService) Cancel(ctx context.Context, id string) (*payout.Distribution, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := d.Status
	now := s.clock.Now()
	if err := d.Cancel(now); err != nil {
		return nil, serviceError(err)
	}
	if err := s.store.UpdateDistributionStatus(ctx, d.ID, from, d.Status, now); err != nil {
		return nil, serviceError(err)
	}
	return d, nil
}

// Recalculate re-derives the status from the recorded batch payouts.
func (s *distributionService) Recalculate(ctx context.Context, id string) (*payout.Distribution, error) {
	return refreshStatus(ctx, s.store, id, s.settings.RetryCeiling, s.clock.Now())
}
