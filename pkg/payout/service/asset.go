package service

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/hashgraph/mass-payout/internal/metrics"
	apperrors "github.com/hashgraph/mass-payout/pkg/app/errors"
	"github.com/hashgraph/mass-payout/pkg/payout"
	"github.com/hashgraph/mass-payout/pkg/payoutstore"
)

// ImportAssetRequest registers an existing asset token and its cash flow contract.
type ImportAssetRequest struct {
	Name                           string `json:"name" validate:"required,max=255"`
	HederaTokenAddress             string `json:"hederaTokenAddress" validate:"required"`
	LifeCycleCashFlowHederaAddress string `json:"lifeCycleCashFlowHederaAddress" validate:"required"`
}

// AssetService manages assets and guards payouts on their paused state.
type AssetService interface {
	Import(ctx context.Context, req *ImportAssetRequest) (*payout.Asset, error)
	Get(ctx context.Context, id string) (*payout.Asset, error)
	GetByName(ctx context.Context, name string) (*payout.Asset, error)
	List(ctx context.Context, page payout.Pagination) (payout.Page[*payout.Asset], error)
	Rename(ctx context.Context, id, name string) (*payout.Asset, error)
	EnableSync(ctx context.Context, id string) (*payout.Asset, error)
	DisableSync(ctx context.Context, id string) (*payout.Asset, error)
	Pause(ctx context.Context, id string) (*payout.Asset, error)
	Unpause(ctx context.Context, id string) (*payout.Asset, error)
	DeleteAll(ctx context.Context) (int, error)
	ValidateDomainPauseState(asset *payout.Asset, distributionID string) error
}

type assetService struct {
	store    payoutstore.AssetStore
	cashFlow CashFlow
	resolver AddressResolver
	clock    clockwork.Clock
	locks    keyedLocks
	logger   *zap.Logger
}

// NewAssetService creates an AssetService.
func NewAssetService(
	store payoutstore.AssetStore,
	cashFlow CashFlow,
	resolver AddressResolver,
	clock clockwork.Clock,
	logger *zap.Logger,
) AssetService {
	return &assetService{
		store:    store,
		cashFlow: cashFlow,
		resolver: resolver,
		clock:    clock,
		logger:   logger,
	}
}

// Import resolves the EVM addresses of the token and its cash flow contract
// and stores the asset with the contract's current pause state.
func (s *assetService) Import(ctx context.Context, req *ImportAssetRequest) (*payout.Asset, error) {
	if err := payout.ValidateHederaAddress(req.HederaTokenAddress); err != nil {
		return nil, serviceError(err)
	}
	if err := payout.ValidateHederaAddress(req.LifeCycleCashFlowHederaAddress); err != nil {
		return nil, serviceError(err)
	}

	tokenEvm, err := s.resolver.GetEvmAddressFromHedera(ctx, req.HederaTokenAddress)
	if err != nil {
		return nil, apperrors.DependencyError(err, fmt.Sprintf("failed to resolve token %s", req.HederaTokenAddress))
	}
	lccEvm, err := s.resolver.GetEvmAddressFromHedera(ctx, req.LifeCycleCashFlowHederaAddress)
	if err != nil {
		return nil, apperrors.DependencyError(err, fmt.Sprintf("failed to resolve contract %s", req.LifeCycleCashFlowHederaAddress))
	}

	now := s.clock.Now()
	asset, err := payout.NewAsset(req.Name, req.HederaTokenAddress, tokenEvm, req.LifeCycleCashFlowHederaAddress, lccEvm, now)
	if err != nil {
		return nil, serviceError(err)
	}

	paused, err := s.cashFlow.IsPaused(ctx, lccEvm)
	if err != nil {
		return nil, apperrors.DependencyError(err, "failed to read pause state of the cash flow contract")
	}
	if paused {
		asset.Pause(now)
		metrics.PausedAssets.Inc()
	}

	if err := s.store.CreateAsset(ctx, asset); err != nil {
		return nil, serviceError(err)
	}
	return asset, nil
}

func (s *assetService) Get(ctx context.Context, id string) (*payout.Asset, error) {
	asset, err := s.store.GetAsset(ctx, payoutstore.WithAssetID(id))
	if err != nil {
		return nil, serviceError(err)
	}
	return asset, nil
}

func (s *assetService) GetByName(ctx context.Context, name string) (*payout.Asset, error) {
	asset, err := s.store.GetAsset(ctx, payoutstore.WithAssetName(name))
	if err != nil {
		return nil, serviceError(err)
	}
	return asset, nil
}

func (s *assetService) List(ctx context.Context, page payout.Pagination) (payout.Page[*payout.Asset], error) {
	if err := page.Validate(); err != nil {
		return payout.Page[*payout.Asset]{}, serviceError(err)
	}
	assets, err := s.store.ListAssets(ctx, page)
	if err != nil {
		return payout.Page[*payout.Asset]{}, serviceError(err)
	}
	return assets, nil
}

func (s *assetService) Rename(ctx context.Context, id, name string) (*payout.Asset, error) {
	return s.update(ctx, id, func(a *payout.Asset) error {
		return a.Rename(name, s.clock.Now())
	})
}

func (s *assetService) EnableSync(ctx context.Context, id string) (*payout.Asset, error) {
	return s.update(ctx, id, func(a *payout.Asset) error {
		a.EnableSync(s.clock.Now())
		return nil
	})
}

func (s *assetService) DisableSync(ctx context.Context, id string) (*payout.Asset, error) {
	return s.update(ctx, id, func(a *payout.Asset) error {
		a.DisableSync(s.clock.Now())
		return nil
	})
}

func (s *assetService) update(ctx context.Context, id string, mutate func(*payout.Asset) error) (*payout.Asset, error) {
	asset, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(asset); err != nil {
		return nil, serviceError(err)
	}
	if err := s.store.UpdateAsset(ctx, asset); err != nil {
		return nil, serviceError(err)
	}
	return asset, nil
}

// Pause pauses the cash flow contract, then records the paused state. Pausing
// a paused asset returns it unchanged without touching the chain.
func (s *assetService) Pause(ctx context.Context, id string) (*payout.Asset, error) {
	return s.setPaused(ctx, id, true)
}

// Unpause is the inverse of Pause.
func (s *assetService) Unpause(ctx context.Context, id string) (*payout.Asset, error) {
	return s.setPaused(ctx, id, false)
}

func (s *assetService) setPaused(ctx context.Context, id string, paused bool) (*payout.Asset, error) {
	mu := s.locks.get(id)
	mu.Lock()
	defer mu.Unlock()

	asset, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if asset.IsPaused == paused {
		return asset, nil
	}

	action, toggle := s.cashFlow.Unpause, asset.Unpause
	if paused {
		action, toggle = s.cashFlow.Pause, asset.Pause
	}
	if err := action(ctx, asset.LifeCycleCashFlowEvmAddress); err != nil {
		return nil, apperrors.DependencyError(
			fmt.Errorf("failed to set paused=%t on-chain for asset %s: %w", paused, id, err),
			"on-chain pause state could not be changed",
		)
	}

	now := s.clock.Now()
	toggle(now)
	if err := s.store.SetAssetPaused(ctx, id, paused, now); err != nil {
		s.logger.Error("Pause state changed on-chain but was not recorded",
			zap.String("asset_id", id),
			zap.Bool("paused", paused),
			zap.Error(err))
		return nil, serviceError(err)
	}

	if paused {
		metrics.PausedAssets.Inc()
	} else {
		metrics.PausedAssets.Dec()
	}
	return asset, nil
}

func (s *assetService) DeleteAll(ctx context.Context) (int, error) {
	n, err := s.store.DeleteAllAssets(ctx)
	if err != nil {
		return 0, serviceError(err)
	}
	metrics.PausedAssets.Set(0)
	return n, nil
}

// ValidateDomainPauseState rejects work on a paused asset using the stored
// flag only.
func (s *assetService) ValidateDomainPauseState(asset *payout.Asset, distributionID string) error {
	return validatePauseState(asset, distributionID)
}

func validatePauseState(asset *payout.Asset, distributionID string) error {
	if !asset.IsPaused {
		return nil
	}
	if distributionID != "" {
		return serviceError(fmt.Errorf("%w: asset %s, distribution %s", payout.ErrAssetPaused, asset.ID, distributionID))
	}
	return serviceError(fmt.Errorf("%w: asset %s", payout.ErrAssetPaused, asset.ID))
}
