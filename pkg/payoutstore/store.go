// Package payoutstore persists the payout domain in PostgreSQL through bun.
package payoutstore

import (
	"context"
	"time"

	"github.com/hashgraph/mass-payout/pkg/payout"
)

// AssetStore persists assets.
type AssetStore interface {
	CreateAsset(ctx context.Context, asset *payout.Asset) error
	GetAsset(ctx context.Context, opts ...AssetQueryOption) (*payout.Asset, error)
	ListAssets(ctx context.Context, page payout.Pagination) (payout.Page[*payout.Asset], error)
	ListSyncEnabledAssets(ctx context.Context) ([]*payout.Asset, error)
	UpdateAsset(ctx context.Context, asset *payout.Asset) error
	SetAssetPaused(ctx context.Context, assetID string, paused bool, now time.Time) error
	DeleteAllAssets(ctx context.Context) (int, error)
}

// DistributionStore persists distributions.
type DistributionStore interface {
	CreateDistribution(ctx context.Context, d *payout.Distribution) error
	GetDistribution(ctx context.Context, id string) (*payout.Distribution, error)
	GetDistributionByCorporateActionID(ctx context.Context, assetID, corporateActionID string) (*payout.Distribution, error)
	ListDistributionsByAsset(ctx context.Context, assetID string, page payout.Pagination) (payout.Page[*payout.Distribution], error)
	ListDistributions(ctx context.Context, opts ...DistributionQueryOption) ([]*payout.Distribution, error)
	UpdateDistributionStatus(ctx context.Context, id string, from, to payout.DistributionStatus, now time.Time) error
	SetDistributionSnapshot(ctx context.Context, id, snapshotID string, now time.Time) error
}

// BatchPayoutStore persists batch payouts together with their holders.
type BatchPayoutStore interface {
	SaveBatchPayout(ctx context.Context, batch *payout.BatchPayout, holders []*payout.Holder) error
	UpdateBatchPayout(ctx context.Context, batch *payout.BatchPayout, holders []*payout.Holder) error
	ListBatchPayouts(ctx context.Context, distributionID string) ([]*payout.BatchPayout, error)
	ListHoldersByBatchPayout(ctx context.Context, batchPayoutID string) ([]*payout.Holder, error)
	ListHoldersByDistribution(ctx context.Context, distributionID string, page payout.Pagination) (payout.Page[*payout.Holder], error)
	ListFailedHolders(ctx context.Context, distributionID string) ([]*payout.Holder, error)
	ListDistributionsWithDueRetries(ctx context.Context, now time.Time, ceiling int) ([]string, error)
}

// ListenerStore persists the poller cursor and the events it ingests.
type ListenerStore interface {
	GetListenerConfig(ctx context.Context) (*payout.BlockchainEventListenerConfig, error)
	UpdateListenerConfig(ctx context.Context, cfg *payout.BlockchainEventListenerConfig, now time.Time) error
	AdvanceListenerCursor(ctx context.Context, startTimestamp string, version int64, now time.Time) error
	InsertEvents(ctx context.Context, events []*payout.BlockchainEvent) (int, error)
	ListEvents(ctx context.Context, page payout.Pagination) (payout.Page[*payout.BlockchainEvent], error)
}

// Store is the full persistence surface of the service.
type Store interface {
	AssetStore
	DistributionStore
	BatchPayoutStore
	ListenerStore
}

// AssetQueryOptions selects a single asset.
type AssetQueryOptions struct {
	ID                 *string
	Name               *string
	HederaTokenAddress *string
}

// AssetQueryOption is a functional option for asset lookups.
type AssetQueryOption func(*AssetQueryOptions)

// WithAssetID filters by primary key.
func WithAssetID(id string) AssetQueryOption {
	return func(opts *AssetQueryOptions) {
		opts.ID = &id
	}
}

// WithAssetName filters by display name.
func WithAssetName(name string) AssetQueryOption {
	return func(opts *AssetQueryOptions) {
		opts.Name = &name
	}
}

// WithHederaTokenAddress filters by the token's Hedera id.
func WithHederaTokenAddress(addr string) AssetQueryOption {
	return func(opts *AssetQueryOptions) {
		opts.HederaTokenAddress = &addr
	}
}

// DistributionQueryOptions filters distribution listings.
type DistributionQueryOptions struct {
	AssetID  *string
	Statuses []payout.DistributionStatus
	From     *time.Time
	To       *time.Time
	Limit    int
}

// DistributionQueryOption is a functional option for distribution listings.
type DistributionQueryOption func(*DistributionQueryOptions)

// WithDistributionAsset restricts the listing to one asset.
func WithDistributionAsset(assetID string) DistributionQueryOption {
	return func(opts *DistributionQueryOptions) {
		opts.AssetID = &assetID
	}
}

// WithStatus restricts the listing to the given statuses.
func WithStatus(statuses ...payout.DistributionStatus) DistributionQueryOption {
	return func(opts *DistributionQueryOptions) {
		opts.Statuses = append(opts.Statuses, statuses...)
	}
}

// WithExecutionDateBetween restricts execution dates to [from, to]. A zero
// bound is open.
func WithExecutionDateBetween(from, to time.Time) DistributionQueryOption {
	return func(opts *DistributionQueryOptions) {
		if !from.IsZero() {
			opts.From = &from
		}
		if !to.IsZero() {
			opts.To = &to
		}
	}
}

// WithLimit caps the number of rows returned.
func WithLimit(limit int) DistributionQueryOption {
	return func(opts *DistributionQueryOptions) {
		opts.Limit = limit
	}
}
