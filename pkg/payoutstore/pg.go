package payoutstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/hashgraph/mass-payout/pkg/payout"
)

const uniqueViolation = "23505"

type pgStore struct {
	db *bun.DB
}

// NewStore creates a new postgres implementation of the payout store
func NewStore(db *bun.DB) *pgStore {
	return &pgStore{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == uniqueViolation
}

func pageOf[T any](items []T, total int, p payout.Pagination) payout.Page[T] {
	return payout.Page[T]{Items: items, Total: total, PageIndex: p.PageIndex, PageLength: p.PageLength}
}

func (s *pgStore) CreateAsset(ctx context.Context, asset *payout.Asset) error {
	_, err := s.db.NewInsert().
		Model(toAssetDao(asset)).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return payout.ErrAssetAlreadyExists
		}
		return fmt.Errorf("failed to create asset %s: %w", asset.HederaTokenAddress, err)
	}
	return nil
}

func (s *pgStore) GetAsset(ctx context.Context, opts ...AssetQueryOption) (*payout.Asset, error) {
	options := &AssetQueryOptions{}
	for _, opt := range opts {
		opt(options)
	}

	dao := new(AssetDao)
	query := s.db.NewSelect().Model(dao)

	if options.ID != nil {
		query = query.Where("id = ?", *options.ID)
	}
	if options.Name != nil {
		query = query.Where("name = ?", *options.Name)
	}
	if options.HederaTokenAddress != nil {
		query = query.Where("hedera_token_address = ?", *options.HederaTokenAddress)
	}

	err := query.Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, payout.ErrAssetNotFound
		}
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return toAsset(dao), nil
}

func (s *pgStore) ListAssets(ctx context.Context, page payout.Pagination) (payout.Page[*payout.Asset], error) {
	var daos []AssetDao
	total, err := s.db.NewSelect().
		Model(&daos).
		Order("created_at ASC", "id ASC").
		Limit(page.PageLength).
		Offset(page.Offset()).
		ScanAndCount(ctx)
	if err != nil {
		return payout.Page[*payout.Asset]{}, fmt.Errorf("failed to list assets: %w", err)
	}
	assets := make([]*payout.Asset, len(daos))
	for i := range daos {
		assets[i] = toAsset(&daos[i])
	}
	return pageOf(assets, total, page), nil
}

func (s *pgStore) ListSyncEnabledAssets(ctx context.Context) ([]*payout.Asset, error) {
	var daos []AssetDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("sync_enabled = TRUE").
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync enabled assets: %w", err)
	}
	assets := make([]*payout.Asset, len(daos))
	for i := range daos {
		assets[i] = toAsset(&daos[i])
	}
	return assets, nil
}

// UpdateAsset writes the mutable descriptive columns. The paused flag is only
// written through SetAssetPaused.
func (s *pgStore) UpdateAsset(ctx context.Context, asset *payout.Asset) error {
	res, err := s.db.NewUpdate().
		Model(toAssetDao(asset)).
		Column("name", "sync_enabled", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return payout.ErrAssetAlreadyExists
		}
		return fmt.Errorf("failed to update asset %s: %w", asset.ID, err)
	}
	return requireRow(res, payout.ErrAssetNotFound)
}

func (s *pgStore) SetAssetPaused(ctx context.Context, assetID string, paused bool, now time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*AssetDao)(nil)).
		Set("is_paused = ?", paused).
		Set("updated_at = ?", now.UTC()).
		Where("id = ?", assetID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set paused=%t for asset %s: %w", paused, assetID, err)
	}
	return requireRow(res, payout.ErrAssetNotFound)
}

func (s *pgStore) DeleteAllAssets(ctx context.Context) (int, error) {
	res, err := s.db.NewDelete().
		Model((*AssetDao)(nil)).
		Where("TRUE").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete assets: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

func (s *pgStore) CreateDistribution(ctx context.Context, d *payout.Distribution) error {
	_, err := s.db.NewInsert().
		Model(toDistributionDao(d)).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return payout.ErrDistributionAlreadyExists
		}
		return fmt.Errorf("failed to create distribution for asset %s: %w", d.AssetID, err)
	}
	return nil
}

func (s *pgStore) GetDistribution(ctx context.Context, id string) (*payout.Distribution, error) {
	dao := new(DistributionDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, payout.ErrDistributionNotFound
		}
		return nil, fmt.Errorf("failed to get distribution %s: %w", id, err)
	}
	return toDistribution(dao)
}

func (s *pgStore) GetDistributionByCorporateActionID(ctx context.Context, assetID, corporateActionID string) (*payout.Distribution, error) {
	dao := new(DistributionDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("asset_id = ?", assetID).
		Where("corporate_action_id = ?", corporateActionID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, payout.ErrDistributionNotFound
		}
		return nil, fmt.Errorf("failed to get distribution for corporate action %s of asset %s: %w", corporateActionID, assetID, err)
	}
	return toDistribution(dao)
}

func (s *pgStore) ListDistributionsByAsset(
	ctx context.Context,
	assetID string,
	page payout.Pagination,
) (payout.Page[*payout.Distribution], error) {
	var daos []DistributionDao
	total, err := s.db.NewSelect().
		Model(&daos).
		Where("asset_id = ?", assetID).
		Order("execution_date DESC", "id ASC").
		Limit(page.PageLength).
		Offset(page.Offset()).
		ScanAndCount(ctx)
	if err != nil {
		return payout.Page[*payout.Distribution]{}, fmt.Errorf("failed to list distributions for asset %s: %w", assetID, err)
	}
	items, err := toDistributions(daos)
	if err != nil {
		return payout.Page[*payout.Distribution]{}, err
	}
	return pageOf(items, total, page), nil
}

func (s *pgStore) ListDistributions(ctx context.Context, opts ...DistributionQueryOption) ([]*payout.Distribution, error) {
	options := &DistributionQueryOptions{}
	for _, opt := range opts {
		opt(options)
	}

	var daos []DistributionDao
	query := s.db.NewSelect().Model(&daos)

	if options.AssetID != nil {
		query = query.Where("asset_id = ?", *options.AssetID)
	}
	if len(options.Statuses) > 0 {
		statuses := make([]string, len(options.Statuses))
		for i, st := range options.Statuses {
			statuses[i] = string(st)
		}
		query = query.Where("status IN (?)", bun.In(statuses))
	}
	if options.From != nil {
		query = query.Where("execution_date >= ?", options.From.UTC())
	}
	if options.To != nil {
		query = query.Where("execution_date <= ?", options.To.UTC())
	}
	if options.Limit > 0 {
		query = query.Limit(options.Limit)
	}

	if err := query.Order("execution_date ASC", "id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list distributions: %w", err)
	}
	return toDistributions(daos)
}

func toDistributions(daos []DistributionDao) ([]*payout.Distribution, error) {
	items := make([]*payout.Distribution, len(daos))
	for i := range daos {
		d, err := toDistribution(&daos[i])
		if err != nil {
			return nil, fmt.Errorf("failed to decode distribution %s: %w", daos[i].ID, err)
		}
		items[i] = d
	}
	return items, nil
}

// UpdateDistributionStatus moves a distribution from one status to another.
// The row is only written while it still holds from, so a concurrent cancel
// is never overwritten.
func (s *pgStore) UpdateDistributionStatus(
	ctx context.Context,
	id string,
	from, to payout.DistributionStatus,
	now time.Time,
) error {
	res, err := s.db.NewUpdate().
		Model((*DistributionDao)(nil)).
		Set("status = ?", string(to)).
		Set("updated_at = ?", now.UTC()).
		Where("id = ?", id).
		Where("status = ?", string(from)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update status of distribution %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	current, err := s.GetDistribution(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: distribution %s is %s, expected %s", payout.ErrInvalidStatusTransition, id, current.Status, from)
}

func (s *pgStore) SetDistributionSnapshot(ctx context.Context, id, snapshotID string, now time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*DistributionDao)(nil)).
		Set("snapshot_id = ?", snapshotID).
		Set("updated_at = ?", now.UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set snapshot of distribution %s: %w", id, err)
	}
	return requireRow(res, payout.ErrDistributionNotFound)
}

// SaveBatchPayout inserts one executed page: the batch and all of its holders
// commit together.
func (s *pgStore) SaveBatchPayout(ctx context.Context, batch *payout.BatchPayout, holders []*payout.Holder) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(toBatchPayoutDao(batch)).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert batch payout %s: %w", batch.Name, err)
		}
		if len(holders) == 0 {
			return nil
		}
		daos := make([]*HolderDao, len(holders))
		for i, h := range holders {
			daos[i] = toHolderDao(h)
		}
		if _, err := tx.NewInsert().Model(&daos).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert holders of batch payout %s: %w", batch.Name, err)
		}
		return nil
	})
}

// UpdateBatchPayout writes a retry outcome. Completed batches are never
// rewritten.
func (s *pgStore) UpdateBatchPayout(ctx context.Context, batch *payout.BatchPayout, holders []*payout.Holder) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model(toBatchPayoutDao(batch)).
			Column("hedera_transaction_id", "hedera_transaction_hash", "evm_transaction_hash", "status", "updated_at").
			WherePK().
			Where("status <> ?", string(payout.BatchPayoutStatusCompleted)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to update batch payout %s: %w", batch.ID, err)
		}
		if err := requireRow(res, payout.ErrBatchPayoutFinalized); err != nil {
			return err
		}

		for _, h := range holders {
			_, err := tx.NewUpdate().
				Model(toHolderDao(h)).
				Column("amount", "retry_counter", "status", "next_retry_at", "last_error", "updated_at").
				WherePK().
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to update holder %s: %w", h.HolderEvmAddress, err)
			}
		}
		return nil
	})
}

func (s *pgStore) ListBatchPayouts(ctx context.Context, distributionID string) ([]*payout.BatchPayout, error) {
	var daos []BatchPayoutDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("distribution_id = ?", distributionID).
		Order("created_at ASC", "name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch payouts of distribution %s: %w", distributionID, err)
	}
	batches := make([]*payout.BatchPayout, len(daos))
	for i := range daos {
		batches[i] = toBatchPayout(&daos[i])
	}
	return batches, nil
}

func (s *pgStore) ListHoldersByBatchPayout(ctx context.Context, batchPayoutID string) ([]*payout.Holder, error) {
	var daos []HolderDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("batch_payout_id = ?", batchPayoutID).
		Order("created_at ASC", "holder_evm_address ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list holders of batch payout %s: %w", batchPayoutID, err)
	}
	return toHolders(daos)
}

func (s *pgStore) ListHoldersByDistribution(
	ctx context.Context,
	distributionID string,
	page payout.Pagination,
) (payout.Page[*payout.Holder], error) {
	var daos []HolderDao
	total, err := s.db.NewSelect().
		Model(&daos).
		Join("JOIN batch_payouts AS bp ON bp.id = h.batch_payout_id").
		Where("bp.distribution_id = ?", distributionID).
		Order("h.created_at ASC", "h.holder_evm_address ASC").
		Limit(page.PageLength).
		Offset(page.Offset()).
		ScanAndCount(ctx)
	if err != nil {
		return payout.Page[*payout.Holder]{}, fmt.Errorf("failed to list holders of distribution %s: %w", distributionID, err)
	}
	holders, err := toHolders(daos)
	if err != nil {
		return payout.Page[*payout.Holder]{}, err
	}
	return pageOf(holders, total, page), nil
}

func (s *pgStore) ListFailedHolders(ctx context.Context, distributionID string) ([]*payout.Holder, error) {
	var daos []HolderDao
	err := s.db.NewSelect().
		Model(&daos).
		Join("JOIN batch_payouts AS bp ON bp.id = h.batch_payout_id").
		Where("bp.distribution_id = ?", distributionID).
		Where("h.status = ?", string(payout.HolderStatusFailed)).
		Order("h.batch_payout_id ASC", "h.holder_evm_address ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed holders of distribution %s: %w", distributionID, err)
	}
	return toHolders(daos)
}

// ListDistributionsWithDueRetries returns ids of distributions that have
// retriable failed holders whose next retry time has passed, or holders
// waiting on the receipt of a sent batch transaction.
func (s *pgStore) ListDistributionsWithDueRetries(ctx context.Context, now time.Time, ceiling int) ([]string, error) {
	var ids []string
	err := s.db.NewSelect().
		TableExpr("holders AS h").
		Join("JOIN batch_payouts AS bp ON bp.id = h.batch_payout_id").
		ColumnExpr("DISTINCT bp.distribution_id::text").
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("h.status = ? AND h.retry_counter < ? AND (h.next_retry_at IS NULL OR h.next_retry_at <= ?)",
					string(payout.HolderStatusFailed), ceiling, now.UTC()).
				WhereOr("h.status = ? AND bp.status = ? AND bp.evm_transaction_hash IS NOT NULL",
					string(payout.HolderStatusPending), string(payout.BatchPayoutStatusInProgress))
		}).
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list distributions with due retries: %w", err)
	}
	return ids, nil
}

func (s *pgStore) GetListenerConfig(ctx context.Context) (*payout.BlockchainEventListenerConfig, error) {
	dao := new(ListenerConfigDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("id = ?", ListenerConfigID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, payout.ErrListenerNotFound
		}
		return nil, fmt.Errorf("failed to get listener config: %w", err)
	}
	return toListenerConfig(dao), nil
}

// UpdateListenerConfig replaces the listener settings if nobody else wrote
// the row since cfg was read. On success cfg carries the new version.
func (s *pgStore) UpdateListenerConfig(ctx context.Context, cfg *payout.BlockchainEventListenerConfig, now time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*ListenerConfigDao)(nil)).
		Set("mirror_node_url = ?", cfg.MirrorNodeURL).
		Set("contract_id = ?", cfg.ContractID).
		Set("token_decimals = ?", cfg.TokenDecimals).
		Set("start_timestamp = ?", cfg.StartTimestamp).
		Set("version = version + 1").
		Set("updated_at = ?", now.UTC()).
		Where("id = ?", ListenerConfigID).
		Where("version = ?", cfg.Version).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update listener config: %w", err)
	}
	if err := requireRow(res, payout.ErrListenerConfigConflict); err != nil {
		return err
	}
	cfg.Version++
	cfg.Touch(now)
	return nil
}

func (s *pgStore) AdvanceListenerCursor(ctx context.Context, startTimestamp string, version int64, now time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*ListenerConfigDao)(nil)).
		Set("start_timestamp = ?", startTimestamp).
		Set("version = version + 1").
		Set("updated_at = ?", now.UTC()).
		Where("id = ?", ListenerConfigID).
		Where("version = ?", version).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to advance listener cursor to %s: %w", startTimestamp, err)
	}
	return requireRow(res, payout.ErrListenerConfigConflict)
}

// InsertEvents stores events, skipping logs already seen. It returns the
// number of new rows.
func (s *pgStore) InsertEvents(ctx context.Context, events []*payout.BlockchainEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	daos := make([]*BlockchainEventDao, len(events))
	for i, e := range events {
		daos[i] = toBlockchainEventDao(e)
	}
	res, err := s.db.NewInsert().
		Model(&daos).
		On("CONFLICT (consensus_timestamp, log_index) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to insert blockchain events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

func (s *pgStore) ListEvents(ctx context.Context, page payout.Pagination) (payout.Page[*payout.BlockchainEvent], error) {
	var daos []BlockchainEventDao
	total, err := s.db.NewSelect().
		Model(&daos).
		OrderExpr("consensus_timestamp::numeric DESC, log_index DESC").
		Limit(page.PageLength).
		Offset(page.Offset()).
		ScanAndCount(ctx)
	if err != nil {
		return payout.Page[*payout.BlockchainEvent]{}, fmt.Errorf("failed to list blockchain events: %w", err)
	}
	events := make([]*payout.BlockchainEvent, len(daos))
	for i := range daos {
		e, err := toBlockchainEvent(&daos[i])
		if err != nil {
			return payout.Page[*payout.BlockchainEvent]{}, err
		}
		events[i] = e
	}
	return pageOf(events, total, page), nil
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
