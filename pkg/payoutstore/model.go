package payoutstore

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"github.com/hashgraph/mass-payout/pkg/payout"
)

// ListenerConfigID is the primary key of the singleton listener config row.
const ListenerConfigID = 1

// AssetDao maps to the 'assets' table.
type AssetDao struct {
	bun.BaseModel                  `bun:"table:assets,alias:a"`
	ID                             string    `bun:"id,pk,type:uuid"`
	Name                           string    `bun:"name,unique,notnull,type:varchar(255)"`
	HederaTokenAddress             string    `bun:"hedera_token_address,unique,notnull,type:varchar(32)"`
	EvmTokenAddress                string    `bun:"evm_token_address,notnull,type:varchar(42)"`
	LifeCycleCashFlowHederaAddress string    `bun:"lcc_hedera_address,notnull,type:varchar(32)"`
	LifeCycleCashFlowEvmAddress    string    `bun:"lcc_evm_address,notnull,type:varchar(42)"`
	IsPaused                       bool      `bun:"is_paused,notnull"`
	SyncEnabled                    bool      `bun:"sync_enabled,notnull"`
	CreatedAt                      time.Time `bun:"created_at,notnull"`
	UpdatedAt                      time.Time `bun:"updated_at,notnull"`
}

func toAssetDao(a *payout.Asset) *AssetDao {
	return &AssetDao{
		ID:                             a.ID,
		Name:                           a.Name,
		HederaTokenAddress:             a.HederaTokenAddress,
		EvmTokenAddress:                a.EvmTokenAddress,
		LifeCycleCashFlowHederaAddress: a.LifeCycleCashFlowHederaAddress,
		LifeCycleCashFlowEvmAddress:    a.LifeCycleCashFlowEvmAddress,
		IsPaused:                       a.IsPaused,
		SyncEnabled:                    a.SyncEnabled,
		CreatedAt:                      a.CreatedAt,
		UpdatedAt:                      a.UpdatedAt,
	}
}

func toAsset(dao *AssetDao) *payout.Asset {
	return &payout.Asset{
		ID:                             dao.ID,
		Name:                           dao.Name,
		HederaTokenAddress:             dao.HederaTokenAddress,
		EvmTokenAddress:                dao.EvmTokenAddress,
		LifeCycleCashFlowHederaAddress: dao.LifeCycleCashFlowHederaAddress,
		LifeCycleCashFlowEvmAddress:    dao.LifeCycleCashFlowEvmAddress,
		IsPaused:                       dao.IsPaused,
		SyncEnabled:                    dao.SyncEnabled,
		Timestamps:                     payout.Timestamps{CreatedAt: dao.CreatedAt.UTC(), UpdatedAt: dao.UpdatedAt.UTC()},
	}
}

// DistributionDao maps to the 'distributions' table.
type DistributionDao struct {
	bun.BaseModel     `bun:"table:distributions,alias:d"`
	ID                string    `bun:"id,pk,type:uuid"`
	AssetID           string    `bun:"asset_id,notnull,type:uuid"`
	Type              string    `bun:"type,notnull,type:varchar(32)"`
	CorporateActionID *string   `bun:"corporate_action_id,type:varchar(78)"`
	ExecutionDate     time.Time `bun:"execution_date,notnull"`
	PayoutSubtype     *string   `bun:"payout_subtype,type:varchar(32)"`
	Recurrency        *string   `bun:"recurrency,type:varchar(32)"`
	AmountType        *string   `bun:"amount_type,type:varchar(32)"`
	Amount            *string   `bun:"amount,type:numeric(38,18)"`
	Concept           *string   `bun:"concept,type:varchar(255)"`
	SnapshotID        *string   `bun:"snapshot_id,type:varchar(78)"`
	Status            string    `bun:"status,notnull,type:varchar(32)"`
	CreatedAt         time.Time `bun:"created_at,notnull"`
	UpdatedAt         time.Time `bun:"updated_at,notnull"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toDistributionDao(d *payout.Distribution) *DistributionDao {
	dao := &DistributionDao{
		ID:                d.ID,
		AssetID:           d.AssetID,
		Type:              string(d.Type),
		CorporateActionID: optional(d.CorporateActionID),
		ExecutionDate:     d.ExecutionDate,
		PayoutSubtype:     optional(string(d.PayoutSubtype)),
		Recurrency:        optional(string(d.Recurrency)),
		AmountType:        optional(string(d.AmountType)),
		Concept:           optional(d.Concept),
		SnapshotID:        optional(d.SnapshotID),
		Status:            string(d.Status),
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
	if d.Type == payout.DistributionTypePayout {
		amount := d.Amount.String()
		dao.Amount = &amount
	}
	return dao
}

func toDistribution(dao *DistributionDao) (*payout.Distribution, error) {
	d := &payout.Distribution{
		ID:                dao.ID,
		AssetID:           dao.AssetID,
		Type:              payout.DistributionType(dao.Type),
		CorporateActionID: deref(dao.CorporateActionID),
		ExecutionDate:     dao.ExecutionDate.UTC(),
		PayoutSubtype:     payout.PayoutSubtype(deref(dao.PayoutSubtype)),
		Recurrency:        payout.Recurrency(deref(dao.Recurrency)),
		AmountType:        payout.AmountType(deref(dao.AmountType)),
		Concept:           deref(dao.Concept),
		SnapshotID:        deref(dao.SnapshotID),
		Status:            payout.DistributionStatus(dao.Status),
		Timestamps:        payout.Timestamps{CreatedAt: dao.CreatedAt.UTC(), UpdatedAt: dao.UpdatedAt.UTC()},
	}
	if dao.Amount != nil {
		amount, err := decimal.NewFromString(*dao.Amount)
		if err != nil {
			return nil, err
		}
		d.Amount = amount
	}
	return d, nil
}

// BatchPayoutDao maps to the 'batch_payouts' table.
type BatchPayoutDao struct {
	bun.BaseModel         `bun:"table:batch_payouts,alias:bp"`
	ID                    string    `bun:"id,pk,type:uuid"`
	DistributionID        string    `bun:"distribution_id,notnull,type:uuid"`
	Name                  string    `bun:"name,notnull,type:varchar(255)"`
	HederaTransactionID   *string   `bun:"hedera_transaction_id,type:varchar(64)"`
	HederaTransactionHash *string   `bun:"hedera_transaction_hash,type:varchar(98)"`
	EvmTransactionHash    *string   `bun:"evm_transaction_hash,type:varchar(66)"`
	HoldersNumber         int       `bun:"holders_number,notnull"`
	Status                string    `bun:"status,notnull,type:varchar(32)"`
	CreatedAt             time.Time `bun:"created_at,notnull"`
	UpdatedAt             time.Time `bun:"updated_at,notnull"`
}

func toBatchPayoutDao(b *payout.BatchPayout) *BatchPayoutDao {
	return &BatchPayoutDao{
		ID:                    b.ID,
		DistributionID:        b.DistributionID,
		Name:                  b.Name,
		HederaTransactionID:   optional(b.HederaTransactionID),
		HederaTransactionHash: optional(b.HederaTransactionHash),
		EvmTransactionHash:    optional(b.EvmTransactionHash),
		HoldersNumber:         b.HoldersNumber,
		Status:                string(b.Status),
		CreatedAt:             b.CreatedAt,
		UpdatedAt:             b.UpdatedAt,
	}
}

func toBatchPayout(dao *BatchPayoutDao) *payout.BatchPayout {
	return &payout.BatchPayout{
		ID:                    dao.ID,
		DistributionID:        dao.DistributionID,
		Name:                  dao.Name,
		HederaTransactionID:   deref(dao.HederaTransactionID),
		HederaTransactionHash: deref(dao.HederaTransactionHash),
		EvmTransactionHash:    deref(dao.EvmTransactionHash),
		HoldersNumber:         dao.HoldersNumber,
		Status:                payout.BatchPayoutStatus(dao.Status),
		Timestamps:            payout.Timestamps{CreatedAt: dao.CreatedAt.UTC(), UpdatedAt: dao.UpdatedAt.UTC()},
	}
}

// HolderDao maps to the 'holders' table.
type HolderDao struct {
	bun.BaseModel       `bun:"table:holders,alias:h"`
	ID                  string     `bun:"id,pk,type:uuid"`
	BatchPayoutID       string     `bun:"batch_payout_id,notnull,type:uuid"`
	HolderHederaAddress *string    `bun:"holder_hedera_address,type:varchar(32)"`
	HolderEvmAddress    string     `bun:"holder_evm_address,notnull,type:varchar(42)"`
	Amount              *string    `bun:"amount,type:numeric(38,18)"`
	RetryCounter        int        `bun:"retry_counter,notnull"`
	Status              string     `bun:"status,notnull,type:varchar(32)"`
	NextRetryAt         *time.Time `bun:"next_retry_at"`
	LastError           *string    `bun:"last_error,type:text"`
	CreatedAt           time.Time  `bun:"created_at,notnull"`
	UpdatedAt           time.Time  `bun:"updated_at,notnull"`
}

func toHolderDao(h *payout.Holder) *HolderDao {
	dao := &HolderDao{
		ID:                  h.ID,
		BatchPayoutID:       h.BatchPayoutID,
		HolderHederaAddress: optional(h.HolderHederaAddress),
		HolderEvmAddress:    h.HolderEvmAddress,
		RetryCounter:        h.RetryCounter,
		Status:              string(h.Status),
		NextRetryAt:         h.NextRetryAt,
		LastError:           optional(h.LastError),
		CreatedAt:           h.CreatedAt,
		UpdatedAt:           h.UpdatedAt,
	}
	if h.Amount != nil {
		amount := h.Amount.String()
		dao.Amount = &amount
	}
	return dao
}

func toHolder(dao *HolderDao) (*payout.Holder, error) {
	h := &payout.Holder{
		ID:                  dao.ID,
		BatchPayoutID:       dao.BatchPayoutID,
		HolderHederaAddress: deref(dao.HolderHederaAddress),
		HolderEvmAddress:    dao.HolderEvmAddress,
		RetryCounter:        dao.RetryCounter,
		Status:              payout.HolderStatus(dao.Status),
		LastError:           deref(dao.LastError),
		Timestamps:          payout.Timestamps{CreatedAt: dao.CreatedAt.UTC(), UpdatedAt: dao.UpdatedAt.UTC()},
	}
	if dao.NextRetryAt != nil {
		next := dao.NextRetryAt.UTC()
		h.NextRetryAt = &next
	}
	if dao.Amount != nil {
		amount, err := decimal.NewFromString(*dao.Amount)
		if err != nil {
			return nil, err
		}
		h.Amount = &amount
	}
	return h, nil
}

func toHolders(daos []HolderDao) ([]*payout.Holder, error) {
	holders := make([]*payout.Holder, len(daos))
	for i := range daos {
		h, err := toHolder(&daos[i])
		if err != nil {
			return nil, err
		}
		holders[i] = h
	}
	return holders, nil
}

// ListenerConfigDao maps to the singleton 'blockchain_event_listener_config' row.
type ListenerConfigDao struct {
	bun.BaseModel  `bun:"table:blockchain_event_listener_config,alias:lc"`
	ID             int       `bun:"id,pk"`
	MirrorNodeURL  string    `bun:"mirror_node_url,notnull,type:varchar(255)"`
	ContractID     string    `bun:"contract_id,notnull,type:varchar(32)"`
	TokenDecimals  int32     `bun:"token_decimals,notnull"`
	StartTimestamp string    `bun:"start_timestamp,notnull,type:varchar(32)"`
	Version        int64     `bun:"version,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
	UpdatedAt      time.Time `bun:"updated_at,notnull"`
}

func toListenerConfig(dao *ListenerConfigDao) *payout.BlockchainEventListenerConfig {
	return &payout.BlockchainEventListenerConfig{
		MirrorNodeURL:  dao.MirrorNodeURL,
		ContractID:     dao.ContractID,
		TokenDecimals:  dao.TokenDecimals,
		StartTimestamp: dao.StartTimestamp,
		Version:        dao.Version,
		Timestamps:     payout.Timestamps{CreatedAt: dao.CreatedAt.UTC(), UpdatedAt: dao.UpdatedAt.UTC()},
	}
}

// BlockchainEventDao maps to the 'blockchain_events' table. A log is unique by
// its consensus timestamp and index.
type BlockchainEventDao struct {
	bun.BaseModel      `bun:"table:blockchain_events,alias:be"`
	ID                 string    `bun:"id,pk,type:uuid"`
	Type               string    `bun:"type,notnull,type:varchar(16)"`
	ContractID         string    `bun:"contract_id,notnull,type:varchar(32)"`
	FromAddress        string    `bun:"from_address,notnull,type:varchar(42)"`
	ToAddress          string    `bun:"to_address,notnull,type:varchar(42)"`
	Amount             string    `bun:"amount,notnull,type:numeric(38,18)"`
	ConsensusTimestamp string    `bun:"consensus_timestamp,notnull,unique:blockchain_events_position,type:varchar(32)"`
	LogIndex           int       `bun:"log_index,notnull,unique:blockchain_events_position"`
	TransactionHash    string    `bun:"transaction_hash,notnull,type:varchar(98)"`
	CreatedAt          time.Time `bun:"created_at,notnull"`
	UpdatedAt          time.Time `bun:"updated_at,notnull"`
}

func toBlockchainEventDao(e *payout.BlockchainEvent) *BlockchainEventDao {
	return &BlockchainEventDao{
		ID:                 e.ID,
		Type:               string(e.Type),
		ContractID:         e.ContractID,
		FromAddress:        e.From,
		ToAddress:          e.To,
		Amount:             e.Amount.String(),
		ConsensusTimestamp: e.ConsensusTimestamp,
		LogIndex:           e.LogIndex,
		TransactionHash:    e.TransactionHash,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}
}

func toBlockchainEvent(dao *BlockchainEventDao) (*payout.BlockchainEvent, error) {
	amount, err := decimal.NewFromString(dao.Amount)
	if err != nil {
		return nil, err
	}
	return &payout.BlockchainEvent{
		ID:                 dao.ID,
		Type:               payout.BlockchainEventType(dao.Type),
		ContractID:         dao.ContractID,
		From:               dao.FromAddress,
		To:                 dao.ToAddress,
		Amount:             amount,
		ConsensusTimestamp: dao.ConsensusTimestamp,
		LogIndex:           dao.LogIndex,
		TransactionHash:    dao.TransactionHash,
		Timestamps:         payout.Timestamps{CreatedAt: dao.CreatedAt.UTC(), UpdatedAt: dao.UpdatedAt.UTC()},
	}, nil
}
