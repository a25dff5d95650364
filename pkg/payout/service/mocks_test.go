package service

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/hashgraph/mass-payout/pkg/payout"
	"github.com/hashgraph/mass-payout/pkg/payoutstore"
)

// memStore is an in-memory payoutstore.Store. It hands out copies so services
// only observe what they persisted.
type memStore struct {
	mu            sync.Mutex
	assets        map[string]*payout.Asset
	distributions map[string]*payout.Distribution
	batches       map[string]*payout.BatchPayout
	batchOrder    []string
	holders       map[string][]*payout.Holder
	listener      *payout.BlockchainEventListenerConfig

	setPausedErr error
}

var _ payoutstore.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		assets:        make(map[string]*payout.Asset),
		distributions: make(map[string]*payout.Distribution),
		batches:       make(map[string]*payout.BatchPayout),
		holders:       make(map[string][]*payout.Holder),
	}
}

func copyAsset(a *payout.Asset) *payout.Asset                      { c := *a; return &c }
func copyDistribution(d *payout.Distribution) *payout.Distribution { c := *d; return &c }
func copyBatch(b *payout.BatchPayout) *payout.BatchPayout          { c := *b; return &c }
func copyHolder(h *payout.Holder) *payout.Holder                   { c := *h; return &c }

func (s *memStore) CreateAsset(_ context.Context, asset *payout.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assets {
		if a.Name == asset.Name || a.HederaTokenAddress == asset.HederaTokenAddress {
			return payout.ErrAssetAlreadyExists
		}
	}
	s.assets[asset.ID] = copyAsset(asset)
	return nil
}

func (s *memStore) GetAsset(_ context.Context, opts ...payoutstore.AssetQueryOption) (*payout.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var q payoutstore.AssetQueryOptions
	for _, opt := range opts {
		opt(&q)
	}
	for _, a := range s.assets {
		if q.ID != nil && a.ID != *q.ID {
			continue
		}
		if q.Name != nil && a.Name != *q.Name {
			continue
		}
		if q.HederaTokenAddress != nil && a.HederaTokenAddress != *q.HederaTokenAddress {
			continue
		}
		return copyAsset(a), nil
	}
	return nil, payout.ErrAssetNotFound
}

func (s *memStore) ListAssets(_ context.Context, page payout.Pagination) (payout.Page[*payout.Asset], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]*payout.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		all = append(all, copyAsset(a))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return window(all, page), nil
}

func (s *memStore) ListSyncEnabledAssets(_ context.Context) ([]*payout.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*payout.Asset
	for _, a := range s.assets {
		if a.SyncEnabled {
			out = append(out, copyAsset(a))
		}
	}
	return out, nil
}

func (s *memStore) UpdateAsset(_ context.Context, asset *payout.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assets[asset.ID]; !ok {
		return payout.ErrAssetNotFound
	}
	s.assets[asset.ID] = copyAsset(asset)
	return nil
}

func (s *memStore) SetAssetPaused(_ context.Context, assetID string, paused bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setPausedErr != nil {
		return s.setPausedErr
	}
	a, ok := s.assets[assetID]
	if !ok {
		return payout.ErrAssetNotFound
	}
	a.IsPaused = paused
	a.Touch(now)
	return nil
}

func (s *memStore) DeleteAllAssets(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.assets)
	s.assets = make(map[string]*payout.Asset)
	return n, nil
}

func (s *memStore) CreateDistribution(_ context.Context, d *payout.Distribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.CorporateActionID != "" {
		for _, existing := range s.distributions {
			if existing.AssetID == d.AssetID && existing.CorporateActionID == d.CorporateActionID {
				return payout.ErrDistributionAlreadyExists
			}
		}
	}
	s.distributions[d.ID] = copyDistribution(d)
	return nil
}

func (s *memStore) GetDistribution(_ context.Context, id string) (*payout.Distribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.distributions[id]
	if !ok {
		return nil, payout.ErrDistributionNotFound
	}
	return copyDistribution(d), nil
}

func (s *memStore) GetDistributionByCorporateActionID(_ context.Context, assetID, corporateActionID string) (*payout.Distribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.distributions {
		if d.AssetID == assetID && d.CorporateActionID == corporateActionID {
			return copyDistribution(d), nil
		}
	}
	return nil, payout.ErrDistributionNotFound
}

func (s *memStore) ListDistributionsByAsset(_ context.Context, assetID string, page payout.Pagination) (payout.Page[*payout.Distribution], error) {
	all, _ := s.ListDistributions(context.Background(), payoutstore.WithDistributionAsset(assetID))
	return window(all, page), nil
}

func (s *memStore) ListDistributions(_ context.Context, opts ...payoutstore.DistributionQueryOption) ([]*payout.Distribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var q payoutstore.DistributionQueryOptions
	for _, opt := range opts {
		opt(&q)
	}
	var out []*payout.Distribution
	for _, d := range s.distributions {
		if q.AssetID != nil && d.AssetID != *q.AssetID {
			continue
		}
		if len(q.Statuses) > 0 && !containsStatus(q.Statuses, d.Status) {
			continue
		}
		if q.From != nil && d.ExecutionDate.Before(*q.From) {
			continue
		}
		if q.To != nil && d.ExecutionDate.After(*q.To) {
			continue
		}
		out = append(out, copyDistribution(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutionDate.Before(out[j].ExecutionDate) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func containsStatus(statuses []payout.DistributionStatus, s payout.DistributionStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func (s *memStore) UpdateDistributionStatus(_ context.Context, id string, from, to payout.DistributionStatus, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.distributions[id]
	if !ok {
		return payout.ErrDistributionNotFound
	}
	if d.Status != from {
		return fmt.Errorf("%w: distribution %s is %s, expected %s", payout.ErrInvalidStatusTransition, id, d.Status, from)
	}
	d.Status = to
	d.Touch(now)
	return nil
}

func (s *memStore) SetDistributionSnapshot(_ context.Context, id, snapshotID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.distributions[id]
	if !ok {
		return payout.ErrDistributionNotFound
	}
	d.SetSnapshot(snapshotID, now)
	return nil
}

func (s *memStore) SaveBatchPayout(_ context.Context, batch *payout.BatchPayout, holders []*payout.Holder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[batch.ID] = copyBatch(batch)
	s.batchOrder = append(s.batchOrder, batch.ID)
	for _, h := range holders {
		s.holders[batch.ID] = append(s.holders[batch.ID], copyHolder(h))
	}
	return nil
}

func (s *memStore) UpdateBatchPayout(_ context.Context, batch *payout.BatchPayout, holders []*payout.Holder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.batches[batch.ID]
	if !ok || stored.Status == payout.BatchPayoutStatusCompleted {
		return payout.ErrBatchPayoutFinalized
	}
	s.batches[batch.ID] = copyBatch(batch)
	for _, h := range holders {
		for i, existing := range s.holders[batch.ID] {
			if existing.ID == h.ID {
				s.holders[batch.ID][i] = copyHolder(h)
			}
		}
	}
	return nil
}

func (s *memStore) ListBatchPayouts(_ context.Context, distributionID string) ([]*payout.BatchPayout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*payout.BatchPayout
	for _, id := range s.batchOrder {
		if b := s.batches[id]; b.DistributionID == distributionID {
			out = append(out, copyBatch(b))
		}
	}
	return out, nil
}

func (s *memStore) ListHoldersByBatchPayout(_ context.Context, batchPayoutID string) ([]*payout.Holder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*payout.Holder, 0, len(s.holders[batchPayoutID]))
	for _, h := range s.holders[batchPayoutID] {
		out = append(out, copyHolder(h))
	}
	return out, nil
}

func (s *memStore) ListHoldersByDistribution(ctx context.Context, distributionID string, page payout.Pagination) (payout.Page[*payout.Holder], error) {
	return window(s.distributionHolders(distributionID), page), nil
}

func (s *memStore) ListFailedHolders(_ context.Context, distributionID string) ([]*payout.Holder, error) {
	var out []*payout.Holder
	for _, h := range s.distributionHolders(distributionID) {
		if h.Status == payout.HolderStatusFailed {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *memStore) ListDistributionsWithDueRetries(_ context.Context, now time.Time, ceiling int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var ids []string
	for _, batchID := range s.batchOrder {
		awaiting := s.batches[batchID].AwaitingReceipt()
		for _, h := range s.holders[batchID] {
			if (h.Retriable(ceiling) && h.Due(now)) || (awaiting && h.Status == payout.HolderStatusPending) {
				id := s.batches[batchID].DistributionID
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
	}
	return ids, nil
}

func (s *memStore) distributionHolders(distributionID string) []*payout.Holder {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*payout.Holder
	for _, id := range s.batchOrder {
		if s.batches[id].DistributionID != distributionID {
			continue
		}
		for _, h := range s.holders[id] {
			out = append(out, copyHolder(h))
		}
	}
	return out
}

func (s *memStore) GetListenerConfig(_ context.Context) (*payout.BlockchainEventListenerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil, payout.ErrListenerNotFound
	}
	c := *s.listener
	return &c, nil
}

func (s *memStore) UpdateListenerConfig(_ context.Context, cfg *payout.BlockchainEventListenerConfig, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *cfg
	s.listener = &c
	return nil
}

func (s *memStore) AdvanceListenerCursor(_ context.Context, startTimestamp string, version int64, now time.Time) error {
	return nil
}

func (s *memStore) InsertEvents(_ context.Context, events []*payout.BlockchainEvent) (int, error) {
	return len(events), nil
}

func (s *memStore) ListEvents(_ context.Context, page payout.Pagination) (payout.Page[*payout.BlockchainEvent], error) {
	return payout.Page[*payout.BlockchainEvent]{PageIndex: page.PageIndex, PageLength: page.PageLength}, nil
}

// holdersOf returns the stored holders of the distribution keyed by EVM address.
func (s *memStore) holdersOf(distributionID string) map[string]*payout.Holder {
	out := make(map[string]*payout.Holder)
	for _, h := range s.distributionHolders(distributionID) {
		out[h.HolderEvmAddress] = h
	}
	return out
}

func window[T any](all []T, page payout.Pagination) payout.Page[T] {
	start := page.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + page.PageLength
	if end > len(all) {
		end = len(all)
	}
	return payout.Page[T]{Items: all[start:end], Total: len(all), PageIndex: page.PageIndex, PageLength: page.PageLength}
}

// cashFlowMock is a testify mock of the life cycle cash flow contract.
type cashFlowMock struct {
	mock.Mock
}

var _ CashFlow = (*cashFlowMock)(nil)

func (m *cashFlowMock) Pause(ctx context.Context, lcc string) error {
	return m.Called(ctx, lcc).Error(0)
}

func (m *cashFlowMock) Unpause(ctx context.Context, lcc string) error {
	return m.Called(ctx, lcc).Error(0)
}

func (m *cashFlowMock) IsPaused(ctx context.Context, lcc string) (bool, error) {
	args := m.Called(ctx, lcc)
	return args.Bool(0), args.Error(1)
}

func (m *cashFlowMock) result(args mock.Arguments) (*payout.ExecutionResult, error) {
	res, _ := args.Get(0).(*payout.ExecutionResult)
	return res, args.Error(1)
}

func (m *cashFlowMock) ExecuteDistribution(ctx context.Context, lcc, asset string, distributionID *big.Int, page payout.Pagination) (*payout.ExecutionResult, error) {
	return m.result(m.Called(ctx, lcc, asset, distributionID, page))
}

func (m *cashFlowMock) ExecuteDistributionByAddresses(ctx context.Context, lcc, asset string, distributionID *big.Int, holders []string) (*payout.ExecutionResult, error) {
	return m.result(m.Called(ctx, lcc, asset, distributionID, holders))
}

func (m *cashFlowMock) ExecuteAmountSnapshot(ctx context.Context, lcc, asset string, snapshotID *big.Int, page payout.Pagination, amount *big.Int) (*payout.ExecutionResult, error) {
	return m.result(m.Called(ctx, lcc, asset, snapshotID, page, amount))
}

func (m *cashFlowMock) ExecuteAmountSnapshotByAddresses(ctx context.Context, lcc, asset string, snapshotID *big.Int, holders []string, amount *big.Int) (*payout.ExecutionResult, error) {
	return m.result(m.Called(ctx, lcc, asset, snapshotID, holders, amount))
}

func (m *cashFlowMock) ExecutePercentageSnapshot(ctx context.Context, lcc, asset string, snapshotID *big.Int, page payout.Pagination, percentage *big.Int) (*payout.ExecutionResult, error) {
	return m.result(m.Called(ctx, lcc, asset, snapshotID, page, percentage))
}

func (m *cashFlowMock) ExecutePercentageSnapshotByAddresses(ctx context.Context, lcc, asset string, snapshotID *big.Int, holders []string, percentage *big.Int) (*payout.ExecutionResult, error) {
	return m.result(m.Called(ctx, lcc, asset, snapshotID, holders, percentage))
}

func (m *cashFlowMock) TransactionOutcome(ctx context.Context, evmHash string) (*payout.TransactionOutcome, error) {
	args := m.Called(ctx, evmHash)
	outcome, _ := args.Get(0).(*payout.TransactionOutcome)
	return outcome, args.Error(1)
}

// bigEq matches a *big.Int argument by value.
func bigEq(v int64) any {
	return mock.MatchedBy(func(n *big.Int) bool { return n != nil && n.Cmp(big.NewInt(v)) == 0 })
}

// fakeToken serves a fixed holder list for both snapshots and dividends.
type fakeToken struct {
	mu         sync.Mutex
	holders    []string
	balances   map[string]*big.Int
	decimals   int32
	snapshotID int64
	snapshots  int
	dividends  []*payout.Dividend

	holdersErr error
}

var _ AssetToken = (*fakeToken)(nil)

func (f *fakeToken) TakeSnapshot(context.Context, string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots++
	return big.NewInt(f.snapshotID), nil
}

func (f *fakeToken) Decimals(context.Context, string) (int32, error) {
	return f.decimals, nil
}

func (f *fakeToken) TotalTokenHoldersAtSnapshot(context.Context, string, *big.Int) (int, error) {
	return len(f.holders), nil
}

func (f *fakeToken) TokenHoldersAtSnapshot(_ context.Context, _ string, _ *big.Int, page payout.Pagination) ([]string, error) {
	if f.holdersErr != nil {
		return nil, f.holdersErr
	}
	return window(f.holders, page).Items, nil
}

func (f *fakeToken) BalanceOfAtSnapshot(_ context.Context, _ string, _ *big.Int, holder string) (*big.Int, error) {
	if b, ok := f.balances[holder]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeToken) DividendsCount(context.Context, string) (int, error) {
	return len(f.dividends), nil
}

func (f *fakeToken) Dividend(_ context.Context, _ string, id *big.Int) (*payout.Dividend, error) {
	i := int(id.Int64()) - 1
	if i < 0 || i >= len(f.dividends) {
		return nil, fmt.Errorf("dividend %s not found", id)
	}
	return f.dividends[i], nil
}

func (f *fakeToken) TotalDividendHolders(context.Context, string, *big.Int) (int, error) {
	return len(f.holders), nil
}

func (f *fakeToken) DividendHolders(_ context.Context, _ string, _ *big.Int, page payout.Pagination) ([]string, error) {
	if f.holdersErr != nil {
		return nil, f.holdersErr
	}
	return window(f.holders, page).Items, nil
}

// fakeResolver maps Hedera ids to EVM addresses and back.
type fakeResolver struct {
	evmByHedera map[string]string
}

var _ AddressResolver = (*fakeResolver)(nil)

func (r *fakeResolver) GetEvmAddressFromHedera(_ context.Context, id string) (string, error) {
	if addr, ok := r.evmByHedera[id]; ok {
		return addr, nil
	}
	return "", fmt.Errorf("entity %s not found", id)
}

func (r *fakeResolver) GetHederaAddressFromEvm(_ context.Context, addr string) (string, error) {
	for id, evm := range r.evmByHedera {
		if evm == addr {
			return id, nil
		}
	}
	return "", fmt.Errorf("no account for %s", addr)
}

// orchestratorFunc adapts a function to Orchestrator.
type orchestratorFunc func(ctx context.Context, distributionID string, page payout.Pagination) (*ExecutionReport, error)

func (f orchestratorFunc) Execute(ctx context.Context, distributionID string, page payout.Pagination) (*ExecutionReport, error) {
	return f(ctx, distributionID, page)
}
