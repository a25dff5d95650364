// Package poller ingests Transfer and Approval logs of the payment token from
// the mirror node and keeps the listener cursor in the database.
package poller

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/hashgraph/mass-payout/internal/metrics"
	apperrors "github.com/hashgraph/mass-payout/pkg/app/errors"
	"github.com/hashgraph/mass-payout/pkg/config"
	"github.com/hashgraph/mass-payout/pkg/hedera/mirror"
	"github.com/hashgraph/mass-payout/pkg/payout"
)

var (
	transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	approvalTopic = crypto.Keccak256Hash([]byte("Approval(address,address,uint256)"))
)

// Store persists the listener cursor and ingested events.
type Store interface {
	GetListenerConfig(ctx context.Context) (*payout.BlockchainEventListenerConfig, error)
	UpdateListenerConfig(ctx context.Context, cfg *payout.BlockchainEventListenerConfig, now time.Time) error
	AdvanceListenerCursor(ctx context.Context, startTimestamp string, version int64, now time.Time) error
	InsertEvents(ctx context.Context, events []*payout.BlockchainEvent) (int, error)
}

// LogSource returns contract logs after a consensus timestamp, oldest first.
type LogSource interface {
	GetContractLogs(ctx context.Context, contractID, fromTimestamp string, limit int) ([]mirror.ContractLog, error)
}

// SourceFactory builds a LogSource for a mirror node URL. An empty URL means
// the process default.
type SourceFactory func(mirrorNodeURL string) LogSource

// ConfigUpdate changes the stored listener settings. Nil fields are kept.
type ConfigUpdate struct {
	MirrorNodeURL  *string `json:"mirrorNodeUrl" validate:"omitempty,url"`
	ContractID     *string `json:"contractId"`
	TokenDecimals  *int32  `json:"tokenDecimals" validate:"omitempty,min=0,max=36"`
	StartTimestamp *string `json:"startTimestamp"`
}

// Poller periodically pulls token logs and stores them as blockchain events.
type Poller struct {
	store   Store
	sources SourceFactory
	cfg     *config.ListenerConfig
	clock   clockwork.Clock
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
	baseCtx context.Context
	stopCh  chan struct{}
	done    chan struct{}

	// cycleMu serializes cycles and guards the cached source
	cycleMu   sync.Mutex
	sourceURL string
	source    LogSource
}

// New creates a stopped Poller.
func New(store Store, sources SourceFactory, cfg *config.ListenerConfig, clock clockwork.Clock, logger *zap.Logger) *Poller {
	return &Poller{
		store:   store,
		sources: sources,
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
	}
}

// Start runs one cycle right away and then one per poll interval until ctx
// is done or Stop is called. Starting a running poller does nothing.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.baseCtx = ctx
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})

	stopCh, done := p.stopCh, p.done
	go func() {
		defer close(done)
		defer func() {
			p.mu.Lock()
			if p.stopCh == stopCh {
				p.running = false
			}
			p.mu.Unlock()
		}()

		ticker := p.clock.NewTicker(p.cfg.PollInterval)
		defer ticker.Stop()

		p.logger.Info("Started blockchain event poller", zap.Duration("interval", p.cfg.PollInterval))
		p.safePoll(ctx)

		for {
			select {
			case <-ticker.Chan():
				p.safePoll(ctx)
			case <-stopCh:
				p.logger.Info("Stopping blockchain event poller")
				return
			case <-ctx.Done():
				p.logger.Info("Blockchain event poller context done")
				return
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight cycle. It is safe to call
// on a stopped poller.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopCh)
	p.running = false
	done := p.done
	p.mu.Unlock()

	<-done
}

// Restart stops the poller, drops the cached log source and starts again.
func (p *Poller) Restart(ctx context.Context) {
	p.Stop()

	p.cycleMu.Lock()
	p.source, p.sourceURL = nil, ""
	p.cycleMu.Unlock()

	p.Start(ctx)
}

// Running reports whether the loop is running. It turns false once Stop is
// called or the context passed to Start is done.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) safePoll(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Blockchain event poll panicked", zap.Any("panic", r))
			metrics.PollerCycles.WithLabelValues("panic").Inc()
		}
	}()

	cycleCtx, cancel := context.WithTimeout(ctx, p.cfg.CycleTimeout)
	defer cancel()

	n, err := p.Poll(cycleCtx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		metrics.PollerCycles.WithLabelValues("error").Inc()
		p.logger.Error("Periodic blockchain event poll failed", zap.Error(err))
		return
	}
	metrics.PollerCycles.WithLabelValues("ok").Inc()
	if n > 0 {
		p.logger.Info("Ingested blockchain events", zap.Int("count", n))
	}
}

// Poll runs a single cycle: fetch logs after the cursor, store the decoded
// events and advance the cursor. It returns the number of new events.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	cfg, err := p.store.GetListenerConfig(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load listener config: %w", err)
	}
	if cfg.ContractID == "" {
		p.logger.Debug("No contract configured for blockchain event poller")
		return 0, nil
	}

	logs, err := p.sourceFor(cfg.MirrorNodeURL).GetContractLogs(ctx, cfg.ContractID, cfg.StartTimestamp, p.cfg.PageLimit)
	if err != nil {
		return 0, err
	}
	if len(logs) == 0 {
		return 0, nil
	}

	now := p.clock.Now()
	events := make([]*payout.BlockchainEvent, 0, len(logs))
	last := cfg.StartTimestamp
	for _, l := range logs {
		if payout.CompareConsensusTimestamps(l.Timestamp, last) > 0 {
			last = l.Timestamp
		}
		event, err := decodeLog(cfg, l, now)
		if err != nil {
			p.logger.Warn("Skipping undecodable contract log",
				zap.String("timestamp", l.Timestamp),
				zap.Int("index", l.Index),
				zap.Error(err))
			continue
		}
		if event != nil {
			events = append(events, event)
		}
	}

	inserted, err := p.store.InsertEvents(ctx, events)
	if err != nil {
		return 0, err
	}
	for _, e := range events {
		metrics.EventsIngested.WithLabelValues(string(e.Type)).Inc()
	}

	if cfg.Advance(last, now) {
		if err := p.store.AdvanceListenerCursor(ctx, cfg.StartTimestamp, cfg.Version, now); err != nil {
			// stored events are deduplicated when the same page is fetched again
			return inserted, fmt.Errorf("failed to advance listener cursor: %w", err)
		}
	}
	return inserted, nil
}

func (p *Poller) sourceFor(url string) LogSource {
	if p.source == nil || p.sourceURL != url {
		p.source = p.sources(url)
		p.sourceURL = url
	}
	return p.source
}

// Config returns the stored listener settings.
func (p *Poller) Config(ctx context.Context) (*payout.BlockchainEventListenerConfig, error) {
	cfg, err := p.store.GetListenerConfig(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	return cfg, nil
}

// UpdateConfig persists the changed settings and restarts a running poller so
// the next cycle uses them.
func (p *Poller) UpdateConfig(ctx context.Context, update *ConfigUpdate) (*payout.BlockchainEventListenerConfig, error) {
	cfg, err := p.store.GetListenerConfig(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	if update.MirrorNodeURL != nil {
		cfg.MirrorNodeURL = *update.MirrorNodeURL
	}
	if update.ContractID != nil {
		cfg.ContractID = *update.ContractID
	}
	if update.TokenDecimals != nil {
		cfg.TokenDecimals = *update.TokenDecimals
	}
	if update.StartTimestamp != nil {
		cfg.StartTimestamp = *update.StartTimestamp
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.BadRequestError(err, err.Error())
	}

	if err := p.store.UpdateListenerConfig(ctx, cfg, p.clock.Now()); err != nil {
		return nil, storeError(err)
	}
	p.logger.Info("Blockchain event listener config updated",
		zap.String("mirror_node_url", cfg.MirrorNodeURL),
		zap.String("contract_id", cfg.ContractID),
		zap.String("start_timestamp", cfg.StartTimestamp))

	if p.Running() {
		p.mu.Lock()
		base := p.baseCtx
		p.mu.Unlock()
		p.Restart(base)
	}
	return cfg, nil
}

// EnsureConfig seeds the stored settings from defaults while no contract has
// been configured yet.
func (p *Poller) EnsureConfig(ctx context.Context, defaults *payout.BlockchainEventListenerConfig) error {
	cfg, err := p.store.GetListenerConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load listener config: %w", err)
	}
	if cfg.ContractID != "" || defaults.ContractID == "" {
		return nil
	}
	cfg.MirrorNodeURL = defaults.MirrorNodeURL
	cfg.ContractID = defaults.ContractID
	cfg.TokenDecimals = defaults.TokenDecimals
	if cfg.StartTimestamp == "" {
		cfg.StartTimestamp = defaults.StartTimestamp
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid listener defaults: %w", err)
	}
	if err := p.store.UpdateListenerConfig(ctx, cfg, p.clock.Now()); err != nil {
		return fmt.Errorf("failed to seed listener config: %w", err)
	}
	return nil
}

// decodeLog turns a Transfer or Approval log into an event. Other logs of the
// contract yield nil.
func decodeLog(cfg *payout.BlockchainEventListenerConfig, l mirror.ContractLog, now time.Time) (*payout.BlockchainEvent, error) {
	if len(l.Topics) == 0 {
		return nil, nil
	}
	var typ payout.BlockchainEventType
	switch common.HexToHash(l.Topics[0]) {
	case transferTopic:
		typ = payout.BlockchainEventTransfer
	case approvalTopic:
		typ = payout.BlockchainEventApproval
	default:
		return nil, nil
	}
	if len(l.Topics) < 3 {
		return nil, fmt.Errorf("%s log has %d topics", typ, len(l.Topics))
	}

	from := common.HexToAddress(l.Topics[1]).Hex()
	to := common.HexToAddress(l.Topics[2]).Hex()
	raw := new(big.Int).SetBytes(common.FromHex(l.Data))

	contractID := l.ContractID
	if contractID == "" {
		contractID = cfg.ContractID
	}
	return payout.NewBlockchainEvent(typ, contractID, from, to,
		payout.ScaleAmount(raw, cfg.TokenDecimals),
		l.Timestamp, l.Index, l.TransactionHash, now)
}

func storeError(err error) error {
	switch {
	case errors.Is(err, payout.ErrListenerNotFound):
		return apperrors.ResourceNotFoundError(err, err.Error())
	case errors.Is(err, payout.ErrListenerConfigConflict):
		return apperrors.ConflictError(err, err.Error())
	}
	return err
}
