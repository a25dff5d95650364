package payout

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var consensusTimestampPattern = regexp.MustCompile(`^\d+(\.\d{1,9})?$`)

// BlockchainEventListenerConfig is the process-wide poller state. There is one
// row per deployment; StartTimestamp is the cursor of the last processed log.
type BlockchainEventListenerConfig struct {
	MirrorNodeURL  string
	ContractID     string
	TokenDecimals  int32
	StartTimestamp string
	// Version guards optimistic updates of the cursor.
	Version int64
	Timestamps
}

// Validate checks the contract id, decimals and cursor format.
func (c *BlockchainEventListenerConfig) Validate() error {
	if c.ContractID != "" {
		if err := ValidateHederaAddress(c.ContractID); err != nil {
			return err
		}
	}
	if c.TokenDecimals < 0 {
		return ErrInvalidTokenDecimals
	}
	if c.StartTimestamp != "" && !consensusTimestampPattern.MatchString(c.StartTimestamp) {
		return fmt.Errorf("%w: start timestamp %q", ErrInvalidTimestamps, c.StartTimestamp)
	}
	return c.Timestamps.Validate()
}

// Advance moves the cursor forward. Older or equal timestamps are ignored and
// reported as false.
func (c *BlockchainEventListenerConfig) Advance(ts string, now time.Time) bool {
	if ts == "" || CompareConsensusTimestamps(ts, c.StartTimestamp) <= 0 {
		return false
	}
	c.StartTimestamp = ts
	c.Touch(now)
	return true
}

// CompareConsensusTimestamps orders two seconds.nanos strings. An empty value
// sorts first.
func CompareConsensusTimestamps(a, b string) int {
	as, an := splitConsensusTimestamp(a)
	bs, bn := splitConsensusTimestamp(b)
	if c := as.Cmp(bs); c != 0 {
		return c
	}
	return an.Cmp(bn)
}

func splitConsensusTimestamp(ts string) (*big.Int, *big.Int) {
	secs, nanos, _ := strings.Cut(ts, ".")
	s, ok := new(big.Int).SetString(secs, 10)
	if !ok {
		s = big.NewInt(-1)
	}
	// right-pad so "1.5" and "1.500000000" compare equal
	nanos = (nanos + "000000000")[:9]
	n, ok := new(big.Int).SetString(nanos, 10)
	if !ok {
		n = big.NewInt(0)
	}
	return s, n
}

// BlockchainEventType is the kind of token log ingested by the poller.
type BlockchainEventType string

const (
	BlockchainEventTransfer BlockchainEventType = "TRANSFER"
	BlockchainEventApproval BlockchainEventType = "APPROVAL"
)

// BlockchainEvent is one decoded Transfer or Approval log of the payment token.
// (ConsensusTimestamp, LogIndex) identifies it.
type BlockchainEvent struct {
	ID                 string
	Type               BlockchainEventType
	ContractID         string
	From               string
	To                 string
	Amount             decimal.Decimal
	ConsensusTimestamp string
	LogIndex           int
	TransactionHash    string
	Timestamps
}

// NewBlockchainEvent validates and creates an event record.
func NewBlockchainEvent(
	typ BlockchainEventType,
	contractID, from, to string,
	amount decimal.Decimal,
	consensusTimestamp string,
	logIndex int,
	txHash string,
	now time.Time,
) (*BlockchainEvent, error) {
	switch typ {
	case BlockchainEventTransfer, BlockchainEventApproval:
	default:
		return nil, fmt.Errorf("unknown blockchain event type %q", typ)
	}
	if err := ValidateEvmAddress(from); err != nil {
		return nil, err
	}
	if err := ValidateEvmAddress(to); err != nil {
		return nil, err
	}
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	if !consensusTimestampPattern.MatchString(consensusTimestamp) {
		return nil, fmt.Errorf("%w: consensus timestamp %q", ErrInvalidTimestamps, consensusTimestamp)
	}
	return &BlockchainEvent{
		ID:                 newID(),
		Type:               typ,
		ContractID:         contractID,
		From:               NormalizeEvmAddress(from),
		To:                 NormalizeEvmAddress(to),
		Amount:             amount,
		ConsensusTimestamp: consensusTimestamp,
		LogIndex:           logIndex,
		TransactionHash:    txHash,
		Timestamps:         newTimestamps(now),
	}, nil
}
