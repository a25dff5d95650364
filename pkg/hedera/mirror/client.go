// Package mirror is a rate limited client for the Hedera mirror node REST API.
package mirror

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hashgraph/mass-payout/pkg/config"
	"github.com/hashgraph/mass-payout/pkg/payout"
)

// ErrNotFound is returned when the mirror node answers 404.
var ErrNotFound = errors.New("mirror node resource not found")

// hederaTransactionHashLen is the size of a SHA-384 transaction hash.
const hederaTransactionHashLen = 48

// TransactionHash is the result of a parent transaction hash lookup.
type TransactionHash struct {
	Hash             string
	IsFromMirrorNode bool
}

// ContractLog is one EVM log emitted by a contract.
type ContractLog struct {
	Address         string   `json:"address"`
	ContractID      string   `json:"contract_id"`
	Data            string   `json:"data"`
	Index           int      `json:"index"`
	Topics          []string `json:"topics"`
	Timestamp       string   `json:"timestamp"`
	TransactionHash string   `json:"transaction_hash"`
}

type transactionsResponse struct {
	Transactions []struct {
		TransactionID      string `json:"transaction_id"`
		TransactionHash    string `json:"transaction_hash"`
		ConsensusTimestamp string `json:"consensus_timestamp"`
		Nonce              int    `json:"nonce"`
		Scheduled          bool   `json:"scheduled"`
	} `json:"transactions"`
}

type contractResultResponse struct {
	Hash      string `json:"hash"`
	Timestamp string `json:"timestamp"`
}

type entityResponse struct {
	Account    string `json:"account"`
	ContractID string `json:"contract_id"`
	EvmAddress string `json:"evm_address"`
}

type logsResponse struct {
	Logs  []ContractLog `json:"logs"`
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
}

// Client talks to the mirror node. Address translations are cached for the
// lifetime of the client since entity ids and their EVM aliases never change.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger

	mu          sync.RWMutex
	evmByHedera map[string]string
	hederaByEvm map[string]string
}

// NewClient creates a mirror node client.
func NewClient(cfg *config.MirrorNodeConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL:     strings.TrimRight(cfg.URL, "/"),
		httpClient:  &http.Client{Timeout: cfg.RequestTimeout},
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:      logger,
		evmByHedera: make(map[string]string),
		hederaByEvm: make(map[string]string),
	}
}

// GetParentHederaTransactionHash returns the hash of the parent (nonce 0)
// transaction for txID as 0x + 96 hex. Lookup failures are not errors: the
// result is empty with IsFromMirrorNode unset.
func (c *Client) GetParentHederaTransactionHash(ctx context.Context, txID string) TransactionHash {
	mirrorID, err := ToMirrorTransactionID(txID)
	if err != nil {
		c.logger.Warn("Invalid transaction id for hash lookup", zap.String("transaction_id", txID), zap.Error(err))
		return TransactionHash{}
	}

	var resp transactionsResponse
	if err := c.getJSON(ctx, "/api/v1/transactions/"+mirrorID, nil, &resp); err != nil {
		c.logger.Warn("Failed to fetch transaction from mirror node",
			zap.String("transaction_id", txID), zap.Error(err))
		return TransactionHash{}
	}
	if len(resp.Transactions) == 0 {
		c.logger.Warn("Mirror node returned no transactions", zap.String("transaction_id", txID))
		return TransactionHash{}
	}

	parent := resp.Transactions[0]
	for _, tx := range resp.Transactions {
		if tx.Nonce == 0 && !tx.Scheduled {
			parent = tx
			break
		}
	}

	hash, err := base64ToHex(parent.TransactionHash)
	if err != nil {
		c.logger.Warn("Malformed transaction hash from mirror node",
			zap.String("transaction_id", txID), zap.Error(err))
		return TransactionHash{}
	}
	return TransactionHash{Hash: hash, IsFromMirrorNode: true}
}

// GetTransactionIDByEvmHash resolves an EVM transaction hash to a Hedera
// transaction id in shard.realm.num@seconds.nanos form.
func (c *Client) GetTransactionIDByEvmHash(ctx context.Context, evmHash string) (string, error) {
	var result contractResultResponse
	if err := c.getJSON(ctx, "/api/v1/contracts/results/"+evmHash, nil, &result); err != nil {
		return "", fmt.Errorf("failed to get contract result %s: %w", evmHash, err)
	}
	if result.Timestamp == "" {
		return "", fmt.Errorf("contract result %s has no consensus timestamp", evmHash)
	}

	var txs transactionsResponse
	query := url.Values{"timestamp": []string{result.Timestamp}}
	if err := c.getJSON(ctx, "/api/v1/transactions", query, &txs); err != nil {
		return "", fmt.Errorf("failed to get transaction at %s: %w", result.Timestamp, err)
	}
	if len(txs.Transactions) == 0 {
		return "", fmt.Errorf("%w: no transaction at %s", ErrNotFound, result.Timestamp)
	}
	return FromMirrorTransactionID(txs.Transactions[0].TransactionID)
}

// GetEvmAddressFromHedera returns the EVM address of an account or contract.
// Entities without an alias resolve to their long-zero address.
func (c *Client) GetEvmAddressFromHedera(ctx context.Context, hederaID string) (string, error) {
	if err := payout.ValidateHederaAddress(hederaID); err != nil {
		return "", err
	}
	if addr, ok := c.cached(c.evmByHedera, hederaID); ok {
		return addr, nil
	}

	entity, err := c.lookupEntity(ctx, hederaID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve evm address of %s: %w", hederaID, err)
	}

	addr := entity.EvmAddress
	if addr == "" || payout.ValidateEvmAddress(addr) != nil {
		if addr, err = payout.HederaIDToLongZero(hederaID); err != nil {
			return "", err
		}
	}
	addr = payout.NormalizeEvmAddress(addr)
	c.remember(hederaID, addr)
	return addr, nil
}

// GetHederaAddressFromEvm returns the entity id behind an EVM address.
// Long-zero addresses are decoded locally.
func (c *Client) GetHederaAddressFromEvm(ctx context.Context, evmAddress string) (string, error) {
	if err := payout.ValidateEvmAddress(evmAddress); err != nil {
		return "", err
	}
	evmAddress = payout.NormalizeEvmAddress(evmAddress)
	if payout.IsLongZeroAddress(evmAddress) {
		return payout.LongZeroToHederaID(evmAddress)
	}
	if id, ok := c.cached(c.hederaByEvm, evmAddress); ok {
		return id, nil
	}

	entity, err := c.lookupEntity(ctx, evmAddress)
	if err != nil {
		return "", fmt.Errorf("failed to resolve hedera id of %s: %w", evmAddress, err)
	}

	id := entity.Account
	if id == "" {
		id = entity.ContractID
	}
	if err := payout.ValidateHederaAddress(id); err != nil {
		return "", err
	}
	c.remember(id, evmAddress)
	return id, nil
}

// GetContractLogs returns logs of contractID with a consensus timestamp
// strictly after fromTimestamp, oldest first. It reads one page of limit logs;
// when the page is full, the logs sharing the last timestamp are completed
// from the following pages, so the result may exceed limit and every
// timestamp in it is complete.
func (c *Client) GetContractLogs(ctx context.Context, contractID, fromTimestamp string, limit int) ([]ContractLog, error) {
	query := url.Values{
		"order": []string{"asc"},
		"limit": []string{strconv.Itoa(limit)},
	}
	if fromTimestamp != "" {
		query.Set("timestamp", "gt:"+fromTimestamp)
	}

	var resp logsResponse
	if err := c.getJSON(ctx, "/api/v1/contracts/"+contractID+"/results/logs", query, &resp); err != nil {
		return nil, fmt.Errorf("failed to get logs for contract %s: %w", contractID, err)
	}
	logs := resp.Logs
	if len(logs) == 0 || len(logs) < limit {
		return logs, nil
	}

	boundary := logs[len(logs)-1].Timestamp
	for next := resp.Links.Next; next != ""; {
		var page logsResponse
		if err := c.getLink(ctx, next, &page); err != nil {
			return nil, fmt.Errorf("failed to get logs for contract %s at %s: %w", contractID, boundary, err)
		}
		for _, l := range page.Logs {
			if l.Timestamp != boundary {
				return logs, nil
			}
			logs = append(logs, l)
		}
		next = page.Links.Next
	}
	return logs, nil
}

// getLink follows a links.next value, which the mirror node returns as an
// absolute path with its query.
func (c *Client) getLink(ctx context.Context, link string, out any) error {
	u, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("invalid next link %q: %w", link, err)
	}
	return c.getJSON(ctx, u.Path, u.Query(), out)
}

func (c *Client) lookupEntity(ctx context.Context, idOrAddress string) (*entityResponse, error) {
	var entity entityResponse
	err := c.getJSON(ctx, "/api/v1/accounts/"+idOrAddress, nil, &entity)
	if errors.Is(err, ErrNotFound) {
		err = c.getJSON(ctx, "/api/v1/contracts/"+idOrAddress, nil, &entity)
	}
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

func (c *Client) cached(m map[string]string, key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := m[key]
	return v, ok
}

func (c *Client) remember(hederaID, evmAddress string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evmByHedera[hederaID] = evmAddress
	c.hederaByEvm[evmAddress] = hederaID
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("mirror node rate limit wait: %w", err)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call mirror node: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("mirror node returned status %d for %s: %s", resp.StatusCode, path, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode mirror node response: %w", err)
	}
	return nil
}

// ToMirrorTransactionID converts shard.realm.num@secs.nanos into the
// shard.realm.num-secs-nanos form used in mirror node paths.
func ToMirrorTransactionID(txID string) (string, error) {
	if err := payout.ValidateHederaTransactionID(txID); err != nil || txID == "" {
		return "", fmt.Errorf("%w: %q", payout.ErrBatchPayoutHederaTransactionIDInvalid, txID)
	}
	account, validStart, _ := strings.Cut(txID, "@")
	return account + "-" + strings.Replace(validStart, ".", "-", 1), nil
}

// FromMirrorTransactionID converts shard.realm.num-secs-nanos into
// shard.realm.num@secs.nanos.
func FromMirrorTransactionID(mirrorID string) (string, error) {
	parts := strings.Split(mirrorID, "-")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: %q", payout.ErrBatchPayoutHederaTransactionIDInvalid, mirrorID)
	}
	txID := parts[0] + "@" + parts[1] + "." + parts[2]
	if err := payout.ValidateHederaTransactionID(txID); err != nil {
		return "", err
	}
	return txID, nil
}

func base64ToHex(b64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("failed to decode transaction hash: %w", err)
	}
	if len(raw) != hederaTransactionHashLen {
		return "", fmt.Errorf("transaction hash has %d bytes, want %d", len(raw), hederaTransactionHashLen)
	}
	return "0x" + hex.EncodeToString(raw), nil
}
