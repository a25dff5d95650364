package hedera

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hashgraph/mass-payout/pkg/payout"
)

// AssetToken reads holder snapshots and corporate actions from an asset token.
type AssetToken struct {
	client *Client
}

// NewAssetToken creates the asset token reader.
func NewAssetToken(client *Client) *AssetToken {
	return &AssetToken{client: client}
}

// TakeSnapshot records the current balances and returns the snapshot id
// emitted in SnapshotTaken.
func (a *AssetToken) TakeSnapshot(ctx context.Context, token string) (*big.Int, error) {
	data, err := assetTokenABI.Pack("takeSnapshot")
	if err != nil {
		return nil, fmt.Errorf("failed to pack takeSnapshot: %w", err)
	}
	receipt, err := a.client.transact(ctx, "takeSnapshot", common.HexToAddress(token), data)
	if err != nil {
		return nil, fmt.Errorf("failed to take snapshot of %s: %w", token, err)
	}

	eventID := assetTokenABI.Events["SnapshotTaken"].ID
	for _, log := range receipt.Logs {
		if len(log.Topics) == 3 && log.Topics[0] == eventID {
			return new(big.Int).SetBytes(log.Topics[2].Bytes()), nil
		}
	}
	return nil, fmt.Errorf("snapshot of %s emitted no SnapshotTaken event", token)
}

// Decimals returns the token's decimals.
func (a *AssetToken) Decimals(ctx context.Context, token string) (int32, error) {
	var decimals uint8
	if err := a.read(ctx, token, "decimals", &decimals); err != nil {
		return 0, err
	}
	return int32(decimals), nil
}

// TotalTokenHoldersAtSnapshot returns the number of holders recorded in a snapshot.
func (a *AssetToken) TotalTokenHoldersAtSnapshot(ctx context.Context, token string, snapshotID *big.Int) (int, error) {
	var total *big.Int
	if err := a.read(ctx, token, "getTotalTokenHoldersAtSnapshot", &total, snapshotID); err != nil {
		return 0, err
	}
	return int(total.Int64()), nil
}

// TokenHoldersAtSnapshot returns one page of snapshot holders.
func (a *AssetToken) TokenHoldersAtSnapshot(ctx context.Context, token string, snapshotID *big.Int, page payout.Pagination) ([]string, error) {
	var holders []common.Address
	if err := a.read(ctx, token, "getTokenHoldersAtSnapshot", &holders, snapshotID, pageIndex(page), pageLength(page)); err != nil {
		return nil, err
	}
	return fromAddresses(holders), nil
}

// BalanceOfAtSnapshot returns a holder's raw balance in a snapshot.
func (a *AssetToken) BalanceOfAtSnapshot(ctx context.Context, token string, snapshotID *big.Int, holder string) (*big.Int, error) {
	var balance *big.Int
	if err := a.read(ctx, token, "balanceOfAtSnapshot", &balance, snapshotID, common.HexToAddress(holder)); err != nil {
		return nil, err
	}
	return balance, nil
}

// DividendsCount returns how many dividends are registered on the token.
// Dividend ids run from 1 to the count.
func (a *AssetToken) DividendsCount(ctx context.Context, token string) (int, error) {
	var count *big.Int
	if err := a.read(ctx, token, "getDividendsCount", &count); err != nil {
		return 0, err
	}
	return int(count.Int64()), nil
}

// Dividend reads one registered dividend.
func (a *AssetToken) Dividend(ctx context.Context, token string, dividendID *big.Int) (*payout.Dividend, error) {
	data, err := assetTokenABI.Pack("getDividends", dividendID)
	if err != nil {
		return nil, fmt.Errorf("failed to pack getDividends: %w", err)
	}
	raw, err := a.client.call(ctx, common.HexToAddress(token), data)
	if err != nil {
		return nil, fmt.Errorf("failed to call getDividends on %s: %w", token, err)
	}

	var out struct {
		RecordDate     *big.Int
		ExecutionDate  *big.Int
		Amount         *big.Int
		AmountDecimals uint8
		SnapshotId     *big.Int
	}
	if err := assetTokenABI.UnpackIntoInterface(&out, "getDividends", raw); err != nil {
		return nil, fmt.Errorf("failed to unpack getDividends: %w", err)
	}

	return &payout.Dividend{
		ID:             dividendID,
		RecordDate:     time.Unix(out.RecordDate.Int64(), 0).UTC(),
		ExecutionDate:  time.Unix(out.ExecutionDate.Int64(), 0).UTC(),
		Amount:         out.Amount,
		AmountDecimals: int32(out.AmountDecimals),
		SnapshotID:     out.SnapshotId,
	}, nil
}

// TotalDividendHolders returns the number of holders entitled to a dividend.
func (a *AssetToken) TotalDividendHolders(ctx context.Context, token string, dividendID *big.Int) (int, error) {
	var total *big.Int
	if err := a.read(ctx, token, "getTotalDividendHolders", &total, dividendID); err != nil {
		return 0, err
	}
	return int(total.Int64()), nil
}

// DividendHolders returns one page of holders entitled to a dividend.
func (a *AssetToken) DividendHolders(ctx context.Context, token string, dividendID *big.Int, page payout.Pagination) ([]string, error) {
	var holders []common.Address
	if err := a.read(ctx, token, "getDividendHolders", &holders, dividendID, pageIndex(page), pageLength(page)); err != nil {
		return nil, err
	}
	return fromAddresses(holders), nil
}

// read calls a single-output view method and stores the result in out.
func (a *AssetToken) read(ctx context.Context, token, method string, out any, args ...any) error {
	data, err := assetTokenABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("failed to pack %s: %w", method, err)
	}
	raw, err := a.client.call(ctx, common.HexToAddress(token), data)
	if err != nil {
		return fmt.Errorf("failed to call %s on %s: %w", method, token, err)
	}
	if err := assetTokenABI.UnpackIntoInterface(out, method, raw); err != nil {
		return fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return nil
}
