package hedera

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hashgraph/mass-payout/pkg/config"
	"github.com/hashgraph/mass-payout/pkg/hedera/mirror"
	"github.com/hashgraph/mass-payout/pkg/payout"
)

const (
	lccAddress   = "0x00000000000000000000000000000000000010e1"
	assetAddress = "0x00000000000000000000000000000000000004d2"
	holderA      = "0x000000000000000000000000000000000000000a"
	holderB      = "0x000000000000000000000000000000000000000b"
	holderC      = "0x000000000000000000000000000000000000000c"
)

type fakeBackend struct {
	mu            sync.Mutex
	callFn        func(msg ethereum.CallMsg) ([]byte, error)
	gasPrice      *big.Int
	receiptStatus uint64
	receiptLogs   []*types.Log
	sent          []*types.Transaction
	calls         []ethereum.CallMsg
	// staleNonce makes the relay report nonce 0 whatever was sent
	staleNonce bool
	// receiptMissing makes every receipt lookup return ethereum.NotFound
	receiptMissing bool
	sendErr        error
	onSend         func()
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, msg)
	f.mu.Unlock()
	return f.callFn(msg)
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.staleNonce {
		return 0, nil
	}
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	if f.gasPrice == nil {
		return big.NewInt(100), nil
	}
	return f.gasPrice, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.onSend != nil {
		f.onSend()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiptMissing {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: f.receiptStatus, TxHash: hash, Logs: f.receiptLogs}, nil
}

type fakeResolver struct {
	txID string
	err  error
}

func (r *fakeResolver) GetTransactionIDByEvmHash(context.Context, string) (string, error) {
	return r.txID, r.err
}

func (r *fakeResolver) GetParentHederaTransactionHash(context.Context, string) mirror.TransactionHash {
	return mirror.TransactionHash{Hash: "0x" + common.Bytes2Hex(make([]byte, 48)), IsFromMirrorNode: true}
}

func newTestClient(t *testing.T, backend *fakeBackend, maxGasPrice string) *Client {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	client, err := NewClient(&config.HederaConfig{
		ChainID:        296,
		GasLimit:       1_000_000,
		MaxGasPrice:    maxGasPrice,
		ReceiptTimeout: time.Second,
	}, backend, key, zap.NewNop())
	require.NoError(t, err)
	return client
}

func packOutputs(t *testing.T, method string, values ...any) []byte {
	t.Helper()
	out, err := lifeCycleCashFlowABI.Methods[method].Outputs.Pack(values...)
	require.NoError(t, err)
	return out
}

func TestExecuteDistribution_PartialFailure(t *testing.T) {
	backend := &fakeBackend{receiptStatus: types.ReceiptStatusSuccessful}
	backend.callFn = func(ethereum.CallMsg) ([]byte, error) {
		return packOutputs(t, "executeDistribution",
			[]common.Address{common.HexToAddress(holderB)},
			[]common.Address{common.HexToAddress(holderA), common.HexToAddress(holderC)},
			[]*big.Int{big.NewInt(10), big.NewInt(5)},
			true), nil
	}
	client := newTestClient(t, backend, "")
	lcc := NewLifeCycleCashFlow(client, &fakeResolver{txID: "0.0.98@1700000000.000000001"}, zap.NewNop())

	res, err := lcc.ExecuteDistribution(context.Background(), lccAddress, assetAddress, big.NewInt(3),
		payout.Pagination{PageIndex: 1, PageLength: 3})
	require.NoError(t, err)

	assert.Equal(t, []string{holderB}, res.Failed)
	assert.Equal(t, []string{holderA, holderC}, res.Succeeded)
	assert.Equal(t, big.NewInt(5), res.PaidAmount(holderC))
	assert.Nil(t, res.PaidAmount(holderB))
	assert.True(t, res.Executed)
	assert.Equal(t, "0.0.98@1700000000.000000001", res.TransactionID)
	assert.NoError(t, payout.ValidateHederaTransactionHash(res.TransactionHash))

	require.Len(t, backend.sent, 1)
	tx := backend.sent[0]
	assert.Equal(t, common.HexToAddress(lccAddress), *tx.To())
	assert.Equal(t, backend.calls[0].Data, tx.Data(), "the simulated call and the sent transaction carry the same payload")

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(296)), tx)
	require.NoError(t, err)
	assert.Equal(t, client.Address(), sender)
}

func TestExecute_NotExecutedSendsNothing(t *testing.T) {
	backend := &fakeBackend{receiptStatus: types.ReceiptStatusSuccessful}
	backend.callFn = func(ethereum.CallMsg) ([]byte, error) {
		return packOutputs(t, "executeDistributionByAddresses",
			[]common.Address{}, []common.Address{}, []*big.Int{}, false), nil
	}
	lcc := NewLifeCycleCashFlow(newTestClient(t, backend, ""), &fakeResolver{}, zap.NewNop())

	res, err := lcc.ExecuteDistributionByAddresses(context.Background(), lccAddress, assetAddress, big.NewInt(1), []string{holderA})
	require.NoError(t, err)
	assert.False(t, res.Executed)
	assert.Empty(t, backend.sent)
}

func TestExecute_RevertedReceipt(t *testing.T) {
	backend := &fakeBackend{receiptStatus: types.ReceiptStatusFailed}
	backend.callFn = func(ethereum.CallMsg) ([]byte, error) {
		return packOutputs(t, "executeAmountSnapshot",
			[]common.Address{}, []common.Address{common.HexToAddress(holderA)}, []*big.Int{big.NewInt(1)}, true), nil
	}
	lcc := NewLifeCycleCashFlow(newTestClient(t, backend, ""), &fakeResolver{}, zap.NewNop())

	_, err := lcc.ExecuteAmountSnapshot(context.Background(), lccAddress, assetAddress, big.NewInt(1),
		payout.Pagination{PageIndex: 0, PageLength: 10}, big.NewInt(1000))
	assert.ErrorIs(t, err, ErrTransactionReverted)
}

func TestExecute_MissingReceiptIsPending(t *testing.T) {
	backend := &fakeBackend{receiptMissing: true}
	backend.callFn = func(ethereum.CallMsg) ([]byte, error) {
		return packOutputs(t, "executeDistribution",
			[]common.Address{}, []common.Address{common.HexToAddress(holderA)}, []*big.Int{big.NewInt(4)}, true), nil
	}
	lcc := NewLifeCycleCashFlow(newTestClient(t, backend, ""), &fakeResolver{}, zap.NewNop())

	_, err := lcc.ExecuteDistribution(context.Background(), lccAddress, assetAddress, big.NewInt(1),
		payout.Pagination{PageIndex: 0, PageLength: 10})
	require.ErrorIs(t, err, payout.ErrTransactionPending)
	assert.NotErrorIs(t, err, ErrTransactionReverted)

	var pending *payout.PendingTransactionError
	require.ErrorAs(t, err, &pending)
	require.Len(t, backend.sent, 1)
	assert.Equal(t, backend.sent[0].Hash().Hex(), pending.TxHash)
	assert.Equal(t, "executeDistribution", pending.Method)
	require.NotNil(t, pending.Result)
	assert.Equal(t, []string{holderA}, pending.Result.Succeeded)
}

func TestExecute_ReceiptSurvivesCancelledContext(t *testing.T) {
	backend := &fakeBackend{receiptStatus: types.ReceiptStatusSuccessful}
	ctx, cancel := context.WithCancel(context.Background())
	// the caller gives up while the transaction is in flight
	backend.onSend = cancel
	backend.callFn = func(ethereum.CallMsg) ([]byte, error) {
		return packOutputs(t, "executeDistribution",
			[]common.Address{}, []common.Address{common.HexToAddress(holderA)}, []*big.Int{big.NewInt(4)}, true), nil
	}
	lcc := NewLifeCycleCashFlow(newTestClient(t, backend, ""), &fakeResolver{txID: "0.0.98@1700000000.000000001"}, zap.NewNop())

	res, err := lcc.ExecuteDistribution(ctx, lccAddress, assetAddress, big.NewInt(1),
		payout.Pagination{PageIndex: 0, PageLength: 10})
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)
	assert.Equal(t, backend.sent[0].Hash().Hex(), res.EvmTransactionHash)
}

func TestTransactionOutcome(t *testing.T) {
	backend := &fakeBackend{receiptMissing: true}
	lcc := NewLifeCycleCashFlow(newTestClient(t, backend, ""), &fakeResolver{txID: "0.0.98@1700000000.000000001"}, zap.NewNop())
	hash := common.HexToHash("0x01").Hex()

	outcome, err := lcc.TransactionOutcome(context.Background(), hash)
	require.NoError(t, err)
	assert.False(t, outcome.Mined)

	backend.mu.Lock()
	backend.receiptMissing = false
	backend.receiptStatus = types.ReceiptStatusSuccessful
	backend.mu.Unlock()

	outcome, err = lcc.TransactionOutcome(context.Background(), hash)
	require.NoError(t, err)
	assert.True(t, outcome.Mined)
	assert.False(t, outcome.Reverted)
	assert.Equal(t, "0.0.98@1700000000.000000001", outcome.TransactionID)

	backend.mu.Lock()
	backend.receiptStatus = types.ReceiptStatusFailed
	backend.mu.Unlock()

	outcome, err = lcc.TransactionOutcome(context.Background(), hash)
	require.NoError(t, err)
	assert.True(t, outcome.Reverted)
}

func TestTransact_ConcurrentSendsGetDistinctNonces(t *testing.T) {
	backend := &fakeBackend{receiptStatus: types.ReceiptStatusSuccessful, staleNonce: true}
	client := newTestClient(t, backend, "")

	const sends = 4
	var wg sync.WaitGroup
	errs := make(chan error, sends)
	for range sends {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.transact(context.Background(), "pause", common.HexToAddress(lccAddress), nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Len(t, backend.sent, sends)
	nonces := make([]uint64, 0, sends)
	for _, tx := range backend.sent {
		nonces = append(nonces, tx.Nonce())
	}
	assert.ElementsMatch(t, []uint64{0, 1, 2, 3}, nonces)
}

func TestTransact_FailedSendResyncsNonce(t *testing.T) {
	backend := &fakeBackend{receiptStatus: types.ReceiptStatusSuccessful}
	client := newTestClient(t, backend, "")
	ctx := context.Background()
	to := common.HexToAddress(lccAddress)

	_, err := client.transact(ctx, "pause", to, nil)
	require.NoError(t, err)

	backend.mu.Lock()
	backend.sendErr = errors.New("relay unavailable")
	backend.mu.Unlock()
	_, err = client.transact(ctx, "pause", to, nil)
	require.Error(t, err)

	backend.mu.Lock()
	backend.sendErr = nil
	backend.mu.Unlock()
	_, err = client.transact(ctx, "pause", to, nil)
	require.NoError(t, err)

	require.Len(t, backend.sent, 2)
	assert.Equal(t, uint64(1), backend.sent[1].Nonce())
}

func TestExecute_SimulationFailure(t *testing.T) {
	backend := &fakeBackend{}
	backend.callFn = func(ethereum.CallMsg) ([]byte, error) {
		return nil, errors.New("execution reverted")
	}
	lcc := NewLifeCycleCashFlow(newTestClient(t, backend, ""), &fakeResolver{}, zap.NewNop())

	_, err := lcc.ExecutePercentageSnapshotByAddresses(context.Background(), lccAddress, assetAddress, big.NewInt(1),
		[]string{holderA}, big.NewInt(1250))
	require.Error(t, err)
	assert.Empty(t, backend.sent)
}

func TestExecute_UnresolvedTransactionIDIsSoft(t *testing.T) {
	backend := &fakeBackend{receiptStatus: types.ReceiptStatusSuccessful}
	backend.callFn = func(ethereum.CallMsg) ([]byte, error) {
		return packOutputs(t, "executePercentageSnapshot",
			[]common.Address{}, []common.Address{common.HexToAddress(holderA)}, []*big.Int{big.NewInt(7)}, true), nil
	}
	lcc := NewLifeCycleCashFlow(newTestClient(t, backend, ""), &fakeResolver{err: mirror.ErrNotFound}, zap.NewNop())

	res, err := lcc.ExecutePercentageSnapshot(context.Background(), lccAddress, assetAddress, big.NewInt(1),
		payout.Pagination{PageIndex: 0, PageLength: 10}, big.NewInt(1250))
	require.NoError(t, err)
	assert.Empty(t, res.TransactionID)
	assert.Empty(t, res.TransactionHash)
}

func TestDecodeExecutionResult_MismatchedAmounts(t *testing.T) {
	raw := packOutputs(t, "executeDistribution",
		[]common.Address{}, []common.Address{common.HexToAddress(holderA)}, []*big.Int{}, true)
	_, err := decodeExecutionResult("executeDistribution", raw)
	assert.Error(t, err)
}

func TestPauseAndIsPaused(t *testing.T) {
	backend := &fakeBackend{receiptStatus: types.ReceiptStatusSuccessful}
	backend.callFn = func(ethereum.CallMsg) ([]byte, error) {
		return packOutputs(t, "isPaused", true), nil
	}
	lcc := NewLifeCycleCashFlow(newTestClient(t, backend, ""), &fakeResolver{}, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, lcc.Pause(ctx, lccAddress))
	require.NoError(t, lcc.Unpause(ctx, lccAddress))
	require.Len(t, backend.sent, 2)
	assert.Equal(t, uint64(1), backend.sent[1].Nonce())

	paused, err := lcc.IsPaused(ctx, lccAddress)
	require.NoError(t, err)
	assert.True(t, paused)
}

func TestGetTransactor_CapsGasPrice(t *testing.T) {
	backend := &fakeBackend{gasPrice: big.NewInt(5_000)}
	client := newTestClient(t, backend, "1000")

	opts, err := client.GetTransactor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000), opts.GasPrice)
	assert.Equal(t, uint64(1_000_000), opts.GasLimit)

	_, err = NewClient(&config.HederaConfig{MaxGasPrice: "lots"}, backend, client.privateKey, zap.NewNop())
	assert.Error(t, err)
}

func TestAssetToken_TakeSnapshot(t *testing.T) {
	backend := &fakeBackend{receiptStatus: types.ReceiptStatusSuccessful}
	client := newTestClient(t, backend, "")
	backend.receiptLogs = []*types.Log{{
		Topics: []common.Hash{
			assetTokenABI.Events["SnapshotTaken"].ID,
			common.BytesToHash(client.Address().Bytes()),
			common.BigToHash(big.NewInt(42)),
		},
	}}

	id, err := NewAssetToken(client).TakeSnapshot(context.Background(), assetAddress)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(42), id)

	backend.receiptLogs = nil
	_, err = NewAssetToken(client).TakeSnapshot(context.Background(), assetAddress)
	assert.Error(t, err)
}

func TestAssetToken_Reads(t *testing.T) {
	pack := func(method string, values ...any) []byte {
		out, err := assetTokenABI.Methods[method].Outputs.Pack(values...)
		require.NoError(t, err)
		return out
	}
	backend := &fakeBackend{}
	backend.callFn = func(msg ethereum.CallMsg) ([]byte, error) {
		method, err := assetTokenABI.MethodById(msg.Data[:4])
		require.NoError(t, err)
		switch method.Name {
		case "decimals":
			return pack(method.Name, uint8(6)), nil
		case "getTotalTokenHoldersAtSnapshot", "getTotalDividendHolders", "getDividendsCount":
			return pack(method.Name, big.NewInt(3)), nil
		case "getTokenHoldersAtSnapshot", "getDividendHolders":
			return pack(method.Name, []common.Address{common.HexToAddress(holderA), common.HexToAddress(holderB)}), nil
		case "balanceOfAtSnapshot":
			return pack(method.Name, big.NewInt(1_000_000)), nil
		case "getDividends":
			return pack(method.Name, big.NewInt(1700000000), big.NewInt(1800000000), big.NewInt(250), uint8(2), big.NewInt(9)), nil
		}
		return nil, errors.New("unexpected method " + method.Name)
	}
	token := NewAssetToken(newTestClient(t, backend, ""))
	ctx := context.Background()
	page := payout.Pagination{PageIndex: 0, PageLength: 2}

	decimals, err := token.Decimals(ctx, assetAddress)
	require.NoError(t, err)
	assert.Equal(t, int32(6), decimals)

	total, err := token.TotalTokenHoldersAtSnapshot(ctx, assetAddress, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	holders, err := token.TokenHoldersAtSnapshot(ctx, assetAddress, big.NewInt(1), page)
	require.NoError(t, err)
	assert.Equal(t, []string{holderA, holderB}, holders)

	balance, err := token.BalanceOfAtSnapshot(ctx, assetAddress, big.NewInt(1), holderA)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_000_000), balance)

	count, err := token.DividendsCount(ctx, assetAddress)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	dividend, err := token.Dividend(ctx, assetAddress, big.NewInt(2))
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1800000000, 0).UTC(), dividend.ExecutionDate)
	assert.Equal(t, int32(2), dividend.AmountDecimals)
	assert.Equal(t, big.NewInt(9), dividend.SnapshotID)

	total, err = token.TotalDividendHolders(ctx, assetAddress, big.NewInt(2))
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	holders, err = token.DividendHolders(ctx, assetAddress, big.NewInt(2), page)
	require.NoError(t, err)
	assert.Len(t, holders, 2)
}
