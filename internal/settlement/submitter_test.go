package settlement

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/darkpool-adapter/pkg/model"
)

type fakeChain struct {
	mu       sync.Mutex
	chainID  int64
	nonce    uint64
	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt
	sendErr  error
	estimate uint64
	lookups  int
}

func newFakeChain() *fakeChain {
	return &fakeChain{chainID: 42161, nonce: 7, estimate: 210_000, receipts: map[common.Hash]*types.Receipt{}}
}

func (f *fakeChain) ChainID(context.Context) (*big.Int, error) { return big.NewInt(f.chainID), nil }
func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}
func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(100), nil }
func (f *fakeChain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(3), nil
}
func (f *fakeChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return f.estimate, nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeChain) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if r, ok := f.receipts[h]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func newTestSubmitter(t *testing.T, chain *fakeChain) *Submitter {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s := New(chain, key, nil)
	s.pollInterval = 5 * time.Millisecond
	return s
}

func settlementTx() model.SettlementTx {
	to := common.HexToAddress("0x30bd8eab29181f790d7e495786d4b96d7afdc518")
	return model.SettlementTx{To: &to, Input: hexutil.Bytes{0xde, 0xad, 0xbe, 0xef}}
}

// ─── Submit ───────────────────────────────────────────────────────────────────

func TestSubmit_FillsFromNodeAndSigns(t *testing.T) {
	chain := newFakeChain()
	s := newTestSubmitter(t, chain)

	hash, err := s.Submit(context.Background(), settlementTx())
	require.NoError(t, err)
	require.Len(t, chain.sent, 1)

	tx := chain.sent[0]
	assert.Equal(t, hash, tx.Hash())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(210_000), tx.Gas())
	assert.Equal(t, int64(3), tx.GasTipCap().Int64())
	assert.Equal(t, int64(203), tx.GasFeeCap().Int64())
	assert.Equal(t, int64(42161), tx.ChainId().Int64())
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, tx.Data())

	sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), sender)
}

func TestSubmit_UsesBundleFields(t *testing.T) {
	chain := newFakeChain()
	s := newTestSubmitter(t, chain)

	tx := settlementTx()
	gas, nonce := hexutil.Uint64(500_000), hexutil.Uint64(11)
	tx.Gas, tx.Nonce = &gas, &nonce
	tx.MaxFeePerGas = (*hexutil.Big)(big.NewInt(1_000))
	tx.MaxPriorityFeePerGas = (*hexutil.Big)(big.NewInt(10))
	tx.ChainID = (*hexutil.Big)(big.NewInt(421614))
	tx.Value = (*hexutil.Big)(big.NewInt(5_000))

	_, err := s.Submit(context.Background(), tx)
	require.NoError(t, err)

	sent := chain.sent[0]
	assert.Equal(t, uint64(500_000), sent.Gas())
	assert.Equal(t, uint64(11), sent.Nonce())
	assert.Equal(t, int64(1_000), sent.GasFeeCap().Int64())
	assert.Equal(t, int64(10), sent.GasTipCap().Int64())
	assert.Equal(t, int64(421614), sent.ChainId().Int64())
	assert.Equal(t, int64(5_000), sent.Value().Int64())
}

func TestSubmit_RejectsForeignSender(t *testing.T) {
	chain := newFakeChain()
	s := newTestSubmitter(t, chain)

	tx := settlementTx()
	other := common.HexToAddress("0x1111111111111111111111111111111111111111")
	tx.From = &other

	_, err := s.Submit(context.Background(), tx)
	require.ErrorIs(t, err, ErrSenderMismatch)
	assert.Empty(t, chain.sent)
}

func TestSubmit_SendError(t *testing.T) {
	chain := newFakeChain()
	chain.sendErr = errors.New("nonce too low")
	s := newTestSubmitter(t, chain)

	_, err := s.Submit(context.Background(), settlementTx())
	assert.ErrorContains(t, err, "nonce too low")
}

func TestSubmit_NoTarget(t *testing.T) {
	s := newTestSubmitter(t, newFakeChain())
	_, err := s.Submit(context.Background(), model.SettlementTx{})
	assert.Error(t, err)
}

// ─── WaitMined ────────────────────────────────────────────────────────────────

func TestWaitMined_Success(t *testing.T) {
	chain := newFakeChain()
	s := newTestSubmitter(t, chain)
	hash := common.HexToHash("0xabc")

	go func() {
		time.Sleep(20 * time.Millisecond)
		chain.mu.Lock()
		chain.receipts[hash] = &types.Receipt{Status: types.ReceiptStatusSuccessful, GasUsed: 180_000}
		chain.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	receipt, err := s.WaitMined(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, uint64(180_000), receipt.GasUsed)
}

func TestWaitMined_Reverted(t *testing.T) {
	chain := newFakeChain()
	hash := common.HexToHash("0xdef")
	chain.receipts[hash] = &types.Receipt{Status: types.ReceiptStatusFailed}
	s := newTestSubmitter(t, chain)

	_, err := s.WaitMined(context.Background(), hash)
	require.ErrorIs(t, err, ErrReverted)
}

func TestWaitMined_ContextDeadline(t *testing.T) {
	s := newTestSubmitter(t, newFakeChain())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := s.WaitMined(ctx, common.HexToHash("0x1"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
