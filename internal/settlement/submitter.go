package settlement

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/Checker-Finance/darkpool-adapter/internal/metrics"
	"github.com/Checker-Finance/darkpool-adapter/pkg/model"
)

var (
	// ErrReverted is returned when a settlement transaction is mined but failed.
	ErrReverted = errors.New("settlement transaction reverted")
	// ErrSenderMismatch is returned when the bundle names a different sender
	// than the configured key.
	ErrSenderMismatch = errors.New("settlement tx sender does not match signing key")
)

// ChainClient is the subset of ethclient.Client used to settle bundles.
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Submitter signs settlement transactions with a local key and broadcasts them.
type Submitter struct {
	client       ChainClient
	key          *ecdsa.PrivateKey
	from         common.Address
	logger       *zap.Logger
	pollInterval time.Duration
}

// Dial connects to rpcURL and returns a Submitter signing with the hex
// encoded private key.
func Dial(ctx context.Context, rpcURL, hexKey string, logger *zap.Logger) (*Submitter, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse settlement key: %w", err)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return New(client, key, logger), nil
}

func New(client ChainClient, key *ecdsa.PrivateKey, logger *zap.Logger) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{
		client:       client,
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		logger:       logger,
		pollInterval: 2 * time.Second,
	}
}

// Address is the account settlement transactions are sent from.
func (s *Submitter) Address() common.Address { return s.from }

// Submit signs tx and broadcasts it. Fields the relayer left empty (nonce,
// gas, fees, chain id) are filled from the node.
func (s *Submitter) Submit(ctx context.Context, tx model.SettlementTx) (common.Hash, error) {
	if tx.To == nil {
		return common.Hash{}, fmt.Errorf("settlement tx has no target")
	}
	if tx.From != nil && *tx.From != s.from {
		return common.Hash{}, fmt.Errorf("%w: bundle %s, key %s", ErrSenderMismatch, tx.From.Hex(), s.from.Hex())
	}

	signed, err := s.build(ctx, tx)
	if err != nil {
		metrics.IncError("settlement", "build_failed")
		return common.Hash{}, err
	}
	if err := s.client.SendTransaction(ctx, signed); err != nil {
		metrics.IncError("settlement", "send_failed")
		s.logger.Error("settlement.send_failed", zap.Error(err))
		return common.Hash{}, fmt.Errorf("send settlement tx: %w", err)
	}

	s.logger.Info("settlement.submitted",
		zap.String("tx_hash", signed.Hash().Hex()),
		zap.String("to", tx.To.Hex()),
		zap.Uint64("nonce", signed.Nonce()),
		zap.Uint64("gas", signed.Gas()))
	return signed.Hash(), nil
}

func (s *Submitter) build(ctx context.Context, tx model.SettlementTx) (*types.Transaction, error) {
	chainID, err := s.chainID(ctx, tx)
	if err != nil {
		return nil, err
	}

	value := new(big.Int)
	if tx.Value != nil {
		value = tx.Value.ToInt()
	}
	data := tx.Calldata()

	var nonce uint64
	if tx.Nonce != nil {
		nonce = uint64(*tx.Nonce)
	} else if nonce, err = s.client.PendingNonceAt(ctx, s.from); err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}

	tip, err := s.tipCap(ctx, tx)
	if err != nil {
		return nil, err
	}
	feeCap, err := s.feeCap(ctx, tx, tip)
	if err != nil {
		return nil, err
	}

	var gas uint64
	if tx.Gas != nil {
		gas = uint64(*tx.Gas)
	} else {
		gas, err = s.client.EstimateGas(ctx, ethereum.CallMsg{
			From:      s.from,
			To:        tx.To,
			GasFeeCap: feeCap,
			GasTipCap: tip,
			Value:     value,
			Data:      data,
		})
		if err != nil {
			return nil, fmt.Errorf("estimate gas: %w", err)
		}
	}

	unsigned := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        tx.To,
		Value:     value,
		Data:      data,
	})
	signed, err := types.SignTx(unsigned, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign settlement tx: %w", err)
	}
	return signed, nil
}

func (s *Submitter) chainID(ctx context.Context, tx model.SettlementTx) (*big.Int, error) {
	if tx.ChainID != nil {
		return tx.ChainID.ToInt(), nil
	}
	id, err := s.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	return id, nil
}

func (s *Submitter) tipCap(ctx context.Context, tx model.SettlementTx) (*big.Int, error) {
	if tx.MaxPriorityFeePerGas != nil {
		return tx.MaxPriorityFeePerGas.ToInt(), nil
	}
	tip, err := s.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest tip: %w", err)
	}
	return tip, nil
}

// feeCap uses the bundle's max fee, then its legacy gas price, then twice
// the node's suggested price plus the tip.
func (s *Submitter) feeCap(ctx context.Context, tx model.SettlementTx, tip *big.Int) (*big.Int, error) {
	switch {
	case tx.MaxFeePerGas != nil:
		return tx.MaxFeePerGas.ToInt(), nil
	case tx.GasPrice != nil:
		return tx.GasPrice.ToInt(), nil
	}
	price, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	feeCap := new(big.Int).Mul(price, big.NewInt(2))
	return feeCap.Add(feeCap, tip), nil
}

// WaitMined polls for the receipt of hash until it is mined or ctx ends.
func (s *Submitter) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("%w: %s", ErrReverted, hash.Hex())
			}
			s.logger.Info("settlement.mined",
				zap.String("tx_hash", hash.Hex()),
				zap.Uint64("gas_used", receipt.GasUsed))
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			s.logger.Warn("settlement.receipt_failed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
