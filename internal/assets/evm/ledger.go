// Package evm implements the asset ledger on ERC-20 contracts via JSON-RPC.
// Deposits pull principal with transferFrom (the staker must have approved
// the operator), payouts push with transfer, and every send waits for its
// receipt so the caller knows the transfer really happened before it commits.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/stakepool/internal/domain"
)

// ERC-20 function selectors, precomputed from the canonical signatures.
var (
	selTransferFrom = ethcrypto.Keccak256([]byte("transferFrom(address,address,uint256)"))[:4]
	selTransfer     = ethcrypto.Keccak256([]byte("transfer(address,uint256)"))[:4]
	selBalanceOf    = ethcrypto.Keccak256([]byte("balanceOf(address)"))[:4]
)

// Config holds connection and transaction parameters for the EVM ledger.
type Config struct {
	RPCURL          string
	ChainID         int64
	GasLimit        uint64
	CallTimeout     time.Duration
	ReceiptInterval time.Duration
	ReceiptTimeout  time.Duration
}

// Ledger implements domain.AssetLedger against ERC-20 contracts. The
// operator key funds gas and holds the pool's balances.
type Ledger struct {
	client      *ethclient.Client
	chainID     *big.Int
	gasLimit    uint64
	callTimeout time.Duration
	receiptIvl  time.Duration
	receiptMax  time.Duration

	operatorKey  *ecdsa.PrivateKey
	operatorAddr common.Address

	// Transactions share the operator nonce, so sends are serialized.
	sendMu sync.Mutex

	logger *slog.Logger
}

// New dials the RPC endpoint and verifies the chain ID against the config.
func New(ctx context.Context, cfg Config, operatorKey *ecdsa.PrivateKey, logger *slog.Logger) (*Ledger, error) {
	if operatorKey == nil {
		return nil, errors.New("evm: operator key is required")
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", cfg.RPCURL, err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("evm: chain id: %w", err)
	}
	if cfg.ChainID != 0 && chainID.Int64() != cfg.ChainID {
		client.Close()
		return nil, fmt.Errorf("evm: chain id mismatch: node reports %d, config wants %d", chainID.Int64(), cfg.ChainID)
	}

	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = 100_000
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	receiptIvl := cfg.ReceiptInterval
	if receiptIvl <= 0 {
		receiptIvl = 2 * time.Second
	}
	receiptMax := cfg.ReceiptTimeout
	if receiptMax <= 0 {
		receiptMax = 90 * time.Second
	}

	return &Ledger{
		client:       client,
		chainID:      chainID,
		gasLimit:     gasLimit,
		callTimeout:  callTimeout,
		receiptIvl:   receiptIvl,
		receiptMax:   receiptMax,
		operatorKey:  operatorKey,
		operatorAddr: ethcrypto.PubkeyToAddress(operatorKey.PublicKey),
		logger:       logger.With(slog.String("component", "evm")),
	}, nil
}

// OperatorAddress returns the address holding the pool's balances.
func (l *Ledger) OperatorAddress() common.Address {
	return l.operatorAddr
}

// Close shuts down the RPC client.
func (l *Ledger) Close() {
	l.client.Close()
}

// TransferIn pulls amount of asset from account into the pool via
// transferFrom. The account must have approved the operator beforehand.
func (l *Ledger) TransferIn(ctx context.Context, account string, asset domain.Asset, amount *big.Int) error {
	token, err := assetAddress(asset)
	if err != nil {
		return err
	}
	if !common.IsHexAddress(account) {
		return fmt.Errorf("evm: account %q is not a hex address", account)
	}
	from := common.HexToAddress(account)

	data := make([]byte, 4+32+32+32)
	copy(data[0:4], selTransferFrom)
	copy(data[4:36], common.LeftPadBytes(from.Bytes(), 32))
	copy(data[36:68], common.LeftPadBytes(l.operatorAddr.Bytes(), 32))
	copy(data[68:100], common.LeftPadBytes(amount.Bytes(), 32))

	txHash, err := l.sendAndWait(ctx, token, data)
	if err != nil {
		return fmt.Errorf("evm: transfer in %s %s from %s: %w", amount, asset, account, err)
	}

	l.logger.InfoContext(ctx, "transfer in confirmed",
		slog.String("account", account),
		slog.String("asset", string(asset)),
		slog.String("amount", amount.String()),
		slog.String("tx", txHash.Hex()),
	)
	return nil
}

// TransferOut pushes amount of asset from the pool to account via transfer.
func (l *Ledger) TransferOut(ctx context.Context, account string, asset domain.Asset, amount *big.Int) error {
	token, err := assetAddress(asset)
	if err != nil {
		return err
	}
	if !common.IsHexAddress(account) {
		return fmt.Errorf("evm: account %q is not a hex address", account)
	}
	to := common.HexToAddress(account)

	data := make([]byte, 4+32+32)
	copy(data[0:4], selTransfer)
	copy(data[4:36], common.LeftPadBytes(to.Bytes(), 32))
	copy(data[36:68], common.LeftPadBytes(amount.Bytes(), 32))

	txHash, err := l.sendAndWait(ctx, token, data)
	if err != nil {
		return fmt.Errorf("evm: transfer out %s %s to %s: %w", amount, asset, account, err)
	}

	l.logger.InfoContext(ctx, "transfer out confirmed",
		slog.String("account", account),
		slog.String("asset", string(asset)),
		slog.String("amount", amount.String()),
		slog.String("tx", txHash.Hex()),
	)
	return nil
}

// BalanceOf reports the operator's holding of asset.
func (l *Ledger) BalanceOf(ctx context.Context, asset domain.Asset) (*big.Int, error) {
	token, err := assetAddress(asset)
	if err != nil {
		return nil, err
	}

	data := make([]byte, 4+32)
	copy(data[0:4], selBalanceOf)
	copy(data[4:36], common.LeftPadBytes(l.operatorAddr.Bytes(), 32))

	callCtx, cancel := context.WithTimeout(ctx, l.callTimeout)
	defer cancel()

	result, err := l.client.CallContract(callCtx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("evm: balance of %s: %w", asset, err)
	}
	if len(result) < 32 {
		return new(big.Int), nil
	}
	return new(big.Int).SetBytes(result[:32]), nil
}

// sendAndWait signs and submits a transaction, then blocks until its receipt
// confirms success. The nonce is fetched under sendMu; two concurrent sends
// must not race for it.
func (l *Ledger) sendAndWait(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	l.sendMu.Lock()
	signedTx, err := l.submit(ctx, to, data)
	l.sendMu.Unlock()
	if err != nil {
		return common.Hash{}, err
	}

	receipt, err := l.waitMined(ctx, signedTx.Hash())
	if err != nil {
		return common.Hash{}, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return common.Hash{}, fmt.Errorf("transaction %s reverted", signedTx.Hash().Hex())
	}
	return signedTx.Hash(), nil
}

func (l *Ledger) submit(ctx context.Context, to common.Address, data []byte) (*types.Transaction, error) {
	nonce, err := l.client.PendingNonceAt(ctx, l.operatorAddr)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	gasPrice, err := l.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), l.gasLimit, gasPrice, data)

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(l.chainID), l.operatorKey)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	if err := l.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	return signedTx, nil
}

// waitMined polls for the transaction receipt until it lands or the receipt
// timeout expires.
func (l *Ledger) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	deadline := time.NewTimer(l.receiptMax)
	defer deadline.Stop()
	ticker := time.NewTicker(l.receiptIvl)
	defer ticker.Stop()

	for {
		receipt, err := l.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), ctx.Err())
		case <-deadline.C:
			return nil, fmt.Errorf("receipt %s: timed out after %s", hash.Hex(), l.receiptMax)
		case <-ticker.C:
		}
	}
}

func assetAddress(asset domain.Asset) (common.Address, error) {
	if !common.IsHexAddress(string(asset)) {
		return common.Address{}, fmt.Errorf("evm: asset %q is not a contract address", asset)
	}
	return common.HexToAddress(string(asset)), nil
}

// Compile-time interface check.
var _ domain.AssetLedger = (*Ledger)(nil)
