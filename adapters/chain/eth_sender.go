package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/layer-3/guardian/ports"
)

// TxSigner signs transactions for the sending account
type TxSigner interface {
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// chainClient is the part of ethclient.Client the sender uses
type chainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ chainClient = (*ethclient.Client)(nil)

// EthSender submits approval transactions through an Ethereum node
type EthSender struct {
	client chainClient
	signer TxSigner
}

var _ ports.TransactionSender = (*EthSender)(nil)

// NewEthSender creates a sender over an ethclient connection
func NewEthSender(client *ethclient.Client, signer TxSigner) *EthSender {
	return &EthSender{client: client, signer: signer}
}

// SendApproval builds, signs and broadcasts a legacy transaction carrying data
func (s *EthSender) SendApproval(ctx context.Context, from, to common.Address, data []byte, value *big.Int) (string, error) {
	if value == nil {
		value = new(big.Int)
	}

	chainID, err := s.client.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get chain id: %w", err)
	}
	nonce, err := s.client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to suggest gas price: %w", err)
	}
	gas, err := s.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return "", fmt.Errorf("failed to estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     data,
	})

	signed, err := s.signer.SignTx(tx, chainID)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	return signed.Hash().Hex(), nil
}

// WaitMined polls for the receipt of txHash until it is mined or ctx ends
func (s *EthSender) WaitMined(ctx context.Context, txHash string, interval time.Duration) (*types.Receipt, error) {
	if err := ValidateTxHash(txHash); err != nil {
		return nil, err
	}
	hash := common.HexToHash(txHash)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("failed to get receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
