package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/guardian/core"
	"github.com/layer-3/guardian/ports"
)

// KeyWallet is a single-account wallet backed by a local private key
type KeyWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address

	mu      sync.Mutex
	chainID *big.Int
}

var _ ports.Wallet = (*KeyWallet)(nil)

// NewKeyWallet wraps key
func NewKeyWallet(key *ecdsa.PrivateKey) *KeyWallet {
	return &KeyWallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// KeyWalletFromHex parses a hex private key, with or without 0x
func KeyWalletFromHex(hexKey string) (*KeyWallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewKeyWallet(key), nil
}

// Address returns the wallet's account
func (w *KeyWallet) Address() common.Address {
	return w.address
}

// RequestAccounts returns the single managed account
func (w *KeyWallet) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	return []common.Address{w.address}, nil
}

// SignPersonalMessage signs like personal_sign, with V as 27/28
func (w *KeyWallet) SignPersonalMessage(ctx context.Context, message string, account common.Address) (string, error) {
	if account != w.address {
		return "", core.ErrUnknownAccount
	}
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), w.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// SwitchChain records the chain transactions will be signed for
func (w *KeyWallet) SwitchChain(ctx context.Context, chainID *big.Int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.chainID = new(big.Int).Set(chainID)
	return nil
}

// ChainID returns the chain selected by SwitchChain, or nil
func (w *KeyWallet) ChainID() *big.Int {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.chainID == nil {
		return nil
	}
	return new(big.Int).Set(w.chainID)
}

// SignTx signs tx for chainID
func (w *KeyWallet) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if selected := w.ChainID(); selected != nil && selected.Cmp(chainID) != 0 {
		return nil, fmt.Errorf("wallet is on chain %s, node is on chain %s", selected, chainID)
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), w.key)
}
