package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/layer-3/guardian/core"
	"github.com/layer-3/guardian/ports"
	"github.com/shopspring/decimal"
)

// DefaultApprovalRecipient receives approval transactions unless configured otherwise
const DefaultApprovalRecipient = "0x7a4F9654434669FA941CE37Eb12F3edB0Df4fD55"

var errInvalidEtherValue = errors.New("invalid ether value")

// ApprovalConfig describes the approval transaction
type ApprovalConfig struct {
	ChainID   *big.Int
	Recipient common.Address
	Value     *big.Int // Wei, nil for zero
}

// ApprovalSender is the guardian side of the unblock flow: it signs a
// challenge message and publishes it in a transaction's input data.
type ApprovalSender struct {
	cfg       ApprovalConfig
	wallet    ports.Wallet
	sender    ports.TransactionSender
	recoverer core.Recoverer
}

// NewApprovalSender creates a new approval sender
func NewApprovalSender(cfg ApprovalConfig, wallet ports.Wallet, sender ports.TransactionSender) *ApprovalSender {
	return &ApprovalSender{
		cfg:       cfg,
		wallet:    wallet,
		sender:    sender,
		recoverer: core.PersonalSignRecoverer{},
	}
}

// Approve signs message with the wallet's first account and submits the
// approval transaction. It returns the transaction hash.
func (a *ApprovalSender) Approve(ctx context.Context, message string) (string, error) {
	if err := a.wallet.SwitchChain(ctx, a.cfg.ChainID); err != nil {
		return "", fmt.Errorf("failed to switch chain: %w", err)
	}
	accounts, err := a.wallet.RequestAccounts(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to request accounts: %w", err)
	}
	if len(accounts) == 0 {
		return "", core.ErrUnknownAccount
	}
	from := accounts[0]

	signature, err := a.wallet.SignPersonalMessage(ctx, message, from)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}

	// The wallet must have signed with the account it reported
	sig, err := core.Payload{Signature: signature}.SignatureBytes()
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrSignatureMismatch, err)
	}
	recovered, err := a.recoverer.RecoverAddress([]byte(message), sig)
	if err != nil || recovered != from {
		return "", core.ErrSignatureMismatch
	}

	payload, err := core.EncodePayload(message, signature)
	if err != nil {
		return "", err
	}
	data, err := hexutil.Decode(payload)
	if err != nil {
		return "", fmt.Errorf("failed to decode payload: %w", err)
	}

	hash, err := a.sender.SendApproval(ctx, from, a.cfg.Recipient, data, a.cfg.Value)
	if err != nil {
		return "", fmt.Errorf("failed to send approval: %w", err)
	}
	log.Info("Approval sent", "from", from, "to", a.cfg.Recipient, "tx", hash)
	return hash, nil
}

// EtherToWei converts a decimal ether amount such as "0.001" to wei
func EtherToWei(ether string) (*big.Int, error) {
	if ether == "" {
		return new(big.Int), nil
	}
	amount, err := decimal.NewFromString(ether)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidEtherValue, err)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount", errInvalidEtherValue)
	}
	wei := amount.Shift(18)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("%w: more than 18 decimals", errInvalidEtherValue)
	}
	return wei.BigInt(), nil
}
