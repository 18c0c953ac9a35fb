package service

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/guardian/adapters/wallet"
	"github.com/layer-3/guardian/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentApproval struct {
	from, to common.Address
	data     []byte
	value    *big.Int
}

type fakeSender struct {
	sent []sentApproval
}

func (s *fakeSender) SendApproval(_ context.Context, from, to common.Address, data []byte, value *big.Int) (string, error) {
	s.sent = append(s.sent, sentApproval{from, to, data, value})
	return "0xfeed", nil
}

// lyingWallet reports one account but signs with another key
type lyingWallet struct {
	*wallet.KeyWallet
	reported common.Address
}

func (w lyingWallet) RequestAccounts(context.Context) ([]common.Address, error) {
	return []common.Address{w.reported}, nil
}

func (w lyingWallet) SignPersonalMessage(ctx context.Context, message string, _ common.Address) (string, error) {
	return w.KeyWallet.SignPersonalMessage(ctx, message, w.KeyWallet.Address())
}

func TestApprove(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	w := wallet.NewKeyWallet(key)
	sender := &fakeSender{}
	cfg := ApprovalConfig{
		ChainID:   big.NewInt(11155111),
		Recipient: common.HexToAddress(DefaultApprovalRecipient),
		Value:     big.NewInt(0),
	}

	hash, err := NewApprovalSender(cfg, w, sender).Approve(context.Background(), "xk2mfq91pz")
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", hash)

	require.Len(t, sender.sent, 1)
	sent := sender.sent[0]
	assert.Equal(t, w.Address(), sent.from)
	assert.Equal(t, cfg.Recipient, sent.to)

	// The sent data verifies like a transaction input would
	res := core.NewVerifier(nil).Verify(hexutil.Encode(sent.data), "xk2mfq91pz", w.Address().Hex())
	assert.Equal(t, core.OutcomeVerified, res.Outcome)
	assert.Zero(t, w.ChainID().Cmp(cfg.ChainID))
}

func TestApproveRejectsMismatchedSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	w := lyingWallet{KeyWallet: wallet.NewKeyWallet(key), reported: common.Address{1}}
	sender := &fakeSender{}

	_, err = NewApprovalSender(ApprovalConfig{ChainID: big.NewInt(1)}, w, sender).Approve(context.Background(), "msg")
	assert.ErrorIs(t, err, core.ErrSignatureMismatch)
	assert.Empty(t, sender.sent)
}

func TestApproveRejectsLongMessage(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sender := &fakeSender{}

	_, err = NewApprovalSender(ApprovalConfig{ChainID: big.NewInt(1)}, wallet.NewKeyWallet(key), sender).
		Approve(context.Background(), string(make([]byte, 256)))
	assert.ErrorIs(t, err, core.ErrMessageTooLong)
	assert.Empty(t, sender.sent)
}

func TestEtherToWei(t *testing.T) {
	wei, err := EtherToWei("0.001")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000", wei.String())

	wei, err = EtherToWei("")
	require.NoError(t, err)
	assert.Equal(t, 0, wei.Sign())

	for _, bad := range []string{"-1", "abc", "0.0000000000000000001"} {
		_, err := EtherToWei(bad)
		assert.Error(t, err, bad)
	}
}
