package chain

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/layer-3/guardian/core"
)

// rpcTransaction is the part of an eth_getTransactionByHash result we read.
// Input is a pointer because nodes may omit it or return null.
type rpcTransaction struct {
	Hash  string  `json:"hash"`
	From  string  `json:"from"`
	To    *string `json:"to"`
	Input *string `json:"input"`
}

// ValidateTxHash checks that hash is 32 bytes of 0x-prefixed hex
func ValidateTxHash(hash string) error {
	raw, err := hexutil.Decode(hash)
	if err != nil || len(raw) != 32 {
		return fmt.Errorf("%w: %q", core.ErrInvalidTxHash, hash)
	}
	return nil
}

func parseTransaction(raw json.RawMessage) (*core.Transaction, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, core.ErrTransactionNotFound
	}

	var rtx rpcTransaction
	if err := json.Unmarshal(raw, &rtx); err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	tx := &core.Transaction{
		Hash: rtx.Hash,
		From: rtx.From,
	}
	if rtx.To != nil {
		tx.To = *rtx.To
	}
	if rtx.Input != nil {
		tx.Input = *rtx.Input
	}
	return tx, nil
}
