package ports

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/guardian/core"
)

// TransactionFetcher looks up a transaction by hash.
// It returns core.ErrTransactionNotFound when the node does not know the hash.
type TransactionFetcher interface {
	TransactionByHash(ctx context.Context, hash string) (*core.Transaction, error)
}

// TransactionSender submits an approval transaction carrying data
type TransactionSender interface {
	SendApproval(ctx context.Context, from, to common.Address, data []byte, value *big.Int) (string, error)
}

// Wallet is the guardian's signing capability
type Wallet interface {
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	SignPersonalMessage(ctx context.Context, message string, account common.Address) (string, error)
	SwitchChain(ctx context.Context, chainID *big.Int) error
}
