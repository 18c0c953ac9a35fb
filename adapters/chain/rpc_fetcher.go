package chain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/layer-3/guardian/core"
	"github.com/layer-3/guardian/ports"
)

// RPCFetcher looks up transactions through a JSON-RPC node
type RPCFetcher struct {
	client *rpc.Client
}

var _ ports.TransactionFetcher = (*RPCFetcher)(nil)

// NewRPCFetcher wraps an existing RPC client
func NewRPCFetcher(client *rpc.Client) *RPCFetcher {
	return &RPCFetcher{client: client}
}

// DialRPCFetcher connects to the node at url
func DialRPCFetcher(ctx context.Context, url string) (*RPCFetcher, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return NewRPCFetcher(client), nil
}

// TransactionByHash calls eth_getTransactionByHash
func (f *RPCFetcher) TransactionByHash(ctx context.Context, hash string) (*core.Transaction, error) {
	if err := ValidateTxHash(hash); err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := f.client.CallContext(ctx, &raw, "eth_getTransactionByHash", hash); err != nil {
		return nil, fmt.Errorf("eth_getTransactionByHash: %w", err)
	}
	return parseTransaction(raw)
}

// Close closes the underlying client
func (f *RPCFetcher) Close() {
	f.client.Close()
}
