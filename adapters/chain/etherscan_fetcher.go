package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/layer-3/guardian/core"
	"github.com/layer-3/guardian/ports"
)

// DefaultEtherscanURL is the Sepolia explorer API
const DefaultEtherscanURL = "https://api-sepolia.etherscan.io/api"

// EtherscanFetcher looks up transactions through the Etherscan proxy module
type EtherscanFetcher struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ ports.TransactionFetcher = (*EtherscanFetcher)(nil)

// NewEtherscanFetcher creates a fetcher. An empty baseURL selects DefaultEtherscanURL.
func NewEtherscanFetcher(baseURL, apiKey string, client *http.Client) *EtherscanFetcher {
	if baseURL == "" {
		baseURL = DefaultEtherscanURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &EtherscanFetcher{baseURL: baseURL, apiKey: apiKey, client: client}
}

type etherscanResponse struct {
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// TransactionByHash calls module=proxy&action=eth_getTransactionByHash
func (f *EtherscanFetcher) TransactionByHash(ctx context.Context, hash string) (*core.Transaction, error) {
	if err := ValidateTxHash(hash); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("module", "proxy")
	q.Set("action", "eth_getTransactionByHash")
	q.Set("txhash", hash)
	if f.apiKey != "" {
		q.Set("apikey", f.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("etherscan request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("etherscan returned status %d", resp.StatusCode)
	}

	var body etherscanResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode etherscan response: %w", err)
	}
	if body.Error != nil {
		return nil, fmt.Errorf("etherscan error: %s", body.Error.Message)
	}

	// Failures such as a bad API key come back as a plain string result
	if len(body.Result) > 0 && body.Result[0] == '"' {
		var text string
		if err := json.Unmarshal(body.Result, &text); err != nil {
			return nil, fmt.Errorf("failed to decode etherscan result: %w", err)
		}
		return nil, fmt.Errorf("etherscan error: %s", text)
	}

	return parseTransaction(body.Result)
}
