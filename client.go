package guardian

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/layer-3/guardian/core"
	"github.com/layer-3/guardian/service"
	transport "github.com/layer-3/guardian/transport/http"
)

// ConfirmResult is the daemon's answer to a removal confirmation
type ConfirmResult struct {
	Outcome   core.Outcome `json:"outcome"`
	Status    string       `json:"status"`
	Recovered string       `json:"recovered,omitempty"`
}

// Client talks to a running daemon's removal endpoints
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a client for the daemon at baseURL. A nil httpClient uses http.DefaultClient.
func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, http: httpClient}
}

// RequestRemoval asks the daemon for the challenge of site
func (c *Client) RequestRemoval(ctx context.Context, site string) (service.RemovalPrompt, error) {
	var prompt service.RemovalPrompt
	err := c.post(ctx, "/api/sites/"+url.PathEscape(site)+"/removal", nil, &prompt)
	return prompt, err
}

// ConfirmRemoval submits the approval transaction for site
func (c *Client) ConfirmRemoval(ctx context.Context, site, txHash, claimedAddress, ticket string) (ConfirmResult, error) {
	body := map[string]string{
		"tx_hash":         txHash,
		"claimed_address": claimedAddress,
		"ticket":          ticket,
	}
	var result ConfirmResult
	err := c.post(ctx, "/api/sites/"+url.PathEscape(site)+"/removal/confirm", body, &result)
	return result, err
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set(transport.APIKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	// Confirmation outcomes come back with non-2xx codes but a result body
	var failure struct {
		Error string `json:"error"`
	}
	if resp.StatusCode >= http.StatusBadRequest {
		raw := new(bytes.Buffer)
		if _, err := raw.ReadFrom(resp.Body); err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if json.Unmarshal(raw.Bytes(), &failure) == nil && failure.Error != "" {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, failure.Error)
		}
		if out != nil && json.Unmarshal(raw.Bytes(), out) == nil {
			return nil
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
