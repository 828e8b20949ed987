package mint

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"loyaltykit/core"
)

// Config points the client at a minting service.
type Config struct {
	Endpoint string
	Token    string
	Timeout  time.Duration
}

// Client asks an external minting service to issue a loyalty token. The
// service owns confirmation and chain retries; this client makes one call.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, core.E(core.KindConfiguration, "mint client", "endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{endpoint: cfg.Endpoint, token: cfg.Token, http: &http.Client{Timeout: timeout}}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type mintRequest struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	Level     int    `json:"level"`
}

type mintResponse struct {
	TokenID string `json:"token_id"`
	Error   string `json:"error,omitempty"`
}

// Mint posts the request. 5xx and network failures are Transient, 409 is
// Conflict, other 4xx are InvalidInput.
func (c *Client) Mint(ctx context.Context, req core.MintRequest) (core.MintReceipt, error) {
	const op = "mint"
	body, err := json.Marshal(mintRequest{RequestID: req.RequestID, UserID: string(req.UserID), Level: req.Level})
	if err != nil {
		return core.MintReceipt{}, core.Wrap(core.KindInvalidInput, op, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return core.MintReceipt{}, core.Wrap(core.KindConfiguration, op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.RequestID)
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return core.MintReceipt{}, core.Wrap(core.KindTransient, op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return core.MintReceipt{}, core.Wrap(core.KindTransient, op, err)
	}
	var out mintResponse
	_ = json.Unmarshal(raw, &out)

	switch {
	case resp.StatusCode >= 500:
		return core.MintReceipt{}, core.E(core.KindTransient, op, "minting service returned %d: %s", resp.StatusCode, out.Error)
	case resp.StatusCode == http.StatusConflict:
		return core.MintReceipt{}, core.E(core.KindConflict, op, "minting service returned %d: %s", resp.StatusCode, out.Error)
	case resp.StatusCode >= 400:
		return core.MintReceipt{}, core.E(core.KindInvalidInput, op, "minting service returned %d: %s", resp.StatusCode, out.Error)
	}
	if out.TokenID == "" {
		return core.MintReceipt{}, core.E(core.KindTransient, op, "no token id in response (status %d)", resp.StatusCode)
	}
	return core.MintReceipt{UserID: req.UserID, TokenID: out.TokenID}, nil
}
