package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"loyaltykit/core"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the loyaltykit HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// Register creates the zero vector for userID.
func (c *Client) Register(ctx context.Context, userID string) (core.AttributeVector, error) {
	if strings.TrimSpace(userID) == "" {
		return core.AttributeVector{}, ErrEmptyUserID
	}
	var v core.AttributeVector
	err := c.do(ctx, http.MethodPost, "/users", map[string]string{"user_id": userID}, &v)
	return v, err
}

// GetVector fetches the user's attribute vector.
func (c *Client) GetVector(ctx context.Context, userID string) (core.AttributeVector, error) {
	var v core.AttributeVector
	err := c.userCall(ctx, http.MethodGet, userID, "", nil, &v)
	return v, err
}

func (c *Client) GetLevel(ctx context.Context, userID string) (core.LevelInfo, error) {
	var info core.LevelInfo
	err := c.userCall(ctx, http.MethodGet, userID, "/level", nil, &info)
	return info, err
}

// ProcessAction submits an action. payload is marshalled as the action's JSON body.
func (c *Client) ProcessAction(ctx context.Context, userID string, actionType core.ActionType, payload any) (core.ActionResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return core.ActionResult{}, fmt.Errorf("encode payload: %w", err)
	}
	body := struct {
		Type    core.ActionType `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}{actionType, raw}
	var res core.ActionResult
	err = c.userCall(ctx, http.MethodPost, userID, "/actions", body, &res)
	return res, err
}

func (c *Client) GetMetadata(ctx context.Context, userID string) (core.Descriptor, error) {
	var d core.Descriptor
	err := c.userCall(ctx, http.MethodGet, userID, "/metadata", nil, &d)
	return d, err
}

// GetPerks evaluates perk eligibility, optionally restricted to brandID.
func (c *Client) GetPerks(ctx context.Context, userID, brandID string) ([]core.PerkEligibilityResult, error) {
	suffix := "/perks"
	if brandID != "" {
		suffix += "?brand=" + url.QueryEscape(brandID)
	}
	var body struct {
		Perks []core.PerkEligibilityResult `json:"perks"`
	}
	err := c.userCall(ctx, http.MethodGet, userID, suffix, nil, &body)
	return body.Perks, err
}

func (c *Client) RequestMint(ctx context.Context, userID string) (core.MintReceipt, error) {
	var r core.MintReceipt
	err := c.userCall(ctx, http.MethodPost, userID, "/mint", nil, &r)
	return r, err
}

// Levels lists the level ladder the server evaluates against.
func (c *Client) Levels(ctx context.Context) ([]core.LevelDefinition, error) {
	var body struct {
		Levels []core.LevelDefinition `json:"levels"`
	}
	err := c.do(ctx, http.MethodGet, "/levels", nil, &body)
	return body.Levels, err
}

// Leaderboard returns the top limit entries.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	path := "/leaderboard"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var body struct {
		Entries []LeaderboardEntry `json:"entries"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &body)
	return body.Entries, err
}

// Health probes /healthz and returns status + storage check. An unhealthy
// server answers 503 with a body, which is returned alongside the error.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &hs)
	return hs, err
}

// SubscribeEvents connects to the WebSocket stream and emits core.Event values.
// A non-empty userID narrows the stream to that user. The returned channel
// closes when ctx is done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context, userID string) (<-chan core.Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	target := c.wsURL
	if userID != "" {
		target += "?user=" + url.QueryEscape(userID)
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, target, c.headers)
	if err != nil {
		return nil, err
	}

	out := make(chan core.Event, 32)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var evt core.Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			default:
				// drop if consumer is slow
			}
		}
	}()
	return out, nil
}

func (c *Client) userCall(ctx context.Context, method, userID, suffix string, body, out any) error {
	if strings.TrimSpace(userID) == "" {
		return ErrEmptyUserID
	}
	return c.do(ctx, method, "/users/"+url.PathEscape(userID)+suffix, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, out)
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
