package callwatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mbd888/callwatch/internal/retry"
)

// Client talks to a callwatch server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// NewClient creates a client for the server at baseURL, e.g. "http://localhost:8080".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		policy:     retry.Policy{Attempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartCall registers a call. An empty CallID lets the server assign one.
func (c *Client) StartCall(ctx context.Context, req StartRequest) (*Call, error) {
	var resp struct {
		Call *Call `json:"call"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/calls", nil, req, &resp, false); err != nil {
		return nil, err
	}
	return resp.Call, nil
}

// SubmitTurn sends the next turn of a call.
func (c *Client) SubmitTurn(ctx context.Context, callID string, turn Turn) (*TurnResult, error) {
	var resp TurnResult
	if err := c.do(ctx, http.MethodPost, callPath(callID, "turns"), nil, turn, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetCall returns a call with its live summary.
func (c *Client) GetCall(ctx context.Context, callID string) (*Call, error) {
	var resp struct {
		Call *Call `json:"call"`
	}
	if err := c.do(ctx, http.MethodGet, callPath(callID, ""), nil, nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Call, nil
}

// ListCalls returns one page of calls, newest first.
func (c *Client) ListCalls(ctx context.Context, status string, limit int, cursor string) (*CallPage, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp CallPage
	if err := c.do(ctx, http.MethodGet, "/v1/calls", q, nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Turns returns the scored turns numbered after the given turn.
func (c *Client) Turns(ctx context.Context, callID string, after int) ([]ScoredTurn, error) {
	var resp struct {
		Turns []ScoredTurn `json:"turns"`
	}
	q := url.Values{"after": {strconv.Itoa(after)}}
	if err := c.do(ctx, http.MethodGet, callPath(callID, "turns"), q, nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Turns, nil
}

// Events returns the alerts with a sequence number after afterSeq.
func (c *Client) Events(ctx context.Context, callID string, afterSeq int) ([]Event, error) {
	var resp struct {
		Events []Event `json:"events"`
	}
	q := url.Values{"after": {strconv.Itoa(afterSeq)}}
	if err := c.do(ctx, http.MethodGet, callPath(callID, "events"), q, nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// Risk returns the current risk snapshot of a call.
func (c *Client) Risk(ctx context.Context, callID string) (RiskSnapshot, error) {
	var resp struct {
		Risk RiskSnapshot `json:"risk"`
	}
	err := c.do(ctx, http.MethodGet, callPath(callID, "risk"), nil, nil, &resp, true)
	return resp.Risk, err
}

// EndCall stops a call from accepting turns.
func (c *Client) EndCall(ctx context.Context, callID string) (*Call, error) {
	var resp struct {
		Call *Call `json:"call"`
	}
	if err := c.do(ctx, http.MethodPost, callPath(callID, "end"), nil, nil, &resp, false); err != nil {
		return nil, err
	}
	return resp.Call, nil
}

// Rules returns the rule catalog.
func (c *Client) Rules(ctx context.Context) ([]Rule, error) {
	var resp struct {
		Rules []Rule `json:"rules"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/rules", nil, nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Rules, nil
}

// Health returns the server health summary.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var resp Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

func callPath(callID, suffix string) string {
	p := "/v1/calls/" + url.PathEscape(callID)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

// do sends one request. Idempotent requests are retried on transport errors
// and 5xx; every request is retried on 429 and 503, which the server returns
// before applying anything.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, idempotent bool) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return retry.Permanent(fmt.Errorf("marshal request body: %w", err))
		}
		payload = data
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	return c.policy.Do(ctx, func() error {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
		if err != nil {
			return retry.Permanent(fmt.Errorf("create request: %w", err))
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			err = fmt.Errorf("request failed: %w", err)
			if idempotent {
				return err
			}
			return retry.Permanent(err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			apiErr := &Error{Status: resp.StatusCode}
			if json.Unmarshal(respBody, apiErr) != nil || apiErr.Code == "" {
				apiErr.Code = http.StatusText(resp.StatusCode)
				apiErr.Message = strings.TrimSpace(string(respBody))
			}
			switch {
			case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusServiceUnavailable:
				return apiErr
			case resp.StatusCode >= 500 && idempotent:
				return apiErr
			default:
				return retry.Permanent(apiErr)
			}
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return retry.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	})
}
