// Package bybit implements the exchange read contract against the Bybit v5
// unified REST API.
package bybit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"sigwatch/internal/logger"
	"sigwatch/internal/types"
)

const (
	pageLimit   = 200
	maxPages    = 20
	maxBodySize = 4 << 20
)

// retCodes that mean the credentials are unusable until an operator acts.
var authRetCodes = map[int64]bool{
	10003: true, // invalid api key
	10004: true, // signature mismatch
	10005: true, // permission denied
	10007: true, // user authentication failed
	33004: true, // api key expired
}

// retCodes worth retrying inside the same cycle.
var transientRetCodes = map[int64]bool{
	10000: true, // server timeout
	10002: true, // timestamp outside recv_window
	10006: true, // too many visits
	10016: true, // internal server error
	10018: true, // ip rate limit
}

type Config struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	RecvWindow time.Duration
	Timeout    time.Duration
	SettleCoin string
}

// Client is a read-only Bybit v5 client.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	signer     signer
	settleCoin string
	now        func() time.Time
}

func New(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("bybit base url cannot be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse bybit base url: %w", err)
	}
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.APISecret) == "" {
		return nil, fmt.Errorf("bybit api key/secret cannot be empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	recv := cfg.RecvWindow
	if recv <= 0 {
		recv = 5 * time.Second
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
		signer: signer{
			apiKey:     strings.TrimSpace(cfg.APIKey),
			secret:     []byte(strings.TrimSpace(cfg.APISecret)),
			recvWindow: strconv.FormatInt(recv.Milliseconds(), 10),
		},
		settleCoin: strings.ToUpper(strings.TrimSpace(cfg.SettleCoin)),
		now:        time.Now,
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) Name() string { return "bybit" }

// get performs a signed GET and returns the envelope's "result" object.
func (c *Client) get(ctx context.Context, path string, params url.Values) (gjson.Result, error) {
	query := params.Encode()
	endpoint := c.baseURL.JoinPath(path)
	endpoint.RawQuery = query

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("build bybit request: %w", err)
	}
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	c.signer.apply(req.Header, ts, query)
	logger.LogWireRequest("bybit", path, "GET "+path+"?"+query)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return gjson.Result{}, ctx.Err()
		}
		return gjson.Result{}, &types.TransientFetchError{Op: path, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return gjson.Result{}, &types.TransientFetchError{Op: path, Err: fmt.Errorf("read body: %w", err)}
	}
	logger.LogWireResponse("bybit", path, resp.StatusCode, string(body))

	if err := classifyStatus(path, resp, body); err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("bybit %s: invalid json response", path)
	}
	env := gjson.ParseBytes(body)
	code := env.Get("retCode").Int()
	msg := env.Get("retMsg").String()
	switch {
	case code == 0:
		return env.Get("result"), nil
	case authRetCodes[code]:
		return gjson.Result{}, &types.AuthError{Code: int(code), Message: msg}
	case transientRetCodes[code]:
		return gjson.Result{}, &types.TransientFetchError{
			Op:         path,
			RetryAfter: c.limitReset(resp.Header),
			Err:        fmt.Errorf("retCode=%d: %s", code, msg),
		}
	default:
		return gjson.Result{}, fmt.Errorf("bybit %s retCode=%d: %s", path, code, msg)
	}
}

func classifyStatus(path string, resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return &types.AuthError{Code: resp.StatusCode, Message: snippet(body)}
	// Bybit answers 403 when the IP rate limit is breached.
	case resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return &types.TransientFetchError{
			Op:         path,
			RetryAfter: retryAfter(resp.Header),
			Err:        fmt.Errorf("http %s: %s", resp.Status, snippet(body)),
		}
	default:
		return fmt.Errorf("bybit %s: http %s: %s", path, resp.Status, snippet(body))
	}
}

func (c *Client) limitReset(h http.Header) time.Duration {
	raw := strings.TrimSpace(h.Get("X-Bapi-Limit-Reset-Timestamp"))
	if raw == "" {
		return 0
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	if d := time.UnixMilli(ms).Sub(c.now()); d > 0 {
		return d
	}
	return 0
}

func retryAfter(h http.Header) time.Duration {
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 256 {
		s = s[:256] + "..."
	}
	return s
}
