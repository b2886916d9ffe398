// Package rest implements the pooled HTTP session, request signing, retry
// execution and response-envelope decoding for the exchange's REST API.
//
// The client keeps one connection-pooled http.Client alive across requests
// and rebuilds it when a transport-level failure (connection reset, broken
// pipe) is detected, so a poisoned pool never lingers. Every response's
// rate-limit headers are surfaced through an optional callback so the rate
// limiter can track the exchange's advertised remaining quota.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/volatiq/exchange-core/pkg/logging"
	"github.com/volatiq/exchange-core/pkg/market"
)

// Config holds REST client configuration.
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string

	// RecvWindowMs bounds signed-timestamp validity on the exchange side.
	RecvWindowMs int64

	// Layered timeouts. Timeout is the total request ceiling and must
	// exceed ConnectTimeout + ReadTimeout or requests get cancelled
	// before the transport ever times out.
	Timeout        time.Duration
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// Pool limits.
	MaxIdleConns    int
	MaxConnsPerHost int
	IdleConnTimeout time.Duration

	// Retry tuning for Execute.
	MaxRetries uint
	RetryDelay time.Duration
	MaxJitter  time.Duration

	// OnHeaders, when set, receives every response's headers. Wired to
	// the rate limiter's header feedback.
	OnHeaders func(http.Header)

	Logger logging.Logger
}

// DefaultConfig returns conservative production defaults.
func DefaultConfig() *Config {
	return &Config{
		Timeout:         30 * time.Second,
		ConnectTimeout:  5 * time.Second,
		ReadTimeout:     15 * time.Second,
		MaxIdleConns:    100,
		MaxConnsPerHost: 20,
		IdleConnTimeout: 90 * time.Second,
		MaxRetries:      3,
		RetryDelay:      time.Second,
		MaxJitter:       500 * time.Millisecond,
		RecvWindowMs:    5000,
		Logger:          logging.NewLogger(),
	}
}

// Client is the pooled REST session. Safe for concurrent use.
type Client struct {
	cfg    *Config
	signer *Signer
	logger logging.Logger

	mu         sync.Mutex
	httpClient *http.Client
}

// NewClient creates a client. The underlying pooled session is built lazily
// on first use.
func NewClient(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger()
	}
	return &Client{
		cfg:    cfg,
		signer: NewSigner(cfg.APIKey, cfg.APISecret, cfg.RecvWindowMs),
		logger: cfg.Logger,
	}
}

// session returns the pooled http.Client, building it on first use.
func (c *Client) session() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.httpClient == nil {
		c.httpClient = c.buildSession()
	}
	return c.httpClient
}

// Rebuild tears down the pooled session so the next request dials fresh
// connections. Called by the retry executor after connection-reset errors.
func (c *Client) Rebuild() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
		c.httpClient = nil
	}
	c.logger.Info("rest session rebuilt")
}

// Close releases pooled connections.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
		c.httpClient = nil
	}
}

func (c *Client) buildSession() *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   c.cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          c.cfg.MaxIdleConns,
		MaxConnsPerHost:       c.cfg.MaxConnsPerHost,
		MaxIdleConnsPerHost:   c.cfg.MaxConnsPerHost,
		IdleConnTimeout:       c.cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   c.cfg.ConnectTimeout,
		ResponseHeaderTimeout: c.cfg.ReadTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   c.cfg.Timeout,
	}
}

// envelope is the exchange's uniform response wrapper. A non-zero RetCode is
// an application-level failure even when the HTTP status is 200.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// retCode groups observed in the exchange's v5 API.
func kindForRetCode(code int) market.ErrorKind {
	switch code {
	case 10003, 10004, 10005, 33004:
		return market.KindAuth
	case 10006, 10018, 10016:
		return market.KindRateLimit
	default:
		return market.KindMalformed
	}
}

// Get performs one GET against endpoint with the given query parameters and
// returns the decoded result payload. Authenticated endpoints are signed;
// public market-data endpoints are not. No retries happen here; Execute adds
// them.
func (c *Client) Get(ctx context.Context, endpoint market.Endpoint, params url.Values, signed bool) (json.RawMessage, error) {
	u := c.cfg.BaseURL + endpoint.Path()
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, market.NewError(market.KindMalformed, endpoint, "building request", err)
	}
	if signed {
		c.signer.SignRequest(req)
	}

	resp, err := c.session().Do(req)
	if err != nil {
		return nil, market.NewError(market.KindTransient, endpoint, "", err)
	}
	defer resp.Body.Close()

	if c.cfg.OnHeaders != nil {
		c.cfg.OnHeaders(resp.Header)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, market.NewError(market.KindRateLimit, endpoint,
			fmt.Sprintf("http %d", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, market.NewError(market.KindAuth, endpoint,
			fmt.Sprintf("http %d", resp.StatusCode), market.ErrInvalidCredentials)
	case resp.StatusCode >= 500:
		return nil, market.NewError(market.KindTransient, endpoint,
			fmt.Sprintf("http %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, market.NewError(market.KindMalformed, endpoint,
			fmt.Sprintf("unexpected http %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, market.NewError(market.KindTransient, endpoint, "reading body", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, market.NewError(market.KindMalformed, endpoint, "decoding envelope", err)
	}
	if env.RetCode != 0 {
		return nil, &market.Error{
			Kind:     kindForRetCode(env.RetCode),
			Endpoint: endpoint,
			RetCode:  env.RetCode,
			Msg:      env.RetMsg,
		}
	}
	return env.Result, nil
}
