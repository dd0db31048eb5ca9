package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/klingon-exchange/swapbot/internal/chain"
	"github.com/klingon-exchange/swapbot/pkg/logging"
)

// Config holds engine client configuration.
type Config struct {
	// Network is the EVM chain this engine instance is bound to.
	Network string

	OrderbookURL       string
	QuoteURL           string
	EVMRelayerURL      string
	StarknetRelayerURL string
	APIKey             string

	RequestTimeout    time.Duration
	Retry             RetryConfig
	RequestsPerSecond float64
	Burst             int

	// PollInterval paces the settlement loop.
	PollInterval time.Duration
	// MatchTimeout bounds how long SubmitSwap waits for a match.
	MatchTimeout      time.Duration
	MatchPollInterval time.Duration
	// StrategiesTTL is how long the strategy list is cached.
	StrategiesTTL time.Duration

	HTTPClient *http.Client
}

// DefaultConfig returns client defaults without endpoints.
func DefaultConfig() *Config {
	return &Config{
		RequestTimeout:    30 * time.Second,
		Retry:             DefaultRetryConfig(),
		RequestsPerSecond: 5,
		Burst:             10,
		PollInterval:      10 * time.Second,
		MatchTimeout:      45 * time.Second,
		MatchPollInterval: time.Second,
		StrategiesTTL:     5 * time.Minute,
	}
}

// APIError is an error reported by the engine. Message is the engine's
// own text.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("engine error (status %d): %s", e.StatusCode, e.Message)
	}
	return "engine error: " + e.Message
}

// apiResponse is the engine's response envelope.
type apiResponse[T any] struct {
	Status string `json:"status"`
	Result T      `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Client is an HTTP client for the swap engine. One client serves every
// user of a network; settlement state is kept per order.
type Client struct {
	cfg     *Config
	http    *http.Client
	limiter *rate.Limiter
	log     *logging.Logger

	strategiesMu sync.Mutex
	strategies   map[string]Strategy
	fetchedAt    time.Time

	mu       sync.Mutex
	pending  map[string]*tracked
	handlers []EventHandler
	running  atomic.Bool
}

var _ Engine = (*Client)(nil)

// NewClient creates an engine client. Zero config fields take defaults.
func NewClient(cfg *Config) *Client {
	d := DefaultConfig()
	if cfg == nil {
		cfg = d
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = d.RequestTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = d.Retry
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = d.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = d.Burst
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = d.PollInterval
	}
	if cfg.MatchTimeout <= 0 {
		cfg.MatchTimeout = d.MatchTimeout
	}
	if cfg.MatchPollInterval <= 0 {
		cfg.MatchPollInterval = d.MatchPollInterval
	}
	if cfg.StrategiesTTL <= 0 {
		cfg.StrategiesTTL = d.StrategiesTTL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		log:     logging.GetDefault().Component("engine").With("network", cfg.Network),
		pending: make(map[string]*tracked),
	}
}

// Network returns the network this client is bound to.
func (c *Client) Network() string {
	return c.cfg.Network
}

// Strategies returns the engine's strategies keyed by id. The list is
// cached for StrategiesTTL.
func (c *Client) Strategies(ctx context.Context) (map[string]Strategy, error) {
	c.strategiesMu.Lock()
	defer c.strategiesMu.Unlock()

	if c.strategies != nil && time.Since(c.fetchedAt) < c.cfg.StrategiesTTL {
		return c.strategies, nil
	}

	var strategies map[string]Strategy
	if err := c.do(ctx, http.MethodGet, joinURL(c.cfg.QuoteURL, "strategies"), nil, &strategies); err != nil {
		return nil, fmt.Errorf("failed to get strategies: %w", err)
	}
	for id, s := range strategies {
		if s.ID == "" {
			s.ID = id
			strategies[id] = s
		}
	}

	c.strategies = strategies
	c.fetchedAt = time.Now()
	return strategies, nil
}

// StrategyFor returns the strategy serving a pair, if one is advertised.
func (c *Client) StrategyFor(ctx context.Context, from, to *chain.Asset) (*Strategy, error) {
	strategies, err := c.Strategies(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range strategies {
		if s.Matches(from, to) {
			s := s
			return &s, nil
		}
	}
	return nil, ErrNoStrategies
}

// Quote returns receive amounts per strategy for an order pair.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, &APIError{Message: "amount must be positive"}
	}

	q := url.Values{}
	q.Set("order_pair", req.OrderPair)
	q.Set("amount", req.Amount.String())
	q.Set("exact_out", fmt.Sprintf("%t", req.ExactOut))

	var quote Quote
	if err := c.do(ctx, http.MethodGet, c.cfg.QuoteURL+"?"+q.Encode(), nil, &quote); err != nil {
		return nil, err
	}
	if len(quote.Quotes) == 0 {
		return nil, ErrNoStrategies
	}
	return &quote, nil
}

type createOrderRequest struct {
	SourceChain                 string         `json:"source_chain"`
	DestinationChain            string         `json:"destination_chain"`
	SourceAsset                 string         `json:"source_asset"`
	DestinationAsset            string         `json:"destination_asset"`
	InitiatorSourceAddress      string         `json:"initiator_source_address"`
	InitiatorDestinationAddress string         `json:"initiator_destination_address"`
	SourceAmount                string         `json:"source_amount"`
	DestinationAmount           string         `json:"destination_amount"`
	Nonce                       string         `json:"nonce"`
	SecretHash                  string         `json:"secret_hash"`
	AdditionalData              AdditionalData `json:"additional_data"`
}

// SubmitSwap creates an order, waits for the engine to match it and starts
// tracking it for settlement. The HTLC secret is generated here and never
// leaves this client except in the redeem call.
func (c *Client) SubmitSwap(ctx context.Context, req *SwapRequest) (*Order, error) {
	if req == nil || req.FromAsset == nil || req.ToAsset == nil {
		return nil, &APIError{Message: "incomplete swap request"}
	}

	secret, secretHash, err := NewSecret()
	if err != nil {
		return nil, err
	}

	body := createOrderRequest{
		SourceChain:                 req.FromAsset.Chain,
		DestinationChain:            req.ToAsset.Chain,
		SourceAsset:                 req.FromAsset.AtomicSwapAddress,
		DestinationAsset:            req.ToAsset.AtomicSwapAddress,
		InitiatorSourceAddress:      req.InitiatorSourceAddress,
		InitiatorDestinationAddress: req.DestinationAddress,
		SourceAmount:                req.SendAmount,
		DestinationAmount:           req.ReceiveAmount,
		Nonce:                       req.Nonce,
		SecretHash:                  secretHash,
		AdditionalData: AdditionalData{
			Strategy:                 req.StrategyID,
			BitcoinOptionalRecipient: req.BitcoinAddress,
		},
	}

	var createID string
	if err := c.do(ctx, http.MethodPost, joinURL(c.cfg.OrderbookURL, "create"), body, &createID); err != nil {
		return nil, err
	}
	if createID == "" {
		return nil, &APIError{Message: "engine returned an empty order id"}
	}
	c.log.Info("Order created", "order_id", createID, "source", body.SourceChain, "destination", body.DestinationChain)

	order, err := c.waitMatched(ctx, createID)
	if err != nil {
		return nil, err
	}

	c.track(order, secret)
	return order, nil
}

// GetOrder fetches a matched order. It returns nil, nil while the order is
// not matched yet.
func (c *Client) GetOrder(ctx context.Context, createID string) (*Order, error) {
	var order *Order
	if err := c.do(ctx, http.MethodGet, joinURL(c.cfg.OrderbookURL, "id", createID, "matched"), nil, &order); err != nil {
		return nil, err
	}
	return order, nil
}

func (c *Client) waitMatched(parent context.Context, createID string) (*Order, error) {
	ctx, cancel := context.WithTimeout(parent, c.cfg.MatchTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.MatchPollInterval)
	defer ticker.Stop()

	for {
		order, err := c.GetOrder(ctx, createID)
		if err != nil && !IsRetryable(err) {
			if parent.Err() != nil {
				return nil, parent.Err()
			}
			if ctx.Err() != nil || isDeadlineError(err) {
				return nil, fmt.Errorf("%w: %s", ErrOrderNotMatched, createID)
			}
			return nil, err
		}
		if order != nil && order.SourceSwap.SwapID != "" {
			return order, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrOrderNotMatched, createID)
		case <-ticker.C:
		}
	}
}

// isDeadlineError reports a poll cut short by the match window, including
// the limiter refusing a wait that would outlast it.
func isDeadlineError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(err.Error(), "would exceed context deadline")
}

// do performs one logical request with rate limiting and retries, and
// decodes the envelope's result into out.
func (c *Client) do(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	requestID := uuid.NewString()
	_, err := Retry(ctx, c.cfg.Retry, func() (struct{}, error) {
		return struct{}{}, c.attempt(ctx, method, endpoint, payload, requestID, out)
	})
	return err
}

func (c *Client) attempt(ctx context.Context, method, endpoint string, payload []byte, requestID string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("api-key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrRetryable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", ErrRetryable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.log.Warn("Engine rate limited", "endpoint", endpoint, "request_id", requestID)
		return &retryAfterError{
			after: parseRetryAfter(resp.Header.Get("Retry-After")),
			err:   fmt.Errorf("%w: rate limited", ErrRetryable),
		}
	case resp.StatusCode >= 500:
		c.log.Warn("Engine server error", "endpoint", endpoint, "status", resp.StatusCode, "request_id", requestID)
		return fmt.Errorf("%w: status %d: %s", ErrRetryable, resp.StatusCode, errorText(data))
	case resp.StatusCode >= 400:
		return &APIError{StatusCode: resp.StatusCode, Message: errorText(data)}
	}

	envelope := apiResponse[json.RawMessage]{}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("failed to decode engine response: %w", err)
	}
	if strings.EqualFold(envelope.Status, "error") || envelope.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: envelope.Error}
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("failed to decode engine result: %w", err)
	}
	return nil
}

// errorText extracts the message from an error body.
func errorText(data []byte) string {
	var envelope struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil {
		if envelope.Error != "" {
			return envelope.Error
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "empty response"
	}
	return text
}

func joinURL(base string, elems ...string) string {
	u, err := url.JoinPath(base, elems...)
	if err != nil {
		return strings.TrimSuffix(base, "/") + "/" + strings.Join(elems, "/")
	}
	return u
}

// IsAPIError reports whether err carries an engine message, and returns it.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
