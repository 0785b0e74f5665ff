// Package filings provides a client for the regulatory filings index
package filings

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/vigil/internal/common"
	"github.com/bobmcallan/vigil/internal/models"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 5
)

// Client fetches filing records for a symbol, filtered to one form-type
// family (e.g. "S-" covering S-1, S-3 and their amendments).
type Client struct {
	baseURL    string
	formFamily string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithFormFamily restricts results to forms with the given prefix.
func WithFormFamily(prefix string) ClientOption {
	return func(c *Client) {
		c.formFamily = prefix
	}
}

// NewClient creates a new filings client
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		formFamily: "S-",
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents an API error
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("filings API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// RateLimited reports whether the upstream answered with a rate-limit status.
func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

type filingResponse struct {
	Form        string `json:"form"`
	Description string `json:"description"`
	Date        string `json:"date"`
}

// GetFilings retrieves a symbol's filings restricted to the form family.
func (c *Client) GetFilings(ctx context.Context, symbol string) ([]models.Filing, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("output", "json")

	reqURL := fmt.Sprintf("%s/filings?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().Str("ticker", symbol).Msg("Filings request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(body), Endpoint: "/filings"}
	}

	var raw []filingResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	filings := make([]models.Filing, 0, len(raw))
	for _, f := range raw {
		if !strings.HasPrefix(strings.ToUpper(f.Form), c.formFamily) {
			continue
		}
		filings = append(filings, models.Filing{
			Form:        f.Form,
			Description: f.Description,
			Date:        f.Date,
		})
	}
	return filings, nil
}

// Fetcher adapts the client to the agent pipeline.
type Fetcher struct {
	client *Client
}

// NewFetcher creates a filings fetcher.
func NewFetcher(client *Client) *Fetcher {
	return &Fetcher{client: client}
}

type filingsPayload struct {
	Ticker  string          `json:"ticker"`
	Filings []models.Filing `json:"filings"`
}

// Fetch implements agent.Fetcher. Filings change slowly; an identical
// result to the current payload is reported as nothing-new.
func (f *Fetcher) Fetch(ctx context.Context, symbol string, current json.RawMessage) (json.RawMessage, error) {
	filings, err := f.client.GetFilings(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(filings) == 0 {
		return nil, nil
	}

	payload := filingsPayload{Ticker: symbol, Filings: filings}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding filings payload: %w", err)
	}
	if current != nil && string(current) == string(raw) {
		return nil, nil
	}
	return raw, nil
}
