// Package finstmt provides a client for the periodic financial statements API
package finstmt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/vigil/internal/common"
	"github.com/bobmcallan/vigil/internal/models"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 4
)

// Client fetches latest-period financial statement figures.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
	now        func() time.Time
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

// NewClient creates a new financial statements client
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
		now:     time.Now,
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
	return fmt.Sprintf("financials API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// RateLimited reports whether the upstream answered with a rate-limit status.
func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

type financialsResponse struct {
	Results []struct {
		EndDate    string `json:"end_date"`
		Financials struct {
			IncomeStatement struct {
				NetIncome struct {
					Value float64 `json:"value"`
				} `json:"net_income_loss"`
			} `json:"income_statement"`
			CashFlowStatement struct {
				NetCashFlow struct {
					Value float64 `json:"value"`
				} `json:"net_cash_flow"`
			} `json:"cash_flow_statement"`
			BalanceSheet struct {
				Cash struct {
					Value float64 `json:"value"`
				} `json:"cash"`
			} `json:"balance_sheet"`
		} `json:"financials"`
	} `json:"results"`
}

// GetFinancials retrieves the most recent statement snapshot for a symbol.
func (c *Client) GetFinancials(ctx context.Context, symbol string) (*models.FinancialSnapshot, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	params := url.Values{}
	params.Set("ticker", symbol)
	params.Set("limit", "1")
	params.Set("apiKey", c.apiKey)

	reqURL := fmt.Sprintf("%s?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().Str("ticker", symbol).Msg("Financials request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(body), Endpoint: "/financials"}
	}

	var parsed financialsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Results) == 0 {
		return nil, nil
	}

	r := parsed.Results[0]
	return &models.FinancialSnapshot{
		NetIncome:    r.Financials.IncomeStatement.NetIncome.Value,
		NetCashFlow:  r.Financials.CashFlowStatement.NetCashFlow.Value,
		CashPosition: r.Financials.BalanceSheet.Cash.Value,
		PeriodEnd:    r.EndDate,
		FetchedAt:    c.now(),
	}, nil
}

// Fetcher adapts the client to the agent pipeline.
type Fetcher struct {
	client *Client
}

// NewFetcher creates a financials fetcher.
func NewFetcher(client *Client) *Fetcher {
	return &Fetcher{client: client}
}

type financialsPayload struct {
	Ticker     string                    `json:"ticker"`
	Financials *models.FinancialSnapshot `json:"financials"`
}

// Fetch implements agent.Fetcher. Statements change quarterly; the same
// period end as the current payload is nothing new.
func (f *Fetcher) Fetch(ctx context.Context, symbol string, current json.RawMessage) (json.RawMessage, error) {
	snapshot, err := f.client.GetFinancials(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, nil
	}

	if current != nil {
		var existing financialsPayload
		if err := json.Unmarshal(current, &existing); err == nil &&
			existing.Financials != nil &&
			existing.Financials.PeriodEnd == snapshot.PeriodEnd {
			return nil, nil
		}
	}

	raw, err := json.Marshal(financialsPayload{Ticker: symbol, Financials: snapshot})
	if err != nil {
		return nil, fmt.Errorf("encoding financials payload: %w", err)
	}
	return raw, nil
}
