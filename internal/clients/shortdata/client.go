// Package shortdata scrapes short-interest snapshots from an HTML source
package shortdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/bobmcallan/vigil/internal/common"
	"github.com/bobmcallan/vigil/internal/models"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 2 // scraping target, keep the ceiling low
)

// Client scrapes the per-symbol short-interest page.
type Client struct {
	baseURL    string
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

// NewClient creates a new short-interest scraper client
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
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

// APIError represents a non-OK scrape response
type APIError struct {
	StatusCode int
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("short data error (status: %d, endpoint: %s)", e.StatusCode, e.Endpoint)
}

// RateLimited reports whether the source answered with a rate-limit status.
func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// GetShortInterest scrapes the short-interest snapshot for a symbol.
func (c *Client) GetShortInterest(ctx context.Context, symbol string) (*models.ShortInterest, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	reqURL := fmt.Sprintf("%s/quote/%s/short-interest", c.baseURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; vigil/1.0)")

	c.logger.Debug().Str("ticker", symbol).Msg("Short interest request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Endpoint: "/short-interest"}
	}

	snapshot, err := parseShortInterest(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing short interest for %s: %w", symbol, err)
	}
	snapshot.FetchedAt = c.now()
	return snapshot, nil
}

// parseShortInterest walks the short-interest table. The page lays the data
// out as label/value cell pairs; labels are matched loosely so minor copy
// changes upstream don't break the scrape.
func parseShortInterest(r io.Reader) (*models.ShortInterest, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	cells := tableCells(doc)
	snapshot := &models.ShortInterest{}
	found := 0

	for i := 0; i+1 < len(cells); i += 2 {
		label := strings.ToLower(strings.TrimSpace(cells[i]))
		value := strings.TrimSpace(cells[i+1])
		switch {
		case strings.Contains(label, "settlement date"):
			snapshot.SettlementDate = value
			found++
		case strings.Contains(label, "short interest ratio"), strings.Contains(label, "days to cover"):
			// Must precede the bare "short interest" match
			if v, err := models.ParseShareCount(value); err == nil {
				snapshot.ShortRatio = v
				found++
			}
		case strings.Contains(label, "short float"), strings.Contains(label, "% of float"):
			if v, err := models.ParseShareCount(strings.TrimSuffix(value, "%")); err == nil {
				snapshot.ShortFloatPct = v
				found++
			}
		case strings.Contains(label, "short interest"):
			if v, err := models.ParseShareCount(value); err == nil {
				snapshot.ShortInterest = v
				found++
			}
		case strings.Contains(label, "average daily volume"), strings.Contains(label, "avg daily volume"):
			if v, err := models.ParseShareCount(value); err == nil {
				snapshot.AvgDailyVolume = v
				found++
			}
		}
	}

	if found == 0 {
		return nil, fmt.Errorf("no short-interest fields recognized")
	}
	return snapshot, nil
}

// tableCells collects the text of every td/th node in document order.
func tableCells(n *html.Node) []string {
	var cells []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "td" || n.Data == "th") {
			cells = append(cells, nodeText(n))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return cells
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// Fetcher adapts the client to the agent pipeline.
type Fetcher struct {
	client *Client
}

// NewFetcher creates a short-interest fetcher.
func NewFetcher(client *Client) *Fetcher {
	return &Fetcher{client: client}
}

type shortsPayload struct {
	Ticker string                `json:"ticker"`
	Shorts *models.ShortInterest `json:"shorts"`
}

// Fetch implements agent.Fetcher. A snapshot with the same settlement date
// as the current payload carries nothing new.
func (f *Fetcher) Fetch(ctx context.Context, symbol string, current json.RawMessage) (json.RawMessage, error) {
	snapshot, err := f.client.GetShortInterest(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if current != nil {
		var existing shortsPayload
		if err := json.Unmarshal(current, &existing); err == nil &&
			existing.Shorts != nil &&
			existing.Shorts.SettlementDate == snapshot.SettlementDate {
			return nil, nil
		}
	}

	raw, err := json.Marshal(shortsPayload{Ticker: symbol, Shorts: snapshot})
	if err != nil {
		return nil, fmt.Errorf("encoding shorts payload: %w", err)
	}
	return raw, nil
}
