package newsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bobmcallan/vigil/internal/common"
	"github.com/bobmcallan/vigil/internal/models"
)

// Fetcher adapts the news client to the agent pipeline: fetch items for a
// symbol, drop unwanted-keyword headlines, dedupe against what the domain
// file already holds, and emit the full updated record (newest-first).
type Fetcher struct {
	client   *Client
	keywords []string // lowercased unwanted substrings
	limit    int
	logger   *common.Logger
	now      func() time.Time
}

// NewFetcher creates a news fetcher. The keyword list comes from config; it
// is matched case-insensitively as substrings of the headline.
func NewFetcher(client *Client, unwantedKeywords []string, logger *common.Logger) *Fetcher {
	keywords := make([]string, 0, len(unwantedKeywords))
	for _, k := range unwantedKeywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			keywords = append(keywords, k)
		}
	}
	return &Fetcher{
		client:   client,
		keywords: keywords,
		limit:    50,
		logger:   logger,
		now:      time.Now,
	}
}

// newsPayload is the per-symbol sub-object stored in news.json.
type newsPayload struct {
	Ticker   string            `json:"ticker"`
	IsActive bool              `json:"isActive"`
	News     []models.NewsItem `json:"news"`
}

// Fetch implements agent.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, symbol string, current json.RawMessage) (json.RawMessage, error) {
	existing := newsPayload{Ticker: symbol, News: []models.NewsItem{}}
	if current != nil {
		if err := json.Unmarshal(current, &existing); err != nil {
			f.logger.Warn().Str("ticker", symbol).Err(err).Msg("Undecodable news payload, starting fresh")
			existing = newsPayload{Ticker: symbol, News: []models.NewsItem{}}
		}
	}

	since := time.Time{}
	if len(existing.News) > 0 {
		// Newest-first: the head item bounds the query window
		since = existing.News[0].CreatedAt
	}

	items, err := f.client.GetNews(ctx, symbol, since, f.limit)
	if err != nil {
		return nil, err
	}

	record := models.TickerRecord{Ticker: symbol, IsActive: existing.IsActive, News: existing.News}
	added := 0
	now := f.now()
	// Walk oldest-to-newest so prepending keeps newest-first order
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		if f.unwanted(item.Headline) {
			continue
		}
		if record.AddNews(item, now) {
			added++
		}
	}

	if added == 0 {
		return nil, nil
	}

	f.logger.Debug().Str("ticker", symbol).Int("added", added).Msg("New headlines")
	payload := newsPayload{Ticker: symbol, IsActive: true, News: record.News}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding news payload: %w", err)
	}
	return raw, nil
}

// unwanted reports whether the headline matches the configured filter list.
func (f *Fetcher) unwanted(headline string) bool {
	h := strings.ToLower(headline)
	for _, k := range f.keywords {
		if strings.Contains(h, k) {
			return true
		}
	}
	return false
}
