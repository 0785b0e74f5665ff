// Package models defines data structures for Vigil
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// flexID handles news item identifiers that upstream APIs deliver as either
// a JSON number or a string.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexID(num.String())
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into news id", string(data))
}

func (f flexID) MarshalJSON() ([]byte, error) {
	// Preserve numeric ids as numbers on the way back out. ParseInt accepts
	// forms that are not valid JSON numbers ("007", "+7"), so only emit raw
	// when the canonical rendering matches the stored string.
	if n, err := strconv.ParseInt(string(f), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(f) {
		return []byte(f), nil
	}
	return json.Marshal(string(f))
}

// NewsItem is a single news story attached to a ticker. Items are kept
// newest-first; AddedAt marks first local observation, distinct from the
// upstream CreatedAt.
type NewsItem struct {
	ID        flexID    `json:"id"`
	Headline  string    `json:"headline"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
	AddedAt   time.Time `json:"added_at,omitempty"`
}

// NewsID builds a NewsItem id from its string form.
func NewsID(id string) flexID {
	return flexID(id)
}

// ShortInterest is a short-interest snapshot for a ticker.
type ShortInterest struct {
	SettlementDate string    `json:"settlement_date"`
	ShortInterest  float64   `json:"short_interest"`   // shares, K/M suffixes normalized
	AvgDailyVolume float64   `json:"avg_daily_volume"` // shares
	ShortFloatPct  float64   `json:"short_float_pct"`  // percent of float sold short
	ShortRatio     float64   `json:"short_ratio"`      // days to cover
	FetchedAt      time.Time `json:"fetched_at,omitempty"`
}

// Filing is one regulatory filing record.
type Filing struct {
	Form        string `json:"form"`
	Description string `json:"description,omitempty"`
	Date        string `json:"date"`
}

// FinancialSnapshot holds headline figures from a periodic statement source.
type FinancialSnapshot struct {
	NetIncome    float64   `json:"net_income"`
	NetCashFlow  float64   `json:"net_cash_flow"`
	CashPosition float64   `json:"cash_position"`
	PeriodEnd    string    `json:"period_end,omitempty"`
	FetchedAt    time.Time `json:"fetched_at,omitempty"`
}

// TickerRecord is the shared per-symbol document enriched by every agent.
// Keys are never deleted once created, only deactivated, until the daily
// wipe replaces the whole store.
type TickerRecord struct {
	Ticker     string             `json:"ticker"`
	IsActive   bool               `json:"isActive"`
	News       []NewsItem         `json:"news"`
	Shorts     *ShortInterest     `json:"shorts,omitempty"`
	Filings    []Filing           `json:"filings,omitempty"`
	Financials *FinancialSnapshot `json:"financials,omitempty"`

	// Scanner-derived metadata from the discovery feed
	Float     float64   `json:"float,omitempty"`
	Price     float64   `json:"price,omitempty"`
	HOD       float64   `json:"hod,omitempty"` // session high-of-day price
	FirstSeen time.Time `json:"firstSeen,omitempty"`
	LastSeen  time.Time `json:"lastSeen,omitempty"`
}

// NewTickerRecord creates an active record with an empty news list.
func NewTickerRecord(ticker string) *TickerRecord {
	return &TickerRecord{
		Ticker:   ticker,
		IsActive: true,
		News:     []NewsItem{},
	}
}

// AddNews prepends an item (newest-first order) unless an item with the same
// id is already present. Returns true if the item was added. AddedAt is
// stamped at first local observation.
func (r *TickerRecord) AddNews(item NewsItem, now time.Time) bool {
	for _, existing := range r.News {
		if existing.ID == item.ID {
			return false
		}
	}
	if item.AddedAt.IsZero() {
		item.AddedAt = now
	}
	r.News = append([]NewsItem{item}, r.News...)
	r.IsActive = true
	return true
}

// HasNews reports whether an item with the given id is already recorded.
func (r *TickerRecord) HasNews(id flexID) bool {
	for _, existing := range r.News {
		if existing.ID == id {
			return true
		}
	}
	return false
}

// WatchlistEntry is a manually pinned symbol. The watchlist has an
// independent lifecycle from the ticker store: explicit add/remove only.
type WatchlistEntry struct {
	Ticker string `json:"ticker"`
}

// SanitizeTicker normalizes a symbol to uppercase [A-Z]+ and reports whether
// the result is a usable ticker (two or more letters).
func SanitizeTicker(raw string) (string, bool) {
	var b strings.Builder
	for _, c := range strings.ToUpper(strings.TrimSpace(raw)) {
		if c >= 'A' && c <= 'Z' {
			b.WriteRune(c)
		}
	}
	s := b.String()
	return s, len(s) >= 2
}

// ParseShareCount normalizes a share-count string with an optional K/M/B
// suffix ("4.5M" -> 4500000). Commas are tolerated.
func ParseShareCount(raw string) (float64, error) {
	s := strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(raw, ",", "")))
	if s == "" || s == "N/A" || s == "-" {
		return 0, nil
	}
	mult := 1.0
	switch s[len(s)-1] {
	case 'K':
		mult = 1e3
		s = s[:len(s)-1]
	case 'M':
		mult = 1e6
		s = s[:len(s)-1]
	case 'B':
		mult = 1e9
		s = s[:len(s)-1]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse share count '%s': %w", raw, err)
	}
	return v * mult, nil
}
