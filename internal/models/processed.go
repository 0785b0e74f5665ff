package models

import "time"

// ProcessedSet is a per-agent persisted set of symbols already handled since
// the last daily reset. The embedded wipe timestamp lets the set
// self-invalidate when the day rolls over, surviving process restarts
// without re-fetching slow-changing data.
type ProcessedSet struct {
	WipedAt time.Time       `json:"wipedAt"`
	Tickers map[string]bool `json:"tickers"`
}

// NewProcessedSet creates an empty set stamped with the given wipe time.
func NewProcessedSet(wipedAt time.Time) *ProcessedSet {
	return &ProcessedSet{
		WipedAt: wipedAt,
		Tickers: make(map[string]bool),
	}
}

// Has reports whether the symbol was already handled.
func (p *ProcessedSet) Has(ticker string) bool {
	return p.Tickers[ticker]
}

// Mark records the symbol as handled.
func (p *ProcessedSet) Mark(ticker string) {
	if p.Tickers == nil {
		p.Tickers = make(map[string]bool)
	}
	p.Tickers[ticker] = true
}

// EnsureCurrent clears the set when its wipe stamp predates the given
// midnight. Returns true if the set was reset.
func (p *ProcessedSet) EnsureCurrent(midnight time.Time) bool {
	if !p.WipedAt.Before(midnight) {
		return false
	}
	p.WipedAt = midnight
	p.Tickers = make(map[string]bool)
	return true
}
