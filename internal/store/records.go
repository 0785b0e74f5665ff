package store

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/bobmcallan/vigil/internal/models"
)

// Typed access layered over the raw document operations. Every agent goes
// through these; nothing else mutates the shared files.

// ReadTickers decodes the full ticker map from path.
func (s *Store) ReadTickers(path string) (map[string]*models.TickerRecord, error) {
	doc, err := s.Read(path)
	if err != nil {
		return nil, err
	}
	records := make(map[string]*models.TickerRecord, len(doc))
	for symbol, raw := range doc {
		var rec models.TickerRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			s.logger.Warn().Str("ticker", symbol).Err(err).Msg("Skipping undecodable ticker record")
			continue
		}
		records[symbol] = &rec
	}
	return records, nil
}

// WriteTickers shallow-merges the given records into path keyed by symbol.
// Each record replaces the whole previous sub-object for its symbol, so
// callers must pass fully updated records, not deep-partials.
func (s *Store) WriteTickers(path string, records map[string]*models.TickerRecord) error {
	partial := make(Document, len(records))
	for symbol, rec := range records {
		raw, err := Encode(rec)
		if err != nil {
			return fmt.Errorf("encoding record for %s: %w", symbol, err)
		}
		partial[symbol] = raw
	}
	return s.Write(path, partial)
}

// ReadWatchlist decodes the operator watchlist from path.
func (s *Store) ReadWatchlist(path string) (map[string]*models.WatchlistEntry, error) {
	doc, err := s.Read(path)
	if err != nil {
		return nil, err
	}
	entries := make(map[string]*models.WatchlistEntry, len(doc))
	for symbol, raw := range doc {
		var e models.WatchlistEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		entries[symbol] = &e
	}
	return entries, nil
}

// AddToWatchlist pins a symbol.
func (s *Store) AddToWatchlist(path, symbol string) error {
	raw, err := Encode(&models.WatchlistEntry{Ticker: symbol})
	if err != nil {
		return err
	}
	return s.Write(path, Document{symbol: raw})
}

// DeleteKeys removes top-level keys from the document at path. The merge
// contract in Write can only add or replace keys; removal (watchlist
// unpinning) needs its own critical section.
func (s *Store) DeleteKeys(path string, keys ...string) error {
	token, err := s.locks.Acquire(path)
	if err != nil {
		return err
	}
	defer s.locks.Release(path, token)

	release, err := s.lockSidecar(path)
	if err != nil {
		return err
	}
	defer release()

	current := s.readLocked(path)
	for _, k := range keys {
		delete(current, k)
	}
	return writeAtomic(path, current)
}

// LoadProcessed reads an agent's processed set. A missing or unreadable
// file yields a fresh empty set; processed files are single-owner, so no
// sidecar lock is needed on the read side.
func (s *Store) LoadProcessed(path string) *models.ProcessedSet {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.NewProcessedSet(time.Time{})
	}
	var set models.ProcessedSet
	if err := json.Unmarshal(data, &set); err != nil {
		s.logger.Warn().Str("path", path).Err(err).Msg("Processed set decode failed, starting fresh")
		return models.NewProcessedSet(time.Time{})
	}
	if set.Tickers == nil {
		set.Tickers = make(map[string]bool)
	}
	return &set
}

// SaveProcessed persists an agent's processed set, replacing the whole file.
func (s *Store) SaveProcessed(path string, set *models.ProcessedSet) error {
	return s.Replace(path, set)
}
