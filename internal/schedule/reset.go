// Package schedule implements the daily reset of the shared stores and the
// intraday deactivation pass.
package schedule

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bobmcallan/vigil/internal/common"
	"github.com/bobmcallan/vigil/internal/store"
)

// Resetter wipes the managed JSON stores to their empty baseline once per
// calendar day and optionally deactivates all tickers at a configured
// intraday cutoff. Both checks are idempotent and restart-safe: the wipe
// compares midnights, so running twice on one day is a no-op and a long
// outage still wipes exactly once.
type Resetter struct {
	recordStore *store.Store
	stampPath   string   // last-wipe timestamp file
	managed     []string // JSON stores replaced with {} on wipe
	tickersPath string   // store deactivated (not wiped) at the intraday cutoff
	cfg         common.ScheduleConfig
	logger      *common.Logger

	now func() time.Time
}

// NewResetter creates a resetter over the given stamp file and managed
// stores. tickersPath must also appear in managed if it should be wiped.
func NewResetter(rs *store.Store, stampPath, tickersPath string, managed []string, cfg common.ScheduleConfig, logger *common.Logger) *Resetter {
	return &Resetter{
		recordStore: rs,
		stampPath:   stampPath,
		managed:     managed,
		tickersPath: tickersPath,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// Midnight truncates t to local midnight in the configured timezone.
func (r *Resetter) Midnight(t time.Time) time.Time {
	loc := r.cfg.Location()
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// LastWipe returns the stored wipe timestamp, zero when absent or unreadable.
func (r *Resetter) LastWipe() time.Time {
	data, err := os.ReadFile(r.stampPath)
	if err != nil {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		r.logger.Warn().Str("path", r.stampPath).Err(err).Msg("Unreadable wipe stamp, treating as never wiped")
		return time.Time{}
	}
	return ts
}

// CheckAndWipe wipes every managed store to {} when the current local
// midnight is strictly after the stored one, then advances the stamp.
// Returns true if a wipe happened.
func (r *Resetter) CheckAndWipe() (bool, error) {
	today := r.Midnight(r.now())
	last := r.LastWipe()
	if !last.IsZero() && !today.After(r.Midnight(last)) {
		return false, nil
	}
	if err := r.wipe(today); err != nil {
		return false, err
	}
	return true, nil
}

// ForceWipe wipes unconditionally, regardless of the stamp. Operator use.
func (r *Resetter) ForceWipe() error {
	return r.wipe(r.Midnight(r.now()))
}

func (r *Resetter) wipe(midnight time.Time) error {
	for _, path := range r.managed {
		if err := r.recordStore.Replace(path, map[string]interface{}{}); err != nil {
			return fmt.Errorf("wiping %s: %w", path, err)
		}
	}

	if err := os.WriteFile(r.stampPath, []byte(midnight.Format(time.RFC3339)+"\n"), 0644); err != nil {
		return fmt.Errorf("writing wipe stamp: %w", err)
	}

	r.logger.Info().
		Time("midnight", midnight).
		Int("stores", len(r.managed)).
		Msg("Daily wipe complete")
	return nil
}

// DeactivateAll marks every ticker inactive without clearing history. This
// is the intraday cutoff transition, distinct from the full wipe.
func (r *Resetter) DeactivateAll() error {
	records, err := r.recordStore.ReadTickers(r.tickersPath)
	if err != nil {
		return err
	}
	changed := make(map[string]bool)
	for symbol, rec := range records {
		if rec.IsActive {
			rec.IsActive = false
			changed[symbol] = true
		}
	}
	if len(changed) == 0 {
		return nil
	}
	if err := r.recordStore.WriteTickers(r.tickersPath, records); err != nil {
		return err
	}
	r.logger.Info().Int("tickers", len(changed)).Msg("Intraday deactivation complete")
	return nil
}

// deactivateDue reports whether now falls on the configured HH:MM cutoff.
func (r *Resetter) deactivateDue(now time.Time) bool {
	if r.cfg.DeactivateAt == "" {
		return false
	}
	parts := strings.SplitN(r.cfg.DeactivateAt, ":", 2)
	if len(parts) != 2 {
		return false
	}
	hh, err1 := strconv.Atoi(parts[0])
	mm, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return false
	}
	local := now.In(r.cfg.Location())
	return local.Hour() == hh && local.Minute() == mm
}

// Run checks the wipe on startup, then re-checks every minute along with
// the intraday cutoff, until the context is done.
func (r *Resetter) Run(ctx context.Context) {
	if _, err := r.CheckAndWipe(); err != nil {
		r.logger.Warn().Err(err).Msg("Startup wipe check failed")
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	var lastDeactivate time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.CheckAndWipe(); err != nil {
				r.logger.Warn().Err(err).Msg("Wipe check failed")
			}
			now := r.now()
			if r.deactivateDue(now) && !r.Midnight(now).Equal(r.Midnight(lastDeactivate)) {
				if err := r.DeactivateAll(); err != nil {
					r.logger.Warn().Err(err).Msg("Intraday deactivation failed")
				} else {
					lastDeactivate = now
				}
			}
		}
	}
}
