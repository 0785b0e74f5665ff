// Package agent provides the processing pipeline shared by every polling
// agent: fetch, filter, merge into the shared store, notify. The per-site
// fetch logic lives behind the Fetcher interface; everything stateful
// (throttle, retry pool, processed set) is owned by the Agent instance, not
// package globals, so agents are instantiable and testable.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/bobmcallan/vigil/internal/common"
	"github.com/bobmcallan/vigil/internal/models"
	"github.com/bobmcallan/vigil/internal/store"
	"github.com/bobmcallan/vigil/internal/throttle"
	"github.com/bobmcallan/vigil/internal/watch"
)

// Fetcher retrieves one symbol's enrichment payload, already filtered and
// transformed for the agent's domain file. current is the symbol's existing
// payload in that file (nil when absent) so fetchers can dedupe against what
// is already recorded. A nil payload with a nil error means nothing new.
type Fetcher interface {
	Fetch(ctx context.Context, symbol string, current json.RawMessage) (json.RawMessage, error)
}

// RateLimitedError is implemented by client errors that represent an
// upstream rate-limit response; the agent feeds those into the throttle
// instead of the plain retry path.
type RateLimitedError interface {
	RateLimited() bool
}

func isRateLimited(err error) bool {
	var rl RateLimitedError
	return errors.As(err, &rl) && rl.RateLimited()
}

// Config describes one agent instance.
type Config struct {
	Name          string
	TickersPath   string // shared ticker map the agent watches for work
	OutputPath    string // per-domain enrichment map the agent writes
	ProcessedPath string // processed-set file; "" fetches every pass
	Watch         watch.Options
	MaxAttempts   int
	RetryBackoff  time.Duration
	Location      *time.Location
}

// Agent runs the fetch→filter→merge→notify pipeline for one data source.
type Agent struct {
	cfg      Config
	store    *store.Store
	fetcher  Fetcher
	throttle *throttle.Throttle
	retry    *throttle.RetryPool
	logger   *common.Logger

	// OnMerged, when set, is invoked after a symbol's payload lands in the
	// domain file. The monitor wires alert sinks here.
	OnMerged func(symbol string)
}

// New creates an agent.
func New(cfg Config, rs *store.Store, fetcher Fetcher, th *throttle.Throttle, logger *common.Logger) *Agent {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Agent{
		cfg:      cfg,
		store:    rs,
		fetcher:  fetcher,
		throttle: th,
		retry:    throttle.NewRetryPool(cfg.MaxAttempts, cfg.RetryBackoff, logger),
		logger:   logger,
	}
}

// Run watches the shared ticker file and executes processing passes until
// the context is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	watcher, err := watch.New(a.cfg.TickersPath, a.cfg.Watch, a.logger)
	if err != nil {
		return err
	}
	defer watcher.Close()

	a.logger.Info().
		Str("tickers", a.cfg.TickersPath).
		Str("output", a.cfg.OutputPath).
		Msg("Agent watching")

	watcher.Run(ctx, a.Pass)
	return nil
}

// Pass executes one pipeline pass: read the ticker list, compute the
// candidates, fetch each paced by the throttle, then drain the retry pool.
func (a *Agent) Pass(ctx context.Context) {
	records, err := a.store.ReadTickers(a.cfg.TickersPath)
	if err != nil {
		// Lock contention is routine; skip the cycle, the next trigger retries
		a.logger.Warn().Err(err).Msg("Skipping pass, ticker read failed")
		return
	}

	candidates := a.candidates(records)
	if len(candidates) == 0 {
		return
	}
	a.logger.Debug().Int("candidates", len(candidates)).Msg("Processing pass starting")

	for _, symbol := range candidates {
		if ctx.Err() != nil {
			return
		}
		if err := a.throttle.Wait(ctx); err != nil {
			return
		}
		a.fetchOne(ctx, symbol)
	}

	a.retry.Drain(ctx, func(ctx context.Context, symbol string) error {
		if err := a.throttle.Wait(ctx); err != nil {
			return err
		}
		err := a.fetchMerge(ctx, symbol)
		if err == nil {
			a.throttle.Success()
			a.markProcessed(symbol)
		} else if isRateLimited(err) {
			a.throttle.RateLimited()
		}
		return err
	})
}

// candidates returns the active symbols this pass should fetch, honoring
// the processed set when one is configured.
func (a *Agent) candidates(records map[string]*models.TickerRecord) []string {
	var processed *models.ProcessedSet
	if a.cfg.ProcessedPath != "" {
		processed = a.store.LoadProcessed(a.cfg.ProcessedPath)
		midnight := a.midnight(time.Now())
		if processed.EnsureCurrent(midnight) {
			a.logger.Info().Time("midnight", midnight).Msg("Processed set rolled over")
		}
	}

	var symbols []string
	for symbol, rec := range records {
		if !rec.IsActive {
			continue
		}
		if processed != nil && processed.Has(symbol) {
			continue
		}
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// fetchOne runs a single fetch, updating the throttle and routing failures
// to the retry pool. Steady-state errors never escape the pass.
func (a *Agent) fetchOne(ctx context.Context, symbol string) {
	err := a.fetchMerge(ctx, symbol)
	switch {
	case err == nil:
		a.throttle.Success()
		a.markProcessed(symbol)
	case isRateLimited(err):
		a.throttle.RateLimited()
		a.retry.Add(symbol)
		a.logger.Warn().
			Str("ticker", symbol).
			Dur("delay", a.throttle.Delay()).
			Msg("Rate limited, backing off")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Shutdown in progress
	default:
		a.retry.Add(symbol)
		a.logger.Debug().Str("ticker", symbol).Err(err).Msg("Fetch failed, queued for retry")
	}
}

// fetchMerge fetches a symbol's payload and merges it into the domain file.
// The current payload is re-read inside the call so retries see the latest
// on-disk state.
func (a *Agent) fetchMerge(ctx context.Context, symbol string) error {
	var current json.RawMessage
	if doc, err := a.store.Read(a.cfg.OutputPath); err == nil {
		current = doc[symbol]
	}

	payload, err := a.fetcher.Fetch(ctx, symbol, current)
	if err != nil {
		return err
	}
	if payload == nil {
		a.markProcessed(symbol)
		return nil
	}

	if err := a.store.Write(a.cfg.OutputPath, store.Document{symbol: payload}); err != nil {
		return err
	}

	a.logger.Info().Str("ticker", symbol).Msg("Merged update")
	if a.OnMerged != nil {
		a.OnMerged(symbol)
	}
	return nil
}

// markProcessed records the symbol in the processed set, if tracking.
func (a *Agent) markProcessed(symbol string) {
	if a.cfg.ProcessedPath == "" {
		return
	}
	processed := a.store.LoadProcessed(a.cfg.ProcessedPath)
	processed.EnsureCurrent(a.midnight(time.Now()))
	processed.Mark(symbol)
	if err := a.store.SaveProcessed(a.cfg.ProcessedPath, processed); err != nil {
		a.logger.Warn().Str("ticker", symbol).Err(err).Msg("Failed to persist processed set")
	}
}

func (a *Agent) midnight(t time.Time) time.Time {
	local := t.In(a.cfg.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, a.cfg.Location)
}
