// Package monitor folds the per-domain data files into the shared ticker
// map, raises alerts on fresh material, and drives the terminal view.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bobmcallan/vigil/internal/common"
	"github.com/bobmcallan/vigil/internal/models"
	"github.com/bobmcallan/vigil/internal/notify"
	"github.com/bobmcallan/vigil/internal/render"
	"github.com/bobmcallan/vigil/internal/store"
	"github.com/bobmcallan/vigil/internal/watch"
)

// Paths names the shared files the monitor consumes and produces.
type Paths struct {
	Tickers    string
	News       string
	Shorts     string
	Filings    string
	Financials string
	Watchlist  string
}

// Monitor owns the read side of the pipeline: agents write domain files,
// the monitor merges them into the ticker map and tells the operator.
type Monitor struct {
	recordStore *store.Store
	paths       Paths
	alerter     *notify.Alerter
	renderer    *render.Renderer
	logger      *common.Logger
	out         io.Writer
	watchOpts   watch.Options

	mu         sync.Mutex
	seenNews   map[string]string // symbol -> newest seen news id
	seenFiling map[string]string // symbol -> newest seen form+date
	seeded     bool
}

// New creates a monitor. out receives the rendered table; pass os.Stdout
// in the binary, a buffer in tests.
func New(recordStore *store.Store, paths Paths, alerter *notify.Alerter, logger *common.Logger, out io.Writer) *Monitor {
	return &Monitor{
		recordStore: recordStore,
		paths:       paths,
		alerter:     alerter,
		renderer:    render.NewRenderer(nil),
		logger:      logger,
		out:         out,
		watchOpts: watch.Options{
			Debounce: 400 * time.Millisecond,
			Jitter:   100 * time.Millisecond,
			Interval: 30 * time.Second,
		},
		seenNews:   make(map[string]string),
		seenFiling: make(map[string]string),
	}
}

// SetThresholds colors the table's price and float columns by the alert band.
func (m *Monitor) SetThresholds(t render.Thresholds) {
	m.renderer.SetThresholds(t)
}

// Run blocks, re-syncing whenever a domain file changes. The first sync
// seeds the seen-sets without alerting so a restart does not replay every
// headline already on disk.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.Sync(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Initial sync failed")
	}

	domainFiles := []string{m.paths.News, m.paths.Shorts, m.paths.Filings, m.paths.Financials}
	var wg sync.WaitGroup
	for _, path := range domainFiles {
		watcher, err := watch.New(path, m.watchOpts, m.logger)
		if err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer watcher.Close()
			watcher.Run(ctx, func(ctx context.Context) {
				if err := m.Sync(ctx); err != nil {
					m.logger.Warn().Err(err).Msg("Sync failed")
				}
			})
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Sync performs one merge pass over all domain files and redraws.
func (m *Monitor) Sync(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.recordStore.ReadTickers(m.paths.Tickers)
	if err != nil {
		return fmt.Errorf("reading tickers: %w", err)
	}

	m.mergeNews(records)
	m.mergeShorts(records)
	m.mergeFilings(records)
	m.mergeFinancials(records)
	m.checkHighOfDay(records)

	if err := m.recordStore.WriteTickers(m.paths.Tickers, records); err != nil {
		return fmt.Errorf("writing tickers: %w", err)
	}
	m.seeded = true

	m.redraw(records)
	return nil
}

// record returns the record for symbol, creating it when an agent saw the
// symbol before the operator added it to the ticker map.
func (m *Monitor) record(records map[string]*models.TickerRecord, symbol string) *models.TickerRecord {
	if rec, ok := records[symbol]; ok {
		return rec
	}
	rec := models.NewTickerRecord(symbol)
	records[symbol] = rec
	return rec
}

type newsPayload struct {
	Ticker   string            `json:"ticker"`
	IsActive bool              `json:"isActive"`
	News     []models.NewsItem `json:"news"`
}

func (m *Monitor) mergeNews(records map[string]*models.TickerRecord) {
	doc, err := m.recordStore.Read(m.paths.News)
	if err != nil {
		m.logger.Warn().Err(err).Msg("News file unavailable, skipping merge")
		return
	}
	for symbol, raw := range doc {
		var payload newsPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			m.logger.Warn().Str("ticker", symbol).Err(err).Msg("Undecodable news payload")
			continue
		}
		if len(payload.News) == 0 {
			continue
		}
		rec := m.record(records, symbol)
		rec.News = payload.News
		if payload.IsActive {
			rec.IsActive = true
		}

		head := string(payload.News[0].ID)
		if m.seenNews[symbol] != head {
			if m.seeded {
				m.alerter.NewsAlert(rec, payload.News[0].Headline)
			}
			m.seenNews[symbol] = head
		}
	}
}

type shortsPayload struct {
	Ticker string                `json:"ticker"`
	Shorts *models.ShortInterest `json:"shorts"`
}

func (m *Monitor) mergeShorts(records map[string]*models.TickerRecord) {
	doc, err := m.recordStore.Read(m.paths.Shorts)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Shorts file unavailable, skipping merge")
		return
	}
	for symbol, raw := range doc {
		var payload shortsPayload
		if err := json.Unmarshal(raw, &payload); err != nil || payload.Shorts == nil {
			continue
		}
		m.record(records, symbol).Shorts = payload.Shorts
	}
}

type filingsPayload struct {
	Ticker  string          `json:"ticker"`
	Filings []models.Filing `json:"filings"`
}

func (m *Monitor) mergeFilings(records map[string]*models.TickerRecord) {
	doc, err := m.recordStore.Read(m.paths.Filings)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Filings file unavailable, skipping merge")
		return
	}
	for symbol, raw := range doc {
		var payload filingsPayload
		if err := json.Unmarshal(raw, &payload); err != nil || len(payload.Filings) == 0 {
			continue
		}
		rec := m.record(records, symbol)
		rec.Filings = payload.Filings

		head := payload.Filings[0].Form + "|" + payload.Filings[0].Date
		if m.seenFiling[symbol] != head {
			if m.seeded {
				m.alerter.FilingAlert(rec, payload.Filings[0].Form)
			}
			m.seenFiling[symbol] = head
		}
	}
}

type financialsPayload struct {
	Ticker     string                    `json:"ticker"`
	Financials *models.FinancialSnapshot `json:"financials"`
}

func (m *Monitor) mergeFinancials(records map[string]*models.TickerRecord) {
	doc, err := m.recordStore.Read(m.paths.Financials)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Financials file unavailable, skipping merge")
		return
	}
	for symbol, raw := range doc {
		var payload financialsPayload
		if err := json.Unmarshal(raw, &payload); err != nil || payload.Financials == nil {
			continue
		}
		m.record(records, symbol).Financials = payload.Financials
	}
}

// checkHighOfDay promotes a price above the session high and alerts on the
// breakout. Prices land on the record out of band (operator or quote feed),
// so the check runs on every merge pass.
func (m *Monitor) checkHighOfDay(records map[string]*models.TickerRecord) {
	for _, rec := range records {
		if rec.Price <= 0 {
			continue
		}
		if rec.HOD > 0 && rec.Price > rec.HOD && m.seeded {
			rec.HOD = rec.Price
			m.alerter.HighOfDayAlert(rec)
			continue
		}
		if rec.Price > rec.HOD {
			rec.HOD = rec.Price
		}
	}
}

func (m *Monitor) redraw(records map[string]*models.TickerRecord) {
	watchlist, err := m.recordStore.ReadWatchlist(m.paths.Watchlist)
	if err == nil {
		symbols := make([]string, 0, len(watchlist))
		for symbol := range watchlist {
			symbols = append(symbols, symbol)
		}
		m.renderer.SetWatchlist(symbols)
	}
	fmt.Fprint(m.out, "\n"+m.renderer.Render(records))
}
