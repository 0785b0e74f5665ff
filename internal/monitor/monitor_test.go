package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/bobmcallan/vigil/internal/common"
	"github.com/bobmcallan/vigil/internal/models"
	"github.com/bobmcallan/vigil/internal/notify"
	"github.com/bobmcallan/vigil/internal/store"
)

func newTestMonitor(t *testing.T) (*Monitor, *store.Store, Paths, notify.Subscriber, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	logger := common.NewSilentLogger()
	recordStore := store.NewStore(logger, common.StoreConfig{LockTimeout: "2s"})

	paths := Paths{
		Tickers:    filepath.Join(dir, "tickers.json"),
		News:       filepath.Join(dir, "news.json"),
		Shorts:     filepath.Join(dir, "shorts.json"),
		Filings:    filepath.Join(dir, "filings.json"),
		Financials: filepath.Join(dir, "financials.json"),
		Watchlist:  filepath.Join(dir, "watchlist.json"),
	}

	broker := notify.NewBroker()
	sub := broker.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go broker.Run(ctx)

	alerter := notify.NewAlerter(broker, common.AlertsConfig{MinInterval: "1ms"}, logger)
	var out bytes.Buffer
	m := New(recordStore, paths, alerter, logger, &out)
	return m, recordStore, paths, sub, &out
}

func writeDomain(t *testing.T, s *store.Store, path, symbol string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := s.Write(path, store.Document{symbol: raw}); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func expectEvent(t *testing.T, sub notify.Subscriber, wantType notify.EventType, wantTicker string) {
	t.Helper()
	select {
	case event := <-sub:
		if event.Type != wantType || event.Ticker != wantTicker {
			t.Errorf("expected %s/%s, got %s/%s", wantType, wantTicker, event.Type, event.Ticker)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no %s event for %s", wantType, wantTicker)
	}
}

func expectNoEvent(t *testing.T, sub notify.Subscriber) {
	t.Helper()
	select {
	case event := <-sub:
		t.Errorf("unexpected event %s for %s", event.Type, event.Ticker)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSyncMergesDomainsIntoTickers(t *testing.T) {
	m, recordStore, paths, _, _ := newTestMonitor(t)

	created := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	writeDomain(t, recordStore, paths.News, "AAPL", newsPayload{
		Ticker: "AAPL", IsActive: true,
		News: []models.NewsItem{{ID: "1", Headline: "Offering priced", CreatedAt: created}},
	})
	writeDomain(t, recordStore, paths.Shorts, "AAPL", shortsPayload{
		Ticker: "AAPL",
		Shorts: &models.ShortInterest{SettlementDate: "08/15/2026", ShortFloatPct: 12.4},
	})
	writeDomain(t, recordStore, paths.Filings, "AAPL", filingsPayload{
		Ticker:  "AAPL",
		Filings: []models.Filing{{Form: "S-3", Date: "2026-08-20"}},
	})
	writeDomain(t, recordStore, paths.Financials, "AAPL", financialsPayload{
		Ticker:     "AAPL",
		Financials: &models.FinancialSnapshot{NetIncome: -4.2e6, PeriodEnd: "2026-06-30"},
	})

	if err := m.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	records, err := recordStore.ReadTickers(paths.Tickers)
	if err != nil {
		t.Fatalf("ReadTickers failed: %v", err)
	}
	rec, ok := records["AAPL"]
	if !ok {
		t.Fatal("AAPL record missing after merge")
	}
	if !rec.IsActive {
		t.Error("active news payload should activate the record")
	}
	if len(rec.News) != 1 || rec.News[0].Headline != "Offering priced" {
		t.Errorf("news not merged: %+v", rec.News)
	}
	if rec.Shorts == nil || rec.Shorts.SettlementDate != "08/15/2026" {
		t.Errorf("shorts not merged: %+v", rec.Shorts)
	}
	if len(rec.Filings) != 1 || rec.Filings[0].Form != "S-3" {
		t.Errorf("filings not merged: %+v", rec.Filings)
	}
	if rec.Financials == nil || rec.Financials.PeriodEnd != "2026-06-30" {
		t.Errorf("financials not merged: %+v", rec.Financials)
	}
}

func TestFirstSyncSeedsWithoutAlerting(t *testing.T) {
	m, recordStore, paths, sub, _ := newTestMonitor(t)

	created := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	writeDomain(t, recordStore, paths.News, "AAPL", newsPayload{
		Ticker: "AAPL", IsActive: true,
		News: []models.NewsItem{{ID: "1", Headline: "Stale restart replay", CreatedAt: created}},
	})

	if err := m.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	expectNoEvent(t, sub)
}

func TestNewHeadlineAfterSeedAlerts(t *testing.T) {
	m, recordStore, paths, sub, _ := newTestMonitor(t)

	created := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	writeDomain(t, recordStore, paths.News, "AAPL", newsPayload{
		Ticker: "AAPL", IsActive: true,
		News: []models.NewsItem{{ID: "1", Headline: "First", CreatedAt: created}},
	})
	if err := m.Sync(context.Background()); err != nil {
		t.Fatalf("seed sync failed: %v", err)
	}

	writeDomain(t, recordStore, paths.News, "AAPL", newsPayload{
		Ticker: "AAPL", IsActive: true,
		News: []models.NewsItem{
			{ID: "2", Headline: "Second, fresh", CreatedAt: created.Add(time.Hour)},
			{ID: "1", Headline: "First", CreatedAt: created},
		},
	})
	if err := m.Sync(context.Background()); err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	expectEvent(t, sub, notify.EventNews, "AAPL")
}

func TestUnchangedHeadlineDoesNotReAlert(t *testing.T) {
	m, recordStore, paths, sub, _ := newTestMonitor(t)

	created := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	writeDomain(t, recordStore, paths.News, "AAPL", newsPayload{
		Ticker: "AAPL", IsActive: true,
		News: []models.NewsItem{{ID: "1", Headline: "Only", CreatedAt: created}},
	})

	for i := 0; i < 3; i++ {
		if err := m.Sync(context.Background()); err != nil {
			t.Fatalf("sync %d failed: %v", i, err)
		}
	}
	expectNoEvent(t, sub)
}

func TestNewFilingAlerts(t *testing.T) {
	m, recordStore, paths, sub, _ := newTestMonitor(t)

	if err := m.Sync(context.Background()); err != nil {
		t.Fatalf("seed sync failed: %v", err)
	}

	writeDomain(t, recordStore, paths.Filings, "AAPL", filingsPayload{
		Ticker:  "AAPL",
		Filings: []models.Filing{{Form: "S-1", Date: "2026-08-29"}},
	})
	if err := m.Sync(context.Background()); err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	expectEvent(t, sub, notify.EventFiling, "AAPL")
}

func TestHighOfDayPromotionAndAlert(t *testing.T) {
	m, recordStore, paths, sub, _ := newTestMonitor(t)

	records := map[string]*models.TickerRecord{
		"AAPL": {Ticker: "AAPL", IsActive: true, Price: 5.00, HOD: 4.80},
	}
	if err := recordStore.WriteTickers(paths.Tickers, records); err != nil {
		t.Fatalf("seed tickers: %v", err)
	}

	// First sync seeds; HOD is promoted silently
	if err := m.Sync(context.Background()); err != nil {
		t.Fatalf("seed sync failed: %v", err)
	}
	expectNoEvent(t, sub)

	got, _ := recordStore.ReadTickers(paths.Tickers)
	if got["AAPL"].HOD != 5.00 {
		t.Errorf("HOD should track price on seed, got %v", got["AAPL"].HOD)
	}

	// A higher print after seeding alerts
	got["AAPL"].Price = 5.50
	if err := recordStore.WriteTickers(paths.Tickers, got); err != nil {
		t.Fatalf("update price: %v", err)
	}
	if err := m.Sync(context.Background()); err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	expectEvent(t, sub, notify.EventHighOfDay, "AAPL")
}

func TestSyncCreatesRecordForUnknownSymbol(t *testing.T) {
	m, recordStore, paths, _, out := newTestMonitor(t)

	writeDomain(t, recordStore, paths.Shorts, "NEWT", shortsPayload{
		Ticker: "NEWT",
		Shorts: &models.ShortInterest{SettlementDate: "08/15/2026"},
	})
	if err := m.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	records, _ := recordStore.ReadTickers(paths.Tickers)
	if _, ok := records["NEWT"]; !ok {
		t.Error("merge should create records for symbols agents saw first")
	}
	if out.Len() == 0 {
		t.Error("sync should redraw the table")
	}
}
