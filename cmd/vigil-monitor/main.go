package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobmcallan/vigil/internal/app"
	"github.com/bobmcallan/vigil/internal/common"
	"github.com/bobmcallan/vigil/internal/monitor"
	"github.com/bobmcallan/vigil/internal/notify"
	"github.com/bobmcallan/vigil/internal/render"
	"github.com/bobmcallan/vigil/internal/schedule"
)

func main() {
	var (
		verbose    = flag.Bool("v", false, "debug logging")
		configPath = flag.String("config", "", "config file path")
	)
	flag.Parse()

	a, err := app.NewApp("monitor", *configPath, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}

	common.PrintBanner("monitor", a.Config, a.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broker := notify.NewBroker()
	go broker.Run(ctx)

	alerter := notify.NewAlerter(broker, a.Config.Alerts, a.Logger)

	// Scrollback of alert events alongside the table
	sub := broker.Subscribe()
	go func() {
		for event := range sub {
			fmt.Println(render.RenderEvent(event.Ticker, event.Message, event.Timestamp))
		}
	}()

	paths := monitor.Paths{
		Tickers:    a.DataFile(app.TickersFile),
		News:       a.DataFile(app.NewsFile),
		Shorts:     a.DataFile(app.ShortsFile),
		Filings:    a.DataFile(app.FilingsFile),
		Financials: a.DataFile(app.FinancialsFile),
		Watchlist:  a.DataFile(app.WatchlistFile),
	}

	// The monitor owns the daily lifecycle: midnight wipe of the managed
	// stores (the ticker map included) and the intraday deactivate cutoff.
	resetter := schedule.NewResetter(a.Store, a.DataFile(app.LastWipeFile), paths.Tickers, a.ManagedFiles(), a.Config.Schedule, a.Logger)
	go resetter.Run(ctx)

	m := monitor.New(a.Store, paths, alerter, a.Logger, os.Stdout)
	m.SetThresholds(render.Thresholds{
		PriceMin: a.Config.Alerts.PriceMin,
		PriceMax: a.Config.Alerts.PriceMax,
		FloatMax: a.Config.Alerts.FloatMax,
	})

	a.Logger.Info().
		Str("data_path", a.Config.DataPath).
		Str("startup", a.StartupTime.Format(time.RFC3339)).
		Msg("Monitor ready")

	if err := m.Run(ctx); err != nil && ctx.Err() == nil {
		a.Logger.Error().Err(err).Msg("Monitor failed")
		os.Exit(1)
	}
	a.Logger.Info().Msg("Monitor stopped")
}
