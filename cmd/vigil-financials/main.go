package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobmcallan/vigil/internal/agent"
	"github.com/bobmcallan/vigil/internal/app"
	"github.com/bobmcallan/vigil/internal/clients/finstmt"
	"github.com/bobmcallan/vigil/internal/common"
	"github.com/bobmcallan/vigil/internal/throttle"
	"github.com/bobmcallan/vigil/internal/watch"
)

func main() {
	var (
		verbose    = flag.Bool("v", false, "debug logging")
		configPath = flag.String("config", "", "config file path")
	)
	flag.Parse()

	a, err := app.NewApp("financials", *configPath, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}

	common.PrintBanner("financials", a.Config, a.Logger)

	cc := a.Config.Clients.Financials
	client := finstmt.NewClient(cc.BaseURL, cc.APIKey,
		finstmt.WithLogger(a.Logger),
		finstmt.WithRateLimit(cc.RateLimit),
		finstmt.WithTimeout(cc.GetTimeout()),
	)
	fetcher := finstmt.NewFetcher(client)

	ag := agent.New(agent.Config{
		Name:          "financials",
		TickersPath:   a.DataFile(app.TickersFile),
		OutputPath:    a.DataFile(app.FinancialsFile),
		ProcessedPath: a.ProcessedFile("financials"),
		Watch: watch.Options{
			Debounce: 500 * time.Millisecond,
			Jitter:   250 * time.Millisecond,
			Interval: 15 * time.Minute,
		},
		Location: a.Config.Schedule.Location(),
	}, a.Store, fetcher, throttle.FromConfig(a.Config.Throttle.Financials), a.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ag.Run(ctx); err != nil && ctx.Err() == nil {
		a.Logger.Error().Err(err).Msg("Agent failed")
		os.Exit(1)
	}
	a.Logger.Info().Msg("Agent stopped")
}
