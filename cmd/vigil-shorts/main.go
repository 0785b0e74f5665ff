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
	"github.com/bobmcallan/vigil/internal/clients/shortdata"
	"github.com/bobmcallan/vigil/internal/common"
	"github.com/bobmcallan/vigil/internal/throttle"
	"github.com/bobmcallan/vigil/internal/watch"
)

func main() {
	var (
		verbose    = flag.Bool("v", false, "debug logging")
		useTest    = flag.Bool("t", false, "use the test endpoint")
		configPath = flag.String("config", "", "config file path")
	)
	flag.Parse()

	a, err := app.NewApp("shorts", *configPath, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}

	common.PrintBanner("shorts", a.Config, a.Logger)

	cc := a.Config.Clients.ShortData
	baseURL := cc.BaseURL
	if *useTest && cc.TestBaseURL != "" {
		baseURL = cc.TestBaseURL
	}

	client := shortdata.NewClient(baseURL,
		shortdata.WithLogger(a.Logger),
		shortdata.WithRateLimit(cc.RateLimit),
		shortdata.WithTimeout(cc.GetTimeout()),
	)
	fetcher := shortdata.NewFetcher(client)

	ag := agent.New(agent.Config{
		Name:          "shorts",
		TickersPath:   a.DataFile(app.TickersFile),
		OutputPath:    a.DataFile(app.ShortsFile),
		ProcessedPath: a.ProcessedFile("shorts"),
		Watch: watch.Options{
			Debounce: 500 * time.Millisecond,
			Jitter:   250 * time.Millisecond,
			Interval: 10 * time.Minute,
		},
		Location: a.Config.Schedule.Location(),
	}, a.Store, fetcher, throttle.FromConfig(a.Config.Throttle.Shorts), a.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ag.Run(ctx); err != nil && ctx.Err() == nil {
		a.Logger.Error().Err(err).Msg("Agent failed")
		os.Exit(1)
	}
	a.Logger.Info().Msg("Agent stopped")
}
