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
	"github.com/bobmcallan/vigil/internal/clients/newsfeed"
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

	a, err := app.NewApp("news", *configPath, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}

	common.PrintBanner("news", a.Config, a.Logger)

	cc := a.Config.Clients.Newsfeed
	baseURL := cc.BaseURL
	if *useTest && cc.TestBaseURL != "" {
		baseURL = cc.TestBaseURL
	}

	client := newsfeed.NewClient(baseURL, cc.APIKey,
		newsfeed.WithLogger(a.Logger),
		newsfeed.WithRateLimit(cc.RateLimit),
		newsfeed.WithTimeout(cc.GetTimeout()),
	)
	fetcher := newsfeed.NewFetcher(client, a.Config.Filters.UnwantedKeywords, a.Logger)

	ag := agent.New(agent.Config{
		Name:        "news",
		TickersPath: a.DataFile(app.TickersFile),
		OutputPath:  a.DataFile(app.NewsFile),
		// No processed set: headlines arrive all day, so every pass
		// re-fetches. The since cursor on the head item bounds each request.
		Watch: watch.Options{
			Debounce: 500 * time.Millisecond,
			Jitter:   250 * time.Millisecond,
			Interval: 60 * time.Second,
		},
		Location: a.Config.Schedule.Location(),
	}, a.Store, fetcher, throttle.FromConfig(a.Config.Throttle.News), a.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ag.Run(ctx); err != nil && ctx.Err() == nil {
		a.Logger.Error().Err(err).Msg("Agent failed")
		os.Exit(1)
	}
	a.Logger.Info().Msg("Agent stopped")
}
