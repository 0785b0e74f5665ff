// Command vigil is the operator CLI for the shared data stores: add and
// clear tickers, manage the watchlist, wipe the day's state, and list what
// the agents have gathered.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/bobmcallan/vigil/internal/app"
	"github.com/bobmcallan/vigil/internal/models"
	"github.com/bobmcallan/vigil/internal/render"
	"github.com/bobmcallan/vigil/internal/schedule"
)

const usage = `usage: vigil [-v] [-config PATH] COMMAND [ARGS]

Commands:
  add SYMBOL...       add tickers to the shared map (activated)
  clear [SYMBOL...]   remove the named tickers, or deactivate all
  watch add SYMBOL    pin a symbol to the watchlist
  watch rm SYMBOL     unpin a symbol
  wipe                reset the day's stores now
  list                print the ticker table
`

func main() {
	var (
		verbose    = flag.Bool("v", false, "debug logging")
		configPath = flag.String("config", "", "config file path")
	)
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	a, err := app.NewApp("cli", *configPath, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}

	if err := run(a, args); err != nil {
		fmt.Fprintf(os.Stderr, "vigil: %v\n", err)
		os.Exit(1)
	}
}

func run(a *app.App, args []string) error {
	switch args[0] {
	case "add":
		return cmdAdd(a, args[1:])
	case "clear":
		return cmdClear(a, args[1:])
	case "watch":
		return cmdWatch(a, args[1:])
	case "wipe":
		return cmdWipe(a)
	case "list":
		return cmdList(a)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func cmdAdd(a *app.App, symbols []string) error {
	if len(symbols) == 0 {
		return fmt.Errorf("add needs at least one symbol")
	}

	path := a.DataFile(app.TickersFile)
	records, err := a.Store.ReadTickers(path)
	if err != nil {
		return err
	}

	now := time.Now()
	updated := make(map[string]*models.TickerRecord)
	for _, raw := range symbols {
		symbol, ok := models.SanitizeTicker(raw)
		if !ok {
			return fmt.Errorf("%q is not a valid ticker symbol", raw)
		}
		rec, ok := records[symbol]
		if !ok {
			rec = models.NewTickerRecord(symbol)
			rec.FirstSeen = now
		}
		rec.IsActive = true
		rec.LastSeen = now
		updated[symbol] = rec
		fmt.Printf("added %s\n", symbol)
	}
	return a.Store.WriteTickers(path, updated)
}

// cmdClear removes the named tickers; with no arguments it deactivates
// everything, preserving history.
func cmdClear(a *app.App, symbols []string) error {
	path := a.DataFile(app.TickersFile)

	if len(symbols) == 0 {
		resetter := newResetter(a)
		if err := resetter.DeactivateAll(); err != nil {
			return err
		}
		fmt.Println("all tickers deactivated")
		return nil
	}

	keys := make([]string, 0, len(symbols))
	for _, raw := range symbols {
		symbol, ok := models.SanitizeTicker(raw)
		if !ok {
			return fmt.Errorf("%q is not a valid ticker symbol", raw)
		}
		keys = append(keys, symbol)
	}
	if err := a.Store.DeleteKeys(path, keys...); err != nil {
		return err
	}
	for _, symbol := range keys {
		fmt.Printf("removed %s\n", symbol)
	}
	return nil
}

func cmdWatch(a *app.App, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: vigil watch add|rm SYMBOL")
	}
	symbol, ok := models.SanitizeTicker(args[1])
	if !ok {
		return fmt.Errorf("%q is not a valid ticker symbol", args[1])
	}

	path := a.DataFile(app.WatchlistFile)
	switch args[0] {
	case "add":
		if err := a.Store.AddToWatchlist(path, symbol); err != nil {
			return err
		}
		fmt.Printf("watching %s\n", symbol)
		return nil
	case "rm":
		if err := a.Store.DeleteKeys(path, symbol); err != nil {
			return err
		}
		fmt.Printf("unwatched %s\n", symbol)
		return nil
	default:
		return fmt.Errorf("usage: vigil watch add|rm SYMBOL")
	}
}

func cmdWipe(a *app.App) error {
	if err := newResetter(a).ForceWipe(); err != nil {
		return err
	}
	fmt.Println("stores wiped")
	return nil
}

func cmdList(a *app.App) error {
	records, err := a.Store.ReadTickers(a.DataFile(app.TickersFile))
	if err != nil {
		return err
	}
	watchlist, err := a.Store.ReadWatchlist(a.DataFile(app.WatchlistFile))
	if err != nil {
		return err
	}

	symbols := make([]string, 0, len(watchlist))
	for symbol := range watchlist {
		symbols = append(symbols, symbol)
	}
	r := render.NewRenderer(symbols)
	r.SetThresholds(render.Thresholds{
		PriceMin: a.Config.Alerts.PriceMin,
		PriceMax: a.Config.Alerts.PriceMax,
		FloatMax: a.Config.Alerts.FloatMax,
	})
	fmt.Print(r.Render(records))
	return nil
}

func newResetter(a *app.App) *schedule.Resetter {
	return schedule.NewResetter(a.Store, a.DataFile(app.LastWipeFile), a.DataFile(app.TickersFile), a.ManagedFiles(), a.Config.Schedule, a.Logger)
}
