// Package app wires shared infrastructure for the vigil binaries: config
// resolution, logging, and the record store. Each binary layers its own
// clients and loops on top.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bobmcallan/vigil/internal/common"
	"github.com/bobmcallan/vigil/internal/store"
)

// Shared data file names under Config.DataPath.
const (
	TickersFile    = "tickers.json"
	NewsFile       = "news.json"
	ShortsFile     = "shorts.json"
	FilingsFile    = "filings.json"
	FinancialsFile = "financials.json"
	WatchlistFile  = "watchlist.json"
	LastWipeFile   = "last-wipe.txt"
)

// App holds the pieces every binary needs.
type App struct {
	Config      *common.Config
	Logger      *common.Logger
	Store       *store.Store
	StartupTime time.Time
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp loads configuration and initializes the shared store for the named
// agent. configPath may be empty; resolution falls back to VIGIL_CONFIG,
// then vigil.toml beside the binary, then config/vigil.toml.
func NewApp(agent, configPath string, verbose bool) (*App, error) {
	common.LoadVersionFromFile()

	binDir := getBinaryDir()

	if configPath == "" {
		configPath = os.Getenv("VIGIL_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "vigil.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/vigil.toml" // fallback for development
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if missing := config.ValidateRequired(agent); len(missing) > 0 {
		return nil, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	// Resolve relative data path to binary directory for self-contained runs
	if config.DataPath != "" && !filepath.IsAbs(config.DataPath) {
		if _, err := os.Stat(config.DataPath); os.IsNotExist(err) {
			config.DataPath = filepath.Join(binDir, config.DataPath)
		}
	}
	if err := os.MkdirAll(config.DataPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data path %s: %w", config.DataPath, err)
	}

	logger := common.NewAgentLogger(agent, verbose)
	if !verbose && config.Logging.Level != "" {
		logger = common.NewLogger(config.Logging.Level)
	}

	return &App{
		Config:      config,
		Logger:      logger,
		Store:       store.NewStore(logger, config.Store),
		StartupTime: time.Now(),
	}, nil
}

// DataFile returns the absolute path of a shared data file.
func (a *App) DataFile(name string) string {
	return filepath.Join(a.Config.DataPath, name)
}

// ProcessedFile returns the processed-set path for an agent.
func (a *App) ProcessedFile(agent string) string {
	return a.DataFile(fmt.Sprintf("processed-%s.json", agent))
}

// ManagedFiles returns every store the daily wipe resets to {}: the shared
// ticker map, the four domain files, and the processed sets of the agents
// that keep one. The news agent keeps none; its client bounds re-fetches
// with a since cursor instead.
func (a *App) ManagedFiles() []string {
	return []string{
		a.DataFile(TickersFile),
		a.DataFile(NewsFile),
		a.DataFile(ShortsFile),
		a.DataFile(FilingsFile),
		a.DataFile(FinancialsFile),
		a.ProcessedFile("shorts"),
		a.ProcessedFile("filings"),
		a.ProcessedFile("financials"),
	}
}
