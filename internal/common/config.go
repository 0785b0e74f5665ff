// Package common provides shared utilities for Vigil
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for Vigil agents. One config file serves
// every agent; each agent reads its own client/throttle section.
type Config struct {
	Environment string         `toml:"environment"`
	DataPath    string         `toml:"data_path"` // directory holding the shared JSON stores
	Store       StoreConfig    `toml:"store"`
	Clients     ClientsConfig  `toml:"clients"`
	Throttle    ThrottleConfig `toml:"throttle"`
	Filters     FiltersConfig  `toml:"filters"`
	Alerts      AlertsConfig   `toml:"alerts"`
	Schedule    ScheduleConfig `toml:"schedule"`
	Logging     LoggingConfig  `toml:"logging"`
}

// StoreConfig holds record store lock tuning.
type StoreConfig struct {
	LockTimeout string `toml:"lock_timeout"`  // bound on waiting for the path lock
	LockMaxHold string `toml:"lock_max_hold"` // staleness threshold before force-release
}

// GetLockTimeout parses and returns the lock acquisition timeout
func (c *StoreConfig) GetLockTimeout() time.Duration {
	d, err := time.ParseDuration(c.LockTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetLockMaxHold parses and returns the stale lock hold threshold
func (c *StoreConfig) GetLockMaxHold() time.Duration {
	d, err := time.ParseDuration(c.LockMaxHold)
	if err != nil {
		return 20 * time.Second
	}
	return d
}

// ClientsConfig holds API client configurations, one per data source.
type ClientsConfig struct {
	Newsfeed   ClientConfig `toml:"newsfeed"`
	Filings    ClientConfig `toml:"filings"`
	ShortData  ClientConfig `toml:"shortdata"`
	Financials ClientConfig `toml:"financials"`
}

// ClientConfig holds a single upstream API configuration.
type ClientConfig struct {
	BaseURL     string `toml:"base_url"`
	TestBaseURL string `toml:"test_base_url"` // used when the agent runs with -t
	APIKey      string `toml:"api_key"`
	RateLimit   int    `toml:"rate_limit"` // hard ceiling, requests per second
	Timeout     string `toml:"timeout"`
}

// GetTimeout parses and returns the HTTP timeout duration
func (c *ClientConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// ThrottleConfig holds per-source adaptive throttle tuning.
type ThrottleConfig struct {
	News       ThrottleParams `toml:"news"`
	Filings    ThrottleParams `toml:"filings"`
	Shorts     ThrottleParams `toml:"shorts"`
	Financials ThrottleParams `toml:"financials"`
}

// ThrottleParams configures one adaptive throttle instance.
type ThrottleParams struct {
	Initial           string  `toml:"initial"`
	Min               string  `toml:"min"`
	Max               string  `toml:"max"`
	Mode              string  `toml:"mode"`               // "linear" or "multiplicative" decrease
	Step              string  `toml:"step"`               // linear decrease step
	DecreaseFactor    float64 `toml:"decrease_factor"`    // multiplicative decrease factor (< 1)
	BackoffMultiplier float64 `toml:"backoff_multiplier"` // rate-limit increase factor (> 1)
	SuccessStreak     int     `toml:"success_streak"`     // successes required before a decrease
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// GetInitial returns the starting inter-request delay.
func (p *ThrottleParams) GetInitial() time.Duration {
	return parseDurationOr(p.Initial, 500*time.Millisecond)
}

// GetMin returns the delay floor.
func (p *ThrottleParams) GetMin() time.Duration {
	return parseDurationOr(p.Min, 100*time.Millisecond)
}

// GetMax returns the delay ceiling.
func (p *ThrottleParams) GetMax() time.Duration {
	return parseDurationOr(p.Max, 10*time.Second)
}

// GetStep returns the linear decrease step.
func (p *ThrottleParams) GetStep() time.Duration {
	return parseDurationOr(p.Step, 100*time.Millisecond)
}

// FiltersConfig holds news filtering configuration. The keyword list is
// data, not code: operators tune it without rebuilding.
type FiltersConfig struct {
	UnwantedKeywords []string `toml:"unwanted_keywords"`
}

// AlertsConfig holds alert threshold and sink configuration.
type AlertsConfig struct {
	PriceMin    float64 `toml:"price_min"`
	PriceMax    float64 `toml:"price_max"`
	FloatMax    float64 `toml:"float_max"` // shares, e.g. 300e6
	Sound       bool    `toml:"sound"`
	Desktop     bool    `toml:"desktop"`
	Clipboard   bool    `toml:"clipboard"`
	MinInterval string  `toml:"min_interval"` // at most one alert per interval
}

// GetMinInterval parses and returns the alert quiet interval.
func (c *AlertsConfig) GetMinInterval() time.Duration {
	return parseDurationOr(c.MinInterval, 3*time.Second)
}

// ScheduleConfig holds the daily reset and intraday deactivate schedule.
type ScheduleConfig struct {
	DeactivateAt string `toml:"deactivate_at"` // local HH:MM; "" disables
	Timezone     string `toml:"timezone"`      // IANA name; "" means system local
}

// Location resolves the configured timezone, defaulting to the system zone.
func (c *ScheduleConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `toml:"level"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	defaultThrottle := ThrottleParams{
		Initial:           "500ms",
		Min:               "100ms",
		Max:               "10s",
		Mode:              "linear",
		Step:              "100ms",
		DecreaseFactor:    0.9,
		BackoffMultiplier: 2.0,
		SuccessStreak:     0,
	}

	return &Config{
		Environment: "development",
		DataPath:    "data",
		Store: StoreConfig{
			LockTimeout: "10s",
			LockMaxHold: "20s",
		},
		Clients: ClientsConfig{
			Newsfeed: ClientConfig{
				BaseURL:   "https://api.stocknewsfeed.io/v1",
				RateLimit: 5,
				Timeout:   "30s",
			},
			Filings: ClientConfig{
				BaseURL:   "https://www.sec.gov/cgi-bin/browse-edgar",
				RateLimit: 5,
				Timeout:   "30s",
			},
			ShortData: ClientConfig{
				BaseURL:   "https://www.shortdata.example.com",
				RateLimit: 2,
				Timeout:   "30s",
			},
			Financials: ClientConfig{
				BaseURL:   "https://api.polygon.io/vX/reference/financials",
				RateLimit: 4,
				Timeout:   "30s",
			},
		},
		Throttle: ThrottleConfig{
			News:       defaultThrottle,
			Filings:    defaultThrottle,
			Shorts:     defaultThrottle,
			Financials: defaultThrottle,
		},
		Filters: FiltersConfig{
			UnwantedKeywords: []string{
				"class action",
				"shareholder alert",
				"law firm",
				"investigation on behalf",
				"deadline reminder",
			},
		},
		Alerts: AlertsConfig{
			PriceMin:    1.75,
			PriceMax:    20,
			FloatMax:    300e6,
			Sound:       true,
			Desktop:     true,
			Clipboard:   false,
			MinInterval: "3s",
		},
		Schedule: ScheduleConfig{
			DeactivateAt: "15:45",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("VIGIL_ENV"); env != "" {
		config.Environment = env
	}

	if path := os.Getenv("VIGIL_DATA_PATH"); path != "" {
		config.DataPath = path
	}

	if level := os.Getenv("VIGIL_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if tz := os.Getenv("VIGIL_TIMEZONE"); tz != "" {
		config.Schedule.Timezone = tz
	}

	if v := os.Getenv("VIGIL_NEWSFEED_API_KEY"); v != "" {
		config.Clients.Newsfeed.APIKey = v
	}
	if v := os.Getenv("VIGIL_FINANCIALS_API_KEY"); v != "" {
		config.Clients.Financials.APIKey = v
	}

	if v := os.Getenv("VIGIL_ALERT_PRICE_MIN"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Alerts.PriceMin = f
		}
	}
	if v := os.Getenv("VIGIL_ALERT_PRICE_MAX"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Alerts.PriceMax = f
		}
	}
	if v := os.Getenv("VIGIL_ALERT_FLOAT_MAX"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Alerts.FloatMax = f
		}
	}
}

// ValidateRequired reports missing required settings for the named agent.
// Only key-bearing clients have required settings; an empty result means the
// agent may start.
func (c *Config) ValidateRequired(agent string) []string {
	var missing []string
	switch agent {
	case "news":
		if strings.TrimSpace(c.Clients.Newsfeed.APIKey) == "" {
			missing = append(missing, "clients.newsfeed.api_key (or VIGIL_NEWSFEED_API_KEY)")
		}
	case "financials":
		if strings.TrimSpace(c.Clients.Financials.APIKey) == "" {
			missing = append(missing, "clients.financials.api_key (or VIGIL_FINANCIALS_API_KEY)")
		}
	}
	return missing
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
