package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/gen2brain/beeep"

	"github.com/bobmcallan/vigil/internal/common"
	"github.com/bobmcallan/vigil/internal/models"
)

// Alerter turns qualifying ticker updates into operator alerts. A ticker
// qualifies when its price sits inside the configured band and its float is
// under the cap; untracked values (zero) never disqualify. Repeat alerts for
// the same ticker are suppressed inside MinInterval.
type Alerter struct {
	broker *Broker
	cfg    common.AlertsConfig
	logger *common.Logger

	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time

	// sink funcs, replaceable in tests
	playSound   func() error
	showDesktop func(title, message string) error
	copyToClip  func(text string) error
}

// NewAlerter creates an alerter publishing to the given broker.
func NewAlerter(broker *Broker, cfg common.AlertsConfig, logger *common.Logger) *Alerter {
	return &Alerter{
		broker: broker,
		cfg:    cfg,
		logger: logger,
		last:   make(map[string]time.Time),
		now:    time.Now,
		playSound: func() error {
			return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
		},
		showDesktop: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		copyToClip: clipboard.WriteAll,
	}
}

// Qualifies reports whether a record meets the alert thresholds.
func (a *Alerter) Qualifies(record *models.TickerRecord) bool {
	if record.Price > 0 {
		if a.cfg.PriceMin > 0 && record.Price < a.cfg.PriceMin {
			return false
		}
		if a.cfg.PriceMax > 0 && record.Price > a.cfg.PriceMax {
			return false
		}
	}
	if record.Float > 0 && a.cfg.FloatMax > 0 && record.Float > a.cfg.FloatMax {
		return false
	}
	return true
}

// NewsAlert raises an alert for a fresh headline on a qualifying ticker.
func (a *Alerter) NewsAlert(record *models.TickerRecord, headline string) {
	a.alert(record, EventNews, headline)
}

// HighOfDayAlert raises an alert when a qualifying ticker prints a new
// high of day.
func (a *Alerter) HighOfDayAlert(record *models.TickerRecord) {
	a.alert(record, EventHighOfDay, fmt.Sprintf("new high of day %.2f", record.HOD))
}

// FilingAlert raises an alert for a new registration filing.
func (a *Alerter) FilingAlert(record *models.TickerRecord, form string) {
	a.alert(record, EventFiling, fmt.Sprintf("new %s filing", form))
}

func (a *Alerter) alert(record *models.TickerRecord, kind EventType, message string) {
	if !a.Qualifies(record) {
		a.logger.Debug().Str("ticker", record.Ticker).Msg("Outside alert thresholds, skipping")
		return
	}
	if !a.take(record.Ticker) {
		a.logger.Debug().Str("ticker", record.Ticker).Msg("Alert suppressed inside min interval")
		return
	}

	a.logger.Info().
		Str("ticker", record.Ticker).
		Str("type", string(kind)).
		Str("message", message).
		Msg("Alert")

	a.broker.Publish(&Event{
		Type:    kind,
		Ticker:  record.Ticker,
		Message: message,
		Metadata: map[string]string{
			"price": fmt.Sprintf("%.2f", record.Price),
		},
	})

	if a.cfg.Sound {
		if err := a.playSound(); err != nil {
			a.logger.Warn().Err(err).Msg("Alert sound failed")
		}
	}
	if a.cfg.Desktop {
		title := fmt.Sprintf("Vigil: %s", record.Ticker)
		if err := a.showDesktop(title, message); err != nil {
			a.logger.Warn().Err(err).Msg("Desktop notification failed")
		}
	}
	if a.cfg.Clipboard {
		if err := a.copyToClip(record.Ticker); err != nil {
			a.logger.Warn().Err(err).Msg("Clipboard copy failed")
		}
	}
}

// take claims an alert slot for a ticker, enforcing the min interval.
func (a *Alerter) take(ticker string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	interval := a.cfg.GetMinInterval()
	if at, ok := a.last[ticker]; ok && now.Sub(at) < interval {
		return false
	}
	a.last[ticker] = now
	return true
}
