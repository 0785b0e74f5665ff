// Package render draws the monitor's terminal view of tracked tickers.
package render

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bobmcallan/vigil/internal/models"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("250")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("240"))

	tickerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	watchedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("213"))

	inactiveStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	headlineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	inBandStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	hodStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214"))
)

const maxHeadlineWidth = 80

// Thresholds mirrors the alert band so the table colors what would alert.
type Thresholds struct {
	PriceMin float64
	PriceMax float64
	FloatMax float64
}

// Renderer formats the ticker map for the monitor's terminal output.
type Renderer struct {
	watchlist  map[string]bool
	thresholds Thresholds
}

// NewRenderer creates a renderer highlighting the given watchlist symbols.
func NewRenderer(watchlist []string) *Renderer {
	watched := make(map[string]bool, len(watchlist))
	for _, symbol := range watchlist {
		watched[symbol] = true
	}
	return &Renderer{watchlist: watched}
}

// SetThresholds enables alert-band coloring of price and float columns.
func (r *Renderer) SetThresholds(t Thresholds) {
	r.thresholds = t
}

// inBand reports whether the record sits inside the alert thresholds.
func (r *Renderer) inBand(record *models.TickerRecord) bool {
	t := r.thresholds
	if t.PriceMin == 0 && t.PriceMax == 0 && t.FloatMax == 0 {
		return false
	}
	if record.Price <= 0 {
		return false
	}
	if t.PriceMin > 0 && record.Price < t.PriceMin {
		return false
	}
	if t.PriceMax > 0 && record.Price > t.PriceMax {
		return false
	}
	if t.FloatMax > 0 && record.Float > t.FloatMax {
		return false
	}
	return true
}

// SetWatchlist replaces the highlighted symbols.
func (r *Renderer) SetWatchlist(watchlist []string) {
	watched := make(map[string]bool, len(watchlist))
	for _, symbol := range watchlist {
		watched[symbol] = true
	}
	r.watchlist = watched
}

// Render formats the full ticker table, active tickers first, each with
// its most recent headline and short/financial summary lines.
func (r *Renderer) Render(records map[string]*models.TickerRecord) string {
	symbols := make([]string, 0, len(records))
	for symbol := range records {
		symbols = append(symbols, symbol)
	}
	sort.Slice(symbols, func(i, j int) bool {
		a, b := records[symbols[i]], records[symbols[j]]
		if a.IsActive != b.IsActive {
			return a.IsActive
		}
		return symbols[i] < symbols[j]
	})

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-8s %-8s %10s %10s  %s", "TICKER", "STATE", "PRICE", "FLOAT", "LATEST")))
	b.WriteString("\n")

	for _, symbol := range symbols {
		b.WriteString(r.renderRow(records[symbol]))
		b.WriteString("\n")
	}

	if len(symbols) == 0 {
		b.WriteString(dimStyle.Render("no tickers tracked"))
		b.WriteString("\n")
	}
	return b.String()
}

func (r *Renderer) renderRow(record *models.TickerRecord) string {
	style := tickerStyle
	state := "active"
	switch {
	case r.watchlist[record.Ticker]:
		style = watchedStyle
		if !record.IsActive {
			state = "idle"
		}
	case !record.IsActive:
		style = inactiveStyle
		state = "idle"
	}

	price := "-"
	if record.Price > 0 {
		price = fmt.Sprintf("%.2f", record.Price)
		if record.HOD > 0 && record.Price >= record.HOD {
			price = hodStyle.Render(price + "▲")
		} else if r.inBand(record) {
			price = inBandStyle.Render(price)
		}
	}
	float := "-"
	if record.Float > 0 {
		float = formatShares(record.Float)
		if r.inBand(record) {
			float = inBandStyle.Render(float)
		}
	}

	latest := ""
	if len(record.News) > 0 {
		head := record.News[0]
		latest = headlineStyle.Render(truncate(head.Headline, maxHeadlineWidth)) +
			dimStyle.Render(fmt.Sprintf("  %s", head.CreatedAt.Local().Format("15:04")))
	}

	row := fmt.Sprintf("%s %-8s %10s %10s  %s",
		style.Render(fmt.Sprintf("%-8s", record.Ticker)),
		state, price, float, latest)

	if record.Shorts != nil && record.Shorts.ShortFloatPct > 0 {
		row += "\n" + dimStyle.Render(fmt.Sprintf("         short %.1f%% of float, %s shares (settled %s)",
			record.Shorts.ShortFloatPct, formatShares(record.Shorts.ShortInterest), record.Shorts.SettlementDate))
	}
	if len(record.Filings) > 0 {
		f := record.Filings[0]
		row += "\n" + dimStyle.Render(fmt.Sprintf("         %s filed %s", f.Form, f.Date))
	}
	return row
}

// RenderEvent formats one alert line for the monitor's scrollback.
func RenderEvent(ticker, message string, at time.Time) string {
	return fmt.Sprintf("%s %s %s",
		dimStyle.Render(at.Local().Format("15:04:05")),
		watchedStyle.Render(ticker),
		headlineStyle.Render(message))
}

func truncate(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-1]) + "…"
}

func formatShares(v float64) string {
	switch {
	case v >= 1e9:
		return fmt.Sprintf("%.2fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%.0fK", v/1e3)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}
