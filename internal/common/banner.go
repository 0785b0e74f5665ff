package common

import (
	"fmt"
	"os"
	"strings"

	"github.com/ternarybob/banner"
)

// PrintBanner displays the agent startup banner to stderr.
func PrintBanner(agent string, config *Config, logger *Logger) {
	lineColor := banner.ColorCyan
	textColor := banner.ColorBold + banner.ColorWhite
	width := 56
	hr := lineColor + strings.Repeat("═", width) + banner.ColorReset

	art := []string{
		` 888     888 8888888 .d8888b.  8888888 888`,
		` 888     888   888  d88P  Y88b   888   888`,
		` Y88b   d88P   888  888          888   888`,
		`  Y88b d88P    888  888  8888    888   888`,
		`   Y88o88P     888  888    888   888   888`,
		`    Y888P    8888888 Y8888888P 8888888 88888888`,
	}

	fmt.Fprintf(os.Stderr, "\n%s\n\n", hr)
	for _, line := range art {
		fmt.Fprintf(os.Stderr, "%s%s%s\n", textColor, line, banner.ColorReset)
	}
	fmt.Fprintf(os.Stderr, "\n%s  Ticker Watch Agents%s\n\n%s\n\n", textColor, banner.ColorReset, hr)

	kvPad := 14
	kvLines := [][2]string{
		{"Agent", agent},
		{"Version", GetVersion()},
		{"Build", GetBuild()},
		{"Environment", config.Environment},
		{"Data Path", config.DataPath},
	}
	for _, kv := range kvLines {
		fmt.Fprintf(os.Stderr, "%s  %-*s %s%s\n", textColor, kvPad, kv[0], kv[1], banner.ColorReset)
	}
	fmt.Fprintf(os.Stderr, "\n%s\n\n", hr)

	logger.Info().
		Str("agent", agent).
		Str("version", GetVersion()).
		Str("environment", config.Environment).
		Str("data_path", config.DataPath).
		Msg("Agent started")
}
