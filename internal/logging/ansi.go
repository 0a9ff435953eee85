package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var forceColorOnce sync.Once

func shouldRenderANSI() bool {
	term := strings.TrimSpace(os.Getenv("TERM"))
	if term == "" || term == "dumb" {
		return false
	}
	return os.Getenv("NO_COLOR") == ""
}

func ensureColorProfile() {
	forceColorOnce.Do(func() {
		lipgloss.SetColorProfile(termenv.ANSI256)
	})
}

func levelBadge(level slog.Level) (string, lipgloss.Style) {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	switch {
	case level <= slog.LevelDebug:
		return "DEBUG", base.Foreground(lipgloss.Color("255")).Background(lipgloss.Color("240"))
	case level <= slog.LevelInfo:
		return "INFO", base.Foreground(lipgloss.Color("230")).Background(lipgloss.Color("31"))
	case level <= slog.LevelWarn:
		return "WARN", base.Foreground(lipgloss.Color("234")).Background(lipgloss.Color("214"))
	default:
		return "ERROR", base.Foreground(lipgloss.Color("231")).Background(lipgloss.Color("160"))
	}
}

// FormatEntryANSI renders an entry with terminal colors: timestamp, level badge,
// bold message and key=value fields, payload fields on their own indented line.
func FormatEntryANSI(entry Entry) string {
	ensureColorProfile()
	ts := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Render(entry.Time.Format("15:04:05.000"))
	label, style := levelBadge(entry.Level)
	msg := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252")).Render(entry.Message)

	line := lipgloss.JoinHorizontal(lipgloss.Center, ts, " ", style.Render(label), " ", msg)
	if len(entry.Fields) == 0 {
		return line + "\n"
	}

	keyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("117"))
	valStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	sepStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("238"))

	inline := make([]string, 0, len(entry.Fields))
	blocks := make([]string, 0, 1)
	for _, key := range orderedFieldKeys(entry.Fields) {
		rendered := keyStyle.Render(key) + sepStyle.Render("=") + valStyle.Render(formatFieldValue(entry.Fields[key]))
		if isPayloadFieldKey(key) {
			blocks = append(blocks, rendered)
			continue
		}
		inline = append(inline, rendered)
	}
	if len(inline) > 0 {
		line += "  " + strings.Join(inline, " ")
	}
	for _, block := range blocks {
		line += "\n  " + block
	}
	return line + "\n"
}
