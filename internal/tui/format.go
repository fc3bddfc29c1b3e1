package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"

	"github.com/wesm/inboxsweep/internal/mail"
)

// padRight fits s to exactly width cells, cutting or space-filling it.
func padRight(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return ansi.Truncate(s, width, "")
}

// flatten turns layout-breaking whitespace into single spaces.
var flatten = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", "", "\t", " ")

// truncateRunes shortens s to maxWidth terminal cells, ending in "..." when
// there is room for it.
func truncateRunes(s string, maxWidth int) string {
	s = flatten.Replace(s)
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	tail := "..."
	if maxWidth <= len(tail) {
		tail = ""
	}
	return ansi.Truncate(s, maxWidth, tail)
}

// wrapText word-wraps text to width cells, hard-breaking words that do not
// fit on a line of their own.
func wrapText(text string, width int) []string {
	if width <= 0 {
		width = 80
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(ansi.Wrap(text, width, ""), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(strings.TrimLeft(l, " "), " \r")
	}
	return lines
}

// formatAge renders the time since t compactly ("3h", "12d", "2y").
func formatAge(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%dm", max(int(d.Minutes()), 0))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	case d < 365*24*time.Hour:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	default:
		return fmt.Sprintf("%dy", int(d.Hours()/(24*365)))
	}
}

// formatSender prefers the display name and falls back to the address.
func formatSender(s mail.Sender) string {
	if s.Name != "" && s.Name != s.Email {
		return s.Name
	}
	return s.Email
}

// formatConfidence renders a confidence in [0,1] as a percentage.
func formatConfidence(c float64) string {
	return fmt.Sprintf("%3.0f%%", c*100)
}

// modeTitle is the tab label of a mode.
func modeTitle(mode mail.Mode) string {
	switch mode {
	case mail.ModeArchive:
		return "Archive"
	case mail.ModeUnsubscribe:
		return "Unsubscribe"
	default:
		return "Delete"
	}
}
