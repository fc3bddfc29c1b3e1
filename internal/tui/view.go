package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/wesm/inboxsweep/internal/mail"
)

// Monochrome theme - adaptive for light and dark terminals
var (
	bgBase   = lipgloss.AdaptiveColor{Light: "#ffffff", Dark: "#000000"}
	bgAlt    = lipgloss.AdaptiveColor{Light: "#f0f0f0", Dark: "#181818"}
	bgCursor = lipgloss.AdaptiveColor{Light: "#e0e0e0", Dark: "#282828"}
	fgMuted  = lipgloss.AdaptiveColor{Light: "#555555", Dark: "#999999"}

	titleBarStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.AdaptiveColor{Light: "#e0e0e0", Dark: "#333333"}).
			Foreground(lipgloss.AdaptiveColor{Light: "#000000", Dark: "#ffffff"}).
			Padding(0, 1)

	statsStyle = lipgloss.NewStyle().
			Foreground(fgMuted).
			Background(bgBase).
			Padding(0, 1)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Underline(true).
			Padding(0, 1)

	tabStyle = lipgloss.NewStyle().
			Foreground(fgMuted).
			Padding(0, 1)

	// Spinner style - NOT faint so it's visible
	spinnerStyle = lipgloss.NewStyle().
			Bold(true)

	tableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Background(bgBase)

	separatorStyle = lipgloss.NewStyle().
			Faint(true).
			Background(bgBase)

	cursorRowStyle = lipgloss.NewStyle().
			Background(bgCursor)

	selectedRowStyle = lipgloss.NewStyle().
				Bold(true).
				Background(bgBase)

	normalRowStyle = lipgloss.NewStyle().
			Background(bgBase)

	altRowStyle = lipgloss.NewStyle().
			Background(bgAlt)

	reasonStyle = lipgloss.NewStyle().
			Faint(true).
			Italic(true)

	footerStyle = lipgloss.NewStyle().
			Foreground(fgMuted).
			Background(bgBase).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Background(bgBase)

	loadingStyle = lipgloss.NewStyle().
			Italic(true).
			Background(bgBase)

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(1, 2).
			Background(bgBase)

	modalTitleStyle = lipgloss.NewStyle().
			Bold(true)

	flashStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#996600", Dark: "#ffcc00"}).
			Background(bgBase)
)

// Fixed column widths in the batch table.
const (
	indicatorWidth  = 4 // "[x] "
	ageWidth        = 5
	confidenceWidth = 5
	maxSenderWidth  = 28
)

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var body string
	switch {
	case m.detail != nil || m.detailLoading || m.detailErr != nil:
		body = m.detailView()
	default:
		body = m.batchView()
	}
	screen := m.headerView() + "\n" + body

	switch m.modal {
	case modalProcessConfirm:
		return m.overlayModal("Confirm", m.confirmPrompt())
	case modalQuitConfirm:
		return m.overlayModal("Commit in progress", "Quit anyway? The commit will keep running until it returns.")
	}
	return screen
}

// headerView renders the title bar, mode tabs and session totals.
func (m Model) headerView() string {
	title := "inboxsweep"
	if m.version != "" {
		title += " " + m.version
	}
	if m.account != "" {
		title += " | " + m.account
	}
	line1 := titleBarStyle.Render(padRight(title, max(m.width-2, 0)))

	var tabs []string
	for _, mode := range mail.Modes {
		if mode == m.mode {
			tabs = append(tabs, activeTabStyle.Render(modeTitle(mode)))
		} else {
			tabs = append(tabs, tabStyle.Render(modeTitle(mode)))
		}
	}
	tabLine := lipgloss.JoinHorizontal(lipgloss.Top, tabs...)

	st := m.view.Stats
	stats := statsStyle.Render(fmt.Sprintf("deleted %d  archived %d  unsubscribed %d",
		st.Deleted, st.Archived, st.Unsubscribed))
	gap := max(m.width-lipgloss.Width(tabLine)-lipgloss.Width(stats), 0)
	line2 := tabLine + strings.Repeat(" ", gap) + stats

	return line1 + "\n" + line2
}

// columnWidths splits the row width between sender and subject.
func (m Model) columnWidths() (sender, subject int) {
	avail := m.width - indicatorWidth - ageWidth - confidenceWidth - 3
	sender = min(maxSenderWidth, max(avail/3, 8))
	subject = max(avail-sender, 10)
	return sender, subject
}

// batchView renders the current review batch.
func (m Model) batchView() string {
	var lines []string

	switch {
	case m.view.Err != nil && len(m.view.CurrentBatch) == 0:
		lines = append(lines, errorStyle.Render(padRight("Error: "+m.view.Error, m.width)))
		lines = append(lines, normalRowStyle.Render(padRight("Press r to retry.", m.width)))
	case m.ctrl == nil || (m.view.IsLoading && len(m.view.CurrentBatch) == 0):
		lines = append(lines, loadingStyle.Render(m.spinner.View()+" Loading candidates..."))
	case m.view.IsComplete:
		lines = append(lines, normalRowStyle.Render(padRight(
			fmt.Sprintf("All done. No more %s candidates.", strings.ToLower(modeTitle(m.mode))), m.width)))
	case len(m.view.CurrentBatch) == 0:
		lines = append(lines, loadingStyle.Render(m.spinner.View()+" Fetching more..."))
	default:
		lines = append(lines, m.tableLines()...)
	}

	// Fill to keep the footer pinned to the bottom.
	reserved := 2 + 1 + lipgloss.Height(m.footerView())
	for len(lines) < m.height-reserved {
		lines = append(lines, "")
	}

	return strings.Join(lines, "\n") + "\n" + m.statusLine() + "\n" + m.footerView()
}

func (m Model) tableLines() []string {
	senderW, subjectW := m.columnWidths()
	now := m.now()

	header := fmt.Sprintf("%s%s %s %s %s",
		strings.Repeat(" ", indicatorWidth),
		padRight("Sender", senderW),
		padRight("Subject", subjectW),
		padRight("Age", ageWidth),
		padRight("Conf", confidenceWidth))
	lines := []string{
		tableHeaderStyle.Render(padRight(header, m.width)),
		separatorStyle.Render(strings.Repeat("─", max(m.width, 0))),
	}

	for i, msg := range m.view.CurrentBatch {
		check := "[ ] "
		selected := m.view.IsSelected(msg.ID)
		if selected {
			check = "[x] "
		}
		row := fmt.Sprintf("%s%s %s %s %s",
			check,
			padRight(truncateRunes(formatSender(msg.From), senderW), senderW),
			padRight(truncateRunes(msg.Subject, subjectW), subjectW),
			padRight(formatAge(now, msg.Date), ageWidth),
			padRight(formatConfidence(msg.Classification.Confidence), confidenceWidth))
		row = padRight(row, m.width)

		switch {
		case i == m.cursor:
			lines = append(lines, cursorRowStyle.Render(row))
		case selected:
			lines = append(lines, selectedRowStyle.Render(row))
		case i%2 == 1:
			lines = append(lines, altRowStyle.Render(row))
		default:
			lines = append(lines, normalRowStyle.Render(row))
		}
	}

	if cur, ok := m.cursorMessage(); ok {
		why := strings.Join(cur.Classification.Reasons, ", ")
		if cur.Snippet != "" {
			lines = append(lines, "", reasonStyle.Render(truncateRunes("  "+cur.Snippet, m.width)))
		} else {
			lines = append(lines, "")
		}
		lines = append(lines, reasonStyle.Render(truncateRunes(
			fmt.Sprintf("  %s: %s", cur.Classification.Action, why), m.width)))
	}
	return lines
}

func (m Model) cursorMessage() (mail.ClassifiedMessage, bool) {
	if m.cursor < 0 || m.cursor >= len(m.view.CurrentBatch) {
		return mail.ClassifiedMessage{}, false
	}
	return m.view.CurrentBatch[m.cursor], true
}

// statusLine shows commit progress, notifications and buffer state.
func (m Model) statusLine() string {
	switch {
	case m.view.IsProcessing:
		return loadingStyle.Render(m.spinner.View() + " Processing...")
	case m.flash != "" && m.flashErr:
		return errorStyle.Render(truncateRunes(m.flash, m.width))
	case m.flash != "":
		return flashStyle.Render(truncateRunes(m.flash, m.width))
	}
	status := fmt.Sprintf("%d selected of %d | %d buffered", len(m.view.SelectedIDs), len(m.view.CurrentBatch), m.view.Buffered)
	if m.view.HasMore {
		status += ", more available"
	}
	return statsStyle.Render(status)
}

func (m Model) footerView() string {
	return footerStyle.Render(m.help.View(m.keys))
}

// detailPageSize is the number of body lines visible at once.
func (m Model) detailPageSize() int {
	return max(m.height-8, 1)
}

func (m Model) maxDetailScroll() int {
	return max(len(m.detailLines)-m.detailPageSize(), 0)
}

// renderDetailLines wraps the loaded body to the terminal width.
func (m Model) renderDetailLines() []string {
	if m.detail == nil {
		return nil
	}
	text := m.detail.BodyText
	if strings.TrimSpace(text) == "" {
		text = "(no text content)"
	}
	lines := wrapText(text, max(m.width-2, 20))
	if len(m.detail.Attachments) > 0 {
		lines = append(lines, "", "Attachments:")
		for _, a := range m.detail.Attachments {
			lines = append(lines, "  "+a)
		}
	}
	return lines
}

// detailView renders the message body view.
func (m Model) detailView() string {
	var sb strings.Builder
	switch {
	case m.detailLoading:
		sb.WriteString(loadingStyle.Render(m.spinner.View() + " Loading message..."))
		sb.WriteString("\n")
	case m.detailErr != nil:
		sb.WriteString(errorStyle.Render(padRight("Error: "+m.detailErr.Error(), m.width)))
		sb.WriteString("\n")
	default:
		d := m.detail
		for _, h := range [][2]string{{"From", d.From}, {"To", d.To}, {"Subject", d.Subject}} {
			sb.WriteString(tableHeaderStyle.Render(h[0]+": ") + truncateRunes(h[1], max(m.width-len(h[0])-2, 0)))
			sb.WriteString("\n")
		}
		sb.WriteString(separatorStyle.Render(strings.Repeat("─", max(m.width, 0))))
		sb.WriteString("\n")
		end := min(m.detailScroll+m.detailPageSize(), len(m.detailLines))
		for _, line := range m.detailLines[m.detailScroll:end] {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	pos := ""
	if n := len(m.detailLines); n > m.detailPageSize() {
		pos = fmt.Sprintf(" | line %d of %d", m.detailScroll+1, n)
	}
	sb.WriteString(footerStyle.Render("esc back | ↑/↓ scroll | pgup/pgdn page" + pos))
	return sb.String()
}

// overlayModal centres a dialog on the screen.
func (m Model) overlayModal(title, text string) string {
	content := modalTitleStyle.Render(title) + "\n\n" +
		strings.Join(wrapText(text, min(50, max(m.width-10, 20))), "\n") +
		"\n\n[y] yes   [n] no"
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modalStyle.Render(content))
}
