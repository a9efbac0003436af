package tui

import (
	"fmt"
	"strings"

	"github.com/Gokhulnath/Manus/internal/annotation"
	"github.com/Gokhulnath/Manus/internal/highlight"
	"github.com/Gokhulnath/Manus/internal/models"
	"github.com/Gokhulnath/Manus/internal/viewer"
	"github.com/charmbracelet/lipgloss"
)

type theme struct {
	panel     lipgloss.Style
	title     lipgloss.Style
	user      lipgloss.Style
	assistant lipgloss.Style
	analysed  lipgloss.Style
	summary   lipgloss.Style
	highlight lipgloss.Style
	status    lipgloss.Style
	errStatus lipgloss.Style
	help      lipgloss.Style
}

func newTheme() theme {
	accent := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	pink := lipgloss.Color("#ff71ce")
	muted := lipgloss.Color("#9ca3d8")
	return theme{
		panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1),
		title:     lipgloss.NewStyle().Foreground(mint).Bold(true),
		user:      lipgloss.NewStyle().Foreground(accent).Bold(true),
		assistant: lipgloss.NewStyle().Foreground(mint),
		analysed:  lipgloss.NewStyle().Foreground(muted),
		summary:   lipgloss.NewStyle().Bold(true),
		highlight: lipgloss.NewStyle().Background(lipgloss.Color("#ffeb3b")).Foreground(lipgloss.Color("#000000")),
		status:    lipgloss.NewStyle().Foreground(accent).Bold(true),
		errStatus: lipgloss.NewStyle().Foreground(pink).Bold(true),
		help:      lipgloss.NewStyle().Foreground(muted),
	}
}

// entry is one rendered transcript line.
type entry struct {
	kind string // user, assistant, analysed, summary, failed
	text string
}

func entryFor(m models.Message, parser *annotation.Parser) (entry, bool) {
	switch {
	case m.Role == models.RoleUser:
		return entry{kind: "user", text: m.Content}, true
	case m.Task == models.TaskAnalyse:
		if m.Status != models.StatusCompleted {
			return entry{}, false
		}
		a := parser.Parse(m.Content)
		text := "Analysed " + a.NameOr(annotation.PlaceholderName)
		if a.CharacterRange != nil {
			text += " (" + *a.CharacterRange + ")"
		}
		return entry{kind: "analysed", text: text}, true
	case m.Task == models.TaskSummarize && m.Status == models.StatusFailed:
		return entry{kind: "failed", text: m.Content}, true
	case m.Task == models.TaskSummarize:
		if m.Status != models.StatusCompleted {
			return entry{}, false
		}
		return entry{kind: "summary", text: m.Content}, true
	default:
		return entry{kind: "assistant", text: m.Content}, true
	}
}

func (t theme) renderEntries(entries []entry, width int) string {
	if len(entries) == 0 {
		return t.help.Render("No messages yet. Ask a question about the data room.")
	}
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n\n")
		}
		var label string
		style := t.assistant
		switch e.kind {
		case "user":
			label, style = "You", t.user
		case "analysed":
			b.WriteString(t.analysed.Render("· " + e.text))
			continue
		case "summary":
			label, style = "Answer", t.summary
		case "failed":
			label, style = "Failed", t.errStatus
		default:
			label = "Assistant"
		}
		b.WriteString(style.Render(label + ":"))
		b.WriteString("\n")
		b.WriteString(wrap(e.text, width))
	}
	return b.String()
}

// renderDocument lays out a document for a viewport of the given width. It
// returns the content and the line on which the highlight starts.
func (t theme) renderDocument(doc viewer.Document, width int) (string, int) {
	header := t.title.Render(fmt.Sprintf("%s (%s)", doc.Name, doc.Type))
	switch doc.State {
	case viewer.Empty:
		return t.help.Render("Select an analysed passage to view its document."), 0
	case viewer.Loading:
		return header + "\n\nLoading…", 0
	case viewer.Failed:
		return header + "\n\n" + t.errStatus.Render(doc.Err.Error()), 0
	}
	body, line := layoutSplit(doc.Split, width, t.highlight)
	return header + "\n\n" + body, line + 2
}

// layoutSplit hard-wraps the three parts of s at width runes, styling the
// highlighted part, and reports the line the highlight starts on.
func layoutSplit(s highlight.Split, width int, hl lipgloss.Style) (string, int) {
	var b strings.Builder
	col, lines := 0, 0

	write := func(text string, style *lipgloss.Style) {
		var seg []rune
		flush := func() {
			if len(seg) == 0 {
				return
			}
			if style != nil {
				b.WriteString(style.Render(string(seg)))
			} else {
				b.WriteString(string(seg))
			}
			seg = seg[:0]
		}
		for _, r := range text {
			if r == '\n' {
				flush()
				b.WriteByte('\n')
				col = 0
				lines++
				continue
			}
			if width > 0 && col == width {
				flush()
				b.WriteByte('\n')
				col = 0
				lines++
			}
			seg = append(seg, r)
			col++
		}
		flush()
	}

	write(s.Prefix, nil)
	start := lines
	if width > 0 && col == width && s.Highlighted != "" && !strings.HasPrefix(s.Highlighted, "\n") {
		start++
	}
	write(s.Highlighted, &hl)
	write(s.Suffix, nil)
	return b.String(), start
}

// wrap hard-wraps s at width runes per line.
func wrap(s string, width int) string {
	if width <= 0 {
		return s
	}
	out, _ := layoutSplit(highlight.Split{Prefix: s}, width, lipgloss.NewStyle())
	return out
}
