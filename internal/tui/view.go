package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dgallion1/recordlens/internal/annotate"
	"github.com/dgallion1/recordlens/internal/record"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7c3aed"))
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f8fafc")).Background(lipgloss.Color("#7c3aed")).Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#dc2626"))
	tabStyle    = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("#6b7280"))
	activeTab   = lipgloss.NewStyle().Padding(0, 1).Bold(true).Underline(true).Foreground(lipgloss.Color("#f8fafc"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#4b5563")).Padding(0, 1)
)

// highlightStyle is the terminal rendering of a category mark.
func highlightStyle(c record.Category) lipgloss.Style {
	info := c.Info()
	color := lipgloss.Color(info.Color)
	switch info.Mark {
	case "highlight":
		return lipgloss.NewStyle().Background(color).Foreground(lipgloss.Color("#ffffff"))
	case "check":
		return lipgloss.NewStyle().Foreground(color).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(color).Underline(true)
	}
}

func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("recordlens"))
	b.WriteString(dimStyle.Render("  session " + m.sessionID))
	b.WriteString("\n\n")

	switch {
	case m.result != nil:
		b.WriteString(m.resultView())
	case m.status.Stage == record.StageError:
		b.WriteString(m.errorView())
	default:
		b.WriteString(m.progressView())
	}
	if m.err != nil {
		b.WriteString("\n" + errorStyle.Render("error: "+m.err.Error()) + "\n")
	}
	return b.String()
}

func (m *Model) progressView() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", m.spinner.View(), m.status.Message)
	b.WriteString(m.progress.ViewAs(float64(m.status.Progress) / 100))
	b.WriteString("\n\n" + dimStyle.Render("q quit · processing continues on the server if you leave"))
	return b.String()
}

func (m *Model) errorView() string {
	var b strings.Builder
	b.WriteString(errorStyle.Render("Analysis failed") + "\n\n")
	b.WriteString(m.status.Message + "\n")
	if m.status.Error != "" {
		b.WriteString(dimStyle.Render(m.status.Error) + "\n")
	}
	if m.retrying {
		b.WriteString("\n" + m.spinner.View() + " Retrying...\n")
	} else {
		b.WriteString("\n" + dimStyle.Render("r retry · q quit"))
	}
	return b.String()
}

func (m *Model) resultView() string {
	var b strings.Builder
	b.WriteString(m.legendView() + "\n\n")
	if len(m.sections) == 0 {
		return b.String()
	}

	tabs := make([]string, 0, len(m.sections))
	for i, sec := range m.sections {
		if i == m.section {
			tabs = append(tabs, activeTab.Render(sec.Title))
		} else {
			tabs = append(tabs, tabStyle.Render(sec.Title))
		}
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, tabs...) + "\n")

	sec := m.sections[m.section]
	width := max(20, m.width-4)
	b.WriteString(boxStyle.Width(width).Render(sectionBody(sec.RenderModel)) + "\n")

	if notes := feedbackView(sec.RenderModel); notes != "" {
		b.WriteString("\n" + notes)
	}
	b.WriteString("\n" + m.summaryView() + "\n")
	b.WriteString(dimStyle.Render("1-5 toggle category · a all · n none · tab next section · q quit"))
	return b.String()
}

func (m *Model) legendView() string {
	parts := make([]string, 0, len(record.Categories))
	for i, c := range record.Categories {
		info := c.Info()
		box := "[ ]"
		if m.filter.Has(c) {
			box = "[x]"
		}
		label := fmt.Sprintf("%d %s %s %s", i+1, box, info.Icon, info.Name)
		if m.filter.Has(c) {
			parts = append(parts, highlightStyle(c).Render(label))
		} else {
			parts = append(parts, dimStyle.Render(label))
		}
	}
	return strings.Join(parts, "  ")
}

// sectionBody renders the segments of one section with highlight styles.
func sectionBody(rm annotate.RenderModel) string {
	if rm.Empty {
		return dimStyle.Render(rm.Placeholder)
	}
	var b strings.Builder
	for _, seg := range rm.Segments {
		if seg.Highlight == nil {
			b.WriteString(seg.Text)
			continue
		}
		text := seg.Text
		if seg.Highlight.Style.Mark == "check" {
			text += " ✓"
		}
		b.WriteString(highlightStyle(seg.Highlight.Primary).Render(text))
	}
	return b.String()
}

// feedbackView lists the tooltip entries of every span, in text order.
func feedbackView(rm annotate.RenderModel) string {
	if len(rm.Spans) == 0 {
		return ""
	}
	spans := append([]annotate.Span(nil), rm.Spans...)
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })

	var b strings.Builder
	for _, sp := range spans {
		b.WriteString(highlightStyle(sp.Primary).Render("“"+sp.Sentence+"”") + "\n")
		for _, e := range sp.Categories {
			fmt.Fprintf(&b, "  %s %s: %s\n", e.Icon, e.Name, e.Feedback)
		}
	}
	return b.String()
}

func (m *Model) summaryView() string {
	s := m.summary
	return dimStyle.Render(fmt.Sprintf(
		"%d feedback on %d sentences · composite %d · career %d · effort %d · linkage %d · specificity %d",
		s.TotalFeedback, s.DistinctSentences, s.Scores.Composite,
		s.Scores.Career, s.Scores.Effort, s.Scores.Linkage, s.Scores.Specificity,
	))
}
