package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"stream-analyst/models"
	"stream-analyst/view"
)

type theme struct {
	header    lipgloss.Style
	muted     lipgloss.Style
	heading   lipgloss.Style
	agent     lipgloss.Style
	bold      lipgloss.Style
	italic    lipgloss.Style
	errorText lipgloss.Style
	status    map[models.SessionStatus]lipgloss.Style
}

func newTheme() theme {
	pink := lipgloss.Color("#ff71ce")
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	muted := lipgloss.Color("#9ca3d8")

	return theme{
		header:    lipgloss.NewStyle().Foreground(blue).Bold(true),
		muted:     lipgloss.NewStyle().Foreground(muted),
		heading:   lipgloss.NewStyle().Foreground(blue).Bold(true),
		agent:     lipgloss.NewStyle().Foreground(mint).Bold(true).Underline(true),
		bold:      lipgloss.NewStyle().Bold(true),
		italic:    lipgloss.NewStyle().Italic(true),
		errorText: lipgloss.NewStyle().Foreground(pink).Bold(true),
		status: map[models.SessionStatus]lipgloss.Style{
			models.SessionStatusComplete: lipgloss.NewStyle().Foreground(mint).Bold(true),
			models.SessionStatusError:    lipgloss.NewStyle().Foreground(pink).Bold(true),
		},
	}
}

// renderSession lays the session out as terminal text wrapped to width
func renderSession(s models.AnalysisSession, th theme, width int) string {
	if s.Symbol == "" {
		return th.muted.Render("Enter a symbol and press enter to analyze.")
	}

	var b strings.Builder

	statusStyle, ok := th.status[s.Status]
	if !ok {
		statusStyle = th.header
	}
	b.WriteString(th.heading.Render(s.Symbol) + "  " + statusStyle.Render(view.StatusLabel(s)))
	if s.Progress != "" {
		b.WriteString("  " + th.muted.Render(s.Progress))
	}
	b.WriteString("\n")

	if s.Status == models.SessionStatusError && s.Error != "" {
		b.WriteString(th.errorText.Render(s.Error) + "\n")
		b.WriteString(th.muted.Render("Press ctrl+r to retry.") + "\n")
	}
	if s.Cancelled {
		b.WriteString(th.muted.Render("Analysis cancelled. Press ctrl+r to run again.") + "\n")
	}

	if s.Protocol == models.ProtocolPhased {
		renderPhased(&b, s, th, width)
	} else {
		renderStreaming(&b, s, th, width)
	}
	return b.String()
}

func renderStreaming(b *strings.Builder, s models.AnalysisSession, th theme, width int) {
	for _, agent := range models.StreamingAgents {
		sec := s.Section(agent)

		title := th.agent.Render(view.AgentTitle(agent))
		switch {
		case sec.Error != "":
			title += " " + th.errorText.Render("failed")
		case sec.IsLoading:
			title += " " + th.muted.Render("streaming...")
		case sec.IsComplete:
			title += " " + th.muted.Render("done")
		}
		b.WriteString("\n" + title + "\n")

		if sec.Content == "" {
			if sec.IsLoading {
				b.WriteString(th.muted.Render("Waiting for output...") + "\n")
			}
			continue
		}
		b.WriteString(renderMarkdown(sec.Content, th, width))
	}
}

func renderPhased(b *strings.Builder, s models.AnalysisSession, th theme, width int) {
	if s.Phase != "" || s.DataFetched {
		var parts []string
		if s.Phase != "" {
			parts = append(parts, "phase "+s.Phase)
		}
		if s.DataFetched {
			parts = append(parts, "market data ready")
		}
		b.WriteString(th.muted.Render(strings.Join(parts, " · ")) + "\n")
	}

	b.WriteString("\n")
	for _, agent := range models.PhasedAgents {
		a := s.Agent(agent)
		state := string(a.Status)
		if state == "" {
			state = string(models.AgentStateIdle)
		}
		line := fmt.Sprintf("%-12s %-9s %8s", view.AgentTitle(agent), state, view.FormatLatency(a.LatencyMs))
		if a.Status == models.AgentStateError {
			line = th.errorText.Render(line)
			if a.Error != "" {
				line += "  " + a.Error
			}
		}
		b.WriteString(line + "\n")

		if a.Results != nil {
			if a.Results.Summary != "" {
				b.WriteString(wrap("  "+a.Results.Summary, width) + "\n")
			}
			for _, insight := range a.Results.KeyInsights {
				b.WriteString(wrap("  • "+insight, width) + "\n")
			}
		}
	}

	if s.ClarificationRounds > 0 {
		b.WriteString(th.muted.Render("Clarification rounds: "+strconv.Itoa(s.ClarificationRounds)) + "\n")
	}

	if s.Synthesis != "" {
		b.WriteString("\n" + th.agent.Render("Synthesis") + "\n")
		b.WriteString(renderMarkdown(s.Synthesis, th, width))
	}
}

// renderMarkdown projects accumulated agent text into styled lines
func renderMarkdown(text string, th theme, width int) string {
	var b strings.Builder
	for _, block := range view.Parse(view.StripMachineBlocks(text)) {
		switch block.Kind {
		case view.BlockHeading:
			b.WriteString(th.heading.Render(view.PlainText(block.Spans)) + "\n")
		case view.BlockList:
			for i, item := range block.Items {
				marker := "• "
				if block.Ordered {
					marker = strconv.Itoa(i+1) + ". "
				}
				b.WriteString(wrap(marker+renderSpans(item, th), width) + "\n")
			}
		default:
			b.WriteString(wrap(renderSpans(block.Spans, th), width) + "\n")
		}
	}
	return b.String()
}

func renderSpans(spans []view.Span, th theme) string {
	var b strings.Builder
	for _, span := range spans {
		switch span.Kind {
		case view.SpanBold:
			b.WriteString(th.bold.Render(span.Text))
		case view.SpanItalic:
			b.WriteString(th.italic.Render(span.Text))
		default:
			b.WriteString(span.Text)
		}
	}
	return b.String()
}

func wrap(text string, width int) string {
	return lipgloss.NewStyle().Width(width).Render(text)
}
