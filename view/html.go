package view

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/a-h/templ"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"stream-analyst/models"
)

// htmlWriter accumulates the first write error so render code can stay linear
type htmlWriter struct {
	w   io.Writer
	err error
}

func (h *htmlWriter) raw(s string) {
	if h.err == nil {
		_, h.err = io.WriteString(h.w, s)
	}
}

func (h *htmlWriter) text(s string) {
	h.raw(templ.EscapeString(s))
}

func (h *htmlWriter) attr(name, value string) {
	h.raw(" " + name + `="` + templ.EscapeString(value) + `"`)
}

// Markdown strips machine-readable blocks from text and renders the rest
func Markdown(text string) templ.Component {
	return Blocks(Parse(StripMachineBlocks(text)))
}

// Blocks renders projected blocks as HTML
func Blocks(blocks []Block) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		writeBlocks(h, blocks)
		return h.err
	})
}

func writeBlocks(h *htmlWriter, blocks []Block) {
	for _, b := range blocks {
		switch b.Kind {
		case BlockHeading:
			level := min(max(b.Level+2, 3), 6)
			tag := "h" + strconv.Itoa(level)
			h.raw("<" + tag + ">")
			writeSpans(h, b.Spans)
			h.raw("</" + tag + ">")
		case BlockList:
			tag := "ul"
			if b.Ordered {
				tag = "ol"
			}
			h.raw("<" + tag + ">")
			for _, item := range b.Items {
				h.raw("<li>")
				writeSpans(h, item)
				h.raw("</li>")
			}
			h.raw("</" + tag + ">")
		default:
			h.raw("<p>")
			writeSpans(h, b.Spans)
			h.raw("</p>")
		}
	}
}

func writeSpans(h *htmlWriter, spans []Span) {
	for _, s := range spans {
		switch s.Kind {
		case SpanBold:
			h.raw("<strong>")
			h.text(s.Text)
			h.raw("</strong>")
		case SpanItalic:
			h.raw("<em>")
			h.text(s.Text)
			h.raw("</em>")
		default:
			h.text(s.Text)
		}
	}
}

// ErrorState renders a standalone error message
func ErrorState(message string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<div class="error-state" role="alert"><p>`)
		h.text(message)
		h.raw(`</p></div>`)
		return h.err
	})
}

// SessionPanel renders the whole panel for one session. The panel root is
// the HTMX swap target for its own cancel and retry actions.
func SessionPanel(panelID string, s models.AnalysisSession) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		writePanel(h, panelID, s)
		return h.err
	})
}

func writePanel(h *htmlWriter, panelID string, s models.AnalysisSession) {
	status := s.Status
	if status == "" {
		status = models.SessionStatusIdle
	}

	h.raw(`<section class="analysis-panel"`)
	h.attr("id", panelDOMID(panelID))
	h.attr("data-status", string(status))
	h.attr("data-generation", strconv.FormatUint(s.Generation, 10))
	h.raw(">")

	if s.Symbol == "" {
		h.raw(`<p class="empty">No analysis yet</p></section>`)
		return
	}

	h.raw(`<header><h2>`)
	h.text(s.Symbol)
	h.raw(`</h2><span`)
	h.attr("class", "status status-"+string(status))
	h.raw(">")
	h.text(StatusLabel(s))
	h.raw(`</span></header>`)

	if s.Progress != "" {
		h.raw(`<p class="progress">`)
		h.text(s.Progress)
		h.raw(`</p>`)
	}

	switch {
	case status == models.SessionStatusError:
		writeErrorBanner(h, panelID, s.Error)
	case s.Cancelled && status == models.SessionStatusIdle:
		h.raw(`<p class="cancelled">Analysis cancelled</p>`)
		writeAction(h, panelID, "retry", "Run again")
	case status.IsLive():
		writeAction(h, panelID, "cancel", "Cancel")
	}

	if s.Protocol == models.ProtocolPhased {
		writePhased(h, s)
	} else {
		writeSections(h, s)
	}

	h.raw(`</section>`)
}

func writeErrorBanner(h *htmlWriter, panelID, message string) {
	h.raw(`<div class="error-banner" role="alert"><p>`)
	h.text(message)
	h.raw(`</p>`)
	writeAction(h, panelID, "retry", "Retry")
	h.raw(`</div>`)
}

func writeAction(h *htmlWriter, panelID, action, label string) {
	h.raw(`<form`)
	h.attr("class", "panel-action action-"+action)
	h.attr("method", "post")
	h.attr("action", PanelActionURL(panelID, action))
	h.attr("hx-post", PanelActionURL(panelID, action))
	h.attr("hx-target", "#"+panelDOMID(panelID))
	h.attr("hx-swap", "outerHTML")
	h.raw(`><button type="submit">`)
	h.text(label)
	h.raw(`</button></form>`)
}

// writeSections renders the per-agent streaming protocol
func writeSections(h *htmlWriter, s models.AnalysisSession) {
	for _, agent := range models.StreamingAgents {
		sec := s.Section(agent)
		h.raw(`<article class="agent-section"`)
		h.attr("data-agent", string(agent))
		h.raw(`><h3>`)
		h.text(AgentTitle(agent))
		h.raw(`</h3>`)

		switch {
		case sec.IsLoading:
			h.raw(`<span class="loading">Analyzing...</span>`)
		case sec.IsComplete && sec.Error == "":
			h.raw(`<span class="done">Complete</span>`)
		}
		if sec.Error != "" {
			h.raw(`<p class="agent-error">`)
			h.text(sec.Error)
			h.raw(`</p>`)
		}

		if sec.Content != "" {
			h.raw(`<div class="content">`)
			writeBlocks(h, Parse(StripMachineBlocks(sec.Content)))
			h.raw(`</div>`)
		}
		h.raw(`</article>`)
	}
}

// writePhased renders the phased protocol: agent table, synthesis, rounds
func writePhased(h *htmlWriter, s models.AnalysisSession) {
	if s.Phase != "" {
		h.raw(`<p class="phase">Phase: `)
		h.text(s.Phase)
		h.raw(`</p>`)
	}
	if s.DataFetched {
		h.raw(`<p class="data-fetched">Market data loaded</p>`)
	}

	h.raw(`<table class="agents"><thead><tr><th>Agent</th><th>Status</th><th>Latency</th></tr></thead><tbody>`)
	for _, agent := range models.PhasedAgents {
		st := s.Agent(agent)
		state := st.Status
		if state == "" {
			state = models.AgentStateIdle
		}
		h.raw(`<tr`)
		h.attr("data-agent", string(agent))
		h.attr("class", "agent-"+string(state))
		h.raw(`><td>`)
		h.text(AgentTitle(agent))
		h.raw(`</td><td>`)
		h.text(string(state))
		if st.Error != "" {
			h.raw(`<span class="agent-error">`)
			h.text(st.Error)
			h.raw(`</span>`)
		}
		h.raw(`</td><td>`)
		h.text(FormatLatency(st.LatencyMs))
		h.raw(`</td></tr>`)
	}
	h.raw(`</tbody></table>`)

	for _, agent := range models.PhasedAgents {
		res := s.Agent(agent).Results
		if res == nil || (res.Summary == "" && len(res.KeyInsights) == 0) {
			continue
		}
		h.raw(`<details class="agent-results"`)
		h.attr("data-agent", string(agent))
		h.raw(`><summary>`)
		h.text(AgentTitle(agent))
		h.raw(`</summary>`)
		if res.Summary != "" {
			h.raw(`<div class="summary">`)
			writeBlocks(h, Parse(StripMachineBlocks(res.Summary)))
			h.raw(`</div>`)
		}
		if len(res.KeyInsights) > 0 {
			h.raw(`<ul class="insights">`)
			for _, insight := range res.KeyInsights {
				h.raw(`<li>`)
				writeSpans(h, ParseInline(insight))
				h.raw(`</li>`)
			}
			h.raw(`</ul>`)
		}
		h.raw(`</details>`)
	}

	if s.Synthesis != "" {
		h.raw(`<div class="synthesis"><h3>Synthesis</h3>`)
		writeBlocks(h, Parse(StripMachineBlocks(s.Synthesis)))
		h.raw(`</div>`)
	}

	if s.ClarificationRounds > 0 {
		h.raw(`<p class="clarifications">Clarification rounds: `)
		h.text(strconv.Itoa(s.ClarificationRounds))
		h.raw(`</p>`)
	}
}

// StatusLabel is the human readable status shown next to the symbol
func StatusLabel(s models.AnalysisSession) string {
	switch s.Status {
	case models.SessionStatusConnecting:
		return "Connecting"
	case models.SessionStatusStreaming:
		return "Streaming"
	case models.SessionStatusAnalyzing:
		return "Analyzing"
	case models.SessionStatusSynthesizing:
		return "Synthesizing"
	case models.SessionStatusComplete:
		return "Complete"
	case models.SessionStatusError:
		return "Failed"
	}
	if s.Cancelled {
		return "Cancelled"
	}
	return "Idle"
}

// AgentTitle formats an agent name for display
func AgentTitle(agent models.AgentName) string {
	return cases.Title(language.English).String(string(agent))
}

// FormatLatency renders an agent latency, or a dash when unknown
func FormatLatency(ms *int64) string {
	if ms == nil {
		return "-"
	}
	if *ms < 1000 {
		return fmt.Sprintf("%d ms", *ms)
	}
	return fmt.Sprintf("%.1f s", float64(*ms)/1000)
}

// PanelActionURL is the endpoint for a panel action such as cancel or retry
func PanelActionURL(panelID, action string) string {
	return "/api/panels/" + url.PathEscape(panelID) + "/" + action
}

func panelDOMID(panelID string) string {
	return "panel-" + panelID
}
