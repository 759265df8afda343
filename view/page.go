package view

import (
	"context"
	"io"

	"github.com/a-h/templ"

	"stream-analyst/models"
)

const (
	htmxScript   = "https://unpkg.com/htmx.org@2.0.4"
	htmxWSScript = "https://unpkg.com/htmx-ext-ws@2.0.2/ws.js"
)

// Page renders the full document for one panel. The panel subscribes to
// its snapshots over a WebSocket and is swapped in place on every update.
func Page(panelID string, s models.AnalysisSession) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}

		h.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		h.raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		h.raw(`<title>Stream Analyst</title>`)
		h.raw(`<script`)
		h.attr("src", htmxScript)
		h.raw(`></script><script`)
		h.attr("src", htmxWSScript)
		h.raw(`></script></head><body>`)

		h.raw(`<main`)
		h.attr("hx-ext", "ws")
		h.attr("ws-connect", PanelActionURL(panelID, "ws")+"?format=html")
		h.raw(`><h1>Stream Analyst</h1>`)

		h.raw(`<form class="analyze-form"`)
		h.attr("method", "post")
		h.attr("action", PanelActionURL(panelID, "analyze"))
		h.attr("hx-post", PanelActionURL(panelID, "analyze"))
		h.attr("hx-target", "#"+panelDOMID(panelID))
		h.attr("hx-swap", "outerHTML")
		h.raw(`><input type="text" name="symbol" placeholder="Symbol" maxlength="10" required`)
		h.attr("value", s.Symbol)
		h.raw(`><select name="protocol">`)
		writeOption(h, string(models.ProtocolStreaming), "Per-agent stream", s.Protocol != models.ProtocolPhased)
		writeOption(h, string(models.ProtocolPhased), "Phased with synthesis", s.Protocol == models.ProtocolPhased)
		h.raw(`</select><button type="submit">Analyze</button></form>`)

		writePanel(h, panelID, s)

		h.raw(`</main></body></html>`)
		return h.err
	})
}

func writeOption(h *htmlWriter, value, label string, selected bool) {
	h.raw(`<option`)
	h.attr("value", value)
	if selected {
		h.raw(` selected`)
	}
	h.raw(`>`)
	h.text(label)
	h.raw(`</option>`)
}
