package mocks

import (
	"encoding/json"
	"time"

	"stream-analyst/models"
)

// Frame is one line written to the stream
type Frame struct {
	Data  string        // payload after "data: ", written as is
	Delay time.Duration // wait before writing
}

// Script is the scripted answer to one stream request.
type Script struct {
	Status int     // non-2xx answers with Body and no stream
	Body   string  // error body for non-2xx statuses
	Frames []Frame // written in order, each flushed
	Hold   bool    // keep the connection open after the last frame until the client leaves
}

// EventFrame encodes an event as a frame
func EventFrame(e models.Event) Frame {
	data, _ := json.Marshal(e)
	return Frame{Data: string(data)}
}

// RawFrame writes payload verbatim, for malformed input
func RawFrame(payload string) Frame {
	return Frame{Data: payload}
}

// HeartbeatFrame is a keep-alive frame
func HeartbeatFrame() Frame {
	return EventFrame(models.Event{Type: models.EventHeartbeat})
}

// StreamingScript is a complete run of the per-agent protocol where every
// agent streams content in two chunks
func StreamingScript(symbol string) Script {
	frames := []Frame{EventFrame(models.Event{Type: models.EventStart, Message: "Analyzing " + symbol})}
	for _, agent := range models.StreamingAgents {
		name := string(agent)
		frames = append(frames,
			EventFrame(models.Event{Type: models.EventAgentStart, Agent: name}),
			EventFrame(models.Event{Type: models.EventAgentChunk, Agent: name, Content: "## " + name + "\n"}),
			EventFrame(models.Event{Type: models.EventAgentChunk, Agent: name, Content: "**" + symbol + "** looks steady."}),
			EventFrame(models.Event{Type: models.EventAgentComplete, Agent: name}),
		)
	}
	frames = append(frames, EventFrame(models.Event{Type: models.EventComplete}))
	return Script{Frames: frames}
}

// PhasedScript is a complete run of the phased protocol with one
// clarification round and a streamed synthesis
func PhasedScript(symbol string) Script {
	ok := true
	latency := int64(1200)
	synthesis := "Overall: hold " + symbol + "."

	frames := []Frame{
		EventFrame(models.Event{Type: models.EventStart}),
		EventFrame(models.Event{Type: models.EventDataFetchStart, Message: "Fetching market data"}),
		EventFrame(models.Event{Type: models.EventDataFetchComplete}),
		EventFrame(models.Event{Type: models.EventAnalysisPhaseStart, Phase: "analysis"}),
	}
	for _, agent := range models.PhasedAgents {
		name := string(agent)
		frames = append(frames,
			EventFrame(models.Event{Type: models.EventAgentStart, Agent: name}),
			EventFrame(models.Event{
				Type:        models.EventAgentComplete,
				Agent:       name,
				Success:     &ok,
				LatencyMs:   &latency,
				Summary:     name + " summary",
				KeyInsights: []string{name + " insight"},
			}),
		)
	}
	frames = append(frames,
		EventFrame(models.Event{Type: models.EventClarificationNeeded}),
		EventFrame(models.Event{Type: models.EventClarificationStart}),
		EventFrame(models.Event{Type: models.EventClarificationComplete}),
		EventFrame(models.Event{Type: models.EventSynthesisStart}),
		EventFrame(models.Event{Type: models.EventSynthesisChunk, Content: "Overall: "}),
		EventFrame(models.Event{Type: models.EventComplete, SynthesisOutput: &synthesis}),
	)
	return Script{Frames: frames}
}

// Paced returns a copy of s with every frame delayed by at least d.
func (s Script) Paced(d time.Duration) Script {
	if d <= 0 {
		return s
	}
	frames := make([]Frame, len(s.Frames))
	for i, f := range s.Frames {
		f.Delay = max(f.Delay, d)
		frames[i] = f
	}
	s.Frames = frames
	return s
}
