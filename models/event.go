package models

import (
	"errors"
	"math"

	"github.com/tidwall/gjson"
)

// EventType discriminates the payloads written by the analysis backend
type EventType string

// Shared by both protocols
const (
	EventHeartbeat     EventType = "heartbeat"
	EventStart         EventType = "start"
	EventAgentStart    EventType = "agent_start"
	EventAgentChunk    EventType = "agent_chunk"
	EventAgentComplete EventType = "agent_complete"
	EventAgentError    EventType = "agent_error"
	EventComplete      EventType = "complete"
	EventTimeout       EventType = "timeout"
	EventError         EventType = "error"
)

// Phased protocol only
const (
	EventAnalysisPhaseStart    EventType = "analysis_phase_start"
	EventDataFetchStart        EventType = "data_fetch_start"
	EventDataFetchComplete     EventType = "data_fetch_complete"
	EventSynthesisStart        EventType = "synthesis_start"
	EventSynthesisChunk        EventType = "synthesis_chunk"
	EventSynthesisPending      EventType = "synthesis_pending"
	EventClarificationNeeded   EventType = "clarification_needed"
	EventClarificationStart    EventType = "clarification_start"
	EventClarificationComplete EventType = "clarification_complete"
)

// Event is one decoded stream frame. Only Type is always present; the other
// fields are filled depending on the event kind and protocol.
//
// Generation is never read from the wire. The transport stamps it with the
// generation the connection was opened for.
type Event struct {
	Generation uint64 `json:"-"`

	Type            EventType `json:"type"`
	Agent           string    `json:"agent,omitempty"`
	Content         string    `json:"content,omitempty"`
	Message         string    `json:"message,omitempty"`
	Error           string    `json:"error,omitempty"`
	Success         *bool     `json:"success,omitempty"`
	LatencyMs       *int64    `json:"latency_ms,omitempty"`
	Summary         string    `json:"summary,omitempty"`
	KeyInsights     []string  `json:"key_insights,omitempty"`
	SynthesisOutput *string   `json:"synthesis_output,omitempty"`
	Phase           string    `json:"phase,omitempty"`
}

// Succeeded reports the success flag of an agent_complete event.
// A missing flag means success.
func (e Event) Succeeded() bool {
	return e.Success == nil || *e.Success
}

// Reason returns the human readable failure text carried by the event
func (e Event) Reason() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// UnmarshalJSON decodes an event leniently. Only a string type is required;
// an optional field of an unexpected JSON type is read as best it can be or
// left empty, so one odd field never costs the whole event.
func (e *Event) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return errors.New("invalid event JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return errors.New("event is not a JSON object")
	}
	kind := root.Get("type")
	if kind.Type != gjson.String {
		return errors.New("event type must be a string")
	}

	*e = Event{
		Type:        EventType(kind.Str),
		Agent:       scalarString(root.Get("agent")),
		Content:     scalarString(root.Get("content")),
		Message:     scalarString(root.Get("message")),
		Error:       scalarString(root.Get("error")),
		Success:     optionalBool(root.Get("success")),
		LatencyMs:   optionalMillis(root.Get("latency_ms")),
		Summary:     scalarString(root.Get("summary")),
		KeyInsights: stringList(root.Get("key_insights")),
		Phase:       scalarString(root.Get("phase")),
	}
	if out := root.Get("synthesis_output"); out.Exists() && out.Type != gjson.Null && out.Type != gjson.JSON {
		text := out.String()
		e.SynthesisOutput = &text
	}
	return nil
}

func scalarString(r gjson.Result) string {
	switch r.Type {
	case gjson.String, gjson.Number, gjson.True, gjson.False:
		return r.String()
	default:
		return ""
	}
}

func optionalBool(r gjson.Result) *bool {
	switch r.Type {
	case gjson.True, gjson.False, gjson.String, gjson.Number:
		b := r.Bool()
		return &b
	default:
		return nil
	}
}

// optionalMillis rounds a numeric latency to whole milliseconds
func optionalMillis(r gjson.Result) *int64 {
	var f float64
	switch r.Type {
	case gjson.Number:
		f = r.Num
	case gjson.String:
		parsed := gjson.Parse(r.Str)
		if parsed.Type != gjson.Number {
			return nil
		}
		f = parsed.Num
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > 1e15 {
		return nil
	}
	ms := int64(math.Round(f))
	return &ms
}

func stringList(r gjson.Result) []string {
	if !r.IsArray() {
		return nil
	}
	var out []string
	r.ForEach(func(_, item gjson.Result) bool {
		if text := scalarString(item); text != "" {
			out = append(out, text)
		}
		return true
	})
	return out
}
