package models

import (
	"maps"
	"slices"

	"github.com/google/uuid"
)

// Protocol selects which backend endpoint and event vocabulary a session uses
type Protocol string

const (
	// ProtocolStreaming is the legacy per-agent streaming endpoint
	ProtocolStreaming Protocol = "v1"
	// ProtocolPhased is the multi-phase endpoint with synthesis and clarification rounds
	ProtocolPhased Protocol = "v2"
)

// ParseProtocol maps a request value onto a protocol, defaulting to the legacy one
func ParseProtocol(s string) Protocol {
	switch s {
	case "v2", "phased":
		return ProtocolPhased
	default:
		return ProtocolStreaming
	}
}

// Agents returns the allow-list of agents tracked under the protocol
func (p Protocol) Agents() []AgentName {
	if p == ProtocolPhased {
		return PhasedAgents
	}
	return StreamingAgents
}

// Tracks reports whether the protocol renders the named agent
func (p Protocol) Tracks(agent AgentName) bool {
	return slices.Contains(p.Agents(), agent)
}

// SessionStatus is the lifecycle of one analysis run
type SessionStatus string

const (
	SessionStatusIdle         SessionStatus = "idle"
	SessionStatusConnecting   SessionStatus = "connecting"
	SessionStatusStreaming    SessionStatus = "streaming"
	SessionStatusAnalyzing    SessionStatus = "analyzing"
	SessionStatusSynthesizing SessionStatus = "synthesizing"
	SessionStatusComplete     SessionStatus = "complete"
	SessionStatusError        SessionStatus = "error"
)

// IsTerminal reports whether the status absorbs every further event of its generation
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusComplete || s == SessionStatusError
}

// IsLive reports whether a transport is expected to be delivering events
func (s SessionStatus) IsLive() bool {
	switch s {
	case SessionStatusConnecting, SessionStatusStreaming, SessionStatusAnalyzing, SessionStatusSynthesizing:
		return true
	}
	return false
}

// AnalysisSession is the view model of one analysis run for one symbol.
// Values are treated as immutable snapshots; the reducer copies before it writes.
type AnalysisSession struct {
	RunID      uuid.UUID     `json:"run_id"`
	Symbol     string        `json:"symbol"`
	Protocol   Protocol      `json:"protocol"`
	Generation uint64        `json:"generation"`
	Status     SessionStatus `json:"status"`
	Error      string        `json:"error,omitempty"`
	Progress   string        `json:"progress,omitempty"`
	Cancelled  bool          `json:"cancelled,omitempty"`

	// Per-agent streaming protocol
	Sections map[AgentName]AgentSection `json:"sections,omitempty"`

	// Phased protocol
	Phase               string                    `json:"phase,omitempty"`
	DataFetched         bool                      `json:"data_fetched,omitempty"`
	Agents              map[AgentName]AgentStatus `json:"agents,omitempty"`
	Synthesis           string                    `json:"synthesis,omitempty"`
	ClarificationRounds int                       `json:"clarification_rounds,omitempty"`
}

// Section returns the section for an agent, zero valued if untracked
func (s AnalysisSession) Section(agent AgentName) AgentSection {
	return s.Sections[agent]
}

// Agent returns the status record for an agent, zero valued if untracked
func (s AnalysisSession) Agent(agent AgentName) AgentStatus {
	return s.Agents[agent]
}

// Clone returns a deep copy so callers can mutate without touching published snapshots
func (s AnalysisSession) Clone() AnalysisSession {
	out := s
	out.Sections = maps.Clone(s.Sections)
	if s.Agents != nil {
		out.Agents = make(map[AgentName]AgentStatus, len(s.Agents))
		for name, status := range s.Agents {
			out.Agents[name] = status.clone()
		}
	}
	return out
}

func (a AgentStatus) clone() AgentStatus {
	out := a
	if a.LatencyMs != nil {
		latency := *a.LatencyMs
		out.LatencyMs = &latency
	}
	if a.Results != nil {
		results := AgentResults{
			Summary:     a.Results.Summary,
			KeyInsights: slices.Clone(a.Results.KeyInsights),
		}
		out.Results = &results
	}
	return out
}
