package models

import "slices"

// AgentName identifies a sub-analysis producer in the backend pipeline
type AgentName string

const (
	AgentFundamental AgentName = "fundamental"
	AgentTechnical   AgentName = "technical"
	AgentSentiment   AgentName = "sentiment"
	AgentNews        AgentName = "news"
)

// StreamingAgents are the agents rendered as sections in the per-agent streaming protocol
var StreamingAgents = []AgentName{AgentFundamental, AgentTechnical, AgentSentiment}

// PhasedAgents are the agents tracked by status in the phased protocol
var PhasedAgents = []AgentName{AgentFundamental, AgentTechnical, AgentSentiment, AgentNews}

// ParseAgentName returns the agent for a wire name and whether it is known at all
func ParseAgentName(name string) (AgentName, bool) {
	agent := AgentName(name)
	return agent, slices.Contains(PhasedAgents, agent)
}

// AgentSection is the streamed text for one agent in the per-agent protocol
type AgentSection struct {
	Content    string `json:"content"`
	IsLoading  bool   `json:"is_loading"`
	IsComplete bool   `json:"is_complete"`
	Error      string `json:"error,omitempty"`
}

// AgentState is the lifecycle of one agent in the phased protocol
type AgentState string

const (
	AgentStateIdle     AgentState = "idle"
	AgentStateRunning  AgentState = "running"
	AgentStateComplete AgentState = "complete"
	AgentStateError    AgentState = "error"
)

// IsTerminal reports whether the agent has finished, successfully or not
func (s AgentState) IsTerminal() bool {
	return s == AgentStateComplete || s == AgentStateError
}

// AgentResults is the structured output attached to a successful agent
type AgentResults struct {
	Summary     string   `json:"summary"`
	KeyInsights []string `json:"key_insights"`
}

// AgentStatus tracks one agent in the phased protocol
type AgentStatus struct {
	Status    AgentState    `json:"status"`
	LatencyMs *int64        `json:"latency_ms,omitempty"`
	Results   *AgentResults `json:"results,omitempty"`
	Error     string        `json:"error,omitempty"`
}
