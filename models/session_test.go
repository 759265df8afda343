package models

import (
	"encoding/json"
	"testing"
)

func TestParseProtocol(t *testing.T) {
	tests := []struct {
		input string
		want  Protocol
	}{
		{"v1", ProtocolStreaming},
		{"v2", ProtocolPhased},
		{"phased", ProtocolPhased},
		{"", ProtocolStreaming},
		{"something", ProtocolStreaming},
	}

	for _, tt := range tests {
		if got := ParseProtocol(tt.input); got != tt.want {
			t.Errorf("ParseProtocol(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestProtocol_Tracks(t *testing.T) {
	if ProtocolStreaming.Tracks(AgentNews) {
		t.Error("streaming protocol should not track the news agent")
	}
	if !ProtocolPhased.Tracks(AgentNews) {
		t.Error("phased protocol should track the news agent")
	}
	if ProtocolPhased.Tracks(AgentName("macro")) {
		t.Error("unknown agents should never be tracked")
	}
}

func TestSessionStatus_IsTerminal(t *testing.T) {
	terminal := map[SessionStatus]bool{
		SessionStatusIdle:         false,
		SessionStatusConnecting:   false,
		SessionStatusStreaming:    false,
		SessionStatusAnalyzing:    false,
		SessionStatusSynthesizing: false,
		SessionStatusComplete:     true,
		SessionStatusError:        true,
	}

	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestSessionStatus_IsLive(t *testing.T) {
	if SessionStatusIdle.IsLive() {
		t.Error("idle should not be live")
	}
	if !SessionStatusSynthesizing.IsLive() {
		t.Error("synthesizing should be live")
	}
	if SessionStatusComplete.IsLive() {
		t.Error("complete should not be live")
	}
}

func TestAnalysisSession_CloneIsDeep(t *testing.T) {
	latency := int64(120)
	original := AnalysisSession{
		Symbol:   "AAPL",
		Sections: map[AgentName]AgentSection{AgentFundamental: {Content: "Rev up"}},
		Agents: map[AgentName]AgentStatus{
			AgentNews: {
				Status:    AgentStateComplete,
				LatencyMs: &latency,
				Results:   &AgentResults{Summary: "calm", KeyInsights: []string{"a"}},
			},
		},
	}

	clone := original.Clone()
	clone.Sections[AgentFundamental] = AgentSection{Content: "changed"}
	*clone.Agents[AgentNews].LatencyMs = 999
	clone.Agents[AgentNews].Results.KeyInsights[0] = "b"

	if original.Section(AgentFundamental).Content != "Rev up" {
		t.Errorf("original section mutated: %q", original.Section(AgentFundamental).Content)
	}
	if *original.Agent(AgentNews).LatencyMs != 120 {
		t.Errorf("original latency mutated: %d", *original.Agent(AgentNews).LatencyMs)
	}
	if original.Agent(AgentNews).Results.KeyInsights[0] != "a" {
		t.Errorf("original insights mutated: %v", original.Agent(AgentNews).Results.KeyInsights)
	}
}

func TestEvent_Deserialization(t *testing.T) {
	payload := `{
		"type": "agent_complete",
		"agent": "technical",
		"success": false,
		"latency_ms": 1500,
		"error": "upstream failure",
		"summary": "",
		"key_insights": ["x", "y"],
		"synthesis_output": "FINAL"
	}`

	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		t.Fatalf("Failed to unmarshal Event: %v", err)
	}

	if e.Type != EventAgentComplete {
		t.Errorf("Type = %v, want agent_complete", e.Type)
	}
	if e.Succeeded() {
		t.Error("Succeeded() should be false when success=false")
	}
	if e.LatencyMs == nil || *e.LatencyMs != 1500 {
		t.Errorf("LatencyMs = %v, want 1500", e.LatencyMs)
	}
	if e.Reason() != "upstream failure" {
		t.Errorf("Reason() = %q, want 'upstream failure'", e.Reason())
	}
	if e.SynthesisOutput == nil || *e.SynthesisOutput != "FINAL" {
		t.Errorf("SynthesisOutput = %v, want FINAL", e.SynthesisOutput)
	}
	if e.Generation != 0 {
		t.Errorf("Generation must not be read from the wire, got %d", e.Generation)
	}
}

func TestEvent_SucceededDefaultsToTrue(t *testing.T) {
	if !(Event{Type: EventAgentComplete}).Succeeded() {
		t.Error("missing success flag should count as success")
	}
}

func TestEvent_ReasonPrefersMessage(t *testing.T) {
	e := Event{Message: "rate limited", Error: "429"}
	if e.Reason() != "rate limited" {
		t.Errorf("Reason() = %q, want 'rate limited'", e.Reason())
	}
}

func TestParseAgentName(t *testing.T) {
	if _, ok := ParseAgentName("news"); !ok {
		t.Error("news should be a known agent")
	}
	if _, ok := ParseAgentName("macro"); ok {
		t.Error("macro should not be a known agent")
	}
}
