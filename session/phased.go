package session

import (
	"fmt"
	"slices"

	"stream-analyst/models"
)

// foldPhased handles the multi-phase protocol with synthesis and clarification rounds
func foldPhased(s *models.AnalysisSession, e models.Event) {
	switch e.Type {
	case models.EventStart:
		s.Status = models.SessionStatusAnalyzing
		s.Progress = messageOr(e, "Analysis started")

	case models.EventAnalysisPhaseStart:
		if e.Phase != "" {
			s.Phase = e.Phase
		}
		s.Progress = messageOr(e, phaseProgress(e.Phase))

	case models.EventDataFetchStart:
		s.Progress = messageOr(e, "Fetching market data...")

	case models.EventDataFetchComplete:
		s.DataFetched = true
		s.Progress = messageOr(e, "Market data ready")

	case models.EventAgentStart:
		updateAgent(s, e.Agent, func(agent *models.AgentStatus) {
			if !agent.Status.IsTerminal() {
				agent.Status = models.AgentStateRunning
			}
		})

	case models.EventAgentComplete:
		updateAgent(s, e.Agent, func(agent *models.AgentStatus) {
			agent.LatencyMs = copyLatency(e.LatencyMs, agent.LatencyMs)
			if e.Succeeded() {
				agent.Status = models.AgentStateComplete
				agent.Error = ""
				agent.Results = &models.AgentResults{
					Summary:     e.Summary,
					KeyInsights: slices.Clone(e.KeyInsights),
				}
				return
			}
			agent.Status = models.AgentStateError
			agent.Error = reasonOr(e, agentErrorFallback)
		})

	case models.EventAgentError:
		updateAgent(s, e.Agent, func(agent *models.AgentStatus) {
			agent.LatencyMs = copyLatency(e.LatencyMs, agent.LatencyMs)
			agent.Status = models.AgentStateError
			agent.Error = reasonOr(e, agentErrorFallback)
		})

	case models.EventSynthesisStart:
		s.Status = models.SessionStatusSynthesizing
		s.Progress = messageOr(e, "Synthesizing results...")

	case models.EventSynthesisChunk:
		s.Synthesis += e.Content

	case models.EventSynthesisPending:
		s.Progress = messageOr(e, "Waiting for synthesis...")

	case models.EventClarificationNeeded:
		s.ClarificationRounds++
		s.Progress = messageOr(e, fmt.Sprintf("Clarification round %d needed", s.ClarificationRounds))

	case models.EventClarificationStart:
		s.Progress = messageOr(e, "Running clarification round...")

	case models.EventClarificationComplete:
		s.Progress = messageOr(e, "Clarification complete")

	case models.EventComplete:
		// The final payload is authoritative over streamed chunks
		if e.SynthesisOutput != nil {
			s.Synthesis = *e.SynthesisOutput
		}
		for name, agent := range s.Agents {
			if agent.Status == models.AgentStateRunning {
				agent.Status = models.AgentStateComplete
				s.Agents[name] = agent
			}
		}
		s.Status = models.SessionStatusComplete
		s.Progress = ""

	case models.EventTimeout:
		fail(s, TimeoutMessage)

	case models.EventError:
		fail(s, reasonOr(e, DefaultErrorMessage))
	}
}

// updateAgent applies fn to a tracked agent's status record. Agents outside
// the allow-list are ignored.
func updateAgent(s *models.AnalysisSession, name string, fn func(*models.AgentStatus)) {
	agent := models.AgentName(name)
	if !s.Protocol.Tracks(agent) {
		return
	}
	if s.Agents == nil {
		s.Agents = make(map[models.AgentName]models.AgentStatus)
	}

	status := s.Agents[agent]
	if status.Status == "" {
		status.Status = models.AgentStateIdle
	}
	fn(&status)
	s.Agents[agent] = status
}

func copyLatency(latency, previous *int64) *int64 {
	if latency == nil {
		return previous
	}
	v := *latency
	return &v
}

func phaseProgress(phase string) string {
	if phase == "" {
		return "Starting next analysis phase..."
	}
	return fmt.Sprintf("Starting %s phase...", phase)
}
