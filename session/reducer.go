// Package session folds analysis stream events into the view model shown by
// the UI, and owns the transport lifecycle that feeds those events in.
package session

import (
	"stream-analyst/models"

	"github.com/google/uuid"
)

// Fixed user-facing messages for terminal states without a server message
const (
	TimeoutMessage      = "Analysis timed out. Please try again."
	DefaultErrorMessage = "Analysis failed. Please try again."
	IdleTimeoutMessage  = "No data received from the analysis service. Please try again."
	agentErrorFallback  = "Agent failed"
	connectingProgress  = "Connecting to analysis service..."
)

// Begin returns a fresh session for a new run. All per-agent state is reset
// and the status is connecting until the first frame arrives.
func Begin(symbol string, protocol models.Protocol, generation uint64, runID uuid.UUID) models.AnalysisSession {
	s := models.AnalysisSession{
		RunID:      runID,
		Symbol:     symbol,
		Protocol:   protocol,
		Generation: generation,
		Status:     models.SessionStatusConnecting,
		Progress:   connectingProgress,
	}

	if protocol == models.ProtocolPhased {
		s.Agents = make(map[models.AgentName]models.AgentStatus, len(models.PhasedAgents))
		for _, agent := range models.PhasedAgents {
			s.Agents[agent] = models.AgentStatus{Status: models.AgentStateIdle}
		}
	} else {
		s.Sections = make(map[models.AgentName]models.AgentSection, len(models.StreamingAgents))
		for _, agent := range models.StreamingAgents {
			s.Sections[agent] = models.AgentSection{}
		}
	}

	return s
}

// Fold applies one event to the session and returns the resulting state.
// The input is never modified. Events from another generation, heartbeats,
// and anything arriving after a terminal or idle state leave the state as is.
func Fold(s models.AnalysisSession, e models.Event) models.AnalysisSession {
	if e.Generation != s.Generation {
		return s
	}
	if !s.Status.IsLive() || e.Type == models.EventHeartbeat {
		return s
	}

	next := s.Clone()
	if next.Status == models.SessionStatusConnecting {
		next.Status = liveStatus(next.Protocol)
	}

	if next.Protocol == models.ProtocolPhased {
		foldPhased(&next, e)
	} else {
		foldStreaming(&next, e)
	}

	return next
}

// FoldAll folds a whole event sequence, as seen at stream end
func FoldAll(s models.AnalysisSession, events []models.Event) models.AnalysisSession {
	for _, e := range events {
		s = Fold(s, e)
	}
	return s
}

// Cancel moves a live session to idle on explicit user request. Content
// streamed so far is kept, the error field stays empty.
func Cancel(s models.AnalysisSession) models.AnalysisSession {
	if !s.Status.IsLive() {
		return s
	}

	next := s.Clone()
	next.Status = models.SessionStatusIdle
	next.Cancelled = true
	next.Progress = ""
	for name, sec := range next.Sections {
		sec.IsLoading = false
		next.Sections[name] = sec
	}
	for name, agent := range next.Agents {
		if agent.Status == models.AgentStateRunning {
			agent.Status = models.AgentStateIdle
			next.Agents[name] = agent
		}
	}
	return next
}

// FailTransport records a transport-level failure (bad status, network error)
// for the given generation.
func FailTransport(s models.AnalysisSession, generation uint64, message string) models.AnalysisSession {
	if generation != s.Generation || !s.Status.IsLive() {
		return s
	}
	if message == "" {
		message = DefaultErrorMessage
	}

	next := s.Clone()
	fail(&next, message)
	return next
}

// EndOfStream handles a clean server-side close. A session that never saw a
// terminal event is completed with whatever content was streamed.
func EndOfStream(s models.AnalysisSession, generation uint64) models.AnalysisSession {
	return Fold(s, models.Event{Generation: generation, Type: models.EventComplete})
}

func liveStatus(protocol models.Protocol) models.SessionStatus {
	if protocol == models.ProtocolPhased {
		return models.SessionStatusAnalyzing
	}
	return models.SessionStatusStreaming
}

// fail moves the session to the error state and stops every loading indicator
func fail(s *models.AnalysisSession, message string) {
	s.Status = models.SessionStatusError
	s.Error = message
	s.Progress = ""

	for name, sec := range s.Sections {
		sec.IsLoading = false
		s.Sections[name] = sec
	}
	for name, agent := range s.Agents {
		if agent.Status == models.AgentStateRunning {
			agent.Status = models.AgentStateError
			agent.Error = message
			s.Agents[name] = agent
		}
	}
}

func messageOr(e models.Event, fallback string) string {
	if e.Message != "" {
		return e.Message
	}
	return fallback
}
