package session

import "stream-analyst/models"

// foldStreaming handles the per-agent streaming protocol
func foldStreaming(s *models.AnalysisSession, e models.Event) {
	switch e.Type {
	case models.EventStart:
		s.Status = models.SessionStatusStreaming
		s.Progress = messageOr(e, "Analysis started")

	case models.EventAgentStart:
		updateSection(s, e.Agent, func(sec *models.AgentSection) {
			if !sec.IsComplete {
				sec.IsLoading = true
			}
		})

	case models.EventAgentChunk:
		updateSection(s, e.Agent, func(sec *models.AgentSection) {
			sec.Content += e.Content
		})

	case models.EventAgentComplete:
		updateSection(s, e.Agent, func(sec *models.AgentSection) {
			sec.IsLoading = false
			sec.IsComplete = true
		})

	case models.EventAgentError:
		reason := e.Reason()
		if reason == "" {
			reason = agentErrorFallback
		}
		updateSection(s, e.Agent, func(sec *models.AgentSection) {
			sec.IsLoading = false
			sec.IsComplete = true
			sec.Error = reason
			if sec.Content == "" {
				sec.Content = "Error: " + reason
			}
		})

	case models.EventComplete:
		for name, sec := range s.Sections {
			sec.IsLoading = false
			sec.IsComplete = true
			s.Sections[name] = sec
		}
		s.Status = models.SessionStatusComplete
		s.Progress = ""

	case models.EventTimeout:
		fail(s, TimeoutMessage)

	case models.EventError:
		fail(s, reasonOr(e, DefaultErrorMessage))
	}
}

// updateSection applies fn to a tracked agent's section. Agents outside the
// allow-list are ignored.
func updateSection(s *models.AnalysisSession, name string, fn func(*models.AgentSection)) {
	agent := models.AgentName(name)
	if !s.Protocol.Tracks(agent) {
		return
	}
	if s.Sections == nil {
		s.Sections = make(map[models.AgentName]models.AgentSection)
	}

	sec := s.Sections[agent]
	fn(&sec)
	s.Sections[agent] = sec
}

func reasonOr(e models.Event, fallback string) string {
	if reason := e.Reason(); reason != "" {
		return reason
	}
	return fallback
}
