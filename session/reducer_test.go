package session

import (
	"reflect"
	"testing"

	"stream-analyst/models"

	"github.com/google/uuid"
)

func ptr[T any](v T) *T { return &v }

func streamingSession(gen uint64) models.AnalysisSession {
	return Begin("AAPL", models.ProtocolStreaming, gen, uuid.New())
}

func phasedSession(gen uint64) models.AnalysisSession {
	return Begin("AAPL", models.ProtocolPhased, gen, uuid.New())
}

func ev(gen uint64, typ models.EventType, agent, content string) models.Event {
	return models.Event{Generation: gen, Type: typ, Agent: agent, Content: content}
}

func TestBegin_ResetsAgentState(t *testing.T) {
	s := streamingSession(3)

	if s.Status != models.SessionStatusConnecting {
		t.Errorf("Status = %v, want connecting", s.Status)
	}
	if s.Generation != 3 {
		t.Errorf("Generation = %d, want 3", s.Generation)
	}
	if len(s.Sections) != len(models.StreamingAgents) {
		t.Errorf("Sections = %d, want %d", len(s.Sections), len(models.StreamingAgents))
	}
	if s.Agents != nil {
		t.Error("streaming sessions should not carry phased agent records")
	}

	p := phasedSession(1)
	for _, agent := range models.PhasedAgents {
		if p.Agent(agent).Status != models.AgentStateIdle {
			t.Errorf("agent %s = %v, want idle", agent, p.Agent(agent).Status)
		}
	}
}

func TestFold_StreamingEndToEnd(t *testing.T) {
	s := FoldAll(streamingSession(1), []models.Event{
		ev(1, models.EventStart, "", ""),
		ev(1, models.EventAgentStart, "fundamental", ""),
		ev(1, models.EventAgentChunk, "fundamental", "Rev up"),
		ev(1, models.EventAgentComplete, "fundamental", ""),
		ev(1, models.EventAgentStart, "technical", ""),
		ev(1, models.EventAgentChunk, "technical", "RSI 70"),
		ev(1, models.EventComplete, "", ""),
	})

	fundamental := s.Section(models.AgentFundamental)
	if fundamental.Content != "Rev up" || !fundamental.IsComplete {
		t.Errorf("fundamental = %+v, want content 'Rev up' and complete", fundamental)
	}
	technical := s.Section(models.AgentTechnical)
	if technical.Content != "RSI 70" || !technical.IsComplete || technical.IsLoading {
		t.Errorf("technical = %+v, want content 'RSI 70', complete, not loading", technical)
	}
	if s.Status != models.SessionStatusComplete {
		t.Errorf("Status = %v, want complete", s.Status)
	}
}

func TestFold_ResourceSwitchDropsStaleChunk(t *testing.T) {
	s := FoldAll(streamingSession(1), []models.Event{
		ev(1, models.EventStart, "", ""),
		ev(1, models.EventAgentChunk, "fundamental", "A"),
	})

	s = Begin("MSFT", models.ProtocolStreaming, s.Generation+1, uuid.New())
	s = Fold(s, ev(1, models.EventAgentChunk, "fundamental", "B"))

	if got := s.Section(models.AgentFundamental).Content; got != "" {
		t.Errorf("fundamental content = %q, want empty after switch", got)
	}
	if s.Symbol != "MSFT" {
		t.Errorf("Symbol = %q, want MSFT", s.Symbol)
	}
}

func TestFold_ErrorStopsLoading(t *testing.T) {
	s := FoldAll(streamingSession(1), []models.Event{
		ev(1, models.EventStart, "", ""),
		ev(1, models.EventAgentStart, "fundamental", ""),
		ev(1, models.EventAgentStart, "technical", ""),
		{Generation: 1, Type: models.EventError, Message: "rate limited"},
	})

	if s.Status != models.SessionStatusError {
		t.Errorf("Status = %v, want error", s.Status)
	}
	if s.Error != "rate limited" {
		t.Errorf("Error = %q, want 'rate limited'", s.Error)
	}
	for name, sec := range s.Sections {
		if sec.IsLoading {
			t.Errorf("agent %s still loading after session error", name)
		}
	}
}

func TestFold_TimeoutUsesFixedMessage(t *testing.T) {
	s := FoldAll(streamingSession(1), []models.Event{
		ev(1, models.EventStart, "", ""),
		{Generation: 1, Type: models.EventTimeout, Message: "ignored"},
	})

	if s.Status != models.SessionStatusError || s.Error != TimeoutMessage {
		t.Errorf("got status=%v error=%q, want error/%q", s.Status, s.Error, TimeoutMessage)
	}
}

func TestFold_ErrorWithoutMessageFallsBack(t *testing.T) {
	s := Fold(streamingSession(1), models.Event{Generation: 1, Type: models.EventError})
	if s.Error != DefaultErrorMessage {
		t.Errorf("Error = %q, want %q", s.Error, DefaultErrorMessage)
	}
}

func TestFold_MonotonicContent(t *testing.T) {
	chunks := []string{"The ", "quick ", "", "brown ", "fox"}
	s := Fold(streamingSession(1), ev(1, models.EventStart, "", ""))

	want := ""
	prevLen := 0
	for _, chunk := range chunks {
		s = Fold(s, ev(1, models.EventAgentChunk, "sentiment", chunk))
		want += chunk

		got := s.Section(models.AgentSentiment).Content
		if len(got) < prevLen {
			t.Fatalf("content shrank from %d to %d", prevLen, len(got))
		}
		prevLen = len(got)
	}

	if got := s.Section(models.AgentSentiment).Content; got != want {
		t.Errorf("content = %q, want %q", got, want)
	}
}

func TestFold_CompletionIsOneWay(t *testing.T) {
	s := FoldAll(streamingSession(1), []models.Event{
		ev(1, models.EventAgentStart, "fundamental", ""),
		ev(1, models.EventAgentComplete, "fundamental", ""),
		ev(1, models.EventAgentStart, "fundamental", ""),
		ev(1, models.EventAgentChunk, "fundamental", "late"),
	})

	sec := s.Section(models.AgentFundamental)
	if !sec.IsComplete {
		t.Error("IsComplete reverted to false")
	}
	if sec.IsLoading {
		t.Error("agent_start after completion should not set loading again")
	}

	p := FoldAll(phasedSession(1), []models.Event{
		ev(1, models.EventAgentStart, "news", ""),
		{Generation: 1, Type: models.EventAgentComplete, Agent: "news", Summary: "calm"},
		ev(1, models.EventAgentStart, "news", ""),
	})
	if p.Agent(models.AgentNews).Status != models.AgentStateComplete {
		t.Errorf("news status = %v, want complete", p.Agent(models.AgentNews).Status)
	}
}

func TestFold_GenerationIsolation(t *testing.T) {
	s := FoldAll(streamingSession(5), []models.Event{
		ev(5, models.EventStart, "", ""),
		ev(5, models.EventAgentChunk, "technical", "MACD"),
	})

	stale := []models.Event{
		ev(4, models.EventAgentChunk, "technical", "stale"),
		ev(4, models.EventComplete, "", ""),
		{Generation: 4, Type: models.EventError, Message: "boom"},
	}
	for _, e := range stale {
		if got := Fold(s, e); !reflect.DeepEqual(got, s) {
			t.Errorf("stale %s event changed state: %+v", e.Type, got)
		}
	}
}

func TestFold_TerminalEventsAreIdempotent(t *testing.T) {
	base := FoldAll(streamingSession(1), []models.Event{
		ev(1, models.EventStart, "", ""),
		ev(1, models.EventAgentChunk, "fundamental", "x"),
	})

	for _, terminal := range []models.Event{
		ev(1, models.EventComplete, "", ""),
		{Generation: 1, Type: models.EventError, Message: "bad"},
		ev(1, models.EventTimeout, "", ""),
	} {
		once := Fold(base, terminal)
		twice := Fold(once, terminal)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("%s folded twice differs from once", terminal.Type)
		}
	}

	// complete then error must not flip the outcome either
	done := Fold(base, ev(1, models.EventComplete, "", ""))
	after := Fold(done, models.Event{Generation: 1, Type: models.EventError, Message: "late"})
	if after.Status != models.SessionStatusComplete || after.Error != "" {
		t.Errorf("terminal state changed: status=%v error=%q", after.Status, after.Error)
	}
}

func TestFold_HeartbeatIsNoOp(t *testing.T) {
	for _, s := range []models.AnalysisSession{
		streamingSession(1),
		Fold(phasedSession(1), ev(1, models.EventStart, "", "")),
	} {
		got := Fold(s, models.Event{Generation: 1, Type: models.EventHeartbeat, Message: "ping", Content: "x"})
		if !reflect.DeepEqual(got, s) {
			t.Errorf("heartbeat changed state: %+v", got)
		}
	}
}

func TestFold_UnknownAgentTolerance(t *testing.T) {
	s := Fold(streamingSession(1), ev(1, models.EventStart, "", ""))

	for _, typ := range []models.EventType{models.EventAgentStart, models.EventAgentChunk, models.EventAgentComplete, models.EventAgentError} {
		got := Fold(s, ev(1, typ, "macro", "text"))
		if !reflect.DeepEqual(got.Sections, s.Sections) {
			t.Errorf("%s for unknown agent changed sections: %+v", typ, got.Sections)
		}
	}

	// news is known but not rendered by the streaming protocol
	got := Fold(s, ev(1, models.EventAgentChunk, "news", "text"))
	if _, ok := got.Sections[models.AgentNews]; ok {
		t.Error("news section should not be created under the streaming protocol")
	}

	p := Fold(phasedSession(1), ev(1, models.EventStart, "", ""))
	gotPhased := Fold(p, ev(1, models.EventAgentStart, "macro", ""))
	if !reflect.DeepEqual(gotPhased.Agents, p.Agents) {
		t.Errorf("unknown agent changed phased agents: %+v", gotPhased.Agents)
	}
}

func TestFold_UnknownEventTypeIsIgnored(t *testing.T) {
	s := Fold(streamingSession(1), ev(1, models.EventStart, "", ""))
	got := Fold(s, models.Event{Generation: 1, Type: "portfolio_rebalance", Content: "x"})
	if !reflect.DeepEqual(got, s) {
		t.Errorf("unknown event changed state: %+v", got)
	}
}

func TestFold_AgentErrorOnEmptyBuffer(t *testing.T) {
	s := FoldAll(streamingSession(1), []models.Event{
		ev(1, models.EventAgentStart, "fundamental", ""),
		{Generation: 1, Type: models.EventAgentError, Agent: "fundamental", Error: "no data"},
		ev(1, models.EventAgentChunk, "technical", "keep me"),
		{Generation: 1, Type: models.EventAgentError, Agent: "technical", Error: "crashed"},
	})

	fundamental := s.Section(models.AgentFundamental)
	if fundamental.Content != "Error: no data" {
		t.Errorf("fundamental content = %q, want error text", fundamental.Content)
	}
	if !fundamental.IsComplete || fundamental.IsLoading {
		t.Errorf("fundamental = %+v, want terminal", fundamental)
	}

	technical := s.Section(models.AgentTechnical)
	if technical.Content != "keep me" {
		t.Errorf("technical content = %q, want buffer preserved", technical.Content)
	}
	if technical.Error != "crashed" {
		t.Errorf("technical error = %q, want 'crashed'", technical.Error)
	}

	// an agent error is local: the session keeps streaming
	if s.Status != models.SessionStatusStreaming {
		t.Errorf("Status = %v, want streaming", s.Status)
	}
}

func TestFold_FirstFramePromotesConnecting(t *testing.T) {
	s := Fold(streamingSession(1), ev(1, models.EventAgentChunk, "fundamental", "x"))
	if s.Status != models.SessionStatusStreaming {
		t.Errorf("Status = %v, want streaming", s.Status)
	}

	p := Fold(phasedSession(1), ev(1, models.EventDataFetchStart, "", ""))
	if p.Status != models.SessionStatusAnalyzing {
		t.Errorf("Status = %v, want analyzing", p.Status)
	}
}

func TestFold_DoesNotMutateInput(t *testing.T) {
	s := Fold(streamingSession(1), ev(1, models.EventAgentChunk, "fundamental", "a"))
	snapshot := s.Clone()

	_ = Fold(s, ev(1, models.EventAgentChunk, "fundamental", "b"))
	_ = Fold(s, ev(1, models.EventComplete, "", ""))

	if !reflect.DeepEqual(s, snapshot) {
		t.Errorf("input state mutated: %+v", s)
	}
}

func TestCancel(t *testing.T) {
	s := FoldAll(streamingSession(1), []models.Event{
		ev(1, models.EventStart, "", ""),
		ev(1, models.EventAgentStart, "fundamental", ""),
		ev(1, models.EventAgentChunk, "fundamental", "partial"),
	})

	c := Cancel(s)
	if c.Status != models.SessionStatusIdle {
		t.Errorf("Status = %v, want idle", c.Status)
	}
	if c.Error != "" {
		t.Errorf("Error = %q, cancel must not populate the error", c.Error)
	}
	if !c.Cancelled {
		t.Error("Cancelled flag should be set")
	}
	if c.Section(models.AgentFundamental).IsLoading {
		t.Error("loading flag should be cleared on cancel")
	}
	if c.Section(models.AgentFundamental).Content != "partial" {
		t.Error("content streamed before cancel should be kept")
	}

	// events still in flight from the cancelled connection are ignored
	late := Fold(c, ev(1, models.EventAgentChunk, "fundamental", " more"))
	if !reflect.DeepEqual(late, c) {
		t.Errorf("event after cancel changed state: %+v", late)
	}

	// cancelling a finished session keeps its outcome
	done := Fold(s, ev(1, models.EventComplete, "", ""))
	if got := Cancel(done); got.Status != models.SessionStatusComplete {
		t.Errorf("Cancel on complete session = %v, want complete", got.Status)
	}
}

func TestFailTransport(t *testing.T) {
	s := Fold(streamingSession(2), ev(2, models.EventAgentStart, "technical", ""))

	stale := FailTransport(s, 1, "network down")
	if !reflect.DeepEqual(stale, s) {
		t.Error("failure for a stale generation must be ignored")
	}

	failed := FailTransport(s, 2, "network down")
	if failed.Status != models.SessionStatusError || failed.Error != "network down" {
		t.Errorf("got status=%v error=%q", failed.Status, failed.Error)
	}
	if failed.Section(models.AgentTechnical).IsLoading {
		t.Error("loading flag should be cleared on transport failure")
	}

	if got := FailTransport(failed, 2, "again"); got.Error != "network down" {
		t.Errorf("second failure overwrote error: %q", got.Error)
	}
}

func TestEndOfStream(t *testing.T) {
	s := FoldAll(streamingSession(1), []models.Event{
		ev(1, models.EventStart, "", ""),
		ev(1, models.EventAgentStart, "sentiment", ""),
		ev(1, models.EventAgentChunk, "sentiment", "bullish"),
	})

	done := EndOfStream(s, 1)
	if done.Status != models.SessionStatusComplete {
		t.Errorf("Status = %v, want complete", done.Status)
	}
	if !done.Section(models.AgentSentiment).IsComplete {
		t.Error("sections should be forced complete on clean close")
	}

	failed := Fold(s, models.Event{Generation: 1, Type: models.EventError, Message: "x"})
	if got := EndOfStream(failed, 1); got.Status != models.SessionStatusError {
		t.Errorf("clean close after error = %v, want error", got.Status)
	}
}
