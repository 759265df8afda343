package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"stream-analyst/models"
	"stream-analyst/observability"
	"stream-analyst/services"
)

// Sentinel errors for controller operations
var (
	ErrControllerClosed = errors.New("session controller closed")
	ErrNothingToRetry   = errors.New("no analysis to retry")
)

// Fixed messages for transport failures
const (
	unavailableMessage    = "Analysis service is temporarily unavailable. Please try again later."
	connectFailedMessage  = "Could not connect to the analysis service."
	connectionLostMessage = "Connection to the analysis service was lost."
)

// Session outcomes used in metrics and logs
const (
	OutcomeComplete   = "complete"
	OutcomeError      = "error"
	OutcomeCancelled  = "cancelled"
	OutcomeSuperseded = "superseded"
)

// Request identifies one analysis run
type Request struct {
	Symbol   string
	Protocol models.Protocol
	Locale   string
	Agents   []models.AgentName
}

// Renderer receives every snapshot the controller publishes, in order.
// Render is called with the controller lock held: it must not block and
// must not call back into the controller.
type Renderer interface {
	Render(models.AnalysisSession)
}

// RendererFunc adapts a function into a Renderer
type RendererFunc func(models.AnalysisSession)

// Render calls f
func (f RendererFunc) Render(s models.AnalysisSession) {
	f(s)
}

// ControllerOptions tune a Controller
type ControllerOptions struct {
	// IdleTimeout aborts a run when no frame arrives for this long. Zero disables it.
	IdleTimeout time.Duration
	// Metrics defaults to the global instance
	Metrics *observability.Metrics
}

// Controller owns the stream lifecycle for one session: it opens the
// transport, folds every event into the session, and tears the transport
// down on completion, cancel, or a new run. At most one transport is live.
type Controller struct {
	opener      services.StreamOpener
	renderer    Renderer
	idleTimeout time.Duration
	metrics     *observability.Metrics

	mu         sync.Mutex
	state      models.AnalysisSession
	generation uint64
	last       *Request
	run        *run
	closed     bool
}

// run is the live transport of one generation
type run struct {
	generation uint64
	cancel     context.CancelFunc
	source     *services.EventSource
	idle       *time.Timer
	timer      *observability.Timer
	done       chan struct{}
}

// NewController creates a controller. A nil renderer discards snapshots.
func NewController(opener services.StreamOpener, renderer Renderer, opts ControllerOptions) *Controller {
	if renderer == nil {
		renderer = RendererFunc(func(models.AnalysisSession) {})
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.GetMetrics()
	}
	return &Controller{
		opener:      opener,
		renderer:    renderer,
		idleTimeout: opts.IdleTimeout,
		metrics:     metrics,
		state:       models.AnalysisSession{Status: models.SessionStatusIdle},
	}
}

// Start begins a new run under a fresh generation and returns that
// generation. Any previous transport is closed before Start returns, and
// the new session is published in the connecting state. ctx bounds the
// whole run, not just the call.
func (c *Controller) Start(ctx context.Context, req Request) (uint64, error) {
	if req.Symbol == "" {
		return 0, fmt.Errorf("symbol is required")
	}
	if req.Protocol == "" {
		req.Protocol = models.ProtocolStreaming
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrControllerClosed
	}

	c.stopLocked(OutcomeSuperseded)

	c.generation++
	gen := c.generation
	c.last = &req
	c.state = Begin(req.Symbol, req.Protocol, gen, uuid.New())

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		generation: gen,
		cancel:     cancel,
		timer:      c.metrics.NewTimer(),
		done:       make(chan struct{}),
	}
	c.run = r

	c.metrics.RecordSessionStart(string(req.Protocol))
	observability.WithSession(req.Symbol, gen).Info("analysis started",
		"protocol", req.Protocol,
		"run_id", c.state.RunID)

	c.renderer.Render(c.state)

	go c.read(runCtx, r, req)

	return gen, nil
}

// Retry re-runs the last request under a new generation
func (c *Controller) Retry(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	last := c.last
	c.mu.Unlock()

	if last == nil {
		return 0, ErrNothingToRetry
	}
	return c.Start(ctx, *last)
}

// Cancel stops the live run at the user's request. The session moves to
// idle with its content kept and no error set. It is a no-op when nothing
// is running.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
}

// Close cancels any live run and rejects further starts
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.closed = true
}

// Snapshot returns a copy of the current session
func (c *Controller) Snapshot() models.AnalysisSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Generation returns the generation of the most recent run
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Active reports whether a transport is live
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run != nil
}

// Wait blocks until the current run's read loop has exited or ctx is done
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()

	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) cancelLocked() {
	if c.run == nil {
		return
	}
	c.publishLocked(Cancel(c.state))
	c.stopLocked(OutcomeCancelled)
}

// read is the subscription loop for one generation
func (c *Controller) read(ctx context.Context, r *run, req Request) {
	defer close(r.done)

	source, err := c.opener.Open(ctx, services.StreamRequest{
		Symbol:     req.Symbol,
		Protocol:   req.Protocol,
		Locale:     req.Locale,
		Agents:     req.Agents,
		Generation: r.generation,
	})

	c.mu.Lock()
	if c.run != r {
		c.mu.Unlock()
		if source != nil {
			source.Close()
		}
		return
	}
	if errors.Is(err, services.ErrStreamCancelled) {
		c.cancelLocked()
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.failLocked(r, openFailureMessage(err), err)
		c.mu.Unlock()
		return
	}
	r.source = source
	if c.idleTimeout > 0 {
		r.idle = time.AfterFunc(c.idleTimeout, func() { c.expire(r) })
	}
	c.mu.Unlock()

	first := true
	for {
		e, err := source.Next()
		if err != nil {
			c.end(r, err)
			return
		}
		if first {
			r.timer.ObserveFirstEvent(string(req.Protocol))
			first = false
		}
		if !c.apply(r, e) {
			return
		}
	}
}

// apply folds one event and reports whether the loop should keep reading
func (c *Controller) apply(r *run, e models.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run != r || e.Generation != c.state.Generation {
		c.metrics.RecordStaleEvent(string(c.state.Protocol))
		observability.Debug("dropping stale analysis event",
			"type", e.Type,
			"event_generation", e.Generation,
			"generation", c.state.Generation)
		return false
	}

	if r.idle != nil {
		r.idle.Reset(c.idleTimeout)
	}

	prev := c.state
	next := Fold(prev, e)
	c.metrics.RecordEvent(string(prev.Protocol), string(e.Type))
	c.recordAgentOutcomes(prev, next)
	c.publishLocked(next)

	if next.Status.IsTerminal() {
		c.stopLocked(outcomeOf(next.Status))
		return false
	}
	return true
}

// end handles the terminal signal of the transport
func (c *Controller) end(r *run, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run != r {
		return
	}

	switch {
	case errors.Is(err, io.EOF):
		c.publishLocked(EndOfStream(c.state, r.generation))
		c.stopLocked(outcomeOf(c.state.Status))
	case errors.Is(err, services.ErrStreamCancelled):
		c.cancelLocked()
	default:
		c.metrics.RecordExternalAPIError("analysis_stream", "read", "network")
		c.failLocked(r, connectionLostMessage, err)
	}
}

// expire fires when the stream has been silent for the idle timeout
func (c *Controller) expire(r *run) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run != r {
		return
	}
	c.metrics.RecordExternalAPIError("analysis_stream", "read", "idle_timeout")
	c.failLocked(r, IdleTimeoutMessage, fmt.Errorf("no frame within %s", c.idleTimeout))
}

func (c *Controller) failLocked(r *run, message string, err error) {
	observability.WithSession(c.state.Symbol, r.generation).Warn("analysis stream failed",
		"error", err)
	c.publishLocked(FailTransport(c.state, r.generation, message))
	c.stopLocked(OutcomeError)
}

func (c *Controller) publishLocked(next models.AnalysisSession) {
	c.state = next
	c.renderer.Render(next)
}

// stopLocked tears down the live transport, if any, and records the outcome
func (c *Controller) stopLocked(outcome string) {
	r := c.run
	if r == nil {
		return
	}
	c.run = nil

	r.cancel()
	if r.idle != nil {
		r.idle.Stop()
	}
	dropped, heartbeats := 0, 0
	if r.source != nil {
		r.source.Close()
		dropped, heartbeats = r.source.Dropped(), r.source.Heartbeats()
	}

	protocol := string(c.state.Protocol)
	c.metrics.RecordMalformedFrames(protocol, dropped)
	c.metrics.RecordHeartbeats(protocol, heartbeats)
	r.timer.ObserveSession(protocol, outcome)

	observability.WithSession(c.state.Symbol, r.generation).Info("analysis finished",
		"outcome", outcome,
		"duration", r.timer.Duration(),
		"dropped_frames", dropped)
}

// recordAgentOutcomes counts agents that reached a terminal state in this fold
func (c *Controller) recordAgentOutcomes(prev, next models.AnalysisSession) {
	for name, sec := range next.Sections {
		if sec.IsComplete && !prev.Sections[name].IsComplete {
			outcome := OutcomeComplete
			if sec.Error != "" {
				outcome = OutcomeError
			}
			c.metrics.RecordAgentOutcome(string(name), outcome, nil)
			observability.WithAgent(string(name)).Debug("agent finished",
				"symbol", next.Symbol,
				"generation", next.Generation,
				"outcome", outcome)
		}
	}
	for name, agent := range next.Agents {
		if agent.Status.IsTerminal() && agent.Status != prev.Agents[name].Status {
			c.metrics.RecordAgentOutcome(string(name), string(agent.Status), agent.LatencyMs)
			observability.WithAgent(string(name)).Debug("agent finished",
				"symbol", next.Symbol,
				"generation", next.Generation,
				"outcome", agent.Status)
		}
	}
}

func outcomeOf(status models.SessionStatus) string {
	switch status {
	case models.SessionStatusComplete:
		return OutcomeComplete
	case models.SessionStatusError:
		return OutcomeError
	default:
		return OutcomeCancelled
	}
}

func openFailureMessage(err error) string {
	var statusErr *services.StatusError
	switch {
	case errors.As(err, &statusErr):
		return fmt.Sprintf("Analysis request failed: %s", statusErr.Status)
	case errors.Is(err, services.ErrServiceUnavailable):
		return unavailableMessage
	default:
		return connectFailedMessage
	}
}
