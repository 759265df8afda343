package app

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"

	"stream-analyst/config"
	"stream-analyst/models"
	"stream-analyst/observability"
	"stream-analyst/services"
	"stream-analyst/session"
)

// Sentinel errors returned by App operations
var (
	ErrQueueFull     = errors.New("analysis queue full, too many concurrent streams - try again later")
	ErrPanelNotFound = errors.New("panel not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrShutdown      = errors.New("application is shutting down")
)

var (
	symbolPattern  = regexp.MustCompile(`^[A-Z0-9.-]{1,10}$`)
	panelIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)
)

// panel is one rendering surface: a controller and the hub it publishes to
type panel struct {
	id         string
	controller *session.Controller
	hub        *session.Hub
}

// App holds the analysis panels. Each panel owns at most one live stream
// and the number of live streams across panels is capped.
type App struct {
	cfg     *config.Config
	opener  services.StreamOpener
	metrics *observability.Metrics

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	panels map[string]*panel
	closed bool
}

// New creates a new App
func New(cfg *config.Config, opener services.StreamOpener) *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		cfg:     cfg,
		opener:  opener,
		metrics: observability.GetMetrics(),
		ctx:     ctx,
		cancel:  cancel,
		panels:  make(map[string]*panel),
	}
}

// WithMetrics replaces the metrics sink used by new panels
func (a *App) WithMetrics(m *observability.Metrics) *App {
	a.metrics = m
	return a
}

// Startup binds the lifetime of every stream to ctx
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancel()
	a.ctx, a.cancel = context.WithCancel(ctx)
}

// Shutdown closes every panel and waits for their read loops to exit or ctx
// to expire
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	panels := make([]*panel, 0, len(a.panels))
	for _, p := range a.panels {
		panels = append(panels, p)
	}
	a.panels = make(map[string]*panel)
	a.cancel()
	a.mu.Unlock()

	for _, p := range panels {
		p.controller.Close()
		p.hub.Close()
	}
	for _, p := range panels {
		if err := p.controller.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for panel %s: %w", p.id, err)
		}
	}
	observability.Info("analysis panels closed", "count", len(panels))
	return nil
}

// Analyze starts an analysis of symbol on the panel, creating the panel on
// first use. A different symbol on a busy panel switches it: the previous
// stream is closed and its late events are discarded.
func (a *App) Analyze(panelID, symbol string, protocol models.Protocol, locale string) (uint64, error) {
	if err := ValidatePanelID(panelID); err != nil {
		return 0, err
	}
	symbol, err := ValidateSymbol(symbol)
	if err != nil {
		return 0, err
	}
	if protocol == "" {
		protocol = models.ProtocolStreaming
	}
	if locale == "" {
		locale = a.cfg.Stream.Locale
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return 0, ErrShutdown
	}
	if a.activeLocked(panelID) >= a.cfg.Panels.ConcurrencyLimit {
		observability.WithSymbol(symbol).Warn("analysis rejected, stream limit reached",
			"panel", panelID,
			"limit", a.cfg.Panels.ConcurrencyLimit)
		return 0, ErrQueueFull
	}

	p := a.panelLocked(panelID)
	return p.controller.Start(a.ctx, session.Request{
		Symbol:   symbol,
		Protocol: protocol,
		Locale:   locale,
	})
}

// Retry re-runs the panel's last analysis under a new generation
func (a *App) Retry(panelID string) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return 0, ErrShutdown
	}
	p, ok := a.panels[panelID]
	if !ok {
		return 0, ErrPanelNotFound
	}
	if a.activeLocked(panelID) >= a.cfg.Panels.ConcurrencyLimit {
		return 0, ErrQueueFull
	}

	gen, err := p.controller.Retry(a.ctx)
	if errors.Is(err, session.ErrNothingToRetry) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return gen, err
}

// Cancel stops the panel's live stream, if any
func (a *App) Cancel(panelID string) error {
	p, err := a.panel(panelID)
	if err != nil {
		return err
	}
	p.controller.Cancel()
	return nil
}

// Snapshot returns the panel's current session
func (a *App) Snapshot(panelID string) (models.AnalysisSession, error) {
	p, err := a.panel(panelID)
	if err != nil {
		return models.AnalysisSession{}, err
	}
	return p.controller.Snapshot(), nil
}

// Subscribe streams the panel's snapshots, creating the panel if needed so
// a client can attach before the first analysis starts
func (a *App) Subscribe(panelID string) (<-chan models.AnalysisSession, func(), error) {
	if err := ValidatePanelID(panelID); err != nil {
		return nil, nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, nil, ErrShutdown
	}
	ch, unsubscribe := a.panelLocked(panelID).hub.Subscribe()
	return ch, unsubscribe, nil
}

// Remove closes the panel's stream and subscriptions and forgets it
func (a *App) Remove(panelID string) error {
	a.mu.Lock()
	p, ok := a.panels[panelID]
	delete(a.panels, panelID)
	a.mu.Unlock()

	if !ok {
		return ErrPanelNotFound
	}
	p.controller.Close()
	p.hub.Close()
	return nil
}

// Panels returns the ids of every known panel, sorted
func (a *App) Panels() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids := make([]string, 0, len(a.panels))
	for id := range a.panels {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ActiveStreams returns the number of panels with a live stream
func (a *App) ActiveStreams() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.activeLocked("")
}

// ConcurrencyLimit returns the cap on live streams (for testing)
func (a *App) ConcurrencyLimit() int {
	return a.cfg.Panels.ConcurrencyLimit
}

func (a *App) panel(panelID string) (*panel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.panels[panelID]
	if !ok {
		return nil, ErrPanelNotFound
	}
	return p, nil
}

func (a *App) panelLocked(panelID string) *panel {
	if p, ok := a.panels[panelID]; ok {
		return p
	}

	hub := session.NewHub()
	p := &panel{
		id:  panelID,
		hub: hub,
		controller: session.NewController(a.opener, hub, session.ControllerOptions{
			IdleTimeout: a.cfg.Stream.IdleTimeout(),
			Metrics:     a.metrics,
		}),
	}
	a.panels[panelID] = p
	return p
}

// activeLocked counts live streams, ignoring the named panel since starting
// on it replaces its own stream
func (a *App) activeLocked(except string) int {
	n := 0
	for id, p := range a.panels {
		if id != except && p.controller.Active() {
			n++
		}
	}
	return n
}

// ValidateSymbol normalises a ticker symbol and checks its format
func ValidateSymbol(symbol string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return "", fmt.Errorf("%w: symbol is required", ErrInvalidInput)
	}
	if len(symbol) > 10 {
		return "", fmt.Errorf("%w: symbol too long (max 10 characters)", ErrInvalidInput)
	}
	if !symbolPattern.MatchString(symbol) {
		return "", fmt.Errorf("%w: invalid symbol format (alphanumeric, dots, and dashes only)", ErrInvalidInput)
	}
	return symbol, nil
}

// ValidatePanelID checks a panel id is safe to use in URLs and DOM ids
func ValidatePanelID(id string) error {
	if !panelIDPattern.MatchString(id) {
		return fmt.Errorf("%w: invalid panel id %q", ErrInvalidInput, id)
	}
	return nil
}
