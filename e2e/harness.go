// Package e2e provides end-to-end testing infrastructure for stream-analyst.
package e2e

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"stream-analyst/config"
	"stream-analyst/e2e/mocks"
	"stream-analyst/internal/api"
	"stream-analyst/internal/app"
	"stream-analyst/models"
	"stream-analyst/observability"
	"stream-analyst/services"
)

// TestHarness runs the full stack against a scripted analysis backend:
// HTTP API, panels, controllers and the real stream service.
type TestHarness struct {
	t          *testing.T
	ctx        context.Context
	cancel     context.CancelFunc
	mockServer *mocks.MockServer
	breakers   *services.CircuitBreakerRegistry
	metrics    *observability.Metrics
	app        *app.App
	router     http.Handler
	server     *httptest.Server
	config     *config.Config
}

// NewTestHarness creates a new test harness with all dependencies initialized.
func NewTestHarness(t *testing.T) *TestHarness {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)

	h := &TestHarness{
		t:      t,
		ctx:    ctx,
		cancel: cancel,
	}

	return h
}

// Setup initializes all test dependencies.
func (h *TestHarness) Setup() error {
	return h.SetupWithConfig(nil)
}

// SetupWithConfig initializes all test dependencies, letting configure
// adjust the test configuration first.
func (h *TestHarness) SetupWithConfig(configure func(*config.Config)) error {
	// Start mock analysis backend
	h.mockServer = mocks.NewMockServer()

	// Create test configuration
	h.config = h.createTestConfig()
	if configure != nil {
		configure(h.config)
	}
	if err := h.config.Validate(); err != nil {
		return fmt.Errorf("invalid test configuration: %w", err)
	}

	h.breakers = services.NewCircuitBreakerRegistry(services.CircuitBreakerConfigFrom(h.config.Breaker))
	h.metrics = observability.NewMetrics(prometheus.NewRegistry())

	stream := services.NewAnalysisStreamService(h.config.Stream, nil, h.breakers)

	// Create application
	h.app = app.New(h.config, stream).WithMetrics(h.metrics)
	h.app.Startup(h.ctx)

	// Create router
	handler := api.NewHandler(h.app, h.config).WithBreakers(h.breakers)
	h.router = api.NewRouter(handler, h.config)
	h.server = httptest.NewServer(h.router)

	return nil
}

// Teardown cleans up all test resources.
func (h *TestHarness) Teardown() {
	if h.server != nil {
		h.server.CloseClientConnections()
		h.server.Close()
	}

	if h.app != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.app.Shutdown(ctx); err != nil {
			h.t.Logf("app shutdown: %v", err)
		}
	}

	if h.cancel != nil {
		h.cancel()
	}

	if h.mockServer != nil {
		h.mockServer.Close()
	}
}

// Context returns the test context.
func (h *TestHarness) Context() context.Context {
	return h.ctx
}

// MockServer returns the mock server for configuring responses.
func (h *TestHarness) MockServer() *mocks.MockServer {
	return h.mockServer
}

// Breakers returns the circuit breaker registry guarding the backend.
func (h *TestHarness) Breakers() *services.CircuitBreakerRegistry {
	return h.breakers
}

// Metrics returns the isolated metrics sink used by the panels.
func (h *TestHarness) Metrics() *observability.Metrics {
	return h.metrics
}

// App returns the application instance.
func (h *TestHarness) App() *app.App {
	return h.app
}

// Router returns the HTTP router for making requests.
func (h *TestHarness) Router() http.Handler {
	return h.router
}

// Config returns the test configuration.
func (h *TestHarness) Config() *config.Config {
	return h.config
}

// DoRequest performs an HTTP request and returns the response.
func (h *TestHarness) DoRequest(method, path string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

// DoHTMXRequest performs an HTMX form submission and returns the response.
func (h *TestHarness) DoHTMXRequest(method, path string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("HX-Request", "true")

	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

// DialPanel opens a WebSocket subscription to a panel. Pass "html" as the
// format to receive rendered panels instead of JSON snapshots.
func (h *TestHarness) DialPanel(panel, format string) (*websocket.Conn, error) {
	u := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/api/panels/" + panel + "/ws"
	if format != "" {
		u += "?format=" + url.QueryEscape(format)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(h.ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial panel %s: %w", panel, err)
	}
	h.t.Cleanup(func() { conn.Close() })
	return conn, nil
}

// WaitForStatus polls the panel until its session reaches status.
func (h *TestHarness) WaitForStatus(panel string, status models.SessionStatus) models.AnalysisSession {
	h.t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	var last models.AnalysisSession
	for time.Now().Before(deadline) {
		s, err := h.app.Snapshot(panel)
		if err == nil {
			last = s
			if s.Status == status {
				return s
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	h.t.Fatalf("panel %s did not reach %s, last status %s", panel, status, last.Status)
	return last
}

// WaitForStreams polls the mock backend until n streams are being served.
func (h *TestHarness) WaitForStreams(n int) {
	h.t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if h.mockServer.OpenStreams() == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	h.t.Fatalf("expected %d open streams, got %d", n, h.mockServer.OpenStreams())
}

func (h *TestHarness) createTestConfig() *config.Config {
	// Create a test config pointing at the mock backend
	cfg := config.NewTestConfig()
	cfg.Stream.BaseURL = h.mockServer.URL()
	cfg.Stream.ConnectTimeoutSeconds = 5
	return cfg
}
