// Package mocks provides a scripted analysis backend for E2E tests.
package mocks

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"stream-analyst/models"
)

// MockServer answers stream requests for both protocols from per-symbol
// scripts. Unscripted symbols get a complete default run.
type MockServer struct {
	mu     sync.RWMutex
	server *httptest.Server

	// Response configurations, keyed by symbol then protocol
	scripts map[string]map[models.Protocol]Script

	// Error injection
	streamError *Script

	// Request tracking for assertions
	requestLog []RequestLog
	open       int

	// pace delays every frame of default scripts
	pace time.Duration
}

// RequestLog records incoming requests for test assertions.
type RequestLog struct {
	Method        string
	Path          string
	Symbol        string
	Protocol      models.Protocol
	Agents        string
	Language      string
	Authorization string
	Accept        string
}

// New creates an unstarted mock backend for use as a plain http.Handler.
func New() *MockServer {
	return &MockServer{
		scripts:    make(map[string]map[models.Protocol]Script),
		requestLog: make([]RequestLog, 0),
	}
}

// NewMockServer creates a new mock server with default responses.
func NewMockServer() *MockServer {
	m := New()
	m.server = httptest.NewServer(m)
	return m
}

// SetPace delays each frame of unscripted runs by d.
func (m *MockServer) SetPace(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pace = d
}

// URL returns the mock server's base URL, or "" when it was built with New.
func (m *MockServer) URL() string {
	if m.server == nil {
		return ""
	}
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockServer) Close() {
	if m.server == nil {
		return
	}
	m.server.CloseClientConnections()
	m.server.Close()
}

// ServeHTTP implements http.Handler, serving /analysis/{symbol}/stream and
// /analysis/{symbol}/stream/v2.
func (m *MockServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	symbol, protocol, ok := parseStreamPath(r.URL.Path)
	if !ok || r.Method != http.MethodGet {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	m.mu.Lock()
	m.requestLog = append(m.requestLog, RequestLog{
		Method:        r.Method,
		Path:          r.URL.Path,
		Symbol:        symbol,
		Protocol:      protocol,
		Agents:        r.URL.Query().Get("agents"),
		Language:      r.URL.Query().Get("language"),
		Authorization: r.Header.Get("Authorization"),
		Accept:        r.Header.Get("Accept"),
	})
	script := m.scriptLocked(symbol, protocol)
	m.mu.Unlock()

	if script.Status != 0 && (script.Status < 200 || script.Status > 299) {
		http.Error(w, script.Body, script.Status)
		return
	}

	m.stream(w, r, script)
}

func (m *MockServer) stream(w http.ResponseWriter, r *http.Request, script Script) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	m.mu.Lock()
	m.open++
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.open--
		m.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for _, f := range script.Frames {
		if f.Delay > 0 {
			select {
			case <-time.After(f.Delay):
			case <-r.Context().Done():
				return
			}
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", f.Data); err != nil {
			return
		}
		flusher.Flush()
	}

	if script.Hold {
		<-r.Context().Done()
	}
}

func (m *MockServer) scriptLocked(symbol string, protocol models.Protocol) Script {
	if m.streamError != nil {
		return *m.streamError
	}
	if byProtocol, ok := m.scripts[symbol]; ok {
		if script, ok := byProtocol[protocol]; ok {
			return script
		}
	}
	script := StreamingScript(symbol)
	if protocol == models.ProtocolPhased {
		script = PhasedScript(symbol)
	}
	return script.Paced(m.pace)
}

// parseStreamPath extracts the symbol and protocol from a stream path
func parseStreamPath(path string) (string, models.Protocol, bool) {
	rest, ok := strings.CutPrefix(path, "/analysis/")
	if !ok {
		return "", "", false
	}
	protocol := models.ProtocolStreaming
	if trimmed, ok := strings.CutSuffix(rest, "/stream/v2"); ok {
		rest = trimmed
		protocol = models.ProtocolPhased
	} else if trimmed, ok := strings.CutSuffix(rest, "/stream"); ok {
		rest = trimmed
	} else {
		return "", "", false
	}
	if rest == "" || strings.Contains(rest, "/") {
		return "", "", false
	}
	return rest, protocol, true
}

// GetRequestLog returns all logged requests for assertions.
func (m *MockServer) GetRequestLog() []RequestLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RequestLog{}, m.requestLog...)
}

// ClearRequestLog clears the request log.
func (m *MockServer) ClearRequestLog() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestLog = make([]RequestLog, 0)
}

// OpenStreams returns the number of streams still being served
func (m *MockServer) OpenStreams() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.open
}

// SetScript configures the run served for a symbol and protocol.
func (m *MockServer) SetScript(symbol string, protocol models.Protocol, script Script) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scripts[symbol] == nil {
		m.scripts[symbol] = make(map[models.Protocol]Script)
	}
	m.scripts[symbol][protocol] = script
}

// SetStreamError makes every stream request fail with status.
func (m *MockServer) SetStreamError(status int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamError = &Script{Status: status, Body: body}
}

// ClearStreamError restores scripted responses.
func (m *MockServer) ClearStreamError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamError = nil
}
