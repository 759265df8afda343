package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"stream-analyst/config"
	"stream-analyst/models"
	"stream-analyst/observability"
)

const analysisServiceName = "analysis_stream"

// StreamRequest describes one analysis run to open a stream for
type StreamRequest struct {
	Symbol     string
	Protocol   models.Protocol
	Locale     string             // any locale or Accept-Language value, collapsed to en or zh
	Agents     []models.AgentName // empty means the configured or protocol default
	Generation uint64
}

// StatusError is returned when the analysis service answers the stream
// request with a non-2xx status
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("analysis service returned %s: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("analysis service returned %s", e.Status)
}

// AnalysisStreamService opens event streams against the analysis backend
type AnalysisStreamService struct {
	baseURL       string
	httpClient    *http.Client
	credentials   CredentialProvider
	breakers      *CircuitBreakerRegistry
	locale        string
	agents        []models.AgentName
	maxFrameBytes int
}

// NewAnalysisStreamService creates a new AnalysisStreamService instance.
// A nil registry uses the global circuit breaker registry.
func NewAnalysisStreamService(cfg config.StreamConfig, credentials CredentialProvider, breakers *CircuitBreakerRegistry) *AnalysisStreamService {
	if credentials == nil {
		credentials = StaticCredentials(cfg.APIToken)
	}
	if breakers == nil {
		breakers = GetGlobalRegistry()
	}

	agents := make([]models.AgentName, 0, len(cfg.Agents))
	for _, name := range cfg.Agents {
		agents = append(agents, models.AgentName(name))
	}

	// No overall client timeout: the body stays open for the whole run.
	// Only the wait for response headers is bounded.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.ConnectTimeout()

	return &AnalysisStreamService{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:    &http.Client{Transport: transport},
		credentials:   credentials,
		breakers:      breakers,
		locale:        cfg.Locale,
		agents:        agents,
		maxFrameBytes: cfg.MaxFrameBytes,
	}
}

// Open starts a stream for req. Cancelling ctx or closing the returned source
// tears down the connection. The service never retries.
func (s *AnalysisStreamService) Open(ctx context.Context, req StreamRequest) (*EventSource, error) {
	if req.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}

	metrics := observability.GetMetrics()
	metrics.RecordExternalAPIRequest(analysisServiceName, "open")
	timer := metrics.NewTimer()

	streamCtx, cancel := context.WithCancel(ctx)
	source, err := WithRegistry(streamCtx, s.breakers, BreakerAnalysisStream, func() (*EventSource, error) {
		return s.connect(streamCtx, cancel, req)
	})
	timer.ObserveExternalAPI(analysisServiceName, "open")

	if err != nil {
		cancel()
		metrics.RecordExternalAPIError(analysisServiceName, "open", errorType(err))
		if errors.Is(err, context.Canceled) {
			return nil, ErrStreamCancelled
		}
		return nil, err
	}

	return source, nil
}

func (s *AnalysisStreamService) connect(ctx context.Context, cancel context.CancelFunc, req StreamRequest) (*EventSource, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.StreamURL(req), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	if token := s.credentials.BearerToken(); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to analysis service: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	observability.WithSession(req.Symbol, req.Generation).Debug("analysis stream opened",
		"protocol", req.Protocol,
		"status", resp.StatusCode)

	return newEventSource(ctx, cancel, resp.Body, req.Generation, s.maxFrameBytes), nil
}

// StreamURL builds the endpoint for req. The phased protocol lives under a
// /v2 suffix of the same path.
func (s *AnalysisStreamService) StreamURL(req StreamRequest) string {
	path := s.baseURL + "/analysis/" + url.PathEscape(req.Symbol) + "/stream"
	if req.Protocol == models.ProtocolPhased {
		path += "/v2"
	}

	agents := req.Agents
	if len(agents) == 0 {
		agents = s.agents
	}
	if len(agents) == 0 {
		agents = req.Protocol.Agents()
	}
	names := make([]string, len(agents))
	for i, agent := range agents {
		names[i] = string(agent)
	}

	locale := req.Locale
	if locale == "" {
		locale = s.locale
	}

	params := url.Values{}
	params.Set("agents", strings.Join(names, ","))
	params.Set("language", NormalizeLanguage(locale))

	return path + "?" + params.Encode()
}

func errorType(err error) string {
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		return fmt.Sprintf("status_%d", statusErr.StatusCode)
	case errors.Is(err, ErrServiceUnavailable):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "network"
	}
}
