// Package main runs the scripted analysis backend as a standalone server so
// the analysis server, the browser page, and the terminal client can be
// exercised without the real pipeline.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"stream-analyst/e2e/mocks"
	"stream-analyst/observability"
)

func main() {
	// Initialize logger in development mode for tests
	observability.InitLogger(false)

	port := os.Getenv("E2E_SERVER_PORT")
	if port == "" {
		port = "9090"
	}

	// Frame pacing makes the streamed text visible in a browser
	paceMs, err := strconv.Atoi(getEnv("E2E_FRAME_DELAY_MS", "150"))
	if err != nil || paceMs < 0 {
		observability.Fatal("invalid E2E_FRAME_DELAY_MS", "value", os.Getenv("E2E_FRAME_DELAY_MS"))
	}

	backend := mocks.New()
	backend.SetPace(time.Duration(paceMs) * time.Millisecond)

	if status := os.Getenv("E2E_STREAM_ERROR_STATUS"); status != "" {
		code, err := strconv.Atoi(status)
		if err != nil {
			observability.Fatal("invalid E2E_STREAM_ERROR_STATUS", "value", status)
		}
		backend.SetStreamError(code, "injected failure")
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", http.StripPrefix("/api", backend))
	mux.HandleFunc("/requests", func(w http.ResponseWriter, r *http.Request) {
		for _, req := range backend.GetRequestLog() {
			fmt.Fprintf(w, "%s %s language=%s agents=%s\n", req.Method, req.Path, req.Language, req.Agents)
		}
	})

	// WriteTimeout stays unset so streams are not cut off
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		observability.Info("starting mock analysis backend",
			"port", port,
			"url", fmt.Sprintf("http://localhost:%s/api", port),
			"frame_delay_ms", paceMs)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			observability.Fatal("server error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	observability.Info("shutting down mock analysis backend...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		observability.Warn("streams still open at shutdown", "error", err)
	}
	observability.Info("mock analysis backend stopped")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
