// Package main is a terminal client for one analysis panel. It runs the
// panel in process against the configured analysis service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"stream-analyst/config"
	"stream-analyst/internal/app"
	"stream-analyst/internal/settings"
	"stream-analyst/models"
	"stream-analyst/observability"
	"stream-analyst/services"
)

func main() {
	_ = godotenv.Load()

	var (
		panel    string
		symbol   string
		protocol string
		logPath  string
	)
	flag.StringVar(&panel, "panel", "tui", "Panel id")
	flag.StringVar(&symbol, "symbol", "", "Symbol to analyze on start")
	flag.StringVar(&protocol, "protocol", "v1", "Stream protocol (v1|v2)")
	flag.StringVar(&logPath, "log-file", envOr("TUI_LOG_FILE", "analysis-tui.log"), "Log file; the terminal is owned by the UI")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	observability.Logger = slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{
		Level: observability.ParseLevel(cfg.Logging.Level),
	}))
	observability.InitMetrics()

	breakers := services.NewCircuitBreakerRegistry(services.CircuitBreakerConfigFrom(cfg.Breaker))
	services.SetGlobalRegistry(breakers)

	var store *settings.Store
	if cfg.Credentials.StorePath != "" {
		if store, err = settings.Open(cfg.Credentials.StorePath, cfg.Credentials.Passphrase); err != nil {
			fmt.Fprintf(os.Stderr, "failed to open credentials store: %v\n", err)
			os.Exit(1)
		}
	}
	stream := services.NewAnalysisStreamService(cfg.Stream, settings.Resolve(cfg.Stream.APIToken, store), breakers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, stream)
	application.Startup(ctx)

	snapshots, unsubscribe, err := application.Subscribe(panel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open panel: %v\n", err)
		os.Exit(1)
	}

	m := newModel(application, panel, cfg.Stream.Locale, models.ParseProtocol(protocol), snapshots)
	if symbol != "" {
		m.input.SetValue(symbol)
		m.pending = true
	}

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, runErr := p.Run()

	unsubscribe()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		observability.Warn("panel did not stop cleanly", "error", err)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "analysis-tui: %v\n", runErr)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
