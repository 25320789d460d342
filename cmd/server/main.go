package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/voice-gateway/internal/agent"
	"github.com/lexiqai/voice-gateway/internal/calllog"
	"github.com/lexiqai/voice-gateway/internal/config"
	"github.com/lexiqai/voice-gateway/internal/llm"
	"github.com/lexiqai/voice-gateway/internal/observability"
	"github.com/lexiqai/voice-gateway/internal/session"
	"github.com/lexiqai/voice-gateway/internal/stt"
	"github.com/lexiqai/voice-gateway/internal/telephony"
	"github.com/lexiqai/voice-gateway/internal/tts"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Gateway Service starting")

	store := calllog.NewLoggingStore(logger)
	llmClient := llm.NewOpenAIClient(cfg)
	resolver := agent.NewStaticResolver(map[string]*agent.Config{}, &agent.Config{
		SystemPrompt: cfg.AgentDefaultSystemPrompt,
		FirstMessage: cfg.AgentDefaultFirstMessage,
		Language:     cfg.AgentDefaultLanguage,
		Active:       true,
	})

	// Create HTTP server
	mux := http.NewServeMux()

	// PBX WebSocket handler: one goroutine per call runs the full
	// TurnController event loop until the call ends.
	mux.HandleFunc("/streams/voice", func(w http.ResponseWriter, r *http.Request) {
		adapter, err := telephony.Upgrade(w, r, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		cs := session.New(cfg, adapter, resolver, llmClient, store, logger)
		go adapter.Run()
		cs.Run()
	})

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness endpoint - create health check functions here to avoid import cycles
	deepgramCheck := func(ctx context.Context) (bool, error) {
		// Simple check: try to create a client (validates config)
		client := stt.NewDeepgramClient(cfg)
		if client == nil {
			return false, fmt.Errorf("failed to create Deepgram client")
		}
		return true, nil
	}

	sarvamCheck := func(ctx context.Context) (bool, error) {
		// Simple check: try to create a client (validates config)
		client := tts.NewSarvamClient(cfg)
		if client == nil {
			return false, fmt.Errorf("failed to create Sarvam client")
		}
		return true, nil
	}

	openaiCheck := func(ctx context.Context) (bool, error) {
		if llm.NewOpenAIClient(cfg) == nil {
			return false, fmt.Errorf("failed to create OpenAI client")
		}
		return true, nil
	}

	mux.HandleFunc("/ready", observability.ReadinessHandler(deepgramCheck, sarvamCheck, openaiCheck))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/streams/voice", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
