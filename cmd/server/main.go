package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lexiqai/voice-bridge/internal/config"
	"github.com/lexiqai/voice-bridge/internal/observability"
	"github.com/lexiqai/voice-bridge/internal/realtime"
	"github.com/lexiqai/voice-bridge/internal/resilience"
	"github.com/lexiqai/voice-bridge/internal/session"
	"github.com/lexiqai/voice-bridge/internal/telephony"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

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
		Str("realtime_base_url", cfg.RealtimeBaseURL).
		Str("realtime_model", cfg.RealtimeModel).
		Int("telephony_sample_rate", cfg.TelephonySampleRate).
		Int("ai_sample_rate", cfg.AISampleRate).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Bridge Service starting")

	// AI leg: signaling over HTTP, media over WebRTC
	signaling := realtime.NewSignalingClient(cfg)
	dialer := realtime.NewDialer(cfg, signaling)
	registry := session.NewRegistry(dialer, session.OptionsFromConfig(cfg))

	mux := http.NewServeMux()

	// Carrier media-stream websocket
	mux.HandleFunc("/streams/telephony", telephony.HandleMediaStreamWS(registry))

	mux.HandleFunc("/health", observability.HealthCheckHandler(registry.Len))

	signalingCheck := func(ctx context.Context) (bool, error) {
		if state := signaling.Breaker().GetState(); state == resilience.StateOpen {
			return false, fmt.Errorf("signaling circuit is %s", state)
		}
		return true, nil
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(registry.Len, map[string]observability.HealthCheckFunc{
		"realtime_signaling": signalingCheck,
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Media streams are long-lived, so only the request header is time-bounded
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		endpoint := fmt.Sprintf("ws://localhost:%s/streams/telephony", cfg.Port)
		if cfg.PublicURL != "" {
			endpoint = publicStreamURL(cfg.PublicURL)
		}
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", endpoint).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Hijacked websockets are not tracked by Shutdown; end their sessions explicitly
		if err := registry.CloseAll(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Sessions did not close before the deadline")
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}

// publicStreamURL converts an http(s) base URL into the media-stream ws(s) URL
func publicStreamURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return strings.TrimRight(base, "/") + "/streams/telephony"
}
