package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/voicebridge/voicebridge/internal/api"
	"github.com/voicebridge/voicebridge/internal/backend"
	"github.com/voicebridge/voicebridge/internal/call"
	"github.com/voicebridge/voicebridge/internal/config"
	"github.com/voicebridge/voicebridge/internal/database"
	"github.com/voicebridge/voicebridge/internal/metrics"
	"github.com/voicebridge/voicebridge/internal/speech"
	"github.com/voicebridge/voicebridge/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting voicebridge",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
		"max_concurrent_calls", cfg.MaxConcurrentCalls,
	)

	// Open database and run migrations.
	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	callRecords := database.NewCallRecordRepository(db)
	transcripts := database.NewTranscriptRepository(db)

	// Session registry and provider routing.
	registry := call.NewRegistry(cfg.MaxConcurrentCalls, logger)
	callRouter := call.NewRouter(transport.Provider(cfg.DefaultProvider))

	// Provider adapters. Empty secrets run in development mode and accept
	// every webhook signature.
	adapters := map[transport.Provider]transport.Adapter{
		transport.ProviderTwilio: transport.NewTwilioAdapter(cfg.TwilioAuthToken, logger),
		transport.ProviderExotel: transport.NewExotelAdapter(cfg.ExotelAPIToken, logger),
	}

	// Provider REST clients, only for providers with credentials.
	rest := map[transport.Provider]transport.RESTClient{}
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		rest[transport.ProviderTwilio] = transport.NewTwilioREST(cfg.TwilioAccountSID, cfg.TwilioAuthToken, logger)
	}
	if cfg.ExotelSID != "" && cfg.ExotelAPIKey != "" && cfg.ExotelAPIToken != "" {
		rest[transport.ProviderExotel] = transport.NewExotelREST(cfg.ExotelSID, cfg.ExotelAPIKey, cfg.ExotelAPIToken, logger)
	}

	// Conversation backend and speech collaborators.
	backendClient := backend.NewClient(cfg.BackendURL, cfg.BackendAPIKey, cfg.BackendTimeout(), cfg.BackendRetries, logger)
	stt := speech.NewSTTClient(cfg.STTURL, cfg.STTAPIKey, cfg.BackendTimeout(), logger)
	tts := speech.NewTTSClient(cfg.TTSURL, cfg.TTSAPIKey, cfg.BackendTimeout(), logger)

	var collector prometheus.Collector = metrics.NewCollector(registry, callRecords, time.Now())

	jwtSecret, err := cfg.JWTSecretBytes()
	if err != nil {
		slog.Error("failed to decode jwt secret", "error", err)
		os.Exit(1)
	}

	handler := api.NewServer(api.Deps{
		Config:      cfg,
		Registry:    registry,
		CallRouter:  callRouter,
		Adapters:    adapters,
		REST:        rest,
		Backend:     backendClient,
		Transcriber: stt,
		Synthesizer: tts,
		CallRecords: callRecords,
		Transcripts: transcripts,
		DB:          db,
		Collector:   collector,
		JWTSecret:   jwtSecret,
		Logger:      logger,
	})
	defer handler.Close()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: handler,
		// No WriteTimeout: media-stream WebSockets stay open for the life
		// of a call.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown: end live calls first, then drain HTTP.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down", "active_calls", registry.Count())
	registry.CloseAll()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("voicebridge stopped")
}
