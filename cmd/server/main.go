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

	"github.com/joho/godotenv"

	"github.com/yuewen-li/speech2speech/internal/config"
	"github.com/yuewen-li/speech2speech/internal/metrics"
	"github.com/yuewen-li/speech2speech/internal/server"
	"github.com/yuewen-li/speech2speech/internal/session"
	"github.com/yuewen-li/speech2speech/internal/signaling"
	"github.com/yuewen-li/speech2speech/internal/transcription"
	"github.com/yuewen-li/speech2speech/internal/translation"
	"github.com/yuewen-li/speech2speech/internal/transport"
	"github.com/yuewen-li/speech2speech/internal/tts"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "speech2speech"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load .env if present; API keys come from the environment, not the
	// config file
	godotenv.Load()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("signaling_port", cfg.Signaling.Port),
		slog.String("bind_address", cfg.Signaling.BindAddress),
		slog.Int("max_sessions", cfg.Signaling.MaxSessions),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.String("chunk_policy", cfg.Audio.ChunkPolicy),
		slog.Float64("vad_threshold", float64(cfg.Audio.VADThreshold)),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.String("translation_model", cfg.Translation.Model),
		slog.String("synthesis_endpoint", cfg.Synthesis.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Initialize port clients shared by all sessions
	transcriber, err := transcription.NewClient(transcription.Config{
		Endpoint:      cfg.Transcription.Endpoint,
		APIKey:        os.Getenv(cfg.Transcription.APIKeyEnv),
		Model:         cfg.Transcription.Model,
		Timeout:       cfg.Transcription.GetTimeout(),
		MaxConcurrent: cfg.Transcription.MaxConcurrent,
	})
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	translator, err := translation.NewClient(ctx, translation.Config{
		APIKey: os.Getenv(cfg.Translation.APIKeyEnv),
		Model:  cfg.Translation.Model,
	})
	if err != nil {
		logger.Error("Failed to create translation client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	synthesizer, err := tts.NewClient(tts.Config{
		Endpoint:      cfg.Synthesis.Endpoint,
		APIKey:        os.Getenv(cfg.Synthesis.APIKeyEnv),
		Timeout:       cfg.Synthesis.GetTimeout(),
		MaxConcurrent: cfg.Synthesis.MaxConcurrent,
		SampleRate:    cfg.Audio.SampleRate,
	})
	if err != nil {
		logger.Error("Failed to create synthesis client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize session manager
	sessionMgr := session.NewManager(cfg, transcriber, translator, synthesizer, logger, appMetrics)
	sessionMgr.Start()
	logger.Info("Session manager initialized",
		slog.Int("max_sessions", cfg.Signaling.MaxSessions),
		slog.Duration("inactivity_timeout", cfg.Audio.GetInactivityTimeout()),
	)

	// Media peers decode Opus off the wire and resample to the pipeline
	// rate
	peerFactory := func(sessionID string) (signaling.PeerConn, error) {
		return transport.NewPeer(transport.PeerConfig{
			SessionID:    sessionID,
			PipelineRate: cfg.Audio.SampleRate,
			ICEServers:   cfg.Signaling.STUNServers,
		}, logger)
	}

	// Initialize signaling server
	signalingServer := signaling.NewServer(cfg.Signaling, sessionMgr, peerFactory, logger, appMetrics)
	logger.Info("Signaling server initialized",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.Signaling.BindAddress, cfg.Signaling.Port)),
	)

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, sessionMgr, transcriber, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Start the signaling server; it blocks, so run it in the background
	signalingErr := make(chan error, 1)
	go func() {
		signalingErr <- signalingServer.Start()
	}()

	// Start HTTP server (if enabled)
	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	// Wait for shutdown signal or a signaling server failure
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-signalingErr:
		if err != nil {
			logger.Error("Signaling server failed", slog.String("error", err.Error()))
		}
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	// Stop accepting new signaling connections first
	if err := signalingServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error stopping signaling server", slog.String("error", err.Error()))
	}

	// Stop HTTP server
	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Drain active sessions so in-flight utterances are delivered
	if err := sessionMgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error draining sessions", slog.String("error", err.Error()))
	}

	transcriber.Close()
	translator.Close()
	synthesizer.Close()

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
