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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Salama-Malek/AI-RECEPTIONIST/internal/config"
	"github.com/Salama-Malek/AI-RECEPTIONIST/internal/convo"
	"github.com/Salama-Malek/AI-RECEPTIONIST/internal/metrics"
	"github.com/Salama-Malek/AI-RECEPTIONIST/internal/pipeline"
	"github.com/Salama-Malek/AI-RECEPTIONIST/internal/server"
	"github.com/Salama-Malek/AI-RECEPTIONIST/internal/session"
	"github.com/Salama-Malek/AI-RECEPTIONIST/internal/speech"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voice-gateway"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration; this is the only fatal failure class
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.String("stream_path", cfg.Server.StreamPath),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.String("speech_provider", cfg.Speech.Provider),
		slog.Bool("backend_enabled", cfg.Backend.Enabled),
		slog.Int("max_sessions", cfg.Pipeline.MaxSessions),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	// Select speech engines
	var transcriber speech.Transcriber
	var synthesizer speech.Synthesizer
	switch cfg.Speech.Provider {
	case "openai":
		transcriber = speech.NewOpenAITranscriber(cfg.Speech.APIKey, cfg.Speech.STTModel, cfg.Audio.SampleRate)
		synthesizer = speech.NewOpenAISynthesizer(cfg.Speech.APIKey, cfg.Speech.TTSModel, cfg.Speech.TTSVoice)
	default:
		transcriber = speech.NewLocalTranscriber(cfg.Speech.MinEnergy)
		synthesizer = speech.NewLocalSynthesizer(cfg.Speech.TTSVoice)
	}
	logger.Info("Speech engines initialized",
		slog.String("provider", cfg.Speech.Provider),
		slog.String("stt_model", cfg.Speech.STTModel),
		slog.String("tts_voice", cfg.Speech.TTSVoice),
	)

	// Select conversation engine
	var exchanger convo.Exchanger
	var backend *convo.Backend
	if cfg.Backend.Enabled {
		backend, err = convo.NewBackend(convo.BackendConfig{
			BaseURL:       cfg.Backend.BaseURL,
			Timeout:       cfg.Backend.Timeout(),
			MaxRetries:    cfg.Backend.MaxRetries,
			MaxConcurrent: cfg.Backend.MaxConcurrent,
		}, logger)
		if err != nil {
			logger.Error("Failed to create backend client", slog.String("error", err.Error()))
			os.Exit(1)
		}
		exchanger = backend
		logger.Info("Conversation engine initialized",
			slog.String("engine", "backend"),
			slog.String("base_url", cfg.Backend.BaseURL),
		)
	} else {
		exchanger = convo.NewHeuristic("")
		logger.Info("Conversation engine initialized",
			slog.String("engine", "heuristic"),
		)
	}

	// Build session store and pipeline
	store := session.NewStore(logger, cfg.Pipeline.MaxSessions, cfg.Pipeline.MaxQueueDepth)
	pipe := pipeline.NewPipeline(store, transcriber, synthesizer, exchanger, pipeline.Config{
		FallbackMessage: cfg.Pipeline.FallbackMessage,
		SessionTimeout:  cfg.Pipeline.SessionTimeoutDuration(),
	}, logger, appMetrics)
	pipe.Start()
	logger.Info("Pipeline initialized",
		slog.Duration("session_timeout", cfg.Pipeline.SessionTimeoutDuration()),
		slog.Int("max_queue_depth", cfg.Pipeline.MaxQueueDepth),
	)

	// Initialize media stream server
	streamServer := server.NewStreamServer(&cfg.Server, logger, pipe, appMetrics)

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, store, streamServer, backend, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Start stream server
	if err := streamServer.Start(); err != nil {
		logger.Error("Failed to start media stream server", slog.String("error", err.Error()))
		os.Exit(1)
	}

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

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("stream_address", fmt.Sprintf("%s:%d%s", cfg.Server.BindAddress, cfg.Server.Port, cfg.Server.StreamPath)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop the stream server (disconnects callers and ends their sessions)
	if err := streamServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping media stream server", slog.String("error", err.Error()))
	}

	// Drain remaining sessions and close the collaborators
	if err := pipe.Shutdown(); err != nil {
		logger.Error("Error shutting down pipeline", slog.String("error", err.Error()))
	}

	// Final statistics
	stats := streamServer.GetStatistics()
	logger.Info("Final server statistics",
		slog.Uint64("connections_accepted", stats.ConnectionsAccepted),
		slog.Uint64("frames_received", stats.FramesReceived),
		slog.Uint64("protocol_errors", stats.ProtocolErrors),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
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
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

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

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
