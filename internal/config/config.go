package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	HTTP     HTTPConfig     `yaml:"http"`
	Audio    AudioConfig    `yaml:"audio"`
	Speech   SpeechConfig   `yaml:"speech"`
	Backend  BackendConfig  `yaml:"backend"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains the media stream WebSocket server configuration
type ServerConfig struct {
	Port        int    `yaml:"port"`
	BindAddress string `yaml:"bind_address"`
	StreamPath  string `yaml:"stream_path"`
}

// HTTPConfig contains the monitoring HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains audio frame parameters
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
}

// SpeechConfig contains speech-to-text and text-to-speech configuration
type SpeechConfig struct {
	Provider  string  `yaml:"provider"` // "local" or "openai"
	APIKey    string  `yaml:"api_key"`
	STTModel  string  `yaml:"stt_model"`
	TTSModel  string  `yaml:"tts_model"`
	TTSVoice  string  `yaml:"tts_voice"`
	MinEnergy float64 `yaml:"min_energy"` // frames below this RMS are treated as silence
}

// BackendConfig contains the remote conversation backend configuration
type BackendConfig struct {
	Enabled       bool   `yaml:"enabled"`
	BaseURL       string `yaml:"base_url"`
	TimeoutMS     int    `yaml:"timeout_ms"`
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// PipelineConfig contains session admission and fallback configuration
type PipelineConfig struct {
	MaxSessions     int    `yaml:"max_sessions"`
	MaxQueueDepth   int    `yaml:"max_queue_depth"`
	SessionTimeout  int    `yaml:"session_timeout"` // seconds
	FallbackMessage string `yaml:"fallback_message"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the baseline configuration before file and environment
// overrides are applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        4000,
			BindAddress: "0.0.0.0",
			StreamPath:  "/media",
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Audio: AudioConfig{
			SampleRate: 8000,
		},
		Speech: SpeechConfig{
			Provider:  "local",
			STTModel:  "whisper-1",
			TTSModel:  "tts-1",
			TTSVoice:  "alloy",
			MinEnergy: 0.01,
		},
		Backend: BackendConfig{
			Enabled:       false,
			TimeoutMS:     5000,
			MaxRetries:    2,
			MaxConcurrent: 10,
		},
		Pipeline: PipelineConfig{
			MaxSessions:     256,
			MaxQueueDepth:   32,
			SessionTimeout:  120,
			FallbackMessage: "I'm sorry, I'm having trouble right now. Please try again in a moment.",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load builds the configuration: defaults, then the optional YAML file,
// then environment variable overrides, then validation. A missing file is
// not an error; an unreadable or invalid one is.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.applyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("environment override failed: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// applyEnvOverrides layers environment variables over the loaded values.
// Variable names match the original deployment surface of the gateway.
// A set-but-unparseable value refuses startup rather than silently running
// on a default.
func (c *Config) applyEnvOverrides() error {
	envString("GATEWAY_STREAM_PATH", &c.Server.StreamPath)
	envString("OPENAI_API_KEY", &c.Speech.APIKey)
	envString("SPEECH_PROVIDER", &c.Speech.Provider)
	envString("STT_MODEL", &c.Speech.STTModel)
	envString("TTS_MODEL", &c.Speech.TTSModel)
	envString("TTS_VOICE", &c.Speech.TTSVoice)
	envString("LOG_LEVEL", &c.Logging.Level)
	envString("BACKEND_API_BASE_URL", &c.Backend.BaseURL)

	if err := envInt("GATEWAY_PORT", &c.Server.Port); err != nil {
		return err
	}
	if err := envInt("BACKEND_API_TIMEOUT_MS", &c.Backend.TimeoutMS); err != nil {
		return err
	}
	if err := envBool("BACKEND_CONVERSATION_ENABLED", &c.Backend.Enabled); err != nil {
		return err
	}

	return nil
}

func envString(name string, target *string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		*target = v
	}
}

func envInt(name string, target *int) error {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer, got %q", name, v)
		}
		*target = parsed
	}
	return nil
}

func envBool(name string, target *bool) error {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s must be a boolean, got %q", name, v)
		}
		*target = parsed
	}
	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Speech.Validate(); err != nil {
		return fmt.Errorf("speech config: %w", err)
	}

	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.StreamPath == "" || s.StreamPath[0] != '/' {
		return fmt.Errorf("stream_path must start with '/', got %q", s.StreamPath)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 8000 && a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 8000 or 16000 Hz, got %d", a.SampleRate)
	}

	return nil
}

// Validate validates speech configuration
func (s *SpeechConfig) Validate() error {
	switch s.Provider {
	case "local":
	case "openai":
		if s.APIKey == "" {
			return fmt.Errorf("api_key is required when provider is 'openai'")
		}
		if s.STTModel == "" {
			return fmt.Errorf("stt_model cannot be empty when provider is 'openai'")
		}
		if s.TTSModel == "" {
			return fmt.Errorf("tts_model cannot be empty when provider is 'openai'")
		}
	default:
		return fmt.Errorf("provider must be 'local' or 'openai', got %q", s.Provider)
	}

	if s.TTSVoice == "" {
		return fmt.Errorf("tts_voice cannot be empty")
	}

	if s.MinEnergy < 0 || s.MinEnergy >= 1 {
		return fmt.Errorf("min_energy must be in [0, 1), got %f", s.MinEnergy)
	}

	return nil
}

// Validate validates backend configuration
func (b *BackendConfig) Validate() error {
	if !b.Enabled {
		return nil
	}

	if b.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty when backend is enabled")
	}

	if u, err := url.Parse(b.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute URL, got %q", b.BaseURL)
	}

	if b.TimeoutMS < 1 {
		return fmt.Errorf("timeout_ms must be at least 1, got %d", b.TimeoutMS)
	}

	if b.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", b.MaxRetries)
	}

	if b.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", b.MaxConcurrent)
	}

	return nil
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	if p.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1, got %d", p.MaxSessions)
	}

	if p.MaxQueueDepth < 1 {
		return fmt.Errorf("max_queue_depth must be at least 1, got %d", p.MaxQueueDepth)
	}

	if p.SessionTimeout < 1 {
		return fmt.Errorf("session_timeout must be at least 1 second, got %d", p.SessionTimeout)
	}

	if p.FallbackMessage == "" {
		return fmt.Errorf("fallback_message cannot be empty")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// Timeout returns the backend request timeout as a time.Duration
func (b *BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutMS) * time.Millisecond
}

// SessionTimeoutDuration returns the idle session timeout as a time.Duration
func (p *PipelineConfig) SessionTimeoutDuration() time.Duration {
	return time.Duration(p.SessionTimeout) * time.Second
}
