package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Chunker policy names accepted in the audio section.
const (
	PolicyFixedWindow      = "fixed_window"
	PolicySilenceDelimited = "silence_delimited"
)

// Ingress overflow policy names accepted in the audio section.
const (
	OverflowDropOldest = "drop_oldest"
	OverflowBlock      = "block"
)

// Config represents the complete service configuration
type Config struct {
	Signaling     SignalingConfig     `yaml:"signaling"`
	HTTP          HTTPConfig          `yaml:"http"`
	Audio         AudioConfig         `yaml:"audio"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Translation   TranslationConfig   `yaml:"translation"`
	Synthesis     SynthesisConfig     `yaml:"synthesis"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// SignalingConfig contains the WebSocket signaling server configuration
type SignalingConfig struct {
	Port               int      `yaml:"port"`
	BindAddress        string   `yaml:"bind_address"`
	NegotiationTimeout float64  `yaml:"negotiation_timeout"` // seconds
	PingInterval       float64  `yaml:"ping_interval"`       // seconds
	PongTimeout        float64  `yaml:"pong_timeout"`        // seconds
	MaxSessions        int      `yaml:"max_sessions"`
	STUNServers        []string `yaml:"stun_servers"`
}

// HTTPConfig contains the monitoring HTTP server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains audio ingestion and chunking parameters
type AudioConfig struct {
	SampleRate        int     `yaml:"sample_rate"`
	Channels          int     `yaml:"channels"`
	BitDepth          int     `yaml:"bit_depth"`
	ChunkPolicy       string  `yaml:"chunk_policy"`       // fixed_window or silence_delimited
	WindowDuration    float64 `yaml:"window_duration"`    // seconds, fixed_window emit interval
	MinUtterance      float64 `yaml:"min_utterance"`      // seconds, shorter utterances are discarded
	MaxUtterance      float64 `yaml:"max_utterance"`      // seconds, safety valve
	SilenceDuration   float64 `yaml:"silence_duration"`   // seconds of trailing silence closing an utterance
	VADThreshold      float32 `yaml:"vad_threshold"`      // voice probability threshold
	VADWindowSize     int     `yaml:"vad_window_size"`    // samples per VAD window
	OverflowPolicy    string  `yaml:"overflow_policy"`    // drop_oldest or block
	OverflowTimeout   float64 `yaml:"overflow_timeout"`   // seconds, block policy upper bound
	InactivityTimeout int     `yaml:"inactivity_timeout"` // seconds without inbound audio before drain
}

// PipelineConfig contains stage queue and retry parameters
type PipelineConfig struct {
	QueueCapacity  int     `yaml:"queue_capacity"`
	MaxAttempts    int     `yaml:"max_attempts"`
	BackoffInitial float64 `yaml:"backoff_initial"` // seconds
	BackoffMax     float64 `yaml:"backoff_max"`     // seconds
	CallTimeout    float64 `yaml:"call_timeout"`    // seconds, per port call
	DrainTimeout   float64 `yaml:"drain_timeout"`   // seconds allowed for in-flight work on close
	FrameBudget    float64 `yaml:"frame_budget"`    // seconds of audio per outbound frame
}

// TranscriptionConfig contains speech recognizer client configuration
type TranscriptionConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKeyEnv     string `yaml:"api_key_env"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxConcurrent int    `yaml:"max_concurrent"`
	Model         string `yaml:"model"`
}

// TranslationConfig contains translation client configuration
type TranslationConfig struct {
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
	Timeout   int    `yaml:"timeout"` // seconds
}

// SynthesisConfig contains text-to-speech client configuration
type SynthesisConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKeyEnv     string `yaml:"api_key_env"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Signaling.Validate(); err != nil {
		return fmt.Errorf("signaling config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Translation.Validate(); err != nil {
		return fmt.Errorf("translation config: %w", err)
	}

	if err := c.Synthesis.Validate(); err != nil {
		return fmt.Errorf("synthesis config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates signaling server configuration
func (s *SignalingConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.NegotiationTimeout <= 0 {
		return fmt.Errorf("negotiation_timeout must be positive, got %f", s.NegotiationTimeout)
	}

	if s.PingInterval <= 0 {
		return fmt.Errorf("ping_interval must be positive, got %f", s.PingInterval)
	}

	if s.PongTimeout <= 0 {
		return fmt.Errorf("pong_timeout must be positive, got %f", s.PongTimeout)
	}

	if s.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1, got %d", s.MaxSessions)
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
	if a.SampleRate != 8000 && a.SampleRate != 16000 && a.SampleRate != 48000 {
		return fmt.Errorf("sample_rate must be 8000, 16000 or 48000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.ChunkPolicy != PolicyFixedWindow && a.ChunkPolicy != PolicySilenceDelimited {
		return fmt.Errorf("chunk_policy must be '%s' or '%s', got '%s'",
			PolicyFixedWindow, PolicySilenceDelimited, a.ChunkPolicy)
	}

	if a.WindowDuration <= 0 {
		return fmt.Errorf("window_duration must be positive, got %f", a.WindowDuration)
	}

	if a.MinUtterance <= 0 {
		return fmt.Errorf("min_utterance must be positive, got %f", a.MinUtterance)
	}

	if a.MaxUtterance <= a.MinUtterance {
		return fmt.Errorf("max_utterance (%f) must be greater than min_utterance (%f)",
			a.MaxUtterance, a.MinUtterance)
	}

	if a.SilenceDuration <= 0 {
		return fmt.Errorf("silence_duration must be positive, got %f", a.SilenceDuration)
	}

	if a.VADThreshold < 0 || a.VADThreshold > 1 {
		return fmt.Errorf("vad_threshold must be between 0 and 1, got %f", a.VADThreshold)
	}

	if a.VADWindowSize < 256 || a.VADWindowSize > 2048 {
		return fmt.Errorf("vad_window_size must be between 256 and 2048 samples, got %d", a.VADWindowSize)
	}

	if a.OverflowPolicy != OverflowDropOldest && a.OverflowPolicy != OverflowBlock {
		return fmt.Errorf("overflow_policy must be '%s' or '%s', got '%s'",
			OverflowDropOldest, OverflowBlock, a.OverflowPolicy)
	}

	if a.OverflowPolicy == OverflowBlock && a.OverflowTimeout <= 0 {
		return fmt.Errorf("overflow_timeout must be positive for block policy, got %f", a.OverflowTimeout)
	}

	if a.InactivityTimeout < 1 {
		return fmt.Errorf("inactivity_timeout must be at least 1 second, got %d", a.InactivityTimeout)
	}

	return nil
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	if p.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be at least 1, got %d", p.QueueCapacity)
	}

	if p.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", p.MaxAttempts)
	}

	if p.BackoffInitial <= 0 {
		return fmt.Errorf("backoff_initial must be positive, got %f", p.BackoffInitial)
	}

	if p.BackoffMax < p.BackoffInitial {
		return fmt.Errorf("backoff_max (%f) must be at least backoff_initial (%f)",
			p.BackoffMax, p.BackoffInitial)
	}

	if p.CallTimeout <= 0 {
		return fmt.Errorf("call_timeout must be positive, got %f", p.CallTimeout)
	}

	if p.DrainTimeout <= 0 {
		return fmt.Errorf("drain_timeout must be positive, got %f", p.DrainTimeout)
	}

	if p.FrameBudget <= 0 {
		return fmt.Errorf("frame_budget must be positive, got %f", p.FrameBudget)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	return nil
}

// Validate validates translation configuration
func (t *TranslationConfig) Validate() error {
	if t.APIKeyEnv == "" {
		return fmt.Errorf("api_key_env cannot be empty")
	}

	if t.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	return nil
}

// Validate validates synthesis configuration
func (s *SynthesisConfig) Validate() error {
	if s.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	if s.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", s.MaxConcurrent)
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

// GetNegotiationTimeout returns the negotiation timeout as a time.Duration
func (s *SignalingConfig) GetNegotiationTimeout() time.Duration {
	return time.Duration(s.NegotiationTimeout * float64(time.Second))
}

// GetPingInterval returns the ping interval as a time.Duration
func (s *SignalingConfig) GetPingInterval() time.Duration {
	return time.Duration(s.PingInterval * float64(time.Second))
}

// GetPongTimeout returns the pong timeout as a time.Duration
func (s *SignalingConfig) GetPongTimeout() time.Duration {
	return time.Duration(s.PongTimeout * float64(time.Second))
}

// GetWindowDuration returns the fixed-window emit interval as a time.Duration
func (a *AudioConfig) GetWindowDuration() time.Duration {
	return time.Duration(a.WindowDuration * float64(time.Second))
}

// GetMinUtterance returns the minimum viable utterance duration as a time.Duration
func (a *AudioConfig) GetMinUtterance() time.Duration {
	return time.Duration(a.MinUtterance * float64(time.Second))
}

// GetMaxUtterance returns the maximum utterance duration as a time.Duration
func (a *AudioConfig) GetMaxUtterance() time.Duration {
	return time.Duration(a.MaxUtterance * float64(time.Second))
}

// GetSilenceDuration returns the trailing silence duration as a time.Duration
func (a *AudioConfig) GetSilenceDuration() time.Duration {
	return time.Duration(a.SilenceDuration * float64(time.Second))
}

// GetOverflowTimeout returns the ingress block timeout as a time.Duration
func (a *AudioConfig) GetOverflowTimeout() time.Duration {
	return time.Duration(a.OverflowTimeout * float64(time.Second))
}

// GetInactivityTimeout returns the session inactivity timeout as a time.Duration
func (a *AudioConfig) GetInactivityTimeout() time.Duration {
	return time.Duration(a.InactivityTimeout) * time.Second
}

// GetBackoffInitial returns the initial retry backoff as a time.Duration
func (p *PipelineConfig) GetBackoffInitial() time.Duration {
	return time.Duration(p.BackoffInitial * float64(time.Second))
}

// GetBackoffMax returns the maximum retry backoff as a time.Duration
func (p *PipelineConfig) GetBackoffMax() time.Duration {
	return time.Duration(p.BackoffMax * float64(time.Second))
}

// GetCallTimeout returns the per-call timeout as a time.Duration
func (p *PipelineConfig) GetCallTimeout() time.Duration {
	return time.Duration(p.CallTimeout * float64(time.Second))
}

// GetDrainTimeout returns the drain timeout as a time.Duration
func (p *PipelineConfig) GetDrainTimeout() time.Duration {
	return time.Duration(p.DrainTimeout * float64(time.Second))
}

// GetFrameBudget returns the outbound frame budget as a time.Duration
func (p *PipelineConfig) GetFrameBudget() time.Duration {
	return time.Duration(p.FrameBudget * float64(time.Second))
}

// GetTimeout returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeout() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTimeout returns the translation timeout as a time.Duration
func (t *TranslationConfig) GetTimeout() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTimeout returns the synthesis timeout as a time.Duration
func (s *SynthesisConfig) GetTimeout() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}
