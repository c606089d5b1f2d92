// Package config provides the configuration schema and loader for the
// voxterm voice client.
package config

// LogLevel controls log verbosity for the voxterm client.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// ProviderName selects the realtime backend implementation.
type ProviderName string

const (
	// ProviderGeminiLive uses Google's Gemini Live API.
	ProviderGeminiLive ProviderName = "gemini-live"

	// ProviderOpenAIRealtime uses OpenAI's Realtime API.
	ProviderOpenAIRealtime ProviderName = "openai-realtime"
)

// IsValid reports whether p is a recognised provider name.
func (p ProviderName) IsValid() bool {
	return p == ProviderGeminiLive || p == ProviderOpenAIRealtime
}

// Default audio rates for the realtime channel. Input is what the services
// expect for microphone PCM; output is what they synthesise at.
const (
	DefaultInputSampleRate  = 16000
	DefaultOutputSampleRate = 24000
)

// Config is the root configuration structure for voxterm.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Session  SessionConfig  `yaml:"session"`
}

// ServerConfig holds logging and telemetry settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFile is the path structured logs are written to. The terminal is
	// owned by the UI, so logs never go to stderr while the client runs.
	// Empty disables file logging.
	LogFile string `yaml:"log_file"`

	// MetricsAddr is the TCP address the Prometheus /metrics endpoint
	// listens on (e.g., "127.0.0.1:9090"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// ProviderConfig selects and authenticates the realtime backend.
type ProviderConfig struct {
	// Name selects the realtime provider implementation.
	Name ProviderName `yaml:"name"`

	// APIKey is the authentication key for the provider's API. When empty,
	// the loader falls back to the provider's conventional environment
	// variable (GEMINI_API_KEY or OPENAI_API_KEY).
	APIKey string `yaml:"api_key"`

	// Model selects a specific model within the provider. Empty uses the
	// provider's built-in default.
	Model string `yaml:"model"`

	// BaseURL overrides the provider's default WebSocket endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`
}

// SessionConfig holds per-conversation settings. Voice and instructions take
// effect on the next connect, not on a live session.
type SessionConfig struct {
	// Voice selects the prebuilt voice for synthesised speech.
	Voice string `yaml:"voice"`

	// Instructions is the free-form system prompt applied at connect time.
	Instructions string `yaml:"instructions"`

	// InputSampleRate is the microphone PCM rate in Hz. Default 16000.
	InputSampleRate int `yaml:"input_sample_rate"`

	// OutputSampleRate is the synthesised PCM rate in Hz. Default 24000.
	OutputSampleRate int `yaml:"output_sample_rate"`
}
