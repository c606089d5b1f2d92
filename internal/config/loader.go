package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// apiKeyEnvVars maps provider names to their conventional API key
// environment variables, used as a fallback when api_key is not set.
var apiKeyEnvVars = map[ProviderName]string{
	ProviderGeminiLive:     "GEMINI_API_KEY",
	ProviderOpenAIRealtime: "OPENAI_API_KEY",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with their defaults, including the
// provider API key environment fallback.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = ProviderGeminiLive
	}
	if cfg.Provider.APIKey == "" {
		if env, ok := apiKeyEnvVars[cfg.Provider.Name]; ok {
			cfg.Provider.APIKey = os.Getenv(env)
		}
	}
	if cfg.Session.InputSampleRate == 0 {
		cfg.Session.InputSampleRate = DefaultInputSampleRate
	}
	if cfg.Session.OutputSampleRate == 0 {
		cfg.Session.OutputSampleRate = DefaultOutputSampleRate
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if !cfg.Provider.Name.IsValid() {
		errs = append(errs, fmt.Errorf("provider.name %q is invalid; valid values: %s, %s", cfg.Provider.Name, ProviderGeminiLive, ProviderOpenAIRealtime))
	}

	if cfg.Provider.APIKey == "" {
		env := apiKeyEnvVars[cfg.Provider.Name]
		errs = append(errs, fmt.Errorf("provider.api_key is required (or set %s)", env))
	}

	if cfg.Session.InputSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("session.input_sample_rate %d must be positive", cfg.Session.InputSampleRate))
	}
	if cfg.Session.OutputSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("session.output_sample_rate %d must be positive", cfg.Session.OutputSampleRate))
	}

	return errors.Join(errs...)
}
