package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. KALAM_TTS_API_KEY.
const EnvPrefix = "KALAM_"

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"whisper", "openai"},
	"tts": {"coqui", "openai"},
}

// Load reads the YAML configuration file at path, applies environment
// overrides from the process environment and returns a validated [Config].
// An empty path skips the file and starts from an empty config.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
	}
	cfg, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := ApplyEnv(cfg, nil); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Environment overrides are not applied. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields of cfg from KALAM_* environment variables.
// environ maps variable names to values; nil reads the process environment.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix, Environment: environ}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}
	if cfg.Server.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("server.max_sessions %d must not be negative", cfg.Server.MaxSessions))
	}

	// Providers
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	errs = append(errs, validateFallbacks("stt", cfg.Providers.STT, cfg.Providers.STTFallback)...)
	errs = append(errs, validateFallbacks("tts", cfg.Providers.TTS, cfg.Providers.TTSFallback)...)
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; server-side speech capture is disabled")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("no TTS provider configured; server-side speech synthesis is disabled")
	}

	// Practice
	p := cfg.Practice
	if p.Voice.SpeedFactor != 0 && (p.Voice.SpeedFactor < 0.5 || p.Voice.SpeedFactor > 2.0) {
		errs = append(errs, fmt.Errorf("practice.voice.speed_factor %.2f is out of range [0.5, 2.0]", p.Voice.SpeedFactor))
	}
	if p.CaptureTimeout < 0 {
		errs = append(errs, fmt.Errorf("practice.capture_timeout %s must not be negative", p.CaptureTimeout))
	}
	if err := p.ScoreBands().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("practice.bands: %w", err))
	}

	// Catalog
	if cfg.Catalog.Seed && cfg.Catalog.PostgresDSN == "" {
		errs = append(errs, errors.New("catalog.seed requires catalog.postgres_dsn"))
	}
	if cfg.Catalog.Dir != "" && cfg.Catalog.PostgresDSN != "" {
		slog.Warn("catalog.dir is ignored because catalog.postgres_dsn is set", "dir", cfg.Catalog.Dir)
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

func validateFallbacks(kind string, primary ProviderEntry, fallbacks []ProviderEntry) []error {
	var errs []error
	for i, fb := range fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s_fallback[%d].name is required", kind, i))
			continue
		}
		validateProviderName(kind, fb.Name)
	}
	if len(fallbacks) > 0 && primary.Name == "" {
		errs = append(errs, fmt.Errorf("providers.%s_fallback requires providers.%s to be configured", kind, kind))
	}
	return errs
}
