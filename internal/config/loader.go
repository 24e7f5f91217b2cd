package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"whisper", "whisper-native", "deepgram", "openai", "mock"},
	"tts": {"coqui", "elevenlabs", "openai", "mock"},
}

// envRef matches a whole-value ${VAR} reference.
var envRef = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
//
// Before parsing, a .env file next to the config file and one in the working
// directory are loaded into the process environment when present. Variables
// already set are never overridden.
func Load(path string) (*Config, error) {
	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"))
	loadDotEnv(".env")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		slog.Warn("config: cannot load env file", "path", path, "err", err)
		return
	}
	slog.Debug("config: loaded env file", "path", path)
}

// LoadFromReader decodes a YAML config from r, expands environment
// references, applies defaults and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandProviderEnv(&cfg.Providers.STT)
	expandProviderEnv(&cfg.Providers.TTS)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandProviderEnv resolves ${VAR} api keys and base URLs, recursively
// through fallbacks. An unset variable expands to the empty string.
func expandProviderEnv(e *ProviderEntry) {
	e.APIKey = expandRef(e.APIKey)
	e.BaseURL = expandRef(e.BaseURL)
	for i := range e.Fallbacks {
		expandProviderEnv(&e.Fallbacks[i])
	}
}

func expandRef(v string) string {
	m := envRef.FindStringSubmatch(v)
	if m == nil {
		return v
	}
	val, ok := os.LookupEnv(m[1])
	if !ok {
		slog.Warn("config: referenced environment variable is not set", "var", m[1])
	}
	return val
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", cfg.Audio.SampleRate))
	}
	if cfg.Audio.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.block_size must be positive, got %d", cfg.Audio.BlockSize))
	}
	if cfg.Audio.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("audio.queue_capacity must not be negative, got %d", cfg.Audio.QueueCapacity))
	}
	if cfg.Audio.OutputBackend != "" && !cfg.Audio.OutputBackend.IsValid() {
		errs = append(errs, fmt.Errorf("audio.output_backend %q is invalid; valid values: miniaudio, speaker", cfg.Audio.OutputBackend))
	}
	if cfg.Audio.OutputBackend == BackendSpeaker && cfg.Audio.OutputDevice != "" {
		errs = append(errs, fmt.Errorf("audio.output_device %q cannot be used with the speaker back-end, which plays on the system default only", cfg.Audio.OutputDevice))
	}

	// Detector
	if cfg.Detector.SilenceThreshold < 0 || cfg.Detector.SilenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("detector.silence_threshold %.4f is out of range [0, 1]", cfg.Detector.SilenceThreshold))
	}
	if cfg.Detector.SilenceDuration <= 0 {
		errs = append(errs, fmt.Errorf("detector.silence_duration must be positive, got %v", cfg.Detector.SilenceDuration))
	}
	if cfg.Detector.PartialInterval < 0 {
		errs = append(errs, fmt.Errorf("detector.partial_interval must not be negative, got %v", cfg.Detector.PartialInterval))
	}
	if cfg.Detector.MaxUtterance < 0 {
		errs = append(errs, fmt.Errorf("detector.max_utterance must not be negative, got %v", cfg.Detector.MaxUtterance))
	}

	// Synthesis
	if cfg.Synthesis.ActiveTTL < 0 {
		errs = append(errs, fmt.Errorf("synthesis.active_ttl must not be negative, got %v", cfg.Synthesis.ActiveTTL))
	}

	// Retention
	if cfg.Retention.Period <= 0 {
		errs = append(errs, fmt.Errorf("retention.period must be positive, got %v", cfg.Retention.Period))
	}
	if cfg.Retention.Interval <= 0 {
		errs = append(errs, fmt.Errorf("retention.interval must be positive, got %v", cfg.Retention.Interval))
	}
	if cfg.Synthesis.ActiveTTL > 0 && cfg.Retention.Period > 0 && cfg.Synthesis.ActiveTTL > cfg.Retention.Period*10 {
		slog.Warn("synthesis.active_ttl is much longer than retention.period; clips will outlive the retention window",
			"active_ttl", cfg.Synthesis.ActiveTTL, "period", cfg.Retention.Period)
	}

	// Playback
	if cfg.Playback.PollInterval < 0 || cfg.Playback.ErrorBackoff < 0 || cfg.Playback.StopTimeout < 0 {
		errs = append(errs, errors.New("playback durations must not be negative"))
	}

	// Providers
	errs = append(errs, validateProvider("stt", "providers.stt", cfg.Providers.STT)...)
	errs = append(errs, validateProvider("tts", "providers.tts", cfg.Providers.TTS)...)

	return errors.Join(errs...)
}

func validateProvider(kind, prefix string, e ProviderEntry) []error {
	var errs []error
	if e.Name == "" {
		errs = append(errs, fmt.Errorf("%s.name is required", prefix))
	}
	validateProviderName(kind, e.Name)
	for i, fb := range e.Fallbacks {
		fp := fmt.Sprintf("%s.fallbacks[%d]", prefix, i)
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("%s.fallbacks must not be nested", fp))
		}
		errs = append(errs, validateProvider(kind, fp, fb)...)
	}
	return errs
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
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
