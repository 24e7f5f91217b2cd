// Package config provides the configuration schema, loader, provider
// registry and hot-reload watcher for voxloop.
package config

import "time"

// LogLevel controls log verbosity.
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

// OutputBackend selects the playback implementation.
type OutputBackend string

const (
	// BackendMiniaudio plays through miniaudio and supports device selection.
	BackendMiniaudio OutputBackend = "miniaudio"

	// BackendSpeaker plays through oto on the system default output only.
	BackendSpeaker OutputBackend = "speaker"
)

// IsValid reports whether b is a recognised output back-end.
func (b OutputBackend) IsValid() bool {
	return b == BackendMiniaudio || b == BackendSpeaker
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Audio      AudioConfig      `yaml:"audio"`
	Detector   DetectorConfig   `yaml:"detector"`
	Synthesis  SynthesisConfig  `yaml:"synthesis"`
	Retention  RetentionConfig  `yaml:"retention"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Playback   PlaybackConfig   `yaml:"playback"`
	Providers  ProvidersConfig  `yaml:"providers"`
}

// ServerConfig holds logging and admin endpoint settings.
type ServerConfig struct {
	// LogLevel controls verbosity. Reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// AdminAddr is the listen address for /healthz, /readyz and /metrics.
	// Empty disables the admin server.
	AdminAddr string `yaml:"admin_addr"`
}

// AudioConfig configures capture and playback devices.
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	BlockSize  int `yaml:"block_size"`

	// InputDevice and OutputDevice are selectors: empty for the default
	// device, an index, or a case-insensitive name substring.
	InputDevice  string `yaml:"input_device"`
	OutputDevice string `yaml:"output_device"`

	OutputBackend OutputBackend `yaml:"output_backend"`

	// QueueCapacity bounds the frame channel between capture and detector.
	QueueCapacity int `yaml:"queue_capacity"`
}

// DetectorConfig tunes utterance segmentation.
type DetectorConfig struct {
	// SilenceThreshold is the RMS level in [0,1]. Reloadable.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// SilenceDuration ends an utterance. Reloadable.
	SilenceDuration time.Duration `yaml:"silence_duration"`

	// PartialInterval enables interim transcripts when positive.
	PartialInterval time.Duration `yaml:"partial_interval"`

	// MaxUtterance forces a final transcript for very long speech.
	MaxUtterance time.Duration `yaml:"max_utterance"`

	Language string `yaml:"language"`
}

// SynthesisConfig controls where synthesised clips are written.
type SynthesisConfig struct {
	Language   string `yaml:"language"`
	Voice      string `yaml:"voice"`
	OutputDir  string `yaml:"output_dir"`
	FilePrefix string `yaml:"file_prefix"`

	// ActiveTTL protects a fresh clip from the retention sweep.
	ActiveTTL time.Duration `yaml:"active_ttl"`
}

// RetentionConfig bounds the lifetime of generated files.
type RetentionConfig struct {
	// Period is the minimum age of a deletable file. Reloadable.
	Period time.Duration `yaml:"period"`

	Interval  time.Duration `yaml:"interval"`
	WatchDirs []string      `yaml:"watch_dirs"`
}

// TranscriptConfig locates the append-only transcript file.
type TranscriptConfig struct {
	Dir  string `yaml:"dir"`
	File string `yaml:"file"`
}

// PlaybackConfig tunes the playback consumer.
type PlaybackConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	ErrorBackoff time.Duration `yaml:"error_backoff"`
	StopTimeout  time.Duration `yaml:"stop_timeout"`
}

// ProvidersConfig declares the recognition and synthesis back-ends. Each
// entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "whisper", "coqui").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider's API, if any. A value of
	// the form ${VAR} is expanded from the environment by [Load].
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "whisper-1", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the standard
	// fields above.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this provider fails or its circuit
	// breaker is open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// Defaults for zero-valued fields, applied by [ApplyDefaults].
const (
	DefaultSampleRate       = 16000
	DefaultBlockSize        = 1024
	DefaultQueueCapacity    = 256
	DefaultSilenceThreshold = 0.01
	DefaultSilenceDuration  = 1500 * time.Millisecond
	DefaultMaxUtterance     = 30 * time.Second
	DefaultLanguage         = "en"
	DefaultOutputDir        = "audio_clips"
	DefaultFilePrefix       = "transcript"
	DefaultActiveTTL        = time.Minute
	DefaultRetentionPeriod  = time.Minute
	DefaultSweepInterval    = time.Hour
	DefaultTranscriptDir    = "transcripts"
	DefaultTranscriptFile   = "transcripts.txt"
	DefaultPollInterval     = 100 * time.Millisecond
	DefaultErrorBackoff     = time.Second
	DefaultStopTimeout      = 2 * time.Second
)

// ApplyDefaults fills every zero-valued field that has a default. Explicit
// values are never overwritten.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	a := &cfg.Audio
	if a.SampleRate == 0 {
		a.SampleRate = DefaultSampleRate
	}
	if a.BlockSize == 0 {
		a.BlockSize = DefaultBlockSize
	}
	if a.OutputBackend == "" {
		a.OutputBackend = BackendMiniaudio
	}
	if a.QueueCapacity == 0 {
		a.QueueCapacity = DefaultQueueCapacity
	}

	d := &cfg.Detector
	if d.SilenceThreshold == 0 {
		d.SilenceThreshold = DefaultSilenceThreshold
	}
	if d.SilenceDuration == 0 {
		d.SilenceDuration = DefaultSilenceDuration
	}
	if d.MaxUtterance == 0 {
		d.MaxUtterance = DefaultMaxUtterance
	}
	if d.Language == "" {
		d.Language = DefaultLanguage
	}

	s := &cfg.Synthesis
	if s.Language == "" {
		s.Language = d.Language
	}
	if s.OutputDir == "" {
		s.OutputDir = DefaultOutputDir
	}
	if s.FilePrefix == "" {
		s.FilePrefix = DefaultFilePrefix
	}
	if s.ActiveTTL == 0 {
		s.ActiveTTL = DefaultActiveTTL
	}

	t := &cfg.Transcript
	if t.Dir == "" {
		t.Dir = DefaultTranscriptDir
	}
	if t.File == "" {
		t.File = DefaultTranscriptFile
	}

	r := &cfg.Retention
	if r.Period == 0 {
		r.Period = DefaultRetentionPeriod
	}
	if r.Interval == 0 {
		r.Interval = DefaultSweepInterval
	}
	if len(r.WatchDirs) == 0 {
		r.WatchDirs = []string{s.OutputDir, t.Dir}
	}

	p := &cfg.Playback
	if p.PollInterval == 0 {
		p.PollInterval = DefaultPollInterval
	}
	if p.ErrorBackoff == 0 {
		p.ErrorBackoff = DefaultErrorBackoff
	}
	if p.StopTimeout == 0 {
		p.StopTimeout = DefaultStopTimeout
	}
}
