// Package synth turns finalised utterance text into audio files on disk.
//
// A [Dispatcher] calls a [tts.Synthesizer] and writes the clip to
// <dir>/<prefix>_<YYYYMMDD_HHMMSS>_<seq>.<ext>. Files are written under a
// temporary name and renamed into place, so a concurrent directory scan
// never observes a partially written clip.
package synth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/voxloop/internal/observe"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
)

// Defaults applied by [New].
const (
	DefaultPrefix = "transcript"
	DefaultDir    = "audio_clips"

	timestampLayout = "20060102_150405"
	tmpSuffix       = ".tmp"
)

// ErrEmptyText is returned for blank input; the back-end is not called.
var ErrEmptyText = errors.New("synth: text is empty")

// Kind classifies an [Artifact].
type Kind int

const (
	// SynthesizedAudio is a clip produced by the TTS back-end.
	SynthesizedAudio Kind = iota

	// TranscriptLog is the append-only transcript file.
	TranscriptLog
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case SynthesizedAudio:
		return "synthesized_audio"
	case TranscriptLog:
		return "transcript_log"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Artifact is a file produced by the pipeline.
type Artifact struct {
	Path    string // absolute
	Created time.Time
	Kind    Kind
}

// Config controls where and how clips are written.
type Config struct {
	Dir    string
	Prefix string

	// Language is used when Synthesize is called without one.
	Language string

	// Voice is passed to the back-end on every request.
	Voice string
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithClock overrides the time source used for file names.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithMetrics records synthesis latency and provider outcomes.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithProviderName labels provider metrics. Default: "tts".
func WithProviderName(name string) Option {
	return func(d *Dispatcher) { d.provider = name }
}

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	tts      tts.Synthesizer
	dir      string
	prefix   string
	language string
	voice    string
	now      func() time.Time
	metrics  *observe.Metrics
	provider string

	mu  sync.Mutex
	seq int
}

// New creates a Dispatcher. The output directory is resolved to an absolute
// path but not created until the first clip is written.
func New(s tts.Synthesizer, cfg Config, opts ...Option) (*Dispatcher, error) {
	if s == nil {
		return nil, errors.New("synth: synthesizer must not be nil")
	}
	if cfg.Dir == "" {
		cfg.Dir = DefaultDir
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if strings.ContainsAny(cfg.Prefix, `/\`) {
		return nil, fmt.Errorf("synth: prefix %q must not contain path separators", cfg.Prefix)
	}
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("synth: resolve output dir: %w", err)
	}
	d := &Dispatcher{
		tts:      s,
		dir:      dir,
		prefix:   cfg.Prefix,
		language: cfg.Language,
		voice:    cfg.Voice,
		now:      time.Now,
		provider: "tts",
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Dir returns the absolute output directory.
func (d *Dispatcher) Dir() string { return d.dir }

// Synthesize renders text and writes it to a new file. An empty language
// uses the configured default.
func (d *Dispatcher) Synthesize(ctx context.Context, text, language string) (Artifact, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Artifact{}, ErrEmptyText
	}
	if language == "" {
		language = d.language
	}

	ctx, span := observe.StartSpan(ctx, "synth.synthesize")
	defer span.End()
	span.SetAttributes(
		observe.ProviderKey.String(d.provider),
		attribute.Int("tts.text_length", len(text)),
	)

	start := time.Now()
	clip, err := d.tts.Synthesize(ctx, tts.Request{Text: text, Language: language, Voice: d.voice})
	if d.metrics != nil {
		d.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err == nil && len(clip.Data) == 0 {
		err = fmt.Errorf("%w: synth: back-end returned no audio", tts.ErrSynthesis)
	}
	if err != nil {
		if !errors.Is(err, tts.ErrSynthesis) {
			err = fmt.Errorf("%w: synth: %w", tts.ErrSynthesis, err)
		}
		observe.Fail(span, err, "synthesis failed")
		if d.metrics != nil {
			d.metrics.RecordProviderRequest(ctx, d.provider, "tts", "error")
			d.metrics.RecordProviderError(ctx, d.provider, "tts")
		}
		return Artifact{}, err
	}
	if d.metrics != nil {
		d.metrics.RecordProviderRequest(ctx, d.provider, "tts", "ok")
	}

	art, err := d.write(clip)
	if err != nil {
		observe.Fail(span, err, "write failed")
		return Artifact{}, err
	}
	span.SetAttributes(observe.ClipPathKey.String(art.Path))
	observe.Logger(ctx).Debug("synth: clip written", "path", art.Path, "bytes", len(clip.Data))
	return art, nil
}

// write places data at the next free name. The sequence number counts
// clips written by this Dispatcher and skips names already on disk, which
// happens after a restart within the same second.
func (d *Dispatcher) write(clip tts.Audio) (Artifact, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("synth: create output dir: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	created := d.now()
	stamp := created.Format(timestampLayout)
	ext := clip.Format.Extension()
	var path string
	for {
		d.seq++
		path = filepath.Join(d.dir, fmt.Sprintf("%s_%s_%04d.%s", d.prefix, stamp, d.seq, ext))
		if _, err := os.Lstat(path); errors.Is(err, os.ErrNotExist) {
			break
		}
	}

	tmp := path + tmpSuffix
	if err := os.WriteFile(tmp, clip.Data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return Artifact{}, fmt.Errorf("synth: write clip: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return Artifact{}, fmt.Errorf("synth: publish clip: %w", err)
	}
	return Artifact{Path: path, Created: created, Kind: SynthesizedAudio}, nil
}
