// Package detector segments a stream of audio frames into utterances.
//
// A [Detector] is an energy-gated state machine with three states:
//
//	Idle ──rms ≥ threshold──▶ Speaking ──rms < threshold──▶ TrailingSilence
//	  ▲                          ▲                               │
//	  │                          └────────rms ≥ threshold────────┤
//	  └──────────── silence ≥ SilenceDuration: recognize, emit Final ◀┘
//
// Every frame consumed while Speaking or in TrailingSilence is buffered, so
// short pauses inside a sentence reach the recognizer verbatim. Silence is
// measured in samples, not wall-clock time, which keeps segmentation
// independent of scheduling jitter.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/voxloop/internal/observe"
	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/provider/stt"
)

// State is the detector's position in the utterance state machine.
type State int

const (
	// Idle waits for the first frame at or above the threshold.
	Idle State = iota

	// Speaking means the most recent frame was at or above the threshold.
	Speaking

	// TrailingSilence accumulates silence inside an utterance.
	TrailingSilence
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Speaking:
		return "speaking"
	case TrailingSilence:
		return "trailing_silence"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Kind tags an [Event].
type Kind int

const (
	// Partial is an interim transcript of an utterance still in progress.
	Partial Kind = iota

	// Final is the transcript of a completed utterance.
	Final
)

// String returns the kind name.
func (k Kind) String() string {
	if k == Final {
		return "final"
	}
	return "partial"
}

// Event is emitted for recognised speech.
type Event struct {
	Kind Kind
	Text string

	// ID correlates the partials and the final of one utterance in logs.
	ID string

	// StartSeq and EndSeq are the frame sequence numbers the utterance spans.
	StartSeq uint64
	EndSeq   uint64

	// Samples is the number of buffered samples that were recognised.
	Samples    int
	SampleRate int
}

// Duration is the audio length covered by the event.
func (e Event) Duration() time.Duration {
	return audio.SamplesDuration(e.Samples, e.SampleRate)
}

// Config tunes segmentation.
type Config struct {
	// Threshold is the RMS level, in [0,1] of full scale, separating speech
	// from silence.
	Threshold float64

	// SilenceDuration ends an utterance once this much consecutive silence
	// has been buffered.
	SilenceDuration time.Duration

	// PartialInterval, if positive, requests an interim transcript every
	// time this much more audio has been buffered.
	PartialInterval time.Duration

	// MaxUtterance, if positive, finalises an utterance early once its
	// buffer reaches this length.
	MaxUtterance time.Duration

	// Language is passed to the recognizer.
	Language string
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.Threshold < 0 || c.Threshold > 1 {
		errs = append(errs, fmt.Errorf("detector: threshold %v outside [0,1]", c.Threshold))
	}
	if c.SilenceDuration <= 0 {
		errs = append(errs, fmt.Errorf("detector: silence duration must be positive, got %v", c.SilenceDuration))
	}
	if c.PartialInterval < 0 {
		errs = append(errs, errors.New("detector: partial interval must not be negative"))
	}
	if c.MaxUtterance < 0 {
		errs = append(errs, errors.New("detector: max utterance must not be negative"))
	}
	return errors.Join(errs...)
}

// Option configures a [Detector].
type Option func(*Detector)

// WithMetrics records recognition latency and utterance counts.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Detector) { d.metrics = m }
}

// WithIDFunc overrides utterance ID generation. Default: uuid.NewString.
func WithIDFunc(fn func() string) Option {
	return func(d *Detector) { d.newID = fn }
}

// Detector turns frames into utterance events. Feed and Run must be called
// from a single goroutine; State, Buffered and SetThresholds are safe to call
// from any goroutine.
type Detector struct {
	rec     stt.Recognizer
	metrics *observe.Metrics
	newID   func() string

	mu            sync.Mutex
	cfg           Config
	state         State
	buf           []int16
	rate          int
	silentSamples int
	nextPartial   int
	id            string
	startSeq      uint64
	lastSeq       uint64
}

// New creates a Detector driving rec.
func New(rec stt.Recognizer, cfg Config, opts ...Option) (*Detector, error) {
	if rec == nil {
		return nil, errors.New("detector: recognizer must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Detector{rec: rec, cfg: cfg, newID: uuid.NewString}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// State returns the current state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Buffered returns a copy of the samples accumulated for the utterance in
// progress.
func (d *Detector) Buffered() []int16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int16(nil), d.buf...)
}

// SetThresholds replaces the RMS threshold and silence duration. The new
// values apply from the next frame.
func (d *Detector) SetThresholds(threshold float64, silence time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	next := d.cfg
	next.Threshold = threshold
	next.SilenceDuration = silence
	if err := next.Validate(); err != nil {
		return err
	}
	d.cfg = next
	return nil
}

// Reset discards any utterance in progress and returns to Idle.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
	d.lastSeq = 0
}

func (d *Detector) resetLocked() {
	d.state = Idle
	d.buf = d.buf[:0]
	d.silentSamples = 0
	d.nextPartial = 0
	d.id = ""
	d.startSeq = 0
}

// pending is recognition work decided under the lock and run outside it.
type pending struct {
	kind     Kind
	samples  []int16
	rate     int
	id       string
	startSeq uint64
	endSeq   uint64
	lang     string
}

// Feed advances the state machine by one frame and returns any events it
// produced. The recognizer is called synchronously.
func (d *Detector) Feed(ctx context.Context, f audio.Frame) []Event {
	work := d.step(f)
	var events []Event
	for _, p := range work {
		if ev, ok := d.recognize(ctx, p); ok {
			events = append(events, ev)
		}
	}
	return events
}

func (d *Detector) step(f audio.Frame) []pending {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lastSeq != 0 && f.Seq != 0 && f.Seq <= d.lastSeq {
		slog.Warn("detector: frame sequence went backwards", "seq", f.Seq, "last", d.lastSeq)
	}
	if f.Seq != 0 {
		d.lastSeq = f.Seq
	}

	rate := f.SampleRate
	if rate <= 0 {
		rate = audio.DefaultSampleRate
	}
	loud := audio.RMS(f.Samples) >= d.cfg.Threshold

	switch d.state {
	case Idle:
		if !loud {
			return nil
		}
		d.state = Speaking
		d.buf = append(d.buf[:0], f.Samples...)
		d.rate = rate
		d.silentSamples = 0
		d.id = d.newID()
		d.startSeq = f.Seq
		d.nextPartial = samplesFor(d.cfg.PartialInterval, rate)
		slog.Debug("detector: speech started", "utterance_id", d.id, "seq", f.Seq)

	case Speaking:
		d.buf = append(d.buf, f.Samples...)
		if !loud {
			d.state = TrailingSilence
			d.silentSamples = len(f.Samples)
		}

	case TrailingSilence:
		d.buf = append(d.buf, f.Samples...)
		if loud {
			d.state = Speaking
			d.silentSamples = 0
		} else {
			d.silentSamples += len(f.Samples)
		}
	}

	if d.state == TrailingSilence &&
		audio.SamplesDuration(d.silentSamples, d.rate) >= d.cfg.SilenceDuration {
		return []pending{d.finalizeLocked(f.Seq)}
	}
	if d.cfg.MaxUtterance > 0 && audio.SamplesDuration(len(d.buf), d.rate) >= d.cfg.MaxUtterance {
		slog.Info("detector: utterance reached max length, finalising early",
			"utterance_id", d.id, "max", d.cfg.MaxUtterance)
		return []pending{d.finalizeLocked(f.Seq)}
	}
	if d.state == Speaking && d.nextPartial > 0 && len(d.buf) >= d.nextPartial {
		for d.nextPartial <= len(d.buf) {
			d.nextPartial += samplesFor(d.cfg.PartialInterval, d.rate)
		}
		return []pending{{
			kind:     Partial,
			samples:  append([]int16(nil), d.buf...),
			rate:     d.rate,
			id:       d.id,
			startSeq: d.startSeq,
			endSeq:   f.Seq,
			lang:     d.cfg.Language,
		}}
	}
	return nil
}

// finalizeLocked hands the buffer off for recognition and returns to Idle.
func (d *Detector) finalizeLocked(endSeq uint64) pending {
	p := pending{
		kind:     Final,
		samples:  append([]int16(nil), d.buf...),
		rate:     d.rate,
		id:       d.id,
		startSeq: d.startSeq,
		endSeq:   endSeq,
		lang:     d.cfg.Language,
	}
	d.resetLocked()
	return p
}

func (d *Detector) recognize(ctx context.Context, p pending) (Event, bool) {
	ctx, span := observe.StartSpan(observe.WithUtterance(ctx, p.id), "detector.recognize")
	defer span.End()
	span.SetAttributes(
		observe.UtteranceKindKey.String(p.kind.String()),
		attribute.Int("voxloop.utterance.samples", len(p.samples)),
	)

	start := time.Now()
	res, err := d.rec.Recognize(ctx, stt.Request{Samples: p.samples, SampleRate: p.rate, Language: p.lang})
	if d.metrics != nil {
		d.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	}

	log := observe.Logger(ctx).With("kind", p.kind.String())
	if err != nil {
		if ctx.Err() == nil {
			observe.Fail(span, err, "recognition failed")
		}
		switch {
		case ctx.Err() != nil:
			log.Debug("detector: recognition abandoned", "err", err)
		case p.kind == Partial:
			log.Debug("detector: partial recognition failed", "err", err)
		default:
			log.Warn("detector: recognition failed, dropping utterance", "err", err)
		}
		if p.kind == Final {
			d.record(ctx, observe.UtteranceDropped)
		}
		return Event{}, false
	}

	text := strings.TrimSpace(res.Text)
	if text == "" {
		if p.kind == Final {
			log.Debug("detector: empty transcript, dropping utterance")
			d.record(ctx, observe.UtteranceDropped)
		}
		return Event{}, false
	}

	if p.kind == Final {
		d.record(ctx, observe.UtteranceFinal)
	} else {
		d.record(ctx, observe.UtterancePartial)
	}
	return Event{
		Kind:       p.kind,
		Text:       text,
		ID:         p.id,
		StartSeq:   p.startSeq,
		EndSeq:     p.endSeq,
		Samples:    len(p.samples),
		SampleRate: p.rate,
	}, true
}

func (d *Detector) record(ctx context.Context, kind string) {
	if d.metrics != nil {
		d.metrics.RecordUtterance(ctx, kind)
	}
}

// Run feeds frames until the channel closes or ctx is done, passing every
// event to emit. On either exit any utterance in progress is discarded,
// never finalised, and the detector is left Idle.
func (d *Detector) Run(ctx context.Context, frames <-chan audio.Frame, emit func(Event)) error {
	d.Reset()
	defer d.Reset()
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			for _, ev := range d.Feed(ctx, f) {
				if ctx.Err() != nil {
					return nil
				}
				emit(ev)
			}
		}
	}
}

func samplesFor(d time.Duration, rate int) int {
	if d <= 0 || rate <= 0 {
		return 0
	}
	return int(int64(d) * int64(rate) / int64(time.Second))
}
