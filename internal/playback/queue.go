// Package playback plays audio files one at a time in FIFO order.
//
// A [Queue] owns a single consumer goroutine. Producers call
// [Queue.Enqueue], which never blocks; the consumer pops the oldest item,
// hands it to an [audio.Player] and polls until the clip finishes. At most
// one item is current at any moment.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/voxloop/internal/observe"
	"github.com/MrWong99/voxloop/pkg/audio"
)

// Defaults applied by [New] to zero config fields.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultErrorBackoff = time.Second
	DefaultStopTimeout  = 2 * time.Second
	DefaultActiveTTL    = time.Minute
)

// Playback outcomes recorded with [observe.Metrics.RecordPlayback].
const (
	statusPlayed  = "played"
	statusError   = "error"
	statusSkipped = "skipped"
	statusHalted  = "halted"

	// statusRequeued marks an item put back untouched; it is not recorded.
	statusRequeued = "requeued"
)

var (
	// ErrStopTimeout is returned by [Queue.Stop] when the consumer did not
	// exit in time.
	ErrStopTimeout = errors.New("playback: consumer did not stop in time")

	// ErrBusy is returned by [Queue.SetOutputDevice] while the consumer runs.
	ErrBusy = errors.New("playback: queue is running")

	// ErrRunning is returned by [Queue.Start] when already started.
	ErrRunning = errors.New("playback: already running")
)

// Item is one queued file.
type Item struct {
	Path     string
	Enqueued time.Time
}

// ActivityMarker protects a file from deletion for ttl.
// retention.Manager implements it.
type ActivityMarker interface {
	MarkActive(path string, ttl time.Duration)
}

// Config tunes the consumer.
type Config struct {
	PollInterval time.Duration
	ErrorBackoff time.Duration
	StopTimeout  time.Duration

	// ActiveTTL is how long an item is re-marked active when it starts.
	ActiveTTL time.Duration
}

// Option configures a [Queue].
type Option func(*Queue)

// WithDirectory sets the device directory used by SetOutputDevice.
func WithDirectory(d audio.Directory) Option {
	return func(q *Queue) { q.dir = d }
}

// WithActivityMarker re-marks each item active as it starts playing.
func WithActivityMarker(m ActivityMarker) Option {
	return func(q *Queue) { q.marker = m }
}

// WithMetrics records queue depth and playback outcomes.
func WithMetrics(m *observe.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithClock overrides the time source for [Item.Enqueued].
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// Queue is safe for concurrent use.
type Queue struct {
	player  audio.Player
	dir     audio.Directory
	marker  ActivityMarker
	metrics *observe.Metrics
	now     func() time.Time
	cfg     Config

	mu      sync.Mutex
	items   []Item
	current *Item
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// New creates a stopped Queue.
func New(player audio.Player, cfg Config, opts ...Option) *Queue {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = DefaultErrorBackoff
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.ActiveTTL <= 0 {
		cfg.ActiveTTL = DefaultActiveTTL
	}
	q := &Queue{
		player: player,
		cfg:    cfg,
		now:    time.Now,
		wake:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue appends path. It never blocks and is allowed while stopped.
func (q *Queue) Enqueue(path string) {
	q.mu.Lock()
	q.items = append(q.items, Item{Path: path, Enqueued: q.now()})
	q.mu.Unlock()
	if q.metrics != nil {
		q.metrics.PlaybackQueueDepth.Add(context.Background(), 1)
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of items waiting, excluding the current one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Current returns the item being played, if any.
func (q *Queue) Current() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return Item{}, false
	}
	return *q.current, true
}

// Running reports whether the consumer goroutine is active.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.done != nil
}

// Start launches the consumer. It returns [ErrRunning] if already started.
// The consumer exits on Stop or when ctx is done.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.done != nil {
		return ErrRunning
	}
	q.stop = make(chan struct{})
	q.done = make(chan struct{})
	go q.run(ctx, q.stop, q.done)
	return nil
}

// Stop signals the consumer, halts in-flight audio and waits up to timeout
// (zero uses the configured StopTimeout). Items still queued stay queued
// for a later Start. Stop is idempotent.
func (q *Queue) Stop(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = q.cfg.StopTimeout
	}
	q.mu.Lock()
	stop, done := q.stop, q.done
	q.stop = nil
	q.mu.Unlock()
	if done == nil {
		return nil
	}
	if stop != nil {
		close(stop)
		if err := q.player.Halt(); err != nil {
			slog.Warn("playback: halt failed", "err", err)
		}
	}

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		slog.Warn("playback: consumer did not stop cleanly", "timeout", timeout)
		return ErrStopTimeout
	}
}

// Drain waits until nothing is queued or playing. It does not start the
// consumer; draining a stopped, non-empty queue waits for ctx.
func (q *Queue) Drain(ctx context.Context) error {
	t := time.NewTicker(q.cfg.PollInterval)
	defer t.Stop()
	for {
		q.mu.Lock()
		idle := len(q.items) == 0 && q.current == nil
		q.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// SetOutputDevice routes playback to the device matching selector (see
// [audio.Resolve]). The queue must be stopped.
func (q *Queue) SetOutputDevice(ctx context.Context, selector string) error {
	if q.Running() {
		return ErrBusy
	}
	if q.dir == nil {
		return fmt.Errorf("playback: no device directory configured: %w", audio.ErrDevice)
	}
	devs, err := q.dir.Devices(ctx)
	if err != nil {
		return fmt.Errorf("playback: enumerate devices: %v: %w", err, audio.ErrDevice)
	}
	dev, err := audio.Resolve(devs, selector, audio.Output)
	if err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	sel, ok := q.player.(audio.OutputSelector)
	if !ok {
		if dev.DefaultOutput {
			return nil
		}
		return fmt.Errorf("playback: player cannot select device %q: %w", dev.Name, audio.ErrDevice)
	}
	if err := sel.SelectOutput(dev); err != nil {
		if errors.Is(err, audio.ErrDevice) {
			return fmt.Errorf("playback: %w", err)
		}
		return fmt.Errorf("playback: select output %q: %v: %w", dev.Name, err, audio.ErrDevice)
	}
	slog.Info("playback: output device selected", "index", dev.Index, "name", dev.Name)
	return nil
}

func (q *Queue) run(ctx context.Context, stop, done chan struct{}) {
	defer func() {
		q.mu.Lock()
		if q.done == done {
			q.done = nil
			q.stop = nil
		}
		q.mu.Unlock()
		close(done)
	}()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}
		item, ok := q.pop()
		if !ok {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}
		status := q.play(ctx, stop, item)
		q.mu.Lock()
		q.current = nil
		q.mu.Unlock()
		if q.metrics != nil && status != statusRequeued {
			q.metrics.RecordPlayback(ctx, status)
		}
		if status == statusHalted || status == statusRequeued {
			return
		}
	}
}

// pop removes the oldest item and makes it current.
func (q *Queue) pop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	item := q.items[0]
	q.items[0] = Item{}
	q.items = q.items[1:]
	q.current = &item
	if q.metrics != nil {
		q.metrics.PlaybackQueueDepth.Add(context.Background(), -1)
	}
	return item, true
}

// pushFront returns an item that was popped but never started.
func (q *Queue) pushFront(item Item) {
	q.mu.Lock()
	q.items = append([]Item{item}, q.items...)
	q.mu.Unlock()
	if q.metrics != nil {
		q.metrics.PlaybackQueueDepth.Add(context.Background(), 1)
	}
}

func (q *Queue) play(ctx context.Context, stop <-chan struct{}, item Item) string {
	log := slog.With("path", item.Path)
	if _, err := os.Stat(item.Path); err != nil {
		log.Warn("playback: skipping missing file", "err", err)
		return statusSkipped
	}
	if q.marker != nil {
		q.marker.MarkActive(item.Path, q.cfg.ActiveTTL)
	}
	select {
	case <-stop:
		q.pushFront(item)
		return statusRequeued
	default:
	}

	if err := q.player.Play(item.Path); err != nil {
		log.Error("playback: play failed", "err", err)
		select {
		case <-stop:
			return statusHalted
		case <-ctx.Done():
			return statusHalted
		case <-time.After(q.cfg.ErrorBackoff):
		}
		return statusError
	}
	log.Debug("playback: started", "waited", q.now().Sub(item.Enqueued))

	t := time.NewTicker(q.cfg.PollInterval)
	defer t.Stop()
	for q.player.Playing() {
		select {
		case <-stop:
		case <-ctx.Done():
		case <-t.C:
			continue
		}
		// Stop may have halted before Play began, so halt again here.
		if err := q.player.Halt(); err != nil {
			log.Warn("playback: halt failed", "err", err)
		}
		return statusHalted
	}
	return statusPlayed
}
