// Package app wires the voxloop pipeline into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run captures audio and drives the pipeline, and Shutdown
// tears everything down in order.
//
//	microphone → frames → detector → transcript + synthesis worker
//	          → clip on disk → retention mark → playback queue
//
// For testing, inject doubles via functional options (WithSource,
// WithPlayer, WithDirectory, ...). Hardware back-ends are always supplied by
// the caller, so this package has no cgo dependency.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxloop/internal/config"
	"github.com/MrWong99/voxloop/internal/detector"
	"github.com/MrWong99/voxloop/internal/health"
	"github.com/MrWong99/voxloop/internal/observe"
	"github.com/MrWong99/voxloop/internal/playback"
	"github.com/MrWong99/voxloop/internal/resilience"
	"github.com/MrWong99/voxloop/internal/retention"
	"github.com/MrWong99/voxloop/internal/synth"
	"github.com/MrWong99/voxloop/internal/transcript"
	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/provider/stt"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
)

// UtteranceQueueSize bounds the hand-off between the detector and the
// synthesis worker. When it is full new utterances are dropped so capture
// never blocks.
const UtteranceQueueSize = 16

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("app: already running")

// Providers holds the recognition and synthesis back-ends built by main via
// the config registry.
type Providers struct {
	STT stt.Recognizer
	TTS tts.Synthesizer
}

// FrameSource produces audio frames. *audio.Source implements it.
type FrameSource interface {
	Start(ctx context.Context, cfg audio.StreamConfig) (<-chan audio.Frame, error)
	Stop() error
	Running() bool
}

// App owns all subsystem lifetimes and orchestrates the pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	now       func() time.Time

	// Injected or built in New.
	driver    audio.InputDriver
	directory audio.Directory
	player    audio.Player
	source    FrameSource
	telemetry *observe.Telemetry
	metrics   *observe.Metrics
	logLevel  *slog.LevelVar

	// Subsystems, torn down in Shutdown.
	retention  *retention.Manager
	transcript *transcript.Writer
	dispatcher *synth.Dispatcher
	playback   *playback.Queue
	detector   *detector.Detector
	health     *health.Handler

	utterances chan string

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	loopDone chan struct{}
	runDone  chan struct{}
	admin    *http.Server
	adminLn  net.Listener

	stopOnce    sync.Once
	shutdownErr error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects a frame source instead of building an audio.Source
// on top of the input driver.
func WithSource(s FrameSource) Option {
	return func(a *App) { a.source = s }
}

// WithInputDriver sets the capture back-end. Required unless WithSource is
// given. If it also implements audio.Directory it doubles as the device
// directory.
func WithInputDriver(d audio.InputDriver) Option {
	return func(a *App) { a.driver = d }
}

// WithDirectory sets the device directory used for output device selection.
func WithDirectory(d audio.Directory) Option {
	return func(a *App) { a.directory = d }
}

// WithPlayer sets the playback back-end. Required.
func WithPlayer(p audio.Player) Option {
	return func(a *App) { a.player = p }
}

// WithClock overrides the time source of every time-stamping component.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// WithTelemetry supplies metrics and the /metrics handler, and hands the
// telemetry shutdown to the App.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) { a.telemetry = t }
}

// WithLogLevel lets Reload adjust the level of the process logger.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from main (built via the config registry). The transcript file is opened
// here; failing to open it is fatal.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.TTS == nil {
		return nil, errors.New("app: stt and tts providers are required")
	}
	a := &App{
		cfg:        cfg,
		providers:  providers,
		now:        time.Now,
		utterances: make(chan string, UtteranceQueueSize),
	}
	for _, o := range opts {
		o(a)
	}
	if a.player == nil {
		return nil, errors.New("app: a player is required")
	}
	if a.source == nil && a.driver == nil {
		return nil, errors.New("app: an input driver or frame source is required")
	}
	if a.directory == nil && a.driver != nil {
		a.directory = a.driver
	}
	switch {
	case a.telemetry != nil && a.telemetry.Metrics != nil:
		a.metrics = a.telemetry.Metrics
	default:
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.init(ctx); err != nil {
		_ = a.Shutdown(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) init(_ context.Context) error {
	cfg := a.cfg

	// ── 1. Retention ─────────────────────────────────────────────────────
	a.retention = retention.New(retention.Config{
		Dirs:     cfg.Retention.WatchDirs,
		Period:   cfg.Retention.Period,
		Interval: cfg.Retention.Interval,
	}, retention.WithClock(a.now), retention.WithMetrics(a.metrics))

	// ── 2. Transcript ────────────────────────────────────────────────────
	w, err := transcript.Open(cfg.Transcript.Dir,
		transcript.WithFileName(cfg.Transcript.File),
		transcript.WithPinner(a.retention),
		transcript.WithClock(a.now),
	)
	if err != nil {
		return fmt.Errorf("app: open transcript: %w", err)
	}
	a.transcript = w

	// ── 3. Synthesis ─────────────────────────────────────────────────────
	a.dispatcher, err = synth.New(a.providers.TTS, synth.Config{
		Dir:      cfg.Synthesis.OutputDir,
		Prefix:   cfg.Synthesis.FilePrefix,
		Language: cfg.Synthesis.Language,
		Voice:    cfg.Synthesis.Voice,
	}, synth.WithClock(a.now), synth.WithMetrics(a.metrics), synth.WithProviderName(cfg.Providers.TTS.Name))
	if err != nil {
		return fmt.Errorf("app: init synthesis: %w", err)
	}

	// ── 4. Playback ──────────────────────────────────────────────────────
	a.playback = playback.New(a.player, playback.Config{
		PollInterval: cfg.Playback.PollInterval,
		ErrorBackoff: cfg.Playback.ErrorBackoff,
		StopTimeout:  cfg.Playback.StopTimeout,
		ActiveTTL:    cfg.Synthesis.ActiveTTL,
	},
		playback.WithDirectory(a.directory),
		playback.WithActivityMarker(a.retention),
		playback.WithMetrics(a.metrics),
		playback.WithClock(a.now),
	)

	// ── 5. Detector ──────────────────────────────────────────────────────
	a.detector, err = detector.New(a.providers.STT, detector.Config{
		Threshold:       cfg.Detector.SilenceThreshold,
		SilenceDuration: cfg.Detector.SilenceDuration,
		PartialInterval: cfg.Detector.PartialInterval,
		MaxUtterance:    cfg.Detector.MaxUtterance,
		Language:        cfg.Detector.Language,
	}, detector.WithMetrics(a.metrics))
	if err != nil {
		return fmt.Errorf("app: init detector: %w", err)
	}

	// ── 6. Frame source ──────────────────────────────────────────────────
	if a.source == nil {
		ctx := context.Background()
		a.source = audio.NewSource(a.driver,
			audio.WithQueueCapacity(cfg.Audio.QueueCapacity),
			audio.WithDropHook(func(uint64) { a.metrics.FramesDropped.Add(ctx, 1) }),
			audio.WithFrameHook(func() { a.metrics.FramesCaptured.Add(ctx, 1) }),
		)
	}

	// ── 7. Health ────────────────────────────────────────────────────────
	checkers := []health.Checker{
		health.Running("capture", a.source.Running),
		health.Running("playback", a.playback.Running),
		health.Running("retention", a.retention.Running),
	}
	if g, ok := a.providers.STT.(interface {
		Group() *resilience.FallbackGroup[stt.Recognizer]
	}); ok {
		checkers = append(checkers, breakerCheckers("stt", g.Group())...)
	}
	if g, ok := a.providers.TTS.(interface {
		Group() *resilience.FallbackGroup[tts.Synthesizer]
	}); ok {
		checkers = append(checkers, breakerCheckers("tts", g.Group())...)
	}
	a.health = health.New(checkers...)
	return nil
}

// breakerGroup is the part of a FallbackGroup the readiness probe needs.
type breakerGroup interface {
	Names() []string
	State(name string) (resilience.State, bool)
}

func breakerCheckers(kind string, g breakerGroup) []health.Checker {
	var out []health.Checker
	for _, name := range g.Names() {
		out = append(out, health.Breaker(kind+"/"+name, func() string {
			st, _ := g.State(name)
			return st.String()
		}))
	}
	return out
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the sweep, the playback consumer and capture, then drives the
// detector and the synthesis worker until ctx is cancelled or Shutdown is
// called. Failure to select the output device or to start capture is
// returned immediately; every later failure is logged and contained.
//
// Cancelling ctx stops capture first and lets the detector drain the
// remaining frames before playback and the sweep are stopped.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return ErrAlreadyRunning
	}
	a.started = true
	// Workers are detached from ctx; its cancellation goes through
	// stopPipeline so capture always closes before anything downstream.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.loopDone = make(chan struct{})
	a.runDone = make(chan struct{})
	a.mu.Unlock()
	defer close(a.runDone)
	defer cancel()

	if dev := a.cfg.Audio.OutputDevice; dev != "" {
		if err := a.playback.SetOutputDevice(runCtx, dev); err != nil {
			close(a.loopDone)
			return fmt.Errorf("app: select output device: %w", err)
		}
	}

	frames, err := a.source.Start(runCtx, audio.StreamConfig{
		SampleRate: a.cfg.Audio.SampleRate,
		BlockSize:  a.cfg.Audio.BlockSize,
		Device:     a.cfg.Audio.InputDevice,
	})
	if err != nil {
		close(a.loopDone)
		return fmt.Errorf("app: start capture: %w", err)
	}

	a.retention.Start(runCtx)
	if err := a.playback.Start(runCtx); err != nil {
		slog.Warn("playback consumer already running", "err", err)
	}

	loopDone := a.loopDone
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			a.stopPipeline(loopDone, cancel)
		case <-watchDone:
		}
	}()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer close(loopDone)
		return a.detector.Run(gctx, frames, a.handleEvent)
	})
	g.Go(func() error {
		a.synthWorker(gctx)
		return nil
	})
	if a.cfg.Server.AdminAddr != "" {
		if err := a.startAdmin(gctx, g); err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
	}

	slog.Info("voxloop running",
		"input_device", a.cfg.Audio.InputDevice,
		"output_device", a.cfg.Audio.OutputDevice,
		"admin_addr", a.cfg.Server.AdminAddr,
	)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// stopPipeline is the ordered teardown run when Run's context ends:
// capture, then the detector drain, then playback and the sweep. The
// synthesis worker and admin server go last through cancel.
func (a *App) stopPipeline(loopDone <-chan struct{}, cancel context.CancelFunc) {
	defer cancel()
	timeout := a.stopTimeout()
	slog.Info("context done, stopping capture")
	if err := a.source.Stop(); err != nil {
		slog.Warn("stop capture failed", "err", err)
	}
	if err := wait(context.Background(), loopDone, timeout); err != nil {
		slog.Warn("recognition loop did not drain", "err", err)
	}
	if err := a.playback.Stop(timeout); err != nil {
		slog.Warn("stop playback failed", "err", err)
	}
	if err := a.retention.Stop(timeout); err != nil {
		slog.Warn("stop retention sweep failed", "err", err)
	}
}

// handleEvent runs on the detector goroutine and must not block.
func (a *App) handleEvent(ev detector.Event) {
	log := slog.With("utterance_id", ev.ID)
	if ev.Kind == detector.Partial {
		log.Debug("partial transcript", "text", ev.Text)
		return
	}
	log.Info("final transcript", "text", ev.Text, "duration", ev.Duration())

	if err := a.transcript.Append(ev.Text); err != nil {
		log.Error("transcript write failed", "err", err)
	}
	select {
	case a.utterances <- ev.Text:
	default:
		log.Warn("synthesis queue full, dropping utterance", "capacity", cap(a.utterances))
		a.metrics.RecordUtterance(context.Background(), observe.UtteranceDropped)
	}
}

// synthWorker turns queued text into clips and hands them to playback.
func (a *App) synthWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-a.utterances:
			art, err := a.dispatcher.Synthesize(ctx, text, "")
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("synthesis failed", "err", err)
				}
				continue
			}
			a.retention.MarkActive(art.Path, a.cfg.Synthesis.ActiveTTL)
			a.playback.Enqueue(art.Path)
			slog.Debug("clip queued", "path", art.Path, "queue_len", a.playback.Len())
		}
	}
}

// startAdmin serves /healthz, /readyz and /metrics until gctx is done.
func (a *App) startAdmin(gctx context.Context, g *errgroup.Group) error {
	mux := http.NewServeMux()
	a.health.Register(mux)
	if a.telemetry != nil && a.telemetry.Handler != nil {
		mux.Handle("GET /metrics", a.telemetry.Handler)
	}
	srv := &http.Server{
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	ln, err := net.Listen("tcp", a.cfg.Server.AdminAddr)
	if err != nil {
		return fmt.Errorf("app: admin listen: %w", err)
	}
	a.mu.Lock()
	a.admin, a.adminLn = srv, ln
	a.mu.Unlock()

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	slog.Info("admin server listening", "addr", ln.Addr().String())
	return nil
}

// AdminAddr returns the bound admin address, or "" before Run starts it.
func (a *App) AdminAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.adminLn == nil {
		return ""
	}
	return a.adminLn.Addr().String()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable part of a config change.
func (a *App) Reload(diff config.ConfigDiff) {
	if diff.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(diff.NewLogLevel))
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.ThresholdsChanged {
		if err := a.detector.SetThresholds(diff.NewSilenceThreshold, diff.NewSilenceDuration); err != nil {
			slog.Warn("rejected detector thresholds", "err", err)
		} else {
			slog.Info("detector thresholds changed",
				"threshold", diff.NewSilenceThreshold, "silence", diff.NewSilenceDuration)
		}
	}
	if diff.RetentionPeriodChanged {
		a.retention.SetPeriod(diff.NewRetentionPeriod)
		slog.Info("retention period changed", "period", diff.NewRetentionPeriod)
	}
}

// SlogLevel maps a config level to its slog equivalent.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops capture, waits for the detector loop, stops playback and
// the sweep, closes the transcript and flushes telemetry, in that order.
// Every wait is bounded; timeouts are logged and returned joined. It is
// idempotent and safe after a partial startup.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		slog.Info("shutting down")
		timeout := a.stopTimeout()
		var errs []error

		if a.source != nil {
			if err := a.source.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("app: stop capture: %w", err))
			}
		}

		a.mu.Lock()
		loopDone, runDone, cancel := a.loopDone, a.runDone, a.cancel
		a.mu.Unlock()
		if loopDone != nil {
			if err := wait(ctx, loopDone, timeout); err != nil {
				errs = append(errs, fmt.Errorf("app: recognition loop: %w", err))
			}
		}
		if cancel != nil {
			cancel()
		}
		if runDone != nil {
			if err := wait(ctx, runDone, timeout); err != nil {
				errs = append(errs, fmt.Errorf("app: pipeline workers: %w", err))
			}
		}

		if a.playback != nil {
			if err := a.playback.Stop(timeout); err != nil {
				errs = append(errs, err)
			}
		}
		if a.retention != nil {
			if err := a.retention.Stop(timeout); err != nil {
				errs = append(errs, err)
			}
		}
		if a.transcript != nil {
			if err := a.transcript.Close(); err != nil {
				errs = append(errs, fmt.Errorf("app: close transcript: %w", err))
			}
		}
		if err := a.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: flush telemetry: %w", err))
		}

		for _, err := range errs {
			slog.Warn("shutdown step did not complete cleanly", "err", err)
		}
		a.shutdownErr = errors.Join(errs...)
		slog.Info("shutdown complete")
	})
	return a.shutdownErr
}

func (a *App) stopTimeout() time.Duration {
	if a.cfg != nil && a.cfg.Playback.StopTimeout > 0 {
		return a.cfg.Playback.StopTimeout
	}
	return playback.DefaultStopTimeout
}

// errStepTimeout reports a shutdown step that outlived its bound.
var errStepTimeout = errors.New("did not stop in time")

func wait(ctx context.Context, done <-chan struct{}, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-t.C:
		return errStepTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
