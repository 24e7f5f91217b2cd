// Package retention bounds the lifetime of generated files.
//
// A [Manager] periodically sweeps the watched directories and deletes every
// regular file older than the retention period, except files that are
// currently active. A file is active while it has an unexpired record made
// with [Manager.MarkActive], or while it is pinned with [Manager.Pin]. Both
// conditions are evaluated afresh for every file on every sweep.
package retention

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/voxloop/internal/observe"
)

// Defaults applied by [New] to zero config fields.
const (
	DefaultPeriod      = time.Minute
	DefaultInterval    = time.Hour
	DefaultStopTimeout = 2 * time.Second
)

// ErrStopTimeout is returned by [Manager.Stop] when the sweep loop did not
// exit within the timeout.
var ErrStopTimeout = errors.New("retention: sweep loop did not stop in time")

// Config describes what to sweep and how often.
type Config struct {
	// Dirs are the watched directories. Missing ones are created.
	Dirs []string

	// Period is the minimum age of a deletable file.
	Period time.Duration

	// Interval is the time between background sweeps.
	Interval time.Duration
}

// SweepResult summarises one sweep.
type SweepResult struct {
	Scanned  int
	Deleted  []string
	Retained int // active files that were old enough to delete
	Errors   int
}

// Option configures a [Manager].
type Option func(*Manager)

// WithClock overrides the time source for expiry and age checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMetrics records sweep outcomes.
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// Manager tracks active files and runs the retention sweep. It is safe for
// concurrent use.
type Manager struct {
	now      func() time.Time
	metrics  *observe.Metrics
	interval time.Duration
	dirs     []string

	mu     sync.Mutex
	period time.Duration
	active map[string]time.Time
	pinned map[string]struct{}

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Manager. It does not start the background loop.
func New(cfg Config, opts ...Option) *Manager {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	m := &Manager{
		now:      time.Now,
		interval: cfg.Interval,
		dirs:     append([]string(nil), cfg.Dirs...),
		period:   cfg.Period,
		active:   make(map[string]time.Time),
		pinned:   make(map[string]struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// MarkActive protects path from the sweep for ttl. Marking an already
// active path keeps whichever expiry is later, so a short re-mark never
// shortens an earlier, longer protection.
func (m *Manager) MarkActive(path string, ttl time.Duration) {
	key := absPath(path)
	expiry := m.now().Add(ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.active[key]; ok && cur.After(expiry) {
		return
	}
	m.active[key] = expiry
}

// IsActive reports whether path is pinned or has an unexpired record.
// Expired records are evicted.
func (m *Manager) IsActive(path string) bool {
	key := absPath(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isActiveLocked(key, m.now())
}

func (m *Manager) isActiveLocked(key string, now time.Time) bool {
	if _, ok := m.pinned[key]; ok {
		return true
	}
	expiry, ok := m.active[key]
	if !ok {
		return false
	}
	if now.After(expiry) {
		delete(m.active, key)
		return false
	}
	return true
}

// Pin protects path until Release. Used for long-lived files such as the
// open transcript log.
func (m *Manager) Pin(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinned[absPath(path)] = struct{}{}
}

// Release removes a pin. Any MarkActive record is unaffected.
func (m *Manager) Release(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pinned, absPath(path))
}

// ActiveCount returns the number of unexpired records plus pins.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked(m.now())
	return len(m.active) + len(m.pinned)
}

func (m *Manager) pruneLocked(now time.Time) {
	for k, exp := range m.active {
		if now.After(exp) {
			delete(m.active, k)
		}
	}
}

// SetPeriod changes the retention period used by subsequent background
// sweeps.
func (m *Manager) SetPeriod(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.period = d
	m.mu.Unlock()
}

// Period returns the current retention period.
func (m *Manager) Period() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.period
}

// Sweep deletes every regular file in dirs that is not active and whose
// modification time is more than period ago. Subdirectories are not
// descended into. Failures are logged and counted; the sweep always visits
// every file.
func (m *Manager) Sweep(ctx context.Context, dirs []string, period time.Duration) SweepResult {
	ctx, span := observe.StartSpan(ctx, "retention.sweep")
	defer span.End()

	var res SweepResult
	now := m.now()

	m.mu.Lock()
	m.pruneLocked(now)
	m.mu.Unlock()

	for _, dir := range dirs {
		if ctx.Err() != nil {
			break
		}
		m.sweepDir(ctx, dir, period, now, &res)
	}

	span.SetAttributes(
		attribute.Int("retention.scanned", res.Scanned),
		attribute.Int("retention.deleted", len(res.Deleted)),
		attribute.Int("retention.errors", res.Errors),
	)
	if m.metrics != nil {
		m.metrics.RetentionDeleted.Add(ctx, int64(len(res.Deleted)))
		if res.Errors > 0 {
			m.metrics.RetentionErrors.Add(ctx, int64(res.Errors))
		}
	}
	if len(res.Deleted) > 0 || res.Errors > 0 {
		slog.Info("retention sweep finished",
			"scanned", res.Scanned, "deleted", len(res.Deleted),
			"retained_active", res.Retained, "errors", res.Errors)
	}
	return res
}

func (m *Manager) sweepDir(ctx context.Context, dir string, period time.Duration, now time.Time, res *SweepResult) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("retention: cannot create directory", "dir", dir, "err", err)
		res.Errors++
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Warn("retention: cannot list directory", "dir", dir, "err", err)
		res.Errors++
		return
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		if !e.Type().IsRegular() {
			continue
		}
		res.Scanned++
		path := absPath(filepath.Join(dir, e.Name()))

		info, err := e.Info()
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				slog.Warn("retention: cannot stat file", "path", path, "err", err)
				res.Errors++
			}
			continue
		}
		if now.Sub(info.ModTime()) <= period {
			continue
		}

		m.mu.Lock()
		active := m.isActiveLocked(path, now)
		m.mu.Unlock()
		if active {
			res.Retained++
			continue
		}

		if err := os.Remove(path); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				slog.Warn("retention: cannot delete file", "path", path, "err", err)
				res.Errors++
			}
			continue
		}
		slog.Debug("retention: deleted expired file", "path", path, "age", now.Sub(info.ModTime()))
		res.Deleted = append(res.Deleted, path)
	}
}

// Run sweeps the configured directories immediately and then every
// interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	m.Sweep(ctx, m.dirs, m.Period())

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep(ctx, m.dirs, m.Period())
		}
	}
}

// Start runs [Manager.Run] in a background goroutine. Calling Start while
// running is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	go func() {
		// done stays set until the loop has exited, so a Start after a
		// timed-out Stop cannot run a second loop beside this one.
		defer func() {
			m.runMu.Lock()
			if m.done == done {
				m.cancel, m.done = nil, nil
			}
			m.runMu.Unlock()
			close(done)
		}()
		_ = m.Run(ctx)
	}()
}

// Running reports whether the background loop is active.
func (m *Manager) Running() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.done != nil
}

// Stop cancels the background loop and waits up to timeout for it to exit.
// It is idempotent and safe before Start.
func (m *Manager) Stop(timeout time.Duration) error {
	m.runMu.Lock()
	cancel, done := m.cancel, m.done
	m.runMu.Unlock()
	if done == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		slog.Warn("retention: sweep loop did not stop cleanly", "timeout", timeout)
		return ErrStopTimeout
	}
}
