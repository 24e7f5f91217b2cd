// Package transcript keeps the running log of recognised utterances.
//
// Each final utterance becomes one line, "[YYYY-MM-DD HH:MM:SS] text", in an
// append-only file. Every line is synced to disk before Append returns so a
// crash loses at most the utterance being written.
package transcript

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultFileName is the transcript file created inside the transcript
// directory.
const DefaultFileName = "transcripts.txt"

// timestampLayout renders the line prefix in local time.
const timestampLayout = "2006-01-02 15:04:05"

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("transcript: writer closed")

// Pinner keeps a file out of the retention sweep while it is in use.
// retention.Manager implements it.
type Pinner interface {
	Pin(path string)
	Release(path string)
}

// Option configures a [Writer].
type Option func(*Writer)

// WithClock overrides the timestamp source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// WithPinner pins the transcript file for the lifetime of the writer.
func WithPinner(p Pinner) Option {
	return func(w *Writer) { w.pinner = p }
}

// WithFileName overrides [DefaultFileName].
func WithFileName(name string) Option {
	return func(w *Writer) { w.name = name }
}

// Writer appends timestamped lines to the transcript file. It is safe for
// concurrent use.
type Writer struct {
	name   string
	now    func() time.Time
	pinner Pinner

	mu     sync.Mutex
	path   string
	f      *os.File
	closed bool
}

// Open creates dir if needed and opens the transcript file for appending.
func Open(dir string, opts ...Option) (*Writer, error) {
	w := &Writer{name: DefaultFileName, now: time.Now}
	for _, o := range opts {
		o(w)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("transcript: create dir: %w", err)
	}
	path, err := filepath.Abs(filepath.Join(dir, w.name))
	if err != nil {
		return nil, fmt.Errorf("transcript: resolve path: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("transcript: open: %w", err)
	}
	w.path = path
	w.f = f
	if w.pinner != nil {
		w.pinner.Pin(path)
	}
	return w, nil
}

// Path returns the absolute path of the transcript file.
func (w *Writer) Path() string {
	return w.path
}

// Append writes text as one timestamped line and syncs the file. Interior
// newlines are folded to spaces so one utterance is always one line.
func (w *Writer) Append(text string) error {
	text = strings.Join(strings.Fields(text), " ")

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	line := "[" + w.now().Format(timestampLayout) + "] " + text + "\n"
	if _, err := w.f.WriteString(line); err != nil {
		return fmt.Errorf("transcript: write: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("transcript: sync: %w", err)
	}
	return nil
}

// Close closes the file and releases the retention pin. It is idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.pinner != nil {
		w.pinner.Release(w.path)
	}
	return w.f.Close()
}
