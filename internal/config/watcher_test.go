package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxloop/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
detector:
  silence_threshold: 0.02
providers:
  stt:
    name: whisper
  tts:
    name: coqui
`

const watcherUpdatedYAML = `
server:
  log_level: debug
detector:
  silence_threshold: 0.05
  silence_duration: 2s
providers:
  stt:
    name: whisper
  tts:
    name: coqui
`

const watcherRestartYAML = `
server:
  log_level: info
audio:
  sample_rate: 48000
detector:
  silence_threshold: 0.02
providers:
  stt:
    name: whisper
  tts:
    name: coqui
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

type recordedChange struct {
	old, new *config.Config
	diff     config.ConfigDiff
}

func watch(t *testing.T, path string) (*config.Watcher, <-chan recordedChange) {
	t.Helper()
	ch := make(chan recordedChange, 4)
	w, err := config.NewWatcher(path, func(old, new *config.Config, diff config.ConfigDiff) {
		ch <- recordedChange{old, new, diff}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, ch
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, _ := watch(t, cfgPath)
	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.Detector.SilenceThreshold != 0.02 {
		t.Errorf("initial config = %+v", cfg)
	}
}

func TestWatcher_ReportsReloadableChanges(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)
	w, changes := watch(t, cfgPath)

	time.Sleep(50 * time.Millisecond)
	writeFile(t, cfgPath, watcherUpdatedYAML)

	var c recordedChange
	select {
	case c = <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	if c.old.Server.LogLevel != config.LogInfo || c.new.Server.LogLevel != config.LogDebug {
		t.Errorf("log levels old=%q new=%q", c.old.Server.LogLevel, c.new.Server.LogLevel)
	}
	if !c.diff.LogLevelChanged || !c.diff.ThresholdsChanged {
		t.Errorf("diff = %+v", c.diff)
	}
	if c.diff.NewSilenceThreshold != 0.05 || c.diff.NewSilenceDuration != 2*time.Second {
		t.Errorf("new thresholds = %v, %v", c.diff.NewSilenceThreshold, c.diff.NewSilenceDuration)
	}
	if len(c.diff.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", c.diff.RestartRequired)
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Error("Current() not updated")
	}
}

func TestWatcher_ReportsRestartRequired(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)
	_, changes := watch(t, cfgPath)

	time.Sleep(50 * time.Millisecond)
	writeFile(t, cfgPath, watcherRestartYAML)

	select {
	case c := <-changes:
		if len(c.diff.RestartRequired) != 1 || c.diff.RestartRequired[0] != "audio" {
			t.Errorf("RestartRequired = %v, want [audio]", c.diff.RestartRequired)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)
	w, changes := watch(t, cfgPath)

	time.Sleep(50 * time.Millisecond)
	writeFile(t, cfgPath, watcherInvalidYAML)
	time.Sleep(200 * time.Millisecond)

	select {
	case c := <-changes:
		t.Errorf("callback fired for invalid config: %+v", c.diff)
	default:
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogInfo {
		t.Errorf("Current() should still have old config, got log_level=%q", cur.Server.LogLevel)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)
	_, changes := watch(t, cfgPath)

	time.Sleep(50 * time.Millisecond)
	now := time.Now().Add(time.Second)
	if err := os.Chtimes(cfgPath, now, now); err != nil {
		t.Fatalf("failed to touch file: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	select {
	case <-changes:
		t.Error("callback should not fire for touch-only")
	default:
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Stop()
		}()
	}
	wg.Wait()
}
