package config_test

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxloop/internal/config"
)

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestDiff_Identical(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(t), baseConfig(t))
	if !d.Empty() {
		t.Errorf("diff of identical configs = %+v", d)
	}
}

func TestDiff_ReloadableFields(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(t), baseConfig(t)
	new.Server.LogLevel = config.LogWarn
	new.Detector.SilenceDuration = 3 * time.Second
	new.Retention.Period = 5 * time.Minute

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogWarn {
		t.Errorf("log level diff = %+v", d)
	}
	if !d.ThresholdsChanged || d.NewSilenceDuration != 3*time.Second || d.NewSilenceThreshold != old.Detector.SilenceThreshold {
		t.Errorf("threshold diff = %+v", d)
	}
	if !d.RetentionPeriodChanged || d.NewRetentionPeriod != 5*time.Minute {
		t.Errorf("retention diff = %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(t), baseConfig(t)
	new.Audio.InputDevice = "usb"
	new.Detector.Language = "de"
	new.Retention.WatchDirs = []string{"elsewhere"}
	new.Providers.TTS.Options = map[string]any{"voice": "x"}

	d := config.Diff(old, new)
	want := []string{"audio", "detector", "retention", "providers"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.ThresholdsChanged || d.LogLevelChanged || d.RetentionPeriodChanged {
		t.Errorf("unexpected reloadable change: %+v", d)
	}
}

func TestDiff_ProviderFallbacks(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(t), baseConfig(t)
	new.Providers.STT.Fallbacks = []config.ProviderEntry{{Name: "openai"}}
	if d := config.Diff(old, new); !slices.Contains(d.RestartRequired, "providers") {
		t.Errorf("added fallback not detected: %+v", d)
	}
}
