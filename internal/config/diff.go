package config

import (
	"reflect"
	"slices"
	"time"
)

// ConfigDiff describes what changed between two configs. The Reloadable
// fields can be applied to a running pipeline; any other change is reported
// through RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ThresholdsChanged   bool
	NewSilenceThreshold float64
	NewSilenceDuration  time.Duration

	RetentionPeriodChanged bool
	NewRetentionPeriod     time.Duration

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ThresholdsChanged && !d.RetentionPeriodChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Detector.SilenceThreshold != new.Detector.SilenceThreshold ||
		old.Detector.SilenceDuration != new.Detector.SilenceDuration {
		d.ThresholdsChanged = true
		d.NewSilenceThreshold = new.Detector.SilenceThreshold
		d.NewSilenceDuration = new.Detector.SilenceDuration
	}
	if old.Retention.Period != new.Retention.Period {
		d.RetentionPeriodChanged = true
		d.NewRetentionPeriod = new.Retention.Period
	}

	// Compare the remaining fields with the reloadable ones masked out.
	o, n := *old, *new
	o.Server.LogLevel, n.Server.LogLevel = "", ""
	o.Detector.SilenceThreshold, n.Detector.SilenceThreshold = 0, 0
	o.Detector.SilenceDuration, n.Detector.SilenceDuration = 0, 0
	o.Retention.Period, n.Retention.Period = 0, 0

	if o.Server != n.Server {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if o.Audio != n.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if o.Detector != n.Detector {
		d.RestartRequired = append(d.RestartRequired, "detector")
	}
	if o.Synthesis != n.Synthesis {
		d.RestartRequired = append(d.RestartRequired, "synthesis")
	}
	if o.Retention.Interval != n.Retention.Interval || !slices.Equal(o.Retention.WatchDirs, n.Retention.WatchDirs) {
		d.RestartRequired = append(d.RestartRequired, "retention")
	}
	if o.Transcript != n.Transcript {
		d.RestartRequired = append(d.RestartRequired, "transcript")
	}
	if o.Playback != n.Playback {
		d.RestartRequired = append(d.RestartRequired, "playback")
	}
	if !providerEqual(o.Providers.STT, n.Providers.STT) || !providerEqual(o.Providers.TTS, n.Providers.TTS) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	return d
}

func providerEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if !reflect.DeepEqual(a.Options, b.Options) || len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for i := range a.Fallbacks {
		if !providerEqual(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return true
}
