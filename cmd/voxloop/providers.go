package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/voxloop/internal/app"
	"github.com/MrWong99/voxloop/internal/config"
	"github.com/MrWong99/voxloop/internal/observe"
	"github.com/MrWong99/voxloop/internal/resilience"
	"github.com/MrWong99/voxloop/pkg/provider/stt"
	"github.com/MrWong99/voxloop/pkg/provider/stt/deepgram"
	sttmock "github.com/MrWong99/voxloop/pkg/provider/stt/mock"
	oastt "github.com/MrWong99/voxloop/pkg/provider/stt/openai"
	"github.com/MrWong99/voxloop/pkg/provider/stt/whisper"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
	"github.com/MrWong99/voxloop/pkg/provider/tts/coqui"
	"github.com/MrWong99/voxloop/pkg/provider/tts/elevenlabs"
	ttsmock "github.com/MrWong99/voxloop/pkg/provider/tts/mock"
	oatts "github.com/MrWong99/voxloop/pkg/provider/tts/openai"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation package.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if t, ok := optFloat(entry.Options, "temperature"); ok {
			opts = append(opts, whisper.WithTemperature(t))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n, ok := optFloat(entry.Options, "threads"); ok && n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oastt.WithOrganization(org))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		if prompt := optString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, oastt.WithPrompt(prompt))
		}
		if d, ok := optDuration(entry.Options, "timeout"); ok {
			opts = append(opts, oastt.WithTimeout(d))
		}
		return oastt.New(entry.APIKey, entry.Model, opts...)
	})

	// mock answers every utterance with a fixed text; useful for exercising
	// the output side without a recognizer.
	reg.RegisterSTT("mock", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		text := optString(entry.Options, "text")
		if text == "" {
			text = "testing one two three"
		}
		return &sttmock.Recognizer{Text: text}, nil
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, coqui.WithVoice(voice))
		}
		if rate, ok := optFloat(entry.Options, "sample_rate"); ok {
			opts = append(opts, coqui.WithOutputSampleRate(int(rate)))
		}
		if d, ok := optDuration(entry.Options, "timeout"); ok {
			opts = append(opts, coqui.WithTimeout(d))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, elevenlabs.WithVoice(voice))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL, optString(entry.Options, "api_base_url")))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []oatts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, oatts.WithVoice(voice))
		}
		if speed, ok := optFloat(entry.Options, "speed"); ok {
			opts = append(opts, oatts.WithSpeed(speed))
		}
		if instr := optString(entry.Options, "instructions"); instr != "" {
			opts = append(opts, oatts.WithInstructions(instr))
		}
		if d, ok := optDuration(entry.Options, "timeout"); ok {
			opts = append(opts, oatts.WithTimeout(d))
		}
		return oatts.New(entry.APIKey, entry.Model, opts...)
	})

	// mock renders a short silent clip.
	reg.RegisterTTS("mock", func(config.ProviderEntry) (tts.Synthesizer, error) {
		return &ttsmock.Synthesizer{}, nil
	})

	slog.Debug("registered providers", "stt", reg.STTNames(), "tts", reg.TTSNames())
}

// buildProviders instantiates the configured primary and fallback providers
// and wraps each kind in a circuit-breaking fallback group.
func buildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*app.Providers, error) {
	sttEntry, ttsEntry := cfg.Providers.STT, cfg.Providers.TTS

	primarySTT, err := reg.CreateSTT(sttEntry)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", sttEntry.Name, err)
	}
	sttGroup := resilience.NewSTTFallback(primarySTT, sttEntry.Name, fallbackConfig(m, "stt"))
	slog.Info("provider created", "kind", "stt", "name", sttEntry.Name)
	for _, fb := range sttEntry.Fallbacks {
		p, err := reg.CreateSTT(fb)
		if err != nil {
			if errors.Is(err, config.ErrProviderNotRegistered) {
				slog.Warn("skipping unknown stt fallback", "name", fb.Name)
				continue
			}
			return nil, fmt.Errorf("create stt fallback %q: %w", fb.Name, err)
		}
		sttGroup.AddFallback(fb.Name, p)
		slog.Info("provider created", "kind", "stt", "name", fb.Name, "role", "fallback")
	}

	primaryTTS, err := reg.CreateTTS(ttsEntry)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", ttsEntry.Name, err)
	}
	ttsGroup := resilience.NewTTSFallback(primaryTTS, ttsEntry.Name, fallbackConfig(nil, "tts"))
	slog.Info("provider created", "kind", "tts", "name", ttsEntry.Name)
	for _, fb := range ttsEntry.Fallbacks {
		p, err := reg.CreateTTS(fb)
		if err != nil {
			if errors.Is(err, config.ErrProviderNotRegistered) {
				slog.Warn("skipping unknown tts fallback", "name", fb.Name)
				continue
			}
			return nil, fmt.Errorf("create tts fallback %q: %w", fb.Name, err)
		}
		ttsGroup.AddFallback(fb.Name, p)
		slog.Info("provider created", "kind", "tts", "name", fb.Name, "role", "fallback")
	}

	return &app.Providers{STT: sttGroup, TTS: ttsGroup}, nil
}

// fallbackConfig logs every attempt that reached a back-end and, when m is
// non-nil, counts it per entry. TTS passes nil because the synthesis
// dispatcher already counts its requests.
func fallbackConfig(m *observe.Metrics, kind string) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		OnResult: func(name string, d time.Duration, err error) {
			ctx := context.Background()
			slog.Debug("provider call", "kind", kind, "name", name, "duration", d, "err", err)
			if m == nil {
				return
			}
			status := "ok"
			if err != nil {
				status = "error"
				m.RecordProviderError(ctx, name, kind)
			}
			m.RecordProviderRequest(ctx, name, kind, status)
		},
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optFloat accepts any YAML number.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case int:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

// optDuration accepts a Go duration string such as "30s".
func optDuration(opts map[string]any, key string) (time.Duration, bool) {
	s := optString(opts, key)
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid duration option", "key", key, "value", s, "err", err)
		return 0, false
	}
	return d, true
}
