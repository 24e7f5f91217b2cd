package config_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/voxloop/internal/config"
	"github.com/MrWong99/voxloop/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxloop/pkg/provider/stt/mock"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxloop/pkg/provider/tts/mock"
)

func TestRegistry_CreateRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	var gotEntry config.ProviderEntry
	reg.RegisterSTT("mock", func(e config.ProviderEntry) (stt.Recognizer, error) {
		gotEntry = e
		return &sttmock.Recognizer{}, nil
	})
	reg.RegisterTTS("mock", func(config.ProviderEntry) (tts.Synthesizer, error) {
		return &ttsmock.Synthesizer{}, nil
	})

	rec, err := reg.CreateSTT(config.ProviderEntry{Name: "mock", Model: "tiny"})
	if err != nil || rec == nil {
		t.Fatalf("CreateSTT = %v, %v", rec, err)
	}
	if gotEntry.Model != "tiny" {
		t.Errorf("factory received %+v", gotEntry)
	}
	if s, err := reg.CreateTTS(config.ProviderEntry{Name: "mock"}); err != nil || s == nil {
		t.Fatalf("CreateTTS = %v, %v", s, err)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT err = %v", err)
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateTTS err = %v", err)
	}
}

func TestRegistry_FactoryErrorPropagates(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("missing api key")
	reg.RegisterTTS("broken", func(config.ProviderEntry) (tts.Synthesizer, error) { return nil, boom })
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "broken"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want factory error", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	for _, n := range []string{"whisper", "deepgram", "openai"} {
		reg.RegisterSTT(n, func(config.ProviderEntry) (stt.Recognizer, error) { return nil, nil })
	}
	if got := reg.STTNames(); !slices.Equal(got, []string{"deepgram", "openai", "whisper"}) {
		t.Errorf("STTNames = %v", got)
	}
	if got := reg.TTSNames(); len(got) != 0 {
		t.Errorf("TTSNames = %v", got)
	}
}
