package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
)

func TestNew(t *testing.T) {
	t.Parallel()
	if _, err := New("", ""); err == nil {
		t.Error("expected error for empty api key")
	}
	if _, err := New("sk-test", "", WithSpeed(9)); err == nil {
		t.Error("expected error for out-of-range speed")
	}
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("model = %s, want %s", p.ModelID(), DefaultModel)
	}
}

func TestSynthesize(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		path string
		body map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "audio/pcm")
		_, _ = w.Write(audio.EncodePCM16([]int16{100, -100, 50}))
	}))
	defer srv.Close()

	p, err := New("sk-test", "", WithBaseURL(srv.URL+"/v1/"), WithVoice("nova"), WithSpeed(1.25))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clip, err := p.Synthesize(context.Background(), tts.Request{Text: "hello"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if path != "/v1/audio/speech" {
		t.Errorf("path = %q, want /v1/audio/speech", path)
	}
	if body["input"] != "hello" || body["voice"] != "nova" || body["response_format"] != "pcm" {
		t.Errorf("body = %v", body)
	}
	if body["speed"] != 1.25 {
		t.Errorf("speed = %v, want 1.25", body["speed"])
	}

	if clip.SampleRate != 24000 || clip.Channels != 1 || clip.Format != tts.FormatWAV {
		t.Errorf("clip = %s %dHz %dch", clip.Format, clip.SampleRate, clip.Channels)
	}
	w, err := audio.DecodeWAV(clip.Data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if len(w.Samples) != 3 || w.Samples[1] != -100 {
		t.Errorf("samples = %v", w.Samples)
	}
}

func TestSynthesize_RequestVoiceOverrides(t *testing.T) {
	t.Parallel()
	var voice any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		voice = body["voice"]
		_, _ = w.Write([]byte{1, 0})
	}))
	defer srv.Close()

	p, _ := New("sk-test", "", WithBaseURL(srv.URL+"/v1/"))
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "x", Voice: "echo"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if voice != "echo" {
		t.Errorf("voice = %v, want echo", voice)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	t.Parallel()

	t.Run("api error", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":{"message":"bad voice"}}`, http.StatusBadRequest)
		}))
		defer srv.Close()
		p, _ := New("sk-test", "", WithBaseURL(srv.URL+"/v1/"))
		if _, err := p.Synthesize(context.Background(), tts.Request{Text: "x"}); !errors.Is(err, tts.ErrSynthesis) {
			t.Errorf("err = %v, want ErrSynthesis", err)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()
		p, _ := New("sk-test", "", WithBaseURL(srv.URL+"/v1/"))
		if _, err := p.Synthesize(context.Background(), tts.Request{Text: "x"}); !errors.Is(err, tts.ErrSynthesis) {
			t.Errorf("err = %v, want ErrSynthesis", err)
		}
	})
}
