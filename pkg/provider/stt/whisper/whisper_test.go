package whisper_test

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/provider/stt"
	"github.com/MrWong99/voxloop/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// speech generates a 440 Hz sine at 16 kHz.
func speech(samples int) []int16 {
	out := make([]int16, samples)
	for i := range out {
		out[i] = int16(10_000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return out
}

type captured struct {
	language string
	model    string
	wav      audio.WAV
}

// newMockServer answers POST /inference with body and records the upload.
func newMockServer(t *testing.T, status int, body string, calls *atomic.Int32, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		if got != nil {
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			got.language = r.FormValue("language")
			got.model = r.FormValue("model")
			f, _, err := r.FormFile("file")
			if err == nil {
				data, _ := io.ReadAll(f)
				got.wav, _ = audio.DecodeWAV(data)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// ---- construction -----------------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

// ---- Recognize --------------------------------------------------------------

func TestRecognize_ReturnsTrimmedText(t *testing.T) {
	t.Parallel()
	var got captured
	srv := newMockServer(t, http.StatusOK, `{"text":"  hello world \n"}`, nil, &got)

	p, err := whisper.New(srv.URL+"/", whisper.WithModel("base.en"), whisper.WithLanguage("de"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Recognize(context.Background(), stt.Request{Samples: speech(1600), SampleRate: 16000})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if res.Text != "hello world" {
		t.Errorf("Text = %q, want %q", res.Text, "hello world")
	}
	if got.language != "de" {
		t.Errorf("language field = %q, want provider default %q", got.language, "de")
	}
	if got.model != "base.en" {
		t.Errorf("model field = %q, want base.en", got.model)
	}
	if got.wav.SampleRate != 16000 || got.wav.Channels != 1 || len(got.wav.Samples) != 1600 {
		t.Errorf("uploaded wav = %dHz/%dch/%d samples, want 16000/1/1600",
			got.wav.SampleRate, got.wav.Channels, len(got.wav.Samples))
	}
}

func TestRecognize_RequestLanguageOverridesDefault(t *testing.T) {
	t.Parallel()
	var got captured
	srv := newMockServer(t, http.StatusOK, `{"text":"bonjour"}`, nil, &got)
	p, _ := whisper.New(srv.URL)

	if _, err := p.Recognize(context.Background(), stt.Request{Samples: speech(160), SampleRate: 16000, Language: "fr"}); err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if got.language != "fr" {
		t.Errorf("language field = %q, want fr", got.language)
	}
}

func TestRecognize_EmptyAudioSkipsServer(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := newMockServer(t, http.StatusOK, `{"text":"x"}`, &calls, nil)
	p, _ := whisper.New(srv.URL)

	res, err := p.Recognize(context.Background(), stt.Request{SampleRate: 16000})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if res.Text != "" || calls.Load() != 0 {
		t.Errorf("got text %q with %d calls, want empty with 0 calls", res.Text, calls.Load())
	}
}

func TestRecognize_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: "model not loaded"},
		{name: "malformed json", status: http.StatusOK, body: "{not json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := newMockServer(t, tt.status, tt.body, nil, nil)
			p, _ := whisper.New(srv.URL)
			_, err := p.Recognize(context.Background(), stt.Request{Samples: speech(160), SampleRate: 16000})
			if !errors.Is(err, stt.ErrRecognizer) {
				t.Fatalf("err = %v, want ErrRecognizer", err)
			}
		})
	}
}

func TestRecognize_ContextCancelled(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	p, _ := whisper.New(srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Recognize(ctx, stt.Request{Samples: speech(160), SampleRate: 16000})
	if !errors.Is(err, stt.ErrRecognizer) {
		t.Fatalf("err = %v, want ErrRecognizer", err)
	}
}
