package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxloop/pkg/provider/stt"
)

func assertEqual(t *testing.T, field, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: want %q, got %q", field, want, got)
	}
}

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	t.Parallel()
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rawURL, err := p.buildURL("", 16000)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()
	assertEqual(t, "host", "api.deepgram.com", u.Host)
	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURL_RequestLanguageWins(t *testing.T) {
	t.Parallel()
	p, _ := New("key", WithLanguage("en"), WithModel("base"))
	rawURL, _ := p.buildURL("de-DE", 48000)
	u, _ := url.Parse(rawURL)
	q := u.Query()
	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
}

func TestNew_EmptyKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

// ---- response parsing ----

func TestParseResponse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		in        string
		wantText  string
		wantFinal bool
		wantOK    bool
	}{
		{
			name:      "final result",
			in:        `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":" hello ","confidence":0.9}]}}`,
			wantText:  "hello",
			wantFinal: true,
			wantOK:    true,
		},
		{
			name:     "interim result",
			in:       `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hel"}]}}`,
			wantText: "hel",
			wantOK:   true,
		},
		{name: "metadata ignored", in: `{"type":"Metadata"}`},
		{name: "no alternatives", in: `{"type":"Results","channel":{"alternatives":[]}}`},
		{name: "invalid json", in: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			text, _, final, ok := parseResponse([]byte(tt.in))
			if ok != tt.wantOK || text != tt.wantText || final != tt.wantFinal {
				t.Errorf("got (%q, final=%v, ok=%v), want (%q, final=%v, ok=%v)",
					text, final, ok, tt.wantText, tt.wantFinal, tt.wantOK)
			}
		})
	}
}

// ---- end-to-end against a fake server ----

type fakeServer struct {
	mu         sync.Mutex
	authHeader string
	audioBytes int
	gotClose   bool
}

func result(text string, final bool, conf float64) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":     "Results",
		"is_final": final,
		"channel": map[string]any{
			"alternatives": []map[string]any{{"transcript": text, "confidence": conf}},
		},
	})
	return b
}

func (f *fakeServer) handler(t *testing.T, replies [][]byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.authHeader = r.Header.Get("Authorization")
		f.mu.Unlock()

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			typ, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				f.mu.Lock()
				f.audioBytes += len(msg)
				f.mu.Unlock()
				continue
			}
			if strings.Contains(string(msg), "CloseStream") {
				f.mu.Lock()
				f.gotClose = true
				f.mu.Unlock()
				for _, rep := range replies {
					_ = conn.Write(ctx, websocket.MessageText, rep)
				}
				_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Metadata"}`))
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}
}

func TestRecognize_JoinsFinalResults(t *testing.T) {
	t.Parallel()
	fs := &fakeServer{}
	srv := httptest.NewServer(fs.handler(t, [][]byte{
		result("hello", false, 0.5),
		result("hello there", true, 0.8),
		result("general kenobi", true, 0.6),
	}))
	defer srv.Close()

	p, _ := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := p.Recognize(ctx, stt.Request{Samples: make([]int16, 16000), SampleRate: 16000})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if res.Text != "hello there general kenobi" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Confidence < 0.69 || res.Confidence > 0.71 {
		t.Errorf("Confidence = %v, want 0.7", res.Confidence)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.authHeader != "Token secret" {
		t.Errorf("Authorization = %q", fs.authHeader)
	}
	if fs.audioBytes != 32000 {
		t.Errorf("server received %d audio bytes, want 32000", fs.audioBytes)
	}
	if !fs.gotClose {
		t.Error("CloseStream not sent")
	}
}

func TestRecognize_NoSpeech(t *testing.T) {
	t.Parallel()
	fs := &fakeServer{}
	srv := httptest.NewServer(fs.handler(t, nil))
	defer srv.Close()

	p, _ := New("k", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	res, err := p.Recognize(context.Background(), stt.Request{Samples: make([]int16, 160), SampleRate: 16000})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if res.Text != "" {
		t.Errorf("Text = %q, want empty", res.Text)
	}
}

func TestRecognize_DialFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := New("bad", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	_, err := p.Recognize(context.Background(), stt.Request{Samples: make([]int16, 160), SampleRate: 16000})
	if !errors.Is(err, stt.ErrRecognizer) {
		t.Fatalf("err = %v, want ErrRecognizer", err)
	}
}
