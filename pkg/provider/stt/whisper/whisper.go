// Package whisper provides whisper.cpp-backed recognizers.
//
// [Provider] talks to a running whisper-server binary (POST /inference) and
// uploads each utterance as a WAV file. [NativeProvider] links whisper.cpp
// through its CGO bindings and runs inference in-process.
//
// whisper.cpp is a batch engine: both variants transcribe one complete
// utterance per call.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	res, err := p.Recognize(ctx, stt.Request{Samples: pcm, SampleRate: 16000})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/provider/stt"
)

const (
	defaultLanguage   = "en"
	defaultSampleRate = 16000
	defaultTimeout    = 30 * time.Second
)

// Compile-time assertion that Provider implements stt.Recognizer.
var _ stt.Recognizer = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the server
// (e.g., "base.en"). When empty the server uses whichever model it was
// started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default language used when a request carries none.
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithHTTPClient replaces the HTTP client (default timeout 30 s).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithTemperature sets the decoding temperature sent with each request.
func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = &t }
}

// Provider implements stt.Recognizer backed by a whisper.cpp HTTP server.
type Provider struct {
	serverURL   string
	model       string
	language    string
	temperature *float64
	httpClient  *http.Client
}

// New creates a Provider for the whisper.cpp server at serverURL
// (e.g., "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Recognize uploads req as a WAV file and returns the server's transcription.
func (p *Provider) Recognize(ctx context.Context, req stt.Request) (stt.Result, error) {
	if len(req.Samples) == 0 {
		return stt.Result{}, nil
	}
	rate := req.SampleRate
	if rate <= 0 {
		rate = defaultSampleRate
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return stt.Result{}, fmt.Errorf("%w: whisper: create form file: %w", stt.ErrRecognizer, err)
	}
	if _, err := fw.Write(audio.EncodeWAV(req.Samples, rate, 1)); err != nil {
		return stt.Result{}, fmt.Errorf("%w: whisper: write wav data: %w", stt.ErrRecognizer, err)
	}
	fields := map[string]string{"response_format": "json"}
	if lang != "" {
		fields["language"] = lang
	}
	if p.model != "" {
		fields["model"] = p.model
	}
	if p.temperature != nil {
		fields["temperature"] = fmt.Sprintf("%.2f", *p.temperature)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return stt.Result{}, fmt.Errorf("%w: whisper: write %s field: %w", stt.ErrRecognizer, k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return stt.Result{}, fmt.Errorf("%w: whisper: close multipart writer: %w", stt.ErrRecognizer, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("%w: whisper: create request: %w", stt.ErrRecognizer, err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return stt.Result{}, fmt.Errorf("%w: whisper: http request: %w", stt.ErrRecognizer, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return stt.Result{}, fmt.Errorf("%w: whisper: server returned HTTP %d: %s",
			stt.ErrRecognizer, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return stt.Result{}, fmt.Errorf("%w: whisper: parse JSON response: %w", stt.ErrRecognizer, err)
	}
	return stt.Result{Text: strings.TrimSpace(out.Text), Language: out.Language}, nil
}
