// Package deepgram provides a Deepgram-backed recognizer using the Deepgram
// live WebSocket API. Each utterance opens a short-lived stream: the audio is
// written as binary frames, a CloseStream message asks the server to flush,
// and every final result received before the server closes is joined into
// the utterance text.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/provider/stt"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// chunkMs is the amount of audio written per WebSocket message.
	chunkMs = 100
)

// Compile-time assertion that Provider implements stt.Recognizer.
var _ stt.Recognizer = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default BCP-47 language code (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithEndpoint overrides the WebSocket endpoint. Intended for tests and
// self-hosted deployments.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// Provider implements stt.Recognizer backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Recognize streams req to Deepgram and waits for the server to finish.
func (p *Provider) Recognize(ctx context.Context, req stt.Request) (stt.Result, error) {
	if len(req.Samples) == 0 {
		return stt.Result{}, nil
	}
	rate := req.SampleRate
	if rate <= 0 {
		rate = defaultSampleRate
	}
	wsURL, err := p.buildURL(req.Language, rate)
	if err != nil {
		return stt.Result{}, fmt.Errorf("%w: deepgram: build URL: %w", stt.ErrRecognizer, err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return stt.Result{}, fmt.Errorf("%w: deepgram: dial: %w", stt.ErrRecognizer, err)
	}
	defer conn.CloseNow()

	type readResult struct {
		res stt.Result
		err error
	}
	readDone := make(chan readResult, 1)
	go func() {
		res, err := collect(ctx, conn)
		readDone <- readResult{res, err}
	}()

	pcm := audio.EncodePCM16(req.Samples)
	step := rate * 2 * chunkMs / 1000
	for off := 0; off < len(pcm); off += step {
		end := min(off+step, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return stt.Result{}, fmt.Errorf("%w: deepgram: write audio: %w", stt.ErrRecognizer, err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return stt.Result{}, fmt.Errorf("%w: deepgram: close stream: %w", stt.ErrRecognizer, err)
	}

	select {
	case r := <-readDone:
		if r.err != nil {
			return stt.Result{}, fmt.Errorf("%w: deepgram: %w", stt.ErrRecognizer, r.err)
		}
		_ = conn.Close(websocket.StatusNormalClosure, "utterance complete")
		return r.res, nil
	case <-ctx.Done():
		return stt.Result{}, fmt.Errorf("%w: deepgram: %w", stt.ErrRecognizer, ctx.Err())
	}
}

// collect reads results until the server closes the stream.
func collect(ctx context.Context, conn *websocket.Conn) (stt.Result, error) {
	var (
		parts []string
		conf  float64
	)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return stt.Result{}, ctx.Err()
			}
			// Deepgram may drop the TCP connection right after flushing.
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, io.EOF) || len(parts) > 0 {
				break
			}
			return stt.Result{}, fmt.Errorf("read: %w", err)
		}
		text, c, final, ok := parseResponse(msg)
		if !ok || !final || text == "" {
			continue
		}
		parts = append(parts, text)
		conf += c
	}
	res := stt.Result{Text: strings.Join(parts, " ")}
	if len(parts) > 0 {
		res.Confidence = conf / float64(len(parts))
	}
	return res, nil
}

// buildURL constructs the streaming endpoint URL for one utterance.
func (p *Provider) buildURL(lang string, sampleRate int) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	if lang == "" {
		lang = p.language
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON structure returned for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseResponse extracts the top alternative of a Results message. ok is
// false for any other message type.
func parseResponse(data []byte) (text string, confidence float64, final, ok bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", 0, false, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return "", 0, false, false
	}
	alt := resp.Channel.Alternatives[0]
	return strings.TrimSpace(alt.Transcript), alt.Confidence, resp.IsFinal, true
}
