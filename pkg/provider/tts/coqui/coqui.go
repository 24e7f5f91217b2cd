// Package coqui provides a Coqui TTS-backed synthesizer that talks to either
// a standard Coqui TTS server or a Coqui XTTS v2 API server.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): GET /api/tts with URL query parameters;
//     voices from GET /details.
//
//   - APIModeXTTS: POST /tts_to_audio/ with a JSON body; voices from
//     GET /studio_speakers.
//
// Both servers render one request at a time, so long utterances are split
// into sentences that are synthesised concurrently and stitched back together
// in order.
//
// Typical usage:
//
//	p, err := coqui.New("http://localhost:5002", coqui.WithLanguage("en"))
//	clip, err := p.Synthesize(ctx, tts.Request{Text: "Hello there."})
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
)

// Compile-time interface assertions.
var (
	_ tts.Synthesizer = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)

const (
	defaultLanguage        = "en"
	defaultTimeout         = 30 * time.Second
	ttsEndpoint            = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"

	// sentenceLookahead bounds concurrent requests per utterance.
	sentenceLookahead = 4
)

// APIMode selects which Coqui server API the provider will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	APIModeStandard APIMode = "standard"
)

// IsValid reports whether m is a known mode.
func (m APIMode) IsValid() bool {
	return m == APIModeXTTS || m == APIModeStandard
}

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the default language code sent to the server
// (e.g., "en", "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithAPIMode selects the server API. Defaults to APIModeStandard.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// WithVoice sets the default speaker (speaker_id in standard mode,
// speaker_wav in XTTS mode).
func WithVoice(voice string) Option {
	return func(p *Provider) { p.voice = voice }
}

// WithOutputSampleRate resamples synthesised audio to rate. Zero keeps the
// model's native rate.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) { p.outputRate = rate }
}

// Provider implements tts.Synthesizer backed by a Coqui TTS server.
type Provider struct {
	serverURL  string
	language   string
	voice      string
	apiMode    APIMode
	outputRate int
	httpClient *http.Client
}

// New creates a Provider for the server at serverURL
// (e.g., "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if !p.apiMode.IsValid() {
		return nil, fmt.Errorf("coqui: unknown api mode %q", p.apiMode)
	}
	return p, nil
}

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// Synthesize renders req sentence by sentence and returns one WAV clip.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	voice := req.Voice
	if voice == "" {
		voice = p.voice
	}
	if voice == "" && p.apiMode == APIModeXTTS {
		return tts.Audio{}, fmt.Errorf("%w: coqui: a voice is required in XTTS mode", tts.ErrSynthesis)
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	sentences := splitSentences(req.Text)
	if len(sentences) == 0 {
		return tts.Audio{}, fmt.Errorf("%w: coqui: empty text", tts.ErrSynthesis)
	}

	clips := make([]audio.WAV, len(sentences))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sentenceLookahead)
	for i, s := range sentences {
		g.Go(func() error {
			w, err := p.synthesizeSentence(gctx, s, voice, lang)
			if err != nil {
				return err
			}
			clips[i] = w
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return tts.Audio{}, fmt.Errorf("%w: %w", tts.ErrSynthesis, err)
	}

	rate, channels := clips[0].SampleRate, clips[0].Channels
	if p.outputRate > 0 {
		rate = p.outputRate
	}
	var samples []int16
	for _, c := range clips {
		samples = append(samples, audio.Convert(c.Samples, c.Channels, c.SampleRate, channels, rate)...)
	}
	if len(samples) == 0 {
		return tts.Audio{}, fmt.Errorf("%w: coqui: server returned no audio", tts.ErrSynthesis)
	}
	return tts.Audio{
		Data:       audio.EncodeWAV(samples, rate, channels),
		Format:     tts.FormatWAV,
		SampleRate: rate,
		Channels:   channels,
	}, nil
}

// synthesizeSentence issues one request in the configured mode.
func (p *Provider) synthesizeSentence(ctx context.Context, sentence, voice, lang string) (audio.WAV, error) {
	var (
		req      *http.Request
		err      error
		endpoint string
	)
	if p.apiMode == APIModeStandard {
		endpoint = apiTTSEndpoint
		params := url.Values{}
		params.Set("text", sentence)
		if voice != "" {
			params.Set("speaker_id", voice)
		}
		if lang != "" {
			params.Set("language_id", lang)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint+"?"+params.Encode(), nil)
	} else {
		endpoint = ttsEndpoint
		body, merr := json.Marshal(ttsRequest{Text: sentence, SpeakerWav: voice, Language: lang})
		if merr != nil {
			return audio.WAV{}, fmt.Errorf("coqui: marshal tts request: %w", merr)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+endpoint, bytes.NewReader(body))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return audio.WAV{}, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return audio.WAV{}, fmt.Errorf("coqui: %s %s: %w", req.Method, endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return audio.WAV{}, fmt.Errorf("coqui: %s %s returned status %d", req.Method, endpoint, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.WAV{}, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	w, err := audio.DecodeWAV(data)
	if err != nil {
		return audio.WAV{}, fmt.Errorf("coqui: %w", err)
	}
	return w, nil
}

// detailsResponse is the JSON body returned by GET /details (standard mode).
// Speakers is nil for single-speaker models.
type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

// ListVoices returns the server's voices, sorted by name.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	if p.apiMode == APIModeStandard {
		var details detailsResponse
		if err := p.getJSON(ctx, detailsEndpoint, &details); err != nil {
			return nil, err
		}
		if len(details.Speakers) == 0 {
			name := details.ModelName
			if name == "" {
				name = "default"
			}
			return []tts.VoiceProfile{{
				ID: name, Name: name, Provider: "coqui",
				Metadata: map[string]string{"type": "single-speaker", "model_name": name},
			}}, nil
		}
		speakers := append([]string(nil), details.Speakers...)
		sort.Strings(speakers)
		out := make([]tts.VoiceProfile, 0, len(speakers))
		for _, s := range speakers {
			out = append(out, tts.VoiceProfile{
				ID: s, Name: s, Provider: "coqui",
				Metadata: map[string]string{"type": "speaker", "model_name": details.ModelName},
			})
		}
		return out, nil
	}

	var raw map[string]json.RawMessage
	if err := p.getJSON(ctx, studioSpeakersEndpoint, &raw); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]tts.VoiceProfile, 0, len(names))
	for _, n := range names {
		out = append(out, tts.VoiceProfile{ID: n, Name: n, Provider: "coqui", Metadata: map[string]string{"type": "studio"}})
	}
	return out, nil
}

func (p *Provider) getJSON(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("coqui: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coqui: GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coqui: GET %s returned status %d", endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("coqui: decode %s: %w", endpoint, err)
	}
	return nil
}

// splitSentences breaks text on sentence boundaries, dropping empty pieces.
func splitSentences(text string) []string {
	var out []string
	for {
		idx := findSentenceBoundary(text)
		if idx < 0 {
			break
		}
		if s := strings.TrimSpace(text[:idx+1]); s != "" {
			out = append(out, s)
		}
		text = text[idx+1:]
	}
	if s := strings.TrimSpace(text); s != "" {
		out = append(out, s)
	}
	return out
}

// findSentenceBoundary returns the index of the first '.', '!' or '?' that
// ends s or is followed by whitespace, so "Dr.X" and "3.14" do not split.
// Returns -1 if there is none.
func findSentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == '!' || c == '?' {
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}
