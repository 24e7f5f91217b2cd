// Package openai provides a synthesizer backed by the OpenAI speech endpoint
// (tts-1, tts-1-hd, gpt-4o-mini-tts and compatible self-hosted servers).
//
// Audio is requested as raw PCM, which the endpoint always delivers as
// 24 kHz mono signed 16-bit little-endian, and wrapped into a WAV clip.
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
)

const (
	// DefaultModel is the default speech model.
	DefaultModel = oai.SpeechModelTTS1

	// DefaultVoice is used when neither the request nor the provider names one.
	DefaultVoice = "alloy"

	pcmSampleRate = 24000
)

var _ tts.Synthesizer = (*Provider)(nil)

// Provider implements tts.Synthesizer using the OpenAI API.
type Provider struct {
	client       oai.Client
	model        string
	voice        string
	speed        float64
	instructions string
}

type config struct {
	baseURL      string
	timeout      time.Duration
	voice        string
	speed        float64
	instructions string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithVoice sets the default voice (e.g. "alloy", "nova").
func WithVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// WithSpeed sets the playback speed, 0.25 to 4.0.
func WithSpeed(speed float64) Option {
	return func(c *config) { c.speed = speed }
}

// WithInstructions steers delivery on models that support it.
func WithInstructions(s string) Option {
	return func(c *config) { c.instructions = s }
}

// New constructs an OpenAI synthesizer. If model is empty, DefaultModel is used.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{voice: DefaultVoice}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.speed != 0 && (cfg.speed < 0.25 || cfg.speed > 4) {
		return nil, fmt.Errorf("openai tts: speed %.2f out of range [0.25, 4]", cfg.speed)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{
		client:       oai.NewClient(reqOpts...),
		model:        model,
		voice:        cfg.voice,
		speed:        cfg.speed,
		instructions: cfg.instructions,
	}, nil
}

// Synthesize implements tts.Synthesizer.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	voice := req.Voice
	if voice == "" {
		voice = p.voice
	}
	params := oai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          p.model,
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if p.speed != 0 {
		params.Speed = oai.Float(p.speed)
	}
	if p.instructions != "" {
		params.Instructions = oai.String(p.instructions)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("%w: openai tts: speech: %w", tts.ErrSynthesis, err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("%w: openai tts: read body: %w", tts.ErrSynthesis, err)
	}
	pcm = pcm[:len(pcm)&^1]
	if len(pcm) == 0 {
		return tts.Audio{}, fmt.Errorf("%w: openai tts: empty audio", tts.ErrSynthesis)
	}
	return tts.Audio{
		Data:       audio.EncodeWAVBytes(pcm, pcmSampleRate, 1),
		Format:     tts.FormatWAV,
		SampleRate: pcmSampleRate,
		Channels:   1,
	}, nil
}

// ModelID returns the configured model name.
func (p *Provider) ModelID() string {
	return p.model
}
