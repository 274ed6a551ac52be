// Package openai provides a TTS provider backed by the OpenAI speech API.
//
// Audio is requested as raw PCM (24 kHz mono, 16-bit) and streamed to the
// caller as the response body arrives, so playback can start before the
// whole line is rendered.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/kalam/pkg/audio"
	"github.com/MrWong99/kalam/pkg/provider/tts"
)

const (
	// DefaultModel is the speech model used when none is configured.
	DefaultModel = oai.SpeechModelTTS1

	// DefaultVoice is used when the requested voice has no ID.
	DefaultVoice = string(oai.AudioSpeechNewParamsVoiceAlloy)

	chunkSize = 4096
)

// pcmFormat is what the API returns for response_format=pcm.
var pcmFormat = audio.Format{SampleRate: 24000, Channels: 1}

var _ tts.Provider = (*Provider)(nil)

// builtinVoices lists the voices the speech API accepts. The API has no
// listing endpoint.
var builtinVoices = []string{
	"alloy", "ash", "ballad", "coral", "echo", "fable",
	"nova", "onyx", "sage", "shimmer", "verse",
}

type config struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the API base URL (for OpenAI-compatible servers).
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how often failed requests are retried. Negative keeps
// the client default.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// New constructs a provider. If model is empty, [DefaultModel] is used.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Format implements tts.Provider.
func (p *Provider) Format() audio.Format { return pcmFormat }

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (<-chan []byte, error) {
	if text == "" {
		return nil, errors.New("openai tts: nothing to synthesize")
	}
	id := voice.ID
	if id == "" {
		id = DefaultVoice
	}
	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(id),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if voice.SpeedFactor > 0 {
		params.Speed = param.NewOpt(voice.SpeedFactor)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai tts: synthesize: %w", err)
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		// Carry an odd trailing byte into the next read so every chunk holds
		// whole samples.
		var carry []byte
		buf := make([]byte, chunkSize)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				data := append(carry, buf[:n]...)
				whole := len(data) &^ 1
				chunk := append([]byte(nil), data[:whole]...)
				carry = append([]byte(nil), data[whole:]...)
				if len(chunk) > 0 {
					select {
					case out <- chunk:
					case <-ctx.Done():
						return
					}
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				slog.Warn("openai tts: stream interrupted", "err", err)
				return
			}
		}
	}()
	return out, nil
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(context.Context) ([]tts.Voice, error) {
	voices := make([]tts.Voice, 0, len(builtinVoices))
	for _, v := range builtinVoices {
		voices = append(voices, tts.Voice{ID: v, Name: v})
	}
	return voices, nil
}
