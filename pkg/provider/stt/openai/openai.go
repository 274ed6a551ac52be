// Package openai provides an STT provider backed by the OpenAI audio
// transcription API.
//
// The API is batch only: a session buffers every chunk it is sent and uploads
// the whole attempt as one WAV file when it is closed. The learner's attempt
// is short, so the extra latency is a single round trip.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/kalam/pkg/audio"
	"github.com/MrWong99/kalam/pkg/provider/stt"
)

// DefaultModel is the transcription model used when none is configured.
const DefaultModel = oai.AudioModelWhisper1

var _ stt.Provider = (*Provider)(nil)

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

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// New constructs a provider. If model is empty, [DefaultModel] is used.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
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

// StartStream opens a buffering session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("openai stt: %w", err)
	}
	format := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if !format.Valid() {
		format = audio.Speech
	}
	return &session{
		p:        p,
		ctx:      context.WithoutCancel(ctx),
		format:   format,
		language: stt.PrimaryLanguage(cfg.Language),
		partials: make(chan stt.Transcript),
		finals:   make(chan stt.Transcript, 1),
	}, nil
}

// Transcribe uploads a single WAV-wrapped PCM buffer and returns its text.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, format audio.Format, language string) (string, error) {
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(audio.EncodeWAV(pcm, format)), "attempt.wav", "audio/wav"),
		Model: oai.AudioModel(p.model),
	}
	if language != "" {
		params.Language = param.NewOpt(language)
	}
	res, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return strings.TrimSpace(res.Text), nil
}

type session struct {
	p        *Provider
	ctx      context.Context
	format   audio.Format
	language string

	mu     sync.Mutex
	buf    []byte
	closed bool

	partials chan stt.Transcript
	finals   chan stt.Transcript
}

func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrSessionClosed
	}
	s.buf = append(s.buf, chunk...)
	return nil
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }
func (s *session) Finals() <-chan stt.Transcript   { return s.finals }

// Close transcribes the buffered audio, emits at most one final and closes
// the channels.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pcm := s.buf
	s.buf = nil
	s.mu.Unlock()

	defer close(s.partials)
	defer close(s.finals)

	if len(pcm) == 0 {
		return nil
	}
	text, err := s.p.Transcribe(s.ctx, pcm, s.format, s.language)
	if err != nil {
		slog.Warn("openai stt: transcription failed", "err", err)
		return err
	}
	if text != "" {
		s.finals <- stt.Transcript{Text: text, IsFinal: true, Language: s.language}
	}
	return nil
}
