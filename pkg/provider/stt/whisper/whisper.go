// Package whisper provides an STT provider backed by a whisper.cpp server.
//
// whisper-server exposes a batch endpoint (POST /inference). The provider
// simulates streaming by buffering incoming PCM, segmenting it with an
// energy-based silence detector and submitting each finished utterance as a
// WAV upload. Because a learner's attempt is a single short utterance, the
// first final usually arrives once they stop talking; anything still buffered
// is transcribed when the session is closed.
//
//	p, err := whisper.New("http://localhost:8081", whisper.WithSilenceThreshold(700*time.Millisecond))
//	handle, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "ar-EG"})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/kalam/pkg/audio"
	"github.com/MrWong99/kalam/pkg/provider/stt"
)

const (
	// defaultRMSThreshold is the RMS level (16-bit sample units) under which a
	// chunk counts as silence.
	defaultRMSThreshold = 300.0

	defaultLanguage         = "ar"
	defaultSilenceThreshold = 700 * time.Millisecond
	defaultMaxUtterance     = 15 * time.Second
	flushTimeout            = 30 * time.Second
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model name forwarded to the server. Empty (the default)
// uses whatever model the server was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the fallback language used when StreamConfig.Language is
// empty. Defaults to "ar".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSilenceThreshold sets how much trailing silence ends an utterance.
// Defaults to 700ms.
func WithSilenceThreshold(d time.Duration) Option {
	return func(p *Provider) { p.silence = d }
}

// WithMaxUtterance caps how much audio is buffered before a flush is forced.
// Defaults to 15s.
func WithMaxUtterance(d time.Duration) Option {
	return func(p *Provider) { p.maxUtterance = d }
}

// WithRMSThreshold overrides the silence energy level.
func WithRMSThreshold(rms float64) Option {
	return func(p *Provider) { p.rmsThreshold = rms }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.Provider against a whisper.cpp HTTP server.
type Provider struct {
	serverURL    string
	model        string
	language     string
	silence      time.Duration
	maxUtterance time.Duration
	rmsThreshold float64
	httpClient   *http.Client
}

// New returns a provider for the whisper.cpp server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:    serverURL,
		language:     defaultLanguage,
		silence:      defaultSilenceThreshold,
		maxUtterance: defaultMaxUtterance,
		rmsThreshold: defaultRMSThreshold,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a session. No request is made until the first utterance
// is complete.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	format := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if format.SampleRate <= 0 {
		format.SampleRate = audio.Speech.SampleRate
	}
	if format.Channels <= 0 {
		format.Channels = 1
	}
	lang := stt.PrimaryLanguage(cfg.Language)
	if lang == "" {
		lang = p.language
	}

	s := &session{
		p:        p,
		format:   format,
		language: lang,
		audioCh:  make(chan []byte, 256),
		partials: make(chan stt.Transcript, 8),
		finals:   make(chan stt.Transcript, 8),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run(ctx)
	return s, nil
}

// session implements stt.SessionHandle. Buffer state is owned by run.
type session struct {
	p        *Provider
	format   audio.Format
	language string

	audioCh  chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return stt.ErrSessionClosed
	}
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }
func (s *session) Finals() <-chan stt.Transcript   { return s.finals }

// Close transcribes whatever speech is still buffered, then closes the
// output channels.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

func (s *session) run(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	var (
		buf       []byte
		hadSpeech bool
		silence   time.Duration
	)
	maxBytes := int(s.p.maxUtterance.Seconds() * float64(s.format.BytesPerSecond()))

	flush := func(ctx context.Context) {
		pcm, speech := buf, hadSpeech
		buf, hadSpeech, silence = nil, false, 0
		if !speech || len(pcm) == 0 {
			return
		}
		text, err := s.infer(ctx, pcm)
		if err != nil {
			slog.Warn("whisper: inference failed", "err", err)
			return
		}
		if text == "" {
			return
		}
		tr := stt.Transcript{Text: text, IsFinal: true, Language: s.language}
		select {
		case s.finals <- tr:
		default:
			slog.Warn("whisper: finals channel full, dropping transcript")
		}
	}
	finalFlush := func() {
		fc, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		// Audio queued before Close still belongs to the utterance.
	drain:
		for {
			select {
			case chunk := <-s.audioCh:
				if audio.RMS(chunk) >= s.p.rmsThreshold {
					hadSpeech = true
				}
				if hadSpeech {
					buf = append(buf, chunk...)
				}
			default:
				break drain
			}
		}
		flush(fc)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			finalFlush()
			return
		case chunk := <-s.audioCh:
			if audio.RMS(chunk) < s.p.rmsThreshold {
				if !hadSpeech {
					continue // leading silence
				}
				buf = append(buf, chunk...)
				silence += s.format.Duration(len(chunk))
				if silence >= s.p.silence {
					flush(ctx)
				}
				continue
			}
			hadSpeech = true
			silence = 0
			buf = append(buf, chunk...)
			if maxBytes > 0 && len(buf) >= maxBytes {
				flush(ctx)
			}
		}
	}
}

// infer uploads pcm as WAV to /inference and returns the recognised text.
func (s *session) infer(ctx context.Context, pcm []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(pcm, s.format)); err != nil {
		return "", fmt.Errorf("whisper: write wav: %w", err)
	}
	fields := map[string]string{"response_format": "json", "language": s.language}
	if s.p.model != "" {
		fields["model"] = s.p.model
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisper: parse response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}
