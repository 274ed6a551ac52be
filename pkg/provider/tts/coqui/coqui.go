// Package coqui provides a TTS provider backed by a local Coqui TTS server.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is GET /api/tts with query
//     parameters; voices come from GET /details.
//
//   - APIModeXTTS: the XTTS v2 API server. Synthesis is POST /tts_to_audio/
//     with a JSON body; voices come from GET /studio_speakers.
//
// Both servers answer one WAV file per request. Synthesize splits the line
// into sentences (Arabic punctuation included), renders the first one before
// returning so an unreachable server is reported to the caller, and renders
// the rest concurrently while streaming PCM in order.
//
//	p, err := coqui.New("http://localhost:5002", coqui.WithLanguage("ar"))
//	pcm, err := p.Synthesize(ctx, "صباح الخير", tts.Voice{})
package coqui

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/MrWong99/kalam/pkg/audio"
	"github.com/MrWong99/kalam/pkg/provider/stt"
	"github.com/MrWong99/kalam/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage   = "ar"
	defaultTimeout    = 30 * time.Second
	defaultOutputRate = 24000

	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"
	xttsEndpoint           = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"

	// sentenceLookahead bounds concurrent synthesis requests per line.
	sentenceLookahead = 3

	pcmChunkSize = 4096
)

// APIMode selects which Coqui server API the provider targets.
type APIMode string

const (
	APIModeStandard APIMode = "standard"
	APIModeXTTS     APIMode = "xtts"
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the server when the voice does
// not name one. Defaults to "ar".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithAPIMode selects the server flavour. Defaults to APIModeStandard.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// WithOutputSampleRate sets the rate all synthesised PCM is resampled to.
// Defaults to 24000.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) {
		if rate > 0 {
			p.output.SampleRate = rate
		}
	}
}

// Provider implements tts.Provider against a Coqui TTS server.
type Provider struct {
	serverURL  string
	language   string
	apiMode    APIMode
	output     audio.Format
	httpClient *http.Client
}

// New returns a provider for the server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		output:     audio.Format{SampleRate: defaultOutputRate, Channels: 1},
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Format implements tts.Provider.
func (p *Provider) Format() audio.Format { return p.output }

type result struct {
	pcm []byte
	err error
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (<-chan []byte, error) {
	if p.apiMode == APIModeXTTS && voice.ID == "" {
		return nil, errors.New("coqui: voice ID is required in XTTS mode")
	}
	sentences := tts.SplitSentences(text)
	if len(sentences) == 0 {
		return nil, errors.New("coqui: nothing to synthesize")
	}

	first, err := p.synthesize(ctx, sentences[0], voice)
	if err != nil {
		return nil, err
	}

	// One future per remaining sentence; sem bounds in-flight requests.
	rest := make([]chan result, len(sentences)-1)
	sem := make(chan struct{}, sentenceLookahead)
	for i, s := range sentences[1:] {
		rest[i] = make(chan result, 1)
		go func(s string, out chan<- result) {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				out <- result{err: ctx.Err()}
				return
			}
			defer func() { <-sem }()
			pcm, err := p.synthesize(ctx, s, voice)
			out <- result{pcm: pcm, err: err}
		}(s, rest[i])
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		if !emit(ctx, out, first) {
			return
		}
		for _, fut := range rest {
			var r result
			select {
			case r = <-fut:
			case <-ctx.Done():
				return
			}
			if r.err != nil {
				slog.Warn("coqui: sentence synthesis failed, truncating audio", "err", r.err)
				return
			}
			if !emit(ctx, out, r.pcm) {
				return
			}
		}
	}()
	return out, nil
}

func emit(ctx context.Context, out chan<- []byte, pcm []byte) bool {
	for len(pcm) > 0 {
		n := min(pcmChunkSize, len(pcm))
		select {
		case out <- pcm[:n]:
		case <-ctx.Done():
			return false
		}
		pcm = pcm[n:]
	}
	return true
}

func (p *Provider) lang(voice tts.Voice) string {
	if l := stt.PrimaryLanguage(voice.Language); l != "" {
		return l
	}
	return p.language
}

func (p *Provider) synthesize(ctx context.Context, sentence string, voice tts.Voice) ([]byte, error) {
	var req *http.Request
	var err error
	if p.apiMode == APIModeXTTS {
		body, merr := json.Marshal(map[string]string{
			"text":        sentence,
			"speaker_wav": voice.ID,
			"language":    p.lang(voice),
		})
		if merr != nil {
			return nil, fmt.Errorf("coqui: marshal request: %w", merr)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+xttsEndpoint, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		q := url.Values{}
		q.Set("text", sentence)
		if voice.ID != "" {
			q.Set("speaker_id", voice.ID)
		}
		q.Set("language_id", p.lang(voice))
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+q.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("coqui: create request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read response: %w", err)
	}
	pcm, format, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	pcm, err = audio.Convert(pcm, format, p.output)
	if err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	return pcm, nil
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	endpoint := detailsEndpoint
	if p.apiMode == APIModeXTTS {
		endpoint = studioSpeakersEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: GET %s returned status %d", endpoint, resp.StatusCode)
	}

	var names []string
	if p.apiMode == APIModeXTTS {
		var raw map[string]json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			return nil, fmt.Errorf("coqui: decode studio speakers: %w", err)
		}
		for name := range raw {
			names = append(names, name)
		}
	} else {
		var details struct {
			ModelName string   `json:"model_name"`
			Speakers  []string `json:"speakers"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
			return nil, fmt.Errorf("coqui: decode details: %w", err)
		}
		names = details.Speakers
		if len(names) == 0 {
			// Single-speaker model: the default voice is addressed by an empty ID.
			name := cmp.Or(details.ModelName, "default")
			return []tts.Voice{{Name: name, Language: p.language}}, nil
		}
	}

	sort.Strings(names)
	voices := make([]tts.Voice, 0, len(names))
	for _, n := range names {
		voices = append(voices, tts.Voice{ID: n, Name: n, Language: p.language})
	}
	return voices, nil
}

