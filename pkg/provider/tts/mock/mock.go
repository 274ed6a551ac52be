// Package mock provides a test double for the tts.Provider interface.
//
// Provider records every Synthesize call and replays the configured PCM
// chunks. Set Block to hold the stream open until the context is cancelled
// or Release is called, which lets tests observe playback in progress.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/kalam/pkg/audio"
	"github.com/MrWong99/kalam/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Provider.Synthesize.
type SynthesizeCall struct {
	Text  string
	Voice tts.Voice
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks are emitted, in order, by every Synthesize call.
	Chunks [][]byte

	// SynthesizeErr, if non-nil, is returned by Synthesize.
	SynthesizeErr error

	// Block keeps each stream open after its chunks until the context is
	// cancelled or Release is called.
	Block bool

	// Voices is returned by ListVoices.
	Voices []tts.Voice

	// ListVoicesErr, if non-nil, is returned by ListVoices.
	ListVoicesErr error

	// OutputFormat is returned by Format. Zero means audio.Speech.
	OutputFormat audio.Format

	// SynthesizeCalls records every Synthesize call.
	SynthesizeCalls []SynthesizeCall

	release chan struct{}
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize records the call and streams Chunks.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (<-chan []byte, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	if p.SynthesizeErr != nil {
		p.mu.Unlock()
		return nil, p.SynthesizeErr
	}
	if p.release == nil {
		p.release = make(chan struct{})
	}
	chunks, block, release := p.Chunks, p.Block, p.release
	p.mu.Unlock()

	out := make(chan []byte, len(chunks))
	go func() {
		defer close(out)
		for _, c := range chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
		if block {
			select {
			case <-ctx.Done():
			case <-release:
			}
		}
	}()
	return out, nil
}

// Release ends every blocked stream. Thread-safe.
func (p *Provider) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.release == nil {
		p.release = make(chan struct{})
	}
	select {
	case <-p.release:
	default:
		close(p.release)
	}
}

// ListVoices returns Voices, ListVoicesErr.
func (p *Provider) ListVoices(context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Voices, p.ListVoicesErr
}

// Format returns OutputFormat or audio.Speech.
func (p *Provider) Format() audio.Format {
	if p.OutputFormat.Valid() {
		return p.OutputFormat
	}
	return audio.Speech
}

// Calls returns a copy of the recorded Synthesize calls. Thread-safe.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SynthesizeCall(nil), p.SynthesizeCalls...)
}
