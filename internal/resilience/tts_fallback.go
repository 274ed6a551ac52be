package resilience

import (
	"context"
	"log/slog"

	"github.com/MrWong99/kalam/pkg/audio"
	"github.com/MrWong99/kalam/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across
// several TTS backends, each behind its own circuit breaker: the preferred
// engine speaks when it can, the next one otherwise.
//
// Audio is always delivered in the primary's format; chunks from a fallback
// with a different format are converted on the fly.
type TTSFallback struct {
	group  *FallbackGroup[tts.Provider]
	format audio.Format
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group:  NewFallbackGroup(primary, primaryName, cfg),
		format: primary.Format(),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Statuses reports each backend's breaker state.
func (f *TTSFallback) Statuses() []Status { return f.group.Statuses() }

// Healthy reports whether any backend's breaker is still closed or probing.
func (f *TTSFallback) Healthy() bool { return f.group.Healthy() }

// Format implements tts.Provider.
func (f *TTSFallback) Format() audio.Format { return f.format }

// Synthesize renders text with the first healthy provider. Only the start of
// synthesis is covered by failover; a stream that breaks part way ends early.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.Voice) (<-chan []byte, error) {
	var served tts.Provider
	ch, err := ExecuteWithResult(f.group, func(p tts.Provider) (<-chan []byte, error) {
		served = p
		return p.Synthesize(ctx, text, voice)
	})
	if err != nil {
		return nil, err
	}
	from := served.Format()
	if from == f.format {
		return ch, nil
	}

	out := make(chan []byte, cap(ch))
	go func() {
		defer close(out)
		for chunk := range ch {
			pcm, err := audio.Convert(chunk, from, f.format)
			if err != nil {
				slog.Warn("tts fallback: dropping unconvertible chunk", "from", from.String(), "to", f.format.String(), "err", err)
				continue
			}
			select {
			case out <- pcm:
			case <-ctx.Done():
				go audio.Drain(ch)
				return
			}
		}
	}()
	return out, nil
}

// ListVoices returns available voices from the first healthy provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]tts.Voice, error) {
		return p.ListVoices(ctx)
	})
}
