package speech

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/kalam/internal/observe"
	"github.com/MrWong99/kalam/pkg/audio"
	"github.com/MrWong99/kalam/pkg/provider/tts"
)

// DefaultSpeedFactor slows reference lines slightly for learners.
const DefaultSpeedFactor = 0.9

// SynthesizerOption configures a TTSSynthesizer.
type SynthesizerOption func(*TTSSynthesizer)

// WithVoice sets the voice lines are spoken with.
func WithVoice(v tts.Voice) SynthesizerOption {
	return func(s *TTSSynthesizer) { s.voice = v }
}

// WithRealtime makes Speak return only once the audio it wrote would have
// finished playing, measured from the first chunk.
func WithRealtime() SynthesizerOption {
	return func(s *TTSSynthesizer) { s.realtime = true }
}

// WithSynthesizerMetrics records playback latency to m.
func WithSynthesizerMetrics(m *observe.Metrics) SynthesizerOption {
	return func(s *TTSSynthesizer) { s.metrics = m }
}

// WithSynthesizerName labels provider errors in metrics.
func WithSynthesizerName(name string) SynthesizerOption {
	return func(s *TTSSynthesizer) { s.name = name }
}

// TTSSynthesizer is a [Synthesizer] that renders text with a tts.Provider and
// writes the audio to an [AudioSink].
type TTSSynthesizer struct {
	provider tts.Provider
	sink     AudioSink
	voice    tts.Voice
	realtime bool
	metrics  *observe.Metrics
	name     string
}

var _ Synthesizer = (*TTSSynthesizer)(nil)

// NewTTSSynthesizer returns a synthesizer writing to sink. The default voice
// is the provider default in [DefaultLanguage] at [DefaultSpeedFactor].
func NewTTSSynthesizer(provider tts.Provider, sink AudioSink, opts ...SynthesizerOption) *TTSSynthesizer {
	s := &TTSSynthesizer{
		provider: provider,
		sink:     sink,
		voice:    tts.Voice{Language: DefaultLanguage, SpeedFactor: DefaultSpeedFactor},
		name:     "tts",
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Voice returns the configured voice.
func (s *TTSSynthesizer) Voice() tts.Voice { return s.voice }

// Speak implements [Synthesizer].
func (s *TTSSynthesizer) Speak(ctx context.Context, text string) error {
	ctx, span := observe.StartSpan(ctx, "speech.speak")
	defer span.End()

	start := time.Now()
	ch, err := s.provider.Synthesize(ctx, text, s.voice)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordProviderError(ctx, s.name, "tts")
		}
		span.RecordError(err)
		return fmt.Errorf("speech: synthesize: %w", err)
	}

	format := s.provider.Format()
	var (
		written    int
		firstChunk time.Time
	)
	for chunk := range ch {
		if firstChunk.IsZero() {
			firstChunk = time.Now()
		}
		if err := s.sink.WriteAudio(ctx, chunk, format); err != nil {
			go audio.Drain(ch)
			return fmt.Errorf("speech: write audio: %w", err)
		}
		written += len(chunk)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.realtime && written > 0 {
		remaining := time.Until(firstChunk.Add(format.Duration(written)))
		if remaining > 0 {
			t := time.NewTimer(remaining)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if s.metrics != nil {
		s.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	}
	return nil
}
