package speech

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/kalam/internal/observe"
	"github.com/MrWong99/kalam/pkg/audio"
	"github.com/MrWong99/kalam/pkg/provider/stt"
)

// DefaultLanguage is the recognition locale: Egyptian Arabic.
const DefaultLanguage = "ar-EG"

// CapturerOption configures an STTCapturer.
type CapturerOption func(*STTCapturer)

// WithLanguage sets the BCP-47 recognition locale.
func WithLanguage(tag string) CapturerOption {
	return func(c *STTCapturer) { c.language = tag }
}

// WithCaptureTimeout ends audio input after d, as if Stop had been called.
// Zero disables the limit.
func WithCaptureTimeout(d time.Duration) CapturerOption {
	return func(c *STTCapturer) { c.timeout = d }
}

// WithCapturerMetrics records recognition latency to m.
func WithCapturerMetrics(m *observe.Metrics) CapturerOption {
	return func(c *STTCapturer) { c.metrics = m }
}

// WithCapturerName labels provider errors in metrics and logs.
func WithCapturerName(name string) CapturerOption {
	return func(c *STTCapturer) { c.name = name }
}

// STTCapturer is a [Capturer] that streams frames from an [AudioSource] to an
// stt.Provider and resolves with the first non-empty final transcript.
type STTCapturer struct {
	provider stt.Provider
	source   AudioSource
	language string
	timeout  time.Duration
	metrics  *observe.Metrics
	name     string
}

var _ Capturer = (*STTCapturer)(nil)

// NewSTTCapturer returns a capturer reading from source.
func NewSTTCapturer(provider stt.Provider, source AudioSource, opts ...CapturerOption) *STTCapturer {
	c := &STTCapturer{
		provider: provider,
		source:   source,
		language: DefaultLanguage,
		name:     "stt",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// StartCapture opens a recognition stream. Frames queued in the source
// before the call are discarded when the source supports Flush.
func (c *STTCapturer) StartCapture(ctx context.Context) (Capture, error) {
	if f, ok := c.source.(interface{ Flush() }); ok {
		f.Flush()
	}
	handle, err := c.provider.StartStream(ctx, stt.StreamConfig{
		SampleRate: audio.Speech.SampleRate,
		Channels:   audio.Speech.Channels,
		Language:   c.language,
	})
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordProviderError(ctx, c.name, "stt")
		}
		return nil, fmt.Errorf("speech: start stream: %w", err)
	}
	cp := newCapture()
	go c.run(ctx, handle, cp)
	return cp, nil
}

func (c *STTCapturer) run(ctx context.Context, handle stt.SessionHandle, cp *capture) {
	defer cp.finish()
	log := observe.Logger(ctx).With("provider", c.name)

	var timeout <-chan time.Time
	if c.timeout > 0 {
		t := time.NewTimer(c.timeout)
		defer t.Stop()
		timeout = t.C
	}

	from := c.source.Format()
	frames := c.source.Frames()
	finals := handle.Finals()
	partials := handle.Partials()

listen:
	for {
		select {
		case <-ctx.Done():
			c.abort(handle)
			return
		case <-cp.stop:
			break listen
		case <-timeout:
			log.Debug("capture timed out, flushing")
			break listen
		case _, ok := <-partials:
			if !ok {
				partials = nil
			}
		case tr, ok := <-finals:
			if !ok {
				finals = nil
				break listen
			}
			if text := strings.TrimSpace(tr.Text); text != "" {
				cp.resolve(text)
				c.abort(handle)
				return
			}
		case frame := <-frames:
			pcm, err := audio.Convert(frame, from, audio.Speech)
			if err != nil {
				log.Warn("dropping malformed audio frame", "err", err)
				continue
			}
			if err := handle.SendAudio(pcm); err != nil {
				c.abort(handle)
				if c.metrics != nil {
					c.metrics.RecordProviderError(ctx, c.name, "stt")
				}
				cp.fail(fmt.Errorf("speech: send audio: %w", err))
				return
			}
		}
	}

	// Input has ended: close the stream so batch providers transcribe what
	// they buffered, and wait for their final.
	flushStart := time.Now()
	closed := make(chan error, 1)
	go func() { closed <- handle.Close() }()

	for finals != nil || partials != nil {
		select {
		case <-ctx.Done():
			go drainTranscripts(finals, partials)
			return
		case _, ok := <-partials:
			if !ok {
				partials = nil
			}
		case tr, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			if text := strings.TrimSpace(tr.Text); text != "" {
				cp.resolve(text)
			}
		}
	}

	closeErr := <-closed
	if c.metrics != nil {
		c.metrics.STTDuration.Record(ctx, time.Since(flushStart).Seconds())
	}
	if closeErr != nil {
		if c.metrics != nil {
			c.metrics.RecordProviderError(ctx, c.name, "stt")
		}
		log.Warn("recognition failed", "err", closeErr)
		cp.fail(fmt.Errorf("speech: recognise: %w", closeErr))
		return
	}
	cp.fail(ErrNoSpeech)
}

// abort closes the stream in the background and discards whatever it still
// emits.
func (c *STTCapturer) abort(handle stt.SessionHandle) {
	go func() {
		finals, partials := handle.Finals(), handle.Partials()
		go drainTranscripts(finals, partials)
		if err := handle.Close(); err != nil {
			slog.Debug("speech: close aborted stream", "provider", c.name, "err", err)
		}
	}()
}

func drainTranscripts(chs ...<-chan stt.Transcript) {
	for _, ch := range chs {
		if ch != nil {
			go audio.Drain(ch)
		}
	}
}
