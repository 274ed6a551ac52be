package speech

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/kalam/pkg/audio"
)

// AudioSource delivers microphone PCM frames.
type AudioSource interface {
	Format() audio.Format
	Frames() <-chan []byte
}

// AudioSink receives synthesised PCM for playback.
type AudioSink interface {
	WriteAudio(ctx context.Context, pcm []byte, format audio.Format) error
}

// SinkFunc adapts a function to [AudioSink].
type SinkFunc func(ctx context.Context, pcm []byte, format audio.Format) error

// WriteAudio calls f.
func (f SinkFunc) WriteAudio(ctx context.Context, pcm []byte, format audio.Format) error {
	return f(ctx, pcm, format)
}

// ChannelSource is an [AudioSource] fed by Push, typically from the
// websocket reader. Frames that arrive while the buffer is full are dropped.
type ChannelSource struct {
	format  audio.Format
	frames  chan []byte
	dropped atomic.Int64
}

var _ AudioSource = (*ChannelSource)(nil)

// NewChannelSource returns a source of PCM in format that buffers up to
// depth frames.
func NewChannelSource(format audio.Format, depth int) *ChannelSource {
	if depth <= 0 {
		depth = 64
	}
	return &ChannelSource{format: format, frames: make(chan []byte, depth)}
}

// Format returns the PCM format of pushed frames.
func (s *ChannelSource) Format() audio.Format { return s.format }

// Frames returns the frame channel. It is never closed.
func (s *ChannelSource) Frames() <-chan []byte { return s.frames }

// Push queues a frame without blocking. It reports false if the frame was
// dropped.
func (s *ChannelSource) Push(frame []byte) bool {
	select {
	case s.frames <- frame:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Flush discards queued frames, so a new capture does not hear audio that
// was sent before it started.
func (s *ChannelSource) Flush() {
	for {
		select {
		case <-s.frames:
		default:
			return
		}
	}
}

// Dropped returns how many frames Push has dropped.
func (s *ChannelSource) Dropped() int64 { return s.dropped.Load() }

// BufferSink collects synthesised audio in memory.
type BufferSink struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	format audio.Format
}

var _ AudioSink = (*BufferSink)(nil)

// WriteAudio appends pcm. The format of the first write is kept.
func (b *BufferSink) WriteAudio(_ context.Context, pcm []byte, format audio.Format) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.format.Valid() {
		b.format = format
	}
	b.buf.Write(pcm)
	return nil
}

// PCM returns a copy of the collected audio and its format.
func (b *BufferSink) PCM() ([]byte, audio.Format) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes()), b.format
}

// WAV returns the collected audio as a WAV file.
func (b *BufferSink) WAV() []byte {
	pcm, f := b.PCM()
	if !f.Valid() {
		f = audio.Speech
	}
	return audio.EncodeWAV(pcm, f)
}
