// Package speech defines the speech collaborators of a practice session and
// their implementations.
//
// A [Capturer] listens to the learner and produces at most one transcript per
// capture; a [Synthesizer] speaks a reference line aloud. Both are injected
// into the practice coach, so environments without microphone or speaker use
// [NopCapturer] and [NopSynthesizer].
//
// [STTCapturer] and [TTSSynthesizer] adapt the pkg/provider speech backends:
// audio frames come from an [AudioSource] and synthesised audio goes to an
// [AudioSink], typically the practice websocket.
package speech

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrUnsupported is returned when the capability is not available.
	ErrUnsupported = errors.New("speech: not supported")

	// ErrNoSpeech is reported by a capture that ended without recognising
	// anything.
	ErrNoSpeech = errors.New("speech: no speech detected")
)

// Capture is one in-flight listening attempt.
//
// Result and Err each deliver at most one value, and never both. Done is
// closed once the capture has ended, after any Result or Err value was sent.
// A capture whose context is cancelled ends with neither.
type Capture interface {
	Result() <-chan string
	Err() <-chan error
	Done() <-chan struct{}

	// Stop ends audio input. Audio heard so far is still recognised, so a
	// Result may follow. Safe to call more than once.
	Stop()
}

// Capturer starts speech captures.
type Capturer interface {
	StartCapture(ctx context.Context) (Capture, error)
}

// Synthesizer speaks text aloud.
type Synthesizer interface {
	// Speak blocks until playback has finished, failed, or ctx is cancelled.
	Speak(ctx context.Context, text string) error
}

// capture is the channel plumbing shared by Capture implementations.
type capture struct {
	result chan string
	err    chan error
	done   chan struct{}
	stop   chan struct{}

	stopOnce sync.Once
	settled  bool
}

func newCapture() *capture {
	return &capture{
		result: make(chan string, 1),
		err:    make(chan error, 1),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
}

func (c *capture) Result() <-chan string { return c.result }
func (c *capture) Err() <-chan error     { return c.err }
func (c *capture) Done() <-chan struct{} { return c.done }

func (c *capture) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// resolve and fail are only called from the goroutine that owns the capture.
func (c *capture) resolve(text string) {
	if c.settled {
		return
	}
	c.settled = true
	c.result <- text
}

func (c *capture) fail(err error) {
	if c.settled {
		return
	}
	c.settled = true
	c.err <- err
}

func (c *capture) finish() { close(c.done) }
