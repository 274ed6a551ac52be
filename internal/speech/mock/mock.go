// Package mock provides test doubles for the speech package interfaces.
//
// Capturer hands out Captures the test resolves by hand:
//
//	c := &mock.Capturer{}
//	coach.Listen(ctx)
//	c.Last().Resolve("صباح النور")
//
// Synthesizer records what it was asked to say and can hold playback open
// until released.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/kalam/internal/speech"
)

// Capturer is a mock implementation of speech.Capturer.
type Capturer struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by StartCapture.
	StartErr error

	captures []*Capture
}

var _ speech.Capturer = (*Capturer)(nil)

// StartCapture returns a new pending Capture. The capture ends with neither
// result nor error when ctx is cancelled.
func (c *Capturer) StartCapture(ctx context.Context) (speech.Capture, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.StartErr != nil {
		return nil, c.StartErr
	}
	cp := &Capture{
		result: make(chan string, 1),
		err:    make(chan error, 1),
		done:   make(chan struct{}),
	}
	c.captures = append(c.captures, cp)
	go func() {
		select {
		case <-ctx.Done():
			cp.end(func() {})
		case <-cp.done:
		}
	}()
	return cp, nil
}

// Count returns how many captures were started. Thread-safe.
func (c *Capturer) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.captures)
}

// Last returns the most recent capture, or nil. Thread-safe.
func (c *Capturer) Last() *Capture {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.captures) == 0 {
		return nil
	}
	return c.captures[len(c.captures)-1]
}

// Capture is a mock speech.Capture settled by the test.
type Capture struct {
	result chan string
	err    chan error
	done   chan struct{}

	once    sync.Once
	mu      sync.Mutex
	stopped int
}

var _ speech.Capture = (*Capture)(nil)

func (c *Capture) Result() <-chan string { return c.result }
func (c *Capture) Err() <-chan error     { return c.err }
func (c *Capture) Done() <-chan struct{} { return c.done }

// Stop records the call. It does not end the capture.
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped++
}

// StopCount returns how often Stop was called.
func (c *Capture) StopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Resolve ends the capture with text.
func (c *Capture) Resolve(text string) {
	c.end(func() { c.result <- text })
}

// Fail ends the capture with err.
func (c *Capture) Fail(err error) {
	c.end(func() { c.err <- err })
}

// Ended reports whether the capture has ended.
func (c *Capture) Ended() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Capture) end(send func()) {
	c.once.Do(func() {
		send()
		close(c.done)
	})
}

// Synthesizer is a mock implementation of speech.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by Speak.
	Err error

	// Block holds every Speak call open until ctx is cancelled or Release
	// is called.
	Block bool

	// Texts records every Speak call.
	Texts []string

	release chan struct{}
}

var _ speech.Synthesizer = (*Synthesizer)(nil)

// Speak records text and returns Err.
func (s *Synthesizer) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	s.Texts = append(s.Texts, text)
	if s.release == nil {
		s.release = make(chan struct{})
	}
	block, release, err := s.Block, s.release, s.Err
	s.mu.Unlock()

	if block {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-release:
		}
	}
	return err
}

// Release unblocks every pending and future Speak call.
func (s *Synthesizer) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.release == nil {
		s.release = make(chan struct{})
	}
	select {
	case <-s.release:
	default:
		close(s.release)
	}
}

// Calls returns a copy of the recorded texts. Thread-safe.
func (s *Synthesizer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Texts...)
}
