// Package mock provides test doubles for the stt package interfaces.
//
// Provider records every StartStream call. Session records the audio it is
// sent and hands out caller-owned channels, so a test decides exactly which
// transcripts the consumer sees and when.
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.StartStream(ctx, cfg)
//	sess.Emit("صباح النور")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/kalam/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by StartStream. When nil a fresh [NewSession] is
	// returned on every call.
	Session *Session

	// StartStreamErr, if non-nil, is returned by StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

var _ stt.Provider = (*Provider)(nil)

// StartStream records the call and returns Session or StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// CallCount returns the number of StartStream calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// Session is a mock implementation of stt.SessionHandle. Its channels are
// closed by Close, mirroring the real providers.
type Session struct {
	mu sync.Mutex

	PartialsCh chan stt.Transcript
	FinalsCh   chan stt.Transcript

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// OnClose, if set, runs once inside the first Close before the channels
	// are closed. Use it to emit a final the way batch providers flush.
	OnClose func(s *Session)

	// Chunks holds a copy of every chunk passed to SendAudio.
	Chunks [][]byte

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	closed bool
}

var _ stt.SessionHandle = (*Session)(nil)

// NewSession returns a session with buffered channels.
func NewSession() *Session {
	return &Session{
		PartialsCh: make(chan stt.Transcript, 16),
		FinalsCh:   make(chan stt.Transcript, 16),
	}
}

// Emit queues text as a final transcript.
func (s *Session) Emit(text string) {
	s.FinalsCh <- stt.Transcript{Text: text, IsFinal: true}
}

// SendAudio records the chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrSessionClosed
	}
	s.Chunks = append(s.Chunks, append([]byte(nil), chunk...))
	return s.SendAudioErr
}

// Partials returns PartialsCh.
func (s *Session) Partials() <-chan stt.Transcript { return s.PartialsCh }

// Finals returns FinalsCh.
func (s *Session) Finals() <-chan stt.Transcript { return s.FinalsCh }

// Close records the call, runs OnClose once and closes the channels.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	first := !s.closed
	s.closed = true
	s.mu.Unlock()

	if first {
		if s.OnClose != nil {
			s.OnClose(s)
		}
		close(s.PartialsCh)
		close(s.FinalsCh)
	}
	return s.CloseErr
}

// ChunkCount returns the number of chunks received. Thread-safe.
func (s *Session) ChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Chunks)
}

// CloseCount returns the number of Close calls. Thread-safe.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}
