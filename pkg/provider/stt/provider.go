// Package stt defines the Provider interface for speech-to-text backends.
//
// A provider turns the learner's spoken attempt into text in the practice
// locale. The central abstraction is SessionHandle: once opened, a session
// accepts raw PCM audio frames and emits Transcript values. Batch engines
// (whisper.cpp, the OpenAI transcription API) buffer audio and emit their
// finals when an utterance ends or when the session is closed.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SendAudio after Close.
var ErrSessionClosed = errors.New("stt: session is closed")

// StreamConfig describes the audio format and recognition locale of a new
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. 16000 suits every provider
	// shipped with Kalam.
	SampleRate int

	// Channels is the number of interleaved audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 tag to recognise (e.g. "ar-EG"). Providers that
	// only take an ISO-639 code use the primary subtag. Empty lets the
	// provider auto-detect.
	Language string
}

// SessionHandle is an open transcription session.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of 16-bit little-endian PCM matching the
	// StreamConfig. Calling SendAudio after Close returns ErrSessionClosed.
	SendAudio(chunk []byte) error

	// Partials emits interim guesses. It is closed when the session ends.
	Partials() <-chan Transcript

	// Finals emits committed transcripts. It is closed when the session ends.
	Finals() <-chan Transcript

	// Close flushes any buffered audio, waits for outstanding recognition and
	// closes both channels. Calling Close more than once is safe.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new session that is ready to accept audio
	// immediately. The caller owns the handle and must Close it.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
