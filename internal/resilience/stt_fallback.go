package resilience

import (
	"context"

	"github.com/MrWong99/kalam/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across
// several recognition backends. Only opening the stream is covered: a local
// whisper.cpp server that is down falls through to the hosted API before the
// learner starts speaking.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// StartStream opens a session against the first healthy provider.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

// Statuses reports each backend's breaker state.
func (f *STTFallback) Statuses() []Status { return f.group.Statuses() }

// Healthy reports whether any backend's breaker is still closed or probing.
func (f *STTFallback) Healthy() bool { return f.group.Healthy() }
