// Package tts defines the Provider interface for text-to-speech backends.
//
// A provider renders the Arabic reference text of a line into 16-bit PCM so
// the learner can hear it. Synthesize returns a channel of PCM chunks in the
// provider's [Provider.Format]; the channel is closed when the audio is
// complete or the context is cancelled.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/kalam/pkg/audio"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with voice. Errors that prevent any audio from
	// being produced (unreachable server, rejected request) are returned
	// directly; a failure part way through ends the stream early. The caller
	// must drain the returned channel.
	Synthesize(ctx context.Context, text string, voice Voice) (<-chan []byte, error)

	// ListVoices returns the voices the backend offers.
	ListVoices(ctx context.Context) ([]Voice, error)

	// Format is the PCM format of every chunk Synthesize emits.
	Format() audio.Format
}
