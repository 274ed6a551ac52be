package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/kalam/pkg/audio"
	"github.com/MrWong99/kalam/pkg/provider/tts"
	ttsmock "github.com/MrWong99/kalam/pkg/provider/tts/mock"
)

func collectChunks(ch <-chan []byte) [][]byte {
	var out [][]byte
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestTTSFallback_Synthesize_PrimarySuccess(t *testing.T) {
	primary := &ttsmock.Provider{Chunks: [][]byte{{1, 0}, {2, 0}}}
	secondary := &ttsmock.Provider{Chunks: [][]byte{{9, 0}}}

	fb := NewTTSFallback(primary, "coqui", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("openai", secondary)

	voice := tts.Voice{ID: "p1", SpeedFactor: 0.9}
	ch, err := fb.Synthesize(context.Background(), "صباح الخير", voice)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chunks := collectChunks(ch); len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if calls := primary.Calls(); len(calls) != 1 || calls[0].Voice != voice {
		t.Fatalf("primary calls = %+v", calls)
	}
	if len(secondary.Calls()) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.Calls()))
	}
}

func TestTTSFallback_Synthesize_Failover(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("coqui down")}
	secondary := &ttsmock.Provider{Chunks: [][]byte{{7, 0}, {8, 0}}}

	fb := NewTTSFallback(primary, "coqui", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("openai", secondary)

	ch, err := fb.Synthesize(context.Background(), "مرحبا", tts.Voice{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	chunks := collectChunks(ch)
	if len(chunks) != 2 || chunks[0][0] != 7 {
		t.Fatalf("got chunks %v from fallback", chunks)
	}
}

func TestTTSFallback_ConvertsFallbackFormat(t *testing.T) {
	primary := &ttsmock.Provider{
		SynthesizeErr: errors.New("coqui down"),
		OutputFormat:  audio.Format{SampleRate: 16000, Channels: 1},
	}
	// 20 samples at 32kHz become 10 at 16kHz.
	secondary := &ttsmock.Provider{
		Chunks:       [][]byte{make([]byte, 40)},
		OutputFormat: audio.Format{SampleRate: 32000, Channels: 1},
	}

	fb := NewTTSFallback(primary, "coqui", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	if fb.Format() != primary.Format() {
		t.Fatalf("Format() = %v, want primary's %v", fb.Format(), primary.Format())
	}
	ch, err := fb.Synthesize(context.Background(), "مرحبا", tts.Voice{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	chunks := collectChunks(ch)
	if len(chunks) != 1 || len(chunks[0]) != 20 {
		t.Fatalf("converted chunks = %d, first len %d; want 1 chunk of 20 bytes", len(chunks), len(chunks[0]))
	}
}

func TestTTSFallback_AllFail(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("a")}
	secondary := &ttsmock.Provider{SynthesizeErr: errors.New("b")}

	fb := NewTTSFallback(primary, "coqui", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	if _, err := fb.Synthesize(context.Background(), "x", tts.Voice{}); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestTTSFallback_ListVoices(t *testing.T) {
	primary := &ttsmock.Provider{ListVoicesErr: errors.New("unreachable")}
	secondary := &ttsmock.Provider{Voices: []tts.Voice{{ID: "nova"}}}

	fb := NewTTSFallback(primary, "coqui", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	voices, err := fb.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "nova" {
		t.Fatalf("voices = %+v", voices)
	}
}
