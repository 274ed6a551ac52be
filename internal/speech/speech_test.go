package speech_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/kalam/internal/speech"
	"github.com/MrWong99/kalam/pkg/audio"
	"github.com/MrWong99/kalam/pkg/provider/stt"
	sttmock "github.com/MrWong99/kalam/pkg/provider/stt/mock"
	"github.com/MrWong99/kalam/pkg/provider/tts"
	ttsmock "github.com/MrWong99/kalam/pkg/provider/tts/mock"
)

const waitTimeout = 2 * time.Second

// outcome waits for the capture to end and returns what it delivered.
func outcome(t *testing.T, c speech.Capture) (string, error) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(waitTimeout):
		t.Fatal("capture did not end")
	}
	select {
	case text := <-c.Result():
		return text, nil
	default:
	}
	select {
	case err := <-c.Err():
		return "", err
	default:
	}
	return "", nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNop(t *testing.T) {
	t.Parallel()

	if _, err := (speech.NopCapturer{}).StartCapture(context.Background()); !errors.Is(err, speech.ErrUnsupported) {
		t.Errorf("NopCapturer err = %v, want ErrUnsupported", err)
	}
	if err := (speech.NopSynthesizer{}).Speak(context.Background(), "مرحبا"); err != nil {
		t.Errorf("NopSynthesizer.Speak = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (speech.NopSynthesizer{}).Speak(ctx, "مرحبا"); !errors.Is(err, context.Canceled) {
		t.Errorf("Speak on cancelled ctx = %v", err)
	}
}

func TestChannelSource(t *testing.T) {
	t.Parallel()

	s := speech.NewChannelSource(audio.Speech, 2)
	if !s.Push([]byte{1, 2}) || !s.Push([]byte{3, 4}) {
		t.Fatal("push into empty buffer failed")
	}
	if s.Push([]byte{5, 6}) {
		t.Error("push into full buffer succeeded")
	}
	if s.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", s.Dropped())
	}
	s.Flush()
	select {
	case f := <-s.Frames():
		t.Errorf("frame %v survived Flush", f)
	default:
	}
}

func TestBufferSink_WAV(t *testing.T) {
	t.Parallel()

	var b speech.BufferSink
	f := audio.Format{SampleRate: 24000, Channels: 1}
	_ = b.WriteAudio(context.Background(), []byte{1, 0, 2, 0}, f)
	_ = b.WriteAudio(context.Background(), []byte{3, 0}, f)

	pcm, got, err := audio.DecodeWAV(b.WAV())
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if got != f || len(pcm) != 6 {
		t.Errorf("got %v with %d bytes, want %v with 6", got, len(pcm), f)
	}
}

func TestSTTCapturer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		setup    func(s *sttmock.Session)
		act      func(s *sttmock.Session, c speech.Capture)
		wantText string
		wantErr  error
	}{
		{
			name: "final while listening",
			act: func(s *sttmock.Session, _ speech.Capture) {
				s.Emit("  صباح النور ")
			},
			wantText: "صباح النور",
		},
		{
			name: "stop flushes batch provider",
			setup: func(s *sttmock.Session) {
				s.OnClose = func(s *sttmock.Session) { s.FinalsCh <- stt.Transcript{Text: "عايز قهوة", IsFinal: true} }
			},
			act:      func(_ *sttmock.Session, c speech.Capture) { c.Stop() },
			wantText: "عايز قهوة",
		},
		{
			name:    "stop without speech",
			act:     func(_ *sttmock.Session, c speech.Capture) { c.Stop() },
			wantErr: speech.ErrNoSpeech,
		},
		{
			name: "empty finals are ignored",
			act: func(s *sttmock.Session, c speech.Capture) {
				s.Emit("   ")
				c.Stop()
			},
			wantErr: speech.ErrNoSpeech,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			sess := sttmock.NewSession()
			if tc.setup != nil {
				tc.setup(sess)
			}
			p := &sttmock.Provider{Session: sess}
			c := speech.NewSTTCapturer(p, speech.NewChannelSource(audio.Speech, 8))

			capture, err := c.StartCapture(context.Background())
			if err != nil {
				t.Fatalf("StartCapture: %v", err)
			}
			tc.act(sess, capture)

			text, err := outcome(t, capture)
			if text != tc.wantText {
				t.Errorf("text = %q, want %q", text, tc.wantText)
			}
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("err = %v, want %v", err, tc.wantErr)
			}
			waitFor(t, func() bool { return sess.CloseCount() > 0 })
		})
	}
}

func TestSTTCapturer_Config(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{}
	c := speech.NewSTTCapturer(p, speech.NewChannelSource(audio.Speech, 8), speech.WithLanguage("ar"))
	capture, err := c.StartCapture(context.Background())
	if err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	capture.Stop()
	_, _ = outcome(t, capture)

	cfg := p.StartStreamCalls[0].Cfg
	if cfg.Language != "ar" || cfg.SampleRate != 16000 || cfg.Channels != 1 {
		t.Errorf("unexpected stream config %+v", cfg)
	}
}

func TestSTTCapturer_ConvertsFrames(t *testing.T) {
	t.Parallel()

	sess := sttmock.NewSession()
	src := speech.NewChannelSource(audio.Browser, 8)
	src.Push(make([]byte, 100)) // stale, flushed on start

	c := speech.NewSTTCapturer(&sttmock.Provider{Session: sess}, src)
	capture, err := c.StartCapture(context.Background())
	if err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	src.Push(make([]byte, 960)) // 10ms at 48kHz
	waitFor(t, func() bool { return sess.ChunkCount() == 1 })
	capture.Stop()
	_, _ = outcome(t, capture)

	if got := len(sess.Chunks[0]); got != 320 {
		t.Errorf("forwarded %d bytes, want 320 (10ms at 16kHz)", got)
	}
}

func TestSTTCapturer_Cancel(t *testing.T) {
	t.Parallel()

	sess := sttmock.NewSession()
	c := speech.NewSTTCapturer(&sttmock.Provider{Session: sess}, speech.NewChannelSource(audio.Speech, 8))
	ctx, cancel := context.WithCancel(context.Background())
	capture, err := c.StartCapture(ctx)
	if err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	cancel()

	text, err := outcome(t, capture)
	if text != "" || err != nil {
		t.Errorf("cancelled capture delivered text=%q err=%v", text, err)
	}
}

func TestSTTCapturer_Timeout(t *testing.T) {
	t.Parallel()

	sess := sttmock.NewSession()
	sess.OnClose = func(s *sttmock.Session) { s.FinalsCh <- stt.Transcript{Text: "شكرا", IsFinal: true} }
	c := speech.NewSTTCapturer(&sttmock.Provider{Session: sess}, speech.NewChannelSource(audio.Speech, 8),
		speech.WithCaptureTimeout(20*time.Millisecond))

	capture, err := c.StartCapture(context.Background())
	if err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	if text, err := outcome(t, capture); text != "شكرا" || err != nil {
		t.Errorf("got text=%q err=%v", text, err)
	}
}

func TestSTTCapturer_Errors(t *testing.T) {
	t.Parallel()

	t.Run("start stream", func(t *testing.T) {
		t.Parallel()
		p := &sttmock.Provider{StartStreamErr: errors.New("unreachable")}
		c := speech.NewSTTCapturer(p, speech.NewChannelSource(audio.Speech, 8))
		if _, err := c.StartCapture(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("send audio", func(t *testing.T) {
		t.Parallel()
		sess := sttmock.NewSession()
		sess.SendAudioErr = errors.New("broken pipe")
		src := speech.NewChannelSource(audio.Speech, 8)
		c := speech.NewSTTCapturer(&sttmock.Provider{Session: sess}, src)
		capture, err := c.StartCapture(context.Background())
		if err != nil {
			t.Fatalf("StartCapture: %v", err)
		}
		src.Push(make([]byte, 320))
		if _, err := outcome(t, capture); err == nil || errors.Is(err, speech.ErrNoSpeech) {
			t.Errorf("err = %v, want send failure", err)
		}
	})

	t.Run("recognition", func(t *testing.T) {
		t.Parallel()
		sess := sttmock.NewSession()
		sess.CloseErr = errors.New("503")
		c := speech.NewSTTCapturer(&sttmock.Provider{Session: sess}, speech.NewChannelSource(audio.Speech, 8))
		capture, err := c.StartCapture(context.Background())
		if err != nil {
			t.Fatalf("StartCapture: %v", err)
		}
		capture.Stop()
		if _, err := outcome(t, capture); err == nil || errors.Is(err, speech.ErrNoSpeech) {
			t.Errorf("err = %v, want recognition failure", err)
		}
	})
}

func TestTTSSynthesizer(t *testing.T) {
	t.Parallel()

	p := &ttsmock.Provider{Chunks: [][]byte{{1, 0}, {2, 0, 3, 0}}}
	var sink speech.BufferSink
	voice := tts.Voice{ID: "nova", Language: "ar-EG", SpeedFactor: 0.9}
	s := speech.NewTTSSynthesizer(p, &sink, speech.WithVoice(voice))

	if err := s.Speak(context.Background(), "صباح الخير"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	pcm, f := sink.PCM()
	if len(pcm) != 6 || f != audio.Speech {
		t.Errorf("sink got %d bytes in %v", len(pcm), f)
	}
	calls := p.Calls()
	if len(calls) != 1 || calls[0].Text != "صباح الخير" || calls[0].Voice != voice {
		t.Errorf("unexpected calls %+v", calls)
	}
}

func TestTTSSynthesizer_DefaultVoice(t *testing.T) {
	t.Parallel()
	s := speech.NewTTSSynthesizer(&ttsmock.Provider{}, &speech.BufferSink{})
	if v := s.Voice(); v.SpeedFactor != 0.9 || v.Language != "ar-EG" {
		t.Errorf("default voice = %+v", v)
	}
}

func TestTTSSynthesizer_Errors(t *testing.T) {
	t.Parallel()

	p := &ttsmock.Provider{SynthesizeErr: errors.New("down")}
	if err := speech.NewTTSSynthesizer(p, &speech.BufferSink{}).Speak(context.Background(), "x"); err == nil {
		t.Error("expected synthesis error")
	}

	sinkErr := errors.New("socket closed")
	p = &ttsmock.Provider{Chunks: [][]byte{{1, 0}}}
	sink := speech.SinkFunc(func(context.Context, []byte, audio.Format) error { return sinkErr })
	if err := speech.NewTTSSynthesizer(p, sink).Speak(context.Background(), "x"); !errors.Is(err, sinkErr) {
		t.Errorf("err = %v, want sink error", err)
	}
}

func TestTTSSynthesizer_Realtime(t *testing.T) {
	t.Parallel()

	// 100ms of 16kHz mono.
	p := &ttsmock.Provider{Chunks: [][]byte{make([]byte, 3200)}}
	s := speech.NewTTSSynthesizer(p, &speech.BufferSink{}, speech.WithRealtime())

	start := time.Now()
	if err := s.Speak(context.Background(), "x"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("Speak returned after %v, want >= 100ms of playback", elapsed)
	}
}
