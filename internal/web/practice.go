package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/kalam/internal/catalog"
	"github.com/MrWong99/kalam/internal/observe"
	"github.com/MrWong99/kalam/internal/practice"
	"github.com/MrWong99/kalam/internal/speech"
	"github.com/MrWong99/kalam/pkg/audio"
)

// Client message types on /ws/practice.
const (
	msgSelect     = "select"
	msgListen     = "listen"
	msgStop       = "stop"
	msgTranscript = "transcript"
	msgAdvance    = "advance"
	msgReplay     = "replay"
	msgReset      = "reset"
	msgPing       = "ping"
)

// wsReadLimit bounds a single client frame; microphone frames are small.
const wsReadLimit = 1 << 20

type clientMessage struct {
	Type       string `json:"type"`
	ScenarioID int    `json:"scenario_id,omitempty"`
	Text       string `json:"text,omitempty"`
}

// helloMessage is the first message on every practice connection.
type helloMessage struct {
	Type            string        `json:"type"`
	SessionID       string        `json:"session_id"`
	ServerCapture   bool          `json:"server_capture"`
	ServerSynthesis bool          `json:"server_synthesis"`
	InputFormat     audio.Format  `json:"input_format"`
	OutputFormat    *audio.Format `json:"output_format,omitempty"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Request string `json:"request,omitempty"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

type ackMessage struct {
	Type    string `json:"type"`
	Request string `json:"request"`
	OK      bool   `json:"ok"`
}

// wsSink writes synthesised PCM to the websocket as binary messages in a
// fixed format.
type wsSink struct {
	conn   *websocket.Conn
	format audio.Format
}

func (s *wsSink) WriteAudio(ctx context.Context, pcm []byte, format audio.Format) error {
	out, err := audio.Convert(pcm, format, s.format)
	if err != nil {
		return err
	}
	return s.conn.Write(ctx, websocket.MessageBinary, out)
}

// handlePractice runs one learner's practice session over a websocket.
//
// Text messages are JSON commands (see clientMessage); binary messages are
// 16-bit little-endian microphone PCM at the rate given by the "rate" query
// parameter (default 48000, mono). The server sends a hello message, then
// every coach event as JSON, and partner speech as binary PCM in the
// announced output format.
func (s *Server) handlePractice(w http.ResponseWriter, r *http.Request) {
	in := audio.Browser
	if v := r.URL.Query().Get("rate"); v != "" {
		rate, err := strconv.Atoi(v)
		if err != nil || rate < 8000 || rate > 96000 {
			writeError(w, http.StatusBadRequest, "rate must be between 8000 and 96000")
			return
		}
		in.SampleRate = rate
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedOrigins})
	if err != nil {
		s.log.Warn("websocket accept failed", "err", err, "remote", r.RemoteAddr)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(wsReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	settings := s.speechSettings()
	source := speech.NewChannelSource(in, 0)
	hello := helloMessage{Type: "hello", InputFormat: in}

	var capturer speech.Capturer = speech.NopCapturer{}
	if s.cfg.STT != nil {
		opts := []speech.CapturerOption{speech.WithCapturerMetrics(s.cfg.Metrics)}
		if settings.Language != "" {
			opts = append(opts, speech.WithLanguage(settings.Language))
		}
		if settings.CaptureTimeout > 0 {
			opts = append(opts, speech.WithCaptureTimeout(settings.CaptureTimeout))
		}
		capturer = speech.NewSTTCapturer(s.cfg.STT, source, opts...)
		hello.ServerCapture = true
	}

	order := newSpeechOrder()
	var synth speech.Synthesizer = speech.NopSynthesizer{}
	if s.cfg.TTS != nil {
		out := s.cfg.TTS.Format()
		synth = &orderedSynthesizer{
			Synthesizer: speech.NewTTSSynthesizer(s.cfg.TTS, &wsSink{conn: conn, format: out},
				speech.WithVoice(settings.Voice),
				speech.WithRealtime(),
				speech.WithSynthesizerMetrics(s.cfg.Metrics),
			),
			order: order,
		}
		hello.ServerSynthesis = true
		hello.OutputFormat = &out
	}

	coach, err := s.cfg.Sessions.Start(ctx, r.RemoteAddr, capturer, synth, practice.WithLogger(s.log))
	if err != nil {
		if errors.Is(err, practice.ErrTooManySessions) {
			conn.Close(websocket.StatusTryAgainLater, "too many sessions")
			return
		}
		s.log.Error("start practice session failed", "err", err)
		conn.Close(websocket.StatusInternalError, "session unavailable")
		return
	}
	ctx = observe.WithSession(ctx, coach.ID())
	log := observe.Logger(ctx)
	hello.SessionID = coach.ID()

	if err := wsjson.Write(ctx, conn, hello); err != nil {
		s.cfg.Sessions.Stop(context.WithoutCancel(ctx), coach.ID())
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeEvents(ctx, cancel, conn, coach, order, log)
	}()

	s.readCommands(ctx, conn, coach, source, log)

	cancel()
	s.cfg.Sessions.Stop(context.WithoutCancel(ctx), coach.ID())
	wg.Wait()
	conn.Close(websocket.StatusNormalClosure, "session ended")
	log.Debug("practice connection closed", "dropped_frames", source.Dropped())
}

// writeEvents forwards coach events until the coach is closed. After a
// write failure it keeps draining so the coach never blocks.
func (s *Server) writeEvents(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, coach *practice.Coach, order *speechOrder, log *slog.Logger) {
	failed := false
	for ev := range coach.Events() {
		if !failed {
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				log.Debug("websocket event write failed", "err", err)
				failed = true
				cancel()
			}
		}
		if ev.Type == practice.EventSpeaking {
			order.announced()
		}
	}
}

// speechOrder holds partner audio back until the client has been sent the
// speaking event of that line. The coach emits exactly one speaking event
// before each Speak call, so the n-th Speak waits for the n-th event.
type speechOrder struct {
	mu      sync.Mutex
	written int
	started int
	changed chan struct{}
}

func newSpeechOrder() *speechOrder {
	return &speechOrder{changed: make(chan struct{})}
}

func (o *speechOrder) announced() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.written++
	close(o.changed)
	o.changed = make(chan struct{})
}

func (o *speechOrder) wait(ctx context.Context) error {
	o.mu.Lock()
	o.started++
	n := o.started
	o.mu.Unlock()
	for {
		o.mu.Lock()
		if o.written >= n {
			o.mu.Unlock()
			return nil
		}
		ch := o.changed
		o.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// orderedSynthesizer starts playback only after its speaking event is out.
type orderedSynthesizer struct {
	speech.Synthesizer
	order *speechOrder
}

func (o *orderedSynthesizer) Speak(ctx context.Context, text string) error {
	if err := o.order.wait(ctx); err != nil {
		return err
	}
	return o.Synthesizer.Speak(ctx, text)
}

func (s *Server) readCommands(ctx context.Context, conn *websocket.Conn, coach *practice.Coach, source *speech.ChannelSource, log *slog.Logger) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				log.Debug("websocket read ended", "err", err)
			}
			return
		}
		if typ == websocket.MessageBinary {
			if coach.Listening() {
				source.Push(data)
			}
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.reply(ctx, conn, errorMessage{Type: "error", Code: "bad_request", Error: "malformed message"})
			continue
		}
		if reply := s.dispatch(ctx, coach, msg); reply != nil {
			s.reply(ctx, conn, reply)
		}
	}
}

// dispatch applies one command. It returns a message for the client when
// the command fails or produces no coach event.
func (s *Server) dispatch(ctx context.Context, coach *practice.Coach, msg clientMessage) any {
	var err error
	switch msg.Type {
	case msgSelect:
		err = coach.Select(ctx, msg.ScenarioID)
	case msgListen:
		err = coach.Listen(ctx)
	case msgStop:
		return ackMessage{Type: "ack", Request: msg.Type, OK: coach.StopListening()}
	case msgTranscript:
		_, err = coach.Submit(ctx, msg.Text)
	case msgAdvance:
		_, err = coach.Advance(ctx)
	case msgReplay:
		err = coach.Replay(ctx)
	case msgReset:
		coach.Reset()
	case msgPing:
		return ackMessage{Type: "pong", Request: msg.Type, OK: true}
	default:
		return errorMessage{Type: "error", Request: msg.Type, Code: "bad_request", Error: "unknown message type"}
	}
	if err != nil {
		return errorMessage{Type: "error", Request: msg.Type, Code: errorCode(err), Error: err.Error()}
	}
	return nil
}

func (s *Server) reply(ctx context.Context, conn *websocket.Conn, v any) {
	if err := wsjson.Write(ctx, conn, v); err != nil {
		s.log.Debug("websocket reply failed", "err", err)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, practice.ErrBusy):
		return "busy"
	case errors.Is(err, practice.ErrNotUserTurn):
		return "not_user_turn"
	case errors.Is(err, practice.ErrNotAITurn):
		return "not_ai_turn"
	case errors.Is(err, practice.ErrNoScenario):
		return "no_scenario"
	case errors.Is(err, practice.ErrClosed):
		return "closed"
	case errors.Is(err, practice.ErrTooLong):
		return "too_long"
	case errors.Is(err, catalog.ErrNotFound):
		return "not_found"
	case errors.Is(err, speech.ErrUnsupported):
		return "unsupported"
	default:
		return "internal"
	}
}
