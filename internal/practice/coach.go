// Package practice runs a guided conversation for one learner.
//
// A [Coach] owns a dialogue session together with the learner's speech
// collaborators. It serialises every call into the session, allows at most
// one capture and one playback at a time, and reports what happens as a
// stream of [Event] values.
package practice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/MrWong99/kalam/internal/dialogue"
	"github.com/MrWong99/kalam/internal/observe"
	"github.com/MrWong99/kalam/internal/scoring"
	"github.com/MrWong99/kalam/internal/speech"
)

var (
	// ErrBusy is returned when a capture or playback is already in flight.
	ErrBusy = errors.New("practice: busy")

	// ErrNotUserTurn is returned by Listen and Submit when the current line
	// is not the learner's.
	ErrNotUserTurn = errors.New("practice: not the learner's turn")

	// ErrNotAITurn is returned by Replay when the current line is the
	// learner's.
	ErrNotAITurn = errors.New("practice: not the partner's turn")

	// ErrNoScenario is returned when no scenario is selected.
	ErrNoScenario = errors.New("practice: no scenario selected")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("practice: coach closed")

	// ErrTooLong is returned by Submit for a transcript over
	// scoring.MaxRunes runes.
	ErrTooLong = errors.New("practice: transcript too long")
)

// ScenarioLookup resolves scenario ids. *catalog.Catalog implements it.
type ScenarioLookup interface {
	Scenario(id int) (dialogue.Scenario, error)
}

// Option configures a Coach.
type Option func(*Coach)

// WithID sets the session id used in logs. Defaults to a random UUID.
func WithID(id string) Option {
	return func(c *Coach) { c.id = id }
}

// WithBands sets the feedback bands.
func WithBands(b scoring.Bands) Option {
	return func(c *Coach) { c.bands = b }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coach) { c.metrics = m }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coach) { c.log = l }
}

// WithEventBuffer sets the capacity of the event channel. Default 64.
func WithEventBuffer(n int) Option {
	return func(c *Coach) { c.eventBuf = n }
}

// Coach drives one learner's practice session.
//
// Events must be drained by a goroutine that does not itself call Coach
// methods; a full event buffer blocks the coach until it is read.
type Coach struct {
	id        string
	scenarios ScenarioLookup
	capturer  speech.Capturer
	synth     speech.Synthesizer
	bands     scoring.Bands
	metrics   *observe.Metrics
	log       *slog.Logger
	eventBuf  int

	mu       sync.Mutex
	session  *dialogue.Session
	scenario string
	closed   bool

	capture       speech.Capture
	captureCancel context.CancelFunc
	captureGen    int

	speakCancel context.CancelFunc
	speakGen    int

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
}

// New returns a coach over scenarios using the given speech collaborators.
// Pass speech.NopCapturer or speech.NopSynthesizer when a capability is not
// available.
func New(scenarios ScenarioLookup, capturer speech.Capturer, synth speech.Synthesizer, opts ...Option) *Coach {
	c := &Coach{
		scenarios: scenarios,
		capturer:  capturer,
		synth:     synth,
		bands:     scoring.DefaultBands,
		eventBuf:  64,
		session:   dialogue.NewSession(),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.id == "" {
		c.id = uuid.NewString()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("session_id", c.id)
	c.events = make(chan Event, c.eventBuf)
	return c
}

// ID returns the session id.
func (c *Coach) ID() string { return c.id }

// Events returns the event stream. It is closed by Close.
func (c *Coach) Events() <-chan Event { return c.events }

// Snapshot returns the current session view.
func (c *Coach) Snapshot() dialogue.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Snapshot()
}

// Listening reports whether a capture is pending.
func (c *Coach) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capture != nil
}

// Speaking reports whether playback is in progress.
func (c *Coach) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speakCancel != nil
}

// Select starts the scenario with the given id from its first line. Any
// capture or playback in flight is cancelled. When the first line is the
// partner's, it is spoken.
func (c *Coach) Select(ctx context.Context, scenarioID int) error {
	sc, err := c.scenarios.Scenario(scenarioID)
	if err != nil {
		return fmt.Errorf("practice: select scenario %d: %w", scenarioID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.cancelCaptureLocked()
	c.cancelSpeechLocked()
	if err := c.session.SelectScenario(sc); err != nil {
		return fmt.Errorf("practice: select scenario %d: %w", scenarioID, err)
	}
	c.scenario = sc.Slug
	c.log.Info("scenario selected", "scenario", sc.Slug, "lines", len(sc.Lines))
	c.emitStateLocked()
	c.speakCurrentLocked(ctx)
	return nil
}

// Listen starts capturing the learner's attempt at the current line. The
// attempt is scored when the capture resolves.
func (c *Coach) Listen(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.session.State() != dialogue.StateAwaitingInput && c.session.State() != dialogue.StateScored {
		return ErrNotUserTurn
	}
	if c.capture != nil {
		return ErrBusy
	}

	cctx, cancel := context.WithCancel(c.tagLocked(ctx))
	capture, err := c.capturer.StartCapture(cctx)
	if err != nil {
		cancel()
		reason := "start"
		if errors.Is(err, speech.ErrUnsupported) {
			reason = "unsupported"
		}
		c.metrics.RecordCaptureFailure(ctx, reason)
		return fmt.Errorf("practice: listen: %w", err)
	}

	c.captureGen++
	c.capture = capture
	c.captureCancel = cancel
	c.emitLocked(Event{Type: EventListening})

	gen := c.captureGen
	c.wg.Add(1)
	go c.awaitCapture(ctx, gen, capture)
	return nil
}

// StopListening ends audio input of the pending capture. What was heard is
// still recognised and scored. It reports whether a capture was pending.
func (c *Coach) StopListening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capture == nil {
		return false
	}
	c.capture.Stop()
	return true
}

// Submit records text as the learner's attempt, for clients that run speech
// recognition themselves.
func (c *Coach) Submit(ctx context.Context, text string) (scoring.Result, error) {
	if utf8.RuneCountInString(text) > scoring.MaxRunes {
		return scoring.Result{}, ErrTooLong
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return scoring.Result{}, ErrClosed
	}
	if c.capture != nil {
		return scoring.Result{}, ErrBusy
	}
	res, ok := c.recordLocked(ctx, text)
	if !ok {
		return scoring.Result{}, ErrNotUserTurn
	}
	return res, nil
}

// Advance moves to the next line, cancelling any capture or playback, and
// speaks it when it is the partner's. At the last line nothing moves and
// finished is true.
func (c *Coach) Advance(ctx context.Context) (finished bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrClosed
	}
	if _, ok := c.session.Scenario(); !ok {
		return false, ErrNoScenario
	}
	if !c.session.Advance() {
		c.emitLocked(Event{Type: EventFinished, Message: MsgConversationEnd})
		return true, nil
	}
	c.cancelCaptureLocked()
	c.cancelSpeechLocked()
	c.emitStateLocked()
	c.speakCurrentLocked(ctx)
	return false, nil
}

// Replay speaks the current partner line again.
func (c *Coach) Replay(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	switch c.session.State() {
	case dialogue.StateIdle:
		return ErrNoScenario
	case dialogue.StateAITurn:
	default:
		return ErrNotAITurn
	}
	if c.speakCancel != nil {
		return ErrBusy
	}
	c.speakCurrentLocked(ctx)
	return nil
}

// Reset cancels any capture or playback and returns the session to idle.
func (c *Coach) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.cancelCaptureLocked()
	c.cancelSpeechLocked()
	c.session.Reset()
	c.emitStateLocked()
}

// Close cancels outstanding work, waits for it to finish and closes the
// event channel. Safe to call more than once.
func (c *Coach) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.cancelCaptureLocked()
	c.cancelSpeechLocked()
	c.mu.Unlock()

	c.wg.Wait()
	close(c.events)
}

// awaitCapture waits for capture to end and applies its outcome, unless a
// newer capture or a cancellation has superseded it.
func (c *Coach) awaitCapture(ctx context.Context, gen int, capture speech.Capture) {
	defer c.wg.Done()
	<-capture.Done()

	var (
		text     string
		resolved bool
		err      error
	)
	select {
	case text = <-capture.Result():
		resolved = true
	default:
		select {
		case err = <-capture.Err():
		default:
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.captureGen || c.capture == nil {
		return
	}
	c.captureCancel()
	c.capture = nil
	c.captureCancel = nil

	switch {
	case resolved:
		c.recordLocked(ctx, text)
	case err != nil:
		c.log.Info("capture failed", "err", err)
		reason := "error"
		if errors.Is(err, speech.ErrNoSpeech) {
			reason = "no_speech"
		}
		c.metrics.RecordCaptureFailure(ctx, reason)
		c.emitLocked(Event{Type: EventFeedback, Message: MsgCaptureFailed})
	}
	c.emitLocked(Event{Type: EventCaptureEnded})
}

// recordLocked scores text against the current line and emits the result.
func (c *Coach) recordLocked(ctx context.Context, text string) (scoring.Result, bool) {
	if !c.session.RecordUtterance(text) {
		return scoring.Result{}, false
	}
	score, _ := c.session.Score()
	res := c.bands.Result(score)

	sc, _ := c.session.Scenario()
	c.metrics.RecordUtterance(ctx, sc.Slug, res.Grade.String(), res.Score)
	c.log.Debug("attempt scored", "scenario", sc.Slug, "line", c.session.Index(), "score", res.Score)

	snap := c.session.Snapshot()
	c.emitLocked(Event{Type: EventScored, Session: &snap, Result: &res, Transcript: text})
	return res, true
}

// tagLocked marks ctx with the session and scenario for spans and logs.
func (c *Coach) tagLocked(ctx context.Context) context.Context {
	ctx = observe.WithSession(ctx, c.id)
	if c.scenario != "" {
		ctx = observe.WithScenario(ctx, c.scenario)
	}
	return ctx
}

// speakCurrentLocked starts playback of the current line if it is the
// partner's.
func (c *Coach) speakCurrentLocked(ctx context.Context) {
	line, ok := c.session.CurrentLine()
	if !ok || line.Speaker != dialogue.SpeakerAI {
		return
	}

	sctx, cancel := context.WithCancel(c.tagLocked(ctx))
	c.speakGen++
	c.speakCancel = cancel
	gen := c.speakGen
	c.emitLocked(Event{Type: EventSpeaking, Text: line.Reference})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		err := c.synth.Speak(sctx, line.Reference)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed || gen != c.speakGen {
			return
		}
		c.speakCancel = nil
		if err != nil && !errors.Is(err, context.Canceled) {
			c.log.Warn("playback failed", "err", err)
			c.emitLocked(Event{Type: EventFeedback, Message: MsgPlaybackFailed})
		}
		c.emitLocked(Event{Type: EventSpoken, Text: line.Reference})
	}()
}

func (c *Coach) cancelCaptureLocked() {
	if c.capture == nil {
		return
	}
	c.captureCancel()
	c.capture = nil
	c.captureCancel = nil
	c.captureGen++
	c.emitLocked(Event{Type: EventCaptureEnded})
}

func (c *Coach) cancelSpeechLocked() {
	if c.speakCancel == nil {
		return
	}
	c.speakCancel()
	c.speakCancel = nil
	c.speakGen++
	c.emitLocked(Event{Type: EventSpoken})
}

func (c *Coach) emitStateLocked() {
	snap := c.session.Snapshot()
	c.emitLocked(Event{Type: EventState, Session: &snap})
}

// emitLocked sends ev, blocking while the buffer is full. Events emitted
// after Close are dropped.
func (c *Coach) emitLocked(ev Event) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.events <- ev:
	case <-c.done:
	}
}
