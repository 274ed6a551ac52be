package practice_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/kalam/internal/catalog"
	"github.com/MrWong99/kalam/internal/dialogue"
	"github.com/MrWong99/kalam/internal/observe"
	"github.com/MrWong99/kalam/internal/practice"
	"github.com/MrWong99/kalam/internal/scoring"
	"github.com/MrWong99/kalam/internal/speech"
	"github.com/MrWong99/kalam/internal/speech/mock"
)

const (
	cafeID = 1
	taxiID = 2
)

type lookup map[int]dialogue.Scenario

func (l lookup) Scenario(id int) (dialogue.Scenario, error) {
	sc, ok := l[id]
	if !ok {
		return dialogue.Scenario{}, catalog.ErrNotFound
	}
	return sc, nil
}

var scenarios = lookup{
	cafeID: {ID: cafeID, Slug: "at-a-cafe", Lines: []dialogue.Line{
		{ID: 1, Speaker: dialogue.SpeakerAI, Reference: "صباح الخير"},
		{ID: 2, Speaker: dialogue.SpeakerUser, Reference: "صباح النور"},
	}},
	taxiID: {ID: taxiID, Slug: "taking-a-taxi", Lines: []dialogue.Line{
		{ID: 1, Speaker: dialogue.SpeakerUser, Reference: "عايز أروح المتحف"},
		{ID: 2, Speaker: dialogue.SpeakerAI, Reference: "أي متحف؟"},
	}},
}

type fixture struct {
	coach  *practice.Coach
	cap    *mock.Capturer
	synth  *mock.Synthesizer
	reader *sdkmetric.ManualReader
}

func newFixture(t *testing.T, synth *mock.Synthesizer) *fixture {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	if synth == nil {
		synth = &mock.Synthesizer{}
	}
	capt := &mock.Capturer{}
	c := practice.New(scenarios, capt, synth, practice.WithMetrics(m), practice.WithID("test"))
	t.Cleanup(c.Close)
	return &fixture{coach: c, cap: capt, synth: synth, reader: reader}
}

// expect reads the next events and checks their types in order.
func expect(t *testing.T, c *practice.Coach, types ...practice.EventType) []practice.Event {
	t.Helper()
	var got []practice.Event
	for _, want := range types {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				t.Fatalf("event stream closed, want %q", want)
			}
			if ev.Type != want {
				t.Fatalf("event %d = %q, want %q", len(got), ev.Type, want)
			}
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
	return got
}

func expectQuiet(t *testing.T, c *practice.Coach) {
	t.Helper()
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event %q", ev.Type)
	case <-time.After(30 * time.Millisecond):
	}
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestSelect_AIFirstLineIsSpoken(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &mock.Synthesizer{Block: true})
	ctx := context.Background()

	if err := f.coach.Select(ctx, cafeID); err != nil {
		t.Fatalf("Select: %v", err)
	}
	evs := expect(t, f.coach, practice.EventState, practice.EventSpeaking)
	if evs[0].Session.State != dialogue.StateAITurn {
		t.Errorf("state = %v, want ai_turn", evs[0].Session.State)
	}
	if evs[1].Text != "صباح الخير" {
		t.Errorf("speaking text = %q", evs[1].Text)
	}

	if err := f.coach.Listen(ctx); !errors.Is(err, practice.ErrNotUserTurn) {
		t.Errorf("Listen on AI turn = %v, want ErrNotUserTurn", err)
	}
	if err := f.coach.Replay(ctx); !errors.Is(err, practice.ErrBusy) {
		t.Errorf("Replay while speaking = %v, want ErrBusy", err)
	}
	if !f.coach.Speaking() {
		t.Error("Speaking() = false during playback")
	}

	f.synth.Release()
	expect(t, f.coach, practice.EventSpoken)
	if calls := f.synth.Calls(); len(calls) != 1 {
		t.Fatalf("Speak called %d times, want 1", len(calls))
	}

	if err := f.coach.Replay(ctx); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	expect(t, f.coach, practice.EventSpeaking, practice.EventSpoken)
	if calls := f.synth.Calls(); len(calls) != 2 || calls[1] != "صباح الخير" {
		t.Errorf("calls after replay = %v", calls)
	}
}

func TestSelect_UserFirstLineIsNotSpoken(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	if err := f.coach.Select(context.Background(), taxiID); err != nil {
		t.Fatalf("Select: %v", err)
	}
	ev := expect(t, f.coach, practice.EventState)[0]
	if ev.Session.State != dialogue.StateAwaitingInput {
		t.Errorf("state = %v, want awaiting_input", ev.Session.State)
	}
	expectQuiet(t, f.coach)
	if len(f.synth.Calls()) != 0 {
		t.Error("user line was spoken")
	}
	if err := f.coach.Replay(context.Background()); !errors.Is(err, practice.ErrNotAITurn) {
		t.Errorf("Replay on user turn = %v, want ErrNotAITurn", err)
	}
}

func TestSelect_Unknown(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	if err := f.coach.Select(context.Background(), 99); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("Select(99) = %v, want ErrNotFound", err)
	}
	if f.coach.Snapshot().State != dialogue.StateIdle {
		t.Error("failed select changed the session")
	}
}

func TestListen_ScoresResult(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	_ = f.coach.Select(ctx, taxiID)
	expect(t, f.coach, practice.EventState)

	if err := f.coach.Listen(ctx); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	expect(t, f.coach, practice.EventListening)
	if err := f.coach.Listen(ctx); !errors.Is(err, practice.ErrBusy) {
		t.Errorf("second Listen = %v, want ErrBusy", err)
	}
	if _, err := f.coach.Submit(ctx, "x"); !errors.Is(err, practice.ErrBusy) {
		t.Errorf("Submit while listening = %v, want ErrBusy", err)
	}
	if f.cap.Count() != 1 {
		t.Fatalf("captures started = %d, want 1", f.cap.Count())
	}

	f.cap.Last().Resolve("عايز أروح المتحف")
	evs := expect(t, f.coach, practice.EventScored, practice.EventCaptureEnded)
	res := evs[0].Result
	if res.Score != 100 || res.Grade != scoring.GradeExcellent {
		t.Errorf("result = %+v, want 100 excellent", res)
	}
	if evs[0].Transcript != "عايز أروح المتحف" || evs[0].Session.State != dialogue.StateScored {
		t.Errorf("scored event = %+v", evs[0])
	}
	if f.coach.Listening() {
		t.Error("Listening() still true after result")
	}
	if got := counterValue(t, f.reader, "kalam.utterances"); got != 1 {
		t.Errorf("utterances = %d, want 1", got)
	}

	// A retry on the same line is allowed.
	if err := f.coach.Listen(ctx); err != nil {
		t.Fatalf("retry Listen: %v", err)
	}
	expect(t, f.coach, practice.EventListening)
}

func TestListen_CaptureErrorKeepsAwaitingInput(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	_ = f.coach.Select(ctx, taxiID)
	expect(t, f.coach, practice.EventState)
	_ = f.coach.Listen(ctx)
	expect(t, f.coach, practice.EventListening)

	f.cap.Last().Fail(speech.ErrNoSpeech)
	evs := expect(t, f.coach, practice.EventFeedback, practice.EventCaptureEnded)
	if evs[0].Message != practice.MsgCaptureFailed {
		t.Errorf("feedback = %q", evs[0].Message)
	}
	if s := f.coach.Snapshot().State; s != dialogue.StateAwaitingInput {
		t.Errorf("state = %v, want awaiting_input", s)
	}
	if got := counterValue(t, f.reader, "kalam.capture.failures"); got != 1 {
		t.Errorf("capture failures = %d, want 1", got)
	}
}

func TestListen_Unsupported(t *testing.T) {
	t.Parallel()
	c := practice.New(scenarios, speech.NopCapturer{}, speech.NopSynthesizer{})
	t.Cleanup(c.Close)

	_ = c.Select(context.Background(), taxiID)
	if err := c.Listen(context.Background()); !errors.Is(err, speech.ErrUnsupported) {
		t.Fatalf("Listen = %v, want ErrUnsupported", err)
	}
}

func TestStopListening(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	if f.coach.StopListening() {
		t.Error("StopListening with no capture reported true")
	}
	_ = f.coach.Select(ctx, taxiID)
	_ = f.coach.Listen(ctx)
	if !f.coach.StopListening() {
		t.Fatal("StopListening reported false during capture")
	}
	if f.cap.Last().StopCount() != 1 {
		t.Error("capture was not stopped")
	}
}

func TestSynthesisFailureLeavesStateUnchanged(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &mock.Synthesizer{Err: errors.New("tts down")})

	_ = f.coach.Select(context.Background(), cafeID)
	evs := expect(t, f.coach, practice.EventState, practice.EventSpeaking, practice.EventFeedback, practice.EventSpoken)
	if evs[2].Message != practice.MsgPlaybackFailed {
		t.Errorf("feedback = %q", evs[2].Message)
	}
	snap := f.coach.Snapshot()
	if snap.State != dialogue.StateAITurn || snap.Index != 0 {
		t.Errorf("snapshot = %+v, want ai_turn at 0", snap)
	}
}

func TestAdvance(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.coach.Advance(ctx); !errors.Is(err, practice.ErrNoScenario) {
		t.Fatalf("Advance when idle = %v, want ErrNoScenario", err)
	}

	_ = f.coach.Select(ctx, taxiID)
	expect(t, f.coach, practice.EventState)

	finished, err := f.coach.Advance(ctx)
	if err != nil || finished {
		t.Fatalf("Advance = %v, %v", finished, err)
	}
	evs := expect(t, f.coach, practice.EventState, practice.EventSpeaking, practice.EventSpoken)
	if evs[0].Session.Index != 1 || !evs[0].Session.LastTurn {
		t.Errorf("after advance: %+v", evs[0].Session)
	}
	if calls := f.synth.Calls(); len(calls) != 1 || calls[0] != "أي متحف؟" {
		t.Errorf("spoken = %v", calls)
	}

	finished, err = f.coach.Advance(ctx)
	if err != nil || !finished {
		t.Fatalf("Advance at last line = %v, %v; want finished", finished, err)
	}
	expect(t, f.coach, practice.EventFinished)
	if f.coach.Snapshot().Index != 1 {
		t.Error("Advance at last line moved the index")
	}
}

func TestAdvance_CancelsCapture(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	_ = f.coach.Select(ctx, taxiID)
	_ = f.coach.Listen(ctx)
	expect(t, f.coach, practice.EventState, practice.EventListening)

	if _, err := f.coach.Advance(ctx); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	expect(t, f.coach, practice.EventCaptureEnded, practice.EventState)

	// A late result of the cancelled capture is ignored.
	f.cap.Last().Resolve("عايز أروح المتحف")
	time.Sleep(20 * time.Millisecond)
	if snap := f.coach.Snapshot(); snap.Score != nil || snap.Index != 1 {
		t.Errorf("cancelled capture changed the session: %+v", snap)
	}
}

func TestReset_CancelsCapture(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	_ = f.coach.Select(ctx, taxiID)
	_ = f.coach.Listen(ctx)
	expect(t, f.coach, practice.EventState, practice.EventListening)

	f.coach.Reset()
	evs := expect(t, f.coach, practice.EventCaptureEnded, practice.EventState)
	if evs[1].Session.State != dialogue.StateIdle {
		t.Errorf("state after reset = %v", evs[1].Session.State)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !f.cap.Last().Ended() {
		if time.Now().After(deadline) {
			t.Fatal("capture context was not cancelled")
		}
		time.Sleep(5 * time.Millisecond)
	}
	expectQuiet(t, f.coach)
}

func TestSubmit(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	_ = f.coach.Select(ctx, cafeID)
	expect(t, f.coach, practice.EventState, practice.EventSpeaking, practice.EventSpoken)
	if _, err := f.coach.Submit(ctx, "صباح النور"); !errors.Is(err, practice.ErrNotUserTurn) {
		t.Fatalf("Submit on AI turn = %v, want ErrNotUserTurn", err)
	}

	_, _ = f.coach.Advance(ctx)
	expect(t, f.coach, practice.EventState)

	if _, err := f.coach.Submit(ctx, strings.Repeat("ا", scoring.MaxRunes+1)); !errors.Is(err, practice.ErrTooLong) {
		t.Fatalf("Submit oversized = %v, want ErrTooLong", err)
	}
	if st := f.coach.Snapshot().State; st != dialogue.StateAwaitingInput {
		t.Errorf("state after oversized submit = %v, want awaiting input", st)
	}

	res, err := f.coach.Submit(ctx, "صباح الخير")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Score != 80 || res.Grade != scoring.GradeExcellent {
		t.Errorf("result = %+v, want 80 excellent", res)
	}
	expect(t, f.coach, practice.EventScored)
}

func TestClose(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &mock.Synthesizer{Block: true})
	ctx := context.Background()

	_ = f.coach.Select(ctx, cafeID)
	f.coach.Close()
	f.coach.Close()

	// Drain whatever was emitted before Close; the channel must be closed.
	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-f.coach.Events():
			if !ok {
				if err := f.coach.Select(ctx, cafeID); !errors.Is(err, practice.ErrClosed) {
					t.Errorf("Select after Close = %v, want ErrClosed", err)
				}
				return
			}
		case <-timeout:
			t.Fatal("event channel not closed")
		}
	}
}

func TestCoach_EmbeddedCatalog(t *testing.T) {
	t.Parallel()
	cat, err := catalog.Open(context.Background(), catalog.Embedded())
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	synth := &mock.Synthesizer{}
	c := practice.New(cat, &mock.Capturer{}, synth)
	t.Cleanup(c.Close)

	sc, err := cat.ScenarioBySlug("at-a-cafe")
	if err != nil {
		t.Fatalf("ScenarioBySlug: %v", err)
	}
	if err := c.Select(context.Background(), sc.ID); err != nil {
		t.Fatalf("Select: %v", err)
	}
	expect(t, c, practice.EventState, practice.EventSpeaking, practice.EventSpoken)
	if calls := synth.Calls(); len(calls) != 1 || calls[0] != "صباح الخير" {
		t.Errorf("spoken = %v", calls)
	}
}
