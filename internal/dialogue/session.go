// Package dialogue implements the turn-by-turn state machine of a scripted
// speaking-practice conversation.
//
// A [Session] walks through the lines of a [Scenario]. AI lines are meant to
// be played to the learner; user lines are meant to be spoken by the learner
// and are scored against their reference text. The session itself performs no
// I/O and holds no locks: callers that share a Session between goroutines must
// serialise access themselves.
package dialogue

import (
	"errors"

	"github.com/MrWong99/kalam/internal/scoring"
)

// ErrInvalidScenario is returned by [Session.SelectScenario] when the scenario
// has no lines.
var ErrInvalidScenario = errors.New("dialogue: scenario has no lines")

// ScoreFunc compares a spoken transcript against a reference and returns a
// similarity in [0, 100].
type ScoreFunc func(spoken, reference string) int

// Option configures a [Session].
type Option func(*Session)

// WithScorer replaces the default [scoring.Score] similarity function.
func WithScorer(fn ScoreFunc) Option {
	return func(s *Session) {
		if fn != nil {
			s.scorer = fn
		}
	}
}

// Session is the mutable progress of one practice run.
type Session struct {
	scorer ScoreFunc

	scenario *Scenario
	index    int

	transcript string
	score      int
	recorded   bool
}

// NewSession returns an idle session.
func NewSession(opts ...Option) *Session {
	s := &Session{scorer: scoring.Score}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SelectScenario starts sc from its first line, discarding any previous
// progress. It is permitted in every state. A scenario without lines is
// rejected with [ErrInvalidScenario] and leaves the session untouched.
func (s *Session) SelectScenario(sc Scenario) error {
	if len(sc.Lines) == 0 {
		return ErrInvalidScenario
	}
	s.scenario = &sc
	s.index = 0
	s.clearTurn()
	return nil
}

// RecordUtterance stores text as the learner's attempt at the current line and
// scores it. It only has an effect while the current line belongs to the
// learner; in any other state it does nothing and returns false. Recording
// again on the same line replaces the previous attempt. An empty transcript
// is recorded and scored like any other.
func (s *Session) RecordUtterance(text string) bool {
	line, ok := s.CurrentLine()
	if !ok || line.Speaker != SpeakerUser {
		return false
	}
	s.transcript = text
	s.score = s.scorer(text, line.Reference)
	s.recorded = true
	return true
}

// Advance moves to the next line and clears the per-turn transcript and
// score. It returns false, changing nothing, when idle or already at the last
// line. Advancing does not require the current user line to be scored.
func (s *Session) Advance() bool {
	if s.scenario == nil || s.IsLastTurn() {
		return false
	}
	s.index++
	s.clearTurn()
	return true
}

// Reset returns the session to idle.
func (s *Session) Reset() {
	s.scenario = nil
	s.index = 0
	s.clearTurn()
}

func (s *Session) clearTurn() {
	s.transcript = ""
	s.score = 0
	s.recorded = false
}

// State derives the current phase from the session's fields.
func (s *Session) State() State {
	line, ok := s.CurrentLine()
	switch {
	case !ok:
		return StateIdle
	case line.Speaker == SpeakerAI:
		return StateAITurn
	case s.recorded:
		return StateScored
	default:
		return StateAwaitingInput
	}
}

// Scenario returns the selected scenario, if any.
func (s *Session) Scenario() (Scenario, bool) {
	if s.scenario == nil {
		return Scenario{}, false
	}
	return *s.scenario, true
}

// Index returns the zero-based position of the current line.
func (s *Session) Index() int { return s.index }

// CurrentLine returns the line at the current index. It reports false when no
// scenario is selected.
func (s *Session) CurrentLine() (Line, bool) {
	if s.scenario == nil {
		return Line{}, false
	}
	return s.scenario.Lines[s.index], true
}

// IsLastTurn reports whether the current line is the final line of the
// selected scenario. It is false when idle.
func (s *Session) IsLastTurn() bool {
	return s.scenario != nil && s.index == len(s.scenario.Lines)-1
}

// Transcript returns the recorded attempt for the current line.
func (s *Session) Transcript() (string, bool) {
	return s.transcript, s.recorded
}

// Score returns the score of the recorded attempt for the current line.
func (s *Session) Score() (int, bool) {
	return s.score, s.recorded
}

// Snapshot is a serialisable view of a session.
type Snapshot struct {
	State      State  `json:"state"`
	ScenarioID int    `json:"scenario_id,omitempty"`
	Index      int    `json:"index"`
	Total      int    `json:"total"`
	Line       *Line  `json:"line,omitempty"`
	LastTurn   bool   `json:"last_turn"`
	Transcript string `json:"transcript,omitempty"`
	Score      *int   `json:"score,omitempty"`
}

// Snapshot captures the session's current view.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{State: s.State(), Index: s.index, LastTurn: s.IsLastTurn()}
	if s.scenario != nil {
		snap.ScenarioID = s.scenario.ID
		snap.Total = len(s.scenario.Lines)
		line := s.scenario.Lines[s.index]
		snap.Line = &line
	}
	if s.recorded {
		score := s.score
		snap.Transcript = s.transcript
		snap.Score = &score
	}
	return snap
}
