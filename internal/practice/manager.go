package practice

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/kalam/internal/observe"
	"github.com/MrWong99/kalam/internal/scoring"
	"github.com/MrWong99/kalam/internal/speech"
)

// ErrTooManySessions is returned by [Manager.Start] when the session limit
// has been reached.
var ErrTooManySessions = errors.New("practice: too many sessions")

// SessionInfo describes an active practice session.
type SessionInfo struct {
	// ID is the coach id.
	ID string `json:"id"`

	// Remote identifies the client, usually its address.
	Remote string `json:"remote,omitempty"`

	StartedAt time.Time `json:"started_at"`

	// State is the dialogue state name and ScenarioID the selected scenario
	// (zero when idle).
	State      string `json:"state"`
	ScenarioID int    `json:"scenario_id,omitempty"`
}

// ManagerConfig holds the dependencies shared by every session of a
// [Manager].
type ManagerConfig struct {
	Scenarios ScenarioLookup

	// MaxSessions caps concurrent sessions. Zero means unlimited.
	MaxSessions int

	// Bands are the initial feedback bands. Zero value means
	// scoring.DefaultBands.
	Bands scoring.Bands

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

type managedSession struct {
	coach     *Coach
	remote    string
	startedAt time.Time
}

// Manager tracks the practice sessions of a server. Each connected learner
// gets their own [Coach]; the manager owns its lifetime from Start until
// Stop or Shutdown. All methods are safe for concurrent use.
type Manager struct {
	scenarios ScenarioLookup
	max       int
	metrics   *observe.Metrics
	log       *slog.Logger

	mu       sync.Mutex
	bands    scoring.Bands
	sessions map[string]*managedSession
	closed   bool
}

// NewManager returns an empty manager.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		scenarios: cfg.Scenarios,
		max:       cfg.MaxSessions,
		metrics:   cmp.Or(cfg.Metrics, observe.DefaultMetrics()),
		log:       cmp.Or(cfg.Logger, slog.Default()),
		bands:     cfg.Bands,
		sessions:  make(map[string]*managedSession),
	}
	if m.bands == (scoring.Bands{}) {
		m.bands = scoring.DefaultBands
	}
	return m
}

// SetBands changes the feedback bands for sessions started afterwards.
func (m *Manager) SetBands(b scoring.Bands) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bands = b
}

// Bands returns the bands new sessions start with.
func (m *Manager) Bands() scoring.Bands {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bands
}

// Start creates a coach for a new learner. opts are applied after the
// manager's defaults, so callers may override the id, bands or logger.
func (m *Manager) Start(ctx context.Context, remote string, capturer speech.Capturer, synth speech.Synthesizer, opts ...Option) (*Coach, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.max > 0 && len(m.sessions) >= m.max {
		return nil, ErrTooManySessions
	}

	base := []Option{
		WithID(uuid.NewString()),
		WithBands(m.bands),
		WithMetrics(m.metrics),
		WithLogger(m.log),
	}
	c := New(m.scenarios, capturer, synth, append(base, opts...)...)
	if _, dup := m.sessions[c.ID()]; dup {
		c.Close()
		return nil, errors.New("practice: duplicate session id " + c.ID())
	}

	m.sessions[c.ID()] = &managedSession{coach: c, remote: remote, startedAt: time.Now().UTC()}
	m.metrics.ActiveSessions.Add(ctx, 1)
	m.log.Info("practice session started", "session_id", c.ID(), "remote", remote, "active", len(m.sessions))
	return c, nil
}

// Stop closes and forgets the session with the given id. It reports whether
// the session existed.
func (m *Manager) Stop(ctx context.Context, id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	active := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return false
	}
	s.coach.Close()
	m.metrics.ActiveSessions.Add(ctx, -1)
	m.log.Info("practice session stopped", "session_id", id,
		"duration", time.Since(s.startedAt).Round(time.Millisecond), "active", active)
	return true
}

// Coach returns the coach with the given id.
func (m *Manager) Coach(id string) (*Coach, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return s.coach, true
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sessions lists the active sessions ordered by start time.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	list := make([]*managedSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.Unlock()

	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		snap := s.coach.Snapshot()
		out = append(out, SessionInfo{
			ID:         s.coach.ID(),
			Remote:     s.remote,
			StartedAt:  s.startedAt,
			State:      snap.State.String(),
			ScenarioID: snap.ScenarioID,
		})
	}
	slices.SortFunc(out, func(a, b SessionInfo) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Shutdown stops every session and rejects new ones. It returns ctx's error
// if the deadline passes before all coaches have closed.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for i, id := range ids {
		select {
		case <-ctx.Done():
			m.log.Warn("practice shutdown deadline exceeded", "remaining", len(ids)-i)
			return ctx.Err()
		default:
		}
		m.Stop(context.WithoutCancel(ctx), id)
	}
	return nil
}
