package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var (
	errRefused = errors.New("dial tcp 127.0.0.1:5002: connection refused")
	errSpeak   = fmt.Errorf("speak: %w", context.Canceled)
)

// outcome is one call made through a breaker guarding a speech backend.
type outcome struct {
	err     error         // returned by the backend; nil is success
	after   time.Duration // sleep before the call
	wantErr error         // expected from Execute; nil means err itself
	want    State         // State() after the call
}

func TestCircuitBreaker_Sequences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		cfg   CircuitBreakerConfig
		calls []outcome
	}{
		{
			name: "whisper down opens after max failures",
			cfg:  CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Hour},
			calls: []outcome{
				{err: errRefused, want: StateClosed},
				{err: errRefused, want: StateClosed},
				{err: errRefused, want: StateOpen},
				{wantErr: ErrCircuitOpen, want: StateOpen},
			},
		},
		{
			name: "a transcript in between resets the count",
			cfg:  CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Hour},
			calls: []outcome{
				{err: errRefused, want: StateClosed},
				{err: errRefused, want: StateClosed},
				{want: StateClosed},
				{err: errRefused, want: StateClosed},
				{err: errRefused, want: StateClosed},
			},
		},
		{
			name: "coqui recovers through half-open trials",
			cfg:  CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: 50 * time.Millisecond, HalfOpenMax: 2},
			calls: []outcome{
				{err: errRefused, want: StateClosed},
				{err: errRefused, want: StateOpen},
				{after: 60 * time.Millisecond, want: StateHalfOpen},
				{want: StateClosed},
			},
		},
		{
			name: "failed half-open trial reopens",
			cfg:  CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: 50 * time.Millisecond, HalfOpenMax: 3},
			calls: []outcome{
				{err: errRefused, want: StateClosed},
				{err: errRefused, want: StateOpen},
				{after: 60 * time.Millisecond, err: errRefused, want: StateOpen},
				{wantErr: ErrCircuitOpen, want: StateOpen},
			},
		},
		{
			name: "learner cancellations do not count",
			cfg:  CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
			calls: []outcome{
				{err: errSpeak, want: StateClosed},
				{err: errSpeak, want: StateClosed},
				{err: errSpeak, want: StateClosed},
			},
		},
		{
			name: "custom IsFailure counts cancellations",
			cfg: CircuitBreakerConfig{
				MaxFailures:  1,
				ResetTimeout: time.Hour,
				IsFailure:    func(error) bool { return true },
			},
			calls: []outcome{
				{err: errSpeak, want: StateOpen},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cb := NewCircuitBreaker(tt.cfg)
			for i, c := range tt.calls {
				time.Sleep(c.after)
				err := cb.Execute(func() error { return c.err })
				want := c.wantErr
				if want == nil {
					want = c.err
				}
				if !errors.Is(err, want) {
					t.Fatalf("call %d: err = %v, want %v", i, err, want)
				}
				if got := cb.State(); got != c.want {
					t.Fatalf("call %d: state = %v, want %v", i, got, c.want)
				}
			}
		})
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "whisper"})
	if cb.maxFailures != 5 || cb.resetTimeout != 30*time.Second || cb.halfOpenMax != 3 {
		t.Errorf("defaults = %d/%v/%d, want 5/30s/3", cb.maxFailures, cb.resetTimeout, cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "coqui", MaxFailures: 1, ResetTimeout: time.Hour})
	_ = cb.Execute(func() error { return errRefused })
	if cb.State() != StateOpen {
		t.Fatal("breaker did not open")
	}
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v after Reset, want closed", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Execute after Reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(99):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	t.Parallel()
	var (
		mu          sync.Mutex
		transitions []string
	)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "openai",
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  1,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	_ = cb.Execute(func() error { return errRefused })
	time.Sleep(15 * time.Millisecond)
	_ = cb.Execute(func() error { return nil })

	want := []string{
		"openai:closed->open",
		"openai:open->half-open",
		"openai:half-open->closed",
	}
	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(transitions) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
}
