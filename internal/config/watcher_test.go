package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/kalam/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
providers:
  tts:
    name: coqui
    base_url: http://localhost:5002
practice:
  bands:
    excellent: 80
    good: 60
`

const watcherUpdatedYAML = `
server:
  log_level: debug
providers:
  tts:
    name: coqui
    base_url: http://localhost:5002
practice:
  bands:
    excellent: 85
    good: 65
`

const watcherRestartYAML = `
server:
  log_level: info
  listen_addr: ":9090"
providers:
  tts:
    name: coqui
    base_url: http://localhost:5002
practice:
  bands:
    excellent: 80
    good: 60
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

// noEnv keeps KALAM_* variables of the test process out of reloads.
var noEnv = config.WithWatchEnvironment(map[string]string{})

// manual disables polling so tests drive reloads through Check.
var manual = config.WithInterval(-1)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

// reloadRecorder collects callback invocations.
type reloadRecorder struct {
	mu  sync.Mutex
	got []config.Reload
	ch  chan struct{}
}

func newReloadRecorder() *reloadRecorder {
	return &reloadRecorder{ch: make(chan struct{}, 8)}
}

func (r *reloadRecorder) record(rl config.Reload) {
	r.mu.Lock()
	r.got = append(r.got, rl)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *reloadRecorder) all() []config.Reload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]config.Reload(nil), r.got...)
}

func newWatchedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kalam.yaml")
	writeFile(t, path, content)
	return path
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, err := config.NewWatcher(newWatchedFile(t, watcherValidYAML), nil, manual, noEnv)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("log_level = %q, want %q", got, config.LogInfo)
	}
	if w.Reloads() != 0 {
		t.Errorf("Reloads = %d, want 0", w.Reloads())
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"missing": filepath.Join(t.TempDir(), "nope.yaml"),
		"invalid": newWatchedFile(t, watcherInvalidYAML),
	}
	for name, path := range tests {
		if _, err := config.NewWatcher(path, nil, manual, noEnv); err == nil {
			t.Errorf("%s: NewWatcher succeeded, want error", name)
		}
	}
}

func TestWatcher_Check(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		next        string
		wantChanged bool
		wantErr     bool
		check       func(t *testing.T, rl config.Reload)
	}{
		{
			name:        "hot settings",
			next:        watcherUpdatedYAML,
			wantChanged: true,
			check: func(t *testing.T, rl config.Reload) {
				if rl.Old.Server.LogLevel != config.LogInfo || rl.New.Server.LogLevel != config.LogDebug {
					t.Errorf("old/new log level = %q/%q", rl.Old.Server.LogLevel, rl.New.Server.LogLevel)
				}
				if !rl.Diff.LogLevelChanged || !rl.Diff.BandsChanged || rl.Diff.NewBands.Excellent != 85 {
					t.Errorf("diff = %+v", rl.Diff)
				}
				if len(rl.Diff.RestartRequired) != 0 {
					t.Errorf("restart required = %v, want none", rl.Diff.RestartRequired)
				}
			},
		},
		{
			name:        "restart setting",
			next:        watcherRestartYAML,
			wantChanged: true,
			check: func(t *testing.T, rl config.Reload) {
				if rl.Diff.Changed() {
					t.Errorf("diff reports hot change: %+v", rl.Diff)
				}
				if len(rl.Diff.RestartRequired) != 1 || rl.Diff.RestartRequired[0] != "server.listen_addr" {
					t.Errorf("restart required = %v", rl.Diff.RestartRequired)
				}
			},
		},
		{name: "same content", next: watcherValidYAML},
		{name: "invalid content", next: watcherInvalidYAML, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := newWatchedFile(t, watcherValidYAML)
			rec := newReloadRecorder()
			w, err := config.NewWatcher(path, rec.record, manual, noEnv)
			if err != nil {
				t.Fatalf("NewWatcher: %v", err)
			}
			defer w.Stop()

			writeFile(t, path, tt.next)
			changed, err := w.Check()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Check error = %v, wantErr %v", err, tt.wantErr)
			}
			if changed != tt.wantChanged {
				t.Fatalf("Check changed = %v, want %v", changed, tt.wantChanged)
			}

			got := rec.all()
			if !tt.wantChanged {
				if len(got) != 0 {
					t.Errorf("callback invoked %d times, want 0", len(got))
				}
				if w.Current().Server.LogLevel != config.LogInfo {
					t.Errorf("current config replaced by rejected revision")
				}
				return
			}
			if len(got) != 1 {
				t.Fatalf("callback invoked %d times, want 1", len(got))
			}
			if w.Current() != got[0].New {
				t.Error("Current does not return the reloaded config")
			}
			if w.Reloads() != 1 {
				t.Errorf("Reloads = %d, want 1", w.Reloads())
			}
			tt.check(t, got[0])
		})
	}
}

func TestWatcher_PollDetectsChange(t *testing.T) {
	t.Parallel()
	path := newWatchedFile(t, watcherValidYAML)
	rec := newReloadRecorder()
	w, err := config.NewWatcher(path, rec.record, config.WithInterval(20*time.Millisecond), noEnv)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	// Force a distinct mtime on coarse filesystems.
	writeFile(t, path, watcherUpdatedYAML)
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	select {
	case <-rec.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not pick up the change")
	}
	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("log_level = %q, want debug", got)
	}
}

func TestWatcher_PollIgnoresTouch(t *testing.T) {
	t.Parallel()
	path := newWatchedFile(t, watcherValidYAML)
	rec := newReloadRecorder()
	w, err := config.NewWatcher(path, rec.record, config.WithInterval(20*time.Millisecond), noEnv)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	if n := len(rec.all()); n != 0 {
		t.Errorf("callback invoked %d times for a touch", n)
	}
}

func TestWatcher_AppliesEnvironmentOnReload(t *testing.T) {
	t.Parallel()
	path := newWatchedFile(t, watcherValidYAML)
	rec := newReloadRecorder()
	environ := map[string]string{"KALAM_TTS_API_KEY": "from-env"}
	w, err := config.NewWatcher(path, rec.record, manual, config.WithWatchEnvironment(environ))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Providers.TTS.APIKey; got != "from-env" {
		t.Errorf("initial api_key = %q, want from-env", got)
	}
	writeFile(t, path, watcherUpdatedYAML)
	if _, err := w.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got := w.Current().Providers.TTS.APIKey; got != "from-env" {
		t.Errorf("reloaded api_key = %q, want from-env", got)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	w, err := config.NewWatcher(newWatchedFile(t, watcherValidYAML), nil, config.WithInterval(10*time.Millisecond), noEnv)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.Stop()
	w.Stop()
}
