// Package app wires the kalam subsystems into a running server.
//
// The App struct owns the full lifecycle: New loads the catalog and builds
// the session manager and HTTP server, Run serves until the context ends,
// and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithCatalog,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/kalam/internal/catalog"
	"github.com/MrWong99/kalam/internal/config"
	"github.com/MrWong99/kalam/internal/health"
	"github.com/MrWong99/kalam/internal/observe"
	"github.com/MrWong99/kalam/internal/practice"
	"github.com/MrWong99/kalam/internal/resilience"
	"github.com/MrWong99/kalam/internal/speech"
	"github.com/MrWong99/kalam/internal/web"
	"github.com/MrWong99/kalam/pkg/provider/stt"
	"github.com/MrWong99/kalam/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured and the client handles that side of speech.
// Populated by main.go via the config registry.
type Providers struct {
	STT stt.Provider
	TTS tts.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger

	metrics        *observe.Metrics
	metricsHandler http.Handler

	// Subsystems, initialised in New and torn down in Shutdown.
	pool     *pgxpool.Pool
	catalog  *catalog.Catalog
	sessions *practice.Manager
	server   *web.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCatalog injects a loaded catalog instead of opening one from config.
func WithCatalog(c *catalog.Catalog) Option {
	return func(a *App) { a.catalog = c }
}

// WithMetrics sets the instruments and the /metrics handler. Without it the
// global meter provider is used and /metrics is not served.
func WithMetrics(m *observe.Metrics, handler http.Handler) Option {
	return func(a *App) {
		a.metrics = m
		a.metricsHandler = handler
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go; either slot may be nil.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Catalog ───────────────────────────────────────────────────────
	if err := a.initCatalog(ctx); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init catalog: %w", err)
	}

	// ── 2. Session manager ───────────────────────────────────────────────
	a.sessions = practice.NewManager(practice.ManagerConfig{
		Scenarios:   a.catalog,
		MaxSessions: cfg.Server.MaxSessions,
		Bands:       cfg.Practice.ScoreBands(),
		Metrics:     a.metrics,
		Logger:      a.log,
	})

	// ── 3. HTTP server ───────────────────────────────────────────────────
	a.server = web.New(web.Config{
		Addr:           cfg.Server.ListenAddr,
		Catalog:        a.catalog,
		Sessions:       a.sessions,
		STT:            providers.STT,
		TTS:            providers.TTS,
		Speech:         SpeechSettings(cfg),
		Metrics:        a.metrics,
		MetricsHandler: a.metricsHandler,
		Health:         health.New(a.checkers()...),
		Logger:         a.log,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initCatalog opens the catalog from Postgres, a directory, or the embedded
// content, in that order of preference.
func (a *App) initCatalog(ctx context.Context) error {
	if a.catalog != nil {
		return nil
	}

	var (
		src  catalog.Source
		kind string
	)
	switch cc := a.cfg.Catalog; {
	case cc.PostgresDSN != "":
		pool, err := pgxpool.New(ctx, cc.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.pool = pool
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})

		pg := catalog.NewPostgresSource(pool)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		if cc.Seed {
			data, err := catalog.Embedded().Load(ctx)
			if err != nil {
				return fmt.Errorf("load seed data: %w", err)
			}
			if err := pg.Seed(ctx, data); err != nil {
				return err
			}
			a.log.Info("seeded catalog from embedded content")
		}
		src, kind = pg, "postgres"
	case cc.Dir != "":
		if _, err := os.Stat(cc.Dir); err != nil {
			return fmt.Errorf("catalog dir: %w", err)
		}
		src, kind = catalog.Dir(cc.Dir), "dir"
	default:
		src, kind = catalog.Embedded(), "embedded"
	}

	c, err := catalog.Open(ctx, src)
	if err != nil {
		return err
	}
	a.catalog = c
	st := c.Stats()
	a.log.Info("catalog loaded", "source", kind,
		"scenarios", st.Scenarios, "flashcards", st.Flashcards, "phrases", st.Phrases, "tips", st.Tips)
	return nil
}

// checkers returns the readiness checks. The catalog (and its database, if
// any) is required; a configured TTS provider is optional because the
// client can still synthesise speech itself.
func (a *App) checkers() []health.Checker {
	checks := []health.Checker{{
		Name: "catalog",
		Check: func(context.Context) error {
			if a.catalog.Stats().Scenarios == 0 {
				return errors.New("no scenarios loaded")
			}
			return nil
		},
	}}
	if a.pool != nil {
		checks = append(checks, health.Checker{Name: "database", Check: a.pool.Ping})
	}
	if p := a.providers.TTS; p != nil {
		checks = append(checks, health.Checker{
			Name:     "tts",
			Optional: true,
			Check: func(ctx context.Context) error {
				_, err := p.ListVoices(ctx)
				return err
			},
		})
	}
	for _, slot := range []struct {
		name string
		p    any
	}{{"stt_breakers", a.providers.STT}, {"tts_breakers", a.providers.TTS}} {
		if fb, ok := slot.p.(breakerGroup); ok {
			checks = append(checks, health.Checker{
				Name:     slot.name,
				Optional: true,
				Check: func(context.Context) error {
					if fb.Healthy() {
						return nil
					}
					return fmt.Errorf("all circuits open: %v", fb.Statuses())
				},
			})
		}
	}
	return checks
}

// breakerGroup is satisfied by the resilience fallback providers.
type breakerGroup interface {
	Healthy() bool
	Statuses() []resilience.Status
}

// SpeechSettings derives the server-side speech settings from cfg.
func SpeechSettings(cfg *config.Config) web.SpeechSettings {
	lang := cmp.Or(cfg.Practice.Language, speech.DefaultLanguage)
	return web.SpeechSettings{
		Language: lang,
		Voice: tts.Voice{
			ID:          cfg.Practice.Voice.VoiceID,
			Language:    lang,
			SpeedFactor: cmp.Or(cfg.Practice.Voice.SpeedFactor, speech.DefaultSpeedFactor),
		},
		CaptureTimeout: cfg.Practice.CaptureTimeout,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler, for tests.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Catalog returns the loaded catalog.
func (a *App) Catalog() *catalog.Catalog { return a.catalog }

// Sessions returns the practice session manager.
func (a *App) Sessions() *practice.Manager { return a.sessions }

// Addr returns the configured listen address.
func (a *App) Addr() string { return a.server.Addr() }

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of d. Voice and bands apply to
// sessions started afterwards and to /api/score immediately.
func (a *App) ApplyConfig(newCfg *config.Config, d config.ConfigDiff) {
	if d.BandsChanged {
		a.sessions.SetBands(d.NewBands)
		a.log.Info("score bands updated", "excellent", d.NewBands.Excellent, "good", d.NewBands.Good)
	}
	if d.VoiceChanged || d.CaptureTimeoutChanged {
		ss := SpeechSettings(newCfg)
		a.server.SetSpeech(ss)
		a.log.Info("speech settings updated", "voice", ss.Voice.ID, "speed", ss.Voice.SpeedFactor,
			"capture_timeout", ss.CaptureTimeout)
	}
	for _, field := range d.RestartRequired {
		a.log.Warn("config change requires a restart", "field", field)
	}
	a.cfg = newCfg
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled or the listener fails. On
// cancellation it returns ctx.Err(); call Shutdown afterwards.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Run(ctx) }()

	a.log.Info("app running", "addr", a.server.Addr(),
		"server_stt", a.providers.STT != nil, "server_tts", a.providers.TTS != nil)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server, ends every practice session and runs the
// closers. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "sessions", a.sessions.Count(), "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			a.log.Warn("http shutdown error", "err", err)
			shutdownErr = err
		}
		if err := a.sessions.Shutdown(ctx); err != nil {
			a.log.Warn("session shutdown error", "err", err)
			shutdownErr = cmp.Or(shutdownErr, err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// runClosers releases whatever New acquired before failing.
func (a *App) runClosers() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
