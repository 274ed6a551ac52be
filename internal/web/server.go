// Package web serves the kalam HTTP API and the practice websocket.
package web

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrWong99/kalam/internal/catalog"
	"github.com/MrWong99/kalam/internal/health"
	"github.com/MrWong99/kalam/internal/observe"
	"github.com/MrWong99/kalam/internal/practice"
	"github.com/MrWong99/kalam/pkg/provider/stt"
	"github.com/MrWong99/kalam/pkg/provider/tts"
)

// Config holds the dependencies of a [Server]. Catalog and Sessions are
// required; STT and TTS may be nil, in which case the practice websocket
// falls back to client-side speech and /api/speech answers 503.
type Config struct {
	Addr     string
	Catalog  *catalog.Catalog
	Sessions *practice.Manager

	STT stt.Provider
	TTS tts.Provider

	// Speech holds the hot-reloadable speech settings.
	Speech SpeechSettings

	Metrics        *observe.Metrics
	MetricsHandler http.Handler
	Health         *health.Handler
	Logger         *slog.Logger

	// AllowedOrigins are websocket origin patterns accepted in addition to
	// the request host. Empty means same-origin only.
	AllowedOrigins []string
}

// SpeechSettings configure server-side capture and synthesis for sessions
// started after they are set.
type SpeechSettings struct {
	Language       string
	Voice          tts.Voice
	CaptureTimeout time.Duration
}

// Server is the kalam HTTP server.
type Server struct {
	cfg    Config
	log    *slog.Logger
	router chi.Router
	srv    *http.Server

	mu     sync.RWMutex
	speech SpeechSettings
}

// New builds the router. It does not start listening.
func New(cfg Config) *Server {
	s := &Server{
		cfg:    cfg,
		log:    cmp.Or(cfg.Logger, slog.Default()),
		speech: cfg.Speech,
	}
	if s.cfg.Metrics == nil {
		s.cfg.Metrics = observe.DefaultMetrics()
	}
	if s.cfg.Health == nil {
		s.cfg.Health = health.New()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(s.cfg.Metrics, observe.WithQuietPaths("/healthz", "/readyz", "/metrics")))
	s.addRoutes(r)
	s.router = r

	s.srv = &http.Server{
		Addr:              cmp.Or(cfg.Addr, ":8080"),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.srv.Addr }

// SetSpeech replaces the speech settings used by new practice sessions.
func (s *Server) SetSpeech(ss SpeechSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speech = ss
}

func (s *Server) speechSettings() SpeechSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.speech
}

// Run listens on the configured address and serves until Shutdown.
func (s *Server) Run(_ context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("web: listen on %s: %w", s.srv.Addr, err)
	}
	s.log.Info("http server listening", "addr", ln.Addr().String())

	err = s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for handlers to return.
// Websocket connections are hijacked and are not tracked by http.Server;
// stop their sessions through the practice manager.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
