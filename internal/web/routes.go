package web

import "github.com/go-chi/chi/v5"

func (s *Server) addRoutes(r chi.Router) {
	s.cfg.Health.Register(r)
	if s.cfg.MetricsHandler != nil {
		r.Method("GET", "/metrics", s.cfg.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/flashcards", s.handleFlashcards)
		r.Get("/flashcards/{slug}", s.handleFlashcardCategory)
		r.Get("/phrases", s.handlePhrases)
		r.Get("/phrases/{slug}", s.handlePhraseCategory)
		r.Get("/scenarios", s.handleScenarios)
		r.Get("/scenarios/{id}", s.handleScenario)
		r.Get("/tips", s.handleTips)
		r.Get("/stats", s.handleStats)

		r.Post("/score", s.handleScore)
		r.Get("/speech", s.handleSpeech)
		r.Get("/voices", s.handleVoices)
		r.Get("/sessions", s.handleSessions)
	})

	r.Get("/ws/practice", s.handlePractice)
}
