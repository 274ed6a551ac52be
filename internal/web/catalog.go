package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/kalam/internal/catalog"
	"github.com/MrWong99/kalam/internal/dialogue"
)

func (s *Server) handleFlashcards(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Catalog.FlashcardSummaries())
}

func (s *Server) handleFlashcardCategory(w http.ResponseWriter, r *http.Request) {
	fc, err := s.cfg.Catalog.FlashcardCategoryBySlug(chi.URLParam(r, "slug"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fc)
}

func (s *Server) handlePhrases(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Catalog.PhraseSummaries())
}

func (s *Server) handlePhraseCategory(w http.ResponseWriter, r *http.Request) {
	pc, err := s.cfg.Catalog.PhraseCategoryBySlug(chi.URLParam(r, "slug"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pc)
}

func (s *Server) handleScenarios(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Catalog.ScenarioSummaries())
}

// handleScenario accepts a numeric id or a slug.
func (s *Server) handleScenario(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "id")
	var (
		sc  dialogue.Scenario
		err error
	)
	if id, convErr := strconv.Atoi(key); convErr == nil {
		sc, err = s.cfg.Catalog.Scenario(id)
	} else {
		sc, err = s.cfg.Catalog.ScenarioBySlug(key)
	}
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleTips(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Catalog.Tips())
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	st := s.cfg.Catalog.Stats()
	writeJSON(w, http.StatusOK, map[string]int{
		"scenarios":  st.Scenarios,
		"flashcards": st.Flashcards,
		"phrases":    st.Phrases,
		"tips":       st.Tips,
	})
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.log.Error("catalog lookup failed", "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
