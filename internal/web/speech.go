package web

import (
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/kalam/internal/observe"
	"github.com/MrWong99/kalam/internal/scoring"
	"github.com/MrWong99/kalam/internal/speech"
)

// maxSpeechRunes bounds the text of a single /api/speech request.
const maxSpeechRunes = 500

type scoreRequest struct {
	Spoken    string `json:"spoken"`
	Reference string `json:"reference"`
}

// handleScore grades a transcript against a reference with the server's
// current bands. It does not touch any session.
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Reference) == "" {
		writeError(w, http.StatusBadRequest, "reference is required")
		return
	}
	if utf8.RuneCountInString(req.Spoken) > scoring.MaxRunes || utf8.RuneCountInString(req.Reference) > scoring.MaxRunes {
		writeError(w, http.StatusRequestEntityTooLarge, "spoken or reference is too long")
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Sessions.Bands().Evaluate(req.Spoken, req.Reference))
}

// handleSpeech renders text with the TTS provider and returns a WAV file.
func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	if s.cfg.TTS == nil {
		writeError(w, http.StatusServiceUnavailable, "speech synthesis is not configured")
		return
	}
	text := strings.TrimSpace(r.URL.Query().Get("text"))
	if text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if utf8.RuneCountInString(text) > maxSpeechRunes {
		writeError(w, http.StatusRequestEntityTooLarge, "text is too long")
		return
	}

	voice := s.speechSettings().Voice
	if id := r.URL.Query().Get("voice"); id != "" {
		voice.ID = id
	}
	sink := &speech.BufferSink{}
	synth := speech.NewTTSSynthesizer(s.cfg.TTS, sink,
		speech.WithVoice(voice),
		speech.WithSynthesizerMetrics(s.cfg.Metrics),
	)
	if err := synth.Speak(r.Context(), text); err != nil {
		observe.Logger(r.Context()).Warn("speech synthesis failed", "err", err)
		writeError(w, http.StatusBadGateway, "speech synthesis failed")
		return
	}

	wav := sink.WAV()
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(wav)))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	if s.cfg.TTS == nil {
		writeError(w, http.StatusServiceUnavailable, "speech synthesis is not configured")
		return
	}
	voices, err := s.cfg.TTS.ListVoices(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Warn("list voices failed", "err", err)
		writeError(w, http.StatusBadGateway, "listing voices failed")
		return
	}
	writeJSON(w, http.StatusOK, voices)
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Sessions.Sessions())
}
