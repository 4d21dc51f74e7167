package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/nebulate/nebula-translate/internal/session"
)

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type createSessionRequest struct {
	HomeLanguage   string `json:"home_language"`
	TargetLanguage string `json:"target_language"`
	UserID         string `json:"user_id"`
}

type sessionConfig struct {
	SessionID      string `json:"session_id"`
	HomeLanguage   string `json:"home_language"`
	TargetLanguage string `json:"target_language"`
	UserID         string `json:"user_id,omitempty"`
}

func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
				return
			}
		}
		if req.HomeLanguage == "" {
			req.HomeLanguage = s.defaultHomeLang
		}
		if req.TargetLanguage == "" {
			req.TargetLanguage = s.defaultTargetLang
		}

		sess, err := s.createSession(req.HomeLanguage, req.TargetLanguage, req.UserID)
		if err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, session.ErrUnsupportedLanguage):
				status = http.StatusBadRequest
			case errors.Is(err, session.ErrSessionLimit):
				status = http.StatusServiceUnavailable
			}
			writeJSONError(w, status, fmt.Sprintf("create session: %v", err))
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"session_id": sess.ID,
			"config": sessionConfig{
				SessionID:      sess.ID,
				HomeLanguage:   sess.HomeLanguage,
				TargetLanguage: sess.TargetLanguage,
				UserID:         sess.UserID,
			},
		})
	})

	mux.HandleFunc("GET /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.registry.ListSessions())
	})

	mux.HandleFunc("GET /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		if !validSessionID(sessionID) {
			writeJSONError(w, http.StatusForbidden, "invalid session id")
			return
		}

		sess, ok := s.registry.GetSession(sessionID)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, sess)
	})

	mux.HandleFunc("GET /api/sessions/{id}/metrics", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		if !validSessionID(sessionID) {
			writeJSONError(w, http.StatusForbidden, "invalid session id")
			return
		}

		metrics, ok := s.registry.GetMetrics(sessionID)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, metrics)
	})

	mux.HandleFunc("DELETE /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		if !validSessionID(sessionID) {
			writeJSONError(w, http.StatusForbidden, "invalid session id")
			return
		}

		if _, ok := s.registry.GetSession(sessionID); !ok {
			writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}

		s.closeSession(sessionID)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/languages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"languages": session.Languages()})
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		warnings := s.warnings
		if warnings == nil {
			warnings = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"sessions": s.registry.Count(),
			"warnings": warnings,
		})
	})
}

func validSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
