package web

import (
	"net/http"
	"strings"
	"time"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	infos := s.sessions.ListActive()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(infos),
		"sessions": infos,
	})
}

// handleSessionAction dispatches the kill endpoints:
//
//	POST /api/sessions/killall
//	POST /api/sessions/{conversationID}/kill
func (s *Server) handleSessionAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if rest == "killall" {
		s.sessions.KillAll()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	id, action, found := strings.Cut(rest, "/")
	if !found || action != "kill" || id == "" {
		http.NotFound(w, r)
		return
	}
	if !s.sessions.KillOne(id) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"ok":    false,
			"error": "unknown conversation",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
