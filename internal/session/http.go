package session

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/podium/internal/document"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler builds the session's HTTP surface: the websocket endpoint,
// health and metrics, the source download, and the local-only poll API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/ws", s.hub.ServeWS)
	mux.HandleFunc("/download", s.handleDownload)
	mux.HandleFunc("/api/poll/start", s.localOnly(s.handlePollStart))
	mux.HandleFunc("/api/poll/end", s.localOnly(s.handlePollEnd))
	mux.HandleFunc("/api/poll/current", s.localOnly(s.handlePollCurrent))

	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"viewers": s.hub.ViewerCount(),
	})
}

// handleDownload serves the presented file so viewers can grab a copy.
// Sources without a backing file stream their current in-memory content.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	path := s.filePath
	src := s.source
	s.mu.Unlock()
	if path != "" {
		w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(path)+`"`)
		http.ServeFile(w, r, path)
		return
	}
	if src == nil {
		http.NotFound(w, r)
		return
	}
	snap := src.Snapshot()
	switch {
	case snap.Mode == document.ModeNotebook && snap.Notebook != nil:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(snap.Notebook.FileName)+`"`)
		_ = json.NewEncoder(w).Encode(snap.Notebook)
	case snap.Text != nil:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(snap.Text.FileName)+`"`)
		_, _ = io.WriteString(w, snap.Text.Content)
	default:
		http.NotFound(w, r)
	}
}

// localOnly rejects requests that do not originate from the local machine.
// The poll API is the presenter's control surface.
func (s *Server) localOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip := net.ParseIP(strings.TrimPrefix(host, "::ffff:"))
		if host != "localhost" && (ip == nil || !ip.IsLoopback()) {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "local access only"})
			return
		}
		next(w, r)
	}
}

type pollStartRequest struct {
	Question    string   `json:"question"`
	OptionCount int      `json:"optionCount"`
	PollID      string   `json:"pollId"`
	Options     []string `json:"options"`
}

func (s *Server) handlePollStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "POST required"})
		return
	}
	var req pollStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if !s.hub.StartPoll(req.Question, req.OptionCount, req.PollID, req.Options) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question required"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"started": true})
}

func (s *Server) handlePollEnd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "POST required"})
		return
	}
	result := s.hub.EndPoll()
	if result == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active poll"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePollCurrent(w http.ResponseWriter, r *http.Request) {
	snap := s.hub.PollSnapshot()
	if snap == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active poll"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
