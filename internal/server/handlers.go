package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"blogpilot/internal/pipeline"
	"blogpilot/internal/store"
)

// HealthResponse is the /health body
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// StatusResponse is the /api/status body
type StatusResponse struct {
	Version    string       `json:"version"`
	Uptime     string       `json:"uptime"`
	Store      *store.Stats `json:"store,omitempty"`
	StoreError string       `json:"store_error,omitempty"`
	RetryQueue int          `json:"retry_queue"`
	Scanning   bool         `json:"scanning"`
	LastScan   *ScanSummary `json:"last_scan,omitempty"`
}

// ScanSummary describes a finished scan cycle
type ScanSummary struct {
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Scanned    int            `json:"scanned"`
	WindowShut bool           `json:"window_shut"`
	Outcomes   map[string]int `json:"outcomes"`
	Error      string         `json:"error,omitempty"`
}

func summarize(stats *pipeline.CycleStats, err error) *ScanSummary {
	sum := &ScanSummary{Outcomes: map[string]int{}}
	if stats != nil {
		sum.StartedAt = stats.StartTime
		sum.FinishedAt = stats.EndTime
		sum.Scanned = stats.Scanned
		sum.WindowShut = stats.WindowShut
		for outcome, n := range stats.Counts {
			sum.Outcomes[string(outcome)] = n
		}
	}
	if err != nil {
		sum.Error = err.Error()
	}
	return sum
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	if s.opts.Store == nil {
		checks["database"] = "disabled"
	} else if err := s.opts.Store.Ping(r.Context()); err != nil {
		s.log.Warn().Err(err).Msg("Health check: database unreachable")
		checks["database"] = "error"
		s.respondJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Checks: checks})
		return
	} else {
		checks["database"] = "ok"
	}
	s.respondJSON(w, http.StatusOK, HealthResponse{Status: "ok", Checks: checks})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Version: s.opts.Version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	}
	if s.opts.Store != nil {
		st, err := s.opts.Store.Stats(r.Context())
		if err != nil {
			resp.StoreError = err.Error()
		} else {
			resp.Store = &st
		}
	}
	if s.opts.Queue != nil {
		resp.RetryQueue = s.opts.Queue.Len()
	}

	s.scanMu.Lock()
	resp.Scanning = s.scanning
	resp.LastScan = s.lastScan
	s.scanMu.Unlock()

	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecentArticles(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		s.respondError(w, http.StatusNotFound, "article store is not configured")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			s.respondError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}
	articles, err := s.opts.Store.ListRecent(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list recent articles")
		s.respondError(w, http.StatusInternalServerError, "failed to list articles")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"data": articles, "count": len(articles)})
}

// handleScan starts a scan cycle in the background. Only one runs at a time.
func (s *Server) handleScan(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Scanner == nil {
		s.respondError(w, http.StatusNotFound, "pipeline is not running in this process")
		return
	}

	s.scanMu.Lock()
	if s.scanning {
		s.scanMu.Unlock()
		s.respondError(w, http.StatusConflict, "a scan is already running")
		return
	}
	s.scanning = true
	s.scanMu.Unlock()

	go func() {
		stats, err := s.opts.Scanner.ScanOnce(s.scanCtx)
		if err != nil {
			s.log.Error().Err(err).Msg("Manual scan failed")
		}
		s.scanMu.Lock()
		s.scanning = false
		s.lastScan = summarize(stats, err)
		s.scanMu.Unlock()
	}()

	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "scan started"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
