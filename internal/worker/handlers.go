package worker

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/zetacoach/internal/db/sqlite"
	"github.com/thebtf/zetacoach/internal/observe"
	"github.com/thebtf/zetacoach/internal/session"
)

const (
	// maxSnapshotBytes bounds a posted snapshot body.
	maxSnapshotBytes = 8 << 20
	defaultListLimit = 20
	maxListLimit     = 200
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "starting"
	if s.ready.Load() {
		status = "ready"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Service) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Service) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.machine.State())
}

// SnapshotRequest is the body of POST /api/snapshots.
type SnapshotRequest struct {
	HTML       string    `json:"html"`
	URL        string    `json:"url"`
	CapturedAt time.Time `json:"capturedAt"`
	Input      *string   `json:"input,omitempty"`
}

// InputRequest is the body of POST /api/input. At is when the value was
// read; it defaults to the time the request is handled.
type InputRequest struct {
	Value *string    `json:"value"`
	At    *time.Time `json:"at,omitempty"`
}

func (s *Service) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	var req SnapshotRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSnapshotBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid snapshot: "+err.Error())
		return
	}
	if req.HTML == "" {
		writeError(w, http.StatusBadRequest, "html is required")
		return
	}

	obs, err := observe.ObservationFromSnapshot(s.extractor, observe.Snapshot{
		HTML:       req.HTML,
		URL:        req.URL,
		CapturedAt: req.CapturedAt,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable snapshot: "+err.Error())
		return
	}
	obs.Input = req.Input

	s.machine.Process(obs)
	writeJSON(w, http.StatusOK, s.machine.State())
}

func (s *Service) handleInput(w http.ResponseWriter, r *http.Request) {
	var req InputRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid input: "+err.Error())
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}

	obs := session.InputObservation(*req.Value)
	if req.At != nil {
		obs.At = *req.At
	}
	s.machine.Process(obs)
	writeJSON(w, http.StatusOK, s.machine.State())
}

func (s *Service) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "archive not configured")
		return
	}
	limit := sqlite.ParseLimitParam(r, defaultListLimit)
	if limit > maxListLimit {
		limit = maxListLimit
	}

	sessions, err := s.archive.ListRecent(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list sessions")
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "limit": limit})
}

func (s *Service) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "archive not configured")
		return
	}
	id := chi.URLParam(r, "sessionId")

	stored, err := s.archive.GetSession(r.Context(), id)
	if err != nil {
		if s.errNotFound != nil && errors.Is(err, s.errNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		log.Error().Err(err).Str("sessionId", id).Msg("Failed to load session")
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "archive not configured")
		return
	}
	stats, err := s.archive.OperationStats(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to compute stats")
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": stats})
}
