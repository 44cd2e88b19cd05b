package apihttp

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"otagent/internal/domain"
)

type statusResponse struct {
	DeviceID        string          `json:"deviceId"`
	FirmwareVersion string          `json:"firmwareVersion"`
	UptimeSeconds   int64           `json:"uptimeSeconds"`
	LastCheck       *time.Time      `json:"lastCheck,omitempty"`
	Transfer        *transferStatus `json:"transfer,omitempty"`
	LastAttempt     *recordResponse `json:"lastAttempt,omitempty"`
}

type transferStatus struct {
	BytesWritten int64  `json:"bytesWritten"`
	State        string `json:"state"`
}

type progressPayload struct {
	BytesWritten int64  `json:"bytesWritten"`
	State        string `json:"state"`
}

type recordResponse struct {
	ID             string    `json:"id"`
	DeviceID       string    `json:"deviceId"`
	FromVersion    string    `json:"fromVersion"`
	ToVersion      string    `json:"toVersion"`
	Status         string    `json:"status"`
	Reason         string    `json:"reason,omitempty"`
	BytesWritten   int64     `json:"bytesWritten"`
	DeclaredLength int64     `json:"declaredLength"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
}

func recordToResponse(rec domain.UpdateRecord) recordResponse {
	return recordResponse{
		ID:             rec.ID,
		DeviceID:       rec.DeviceID,
		FromVersion:    rec.FromVersion,
		ToVersion:      rec.ToVersion,
		Status:         string(rec.Status),
		Reason:         string(rec.Reason),
		BytesWritten:   rec.BytesWritten,
		DeclaredLength: rec.DeclaredLength,
		StartedAt:      rec.StartedAt,
		FinishedAt:     rec.FinishedAt,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	resp := statusResponse{
		DeviceID:        s.deviceID,
		FirmwareVersion: s.version,
		UptimeSeconds:   int64(time.Since(s.startedAt).Seconds()),
	}
	if s.scheduler != nil {
		if last := s.scheduler.LastCheck(); !last.IsZero() {
			resp.LastCheck = &last
		}
		if rec := s.scheduler.LastOutcome(); rec != nil {
			rr := recordToResponse(*rec)
			resp.LastAttempt = &rr
		}
	}
	if s.progress != nil {
		written, state := s.progress.Progress()
		resp.Transfer = &transferStatus{BytesWritten: written, State: state.String()}
	}
	// After a restart the scheduler has no attempt yet; fall back to the
	// newest persisted record.
	if resp.LastAttempt == nil && s.repo != nil {
		if rec, err := s.repo.Latest(r.Context()); err == nil {
			rr := recordToResponse(rec)
			resp.LastAttempt = &rr
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	if s.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "history_unavailable", "update history is not configured")
		return
	}

	limit := s.historyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}

	records, err := s.repo.List(r.Context(), limit)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	out := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, recordToResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdateCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler_unavailable", "update scheduler is not running")
		return
	}
	s.scheduler.TriggerNow()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "check scheduled"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeRepoError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "record not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "repository_error", err.Error())
}
