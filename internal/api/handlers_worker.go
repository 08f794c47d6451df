package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"autopinner/internal/core"

	"github.com/go-chi/chi/v5"
)

const stopTimeout = 30 * time.Second

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Worker   string `json:"worker"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Database: "ok", Worker: string(s.worker.Status().State)}
	status := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Database = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.worker.Status())
}

func (s *Server) handleWorkerAction(w http.ResponseWriter, r *http.Request) {
	var err error
	switch chi.URLParam(r, "action") {
	case "start":
		// The loop must outlive this request.
		err = s.worker.Start(context.WithoutCancel(r.Context()))
	case "stop":
		ctx, cancel := context.WithTimeout(r.Context(), stopTimeout)
		defer cancel()
		err = s.worker.Stop(ctx)
	case "pause":
		err = s.worker.Pause()
	case "resume":
		err = s.worker.Resume()
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown worker action")
		return
	}
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.worker.Status())
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.worker.QueueSnapshot())
}

// writeCoreError maps worker and registry errors onto HTTP statuses.
func (s *Server) writeCoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, core.ErrInvalidTaskConfig), errors.Is(err, core.ErrUnknownWeekday):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, core.ErrTaskAlreadyQueued),
		errors.Is(err, core.ErrTaskRunning),
		errors.Is(err, core.ErrTaskDisabled),
		errors.Is(err, core.ErrDependenciesUnmet),
		errors.Is(err, core.ErrWorkerRunning),
		errors.Is(err, core.ErrWorkerNotRunning):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", err.Error())
	default:
		s.logger.Error("worker request", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
