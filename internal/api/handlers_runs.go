package api

import (
	"errors"
	"net/http"

	"autopinner/internal/store"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := s.worker.TaskStats(name); err != nil {
		s.writeCoreError(w, err)
		return
	}

	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	if limit < 1 || limit > 200 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	runs, err := s.store.ListTaskRuns(r.Context(), name, limit, offset)
	if err != nil {
		s.logger.Error("list runs", "task", name, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if runs == nil {
		runs = []store.TaskRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":   runs,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetTaskRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		if errors.Is(err, store.ErrTaskRunNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		s.logger.Error("get run", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}
