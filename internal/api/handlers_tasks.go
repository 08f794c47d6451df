package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"autopinner/internal/core"

	"github.com/go-chi/chi/v5"
)

type updateTaskRequest struct {
	Schedule       map[string]bool `json:"schedule"`
	Days           *string         `json:"days"`
	RetryLimit     *int            `json:"retry_limit"`
	TimeoutSeconds *int            `json:"timeout_seconds"`
	Enabled        *bool           `json:"enabled"`
	Dependencies   *[]string       `json:"dependencies"`
}

type runTaskResponse struct {
	Task           string  `json:"task"`
	Queued         bool    `json:"queued"`
	Success        *bool   `json:"success,omitempty"`
	Attempts       int     `json:"attempts,omitempty"`
	RuntimeSeconds float64 `json:"runtime_seconds,omitempty"`
	Error          string  `json:"error,omitempty"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.worker.Tasks())
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	stats, err := s.worker.TaskStats(chi.URLParam(r, "name"))
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	current, err := s.worker.TaskStats(name)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}

	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	// Validate everything before the first mutation so a bad field changes nothing.
	var schedule *core.Schedule
	switch {
	case req.Days != nil:
		parsed, err := core.ParseDays(*req.Days)
		if err != nil {
			s.writeCoreError(w, err)
			return
		}
		schedule = &parsed
	case req.Schedule != nil:
		parsed, err := core.ScheduleFromMap(req.Schedule)
		if err != nil {
			s.writeCoreError(w, err)
			return
		}
		schedule = &parsed
	}
	if schedule != nil && schedule.Empty() {
		writeError(w, http.StatusBadRequest, "invalid_input", "schedule needs at least one weekday; disable the task instead")
		return
	}
	retry, timeout := current.RetryLimit, current.TimeoutSeconds
	if req.RetryLimit != nil {
		retry = *req.RetryLimit
	}
	if req.TimeoutSeconds != nil {
		timeout = *req.TimeoutSeconds
	}
	if retry < 1 || timeout < 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "retry_limit must be at least 1 and timeout_seconds non-negative")
		return
	}

	reg := s.worker.Registry()
	if req.Dependencies != nil {
		if err := reg.SetDependencies(name, *req.Dependencies); err != nil {
			s.writeCoreError(w, err)
			return
		}
	}
	if schedule != nil {
		if err := reg.SetSchedule(name, *schedule); err != nil {
			s.writeCoreError(w, err)
			return
		}
	}
	if req.RetryLimit != nil || req.TimeoutSeconds != nil {
		if err := reg.SetRetryPolicy(name, retry, timeout); err != nil {
			s.writeCoreError(w, err)
			return
		}
	}
	if req.Enabled != nil {
		if err := reg.SetEnabled(name, *req.Enabled); err != nil {
			s.writeCoreError(w, err)
			return
		}
	}

	updated, err := s.worker.TaskStats(name)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	s.logger.Info("task updated", "task", name)
	writeJSON(w, http.StatusOK, updated)
}

// handleRunTask queues the task when the worker is running; otherwise it runs
// the task synchronously and reports the outcome.
func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.worker.Status().Running {
		if err := s.worker.Enqueue(name, core.PriorityManual); err != nil {
			s.writeCoreError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, runTaskResponse{Task: name, Queued: true})
		return
	}

	result, err := s.worker.RunNow(r.Context(), name)
	if err != nil {
		if errors.Is(err, core.ErrWorkerRunning) {
			// Started between the status check and the run.
			if err := s.worker.Enqueue(name, core.PriorityManual); err == nil {
				writeJSON(w, http.StatusAccepted, runTaskResponse{Task: name, Queued: true})
				return
			}
		}
		s.writeCoreError(w, err)
		return
	}
	resp := runTaskResponse{
		Task:           name,
		Success:        &result.Success,
		Attempts:       result.Attempts,
		RuntimeSeconds: result.Runtime.Round(time.Millisecond).Seconds(),
	}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
