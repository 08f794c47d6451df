package api

import (
	"encoding/json"
	"net/http"
	"time"

	"autopinner/internal/core"
)

const maxPreviewCount = 30

type schedulePreviewRequest struct {
	Days  string `json:"days"`
	Count int    `json:"count"`
}

type schedulePreviewResponse struct {
	Days     string      `json:"days"`
	Cron     string      `json:"cron"`
	Timezone string      `json:"timezone"`
	Next     []time.Time `json:"next"`
}

// handleSchedulePreview lists the next run days a weekday list would produce.
func (s *Server) handleSchedulePreview(w http.ResponseWriter, r *http.Request) {
	var req schedulePreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	schedule, err := core.ParseDays(req.Days)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if schedule.Empty() {
		writeError(w, http.StatusBadRequest, "invalid_input", "at least one weekday is required")
		return
	}
	if req.Count <= 0 {
		req.Count = 5
	}
	if req.Count > maxPreviewCount {
		req.Count = maxPreviewCount
	}

	next := core.UpcomingDays(schedule, time.Now().In(s.location), req.Count)
	writeJSON(w, http.StatusOK, schedulePreviewResponse{
		Days:     schedule.String(),
		Cron:     schedule.CronExpr(),
		Timezone: s.location.String(),
		Next:     next,
	})
}
