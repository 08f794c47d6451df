package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"autopinner/internal/store"

	"github.com/go-chi/chi/v5"
)

type resetPinRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleListPins(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.PinFilter{
		Status: q.Get("status"),
		Site:   q.Get("site"),
		Limit:  parseIntDefault(q.Get("limit"), 50),
		Offset: parseIntDefault(q.Get("offset"), 0),
	}
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	pins, err := s.store.ListPins(r.Context(), filter)
	if err != nil {
		s.writePinError(w, err)
		return
	}
	if pins == nil {
		pins = []store.Pin{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pins":   pins,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (s *Server) handlePinStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountPinsByStatus(r.Context())
	if err != nil {
		s.writePinError(w, err)
		return
	}
	for _, status := range []string{store.PinStatusPending, store.PinStatusPublished, store.PinStatusShared, store.PinStatusFailed} {
		if _, ok := counts[status]; !ok {
			counts[status] = 0
		}
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleGetPin(w http.ResponseWriter, r *http.Request) {
	id, ok := pinID(w, r)
	if !ok {
		return
	}
	pin, err := s.store.GetPin(r.Context(), id)
	if err != nil {
		s.writePinError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pin)
}

func (s *Server) handleDeletePin(w http.ResponseWriter, r *http.Request) {
	id, ok := pinID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeletePin(r.Context(), id); err != nil {
		s.writePinError(w, err)
		return
	}
	s.logger.Info("pin deleted", "pin", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetPin(w http.ResponseWriter, r *http.Request) {
	id, ok := pinID(w, r)
	if !ok {
		return
	}
	req := resetPinRequest{Status: store.PinStatusPending}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return
		}
	}
	if err := s.store.ResetPinStatus(r.Context(), id, req.Status); err != nil {
		s.writePinError(w, err)
		return
	}
	pin, err := s.store.GetPin(r.Context(), id)
	if err != nil {
		s.writePinError(w, err)
		return
	}
	s.logger.Info("pin reset", "pin", id, "status", req.Status)
	writeJSON(w, http.StatusOK, pin)
}

func pinID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "pinID"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "pin id must be a positive integer")
		return 0, false
	}
	return uint(id), true
}

func (s *Server) writePinError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrPinNotFound):
		writeError(w, http.StatusNotFound, "not_found", "pin not found")
	case errors.Is(err, store.ErrPinNotResettable):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, store.ErrInvalidPinStatus):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	default:
		s.logger.Error("pin request", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
