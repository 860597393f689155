package web

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"smartcal/internal/model"
	"smartcal/internal/notify"
	"smartcal/internal/reminder"
)

const (
	defaultListLimit     = 20
	defaultSnoozeMinutes = 10
)

type extractRequest struct {
	Text string `json:"text"`
}

type extractBatchRequest struct {
	Texts []string `json:"texts"`
}

// reminderRequest is shared by add and update. A missing minutes_before
// uses the event's own reminderMinutes.
type reminderRequest struct {
	Event         model.Event `json:"event"`
	MinutesBefore *int        `json:"minutes_before"`
}

type rescheduleRequest struct {
	Events        []model.Event `json:"events"`
	MinutesBefore *int          `json:"minutes_before"`
}

type snoozeRequest struct {
	Minutes int `json:"minutes"`
}

type remindersResponse struct {
	Reminders any `json:"reminders"`
	Count     int `json:"count"`
}

type countResponse struct {
	Count int `json:"count"`
}

type notificationsResponse struct {
	Notifications []notify.Notification `json:"notifications"`
}

func minutesOrEventDefault(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	writeJSON(w, http.StatusOK, s.extractor.Extract(r.Context(), req.Text))
}

func (s *Server) handleExtractBatch(w http.ResponseWriter, r *http.Request) {
	var req extractBatchRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	writeJSON(w, http.StatusOK, s.extractor.ExtractBatch(r.Context(), req.Texts))
}

func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list := s.scheduler.GetUpcomingReminders(limit)
	writeJSON(w, http.StatusOK, remindersResponse{Reminders: list, Count: len(list)})
}

func (s *Server) handleAllReminders(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list := s.scheduler.GetAllReminders(limit)
	writeJSON(w, http.StatusOK, remindersResponse{Reminders: list, Count: len(list)})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.GetStatus())
}

func (s *Server) handleAddReminder(w http.ResponseWriter, r *http.Request) {
	var req reminderRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	rem, ok := s.scheduler.AddReminder(r.Context(), req.Event, minutesOrEventDefault(req.MinutesBefore))
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "reminder not scheduled: reminders disabled, missing start time or reminder time already passed")
		return
	}
	writeJSON(w, http.StatusCreated, rem)
}

func (s *Server) handleUpdateReminder(w http.ResponseWriter, r *http.Request) {
	var req reminderRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if req.Event.ID == "" {
		writeError(w, http.StatusBadRequest, "event.id is required")
		return
	}
	if !req.Event.EnableReminder {
		writeJSON(w, http.StatusOK, countResponse{Count: s.scheduler.RemoveReminder(r.Context(), req.Event.ID)})
		return
	}
	rem, ok := s.scheduler.UpdateReminder(r.Context(), req.Event, minutesOrEventDefault(req.MinutesBefore))
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "reminder not scheduled: missing start time or reminder time already passed")
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

func (s *Server) handleRemoveReminderByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed := s.scheduler.RemoveReminderByID(r.Context(), id)
	if removed == nil {
		writeError(w, http.StatusNotFound, "reminder not found")
		return
	}
	writeJSON(w, http.StatusOK, removed)
}

func (s *Server) handleRemoveEventReminders(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	writeJSON(w, http.StatusOK, countResponse{Count: s.scheduler.RemoveReminder(r.Context(), eventID)})
}

func (s *Server) handleSnooze(w http.ResponseWriter, r *http.Request) {
	var req snoozeRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	if req.Minutes == 0 {
		req.Minutes = defaultSnoozeMinutes
	}

	rem, err := s.scheduler.Snooze(r.Context(), chi.URLParam(r, "id"), req.Minutes)
	switch {
	case errors.Is(err, reminder.ErrNotFound):
		writeError(w, http.StatusNotFound, "reminder not found")
	case errors.Is(err, reminder.ErrInvalidMinutes):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, rem)
	}
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.CleanupExpiredReminders(r.Context()))
}

func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	n := s.scheduler.RescheduleAll(r.Context(), req.Events, minutesOrEventDefault(req.MinutesBefore))
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}

// handleNotifications drains the inbox; ?peek=true leaves it intact.
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if s.inbox == nil {
		writeJSON(w, http.StatusOK, notificationsResponse{Notifications: []notify.Notification{}})
		return
	}
	var items []notify.Notification
	if queryBool(r, "peek") {
		items = s.inbox.Peek()
	} else {
		items = s.inbox.Drain()
	}
	writeJSON(w, http.StatusOK, notificationsResponse{Notifications: items})
}
