package web

import (
	"errors"
	"io"
	"net/http"
	"time"

	"smartcal/internal/calsync"
	"smartcal/internal/ics"
	appLog "smartcal/internal/log"
	"smartcal/internal/model"
)

type exportRequest struct {
	Events []model.Event `json:"events"`
	Name   string        `json:"name"`
}

type importResponse struct {
	Events    []model.Event `json:"events"`
	Scheduled int           `json:"scheduled"`
	Truncated []string      `json:"truncated,omitempty"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	name := req.Name
	if name == "" {
		name = "smartcal"
	}

	body := ics.Export(req.Events, s.scheduler.Location(), name)
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="smartcal.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

// handleImport reads a text/calendar body and expands it over
// [now, now+days]. With ?schedule=true every event that wants a reminder
// is added to the scheduler alongside the existing ones.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", s.cfg.Sync.HorizonDays)
	if err != nil || days == 0 {
		writeError(w, http.StatusBadRequest, "days must be a positive integer")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCalendarBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "calendar too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	loc := s.scheduler.Location()
	parsed, err := ics.ParseICS(ics.Source{ID: "upload"}, body, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid calendar: "+err.Error())
		return
	}

	now := s.now()
	expanded, err := ics.Expand(parsed, ics.ExpandConfig{
		Location:               loc,
		RangeStart:             now,
		RangeEnd:               now.Add(time.Duration(days) * 24 * time.Hour),
		DefaultReminderMinutes: s.cfg.Extraction.DefaultReminderMinutes,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := importResponse{Events: expanded.Events, Truncated: expanded.TruncatedEvents}
	if queryBool(r, "schedule") {
		for _, ev := range expanded.Events {
			if !ev.EnableReminder {
				continue
			}
			if _, ok := s.scheduler.AddReminder(r.Context(), ev, -1); ok {
				resp.Scheduled++
			}
		}
	}
	appLog.Info("calendar imported", "vevents", len(parsed), "events", len(resp.Events), "scheduled", resp.Scheduled)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil || !s.syncer.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "calendar sync is not configured")
		return
	}
	res, err := s.syncer.SyncOnce(r.Context())
	if err != nil {
		if errors.Is(err, calsync.ErrNoSourcesFetched) {
			writeJSON(w, http.StatusBadGateway, res)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, _ *http.Request) {
	type statusResponse struct {
		Enabled bool            `json:"enabled"`
		Last    *calsync.Result `json:"last,omitempty"`
	}
	if s.syncer == nil {
		writeJSON(w, http.StatusOK, statusResponse{})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Enabled: s.syncer.Enabled(), Last: s.syncer.Last()})
}
