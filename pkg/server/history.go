package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/solarmind/solarmind/pkg/telemetry"
)

const dayLayout = "2006-01-02"

// handleStoredHistory returns the persisted day summaries. Unlike
// /api/history it never calls the monitoring portal.
func (s *Server) handleStoredHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start, end, err := parseDayRange(r, time.Now())
	if err != nil {
		writeJSONError(w, "invalid date range: "+err.Error(), http.StatusBadRequest)
		return
	}

	days, err := s.storage.GetDaySummaries(ctx, s.identity.Serial, start.Format(dayLayout), end.Format(dayLayout))
	if err != nil {
		writeTelemetryError(ctx, w, "stored history", err)
		return
	}

	// Past days no longer change once stored.
	today := truncateDay(time.Now())
	if end.Before(today) {
		w.Header().Set("Cache-Control", "private, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=60")
	}
	writeJSON(w, days)
}

// handleStoredStatus returns the last status stored by the scheduler, which
// stays available while the portal is down.
func (s *Server) handleStoredStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := s.storage.GetLatestStatus(ctx, s.identity.Serial)
	if err != nil {
		writeTelemetryError(ctx, w, "stored status", err)
		return
	}
	if st == nil {
		writeJSONError(w, "no stored status", http.StatusNotFound)
		return
	}
	writeJSON(w, st)
}

// parseDayRange reads start and end (YYYY-MM-DD, both inclusive). Without
// them the last week up to now is used.
func parseDayRange(r *http.Request, now time.Time) (time.Time, time.Time, error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" || endStr == "" {
		end := truncateDay(now)
		start := end.AddDate(0, 0, -(defaultHistoryDays - 1))
		return start, end, nil
	}

	start, err := time.Parse(dayLayout, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date: %w", err)
	}

	end, err := time.Parse(dayLayout, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end date: %w", err)
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("start date must not be after end date")
	}

	if end.Sub(start) >= telemetry.MaxHistoryDays*24*time.Hour {
		return time.Time{}, time.Time{}, fmt.Errorf("date range cannot exceed %d days", telemetry.MaxHistoryDays)
	}

	return start, end, nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
