package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/solarmind/solarmind/pkg/cache"
	"github.com/solarmind/solarmind/pkg/telemetry"
	"github.com/solarmind/solarmind/pkg/types"
)

const defaultHistoryDays = 7

// cache keys, the part before the colon is the metric label
const (
	keyStatus   = "status"
	keyReport   = "report"
	keyIntraday = "intraday"
)

func historyKey(days int) string {
	return "history:" + strconv.Itoa(days)
}

func setCacheHeader(w http.ResponseWriter, hit bool) {
	if hit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
}

// serveCached answers with the cached payload of key, computing it with fn on
// a miss.
func serveCached[T any](w http.ResponseWriter, r *http.Request, c *cache.Cache, op, key string, ttl time.Duration, fn func(ctx context.Context) (T, error)) {
	ctx := r.Context()
	payload, hit, err := cache.Get(ctx, c, key, ttl, fn)
	if err != nil {
		writeTelemetryError(ctx, w, op, err)
		return
	}
	setCacheHeader(w, hit)
	writeJSON(w, payload)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	serveCached(w, r, s.cache, "status", keyStatus, cache.StatusTTL, s.agg.Status)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	serveCached(w, r, s.cache, "report", keyReport, cache.ReportTTL, s.agg.Report)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	days := defaultHistoryDays
	if v := r.URL.Query().Get("days"); v != "" {
		var err error
		days, err = strconv.Atoi(v)
		if err != nil {
			writeJSONError(w, "invalid days: "+v, http.StatusBadRequest)
			return
		}
	}
	days = telemetry.ClampDays(days)
	serveCached(w, r, s.cache, "history", historyKey(days), cache.HistoryTTL, func(ctx context.Context) (types.History, error) {
		return s.agg.History(ctx, days)
	})
}

func (s *Server) handleIntraday(w http.ResponseWriter, r *http.Request) {
	serveCached(w, r, s.cache, "intraday", keyIntraday, cache.IntradayTTL, s.agg.Intraday)
}

// handleRealtimeRaw passes the portal's realtime payload through untouched
// for diagnostics. It is never cached.
func (s *Server) handleRealtimeRaw(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw, err := s.agg.RealtimeRaw(ctx)
	if err != nil {
		writeTelemetryError(ctx, w, "realtime", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(raw); err != nil {
		panic(http.ErrAbortHandler)
	}
}
