package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/solarmind/solarmind/pkg/log"
)

// handleUpdate runs the periodic jobs once, for deployments that schedule
// them externally. Partial failures are reported but the jobs that succeeded
// keep their effects.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	if err := s.updater.RunOnce(ctx); err != nil {
		writeTelemetryError(ctx, w, "update", err)
		return
	}
	email, _ := ctx.Value(emailContextKey).(string)
	log.Ctx(ctx).InfoContext(ctx, "update finished", slog.String("requestedBy", email), slog.Duration("duration", time.Since(start)))
	w.WriteHeader(http.StatusOK)
}
