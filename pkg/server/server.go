package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/solarmind/solarmind/pkg/cache"
	"github.com/solarmind/solarmind/pkg/common"
	"github.com/solarmind/solarmind/pkg/log"
	"github.com/solarmind/solarmind/pkg/sems"
	"github.com/solarmind/solarmind/pkg/storage"
	"github.com/solarmind/solarmind/pkg/types"
)

type contextKey string

const (
	emailContextKey contextKey = "email"
)

// Aggregator produces the telemetry views served by the API.
type Aggregator interface {
	Status(ctx context.Context) (types.Status, error)
	Report(ctx context.Context) (types.Report, error)
	History(ctx context.Context, days int) (types.History, error)
	Intraday(ctx context.Context) (types.Intraday, error)
	RealtimeRaw(ctx context.Context) (json.RawMessage, error)
}

// Updater runs the periodic jobs on demand.
type Updater interface {
	RunOnce(ctx context.Context) error
}

// tokenVerifier validates an ID token and returns its email claim.
type tokenVerifier func(ctx context.Context, rawIDToken string) (string, error)

// Server serves the telemetry API. Reads go through the response cache so
// repeated page loads do not hit the monitoring portal.
type Server struct {
	agg      Aggregator
	cache    *cache.Cache
	storage  storage.Database
	updater  Updater
	identity *sems.InverterIdentity

	listenAddr string
	httpServer *http.Server

	adminEmails []string
	verifier    tokenVerifier
	serverName  string
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(agg Aggregator, c *cache.Cache, db storage.Database, updater Updater, identity *sems.InverterIdentity) *Server {
	srv := &Server{
		agg:        agg,
		cache:      c,
		storage:    db,
		updater:    updater,
		identity:   identity,
		serverName: "solarmind",
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	adminEmails := lflag.String("admin-emails", "", "comma-delimited list of email addresses allowed to call the API when oidc-audience is set")
	oidcAudience := lflag.String("oidc-audience", "", "audience of the Google ID tokens required on /api/, empty disables auth")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		if *adminEmails != "" {
			srv.adminEmails = strings.Split(*adminEmails, ",")
			for i, email := range srv.adminEmails {
				srv.adminEmails[i] = strings.TrimSpace(email)
			}
		}
		if *oidcAudience != "" {
			provider, err := oidc.NewProvider(context.Background(), "https://accounts.google.com")
			if err != nil {
				log.Ctx(context.Background()).Error("failed to initialize Google OIDC provider", slog.Any("error", err))
				os.Exit(1)
			}
			srv.verifier = emailVerifier(provider.Verifier(&oidc.Config{ClientID: *oidcAudience}))
		}
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/status", s.handleStatus)
	apiMux.HandleFunc("GET /api/status/stored", s.handleStoredStatus)
	apiMux.HandleFunc("GET /api/report", s.handleReport)
	apiMux.HandleFunc("GET /api/history", s.handleHistory)
	apiMux.HandleFunc("GET /api/history/stored", s.handleStoredHistory)
	apiMux.HandleFunc("GET /api/intraday", s.handleIntraday)
	apiMux.HandleFunc("GET /api/realtime/raw", s.handleRealtimeRaw)
	apiMux.HandleFunc("POST /api/update", s.handleUpdate)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.requestIDMiddleware(gziphandler.GzipHandler(s.headersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

// writeTelemetryError maps an aggregator or storage error onto a status code.
// Configuration problems are the operator's to fix so they are reported as
// unavailable, portal problems as a bad gateway.
func writeTelemetryError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	var authErr *sems.AuthError
	var fetchErr *sems.FetchError
	switch {
	case errors.Is(err, sems.ErrConfiguration):
		log.Ctx(ctx).ErrorContext(ctx, "telemetry not configured", slog.String("op", op), slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusServiceUnavailable)
	case errors.As(err, &authErr):
		log.Ctx(ctx).ErrorContext(ctx, "portal login failed", slog.String("op", op), slog.Any("error", err))
		writeJSONError(w, "cannot authenticate with monitoring portal", http.StatusBadGateway)
	case errors.As(err, &fetchErr):
		log.Ctx(ctx).WarnContext(ctx, "portal fetch failed", slog.String("op", op), slog.Any("error", err))
		writeJSONError(w, "failed to fetch "+op+" from monitoring portal", http.StatusBadGateway)
	case errors.Is(err, storage.ErrDisabled):
		writeJSONError(w, "storage disabled", http.StatusServiceUnavailable)
	default:
		log.Ctx(ctx).ErrorContext(ctx, "request failed", slog.String("op", op), slog.Any("error", err))
		writeJSONError(w, "failed to get "+op, http.StatusInternalServerError)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

// headersMiddleware sets the revision, build version and hardening headers.
// API payloads are cached in process so clients must not keep their own copy
// of a reading that may be seconds old.
func (s *Server) headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if s.serverName != "" {
			h.Set("Server", s.serverName)
		}
		h.Set("X-SolarMind-Version", common.Version())
		h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		if strings.HasPrefix(r.URL.Path, "/api/") {
			h.Set("Cache-Control", "no-store")
		}
		next.ServeHTTP(w, r)
	})
}

// requestIDMiddleware tags the request logger with an id, reusing the
// caller's X-Request-ID when present.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := log.WithAttrs(r.Context(), slog.String("requestID", id), slog.String("reqPath", r.URL.Path))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
