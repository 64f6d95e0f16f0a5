package sems

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/solarmind/solarmind/pkg/log"
)

// Session is a portal login. It is immutable; the Sessions manager replaces
// the cached one instead of mutating it.
type Session struct {
	Token    string
	IssuedAt time.Time
	// LoginRegion served the login.
	LoginRegion Region
	// DataRegion is the region expected to hold the account's data.
	DataRegion Region
	// DataHostOverride is a sanitized base URL discovered at login that is
	// preferred over the region hosts.
	DataHostOverride string
}

// Expired reports whether the session is older than ttl at now.
func (s Session) Expired(now time.Time, ttl time.Duration) bool {
	return s.Token == "" || !now.Before(s.IssuedAt.Add(ttl))
}

// Sessions owns the cached Session. Every read and replacement happens under
// one mutex so at most one login is in flight.
type Sessions struct {
	client    *http.Client
	regions   *Registry
	creds     Credentials
	preferred Region
	ttl       time.Duration
	now       func() time.Time

	mu      sync.Mutex
	current *Session
}

// HasCredentials reports whether a login can be attempted.
func (s *Sessions) HasCredentials() bool {
	return s.creds.Account != "" && s.creds.Password != ""
}

// Get returns the cached session when it is younger than the ttl and force is
// false. Otherwise it logs in again and replaces the cache.
func (s *Sessions) Get(ctx context.Context, force bool) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !force && s.current != nil && !s.current.Expired(s.now(), s.ttl) {
		return *s.current, nil
	}
	return s.relogin(ctx)
}

// Renew forces a new login unless another caller already replaced stale with
// a fresh session, in which case that session is returned.
func (s *Sessions) Renew(ctx context.Context, stale Session) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.Token != stale.Token && !s.current.Expired(s.now(), s.ttl) {
		log.Ctx(ctx).DebugContext(ctx, "sems session already renewed by another caller")
		return *s.current, nil
	}
	tokenRenewalsTotal.Inc()
	return s.relogin(ctx)
}

// NoteDataRegion records that region served data for sess and returns the
// updated copy. The cached session is updated if it still has the same token.
func (s *Sessions) NoteDataRegion(ctx context.Context, sess Session, region Region) Session {
	if sess.DataRegion == region {
		return sess
	}
	log.Ctx(ctx).InfoContext(ctx, "sems data region switched",
		slog.String("from", string(sess.DataRegion)),
		slog.String("to", string(region)),
	)
	sess.DataRegion = region

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.Token == sess.Token {
		updated := *s.current
		updated.DataRegion = region
		s.current = &updated
	}
	return sess
}

// must be called with s.mu held
func (s *Sessions) relogin(ctx context.Context) (Session, error) {
	// an expired or rejected session is never handed out again
	s.current = nil
	sess, err := s.Login(ctx)
	if err != nil {
		return Session{}, err
	}
	s.current = &sess
	return sess, nil
}

// Login logs in against the preferred region and then once against the other
// region. It does not touch the cached session.
func (s *Sessions) Login(ctx context.Context) (Session, error) {
	if !s.HasCredentials() {
		return Session{}, fmt.Errorf("%w: missing portal account or password", ErrConfiguration)
	}

	tried := []Region{s.preferred, s.regions.Other(s.preferred)}
	var errs []error
	for i, region := range tried {
		log.Ctx(ctx).InfoContext(ctx, "logging in to sems",
			slog.String("region", string(region)),
			slog.Int("attempt", i+1),
		)
		sess, err := s.loginRegion(ctx, region)
		if err != nil {
			loginsTotal.WithLabelValues(string(region), "failure").Inc()
			log.Ctx(ctx).WarnContext(ctx, "sems login failed", slog.String("region", string(region)), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", region, err))
			continue
		}
		loginsTotal.WithLabelValues(string(region), "success").Inc()
		log.Ctx(ctx).InfoContext(ctx, "sems login success",
			slog.String("loginRegion", string(sess.LoginRegion)),
			slog.String("dataRegion", string(sess.DataRegion)),
			slog.String("override", sess.DataHostOverride),
		)
		return sess, nil
	}
	return Session{}, &AuthError{Regions: tried, Err: errors.Join(errs...)}
}

// initialToken is the token header sent with the login request itself.
func initialToken() string {
	b, _ := json.Marshal(map[string]interface{}{
		"uid":       "",
		"timestamp": 0,
		"token":     "",
		"client":    "web",
		"version":   "",
		"language":  "en",
	})
	return base64.StdEncoding.EncodeToString(b)
}

// loginHintFields are the fields of the login data that may carry the data host.
var loginHintFields = []string{"api", "apiDomain", "server"}

func (s *Sessions) loginRegion(ctx context.Context, region Region) (Session, error) {
	payload := map[string]interface{}{
		"account":             s.creds.Account,
		"pwd":                 s.creds.Password,
		"agreement_agreement": 0,
		"is_local":            false,
	}
	headers := map[string]string{
		"Token":   initialToken(),
		"Origin":  "https://semsportal.com",
		"Referer": "https://semsportal.com/",
	}
	status, body, err := doPost(ctx, s.client, s.regions.Resolve(region)+loginPath, "", payload, headers)
	if err != nil {
		return Session{}, err
	}
	if status != http.StatusOK {
		return Session{}, fmt.Errorf("status %d", status)
	}

	pr, ok, err := decodeEnvelope(body)
	if err != nil {
		return Session{}, fmt.Errorf("failed to decode login response: %w", err)
	}
	if !ok || !hasData(pr.Data) {
		return Session{}, fmt.Errorf("login response without data (code %d: %s)", pr.Code, pr.Msg)
	}

	var data map[string]interface{}
	if err := json.Unmarshal(pr.Data, &data); err != nil {
		return Session{}, fmt.Errorf("login data is not an object: %w", err)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, pr.Data); err != nil {
		return Session{}, err
	}

	sess := Session{
		Token:       base64.StdEncoding.EncodeToString(compact.Bytes()),
		IssuedAt:    s.now(),
		LoginRegion: region,
		DataRegion:  region,
	}

	hints := make([]string, 0, len(loginHintFields)+1)
	for _, field := range loginHintFields {
		if v, ok := data[field].(string); ok {
			hints = append(hints, v)
		}
	}
	hints = append(hints, pr.API)
	for _, hint := range hints {
		base, ok := s.regions.Sanitize(hint)
		if !ok {
			if hint != "" {
				log.Ctx(ctx).DebugContext(ctx, "ignoring sems host hint", slog.String("hint", hint))
			}
			continue
		}
		sess.DataHostOverride = base
		if r, ok := s.regions.RegionOf(base); ok {
			sess.DataRegion = r
		}
		break
	}
	return sess, nil
}
