package sems

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakePortal runs two TLS servers standing in for the primary and secondary
// regions. Handlers see paths relative to /api/.
type fakePortal struct {
	t         *testing.T
	primary   *httptest.Server
	secondary *httptest.Server
	registry  *Registry

	mu       sync.Mutex
	requests []portalRequest
}

type portalRequest struct {
	Region Region
	Path   string
	Token  string
	Body   map[string]interface{}
}

func newFakePortal(t *testing.T, primary, secondary func(w http.ResponseWriter, r *http.Request, body map[string]interface{})) *fakePortal {
	t.Helper()
	p := &fakePortal{t: t}
	p.primary = httptest.NewTLSServer(p.handler(RegionPrimary, primary))
	p.secondary = httptest.NewTLSServer(p.handler(RegionSecondary, secondary))
	t.Cleanup(p.primary.Close)
	t.Cleanup(p.secondary.Close)

	var err error
	p.registry, err = NewRegistry(p.primary.URL, p.secondary.URL, false)
	require.NoError(t, err)
	return p
}

func (p *fakePortal) handler(region Region, fn func(w http.ResponseWriter, r *http.Request, body map[string]interface{})) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		path := strings.TrimPrefix(r.URL.Path, "/api/")

		p.mu.Lock()
		p.requests = append(p.requests, portalRequest{Region: region, Path: path, Token: r.Header.Get("Token"), Body: body})
		p.mu.Unlock()

		r.URL.Path = path
		if fn == nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		fn(w, r, body)
	})
}

// client returns a portal client against the fake servers. now may be nil.
func (p *fakePortal) client(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = p.primary.Client()
		cfg.HTTPClient.Timeout = 2 * time.Second
	}
	cfg.Registry = p.registry
	if cfg.Credentials == (Credentials{}) {
		cfg.Credentials = Credentials{Account: "user@example.com", Password: "secret"}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return New(cfg)
}

func (p *fakePortal) base(region Region) string {
	return p.registry.Resolve(region)
}

// count returns how many requests hit path, optionally only in region.
func (p *fakePortal) count(path string, region Region) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, r := range p.requests {
		if r.Path == path && (region == "" || r.Region == region) {
			n++
		}
	}
	return n
}

func (p *fakePortal) calls(path string) []portalRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []portalRequest
	for _, r := range p.requests {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// loginOK answers a login with a token derived from n.
func loginOK(w http.ResponseWriter, n int, extra map[string]interface{}) {
	data := map[string]interface{}{
		"uid":       "uid-1",
		"timestamp": 1700000000000 + n,
		"token":     "tok-" + string(rune('a'+n)),
		"client":    "web",
	}
	for k, v := range extra {
		data[k] = v
	}
	writeJSON(w, map[string]interface{}{
		"hasError": false,
		"code":     0,
		"msg":      "",
		"data":     data,
	})
}

func columnOK(w http.ResponseWriter, values ...float64) {
	items := make([]map[string]interface{}, 0, len(values))
	for i, v := range values {
		items = append(items, map[string]interface{}{
			"date":   time.Date(2026, 10, 16, 8+i, 0, 0, 0, time.UTC).Format(DateLayout),
			"column": v,
		})
	}
	writeJSON(w, map[string]interface{}{
		"hasError": false,
		"code":     0,
		"data":     map[string]interface{}{"column1": items},
	})
}

func wrongBackend(w http.ResponseWriter, suggested string) {
	writeJSON(w, map[string]interface{}{
		"hasError":   true,
		"code":       codeWrongBackend,
		"msg":        "wrong backend",
		"components": map[string]interface{}{"api": suggested},
	})
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
