package common

import (
	_ "embed"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

//go:embed VERSION
var version string

// Version returns the build version embedded in the binary.
func Version() string {
	return strings.TrimSpace(version)
}

type portalTransport struct {
	transport http.RoundTripper
	userAgent string
	limiter   *rate.Limiter
}

// RoundTrip sets the user agent and waits for the limiter before handing the
// request to the underlying transport.
func (t *portalTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	// Clone the request to avoid modifying the original request's headers
	// which might be shared or reused
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	return t.transport.RoundTrip(req)
}

// HTTPClient returns a default http client with a default user-agent set
func HTTPClient(timeout time.Duration) *http.Client {
	return LimitedHTTPClient(timeout, nil)
}

// LimitedHTTPClient returns an http client like HTTPClient whose requests
// also wait on limiter. A nil limiter disables limiting.
func LimitedHTTPClient(timeout time.Duration, limiter *rate.Limiter) *http.Client {
	return WrapClient(&http.Client{Transport: http.DefaultTransport, Timeout: timeout}, limiter)
}

// WrapClient returns a copy of c whose transport sets the user agent and waits
// on limiter. It is used by tests to wrap httptest TLS clients.
func WrapClient(c *http.Client, limiter *rate.Limiter) *http.Client {
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Transport: &portalTransport{
			transport: base,
			userAgent: "SolarMind/" + Version(),
			limiter:   limiter,
		},
		Timeout: c.Timeout,
	}
}
