package sems

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/solarmind/solarmind/pkg/common"
	"github.com/solarmind/solarmind/pkg/log"
)

const (
	loginPath       = "v2/common/crosslogin"
	columnPath      = "PowerStationMonitor/GetInverterDataByColumn"
	realtimePath    = "v2/PowerStation/GetMonitorDetailByPowerstationId"
	stationListPath = "v2/PowerStation/GetPowerStationListByUserId"

	// codeWrongBackend is returned by a region that does not hold the
	// account's data. components.api then points at the right one.
	codeWrongBackend = 100002

	defaultSessionTTL     = 5 * time.Minute
	defaultMaxTokenCycles = 2
	defaultTimeout        = 30 * time.Second

	// maxCandidates bounds the base URLs tried per token cycle
	maxCandidates = 3
)

// Credentials are the portal account and password.
type Credentials struct {
	Account  string
	Password string
}

// InverterIdentity identifies the inverter and, optionally, its station.
type InverterIdentity struct {
	Serial    string
	StationID string
}

// Config holds everything needed to build a Client.
type Config struct {
	HTTPClient  *http.Client
	Registry    *Registry
	Credentials Credentials
	Region      Region
	// StrictHosts drops the other region as a last resort candidate.
	StrictHosts    bool
	MaxTokenCycles int
	SessionTTL     time.Duration
	// Location is used for portal timestamps without a zone.
	Location *time.Location
	Now      func() time.Time
}

// Client talks to the SEMS monitoring portal. Sessions are owned by its
// Sessions manager; fetches take the Session to use explicitly.
type Client struct {
	client         *http.Client
	regions        *Registry
	sessions       *Sessions
	strictHosts    bool
	maxTokenCycles int
	location       *time.Location

	stationMu sync.Mutex
	stationID string
}

// New returns a Client for cfg, filling in defaults for unset fields.
func New(cfg Config) *Client {
	c := &Client{}
	c.configure(cfg)
	return c
}

func (c *Client) configure(cfg Config) {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = common.HTTPClient(defaultTimeout)
	}
	if cfg.Registry == nil {
		cfg.Registry = DefaultRegistry(false)
	}
	if cfg.Region == "" {
		cfg.Region = RegionPrimary
	}
	if cfg.MaxTokenCycles <= 0 {
		cfg.MaxTokenCycles = defaultMaxTokenCycles
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	c.client = cfg.HTTPClient
	c.regions = cfg.Registry
	c.strictHosts = cfg.StrictHosts
	c.maxTokenCycles = cfg.MaxTokenCycles
	c.location = cfg.Location
	c.sessions = &Sessions{
		client:    cfg.HTTPClient,
		regions:   cfg.Registry,
		creds:     cfg.Credentials,
		preferred: cfg.Region,
		ttl:       cfg.SessionTTL,
		now:       cfg.Now,
	}
}

// Sessions returns the session manager of the client.
func (c *Client) Sessions() *Sessions {
	return c.sessions
}

// Location is the timezone portal dates are read in.
func (c *Client) Location() *time.Location {
	return c.location
}

// Session returns a valid session, logging in when needed.
func (c *Client) Session(ctx context.Context, force bool) (Session, error) {
	return c.sessions.Get(ctx, force)
}

// candidates returns the base URLs to try for sess in order: the login
// override, the data region, then the other region unless strict.
func (c *Client) candidates(sess Session) []string {
	out := make([]string, 0, maxCandidates)
	add := func(base string) {
		if base == "" || len(out) >= maxCandidates {
			return
		}
		for _, b := range out {
			if b == base {
				return
			}
		}
		out = append(out, base)
	}
	add(sess.DataHostOverride)
	add(c.regions.Resolve(sess.DataRegion))
	if !c.strictHosts {
		add(c.regions.Resolve(c.regions.Other(sess.DataRegion)))
	}
	return out
}

func newPostJSONRequest(ctx context.Context, endpoint string, data interface{}) (*http.Request, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// post sends a JSON request and returns the status and body. Errors are only
// returned for transport failures.
func (c *Client) post(ctx context.Context, endpoint, token string, data interface{}) (int, []byte, error) {
	return doPost(ctx, c.client, endpoint, token, data, nil)
}

func doPost(ctx context.Context, client *http.Client, endpoint, token string, data interface{}, headers map[string]string) (int, []byte, error) {
	req, err := newPostJSONRequest(ctx, endpoint, data)
	if err != nil {
		return 0, nil, err
	}
	if token != "" {
		req.Header.Set("Token", token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		observeRequest(req.URL.Path, "error", start)
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		observeRequest(req.URL.Path, "error", start)
		return resp.StatusCode, nil, err
	}
	observeRequest(req.URL.Path, strconv.Itoa(resp.StatusCode), start)
	log.Ctx(ctx).DebugContext(ctx, "sems response",
		slog.String("url", endpoint),
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(body)),
	)
	return resp.StatusCode, body, nil
}

// portalCode is the envelope code, which the portal sends either as a number
// or as a string.
type portalCode int

func (p *portalCode) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*p = 0
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("invalid code: %s", string(b))
		}
		n = json.Number(s)
	}
	if n == "" {
		*p = 0
		return nil
	}
	i, err := strconv.Atoi(n.String())
	if err != nil {
		return fmt.Errorf("invalid code: %w", err)
	}
	*p = portalCode(i)
	return nil
}

type portalComponents struct {
	API string `json:"api"`
}

// portalResponse is the envelope most SEMS endpoints answer with.
type portalResponse struct {
	HasError   bool             `json:"hasError"`
	Code       portalCode       `json:"code"`
	Msg        string           `json:"msg"`
	Data       json.RawMessage  `json:"data"`
	Components portalComponents `json:"components"`
	API        string           `json:"api"`
}

// decodeEnvelope decodes body as a portal envelope. ok is false when body is
// not a JSON object, which is allowed for column data.
func decodeEnvelope(body []byte) (portalResponse, bool, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return portalResponse{}, false, fmt.Errorf("empty body")
	}
	if trimmed[0] != '{' {
		if !json.Valid(trimmed) {
			return portalResponse{}, false, fmt.Errorf("invalid json body")
		}
		return portalResponse{}, false, nil
	}
	var pr portalResponse
	if err := json.Unmarshal(trimmed, &pr); err != nil {
		return portalResponse{}, false, err
	}
	return pr, true, nil
}

func hasData(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}
