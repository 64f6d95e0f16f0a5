package sems

import (
	"fmt"
	"net/url"
	"strings"
)

// Region is one of the two geographically partitioned SEMS deployments.
type Region string

const (
	RegionUS Region = "us"
	RegionEU Region = "eu"

	// RegionPrimary and RegionSecondary name the two regions by role.
	RegionPrimary   = RegionUS
	RegionSecondary = RegionEU
)

// Regions lists the known regions, primary first.
var Regions = []Region{RegionPrimary, RegionSecondary}

const (
	defaultUSBase = "https://us.semsportal.com/api/"
	defaultEUBase = "https://eu.semsportal.com/api/"

	// path prefix of data endpoints, everything before it is the base URL
	dataPathMarker = "PowerStationMonitor/"
)

// ParseRegion parses a region code. Role names are accepted as aliases.
func ParseRegion(s string) (Region, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "us", "primary", "":
		return RegionUS, nil
	case "eu", "secondary":
		return RegionEU, nil
	default:
		return "", fmt.Errorf("unknown sems region: %q", s)
	}
}

// Registry maps regions to their base URLs and validates base URLs suggested
// by the portal.
type Registry struct {
	bases        map[Region]*url.URL
	allowAnyHost bool
}

// DefaultRegistry returns the registry of the public SEMS hosts.
func DefaultRegistry(allowAnyHost bool) *Registry {
	r, err := NewRegistry(defaultUSBase, defaultEUBase, allowAnyHost)
	if err != nil {
		panic(fmt.Errorf("invalid default sems registry: %w", err))
	}
	return r
}

// NewRegistry builds a registry from the primary and secondary base URLs.
// With allowAnyHost set, Sanitize accepts any https host instead of only the
// two region hosts.
func NewRegistry(primary, secondary string, allowAnyHost bool) (*Registry, error) {
	r := &Registry{
		bases:        make(map[Region]*url.URL, 2),
		allowAnyHost: allowAnyHost,
	}
	for region, raw := range map[Region]string{RegionPrimary: primary, RegionSecondary: secondary} {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s base url (%s): %w", region, raw, err)
		}
		if u.Scheme != "https" || u.Hostname() == "" {
			return nil, fmt.Errorf("%s base url must be an https url: %s", region, raw)
		}
		u.Path = "/api/"
		u.RawQuery = ""
		u.Fragment = ""
		r.bases[region] = u
	}
	return r, nil
}

// Resolve returns the base URL of region. Unknown regions resolve to the
// primary region.
func (r *Registry) Resolve(region Region) string {
	if u, ok := r.bases[region]; ok {
		return u.String()
	}
	return r.bases[RegionPrimary].String()
}

// Other returns the region that is not region.
func (r *Registry) Other(region Region) Region {
	if region == RegionSecondary {
		return RegionPrimary
	}
	return RegionSecondary
}

// Sanitize reduces a candidate URL to an https base URL ending in /api/. It
// returns false when the candidate cannot be parsed or its host is not one of
// the region hosts (unless any host is allowed). Callers fall back to a known
// region on rejection.
func (r *Registry) Sanitize(candidate string) (string, bool) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", false
	}
	if i := strings.Index(candidate, dataPathMarker); i >= 0 {
		candidate = candidate[:i]
	}
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return "", false
	}
	base := (&url.URL{Scheme: "https", Host: strings.ToLower(u.Host), Path: "/api/"}).String()
	if r.allowAnyHost {
		return base, true
	}
	if _, ok := r.regionOfURL(u); ok {
		return base, true
	}
	return "", false
}

// RegionOf returns the region whose host serves base.
func (r *Registry) RegionOf(base string) (Region, bool) {
	u, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	return r.regionOfURL(u)
}

func (r *Registry) regionOfURL(u *url.URL) (Region, bool) {
	for _, region := range Regions {
		known := r.bases[region]
		if !strings.EqualFold(known.Hostname(), u.Hostname()) {
			continue
		}
		// a port on the known host pins it, otherwise any port is that host
		if known.Port() != "" && known.Port() != u.Port() {
			continue
		}
		return region, true
	}
	return "", false
}
