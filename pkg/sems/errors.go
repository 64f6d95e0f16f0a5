package sems

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfiguration is returned when credentials or the inverter identity are
// missing. It is never retried.
var ErrConfiguration = errors.New("telemetry not configured")

// AuthError is returned when login failed against every region that was tried.
type AuthError struct {
	Regions []Region
	Err     error
}

func (e *AuthError) Error() string {
	names := make([]string, len(e.Regions))
	for i, r := range e.Regions {
		names[i] = string(r)
	}
	return fmt.Sprintf("sems login failed (tried %s): %v", strings.Join(names, ","), e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// FetchError is returned when a column or realtime fetch exhausted its retry
// budget. Code is the last portal code seen.
type FetchError struct {
	Op   string
	Code int
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("sems fetch %s failed (code %d)", e.Op, e.Code)
	}
	return fmt.Sprintf("sems fetch %s failed (code %d): %v", e.Op, e.Code, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
