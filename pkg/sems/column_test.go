package sems

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateVariants(t *testing.T) {
	assert.Equal(t, []string{"2026-10-16 00:00:00", "2026-10-16"}, dateVariants("2026-10-16 00:00:00"))
	assert.Equal(t, []string{"2026-10-16T10:00:00", "2026-10-16"}, dateVariants("2026-10-16T10:00:00"))
	assert.Equal(t, []string{"2026-10-16"}, dateVariants("2026-10-16"))
}

func TestFetchColumn(t *testing.T) {
	id := InverterIdentity{Serial: "INV1"}
	date := "2026-10-16 00:00:00"

	t.Run("Success", func(t *testing.T) {
		p := newFakePortal(t, func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
			switch r.URL.Path {
			case loginPath:
				loginOK(w, 1, nil)
			case columnPath:
				assert.Equal(t, "INV1", body["id"])
				assert.Equal(t, ColumnACPower, body["column"])
				assert.Equal(t, date, body["date"])
				columnOK(w, 1.0, 2.5)
			}
		}, nil)
		c := p.client(Config{})
		sess, err := c.Session(context.Background(), false)
		require.NoError(t, err)

		series, _, err := c.FetchColumn(context.Background(), sess, id, ColumnACPower, date)
		require.NoError(t, err)
		require.Len(t, series, 2)
		last, ok := series.Last()
		assert.True(t, ok)
		assert.Equal(t, 2.5, last)
		assert.Equal(t, sess.Token, p.calls(columnPath)[0].Token)
	})

	t.Run("Wrong Backend Suggestion", func(t *testing.T) {
		var p *fakePortal
		p = newFakePortal(t, func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
			switch r.URL.Path {
			case loginPath:
				loginOK(w, 1, nil)
			case columnPath:
				wrongBackend(w, p.secondary.URL+"/api/PowerStationMonitor/GetInverterDataByColumn")
			}
		}, func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
			columnOK(w, 3.3)
		})
		// strict hosts keeps the secondary out of the candidates unless suggested
		c := p.client(Config{StrictHosts: true})
		sess, err := c.Session(context.Background(), false)
		require.NoError(t, err)
		require.Equal(t, []string{p.base(RegionPrimary)}, c.candidates(sess))

		series, used, err := c.FetchColumn(context.Background(), sess, id, ColumnACPower, date)
		require.NoError(t, err)
		require.Len(t, series, 1)
		assert.Equal(t, 3.3, series[0].Value)
		assert.Equal(t, 1, p.count(columnPath, RegionPrimary))
		assert.Equal(t, 1, p.count(columnPath, RegionSecondary))
		assert.Equal(t, RegionSecondary, used.DataRegion, "data region should follow the host that answered")

		cached, err := c.Session(context.Background(), false)
		require.NoError(t, err)
		assert.Equal(t, RegionSecondary, cached.DataRegion)
	})

	t.Run("Date Only Before Renewal", func(t *testing.T) {
		var logins atomic.Int32
		p := newFakePortal(t, func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
			switch r.URL.Path {
			case loginPath:
				loginOK(w, int(logins.Add(1)), nil)
			case columnPath:
				if strings.Contains(body["date"].(string), " ") {
					http.Error(w, "bad date", http.StatusBadRequest)
					return
				}
				columnOK(w, 7)
			}
		}, nil)
		c := p.client(Config{StrictHosts: true})
		sess, err := c.Session(context.Background(), false)
		require.NoError(t, err)

		series, _, err := c.FetchColumn(context.Background(), sess, id, ColumnEnergyToday, date)
		require.NoError(t, err)
		require.Len(t, series, 1)

		calls := p.calls(columnPath)
		require.Len(t, calls, 2)
		assert.Equal(t, date, calls[0].Body["date"])
		assert.Equal(t, "2026-10-16", calls[1].Body["date"])
		assert.EqualValues(t, 1, logins.Load(), "no renewal should happen")
	})

	t.Run("Renews Between Cycles", func(t *testing.T) {
		var logins atomic.Int32
		p := newFakePortal(t, func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
			switch r.URL.Path {
			case loginPath:
				loginOK(w, int(logins.Add(1)), nil)
			case columnPath:
				// only the renewed token is accepted
				if logins.Load() < 2 {
					wrongBackend(w, "")
					return
				}
				columnOK(w, 9)
			}
		}, nil)
		c := p.client(Config{StrictHosts: true})
		sess, err := c.Session(context.Background(), false)
		require.NoError(t, err)

		series, used, err := c.FetchColumn(context.Background(), sess, id, ColumnACPower, date)
		require.NoError(t, err)
		require.Len(t, series, 1)
		assert.NotEqual(t, sess.Token, used.Token)
		assert.EqualValues(t, 2, logins.Load())
		assert.Len(t, p.calls(columnPath), 3)
	})

	t.Run("Bounded Retries", func(t *testing.T) {
		var logins atomic.Int32
		handler := func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
			switch r.URL.Path {
			case loginPath:
				loginOK(w, int(logins.Add(1)), nil)
			case columnPath:
				wrongBackend(w, "")
			}
		}
		p := newFakePortal(t, handler, handler)
		c := p.client(Config{})
		sess, err := c.Session(context.Background(), false)
		require.NoError(t, err)

		_, _, err = c.FetchColumn(context.Background(), sess, id, ColumnACPower, date)
		require.Error(t, err)
		var fetchErr *FetchError
		require.True(t, errors.As(err, &fetchErr))
		assert.Equal(t, codeWrongBackend, fetchErr.Code)
		assert.Equal(t, ColumnACPower, fetchErr.Op)

		// 2 cycles x 2 date variants x 2 hosts
		assert.Len(t, p.calls(columnPath), 8)
		assert.EqualValues(t, 2, logins.Load(), "renewal only between cycles")
	})

	t.Run("Candidates Capped", func(t *testing.T) {
		var p *fakePortal
		p = newFakePortal(t, func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
			switch r.URL.Path {
			case loginPath:
				loginOK(w, 1, map[string]interface{}{"api": "https://127.0.0.1:1/api/"})
			case columnPath:
				wrongBackend(w, "https://127.0.0.2:1/api/")
			}
		}, func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
			wrongBackend(w, "https://127.0.0.3:1/api/")
		})
		registry, err := NewRegistry(p.primary.URL, p.secondary.URL, true)
		require.NoError(t, err)
		p.registry = registry
		c := p.client(Config{MaxTokenCycles: 1})
		sess, err := c.Session(context.Background(), false)
		require.NoError(t, err)
		require.Len(t, c.candidates(sess), maxCandidates)

		_, _, err = c.FetchColumn(context.Background(), sess, id, ColumnACPower, "2026-10-16")
		require.Error(t, err)
		// the unreachable override fails at the transport, the others answer
		assert.Len(t, p.calls(columnPath), 2)
	})

	t.Run("Renewal Failure Aborts", func(t *testing.T) {
		var logins atomic.Int32
		handler := func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
			switch r.URL.Path {
			case loginPath:
				if logins.Add(1) > 1 {
					http.Error(w, "nope", http.StatusInternalServerError)
					return
				}
				loginOK(w, 1, nil)
			case columnPath:
				wrongBackend(w, "")
			}
		}
		p := newFakePortal(t, handler, handler)
		c := p.client(Config{})
		sess, err := c.Session(context.Background(), false)
		require.NoError(t, err)

		_, _, err = c.FetchColumn(context.Background(), sess, id, ColumnACPower, date)
		require.Error(t, err)
		var fetchErr *FetchError
		require.True(t, errors.As(err, &fetchErr))
		var authErr *AuthError
		assert.True(t, errors.As(err, &authErr))
		assert.Len(t, p.calls(columnPath), 4, "one cycle only")
	})

	t.Run("Missing Serial", func(t *testing.T) {
		p := newFakePortal(t, nil, nil)
		c := p.client(Config{})
		_, _, err := c.FetchColumn(context.Background(), Session{Token: "t"}, InverterIdentity{}, ColumnACPower, date)
		assert.ErrorIs(t, err, ErrConfiguration)
	})
}
