package sems

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func realtimePortal(t *testing.T, detail func(w http.ResponseWriter, body map[string]interface{})) (*fakePortal, *Client, Session) {
	t.Helper()
	p := newFakePortal(t, func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
		switch r.URL.Path {
		case loginPath:
			loginOK(w, 1, nil)
		case realtimePath, stationListPath:
			detail(w, body)
		default:
			http.NotFound(w, r)
		}
	}, nil)
	c := p.client(Config{})
	sess, err := c.Session(context.Background(), false)
	require.NoError(t, err)
	return p, c, sess
}

func TestFetchRealtime(t *testing.T) {
	t.Run("Online", func(t *testing.T) {
		p, c, sess := realtimePortal(t, func(w http.ResponseWriter, body map[string]interface{}) {
			assert.Equal(t, "ST1", body["powerStationId"])
			writeJSON(w, map[string]interface{}{
				"code": 0,
				"data": map[string]interface{}{
					"inverter": []interface{}{
						map[string]interface{}{
							"invert_full": map[string]interface{}{
								"sn":     "INV1",
								"status": 1,
								"pac":    3.2,
								"ppv":    "4.1",
								"soc":    87,
								"eday":   12.4,
							},
						},
					},
				},
			})
		})

		snap, err := c.FetchRealtime(context.Background(), sess, "ST1")
		require.NoError(t, err)
		assert.Equal(t, RealtimeSnapshot{
			Online:         true,
			Serial:         "INV1",
			ACPower:        3.2,
			PVPower:        4.1,
			BatterySOC:     87,
			EnergyTodayKWH: 12.4,
		}, snap)
		assert.Equal(t, sess.Token, p.calls(realtimePath)[0].Token)
	})

	t.Run("Full Detail", func(t *testing.T) {
		_, c, sess := realtimePortal(t, func(w http.ResponseWriter, body map[string]interface{}) {
			writeJSON(w, map[string]interface{}{
				"code": 0,
				"data": map[string]interface{}{
					"inverters": []interface{}{
						map[string]interface{}{"fullDetail": map[string]interface{}{"pac": 1500, "Cbattery1": 40}},
					},
				},
			})
		})
		snap, err := c.FetchRealtime(context.Background(), sess, "ST1")
		require.NoError(t, err)
		assert.True(t, snap.Online)
		assert.Equal(t, 1500.0, snap.ACPower)
		assert.Equal(t, 40.0, snap.BatterySOC)
	})

	t.Run("Missing Structure Is Offline", func(t *testing.T) {
		_, c, sess := realtimePortal(t, func(w http.ResponseWriter, body map[string]interface{}) {
			writeJSON(w, map[string]interface{}{"code": 0, "data": map[string]interface{}{"inverter": []interface{}{}}})
		})
		snap, err := c.FetchRealtime(context.Background(), sess, "ST1")
		require.NoError(t, err)
		assert.Equal(t, RealtimeSnapshot{}, snap)
	})

	t.Run("Disconnected Is Offline", func(t *testing.T) {
		_, c, sess := realtimePortal(t, func(w http.ResponseWriter, body map[string]interface{}) {
			writeJSON(w, map[string]interface{}{
				"code": 0,
				"data": map[string]interface{}{
					"inverter": []interface{}{
						map[string]interface{}{"invert_full": map[string]interface{}{"status": -1, "pac": 99}},
					},
				},
			})
		})
		snap, err := c.FetchRealtime(context.Background(), sess, "ST1")
		require.NoError(t, err)
		assert.False(t, snap.Online)
		assert.Zero(t, snap.ACPower)
	})

	t.Run("Portal Error", func(t *testing.T) {
		_, c, sess := realtimePortal(t, func(w http.ResponseWriter, body map[string]interface{}) {
			writeJSON(w, map[string]interface{}{"hasError": true, "code": "100001", "msg": "token expired"})
		})
		_, err := c.FetchRealtime(context.Background(), sess, "ST1")
		var fetchErr *FetchError
		require.True(t, errors.As(err, &fetchErr))
		assert.Equal(t, 100001, fetchErr.Code)
	})

	t.Run("Bad Status", func(t *testing.T) {
		_, c, sess := realtimePortal(t, func(w http.ResponseWriter, body map[string]interface{}) {
			w.WriteHeader(http.StatusBadGateway)
		})
		_, err := c.FetchRealtime(context.Background(), sess, "ST1")
		var fetchErr *FetchError
		assert.True(t, errors.As(err, &fetchErr))
	})

	t.Run("Raw", func(t *testing.T) {
		_, c, sess := realtimePortal(t, func(w http.ResponseWriter, body map[string]interface{}) {
			w.Write([]byte(`{"code":0,"data":{"anything":[1,2]}}`))
		})
		raw, err := c.FetchRealtimeRaw(context.Background(), sess, "ST1")
		require.NoError(t, err)
		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Contains(t, decoded, "data")
	})

	t.Run("Missing Station", func(t *testing.T) {
		_, c, sess := realtimePortal(t, func(w http.ResponseWriter, body map[string]interface{}) {})
		_, err := c.FetchRealtime(context.Background(), sess, "")
		assert.ErrorIs(t, err, ErrConfiguration)
	})
}

func TestResolveStation(t *testing.T) {
	t.Run("Explicit", func(t *testing.T) {
		p, c, sess := realtimePortal(t, func(w http.ResponseWriter, body map[string]interface{}) {})
		station, err := c.ResolveStation(context.Background(), sess, InverterIdentity{Serial: "INV1", StationID: "ST9"})
		require.NoError(t, err)
		assert.Equal(t, "ST9", station)
		assert.Empty(t, p.calls(stationListPath))
	})

	t.Run("Discovered Once", func(t *testing.T) {
		p, c, sess := realtimePortal(t, func(w http.ResponseWriter, body map[string]interface{}) {
			writeJSON(w, map[string]interface{}{
				"code": 0,
				"data": map[string]interface{}{
					"list": []interface{}{map[string]interface{}{"powerStationId": "ST1", "powerStationName": "Home"}},
				},
			})
		})
		for i := 0; i < 2; i++ {
			station, err := c.ResolveStation(context.Background(), sess, InverterIdentity{Serial: "INV1"})
			require.NoError(t, err)
			assert.Equal(t, "ST1", station)
		}
		assert.Len(t, p.calls(stationListPath), 1)
	})

	t.Run("Ambiguous", func(t *testing.T) {
		_, c, sess := realtimePortal(t, func(w http.ResponseWriter, body map[string]interface{}) {
			writeJSON(w, map[string]interface{}{
				"code": 0,
				"data": []interface{}{
					map[string]interface{}{"id": "ST1"},
					map[string]interface{}{"station_id": "ST2"},
				},
			})
		})
		_, err := c.ResolveStation(context.Background(), sess, InverterIdentity{Serial: "INV1"})
		assert.ErrorIs(t, err, ErrConfiguration)
	})
}
