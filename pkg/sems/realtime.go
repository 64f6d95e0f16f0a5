package sems

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/solarmind/solarmind/pkg/log"
)

// RealtimeSnapshot is the instantaneous state of the first inverter of a
// station. Power values are as reported, before unit normalization.
type RealtimeSnapshot struct {
	Online         bool
	Serial         string
	ACPower        float64
	PVPower        float64
	BatterySOC     float64
	EnergyTodayKWH float64
}

const opRealtime = "realtime"

var (
	inverterListKeys   = []string{"inverters", "inverter"}
	inverterDetailKeys = []string{"fullDetail", "invert_full"}

	realtimeACKeys     = []string{"pac", "output_power"}
	realtimePVKeys     = []string{"ppv", "pv_power", "pvPower"}
	realtimeSOCKeys    = []string{"soc", "Cbattery1", "battery_soc"}
	realtimeEnergyKeys = []string{"eday", "eDay", "today_energy"}
	realtimeSerialKeys = []string{"sn", "serialNum"}
)

// FetchRealtime fetches the monitor detail of stationID and extracts the
// snapshot of its first inverter. A response without that structure means the
// station is offline and is not an error.
func (c *Client) FetchRealtime(ctx context.Context, sess Session, stationID string) (RealtimeSnapshot, error) {
	pr, err := c.fetchRealtime(ctx, sess, stationID)
	if err != nil {
		return RealtimeSnapshot{}, err
	}
	snap := parseRealtime(pr.Data)
	if !snap.Online {
		log.Ctx(ctx).InfoContext(ctx, "sems realtime reports inverter offline", slog.String("station", stationID))
	}
	return snap, nil
}

// FetchRealtimeRaw returns the untouched monitor detail response.
func (c *Client) FetchRealtimeRaw(ctx context.Context, sess Session, stationID string) (json.RawMessage, error) {
	if stationID == "" {
		return nil, fmt.Errorf("%w: missing station id", ErrConfiguration)
	}
	body, err := c.postFirst(ctx, sess, realtimePath, map[string]string{"powerStationId": stationID}, opRealtime)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, &FetchError{Op: opRealtime, Err: fmt.Errorf("invalid json body")}
	}
	return json.RawMessage(body), nil
}

func (c *Client) fetchRealtime(ctx context.Context, sess Session, stationID string) (portalResponse, error) {
	body, err := c.FetchRealtimeRaw(ctx, sess, stationID)
	if err != nil {
		return portalResponse{}, err
	}
	pr, ok, err := decodeEnvelope(body)
	if err != nil || !ok {
		return portalResponse{}, &FetchError{Op: opRealtime, Err: fmt.Errorf("unexpected realtime response: %v", err)}
	}
	if pr.Code != 0 {
		return portalResponse{}, &FetchError{Op: opRealtime, Code: int(pr.Code), Err: fmt.Errorf("portal error: %s", pr.Msg)}
	}
	return pr, nil
}

// postFirst posts to the first candidate base of sess and returns the body of
// a 200 response.
func (c *Client) postFirst(ctx context.Context, sess Session, endpoint string, data interface{}, op string) ([]byte, error) {
	candidates := c.candidates(sess)
	if len(candidates) == 0 {
		return nil, &FetchError{Op: op, Err: fmt.Errorf("no base url")}
	}
	status, body, err := c.post(ctx, candidates[0]+endpoint, sess.Token, data)
	if err != nil {
		return nil, &FetchError{Op: op, Err: err}
	}
	if status != http.StatusOK {
		return nil, &FetchError{Op: op, Err: fmt.Errorf("status %d", status)}
	}
	return body, nil
}

func parseRealtime(data json.RawMessage) RealtimeSnapshot {
	obj, ok := asObject(data)
	if !ok {
		return RealtimeSnapshot{}
	}
	var inverters []json.RawMessage
	for _, k := range inverterListKeys {
		if inverters, ok = asList(obj[k]); ok {
			break
		}
	}
	if len(inverters) == 0 {
		return RealtimeSnapshot{}
	}
	first, ok := asObject(inverters[0])
	if !ok {
		return RealtimeSnapshot{}
	}
	var detail map[string]json.RawMessage
	for _, k := range inverterDetailKeys {
		if detail, ok = asObject(first[k]); ok {
			break
		}
	}
	if detail == nil {
		return RealtimeSnapshot{}
	}
	// status -1 is how the portal marks a disconnected inverter
	if status, ok := asNumber(detail["status"]); ok && status < 0 {
		return RealtimeSnapshot{}
	}
	snap := RealtimeSnapshot{
		Online:         true,
		ACPower:        firstNumber(detail, realtimeACKeys),
		PVPower:        firstNumber(detail, realtimePVKeys),
		BatterySOC:     firstNumber(detail, realtimeSOCKeys),
		EnergyTodayKWH: firstNumber(detail, realtimeEnergyKeys),
	}
	for _, k := range realtimeSerialKeys {
		var s string
		if err := json.Unmarshal(detail[k], &s); err == nil && s != "" {
			snap.Serial = s
			break
		}
	}
	return snap
}

func firstNumber(obj map[string]json.RawMessage, keys []string) float64 {
	for _, k := range keys {
		if v, ok := asNumber(obj[k]); ok {
			return v
		}
	}
	return 0
}

// ResolveStation returns the station of id, discovering and remembering it
// when id carries none.
func (c *Client) ResolveStation(ctx context.Context, sess Session, id InverterIdentity) (string, error) {
	if id.StationID != "" {
		return id.StationID, nil
	}
	c.stationMu.Lock()
	defer c.stationMu.Unlock()
	if c.stationID != "" {
		return c.stationID, nil
	}
	stationID, err := c.DiscoverStation(ctx, sess)
	if err != nil {
		return "", err
	}
	c.stationID = stationID
	return stationID, nil
}

// DiscoverStation lists the stations of the account and returns the only one.
func (c *Client) DiscoverStation(ctx context.Context, sess Session) (string, error) {
	body, err := c.postFirst(ctx, sess, stationListPath, map[string]string{}, "stations")
	if err != nil {
		return "", err
	}
	pr, ok, err := decodeEnvelope(body)
	if err != nil || !ok {
		return "", &FetchError{Op: "stations", Err: fmt.Errorf("unexpected station list response: %v", err)}
	}
	if pr.Code != 0 {
		return "", &FetchError{Op: "stations", Code: int(pr.Code), Err: fmt.Errorf("portal error: %s", pr.Msg)}
	}

	stations, ok := asList(pr.Data)
	if !ok {
		if obj, isObj := asObject(pr.Data); isObj {
			stations, _ = asList(obj["list"])
		}
	}
	var ids []string
	for _, station := range stations {
		obj, ok := asObject(station)
		if !ok {
			continue
		}
		for _, k := range []string{"powerStationId", "id", "station_id"} {
			var s string
			if err := json.Unmarshal(obj[k], &s); err == nil && s != "" {
				ids = append(ids, s)
				break
			}
		}
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: account has no power station", ErrConfiguration)
	case 1:
		log.Ctx(ctx).InfoContext(ctx, "discovered sems station", slog.String("station", ids[0]))
		return ids[0], nil
	default:
		return "", fmt.Errorf("%w: account has %d power stations, set the station id", ErrConfiguration, len(ids))
	}
}

