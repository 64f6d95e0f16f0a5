package sems

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/solarmind/solarmind/pkg/types"
)

// ColumnSample is one value of a column.
type ColumnSample struct {
	Time  time.Time
	Value float64
}

// ColumnSeries is a chronological list of samples.
type ColumnSeries []ColumnSample

// Last returns the value of the last sample.
func (s ColumnSeries) Last() (float64, bool) {
	if len(s) == 0 {
		return 0, false
	}
	return s[len(s)-1].Value, true
}

// Average returns the mean of all samples.
func (s ColumnSeries) Average() (float64, bool) {
	if len(s) == 0 {
		return 0, false
	}
	var sum float64
	for _, sample := range s {
		sum += sample.Value
	}
	return sum / float64(len(s)), true
}

// Points converts the series for charting, applying scale to every value.
func (s ColumnSeries) Points(scale func(float64) float64) []types.Point {
	points := make([]types.Point, 0, len(s))
	for _, sample := range s {
		v := sample.Value
		if scale != nil {
			v = scale(v)
		}
		points = append(points, types.Point{Time: sample.Time, Value: v})
	}
	return points
}

var errNoSeries = errors.New("no recognizable series in response")

var (
	seriesListKeys  = []string{"column1", "list", "items", "datas", "result", "data"}
	seriesValueKeys = []string{"column", "value", "val", "v"}
	seriesTimeKeys  = []string{"date", "time", "timestamp", "t"}

	seriesTimeLayouts = []string{
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02T15:04:05",
		time.RFC3339,
		"01/02/2006 15:04:05",
		"01/02/2006 15:04",
		"2006-01-02",
	}
)

// listStrategy finds the list of samples in a decoded response.
type listStrategy func(raw json.RawMessage) ([]json.RawMessage, bool)

var listStrategies = []listStrategy{
	// {"data": {"column1": [...]}}
	func(raw json.RawMessage) ([]json.RawMessage, bool) {
		obj, ok := asObject(raw)
		if !ok {
			return nil, false
		}
		inner, ok := asObject(obj["data"])
		if !ok {
			return nil, false
		}
		return keyedList(inner)
	},
	// {"column1": [...]} and {"data": [...]}
	func(raw json.RawMessage) ([]json.RawMessage, bool) {
		obj, ok := asObject(raw)
		if !ok {
			return nil, false
		}
		return keyedList(obj)
	},
	// [...]
	asList,
}

// valueStrategy extracts the sample value of one item.
type valueStrategy func(item json.RawMessage) (float64, bool)

var valueStrategies = []valueStrategy{
	func(item json.RawMessage) (float64, bool) {
		obj, ok := asObject(item)
		if !ok {
			return 0, false
		}
		for _, k := range seriesValueKeys {
			if v, ok := asNumber(obj[k]); ok {
				return v, true
			}
		}
		return 0, false
	},
	func(item json.RawMessage) (float64, bool) {
		pair, ok := asList(item)
		if !ok || len(pair) < 2 {
			return 0, false
		}
		return asNumber(pair[1])
	},
	func(item json.RawMessage) (float64, bool) {
		return asNumber(item)
	},
	firstNumericField,
}

// ParseSeries parses a column response into a series. Items that carry no
// value are skipped. Timestamps without a zone are read in loc.
func ParseSeries(body []byte, loc *time.Location) (ColumnSeries, error) {
	if loc == nil {
		loc = time.Local
	}
	raw := json.RawMessage(bytes.TrimSpace(body))
	if !json.Valid(raw) {
		return nil, errors.New("invalid json")
	}

	var items []json.RawMessage
	found := false
	for _, strategy := range listStrategies {
		if items, found = strategy(raw); found {
			break
		}
	}
	if !found {
		return nil, errNoSeries
	}

	series := make(ColumnSeries, 0, len(items))
	allTimed := true
	for _, item := range items {
		sample, ok := parseSample(item, loc)
		if !ok {
			continue
		}
		if sample.Time.IsZero() {
			allTimed = false
		}
		series = append(series, sample)
	}
	if allTimed {
		sort.SliceStable(series, func(i, j int) bool {
			return series[i].Time.Before(series[j].Time)
		})
	}
	return series, nil
}

func parseSample(item json.RawMessage, loc *time.Location) (ColumnSample, bool) {
	for _, strategy := range valueStrategies {
		v, ok := strategy(item)
		if !ok {
			continue
		}
		return ColumnSample{Time: sampleTime(item, loc), Value: v}, true
	}
	return ColumnSample{}, false
}

func sampleTime(item json.RawMessage, loc *time.Location) time.Time {
	if obj, ok := asObject(item); ok {
		for _, k := range seriesTimeKeys {
			if t, ok := parseTimeValue(obj[k], loc); ok {
				return t
			}
		}
		return time.Time{}
	}
	if pair, ok := asList(item); ok && len(pair) >= 2 {
		if t, ok := parseTimeValue(pair[0], loc); ok {
			return t
		}
	}
	return time.Time{}
}

func parseTimeValue(raw json.RawMessage, loc *time.Location) (time.Time, bool) {
	if len(raw) == 0 {
		return time.Time{}, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		for _, layout := range seriesTimeLayouts {
			if t, err := time.ParseInLocation(layout, s, loc); err == nil {
				return t, true
			}
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return unixTime(n, loc)
		}
		return time.Time{}, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return unixTime(n, loc)
	}
	return time.Time{}, false
}

// unixTime reads n as unix seconds, or milliseconds when it is too large to
// be seconds.
func unixTime(n float64, loc *time.Location) (time.Time, bool) {
	if n <= 0 || math.IsInf(n, 0) || math.IsNaN(n) {
		return time.Time{}, false
	}
	if n > 1e11 {
		return time.UnixMilli(int64(n)).In(loc), true
	}
	return time.Unix(int64(n), 0).In(loc), true
}

func asObject(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func asList(raw json.RawMessage) ([]json.RawMessage, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, false
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, false
	}
	return list, true
}

// asNumber accepts numbers and numeric strings.
func asNumber(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	case '{', '[', 't', 'f', 'n':
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

func keyedList(obj map[string]json.RawMessage) ([]json.RawMessage, bool) {
	for _, k := range seriesListKeys {
		if list, ok := asList(obj[k]); ok {
			return list, true
		}
	}
	return nil, false
}

// firstNumericField returns the first top level numeric field of an object
// in document order, ignoring time fields.
func firstNumericField(item json.RawMessage) (float64, bool) {
	dec := json.NewDecoder(bytes.NewReader(item))
	dec.UseNumber()
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return 0, false
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return 0, false
		}
		key, _ := keyTok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return 0, false
		}
		if isTimeKey(key) {
			continue
		}
		value = bytes.TrimSpace(value)
		if len(value) == 0 || value[0] == '"' {
			continue
		}
		if f, ok := asNumber(value); ok {
			return f, true
		}
	}
	return 0, false
}

func isTimeKey(key string) bool {
	for _, k := range seriesTimeKeys {
		if k == key {
			return true
		}
	}
	return false
}
