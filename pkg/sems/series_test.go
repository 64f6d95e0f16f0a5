package sems

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeries(t *testing.T) {
	loc := time.UTC
	at := func(h, m int) time.Time {
		return time.Date(2026, 10, 16, h, m, 0, 0, loc)
	}

	t.Run("Data Wrapper", func(t *testing.T) {
		body := `{"code":0,"data":{"column1":[{"date":"2026-10-16 08:00:00","column":1.5},{"date":"2026-10-16 08:05:00","column":2}]}}`
		series, err := ParseSeries([]byte(body), loc)
		require.NoError(t, err)
		assert.Equal(t, ColumnSeries{{Time: at(8, 0), Value: 1.5}, {Time: at(8, 5), Value: 2}}, series)
	})

	t.Run("Keyed List", func(t *testing.T) {
		body := `{"items":[{"time":"2026-10-16T09:00:00","value":"4.2"}]}`
		series, err := ParseSeries([]byte(body), loc)
		require.NoError(t, err)
		assert.Equal(t, ColumnSeries{{Time: at(9, 0), Value: 4.2}}, series)
	})

	t.Run("Data List", func(t *testing.T) {
		body := `{"code":0,"data":[{"t":"2026-10-16 10:00","v":3}]}`
		series, err := ParseSeries([]byte(body), loc)
		require.NoError(t, err)
		assert.Equal(t, ColumnSeries{{Time: at(10, 0), Value: 3}}, series)
	})

	t.Run("Bare List", func(t *testing.T) {
		body := `[{"date":"2026-10-16 11:00:00","val":5}]`
		series, err := ParseSeries([]byte(body), loc)
		require.NoError(t, err)
		assert.Equal(t, ColumnSeries{{Time: at(11, 0), Value: 5}}, series)
	})

	t.Run("Pairs", func(t *testing.T) {
		ts := at(12, 0).Unix()
		body := `[[` + strconv.FormatInt(ts*1000, 10) + `, 6.5], [` + strconv.FormatInt(ts+60, 10) + `, 7]]`
		series, err := ParseSeries([]byte(body), loc)
		require.NoError(t, err)
		require.Len(t, series, 2)
		assert.True(t, series[0].Time.Equal(at(12, 0)))
		assert.True(t, series[1].Time.Equal(at(12, 1)))
		assert.Equal(t, 7.0, series[1].Value)
	})

	t.Run("Bare Numbers", func(t *testing.T) {
		series, err := ParseSeries([]byte(`{"list":[1,2,3]}`), loc)
		require.NoError(t, err)
		avg, ok := series.Average()
		assert.True(t, ok)
		assert.Equal(t, 2.0, avg)
		assert.True(t, series[0].Time.IsZero())
	})

	t.Run("First Numeric Field", func(t *testing.T) {
		body := `{"datas":[{"timestamp":1760601600,"label":"x","zeta":8.5,"alpha":1}]}`
		series, err := ParseSeries([]byte(body), loc)
		require.NoError(t, err)
		require.Len(t, series, 1)
		assert.Equal(t, 8.5, series[0].Value, "document order decides, not key order")
	})

	t.Run("Skips Malformed Items", func(t *testing.T) {
		body := `{"data":{"list":[{"date":"2026-10-16 08:00:00","column":1},{"date":"nope"},"x",null,{"date":"2026-10-16 08:10:00","column":3}]}}`
		series, err := ParseSeries([]byte(body), loc)
		require.NoError(t, err)
		require.Len(t, series, 2)
		assert.Equal(t, 3.0, series[1].Value)
	})

	t.Run("Sorts Chronologically", func(t *testing.T) {
		body := `[{"date":"2026-10-16 09:00:00","column":2},{"date":"2026-10-16 08:00:00","column":1}]`
		series, err := ParseSeries([]byte(body), loc)
		require.NoError(t, err)
		assert.Equal(t, 1.0, series[0].Value)
		last, _ := series.Last()
		assert.Equal(t, 2.0, last)
	})

	t.Run("No List", func(t *testing.T) {
		_, err := ParseSeries([]byte(`{"code":0,"msg":"ok"}`), loc)
		assert.Error(t, err)
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		_, err := ParseSeries([]byte(`{"code":`), loc)
		assert.Error(t, err)
	})

	t.Run("Local Timestamps", func(t *testing.T) {
		saoPaulo := time.FixedZone("BRT", -3*3600)
		series, err := ParseSeries([]byte(`[{"date":"2026-10-16 08:00:00","column":1}]`), saoPaulo)
		require.NoError(t, err)
		assert.True(t, series[0].Time.Equal(time.Date(2026, 10, 16, 11, 0, 0, 0, time.UTC)))
	})
}

func TestColumnSeriesHelpers(t *testing.T) {
	var empty ColumnSeries
	_, ok := empty.Last()
	assert.False(t, ok)
	_, ok = empty.Average()
	assert.False(t, ok)

	s := ColumnSeries{{Value: 1}, {Value: 2}}
	points := s.Points(func(v float64) float64 { return v * 1000 })
	require.Len(t, points, 2)
	assert.Equal(t, 2000.0, points[1].Value)
}

