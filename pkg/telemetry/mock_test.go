package telemetry

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"github.com/solarmind/solarmind/pkg/sems"
)

type mockPortal struct {
	mock.Mock
}

var _ Portal = (*mockPortal)(nil)

func (m *mockPortal) Session(ctx context.Context, force bool) (sems.Session, error) {
	args := m.Called(ctx, force)
	return args.Get(0).(sems.Session), args.Error(1)
}

func (m *mockPortal) FetchColumn(ctx context.Context, sess sems.Session, id sems.InverterIdentity, column, date string) (sems.ColumnSeries, sems.Session, error) {
	args := m.Called(ctx, sess, id, column, date)
	series, _ := args.Get(0).(sems.ColumnSeries)
	return series, sess, args.Error(1)
}

func (m *mockPortal) FetchRealtime(ctx context.Context, sess sems.Session, stationID string) (sems.RealtimeSnapshot, error) {
	args := m.Called(ctx, sess, stationID)
	return args.Get(0).(sems.RealtimeSnapshot), args.Error(1)
}

func (m *mockPortal) FetchRealtimeRaw(ctx context.Context, sess sems.Session, stationID string) (json.RawMessage, error) {
	args := m.Called(ctx, sess, stationID)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}

func (m *mockPortal) ResolveStation(ctx context.Context, sess sems.Session, id sems.InverterIdentity) (string, error) {
	args := m.Called(ctx, sess, id)
	return args.String(0), args.Error(1)
}
