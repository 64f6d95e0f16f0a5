package telemetrymock

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"github.com/solarmind/solarmind/pkg/types"
)

// MockAggregator mocks the aggregated telemetry views.
type MockAggregator struct {
	mock.Mock
}

func (m *MockAggregator) Status(ctx context.Context) (types.Status, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.Status), args.Error(1)
}

func (m *MockAggregator) Report(ctx context.Context) (types.Report, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.Report), args.Error(1)
}

func (m *MockAggregator) History(ctx context.Context, days int) (types.History, error) {
	args := m.Called(ctx, days)
	return args.Get(0).(types.History), args.Error(1)
}

func (m *MockAggregator) Intraday(ctx context.Context) (types.Intraday, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.Intraday), args.Error(1)
}

func (m *MockAggregator) RealtimeRaw(ctx context.Context) (json.RawMessage, error) {
	args := m.Called(ctx)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}
