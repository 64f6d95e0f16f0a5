package storagemock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/solarmind/solarmind/pkg/storage"
	"github.com/solarmind/solarmind/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) UpsertDaySummary(ctx context.Context, inverter string, day types.DaySummary) error {
	args := m.Called(ctx, inverter, day)
	return args.Error(0)
}

func (m *MockDatabase) GetDaySummaries(ctx context.Context, inverter string, start, end string) ([]types.DaySummary, error) {
	args := m.Called(ctx, inverter, start, end)
	days, _ := args.Get(0).([]types.DaySummary)
	return days, args.Error(1)
}

func (m *MockDatabase) InsertStatus(ctx context.Context, inverter string, status types.Status) error {
	args := m.Called(ctx, inverter, status)
	return args.Error(0)
}

func (m *MockDatabase) GetLatestStatus(ctx context.Context, inverter string) (*types.Status, error) {
	args := m.Called(ctx, inverter)
	st, _ := args.Get(0).(*types.Status)
	return st, args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
