package storage

import (
	"context"

	"github.com/solarmind/solarmind/pkg/types"
)

// None drops writes and fails reads with ErrDisabled.
type None struct{}

var _ Database = None{}

func (None) UpsertDaySummary(ctx context.Context, inverter string, day types.DaySummary) error {
	return nil
}

func (None) GetDaySummaries(ctx context.Context, inverter string, start, end string) ([]types.DaySummary, error) {
	return nil, ErrDisabled
}

func (None) InsertStatus(ctx context.Context, inverter string, status types.Status) error {
	return nil
}

func (None) GetLatestStatus(ctx context.Context, inverter string) (*types.Status, error) {
	return nil, ErrDisabled
}

func (None) Close() error {
	return nil
}
