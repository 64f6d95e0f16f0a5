package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/levenlabs/go-lflag"

	"github.com/solarmind/solarmind/pkg/types"
)

var (
	// ErrDisabled is returned by reads when no storage provider is configured.
	ErrDisabled = errors.New("storage disabled")
)

// Database persists day summaries and status snapshots per inverter.
type Database interface {
	// UpsertDaySummary adds or replaces the summary of day.Date.
	UpsertDaySummary(ctx context.Context, inverter string, day types.DaySummary) error
	// GetDaySummaries returns the summaries from start to end (YYYY-MM-DD,
	// both inclusive), oldest first.
	GetDaySummaries(ctx context.Context, inverter string, start, end string) ([]types.DaySummary, error)

	InsertStatus(ctx context.Context, inverter string, status types.Status) error
	GetLatestStatus(ctx context.Context, inverter string) (*types.Status, error)

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "none", "Storage provider to use (available: none, firestore)")

	var p struct{ Database }

	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "none", "":
			p.Database = None{}
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
