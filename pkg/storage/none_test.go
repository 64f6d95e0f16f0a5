package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/solarmind/solarmind/pkg/types"
)

func TestNone(t *testing.T) {
	ctx := context.Background()
	var db Database = None{}

	assert.NoError(t, db.UpsertDaySummary(ctx, "INV1", types.DaySummary{Date: "2026-10-16"}))
	assert.NoError(t, db.InsertStatus(ctx, "INV1", types.Status{}))

	_, err := db.GetDaySummaries(ctx, "INV1", "2026-10-01", "2026-10-16")
	assert.ErrorIs(t, err, ErrDisabled)
	_, err = db.GetLatestStatus(ctx, "INV1")
	assert.ErrorIs(t, err, ErrDisabled)
	assert.NoError(t, db.Close())
}
