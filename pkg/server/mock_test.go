package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/solarmind/solarmind/pkg/cache"
	"github.com/solarmind/solarmind/pkg/sems"
	"github.com/solarmind/solarmind/pkg/storage/storagemock"
	"github.com/solarmind/solarmind/pkg/telemetry/telemetrymock"
)

type mockUpdater struct {
	mock.Mock
}

func (m *mockUpdater) RunOnce(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type testServer struct {
	*Server
	agg     *telemetrymock.MockAggregator
	db      *storagemock.MockDatabase
	updater *mockUpdater
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	c, err := cache.New(16)
	require.NoError(t, err)
	ts := &testServer{
		agg:     &telemetrymock.MockAggregator{},
		db:      &storagemock.MockDatabase{},
		updater: &mockUpdater{},
	}
	ts.Server = &Server{
		agg:        ts.agg,
		cache:      c,
		storage:    ts.db,
		updater:    ts.updater,
		identity:   &sems.InverterIdentity{Serial: "INV1"},
		listenAddr: ":8080",
		serverName: "solarmind",
	}
	return ts
}
