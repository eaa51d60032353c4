package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AndriyKy/spot-gazer/internal/occupancy"
)

func TestManager_CreateOccupancy(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()
	syncFixture(t, mgr)
	ctx := context.Background()

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, n := range []int{33, 30, 20} {
		record := occupancy.Record{LotID: 1, OccupiedCount: n, Timestamp: start.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, mgr.CreateOccupancy(ctx, record))
	}

	records, err := mgr.ListOccupancy(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 20, records[0].OccupiedSpots)
	assert.Equal(t, 30, records[1].OccupiedSpots)
	assert.True(t, records[0].Timestamp.Equal(start.Add(2*time.Minute)))

	latest, err := mgr.LatestOccupancy(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 20, latest.OccupiedSpots)

	latest, err = mgr.LatestOccupancy(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, latest)

	all, err := mgr.ListOccupancy(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestManager_CreateOccupancy_UnknownLot(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()

	err := mgr.CreateOccupancy(context.Background(), occupancy.Record{LotID: 42, OccupiedCount: 1, Timestamp: time.Now()})
	assert.Error(t, err)
}

func TestManager_LotSummaries(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()
	syncFixture(t, mgr)
	ctx := context.Background()

	require.NoError(t, mgr.CreateOccupancy(ctx, occupancy.Record{LotID: 1, OccupiedCount: 33, Timestamp: time.Now()}))
	require.NoError(t, mgr.CreateOccupancy(ctx, occupancy.Record{LotID: 1, OccupiedCount: 45, Timestamp: time.Now()}))
	require.NoError(t, mgr.DeactivateStream(ctx, 1, "rtsp://cam2"))

	summaries, err := mgr.LotSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	north := summaries[0]
	assert.Equal(t, 1, north.ID)
	assert.Equal(t, 1, north.ActiveStreams)
	require.NotNil(t, north.OccupiedSpots)
	assert.Equal(t, 45, *north.OccupiedSpots)
	require.NotNil(t, north.FreeSpots)
	assert.Equal(t, 0, *north.FreeSpots)
	assert.NotNil(t, north.LastUpdated)

	south := summaries[1]
	assert.Equal(t, 1, south.ActiveStreams)
	assert.Nil(t, south.OccupiedSpots)
	assert.Nil(t, south.FreeSpots)
}

func TestManager_PruneOccupancy(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()
	syncFixture(t, mgr)
	ctx := context.Background()

	east := time.FixedZone("UTC+3", 3*60*60)
	records := []occupancy.Record{
		{LotID: 1, OccupiedCount: 10, Timestamp: time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)},
		// 22:00 UTC, before the cutoff although its wall clock is later
		{LotID: 1, OccupiedCount: 11, Timestamp: time.Date(2024, 5, 1, 1, 0, 0, 0, east)},
		{LotID: 2, OccupiedCount: 12, Timestamp: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, r := range records {
		require.NoError(t, mgr.CreateOccupancy(ctx, r))
	}

	n, err := mgr.PruneOccupancy(ctx, time.Date(2024, 4, 30, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	remaining, err := mgr.ListOccupancy(ctx, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	remaining, err = mgr.ListOccupancy(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestManager_PruneOldestOccupancy(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()
	syncFixture(t, mgr)
	ctx := context.Background()

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		record := occupancy.Record{LotID: 1, OccupiedCount: i, Timestamp: start.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, mgr.CreateOccupancy(ctx, record))
	}

	n, err := mgr.PruneOldestOccupancy(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	remaining, err := mgr.ListOccupancy(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Equal(t, 4, remaining[0].OccupiedSpots)
	assert.Equal(t, 3, remaining[1].OccupiedSpots)

	n, err = mgr.PruneOldestOccupancy(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}
