package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AndriyKy/spot-gazer/internal/masking"
)

func syncFixture(t *testing.T, mgr *Manager) {
	t.Helper()
	zone := []masking.Polygon{{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}}}
	lots := []LotState{
		{ID: 2, Name: "South", TotalSpots: 200},
		{ID: 1, Name: "North", TotalSpots: 40},
	}
	streams := []StreamState{
		{LotID: 2, Source: "video/south.mp4", ProcessingRate: 60},
		{LotID: 1, Source: "rtsp://cam1", ProcessingRate: 30, Zone: zone},
		{LotID: 1, Source: "rtsp://cam2", ProcessingRate: 30},
	}
	require.NoError(t, mgr.SyncStreams(context.Background(), lots, streams))
}

func TestManager_ActiveLotGroups(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()
	syncFixture(t, mgr)

	groups, err := mgr.ActiveLotGroups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, 1, groups[0].LotID)
	require.Len(t, groups[0].Streams, 2)
	assert.Equal(t, "rtsp://cam1", groups[0].Streams[0].Source)
	assert.Equal(t, "rtsp://cam2", groups[0].Streams[1].Source)
	assert.Equal(t, 30*time.Second, groups[0].Streams[0].Interval)
	require.Len(t, groups[0].Streams[0].Polygons, 1)
	assert.Equal(t, masking.Point{X: 10, Y: 10}, groups[0].Streams[0].Polygons[0][2])
	assert.Empty(t, groups[0].Streams[1].Polygons)

	assert.Equal(t, 2, groups[1].LotID)
	assert.True(t, groups[1].SingleStream())
}

func TestManager_DeactivateStream(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()
	syncFixture(t, mgr)
	ctx := context.Background()

	require.NoError(t, mgr.DeactivateStream(ctx, 1, "rtsp://cam2"))

	groups, err := mgr.ActiveLotGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups[0].Streams, 1)
	assert.Equal(t, "rtsp://cam1", groups[0].Streams[0].Source)

	streams, err := mgr.ListStreams(ctx, 1)
	require.NoError(t, err)
	require.Len(t, streams, 2)
	assert.False(t, streams[1].Active)
	assert.NotNil(t, streams[1].DeactivatedAt)

	// wrong lot
	assert.Error(t, mgr.DeactivateStream(ctx, 2, "rtsp://cam1"))
}

func TestManager_SyncStreams_KeepsDeactivation(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()
	syncFixture(t, mgr)
	ctx := context.Background()

	require.NoError(t, mgr.DeactivateStream(ctx, 1, "rtsp://cam2"))
	syncFixture(t, mgr)

	streams, err := mgr.ListStreams(ctx, 1)
	require.NoError(t, err)
	require.Len(t, streams, 2)
	assert.True(t, streams[0].Active)
	assert.False(t, streams[1].Active)
}

func TestManager_SyncStreams_Prunes(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()
	syncFixture(t, mgr)
	ctx := context.Background()

	err := mgr.SyncStreams(ctx, []LotState{{ID: 1, Name: "North"}}, []StreamState{
		{LotID: 1, Source: "rtsp://cam1", ProcessingRate: 15},
	})
	require.NoError(t, err)

	streams, err := mgr.ListStreams(ctx, 0)
	require.NoError(t, err)
	require.Len(t, streams, 1)
	assert.Equal(t, 15, streams[0].ProcessingRate)
	assert.Empty(t, streams[0].Zone)

	require.NoError(t, mgr.SyncStreams(ctx, nil, nil))
	streams, err = mgr.ListStreams(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, streams)
}

func TestManager_SaveStream(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()
	ctx := context.Background()

	require.NoError(t, mgr.SaveLot(ctx, LotState{ID: 5, Name: "Depot"}))
	require.NoError(t, mgr.SaveStream(ctx, StreamState{LotID: 5, Source: "cam", ProcessingRate: 5, Active: true}))
	require.NoError(t, mgr.SaveStream(ctx, StreamState{LotID: 5, Source: "cam", ProcessingRate: 5, Active: false}))

	streams, err := mgr.ListStreams(ctx, 5)
	require.NoError(t, err)
	require.Len(t, streams, 1)
	assert.False(t, streams[0].Active)
	assert.NotEmpty(t, streams[0].ID)

	assert.Error(t, mgr.SaveStream(ctx, StreamState{LotID: 5}))
	// unknown lot violates the foreign key
	assert.Error(t, mgr.SaveStream(ctx, StreamState{LotID: 99, Source: "other", ProcessingRate: 5}))
}

func TestManager_Lots(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()
	ctx := context.Background()

	lot, err := mgr.GetLot(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, lot)

	require.NoError(t, mgr.SaveLot(ctx, LotState{ID: 1, Name: "North", TotalSpots: 10}))
	require.NoError(t, mgr.SaveLot(ctx, LotState{ID: 1, Name: "North Garage", TotalSpots: 12}))
	assert.Error(t, mgr.SaveLot(ctx, LotState{ID: 0}))

	lot, err = mgr.GetLot(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, lot)
	assert.Equal(t, "North Garage", lot.Name)
	assert.Equal(t, 12, lot.TotalSpots)

	lots, err := mgr.ListLots(ctx)
	require.NoError(t, err)
	assert.Len(t, lots, 1)
}
