package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langchou/milegazer/internal/models"
	"github.com/langchou/milegazer/internal/store"
)

func tripWithStatus(id, status string, startTime time.Time) *models.Trip {
	return &models.Trip{
		ID:            id,
		VehicleID:     "v1",
		StartTime:     startTime,
		StartOdometer: 50000,
		Status:        status,
		UpdatedAt:     time.Now(),
	}
}

func TestTripRepository_SaveAndGet(t *testing.T) {
	repo := NewTripRepository(store.NewMemoryStore())
	ctx := context.Background()

	record := tripWithStatus("t1", models.TripStatusActive, time.Now())
	require.NoError(t, repo.Save(ctx, record))

	loaded, err := repo.GetByID(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "t1", loaded.ID)
	assert.Equal(t, models.TripStatusActive, loaded.Status)

	missing, err := repo.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTripRepository_ListOrderedByStartTimeDesc(t *testing.T) {
	repo := NewTripRepository(store.NewMemoryStore())
	ctx := context.Background()

	base := time.Now()
	require.NoError(t, repo.Save(ctx, tripWithStatus("old", models.TripStatusCompleted, base.Add(-2*time.Hour))))
	require.NoError(t, repo.Save(ctx, tripWithStatus("new", models.TripStatusCompleted, base)))
	require.NoError(t, repo.Save(ctx, tripWithStatus("mid", models.TripStatusCompleted, base.Add(-time.Hour))))

	trips, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, trips, 3)
	assert.Equal(t, "new", trips[0].ID)
	assert.Equal(t, "mid", trips[1].ID)
	assert.Equal(t, "old", trips[2].ID)
}

func TestTripRepository_ListSyncable(t *testing.T) {
	repo := NewTripRepository(store.NewMemoryStore())
	ctx := context.Background()

	base := time.Now()
	require.NoError(t, repo.Save(ctx, tripWithStatus("t-active", models.TripStatusActive, base)))
	require.NoError(t, repo.Save(ctx, tripWithStatus("t-completed", models.TripStatusCompleted, base.Add(-time.Hour))))
	require.NoError(t, repo.Save(ctx, tripWithStatus("t-edited", models.TripStatusEdited, base.Add(-2*time.Hour))))
	require.NoError(t, repo.Save(ctx, tripWithStatus("t-synced", models.TripStatusSynced, base.Add(-3*time.Hour))))

	syncable, err := repo.ListSyncable(ctx)
	require.NoError(t, err)
	require.Len(t, syncable, 2)
	assert.Equal(t, "t-completed", syncable[0].ID)
	assert.Equal(t, "t-edited", syncable[1].ID)
}

func TestTripRepository_ActiveSlot(t *testing.T) {
	repo := NewTripRepository(store.NewMemoryStore())
	ctx := context.Background()

	// 空槽位
	active, err := repo.GetActive(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	record := tripWithStatus("t1", models.TripStatusActive, time.Now())
	require.NoError(t, repo.SetActive(ctx, record))

	active, err = repo.GetActive(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "t1", active.ID)

	require.NoError(t, repo.ClearActive(ctx))
	active, err = repo.GetActive(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestTripRepository_StaleActiveSlotTreatedAsEmpty(t *testing.T) {
	repo := NewTripRepository(store.NewMemoryStore())
	ctx := context.Background()

	record := tripWithStatus("t1", models.TripStatusActive, time.Now())
	require.NoError(t, repo.SetActive(ctx, record))

	// 行程已完成但槽位没清：读取时视为空槽位
	record.Status = models.TripStatusCompleted
	require.NoError(t, repo.Save(ctx, record))

	active, err := repo.GetActive(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestAutoStartRepository_Defaults(t *testing.T) {
	repo := NewAutoStartRepository(store.NewMemoryStore())
	ctx := context.Background()

	state, err := repo.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseIdle, state.Phase)

	settings, err := repo.GetSettings(ctx)
	require.NoError(t, err)
	assert.False(t, settings.Enabled)
	assert.Equal(t, models.SpeedThreshold5, settings.SpeedThreshold)
	assert.Equal(t, 10, settings.DetectionWindowMinutes)
	assert.Equal(t, 5, settings.StopTimeoutMinutes)
}

func TestAutoStartRepository_Mappings(t *testing.T) {
	repo := NewAutoStartRepository(store.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, repo.SaveMapping(ctx, &models.BluetoothDeviceMapping{
		DeviceID:   "dev1",
		DeviceName: "Car Audio",
		VehicleID:  "v1",
		Enabled:    true,
		AddedAt:    time.Now(),
	}))
	require.NoError(t, repo.SaveMapping(ctx, &models.BluetoothDeviceMapping{
		DeviceID:   "dev2",
		DeviceName: "Truck Stereo",
		Enabled:    false,
		AddedAt:    time.Now(),
	}))

	mapping, err := repo.GetMapping(ctx, "dev1")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.True(t, mapping.Assigned())

	mappings, err := repo.ListMappings(ctx)
	require.NoError(t, err)
	assert.Len(t, mappings, 2)

	require.NoError(t, repo.RemoveMapping(ctx, "dev1"))
	mapping, err = repo.GetMapping(ctx, "dev1")
	require.NoError(t, err)
	assert.Nil(t, mapping)
}
