package trip

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/milegazer/internal/api/remote"
	"github.com/langchou/milegazer/internal/location"
	"github.com/langchou/milegazer/internal/models"
	"github.com/langchou/milegazer/internal/notify"
	"github.com/langchou/milegazer/internal/odometer"
	"github.com/langchou/milegazer/internal/repository"
	"github.com/langchou/milegazer/internal/store"
	"github.com/langchou/milegazer/internal/tracker"
)

// fakeRemote 不发起网络请求的远端桩
type fakeRemote struct{}

func (f *fakeRemote) ListVehicles(context.Context) ([]*remote.VehicleOdometer, error) {
	return nil, nil
}
func (f *fakeRemote) UpdateOdometer(context.Context, string, float64) error { return nil }
func (f *fakeRemote) PushOdometers(context.Context, []*remote.OdometerPush) error {
	return nil
}

// closedGate 自动同步永远关闭
type closedGate struct{}

func (closedGate) AutoSyncAllowed(context.Context) bool { return false }

type fixture struct {
	manager  *Manager
	provider *location.SimulatedProvider
	trips    *repository.TripRepository
	vehicles *repository.VehicleRepository
	kv       *store.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	kv := store.NewMemoryStore()
	tripRepo := repository.NewTripRepository(kv)
	vehicleRepo := repository.NewVehicleRepository(kv)
	provider := location.NewSimulatedProvider(true)
	acc := tracker.NewAccumulator(logger, 10, time.Hour)
	reconciler := odometer.NewReconciler(logger, vehicleRepo, tripRepo, &fakeRemote{})

	manager := NewManager(
		logger,
		tripRepo,
		vehicleRepo,
		provider,
		acc,
		reconciler,
		closedGate{},
		notify.Multi{},
		time.Hour,
	)
	return &fixture{
		manager:  manager,
		provider: provider,
		trips:    tripRepo,
		vehicles: vehicleRepo,
		kv:       kv,
	}
}

func (f *fixture) addVehicle(t *testing.T, id string, odo float64) {
	t.Helper()
	err := f.vehicles.Save(context.Background(), &models.Vehicle{
		ID:              id,
		Make:            "Toyota",
		Model:           "Corolla",
		CurrentOdometer: odo,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	})
	require.NoError(t, err)
}

func (f *fixture) drive(base time.Time, steps int) {
	// 每步 0.001 度纬度，约 111m
	for i := 0; i <= steps; i++ {
		f.provider.Push(&models.LocationSample{
			Latitude:  37.7749 + float64(i)*0.001,
			Longitude: -122.4194,
			Timestamp: base.Add(time.Duration(i) * 10 * time.Second),
		})
	}
}

func TestManager_StartRequiresVehicle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.Start(ctx, "", "business", false)
	assert.ErrorIs(t, err, ErrNoVehicle)

	_, err = f.manager.Start(ctx, "missing", "business", false)
	assert.ErrorIs(t, err, ErrVehicleNotFound)

	// 失败的启动不留下任何行程记录
	trips, err := f.trips.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, trips)
}

func TestManager_StartPermissionDenied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addVehicle(t, "v1", 50000)
	f.provider.SetPermission(false)

	_, err := f.manager.Start(ctx, "v1", "business", false)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	active, err := f.trips.GetActive(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
	assert.False(t, f.manager.IsTracking())
}

func TestManager_SecondStartRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addVehicle(t, "v1", 50000)

	_, err := f.manager.Start(ctx, "v1", "business", false)
	require.NoError(t, err)

	_, err = f.manager.Start(ctx, "v1", "business", false)
	assert.ErrorIs(t, err, ErrTripInProgress)
}

func TestManager_TripLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addVehicle(t, "v1", 50000)

	started, err := f.manager.Start(ctx, "v1", "business", false)
	require.NoError(t, err)
	assert.Equal(t, models.TripStatusActive, started.Status)
	assert.Equal(t, 50000.0, started.StartOdometer)
	assert.True(t, f.manager.IsTracking())

	f.drive(time.Now(), 5)

	completed, err := f.manager.Stop(ctx)
	require.NoError(t, err)
	require.NotNil(t, completed)
	assert.Equal(t, models.TripStatusCompleted, completed.Status)
	assert.NotNil(t, completed.EndTime)
	// 5 步约 555m ≈ 0.345mi
	assert.InDelta(t, 0.345, completed.CalculatedDistance, 0.01)
	require.NotNil(t, completed.EndOdometer)
	assert.InDelta(t, 50000.0+completed.CalculatedDistance, *completed.EndOdometer, 0.0001)

	// 槽位已清空
	active, err := f.trips.GetActive(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
	assert.False(t, f.manager.IsTracking())

	// 车辆里程表按整英里只增不减
	vehicle, err := f.vehicles.GetByID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, vehicle.CurrentOdometer)
}

func TestManager_DoubleStopIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addVehicle(t, "v1", 50000)

	_, err := f.manager.Start(ctx, "v1", "business", false)
	require.NoError(t, err)
	f.drive(time.Now(), 3)

	var wg sync.WaitGroup
	results := make([]*models.Trip, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			record, err := f.manager.Stop(ctx)
			assert.NoError(t, err)
			results[i] = record
		}(i)
	}
	wg.Wait()

	// 恰好一次返回已完成行程，另一次观察到空槽位
	var completed int
	for _, record := range results {
		if record != nil {
			completed++
		}
	}
	assert.Equal(t, 1, completed)

	trips, err := f.trips.List(ctx)
	require.NoError(t, err)
	assert.Len(t, trips, 1)
	assert.Equal(t, models.TripStatusCompleted, trips[0].Status)
}

func TestManager_StopClearsSlotWhenOdometerUpdateFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addVehicle(t, "v1", 50000)

	_, err := f.manager.Start(ctx, "v1", "business", false)
	require.NoError(t, err)
	f.drive(time.Now(), 3)

	// 行程中车辆记录消失，里程表更新必然失败
	require.NoError(t, f.kv.Remove(ctx, "vehicle:v1"))

	// 结束行程仍然成功，槽位被清空
	record, err := f.manager.Stop(ctx)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, models.TripStatusCompleted, record.Status)

	active, err := f.trips.GetActive(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
	assert.False(t, f.manager.IsTracking())
}

func TestManager_RecoverResumesActiveTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addVehicle(t, "v1", 50000)

	// 模拟崩溃前已累计 5mi 的进行中行程
	startTime := time.Now().Add(-time.Hour)
	crashed := &models.Trip{
		ID:                 "t-crashed",
		VehicleID:          "v1",
		StartTime:          startTime,
		StartOdometer:      50000,
		CalculatedDistance: 5.0,
		Status:             models.TripStatusActive,
		UpdatedAt:          time.Now(),
	}
	require.NoError(t, f.trips.SetActive(ctx, crashed))

	require.NoError(t, f.manager.Recover(ctx))
	active := f.manager.Active()
	require.NotNil(t, active)
	assert.Equal(t, "t-crashed", active.ID)

	// 恢复后继续累计
	f.drive(time.Now(), 5)

	completed, err := f.manager.Stop(ctx)
	require.NoError(t, err)
	require.NotNil(t, completed)
	assert.InDelta(t, 5.0+0.345, completed.CalculatedDistance, 0.01)
}

func TestManager_EditCompletedTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addVehicle(t, "v1", 50000)

	end := time.Now()
	endOdo := 50012.4
	record := &models.Trip{
		ID:                 "t1",
		VehicleID:          "v1",
		StartTime:          end.Add(-time.Hour),
		EndTime:            &end,
		StartOdometer:      50000,
		EndOdometer:        &endOdo,
		CalculatedDistance: 12.4,
		Status:             models.TripStatusCompleted,
		UpdatedAt:          end,
	}
	require.NoError(t, f.trips.Save(ctx, record))

	notes := "detour via the warehouse"
	adjusted := 15.0
	edited, err := f.manager.Edit(ctx, "t1", &notes, &adjusted)
	require.NoError(t, err)

	assert.Equal(t, models.TripStatusEdited, edited.Status)
	assert.Equal(t, "detour via the warehouse", edited.Notes)
	assert.Equal(t, 15.0, edited.EffectiveDistance())
	// 原始计算距离保留
	assert.Equal(t, 12.4, edited.CalculatedDistance)
	// 结束里程表按修正后的有效距离重算
	require.NotNil(t, edited.EndOdometer)
	assert.Equal(t, 50015.0, *edited.EndOdometer)
}

func TestManager_EditActiveTripRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addVehicle(t, "v1", 50000)

	started, err := f.manager.Start(ctx, "v1", "business", false)
	require.NoError(t, err)

	notes := "oops"
	_, err = f.manager.Edit(ctx, started.ID, &notes, nil)
	assert.ErrorIs(t, err, ErrTripNotEditable)

	_, err = f.manager.Edit(ctx, "missing", &notes, nil)
	assert.ErrorIs(t, err, ErrTripNotFound)
}

func TestManager_EditSyncedTripRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addVehicle(t, "v1", 50000)

	end := time.Now()
	endOdo := 50012.0
	record := &models.Trip{
		ID:                 "t1",
		VehicleID:          "v1",
		StartTime:          end.Add(-time.Hour),
		EndTime:            &end,
		StartOdometer:      50000,
		EndOdometer:        &endOdo,
		CalculatedDistance: 12.0,
		Status:             models.TripStatusSynced,
		SyncedAt:           &end,
		UpdatedAt:          end,
	}
	require.NoError(t, f.trips.Save(ctx, record))

	// 已同步的行程不可再编辑
	notes := "too late"
	_, err := f.manager.Edit(ctx, "t1", &notes, nil)
	assert.ErrorIs(t, err, ErrTripNotEditable)

	stored, err := f.trips.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TripStatusSynced, stored.Status)
}
