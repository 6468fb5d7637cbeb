package odometer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/milegazer/internal/api/remote"
	"github.com/langchou/milegazer/internal/models"
	"github.com/langchou/milegazer/internal/repository"
	"github.com/langchou/milegazer/internal/store"
)

// fakeRemoteAPI 可注入行为的远端桩
type fakeRemoteAPI struct {
	vehicles    []*remote.VehicleOdometer
	listErr     error
	pushErr     error
	pushed      [][]*remote.OdometerPush
	updates     map[string]float64
	updateCalls int
}

func (f *fakeRemoteAPI) ListVehicles(context.Context) ([]*remote.VehicleOdometer, error) {
	return f.vehicles, f.listErr
}

func (f *fakeRemoteAPI) UpdateOdometer(_ context.Context, vehicleID string, odometer float64) error {
	if f.updates == nil {
		f.updates = make(map[string]float64)
	}
	f.updates[vehicleID] = odometer
	f.updateCalls++
	return nil
}

func (f *fakeRemoteAPI) PushOdometers(_ context.Context, pushes []*remote.OdometerPush) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushed = append(f.pushed, pushes)
	return nil
}

type reconcilerFixture struct {
	reconciler *Reconciler
	vehicles   *repository.VehicleRepository
	trips      *repository.TripRepository
	remote     *fakeRemoteAPI
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	kv := store.NewMemoryStore()
	vehicleRepo := repository.NewVehicleRepository(kv)
	tripRepo := repository.NewTripRepository(kv)
	remoteAPI := &fakeRemoteAPI{}
	return &reconcilerFixture{
		reconciler: NewReconciler(zap.NewNop(), vehicleRepo, tripRepo, remoteAPI),
		vehicles:   vehicleRepo,
		trips:      tripRepo,
		remote:     remoteAPI,
	}
}

func (f *reconcilerFixture) addVehicle(t *testing.T, id string, odometer float64) {
	t.Helper()
	require.NoError(t, f.vehicles.Save(context.Background(), &models.Vehicle{
		ID:              id,
		Make:            "Toyota",
		Model:           "Corolla",
		CurrentOdometer: odometer,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}))
}

func completedTrip(id, vehicleID string, startOdo, distance float64) *models.Trip {
	end := time.Now()
	endOdo := startOdo + distance
	return &models.Trip{
		ID:                 id,
		VehicleID:          vehicleID,
		StartTime:          end.Add(-time.Hour),
		EndTime:            &end,
		StartOdometer:      startOdo,
		EndOdometer:        &endOdo,
		CalculatedDistance: distance,
		Status:             models.TripStatusCompleted,
		UpdatedAt:          end,
	}
}

func TestReconciler_ApplyTripDistanceRoundsToWholeMiles(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.addVehicle(t, "v1", 50000)

	err := f.reconciler.ApplyTripDistance(ctx, completedTrip("t1", "v1", 50000, 12.4))
	require.NoError(t, err)

	vehicle, err := f.vehicles.GetByID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 50012.0, vehicle.CurrentOdometer)
}

func TestReconciler_ApplyTripDistanceNeverDecreases(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.addVehicle(t, "v1", 50100)

	// 行程结束里程低于车辆当前值：不回退
	err := f.reconciler.ApplyTripDistance(ctx, completedTrip("t1", "v1", 50000, 12.4))
	require.NoError(t, err)

	vehicle, err := f.vehicles.GetByID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 50100.0, vehicle.CurrentOdometer)
}

func TestReconciler_SyncTripsPushesAndMarksSynced(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.addVehicle(t, "v1", 50000)

	trip1 := completedTrip("t1", "v1", 50000, 12.4)
	trip2 := completedTrip("t2", "v1", 50012.4, 7.6)
	require.NoError(t, f.trips.Save(ctx, trip1))
	require.NoError(t, f.trips.Save(ctx, trip2))

	result, err := f.reconciler.SyncTrips(ctx, []*models.Trip{trip1, trip2})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"t1", "t2"}, result.SyncedTripIDs)
	assert.Empty(t, result.Discrepancies)

	// 推送目标取全部行程结束里程的最大值
	require.Len(t, f.remote.pushed, 1)
	require.Len(t, f.remote.pushed[0], 1)
	assert.Equal(t, "v1", f.remote.pushed[0][0].VehicleID)
	assert.InDelta(t, 50020.0, f.remote.pushed[0][0].Odometer, 0.0001)

	// 行程标记为已同步
	synced, err := f.trips.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TripStatusSynced, synced.Status)
	assert.NotNil(t, synced.SyncedAt)

	// 本地里程表推进到整英里
	vehicle, err := f.vehicles.GetByID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 50020.0, vehicle.CurrentOdometer)
}

func TestReconciler_DiscrepancyExcludesVehicleFromPush(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.addVehicle(t, "v1", 50000)
	f.remote.vehicles = []*remote.VehicleOdometer{
		{VehicleID: "v1", Odometer: 60000},
	}

	trip1 := completedTrip("t1", "v1", 50000, 12.4)
	require.NoError(t, f.trips.Save(ctx, trip1))

	result, err := f.reconciler.SyncTrips(ctx, []*models.Trip{trip1})
	require.NoError(t, err)

	require.Len(t, result.Discrepancies, 1)
	assert.Equal(t, "v1", result.Discrepancies[0].VehicleID)
	assert.Equal(t, 60000.0, result.Discrepancies[0].ServerOdometer)
	assert.InDelta(t, 50012.4, result.Discrepancies[0].LocalOdometer, 0.0001)

	// 差异车辆不推送，行程保持未同步
	assert.Empty(t, f.remote.pushed)
	assert.Empty(t, result.SyncedTripIDs)
	unsynced, err := f.trips.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TripStatusCompleted, unsynced.Status)
}

func TestReconciler_PreCheckFailureProceedsWithoutIt(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.addVehicle(t, "v1", 50000)
	f.remote.listErr = errors.New("network unreachable")

	trip1 := completedTrip("t1", "v1", 50000, 12.4)
	require.NoError(t, f.trips.Save(ctx, trip1))

	result, err := f.reconciler.SyncTrips(ctx, []*models.Trip{trip1})
	require.NoError(t, err)

	assert.Equal(t, []string{"t1"}, result.SyncedTripIDs)
	assert.Empty(t, result.Discrepancies)
	assert.Len(t, f.remote.pushed, 1)
}

func TestReconciler_TokenExpiredPropagates(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.addVehicle(t, "v1", 50000)
	f.remote.listErr = remote.ErrTokenExpired

	trip1 := completedTrip("t1", "v1", 50000, 12.4)
	require.NoError(t, f.trips.Save(ctx, trip1))

	_, err := f.reconciler.SyncTrips(ctx, []*models.Trip{trip1})
	assert.ErrorIs(t, err, remote.ErrTokenExpired)
	assert.Empty(t, f.remote.pushed)
}

func TestReconciler_PushFailureKeepsTripsUnsynced(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.addVehicle(t, "v1", 50000)
	f.remote.pushErr = errors.New("server unavailable")

	trip1 := completedTrip("t1", "v1", 50000, 12.4)
	require.NoError(t, f.trips.Save(ctx, trip1))

	_, err := f.reconciler.SyncTrips(ctx, []*models.Trip{trip1})
	assert.Error(t, err)

	unsynced, err := f.trips.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TripStatusCompleted, unsynced.Status)
	assert.Nil(t, unsynced.SyncedAt)

	// 里程表不因失败的推送而变化
	vehicle, err := f.vehicles.GetByID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, vehicle.CurrentOdometer)
}

func TestReconciler_AcceptServerOdometerOverwritesLocally(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.addVehicle(t, "v1", 50012)

	require.NoError(t, f.reconciler.AcceptServerOdometer(ctx, "v1", 60000))

	vehicle, err := f.vehicles.GetByID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 60000.0, vehicle.CurrentOdometer)

	// 纯本地操作，不发起任何远端调用
	assert.Equal(t, 0, f.remote.updateCalls)
	assert.Empty(t, f.remote.pushed)
}

func TestReconciler_ForceUpdateOdometerOnServer(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.reconciler.ForceUpdateOdometerOnServer(ctx, "v1", 50012))

	assert.Equal(t, 1, f.remote.updateCalls)
	assert.Equal(t, 50012.0, f.remote.updates["v1"])
}
