// Package odometer 实现本地与远端里程表的对账协议
// 车辆 CurrentOdometer 只在本包内被修改，集中保证"只增不减"
package odometer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/milegazer/internal/api/remote"
	"github.com/langchou/milegazer/internal/models"
	"github.com/langchou/milegazer/internal/repository"
)

// RemoteAPI 远端授权服务的能力子集
type RemoteAPI interface {
	ListVehicles(ctx context.Context) ([]*remote.VehicleOdometer, error)
	UpdateOdometer(ctx context.Context, vehicleID string, odometer float64) error
	PushOdometers(ctx context.Context, pushes []*remote.OdometerPush) error
}

// SyncResult 一次同步的结果
type SyncResult struct {
	SyncedTripIDs []string                      `json:"synced_trip_ids"`
	Discrepancies []*models.OdometerDiscrepancy `json:"discrepancies"`
}

// Reconciler 里程表对账器
type Reconciler struct {
	logger   *zap.Logger
	vehicles *repository.VehicleRepository
	trips    *repository.TripRepository
	remote   RemoteAPI
}

// NewReconciler 创建对账器
func NewReconciler(
	logger *zap.Logger,
	vehicles *repository.VehicleRepository,
	trips *repository.TripRepository,
	remoteAPI RemoteAPI,
) *Reconciler {
	return &Reconciler{
		logger:   logger,
		vehicles: vehicles,
		trips:    trips,
		remote:   remoteAPI,
	}
}

// ApplyTripDistance 将行程的结束里程表写入车辆本地里程表
// 只增不减，存储值取整英里
func (r *Reconciler) ApplyTripDistance(ctx context.Context, trip *models.Trip) error {
	vehicle, err := r.vehicles.GetByID(ctx, trip.VehicleID)
	if err != nil {
		return err
	}
	if vehicle == nil {
		return fmt.Errorf("vehicle %s not found", trip.VehicleID)
	}

	endOdometer := trip.StartOdometer + trip.EffectiveDistance()
	newOdometer := math.Round(math.Max(vehicle.CurrentOdometer, endOdometer))
	if newOdometer <= vehicle.CurrentOdometer {
		return nil
	}

	vehicle.CurrentOdometer = newOdometer
	vehicle.UpdatedAt = time.Now()
	if err := r.vehicles.Save(ctx, vehicle); err != nil {
		return err
	}

	r.logger.Info("Updated vehicle odometer from trip",
		zap.String("vehicle_id", vehicle.ID),
		zap.String("trip_id", trip.ID),
		zap.Float64("odometer", newOdometer))
	return nil
}

// SyncTrips 同步待同步行程的里程表变化到远端
// 差异预检为尽力而为：网络错误按空差异集继续，令牌过期向上传递
func (r *Reconciler) SyncTrips(ctx context.Context, trips []*models.Trip) (*SyncResult, error) {
	result := &SyncResult{}
	if len(trips) == 0 {
		return result, nil
	}

	// 每辆车的目标里程表：本地值与各行程结束里程表的最大值
	targets := make(map[string]float64)
	tripsByVehicle := make(map[string][]*models.Trip)
	names := make(map[string]string)

	for _, trip := range trips {
		if !trip.Syncable() {
			continue
		}
		vehicle, err := r.vehicles.GetByID(ctx, trip.VehicleID)
		if err != nil {
			return nil, err
		}
		if vehicle == nil {
			r.logger.Warn("Skipping trip with unknown vehicle",
				zap.String("trip_id", trip.ID),
				zap.String("vehicle_id", trip.VehicleID))
			continue
		}

		if _, ok := targets[vehicle.ID]; !ok {
			targets[vehicle.ID] = vehicle.CurrentOdometer
			names[vehicle.ID] = vehicle.DisplayName()
		}
		end := trip.StartOdometer + trip.EffectiveDistance()
		if end > targets[vehicle.ID] {
			targets[vehicle.ID] = end
		}
		tripsByVehicle[vehicle.ID] = append(tripsByVehicle[vehicle.ID], trip)
	}

	if len(targets) == 0 {
		return result, nil
	}

	// 差异预检：远端值高于本地计算值的车辆排除出本次推送
	excluded := make(map[string]bool)
	remoteVehicles, err := r.remote.ListVehicles(ctx)
	if err != nil {
		if errors.Is(err, remote.ErrTokenExpired) {
			return nil, err
		}
		r.logger.Warn("Discrepancy pre-check failed, proceeding without it", zap.Error(err))
	} else {
		remoteByID := make(map[string]*remote.VehicleOdometer, len(remoteVehicles))
		for _, rv := range remoteVehicles {
			remoteByID[rv.VehicleID] = rv
		}
		for vehicleID, target := range targets {
			rv, ok := remoteByID[vehicleID]
			if !ok {
				continue
			}
			if rv.Odometer > target {
				excluded[vehicleID] = true
				result.Discrepancies = append(result.Discrepancies, &models.OdometerDiscrepancy{
					VehicleID:      vehicleID,
					VehicleName:    names[vehicleID],
					LocalOdometer:  target,
					ServerOdometer: rv.Odometer,
				})
				r.logger.Warn("Odometer discrepancy detected",
					zap.String("vehicle_id", vehicleID),
					zap.Float64("local", target),
					zap.Float64("server", rv.Odometer))
			}
		}
	}

	// 批量推送无差异的车辆
	pushes := make([]*remote.OdometerPush, 0, len(targets))
	for vehicleID, target := range targets {
		if excluded[vehicleID] {
			continue
		}
		pushes = append(pushes, &remote.OdometerPush{VehicleID: vehicleID, Odometer: target})
	}

	if len(pushes) == 0 {
		return result, nil
	}

	if err := r.remote.PushOdometers(ctx, pushes); err != nil {
		// 推送失败不能吞掉：行程保持未同步，等待重试
		return result, fmt.Errorf("push odometers: %w", err)
	}

	// 推送成功后更新本地车辆里程表并标记行程已同步
	now := time.Now()
	for _, push := range pushes {
		vehicle, err := r.vehicles.GetByID(ctx, push.VehicleID)
		if err != nil || vehicle == nil {
			r.logger.Error("Failed to reload vehicle after push",
				zap.String("vehicle_id", push.VehicleID), zap.Error(err))
			continue
		}
		rounded := math.Round(push.Odometer)
		if rounded > vehicle.CurrentOdometer {
			vehicle.CurrentOdometer = rounded
			vehicle.UpdatedAt = now
			if err := r.vehicles.Save(ctx, vehicle); err != nil {
				r.logger.Error("Failed to save vehicle after push",
					zap.String("vehicle_id", push.VehicleID), zap.Error(err))
			}
		}

		for _, trip := range tripsByVehicle[push.VehicleID] {
			trip.Status = models.TripStatusSynced
			syncedAt := now
			trip.SyncedAt = &syncedAt
			trip.UpdatedAt = now
			if err := r.trips.Save(ctx, trip); err != nil {
				r.logger.Error("Failed to mark trip synced",
					zap.String("trip_id", trip.ID), zap.Error(err))
				continue
			}
			result.SyncedTripIDs = append(result.SyncedTripIDs, trip.ID)
		}
	}

	r.logger.Info("Odometer sync completed",
		zap.Int("pushed_vehicles", len(pushes)),
		zap.Int("synced_trips", len(result.SyncedTripIDs)),
		zap.Int("discrepancies", len(result.Discrepancies)))
	return result, nil
}

// AcceptServerOdometer 以远端值覆盖本地里程表，不发起网络请求
func (r *Reconciler) AcceptServerOdometer(ctx context.Context, vehicleID string, serverValue float64) error {
	vehicle, err := r.vehicles.GetByID(ctx, vehicleID)
	if err != nil {
		return err
	}
	if vehicle == nil {
		return fmt.Errorf("vehicle %s not found", vehicleID)
	}

	vehicle.CurrentOdometer = serverValue
	vehicle.UpdatedAt = time.Now()
	if err := r.vehicles.Save(ctx, vehicle); err != nil {
		return err
	}

	r.logger.Info("Accepted server odometer",
		zap.String("vehicle_id", vehicleID),
		zap.Float64("odometer", serverValue))
	return nil
}

// ForceUpdateOdometerOnServer 以本地值覆盖远端里程表
func (r *Reconciler) ForceUpdateOdometerOnServer(ctx context.Context, vehicleID string, localValue float64) error {
	if err := r.remote.UpdateOdometer(ctx, vehicleID, localValue); err != nil {
		return fmt.Errorf("force update odometer: %w", err)
	}

	r.logger.Info("Forced server odometer to local value",
		zap.String("vehicle_id", vehicleID),
		zap.Float64("odometer", localValue))
	return nil
}
