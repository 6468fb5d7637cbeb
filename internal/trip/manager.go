// Package trip 管理单个进行中行程的完整生命周期
package trip

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langchou/milegazer/internal/location"
	"github.com/langchou/milegazer/internal/models"
	"github.com/langchou/milegazer/internal/notify"
	"github.com/langchou/milegazer/internal/odometer"
	"github.com/langchou/milegazer/internal/repository"
	"github.com/langchou/milegazer/internal/tracker"
)

// 对调用方可见的失败类型
var (
	// ErrNoVehicle 未选择车辆
	ErrNoVehicle = errors.New("trip: no vehicle selected")
	// ErrVehicleNotFound 车辆不存在
	ErrVehicleNotFound = errors.New("trip: vehicle not found")
	// ErrPermissionDenied 定位权限被拒绝
	ErrPermissionDenied = errors.New("trip: location permission denied")
	// ErrTripInProgress 已有进行中行程
	ErrTripInProgress = errors.New("trip: a trip is already in progress")
	// ErrTripNotFound 行程不存在
	ErrTripNotFound = errors.New("trip: trip not found")
	// ErrTripNotEditable 行程状态不允许编辑
	ErrTripNotEditable = errors.New("trip: trip is not editable")
)

// DefaultAutoSyncDelay 行程结束后自动同步的延迟
const DefaultAutoSyncDelay = 30 * time.Second

// Manager 行程会话管理器
// 进行中行程是全局唯一槽位，手动和自动触发收敛到同一 finalize 临界区
type Manager struct {
	logger      *zap.Logger
	trips       *repository.TripRepository
	vehicles    *repository.VehicleRepository
	provider    location.Provider
	accumulator *tracker.Accumulator
	reconciler  *odometer.Reconciler
	gate        odometer.Gate
	notifier    notify.Notifier

	autoSyncDelay time.Duration

	mu            sync.Mutex
	active        *models.Trip
	baseMiles     float64 // 恢复行程时已累计的距离
	subscription  location.Subscription
	autoSyncTimer *time.Timer
	onUpdate      func(snapshot *models.Trip)
}

// NewManager 创建行程会话管理器
func NewManager(
	logger *zap.Logger,
	trips *repository.TripRepository,
	vehicles *repository.VehicleRepository,
	provider location.Provider,
	accumulator *tracker.Accumulator,
	reconciler *odometer.Reconciler,
	gate odometer.Gate,
	notifier notify.Notifier,
	autoSyncDelay time.Duration,
) *Manager {
	if autoSyncDelay <= 0 {
		autoSyncDelay = DefaultAutoSyncDelay
	}
	return &Manager{
		logger:        logger,
		trips:         trips,
		vehicles:      vehicles,
		provider:      provider,
		accumulator:   accumulator,
		reconciler:    reconciler,
		gate:          gate,
		notifier:      notifier,
		autoSyncDelay: autoSyncDelay,
	}
}

// SetUpdateListener 设置行程快照监听（WebSocket 广播）
func (m *Manager) SetUpdateListener(fn func(snapshot *models.Trip)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// Recover 进程启动时恢复持久化的进行中行程
// 不丢数据、不强制结束，行程继续累计
func (m *Manager) Recover(ctx context.Context) error {
	active, err := m.trips.GetActive(ctx)
	if err != nil {
		return err
	}
	if active == nil {
		return nil
	}

	m.mu.Lock()
	m.active = active
	m.baseMiles = active.CalculatedDistance
	m.beginTrackingLocked()
	m.mu.Unlock()

	m.logger.Info("Recovered active trip",
		zap.String("trip_id", active.ID),
		zap.String("vehicle_id", active.VehicleID),
		zap.Float64("distance_mi", active.CalculatedDistance))
	return nil
}

// Start 开始行程
// 失败时不创建任何行程记录；手动与自动路径共用本入口
func (m *Manager) Start(ctx context.Context, vehicleID, classification string, autoTracked bool) (*models.Trip, error) {
	if vehicleID == "" {
		return nil, ErrNoVehicle
	}

	vehicle, err := m.vehicles.GetByID(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	if vehicle == nil {
		return nil, ErrVehicleNotFound
	}

	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return nil, ErrTripInProgress
	}
	m.mu.Unlock()

	granted, err := m.provider.RequestPermission(ctx)
	if err != nil {
		return nil, err
	}
	if !granted {
		return nil, ErrPermissionDenied
	}

	if classification == "" {
		classification = models.ClassificationUnclassified
	}

	now := time.Now()
	trip := &models.Trip{
		ID:             uuid.NewString(),
		VehicleID:      vehicleID,
		StartTime:      now,
		StartOdometer:  vehicle.CurrentOdometer,
		Status:         models.TripStatusActive,
		Classification: classification,
		IsAutoTracked:  autoTracked,
		UpdatedAt:      now,
	}

	m.mu.Lock()
	// 权限检查是挂起点，期间可能被并发 Start 抢占
	if m.active != nil {
		m.mu.Unlock()
		return nil, ErrTripInProgress
	}
	m.active = trip
	m.baseMiles = 0
	m.mu.Unlock()

	if err := m.trips.SetActive(ctx, trip); err != nil {
		m.mu.Lock()
		m.active = nil
		m.mu.Unlock()
		return nil, err
	}

	m.mu.Lock()
	m.beginTrackingLocked()
	m.mu.Unlock()

	m.logger.Info("Started trip",
		zap.String("trip_id", trip.ID),
		zap.String("vehicle_id", vehicleID),
		zap.Float64("start_odometer", trip.StartOdometer),
		zap.Bool("auto_tracked", autoTracked))
	m.notifier.TripStarted(trip)
	m.broadcast(trip)

	return snapshot(trip), nil
}

// beginTrackingLocked 订阅定位流并启动累计器，调用方须持有锁
func (m *Manager) beginTrackingLocked() {
	m.accumulator.Start(m.handleUpdate, m.handleStationaryTimeout)
	m.subscription = m.provider.Subscribe(func(sample *models.LocationSample) {
		m.accumulator.Apply(sample)
	})
}

// handleUpdate 定位采样回调：刷新进行中行程并覆盖持久化
// 高频调用，覆盖写同一键，无写放大
func (m *Manager) handleUpdate(update *tracker.Update) {
	m.mu.Lock()
	if m.active == nil {
		m.mu.Unlock()
		return
	}

	now := time.Now()
	m.active.CalculatedDistance = m.baseMiles + update.TotalMiles
	m.active.DurationMs = now.Sub(m.active.StartTime).Milliseconds()
	end := m.active.StartOdometer + m.active.CalculatedDistance
	m.active.EndOdometer = &end
	m.active.UpdatedAt = now
	trip := snapshot(m.active)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.trips.Save(ctx, trip); err != nil {
		// 中途存储错误只记录，下一次采样继续
		m.logger.Error("Failed to persist live trip update", zap.Error(err))
	}

	m.broadcast(trip)
}

// handleStationaryTimeout 静止超时回调：自动结束行程
func (m *Manager) handleStationaryTimeout() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := m.Stop(ctx); err != nil {
		m.logger.Error("Auto-complete after stationary timeout failed", zap.Error(err))
	}
}

// Stop 结束进行中行程
// 手动停止与静止超时、自动停止共用本入口，二次调用观察到空槽位后记警告并空转
func (m *Manager) Stop(ctx context.Context) (*models.Trip, error) {
	m.mu.Lock()

	if m.active == nil {
		m.mu.Unlock()
		m.logger.Warn("Stop requested with no active trip, ignoring")
		return nil, nil
	}

	// finalize 临界区：锁持有到状态出清，并发的第二次 Stop 只会看到空槽位
	trip := m.active
	m.active = nil

	// 无论后续步骤成败，定位订阅和静止计时器必须释放
	if m.subscription != nil {
		m.subscription.Cancel()
		m.subscription = nil
	}
	finalMiles := m.baseMiles + m.accumulator.Stop()
	m.baseMiles = 0

	now := time.Now()
	trip.CalculatedDistance = finalMiles
	trip.EndTime = &now
	trip.DurationMs = now.Sub(trip.StartTime).Milliseconds()
	end := trip.StartOdometer + trip.EffectiveDistance()
	trip.EndOdometer = &end
	trip.Status = models.TripStatusCompleted
	trip.UpdatedAt = now
	m.mu.Unlock()

	if err := m.trips.Save(ctx, trip); err != nil {
		return nil, err
	}
	if err := m.trips.ClearActive(ctx); err != nil {
		// 行程已落盘，槽位清理失败不阻塞退出 tracking 状态
		m.logger.Error("Failed to clear active trip slot", zap.Error(err))
	}

	// 车辆里程表更新为尽力而为：失败不妨碍行程结束
	if err := m.reconciler.ApplyTripDistance(ctx, trip); err != nil {
		m.logger.Error("Failed to apply trip distance to vehicle odometer",
			zap.String("trip_id", trip.ID), zap.Error(err))
	}

	m.logger.Info("Completed trip",
		zap.String("trip_id", trip.ID),
		zap.Float64("distance_mi", trip.CalculatedDistance),
		zap.Int64("duration_ms", trip.DurationMs))
	m.notifier.TripCompleted(trip)
	m.broadcast(trip)

	m.scheduleAutoSync()

	return snapshot(trip), nil
}

// scheduleAutoSync 安排延迟自动同步，闸门条件在触发时刻重新判定
func (m *Manager) scheduleAutoSync() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.autoSyncTimer != nil {
		m.autoSyncTimer.Stop()
	}
	m.autoSyncTimer = time.AfterFunc(m.autoSyncDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		if !m.gate.AutoSyncAllowed(ctx) {
			m.logger.Debug("Auto-sync skipped by gate")
			return
		}

		trips, err := m.trips.ListSyncable(ctx)
		if err != nil {
			m.logger.Error("Auto-sync failed to list trips", zap.Error(err))
			return
		}
		if _, err := m.reconciler.SyncTrips(ctx, trips); err != nil {
			m.logger.Error("Auto-sync failed", zap.Error(err))
		}
	})
}

// Edit 编辑已完成行程的备注和修正距离
// 仅 completed/edited 状态可编辑；已同步的行程不可再改，避免重新进入同步队列
// 有修正距离时按有效距离重算结束里程表，状态转为 edited
func (m *Manager) Edit(ctx context.Context, tripID string, notes *string, adjustedDistance *float64) (*models.Trip, error) {
	trip, err := m.trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip == nil {
		return nil, ErrTripNotFound
	}
	if !trip.Syncable() {
		return nil, ErrTripNotEditable
	}

	if notes != nil {
		trip.Notes = *notes
	}
	if adjustedDistance != nil {
		trip.AdjustedDistance = adjustedDistance
	}

	end := trip.StartOdometer + trip.EffectiveDistance()
	trip.EndOdometer = &end
	trip.Status = models.TripStatusEdited
	trip.UpdatedAt = time.Now()

	if err := m.trips.Save(ctx, trip); err != nil {
		return nil, err
	}

	m.logger.Info("Edited trip",
		zap.String("trip_id", trip.ID),
		zap.Float64("effective_distance", trip.EffectiveDistance()))
	return snapshot(trip), nil
}

// Active 当前进行中行程的快照，无进行中行程时返回 nil
func (m *Manager) Active() *models.Trip {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	return snapshot(m.active)
}

// IsTracking 是否正在跟踪
func (m *Manager) IsTracking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// broadcast 推送行程快照给监听者
func (m *Manager) broadcast(trip *models.Trip) {
	m.mu.Lock()
	onUpdate := m.onUpdate
	m.mu.Unlock()
	if onUpdate != nil {
		onUpdate(trip)
	}
}

// snapshot 返回调用方只读的行程副本
func snapshot(trip *models.Trip) *models.Trip {
	copied := *trip
	return &copied
}
