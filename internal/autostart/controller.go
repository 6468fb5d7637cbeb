// Package autostart 实现蓝牙触发的行程自动启动/停止控制
package autostart

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/milegazer/internal/models"
	"github.com/langchou/milegazer/internal/notify"
	"github.com/langchou/milegazer/internal/repository"
)

// speedSamplesRequired 非 immediate 阈值下触发 tracking 所需的连续达标采样数
const speedSamplesRequired = 3

// Hooks 行程启停入口，与手动操作走同一路径
type Hooks interface {
	OnTriggerStart(ctx context.Context, vehicleID, classification string) error
	OnTriggerStop(ctx context.Context) error
}

// Controller 自动启动阶段控制器
// 全局只有一个自动启动周期，阶段转换先落盘后生效
type Controller struct {
	logger   *zap.Logger
	repo     *repository.AutoStartRepository
	hooks    Hooks
	notifier notify.Notifier

	mu             sync.Mutex
	machine        *Machine
	state          *models.AutoStartState
	settings       *models.AutoStartSettings // monitoring 周期开始时的配置快照
	detectionTimer *time.Timer
	stopTimer      *time.Timer
	timerGen       uint64
	aboveThreshold int
	onChange       func(state *models.AutoStartState)
}

// NewController 创建控制器
func NewController(
	logger *zap.Logger,
	repo *repository.AutoStartRepository,
	hooks Hooks,
	notifier notify.Notifier,
) *Controller {
	return &Controller{
		logger:   logger,
		repo:     repo,
		hooks:    hooks,
		notifier: notifier,
		machine:  NewMachine(models.PhaseIdle, nil),
		state:    &models.AutoStartState{Phase: models.PhaseIdle},
	}
}

// SetChangeListener 设置状态变化监听（WebSocket 广播）
func (c *Controller) SetChangeListener(fn func(state *models.AutoStartState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// Resume 进程启动时恢复持久化状态，重新布置中断的计时器
func (c *Controller) Resume(ctx context.Context) error {
	state, err := c.repo.GetState(ctx)
	if err != nil {
		return err
	}
	settings, err := c.repo.GetSettings(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.state = state
	c.settings = settings
	c.machine = NewMachine(state.Phase, nil)

	switch state.Phase {
	case models.PhaseMonitoring:
		// 检测窗口计时器按持久化时间戳续接，已超期则直接回到 idle
		remaining := detectionDeadline(state, settings).Sub(time.Now())
		if remaining <= 0 {
			c.logger.Info("Detection window elapsed during downtime, resetting to idle")
			c.transitionToIdleLocked(ctx, EventDetectionTimeout)
		} else {
			c.armDetectionTimerLocked(remaining)
		}

	case models.PhaseStopping:
		// 停止宽限计时器同样续接，已超期则立即执行停止
		remaining := stopDeadline(state, settings).Sub(time.Now())
		if remaining <= 0 {
			c.logger.Info("Stop grace period elapsed during downtime, stopping trip now")
			c.executeStopLocked(ctx)
		} else {
			c.armStopTimerLocked(remaining)
		}
	}

	phase := c.machine.Current()
	c.mu.Unlock()

	c.logger.Info("AutoStart controller resumed", zap.String("phase", phase))
	return nil
}

// HandleConnect 处理蓝牙连接事件
func (c *Controller) HandleConnect(ctx context.Context, deviceID, deviceName string) error {
	settings, err := c.repo.GetSettings(ctx)
	if err != nil {
		return err
	}
	if !settings.Enabled {
		c.logger.Debug("AutoStart disabled, ignoring connect", zap.String("device_id", deviceID))
		return nil
	}

	mapping, err := c.matchMapping(ctx, deviceID, deviceName)
	if err != nil {
		return err
	}
	if mapping == nil || !mapping.Enabled || !mapping.Assigned() {
		c.logger.Debug("Connect from unmapped or disabled device, ignoring",
			zap.String("device_id", deviceID),
			zap.String("device_name", deviceName))
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.machine.Current() {
	case models.PhaseIdle:
		now := time.Now()
		newState := &models.AutoStartState{
			Phase:               models.PhaseMonitoring,
			ConnectedDeviceID:   mapping.DeviceID,
			MonitoringStartedAt: &now,
			TriggeredVehicleID:  mapping.VehicleID,
		}
		if err := c.applyTransitionLocked(ctx, EventDeviceConnected, newState); err != nil {
			return err
		}
		c.settings = settings
		c.aboveThreshold = 0
		c.armDetectionTimerLocked(time.Duration(settings.DetectionWindowMinutes) * time.Minute)

		c.logger.Info("Device connected, monitoring for movement",
			zap.String("device_id", mapping.DeviceID),
			zap.String("vehicle_id", mapping.VehicleID),
			zap.String("speed_threshold", settings.SpeedThreshold))
		if settings.ShowMonitoringNotification {
			c.notifier.MonitoringStarted(mapping.DeviceName)
		}

		// immediate 阈值：连接即视为达标
		if settings.SpeedThreshold == models.SpeedThresholdImmediate {
			return c.startTrackingLocked(ctx)
		}
		return nil

	case models.PhaseStopping:
		if c.state.ConnectedDeviceID != mapping.DeviceID {
			c.logger.Debug("Connect from different device during stopping, ignoring",
				zap.String("device_id", mapping.DeviceID))
			return nil
		}
		// 宽限期内重连：取消停止计时器，回到 tracking，行程不中断
		newState := &models.AutoStartState{
			Phase:              models.PhaseTracking,
			ConnectedDeviceID:  c.state.ConnectedDeviceID,
			TriggeredVehicleID: c.state.TriggeredVehicleID,
		}
		if err := c.applyTransitionLocked(ctx, EventDeviceReconnected, newState); err != nil {
			return err
		}
		c.logger.Info("Device reconnected within grace period, resuming tracking",
			zap.String("device_id", mapping.DeviceID))
		return nil

	default:
		c.logger.Debug("Connect ignored in current phase",
			zap.String("phase", c.machine.Current()),
			zap.String("device_id", mapping.DeviceID))
		return nil
	}
}

// HandleDisconnect 处理蓝牙断开事件
func (c *Controller) HandleDisconnect(ctx context.Context, deviceID, deviceName string) error {
	mapping, err := c.matchMapping(ctx, deviceID, deviceName)
	if err != nil {
		return err
	}
	if mapping == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.ConnectedDeviceID != mapping.DeviceID {
		return nil
	}

	switch c.machine.Current() {
	case models.PhaseTracking:
		settings, err := c.repo.GetSettings(ctx)
		if err != nil {
			return err
		}
		now := time.Now()
		newState := &models.AutoStartState{
			Phase:              models.PhaseStopping,
			ConnectedDeviceID:  c.state.ConnectedDeviceID,
			StopTimerStartedAt: &now,
			TriggeredVehicleID: c.state.TriggeredVehicleID,
		}
		if err := c.applyTransitionLocked(ctx, EventDeviceDisconnected, newState); err != nil {
			return err
		}
		c.settings = settings
		c.armStopTimerLocked(time.Duration(settings.StopTimeoutMinutes) * time.Minute)
		c.logger.Info("Device disconnected during tracking, stop grace period started",
			zap.String("device_id", mapping.DeviceID),
			zap.Int("stop_timeout_min", settings.StopTimeoutMinutes))
		return nil

	case models.PhaseMonitoring:
		// 未达标就断开：整个周期取消
		c.logger.Info("Device disconnected during monitoring, aborting cycle",
			zap.String("device_id", mapping.DeviceID))
		return c.transitionToIdleLocked(ctx, EventMonitorAborted)

	default:
		return nil
	}
}

// HandleLocationSample 处理定位采样的速度门限判定
// 仅在 monitoring 阶段有意义，连续 speedSamplesRequired 条达标采样触发 tracking
func (c *Controller) HandleLocationSample(ctx context.Context, sample *models.LocationSample) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.machine.Current() != models.PhaseMonitoring || c.settings == nil {
		c.aboveThreshold = 0
		return nil
	}
	if sample.SpeedMph == nil {
		return nil
	}

	if *sample.SpeedMph >= c.settings.SpeedThresholdMph() {
		c.aboveThreshold++
		if c.aboveThreshold >= speedSamplesRequired {
			c.logger.Info("Sustained movement detected",
				zap.Float64("speed_mph", *sample.SpeedMph),
				zap.Float64("threshold_mph", c.settings.SpeedThresholdMph()))
			return c.startTrackingLocked(ctx)
		}
	} else {
		c.aboveThreshold = 0
	}
	return nil
}

// State 当前状态快照
func (c *Controller) State() *models.AutoStartState {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := *c.state
	copied.Phase = c.machine.Current()
	return &copied
}

// ForceReset 强制回到 idle，用于与行程状态失配时的人工恢复
func (c *Controller) ForceReset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.machine.Current() == models.PhaseIdle {
		return nil
	}
	c.logger.Warn("Force resetting autostart cycle", zap.String("phase", c.machine.Current()))
	return c.transitionToIdleLocked(ctx, EventReset)
}

// startTrackingLocked 进入 tracking：先调起行程，成功后才落盘转换
func (c *Controller) startTrackingLocked(ctx context.Context) error {
	classification := models.ClassificationUnclassified
	if c.settings != nil && c.settings.TripClassification != "" {
		classification = c.settings.TripClassification
	}

	if err := c.hooks.OnTriggerStart(ctx, c.state.TriggeredVehicleID, classification); err != nil {
		// 行程未能启动（权限拒绝、已有行程等），本周期作废
		c.logger.Warn("Trigger start failed, aborting cycle",
			zap.String("vehicle_id", c.state.TriggeredVehicleID),
			zap.Error(err))
		return c.transitionToIdleLocked(ctx, EventMonitorAborted)
	}

	newState := &models.AutoStartState{
		Phase:              models.PhaseTracking,
		ConnectedDeviceID:  c.state.ConnectedDeviceID,
		TriggeredVehicleID: c.state.TriggeredVehicleID,
	}
	if err := c.applyTransitionLocked(ctx, EventMovementDetected, newState); err != nil {
		return err
	}

	c.logger.Info("AutoStart tracking began",
		zap.String("vehicle_id", newState.TriggeredVehicleID),
		zap.String("device_id", newState.ConnectedDeviceID))
	return nil
}

// executeStopLocked 执行停止：调起停止钩子后无条件回到 idle
func (c *Controller) executeStopLocked(ctx context.Context) {
	if err := c.hooks.OnTriggerStop(ctx); err != nil {
		c.logger.Error("Trigger stop failed", zap.Error(err))
	}
	if err := c.transitionToIdleLocked(ctx, EventStopTimerFired); err != nil {
		c.logger.Error("Failed to reset after stop", zap.Error(err))
	}
}

// transitionToIdleLocked 回到 idle 并清空全部瞬态字段
func (c *Controller) transitionToIdleLocked(ctx context.Context, event string) error {
	return c.applyTransitionLocked(ctx, event, &models.AutoStartState{Phase: models.PhaseIdle})
}

// applyTransitionLocked 执行一次阶段转换：先落盘，再更新内存
// 任何转换都会使未决计时器失效
func (c *Controller) applyTransitionLocked(ctx context.Context, event string, newState *models.AutoStartState) error {
	if !c.machine.Can(event) {
		c.logger.Warn("Invalid phase transition, ignoring",
			zap.String("event", event),
			zap.String("phase", c.machine.Current()))
		return nil
	}

	if err := c.repo.SaveState(ctx, newState); err != nil {
		return err
	}
	if err := c.machine.Trigger(event); err != nil {
		return err
	}

	c.cancelTimersLocked()
	c.state = newState
	c.aboveThreshold = 0

	if c.onChange != nil {
		snap := *newState
		snap.Phase = c.machine.Current()
		go c.onChange(&snap)
	}
	return nil
}

// armDetectionTimerLocked 布置检测窗口计时器
func (c *Controller) armDetectionTimerLocked(d time.Duration) {
	c.timerGen++
	gen := c.timerGen
	c.detectionTimer = time.AfterFunc(d, func() { c.detectionTimerFired(gen) })
}

// armStopTimerLocked 布置停止宽限计时器
func (c *Controller) armStopTimerLocked(d time.Duration) {
	c.timerGen++
	gen := c.timerGen
	c.stopTimer = time.AfterFunc(d, func() { c.stopTimerFired(gen) })
}

// cancelTimersLocked 取消全部未决计时器并使其回调失效
func (c *Controller) cancelTimersLocked() {
	c.timerGen++
	if c.detectionTimer != nil {
		c.detectionTimer.Stop()
		c.detectionTimer = nil
	}
	if c.stopTimer != nil {
		c.stopTimer.Stop()
		c.stopTimer = nil
	}
}

// detectionTimerFired 检测窗口到期：窗口内没有达标移动，周期收束回 idle
// 计时器回调与转换并发竞争由世代号裁决：已失效的回调直接丢弃
func (c *Controller) detectionTimerFired(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.timerGen || c.machine.Current() != models.PhaseMonitoring {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.logger.Info("Detection window expired without qualifying movement")
	if err := c.transitionToIdleLocked(ctx, EventDetectionTimeout); err != nil {
		c.logger.Error("Failed to reset after detection timeout", zap.Error(err))
	}
}

// stopTimerFired 停止宽限计时器到期：结束行程并回到 idle
func (c *Controller) stopTimerFired(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.timerGen || c.machine.Current() != models.PhaseStopping {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c.logger.Info("Stop grace period expired, finalizing trip")
	c.executeStopLocked(ctx)
}

// matchMapping 按设备标识匹配映射：精确 ID、精确名称、名称子串
func (c *Controller) matchMapping(ctx context.Context, deviceID, deviceName string) (*models.BluetoothDeviceMapping, error) {
	if deviceID != "" {
		mapping, err := c.repo.GetMapping(ctx, deviceID)
		if err != nil {
			return nil, err
		}
		if mapping != nil {
			return mapping, nil
		}
	}

	if deviceName == "" {
		return nil, nil
	}

	mappings, err := c.repo.ListMappings(ctx)
	if err != nil {
		return nil, err
	}

	lowerName := strings.ToLower(deviceName)
	var substringMatch *models.BluetoothDeviceMapping
	for _, mapping := range mappings {
		stored := strings.ToLower(mapping.DeviceName)
		if stored == lowerName {
			return mapping, nil
		}
		if substringMatch == nil && stored != "" &&
			(strings.Contains(lowerName, stored) || strings.Contains(stored, lowerName)) {
			substringMatch = mapping
		}
	}
	return substringMatch, nil
}

// detectionDeadline 检测窗口截止时间
func detectionDeadline(state *models.AutoStartState, settings *models.AutoStartSettings) time.Time {
	started := state.UpdatedAt
	if state.MonitoringStartedAt != nil {
		started = *state.MonitoringStartedAt
	}
	return started.Add(time.Duration(settings.DetectionWindowMinutes) * time.Minute)
}

// stopDeadline 停止宽限截止时间
func stopDeadline(state *models.AutoStartState, settings *models.AutoStartSettings) time.Time {
	started := state.UpdatedAt
	if state.StopTimerStartedAt != nil {
		started = *state.StopTimerStartedAt
	}
	return started.Add(time.Duration(settings.StopTimeoutMinutes) * time.Minute)
}
