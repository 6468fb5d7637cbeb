// Package tracker 将定位采样流转换为行程距离
package tracker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/milegazer/internal/geo"
	"github.com/langchou/milegazer/internal/models"
)

// 默认参数
const (
	// DefaultMovementThresholdM 位移阈值 (m)，低于该值的采样视为 GPS 抖动
	DefaultMovementThresholdM = 10.0

	// DefaultStationaryTimeout 静止超时，超过该时长无有效位移则自动结束行程
	DefaultStationaryTimeout = 5 * time.Minute
)

// Update 一次采样产生的累计结果
type Update struct {
	Sample        *models.LocationSample
	DeltaMeters   float64 // 与上一采样的大圆距离 (m)
	TotalMiles    float64 // 累计距离 (mi)
	Moving        bool    // 本次采样是否判定为移动
	SpeedEstimate float64 // 估算速度 (mph)，上报速度缺失时按位移/时间推算
}

// Accumulator 距离累计器
// 采样必须按时间戳非降序到达，乱序采样被丢弃
type Accumulator struct {
	logger             *zap.Logger
	movementThresholdM float64
	stationaryTimeout  time.Duration

	mu             sync.Mutex
	prev           *models.LocationSample
	totalMeters    float64
	lastMovementAt time.Time
	stopTimer      *time.Timer
	running        bool

	onUpdate            func(update *Update)
	onStationaryTimeout func()
}

// NewAccumulator 创建距离累计器
func NewAccumulator(logger *zap.Logger, movementThresholdM float64, stationaryTimeout time.Duration) *Accumulator {
	if movementThresholdM <= 0 {
		movementThresholdM = DefaultMovementThresholdM
	}
	if stationaryTimeout <= 0 {
		stationaryTimeout = DefaultStationaryTimeout
	}
	return &Accumulator{
		logger:             logger,
		movementThresholdM: movementThresholdM,
		stationaryTimeout:  stationaryTimeout,
	}
}

// Start 开始累计
// onUpdate 在每次有效采样后触发；onStationaryTimeout 在静止超时后触发一次
func (a *Accumulator) Start(onUpdate func(update *Update), onStationaryTimeout func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.prev = nil
	a.totalMeters = 0
	a.lastMovementAt = time.Now()
	a.running = true
	a.onUpdate = onUpdate
	a.onStationaryTimeout = onStationaryTimeout
	a.cancelStopTimerLocked()
}

// Stop 停止累计并清理静止计时器，返回累计距离 (mi)
func (a *Accumulator) Stop() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.running = false
	a.onUpdate = nil
	a.onStationaryTimeout = nil
	a.cancelStopTimerLocked()
	return geo.MilesFromMeters(a.totalMeters)
}

// TotalMiles 当前累计距离 (mi)
func (a *Accumulator) TotalMiles() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return geo.MilesFromMeters(a.totalMeters)
}

// Apply 应用一条采样
func (a *Accumulator) Apply(sample *models.LocationSample) {
	a.mu.Lock()

	if !a.running {
		a.mu.Unlock()
		return
	}

	// 首个采样只作为参考点，不贡献距离
	if a.prev == nil {
		a.prev = sample
		a.lastMovementAt = sample.Timestamp
		a.mu.Unlock()
		return
	}

	// 乱序或重复时间戳：丢弃
	if !sample.Timestamp.After(a.prev.Timestamp) {
		a.logger.Debug("Dropping out-of-order sample",
			zap.Time("sample_ts", sample.Timestamp),
			zap.Time("prev_ts", a.prev.Timestamp))
		a.mu.Unlock()
		return
	}

	// 位移恰好等于阈值时计为移动
	delta := geo.HaversineM(a.prev.Latitude, a.prev.Longitude, sample.Latitude, sample.Longitude)
	moving := delta >= a.movementThresholdM

	update := &Update{
		Sample:      sample,
		DeltaMeters: delta,
		Moving:      moving,
	}

	if sample.SpeedMph != nil {
		update.SpeedEstimate = *sample.SpeedMph
	} else if dt := sample.Timestamp.Sub(a.prev.Timestamp).Hours(); dt > 0 {
		update.SpeedEstimate = geo.MilesFromMeters(delta) / dt
	}

	if moving {
		a.totalMeters += delta
		a.lastMovementAt = sample.Timestamp
		a.cancelStopTimerLocked()
	} else if a.stopTimer == nil {
		a.armStopTimerLocked()
	}

	a.prev = sample
	update.TotalMiles = geo.MilesFromMeters(a.totalMeters)
	onUpdate := a.onUpdate
	a.mu.Unlock()

	if onUpdate != nil {
		onUpdate(update)
	}
}

// armStopTimerLocked 启动静止计时器，调用方须持有锁
func (a *Accumulator) armStopTimerLocked() {
	a.stopTimer = time.AfterFunc(a.stationaryTimeout, a.stopTimerFired)
}

// cancelStopTimerLocked 取消静止计时器，调用方须持有锁
func (a *Accumulator) cancelStopTimerLocked() {
	if a.stopTimer != nil {
		a.stopTimer.Stop()
		a.stopTimer = nil
	}
}

// stopTimerFired 静止计时器到期
// 计时器可能与取消操作竞争，到期后重新在锁内校验静止时长
func (a *Accumulator) stopTimerFired() {
	a.mu.Lock()

	if !a.running {
		a.mu.Unlock()
		return
	}
	a.stopTimer = nil

	if time.Since(a.lastMovementAt) < a.stationaryTimeout {
		// 计时期间出现过移动，重新计时
		a.armStopTimerLocked()
		a.mu.Unlock()
		return
	}

	onTimeout := a.onStationaryTimeout
	a.mu.Unlock()

	a.logger.Info("Stationary timeout reached, signaling auto-complete",
		zap.Duration("timeout", a.stationaryTimeout))
	if onTimeout != nil {
		onTimeout()
	}
}
