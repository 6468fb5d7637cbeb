package autostart

import (
	"context"
	"fmt"
	"sync"

	"github.com/looplab/fsm"

	"github.com/langchou/milegazer/internal/models"
)

// 事件常量
const (
	EventDeviceConnected    = "device_connected"
	EventMovementDetected   = "movement_detected"
	EventDeviceDisconnected = "device_disconnected"
	EventDeviceReconnected  = "device_reconnected"
	EventStopTimerFired     = "stop_timer_fired"
	EventDetectionTimeout   = "detection_timeout"
	EventMonitorAborted     = "monitor_aborted"
	EventReset              = "reset"
)

// Machine 自动启动阶段状态机
type Machine struct {
	mu       sync.RWMutex
	fsm      *fsm.FSM
	onChange func(from, to string)
}

// NewMachine 创建状态机，initialPhase 为空时从 idle 开始
func NewMachine(initialPhase string, onChange func(from, to string)) *Machine {
	if initialPhase == "" {
		initialPhase = models.PhaseIdle
	}

	m := &Machine{onChange: onChange}

	m.fsm = fsm.NewFSM(
		initialPhase,
		fsm.Events{
			// 从 idle 状态
			{Name: EventDeviceConnected, Src: []string{models.PhaseIdle}, Dst: models.PhaseMonitoring},

			// 从 monitoring 状态
			{Name: EventMovementDetected, Src: []string{models.PhaseMonitoring}, Dst: models.PhaseTracking},
			{Name: EventDetectionTimeout, Src: []string{models.PhaseMonitoring}, Dst: models.PhaseIdle},
			{Name: EventMonitorAborted, Src: []string{models.PhaseMonitoring}, Dst: models.PhaseIdle},

			// 从 tracking 状态
			{Name: EventDeviceDisconnected, Src: []string{models.PhaseTracking}, Dst: models.PhaseStopping},

			// 从 stopping 状态
			{Name: EventDeviceReconnected, Src: []string{models.PhaseStopping}, Dst: models.PhaseTracking},
			{Name: EventStopTimerFired, Src: []string{models.PhaseStopping}, Dst: models.PhaseIdle},

			// 一致性重置
			{Name: EventReset, Src: []string{models.PhaseMonitoring, models.PhaseTracking, models.PhaseStopping}, Dst: models.PhaseIdle},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if m.onChange != nil && e.Src != e.Dst {
					m.onChange(e.Src, e.Dst)
				}
			},
		},
	)

	return m
}

// Current 当前阶段
func (m *Machine) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// Can 检查事件是否可触发
func (m *Machine) Can(event string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Can(event)
}

// Trigger 触发事件
func (m *Machine) Trigger(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("trigger event %s: %w", event, err)
	}
	return nil
}
