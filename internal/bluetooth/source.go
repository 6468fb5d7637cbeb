// Package bluetooth 定义蓝牙连接事件来源的抽象
// 事件型和轮询型来源对控制器完全等价
package bluetooth

import (
	"context"

	"go.uber.org/zap"
)

// 事件类型常量
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
)

// Event 蓝牙连接事件
type Event struct {
	Type       string `json:"type"` // connected, disconnected
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
}

// EventHandler 事件消费方（自动启动控制器）
type EventHandler interface {
	HandleConnect(ctx context.Context, deviceID, deviceName string) error
	HandleDisconnect(ctx context.Context, deviceID, deviceName string) error
}

// ConnectionSource 蓝牙事件来源
type ConnectionSource interface {
	// Run 启动事件投递，阻塞直到 ctx 取消
	Run(ctx context.Context) error
}

// Dispatch 把事件投递给处理方
func Dispatch(ctx context.Context, handler EventHandler, event *Event) error {
	switch event.Type {
	case EventConnected:
		return handler.HandleConnect(ctx, event.DeviceID, event.DeviceName)
	case EventDisconnected:
		return handler.HandleDisconnect(ctx, event.DeviceID, event.DeviceName)
	default:
		return nil
	}
}

// ManualSource 手动事件来源：事件由 HTTP 模拟接口注入
type ManualSource struct {
	logger  *zap.Logger
	handler EventHandler
	events  chan *Event
}

// NewManualSource 创建手动来源
func NewManualSource(logger *zap.Logger, handler EventHandler) *ManualSource {
	return &ManualSource{
		logger:  logger,
		handler: handler,
		events:  make(chan *Event, 16),
	}
}

// Emit 注入一个事件
func (s *ManualSource) Emit(event *Event) {
	s.events <- event
}

// Run 消费注入的事件直到 ctx 取消
func (s *ManualSource) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-s.events:
			if err := Dispatch(ctx, s.handler, event); err != nil {
				s.logger.Error("Failed to dispatch bluetooth event",
					zap.String("type", event.Type),
					zap.String("device_id", event.DeviceID),
					zap.Error(err))
			}
		}
	}
}
