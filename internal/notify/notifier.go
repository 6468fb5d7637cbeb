// Package notify 定义行程通知的发送抽象，失败一律忽略
package notify

import (
	"go.uber.org/zap"

	"github.com/langchou/milegazer/internal/models"
)

// Notifier 通知接收方，调用即发即弃
type Notifier interface {
	TripStarted(trip *models.Trip)
	TripCompleted(trip *models.Trip)
	MonitoringStarted(deviceName string)
}

// LogNotifier 以日志形式输出通知
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier 创建日志通知器
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// TripStarted 行程开始通知
func (n *LogNotifier) TripStarted(trip *models.Trip) {
	n.logger.Info("Notification: trip started",
		zap.String("trip_id", trip.ID),
		zap.String("vehicle_id", trip.VehicleID),
		zap.Bool("auto_tracked", trip.IsAutoTracked))
}

// TripCompleted 行程结束通知
func (n *LogNotifier) TripCompleted(trip *models.Trip) {
	n.logger.Info("Notification: trip completed",
		zap.String("trip_id", trip.ID),
		zap.Float64("distance_mi", trip.EffectiveDistance()))
}

// MonitoringStarted 开始监听移动的通知
func (n *LogNotifier) MonitoringStarted(deviceName string) {
	n.logger.Info("Notification: monitoring started", zap.String("device", deviceName))
}

// Multi 将通知分发给多个接收方
type Multi []Notifier

// TripStarted 行程开始通知
func (m Multi) TripStarted(trip *models.Trip) {
	for _, n := range m {
		n.TripStarted(trip)
	}
}

// TripCompleted 行程结束通知
func (m Multi) TripCompleted(trip *models.Trip) {
	for _, n := range m {
		n.TripCompleted(trip)
	}
}

// MonitoringStarted 开始监听的通知
func (m Multi) MonitoringStarted(deviceName string) {
	for _, n := range m {
		n.MonitoringStarted(deviceName)
	}
}
