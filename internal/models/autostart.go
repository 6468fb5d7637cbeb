package models

import "time"

// AutoStart 阶段常量
const (
	PhaseIdle       = "idle"
	PhaseMonitoring = "monitoring"
	PhaseTracking   = "tracking"
	PhaseStopping   = "stopping"
)

// 速度阈值常量 (mph)，immediate 表示连接即开始
const (
	SpeedThresholdImmediate = "immediate"
	SpeedThreshold3         = "3"
	SpeedThreshold5         = "5"
	SpeedThreshold10        = "10"
	SpeedThreshold15        = "15"
)

// AutoStartState 自动启动状态机的持久化状态（全局单例）
// TriggeredVehicleID 在 tracking/stopping 阶段必须非空
type AutoStartState struct {
	Phase               string     `json:"phase"` // idle, monitoring, tracking, stopping
	ConnectedDeviceID   string     `json:"connected_device_id,omitempty"`
	MonitoringStartedAt *time.Time `json:"monitoring_started_at,omitempty"`
	StopTimerStartedAt  *time.Time `json:"stop_timer_started_at,omitempty"`
	TriggeredVehicleID  string     `json:"triggered_vehicle_id,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// AutoStartSettings 自动启动配置，每个字段可独立更新
type AutoStartSettings struct {
	Enabled                    bool   `json:"enabled"`
	SpeedThreshold             string `json:"speed_threshold"` // immediate, 3, 5, 10, 15
	DetectionWindowMinutes     int    `json:"detection_window_minutes"`
	StopTimeoutMinutes         int    `json:"stop_timeout_minutes"`
	ShowMonitoringNotification bool   `json:"show_monitoring_notification"`
	ShowEditAfterTrip          bool   `json:"show_edit_after_trip"`
	TripClassification         string `json:"trip_classification"` // 自动行程的默认分类
}

// DefaultAutoStartSettings 默认配置
func DefaultAutoStartSettings() *AutoStartSettings {
	return &AutoStartSettings{
		Enabled:                    false,
		SpeedThreshold:             SpeedThreshold5,
		DetectionWindowMinutes:     10,
		StopTimeoutMinutes:         5,
		ShowMonitoringNotification: true,
		ShowEditAfterTrip:          true,
		TripClassification:         ClassificationBusiness,
	}
}

// SpeedThresholdMph 配置的速度阈值 (mph)，immediate 返回 0
func (s *AutoStartSettings) SpeedThresholdMph() float64 {
	switch s.SpeedThreshold {
	case SpeedThreshold3:
		return 3
	case SpeedThreshold5:
		return 5
	case SpeedThreshold10:
		return 10
	case SpeedThreshold15:
		return 15
	default:
		return 0
	}
}

// BluetoothDeviceMapping 蓝牙设备与车辆的映射，按 DeviceID 唯一
type BluetoothDeviceMapping struct {
	DeviceID    string    `json:"device_id"`
	DeviceName  string    `json:"device_name"`
	VehicleID   string    `json:"vehicle_id"`   // 空串表示未分配
	VehicleName string    `json:"vehicle_name"` // 冗余展示字段
	Enabled     bool      `json:"enabled"`
	AddedAt     time.Time `json:"added_at"`
}

// Assigned 映射是否已关联车辆
func (m *BluetoothDeviceMapping) Assigned() bool {
	return m.VehicleID != ""
}
