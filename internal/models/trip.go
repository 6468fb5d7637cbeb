package models

import "time"

// 行程状态常量
const (
	TripStatusActive    = "active"
	TripStatusCompleted = "completed"
	TripStatusSynced    = "synced"
	TripStatusEdited    = "edited"
)

// 行程分类常量
const (
	ClassificationPersonal     = "personal"
	ClassificationBusiness     = "business"
	ClassificationUnclassified = "unclassified"
)

// Trip 行程记录
type Trip struct {
	ID                 string     `json:"id"`
	VehicleID          string     `json:"vehicle_id"`
	StartTime          time.Time  `json:"start_time"`
	EndTime            *time.Time `json:"end_time,omitempty"`
	StartOdometer      float64    `json:"start_odometer"`                 // 行程开始时车辆里程表 (mi)
	EndOdometer        *float64   `json:"end_odometer,omitempty"`         // 结束里程表 = start + 有效距离 (mi)
	CalculatedDistance float64    `json:"calculated_distance"`            // GPS 累计距离 (mi)，进行中单调不减
	AdjustedDistance   *float64   `json:"adjusted_distance,omitempty"`    // 用户手动修正距离 (mi)
	DurationMs         int64      `json:"duration_ms"`
	Status             string     `json:"status"` // active, completed, synced, edited
	Notes              string     `json:"notes,omitempty"`
	Classification     string     `json:"classification"` // personal, business, unclassified
	IsAutoTracked      bool       `json:"is_auto_tracked"`
	SyncedAt           *time.Time `json:"synced_at,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// EffectiveDistance 有效距离：存在手动修正时以修正值为准
func (t *Trip) EffectiveDistance() float64 {
	if t.AdjustedDistance != nil {
		return *t.AdjustedDistance
	}
	return t.CalculatedDistance
}

// IsActive 行程是否进行中
func (t *Trip) IsActive() bool {
	return t.Status == TripStatusActive
}

// Syncable 行程是否待同步（已完成或已编辑、且尚未同步）
func (t *Trip) Syncable() bool {
	return t.Status == TripStatusCompleted || t.Status == TripStatusEdited
}
