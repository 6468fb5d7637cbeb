package models

import "time"

// Vehicle 车辆信息
// CurrentOdometer 只能由里程表对账逻辑更新，行程代码不得直接赋值
type Vehicle struct {
	ID              string    `json:"id"`
	Year            int       `json:"year"`
	Make            string    `json:"make"`
	Model           string    `json:"model"`
	CurrentOdometer float64   `json:"current_odometer"` // 本地权威里程表 (mi)
	OwnerID         string    `json:"owner_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DisplayName 车辆展示名称
func (v *Vehicle) DisplayName() string {
	name := v.Make
	if v.Model != "" {
		if name != "" {
			name += " "
		}
		name += v.Model
	}
	return name
}
