package models

import "time"

// LocationSample 定位采样
type LocationSample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	SpeedMph  *float64  `json:"speed_mph,omitempty"` // 平台上报速度 (mph)，可能缺失
	Accuracy  *float64  `json:"accuracy,omitempty"`  // 水平精度 (m)，可能缺失
}

// OdometerDiscrepancy 里程表差异：远端值高于本地计算值
type OdometerDiscrepancy struct {
	VehicleID      string  `json:"vehicle_id"`
	VehicleName    string  `json:"vehicle_name"`
	LocalOdometer  float64 `json:"local_odometer"`
	ServerOdometer float64 `json:"server_odometer"`
}
