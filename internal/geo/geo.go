// Package geo 提供大圆距离计算和单位转换
package geo

import "math"

const (
	// EarthRadiusM 地球平均半径 (m)
	EarthRadiusM = 6371000.0

	// MetersToMiles 米转英里系数
	MetersToMiles = 0.000621371
)

// HaversineM 计算两点间大圆距离 (m)
func HaversineM(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusM * c
}

// MilesFromMeters 米转英里
func MilesFromMeters(m float64) float64 {
	return m * MetersToMiles
}
