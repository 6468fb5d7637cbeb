package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineM_ZeroDistance(t *testing.T) {
	d := HaversineM(37.7749, -122.4194, 37.7749, -122.4194)
	assert.Zero(t, d)
}

func TestHaversineM_KnownDistance(t *testing.T) {
	// 旧金山 -> 洛杉矶，约 559 km
	d := HaversineM(37.7749, -122.4194, 34.0522, -118.2437)
	assert.InDelta(t, 559000, d, 5000)
}

func TestHaversineM_SmallDelta(t *testing.T) {
	// 纬度变化 0.0001 度约 11.1 m
	d := HaversineM(37.7749, -122.4194, 37.7750, -122.4194)
	assert.InDelta(t, 11.1, d, 0.2)
}

func TestMilesFromMeters(t *testing.T) {
	assert.InDelta(t, 1.0, MilesFromMeters(1609.34), 0.001)
	assert.Zero(t, MilesFromMeters(0))
}
