package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/langchou/milegazer/internal/models"
)

// LocationSampleRequest 定位采样上报请求
type LocationSampleRequest struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Timestamp *int64   `json:"timestamp"` // Unix 毫秒，缺省为服务器当前时间
	SpeedMph  *float64 `json:"speed_mph"`
	Accuracy  *float64 `json:"accuracy"`
}

// IngestLocationSample 注入一条定位采样（模拟/伴侣应用 HTTP 上报）
func (h *Handler) IngestLocationSample(c *gin.Context) {
	var req LocationSampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "coordinates out of range"})
		return
	}

	ts := time.Now()
	if req.Timestamp != nil {
		ts = time.UnixMilli(*req.Timestamp)
	}

	sample := &models.LocationSample{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Timestamp: ts,
		SpeedMph:  req.SpeedMph,
		Accuracy:  req.Accuracy,
	}

	h.provider.Push(sample)

	c.JSON(http.StatusAccepted, gin.H{"message": "sample accepted"})
}
