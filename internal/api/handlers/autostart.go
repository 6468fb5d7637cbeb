package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/milegazer/internal/bluetooth"
	"github.com/langchou/milegazer/internal/models"
)

// GetAutoStartState 查询自动启动状态
func (h *Handler) GetAutoStartState(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.State())
}

// ResetAutoStart 强制重置自动启动周期
func (h *Handler) ResetAutoStart(c *gin.Context) {
	if err := h.controller.ForceReset(c.Request.Context()); err != nil {
		h.logger.Error("Failed to reset autostart", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reset autostart"})
		return
	}
	c.JSON(http.StatusOK, h.controller.State())
}

// GetAutoStartSettings 查询自动启动配置
func (h *Handler) GetAutoStartSettings(c *gin.Context) {
	settings, err := h.autoRepo.GetSettings(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to get autostart settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get settings"})
		return
	}
	c.JSON(http.StatusOK, settings)
}

// UpdateAutoStartSettingsRequest 配置更新请求，每个字段可独立提交
type UpdateAutoStartSettingsRequest struct {
	Enabled                    *bool   `json:"enabled"`
	SpeedThreshold             *string `json:"speed_threshold"`
	DetectionWindowMinutes     *int    `json:"detection_window_minutes"`
	StopTimeoutMinutes         *int    `json:"stop_timeout_minutes"`
	ShowMonitoringNotification *bool   `json:"show_monitoring_notification"`
	ShowEditAfterTrip          *bool   `json:"show_edit_after_trip"`
	TripClassification         *string `json:"trip_classification"`
}

// UpdateAutoStartSettings 更新自动启动配置，未提供的字段保持不变
func (h *Handler) UpdateAutoStartSettings(c *gin.Context) {
	var req UpdateAutoStartSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	settings, err := h.autoRepo.GetSettings(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to get autostart settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get settings"})
		return
	}

	if req.Enabled != nil {
		settings.Enabled = *req.Enabled
	}
	if req.SpeedThreshold != nil {
		switch *req.SpeedThreshold {
		case models.SpeedThresholdImmediate, models.SpeedThreshold3, models.SpeedThreshold5,
			models.SpeedThreshold10, models.SpeedThreshold15:
			settings.SpeedThreshold = *req.SpeedThreshold
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid speed_threshold"})
			return
		}
	}
	if req.DetectionWindowMinutes != nil {
		if *req.DetectionWindowMinutes <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "detection_window_minutes must be positive"})
			return
		}
		settings.DetectionWindowMinutes = *req.DetectionWindowMinutes
	}
	if req.StopTimeoutMinutes != nil {
		if *req.StopTimeoutMinutes <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "stop_timeout_minutes must be positive"})
			return
		}
		settings.StopTimeoutMinutes = *req.StopTimeoutMinutes
	}
	if req.ShowMonitoringNotification != nil {
		settings.ShowMonitoringNotification = *req.ShowMonitoringNotification
	}
	if req.ShowEditAfterTrip != nil {
		settings.ShowEditAfterTrip = *req.ShowEditAfterTrip
	}
	if req.TripClassification != nil {
		settings.TripClassification = *req.TripClassification
	}

	if err := h.autoRepo.SaveSettings(c.Request.Context(), settings); err != nil {
		h.logger.Error("Failed to save autostart settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save settings"})
		return
	}

	c.JSON(http.StatusOK, settings)
}

// ListMappings 蓝牙设备映射列表
func (h *Handler) ListMappings(c *gin.Context) {
	mappings, err := h.autoRepo.ListMappings(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list mappings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list mappings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"mappings": mappings,
		"count":    len(mappings),
	})
}

// SaveMappingRequest 设备映射保存请求
type SaveMappingRequest struct {
	DeviceID    string `json:"device_id" binding:"required"`
	DeviceName  string `json:"device_name"`
	VehicleID   string `json:"vehicle_id"`
	VehicleName string `json:"vehicle_name"`
	Enabled     bool   `json:"enabled"`
}

// SaveMapping 新建或覆盖设备映射
func (h *Handler) SaveMapping(c *gin.Context) {
	var req SaveMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	if req.VehicleID != "" {
		vehicle, err := h.vehicleRepo.GetByID(c.Request.Context(), req.VehicleID)
		if err != nil {
			h.logger.Error("Failed to check vehicle", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check vehicle"})
			return
		}
		if vehicle == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "vehicle not found"})
			return
		}
		if req.VehicleName == "" {
			req.VehicleName = vehicle.DisplayName()
		}
	}

	mapping := &models.BluetoothDeviceMapping{
		DeviceID:    req.DeviceID,
		DeviceName:  req.DeviceName,
		VehicleID:   req.VehicleID,
		VehicleName: req.VehicleName,
		Enabled:     req.Enabled,
		AddedAt:     time.Now(),
	}

	if err := h.autoRepo.SaveMapping(c.Request.Context(), mapping); err != nil {
		h.logger.Error("Failed to save mapping", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save mapping"})
		return
	}

	c.JSON(http.StatusCreated, mapping)
}

// RemoveMapping 删除设备映射
func (h *Handler) RemoveMapping(c *gin.Context) {
	deviceID := c.Param("deviceId")
	if err := h.autoRepo.RemoveMapping(c.Request.Context(), deviceID); err != nil {
		h.logger.Error("Failed to remove mapping", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove mapping"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "mapping removed"})
}

// BluetoothEventRequest 蓝牙事件模拟请求
type BluetoothEventRequest struct {
	Type       string `json:"type" binding:"required"` // connected, disconnected
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
}

// EmitBluetoothEvent 注入蓝牙连接事件（测试/伴侣应用 HTTP 上报）
// 事件经由手动事件来源异步投递，与 MQTT 来源走同一条分发路径
func (h *Handler) EmitBluetoothEvent(c *gin.Context) {
	var req BluetoothEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	if req.Type != bluetooth.EventConnected && req.Type != bluetooth.EventDisconnected {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be connected or disconnected"})
		return
	}
	if req.DeviceID == "" && req.DeviceName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_id or device_name is required"})
		return
	}

	h.manualSource.Emit(&bluetooth.Event{
		Type:       req.Type,
		DeviceID:   req.DeviceID,
		DeviceName: req.DeviceName,
	})

	c.JSON(http.StatusAccepted, gin.H{"message": "event accepted"})
}
