package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/milegazer/internal/trip"
)

// StartTripRequest 开始行程请求
type StartTripRequest struct {
	VehicleID      string `json:"vehicle_id"`
	Classification string `json:"classification"`
}

// StartTrip 手动开始行程
func (h *Handler) StartTrip(c *gin.Context) {
	var req StartTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	record, err := h.tripManager.Start(c.Request.Context(), req.VehicleID, req.Classification, false)
	if err != nil {
		h.respondTripError(c, err)
		return
	}

	c.JSON(http.StatusCreated, record)
}

// StopTrip 结束当前行程
func (h *Handler) StopTrip(c *gin.Context) {
	record, err := h.tripManager.Stop(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to stop trip", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to stop trip"})
		return
	}
	if record == nil {
		// 没有进行中的行程，结束操作视为空操作
		c.JSON(http.StatusOK, gin.H{"message": "no active trip"})
		return
	}

	c.JSON(http.StatusOK, record)
}

// GetActiveTrip 查询进行中的行程
func (h *Handler) GetActiveTrip(c *gin.Context) {
	record := h.tripManager.Active()
	if record == nil {
		c.JSON(http.StatusOK, gin.H{"active": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"active": true,
		"trip":   record,
	})
}

// ListTrips 行程列表
func (h *Handler) ListTrips(c *gin.Context) {
	trips, err := h.tripRepo.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list trips", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list trips"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"trips": trips,
		"count": len(trips),
	})
}

// GetTrip 查询单条行程
func (h *Handler) GetTrip(c *gin.Context) {
	record, err := h.tripRepo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("Failed to get trip", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get trip"})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "trip not found"})
		return
	}

	c.JSON(http.StatusOK, record)
}

// EditTripRequest 编辑行程请求，未提供的字段保持不变
type EditTripRequest struct {
	Notes            *string  `json:"notes"`
	AdjustedDistance *float64 `json:"adjusted_distance"`
}

// EditTrip 编辑已完成的行程
func (h *Handler) EditTrip(c *gin.Context) {
	var req EditTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	if req.AdjustedDistance != nil && *req.AdjustedDistance < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "adjusted_distance must not be negative"})
		return
	}

	record, err := h.tripManager.Edit(c.Request.Context(), c.Param("id"), req.Notes, req.AdjustedDistance)
	if err != nil {
		h.respondTripError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

// respondTripError 行程错误映射为 HTTP 状态码
func (h *Handler) respondTripError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, trip.ErrNoVehicle):
		c.JSON(http.StatusBadRequest, gin.H{"error": "select a vehicle before starting a trip"})
	case errors.Is(err, trip.ErrVehicleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "vehicle not found"})
	case errors.Is(err, trip.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "location permission is required to track trips"})
	case errors.Is(err, trip.ErrTripInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "a trip is already in progress"})
	case errors.Is(err, trip.ErrTripNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "trip not found"})
	case errors.Is(err, trip.ErrTripNotEditable):
		c.JSON(http.StatusConflict, gin.H{"error": "only completed or edited trips can be edited"})
	default:
		h.logger.Error("Trip operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
