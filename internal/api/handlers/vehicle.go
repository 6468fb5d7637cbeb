package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langchou/milegazer/internal/models"
)

// CreateVehicleRequest 创建车辆请求
type CreateVehicleRequest struct {
	Year            int     `json:"year"`
	Make            string  `json:"make" binding:"required"`
	Model           string  `json:"model"`
	CurrentOdometer float64 `json:"current_odometer"`
}

// CreateVehicle 创建车辆
func (h *Handler) CreateVehicle(c *gin.Context) {
	var req CreateVehicleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	if req.CurrentOdometer < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "current_odometer must not be negative"})
		return
	}

	vehicle := &models.Vehicle{
		ID:              uuid.NewString(),
		Year:            req.Year,
		Make:            req.Make,
		Model:           req.Model,
		CurrentOdometer: req.CurrentOdometer,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}

	if err := h.vehicleRepo.Save(c.Request.Context(), vehicle); err != nil {
		h.logger.Error("Failed to save vehicle", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save vehicle"})
		return
	}

	c.JSON(http.StatusCreated, vehicle)
}

// ListVehicles 车辆列表
func (h *Handler) ListVehicles(c *gin.Context) {
	vehicles, err := h.vehicleRepo.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list vehicles", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list vehicles"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"vehicles": vehicles,
		"count":    len(vehicles),
	})
}

// GetVehicle 查询单辆车
func (h *Handler) GetVehicle(c *gin.Context) {
	vehicle, err := h.vehicleRepo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("Failed to get vehicle", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get vehicle"})
		return
	}
	if vehicle == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "vehicle not found"})
		return
	}

	c.JSON(http.StatusOK, vehicle)
}
