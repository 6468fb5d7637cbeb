package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/milegazer/internal/api/remote"
)

// TriggerSync 手动触发里程同步
func (h *Handler) TriggerSync(c *gin.Context) {
	trips, err := h.tripRepo.ListSyncable(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list syncable trips", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list syncable trips"})
		return
	}
	if len(trips) == 0 {
		c.JSON(http.StatusOK, gin.H{
			"synced_trip_ids": []string{},
			"discrepancies":   []any{},
			"message":         "nothing to sync",
		})
		return
	}

	result, err := h.reconciler.SyncTrips(c.Request.Context(), trips)
	if err != nil {
		if errors.Is(err, remote.ErrTokenExpired) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "session expired, sign in again to sync",
				"code":  "TOKEN_EXPIRED",
			})
			return
		}
		h.logger.Error("Sync failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "unable to sync, check your connection"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"synced_trip_ids": result.SyncedTripIDs,
		"discrepancies":   result.Discrepancies,
	})
}

// GetSyncPreferences 查询同步偏好
func (h *Handler) GetSyncPreferences(c *gin.Context) {
	prefs, err := h.prefRepo.GetSyncPreferences(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to get sync preferences", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get preferences"})
		return
	}
	c.JSON(http.StatusOK, prefs)
}

// UpdateSyncPreferencesRequest 同步偏好更新请求
type UpdateSyncPreferencesRequest struct {
	AutoSyncEnabled *bool `json:"auto_sync_enabled"`
}

// UpdateSyncPreferences 更新同步偏好
func (h *Handler) UpdateSyncPreferences(c *gin.Context) {
	var req UpdateSyncPreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	prefs, err := h.prefRepo.GetSyncPreferences(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to get sync preferences", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get preferences"})
		return
	}
	if req.AutoSyncEnabled != nil {
		prefs.AutoSyncEnabled = *req.AutoSyncEnabled
	}
	if err := h.prefRepo.SaveSyncPreferences(c.Request.Context(), prefs); err != nil {
		h.logger.Error("Failed to save sync preferences", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save preferences"})
		return
	}
	c.JSON(http.StatusOK, prefs)
}

// ResolveDiscrepancyRequest 里程差异处置请求
type ResolveDiscrepancyRequest struct {
	VehicleID string  `json:"vehicle_id" binding:"required"`
	Odometer  float64 `json:"odometer"`
}

// AcceptServerOdometer 接受服务端里程表读数，覆盖本地值
func (h *Handler) AcceptServerOdometer(c *gin.Context) {
	var req ResolveDiscrepancyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

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

	if err := h.reconciler.AcceptServerOdometer(c.Request.Context(), req.VehicleID, req.Odometer); err != nil {
		h.logger.Error("Failed to accept server odometer", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update odometer"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "local odometer updated"})
}

// ForceLocalOdometer 以本地里程表读数强制覆盖服务端
func (h *Handler) ForceLocalOdometer(c *gin.Context) {
	var req ResolveDiscrepancyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	if err := h.reconciler.ForceUpdateOdometerOnServer(c.Request.Context(), req.VehicleID, req.Odometer); err != nil {
		if errors.Is(err, remote.ErrTokenExpired) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "session expired, sign in again to sync",
				"code":  "TOKEN_EXPIRED",
			})
			return
		}
		h.logger.Error("Failed to force odometer on server", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "unable to sync, check your connection"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "server odometer updated"})
}
