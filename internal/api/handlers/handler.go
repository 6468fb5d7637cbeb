package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/milegazer/internal/autostart"
	"github.com/langchou/milegazer/internal/bluetooth"
	"github.com/langchou/milegazer/internal/location"
	"github.com/langchou/milegazer/internal/odometer"
	"github.com/langchou/milegazer/internal/repository"
	"github.com/langchou/milegazer/internal/trip"
	"github.com/langchou/milegazer/pkg/ws"
)

// Handler HTTP 处理器
type Handler struct {
	logger       *zap.Logger
	vehicleRepo  *repository.VehicleRepository
	tripRepo     *repository.TripRepository
	autoRepo     *repository.AutoStartRepository
	prefRepo     *repository.PreferenceRepository
	tripManager  *trip.Manager
	controller   *autostart.Controller
	reconciler   *odometer.Reconciler
	provider     *location.SimulatedProvider
	manualSource *bluetooth.ManualSource
	wsHub        *ws.Hub
	upgrader     websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	vehicleRepo *repository.VehicleRepository,
	tripRepo *repository.TripRepository,
	autoRepo *repository.AutoStartRepository,
	prefRepo *repository.PreferenceRepository,
	tripManager *trip.Manager,
	controller *autostart.Controller,
	reconciler *odometer.Reconciler,
	provider *location.SimulatedProvider,
	manualSource *bluetooth.ManualSource,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger:       logger,
		vehicleRepo:  vehicleRepo,
		tripRepo:     tripRepo,
		autoRepo:     autoRepo,
		prefRepo:     prefRepo,
		tripManager:  tripManager,
		controller:   controller,
		reconciler:   reconciler,
		provider:     provider,
		manualSource: manualSource,
		wsHub:        wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// API 路由
	api := r.Group("/api")
	{
		// 车辆
		api.GET("/vehicles", h.ListVehicles)
		api.POST("/vehicles", h.CreateVehicle)
		api.GET("/vehicles/:id", h.GetVehicle)

		// 行程
		api.GET("/trips", h.ListTrips)
		api.GET("/trips/active", h.GetActiveTrip)
		api.POST("/trips/start", h.StartTrip)
		api.POST("/trips/stop", h.StopTrip)
		api.GET("/trips/:id", h.GetTrip)
		api.PATCH("/trips/:id", h.EditTrip)

		// 定位采样（模拟/伴侣应用 HTTP 上报）
		api.POST("/location/samples", h.IngestLocationSample)

		// 自动启动
		api.GET("/autostart/state", h.GetAutoStartState)
		api.POST("/autostart/reset", h.ResetAutoStart)
		api.GET("/autostart/settings", h.GetAutoStartSettings)
		api.PUT("/autostart/settings", h.UpdateAutoStartSettings)
		api.GET("/autostart/mappings", h.ListMappings)
		api.POST("/autostart/mappings", h.SaveMapping)
		api.DELETE("/autostart/mappings/:deviceId", h.RemoveMapping)
		api.POST("/autostart/events", h.EmitBluetoothEvent)

		// 里程同步
		api.POST("/sync", h.TriggerSync)
		api.GET("/sync/preferences", h.GetSyncPreferences)
		api.PUT("/sync/preferences", h.UpdateSyncPreferences)
		api.POST("/sync/discrepancies/accept-server", h.AcceptServerOdometer)
		api.POST("/sync/discrepancies/force-local", h.ForceLocalOdometer)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"tracking":   h.tripManager.IsTracking(),
		"ws_clients": h.wsHub.ClientCount(),
	})
}
