package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/milegazer/internal/api/handlers"
	"github.com/langchou/milegazer/internal/api/remote"
	"github.com/langchou/milegazer/internal/autostart"
	"github.com/langchou/milegazer/internal/bluetooth"
	"github.com/langchou/milegazer/internal/config"
	"github.com/langchou/milegazer/internal/location"
	"github.com/langchou/milegazer/internal/models"
	"github.com/langchou/milegazer/internal/notify"
	"github.com/langchou/milegazer/internal/odometer"
	"github.com/langchou/milegazer/internal/repository"
	"github.com/langchou/milegazer/internal/store"
	"github.com/langchou/milegazer/internal/tracker"
	"github.com/langchou/milegazer/internal/trip"
	"github.com/langchou/milegazer/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting Milegazer", zap.String("port", cfg.ServerPort))

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 初始化存储后端
	kv, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer closeStore()
	logger.Info("Store ready", zap.String("backend", cfg.StoreBackend))

	// 创建 Repository
	vehicleRepo := repository.NewVehicleRepository(kv)
	tripRepo := repository.NewTripRepository(kv)
	autoRepo := repository.NewAutoStartRepository(kv)
	prefRepo := repository.NewPreferenceRepository(kv)

	// 远端里程授权服务客户端
	remoteClient := remote.NewClient(cfg.RemoteBaseURL, cfg.RemoteAPIToken)

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger)
	go wsHub.Run()

	// 里程表对账器与自动同步门限
	reconciler := odometer.NewReconciler(logger, vehicleRepo, tripRepo, remoteClient)
	gate := odometer.NewTierGate(logger, cfg.AccountTier, prefRepo)

	// 定位来源与距离累计器
	provider := location.NewSimulatedProvider(true)
	accumulator := tracker.NewAccumulator(logger, cfg.MovementThresholdM, cfg.StationaryTimeout)

	notifier := notify.Multi{notify.NewLogNotifier(logger), &hubNotifier{hub: wsHub}}

	// 行程会话管理器
	tripManager := trip.NewManager(
		logger,
		tripRepo,
		vehicleRepo,
		provider,
		accumulator,
		reconciler,
		gate,
		notifier,
		cfg.AutoSyncDelay,
	)

	// 自动启动控制器，启停钩子与手动操作走同一路径
	controller := autostart.NewController(logger, autoRepo, &tripHooks{manager: tripManager}, notifier)

	// 行程与自动启动状态变更广播到 WebSocket
	tripManager.SetUpdateListener(func(snapshot *models.Trip) {
		wsHub.BroadcastTrackingUpdate(snapshot)
	})
	controller.SetChangeListener(func(state *models.AutoStartState) {
		wsHub.BroadcastAutoStartUpdate(state)
	})

	// 恢复持久化状态：进行中行程继续累计，中断的计时器续接
	if err := tripManager.Recover(ctx); err != nil {
		logger.Error("Failed to recover active trip", zap.Error(err))
	}
	if err := controller.Resume(ctx); err != nil {
		logger.Error("Failed to resume autostart controller", zap.Error(err))
	}

	// 定位采样同时喂给自动启动的速度门限判定
	speedSub := provider.Subscribe(func(sample *models.LocationSample) {
		sampleCtx, sampleCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer sampleCancel()
		if err := controller.HandleLocationSample(sampleCtx, sample); err != nil {
			logger.Error("Failed to handle location sample", zap.Error(err))
		}
	})
	defer speedSub.Cancel()

	// 手动蓝牙事件来源（HTTP 模拟接口）
	manualSource := bluetooth.NewManualSource(logger, controller)
	go manualSource.Run(ctx)

	// MQTT 事件来源（移动端上报通道，可选）
	if cfg.MQTTEnabled {
		mqttSource, err := bluetooth.NewMQTTSource(logger, cfg.MQTTBroker, cfg.MQTTClientID, controller, provider)
		if err != nil {
			logger.Fatal("Failed to connect MQTT broker", zap.Error(err))
		}
		go func() {
			if err := mqttSource.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("MQTT source stopped", zap.Error(err))
			}
		}()
		logger.Info("MQTT source started", zap.String("broker", cfg.MQTTBroker))
	}

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(
		logger,
		vehicleRepo,
		tripRepo,
		autoRepo,
		prefRepo,
		tripManager,
		controller,
		reconciler,
		provider,
		manualSource,
		wsHub,
	)

	// WebSocket 初始数据
	wsHub.SetInitDataProvider(func() *ws.InitData {
		initCtx, initCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer initCancel()
		vehicles, err := vehicleRepo.List(initCtx)
		if err != nil {
			logger.Error("Failed to load vehicles for init data", zap.Error(err))
		}
		return &ws.InitData{
			Vehicles:   vehicles,
			ActiveTrip: tripManager.Active(),
			AutoStart:  controller.State(),
		}
	})

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// 注册路由
	handler.RegisterRoutes(router)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// hubNotifier 把行程结束通知广播到 WebSocket 客户端
// 行程开始/更新已由快照监听广播，这里只补结束事件
type hubNotifier struct {
	hub *ws.Hub
}

func (n *hubNotifier) TripStarted(*models.Trip) {}

func (n *hubNotifier) TripCompleted(trip *models.Trip) {
	n.hub.BroadcastTripCompleted(trip)
}

func (n *hubNotifier) MonitoringStarted(string) {}

// tripHooks 自动启动控制器的行程启停钩子
type tripHooks struct {
	manager *trip.Manager
}

func (h *tripHooks) OnTriggerStart(ctx context.Context, vehicleID, classification string) error {
	_, err := h.manager.Start(ctx, vehicleID, classification, true)
	return err
}

func (h *tripHooks) OnTriggerStop(ctx context.Context) error {
	_, err := h.manager.Stop(ctx)
	return err
}

// openStore 按配置初始化 KV 存储后端
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case "redis":
		s, err := store.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "postgres":
		s, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "memory":
		return store.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend: %s", cfg.StoreBackend)
	}
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
