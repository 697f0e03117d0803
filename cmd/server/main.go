package main

// @title TimeCapsule API
// @version 1.0
// @description 定时信件服务：预约未来投递的邮件。
// @BasePath /
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description 使用格式：Bearer {token}

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "timecapsule/backend/docs" // Swagger docs
	"timecapsule/backend/internal/app"
	"timecapsule/backend/internal/config"
	"timecapsule/backend/internal/health"
	"timecapsule/backend/internal/logger"
	"timecapsule/backend/internal/monitoring"
	"timecapsule/backend/internal/pool"
	"timecapsule/backend/internal/scheduler"
	httptransport "timecapsule/backend/internal/transport/http"
	"timecapsule/backend/internal/websocket"
)

// main 启动 HTTP API、WebSocket 推送与定时投递任务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if cfg.Log.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.FromConfig(cfg.Log, "timecapsule-server")
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting timecapsule server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := monitoring.NewMetrics()

	components, err := app.Build(ctx, cfg, log, metrics)
	if err != nil {
		log.Fatal("failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	healthChecker := health.NewHealthChecker(components.Store, log)
	components.RegisterHealth(healthChecker)

	// 后台任务协程池与调度器
	workers := pool.NewWorkerPool(cfg.Scheduler.Workers, cfg.Scheduler.QueueSize, log)
	components.Messages.SetWorkerPool(workers)

	jobs := scheduler.New(workers, log)
	jobs.SetMetrics(metrics)
	if err := components.RegisterJobs(jobs); err != nil {
		log.Fatal("failed to register jobs", zap.Error(err))
	}

	// 投递成功后推送给在线的所有者
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, components.Auth, log)
	components.Delivery.SetNotifier(wsHub)

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:          cfg,
		AuthService:     components.Auth,
		MessageService:  components.Messages,
		DeliveryService: components.Delivery,
		AdminService:    components.Admin,
		Jobs:            jobs,
		WebSocketHub:    wsHub,
		Health:          healthChecker,
		Metrics:         metrics,
		Logger:          log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second, // 附件上传
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 协程池与调度器 goroutine
	group.Go(func() error {
		workers.Start(groupCtx)
		defer workers.Stop()
		return jobs.Start(groupCtx)
	})

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server error", zap.Error(err))
		return
	}

	log.Info("server exited cleanly")
}
