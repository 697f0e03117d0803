// Package app 组装各个命令共用的存储、发信与业务服务。
package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"timecapsule/backend/internal/auth"
	"timecapsule/backend/internal/config"
	"timecapsule/backend/internal/health"
	"timecapsule/backend/internal/mailer"
	"timecapsule/backend/internal/monitoring"
	"timecapsule/backend/internal/service"
	"timecapsule/backend/internal/storage"
	"timecapsule/backend/internal/storage/filesystem"
	"timecapsule/backend/internal/storage/memory"
	"timecapsule/backend/internal/storage/postgres"
	"timecapsule/backend/internal/storage/redis"
	"timecapsule/backend/internal/storage/s3blob"
)

// Components 已初始化的依赖
type Components struct {
	Config  *config.Config
	Log     *zap.Logger
	Metrics *monitoring.Metrics

	Store  storage.Store
	Locker storage.Locker
	Blobs  storage.BlobStore
	Mailer *mailer.Mailer

	Auth     *auth.Service
	Messages *service.MessageService
	Delivery *service.DeliveryService
	Admin    *service.AdminService

	pingers map[string]health.Pinger
	closers []func()
}

// Build 按配置初始化存储层和业务服务，metrics 可以为 nil
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger, metrics *monitoring.Metrics) (*Components, error) {
	c := &Components{
		Config:  cfg,
		Log:     log,
		Metrics: metrics,
		pingers: make(map[string]health.Pinger),
	}

	if err := c.initStore(); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.initLocker(); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.initBlobs(ctx); err != nil {
		c.Close()
		return nil, err
	}

	m, err := mailer.New(ctx, &cfg.Email, c.Blobs, log)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize mailer: %w", err)
	}
	c.Mailer = m

	c.initServices()
	return c, nil
}

func (c *Components) initStore() error {
	cfg := c.Config
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		c.Store = memory.NewStore()
		c.Log.Warn("using memory storage, data is lost on restart")
		return nil
	}

	store, err := postgres.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database storage: %w", err)
	}
	c.Store = store
	c.closers = append(c.closers, func() {
		if err := store.Close(); err != nil {
			c.Log.Warn("failed to close database", zap.Error(err))
		}
	})
	c.Log.Info("using database storage", zap.String("type", cfg.Database.Type))
	return nil
}

func (c *Components) initLocker() error {
	if !c.Config.Redis.Enabled() {
		c.Locker = memory.NewLocker()
		return nil
	}

	client, err := redis.New(&c.Config.Redis, c.Log)
	if err != nil {
		return err
	}
	c.Locker = redis.NewLocker(client)
	c.pingers["redis"] = client
	c.closers = append(c.closers, func() { _ = client.Close() })
	return nil
}

func (c *Components) initBlobs(ctx context.Context) error {
	cfg := &c.Config.Storage
	switch strings.ToLower(cfg.Driver) {
	case "s3":
		store, err := s3blob.New(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize s3 storage: %w", err)
		}
		c.Blobs = store
		c.Log.Info("attachment storage initialized", zap.String("driver", "s3"), zap.String("bucket", cfg.S3Bucket))
	case "", "local":
		store, err := filesystem.NewStore(cfg.Path)
		if err != nil {
			return fmt.Errorf("failed to initialize filesystem storage: %w", err)
		}
		c.Blobs = store
		c.Log.Info("attachment storage initialized", zap.String("driver", "local"), zap.String("path", store.BasePath()))
	default:
		return fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
	return nil
}

func (c *Components) initServices() {
	cfg := c.Config

	c.Auth = auth.NewService(c.Store, c.Store, auth.NewJWTManager(&cfg.JWT), c.Mailer, auth.Options{
		AppName:  cfg.App.Name,
		BaseURL:  cfg.App.BaseURL,
		TokenTTL: cfg.Verification.TokenTTL,
	}, c.Log)

	c.Messages = service.NewMessageService(c.Store, c.Blobs, c.Mailer, service.MessageOptions{
		AppName:       cfg.App.Name,
		MaxUploadSize: cfg.Storage.MaxUploadSize,
	}, c.Log)

	c.Delivery = service.NewDeliveryService(c.Store, c.Mailer, c.Locker, service.DeliveryOptions{
		AppName:    cfg.App.Name,
		ClaimLease: cfg.Scheduler.ClaimLease,
		LockTTL:    cfg.Scheduler.LockTTL,
	}, c.Log)

	c.Admin = service.NewAdminService(c.Store, c.Log)

	if c.Metrics != nil {
		c.Auth.SetMetrics(c.Metrics)
		c.Messages.SetMetrics(c.Metrics)
		c.Delivery.SetMetrics(c.Metrics)
	}
}

// RegisterHealth 将 Redis 连通性加入就绪检查，数据库由 HealthChecker 通过 Store.Health 检查
func (c *Components) RegisterHealth(hc *health.HealthChecker) {
	for name, p := range c.pingers {
		hc.AddPinger(name, p)
	}
}

// Close 按初始化的逆序释放资源
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
