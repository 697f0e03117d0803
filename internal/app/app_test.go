package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"timecapsule/backend/internal/config"
	"timecapsule/backend/internal/pool"
	"timecapsule/backend/internal/scheduler"
	"timecapsule/backend/internal/storage/memory"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{
			Secret:        "0123456789abcdef0123456789abcdef",
			Issuer:        "timecapsule",
			AccessExpiry:  15 * time.Minute,
			RefreshExpiry: time.Hour,
		},
		Email: config.EmailConfig{
			Host:        "localhost",
			Port:        2525,
			From:        "timecapsule@example.com",
			SendTimeout: time.Second,
		},
		Storage: config.StorageConfig{
			Driver:        "local",
			Path:          t.TempDir(),
			MaxUploadSize: 1 << 20,
		},
		Scheduler: config.SchedulerConfig{
			SweepInterval: time.Hour,
			ClaimLease:    15 * time.Minute,
			LockTTL:       time.Minute,
		},
		App: config.AppConfig{Name: "TimeCapsule", BaseURL: "http://localhost:8080"},
	}
}

func TestBuild(t *testing.T) {
	ctx := context.Background()

	t.Run("默认使用内存存储", func(t *testing.T) {
		c, err := Build(ctx, testConfig(t), zap.NewNop(), nil)
		require.NoError(t, err)
		defer c.Close()

		assert.IsType(t, &memory.Store{}, c.Store)
		assert.IsType(t, &memory.Locker{}, c.Locker)
		assert.NotNil(t, c.Auth)
		assert.NotNil(t, c.Messages)
		assert.NotNil(t, c.Delivery)
		assert.NotNil(t, c.Admin)
	})

	t.Run("不支持的附件存储", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Storage.Driver = "ftp"
		_, err := Build(ctx, cfg, zap.NewNop(), nil)
		assert.Error(t, err)
	})

	t.Run("缺少发信配置", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Email.Host = ""
		_, err := Build(ctx, cfg, zap.NewNop(), nil)
		assert.Error(t, err)
	})
}

func TestRegisterJobs(t *testing.T) {
	ctx := context.Background()
	c, err := Build(ctx, testConfig(t), zap.NewNop(), nil)
	require.NoError(t, err)
	defer c.Close()

	s := scheduler.New(pool.NewWorkerPool(1, 1, zap.NewNop()), zap.NewNop())
	require.NoError(t, c.RegisterJobs(s))

	names := make([]string, 0, 2)
	for _, info := range s.Jobs() {
		names = append(names, info.Name)
	}
	assert.ElementsMatch(t, []string{JobDeliverScheduled, JobPurgeTokens}, names)

	t.Run("手动触发投递", func(t *testing.T) {
		assert.NoError(t, s.Trigger(ctx, JobDeliverScheduled))
	})

	t.Run("扫描锁被占用时不算失败", func(t *testing.T) {
		release, ok, err := c.Locker.TryLock(ctx, "delivery-sweep", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		defer release()

		assert.NoError(t, c.runSweep(ctx))
	})
}
