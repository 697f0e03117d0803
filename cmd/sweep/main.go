// Command sweep 执行一轮定时信件投递后退出，供 cron 或 Kubernetes CronJob 调用。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"timecapsule/backend/internal/app"
	"timecapsule/backend/internal/config"
	"timecapsule/backend/internal/logger"
	"timecapsule/backend/internal/service"
)

func main() {
	timeout := flag.Duration("timeout", 30*time.Minute, "单轮投递的最长执行时间")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.FromConfig(cfg.Log, "timecapsule-sweep")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	os.Exit(run(cfg, log, *timeout))
}

func run(cfg *config.Config, log *zap.Logger, timeout time.Duration) int {
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	components, err := app.Build(ctx, cfg, log, nil)
	if err != nil {
		log.Error("failed to initialize components", zap.Error(err))
		return 1
	}
	defer components.Close()

	result, err := components.Delivery.SendDue(ctx)
	switch {
	case errors.Is(err, service.ErrSweepInProgress):
		log.Info("another delivery sweep is running, nothing to do")
		return 0
	case err != nil:
		log.Error("delivery sweep failed", zap.Error(err))
		return 1
	}

	log.Info("delivery sweep completed",
		zap.Int("due", result.Due),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Duration("duration", result.Duration),
	)
	if result.Failed > 0 {
		return 2
	}
	return 0
}
