package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"timecapsule/backend/internal/scheduler"
	"timecapsule/backend/internal/service"
)

// 后台任务名称
const (
	JobDeliverScheduled = "deliver-scheduled-messages"
	JobPurgeTokens      = "purge-expired-verification-tokens"
)

// RegisterJobs 注册投递扫描和验证令牌清理任务
func (c *Components) RegisterJobs(s *scheduler.Scheduler) error {
	err := s.Register(scheduler.Job{
		Name:     JobDeliverScheduled,
		Interval: c.Config.Scheduler.SweepInterval,
		Align:    c.Config.Scheduler.Align,
		Run:      c.runSweep,
	})
	if err != nil {
		return err
	}

	return s.Register(scheduler.Job{
		Name:     JobPurgeTokens,
		Interval: time.Hour,
		Run:      c.Auth.PurgeExpiredTokens,
	})
}

// runSweep 另一实例持有扫描锁时本轮视为正常结束
func (c *Components) runSweep(ctx context.Context) error {
	_, err := c.Delivery.SendDue(ctx)
	if errors.Is(err, service.ErrSweepInProgress) {
		c.Log.Info("delivery sweep skipped, another sweep holds the lock")
		return nil
	}
	if err != nil {
		c.Log.Error("delivery sweep failed", zap.Error(err))
	}
	return err
}
