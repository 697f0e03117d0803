package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"timecapsule/backend/internal/domain"
	"timecapsule/backend/internal/mailer"
	"timecapsule/backend/internal/monitoring"
	"timecapsule/backend/internal/storage"
)

// ErrSweepInProgress 已有投递轮次正在执行
var ErrSweepInProgress = errors.New("delivery sweep already in progress")

// DeliveryNotifier 在信件投递成功后通知在线的所有者
type DeliveryNotifier interface {
	NotifyMessageDelivered(userID string, message *domain.Message)
}

// DeliveryOptions 投递服务选项
type DeliveryOptions struct {
	AppName    string
	ClaimLease time.Duration // 单封信件的占用租期
	LockTTL    time.Duration // 整轮投递锁的有效期
	LockKey    string
}

// SweepResult 一轮投递的统计
type SweepResult struct {
	Due       int           `json:"due"`
	Sent      int           `json:"sent"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"durationNs"`
}

// DeliveryService 查找到期信件并逐封投递
type DeliveryService struct {
	repo     storage.MessageRepository
	sender   mailer.Sender
	locker   storage.Locker
	notifier DeliveryNotifier
	metrics  *monitoring.Metrics
	opts     DeliveryOptions
	log      *zap.Logger
	now      func() time.Time
}

// NewDeliveryService 创建投递服务，locker 为空时不加整轮锁
func NewDeliveryService(repo storage.MessageRepository, sender mailer.Sender, locker storage.Locker, opts DeliveryOptions, log *zap.Logger) *DeliveryService {
	if opts.ClaimLease <= 0 {
		opts.ClaimLease = 15 * time.Minute
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Minute
	}
	if opts.LockKey == "" {
		opts.LockKey = "delivery-sweep"
	}
	if opts.AppName == "" {
		opts.AppName = "TimeCapsule"
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &DeliveryService{
		repo:   repo,
		sender: sender,
		locker: locker,
		opts:   opts,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetNotifier 设置投递通知
func (s *DeliveryService) SetNotifier(n DeliveryNotifier) {
	s.notifier = n
}

// SetMetrics 设置监控指标
func (s *DeliveryService) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

// SendDue 投递所有 scheduled_date <= now 且未发送的信件。
//
// 单封信件失败不影响其他信件，失败的信件保持未发送并在下一轮重试。
// 只有整轮无法开始（拿不到锁、查询失败）时才返回错误。
func (s *DeliveryService) SendDue(ctx context.Context) (*SweepResult, error) {
	started := time.Now()
	result := &SweepResult{StartedAt: s.now()}

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, s.opts.LockKey, s.opts.LockTTL)
		if err != nil {
			s.recordSweep("error", result, started)
			return nil, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !ok {
			s.recordSweep("locked", result, started)
			return nil, ErrSweepInProgress
		}
		defer release()
	}

	now := result.StartedAt
	due, err := s.repo.ListDueMessages(now)
	if err != nil {
		s.recordSweep("error", result, started)
		return nil, fmt.Errorf("list due messages: %w", err)
	}
	result.Due = len(due)

	if len(due) > 0 {
		s.log.Info("delivery sweep started", zap.Int("due", len(due)))
	}

	for i := range due {
		if ctx.Err() != nil {
			s.log.Warn("delivery sweep interrupted", zap.Error(ctx.Err()))
			break
		}

		switch s.deliver(ctx, &due[i], now) {
		case outcomeSent:
			result.Sent++
		case outcomeFailed:
			result.Failed++
		case outcomeSkipped:
			result.Skipped++
		}
	}

	result.Duration = time.Since(started)
	s.recordSweep("ok", result, started)

	if result.Due > 0 {
		s.log.Info("delivery sweep finished",
			zap.Int("due", result.Due),
			zap.Int("sent", result.Sent),
			zap.Int("failed", result.Failed),
			zap.Int("skipped", result.Skipped),
			zap.Duration("duration", result.Duration),
		)
	}
	return result, nil
}

type deliveryOutcome int

const (
	outcomeSent deliveryOutcome = iota
	outcomeFailed
	outcomeSkipped
)

func (s *DeliveryService) deliver(ctx context.Context, message *domain.Message, now time.Time) (outcome deliveryOutcome) {
	log := s.log.With(zap.String("message_id", message.ID), zap.String("user_id", message.UserID))

	claimed, err := s.repo.ClaimMessage(message.ID, now, now.Add(s.opts.ClaimLease))
	if err != nil {
		log.Error("failed to claim message", zap.Error(err))
		s.recordDelivery(false)
		return outcomeFailed
	}
	if !claimed {
		log.Debug("message claimed by another worker")
		if s.metrics != nil {
			s.metrics.RecordClaimLost()
		}
		return outcomeSkipped
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while delivering message", zap.Any("panic", r))
			if s.metrics != nil {
				s.metrics.RecordPanic()
			}
			s.release(message.ID, log)
			s.recordDelivery(false)
			outcome = outcomeFailed
		}
	}()

	html, err := mailer.RenderDeliveryHTML(s.opts.AppName, message.Content)
	if err != nil {
		log.Error("failed to render message", zap.Error(err))
		s.release(message.ID, log)
		s.recordDelivery(false)
		return outcomeFailed
	}

	email := mailer.Email{
		To:      message.RecipientEmail,
		ToName:  message.RecipientName,
		Subject: message.Subject,
		HTML:    html,
	}
	for _, att := range message.Attachments {
		email.Attachments = append(email.Attachments, mailer.AttachmentRef{
			Path:        att.FilePath,
			Filename:    att.Filename,
			ContentType: att.FileType,
		})
	}

	if !s.sender.Send(ctx, email) {
		log.Warn("message delivery failed, will retry next sweep")
		s.release(message.ID, log)
		s.recordDelivery(false)
		return outcomeFailed
	}

	sentAt := s.now()
	if err := s.repo.MarkMessageSent(message.ID, sentAt); err != nil {
		// 邮件已经发出，只能记录错误，占用租期过期后可能重复投递
		log.Error("message sent but could not be marked as sent", zap.Error(err))
	} else {
		message.IsSent = true
		message.SentAt = &sentAt
		message.ClaimedUntil = nil
	}

	log.Info("message delivered", zap.String("recipient", message.RecipientEmail))
	s.recordDelivery(true)

	if s.notifier != nil {
		s.notifier.NotifyMessageDelivered(message.UserID, message)
	}
	return outcomeSent
}

func (s *DeliveryService) release(id string, log *zap.Logger) {
	if err := s.repo.ReleaseMessage(id); err != nil {
		log.Warn("failed to release message claim", zap.Error(err))
	}
}

func (s *DeliveryService) recordDelivery(ok bool) {
	if s.metrics != nil {
		s.metrics.RecordDelivery(ok)
	}
}

func (s *DeliveryService) recordSweep(status string, result *SweepResult, started time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordSweep(status, result.Due, time.Since(started))
}
