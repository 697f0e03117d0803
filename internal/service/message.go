package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"timecapsule/backend/internal/domain"
	"timecapsule/backend/internal/mailer"
	"timecapsule/backend/internal/monitoring"
	"timecapsule/backend/internal/pool"
	"timecapsule/backend/internal/security"
	"timecapsule/backend/internal/storage"
	"timecapsule/backend/internal/storage/filesystem"
)

const (
	// DefaultListLimit 列表默认返回条数
	DefaultListLimit = 100
	// MaxListLimit 列表单次最多返回条数
	MaxListLimit = 500
)

var (
	// ErrAttachmentTooLarge 附件超过上传大小限制
	ErrAttachmentTooLarge = errors.New("attachment too large")
	// ErrAttachmentRejected 附件未通过安全检查
	ErrAttachmentRejected = errors.New("attachment rejected")
	// ErrStorageUnavailable 未配置附件存储
	ErrStorageUnavailable = errors.New("attachment storage not configured")
)

// MessageOptions 信件服务选项
type MessageOptions struct {
	AppName       string
	MaxUploadSize int64
}

// MessageService 封装信件的创建、查询与删除。
type MessageService struct {
	repo    storage.MessageRepository
	blobs   storage.BlobStore
	policy  *security.AttachmentPolicy
	sender  mailer.Sender
	pool    *pool.WorkerPool
	metrics *monitoring.Metrics
	opts    MessageOptions
	log     *zap.Logger
	now     func() time.Time
}

// NewMessageService 创建信件业务服务。
func NewMessageService(repo storage.MessageRepository, blobs storage.BlobStore, sender mailer.Sender, opts MessageOptions, log *zap.Logger) *MessageService {
	if opts.AppName == "" {
		opts.AppName = "TimeCapsule"
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = 10 << 20
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageService{
		repo:   repo,
		blobs:  blobs,
		policy: security.NewAttachmentPolicy(),
		sender: sender,
		opts:   opts,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetWorkerPool 设置发送确认邮件使用的协程池，未设置时直接启动 goroutine
func (s *MessageService) SetWorkerPool(p *pool.WorkerPool) {
	s.pool = p
}

// SetMetrics 设置监控指标
func (s *MessageService) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

// CreateMessageInput 定义创建信件的输入。
type CreateMessageInput struct {
	RecipientEmail string
	RecipientName  string
	SenderName     string
	Subject        string
	Content        string
	ScheduledDate  time.Time
}

// Upload 上传的附件文件
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Create 新建一封定时信件，校验失败时不保存任何记录。
func (s *MessageService) Create(ctx context.Context, owner *domain.User, input CreateMessageInput) (*domain.Message, error) {
	message, err := s.build(owner, input)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SaveMessage(message); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}

	s.afterCreate(owner, message)
	return message, nil
}

// CreateWithAttachment 新建信件，附件可选；upload 为 nil 时与 Create 相同。
//
// 附件以 uuid + 原扩展名为键写入附件存储，记录保存失败时附件文件会被删除。
func (s *MessageService) CreateWithAttachment(ctx context.Context, owner *domain.User, input CreateMessageInput, upload *Upload) (*domain.Message, error) {
	if upload == nil || upload.Body == nil {
		return s.Create(ctx, owner, input)
	}
	message, err := s.build(owner, input)
	if err != nil {
		return nil, err
	}
	if s.blobs == nil {
		return nil, ErrStorageUnavailable
	}
	if upload.Size > s.opts.MaxUploadSize {
		return nil, ErrAttachmentTooLarge
	}

	filename := filesystem.SanitizeFilename(upload.Filename)
	body := bufio.NewReaderSize(upload.Body, security.SniffLen)
	header, err := body.Peek(security.SniffLen)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	contentType, err := s.policy.Check(filename, upload.ContentType, header)
	if err != nil {
		s.log.Warn("attachment rejected", zap.String("user_id", owner.ID), zap.String("filename", filename), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrAttachmentRejected, err)
	}
	key := uuid.NewString() + strings.ToLower(filepath.Ext(filename))

	size, err := s.blobs.Put(ctx, key, io.LimitReader(body, s.opts.MaxUploadSize+1), contentType)
	if err != nil {
		return nil, fmt.Errorf("store attachment: %w", err)
	}
	if size > s.opts.MaxUploadSize {
		s.removeBlob(key)
		return nil, ErrAttachmentTooLarge
	}

	attachment := &domain.Attachment{
		ID:        uuid.NewString(),
		MessageID: message.ID,
		Filename:  filename,
		FilePath:  key,
		FileType:  contentType,
		Size:      size,
		CreatedAt: message.CreatedAt,
	}

	if err := s.repo.SaveMessage(message); err != nil {
		s.removeBlob(key)
		return nil, fmt.Errorf("save message: %w", err)
	}
	if err := s.repo.SaveAttachment(attachment); err != nil {
		s.removeBlob(key)
		if delErr := s.repo.DeleteMessage(owner.ID, message.ID); delErr != nil {
			s.log.Error("failed to roll back message", zap.String("message_id", message.ID), zap.Error(delErr))
		}
		return nil, fmt.Errorf("save attachment: %w", err)
	}
	message.Attachments = []*domain.Attachment{attachment}

	if s.metrics != nil {
		s.metrics.RecordAttachmentSize(size)
	}
	s.afterCreate(owner, message)
	return message, nil
}

// List 分页列出用户的信件，按创建时间倒序
func (s *MessageService) List(userID string, skip, limit int) ([]domain.Message, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return s.repo.ListMessagesByUser(userID, skip, limit)
}

// Get 获取用户的一封信件
func (s *MessageService) Get(userID, messageID string) (*domain.Message, error) {
	return s.repo.GetMessage(userID, messageID)
}

// Delete 删除信件，先清理附件文件再删除记录，已丢失的附件文件会被忽略
func (s *MessageService) Delete(ctx context.Context, userID, messageID string) error {
	message, err := s.repo.GetMessage(userID, messageID)
	if err != nil {
		return err
	}

	if s.blobs != nil {
		for _, att := range message.Attachments {
			err := s.blobs.Remove(ctx, att.FilePath)
			if err != nil && !errors.Is(err, storage.ErrBlobNotFound) {
				return fmt.Errorf("remove attachment %s: %w", att.ID, err)
			}
		}
	}

	return s.repo.DeleteMessage(userID, messageID)
}

func (s *MessageService) build(owner *domain.User, input CreateMessageInput) (*domain.Message, error) {
	now := s.now()
	message := &domain.Message{
		ID:             uuid.NewString(),
		UserID:         owner.ID,
		RecipientEmail: strings.TrimSpace(input.RecipientEmail),
		RecipientName:  strings.TrimSpace(input.RecipientName),
		SenderName:     strings.TrimSpace(input.SenderName),
		Subject:        strings.TrimSpace(input.Subject),
		Content:        input.Content,
		ScheduledDate:  input.ScheduledDate.UTC(),
		CreatedAt:      now,
	}
	if err := message.Validate(now); err != nil {
		return nil, err
	}
	return message, nil
}

func (s *MessageService) afterCreate(owner *domain.User, message *domain.Message) {
	s.log.Info("message scheduled",
		zap.String("message_id", message.ID),
		zap.String("user_id", owner.ID),
		zap.Time("scheduled_date", message.ScheduledDate),
		zap.Int("attachments", len(message.Attachments)),
	)
	if s.metrics != nil {
		s.metrics.RecordMessageScheduled()
	}
	if s.sender == nil || owner.Email == "" {
		return
	}

	task := func() { s.sendConfirmation(owner.Email, message) }
	if s.pool != nil && s.pool.TrySubmit(task) {
		return
	}
	go task()
}

func (s *MessageService) sendConfirmation(to string, message *domain.Message) {
	html, err := mailer.RenderConfirmationHTML(s.opts.AppName, message.Subject, message.RecipientEmail, message.ScheduledDate)
	if err != nil {
		s.log.Error("failed to render confirmation", zap.Error(err))
		return
	}

	ok := s.sender.Send(context.Background(), mailer.Email{
		To:      to,
		Subject: s.opts.AppName + " Message Confirmation",
		HTML:    html,
	})
	if s.metrics != nil {
		s.metrics.RecordEmail("confirmation", ok)
	}
	if !ok {
		s.log.Warn("failed to send confirmation email", zap.String("message_id", message.ID))
	}
}

func (s *MessageService) removeBlob(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.blobs.Remove(ctx, key); err != nil && !errors.Is(err, storage.ErrBlobNotFound) {
		s.log.Warn("failed to remove orphaned attachment", zap.String("key", key), zap.Error(err))
	}
}
