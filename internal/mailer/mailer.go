// Package mailer 负责把渲染好的邮件交给具体的发信通道。
//
// 通道在构造时选定一次：配置了 SendGrid API Key 时使用 SendGrid，
// 否则配置了 SES 区域时使用 SES，其余情况回退到 SMTP。
package mailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"go.uber.org/zap"

	"timecapsule/backend/internal/config"
	"timecapsule/backend/internal/storage"
)

// maxAttachmentBytes 单个附件读入内存的上限
const maxAttachmentBytes = 25 << 20

// AttachmentRef 引用附件存储中的一个文件
type AttachmentRef struct {
	Path        string // 附件存储键
	Filename    string // 邮件中显示的文件名，留空使用 Path 的文件名
	ContentType string
}

// Email 待发送的邮件
type Email struct {
	To          string
	ToName      string
	Subject     string
	HTML        string
	Attachments []AttachmentRef
}

// Attachment 已加载内容的附件
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Envelope 交给发信通道的完整邮件
type Envelope struct {
	From        string
	FromName    string
	To          string
	ToName      string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Provider 发信通道
type Provider interface {
	Name() string
	Deliver(ctx context.Context, env *Envelope) error
}

// Sender 是业务层依赖的发信接口
type Sender interface {
	// Send 发送邮件，成功返回 true；任何失败都只记录日志并返回 false
	Send(ctx context.Context, email Email) bool
}

// Options Mailer 选项
type Options struct {
	From     string
	FromName string
	Timeout  time.Duration // 单次发送超时
}

// Mailer 加载附件并通过选定的通道发送邮件
type Mailer struct {
	provider Provider
	blobs    storage.BlobStore
	opts     Options
	log      *zap.Logger
}

var _ Sender = (*Mailer)(nil)

// New 根据配置选择发信通道并创建 Mailer
func New(ctx context.Context, cfg *config.EmailConfig, blobs storage.BlobStore, log *zap.Logger) (*Mailer, error) {
	provider, err := newProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}

	log.Info("email transport selected", zap.String("provider", provider.Name()))

	return NewWithProvider(provider, blobs, Options{
		From:     cfg.From,
		FromName: cfg.FromName,
		Timeout:  cfg.SendTimeout,
	}, log), nil
}

func newProvider(ctx context.Context, cfg *config.EmailConfig) (Provider, error) {
	switch {
	case cfg.SendGridAPIKey != "":
		return NewSendGridProvider(cfg.SendGridAPIKey), nil
	case cfg.SESRegion != "":
		p, err := NewSESProvider(ctx, SESConfig{
			Region:          cfg.SESRegion,
			AccessKeyID:     cfg.SESAccessKeyID,
			SecretAccessKey: cfg.SESSecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		return p, nil
	default:
		if cfg.Host == "" || cfg.Port <= 0 {
			return nil, fmt.Errorf("smtp host and port are required when no API transport is configured")
		}
		return NewSMTPProvider(SMTPConfig{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Username: cfg.Username,
			Password: cfg.Password,
		}), nil
	}
}

// NewWithProvider 使用指定通道创建 Mailer
func NewWithProvider(provider Provider, blobs storage.BlobStore, opts Options, log *zap.Logger) *Mailer {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Mailer{
		provider: provider,
		blobs:    blobs,
		opts:     opts,
		log:      log,
	}
}

// ProviderName 返回当前使用的通道名称
func (m *Mailer) ProviderName() string {
	return m.provider.Name()
}

// Send 发送邮件
//
// 附件文件不存在时跳过该附件并继续发送。
func (m *Mailer) Send(ctx context.Context, email Email) (ok bool) {
	log := m.log.With(
		zap.String("provider", m.provider.Name()),
		zap.String("to", email.To),
		zap.String("subject", email.Subject),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("email send panicked", zap.Any("panic", r))
			ok = false
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	attachments, err := m.loadAttachments(ctx, email.Attachments, log)
	if err != nil {
		log.Error("failed to load attachments", zap.Error(err))
		return false
	}

	env := &Envelope{
		From:        m.opts.From,
		FromName:    m.opts.FromName,
		To:          email.To,
		ToName:      email.ToName,
		Subject:     email.Subject,
		HTML:        email.HTML,
		Attachments: attachments,
	}

	start := time.Now()
	if err := m.provider.Deliver(ctx, env); err != nil {
		log.Error("failed to send email",
			zap.Int("attachments", len(attachments)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return false
	}

	log.Info("email sent",
		zap.Int("attachments", len(attachments)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return true
}

func (m *Mailer) loadAttachments(ctx context.Context, refs []AttachmentRef, log *zap.Logger) ([]Attachment, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	if m.blobs == nil {
		return nil, errors.New("attachment store not configured")
	}

	out := make([]Attachment, 0, len(refs))
	for _, ref := range refs {
		content, err := m.readBlob(ctx, ref.Path)
		if errors.Is(err, storage.ErrBlobNotFound) {
			log.Warn("attachment file missing, skipping", zap.String("path", ref.Path))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read attachment %s: %w", ref.Path, err)
		}

		filename := ref.Filename
		if filename == "" {
			filename = path.Base(ref.Path)
		}
		contentType := ref.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		out = append(out, Attachment{
			Filename:    filename,
			ContentType: contentType,
			Content:     content,
		})
	}
	return out, nil
}

func (m *Mailer) readBlob(ctx context.Context, key string) ([]byte, error) {
	rc, err := m.blobs.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxAttachmentBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxAttachmentBytes {
		return nil, fmt.Errorf("attachment exceeds %d bytes", maxAttachmentBytes)
	}
	return data, nil
}
