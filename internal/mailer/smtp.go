package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
)

// ErrInsecureTransport 连接未加密时拒绝发送凭证
var ErrInsecureTransport = errors.New("smtp: refusing to authenticate over an unencrypted connection")

// SMTPConfig SMTP 中继配置
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// TLSConfig STARTTLS 使用的配置，留空时按 Host 校验证书
	TLSConfig *tls.Config
}

// SMTPProvider 通过 SMTP 中继发信
type SMTPProvider struct {
	cfg SMTPConfig
}

// NewSMTPProvider 创建 SMTP 发信通道
func NewSMTPProvider(cfg SMTPConfig) *SMTPProvider {
	return &SMTPProvider{cfg: cfg}
}

// Name 返回通道名称
func (p *SMTPProvider) Name() string {
	return "smtp"
}

// Deliver 连接中继并强制 STARTTLS，配置了凭证时进行 PLAIN 认证。
// 中继不支持 STARTTLS 时直接失败，凭证和信件内容不会以明文发出。
func (p *SMTPProvider) Deliver(ctx context.Context, env *Envelope) error {
	raw, err := buildMIME(env)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	tlsConfig := p.cfg.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{ServerName: p.cfg.Host, MinVersion: tls.VersionTLS12}
	}

	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	c, err := gosmtp.DialStartTLS(addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("failed to establish TLS session with %s: %w", addr, err)
	}
	defer c.Close()

	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		c.CommandTimeout = remaining
		c.SubmissionTimeout = remaining
	}
	// ctx 取消时关闭连接以中断阻塞的读写
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	if p.cfg.Username != "" && p.cfg.Password != "" {
		if _, ok := c.TLSConnectionState(); !ok {
			return ErrInsecureTransport
		}
		if err := c.Auth(sasl.NewPlainClient("", p.cfg.Username, p.cfg.Password)); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}

	if err := c.SendMail(env.From, []string{env.To}, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}

	if err := c.Quit(); err != nil {
		return fmt.Errorf("smtp quit failed: %w", err)
	}
	return nil
}
