package mailer

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridProvider 通过 SendGrid v3 API 发信
type SendGridProvider struct {
	client *sendgrid.Client
}

// NewSendGridProvider 创建 SendGrid 发信通道
func NewSendGridProvider(apiKey string) *SendGridProvider {
	return &SendGridProvider{client: sendgrid.NewSendClient(apiKey)}
}

// WithBaseURL 替换接口地址（测试或代理），url 需包含 /v3/mail/send 路径
func (p *SendGridProvider) WithBaseURL(url string) *SendGridProvider {
	p.client.BaseURL = url
	return p
}

// Name 返回通道名称
func (p *SendGridProvider) Name() string {
	return "sendgrid"
}

func buildSendGridMail(env *Envelope) *sgmail.SGMailV3 {
	message := sgmail.NewV3MailInit(
		sgmail.NewEmail(env.FromName, env.From),
		env.Subject,
		sgmail.NewEmail(env.ToName, env.To),
		sgmail.NewContent("text/html", env.HTML),
	)

	for _, att := range env.Attachments {
		message.AddAttachment(sgmail.NewAttachment().
			SetContent(base64.StdEncoding.EncodeToString(att.Content)).
			SetType(att.ContentType).
			SetFilename(att.Filename).
			SetDisposition("attachment").
			SetContentID(att.Filename))
	}
	return message
}

// Deliver 发送邮件，2xx 视为成功
func (p *SendGridProvider) Deliver(ctx context.Context, env *Envelope) error {
	resp, err := p.client.SendWithContext(ctx, buildSendGridMail(env))
	if err != nil {
		return fmt.Errorf("sendgrid request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := resp.Body
		if len(body) > 1024 {
			body = body[:1024]
		}
		return fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, strings.TrimSpace(body))
	}
	return nil
}
