package mailer

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// buildMIME 构造 multipart/mixed 原始邮件：一个 HTML 正文部分加上每个附件一个部分
func buildMIME(env *Envelope) ([]byte, error) {
	var h mail.Header
	h.SetAddressList("From", []*mail.Address{{Name: env.FromName, Address: env.From}})
	h.SetAddressList("To", []*mail.Address{{Name: env.ToName, Address: env.To}})
	h.SetSubject(env.Subject)
	h.SetDate(time.Now().UTC())
	if err := h.GenerateMessageIDWithHostname(senderDomain(env.From)); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	var bodyHeader mail.InlineHeader
	bodyHeader.SetContentType("text/html", map[string]string{"charset": "UTF-8"})
	body, err := w.CreateSingleInline(bodyHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to create body part: %w", err)
	}
	if _, err := body.Write([]byte(env.HTML)); err != nil {
		return nil, fmt.Errorf("failed to write body: %w", err)
	}
	if err := body.Close(); err != nil {
		return nil, fmt.Errorf("failed to write body: %w", err)
	}

	for _, att := range env.Attachments {
		var ah mail.AttachmentHeader
		ah.SetContentType(att.ContentType, nil)
		ah.SetFilename(att.Filename)

		part, err := w.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}
		if _, err := part.Write(att.Content); err != nil {
			return nil, fmt.Errorf("failed to write attachment %s: %w", att.Filename, err)
		}
		if err := part.Close(); err != nil {
			return nil, fmt.Errorf("failed to write attachment %s: %w", att.Filename, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func senderDomain(addr string) string {
	if at := strings.LastIndex(addr, "@"); at >= 0 && at < len(addr)-1 {
		return addr[at+1:]
	}
	return "localhost"
}
