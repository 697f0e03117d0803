package mailer

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

// ScheduleDateLayout 确认邮件中预定时间的显示格式
const ScheduleDateLayout = "January 02, 2006 at 03:04 PM"

var deliveryTemplate = template.Must(template.New("delivery").Parse(`<html>
<body>
<h1>A Message From Your Past Self</h1>
<p>You scheduled this message to be delivered today.</p>
<div style="border: 1px solid #ccc; padding: 20px; margin: 20px 0;">{{.Content}}</div>
<p><em>Sent via {{.AppName}}</em></p>
</body>
</html>
`))

var confirmationTemplate = template.Must(template.New("confirmation").Parse(`<html>
<body>
<h1>{{.AppName}} Confirmation</h1>
<p>Your message has been scheduled successfully!</p>
<p><strong>Subject:</strong> {{.Subject}}</p>
<p><strong>Scheduled for:</strong> {{.ScheduledFor}}</p>
<p><strong>Recipient:</strong> {{.Recipient}}</p>
<p>Your message will be delivered on the scheduled date.</p>
</body>
</html>
`))

var verificationTemplate = template.Must(template.New("verification").Parse(`<html>
<body>
<h1>Welcome to {{.AppName}}!</h1>
<p>Thank you for registering. Please click the link below to verify your email address:</p>
<p><a href="{{.URL}}">Verify Email</a></p>
<p>This link will expire in {{.Hours}} hours.</p>
</body>
</html>
`))

// RenderDeliveryHTML 渲染到期信件的邮件正文，正文内容转义后换行转为 <br>
func RenderDeliveryHTML(appName, content string) (string, error) {
	escaped := template.HTMLEscapeString(content)
	escaped = strings.ReplaceAll(escaped, "\r\n", "\n")
	escaped = strings.ReplaceAll(escaped, "\n", "<br>\n")

	return render(deliveryTemplate, struct {
		AppName string
		Content template.HTML
	}{
		AppName: appName,
		Content: template.HTML(escaped), // #nosec G203 -- 已转义
	})
}

// RenderConfirmationHTML 渲染信件创建确认邮件
func RenderConfirmationHTML(appName, subject, recipient string, scheduled time.Time) (string, error) {
	return render(confirmationTemplate, struct {
		AppName      string
		Subject      string
		ScheduledFor string
		Recipient    string
	}{
		AppName:      appName,
		Subject:      subject,
		ScheduledFor: scheduled.UTC().Format(ScheduleDateLayout),
		Recipient:    recipient,
	})
}

// RenderVerificationHTML 渲染邮箱验证邮件
func RenderVerificationHTML(appName, verifyURL string, ttl time.Duration) (string, error) {
	return render(verificationTemplate, struct {
		AppName string
		URL     string
		Hours   int
	}{
		AppName: appName,
		URL:     verifyURL,
		Hours:   int(ttl.Hours()),
	})
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
