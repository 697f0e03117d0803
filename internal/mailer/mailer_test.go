package mailer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"timecapsule/backend/internal/config"
	"timecapsule/backend/internal/storage/filesystem"
)

// recordingProvider 记录收到的邮件
type recordingProvider struct {
	mu        sync.Mutex
	envelopes []*Envelope
	err       error
	panicMsg  string
	block     bool
}

func (p *recordingProvider) Name() string { return "recording" }

func (p *recordingProvider) Deliver(ctx context.Context, env *Envelope) error {
	if p.panicMsg != "" {
		panic(p.panicMsg)
	}
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envelopes = append(p.envelopes, env)
	return p.err
}

func newTestMailer(t *testing.T, provider Provider) (*Mailer, *filesystem.Store) {
	t.Helper()
	blobs, err := filesystem.NewStore(t.TempDir())
	require.NoError(t, err)

	m := NewWithProvider(provider, blobs, Options{
		From:     "timecapsule@example.com",
		FromName: "TimeCapsule",
		Timeout:  time.Second,
	}, zap.NewNop())
	return m, blobs
}

func TestMailer_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("发送成功", func(t *testing.T) {
		provider := &recordingProvider{}
		m, _ := newTestMailer(t, provider)

		ok := m.Send(ctx, Email{To: "future@example.com", Subject: "Hi", HTML: "<p>hi</p>"})
		assert.True(t, ok)
		require.Len(t, provider.envelopes, 1)

		env := provider.envelopes[0]
		assert.Equal(t, "timecapsule@example.com", env.From)
		assert.Equal(t, "TimeCapsule", env.FromName)
		assert.Equal(t, "future@example.com", env.To)
		assert.Equal(t, "<p>hi</p>", env.HTML)
	})

	t.Run("通道失败返回false", func(t *testing.T) {
		m, _ := newTestMailer(t, &recordingProvider{err: errors.New("relay down")})
		assert.False(t, m.Send(ctx, Email{To: "a@example.com"}))
	})

	t.Run("通道panic返回false", func(t *testing.T) {
		m, _ := newTestMailer(t, &recordingProvider{panicMsg: "boom"})
		assert.False(t, m.Send(ctx, Email{To: "a@example.com"}))
	})

	t.Run("超时返回false", func(t *testing.T) {
		provider := &recordingProvider{block: true}
		m, _ := newTestMailer(t, provider)
		m.opts.Timeout = 20 * time.Millisecond

		start := time.Now()
		assert.False(t, m.Send(ctx, Email{To: "a@example.com"}))
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestMailer_Attachments(t *testing.T) {
	ctx := context.Background()
	provider := &recordingProvider{}
	m, blobs := newTestMailer(t, provider)

	_, err := blobs.Put(ctx, "photo.png", strings.NewReader("png-bytes"), "image/png")
	require.NoError(t, err)

	ok := m.Send(ctx, Email{
		To:      "future@example.com",
		Subject: "With files",
		HTML:    "<p>see attached</p>",
		Attachments: []AttachmentRef{
			{Path: "photo.png", ContentType: "image/png"},
			{Path: "gone.pdf", ContentType: "application/pdf"},
			{Path: "photo.png", Filename: "holiday.png"},
		},
	})
	require.True(t, ok, "missing attachment must not block delivery")
	require.Len(t, provider.envelopes, 1)

	atts := provider.envelopes[0].Attachments
	require.Len(t, atts, 2)
	assert.Equal(t, "photo.png", atts[0].Filename)
	assert.Equal(t, "image/png", atts[0].ContentType)
	assert.Equal(t, []byte("png-bytes"), atts[0].Content)
	assert.Equal(t, "holiday.png", atts[1].Filename)
	assert.Equal(t, "application/octet-stream", atts[1].ContentType)
}

func TestMailer_NoBlobStore(t *testing.T) {
	m := NewWithProvider(&recordingProvider{}, nil, Options{}, zap.NewNop())
	assert.False(t, m.Send(context.Background(), Email{
		To:          "a@example.com",
		Attachments: []AttachmentRef{{Path: "x.pdf"}},
	}))
}

func TestNewProvider_Selection(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		cfg  config.EmailConfig
		want string
	}{
		{
			name: "API Key优先于SMTP凭证",
			cfg:  config.EmailConfig{SendGridAPIKey: "SG.x", SESRegion: "us-east-1", Host: "smtp.gmail.com", Port: 587, Username: "u", Password: "p"},
			want: "sendgrid",
		},
		{
			name: "配置SES区域",
			cfg:  config.EmailConfig{SESRegion: "us-east-1", SESAccessKeyID: "AKID", SESSecretKey: "secret", Host: "smtp.gmail.com", Port: 587},
			want: "ses",
		},
		{
			name: "回退到SMTP",
			cfg:  config.EmailConfig{Host: "smtp.gmail.com", Port: 587},
			want: "smtp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := newProvider(ctx, &tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Name())
		})
	}

	t.Run("缺少SMTP主机", func(t *testing.T) {
		_, err := newProvider(ctx, &config.EmailConfig{})
		assert.Error(t, err)
	})
}
