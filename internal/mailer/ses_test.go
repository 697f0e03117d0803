package mailer

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSESClient struct {
	mock.Mock
}

func (m *mockSESClient) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*sesv2.SendEmailOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestSESProvider_Deliver(t *testing.T) {
	ctx := context.Background()

	t.Run("无附件使用简单格式", func(t *testing.T) {
		client := new(mockSESClient)
		client.On("SendEmail", ctx, mock.MatchedBy(func(in *sesv2.SendEmailInput) bool {
			return in.Content.Simple != nil &&
				aws.ToString(in.Content.Simple.Subject.Data) == "Hello" &&
				aws.ToString(in.Content.Simple.Body.Html.Data) == "<p>hi</p>" &&
				in.Destination.ToAddresses[0] == "future@example.com" &&
				aws.ToString(in.FromEmailAddress) == "TimeCapsule <timecapsule@example.com>"
		})).Return(&sesv2.SendEmailOutput{MessageId: aws.String("id-1")}, nil)

		p := NewSESProviderWithClient(client)
		err := p.Deliver(ctx, &Envelope{
			From: "timecapsule@example.com", FromName: "TimeCapsule",
			To: "future@example.com", Subject: "Hello", HTML: "<p>hi</p>",
		})
		require.NoError(t, err)
		client.AssertExpectations(t)
	})

	t.Run("有附件使用原始MIME", func(t *testing.T) {
		client := new(mockSESClient)
		client.On("SendEmail", ctx, mock.MatchedBy(func(in *sesv2.SendEmailInput) bool {
			return in.Content.Raw != nil && len(in.Content.Raw.Data) > 0 && in.Content.Simple == nil
		})).Return(&sesv2.SendEmailOutput{}, nil)

		p := NewSESProviderWithClient(client)
		err := p.Deliver(ctx, &Envelope{
			From: "timecapsule@example.com", To: "future@example.com", Subject: "Files", HTML: "x",
			Attachments: []Attachment{{Filename: "a.txt", ContentType: "text/plain", Content: []byte("a")}},
		})
		require.NoError(t, err)
		client.AssertExpectations(t)
	})

	t.Run("API错误", func(t *testing.T) {
		client := new(mockSESClient)
		client.On("SendEmail", ctx, mock.Anything).Return(nil, errors.New("throttled"))

		p := NewSESProviderWithClient(client)
		err := p.Deliver(ctx, &Envelope{To: "a@example.com"})
		assert.ErrorContains(t, err, "throttled")
	})
}
