package mailer

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMIME(t *testing.T) {
	env := &Envelope{
		From:     "timecapsule@example.com",
		FromName: "TimeCapsule",
		To:       "future@example.com",
		ToName:   "Future Me",
		Subject:  "你好, future",
		HTML:     "<p>" + strings.Repeat("long line ", 20) + "</p>",
		Attachments: []Attachment{
			{Filename: "notes.txt", ContentType: "text/plain", Content: []byte("remember")},
			{Filename: "photo.png", ContentType: "image/png", Content: bytes.Repeat([]byte{0x89}, 200)},
		},
	}

	raw, err := buildMIME(env)
	require.NoError(t, err)

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)

	t.Run("头部", func(t *testing.T) {
		subject, err := mr.Header.Subject()
		require.NoError(t, err)
		assert.Equal(t, "你好, future", subject)

		to, err := mr.Header.AddressList("To")
		require.NoError(t, err)
		require.Len(t, to, 1)
		assert.Equal(t, "future@example.com", to[0].Address)
		assert.Equal(t, "Future Me", to[0].Name)

		id, err := mr.Header.MessageID()
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(id, "@example.com"))

		mediaType, _, err := mr.Header.ContentType()
		require.NoError(t, err)
		assert.Equal(t, "multipart/mixed", mediaType)
		assert.Equal(t, "1.0", mr.Header.Get("MIME-Version"))
	})

	t.Run("正文与附件", func(t *testing.T) {
		part, err := mr.NextPart()
		require.NoError(t, err)
		inline, ok := part.Header.(*mail.InlineHeader)
		require.True(t, ok)
		mediaType, params, err := inline.ContentType()
		require.NoError(t, err)
		assert.Equal(t, "text/html", mediaType)
		assert.Equal(t, "UTF-8", params["charset"])
		body, err := io.ReadAll(part.Body)
		require.NoError(t, err)
		assert.Equal(t, env.HTML, string(body))

		for _, want := range env.Attachments {
			part, err := mr.NextPart()
			require.NoError(t, err)
			ah, ok := part.Header.(*mail.AttachmentHeader)
			require.True(t, ok)

			filename, err := ah.Filename()
			require.NoError(t, err)
			assert.Equal(t, want.Filename, filename)
			mediaType, _, err := ah.ContentType()
			require.NoError(t, err)
			assert.Equal(t, want.ContentType, mediaType)

			data, err := io.ReadAll(part.Body)
			require.NoError(t, err)
			assert.Equal(t, want.Content, data)
		}

		_, err = mr.NextPart()
		assert.Equal(t, io.EOF, err)
	})

	t.Run("base64行长不超过76", func(t *testing.T) {
		for _, line := range strings.Split(string(raw), "\r\n") {
			assert.LessOrEqual(t, len(line), 998)
		}
		idx := bytes.Index(raw, []byte("filename=photo.png"))
		require.Positive(t, idx)
		section := raw[idx:]
		start := bytes.Index(section, []byte("\r\n\r\n")) + 4
		end := bytes.Index(section[start:], []byte("\r\n--"))
		require.Positive(t, end)
		for _, line := range strings.Split(string(section[start:start+end]), "\r\n") {
			assert.LessOrEqual(t, len(line), 76)
		}
	})
}
