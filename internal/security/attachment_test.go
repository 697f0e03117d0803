package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachmentPolicy_Check(t *testing.T) {
	policy := NewAttachmentPolicy()

	t.Run("危险扩展名", func(t *testing.T) {
		for _, name := range []string{"run.EXE", "script.ps1", "a.js"} {
			_, err := policy.Check(name, "application/octet-stream", []byte("hello"))
			assert.ErrorIs(t, err, ErrDangerousExtension, name)
		}
	})

	t.Run("可执行文件魔数", func(t *testing.T) {
		_, err := policy.Check("photo.jpg", "image/jpeg", []byte{0x4D, 0x5A, 0x90, 0x00})
		assert.ErrorIs(t, err, ErrExecutableContent)

		_, err = policy.Check("data", "", []byte{0x7F, 'E', 'L', 'F', 0x02})
		assert.ErrorIs(t, err, ErrExecutableContent)
	})

	t.Run("保留声明的类型", func(t *testing.T) {
		ct, err := policy.Check("doc.pdf", "application/pdf", []byte("%PDF-1.7"))
		require.NoError(t, err)
		assert.Equal(t, "application/pdf", ct)
	})

	t.Run("按扩展名推断类型", func(t *testing.T) {
		ct, err := policy.Check("image.png", "application/octet-stream", []byte("not really png"))
		require.NoError(t, err)
		assert.Equal(t, "image/png", ct)
	})

	t.Run("按内容推断类型", func(t *testing.T) {
		ct, err := policy.Check("noext", "", []byte("%PDF-1.4 body"))
		require.NoError(t, err)
		assert.Equal(t, "application/pdf", ct)
	})

	t.Run("非法的MIME类型", func(t *testing.T) {
		_, err := policy.Check("a.txt", "not a type/", []byte("x"))
		assert.ErrorIs(t, err, ErrInvalidContentType)
	})
}
