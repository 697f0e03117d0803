package migrations

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFS(t *testing.T) {
	t.Run("支持的数据库类型", func(t *testing.T) {
		for dbType, dialect := range map[string]string{"postgres": "postgres", "PostgreSQL": "postgres", "mysql": "mysql"} {
			dir, got, err := FS(dbType)
			require.NoError(t, err, dbType)
			assert.Equal(t, dialect, got)

			names, err := fs.Glob(dir, "*.sql")
			require.NoError(t, err)
			require.NotEmpty(t, names, dbType)

			content, err := fs.ReadFile(dir, names[0])
			require.NoError(t, err)
			assert.Contains(t, string(content), "-- +goose Up")
			assert.Contains(t, string(content), "-- +goose Down")
			assert.Contains(t, string(content), "verification_tokens")
		}
	})

	t.Run("不支持的数据库类型", func(t *testing.T) {
		_, _, err := FS("sqlite")
		assert.Error(t, err)
	})
}
