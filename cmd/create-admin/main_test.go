package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"timecapsule/backend/internal/domain"
	"timecapsule/backend/internal/storage/memory"
)

func TestCreateAdmin(t *testing.T) {
	store := memory.NewStore()
	log := zap.NewNop()

	t.Run("创建管理员", func(t *testing.T) {
		err := createAdmin(store, log, "root@example.com", "Root", "correct-horse-battery-staple", domain.RoleSuper)
		require.NoError(t, err)

		user, err := store.GetUserByEmail("root@example.com")
		require.NoError(t, err)
		assert.Equal(t, domain.RoleSuper, user.Role)
		assert.True(t, user.IsVerified)
	})

	t.Run("无效角色", func(t *testing.T) {
		err := createAdmin(store, log, "other@example.com", "Other", "correct-horse-battery-staple", domain.UserRole("owner"))
		assert.Error(t, err)
	})
}
