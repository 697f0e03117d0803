package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"timecapsule/backend/internal/domain"
	"timecapsule/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMessage(id, userID string, scheduled time.Time) *domain.Message {
	return &domain.Message{
		ID:             id,
		UserID:         userID,
		RecipientEmail: "future@example.com",
		Subject:        "Hello",
		Content:        "From the past",
		ScheduledDate:  scheduled,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestMemoryStore_UserOperations(t *testing.T) {
	store := NewStore()

	user := &domain.User{
		ID:           "user-1",
		Email:        "Alice@Example.com",
		Name:         "Alice",
		PasswordHash: "hash",
		Role:         domain.RoleUser,
		IsActive:     true,
	}
	require.NoError(t, store.CreateUser(user))

	t.Run("邮箱查找不区分大小写", func(t *testing.T) {
		got, err := store.GetUserByEmail("alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, "user-1", got.ID)
	})

	t.Run("重复邮箱被拒绝", func(t *testing.T) {
		err := store.CreateUser(&domain.User{ID: "user-2", Email: "alice@example.com"})
		assert.ErrorIs(t, err, storage.ErrEmailExists)
	})

	t.Run("更新用户", func(t *testing.T) {
		got, err := store.GetUserByID("user-1")
		require.NoError(t, err)
		got.IsVerified = true
		require.NoError(t, store.UpdateUser(got))

		got, err = store.GetUserByID("user-1")
		require.NoError(t, err)
		assert.True(t, got.IsVerified)
	})

	t.Run("更新最后登录时间", func(t *testing.T) {
		require.NoError(t, store.UpdateLastLogin("user-1"))
		got, err := store.GetUserByID("user-1")
		require.NoError(t, err)
		assert.NotNil(t, got.LastLoginAt)
	})

	t.Run("用户不存在", func(t *testing.T) {
		_, err := store.GetUserByID("missing")
		assert.ErrorIs(t, err, storage.ErrUserNotFound)
	})
}

func TestMemoryStore_MessageOperations(t *testing.T) {
	store := NewStore()
	now := time.Now().UTC()

	message := newTestMessage("msg-1", "user-1", now.Add(time.Hour))
	message.Attachments = []*domain.Attachment{{
		ID:        "att-1",
		MessageID: "msg-1",
		FilePath:  "a.pdf",
		FileType:  "application/pdf",
		CreatedAt: now,
	}}
	require.NoError(t, store.SaveMessage(message))
	require.NoError(t, store.SaveAttachment(&domain.Attachment{
		ID:        "att-2",
		MessageID: "msg-1",
		FilePath:  "b.png",
		FileType:  "image/png",
		CreatedAt: now.Add(time.Second),
	}))

	t.Run("获取信件包含附件", func(t *testing.T) {
		got, err := store.GetMessage("user-1", "msg-1")
		require.NoError(t, err)
		require.Len(t, got.Attachments, 2)
		assert.Equal(t, "att-1", got.Attachments[0].ID)
		assert.Equal(t, "att-2", got.Attachments[1].ID)
	})

	t.Run("其他用户不可见", func(t *testing.T) {
		_, err := store.GetMessage("user-2", "msg-1")
		assert.ErrorIs(t, err, storage.ErrMessageNotFound)

		err = store.DeleteMessage("user-2", "msg-1")
		assert.ErrorIs(t, err, storage.ErrMessageNotFound)
	})

	t.Run("附件所属信件必须存在", func(t *testing.T) {
		err := store.SaveAttachment(&domain.Attachment{ID: "att-x", MessageID: "missing"})
		assert.ErrorIs(t, err, storage.ErrMessageNotFound)
	})

	t.Run("分页列出", func(t *testing.T) {
		for i, id := range []string{"msg-2", "msg-3"} {
			m := newTestMessage(id, "user-1", now.Add(time.Hour))
			m.CreatedAt = now.Add(time.Duration(i+1) * time.Minute)
			require.NoError(t, store.SaveMessage(m))
		}

		all, err := store.ListMessagesByUser("user-1", 0, 100)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "msg-3", all[0].ID)

		page, err := store.ListMessagesByUser("user-1", 1, 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "msg-2", page[0].ID)

		empty, err := store.ListMessagesByUser("user-1", 10, 1)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("删除信件级联附件", func(t *testing.T) {
		require.NoError(t, store.DeleteMessage("user-1", "msg-1"))
		_, err := store.GetMessage("user-1", "msg-1")
		assert.ErrorIs(t, err, storage.ErrMessageNotFound)

		due, err := store.ListDueMessages(now.Add(2 * time.Hour))
		require.NoError(t, err)
		for _, m := range due {
			assert.NotEqual(t, "msg-1", m.ID)
		}
	})
}

func TestMemoryStore_DueAndClaim(t *testing.T) {
	store := NewStore()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveMessage(newTestMessage("due", "u", now.Add(-time.Minute))))
	require.NoError(t, store.SaveMessage(newTestMessage("future", "u", now.Add(time.Hour))))

	due, err := store.ListDueMessages(now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "due", due[0].ID)

	t.Run("占用后不再被选中", func(t *testing.T) {
		ok, err := store.ClaimMessage("due", now, now.Add(15*time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.ClaimMessage("due", now, now.Add(15*time.Minute))
		require.NoError(t, err)
		assert.False(t, ok)

		due, err := store.ListDueMessages(now)
		require.NoError(t, err)
		assert.Empty(t, due)
	})

	t.Run("占用过期后可再次选中", func(t *testing.T) {
		later := now.Add(20 * time.Minute)
		due, err := store.ListDueMessages(later)
		require.NoError(t, err)
		require.Len(t, due, 1)
	})

	t.Run("释放后可再次占用", func(t *testing.T) {
		require.NoError(t, store.ReleaseMessage("due"))
		ok, err := store.ClaimMessage("due", now, now.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("已发送的信件保持已发送", func(t *testing.T) {
		sentAt := now.Add(time.Second)
		require.NoError(t, store.MarkMessageSent("due", sentAt))
		require.NoError(t, store.MarkMessageSent("due", now.Add(time.Hour)))

		got, err := store.GetMessage("u", "due")
		require.NoError(t, err)
		assert.True(t, got.IsSent)
		assert.Nil(t, got.ClaimedUntil)
		require.NotNil(t, got.SentAt)
		assert.True(t, got.SentAt.Equal(sentAt))

		ok, err := store.ClaimMessage("due", now.Add(time.Hour), now.Add(2*time.Hour))
		require.NoError(t, err)
		assert.False(t, ok)

		due, err := store.ListDueMessages(now.Add(24 * time.Hour))
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "future", due[0].ID)
	})
}

func TestMemoryStore_ConcurrentClaim(t *testing.T) {
	store := NewStore()
	now := time.Now().UTC()
	require.NoError(t, store.SaveMessage(newTestMessage("race", "u", now.Add(-time.Second))))

	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.ClaimMessage("race", now, now.Add(time.Minute))
			if err == nil && ok {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners)
}

func TestMemoryStore_VerificationTokens(t *testing.T) {
	store := NewStore()
	now := time.Now().UTC()

	require.NoError(t, store.SaveVerificationToken(&domain.VerificationToken{
		ID: "t1", UserID: "u", Token: "live", ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, store.SaveVerificationToken(&domain.VerificationToken{
		ID: "t2", UserID: "u", Token: "stale", ExpiresAt: now.Add(-time.Hour),
	}))

	got, err := store.GetVerificationToken("live")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)

	count, err := store.DeleteExpiredVerificationTokens(now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = store.GetVerificationToken("stale")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)

	require.NoError(t, store.DeleteVerificationToken("t1"))
	assert.ErrorIs(t, store.DeleteVerificationToken("t1"), storage.ErrTokenNotFound)
}

func TestLocker(t *testing.T) {
	locker := NewLocker()
	ctx := context.Background()

	release, ok, err := locker.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	release()

	release2, ok, err := locker.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	release2()

	t.Run("过期的锁可被重新获取", func(t *testing.T) {
		_, ok, err := locker.TryLock(ctx, "short", time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)

		time.Sleep(5 * time.Millisecond)
		_, ok, err = locker.TryLock(ctx, "short", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
