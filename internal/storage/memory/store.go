package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"timecapsule/backend/internal/domain"
	"timecapsule/backend/internal/storage"
)

// Store 使用内存保存用户、信件与验证令牌，主要用于开发验证和测试。
type Store struct {
	mu          sync.RWMutex
	users       map[string]*domain.User                  // userID -> user
	byEmail     map[string]string                        // email -> userID
	messages    map[string]*domain.Message               // messageID -> message（不含附件）
	attachments map[string]map[string]*domain.Attachment // messageID -> attachmentID -> attachment
	tokens      map[string]*domain.VerificationToken     // tokenID -> token
	byToken     map[string]string                        // token -> tokenID
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		users:       make(map[string]*domain.User),
		byEmail:     make(map[string]string),
		messages:    make(map[string]*domain.Message),
		attachments: make(map[string]map[string]*domain.Attachment),
		tokens:      make(map[string]*domain.VerificationToken),
		byToken:     make(map[string]string),
	}
}

// ========== User Repository ==========

// CreateUser 创建用户，邮箱重复时返回 storage.ErrEmailExists
func (s *Store) CreateUser(user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(user.Email)
	if _, exists := s.byEmail[email]; exists {
		return storage.ErrEmailExists
	}

	clone := *user
	s.users[user.ID] = &clone
	s.byEmail[email] = user.ID
	return nil
}

// GetUserByID 根据 ID 获取用户
func (s *Store) GetUserByID(id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

// GetUserByEmail 根据邮箱获取用户（不区分大小写）
func (s *Store) GetUserByEmail(email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	clone := *s.users[id]
	return &clone, nil
}

// UpdateUser 更新用户信息
func (s *Store) UpdateUser(user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.ID]
	if !ok {
		return storage.ErrUserNotFound
	}

	newEmail := strings.ToLower(user.Email)
	oldEmail := strings.ToLower(existing.Email)
	if newEmail != oldEmail {
		if _, taken := s.byEmail[newEmail]; taken {
			return storage.ErrEmailExists
		}
		delete(s.byEmail, oldEmail)
		s.byEmail[newEmail] = user.ID
	}

	clone := *user
	clone.UpdatedAt = time.Now().UTC()
	s.users[user.ID] = &clone
	return nil
}

// UpdateLastLogin 更新最后登录时间
func (s *Store) UpdateLastLogin(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	now := time.Now().UTC()
	user.LastLoginAt = &now
	return nil
}

// ListUsers 按注册时间倒序分页列出用户
func (s *Store) ListUsers(offset, limit int) ([]domain.User, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]domain.User, 0, len(s.users))
	for _, user := range s.users {
		all = append(all, *user)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return []domain.User{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

// ========== Message Repository ==========

// SaveMessage 保存信件，同时保存随信件携带的附件
func (s *Store) SaveMessage(message *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *message
	clone.Attachments = nil
	s.messages[message.ID] = &clone

	for _, att := range message.Attachments {
		s.saveAttachmentLocked(att)
	}
	return nil
}

// SaveAttachment 保存附件记录，所属信件必须存在
func (s *Store) SaveAttachment(attachment *domain.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[attachment.MessageID]; !ok {
		return storage.ErrMessageNotFound
	}
	s.saveAttachmentLocked(attachment)
	return nil
}

func (s *Store) saveAttachmentLocked(attachment *domain.Attachment) {
	byID, ok := s.attachments[attachment.MessageID]
	if !ok {
		byID = make(map[string]*domain.Attachment)
		s.attachments[attachment.MessageID] = byID
	}
	clone := *attachment
	byID[attachment.ID] = &clone
}

// GetMessage 获取用户的一封信件（含附件）
func (s *Store) GetMessage(userID, messageID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	message, ok := s.messages[messageID]
	if !ok || message.UserID != userID {
		return nil, storage.ErrMessageNotFound
	}
	out := s.snapshotLocked(message)
	return &out, nil
}

// ListMessagesByUser 按创建时间倒序分页列出用户的信件
func (s *Store) ListMessagesByUser(userID string, offset, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Message, 0)
	for _, message := range s.messages {
		if message.UserID == userID {
			result = append(result, s.snapshotLocked(message))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return paginate(result, offset, limit), nil
}

// DeleteMessage 删除信件及其附件记录
func (s *Store) DeleteMessage(userID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	message, ok := s.messages[messageID]
	if !ok || message.UserID != userID {
		return storage.ErrMessageNotFound
	}
	delete(s.attachments, messageID)
	delete(s.messages, messageID)
	return nil
}

// ListDueMessages 返回到期且未被占用的信件，按预定时间升序
func (s *Store) ListDueMessages(now time.Time) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Message, 0)
	for _, message := range s.messages {
		if message.IsDue(now) && !message.IsClaimed(now) {
			result = append(result, s.snapshotLocked(message))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ScheduledDate.Before(result[j].ScheduledDate)
	})
	return result, nil
}

// ClaimMessage 原子地占用待发信件
func (s *Store) ClaimMessage(messageID string, now, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	message, ok := s.messages[messageID]
	if !ok {
		return false, storage.ErrMessageNotFound
	}
	if message.IsSent || message.IsClaimed(now) {
		return false, nil
	}
	claimed := until
	message.ClaimedUntil = &claimed
	return true, nil
}

// MarkMessageSent 标记信件已发送
func (s *Store) MarkMessageSent(messageID string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	message, ok := s.messages[messageID]
	if !ok {
		return storage.ErrMessageNotFound
	}
	if message.IsSent {
		return nil
	}
	at := sentAt
	message.IsSent = true
	message.SentAt = &at
	message.ClaimedUntil = nil
	return nil
}

// ReleaseMessage 释放信件占用
func (s *Store) ReleaseMessage(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	message, ok := s.messages[messageID]
	if !ok {
		return storage.ErrMessageNotFound
	}
	message.ClaimedUntil = nil
	return nil
}

// snapshotLocked 返回信件及其附件的副本，调用方需持有读锁
func (s *Store) snapshotLocked(message *domain.Message) domain.Message {
	out := *message
	if message.ClaimedUntil != nil {
		claimed := *message.ClaimedUntil
		out.ClaimedUntil = &claimed
	}
	if message.SentAt != nil {
		sent := *message.SentAt
		out.SentAt = &sent
	}

	byID := s.attachments[message.ID]
	out.Attachments = make([]*domain.Attachment, 0, len(byID))
	for _, att := range byID {
		clone := *att
		out.Attachments = append(out.Attachments, &clone)
	}
	sort.Slice(out.Attachments, func(i, j int) bool {
		return out.Attachments[i].CreatedAt.Before(out.Attachments[j].CreatedAt)
	})
	return out
}

// ========== Verification Token Repository ==========

// SaveVerificationToken 保存验证令牌
func (s *Store) SaveVerificationToken(token *domain.VerificationToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *token
	s.tokens[token.ID] = &clone
	s.byToken[token.Token] = token.ID
	return nil
}

// GetVerificationToken 根据令牌值获取验证令牌
func (s *Store) GetVerificationToken(token string) (*domain.VerificationToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byToken[token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	clone := *s.tokens[id]
	return &clone, nil
}

// DeleteVerificationToken 删除验证令牌
func (s *Store) DeleteVerificationToken(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[id]
	if !ok {
		return storage.ErrTokenNotFound
	}
	delete(s.byToken, token.Token)
	delete(s.tokens, id)
	return nil
}

// DeleteExpiredVerificationTokens 删除 before 之前过期的令牌
func (s *Store) DeleteExpiredVerificationTokens(before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, token := range s.tokens {
		if token.IsExpired(before) {
			delete(s.byToken, token.Token)
			delete(s.tokens, id)
			count++
		}
	}
	return count, nil
}

// ========== 工具方法 ==========

// Close 内存存储无需释放资源
func (s *Store) Close() error {
	return nil
}

// Health 内存存储始终可用
func (s *Store) Health() error {
	return nil
}

func paginate(items []domain.Message, offset, limit int) []domain.Message {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []domain.Message{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
