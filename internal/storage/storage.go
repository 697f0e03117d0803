package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"timecapsule/backend/internal/domain"
)

var (
	// ErrUserNotFound 用户未找到错误
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailExists 邮箱已被注册
	ErrEmailExists = errors.New("email already exists")
	// ErrMessageNotFound 信件未找到错误
	ErrMessageNotFound = errors.New("message not found")
	// ErrTokenNotFound 验证令牌未找到错误
	ErrTokenNotFound = errors.New("verification token not found")
	// ErrBlobNotFound 附件文件不存在
	ErrBlobNotFound = errors.New("blob not found")
	// ErrInvalidBlobKey 附件键非法（例如试图越出存储目录）
	ErrInvalidBlobKey = errors.New("invalid blob key")
)

// UserRepository 定义用户数据存取操作。
type UserRepository interface {
	CreateUser(user *domain.User) error
	GetUserByID(id string) (*domain.User, error)
	GetUserByEmail(email string) (*domain.User, error)
	UpdateUser(user *domain.User) error
	UpdateLastLogin(userID string) error
	// ListUsers 按注册时间倒序分页列出用户，同时返回总数
	ListUsers(offset, limit int) ([]domain.User, int, error)
}

// MessageRepository 定义信件及附件的数据存取操作。
//
// 所有按用户查询的方法只返回该用户拥有的信件。
type MessageRepository interface {
	SaveMessage(message *domain.Message) error
	SaveAttachment(attachment *domain.Attachment) error
	GetMessage(userID, messageID string) (*domain.Message, error)
	ListMessagesByUser(userID string, offset, limit int) ([]domain.Message, error)
	// DeleteMessage 删除信件及其附件记录（附件文件由调用方清理）
	DeleteMessage(userID, messageID string) error

	// ListDueMessages 返回 scheduled_date <= now、未发送且未被占用（或占用已过期）的信件，附带附件
	ListDueMessages(now time.Time) ([]domain.Message, error)
	// ClaimMessage 原子地占用一封待发信件直到 until，返回是否由本次调用占用成功
	ClaimMessage(messageID string, now, until time.Time) (bool, error)
	// MarkMessageSent 将信件标记为已发送并释放占用，已发送的信件不会被修改
	MarkMessageSent(messageID string, sentAt time.Time) error
	// ReleaseMessage 释放占用，使信件在下次扫描时可被重新选中
	ReleaseMessage(messageID string) error
}

// VerificationTokenRepository 定义邮箱验证令牌的数据存取操作。
type VerificationTokenRepository interface {
	SaveVerificationToken(token *domain.VerificationToken) error
	GetVerificationToken(token string) (*domain.VerificationToken, error)
	DeleteVerificationToken(id string) error
	DeleteExpiredVerificationTokens(before time.Time) (int, error) // 返回删除数量
}

// Store 定义完整的存储接口。
type Store interface {
	UserRepository
	MessageRepository
	VerificationTokenRepository

	// 工具方法
	Close() error
	Health() error
}

// BlobStore 定义附件文件的存取操作。
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error)
	// Open 打开附件文件，文件不存在时返回 ErrBlobNotFound
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Remove 删除附件文件，文件不存在时返回 ErrBlobNotFound
	Remove(ctx context.Context, key string) error
}

// Locker 定义跨调用的互斥锁，用于避免投递扫描重叠执行。
type Locker interface {
	// TryLock 尝试获取锁，ok 为 false 表示锁已被他人持有
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}
