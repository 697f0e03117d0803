package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"timecapsule/backend/internal/config"
	"timecapsule/backend/internal/domain"
	"timecapsule/backend/internal/storage"
)

// Options 连接池与迁移选项
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool // 启动时自动迁移表结构
}

// Store 基于 GORM 的关系型数据库存储实现（PostgreSQL / MySQL）
type Store struct {
	db *gorm.DB
}

var _ storage.Store = (*Store)(nil)

// Open 根据数据库配置创建存储实例
func Open(cfg *config.DatabaseConfig) (*Store, error) {
	opts := Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		AutoMigrate:     cfg.AutoMigrate,
	}

	switch strings.ToLower(cfg.Type) {
	case "postgres", "postgresql":
		return NewStore(cfg.DSN, opts)
	case "mysql":
		return NewMySQLStore(cfg.DSN, opts)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

// ApplicationName 未在 DSN 中指定时上报给 PostgreSQL 的 application_name
const ApplicationName = "timecapsule"

// NewStore 创建 PostgreSQL 存储实例，连接由 pgx 建立
func NewStore(dsn string, opts Options) (*Store, error) {
	connConfig, err := parseConnConfig(dsn)
	if err != nil {
		return nil, err
	}

	sqlDB := stdlib.OpenDB(*connConfig)
	store, err := NewStoreWithDialector(postgres.New(postgres.Config{Conn: sqlDB}), opts)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return store, nil
}

// parseConnConfig 解析 DSN，会话时区默认 UTC 以配合 NowFunc
func parseConnConfig(dsn string) (*pgx.ConnConfig, error) {
	connConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}
	if _, ok := connConfig.RuntimeParams["timezone"]; !ok {
		connConfig.RuntimeParams["timezone"] = "UTC"
	}
	if _, ok := connConfig.RuntimeParams["application_name"]; !ok {
		connConfig.RuntimeParams["application_name"] = ApplicationName
	}
	return connConfig, nil
}

// NewMySQLStore 创建 MySQL 存储实例
func NewMySQLStore(dsn string, opts Options) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(dsn), opts)
}

// NewStoreWithDialector 使用指定的GORM dialector创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, opts Options) (*Store, error) {
	// 配置 GORM
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // 静默模式
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	// 连接数据库
	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 25
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 5
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = 5 * time.Minute
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)

	store := &Store{db: db}

	if opts.AutoMigrate {
		if err := store.migrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	return store, nil
}

// migrate 自动迁移数据库表结构
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.User{},
		&domain.Message{},
		&domain.Attachment{},
		&domain.VerificationToken{},
	)
}

// ========== User Repository ==========

// CreateUser 创建用户
func (s *Store) CreateUser(user *domain.User) error {
	user.Email = strings.ToLower(user.Email)

	// 检查邮箱是否已存在
	var existing domain.User
	err := s.db.Where("email = ?", user.Email).First(&existing).Error
	if err == nil {
		return storage.ErrEmailExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	return s.db.Create(user).Error
}

// GetUserByID 根据ID获取用户
func (s *Store) GetUserByID(id string) (*domain.User, error) {
	var user domain.User
	if err := s.db.Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetUserByEmail 根据邮箱获取用户
func (s *Store) GetUserByEmail(email string) (*domain.User, error) {
	var user domain.User
	if err := s.db.Where("email = ?", strings.ToLower(email)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UpdateUser 更新用户信息
func (s *Store) UpdateUser(user *domain.User) error {
	user.UpdatedAt = time.Now().UTC()
	res := s.db.Model(&domain.User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
		"email":         strings.ToLower(user.Email),
		"name":          user.Name,
		"password_hash": user.PasswordHash,
		"role":          user.Role,
		"is_active":     user.IsActive,
		"is_verified":   user.IsVerified,
		"updated_at":    user.UpdatedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrUserNotFound
	}
	return nil
}

// UpdateLastLogin 更新最后登录时间
func (s *Store) UpdateLastLogin(userID string) error {
	now := time.Now().UTC()
	return s.db.Model(&domain.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"last_login_at": now,
			"updated_at":    now,
		}).Error
}

// ListUsers 按注册时间倒序分页列出用户
func (s *Store) ListUsers(offset, limit int) ([]domain.User, int, error) {
	var total int64
	if err := s.db.Model(&domain.User{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var users []domain.User
	query := s.db.Order("created_at DESC").Offset(offset)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&users).Error; err != nil {
		return nil, 0, err
	}
	return users, int(total), nil
}

// ========== Message Repository ==========

// SaveMessage 保存信件，随信件携带的附件一并写入
func (s *Store) SaveMessage(message *domain.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	return s.db.Create(message).Error
}

// SaveAttachment 保存附件记录
func (s *Store) SaveAttachment(attachment *domain.Attachment) error {
	var count int64
	if err := s.db.Model(&domain.Message{}).Where("id = ?", attachment.MessageID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return storage.ErrMessageNotFound
	}
	if attachment.ID == "" {
		attachment.ID = uuid.New().String()
	}
	return s.db.Create(attachment).Error
}

// GetMessage 获取用户的一封信件（含附件）
func (s *Store) GetMessage(userID, messageID string) (*domain.Message, error) {
	var message domain.Message
	err := s.withAttachments().
		Where("id = ? AND user_id = ?", messageID, userID).
		First(&message).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMessageNotFound
		}
		return nil, err
	}
	return &message, nil
}

// ListMessagesByUser 按创建时间倒序分页列出用户的信件
func (s *Store) ListMessagesByUser(userID string, offset, limit int) ([]domain.Message, error) {
	var messages []domain.Message
	query := s.withAttachments().
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(offset)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

// DeleteMessage 在事务中删除信件及其附件记录
func (s *Store) DeleteMessage(userID, messageID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var message domain.Message
		err := tx.Select("id").Where("id = ? AND user_id = ?", messageID, userID).First(&message).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storage.ErrMessageNotFound
			}
			return err
		}

		if err := tx.Where("message_id = ?", messageID).Delete(&domain.Attachment{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", messageID).Delete(&domain.Message{}).Error
	})
}

// ListDueMessages 返回到期且未被占用的信件
func (s *Store) ListDueMessages(now time.Time) ([]domain.Message, error) {
	var messages []domain.Message
	err := s.withAttachments().
		Where("is_sent = ? AND scheduled_date <= ?", false, now).
		Where("claimed_until IS NULL OR claimed_until <= ?", now).
		Order("scheduled_date ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// ClaimMessage 使用条件更新原子地占用信件，只有一个调用方能更新成功
func (s *Store) ClaimMessage(messageID string, now, until time.Time) (bool, error) {
	res := s.db.Model(&domain.Message{}).
		Where("id = ? AND is_sent = ?", messageID, false).
		Where("claimed_until IS NULL OR claimed_until <= ?", now).
		Update("claimed_until", until)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkMessageSent 标记信件已发送，已发送的信件不会被修改
func (s *Store) MarkMessageSent(messageID string, sentAt time.Time) error {
	res := s.db.Model(&domain.Message{}).
		Where("id = ? AND is_sent = ?", messageID, false).
		Updates(map[string]interface{}{
			"is_sent":       true,
			"sent_at":       sentAt,
			"claimed_until": gorm.Expr("NULL"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.ensureMessageExists(messageID)
	}
	return nil
}

// ReleaseMessage 释放信件占用
func (s *Store) ReleaseMessage(messageID string) error {
	res := s.db.Model(&domain.Message{}).
		Where("id = ?", messageID).
		Update("claimed_until", gorm.Expr("NULL"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.ensureMessageExists(messageID)
	}
	return nil
}

func (s *Store) ensureMessageExists(messageID string) error {
	var count int64
	if err := s.db.Model(&domain.Message{}).Where("id = ?", messageID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return storage.ErrMessageNotFound
	}
	return nil
}

func (s *Store) withAttachments() *gorm.DB {
	return s.db.Preload("Attachments", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC")
	})
}

// ========== Verification Token Repository ==========

// SaveVerificationToken 保存验证令牌
func (s *Store) SaveVerificationToken(token *domain.VerificationToken) error {
	if token.ID == "" {
		token.ID = uuid.New().String()
	}
	return s.db.Create(token).Error
}

// GetVerificationToken 根据令牌值获取验证令牌
func (s *Store) GetVerificationToken(token string) (*domain.VerificationToken, error) {
	var vt domain.VerificationToken
	if err := s.db.Where("token = ?", token).First(&vt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, err
	}
	return &vt, nil
}

// DeleteVerificationToken 删除验证令牌
func (s *Store) DeleteVerificationToken(id string) error {
	res := s.db.Where("id = ?", id).Delete(&domain.VerificationToken{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrTokenNotFound
	}
	return nil
}

// DeleteExpiredVerificationTokens 删除过期令牌，返回删除数量
func (s *Store) DeleteExpiredVerificationTokens(before time.Time) (int, error) {
	res := s.db.Where("expires_at <= ?", before).Delete(&domain.VerificationToken{})
	return int(res.RowsAffected), res.Error
}

// ========== 工具方法 ==========

// Health 检查数据库连接
func (s *Store) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Ping(ctx)
}

// Ping 在 ctx 时限内探测数据库连接
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
