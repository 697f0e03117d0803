package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"timecapsule/backend/internal/auth/jwt"
	"timecapsule/backend/internal/domain"
	"timecapsule/backend/internal/mailer"
	"timecapsule/backend/internal/monitoring"
	"timecapsule/backend/internal/storage"
)

var (
	// ErrInvalidEmail 无效的邮箱格式
	ErrInvalidEmail = errors.New("invalid email format")
	// ErrEmailExists 邮箱已存在
	ErrEmailExists = errors.New("email already registered")
	// ErrUserNotFound 用户不存在
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials 凭证无效
	ErrInvalidCredentials = errors.New("incorrect email or password")
	// ErrUserInactive 用户已被禁用
	ErrUserInactive = errors.New("user is inactive")
	// ErrInvalidVerificationToken 验证令牌不存在
	ErrInvalidVerificationToken = errors.New("invalid verification token")
	// ErrVerificationTokenExpired 验证令牌已过期
	ErrVerificationTokenExpired = errors.New("verification token has expired")
)

// Options 认证服务选项
type Options struct {
	AppName  string
	BaseURL  string        // 验证链接的站点地址
	TokenTTL time.Duration // 邮箱验证令牌有效期
}

// Service 认证服务：注册、邮箱验证、登录与令牌刷新
type Service struct {
	users   storage.UserRepository
	tokens  storage.VerificationTokenRepository
	jwt     *jwt.Manager
	sender  mailer.Sender
	metrics *monitoring.Metrics
	opts    Options
	log     *zap.Logger
	now     func() time.Time
}

// NewService 创建认证服务
func NewService(users storage.UserRepository, tokens storage.VerificationTokenRepository, jwtManager *jwt.Manager, sender mailer.Sender, opts Options, log *zap.Logger) *Service {
	if opts.AppName == "" {
		opts.AppName = "TimeCapsule"
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if log == nil {
		log = zap.NewNop()
	}

	return &Service{
		users:  users,
		tokens: tokens,
		jwt:    jwtManager,
		sender: sender,
		opts:   opts,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetMetrics 设置监控指标
func (s *Service) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

// RegisterInput 注册输入
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// Register 用户注册，创建未验证的用户并发送验证邮件
//
// 验证邮件发送失败不影响注册结果。
func (s *Service) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if !domain.ValidateEmail(email) {
		return nil, ErrInvalidEmail
	}
	name := strings.TrimSpace(input.Name)
	if err := domain.ValidateName(name); err != nil {
		return nil, err
	}
	if err := ValidatePassword(input.Password, email, name); err != nil {
		return nil, err
	}

	if _, err := s.users.GetUserByEmail(email); err == nil {
		return nil, ErrEmailExists
	}

	passwordHash, err := HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		Role:         domain.RoleUser,
		IsActive:     true,
		IsVerified:   false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.CreateUser(user); err != nil {
		if errors.Is(err, storage.ErrEmailExists) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	token, err := newVerificationToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate verification token: %w", err)
	}
	vt := &domain.VerificationToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Token:     token,
		ExpiresAt: now.Add(s.opts.TokenTTL),
		CreatedAt: now,
	}
	if err := s.tokens.SaveVerificationToken(vt); err != nil {
		return nil, fmt.Errorf("failed to save verification token: %w", err)
	}

	s.log.Info("user registered", zap.String("user_id", user.ID))
	if s.metrics != nil {
		s.metrics.RecordUserRegistered()
	}

	s.sendVerification(ctx, user, token)
	return user, nil
}

// VerificationURL 返回令牌对应的验证链接
func (s *Service) VerificationURL(token string) string {
	return s.opts.BaseURL + "/v1/auth/verify?token=" + url.QueryEscape(token)
}

func (s *Service) sendVerification(ctx context.Context, user *domain.User, token string) {
	if s.sender == nil {
		return
	}

	html, err := mailer.RenderVerificationHTML(s.opts.AppName, s.VerificationURL(token), s.opts.TokenTTL)
	if err != nil {
		s.log.Error("failed to render verification email", zap.Error(err))
		return
	}

	ok := s.sender.Send(ctx, mailer.Email{
		To:      user.Email,
		ToName:  user.Name,
		Subject: "Verify your " + s.opts.AppName + " account",
		HTML:    html,
	})
	if s.metrics != nil {
		s.metrics.RecordEmail("verification", ok)
	}
	if !ok {
		s.log.Warn("failed to send verification email", zap.String("user_id", user.ID))
	}
}

// VerifyEmail 使用验证令牌确认邮箱，令牌只能使用一次
func (s *Service) VerifyEmail(token string) error {
	vt, err := s.tokens.GetVerificationToken(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return ErrInvalidVerificationToken
		}
		return err
	}

	if vt.IsExpired(s.now()) {
		if err := s.tokens.DeleteVerificationToken(vt.ID); err != nil && !errors.Is(err, storage.ErrTokenNotFound) {
			s.log.Warn("failed to delete expired verification token", zap.Error(err))
		}
		return ErrVerificationTokenExpired
	}

	user, err := s.users.GetUserByID(vt.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return ErrInvalidVerificationToken
		}
		return err
	}

	user.IsVerified = true
	user.UpdatedAt = s.now()
	if err := s.users.UpdateUser(user); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	if err := s.tokens.DeleteVerificationToken(vt.ID); err != nil && !errors.Is(err, storage.ErrTokenNotFound) {
		return err
	}

	s.log.Info("email verified", zap.String("user_id", user.ID))
	return nil
}

// PurgeExpiredTokens 删除过期的验证令牌
func (s *Service) PurgeExpiredTokens(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := s.tokens.DeleteExpiredVerificationTokens(s.now())
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Info("expired verification tokens purged", zap.Int("count", n))
	}
	return nil
}

// Login 用户登录，返回令牌对
func (s *Service) Login(email, password string) (*AuthResponse, error) {
	user, err := s.users.GetUserByEmail(strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	// 先校验密码，避免泄露账号状态
	if !CheckPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	if err := s.users.UpdateLastLogin(user.ID); err != nil {
		s.log.Warn("failed to update last login", zap.String("user_id", user.ID), zap.Error(err))
	}

	return s.issueTokens(user)
}

// Refresh 使用刷新令牌换发新的令牌对
func (s *Service) Refresh(refreshToken string) (*AuthResponse, error) {
	claims, err := s.jwt.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.activeUser(claims.UserID)
	if err != nil {
		return nil, err
	}
	return s.issueTokens(user)
}

// Authenticate 校验访问令牌并返回当前用户
func (s *Service) Authenticate(accessToken string) (*domain.User, error) {
	claims, err := s.jwt.ValidateAccessToken(accessToken)
	if err != nil {
		return nil, err
	}
	return s.activeUser(claims.UserID)
}

// Me 获取当前用户
func (s *Service) Me(userID string) (*domain.User, error) {
	return s.activeUser(userID)
}

func (s *Service) activeUser(userID string) (*domain.User, error) {
	user, err := s.users.GetUserByID(userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	return user, nil
}

// newVerificationToken 生成 32 字节随机数的 URL 安全编码
func newVerificationToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
