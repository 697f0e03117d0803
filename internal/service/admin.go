package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"timecapsule/backend/internal/auth"
	"timecapsule/backend/internal/domain"
	"timecapsule/backend/internal/storage"
)

var (
	// ErrUnauthorized 未授权访问
	ErrUnauthorized = errors.New("unauthorized access")
	// ErrInsufficientPermission 权限不足
	ErrInsufficientPermission = errors.New("insufficient permissions")
	// ErrAdminUserNotFound 用户不存在
	ErrAdminUserNotFound = errors.New("user not found")
	// ErrCannotModifySelf 不能修改自己
	ErrCannotModifySelf = errors.New("cannot modify self")
	// ErrCannotModifySuper 不能修改超级管理员
	ErrCannotModifySuper = errors.New("cannot modify super admin")
	// ErrInvalidRole 角色取值非法
	ErrInvalidRole = errors.New("invalid role")
)

// AdminService 管理服务
type AdminService struct {
	users storage.UserRepository
	log   *zap.Logger
	now   func() time.Time
}

// NewAdminService 创建管理服务
func NewAdminService(users storage.UserRepository, log *zap.Logger) *AdminService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminService{
		users: users,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// ListUsersInput 列出用户的输入参数
type ListUsersInput struct {
	Page     int
	PageSize int
}

// ListUsersOutput 列出用户的输出结果
type ListUsersOutput struct {
	Users      []domain.User `json:"users"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"pageSize"`
	TotalPages int           `json:"totalPages"`
}

// ListUsers 列出所有用户（需要管理员权限）
func (s *AdminService) ListUsers(input ListUsersInput) (*ListUsersOutput, error) {
	// 设置默认分页
	if input.Page <= 0 {
		input.Page = 1
	}
	if input.PageSize <= 0 {
		input.PageSize = 20
	}
	if input.PageSize > 100 {
		input.PageSize = 100
	}

	users, total, err := s.users.ListUsers((input.Page-1)*input.PageSize, input.PageSize)
	if err != nil {
		return nil, err
	}

	return &ListUsersOutput{
		Users:      users,
		Total:      total,
		Page:       input.Page,
		PageSize:   input.PageSize,
		TotalPages: (total + input.PageSize - 1) / input.PageSize,
	}, nil
}

// GetUser 获取用户详情（需要管理员权限）
func (s *AdminService) GetUser(userID string) (*domain.User, error) {
	user, err := s.users.GetUserByID(userID)
	if err != nil {
		return nil, ErrAdminUserNotFound
	}
	return user, nil
}

// UpdateUserInput 更新用户的输入参数
type UpdateUserInput struct {
	UserID     string
	Role       *domain.UserRole
	IsActive   *bool
	IsVerified *bool
	OperatorID string // 操作者ID
}

// UpdateUser 更新用户信息（需要管理员权限）
func (s *AdminService) UpdateUser(input UpdateUserInput) (*domain.User, error) {
	if input.UserID == input.OperatorID {
		return nil, ErrCannotModifySelf
	}

	user, err := s.users.GetUserByID(input.UserID)
	if err != nil {
		return nil, ErrAdminUserNotFound
	}

	operator, err := s.users.GetUserByID(input.OperatorID)
	if err != nil || !operator.IsAdmin() {
		return nil, ErrUnauthorized
	}

	// 不能修改超级管理员（除非自己也是超级管理员）
	if user.IsSuper() && !operator.IsSuper() {
		return nil, ErrCannotModifySuper
	}

	if input.Role != nil {
		// 只有超级管理员才能设置角色
		if !operator.IsSuper() {
			return nil, ErrInsufficientPermission
		}
		if !input.Role.Valid() {
			return nil, ErrInvalidRole
		}
		user.Role = *input.Role
	}
	if input.IsActive != nil {
		user.IsActive = *input.IsActive
	}
	if input.IsVerified != nil {
		user.IsVerified = *input.IsVerified
	}
	user.UpdatedAt = s.now()

	if err := s.users.UpdateUser(user); err != nil {
		return nil, err
	}

	s.log.Info("user updated by admin",
		zap.String("user_id", user.ID),
		zap.String("operator_id", operator.ID),
		zap.String("role", string(user.Role)),
		zap.Bool("active", user.IsActive),
	)
	return user, nil
}

// EnsureAdminInput 创建或提升管理员的输入参数
type EnsureAdminInput struct {
	Email    string
	Name     string
	Password string
	Role     domain.UserRole
}

// EnsureAdmin 创建管理员账号；邮箱已注册时提升其角色并重置密码。
//
// 返回的 bool 表示是否新建了用户。
func (s *AdminService) EnsureAdmin(input EnsureAdminInput) (*domain.User, bool, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if !domain.ValidateEmail(email) {
		return nil, false, auth.ErrInvalidEmail
	}
	if input.Role == "" {
		input.Role = domain.RoleAdmin
	}
	if input.Role != domain.RoleAdmin && input.Role != domain.RoleSuper {
		return nil, false, ErrInvalidRole
	}
	name := strings.TrimSpace(input.Name)
	if err := domain.ValidateName(name); err != nil {
		return nil, false, err
	}
	if err := auth.ValidatePassword(input.Password, email, name); err != nil {
		return nil, false, err
	}

	hashedPassword, err := auth.HashPassword(input.Password)
	if err != nil {
		return nil, false, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	if existing, err := s.users.GetUserByEmail(email); err == nil {
		existing.Role = input.Role
		existing.PasswordHash = hashedPassword
		existing.IsActive = true
		existing.IsVerified = true
		if name != "" {
			existing.Name = name
		}
		existing.UpdatedAt = now
		if err := s.users.UpdateUser(existing); err != nil {
			return nil, false, err
		}
		s.log.Info("existing user promoted to admin", zap.String("user_id", existing.ID), zap.String("role", string(existing.Role)))
		return existing, false, nil
	} else if !errors.Is(err, storage.ErrUserNotFound) {
		return nil, false, err
	}

	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hashedPassword,
		Role:         input.Role,
		IsActive:     true,
		IsVerified:   true, // 管理员默认邮箱已验证
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(user); err != nil {
		return nil, false, err
	}

	s.log.Info("admin user created", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	return user, true, nil
}
