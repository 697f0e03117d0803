package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"timecapsule/backend/internal/auth"
	"timecapsule/backend/internal/domain"
	"timecapsule/backend/internal/middleware"
)

// AuthHandler 处理认证相关的 HTTP 请求
type AuthHandler struct {
	authService *auth.Service // 认证业务服务
	log         *zap.Logger   // 结构化日志记录器
}

// NewAuthHandler 创建新的认证处理器实例
//
// 参数:
//   - authService: 认证业务服务
//   - log: 日志记录器
//
// 返回值:
//   - *AuthHandler: 认证处理器实例
func NewAuthHandler(authService *auth.Service, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{
		authService: authService,
		log:         log,
	}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// tokenResponse OAuth2 密码模式的令牌响应
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
}

type userResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name,omitempty"`
	Role       string `json:"role"`
	IsActive   bool   `json:"isActive"`
	IsVerified bool   `json:"isVerified"`
}

type authResponse struct {
	User         userResponse `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	TokenType    string       `json:"tokenType"`
	ExpiresIn    int64        `json:"expiresIn"`
}

func toUserResponse(user *domain.User) userResponse {
	return userResponse{
		ID:         user.ID,
		Email:      user.Email,
		Name:       user.Name,
		Role:       string(user.Role),
		IsActive:   user.IsActive,
		IsVerified: user.IsVerified,
	}
}

func toAuthResponse(resp *auth.AuthResponse) authResponse {
	return authResponse{
		User:         toUserResponse(resp.User),
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		ExpiresIn:    resp.ExpiresIn,
	}
}

// Register 处理用户注册请求
// @Summary 用户注册
// @Description 创建未验证的用户账户并发送验证邮件
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body registerRequest true "注册信息"
// @Success 201 {object} userResponse "注册成功"
// @Failure 400 {object} Response "请求参数错误"
// @Failure 409 {object} Response "邮箱已存在"
// @Failure 500 {object} Response "服务器内部错误"
// @Router /v1/auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	user, err := h.authService.Register(c.Request.Context(), auth.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		respondError(c, h.log, err, MsgRegisterFailed)
		return
	}

	h.log.Info("user registered",
		zap.String("user_id", user.ID),
		zap.String("email", user.Email),
	)

	CreatedWithMsg(c, "注册成功，请查收验证邮件", toUserResponse(user))
}

// VerifyEmail 处理邮箱验证链接
// @Summary 验证邮箱
// @Description 使用邮件中的一次性令牌确认邮箱
// @Tags 认证
// @Produce json
// @Param token query string true "验证令牌"
// @Success 200 {object} Response "验证成功"
// @Failure 400 {object} Response "令牌无效或已过期"
// @Router /v1/auth/verify [get]
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		BadRequest(c, GetErrorMessage(auth.ErrInvalidVerificationToken))
		return
	}

	if err := h.authService.VerifyEmail(token); err != nil {
		respondError(c, h.log, err, MsgVerifyFailed)
		return
	}

	SuccessWithMsg(c, MsgVerifyEmailPassed, nil)
}

// Login 处理用户登录请求
// @Summary 用户登录
// @Description 使用邮箱和密码进行身份验证，成功后返回认证令牌
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body loginRequest true "登录凭证"
// @Success 200 {object} authResponse "登录成功"
// @Failure 400 {object} Response "请求参数错误"
// @Failure 401 {object} Response "邮箱或密码错误"
// @Failure 403 {object} Response "账户已被禁用"
// @Router /v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	resp, err := h.authService.Login(req.Email, req.Password)
	if err != nil {
		respondError(c, h.log, err, MsgLoginFailed)
		return
	}

	h.log.Info("user logged in", zap.String("user_id", resp.User.ID))
	Success(c, toAuthResponse(resp))
}

// Token OAuth2 密码模式登录
// @Summary 获取访问令牌
// @Description 以表单提交 username（邮箱）和 password，返回 OAuth2 格式的令牌
// @Tags 认证
// @Accept x-www-form-urlencoded
// @Produce json
// @Param username formData string true "邮箱"
// @Param password formData string true "密码"
// @Success 200 {object} tokenResponse
// @Failure 401 {object} Response "邮箱或密码错误"
// @Router /v1/auth/token [post]
func (h *AuthHandler) Token(c *gin.Context) {
	username := c.PostForm("username")
	password := c.PostForm("password")
	if username == "" || password == "" {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	resp, err := h.authService.Login(username, password)
	if err != nil {
		if status, msg, ok := lookupError(err); ok && status == http.StatusUnauthorized {
			c.Header("WWW-Authenticate", "Bearer")
			Unauthorized(c, msg)
			return
		}
		respondError(c, h.log, err, MsgLoginFailed)
		return
	}

	c.JSON(http.StatusOK, tokenResponse{
		AccessToken:  resp.AccessToken,
		TokenType:    "bearer",
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
	})
}

// Refresh 刷新访问令牌
// @Summary 刷新令牌
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body refreshRequest true "刷新令牌"
// @Success 200 {object} authResponse
// @Failure 401 {object} Response "令牌无效"
// @Router /v1/auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	resp, err := h.authService.Refresh(req.RefreshToken)
	if err != nil {
		respondError(c, h.log, err, MsgRefreshFailed)
		return
	}
	Success(c, toAuthResponse(resp))
}

// Me 获取当前登录用户
// @Summary 当前用户
// @Tags 认证
// @Produce json
// @Security BearerAuth
// @Success 200 {object} userResponse
// @Failure 401 {object} Response
// @Router /v1/auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}
	Success(c, toUserResponse(user))
}
