package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"timecapsule/backend/internal/auth"
	"timecapsule/backend/internal/auth/jwt"
	"timecapsule/backend/internal/domain"
	"timecapsule/backend/internal/scheduler"
	"timecapsule/backend/internal/service"
	"timecapsule/backend/internal/storage"
)

// errorMapping 业务错误到 HTTP 状态码和中文消息的映射
type errorMapping struct {
	err    error
	status int
	msg    string
}

// 按顺序匹配，使用 errors.Is 以支持被包装的错误
var errorMappings = []errorMapping{
	// 校验错误
	{domain.ErrInvalidEmail, http.StatusBadRequest, "邮箱格式无效"},
	{domain.ErrEmailTooLong, http.StatusBadRequest, "邮箱地址过长"},
	{domain.ErrNameTooLong, http.StatusBadRequest, "名称过长（最多100个字符）"},
	{domain.ErrSubjectRequired, http.StatusBadRequest, "主题不能为空"},
	{domain.ErrSubjectInvalid, http.StatusBadRequest, "主题过长或包含控制字符"},
	{domain.ErrContentRequired, http.StatusBadRequest, "正文不能为空"},
	{domain.ErrContentTooLong, http.StatusBadRequest, "正文过长"},
	{domain.ErrScheduleRequired, http.StatusBadRequest, "投递时间不能为空"},
	{domain.ErrScheduleInPast, http.StatusBadRequest, "Scheduled date must be in the future"},

	// 认证错误
	{auth.ErrInvalidEmail, http.StatusBadRequest, "邮箱格式无效"},
	{auth.ErrPasswordTooShort, http.StatusBadRequest, "密码至少需要8个字符"},
	{auth.ErrPasswordTooLong, http.StatusBadRequest, "密码最多72个字符"},
	{auth.ErrWeakPassword, http.StatusBadRequest, "密码强度不足"},
	{auth.ErrEmailExists, http.StatusConflict, "该邮箱已被注册"},
	{storage.ErrEmailExists, http.StatusConflict, "该邮箱已被注册"},
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, "邮箱或密码错误"},
	{auth.ErrUserInactive, http.StatusForbidden, "账户已被禁用"},
	{auth.ErrUserNotFound, http.StatusUnauthorized, "用户不存在"},
	{auth.ErrInvalidVerificationToken, http.StatusBadRequest, "验证链接无效"},
	{auth.ErrVerificationTokenExpired, http.StatusBadRequest, "验证链接已过期，请重新注册或申请新的验证邮件"},
	{jwt.ErrExpiredToken, http.StatusUnauthorized, "登录已过期，请重新登录"},
	{jwt.ErrWrongTokenType, http.StatusUnauthorized, "令牌类型错误"},
	{jwt.ErrInvalidToken, http.StatusUnauthorized, "无效的访问令牌"},

	// 信件错误
	{storage.ErrMessageNotFound, http.StatusNotFound, "信件不存在"},
	{service.ErrAttachmentTooLarge, http.StatusRequestEntityTooLarge, "附件超过大小限制"},
	{service.ErrAttachmentRejected, http.StatusBadRequest, "附件类型不被允许"},
	{service.ErrStorageUnavailable, http.StatusServiceUnavailable, "附件存储未配置"},
	{storage.ErrInvalidBlobKey, http.StatusBadRequest, "附件文件名无效"},
	{service.ErrSweepInProgress, http.StatusConflict, "投递任务正在执行中，请稍后重试"},

	// 管理错误
	{service.ErrAdminUserNotFound, http.StatusNotFound, "用户不存在"},
	{service.ErrCannotModifySelf, http.StatusBadRequest, "不能修改自己的账户"},
	{service.ErrCannotModifySuper, http.StatusForbidden, "不能修改超级管理员账户"},
	{service.ErrInsufficientPermission, http.StatusForbidden, "权限不足"},
	{service.ErrUnauthorized, http.StatusForbidden, "权限不足"},
	{service.ErrInvalidRole, http.StatusBadRequest, "角色取值无效"},

	// 定时任务错误
	{scheduler.ErrJobNotFound, http.StatusNotFound, "定时任务不存在"},
	{scheduler.ErrJobRunning, http.StatusConflict, "定时任务正在执行中"},
}

// lookupError 查找业务错误对应的状态码和中文消息
func lookupError(err error) (int, string, bool) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.msg, true
		}
	}
	return 0, "", false
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	if _, msg, ok := lookupError(err); ok {
		return msg
	}
	return err.Error()
}

// respondError 将业务错误写为统一响应，未识别的错误记录日志并返回 fallback
func respondError(c *gin.Context, log *zap.Logger, err error, fallback string) {
	if status, msg, ok := lookupError(err); ok {
		Error(c, status, msg)
		return
	}
	log.Error("request failed",
		zap.String("path", c.FullPath()),
		zap.String("method", c.Request.Method),
		zap.Error(err),
	)
	InternalError(c, fallback)
}

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest = "请求参数格式错误"
	MsgInvalidPaging  = "分页参数无效"

	// 认证相关
	MsgAuthRequired      = "需要登录认证"
	MsgRegisterFailed    = "注册失败，请稍后重试"
	MsgLoginFailed       = "登录失败，请稍后重试"
	MsgRefreshFailed     = "刷新令牌失败"
	MsgVerifyFailed      = "邮箱验证失败"
	MsgVerifyEmailPassed = "邮箱验证成功"

	// 信件相关
	MsgMessageCreateFailed = "保存信件失败"
	MsgMessageListFailed   = "获取信件列表失败"
	MsgMessageGetFailed    = "获取信件详情失败"
	MsgMessageDeleteFailed = "删除信件失败"
	MsgSweepFailed         = "执行投递任务失败"

	// 管理员相关
	MsgUserListFailed   = "获取用户列表失败"
	MsgUserGetFailed    = "获取用户信息失败"
	MsgUserUpdateFailed = "更新用户信息失败"
	MsgJobTriggerFailed = "执行定时任务失败"
)
