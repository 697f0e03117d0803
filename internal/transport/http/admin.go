package httptransport

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"timecapsule/backend/internal/domain"
	"timecapsule/backend/internal/middleware"
	"timecapsule/backend/internal/scheduler"
	"timecapsule/backend/internal/service"
)

// JobRunner 定时任务的查询与手动触发
type JobRunner interface {
	Jobs() []scheduler.JobInfo
	Trigger(ctx context.Context, name string) error
}

// AdminHandler 管理API处理器
type AdminHandler struct {
	adminService *service.AdminService
	jobs         JobRunner
	log          *zap.Logger
}

// NewAdminHandler 创建管理处理器
func NewAdminHandler(adminService *service.AdminService, jobs JobRunner, log *zap.Logger) *AdminHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminHandler{
		adminService: adminService,
		jobs:         jobs,
		log:          log,
	}
}

// ========== 用户管理 ==========

// ListUsers godoc
// @Summary 获取用户列表
// @Description 获取系统中的用户列表（需要管理员权限）
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param page query int false "页码" default(1)
// @Param pageSize query int false "每页数量" default(20)
// @Success 200 {object} service.ListUsersOutput
// @Failure 403 {object} Response
// @Router /v1/admin/users [get]
func (h *AdminHandler) ListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	result, err := h.adminService.ListUsers(service.ListUsersInput{
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		respondError(c, h.log, err, MsgUserListFailed)
		return
	}

	Success(c, result)
}

// GetUser godoc
// @Summary 获取用户详情
// @Description 获取指定用户的详细信息（需要管理员权限）
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "用户ID"
// @Success 200 {object} domain.User
// @Failure 404 {object} Response
// @Router /v1/admin/users/{id} [get]
func (h *AdminHandler) GetUser(c *gin.Context) {
	user, err := h.adminService.GetUser(c.Param("id"))
	if err != nil {
		respondError(c, h.log, err, MsgUserGetFailed)
		return
	}

	Success(c, user)
}

// UpdateUserRequest 更新用户请求
type UpdateUserRequest struct {
	Role       *domain.UserRole `json:"role,omitempty"`
	IsActive   *bool            `json:"isActive,omitempty"`
	IsVerified *bool            `json:"isVerified,omitempty"`
}

// UpdateUser godoc
// @Summary 更新用户信息
// @Description 修改用户角色、启用状态或邮箱验证状态，只有超级管理员可以修改角色
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "用户ID"
// @Param request body UpdateUserRequest true "更新内容"
// @Success 200 {object} domain.User
// @Failure 400 {object} Response
// @Failure 403 {object} Response
// @Failure 404 {object} Response
// @Router /v1/admin/users/{id} [patch]
func (h *AdminHandler) UpdateUser(c *gin.Context) {
	operator, ok := middleware.CurrentUser(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	user, err := h.adminService.UpdateUser(service.UpdateUserInput{
		UserID:     c.Param("id"),
		Role:       req.Role,
		IsActive:   req.IsActive,
		IsVerified: req.IsVerified,
		OperatorID: operator.ID,
	})
	if err != nil {
		respondError(c, h.log, err, MsgUserUpdateFailed)
		return
	}

	SuccessWithMsg(c, "用户信息已更新", user)
}

// ========== 定时任务 ==========

// ListJobs godoc
// @Summary 定时任务列表
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {array} scheduler.JobInfo
// @Router /v1/admin/jobs [get]
func (h *AdminHandler) ListJobs(c *gin.Context) {
	Success(c, h.jobs.Jobs())
}

// TriggerJob godoc
// @Summary 手动执行定时任务
// @Description 同步执行指定任务，任务正在执行时返回 409
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param name path string true "任务名"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Failure 409 {object} Response
// @Router /v1/admin/jobs/{name}/trigger [post]
func (h *AdminHandler) TriggerJob(c *gin.Context) {
	name := c.Param("name")
	if err := h.jobs.Trigger(c.Request.Context(), name); err != nil {
		respondError(c, h.log, err, MsgJobTriggerFailed)
		return
	}

	h.log.Info("job triggered manually", zap.String("job", name))
	SuccessWithMsg(c, "任务已执行", gin.H{"job": name})
}
