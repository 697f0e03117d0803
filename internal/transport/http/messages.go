package httptransport

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"timecapsule/backend/internal/domain"
	"timecapsule/backend/internal/middleware"
	"timecapsule/backend/internal/service"
)

// MessageHandler 处理定时信件相关的 HTTP 请求
type MessageHandler struct {
	messages *service.MessageService
	delivery *service.DeliveryService
	log      *zap.Logger
}

// NewMessageHandler 创建信件处理器
func NewMessageHandler(messages *service.MessageService, delivery *service.DeliveryService, log *zap.Logger) *MessageHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageHandler{
		messages: messages,
		delivery: delivery,
		log:      log,
	}
}

type createMessageRequest struct {
	RecipientEmail string    `json:"recipientEmail" form:"recipientEmail" binding:"required"`
	RecipientName  string    `json:"recipientName" form:"recipientName"`
	SenderName     string    `json:"senderName" form:"senderName"`
	Subject        string    `json:"subject" form:"subject" binding:"required"`
	Content        string    `json:"content" form:"content" binding:"required"`
	ScheduledDate  time.Time `json:"scheduledDate" form:"scheduledDate" time_format:"2006-01-02T15:04:05Z07:00" binding:"required"`
}

func (r createMessageRequest) toInput() service.CreateMessageInput {
	return service.CreateMessageInput{
		RecipientEmail: r.RecipientEmail,
		RecipientName:  r.RecipientName,
		SenderName:     r.SenderName,
		Subject:        r.Subject,
		Content:        r.Content,
		ScheduledDate:  r.ScheduledDate,
	}
}

type attachmentInfo struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	FileType string `json:"fileType"`
	Size     int64  `json:"size"`
}

type messageResponse struct {
	ID             string           `json:"id"`
	RecipientEmail string           `json:"recipientEmail"`
	RecipientName  string           `json:"recipientName,omitempty"`
	SenderName     string           `json:"senderName,omitempty"`
	Subject        string           `json:"subject"`
	Content        string           `json:"content"`
	ScheduledDate  time.Time        `json:"scheduledDate"`
	IsSent         bool             `json:"isSent"`
	SentAt         *time.Time       `json:"sentAt,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	Attachments    []attachmentInfo `json:"attachments,omitempty"` // 附件列表（不包含内容）
}

type messageListResponse struct {
	Items []messageResponse `json:"items"`
	Count int               `json:"count"`
	Skip  int               `json:"skip"`
	Limit int               `json:"limit"`
}

// toMessageResponse 转换信件实体为响应体。
func toMessageResponse(message *domain.Message) messageResponse {
	attachments := make([]attachmentInfo, 0, len(message.Attachments))
	for _, att := range message.Attachments {
		attachments = append(attachments, attachmentInfo{
			ID:       att.ID,
			Filename: att.Filename,
			FileType: att.FileType,
			Size:     att.Size,
		})
	}

	return messageResponse{
		ID:             message.ID,
		RecipientEmail: message.RecipientEmail,
		RecipientName:  message.RecipientName,
		SenderName:     message.SenderName,
		Subject:        message.Subject,
		Content:        message.Content,
		ScheduledDate:  message.ScheduledDate,
		IsSent:         message.IsSent,
		SentAt:         message.SentAt,
		CreatedAt:      message.CreatedAt,
		Attachments:    attachments,
	}
}

// createMessage godoc
// @Summary 创建定时信件
// @Description 预定在未来某个时间投递的信件，创建后向所有者发送确认邮件
// @Tags Messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createMessageRequest true "信件内容"
// @Success 201 {object} messageResponse
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Router /v1/messages [post]
func (h *MessageHandler) createMessage(c *gin.Context) {
	owner, ok := middleware.CurrentUser(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	message, err := h.messages.Create(c.Request.Context(), owner, req.toInput())
	if err != nil {
		respondError(c, h.log, err, MsgMessageCreateFailed)
		return
	}

	Created(c, toMessageResponse(message))
}

// createMessageWithAttachment godoc
// @Summary 创建带附件的定时信件
// @Description 以 multipart 表单提交信件字段和一个附件文件
// @Tags Messages
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param recipientEmail formData string true "收件人邮箱"
// @Param recipientName formData string false "收件人姓名"
// @Param senderName formData string false "署名"
// @Param subject formData string true "主题"
// @Param content formData string true "正文"
// @Param scheduledDate formData string true "投递时间 (RFC3339)"
// @Param file formData file false "附件"
// @Success 201 {object} messageResponse
// @Failure 400 {object} Response
// @Failure 413 {object} Response
// @Router /v1/messages/with-attachment [post]
func (h *MessageHandler) createMessageWithAttachment(c *gin.Context) {
	owner, ok := middleware.CurrentUser(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	var req createMessageRequest
	if err := c.ShouldBind(&req); err != nil {
		if isBodyTooLarge(err) {
			respondError(c, h.log, service.ErrAttachmentTooLarge, MsgMessageCreateFailed)
			return
		}
		BadRequest(c, MsgInvalidRequest)
		return
	}

	var upload *service.Upload
	fileHeader, err := c.FormFile("file")
	switch {
	case err == nil:
		file, err := fileHeader.Open()
		if err != nil {
			h.log.Error("failed to open uploaded file", zap.Error(err))
			InternalError(c, MsgMessageCreateFailed)
			return
		}
		defer file.Close()
		upload = &service.Upload{
			Filename:    fileHeader.Filename,
			ContentType: fileHeader.Header.Get("Content-Type"),
			Size:        fileHeader.Size,
			Body:        file,
		}
	case isBodyTooLarge(err):
		respondError(c, h.log, service.ErrAttachmentTooLarge, MsgMessageCreateFailed)
		return
	case !errors.Is(err, http.ErrMissingFile):
		BadRequest(c, MsgInvalidRequest)
		return
	}

	message, err := h.messages.CreateWithAttachment(c.Request.Context(), owner, req.toInput(), upload)
	if err != nil {
		respondError(c, h.log, err, MsgMessageCreateFailed)
		return
	}

	Created(c, toMessageResponse(message))
}

// isBodyTooLarge 判断错误是否由请求体大小限制引起
func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// listMessages godoc
// @Summary 获取信件列表
// @Description 按创建时间倒序返回当前用户的信件
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param skip query int false "跳过条数" default(0)
// @Param limit query int false "返回条数（最大500）" default(100)
// @Success 200 {object} messageListResponse
// @Router /v1/messages [get]
func (h *MessageHandler) listMessages(c *gin.Context) {
	owner, ok := middleware.CurrentUser(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	skip, err := strconv.Atoi(c.DefaultQuery("skip", "0"))
	if err != nil || skip < 0 {
		BadRequest(c, MsgInvalidPaging)
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(service.DefaultListLimit)))
	if err != nil || limit < 0 {
		BadRequest(c, MsgInvalidPaging)
		return
	}
	if limit == 0 {
		limit = service.DefaultListLimit
	}
	if limit > service.MaxListLimit {
		limit = service.MaxListLimit
	}

	messages, err := h.messages.List(owner.ID, skip, limit)
	if err != nil {
		respondError(c, h.log, err, MsgMessageListFailed)
		return
	}

	responses := make([]messageResponse, 0, len(messages))
	for i := range messages {
		responses = append(responses, toMessageResponse(&messages[i]))
	}

	Success(c, messageListResponse{
		Items: responses,
		Count: len(responses),
		Skip:  skip,
		Limit: limit,
	})
}

// getMessage godoc
// @Summary 获取信件详情
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param id path string true "信件ID"
// @Success 200 {object} messageResponse
// @Failure 404 {object} Response
// @Router /v1/messages/{id} [get]
func (h *MessageHandler) getMessage(c *gin.Context) {
	owner, ok := middleware.CurrentUser(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	message, err := h.messages.Get(owner.ID, c.Param("id"))
	if err != nil {
		respondError(c, h.log, err, MsgMessageGetFailed)
		return
	}

	Success(c, toMessageResponse(message))
}

// deleteMessage godoc
// @Summary 删除信件
// @Description 删除信件及其附件文件
// @Tags Messages
// @Security BearerAuth
// @Param id path string true "信件ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /v1/messages/{id} [delete]
func (h *MessageHandler) deleteMessage(c *gin.Context) {
	owner, ok := middleware.CurrentUser(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	messageID := c.Param("id")
	if err := h.messages.Delete(c.Request.Context(), owner.ID, messageID); err != nil {
		respondError(c, h.log, err, MsgMessageDeleteFailed)
		return
	}

	h.log.Info("message deleted", zap.String("user_id", owner.ID), zap.String("message_id", messageID))
	SuccessWithMsg(c, "删除成功", nil)
}

// sendScheduled godoc
// @Summary 立即执行投递扫描
// @Description 同步执行一次到期信件投递（需要管理员权限）
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Success 200 {object} service.SweepResult
// @Failure 403 {object} Response
// @Failure 409 {object} Response "已有扫描在执行"
// @Router /v1/messages/send-scheduled [post]
func (h *MessageHandler) sendScheduled(c *gin.Context) {
	operator, _ := middleware.CurrentUser(c)

	result, err := h.delivery.SendDue(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err, MsgSweepFailed)
		return
	}

	fields := []zap.Field{
		zap.Int("due", result.Due),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
	}
	if operator != nil {
		fields = append(fields, zap.String("operator_id", operator.ID))
	}
	h.log.Info("manual delivery sweep finished", fields...)

	SuccessWithMsg(c, "投递任务已执行", result)
}
