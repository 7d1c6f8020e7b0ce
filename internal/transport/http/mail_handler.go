package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dexmail/backend/internal/domain"
	"dexmail/backend/internal/middleware"
	"dexmail/backend/internal/service"
	"dexmail/backend/internal/thread"
)

// MailHandler 邮件发送与邮箱视图接口
type MailHandler struct {
	delivery *service.DeliveryService
	sessions *service.SessionManager
	logger   *zap.Logger
}

// NewMailHandler 创建邮件处理器
func NewMailHandler(delivery *service.DeliveryService, sessions *service.SessionManager, logger *zap.Logger) *MailHandler {
	return &MailHandler{
		delivery: delivery,
		sessions: sessions,
		logger:   logger,
	}
}

// sendRequest 发送请求
type sendRequest struct {
	To        []string               `json:"to" binding:"required"`
	Subject   string                 `json:"subject"`
	Body      string                 `json:"body"`
	HTMLBody  string                 `json:"htmlBody"`
	InReplyTo string                 `json:"inReplyTo"`
	Crypto    *domain.CryptoTransfer `json:"cryptoTransfer"`
	DraftID   string                 `json:"draftId"`
}

// session 取当前登录身份的活跃会话。
func (h *MailHandler) session(c *gin.Context) (*service.Session, bool) {
	email := middleware.Email(c)
	session, ok := h.sessions.Get(email)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return nil, false
	}
	return session, true
}

// Send 发送邮件
// @Summary 发送邮件（可附带加密资产）
// @Router /v1/mail/send [post]
func (h *MailHandler) Send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	receipt, err := h.delivery.Send(c.Request.Context(), &service.SendInput{
		From:      middleware.Email(c),
		To:        req.To,
		Subject:   req.Subject,
		Body:      req.Body,
		HTMLBody:  req.HTMLBody,
		InReplyTo: req.InReplyTo,
		Crypto:    req.Crypto,
		DraftID:   req.DraftID,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoRecipient),
			errors.Is(err, service.ErrInvalidAsset):
			BadRequest(c, GetErrorMessage(err))
		default:
			h.logger.Error("mail send failed", zap.Error(err))
			InternalError(c, MsgSendFailed)
		}
		return
	}

	Success(c, receipt)
}

// Mailbox 返回合并后的邮箱视图
// @Summary 获取邮箱视图
// @Router /v1/mail/mailbox [get]
func (h *MailHandler) Mailbox(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	// refresh=true 时同步拉取最新视图，否则直接返回轮询结果
	entries := session.View()
	if len(entries) == 0 || c.Query("refresh") == "true" {
		fresh, err := session.Refresh(c.Request.Context())
		if err != nil {
			h.logger.Error("mailbox refresh failed",
				zap.String("email", session.Identity.Email), zap.Error(err))
			InternalError(c, MsgMailboxLoadFailed)
			return
		}
		entries = fresh
	}

	service.SortByDate(entries)
	Success(c, gin.H{"emails": entries})
}

// Thread 重建邮件的会话串
// @Summary 从正文引用块重建会话串
// @Router /v1/mail/:id/thread [get]
func (h *MailHandler) Thread(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	id := c.Param("id")
	for _, entry := range session.View() {
		if entry.ID == id {
			Success(c, gin.H{
				"messageId": id,
				"segments":  thread.Reconstruct(entry.Body),
			})
			return
		}
	}
	NotFound(c, "邮件不存在")
}

// statusUpdate 解析邮件编号并应用状态变更，返回合并结果。
func (h *MailHandler) statusUpdate(c *gin.Context, apply func(*service.StatusService, string) domain.EmailStatus) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	id := c.Param("id")
	if id == "" {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	status := apply(session.Status(), id)
	Success(c, status)
}

// flagRequest 布尔开关请求体，缺省为 true
type flagRequest struct {
	Value *bool `json:"value"`
}

func (r *flagRequest) value() bool {
	if r.Value == nil {
		return true
	}
	return *r.Value
}

// MarkRead 标记已读/未读
// @Summary 标记邮件已读状态
// @Router /v1/mail/:id/read [post]
func (h *MailHandler) MarkRead(c *gin.Context) {
	var req flagRequest
	_ = c.ShouldBindJSON(&req)
	h.statusUpdate(c, func(s *service.StatusService, id string) domain.EmailStatus {
		return s.MarkRead(id, req.value())
	})
}

// MarkSpam 移入/移出垃圾邮件
// @Summary 标记垃圾邮件
// @Router /v1/mail/:id/spam [post]
func (h *MailHandler) MarkSpam(c *gin.Context) {
	var req flagRequest
	_ = c.ShouldBindJSON(&req)
	h.statusUpdate(c, func(s *service.StatusService, id string) domain.EmailStatus {
		return s.MarkSpam(id, req.value())
	})
}

// Archive 移入/移出归档
// @Summary 归档邮件
// @Router /v1/mail/:id/archive [post]
func (h *MailHandler) Archive(c *gin.Context) {
	var req flagRequest
	_ = c.ShouldBindJSON(&req)
	h.statusUpdate(c, func(s *service.StatusService, id string) domain.EmailStatus {
		return s.Archive(id, req.value())
	})
}

// Trash 移入回收站
// @Summary 将邮件移入回收站
// @Router /v1/mail/:id/trash [post]
func (h *MailHandler) Trash(c *gin.Context) {
	h.statusUpdate(c, func(s *service.StatusService, id string) domain.EmailStatus {
		return s.Trash(id)
	})
}

// Restore 从回收站恢复
// @Summary 从回收站恢复邮件
// @Router /v1/mail/:id/restore [post]
func (h *MailHandler) Restore(c *gin.Context) {
	h.statusUpdate(c, func(s *service.StatusService, id string) domain.EmailStatus {
		return s.Restore(id)
	})
}

// labelsRequest 标签替换请求
type labelsRequest struct {
	Labels []string `json:"labels" binding:"required"`
}

// SetLabels 整体替换标签
// @Summary 设置邮件标签
// @Router /v1/mail/:id/labels [post]
func (h *MailHandler) SetLabels(c *gin.Context) {
	var req labelsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	h.statusUpdate(c, func(s *service.StatusService, id string) domain.EmailStatus {
		return s.SetLabels(id, req.Labels)
	})
}
