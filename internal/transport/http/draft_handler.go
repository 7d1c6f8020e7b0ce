package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dexmail/backend/internal/domain"
	"dexmail/backend/internal/middleware"
	"dexmail/backend/internal/service"
	"dexmail/backend/internal/storage"
)

// DraftHandler 草稿接口
type DraftHandler struct {
	drafts *service.DraftService
	logger *zap.Logger
}

// NewDraftHandler 创建草稿处理器
func NewDraftHandler(drafts *service.DraftService, logger *zap.Logger) *DraftHandler {
	return &DraftHandler{
		drafts: drafts,
		logger: logger,
	}
}

// saveDraftRequest 保存草稿请求
type saveDraftRequest struct {
	ID      string `json:"id"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Save 保存草稿（新建或按 ID 幂等更新）
// @Summary 保存草稿
// @Router /v1/email/drafts [post]
func (h *DraftHandler) Save(c *gin.Context) {
	var req saveDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	address := middleware.Email(c)

	draft, err := h.drafts.Save(address, &domain.Draft{
		DraftID: req.ID,
		To:      req.To,
		Subject: req.Subject,
		Body:    req.Body,
	})
	if err != nil {
		if errors.Is(err, service.ErrEmptyDraft) {
			BadRequest(c, GetErrorMessage(err))
			return
		}
		h.logger.Error("draft save failed",
			zap.String("address", address), zap.Error(err))
		InternalError(c, MsgDraftSaveFailed)
		return
	}

	Success(c, draft)
}

// List 返回当前身份的全部草稿
// @Summary 获取草稿列表
// @Router /v1/email/drafts [get]
func (h *DraftHandler) List(c *gin.Context) {
	address := middleware.Email(c)

	drafts, err := h.drafts.List(address)
	if err != nil {
		h.logger.Error("draft listing failed",
			zap.String("address", address), zap.Error(err))
		InternalError(c, MsgDraftListFailed)
		return
	}

	Success(c, gin.H{"drafts": drafts})
}

// Delete 删除草稿
// @Summary 删除草稿
// @Router /v1/email/drafts/:id [delete]
func (h *DraftHandler) Delete(c *gin.Context) {
	address := middleware.Email(c)
	draftID := c.Param("id")

	if err := h.drafts.Delete(draftID, address); err != nil {
		if errors.Is(err, storage.ErrDraftNotFound) {
			NotFound(c, GetErrorMessage(err))
			return
		}
		h.logger.Error("draft delete failed",
			zap.String("address", address),
			zap.String("draft_id", draftID),
			zap.Error(err))
		InternalError(c, MsgDraftDeleteFailed)
		return
	}

	NoContent(c)
}
