package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dexmail/backend/internal/domain"
	"dexmail/backend/internal/middleware"
	"dexmail/backend/internal/storage"
)

// StatusHandler 邮件状态存储接口。
//
// 这是状态存储的原始读写面：GET 返回整张状态表，POST 按
// 补丁语义合并单条记录。键固定取自登录身份，客户端无法
// 读写他人的状态。
type StatusHandler struct {
	repo   storage.StatusRepository
	logger *zap.Logger
}

// NewStatusHandler 创建状态处理器
func NewStatusHandler(repo storage.StatusRepository, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{
		repo:   repo,
		logger: logger,
	}
}

// GetStatusMap 返回当前身份的完整状态表
// @Summary 获取全量邮件状态
// @Router /v1/email/status [get]
func (h *StatusHandler) GetStatusMap(c *gin.Context) {
	address := middleware.Email(c)

	statuses, err := h.repo.GetStatusMap(address)
	if err != nil {
		h.logger.Error("status map load failed",
			zap.String("address", address), zap.Error(err))
		InternalError(c, MsgStatusGetFailed)
		return
	}

	Success(c, statuses)
}

// upsertStatusRequest 状态合并请求
type upsertStatusRequest struct {
	MessageID string             `json:"messageId" binding:"required"`
	Patch     domain.StatusPatch `json:"status" binding:"required"`
}

// UpsertStatus 按补丁语义合并一条状态记录
// @Summary 更新邮件状态
// @Router /v1/email/status [post]
func (h *StatusHandler) UpsertStatus(c *gin.Context) {
	var req upsertStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	address := middleware.Email(c)

	merged, err := h.repo.UpsertStatus(address, req.MessageID, req.Patch)
	if err != nil {
		h.logger.Error("status upsert failed",
			zap.String("address", address),
			zap.String("message_id", req.MessageID),
			zap.Error(err))
		InternalError(c, MsgStatusSaveFailed)
		return
	}

	Success(c, merged)
}
