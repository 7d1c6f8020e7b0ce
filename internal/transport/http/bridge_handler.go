package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dexmail/backend/internal/bridge"
	"dexmail/backend/internal/claim"
	"dexmail/backend/internal/security"
	"dexmail/backend/internal/service"
	"dexmail/backend/internal/storage"
)

// BridgeHandler 外部邮件桥接接口。
//
// 入站 webhook 接收邮件服务商的 multipart 回调，解析后
// 把外部来件固定到内容存储并写入链上索引。
type BridgeHandler struct {
	delivery *service.DeliveryService
	claims   *claim.Service
	filter   *security.InboundFilter
	logger   *zap.Logger
}

// NewBridgeHandler 创建桥接处理器
func NewBridgeHandler(delivery *service.DeliveryService, claims *claim.Service, logger *zap.Logger) *BridgeHandler {
	return &BridgeHandler{
		delivery: delivery,
		claims:   claims,
		filter:   security.NewInboundFilter(),
		logger:   logger,
	}
}

// Inbound 接收入站邮件回调
// @Summary 外部邮件入站 webhook
// @Accept multipart/form-data
// @Router /v1/bridge/inbound [post]
func (h *BridgeHandler) Inbound(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	mail, err := bridge.ParseInboundForm(form)
	if err != nil {
		h.logger.Warn("inbound mail parse failed", zap.Error(err))
		BadRequest(c, MsgInboundParseFailed)
		return
	}

	// 内容过滤：恶意载荷拒收，疑似垃圾只在归档头里打标记
	verdict := h.filter.Inspect(mail.TextBody, mail.HTMLBody)
	if verdict.Reject {
		h.logger.Warn("inbound mail rejected",
			zap.String("from", mail.From),
			zap.String("reason", verdict.Reason))
		UnprocessableEntity(c, "邮件内容被安全策略拒收")
		return
	}
	if verdict.Spam {
		if mail.Headers == nil {
			mail.Headers = make(map[string]string)
		}
		mail.Headers["X-Spam-Flag"] = "YES"
	}

	receipt, err := h.delivery.IndexInbound(c.Request.Context(), mail)
	if err != nil {
		h.logger.Error("inbound mail indexing failed",
			zap.String("from", mail.From),
			zap.String("to", mail.To),
			zap.Error(err))
		InternalError(c, MsgInboundIndexFailed)
		return
	}

	Success(c, gin.H{"txRef": receipt.TxRef, "cidHash": receipt.CIDHash})
}

// Claim 查询领取码对应的待领取资产
// @Summary 查询领取记录
// @Router /v1/claim/:code [get]
func (h *BridgeHandler) Claim(c *gin.Context) {
	code := c.Param("code")
	if !claim.ValidCode(code) {
		BadRequest(c, "领取码格式无效")
		return
	}

	record, err := h.claims.Lookup(code)
	if err != nil {
		if errors.Is(err, storage.ErrClaimNotFound) {
			NotFound(c, GetErrorMessage(err))
			return
		}
		h.logger.Error("claim lookup failed",
			zap.String("code", code), zap.Error(err))
		InternalError(c, MsgInternalError)
		return
	}

	Success(c, record)
}
