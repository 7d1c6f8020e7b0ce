package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dexmail/backend/internal/cidmap"
	"dexmail/backend/internal/storage"
)

// CIDHandler 内容标识映射接口。
//
// 发送侧把定宽哈希 → 完整 CID 的映射登记到这里，收件侧
// 凭链上哈希换回完整 CID 后才能取正文。映射不可变：同一
// 哈希重复登记是幂等操作。
type CIDHandler struct {
	repo   storage.CIDMapRepository
	logger *zap.Logger
}

// NewCIDHandler 创建映射处理器
func NewCIDHandler(repo storage.CIDMapRepository, logger *zap.Logger) *CIDHandler {
	return &CIDHandler{
		repo:   repo,
		logger: logger,
	}
}

// storeCIDRequest 登记请求
type storeCIDRequest struct {
	CIDHash string `json:"cidHash" binding:"required"`
	FullCID string `json:"fullCid" binding:"required"`
}

// Store 登记一条哈希映射
// @Summary 登记内容标识映射
// @Router /v1/cid/store [post]
func (h *CIDHandler) Store(c *gin.Context) {
	var req storeCIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	if !cidmap.IsHash(req.CIDHash) {
		BadRequest(c, "内容标识哈希格式无效")
		return
	}

	if err := h.repo.SaveCIDMapping(req.CIDHash, req.FullCID); err != nil {
		h.logger.Error("cid mapping save failed",
			zap.String("cid_hash", req.CIDHash), zap.Error(err))
		InternalError(c, MsgCIDMappingSaveFailed)
		return
	}

	Created(c, gin.H{"cidHash": req.CIDHash})
}

// Retrieve 按哈希取回完整 CID
// @Summary 查询内容标识映射
// @Router /v1/cid/retrieve [get]
func (h *CIDHandler) Retrieve(c *gin.Context) {
	hash := c.Query("cidHash")
	if !cidmap.IsHash(hash) {
		BadRequest(c, "内容标识哈希格式无效")
		return
	}

	fullCID, err := h.repo.GetCIDMapping(hash)
	if err != nil {
		if errors.Is(err, storage.ErrCIDMappingNotFound) {
			NotFound(c, MsgCIDMappingNotFound)
			return
		}
		h.logger.Error("cid mapping lookup failed",
			zap.String("cid_hash", hash), zap.Error(err))
		InternalError(c, MsgInternalError)
		return
	}

	Success(c, gin.H{"cidHash": hash, "fullCid": fullCID})
}
