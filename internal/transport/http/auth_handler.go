package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dexmail/backend/internal/auth"
	"dexmail/backend/internal/ledger"
	"dexmail/backend/internal/middleware"
	"dexmail/backend/internal/service"
)

// AuthHandler 钱包登录相关接口
type AuthHandler struct {
	auth     *auth.Service
	sessions *service.SessionManager
	logger   *zap.Logger
}

// NewAuthHandler 创建登录处理器
func NewAuthHandler(authService *auth.Service, sessions *service.SessionManager, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		auth:     authService,
		sessions: sessions,
		logger:   logger,
	}
}

// challengeRequest 挑战请求
type challengeRequest struct {
	Wallet string `json:"wallet" binding:"required"`
}

// loginRequest 登录请求
type loginRequest struct {
	Wallet    string `json:"wallet" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// refreshRequest 刷新令牌请求
type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// Challenge 签发登录挑战
// @Summary 获取钱包登录挑战
// @Router /v1/auth/challenge [post]
func (h *AuthHandler) Challenge(c *gin.Context) {
	var req challengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	if !ledger.IsHexAddress(req.Wallet) {
		BadRequest(c, "钱包地址格式无效")
		return
	}

	message, err := h.auth.Challenge(req.Wallet)
	if err != nil {
		h.logger.Error("challenge issuance failed", zap.Error(err))
		InternalError(c, MsgInternalError)
		return
	}

	Success(c, gin.H{"message": message})
}

// Login 校验签名并登录
// @Summary 钱包签名登录
// @Router /v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	pair, email, err := h.auth.Login(c.Request.Context(), req.Wallet, req.Signature)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrChallengeNotFound),
			errors.Is(err, auth.ErrBadSignature):
			Unauthorized(c, GetErrorMessage(err))
		case errors.Is(err, auth.ErrNotRegistered):
			Forbidden(c, GetErrorMessage(err))
		default:
			h.logger.Error("login failed", zap.Error(err))
			InternalError(c, MsgInternalError)
		}
		return
	}

	// 登录成功即建立邮箱会话，开始后台轮询
	checksummed, _ := ledger.ChecksumAddress(req.Wallet)
	if _, err := h.sessions.Start(service.Identity{Email: email, Wallet: checksummed}); err != nil {
		h.logger.Error("session start failed",
			zap.String("email", email), zap.Error(err))
		InternalError(c, MsgInternalError)
		return
	}

	Success(c, gin.H{
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"expiresIn":    pair.ExpiresIn,
		"email":        email,
		"wallet":       checksummed,
	})
}

// Refresh 刷新访问令牌
// @Summary 刷新访问令牌
// @Router /v1/auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	accessToken, err := h.auth.Refresh(req.RefreshToken)
	if err != nil {
		Unauthorized(c, MsgTokenInvalid)
		return
	}

	Success(c, gin.H{"accessToken": accessToken})
}

// Me 返回当前登录身份
// @Summary 获取当前登录身份
// @Router /v1/auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	Success(c, gin.H{
		"wallet": middleware.Wallet(c),
		"email":  middleware.Email(c),
	})
}

// Logout 登出并结束会话
// @Summary 登出
// @Router /v1/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	email := middleware.Email(c)
	h.sessions.End(email)
	NoContent(c)
}
