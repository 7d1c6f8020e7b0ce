package httptransport

import (
	"dexmail/backend/internal/auth"
	"dexmail/backend/internal/service"
	"dexmail/backend/internal/storage"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	// 发送错误
	service.ErrNoRecipient:  "收件人不能为空",
	service.ErrInvalidAsset: "附带资产参数无效",
	service.ErrEmptyDraft:   "草稿内容为空",

	// 存储错误
	storage.ErrDraftNotFound:      "草稿不存在",
	storage.ErrCIDMappingNotFound: "内容标识映射不存在",
	storage.ErrClaimNotFound:      "领取码不存在",

	// 登录错误
	auth.ErrChallengeNotFound: "登录挑战不存在或已过期",
	auth.ErrBadSignature:      "钱包签名校验失败",
	auth.ErrNotRegistered:     "钱包尚未绑定邮箱",
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	if msg, ok := errorMessages[err]; ok {
		return msg
	}
	return err.Error()
}

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest   = "请求参数格式错误"
	MsgInvalidAddress   = "邮箱地址格式无效"
	MsgRequestBodyEmpty = "请求体不能为空"

	// 认证相关
	MsgAuthRequired = "需要登录认证"
	MsgTokenExpired = "登录已过期，请重新登录"
	MsgTokenInvalid = "无效的访问令牌"

	// 邮件相关
	MsgSendFailed        = "发送邮件失败"
	MsgMailboxLoadFailed = "获取邮箱视图失败"
	MsgStatusGetFailed   = "获取邮件状态失败"
	MsgStatusSaveFailed  = "保存邮件状态失败"

	// 草稿相关
	MsgDraftSaveFailed   = "保存草稿失败"
	MsgDraftListFailed   = "获取草稿列表失败"
	MsgDraftDeleteFailed = "删除草稿失败"

	// CID 映射相关
	MsgCIDMappingSaveFailed = "登记内容映射失败"
	MsgCIDMappingNotFound   = "内容映射不存在"

	// 桥接相关
	MsgInboundParseFailed = "入站邮件解析失败"
	MsgInboundIndexFailed = "入站邮件索引失败"

	// 服务器错误
	MsgInternalError = "服务器内部错误，请稍后重试"
)
