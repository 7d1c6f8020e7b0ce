package storage

import (
	"errors"

	"dexmail/backend/internal/domain"
)

var (
	// ErrCIDMappingNotFound CID 映射不存在
	ErrCIDMappingNotFound = errors.New("cid mapping not found")
	// ErrDraftNotFound 草稿不存在
	ErrDraftNotFound = errors.New("draft not found")
	// ErrClaimNotFound 领取记录不存在
	ErrClaimNotFound = errors.New("claim record not found")
)

// StatusRepository 定义邮件状态数据存取操作。
//
// 键为（用户地址, 邮件编号）。UpsertStatus 在存储侧做读-改-写合并，
// 补丁未涉及的字段保持原值，记录不存在时从缺省状态合并。
type StatusRepository interface {
	GetStatusMap(address string) (map[string]domain.EmailStatus, error)
	GetStatus(address, messageID string) (domain.EmailStatus, error)
	UpsertStatus(address, messageID string, patch domain.StatusPatch) (domain.EmailStatus, error)
}

// DraftRepository 定义草稿数据存取操作。
//
// SaveDraft 按（草稿ID, 地址）复合键幂等更新。
type DraftRepository interface {
	SaveDraft(draft *domain.Draft) error
	ListDrafts(address string) ([]domain.Draft, error)
	DeleteDraft(draftID, address string) error
}

// CIDMapRepository 定义定宽哈希到完整 CID 的映射存取操作。
type CIDMapRepository interface {
	SaveCIDMapping(cidHash, fullCID string) error
	GetCIDMapping(cidHash string) (string, error)
}

// ClaimRepository 定义领取记录存取操作。
type ClaimRepository interface {
	SaveClaim(record *domain.ClaimRecord) error
	GetClaimByCode(code string) (*domain.ClaimRecord, error)
}

// Store 定义完整的存储接口。
type Store interface {
	StatusRepository
	DraftRepository
	CIDMapRepository
	ClaimRepository

	// 工具方法
	Close() error
	Health() error
}
