package service

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dexmail/backend/internal/domain"
	"dexmail/backend/internal/storage"
)

// ErrEmptyDraft 空草稿不保存
var ErrEmptyDraft = errors.New("draft has no content")

// DraftService 草稿的增删查。草稿完全独立于账本和内容
// 存储，发送之前不触链。
type DraftService struct {
	repo   storage.DraftRepository
	logger *zap.Logger
}

// NewDraftService 创建草稿服务。
func NewDraftService(repo storage.DraftRepository, logger *zap.Logger) *DraftService {
	return &DraftService{repo: repo, logger: logger}
}

// Save 以（草稿ID, 地址）复合键幂等保存。ID 为空时生成新草稿。
func (s *DraftService) Save(address string, draft *domain.Draft) (*domain.Draft, error) {
	if draft.To == "" && draft.Subject == "" && draft.Body == "" {
		return nil, ErrEmptyDraft
	}

	draft.Address = address
	if draft.DraftID == "" {
		draft.DraftID = uuid.NewString()
	}
	if draft.Timestamp == 0 {
		draft.Timestamp = time.Now().UnixMilli()
	}

	if err := s.repo.SaveDraft(draft); err != nil {
		return nil, err
	}
	s.logger.Debug("draft saved",
		zap.String("draft_id", draft.DraftID),
		zap.String("address", address))
	return draft, nil
}

// List 返回地址名下的全部草稿，时间倒序。
func (s *DraftService) List(address string) ([]domain.Draft, error) {
	return s.repo.ListDrafts(address)
}

// Delete 删除草稿。丢弃草稿是真删除，不走回收站。
func (s *DraftService) Delete(draftID, address string) error {
	return s.repo.DeleteDraft(draftID, address)
}
