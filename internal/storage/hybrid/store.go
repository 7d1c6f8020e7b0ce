package hybrid

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"dexmail/backend/internal/domain"
	"dexmail/backend/internal/storage"
	"dexmail/backend/internal/storage/redis"
)

// Store 混合存储：SQL 为权威存储，Redis 做旁路缓存。
// 缓存出错只降级，不影响正确性。
type Store struct {
	sql    storage.Store
	cache  *redis.Cache
	logger *zap.Logger
}

// NewStore 创建混合存储。
func NewStore(sqlStore storage.Store, cache *redis.Cache, logger *zap.Logger) *Store {
	return &Store{
		sql:    sqlStore,
		cache:  cache,
		logger: logger,
	}
}

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 3*time.Second)
}

// GetStatusMap 先查缓存，未命中回源 SQL 并回填。
func (s *Store) GetStatusMap(address string) (map[string]domain.EmailStatus, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	if cached, err := s.cache.GetStatusMap(ctx, address); err == nil {
		return cached, nil
	} else if !errors.Is(err, redis.ErrCacheMiss) {
		s.logger.Warn("status map cache read failed", zap.Error(err))
	}

	statuses, err := s.sql.GetStatusMap(address)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetStatusMap(ctx, address, statuses); err != nil {
		s.logger.Warn("status map cache write failed", zap.Error(err))
	}
	return statuses, nil
}

// GetStatus 直接回源 SQL（单条读取不走整表缓存）。
func (s *Store) GetStatus(address, messageID string) (domain.EmailStatus, error) {
	return s.sql.GetStatus(address, messageID)
}

// UpsertStatus 先写 SQL，成功后使缓存失效。
func (s *Store) UpsertStatus(address, messageID string, patch domain.StatusPatch) (domain.EmailStatus, error) {
	merged, err := s.sql.UpsertStatus(address, messageID, patch)
	if err != nil {
		return domain.EmailStatus{}, err
	}

	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.cache.InvalidateStatusMap(ctx, address); err != nil {
		s.logger.Warn("status map cache invalidation failed", zap.Error(err))
	}
	return merged, nil
}

// SaveDraft 草稿直写 SQL。
func (s *Store) SaveDraft(draft *domain.Draft) error {
	return s.sql.SaveDraft(draft)
}

// ListDrafts 草稿直读 SQL。
func (s *Store) ListDrafts(address string) ([]domain.Draft, error) {
	return s.sql.ListDrafts(address)
}

// DeleteDraft 删除草稿。
func (s *Store) DeleteDraft(draftID, address string) error {
	return s.sql.DeleteDraft(draftID, address)
}

// SaveCIDMapping 写 SQL 并同步写缓存（映射不可变，可以直接回填）。
func (s *Store) SaveCIDMapping(cidHash, fullCID string) error {
	if err := s.sql.SaveCIDMapping(cidHash, fullCID); err != nil {
		return err
	}

	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.cache.SetCIDMapping(ctx, cidHash, fullCID); err != nil {
		s.logger.Warn("cid mapping cache write failed", zap.Error(err))
	}
	return nil
}

// GetCIDMapping 先查缓存，未命中回源 SQL 并回填。
func (s *Store) GetCIDMapping(cidHash string) (string, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	if cid, err := s.cache.GetCIDMapping(ctx, cidHash); err == nil {
		return cid, nil
	} else if !errors.Is(err, redis.ErrCacheMiss) {
		s.logger.Warn("cid mapping cache read failed", zap.Error(err))
	}

	cid, err := s.sql.GetCIDMapping(cidHash)
	if err != nil {
		return "", err
	}

	if err := s.cache.SetCIDMapping(ctx, cidHash, cid); err != nil {
		s.logger.Warn("cid mapping cache write failed", zap.Error(err))
	}
	return cid, nil
}

// SaveClaim 领取记录直写 SQL。
func (s *Store) SaveClaim(record *domain.ClaimRecord) error {
	return s.sql.SaveClaim(record)
}

// GetClaimByCode 领取记录直读 SQL。
func (s *Store) GetClaimByCode(code string) (*domain.ClaimRecord, error) {
	return s.sql.GetClaimByCode(code)
}

// Close 关闭权威存储。
func (s *Store) Close() error {
	return s.sql.Close()
}

// Health 权威存储健康检查。
func (s *Store) Health() error {
	return s.sql.Health()
}
