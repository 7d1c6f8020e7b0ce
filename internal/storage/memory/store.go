package memory

import (
	"sort"
	"sync"
	"time"

	"dexmail/backend/internal/domain"
	"dexmail/backend/internal/storage"
)

// Store 使用内存保存状态、草稿、CID 映射与领取记录，主要用于开发验证与测试。
type Store struct {
	mu       sync.RWMutex
	statuses map[string]map[string]domain.EmailStatus // address -> messageID -> status
	drafts   map[string]map[string]*domain.Draft      // address -> draftID -> draft
	cidMap   map[string]string                        // cidHash -> fullCID
	claims   map[string]*domain.ClaimRecord           // code -> record
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		statuses: make(map[string]map[string]domain.EmailStatus),
		drafts:   make(map[string]map[string]*domain.Draft),
		cidMap:   make(map[string]string),
		claims:   make(map[string]*domain.ClaimRecord),
	}
}

// ========== Status Repository ==========

// GetStatusMap 返回指定地址的全部状态记录快照。
func (s *Store) GetStatusMap(address string) (map[string]domain.EmailStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.EmailStatus, len(s.statuses[address]))
	for id, st := range s.statuses[address] {
		out[id] = st
	}
	return out, nil
}

// GetStatus 返回单条状态记录，不存在时返回缺省状态。
func (s *Store) GetStatus(address, messageID string) (domain.EmailStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if st, ok := s.statuses[address][messageID]; ok {
		return st, nil
	}
	return domain.DefaultEmailStatus(), nil
}

// UpsertStatus 合并补丁并返回合并后的记录。
func (s *Store) UpsertStatus(address, messageID string, patch domain.StatusPatch) (domain.EmailStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byUser, ok := s.statuses[address]
	if !ok {
		byUser = make(map[string]domain.EmailStatus)
		s.statuses[address] = byUser
	}

	current, ok := byUser[messageID]
	if !ok {
		current = domain.DefaultEmailStatus()
	}
	merged := patch.Apply(current)
	byUser[messageID] = merged
	return merged, nil
}

// ========== Draft Repository ==========

// SaveDraft 按（草稿ID, 地址）复合键保存草稿。
func (s *Store) SaveDraft(draft *domain.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byUser, ok := s.drafts[draft.Address]
	if !ok {
		byUser = make(map[string]*domain.Draft)
		s.drafts[draft.Address] = byUser
	}
	clone := *draft
	byUser[draft.DraftID] = &clone
	return nil
}

// ListDrafts 返回指定地址的全部草稿，按时间倒序。
func (s *Store) ListDrafts(address string) ([]domain.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Draft, 0, len(s.drafts[address]))
	for _, d := range s.drafts[address] {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})
	return out, nil
}

// DeleteDraft 删除草稿，不存在时返回 ErrDraftNotFound。
func (s *Store) DeleteDraft(draftID, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byUser, ok := s.drafts[address]
	if !ok {
		return storage.ErrDraftNotFound
	}
	if _, ok := byUser[draftID]; !ok {
		return storage.ErrDraftNotFound
	}
	delete(byUser, draftID)
	return nil
}

// ========== CID Map Repository ==========

// SaveCIDMapping 保存哈希到完整 CID 的映射，幂等。
func (s *Store) SaveCIDMapping(cidHash, fullCID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 映射不可变：已有绑定不被后来者覆盖
	if _, ok := s.cidMap[cidHash]; !ok {
		s.cidMap[cidHash] = fullCID
	}
	return nil
}

// GetCIDMapping 按哈希取回完整 CID。
func (s *Store) GetCIDMapping(cidHash string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cid, ok := s.cidMap[cidHash]
	if !ok {
		return "", storage.ErrCIDMappingNotFound
	}
	return cid, nil
}

// ========== Claim Repository ==========

// SaveClaim 保存领取记录。
func (s *Store) SaveClaim(record *domain.ClaimRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *record
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}
	s.claims[record.Code] = &clone
	return nil
}

// GetClaimByCode 按领取码取回记录。
func (s *Store) GetClaimByCode(code string) (*domain.ClaimRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.claims[code]
	if !ok {
		return nil, storage.ErrClaimNotFound
	}
	clone := *record
	return &clone, nil
}

// Close 关闭存储（内存实现无操作）。
func (s *Store) Close() error { return nil }

// Health 健康检查（内存实现恒为健康）。
func (s *Store) Health() error { return nil }
