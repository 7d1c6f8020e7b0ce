package service

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"dexmail/backend/internal/domain"
	"dexmail/backend/internal/monitoring"
	"dexmail/backend/internal/pool"
	"dexmail/backend/internal/storage"
)

// StatusService 持有单个身份的邮件状态。
//
// 读走进程内缓存（永不阻塞、永不触发网络），写先改缓存、
// 再异步推远端。远端失败只记日志不重试：会话内以内存态
// 为准，远端是尽力而为的持久化。
type StatusService struct {
	repo    storage.StatusRepository
	pusher  *pool.WorkerPool
	metrics *monitoring.Metrics // 可为 nil（测试）
	logger  *zap.Logger

	mu       sync.RWMutex
	address  string
	statuses map[string]domain.EmailStatus
	loaded   bool
}

// NewStatusService 创建状态服务。pusher 执行后台远端同步。
func NewStatusService(repo storage.StatusRepository, pusher *pool.WorkerPool, metrics *monitoring.Metrics, logger *zap.Logger) *StatusService {
	return &StatusService{
		repo:    repo,
		pusher:  pusher,
		metrics: metrics,
		logger:  logger,
	}
}

// Initialize 一次性加载指定身份的完整远端状态表。
//
// 幂等：缓存已就位且身份未变时直接返回。切换身份会丢弃
// 旧缓存重新加载。
func (s *StatusService) Initialize(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded && s.address == address {
		return nil
	}

	statuses, err := s.repo.GetStatusMap(address)
	if err != nil {
		return err
	}
	s.address = address
	s.statuses = statuses
	s.loaded = true

	s.logger.Debug("status map loaded",
		zap.String("address", address),
		zap.Int("records", len(statuses)))
	return nil
}

// Get 只读内存缓存，记录不存在时返回缺省状态。
func (s *StatusService) Get(messageID string) domain.EmailStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if status, ok := s.statuses[messageID]; ok {
		return status
	}
	return domain.DefaultEmailStatus()
}

// Snapshot 返回当前缓存的全量状态表副本，供视图合并用。
func (s *StatusService) Snapshot() map[string]domain.EmailStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.EmailStatus, len(s.statuses))
	for id, status := range s.statuses {
		out[id] = status
	}
	return out
}

// Update 把补丁同步合并进缓存（写后读立即可见），
// 然后把合并结果异步推到远端存储。
func (s *StatusService) Update(messageID string, patch domain.StatusPatch) domain.EmailStatus {
	s.mu.Lock()
	current, ok := s.statuses[messageID]
	if !ok {
		current = domain.DefaultEmailStatus()
	}
	merged := patch.Apply(current)
	if s.statuses == nil {
		s.statuses = make(map[string]domain.EmailStatus)
	}
	s.statuses[messageID] = merged
	address := s.address
	s.mu.Unlock()

	// 后台推送：不等待、不重试、不向调用方暴露失败
	s.pusher.Submit(func() {
		if _, err := s.repo.UpsertStatus(address, messageID, patch); err != nil {
			s.logger.Warn("remote status push failed",
				zap.String("address", address),
				zap.String("message_id", messageID),
				zap.Error(err))
			s.recordWrite("error")
			return
		}
		s.recordWrite("success")
	})
	return merged
}

func (s *StatusService) recordWrite(result string) {
	if s.metrics != nil {
		s.metrics.RecordStatusWrite(result)
	}
}

// 约定俗成的状态迁移：进垃圾箱清归档和删除标记，
// 进归档清垃圾和删除标记，进回收站清垃圾和归档并盖删除时间戳。

// MarkRead 标记已读/未读。
func (s *StatusService) MarkRead(messageID string, read bool) domain.EmailStatus {
	return s.Update(messageID, domain.StatusPatch{Read: &read})
}

// MarkSpam 移入/移出垃圾邮件。
func (s *StatusService) MarkSpam(messageID string, spam bool) domain.EmailStatus {
	f := false
	patch := domain.StatusPatch{Spam: &spam}
	if spam {
		patch.Archived = &f
		patch.Deleted = &f
	}
	return s.Update(messageID, patch)
}

// Archive 移入/移出归档。
func (s *StatusService) Archive(messageID string, archived bool) domain.EmailStatus {
	f := false
	patch := domain.StatusPatch{Archived: &archived}
	if archived {
		patch.Spam = &f
		patch.Deleted = &f
	}
	return s.Update(messageID, patch)
}

// Trash 移入回收站并记录删除时间。
func (s *StatusService) Trash(messageID string) domain.EmailStatus {
	t, f := true, false
	now := time.Now().UnixMilli()
	return s.Update(messageID, domain.StatusPatch{
		Deleted:   &t,
		DeletedAt: &now,
		Spam:      &f,
		Archived:  &f,
	})
}

// Restore 从回收站恢复，只清删除标记。
func (s *StatusService) Restore(messageID string) domain.EmailStatus {
	f := false
	return s.Update(messageID, domain.StatusPatch{Deleted: &f})
}

// SetLabels 整体替换标签集合。
func (s *StatusService) SetLabels(messageID string, labels []string) domain.EmailStatus {
	return s.Update(messageID, domain.StatusPatch{Labels: &labels})
}

// SweepTrash 扫描回收站，把超过保留期的记录标记为 purged。
// 纯元数据标记，不删除记录或内容。返回标记数量。
func (s *StatusService) SweepTrash(now time.Time) int {
	s.mu.RLock()
	due := make([]string, 0)
	for id, status := range s.statuses {
		if !status.Purged && status.PurgeDue(now) {
			due = append(due, id)
		}
	}
	s.mu.RUnlock()

	t := true
	for _, id := range due {
		s.Update(id, domain.StatusPatch{Purged: &t})
	}
	if len(due) > 0 {
		s.logger.Info("trash retention sweep",
			zap.Int("purged", len(due)))
	}
	return len(due)
}
