package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dexmail/backend/internal/cache"
	"dexmail/backend/internal/domain"
	"dexmail/backend/internal/monitoring"
	"dexmail/backend/internal/pool"
	"dexmail/backend/internal/storage"
	"dexmail/backend/internal/websocket"
)

// 邮箱视图轮询间隔
const pollInterval = 10 * time.Second

// Session 一个已登录身份的邮箱会话。
//
// 持有该身份的消息缓存与状态缓存，生命周期从登录到登出。
// 轮询周期允许重叠：取数结果都是不可变账本状态的纯函数，
// 缓存写入是合并安全的，重叠最多浪费一点工作量。
type Session struct {
	Identity Identity

	mailbox  *MailboxService
	status   *StatusService
	msgCache *cache.MessageCache
	hub      *websocket.Hub
	metrics  *monitoring.Metrics // 可为 nil（测试）
	logger   *zap.Logger

	// generation 会话代次。登出时递增，在途刷新完成后
	// 对比发现代次已变就丢弃结果。
	generation atomic.Int64

	mu       sync.RWMutex
	view     []domain.MailboxEntry
	knownIDs map[string]bool
}

// Refresh 并行拉取收件箱与发件箱，合并出最新视图。
//
// 两路取数相互独立，顺序只在各自内部有保证。
func (s *Session) Refresh(ctx context.Context) ([]domain.MailboxEntry, error) {
	start := time.Now()
	entries, err := s.refresh(ctx)
	if s.metrics != nil && err != context.Canceled {
		result := "success"
		if err != nil {
			result = "error"
		}
		s.metrics.RecordPollCycle(result, time.Since(start))
	}
	return entries, err
}

func (s *Session) refresh(ctx context.Context) ([]domain.MailboxEntry, error) {
	gen := s.generation.Load()

	var inbox, sent []domain.Message
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		inbox, err = s.mailbox.ListInbox(gctx, s.Identity, s.msgCache)
		return err
	})
	g.Go(func() error {
		var err error
		sent, err = s.mailbox.ListSent(gctx, s.Identity, s.msgCache)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	drafts, err := s.mailbox.ListDrafts(s.Identity)
	if err != nil {
		s.logger.Warn("draft listing failed", zap.Error(err))
		drafts = nil
	}

	entries := s.mailbox.MergeView(s.Identity, inbox, sent, drafts, s.status.Snapshot())

	// 刷新期间会话被登出/重建，结果作废
	if s.generation.Load() != gen {
		return nil, context.Canceled
	}

	s.publish(entries, inbox)
	return entries, nil
}

// publish 更新会话视图并推送新邮件通知。
func (s *Session) publish(entries []domain.MailboxEntry, inbox []domain.Message) {
	s.mu.Lock()
	first := s.knownIDs == nil
	if first {
		s.knownIDs = make(map[string]bool)
	}
	fresh := make([]domain.Message, 0)
	for _, msg := range inbox {
		if !s.knownIDs[msg.MessageID] {
			s.knownIDs[msg.MessageID] = true
			if !first {
				fresh = append(fresh, msg)
			}
		}
	}
	s.view = entries
	s.mu.Unlock()

	if s.hub == nil {
		return
	}

	unread, total := 0, 0
	for _, e := range entries {
		if e.Category == domain.CategoryInbox {
			total++
			if !e.Read {
				unread++
			}
		}
	}
	s.hub.NotifyMailboxUpdate(s.Identity.Email, unread, total)

	for _, msg := range fresh {
		entry := buildEntry(msg, s.status.Snapshot(), true)
		s.hub.NotifyNewMail(s.Identity.Email, &entry)
	}
}

// View 返回最近一次刷新产生的视图副本。
func (s *Session) View() []domain.MailboxEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.MailboxEntry, len(s.view))
	copy(out, s.view)
	return out
}

// Status 返回会话的状态服务。
func (s *Session) Status() *StatusService {
	return s.status
}

// SessionManager 管理全部活跃会话并驱动轮询。
type SessionManager struct {
	mailbox    *MailboxService
	statusRepo storage.StatusRepository
	pusher     *pool.WorkerPool
	hub        *websocket.Hub
	metrics    *monitoring.Metrics // 可为 nil（测试）
	logger     *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session // 小写邮箱地址 -> 会话
}

// NewSessionManager 创建会话管理器。
func NewSessionManager(
	mailbox *MailboxService,
	statusRepo storage.StatusRepository,
	pusher *pool.WorkerPool,
	hub *websocket.Hub,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
) *SessionManager {
	return &SessionManager{
		mailbox:    mailbox,
		statusRepo: statusRepo,
		pusher:     pusher,
		hub:        hub,
		metrics:    metrics,
		logger:     logger,
		sessions:   make(map[string]*Session),
	}
}

// Start 为身份建立会话，加载远端状态表。
// 已有会话时直接复用（Initialize 幂等）。
func (m *SessionManager) Start(id Identity) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[id.Email]; ok {
		return existing, nil
	}

	status := NewStatusService(m.statusRepo, m.pusher, m.metrics, m.logger)
	if err := status.Initialize(id.Email); err != nil {
		return nil, err
	}

	session := &Session{
		Identity: id,
		mailbox:  m.mailbox,
		status:   status,
		msgCache: cache.NewMessageCache(),
		hub:      m.hub,
		metrics:  m.metrics,
		logger:   m.logger.With(zap.String("session", id.Email)),
	}
	m.sessions[id.Email] = session

	if m.metrics != nil {
		m.metrics.UpdateSessionsActive(len(m.sessions))
	}
	m.logger.Info("session started",
		zap.String("email", id.Email),
		zap.String("wallet", id.Wallet))
	return session, nil
}

// Get 返回地址对应的活跃会话。
func (m *SessionManager) Get(email string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[email]
	return session, ok
}

// End 结束会话，丢弃其缓存；在途刷新按代次检测后作废。
func (m *SessionManager) End(email string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session, ok := m.sessions[email]; ok {
		session.generation.Add(1)
		delete(m.sessions, email)
		if m.metrics != nil {
			m.metrics.UpdateSessionsActive(len(m.sessions))
		}
		m.logger.Info("session ended", zap.String("email", email))
	}
}

// RunPoller 按固定间隔刷新全部活跃会话，直到 ctx 结束。
//
// 每轮刷新各会话并行提交，不等上一轮完成——重叠轮询是
// 接受的取舍，缓存写入合并安全。
func (m *SessionManager) RunPoller(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("mailbox poller stopped")
			return
		case <-ticker.C:
			m.mu.RLock()
			sessions := make([]*Session, 0, len(m.sessions))
			for _, s := range m.sessions {
				sessions = append(sessions, s)
			}
			m.mu.RUnlock()

			for _, session := range sessions {
				session := session
				go func() {
					refreshCtx, cancel := context.WithTimeout(ctx, pollInterval)
					defer cancel()
					if _, err := session.Refresh(refreshCtx); err != nil && err != context.Canceled {
						m.logger.Warn("mailbox refresh failed",
							zap.String("email", session.Identity.Email),
							zap.Error(err))
					}
				}()
			}
		}
	}
}

// SweepTrash 对所有活跃会话执行回收站保留期扫描。
func (m *SessionManager) SweepTrash() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	now := time.Now()
	for _, session := range sessions {
		session.status.SweepTrash(now)
	}
}

// RunRetentionSweeper 定期触发回收站保留期扫描。
func (m *SessionManager) RunRetentionSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SweepTrash()
		}
	}
}
