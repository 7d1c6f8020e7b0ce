package service

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dexmail/backend/internal/cache"
	"dexmail/backend/internal/cidmap"
	"dexmail/backend/internal/content"
	"dexmail/backend/internal/domain"
	"dexmail/backend/internal/ledger"
	"dexmail/backend/internal/monitoring"
	"dexmail/backend/internal/storage"
)

// 发件箱只回溯最近这么多个区块的事件，不扫全链历史
const sentBlockWindow = 50000

// 列表预览截断长度
const previewLength = 100

// 单次列表组装的并发取数上限
const fetchConcurrency = 8

// Identity 已认证的用户身份
type Identity struct {
	Email  string
	Wallet string
}

// MailboxService 把三个独立数据源（链上索引、内容存储、
// 状态存储）合并成统一的邮箱视图。
type MailboxService struct {
	ledger  ledger.Client
	content *content.Client
	cidMap  cidmap.Store
	drafts  storage.DraftRepository
	metrics *monitoring.Metrics // 可为 nil（测试）
	logger  *zap.Logger
}

// NewMailboxService 创建邮箱视图服务。
func NewMailboxService(
	ledgerClient ledger.Client,
	contentClient *content.Client,
	cidMap cidmap.Store,
	drafts storage.DraftRepository,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
) *MailboxService {
	return &MailboxService{
		ledger:  ledgerClient,
		content: contentClient,
		cidMap:  cidMap,
		drafts:  drafts,
		metrics: metrics,
		logger:  logger,
	}
}

// cacheGet 缓存查询并记录命中率。
func (s *MailboxService) cacheGet(msgCache *cache.MessageCache, key string) (*domain.Message, bool) {
	cached, ok := msgCache.Get(key)
	if s.metrics != nil {
		if ok {
			s.metrics.RecordCacheHit()
		} else {
			s.metrics.RecordCacheMiss()
		}
	}
	return cached, ok
}

// ListInbox 返回收件箱消息，最新在前。
//
// msgCache 由会话层持有，命中的 ID 跳过全部网络调用。
// 单条消息取数失败只降级为占位内容，不中断整个列表。
func (s *MailboxService) ListInbox(ctx context.Context, id Identity, msgCache *cache.MessageCache) ([]domain.Message, error) {
	ids, err := s.ledger.GetInbox(ctx, id.Email)
	if err != nil {
		return nil, err
	}

	messages := make([]*domain.Message, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)

	for i, mailID := range ids {
		i, mailID := i, mailID
		key := strconv.FormatUint(mailID, 10)
		if cached, ok := s.cacheGet(msgCache, key); ok {
			messages[i] = cached
			continue
		}
		g.Go(func() error {
			msg := s.fetchMessage(gctx, mailID)
			messages[i] = msgCache.Put(key, msg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// 链上是插入序，取反得到最新在前
	out := make([]domain.Message, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		out = append(out, *messages[i])
	}
	return out, nil
}

// fetchMessage 组装一条收件消息：链上记录 + 别名解析 + 正文。
func (s *MailboxService) fetchMessage(ctx context.Context, mailID uint64) *domain.Message {
	key := strconv.FormatUint(mailID, 10)

	entry, err := s.ledger.GetMail(ctx, mailID)
	if err != nil {
		s.logger.Warn("mail record fetch failed",
			zap.Uint64("mail_id", mailID), zap.Error(err))
		return placeholderMessage(key)
	}

	from := s.resolveSender(ctx, entry)
	msg := &domain.Message{
		MessageID:  key,
		From:       from,
		To:         []string{entry.RecipientEmail},
		Timestamp:  entry.Timestamp,
		HasCrypto:  entry.HasCrypto,
		CIDHash:    entry.CIDHash,
		IsExternal: entry.IsExternal,
	}
	s.attachContent(ctx, msg)
	return msg
}

// resolveSender 发件人别名解析：外部邮件用原始发件人，
// 平台邮件反查地址绑定的邮箱，失败就退回裸地址。
func (s *MailboxService) resolveSender(ctx context.Context, entry *ledger.MailEntry) string {
	if entry.IsExternal && entry.OriginalSender != "" {
		return entry.OriginalSender
	}
	email, err := s.ledger.AddressToEmail(ctx, entry.Sender)
	if err != nil {
		s.logger.Debug("sender alias lookup failed",
			zap.String("sender", entry.Sender), zap.Error(err))
		return entry.Sender
	}
	if email == "" {
		return entry.Sender
	}
	return email
}

// attachContent 解析 CID 映射并取回正文，失败降级为占位内容。
func (s *MailboxService) attachContent(ctx context.Context, msg *domain.Message) {
	cid, err := s.cidMap.Lookup(ctx, msg.CIDHash)
	if err != nil {
		s.logger.Warn("cid mapping unresolved",
			zap.String("cid_hash", msg.CIDHash), zap.Error(err))
		msg.Subject = "(content unavailable)"
		return
	}

	blob, err := s.content.Fetch(ctx, cid)
	if err != nil {
		s.logger.Warn("content fetch failed",
			zap.String("cid", cid), zap.Error(err))
		msg.Subject = "(content unavailable)"
		return
	}

	msg.Subject = blob.Subject
	msg.Body = blob.Body
	msg.InReplyTo = blob.InReplyTo
	if len(blob.To) > 0 {
		msg.To = blob.To
	}
}

// placeholderMessage 单条消息不可用时的占位条目。
// 一封坏消息不能拖垮整个邮箱列表。
func placeholderMessage(id string) *domain.Message {
	return &domain.Message{
		MessageID: id,
		Subject:   "(content unavailable)",
	}
}

// ListSent 返回发件箱消息，最新在前。
//
// 只查询最近 sentBlockWindow 个区块内的 MailSent 事件，
// 这是范围与性能的权衡，不保证覆盖全部历史。
func (s *MailboxService) ListSent(ctx context.Context, id Identity, msgCache *cache.MessageCache) ([]domain.Message, error) {
	head, err := s.ledger.LatestBlock(ctx)
	if err != nil {
		return nil, err
	}
	var from uint64
	if head > sentBlockWindow {
		from = head - sentBlockWindow
	}

	events, err := s.ledger.SentEvents(ctx, id.Wallet, from, head)
	if err != nil {
		return nil, err
	}

	messages := make([]*domain.Message, len(events))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)

	for i, ev := range events {
		i, ev := i, ev
		key := strconv.FormatUint(ev.MailID, 10)
		if cached, ok := s.cacheGet(msgCache, key); ok {
			messages[i] = cached
			continue
		}
		g.Go(func() error {
			msg := &domain.Message{
				MessageID: key,
				From:      id.Email,
				To:        []string{ev.RecipientEmail},
				Timestamp: ev.Timestamp,
				CIDHash:   ev.CIDHash,
			}
			s.attachContent(gctx, msg)
			messages[i] = msgCache.Put(key, msg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]domain.Message, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		out = append(out, *messages[i])
	}
	return out, nil
}

// ListDrafts 返回草稿，时间倒序。
func (s *MailboxService) ListDrafts(id Identity) ([]domain.Draft, error) {
	return s.drafts.ListDrafts(id.Email)
}

// MergeView 把收件箱、发件箱、草稿和状态表合并成邮箱视图。
//
// 分类与标签永远从状态表现算，消息缓存只缓存不可变部分。
// 草稿是独立存储类别，直接注入 draft 分类，不参与状态查询。
func (s *MailboxService) MergeView(
	id Identity,
	inbox, sent []domain.Message,
	drafts []domain.Draft,
	statusMap map[string]domain.EmailStatus,
) []domain.MailboxEntry {
	entries := make([]domain.MailboxEntry, 0, len(inbox)+len(sent)+len(drafts))

	for _, msg := range inbox {
		entries = append(entries, buildEntry(msg, statusMap, true))
	}
	for _, msg := range sent {
		entries = append(entries, buildEntry(msg, statusMap, false))
	}
	for _, d := range drafts {
		entries = append(entries, domain.MailboxEntry{
			ID:       d.DraftID,
			Name:     d.To,
			Email:    d.To,
			Subject:  d.Subject,
			Preview:  preview(d.Body),
			Body:     d.Body,
			Date:     time.UnixMilli(d.Timestamp).UTC().Format(time.RFC3339),
			Read:     true,
			Labels:   []string{},
			Category: domain.CategoryDraft,
		})
	}
	return entries
}

// buildEntry 合并单条消息与其最新状态。
func buildEntry(msg domain.Message, statusMap map[string]domain.EmailStatus, received bool) domain.MailboxEntry {
	status, ok := statusMap[msg.MessageID]
	if !ok {
		status = domain.DefaultEmailStatus()
	}

	name := msg.From
	email := msg.From
	if !received {
		if len(msg.To) > 0 {
			name = msg.To[0]
			email = msg.To[0]
		}
		// 自己发出的邮件不存在未读态
		status.Read = true
	}

	labels := status.Labels
	if labels == nil {
		labels = []string{}
	}

	return domain.MailboxEntry{
		ID:        msg.MessageID,
		Name:      name,
		Email:     email,
		Subject:   msg.Subject,
		Preview:   preview(msg.Body),
		Body:      msg.Body,
		Date:      time.Unix(msg.Timestamp, 0).UTC().Format(time.RFC3339),
		Read:      status.Read,
		Labels:    labels,
		Category:  status.Category(received),
		HasCrypto: msg.HasCrypto,
	}
}

// preview 生成列表预览文本。
func preview(body string) string {
	text := strings.TrimSpace(strings.ReplaceAll(body, "\n", " "))
	runes := []rune(text)
	if len(runes) <= previewLength {
		return text
	}
	return string(runes[:previewLength]) + "..."
}

// SortByDate 按日期倒序排序视图条目，供展示层聚合用。
func SortByDate(entries []domain.MailboxEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Date > entries[j].Date
	})
}
