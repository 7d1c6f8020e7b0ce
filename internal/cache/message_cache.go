package cache

import (
	"sync"

	"dexmail/backend/internal/domain"
)

// MessageCache 按消息 ID 缓存已组装的邮件记录。
//
// 账本记录不可变，所以缓存只增不减、永不过期；命中即可
// 跳过全部网络调用。并发轮询会同时写同一 ID，用
// LoadOrStore 保证先写者胜，不会互相覆盖。
type MessageCache struct {
	entries sync.Map // map[string]*domain.Message
}

// NewMessageCache 创建消息缓存。生命周期跟随登录会话，
// 登出时整体丢弃。
func NewMessageCache() *MessageCache {
	return &MessageCache{}
}

// Get 按消息 ID 读取缓存。
func (c *MessageCache) Get(id string) (*domain.Message, bool) {
	val, ok := c.entries.Load(id)
	if !ok {
		return nil, false
	}
	return val.(*domain.Message), true
}

// Put 写入缓存，已存在时保留旧值并返回它。
func (c *MessageCache) Put(id string, msg *domain.Message) *domain.Message {
	actual, _ := c.entries.LoadOrStore(id, msg)
	return actual.(*domain.Message)
}

// Len 返回缓存条目数。
func (c *MessageCache) Len() int {
	n := 0
	c.entries.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}
