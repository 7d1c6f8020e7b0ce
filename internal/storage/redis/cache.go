package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dexmail/backend/internal/domain"
)

// 缓存键格式与过期时间。CID 映射不可变，可以长期缓存；
// 状态表会被其他节点修改，过期时间要短。
const (
	statusMapKeyFmt = "dexmail:status:%s"
	cidMapKeyFmt    = "dexmail:cidmap:%s"

	statusMapTTL = 30 * time.Second
	cidMapTTL    = 24 * time.Hour
)

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = errors.New("cache miss")

// Cache 基于 Redis 的只读加速层
type Cache struct {
	client *Client
}

// NewCache 创建 Redis 缓存层。
func NewCache(client *Client) *Cache {
	return &Cache{client: client}
}

// GetStatusMap 读取缓存的地址状态表。
func (c *Cache) GetStatusMap(ctx context.Context, address string) (map[string]domain.EmailStatus, error) {
	key := fmt.Sprintf(statusMapKeyFmt, address)
	data, err := c.client.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached status map: %w", err)
	}

	var statuses map[string]domain.EmailStatus
	if err := json.Unmarshal(data, &statuses); err != nil {
		return nil, fmt.Errorf("failed to decode cached status map: %w", err)
	}
	return statuses, nil
}

// SetStatusMap 写入地址状态表缓存。
func (c *Cache) SetStatusMap(ctx context.Context, address string, statuses map[string]domain.EmailStatus) error {
	data, err := json.Marshal(statuses)
	if err != nil {
		return fmt.Errorf("failed to encode status map: %w", err)
	}
	key := fmt.Sprintf(statusMapKeyFmt, address)
	return c.client.rdb.Set(ctx, key, data, statusMapTTL).Err()
}

// InvalidateStatusMap 状态写入后使缓存失效。
func (c *Cache) InvalidateStatusMap(ctx context.Context, address string) error {
	key := fmt.Sprintf(statusMapKeyFmt, address)
	return c.client.rdb.Del(ctx, key).Err()
}

// GetCIDMapping 读取缓存的 CID 映射。
func (c *Cache) GetCIDMapping(ctx context.Context, cidHash string) (string, error) {
	key := fmt.Sprintf(cidMapKeyFmt, cidHash)
	cid, err := c.client.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", fmt.Errorf("failed to get cached cid mapping: %w", err)
	}
	return cid, nil
}

// SetCIDMapping 写入 CID 映射缓存。
func (c *Cache) SetCIDMapping(ctx context.Context, cidHash, fullCID string) error {
	key := fmt.Sprintf(cidMapKeyFmt, cidHash)
	return c.client.rdb.Set(ctx, key, fullCID, cidMapTTL).Err()
}
