package cidmap

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Tiered 多层映射存储：写入双写，读取先远端后本地。
// 远端故障只降级到本地层，不让发送/读取流程失败。
type Tiered struct {
	remote Store
	local  Store
	logger *zap.Logger
}

// NewTiered 创建分层映射存储。remote 可以为 nil（纯本地模式）。
func NewTiered(remote, local Store, logger *zap.Logger) *Tiered {
	return &Tiered{
		remote: remote,
		local:  local,
		logger: logger,
	}
}

// Save 同时写远端和本地层。本地写失败才算失败，
// 远端失败只记日志，映射仍可从本地解析。
func (t *Tiered) Save(ctx context.Context, cidHash, fullCID string) error {
	if t.remote != nil {
		if err := t.remote.Save(ctx, cidHash, fullCID); err != nil {
			t.logger.Warn("remote cid mapping save failed",
				zap.String("cid_hash", cidHash),
				zap.Error(err))
		}
	}
	return t.local.Save(ctx, cidHash, fullCID)
}

// Lookup 先查远端，查不到或出错再查本地。
func (t *Tiered) Lookup(ctx context.Context, cidHash string) (string, error) {
	if t.remote != nil {
		cid, err := t.remote.Lookup(ctx, cidHash)
		if err == nil {
			return cid, nil
		}
		if !errors.Is(err, ErrMappingNotFound) {
			t.logger.Warn("remote cid mapping lookup failed",
				zap.String("cid_hash", cidHash),
				zap.Error(err))
		}
	}
	return t.local.Lookup(ctx, cidHash)
}
