package cidmap

import (
	"context"
	"errors"

	"dexmail/backend/internal/storage"
)

// RepoStore 把存储层的映射仓库适配成 Store 接口。
//
// 服务进程自身就是权威映射服务时用它充当分层存储的
// 权威一层，映射直接落到 SQL/内存存储。
type RepoStore struct {
	repo storage.CIDMapRepository
}

// NewRepoStore 创建存储仓库适配器。
func NewRepoStore(repo storage.CIDMapRepository) *RepoStore {
	return &RepoStore{repo: repo}
}

// Save 持久化一条映射。
func (r *RepoStore) Save(_ context.Context, cidHash, fullCID string) error {
	return r.repo.SaveCIDMapping(cidHash, fullCID)
}

// Lookup 按哈希取回完整 CID。
func (r *RepoStore) Lookup(_ context.Context, cidHash string) (string, error) {
	fullCID, err := r.repo.GetCIDMapping(cidHash)
	if err != nil {
		if errors.Is(err, storage.ErrCIDMappingNotFound) {
			return "", ErrMappingNotFound
		}
		return "", err
	}
	return fullCID, nil
}
