package cidmap

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// LocalStore 文件落地的本地映射层。
// 远端不可用时仍能解析本节点登记过的映射。
type LocalStore struct {
	mu       sync.RWMutex
	path     string
	mappings map[string]string
}

// NewLocalStore 创建本地映射存储并加载已有数据。
func NewLocalStore(path string) (*LocalStore, error) {
	s := &LocalStore{
		path:     path,
		mappings: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cid mapping file: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.mappings); err != nil {
			return nil, fmt.Errorf("failed to parse cid mapping file: %w", err)
		}
	}
	return s, nil
}

// Save 登记映射并落盘。
func (s *LocalStore) Save(_ context.Context, cidHash, fullCID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.mappings[cidHash]; ok && existing == fullCID {
		return nil
	}
	s.mappings[cidHash] = fullCID
	return s.flushLocked()
}

// Lookup 按哈希取回完整 CID。
func (s *LocalStore) Lookup(_ context.Context, cidHash string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cid, ok := s.mappings[cidHash]
	if !ok {
		return "", ErrMappingNotFound
	}
	return cid, nil
}

// flushLocked 原子写盘（临时文件 + rename）。调用方必须持有写锁。
func (s *LocalStore) flushLocked() error {
	data, err := json.MarshalIndent(s.mappings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cid mappings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create cid mapping dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cid mapping file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace cid mapping file: %w", err)
	}
	return nil
}
