package cidmap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// RemoteStore 走映射服务 REST 接口的远端层
type RemoteStore struct {
	baseURL    string
	httpClient *http.Client
}

// NewRemoteStore 创建远端映射存储。
func NewRemoteStore(baseURL string, timeout time.Duration) *RemoteStore {
	return &RemoteStore{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Save 登记映射。
func (s *RemoteStore) Save(ctx context.Context, cidHash, fullCID string) error {
	payload, err := json.Marshal(map[string]string{
		"cidHash": cidHash,
		"fullCid": fullCID,
	})
	if err != nil {
		return fmt.Errorf("failed to encode cid mapping: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/cid/store", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build mapping request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mapping request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("mapping service returned status %d", resp.StatusCode)
	}
	return nil
}

// Lookup 按哈希取回完整 CID。
func (s *RemoteStore) Lookup(ctx context.Context, cidHash string) (string, error) {
	path := s.baseURL + "/v1/cid/retrieve?cidHash=" + url.QueryEscape(cidHash)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build mapping request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("mapping request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrMappingNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("mapping service returned status %d", resp.StatusCode)
	}

	// 映射服务是另一个后端实例，响应包在统一的 {code,msg,data} 信封里
	var result struct {
		Data struct {
			FullCID string `json:"fullCid"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode mapping response: %w", err)
	}
	if result.Data.FullCID == "" {
		return "", ErrMappingNotFound
	}
	return result.Data.FullCID, nil
}
