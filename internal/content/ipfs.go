// Package content 负责邮件正文的 IPFS 存取。
// 正文以 JSON 文档固定到 pinning 服务，读取走公共网关。
package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"dexmail/backend/internal/domain"
)

// ErrContentNotFound 网关上找不到指定 CID 的内容
var ErrContentNotFound = errors.New("content not found on gateway")

// Client IPFS 内容客户端
type Client struct {
	pinURL     string // pinning 服务上传端点
	pinToken   string
	gatewayURL string // 读取网关根地址，如 https://ipfs.io/ipfs/
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient 创建 IPFS 内容客户端。
func NewClient(pinURL, pinToken, gatewayURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		pinURL:     pinURL,
		pinToken:   pinToken,
		gatewayURL: strings.TrimSuffix(gatewayURL, "/") + "/",
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// pinResponse pinning 服务的响应
type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
	PinSize  int64  `json:"PinSize"`
}

// Pin 将邮件正文固定到 IPFS，返回完整 CID。
func (c *Client) Pin(ctx context.Context, blob *domain.ContentBlob) (string, error) {
	payload, err := json.Marshal(blob)
	if err != nil {
		return "", fmt.Errorf("failed to encode content blob: %w", err)
	}

	body := map[string]json.RawMessage{"pinataContent": payload}
	reqBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode pin request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pinURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to build pin request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.pinToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.pinToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("pin request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("pin service returned status %d: %s", resp.StatusCode, string(msg))
	}

	var result pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode pin response: %w", err)
	}
	if result.IpfsHash == "" {
		return "", errors.New("pin service returned empty cid")
	}

	c.logger.Debug("content pinned",
		zap.String("cid", result.IpfsHash),
		zap.Int64("size", result.PinSize))
	return result.IpfsHash, nil
}

// Fetch 按完整 CID 从网关读取邮件正文。
func (c *Client) Fetch(ctx context.Context, cid string) (*domain.ContentBlob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.gatewayURL+cid, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build gateway request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrContentNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	var blob domain.ContentBlob
	if err := json.NewDecoder(resp.Body).Decode(&blob); err != nil {
		return nil, fmt.Errorf("failed to decode content blob: %w", err)
	}
	return &blob, nil
}
