package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// RelayerClient 通过中继服务 REST 接口访问邮件索引合约
type RelayerClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewRelayerClient 创建中继客户端。
func NewRelayerClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *RelayerClient {
	return &RelayerClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

// relayerEnvelope 中继服务的统一响应格式
type relayerEnvelope struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// doJSON 发起请求并解开响应信封，把 Data 解码到 out。
func (c *RelayerClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode relayer request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build relayer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("relayer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrMailNotFound
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("relayer returned status %d", resp.StatusCode)
	}

	var envelope relayerEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode relayer response: %w", err)
	}
	if !envelope.OK {
		if resp.StatusCode == http.StatusUnprocessableEntity {
			return fmt.Errorf("%w: %s", ErrRelayerRejected, envelope.Error)
		}
		return fmt.Errorf("relayer error: %s", envelope.Error)
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode relayer payload: %w", err)
		}
	}
	return nil
}

// txResult 交易类接口的响应
type txResult struct {
	TxHash string `json:"txHash"`
}

// IsRecipientRegistered 查询邮箱的注册与钱包部署状态。
func (c *RelayerClient) IsRecipientRegistered(ctx context.Context, email string) (Registration, error) {
	var reg Registration
	path := "/v1/registry/" + url.PathEscape(email)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &reg); err != nil {
		return Registration{}, err
	}
	return reg, nil
}

// AddressToEmail 反查钱包地址绑定的邮箱。
func (c *RelayerClient) AddressToEmail(ctx context.Context, address string) (string, error) {
	var result struct {
		Email string `json:"email"`
	}
	path := "/v1/registry/address/" + url.PathEscape(NormalizeAddress(address))
	err := c.doJSON(ctx, http.MethodGet, path, nil, &result)
	if err == ErrMailNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return result.Email, nil
}

// GetMail 按索引 ID 读取邮件记录。
func (c *RelayerClient) GetMail(ctx context.Context, id uint64) (*MailEntry, error) {
	var entry MailEntry
	path := "/v1/mail/" + strconv.FormatUint(id, 10)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetInbox 返回发给指定邮箱的索引 ID 列表。
func (c *RelayerClient) GetInbox(ctx context.Context, email string) ([]uint64, error) {
	var ids []uint64
	path := "/v1/inbox/" + url.PathEscape(email)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// SentEvents 返回区块窗口内的 MailSent 事件。
func (c *RelayerClient) SentEvents(ctx context.Context, sender string, fromBlock, toBlock uint64) ([]SentEvent, error) {
	var events []SentEvent
	path := fmt.Sprintf("/v1/events/sent/%s?from=%d&to=%d",
		url.PathEscape(NormalizeAddress(sender)), fromBlock, toBlock)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// LatestBlock 返回最新区块高度。
func (c *RelayerClient) LatestBlock(ctx context.Context) (uint64, error) {
	var result struct {
		Block uint64 `json:"block"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/chain/head", nil, &result); err != nil {
		return 0, err
	}
	return result.Block, nil
}

// IndexMail 提交纯索引交易。
func (c *RelayerClient) IndexMail(ctx context.Context, cidHash, recipient string, isExternal, hasCrypto bool) (string, error) {
	body := map[string]interface{}{
		"cidHash":    cidHash,
		"recipient":  recipient,
		"isExternal": isExternal,
		"hasCrypto":  hasCrypto,
	}
	var result txResult
	if err := c.doJSON(ctx, http.MethodPost, "/v1/mail", body, &result); err != nil {
		return "", err
	}
	c.logger.Debug("mail index transaction submitted",
		zap.String("tx_hash", result.TxHash),
		zap.String("recipient", recipient))
	return result.TxHash, nil
}

// SendMailWithCrypto 提交索引 + 首笔资产转移的合并交易。
func (c *RelayerClient) SendMailWithCrypto(ctx context.Context, req CryptoSend) (string, error) {
	var result txResult
	if err := c.doJSON(ctx, http.MethodPost, "/v1/mail/crypto", req, &result); err != nil {
		return "", err
	}
	c.logger.Debug("crypto mail transaction submitted",
		zap.String("tx_hash", result.TxHash),
		zap.String("recipient", req.Recipient),
		zap.Bool("nft", req.IsNFT))
	return result.TxHash, nil
}

// TransferAsset 提交独立的次级资产转移。
func (c *RelayerClient) TransferAsset(ctx context.Context, req AssetTransfer) (string, error) {
	var result txResult
	if err := c.doJSON(ctx, http.MethodPost, "/v1/transfer", req, &result); err != nil {
		return "", err
	}
	return result.TxHash, nil
}

// ApproveERC20 预授权合约划转 ERC-20 资金。
func (c *RelayerClient) ApproveERC20(ctx context.Context, token, amount string) error {
	body := map[string]string{"token": token, "amount": amount}
	return c.doJSON(ctx, http.MethodPost, "/v1/approve", body, nil)
}

// VerifySignature 校验钱包对消息的 personal_sign 签名。
// 椭圆曲线恢复在中继侧完成，后端只消费结果。
func (c *RelayerClient) VerifySignature(ctx context.Context, wallet, message, signature string) (bool, error) {
	body := map[string]string{
		"wallet":    NormalizeAddress(wallet),
		"message":   message,
		"signature": signature,
	}
	var result struct {
		Valid bool `json:"valid"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/verify", body, &result); err != nil {
		return false, err
	}
	return result.Valid, nil
}

// Health 中继服务连通性检查。
func (c *RelayerClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relayer health check returned status %d", resp.StatusCode)
	}
	return nil
}
