// Package bridge 对接传统邮件世界。
// 出站把链上邮件投递给外部 SMTP 收件人（经邮件服务商 API），
// 入站把服务商回调的外部邮件解析成内部格式。
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// OutboundMessage 出站投递的内容
type OutboundMessage struct {
	To           string
	Subject      string
	TextBody     string
	HTMLBody     string
	OriginalFrom string // 链上发件人邮箱
}

// Sender 外部投递接口
type Sender interface {
	Deliver(ctx context.Context, msg *OutboundMessage) error
}

// APIClient 通过邮件服务商 REST API 投递
type APIClient struct {
	endpoint   string
	apiKey     string
	mailDomain string // 平台自有域名，小写
	noReply    string // 非平台发件人的隐匿 From 地址
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewAPIClient 创建出站投递客户端。rps 限制对服务商的请求速率。
func NewAPIClient(endpoint, apiKey, mailDomain string, rps float64, timeout time.Duration, logger *zap.Logger) *APIClient {
	domain := strings.ToLower(mailDomain)
	return &APIClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		mailDomain: domain,
		noReply:    "no-reply@" + domain,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		logger:     logger,
	}
}

// apiAddress 服务商 API 的地址对象
type apiAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// apiPayload 服务商 API 的发送请求体
type apiPayload struct {
	Personalizations []struct {
		To []apiAddress `json:"to"`
	} `json:"personalizations"`
	From    apiAddress `json:"from"`
	ReplyTo apiAddress `json:"reply_to"`
	Subject string     `json:"subject"`
	Content []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"content"`
}

// Deliver 投递一封出站邮件。
func (c *APIClient) Deliver(ctx context.Context, msg *OutboundMessage) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	// 平台域发件人直接透出，其余用 no-reply 隐匿以保住
	// SPF/DKIM 对齐；回信地址永远指向真实发件人。
	fromEmail := c.noReply
	if strings.HasSuffix(strings.ToLower(msg.OriginalFrom), "@"+c.mailDomain) {
		fromEmail = msg.OriginalFrom
	}
	payload := apiPayload{
		From: apiAddress{
			Email: fromEmail,
			Name:  msg.OriginalFrom,
		},
		ReplyTo: apiAddress{Email: msg.OriginalFrom},
		Subject: msg.Subject,
	}
	payload.Personalizations = append(payload.Personalizations, struct {
		To []apiAddress `json:"to"`
	}{To: []apiAddress{{Email: msg.To}}})

	// 服务商要求 text/plain 在 text/html 之前
	if msg.TextBody != "" {
		payload.Content = append(payload.Content, struct {
			Type  string `json:"type"`
			Value string `json:"value"`
		}{Type: "text/plain", Value: msg.TextBody})
	}
	if msg.HTMLBody != "" {
		payload.Content = append(payload.Content, struct {
			Type  string `json:"type"`
			Value string `json:"value"`
		}{Type: "text/html", Value: msg.HTMLBody})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode delivery payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delivery request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("delivery provider returned status %d: %s", resp.StatusCode, string(detail))
	}

	c.logger.Info("external mail delivered",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject))
	return nil
}
