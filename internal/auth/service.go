// Package auth 实现钱包签名登录。
// 流程：签发一次性挑战 → 钱包对挑战签名 → 校验签名并解析
// 绑定邮箱 → 签发 JWT。签名恢复属于外部身份设施，这里只
// 消费校验能力。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"dexmail/backend/internal/auth/jwt"
	"dexmail/backend/internal/ledger"
)

// 登录相关错误
var (
	ErrChallengeNotFound = errors.New("challenge not found or expired")
	ErrBadSignature      = errors.New("signature verification failed")
	ErrNotRegistered     = errors.New("wallet has no registered mailbox")
)

// challengeTTL 挑战有效期
const challengeTTL = 5 * time.Minute

// SignatureVerifier 校验钱包对消息的签名。
type SignatureVerifier interface {
	VerifySignature(ctx context.Context, wallet, message, signature string) (bool, error)
}

// challenge 一次性签名挑战
type challenge struct {
	message   string
	expiresAt time.Time
}

// Service 钱包登录服务
type Service struct {
	verifier SignatureVerifier
	ledger   ledger.Client
	tokens   *jwt.Manager
	logger   *zap.Logger

	mu         sync.Mutex
	challenges map[string]challenge // 小写钱包地址 -> 挑战
}

// NewService 创建登录服务。
func NewService(verifier SignatureVerifier, ledgerClient ledger.Client, tokens *jwt.Manager, logger *zap.Logger) *Service {
	return &Service{
		verifier:   verifier,
		ledger:     ledgerClient,
		tokens:     tokens,
		logger:     logger,
		challenges: make(map[string]challenge),
	}
}

// Challenge 为钱包地址签发一次性登录挑战。
// 同一地址重复请求会替换旧挑战。
func (s *Service) Challenge(wallet string) (string, error) {
	checksummed, err := ledger.ChecksumAddress(wallet)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	message := fmt.Sprintf(
		"Sign in to DexMail\n\nWallet: %s\nNonce: %s\nIssued: %s",
		checksummed,
		hex.EncodeToString(nonce),
		time.Now().UTC().Format(time.RFC3339),
	)

	key := ledger.NormalizeAddress(wallet)
	s.mu.Lock()
	s.challenges[key] = challenge{
		message:   message,
		expiresAt: time.Now().Add(challengeTTL),
	}
	s.mu.Unlock()

	return message, nil
}

// Login 校验签名并签发令牌对。
//
// 挑战是一次性的：无论校验结果如何都作废，防止重放。
func (s *Service) Login(ctx context.Context, wallet, signature string) (*jwt.TokenPair, string, error) {
	key := ledger.NormalizeAddress(wallet)

	s.mu.Lock()
	ch, ok := s.challenges[key]
	delete(s.challenges, key)
	s.mu.Unlock()

	if !ok || time.Now().After(ch.expiresAt) {
		return nil, "", ErrChallengeNotFound
	}

	valid, err := s.verifier.VerifySignature(ctx, wallet, ch.message, signature)
	if err != nil {
		return nil, "", fmt.Errorf("signature verification unavailable: %w", err)
	}
	if !valid {
		s.logger.Warn("wallet login rejected", zap.String("wallet", wallet))
		return nil, "", ErrBadSignature
	}

	email, err := s.ledger.AddressToEmail(ctx, wallet)
	if err != nil {
		return nil, "", fmt.Errorf("mailbox lookup failed: %w", err)
	}
	if email == "" {
		return nil, "", ErrNotRegistered
	}

	checksummed, err := ledger.ChecksumAddress(wallet)
	if err != nil {
		return nil, "", err
	}

	pair, err := s.tokens.GenerateTokenPair(checksummed, email)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("wallet login succeeded",
		zap.String("wallet", checksummed),
		zap.String("email", email))
	return pair, email, nil
}

// Refresh 用刷新令牌换新的访问令牌。
func (s *Service) Refresh(refreshToken string) (string, error) {
	return s.tokens.RefreshAccessToken(refreshToken)
}

// Validate 验证访问令牌。
func (s *Service) Validate(token string) (*jwt.Claims, error) {
	return s.tokens.ValidateToken(token)
}

// PruneExpired 清理过期挑战，由定时任务触发。
func (s *Service) PruneExpired() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, ch := range s.challenges {
		if now.After(ch.expiresAt) {
			delete(s.challenges, key)
			n++
		}
	}
	return n
}
