// Package claim 处理发给未注册收件人的资产领取码。
// 收件人还没有绑定钱包时，资产托管在合约里，
// 邮件正文附带领取码，收件人注册后凭码提取。
package claim

import (
	"crypto/rand"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dexmail/backend/internal/domain"
	"dexmail/backend/internal/storage"
)

// 领取码格式：三个大写字母 + 连字符 + 三位数字，如 KXD-471。
// 字母表去掉了易混淆的 I/O。
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ"

var codePattern = regexp.MustCompile(`^[A-HJ-NP-Z]{3}-[0-9]{3}$`)

// GenerateCode 生成一个随机领取码。
func GenerateCode() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate claim code: %w", err)
	}

	var b strings.Builder
	for i := 0; i < 3; i++ {
		b.WriteByte(codeAlphabet[int(buf[i])%len(codeAlphabet)])
	}
	b.WriteByte('-')
	for i := 3; i < 6; i++ {
		b.WriteByte('0' + buf[i]%10)
	}
	return b.String(), nil
}

// ValidCode 校验领取码格式。
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// Service 领取码的生成与查验
type Service struct {
	repo    storage.ClaimRepository
	baseURL string // 领取页根地址
	logger  *zap.Logger
}

// NewService 创建领取码服务。
func NewService(repo storage.ClaimRepository, baseURL string, logger *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// Register 登记一条托管转账记录。领取码由调用方提前生成
// （发送流程要先把码写进正文，交易成功后才登记）。
func (s *Service) Register(record *domain.ClaimRecord) error {
	if !ValidCode(record.Code) {
		return fmt.Errorf("invalid claim code format: %s", record.Code)
	}
	// 主键由这里兜底，SQL 存储的行主键不能为空
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if err := s.repo.SaveClaim(record); err != nil {
		return fmt.Errorf("failed to register claim: %w", err)
	}

	s.logger.Info("claim code registered",
		zap.String("code", record.Code),
		zap.String("recipient", record.Recipient),
		zap.Bool("direct", record.IsDirect))
	return nil
}

// Lookup 按领取码查询托管记录。
func (s *Service) Lookup(code string) (*domain.ClaimRecord, error) {
	if !ValidCode(code) {
		return nil, storage.ErrClaimNotFound
	}
	return s.repo.GetClaimByCode(code)
}

// URL 返回领取页完整链接。
func (s *Service) URL(code string) string {
	return s.baseURL + "/claim?code=" + url.QueryEscape(code)
}
