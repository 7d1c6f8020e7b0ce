package smtp

import (
	"context"
	"io"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"dexmail/backend/internal/bridge"
	"dexmail/backend/internal/ledger"
	"dexmail/backend/internal/security"
	"dexmail/backend/internal/service"
)

// maxMessageSize 单封邮件大小上限
const maxMessageSize = 25 << 20 // 25MB

// Backend 实现 go-smtp 的 Backend 接口。
//
// 这是一个只接收邮件的 SMTP 入口：外部邮件系统直接投递到
// 平台域时，来件经解析后走与桥接 webhook 相同的入站索引
// 路径。服务器不做中继：
//   - 只接收发往平台域的邮件
//   - 收件人必须在链上注册表中存在
//   - 其他地址一律返回 550 拒绝
type Backend struct {
	delivery   *service.DeliveryService
	registry   ledger.Client
	mailDomain string
	limiter    *ConnectionLimiter
	filter     *security.InboundFilter
	logger     *zap.Logger
}

// NewBackend 创建 SMTP Backend。
func NewBackend(
	delivery *service.DeliveryService,
	registry ledger.Client,
	mailDomain string,
	limiter *ConnectionLimiter,
	logger *zap.Logger,
) *Backend {
	return &Backend{
		delivery:   delivery,
		registry:   registry,
		mailDomain: strings.ToLower(mailDomain),
		limiter:    limiter,
		filter:     security.NewInboundFilter(),
		logger:     logger,
	}
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	if b.limiter != nil && !b.limiter.Acquire() {
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "too many connections, try again later",
		}
	}
	return &session{backend: b}, nil
}

type session struct {
	backend     *Backend
	fromAddress string
	recipients  []string
	released    bool
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, opts *gosmtp.MailOptions) error {
	s.fromAddress = normalizeAddress(from)
	return nil
}

// Rcpt 处理 RCPT 命令。
//
// 防中继的核心：只接受平台域内已注册的收件人，
// 其余地址一律拒绝。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := normalizeAddress(to)

	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}

	if addr[at+1:] != s.backend.mailDomain {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "relay access denied - domain not managed by this server",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reg, err := s.backend.registry.IsRecipientRegistered(ctx, addr)
	if err != nil {
		// 注册表暂时不可用，返回临时错误让发件方重试
		s.backend.logger.Warn("recipient registry lookup failed",
			zap.String("recipient", addr), zap.Error(err))
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 4, 3},
			Message:      "recipient verification temporarily unavailable",
		}
	}
	if !reg.Registered {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "recipient mailbox not found",
		}
	}

	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 处理邮件内容：解析后按收件人逐个走入站索引路径。
func (s *session) Data(r io.Reader) error {
	rawBytes, err := io.ReadAll(io.LimitReader(r, maxMessageSize))
	if err != nil {
		return err
	}

	parsed, err := ParseEmail(rawBytes)
	if err != nil {
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
			Message:      "message could not be parsed",
		}
	}

	from := parsed.From
	if from == "" {
		from = s.fromAddress
	}

	// 内容过滤：恶意载荷拒收，疑似垃圾在归档头里打标记
	verdict := s.backend.filter.Inspect(parsed.Text, parsed.HTML)
	if verdict.Reject {
		s.backend.logger.Warn("smtp inbound rejected",
			zap.String("from", from),
			zap.String("reason", verdict.Reason))
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "message rejected by content policy",
		}
	}
	if verdict.Spam {
		if parsed.Headers == nil {
			parsed.Headers = make(map[string]string)
		}
		parsed.Headers["X-Spam-Flag"] = "YES"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, rcpt := range s.recipients {
		mail := &bridge.InboundMail{
			From:     from,
			To:       rcpt,
			Subject:  parsed.Subject,
			TextBody: parsed.Text,
			HTMLBody: parsed.HTML,
			Headers:  parsed.Headers,
		}
		if _, err := s.backend.delivery.IndexInbound(ctx, mail); err != nil {
			s.backend.logger.Error("smtp inbound indexing failed",
				zap.String("from", from),
				zap.String("to", rcpt),
				zap.Error(err))
			return &gosmtp.SMTPError{
				Code:         451,
				EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
				Message:      "temporary indexing failure, try again later",
			}
		}
	}

	return nil
}

// AuthPlain 处理 PLAIN 认证（此处允许匿名）。
func (s *session) AuthPlain(username, password string) error {
	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.fromAddress = ""
	s.recipients = nil
}

// Logout 会话结束，归还连接配额。
func (s *session) Logout() error {
	if s.backend.limiter != nil && !s.released {
		s.backend.limiter.Release()
		s.released = true
	}
	return nil
}

// NewServer 用 Backend 组装 go-smtp 服务器。
func NewServer(backend *Backend, bindAddr, domain string) *gosmtp.Server {
	server := gosmtp.NewServer(backend)
	server.Addr = bindAddr
	server.Domain = domain
	server.ReadTimeout = 60 * time.Second
	server.WriteTimeout = 60 * time.Second
	server.MaxMessageBytes = maxMessageSize
	server.MaxRecipients = 10
	server.AllowInsecureAuth = true
	return server
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}
