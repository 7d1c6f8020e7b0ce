package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"dexmail/backend/internal/bridge"
	"dexmail/backend/internal/cidmap"
	"dexmail/backend/internal/claim"
	"dexmail/backend/internal/content"
	"dexmail/backend/internal/domain"
	"dexmail/backend/internal/ledger"
	"dexmail/backend/internal/monitoring"
	"dexmail/backend/internal/storage"
)

// 发送相关错误
var (
	ErrNoRecipient  = errors.New("no recipient specified")
	ErrInvalidAsset = errors.New("invalid crypto asset")
)

// tokenDecimals ERC-20 金额换算的默认精度
const tokenDecimals = 18

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// SendInput 一次外发请求
type SendInput struct {
	From      string
	To        []string
	Subject   string
	Body      string
	HTMLBody  string
	InReplyTo string
	Crypto    *domain.CryptoTransfer
	// DraftID 非空时发送成功后删除对应草稿
	DraftID string
}

// AssetResult 单笔资产转移的结果。第一笔资产与索引写入同
// 交易，之后的资产各自独立提交，部分失败要逐笔暴露。
type AssetResult struct {
	Asset domain.CryptoAsset `json:"asset"`
	TxRef string             `json:"txRef,omitempty"`
	Err   string             `json:"error,omitempty"`
}

// SendReceipt 发送回执
type SendReceipt struct {
	TxRef          string        `json:"txRef"`
	CID            string        `json:"cid"`
	CIDHash        string        `json:"cidHash"`
	ClaimCode      string        `json:"claimCode,omitempty"`
	DirectTransfer bool          `json:"directTransfer"`
	Assets         []AssetResult `json:"assets,omitempty"`
	BridgeAttempts int           `json:"bridgeAttempts,omitempty"`
}

// DeliveryService 外发投递路径决策与执行
type DeliveryService struct {
	ledger     ledger.Client
	content    *content.Client
	cidMap     cidmap.Store
	claims     *claim.Service
	bridge     bridge.Sender
	drafts     storage.DraftRepository
	mailDomain string              // 平台自有域名，如 dexmail.app
	metrics    *monitoring.Metrics // 可为 nil（测试）
	logger     *zap.Logger
}

// NewDeliveryService 创建投递服务。
func NewDeliveryService(
	ledgerClient ledger.Client,
	contentClient *content.Client,
	cidMap cidmap.Store,
	claims *claim.Service,
	bridgeSender bridge.Sender,
	drafts storage.DraftRepository,
	mailDomain string,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
) *DeliveryService {
	return &DeliveryService{
		ledger:     ledgerClient,
		content:    contentClient,
		cidMap:     cidMap,
		claims:     claims,
		bridge:     bridgeSender,
		drafts:     drafts,
		mailDomain: strings.ToLower(mailDomain),
		metrics:    metrics,
		logger:     logger,
	}
}

// Send 解析投递路径并执行一次外发。
//
// 内容写入和首笔账本写入失败是致命的；注册状态查询、映射
// 登记、桥接投递失败都只降级，不中断发送。
func (s *DeliveryService) Send(ctx context.Context, in *SendInput) (*SendReceipt, error) {
	start := time.Now()
	receipt, err := s.send(ctx, in)
	if s.metrics != nil {
		result := "success"
		if err != nil {
			result = "error"
		}
		s.metrics.RecordMailSend(result, time.Since(start))
	}
	return receipt, err
}

func (s *DeliveryService) send(ctx context.Context, in *SendInput) (*SendReceipt, error) {
	if len(in.To) == 0 || in.To[0] == "" {
		return nil, ErrNoRecipient
	}
	primary := strings.ToLower(strings.TrimSpace(in.To[0]))

	cryptoRequested := in.Crypto != nil && in.Crypto.Enabled && len(in.Crypto.Assets) > 0

	// 1. 判定资产投递路径：收件人已注册且钱包已部署 → 直转；
	//    否则走领取码。查询失败按双 false 处理（偏向领取码路径）。
	direct := false
	wasRegistered := false
	claimCode := ""
	if cryptoRequested {
		reg, err := s.ledger.IsRecipientRegistered(ctx, primary)
		if err != nil {
			s.logger.Warn("registration check failed, falling back to claim path",
				zap.String("recipient", primary), zap.Error(err))
			reg = ledger.Registration{}
		}
		direct = reg.Registered && reg.WalletDeployed
		wasRegistered = reg.Registered
		if !direct {
			claimCode, err = claim.GenerateCode()
			if err != nil {
				return nil, err
			}
			if s.metrics != nil {
				s.metrics.RecordClaimIssued()
			}
		}
	}

	// 2. 正文追加资产摘要块，让内容文档脱离状态查询也能自述。
	body := in.Body
	if cryptoRequested {
		body += s.cryptoSummary(in.Crypto.Assets, direct, claimCode)
	}

	// 3. 固定内容文档。失败即整单失败：没有内容就没有可索引的东西。
	blob := &domain.ContentBlob{
		From:             in.From,
		To:               in.To,
		Subject:          in.Subject,
		Body:             body,
		HTMLBody:         in.HTMLBody,
		Timestamp:        time.Now().UTC(),
		CryptoTransfer:   in.Crypto,
		ClaimCode:        claimCode,
		IsDirectTransfer: direct,
		InReplyTo:        in.InReplyTo,
	}
	cid, err := s.content.Pin(ctx, blob)
	if err != nil {
		return nil, fmt.Errorf("failed to persist content: %w", err)
	}

	// 4. 登记定宽哈希映射。失败只记日志：账本写入不依赖映射，
	//    内容之后仍可人工恢复。
	cidHash := cidmap.HashCID(cid)
	if err := s.cidMap.Save(ctx, cidHash, cid); err != nil {
		s.logger.Error("cid mapping persistence failed, content may be unreachable",
			zap.String("cid", cid),
			zap.String("cid_hash", cidHash),
			zap.Error(err))
	}

	// 5-7. 向账本提交索引（首收件人可能附带资产转移）。
	receipt := &SendReceipt{
		CID:            cid,
		CIDHash:        cidHash,
		ClaimCode:      claimCode,
		DirectTransfer: direct,
	}

	for i, rcpt := range in.To {
		rcpt = strings.ToLower(strings.TrimSpace(rcpt))
		if rcpt == "" {
			continue
		}
		external := s.isExternal(rcpt)

		var txRef string
		if cryptoRequested && i == 0 {
			txRef, err = s.sendWithCrypto(ctx, cidHash, rcpt, external, in.Crypto.Assets, receipt)
		} else {
			txRef, err = s.ledger.IndexMail(ctx, cidHash, rcpt, external, false)
		}
		if err != nil {
			return nil, fmt.Errorf("ledger write failed for %s: %w", rcpt, err)
		}
		if receipt.TxRef == "" {
			receipt.TxRef = txRef
		}

		// 8. 账本写入成功后登记领取记录，带上交易引用。
		if claimCode != "" && i == 0 {
			record := &domain.ClaimRecord{
				Code:          claimCode,
				TxRef:         txRef,
				Recipient:     rcpt,
				Sender:        in.From,
				Assets:        in.Crypto.Assets,
				WasRegistered: wasRegistered,
				IsDirect:      false,
			}
			if err := s.claims.Register(record); err != nil {
				s.logger.Error("claim record persistence failed",
					zap.String("code", claimCode), zap.Error(err))
			}
		}

		// 9. 外部收件人额外走桥接投递，尽力而为。
		if external {
			s.deliverExternal(ctx, in, body, rcpt)
			receipt.BridgeAttempts++
		}
	}

	// 发送成功后清理来源草稿。
	if in.DraftID != "" {
		if err := s.drafts.DeleteDraft(in.DraftID, in.From); err != nil &&
			!errors.Is(err, storage.ErrDraftNotFound) {
			s.logger.Warn("failed to remove source draft",
				zap.String("draft_id", in.DraftID), zap.Error(err))
		}
	}

	s.logger.Info("mail sent",
		zap.String("tx_ref", receipt.TxRef),
		zap.String("cid_hash", cidHash),
		zap.Bool("crypto", cryptoRequested),
		zap.Bool("direct", direct))
	return receipt, nil
}

// sendWithCrypto 首笔资产与索引写入合并成一笔交易，
// 剩余资产逐笔独立提交，结果逐笔记入回执。
func (s *DeliveryService) sendWithCrypto(
	ctx context.Context,
	cidHash, recipient string,
	external bool,
	assets []domain.CryptoAsset,
	receipt *SendReceipt,
) (string, error) {
	first := assets[0]
	req, err := cryptoSendParams(cidHash, recipient, external, first)
	if err != nil {
		return "", err
	}

	// ERC-20 需要先授权合约划转
	if first.Type == domain.AssetERC20 {
		if err := s.ledger.ApproveERC20(ctx, first.Token, req.Amount); err != nil {
			return "", fmt.Errorf("erc20 approval failed: %w", err)
		}
	}

	txRef, err := s.ledger.SendMailWithCrypto(ctx, req)
	if err != nil {
		s.recordTransfer(first.Type, "error")
		receipt.Assets = append(receipt.Assets, AssetResult{Asset: first, Err: err.Error()})
		return "", err
	}
	s.recordTransfer(first.Type, "success")
	receipt.Assets = append(receipt.Assets, AssetResult{Asset: first, TxRef: txRef})

	// 次级资产：独立交易，失败不回滚首笔，逐笔暴露结果。
	for _, asset := range assets[1:] {
		transfer, err := assetTransferParams(recipient, asset)
		if err != nil {
			receipt.Assets = append(receipt.Assets, AssetResult{Asset: asset, Err: err.Error()})
			continue
		}
		if asset.Type == domain.AssetERC20 {
			if err := s.ledger.ApproveERC20(ctx, asset.Token, transfer.Amount); err != nil {
				s.recordTransfer(asset.Type, "error")
				receipt.Assets = append(receipt.Assets, AssetResult{Asset: asset, Err: err.Error()})
				continue
			}
		}
		ref, err := s.ledger.TransferAsset(ctx, transfer)
		if err != nil {
			s.logger.Error("secondary asset transfer failed",
				zap.String("type", string(asset.Type)),
				zap.String("recipient", recipient),
				zap.Error(err))
			s.recordTransfer(asset.Type, "error")
			receipt.Assets = append(receipt.Assets, AssetResult{Asset: asset, Err: err.Error()})
			continue
		}
		s.recordTransfer(asset.Type, "success")
		receipt.Assets = append(receipt.Assets, AssetResult{Asset: asset, TxRef: ref})
	}
	return txRef, nil
}

func (s *DeliveryService) recordTransfer(assetType domain.AssetType, result string) {
	if s.metrics != nil {
		s.metrics.RecordCryptoTransfer(string(assetType), result)
	}
}

// cryptoSendParams 按资产类型解析首笔合并交易的参数。
func cryptoSendParams(cidHash, recipient string, external bool, asset domain.CryptoAsset) (ledger.CryptoSend, error) {
	req := ledger.CryptoSend{
		CIDHash:    cidHash,
		Recipient:  recipient,
		IsExternal: external,
	}
	switch asset.Type {
	case domain.AssetETH:
		wei, err := scaleAmount(asset.Amount, tokenDecimals)
		if err != nil {
			return req, fmt.Errorf("%w: %v", ErrInvalidAsset, err)
		}
		req.Amount = wei
		req.NativeValue = wei
	case domain.AssetERC20:
		scaled, err := scaleAmount(asset.Amount, tokenDecimals)
		if err != nil {
			return req, fmt.Errorf("%w: %v", ErrInvalidAsset, err)
		}
		req.Token = asset.Token
		req.Amount = scaled
	case domain.AssetNFT:
		req.Token = asset.Token
		req.Amount = asset.TokenID
		req.IsNFT = true
	default:
		return req, fmt.Errorf("%w: unknown type %q", ErrInvalidAsset, asset.Type)
	}
	return req, nil
}

// assetTransferParams 次级单资产转移的参数。
func assetTransferParams(recipient string, asset domain.CryptoAsset) (ledger.AssetTransfer, error) {
	req := ledger.AssetTransfer{Recipient: recipient}
	switch asset.Type {
	case domain.AssetETH:
		wei, err := scaleAmount(asset.Amount, tokenDecimals)
		if err != nil {
			return req, fmt.Errorf("%w: %v", ErrInvalidAsset, err)
		}
		req.Amount = wei
		req.NativeValue = wei
	case domain.AssetERC20:
		scaled, err := scaleAmount(asset.Amount, tokenDecimals)
		if err != nil {
			return req, fmt.Errorf("%w: %v", ErrInvalidAsset, err)
		}
		req.Token = asset.Token
		req.Amount = scaled
	case domain.AssetNFT:
		req.Token = asset.Token
		req.Amount = asset.TokenID
		req.IsNFT = true
	default:
		return req, fmt.Errorf("%w: unknown type %q", ErrInvalidAsset, asset.Type)
	}
	return req, nil
}

// scaleAmount 把十进制数量换算为最小单位整数字符串。
func scaleAmount(amount string, decimals int) (string, error) {
	f, ok := new(big.Float).SetPrec(256).SetString(strings.TrimSpace(amount))
	if !ok {
		return "", fmt.Errorf("unparseable amount %q", amount)
	}
	if f.Sign() <= 0 {
		return "", fmt.Errorf("non-positive amount %q", amount)
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	f.Mul(f, scale)
	result, _ := f.Int(nil)
	return result.String(), nil
}

// cryptoSummary 生成追加到正文的资产摘要块。
func (s *DeliveryService) cryptoSummary(assets []domain.CryptoAsset, direct bool, claimCode string) string {
	var b strings.Builder
	b.WriteString("\n\n---\nCrypto attached to this email:\n")
	for _, asset := range assets {
		switch asset.Type {
		case domain.AssetETH:
			fmt.Fprintf(&b, "- %s ETH\n", asset.Amount)
		case domain.AssetERC20:
			symbol := asset.Symbol
			if symbol == "" {
				symbol = asset.Token
			}
			fmt.Fprintf(&b, "- %s %s\n", asset.Amount, symbol)
		case domain.AssetNFT:
			fmt.Fprintf(&b, "- NFT %s #%s\n", asset.Token, asset.TokenID)
		}
	}
	if direct {
		b.WriteString("\nThese assets were transferred directly to your wallet.\n")
	} else {
		fmt.Fprintf(&b, "\nClaim code: %s\nClaim your assets at %s\n", claimCode, s.claims.URL(claimCode))
	}
	return b.String()
}

// isExternal 判断收件地址是否在平台域之外。
func (s *DeliveryService) isExternal(email string) bool {
	if !emailPattern.MatchString(email) {
		return false
	}
	at := strings.LastIndex(email, "@")
	return strings.ToLower(email[at+1:]) != s.mailDomain
}

// deliverExternal 经桥接向外部收件人投递，失败只记日志。
// 邮件已经落在内容存储和账本上，桥接只是额外触达。
func (s *DeliveryService) deliverExternal(ctx context.Context, in *SendInput, body, recipient string) {
	if s.bridge == nil {
		return
	}
	msg := &bridge.OutboundMessage{
		To:           recipient,
		Subject:      in.Subject,
		TextBody:     body,
		HTMLBody:     in.HTMLBody,
		OriginalFrom: in.From,
	}
	if err := s.bridge.Deliver(ctx, msg); err != nil {
		s.logger.Warn("bridge delivery failed",
			zap.String("recipient", recipient),
			zap.Error(err))
		if s.metrics != nil {
			s.metrics.RecordBridgeDelivery("error")
		}
		return
	}
	if s.metrics != nil {
		s.metrics.RecordBridgeDelivery("success")
	}
}

// IndexInbound 把外部来件纳入链上索引。桥接回调和 SMTP
// 入口共用这条路径：isExternal=true，hasCrypto=false。
func (s *DeliveryService) IndexInbound(ctx context.Context, in *bridge.InboundMail) (*SendReceipt, error) {
	blob := in.ToContentBlob(time.Now().UTC())

	cid, err := s.content.Pin(ctx, blob)
	if err != nil {
		return nil, fmt.Errorf("failed to persist inbound content: %w", err)
	}

	cidHash := cidmap.HashCID(cid)
	if err := s.cidMap.Save(ctx, cidHash, cid); err != nil {
		s.logger.Error("cid mapping persistence failed for inbound mail",
			zap.String("cid_hash", cidHash), zap.Error(err))
	}

	txRef, err := s.ledger.IndexMail(ctx, cidHash, in.To, true, false)
	if err != nil {
		return nil, fmt.Errorf("ledger write failed for inbound mail: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordBridgeInbound()
	}
	s.logger.Info("inbound mail indexed",
		zap.String("tx_ref", txRef),
		zap.String("from", in.From),
		zap.String("to", in.To))
	return &SendReceipt{TxRef: txRef, CID: cid, CIDHash: cidHash}, nil
}
