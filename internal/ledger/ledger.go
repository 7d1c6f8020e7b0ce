// Package ledger 封装链上邮件索引合约的访问。
// 后端不直接连节点，而是通过中继服务（relayer）的 REST 接口
// 读取索引、提交交易，隔离 RPC 细节与私钥管理。
package ledger

import (
	"context"
	"errors"
)

// 哨兵错误
var (
	ErrMailNotFound    = errors.New("mail record not found")
	ErrRelayerRejected = errors.New("relayer rejected transaction")
)

// Registration 收件人注册状态
type Registration struct {
	// Registered 邮箱是否已在平台注册
	Registered bool `json:"registered"`
	// WalletDeployed 绑定钱包是否已部署上链
	WalletDeployed bool `json:"walletDeployed"`
}

// MailEntry 合约存储的单条邮件索引
type MailEntry struct {
	Sender         string `json:"sender"`
	RecipientEmail string `json:"recipientEmail"`
	CIDHash        string `json:"cidHash"`
	Timestamp      int64  `json:"timestamp"`
	HasCrypto      bool   `json:"hasCrypto"`
	IsExternal     bool   `json:"isExternal"`
	OriginalSender string `json:"originalSender,omitempty"`
}

// SentEvent 合约 MailSent 事件（发件人视角的索引条目）
type SentEvent struct {
	MailID         uint64 `json:"mailId"`
	Sender         string `json:"sender"`
	RecipientEmail string `json:"recipientEmail"`
	CIDHash        string `json:"cidHash"`
	OriginalSender string `json:"originalSender,omitempty"`
	Timestamp      int64  `json:"timestamp"`
	BlockNumber    uint64 `json:"blockNumber"`
}

// CryptoSend 附带资产转移的索引交易参数。
// 合约只对第一笔资产保证与索引写入同交易，后续资产走
// TransferAsset 的独立交易。
type CryptoSend struct {
	CIDHash    string `json:"cidHash"`
	Recipient  string `json:"recipient"`
	IsExternal bool   `json:"isExternal"`
	// Token ERC-20/NFT 合约地址，原生币转账时为空
	Token string `json:"token,omitempty"`
	// Amount 代币数量（最小单位）或 NFT 的 tokenId
	Amount string `json:"amount"`
	IsNFT  bool   `json:"isNft"`
	// NativeValue 随交易携带的原生币数额（wei），仅 eth 资产使用
	NativeValue string `json:"nativeValue,omitempty"`
}

// AssetTransfer 次级单资产转移参数（第一笔之外的资产）
type AssetTransfer struct {
	Recipient   string `json:"recipient"`
	Token       string `json:"token,omitempty"`
	Amount      string `json:"amount"`
	IsNFT       bool   `json:"isNft"`
	NativeValue string `json:"nativeValue,omitempty"`
}

// Client 链上邮件索引的读写接口
type Client interface {
	// IsRecipientRegistered 查询邮箱的注册与钱包部署状态。
	IsRecipientRegistered(ctx context.Context, email string) (Registration, error)

	// AddressToEmail 反查钱包地址绑定的邮箱，未绑定返回空串。
	AddressToEmail(ctx context.Context, address string) (string, error)

	// GetMail 按索引 ID 读取单条邮件记录。
	GetMail(ctx context.Context, id uint64) (*MailEntry, error)

	// GetInbox 返回发给指定邮箱的索引 ID 列表，按写入顺序。
	GetInbox(ctx context.Context, email string) ([]uint64, error)

	// SentEvents 返回指定区块窗口内某发件人的 MailSent 事件。
	SentEvents(ctx context.Context, sender string, fromBlock, toBlock uint64) ([]SentEvent, error)

	// LatestBlock 返回链上最新区块高度。
	LatestBlock(ctx context.Context) (uint64, error)

	// IndexMail 提交纯索引交易（无资产转移），返回交易引用。
	IndexMail(ctx context.Context, cidHash, recipient string, isExternal, hasCrypto bool) (string, error)

	// SendMailWithCrypto 提交索引 + 首笔资产转移的合并交易。
	SendMailWithCrypto(ctx context.Context, req CryptoSend) (string, error)

	// TransferAsset 提交一笔独立的次级资产转移。
	TransferAsset(ctx context.Context, req AssetTransfer) (string, error)

	// ApproveERC20 预授权合约划转 ERC-20 资金。
	ApproveERC20(ctx context.Context, token, amount string) error

	// Health 中继服务连通性检查。
	Health(ctx context.Context) error
}
