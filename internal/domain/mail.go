package domain

import "time"

// MailRecord 表示链上索引的一封邮件元数据。
//
// 记录一旦上链即不可变，链上的插入顺序是邮件存在性与排序的唯一权威来源。
// CIDHash 是内容标识符的定宽哈希（链上字段无法存放变长 CID），
// 需要通过 CID 映射表还原为完整 CID 后才能取回正文。
type MailRecord struct {
	ID             uint64 `json:"id"`             // 链上邮件编号
	Sender         string `json:"sender"`         // 发件人钱包地址
	RecipientEmail string `json:"recipientEmail"` // 收件人邮箱地址
	CIDHash        string `json:"cidHash"`        // 内容标识符定宽哈希（0x 前缀）
	Timestamp      int64  `json:"timestamp"`      // 链上时间戳（秒）
	HasCrypto      bool   `json:"hasCrypto"`      // 是否附带加密资产转移
	IsExternal     bool   `json:"isExternal"`     // 是否来自/发往外部邮件系统
	OriginalSender string `json:"originalSender"` // 外部邮件的原始发件人（仅 IsExternal 时有值）
}

// ContentBlob 表示存放在内容寻址存储中的邮件正文。
//
// 一经写入不可变更，只能按 CID 取回。
type ContentBlob struct {
	From             string          `json:"from"`
	To               []string        `json:"to"`
	Subject          string          `json:"subject"`
	Body             string          `json:"body"`
	HTMLBody         string          `json:"htmlBody,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
	CryptoTransfer   *CryptoTransfer `json:"cryptoTransfer,omitempty"`
	ClaimCode        string          `json:"claimCode,omitempty"`
	IsDirectTransfer bool            `json:"isDirectTransfer,omitempty"`
	InReplyTo        string          `json:"inReplyTo,omitempty"`
	// 外部入站邮件附加字段
	Source  string            `json:"source,omitempty"`  // 入站来源标记，如 "bridge-inbound"
	Headers map[string]string `json:"headers,omitempty"` // 入站邮件的安全相关头（dkim/spf 等）
}

// AssetType 加密资产类型
type AssetType string

const (
	AssetETH   AssetType = "eth"
	AssetERC20 AssetType = "erc20"
	AssetNFT   AssetType = "nft"
)

// CryptoAsset 表示随邮件附带的一项加密资产。
type CryptoAsset struct {
	Type    AssetType `json:"type"`
	Amount  string    `json:"amount,omitempty"`  // 十进制字符串（eth/erc20）
	Token   string    `json:"token,omitempty"`   // 代币合约地址（erc20/nft）
	TokenID string    `json:"tokenId,omitempty"` // NFT 编号
	Symbol  string    `json:"symbol,omitempty"`  // 展示用符号（erc20）
}

// CryptoTransfer 表示一次加密资产转移意图。
type CryptoTransfer struct {
	Enabled bool          `json:"enabled"`
	Assets  []CryptoAsset `json:"assets"`
}

// Message 表示合并了链上记录与正文内容的一封可展示邮件。
//
// 由链上 MailRecord、内容存储 ContentBlob 与别名解析组合而成，
// 组合结果不可变，可以安全地按邮件编号长期缓存。
type Message struct {
	MessageID  string   `json:"messageId"` // 链上邮件编号的十进制字符串
	From       string   `json:"from"`      // 解析后的发件人（别名优先于地址）
	To         []string `json:"to"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	Timestamp  int64    `json:"timestamp"` // 秒
	HasCrypto  bool     `json:"hasCryptoTransfer"`
	CIDHash    string   `json:"ipfsCid"`
	InReplyTo  string   `json:"inReplyTo,omitempty"`
	IsExternal bool     `json:"isExternal,omitempty"`
}

// Category 邮箱视图分类
type Category string

const (
	CategoryInbox   Category = "inbox"
	CategorySent    Category = "sent"
	CategoryDraft   Category = "draft"
	CategorySpam    Category = "spam"
	CategoryArchive Category = "archive"
	CategoryTrash   Category = "trash"
)

// MailboxEntry 是邮箱视图中的一条合并结果。
//
// 由 Message（不可变）与 EmailStatus（可变）在合并时计算得出，
// 分类与标签永远取自最新状态，不随消息缓存。
type MailboxEntry struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`  // 列表展示名（收件箱显示发件人，发件箱显示收件人）
	Email     string   `json:"email"` // 回复地址
	Subject   string   `json:"subject"`
	Preview   string   `json:"text"` // 正文截断预览
	Body      string   `json:"body"`
	Date      string   `json:"date"` // RFC3339
	Read      bool     `json:"read"`
	Labels    []string `json:"labels"`
	Category  Category `json:"status"`
	HasCrypto bool     `json:"hasCryptoTransfer"`
}
