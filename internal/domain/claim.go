package domain

import "time"

// ClaimRecord 表示一次待领取的加密资产转移。
//
// 发送时写入一次，之后由独立的领取流程消费。
// WasRegistered / IsDirect 记录发送时刻的收件人状态快照，
// 便于领取时核对而无需再查链。
type ClaimRecord struct {
	ID            string        `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Code          string        `json:"code" gorm:"type:varchar(12);uniqueIndex"`
	TxRef         string        `json:"txRef" gorm:"type:varchar(78)"` // 关联的发送交易引用
	Recipient     string        `json:"recipient" gorm:"type:varchar(255);index"`
	Sender        string        `json:"sender" gorm:"type:varchar(255)"`
	Assets        []CryptoAsset `json:"assets" gorm:"serializer:json;type:text"`
	WasRegistered bool          `json:"wasRegistered"` // 发送时收件人是否已注册
	IsDirect      bool          `json:"isDirect"`      // 是否走了直接转账路径
	CreatedAt     time.Time     `json:"createdAt"`
}

// CIDMapping 表示定宽哈希到完整内容标识符的映射行。
//
// 发送侧必须在链上写入前后至少持久化到一处，否则哈希无法还原，
// 正文将永久不可达。
type CIDMapping struct {
	CIDHash   string    `json:"cidHash" gorm:"primaryKey;type:varchar(66)"`
	FullCID   string    `json:"fullCid" gorm:"type:varchar(128);not null"`
	CreatedAt time.Time `json:"createdAt"`
}
