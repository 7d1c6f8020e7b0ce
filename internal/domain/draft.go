package domain

// Draft 表示一封未发送的草稿。
//
// 草稿完全独立于链与内容存储，按（草稿ID, 所有者地址）复合键幂等更新，
// 丢弃或发送成功后整条删除。
type Draft struct {
	DraftID   string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Address   string `json:"address" gorm:"primaryKey;type:varchar(64)"` // 所有者钱包地址
	To        string `json:"to" gorm:"type:varchar(255)"`
	Subject   string `json:"subject" gorm:"type:varchar(500)"`
	Body      string `json:"body" gorm:"type:text"`
	Timestamp int64  `json:"timestamp"` // 毫秒
}
