package domain

import "time"

// EmailStatus 表示某个用户对某封邮件的可变状态。
//
// 键为（用户地址, 邮件编号）。所有字段默认 false / 空，
// 不存在的记录等价于默认状态。更新永远是读-改-写合并，
// 不做整体替换，未涉及的字段保持原值。
type EmailStatus struct {
	Read     bool     `json:"read"`
	Spam     bool     `json:"spam"`
	Archived bool     `json:"archived"`
	Deleted  bool     `json:"deleted"`
	Draft    bool     `json:"draft"`
	Labels   []string `json:"labels"`
	// DeletedAt 移入回收站的时间戳（毫秒），仅 Deleted=true 时有意义
	DeletedAt int64 `json:"deletedAt,omitempty"`
	// Purged 超过保留期的回收站记录标记，仅作展示层提示，不删除数据
	Purged bool `json:"purged,omitempty"`
}

// DefaultEmailStatus 返回缺省状态（记录不存在时的视图）。
func DefaultEmailStatus() EmailStatus {
	return EmailStatus{Labels: []string{}}
}

// StatusPatch 表示对 EmailStatus 的一次部分更新。
//
// nil 字段不参与合并，对应原值保留。
type StatusPatch struct {
	Read      *bool     `json:"read,omitempty"`
	Spam      *bool     `json:"spam,omitempty"`
	Archived  *bool     `json:"archived,omitempty"`
	Deleted   *bool     `json:"deleted,omitempty"`
	Draft     *bool     `json:"draft,omitempty"`
	Labels    *[]string `json:"labels,omitempty"`
	DeletedAt *int64    `json:"deletedAt,omitempty"`
	Purged    *bool     `json:"purged,omitempty"`
}

// Apply 将补丁逐字段叠加到状态上，返回合并结果。
//
// 合并满足逐字段结合律：先 {read} 后 {spam} 与一次 {read,spam}
// 的结果一致，且不会覆盖无关字段（标签等）。
func (p StatusPatch) Apply(s EmailStatus) EmailStatus {
	if p.Read != nil {
		s.Read = *p.Read
	}
	if p.Spam != nil {
		s.Spam = *p.Spam
	}
	if p.Archived != nil {
		s.Archived = *p.Archived
	}
	if p.Deleted != nil {
		s.Deleted = *p.Deleted
	}
	if p.Draft != nil {
		s.Draft = *p.Draft
	}
	if p.Labels != nil {
		s.Labels = append([]string(nil), (*p.Labels)...)
	}
	if p.DeletedAt != nil {
		s.DeletedAt = *p.DeletedAt
	}
	if p.Purged != nil {
		s.Purged = *p.Purged
	}
	return s
}

// Category 根据状态标志计算视图分类。
//
// 优先级：回收站 > 归档 > 垃圾邮件 > 草稿 > 默认分类。
// received 为 true 时默认分类是收件箱，否则是发件箱。
func (s EmailStatus) Category(received bool) Category {
	switch {
	case s.Deleted:
		return CategoryTrash
	case s.Archived:
		return CategoryArchive
	case s.Spam:
		return CategorySpam
	case s.Draft:
		return CategoryDraft
	case received:
		return CategoryInbox
	default:
		return CategorySent
	}
}

// TrashRetention 回收站保留期，超过后在清理扫描中标记 Purged。
const TrashRetention = 30 * 24 * time.Hour

// PurgeDue 判断记录是否已超过回收站保留期。
func (s EmailStatus) PurgeDue(now time.Time) bool {
	if !s.Deleted || s.DeletedAt == 0 {
		return false
	}
	deletedAt := time.UnixMilli(s.DeletedAt)
	return now.Sub(deletedAt) > TrashRetention
}

// StatusRecord 是状态存储中的持久化行。
type StatusRecord struct {
	Address   string      `json:"address" gorm:"primaryKey;type:varchar(64)"`
	MessageID string      `json:"messageId" gorm:"primaryKey;type:varchar(78)"`
	Status    EmailStatus `json:"status" gorm:"serializer:json;type:text"`
	UpdatedAt time.Time   `json:"updatedAt"`
}
