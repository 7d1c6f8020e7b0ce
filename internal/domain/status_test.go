package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func boolPtr(v bool) *bool { return &v }

func TestStatusPatchApply(t *testing.T) {
	t.Run("空补丁不改变状态", func(t *testing.T) {
		s := EmailStatus{Read: true, Labels: []string{"work"}}
		merged := StatusPatch{}.Apply(s)
		assert.Equal(t, s, merged)
	})

	t.Run("逐字段叠加且不覆盖无关字段", func(t *testing.T) {
		s := EmailStatus{Labels: []string{"work", "urgent"}}

		s = StatusPatch{Read: boolPtr(true)}.Apply(s)
		s = StatusPatch{Spam: boolPtr(true)}.Apply(s)

		assert.True(t, s.Read)
		assert.True(t, s.Spam)
		assert.Equal(t, []string{"work", "urgent"}, s.Labels)
	})

	t.Run("分步合并与一次合并结果一致", func(t *testing.T) {
		base := EmailStatus{Labels: []string{"keep"}}

		stepwise := StatusPatch{Read: boolPtr(true)}.Apply(base)
		stepwise = StatusPatch{Archived: boolPtr(true)}.Apply(stepwise)

		combined := StatusPatch{Read: boolPtr(true), Archived: boolPtr(true)}.Apply(base)

		assert.Equal(t, combined, stepwise)
	})

	t.Run("显式false覆盖原值", func(t *testing.T) {
		s := EmailStatus{Read: true}
		merged := StatusPatch{Read: boolPtr(false)}.Apply(s)
		assert.False(t, merged.Read)
	})

	t.Run("标签替换为补丁副本", func(t *testing.T) {
		src := []string{"a", "b"}
		merged := StatusPatch{Labels: &src}.Apply(EmailStatus{})
		src[0] = "mutated"
		assert.Equal(t, []string{"a", "b"}, merged.Labels)
	})
}

func TestStatusCategory(t *testing.T) {
	tests := []struct {
		name     string
		status   EmailStatus
		received bool
		want     Category
	}{
		{"回收站优先于归档", EmailStatus{Deleted: true, Archived: true}, true, CategoryTrash},
		{"归档优先于垃圾邮件", EmailStatus{Archived: true, Spam: true}, true, CategoryArchive},
		{"垃圾邮件优先于草稿", EmailStatus{Spam: true, Draft: true}, true, CategorySpam},
		{"草稿", EmailStatus{Draft: true}, false, CategoryDraft},
		{"默认收件箱", EmailStatus{}, true, CategoryInbox},
		{"默认发件箱", EmailStatus{}, false, CategorySent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.Category(tt.received))
		})
	}
}

func TestPurgeDue(t *testing.T) {
	now := time.Now()

	t.Run("未删除不到期", func(t *testing.T) {
		s := EmailStatus{DeletedAt: now.Add(-60 * 24 * time.Hour).UnixMilli()}
		assert.False(t, s.PurgeDue(now))
	})

	t.Run("删除时间缺失不到期", func(t *testing.T) {
		s := EmailStatus{Deleted: true}
		assert.False(t, s.PurgeDue(now))
	})

	t.Run("保留期内不到期", func(t *testing.T) {
		s := EmailStatus{Deleted: true, DeletedAt: now.Add(-29 * 24 * time.Hour).UnixMilli()}
		assert.False(t, s.PurgeDue(now))
	})

	t.Run("超过保留期到期", func(t *testing.T) {
		s := EmailStatus{Deleted: true, DeletedAt: now.Add(-31 * 24 * time.Hour).UnixMilli()}
		assert.True(t, s.PurgeDue(now))
	})
}
