package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexmail/backend/internal/domain"
	"dexmail/backend/internal/storage"
)

func boolPtr(v bool) *bool { return &v }

func TestStatusRepository(t *testing.T) {
	t.Run("不存在的记录返回缺省状态", func(t *testing.T) {
		store := NewStore()
		st, err := store.GetStatus("0xalice", "1")
		require.NoError(t, err)
		assert.Equal(t, domain.DefaultEmailStatus(), st)
	})

	t.Run("补丁逐字段合并", func(t *testing.T) {
		store := NewStore()
		_, err := store.UpsertStatus("0xalice", "1", domain.StatusPatch{Read: boolPtr(true)})
		require.NoError(t, err)

		merged, err := store.UpsertStatus("0xalice", "1", domain.StatusPatch{Spam: boolPtr(true)})
		require.NoError(t, err)
		assert.True(t, merged.Read, "未涉及的字段保持原值")
		assert.True(t, merged.Spam)
	})

	t.Run("状态按地址隔离", func(t *testing.T) {
		store := NewStore()
		_, err := store.UpsertStatus("0xalice", "1", domain.StatusPatch{Read: boolPtr(true)})
		require.NoError(t, err)

		st, err := store.GetStatus("0xbob", "1")
		require.NoError(t, err)
		assert.False(t, st.Read)
	})

	t.Run("快照与内部状态解耦", func(t *testing.T) {
		store := NewStore()
		_, err := store.UpsertStatus("0xalice", "1", domain.StatusPatch{Read: boolPtr(true)})
		require.NoError(t, err)

		snap, err := store.GetStatusMap("0xalice")
		require.NoError(t, err)
		snap["2"] = domain.EmailStatus{Spam: true}

		again, err := store.GetStatusMap("0xalice")
		require.NoError(t, err)
		assert.Len(t, again, 1)
	})
}

func TestDraftRepository(t *testing.T) {
	t.Run("同复合键保存是覆盖更新", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.SaveDraft(&domain.Draft{
			DraftID: "d1", Address: "0xalice", Subject: "v1", Timestamp: 100,
		}))
		require.NoError(t, store.SaveDraft(&domain.Draft{
			DraftID: "d1", Address: "0xalice", Subject: "v2", Timestamp: 200,
		}))

		drafts, err := store.ListDrafts("0xalice")
		require.NoError(t, err)
		require.Len(t, drafts, 1)
		assert.Equal(t, "v2", drafts[0].Subject)
	})

	t.Run("列表按时间倒序且只含本人", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.SaveDraft(&domain.Draft{DraftID: "d1", Address: "0xalice", Timestamp: 100}))
		require.NoError(t, store.SaveDraft(&domain.Draft{DraftID: "d2", Address: "0xalice", Timestamp: 300}))
		require.NoError(t, store.SaveDraft(&domain.Draft{DraftID: "d3", Address: "0xbob", Timestamp: 200}))

		drafts, err := store.ListDrafts("0xalice")
		require.NoError(t, err)
		require.Len(t, drafts, 2)
		assert.Equal(t, "d2", drafts[0].DraftID)
		assert.Equal(t, "d1", drafts[1].DraftID)
	})

	t.Run("删除他人地址下的草稿未命中", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.SaveDraft(&domain.Draft{DraftID: "d1", Address: "0xalice"}))

		err := store.DeleteDraft("d1", "0xbob")
		assert.ErrorIs(t, err, storage.ErrDraftNotFound)

		require.NoError(t, store.DeleteDraft("d1", "0xalice"))
		assert.ErrorIs(t, store.DeleteDraft("d1", "0xalice"), storage.ErrDraftNotFound)
	})

	t.Run("保存后修改原对象不影响存储", func(t *testing.T) {
		store := NewStore()
		draft := &domain.Draft{DraftID: "d1", Address: "0xalice", Subject: "original"}
		require.NoError(t, store.SaveDraft(draft))
		draft.Subject = "mutated"

		drafts, err := store.ListDrafts("0xalice")
		require.NoError(t, err)
		assert.Equal(t, "original", drafts[0].Subject)
	})
}

func TestCIDMapRepository(t *testing.T) {
	store := NewStore()

	_, err := store.GetCIDMapping("0xmissing")
	assert.ErrorIs(t, err, storage.ErrCIDMappingNotFound)

	require.NoError(t, store.SaveCIDMapping("0xhash", "QmFullCID"))
	require.NoError(t, store.SaveCIDMapping("0xhash", "QmFullCID"), "重复登记幂等")
	require.NoError(t, store.SaveCIDMapping("0xhash", "QmImposter"), "已有绑定不被覆盖")

	cid, err := store.GetCIDMapping("0xhash")
	require.NoError(t, err)
	assert.Equal(t, "QmFullCID", cid)
}

func TestClaimRepository(t *testing.T) {
	store := NewStore()

	_, err := store.GetClaimByCode("ABC-123")
	assert.ErrorIs(t, err, storage.ErrClaimNotFound)

	require.NoError(t, store.SaveClaim(&domain.ClaimRecord{
		Code:      "ABC-123",
		Recipient: "bob@example.com",
		Sender:    "alice@dexmail.app",
	}))

	record, err := store.GetClaimByCode("ABC-123")
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", record.Recipient)
	assert.False(t, record.CreatedAt.IsZero(), "缺失的创建时间自动补齐")

	record.Recipient = "mutated"
	again, err := store.GetClaimByCode("ABC-123")
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", again.Recipient, "返回副本")
}
