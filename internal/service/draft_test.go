package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dexmail/backend/internal/domain"
	"dexmail/backend/internal/storage"
	"dexmail/backend/internal/storage/memory"
)

func TestDraftService(t *testing.T) {
	const owner = "alice@dexmail.app"

	newSvc := func() *DraftService {
		return NewDraftService(memory.NewStore(), zap.NewNop())
	}

	t.Run("空草稿拒绝保存", func(t *testing.T) {
		svc := newSvc()
		_, err := svc.Save(owner, &domain.Draft{})
		assert.ErrorIs(t, err, ErrEmptyDraft)
	})

	t.Run("新草稿生成ID和时间戳", func(t *testing.T) {
		svc := newSvc()
		saved, err := svc.Save(owner, &domain.Draft{Body: "hello"})
		require.NoError(t, err)
		assert.NotEmpty(t, saved.DraftID)
		assert.NotZero(t, saved.Timestamp)
		assert.Equal(t, owner, saved.Address)
	})

	t.Run("同ID保存是幂等更新", func(t *testing.T) {
		svc := newSvc()
		saved, err := svc.Save(owner, &domain.Draft{Body: "v1"})
		require.NoError(t, err)

		_, err = svc.Save(owner, &domain.Draft{DraftID: saved.DraftID, Body: "v2"})
		require.NoError(t, err)

		drafts, err := svc.List(owner)
		require.NoError(t, err)
		require.Len(t, drafts, 1)
		assert.Equal(t, "v2", drafts[0].Body)
	})

	t.Run("列表只含本人草稿", func(t *testing.T) {
		svc := newSvc()
		_, err := svc.Save(owner, &domain.Draft{Body: "mine"})
		require.NoError(t, err)
		_, err = svc.Save("bob@dexmail.app", &domain.Draft{Body: "his"})
		require.NoError(t, err)

		drafts, err := svc.List(owner)
		require.NoError(t, err)
		require.Len(t, drafts, 1)
		assert.Equal(t, "mine", drafts[0].Body)
	})

	t.Run("删除是真删除", func(t *testing.T) {
		svc := newSvc()
		saved, err := svc.Save(owner, &domain.Draft{Body: "gone"})
		require.NoError(t, err)

		require.NoError(t, svc.Delete(saved.DraftID, owner))

		drafts, err := svc.List(owner)
		require.NoError(t, err)
		assert.Empty(t, drafts)
	})

	t.Run("删除他人草稿未命中", func(t *testing.T) {
		svc := newSvc()
		saved, err := svc.Save(owner, &domain.Draft{Body: "protected"})
		require.NoError(t, err)

		err = svc.Delete(saved.DraftID, "mallory@dexmail.app")
		assert.ErrorIs(t, err, storage.ErrDraftNotFound)
	})
}
