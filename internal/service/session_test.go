package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dexmail/backend/internal/cidmap"
	"dexmail/backend/internal/content"
	"dexmail/backend/internal/domain"
	"dexmail/backend/internal/ledger"
	"dexmail/backend/internal/pool"
	"dexmail/backend/internal/storage/memory"
)

func newSessionManager(t *testing.T, fx *mailboxFixture) *SessionManager {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	pusher := pool.NewWorkerPool(2, 64, zap.NewNop())
	pusher.Start(ctx)
	t.Cleanup(func() {
		cancel()
		pusher.Stop()
	})

	return NewSessionManager(fx.svc, fx.store, pusher, nil, nil, zap.NewNop())
}

func TestSessionManager(t *testing.T) {
	ctx := context.Background()
	bob := Identity{Email: "bob@dexmail.app", Wallet: "0xb0b"}

	t.Run("启动会话后刷新产出视图", func(t *testing.T) {
		fx := newMailboxFixture(t, map[string]*domain.ContentBlob{
			"QmHello": {Subject: "hello", Body: "hi bob"},
		})
		fx.seedMail(ctx, 1, bob.Email, "0xa11ce", "QmHello")
		mgr := newSessionManager(t, fx)

		session, err := mgr.Start(bob)
		require.NoError(t, err)

		entries, err := session.Refresh(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "hello", entries[0].Subject)

		// View 返回最近一次刷新的副本
		view := session.View()
		require.Len(t, view, 1)
		assert.Equal(t, entries[0].ID, view[0].ID)
	})

	t.Run("重复启动复用会话", func(t *testing.T) {
		fx := newMailboxFixture(t, nil)
		mgr := newSessionManager(t, fx)

		first, err := mgr.Start(bob)
		require.NoError(t, err)
		second, err := mgr.Start(bob)
		require.NoError(t, err)
		assert.Same(t, first, second)
	})

	t.Run("登出后在途刷新作废", func(t *testing.T) {
		// 网关阻塞到登出完成，制造刷新在途时代次变更
		release := make(chan struct{})
		inFlight := make(chan struct{}, 8)
		gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			inFlight <- struct{}{}
			<-release
			w.WriteHeader(http.StatusNotFound)
		}))
		t.Cleanup(gateway.Close)

		fx := &mailboxFixture{
			ledger: &fakeLedger{
				inbox: map[string][]uint64{bob.Email: {1}},
				mails: map[uint64]*ledger.MailEntry{1: {
					Sender: "0xa11ce", RecipientEmail: bob.Email,
					CIDHash: cidmap.HashCID("QmStale"),
				}},
			},
			cidMap: newFakeCIDMap(),
			store:  memory.NewStore(),
		}
		_ = fx.cidMap.Save(ctx, cidmap.HashCID("QmStale"), "QmStale")
		contentClient := content.NewClient("", "", gateway.URL+"/ipfs/", 5*time.Second, zap.NewNop())
		fx.svc = NewMailboxService(fx.ledger, contentClient, fx.cidMap, fx.store, nil, zap.NewNop())
		mgr := newSessionManager(t, fx)

		session, err := mgr.Start(bob)
		require.NoError(t, err)

		errCh := make(chan error, 1)
		go func() {
			_, err := session.Refresh(ctx)
			errCh <- err
		}()

		<-inFlight
		mgr.End(bob.Email)
		close(release)

		assert.ErrorIs(t, <-errCh, context.Canceled)
		assert.Empty(t, session.View())
	})

	t.Run("登出后会话不可取", func(t *testing.T) {
		fx := newMailboxFixture(t, nil)
		mgr := newSessionManager(t, fx)

		_, err := mgr.Start(bob)
		require.NoError(t, err)
		mgr.End(bob.Email)

		_, ok := mgr.Get(bob.Email)
		assert.False(t, ok)
	})

	t.Run("状态变更反映到下一次刷新", func(t *testing.T) {
		fx := newMailboxFixture(t, map[string]*domain.ContentBlob{
			"QmRead": {Subject: "to read", Body: "x"},
		})
		fx.seedMail(ctx, 1, bob.Email, "0xa11ce", "QmRead")
		mgr := newSessionManager(t, fx)

		session, err := mgr.Start(bob)
		require.NoError(t, err)
		entries, err := session.Refresh(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.False(t, entries[0].Read)

		session.Status().MarkRead(entries[0].ID, true)

		entries, err = session.Refresh(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.True(t, entries[0].Read)
	})
}

func TestSessionManagerSweepTrash(t *testing.T) {
	ctx := context.Background()
	bob := Identity{Email: "bob@dexmail.app"}

	fx := newMailboxFixture(t, map[string]*domain.ContentBlob{
		"QmTrash": {Subject: "trash me", Body: "x"},
	})
	fx.seedMail(ctx, 1, bob.Email, "0xa11ce", "QmTrash")
	mgr := newSessionManager(t, fx)

	session, err := mgr.Start(bob)
	require.NoError(t, err)

	deleted := true
	old := time.Now().Add(-31 * 24 * time.Hour).UnixMilli()
	session.Status().Update("1", domain.StatusPatch{Deleted: &deleted, DeletedAt: &old})

	mgr.SweepTrash()

	status := session.Status().Get("1")
	assert.True(t, status.Purged)
	assert.True(t, status.Deleted)
}
