package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type relayerStub struct {
	t        *testing.T
	status   int
	envelope string
	lastPath string
	lastBody map[string]interface{}
	lastAuth string
}

func (s *relayerStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.lastPath = r.URL.Path
		s.lastAuth = r.Header.Get("Authorization")
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&s.lastBody)
		}
		w.WriteHeader(s.status)
		_, _ = w.Write([]byte(s.envelope))
	}
}

func newRelayer(t *testing.T, stub *relayerStub) *RelayerClient {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)
	return NewRelayerClient(srv.URL, "test-key", 5*time.Second, zap.NewNop())
}

func TestRelayerClient(t *testing.T) {
	ctx := context.Background()

	t.Run("注册状态查询", func(t *testing.T) {
		stub := &relayerStub{t: t, status: 200,
			envelope: `{"ok":true,"data":{"registered":true,"walletDeployed":false}}`}
		client := newRelayer(t, stub)

		reg, err := client.IsRecipientRegistered(ctx, "bob@dexmail.app")
		require.NoError(t, err)
		assert.True(t, reg.Registered)
		assert.False(t, reg.WalletDeployed)
		assert.Equal(t, "/v1/registry/bob@dexmail.app", stub.lastPath)
		assert.Equal(t, "Bearer test-key", stub.lastAuth)
	})

	t.Run("地址反查未绑定返回空串", func(t *testing.T) {
		stub := &relayerStub{t: t, status: 404, envelope: `{"ok":false,"error":"not found"}`}
		client := newRelayer(t, stub)

		email, err := client.AddressToEmail(ctx, "0xABCDEF")
		require.NoError(t, err)
		assert.Empty(t, email)
		// 地址统一小写后再查询
		assert.Equal(t, "/v1/registry/address/0xabcdef", stub.lastPath)
	})

	t.Run("邮件记录不存在返回哨兵错误", func(t *testing.T) {
		stub := &relayerStub{t: t, status: 404, envelope: `{"ok":false}`}
		client := newRelayer(t, stub)

		_, err := client.GetMail(ctx, 42)
		assert.ErrorIs(t, err, ErrMailNotFound)
	})

	t.Run("提交索引交易", func(t *testing.T) {
		stub := &relayerStub{t: t, status: 200,
			envelope: `{"ok":true,"data":{"txHash":"0xdeadbeef"}}`}
		client := newRelayer(t, stub)

		txRef, err := client.IndexMail(ctx, "0xhash", "bob@dexmail.app", true, false)
		require.NoError(t, err)
		assert.Equal(t, "0xdeadbeef", txRef)
		assert.Equal(t, "/v1/mail", stub.lastPath)
		assert.Equal(t, true, stub.lastBody["isExternal"])
		assert.Equal(t, false, stub.lastBody["hasCrypto"])
	})

	t.Run("交易被中继拒绝", func(t *testing.T) {
		stub := &relayerStub{t: t, status: 422,
			envelope: `{"ok":false,"error":"insufficient funds"}`}
		client := newRelayer(t, stub)

		_, err := client.IndexMail(ctx, "0xhash", "bob@dexmail.app", false, false)
		assert.ErrorIs(t, err, ErrRelayerRejected)
	})

	t.Run("服务端错误上抛", func(t *testing.T) {
		stub := &relayerStub{t: t, status: 500, envelope: `boom`}
		client := newRelayer(t, stub)

		_, err := client.LatestBlock(ctx)
		assert.Error(t, err)
	})

	t.Run("签名校验结果透传", func(t *testing.T) {
		stub := &relayerStub{t: t, status: 200, envelope: `{"ok":true,"data":{"valid":true}}`}
		client := newRelayer(t, stub)

		valid, err := client.VerifySignature(ctx, "0xWALLET", "msg", "0xsig")
		require.NoError(t, err)
		assert.True(t, valid)
		assert.Equal(t, "/v1/verify", stub.lastPath)
		assert.Equal(t, "0xwallet", stub.lastBody["wallet"])
	})

	t.Run("收件箱ID列表", func(t *testing.T) {
		stub := &relayerStub{t: t, status: 200, envelope: `{"ok":true,"data":[3,1,2]}`}
		client := newRelayer(t, stub)

		ids, err := client.GetInbox(ctx, "bob@dexmail.app")
		require.NoError(t, err)
		assert.Equal(t, []uint64{3, 1, 2}, ids)
	})
}

func TestRelayerHealth(t *testing.T) {
	t.Run("健康", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/healthz", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		}))
		t.Cleanup(srv.Close)

		client := NewRelayerClient(srv.URL, "", time.Second, zap.NewNop())
		assert.NoError(t, client.Health(context.Background()))
	})

	t.Run("异常", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		t.Cleanup(srv.Close)

		client := NewRelayerClient(srv.URL, "", time.Second, zap.NewNop())
		assert.Error(t, client.Health(context.Background()))
	})
}
