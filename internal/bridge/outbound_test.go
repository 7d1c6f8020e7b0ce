package bridge

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

type capturedPayload struct {
	From struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"from"`
	ReplyTo struct {
		Email string `json:"email"`
	} `json:"reply_to"`
	Personalizations []struct {
		To []struct {
			Email string `json:"email"`
		} `json:"to"`
	} `json:"personalizations"`
	Content []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"content"`
}

func newCaptureServer(t *testing.T, captured *capturedPayload) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDeliver(t *testing.T) {
	ctx := context.Background()

	t.Run("平台域发件人直接透出并作为回信地址", func(t *testing.T) {
		var captured capturedPayload
		srv := newCaptureServer(t, &captured)
		client := NewAPIClient(srv.URL, "key", "dexmail.app", 10, time.Second, zap.NewNop())

		err := client.Deliver(ctx, &OutboundMessage{
			To:           "bob@external.com",
			Subject:      "hello",
			TextBody:     "body",
			OriginalFrom: "alice@dexmail.app",
		})
		require.NoError(t, err)
		assert.Equal(t, "alice@dexmail.app", captured.From.Email)
		assert.Equal(t, "alice@dexmail.app", captured.ReplyTo.Email)
	})

	t.Run("非平台发件人隐匿From但保留回信地址", func(t *testing.T) {
		var captured capturedPayload
		srv := newCaptureServer(t, &captured)
		client := NewAPIClient(srv.URL, "key", "dexmail.app", 10, time.Second, zap.NewNop())

		err := client.Deliver(ctx, &OutboundMessage{
			To:           "bob@external.com",
			Subject:      "hello",
			TextBody:     "body",
			OriginalFrom: "carol@other.org",
		})
		require.NoError(t, err)
		assert.Equal(t, "no-reply@dexmail.app", captured.From.Email)
		assert.Equal(t, "carol@other.org", captured.From.Name)
		assert.Equal(t, "carol@other.org", captured.ReplyTo.Email)
	})

	t.Run("大小写不影响平台域判定", func(t *testing.T) {
		var captured capturedPayload
		srv := newCaptureServer(t, &captured)
		client := NewAPIClient(srv.URL, "key", "DexMail.app", 10, time.Second, zap.NewNop())

		err := client.Deliver(ctx, &OutboundMessage{
			To:           "bob@external.com",
			OriginalFrom: "Alice@DEXMAIL.APP",
			TextBody:     "body",
		})
		require.NoError(t, err)
		assert.Equal(t, "Alice@DEXMAIL.APP", captured.From.Email)
	})

	t.Run("正文按纯文本和HTML分段", func(t *testing.T) {
		var captured capturedPayload
		srv := newCaptureServer(t, &captured)
		client := NewAPIClient(srv.URL, "key", "dexmail.app", 10, time.Second, zap.NewNop())

		err := client.Deliver(ctx, &OutboundMessage{
			To:           "bob@external.com",
			OriginalFrom: "alice@dexmail.app",
			TextBody:     "plain",
			HTMLBody:     "<p>rich</p>",
		})
		require.NoError(t, err)
		require.Len(t, captured.Content, 2)
		assert.Equal(t, "text/plain", captured.Content[0].Type)
		assert.Equal(t, "text/html", captured.Content[1].Type)
	})

	t.Run("服务商报错上抛", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		t.Cleanup(srv.Close)
		client := NewAPIClient(srv.URL, "key", "dexmail.app", 10, time.Second, zap.NewNop())

		err := client.Deliver(ctx, &OutboundMessage{
			To:           "bob@external.com",
			OriginalFrom: "alice@dexmail.app",
			TextBody:     "body",
		})
		assert.Error(t, err)
	})
}
