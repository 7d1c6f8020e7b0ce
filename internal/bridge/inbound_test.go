package bridge

import (
	"mime/multipart"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func formWith(values map[string][]string) *multipart.Form {
	return &multipart.Form{Value: values}
}

func TestParseInboundForm(t *testing.T) {
	t.Run("结构化字段完整", func(t *testing.T) {
		in, err := ParseInboundForm(formWith(map[string][]string{
			"from":    {"Alice <outsider@gmail.com>"},
			"to":      {"bob@dexmail.app"},
			"subject": {"hello"},
			"text":    {"plain body"},
			"html":    {"<p>html body</p>"},
		}))
		require.NoError(t, err)

		assert.Equal(t, "outsider@gmail.com", in.From)
		assert.Equal(t, "bob@dexmail.app", in.To)
		assert.Equal(t, "hello", in.Subject)
		assert.Equal(t, "plain body", in.TextBody)
		assert.Equal(t, "<p>html body</p>", in.HTMLBody)
	})

	t.Run("缺结构化字段回退原始报文", func(t *testing.T) {
		raw := "From: Outsider <outsider@gmail.com>\r\n" +
			"To: bob@dexmail.app\r\n" +
			"Subject: raw fallback\r\n" +
			"Message-ID: <id1@gmail.com>\r\n" +
			"\r\n" +
			"raw body\r\n"

		in, err := ParseInboundForm(formWith(map[string][]string{
			"email": {raw},
		}))
		require.NoError(t, err)

		assert.Equal(t, "outsider@gmail.com", in.From)
		assert.Equal(t, "bob@dexmail.app", in.To)
		assert.Equal(t, "raw fallback", in.Subject)
		assert.Contains(t, in.TextBody, "raw body")
		assert.Equal(t, "<id1@gmail.com>", in.Headers["Message-ID"])
	})

	t.Run("无发件人拒绝", func(t *testing.T) {
		_, err := ParseInboundForm(formWith(map[string][]string{
			"to":   {"bob@dexmail.app"},
			"text": {"body"},
		}))
		assert.Error(t, err)
	})

	t.Run("无收件人拒绝", func(t *testing.T) {
		_, err := ParseInboundForm(formWith(map[string][]string{
			"from": {"outsider@gmail.com"},
			"text": {"body"},
		}))
		assert.Error(t, err)
	})
}

func TestExtractAddress(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"裸地址", "bob@dexmail.app", "bob@dexmail.app"},
		{"显示名加尖括号", "Bob Smith <Bob@DexMail.app>", "bob@dexmail.app"},
		{"畸形显示名宽松回退", "Weird \"Name <bob@dexmail.app>", "bob@dexmail.app"},
		{"空串", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractAddress(tt.input))
		})
	}
}

func TestToContentBlob(t *testing.T) {
	now := time.Now().UTC()
	in := &InboundMail{
		From:     "outsider@gmail.com",
		To:       "bob@dexmail.app",
		Subject:  "hi",
		TextBody: "body",
		Headers:  map[string]string{"Message-ID": "<x@y>"},
	}

	blob := in.ToContentBlob(now)

	assert.Equal(t, "outsider@gmail.com", blob.From)
	assert.Equal(t, []string{"bob@dexmail.app"}, blob.To)
	assert.Equal(t, "bridge", blob.Source)
	assert.Equal(t, now, blob.Timestamp)
	assert.Equal(t, "<x@y>", blob.Headers["Message-ID"])
}
