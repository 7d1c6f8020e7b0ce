package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// promauto 指标挂默认 registry，同一进程只能 NewMetrics 一次，
// 所以全部子测试共用这一个实例。
func TestMetricsRecording(t *testing.T) {
	m := NewMetrics()

	t.Run("发信计数按结果分桶", func(t *testing.T) {
		m.RecordMailSend("success", 120*time.Millisecond)
		m.RecordMailSend("success", 80*time.Millisecond)
		m.RecordMailSend("error", time.Second)

		assert.Equal(t, 2.0, testutil.ToFloat64(m.MailSendsTotal.WithLabelValues("success")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.MailSendsTotal.WithLabelValues("error")))
	})

	t.Run("资产转移按类型和结果分桶", func(t *testing.T) {
		m.RecordCryptoTransfer("eth", "success")
		m.RecordCryptoTransfer("erc20", "error")

		assert.Equal(t, 1.0, testutil.ToFloat64(m.CryptoTransfers.WithLabelValues("eth", "success")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.CryptoTransfers.WithLabelValues("erc20", "error")))
	})

	t.Run("领取码与桥接计数", func(t *testing.T) {
		m.RecordClaimIssued()
		m.RecordBridgeDelivery("success")
		m.RecordBridgeInbound()

		assert.Equal(t, 1.0, testutil.ToFloat64(m.ClaimsIssued))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.BridgeDeliveries.WithLabelValues("success")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.BridgeInbound))
	})

	t.Run("轮询与缓存计数", func(t *testing.T) {
		m.RecordPollCycle("success", 50*time.Millisecond)
		m.RecordCacheHit()
		m.RecordCacheHit()
		m.RecordCacheMiss()

		assert.Equal(t, 1.0, testutil.ToFloat64(m.PollCycles.WithLabelValues("success")))
		assert.Equal(t, 2.0, testutil.ToFloat64(m.MessageCacheHits))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.MessageCacheMiss))
	})

	t.Run("状态写入与会话水位", func(t *testing.T) {
		m.RecordStatusWrite("success")
		m.UpdateSessionsActive(3)
		m.UpdateSessionsActive(2)

		assert.Equal(t, 1.0, testutil.ToFloat64(m.StatusWritesTotal.WithLabelValues("success")))
		assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsActive))
	})
}
