package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 发信指标
	MailSendsTotal   *prometheus.CounterVec
	MailSendDuration prometheus.Histogram
	CryptoTransfers  *prometheus.CounterVec
	ClaimsIssued     prometheus.Counter

	// 桥接指标
	BridgeDeliveries *prometheus.CounterVec
	BridgeInbound    prometheus.Counter

	// 轮询与缓存指标
	PollCycles        *prometheus.CounterVec
	PollDuration      prometheus.Histogram
	MessageCacheHits  prometheus.Counter
	MessageCacheMiss  prometheus.Counter
	StatusWritesTotal *prometheus.CounterVec

	// 连接指标
	SessionsActive prometheus.Gauge

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		// HTTP 请求指标
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dexmail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dexmail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dexmail_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dexmail_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		// 发信指标
		MailSendsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dexmail_mail_sends_total",
				Help: "Total number of mail send attempts",
			},
			[]string{"result"},
		),

		MailSendDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dexmail_mail_send_duration_seconds",
				Help:    "End to end mail send duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		CryptoTransfers: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dexmail_crypto_transfers_total",
				Help: "Total number of crypto asset transfers",
			},
			[]string{"asset_type", "result"},
		),

		ClaimsIssued: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "dexmail_claims_issued_total",
				Help: "Total number of claim codes issued",
			},
		),

		// 桥接指标
		BridgeDeliveries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dexmail_bridge_deliveries_total",
				Help: "Total number of outbound bridge deliveries",
			},
			[]string{"result"},
		),

		BridgeInbound: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "dexmail_bridge_inbound_total",
				Help: "Total number of inbound bridged messages",
			},
		),

		// 轮询与缓存指标
		PollCycles: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dexmail_poll_cycles_total",
				Help: "Total number of mailbox poll cycles",
			},
			[]string{"result"},
		),

		PollDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dexmail_poll_duration_seconds",
				Help:    "Mailbox poll cycle duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		MessageCacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "dexmail_message_cache_hits_total",
				Help: "Total number of message cache hits",
			},
		),

		MessageCacheMiss: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "dexmail_message_cache_misses_total",
				Help: "Total number of message cache misses",
			},
		),

		StatusWritesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dexmail_status_writes_total",
				Help: "Total number of status store writes",
			},
			[]string{"result"},
		),

		// 连接指标
		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "dexmail_sessions_active",
				Help: "Number of active mailbox sessions",
			},
		),

		// 错误指标
		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dexmail_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, requestSize, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordMailSend 记录一次发信
func (m *Metrics) RecordMailSend(result string, duration time.Duration) {
	m.MailSendsTotal.WithLabelValues(result).Inc()
	m.MailSendDuration.Observe(duration.Seconds())
}

// RecordCryptoTransfer 记录一次资产转移
func (m *Metrics) RecordCryptoTransfer(assetType, result string) {
	m.CryptoTransfers.WithLabelValues(assetType, result).Inc()
}

// RecordClaimIssued 记录领取码签发
func (m *Metrics) RecordClaimIssued() {
	m.ClaimsIssued.Inc()
}

// RecordBridgeDelivery 记录出站桥接投递
func (m *Metrics) RecordBridgeDelivery(result string) {
	m.BridgeDeliveries.WithLabelValues(result).Inc()
}

// RecordBridgeInbound 记录入站桥接邮件
func (m *Metrics) RecordBridgeInbound() {
	m.BridgeInbound.Inc()
}

// RecordPollCycle 记录一次轮询
func (m *Metrics) RecordPollCycle(result string, duration time.Duration) {
	m.PollCycles.WithLabelValues(result).Inc()
	m.PollDuration.Observe(duration.Seconds())
}

// RecordCacheHit 记录消息缓存命中
func (m *Metrics) RecordCacheHit() {
	m.MessageCacheHits.Inc()
}

// RecordCacheMiss 记录消息缓存未命中
func (m *Metrics) RecordCacheMiss() {
	m.MessageCacheMiss.Inc()
}

// RecordStatusWrite 记录状态写入
func (m *Metrics) RecordStatusWrite(result string) {
	m.StatusWritesTotal.WithLabelValues(result).Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateSessionsActive 更新活跃会话数
func (m *Metrics) UpdateSessionsActive(count int) {
	m.SessionsActive.Set(float64(count))
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
