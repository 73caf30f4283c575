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

	// 邮箱指标
	MailboxesCreated prometheus.Counter
	MailboxesDeleted prometheus.Counter
	MailboxesReaped  prometheus.Counter

	// 收件管道指标
	MessagesIngested prometheus.Counter
	MessagesDropped  *prometheus.CounterVec
	MessagesComposed prometheus.Counter
	MessagesDeleted  prometheus.Counter
	MessagesPruned   prometheus.Counter

	// 清理任务指标
	ReaperRuns *prometheus.CounterVec

	// 配额指标
	QuotaConsumed prometheus.Counter
	QuotaBlocked  prometheus.Counter

	// 兑换码指标
	RedemptionOutcomes *prometheus.CounterVec

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建监控指标并注册到默认注册表。
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith 创建监控指标并注册到指定注册表，测试中传入独立注册表。
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moemail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "moemail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		MailboxesCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "moemail_mailboxes_created_total",
				Help: "Total number of mailboxes created",
			},
		),

		MailboxesDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "moemail_mailboxes_deleted_total",
				Help: "Total number of mailboxes deleted by their owners",
			},
		),

		MailboxesReaped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "moemail_mailboxes_reaped_total",
				Help: "Total number of expired mailboxes removed by the cleanup worker",
			},
		),

		MessagesIngested: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "moemail_messages_ingested_total",
				Help: "Total number of messages delivered into mailboxes",
			},
		),

		MessagesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moemail_messages_dropped_total",
				Help: "Total number of inbound messages dropped, by reason",
			},
			[]string{"reason"},
		),

		MessagesComposed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "moemail_messages_composed_total",
				Help: "Total number of outbound messages recorded",
			},
		),

		MessagesDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "moemail_messages_deleted_total",
				Help: "Total number of messages deleted via the API",
			},
		),

		MessagesPruned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "moemail_messages_pruned_total",
				Help: "Total number of messages removed by retention cleanup",
			},
		),

		ReaperRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moemail_reaper_runs_total",
				Help: "Total number of cleanup runs, by result",
			},
			[]string{"result"},
		),

		QuotaConsumed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "moemail_quota_consumed_total",
				Help: "Total number of successful daily quota increments",
			},
		),

		QuotaBlocked: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "moemail_quota_blocked_total",
				Help: "Total number of sends rejected by the daily quota",
			},
		),

		RedemptionOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moemail_redemption_outcomes_total",
				Help: "Total number of redemption attempts, by outcome",
			},
			[]string{"outcome"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moemail_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "moemail_panics_total",
				Help: "Total number of panics",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordMessageDropped 记录被丢弃的入站邮件
func (m *Metrics) RecordMessageDropped(reason string) {
	m.MessagesDropped.WithLabelValues(reason).Inc()
}

// RecordReaperRun 记录一次清理任务的结果
func (m *Metrics) RecordReaperRun(result string) {
	m.ReaperRuns.WithLabelValues(result).Inc()
}

// RecordRedemption 记录一次兑换尝试的结果
func (m *Metrics) RecordRedemption(outcome string) {
	m.RedemptionOutcomes.WithLabelValues(outcome).Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
