package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	registry *prometheus.Registry
	started  time.Time

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 投递指标
	SweepsTotal       *prometheus.CounterVec // result: ok / locked / error
	SweepDuration     prometheus.Histogram
	MessagesDue       prometheus.Gauge
	MessagesDelivered prometheus.Counter
	DeliveryFailures  prometheus.Counter
	ClaimsLost        prometheus.Counter
	EmailsSent        *prometheus.CounterVec // kind, result

	// 业务指标
	MessagesScheduled prometheus.Counter
	UsersRegistered   prometheus.Counter
	AttachmentSize    prometheus.Histogram

	// 定时任务指标
	JobRuns     *prometheus.CounterVec // job, result
	JobDuration *prometheus.HistogramVec

	// 错误与限流指标
	PanicsTotal     prometheus.Counter
	RateLimitBlocks *prometheus.CounterVec

	SystemUptime prometheus.GaugeFunc
}

// NewMetrics 创建监控指标，注册到独立的注册表并附带 Go 运行时采集器
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewMetricsWithRegistry(reg)
}

// NewMetricsWithRegistry 在指定注册表上创建监控指标
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		registry: reg,
		started:  time.Now(),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timecapsule_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "timecapsule_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "timecapsule_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		SweepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timecapsule_delivery_sweeps_total",
				Help: "Total number of delivery sweeps by result",
			},
			[]string{"result"},
		),

		SweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "timecapsule_delivery_sweep_duration_seconds",
				Help:    "Delivery sweep duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
			},
		),

		MessagesDue: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "timecapsule_messages_due",
				Help: "Number of due messages found by the last sweep",
			},
		),

		MessagesDelivered: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "timecapsule_messages_delivered_total",
				Help: "Total number of scheduled messages delivered",
			},
		),

		DeliveryFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "timecapsule_delivery_failures_total",
				Help: "Total number of failed delivery attempts",
			},
		),

		ClaimsLost: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "timecapsule_delivery_claims_lost_total",
				Help: "Messages skipped because another sweep claimed them",
			},
		),

		EmailsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timecapsule_emails_total",
				Help: "Total number of emails handed to the transport",
			},
			[]string{"kind", "result"},
		),

		MessagesScheduled: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "timecapsule_messages_scheduled_total",
				Help: "Total number of messages scheduled",
			},
		),

		UsersRegistered: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "timecapsule_users_registered_total",
				Help: "Total number of users registered",
			},
		),

		AttachmentSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "timecapsule_attachment_size_bytes",
				Help:    "Uploaded attachment size in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
			},
		),

		JobRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timecapsule_scheduler_job_runs_total",
				Help: "Total number of scheduled job runs",
			},
			[]string{"job", "result"},
		),

		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "timecapsule_scheduler_job_duration_seconds",
				Help:    "Scheduled job duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
			},
			[]string{"job"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "timecapsule_panics_total",
				Help: "Total number of recovered panics",
			},
		),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timecapsule_rate_limit_blocks_total",
				Help: "Total number of rate limit blocks",
			},
			[]string{"limit_type"},
		),
	}

	m.SystemUptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "timecapsule_uptime_seconds",
			Help: "Seconds since the process started",
		},
		func() float64 { return time.Since(m.started).Seconds() },
	)

	return m
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordSweep 记录一次投递扫描
func (m *Metrics) RecordSweep(result string, due int, duration time.Duration) {
	m.SweepsTotal.WithLabelValues(result).Inc()
	m.SweepDuration.Observe(duration.Seconds())
	if result == "ok" {
		m.MessagesDue.Set(float64(due))
	}
}

// RecordDelivery 记录单封信件的投递结果
func (m *Metrics) RecordDelivery(ok bool) {
	if ok {
		m.MessagesDelivered.Inc()
		return
	}
	m.DeliveryFailures.Inc()
}

// RecordClaimLost 记录被其他扫描占用的信件
func (m *Metrics) RecordClaimLost() {
	m.ClaimsLost.Inc()
}

// RecordEmail 记录一封邮件的发送结果，kind 为 scheduled / confirmation / verification
func (m *Metrics) RecordEmail(kind string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.EmailsSent.WithLabelValues(kind, result).Inc()
}

// RecordMessageScheduled 记录新建信件
func (m *Metrics) RecordMessageScheduled() {
	m.MessagesScheduled.Inc()
}

// RecordUserRegistered 记录用户注册
func (m *Metrics) RecordUserRegistered() {
	m.UsersRegistered.Inc()
}

// RecordAttachmentSize 记录附件大小
func (m *Metrics) RecordAttachmentSize(size int64) {
	m.AttachmentSize.Observe(float64(size))
}

// RecordJobRun 记录定时任务执行
func (m *Metrics) RecordJobRun(job string, err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.JobRuns.WithLabelValues(job, result).Inc()
	m.JobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordJobSkipped 记录因上一次未结束而跳过的触发
func (m *Metrics) RecordJobSkipped(job string) {
	m.JobRuns.WithLabelValues(job, "skipped").Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(limitType string) {
	m.RateLimitBlocks.WithLabelValues(limitType).Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
