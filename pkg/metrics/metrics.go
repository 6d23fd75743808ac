package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12), // 10ms to ~40s
		},
		[]string{"routing_key", "result"},
	)

	// 分类服务调用延迟（毫秒）
	ClassifierCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classifier_call_latency_ms",
			Help:    "Classifier call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"status"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Total number of queries slower than the configured threshold",
		},
	)

	// 慢查询耗时（秒）
	SlowQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "db_slow_query_duration_seconds",
			Help:    "Duration of slow queries in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8), // 100ms to ~12.8s
		},
	)

	// 新入库邮件计数
	ItemsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_items_ingested_total",
			Help: "Total number of new items stored by the fetcher",
		},
		[]string{"result"}, // result: inserted, duplicate
	)

	// 邮件分类计数
	ItemsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_items_classified_total",
			Help: "Total number of items that reached a terminal classification status",
		},
		[]string{"status"}, // status: done, spam, failed
	)

	// 通知计数
	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_notifications_total",
			Help: "Total number of notification delivery outcomes",
		},
		[]string{"status"}, // status: sent, failed, skipped
	)

	// 凭证刷新计数
	CredentialRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_credential_refresh_total",
			Help: "Total number of credential refresh attempts",
		},
		[]string{"result"}, // result: success, error
	)

	// 账号停用计数
	AccountsDeactivated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_account_deactivated_total",
			Help: "Total number of accounts deactivated after refresh exhaustion",
		},
	)
)

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, result string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, result).Observe(float64(duration.Milliseconds()))
}

// RecordClassifierCallLatency 记录分类服务调用延迟
func RecordClassifierCallLatency(status string, duration time.Duration) {
	ClassifierCallLatency.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

// IncrementSlowQuery 记录一次慢查询
func IncrementSlowQuery(duration time.Duration) {
	SlowQueryCount.Inc()
	SlowQueryDuration.Observe(duration.Seconds())
}

// IncrementItemsIngested 增加入库计数
func IncrementItemsIngested(result string) {
	ItemsIngested.WithLabelValues(result).Inc()
}

// IncrementItemsClassified 增加分类结果计数
func IncrementItemsClassified(status string) {
	ItemsClassified.WithLabelValues(status).Inc()
}

// IncrementNotification 增加通知结果计数
func IncrementNotification(status string) {
	NotificationsDispatched.WithLabelValues(status).Inc()
}

// IncrementCredentialRefresh 增加刷新计数
func IncrementCredentialRefresh(result string) {
	CredentialRefreshes.WithLabelValues(result).Inc()
}

// IncrementAccountDeactivated 增加账号停用计数
func IncrementAccountDeactivated() {
	AccountsDeactivated.Inc()
}
