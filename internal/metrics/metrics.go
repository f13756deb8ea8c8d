// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェア、サービス層、ワーカーから利用する。
type MetricsCollector interface {
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordLogin(method, result string)
	RecordPasswordUpgrade()
	RecordAccessTransition(status string)
	RecordNotification(kind string, sent bool)
	RecordCleanup(target string, deleted int64)
}

// ログイン結果のラベル値
const (
	LoginSuccess = "success"
	LoginFailure = "failure"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpStatus        *prometheus.CounterVec
	requestLatency    prometheus.Histogram
	logins            *prometheus.CounterVec
	passwordUpgrades  prometheus.Counter
	accessTransitions *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	cleanupDeleted    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scmxpert_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scmxpert_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scmxpert_logins_total",
			Help: "ログイン試行の合計数",
		}, []string{"method", "result"}),
		passwordUpgrades: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scmxpert_password_upgrades_total",
			Help: "旧形式ダイジェストから移行したパスワードの合計数",
		}),
		accessTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scmxpert_access_request_transitions_total",
			Help: "アクセス申請の状態遷移の合計数",
		}, []string{"status"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scmxpert_notifications_total",
			Help: "メール通知の送信結果別の合計数",
		}, []string{"kind", "result"}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scmxpert_cleanup_deleted_total",
			Help: "クリーンアップで削除したレコードの合計数",
		}, []string{"target"}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.requestLatency,
		c.logins,
		c.passwordUpgrades,
		c.accessTransitions,
		c.notifications,
		c.cleanupDeleted,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordLogin はログイン試行を記録する。methodは "password" または "google"。
func (c *Collector) RecordLogin(method, result string) {
	c.logins.WithLabelValues(method, result).Inc()
}

// RecordPasswordUpgrade はダイジェストの移行を記録する。
func (c *Collector) RecordPasswordUpgrade() {
	c.passwordUpgrades.Inc()
}

// RecordAccessTransition はアクセス申請の遷移先の状態を記録する。
func (c *Collector) RecordAccessTransition(status string) {
	c.accessTransitions.WithLabelValues(status).Inc()
}

// RecordNotification はメール通知の結果を記録する。
func (c *Collector) RecordNotification(kind string, sent bool) {
	result := "sent"
	if !sent {
		result = "failed"
	}
	c.notifications.WithLabelValues(kind, result).Inc()
}

// RecordCleanup はクリーンアップで削除した件数を記録する。
func (c *Collector) RecordCleanup(target string, deleted int64) {
	c.cleanupDeleted.WithLabelValues(target).Add(float64(deleted))
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordHTTPStatus(int)               {}
func (Nop) RecordRequestLatency(time.Duration) {}
func (Nop) RecordLogin(string, string)         {}
func (Nop) RecordPasswordUpgrade()             {}
func (Nop) RecordAccessTransition(string)      {}
func (Nop) RecordNotification(string, bool)    {}
func (Nop) RecordCleanup(string, int64)        {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
