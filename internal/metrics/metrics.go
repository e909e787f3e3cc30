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
// ハンドラー、投稿操作、ワーカーから利用する。
type MetricsCollector interface {
	RecordAuthEvent(event string)
	RecordSignInFailure()
	RecordSubmission(mode string)
	RecordUploadFailure()
	RecordOrphansRemoved(count int)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authEvents     *prometheus.CounterVec
	signInFailures prometheus.Counter
	submissions    *prometheus.CounterVec
	uploadFailures prometheus.Counter
	orphansRemoved prometheus.Counter
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lostfound_auth_events_total",
			Help: "認証イベント（signup, signin, signout）の合計数",
		}, []string{"event"}),
		signInFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lostfound_sign_in_failures_total",
			Help: "サインイン失敗の合計数",
		}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lostfound_items_submitted_total",
			Help: "投稿の作成・更新の合計数",
		}, []string{"mode"}),
		uploadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lostfound_upload_failures_total",
			Help: "画像アップロード失敗の合計数",
		}),
		orphansRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lostfound_orphan_blobs_removed_total",
			Help: "削除した孤立画像の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lostfound_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lostfound_http_request_duration_seconds",
			Help:    "APIリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.authEvents,
		c.signInFailures,
		c.submissions,
		c.uploadFailures,
		c.orphansRemoved,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordAuthEvent は認証イベントを記録する。
func (c *Collector) RecordAuthEvent(event string) {
	c.authEvents.WithLabelValues(event).Inc()
}

// RecordSignInFailure はサインイン失敗を記録する。
func (c *Collector) RecordSignInFailure() {
	c.signInFailures.Inc()
}

// RecordSubmission は投稿の作成・更新を記録する。
func (c *Collector) RecordSubmission(mode string) {
	c.submissions.WithLabelValues(mode).Inc()
}

// RecordUploadFailure は画像アップロード失敗を記録する。
func (c *Collector) RecordUploadFailure() {
	c.uploadFailures.Inc()
}

// RecordOrphansRemoved は削除した孤立画像の数を記録する。
func (c *Collector) RecordOrphansRemoved(count int) {
	c.orphansRemoved.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// ワーカープロセスが単独でスクレイプを受ける場合に使う。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
