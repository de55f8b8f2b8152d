// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// セッション検証の結果ラベル
const (
	ValidationValid   = "valid"
	ValidationRenewed = "renewed"
	ValidationExpired = "expired"
	ValidationMissing = "missing"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証、ブックマーク操作、リアルタイム配信、ワーカーから利用する。
type MetricsCollector interface {
	RecordSessionCreated()
	RecordSessionValidation(outcome string)
	RecordOAuthCallback(result string)
	RecordBookmarkMutation(op string)
	SetRealtimeSubscribers(n int)
	RecordRealtimeEvent(eventType string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordFaviconResult(result string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	sessionsCreated     prometheus.Counter
	sessionValidations  *prometheus.CounterVec
	oauthCallbacks      *prometheus.CounterVec
	bookmarkMutations   *prometheus.CounterVec
	realtimeSubscribers prometheus.Gauge
	realtimeEvents      *prometheus.CounterVec
	httpStatus          *prometheus.CounterVec
	requestLatency      prometheus.Histogram
	faviconResults      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkshelf_sessions_created_total",
			Help: "発行したセッションの合計数",
		}),
		sessionValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkshelf_session_validations_total",
			Help: "結果別のセッション検証数",
		}, []string{"outcome"}),
		oauthCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkshelf_oauth_callbacks_total",
			Help: "結果別のOAuthコールバック処理数",
		}, []string{"result"}),
		bookmarkMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkshelf_bookmark_mutations_total",
			Help: "操作別のブックマーク変更数",
		}, []string{"op"}),
		realtimeSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "linkshelf_realtime_subscribers",
			Help: "変更フィードの購読中クライアント数",
		}),
		realtimeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkshelf_realtime_events_total",
			Help: "種別ごとの配信済み変更イベント数",
		}, []string{"event_type"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkshelf_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "linkshelf_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		faviconResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkshelf_favicon_lookups_total",
			Help: "結果別のfavicon取得数",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.sessionsCreated,
		c.sessionValidations,
		c.oauthCallbacks,
		c.bookmarkMutations,
		c.realtimeSubscribers,
		c.realtimeEvents,
		c.httpStatus,
		c.requestLatency,
		c.faviconResults,
	)

	return c
}

// RecordSessionCreated はセッション発行を記録する。
func (c *Collector) RecordSessionCreated() {
	c.sessionsCreated.Inc()
}

// RecordSessionValidation はセッション検証の結果を記録する。
func (c *Collector) RecordSessionValidation(outcome string) {
	c.sessionValidations.WithLabelValues(outcome).Inc()
}

// RecordOAuthCallback はOAuthコールバックの結果（successまたはエラーコード）を記録する。
func (c *Collector) RecordOAuthCallback(result string) {
	c.oauthCallbacks.WithLabelValues(result).Inc()
}

// RecordBookmarkMutation はブックマークの作成・削除を記録する。
func (c *Collector) RecordBookmarkMutation(op string) {
	c.bookmarkMutations.WithLabelValues(op).Inc()
}

// SetRealtimeSubscribers は購読中クライアント数を設定する。
func (c *Collector) SetRealtimeSubscribers(n int) {
	c.realtimeSubscribers.Set(float64(n))
}

// RecordRealtimeEvent は変更イベントの配信を記録する。
func (c *Collector) RecordRealtimeEvent(eventType string) {
	c.realtimeEvents.WithLabelValues(eventType).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエスト処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordFaviconResult はfavicon取得の結果（found, missing, blocked, error）を記録する。
func (c *Collector) RecordFaviconResult(result string) {
	c.faviconResults.WithLabelValues(result).Inc()
}

// NopCollector は何も記録しないMetricsCollector。
type NopCollector struct{}

func (NopCollector) RecordSessionCreated() {}
func (NopCollector) RecordSessionValidation(string) {}
func (NopCollector) RecordOAuthCallback(string) {}
func (NopCollector) RecordBookmarkMutation(string) {}
func (NopCollector) SetRealtimeSubscribers(int) {}
func (NopCollector) RecordRealtimeEvent(string) {}
func (NopCollector) RecordHTTPStatus(int) {}
func (NopCollector) RecordRequestLatency(time.Duration) {}
func (NopCollector) RecordFaviconResult(string) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
