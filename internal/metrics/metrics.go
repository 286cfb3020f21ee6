// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/newsbrief/internal/model"
	"github.com/hitoshi/newsbrief/internal/realtime"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ブリーフサービス、リスナー、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	ObserveQuery(table string, duration time.Duration)
	RecordBrief(language, outcome string, articles int)
	RecordRealtimeEvent(event model.CuratedInsertEvent)
	ObserveListenerState(language string, state realtime.State)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	briefRequests  *prometheus.CounterVec
	queryDuration  *prometheus.HistogramVec
	briefArticles  prometheus.Histogram
	realtimeEvents *prometheus.CounterVec
	listenerState  *prometheus.GaugeVec
	httpStatus     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		briefRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsbrief_brief_requests_total",
			Help: "言語と結果別の最新ブリーフ取得の合計数",
		}, []string{"language", "outcome"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "newsbrief_backend_query_seconds",
			Help:    "テーブル別のバックエンドクエリのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"table"}),
		briefArticles: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "newsbrief_brief_articles",
			Help:    "1回のレスポンスで返した記事数",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
		}),
		realtimeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsbrief_realtime_events_total",
			Help: "言語別の受信した行挿入イベントの合計数",
		}, []string{"language"}),
		listenerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "newsbrief_listener_state",
			Help: "言語別のリスナー状態（0: idle, 1: subscribing, 2: listening）",
		}, []string{"language"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsbrief_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.briefRequests,
		c.queryDuration,
		c.briefArticles,
		c.realtimeEvents,
		c.listenerState,
		c.httpStatus,
	)

	return c
}

// ObserveQuery はバックエンドクエリのレイテンシを記録する。
func (c *Collector) ObserveQuery(table string, duration time.Duration) {
	c.queryDuration.WithLabelValues(table).Observe(duration.Seconds())
}

// RecordBrief はブリーフ取得の結果を記録する。
// 記事数はレスポンスを返せた結果（ok / empty）のときだけ観測する。
func (c *Collector) RecordBrief(language, outcome string, articles int) {
	c.briefRequests.WithLabelValues(language, outcome).Inc()
	switch outcome {
	case "ok", "empty":
		c.briefArticles.Observe(float64(articles))
	}
}

// RecordRealtimeEvent は受信した行挿入イベントを記録する。
func (c *Collector) RecordRealtimeEvent(event model.CuratedInsertEvent) {
	c.realtimeEvents.WithLabelValues(event.Language).Inc()
}

// ObserveListenerState はリスナーの状態を記録する。
func (c *Collector) ObserveListenerState(language string, state realtime.State) {
	c.listenerState.WithLabelValues(language).Set(float64(state))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
