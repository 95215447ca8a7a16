// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 照合エンジン、再検証、状態変更ゲートウェイ、アグリゲータから利用する。
type MetricsCollector interface {
	RecordReconcilePass(duration time.Duration, mismatch bool)
	RecordBatchFailure()
	RecordMismatch(count int)
	RecordInvalidation(ok bool)
	RecordMutation(ok bool)
	RecordAggregatorTimeout()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	passes            *prometheus.CounterVec
	passLatency       prometheus.Histogram
	batchFailures     prometheus.Counter
	mismatches        prometheus.Counter
	invalidations     *prometheus.CounterVec
	mutations         *prometheus.CounterVec
	aggregatorTimeout prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "briefdesk_reconcile_passes_total",
			Help: "バックグラウンド照合パスの合計数（不一致の有無別）",
		}, []string{"mismatch"}),
		passLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "briefdesk_reconcile_pass_seconds",
			Help:    "バックグラウンド照合パスの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		batchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "briefdesk_reconcile_batch_failures_total",
			Help: "状態取得に失敗した照合バッチの合計数",
		}),
		mismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "briefdesk_reconcile_mismatches_total",
			Help: "スナップショットと最新状態が一致しなかった記事の合計数",
		}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "briefdesk_page_invalidations_total",
			Help: "ページキャッシュ無効化要求の合計数（結果別）",
		}, []string{"result"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "briefdesk_state_mutations_total",
			Help: "記事状態変更の合計数（結果別）",
		}, []string{"result"}),
		aggregatorTimeout: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "briefdesk_aggregator_timeouts_total",
			Help: "コンテンツデータベース問い合わせのタイムアウト合計数",
		}),
	}

	reg.MustRegister(
		c.passes,
		c.passLatency,
		c.batchFailures,
		c.mismatches,
		c.invalidations,
		c.mutations,
		c.aggregatorTimeout,
	)

	return c
}

// RecordReconcilePass は照合パスの完了を記録する。
func (c *Collector) RecordReconcilePass(duration time.Duration, mismatch bool) {
	label := "false"
	if mismatch {
		label = "true"
	}
	c.passes.WithLabelValues(label).Inc()
	c.passLatency.Observe(duration.Seconds())
}

// RecordBatchFailure は照合バッチの失敗を記録する。
func (c *Collector) RecordBatchFailure() {
	c.batchFailures.Inc()
}

// RecordMismatch は不一致だった記事数を記録する。
func (c *Collector) RecordMismatch(count int) {
	c.mismatches.Add(float64(count))
}

// RecordInvalidation はページキャッシュ無効化の結果を記録する。
func (c *Collector) RecordInvalidation(ok bool) {
	c.invalidations.WithLabelValues(resultLabel(ok)).Inc()
}

// RecordMutation は状態変更の結果を記録する。
func (c *Collector) RecordMutation(ok bool) {
	c.mutations.WithLabelValues(resultLabel(ok)).Inc()
}

// RecordAggregatorTimeout はアグリゲータのタイムアウトを記録する。
func (c *Collector) RecordAggregatorTimeout() {
	c.aggregatorTimeout.Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordReconcilePass(time.Duration, bool) {}
func (Nop) RecordBatchFailure()                     {}
func (Nop) RecordMismatch(int)                      {}
func (Nop) RecordInvalidation(bool)                 {}
func (Nop) RecordMutation(bool)                     {}
func (Nop) RecordAggregatorTimeout()                {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
