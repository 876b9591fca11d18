// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// クライアント、サービス層、ワーカーから利用する。
type MetricsCollector interface {
	RecordAPICall(endpoint string)
	RecordAPIError(endpoint string, code string)
	RecordVerificationStarted()
	RecordVerificationOutcome(outcome string)
	RecordReconcileCycle(duration time.Duration)
	RecordReconcileAccountError()
	RecordSessionsCleaned(count int64)
	RecordPoolRefresh(success bool)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	apiCalls             *prometheus.CounterVec
	apiErrors            *prometheus.CounterVec
	verificationsStarted prometheus.Counter
	verificationOutcomes *prometheus.CounterVec
	reconcileCycles      prometheus.Counter
	reconcileDuration    prometheus.Histogram
	reconcileErrors      prometheus.Counter
	sessionsCleaned      prometheus.Counter
	poolRefreshes        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cfverify_api_calls_total",
			Help: "Codeforces API呼び出しの合計数（エンドポイント別）",
		}, []string{"endpoint"}),
		apiErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cfverify_api_errors_total",
			Help: "Codeforces API呼び出し失敗の合計数（エンドポイント・エラーコード別）",
		}, []string{"endpoint", "code"}),
		verificationsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cfverify_verifications_started_total",
			Help: "開始された認証セッションの合計数",
		}),
		verificationOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cfverify_verification_outcomes_total",
			Help: "認証評価の結果の合計数（結果別）",
		}, []string{"outcome"}),
		reconcileCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cfverify_reconcile_cycles_total",
			Help: "ロール再同期サイクルの合計数",
		}),
		reconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cfverify_reconcile_duration_seconds",
			Help:    "ロール再同期サイクルの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		reconcileErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cfverify_reconcile_account_errors_total",
			Help: "ロール再同期中のアカウント単位エラーの合計数",
		}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cfverify_sessions_cleaned_total",
			Help: "クリーンアップジョブが削除した期限切れセッションの合計数",
		}),
		poolRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cfverify_pool_refreshes_total",
			Help: "問題プールキャッシュ再取得の合計数（結果別）",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.apiCalls,
		c.apiErrors,
		c.verificationsStarted,
		c.verificationOutcomes,
		c.reconcileCycles,
		c.reconcileDuration,
		c.reconcileErrors,
		c.sessionsCleaned,
		c.poolRefreshes,
	)

	return c
}

// RecordAPICall はCodeforces API呼び出しを記録する。
func (c *Collector) RecordAPICall(endpoint string) {
	c.apiCalls.WithLabelValues(endpoint).Inc()
}

// RecordAPIError はCodeforces API呼び出し失敗を記録する。
func (c *Collector) RecordAPIError(endpoint string, code string) {
	c.apiErrors.WithLabelValues(endpoint, code).Inc()
}

// RecordVerificationStarted は認証セッションの開始を記録する。
func (c *Collector) RecordVerificationStarted() {
	c.verificationsStarted.Inc()
}

// RecordVerificationOutcome は認証評価の結果を記録する。
func (c *Collector) RecordVerificationOutcome(outcome string) {
	c.verificationOutcomes.WithLabelValues(outcome).Inc()
}

// RecordReconcileCycle はロール再同期サイクルの完了を記録する。
func (c *Collector) RecordReconcileCycle(duration time.Duration) {
	c.reconcileCycles.Inc()
	c.reconcileDuration.Observe(duration.Seconds())
}

// RecordReconcileAccountError はアカウント単位の再同期エラーを記録する。
func (c *Collector) RecordReconcileAccountError() {
	c.reconcileErrors.Inc()
}

// RecordSessionsCleaned は削除された期限切れセッション数を記録する。
func (c *Collector) RecordSessionsCleaned(count int64) {
	c.sessionsCleaned.Add(float64(count))
}

// RecordPoolRefresh は問題プールキャッシュの再取得を結果付きで記録する。
func (c *Collector) RecordPoolRefresh(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.poolRefreshes.WithLabelValues(result).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
