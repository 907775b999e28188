// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はメトリクス収集のインターフェース。
// UIブリッジ、ライブハブ、メンテナンスワーカーから利用する。
type Recorder interface {
	RecordCommand(commandType string, duration time.Duration)
	RecordError(code string)
	ConnectionOpened()
	ConnectionClosed()
	RecordSnapshot(collection string)
	RecordCleanupFailures(count int)
	RecordSweep(kind string, removed int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	commands        *prometheus.CounterVec
	commandLatency  *prometheus.HistogramVec
	errors          *prometheus.CounterVec
	connections     prometheus.Gauge
	snapshots       *prometheus.CounterVec
	cleanupFailures prometheus.Counter
	sweeps          *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tweetbridge_commands_total",
			Help: "受信したコマンド数（種類別）",
		}, []string{"type"}),
		commandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tweetbridge_command_duration_seconds",
			Help:    "コマンド処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tweetbridge_errors_total",
			Help: "UIへ送出したエラーイベント数（コード別）",
		}, []string{"code"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tweetbridge_active_connections",
			Help: "接続中のWebSocket数",
		}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tweetbridge_snapshots_total",
			Help: "配信したスナップショット数（コレクション別）",
		}, []string{"collection"}),
		cleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tweetbridge_like_cleanup_failures_total",
			Help: "ツイート削除時に削除できなかったいいねの数",
		}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tweetbridge_sweep_removed_total",
			Help: "メンテナンスワーカーが削除したドキュメント数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.commands,
		c.commandLatency,
		c.errors,
		c.connections,
		c.snapshots,
		c.cleanupFailures,
		c.sweeps,
	)

	return c
}

// RecordCommand はコマンドの受信と処理時間を記録する。
func (c *Collector) RecordCommand(commandType string, duration time.Duration) {
	c.commands.WithLabelValues(commandType).Inc()
	c.commandLatency.WithLabelValues(commandType).Observe(duration.Seconds())
}

// RecordError はUIへ送出したエラーを記録する。
func (c *Collector) RecordError(code string) {
	c.errors.WithLabelValues(code).Inc()
}

func (c *Collector) ConnectionOpened() { c.connections.Inc() }
func (c *Collector) ConnectionClosed() { c.connections.Dec() }

// RecordSnapshot はスナップショット配信を記録する。
func (c *Collector) RecordSnapshot(collection string) {
	c.snapshots.WithLabelValues(collection).Inc()
}

// RecordCleanupFailures は削除できなかった関連いいねの数を加算する。
func (c *Collector) RecordCleanupFailures(count int) {
	if count > 0 {
		c.cleanupFailures.Add(float64(count))
	}
}

// RecordSweep はワーカーの削除件数を記録する。
func (c *Collector) RecordSweep(kind string, removed int64) {
	c.sweeps.WithLabelValues(kind).Add(float64(removed))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ Recorder = (*Collector)(nil)

// Nop は何も記録しないRecorder。メトリクスを使わない構成とテストで使う。
type Nop struct{}

func (Nop) RecordCommand(string, time.Duration) {}
func (Nop) RecordError(string)                  {}
func (Nop) ConnectionOpened()                   {}
func (Nop) ConnectionClosed()                   {}
func (Nop) RecordSnapshot(string)               {}
func (Nop) RecordCleanupFailures(int)           {}
func (Nop) RecordSweep(string, int64)           {}

var _ Recorder = Nop{}
