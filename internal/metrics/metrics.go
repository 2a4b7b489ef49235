package metrics

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const defaultMaxDurationSamples = 1000

// Config はメトリクスの設定
type Config struct {
	MaxDurationSamples int                   // P99算出用に保持する実行時間サンプル数
	Namespace          string                // Prometheusメトリクス名の接頭辞
	Registerer         prometheus.Registerer // nilの場合はPrometheusへ登録しない
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		MaxDurationSamples: defaultMaxDurationSamples,
		Namespace:          "mandelgen",
	}
}

// collectors はPrometheusへ公開する値
type collectors struct {
	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
	workerDuration prometheus.Histogram
	pixels         prometheus.Counter
	imbalance      prometheus.Gauge
	running        prometheus.Gauge
}

func newCollectors(namespace string, reg prometheus.Registerer) *collectors {
	factory := promauto.With(reg)
	return &collectors{
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of computations by outcome",
			},
			[]string{"status"},
		),
		runDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall-clock duration of a computation",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		workerDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "worker_duration_seconds",
				Help:      "Time a single worker spent on its blocks",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		pixels: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pixels_total",
				Help:      "Total number of escape counts produced",
			},
		),
		imbalance: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_imbalance_ratio",
				Help:      "Max over mean worker duration of the last successful run",
			},
		),
		running: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_in_progress",
				Help:      "Number of computations currently running",
			},
		),
	}
}

// Metrics は計算実行のメトリクスを収集する
type Metrics struct {
	totalRuns      atomic.Uint64
	successRuns    atomic.Uint64
	failedRuns     atomic.Uint64
	totalPixels    atomic.Uint64
	totalRunTimeNs atomic.Uint64

	mu            sync.RWMutex
	startTime     time.Time
	durations     []time.Duration
	maxSamples    int
	lastImbalance float64

	prom *collectors
}

// New は新しいメトリクスを作成する（Prometheus未登録）
func New() *Metrics {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig は設定を指定してメトリクスを作成する
// 同じRegistererに二度登録するとpanicする
func NewWithConfig(config Config) *Metrics {
	if config.MaxDurationSamples <= 0 {
		config.MaxDurationSamples = defaultMaxDurationSamples
	}
	return &Metrics{
		startTime:  time.Now(),
		durations:  make([]time.Duration, 0, config.MaxDurationSamples),
		maxSamples: config.MaxDurationSamples,
		prom:       newCollectors(config.Namespace, config.Registerer),
	}
}

// RunStarted は計算開始を記録する。戻り値の関数で終了を記録する
func (m *Metrics) RunStarted() func() {
	m.prom.running.Inc()
	return m.prom.running.Dec
}

// RecordSuccess は成功した計算を記録する
func (m *Metrics) RecordSuccess(elapsed time.Duration, pixels int) {
	m.totalRuns.Add(1)
	m.successRuns.Add(1)
	m.totalRunTimeNs.Add(uint64(elapsed.Nanoseconds()))
	if pixels > 0 {
		m.totalPixels.Add(uint64(pixels))
		m.prom.pixels.Add(float64(pixels))
	}

	m.prom.runs.WithLabelValues("success").Inc()
	m.prom.runDuration.Observe(elapsed.Seconds())

	m.mu.Lock()
	if len(m.durations) < m.maxSamples {
		m.durations = append(m.durations, elapsed)
	}
	m.mu.Unlock()
}

// RecordFailure は失敗した計算を記録する
func (m *Metrics) RecordFailure(elapsed time.Duration) {
	m.totalRuns.Add(1)
	m.failedRuns.Add(1)
	m.totalRunTimeNs.Add(uint64(elapsed.Nanoseconds()))

	m.prom.runs.WithLabelValues("failure").Inc()
	m.prom.runDuration.Observe(elapsed.Seconds())
}

// RecordWorker は1ワーカー分の所要時間を記録する
func (m *Metrics) RecordWorker(elapsed time.Duration) {
	m.prom.workerDuration.Observe(elapsed.Seconds())
}

// RecordImbalance はワーカー所要時間の偏りを算出して記録する
func (m *Metrics) RecordImbalance(workerDurations []time.Duration) float64 {
	ratio := Imbalance(workerDurations)

	m.mu.Lock()
	m.lastImbalance = ratio
	m.mu.Unlock()

	m.prom.imbalance.Set(ratio)
	return ratio
}

// Imbalance は最大所要時間 / 平均所要時間 を返す
// 1.0が完全均衡。空または平均0の場合は0を返す
func Imbalance(durations []time.Duration) float64 {
	if len(durations) == 0 {
		return 0
	}
	secs := make([]float64, len(durations))
	for i, d := range durations {
		secs[i] = d.Seconds()
	}
	mean := stat.Mean(secs, nil)
	if mean == 0 {
		return 0
	}
	return floats.Max(secs) / mean
}

// TotalRuns は総実行数を返す
func (m *Metrics) TotalRuns() uint64 {
	return m.totalRuns.Load()
}

// SuccessRuns は成功数を返す
func (m *Metrics) SuccessRuns() uint64 {
	return m.successRuns.Load()
}

// FailedRuns は失敗数を返す
func (m *Metrics) FailedRuns() uint64 {
	return m.failedRuns.Load()
}

// TotalPixels は出力したエスケープ回数の総数を返す
func (m *Metrics) TotalPixels() uint64 {
	return m.totalPixels.Load()
}

// AverageDuration は平均実行時間を返す
func (m *Metrics) AverageDuration() time.Duration {
	total := m.totalRuns.Load()
	if total == 0 {
		return 0
	}
	return time.Duration(m.totalRunTimeNs.Load() / total)
}

// P99Duration は成功した実行のP99実行時間を返す（サンプルベース）
func (m *Metrics) P99Duration() time.Duration {
	m.mu.RLock()
	if len(m.durations) == 0 {
		m.mu.RUnlock()
		return 0
	}
	secs := make([]float64, len(m.durations))
	for i, d := range m.durations {
		secs[i] = d.Seconds()
	}
	m.mu.RUnlock()

	slices.Sort(secs)
	q := stat.Quantile(0.99, stat.Empirical, secs, nil)
	return time.Duration(q * float64(time.Second))
}

// ErrorRate はエラー率を返す（0.0〜1.0）
func (m *Metrics) ErrorRate() float64 {
	total := m.totalRuns.Load()
	if total == 0 {
		return 0
	}
	return float64(m.failedRuns.Load()) / float64(total)
}

// LastImbalance は最後に記録した偏りを返す
func (m *Metrics) LastImbalance() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastImbalance
}

// Reset はサンプルをリセットする
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.durations = m.durations[:0]
	m.lastImbalance = 0
}

// Snapshot はメトリクスのスナップショット
type Snapshot struct {
	TotalRuns       uint64        `json:"total_runs"`
	SuccessRuns     uint64        `json:"success_runs"`
	FailedRuns      uint64        `json:"failed_runs"`
	TotalPixels     uint64        `json:"total_pixels"`
	AverageDuration time.Duration `json:"average_duration"`
	P99Duration     time.Duration `json:"p99_duration"`
	ErrorRate       float64       `json:"error_rate"`
	LastImbalance   float64       `json:"last_imbalance"`
	Uptime          time.Duration `json:"uptime"`
}

// Snapshot は現在のメトリクスのスナップショットを返す
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		TotalRuns:       m.TotalRuns(),
		SuccessRuns:     m.SuccessRuns(),
		FailedRuns:      m.FailedRuns(),
		TotalPixels:     m.TotalPixels(),
		AverageDuration: m.AverageDuration(),
		P99Duration:     m.P99Duration(),
		ErrorRate:       m.ErrorRate(),
		LastImbalance:   m.LastImbalance(),
		Uptime:          time.Since(m.startTime),
	}
}
