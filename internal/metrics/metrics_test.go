package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	m := New()

	assert.Equal(t, uint64(0), m.TotalRuns())
	assert.Equal(t, uint64(0), m.SuccessRuns())
	assert.Equal(t, time.Duration(0), m.AverageDuration())
	assert.Equal(t, time.Duration(0), m.P99Duration())
	assert.Equal(t, 0.0, m.ErrorRate())
}

func TestMetricsRecordSuccess(t *testing.T) {
	m := New()

	m.RecordSuccess(10*time.Millisecond, 800)
	m.RecordSuccess(20*time.Millisecond, 800)
	m.RecordSuccess(30*time.Millisecond, 800)

	assert.Equal(t, uint64(3), m.TotalRuns())
	assert.Equal(t, uint64(3), m.SuccessRuns())
	assert.Equal(t, uint64(0), m.FailedRuns())
	assert.Equal(t, uint64(2400), m.TotalPixels())
	assert.Equal(t, 20*time.Millisecond, m.AverageDuration())
}

func TestMetricsRecordFailure(t *testing.T) {
	m := New()

	m.RecordFailure(10 * time.Millisecond)
	m.RecordSuccess(20*time.Millisecond, 100)

	assert.Equal(t, uint64(2), m.TotalRuns())
	assert.Equal(t, uint64(1), m.FailedRuns())
	assert.InDelta(t, 0.5, m.ErrorRate(), 1e-9)
}

func TestMetricsP99Duration(t *testing.T) {
	m := New()

	for i := 1; i <= 100; i++ {
		m.RecordSuccess(time.Duration(i)*time.Millisecond, 1)
	}

	p99 := m.P99Duration()
	assert.InDelta(t, float64(99*time.Millisecond), float64(p99), float64(time.Millisecond))
}

func TestMetricsSampleLimit(t *testing.T) {
	m := NewWithConfig(Config{MaxDurationSamples: 2})

	m.RecordSuccess(time.Millisecond, 1)
	m.RecordSuccess(time.Millisecond, 1)
	m.RecordSuccess(time.Hour, 1)

	assert.Less(t, m.P99Duration(), time.Second, "samples beyond the limit are not kept")
	assert.Equal(t, uint64(3), m.TotalRuns())
}

func TestImbalance(t *testing.T) {
	tests := []struct {
		name      string
		durations []time.Duration
		want      float64
	}{
		{"empty", nil, 0},
		{"zero", []time.Duration{0, 0}, 0},
		{"balanced", []time.Duration{time.Second, time.Second, time.Second}, 1},
		{"skewed", []time.Duration{time.Second, 3 * time.Second}, 1.5},
		{"single", []time.Duration{5 * time.Millisecond}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Imbalance(tt.durations), 1e-9)
		})
	}
}

func TestMetricsRecordImbalance(t *testing.T) {
	m := New()

	ratio := m.RecordImbalance([]time.Duration{time.Second, 3 * time.Second})
	assert.InDelta(t, 1.5, ratio, 1e-9)
	assert.InDelta(t, 1.5, m.LastImbalance(), 1e-9)

	m.Reset()
	assert.Equal(t, 0.0, m.LastImbalance())
}

func TestMetricsPrometheusExport(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithConfig(Config{Namespace: "test", Registerer: reg})

	done := m.RunStarted()
	m.RecordWorker(10 * time.Millisecond)
	m.RecordSuccess(10*time.Millisecond, 800)
	m.RecordFailure(time.Millisecond)
	m.RecordImbalance([]time.Duration{time.Second, 3 * time.Second})
	done()

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				byName[mf.GetName()] += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				byName[mf.GetName()] = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				byName[mf.GetName()] = float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}

	assert.Equal(t, 2.0, byName["test_runs_total"])
	assert.Equal(t, 800.0, byName["test_pixels_total"])
	assert.Equal(t, 2.0, byName["test_run_duration_seconds"])
	assert.Equal(t, 1.0, byName["test_worker_duration_seconds"])
	assert.InDelta(t, 1.5, byName["test_worker_imbalance_ratio"], 1e-9)
	assert.Equal(t, 0.0, byName["test_runs_in_progress"])
}

func TestMetricsConcurrency(t *testing.T) {
	m := New()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordSuccess(time.Millisecond, 10)
			m.RecordWorker(time.Millisecond)
		}()
	}

	wg.Wait()

	assert.Equal(t, uint64(100), m.TotalRuns())
	assert.Equal(t, uint64(1000), m.TotalPixels())
}

func TestMetricsSnapshot(t *testing.T) {
	m := New()

	m.RecordSuccess(10*time.Millisecond, 800)
	m.RecordFailure(20 * time.Millisecond)

	snap := m.Snapshot()

	assert.Equal(t, uint64(2), snap.TotalRuns)
	assert.Equal(t, uint64(1), snap.SuccessRuns)
	assert.Equal(t, uint64(1), snap.FailedRuns)
	assert.Equal(t, uint64(800), snap.TotalPixels)
	assert.Equal(t, 15*time.Millisecond, snap.AverageDuration)
	assert.Greater(t, snap.Uptime, time.Duration(0))
}
