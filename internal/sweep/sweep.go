package sweep

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"mandelgen/internal/engine"
	"mandelgen/internal/logger"
	"mandelgen/internal/partition"
)

// ErrAlreadyRunning は実行中のRunnerでRunを呼んだ場合に返される
var ErrAlreadyRunning = errors.New("sweep is already running")

// Config はスイープの設定
type Config struct {
	Name          string     // スイープ名
	Description   string     // 説明
	Granularities []int      // 試す粒度
	Parallelisms  []int      // 試す並列度
	Repeat        int        // 組み合わせごとの計測回数
	Job           engine.Job // 基本ジョブ（Granularity と Parallelism は上書きされる）
}

// DefaultConfig はデフォルト設定を返す
// 粒度 {1, 4, 16} x 並列度 1..CPU数
func DefaultConfig() Config {
	job := engine.DefaultJob()
	job.Mode = engine.ModeTest
	return Config{
		Name:          "default",
		Description:   "Granularity {1, 4, 16} x parallelism 1..NumCPU",
		Granularities: []int{1, 4, 16},
		Parallelisms:  Range(1, runtime.NumCPU()),
		Repeat:        1,
		Job:           job,
	}
}

// Range は [from, to] の整数列を返す
func Range(from, to int) []int {
	if to < from {
		return nil
	}
	out := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

// Entry は1つの組み合わせの計測結果
type Entry struct {
	Granularity int           `json:"granularity"`
	Parallelism int           `json:"parallelism"`
	Elapsed     time.Duration `json:"elapsed"`
	StdDev      time.Duration `json:"stddev"`
	Speedup     float64       `json:"speedup"`
	Imbalance   float64       `json:"imbalance"`
	Skipped     bool          `json:"skipped,omitempty"`
	Reason      string        `json:"reason,omitempty"`
}

// Result はスイープ実行結果
type Result struct {
	Name      string
	Job       engine.Job
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Entries   []Entry
}

// Runner はスイープ実行エンジン
type Runner struct {
	config Config
	engine engine.Engine

	mu      sync.RWMutex
	running bool
}

// New は新しいRunnerを作成する
func New(config Config, eng engine.Engine) *Runner {
	if config.Repeat <= 0 {
		config.Repeat = 1
	}
	return &Runner{
		config: config,
		engine: eng,
	}
}

// Run はスイープを実行する
// 分割計画が成立しない組み合わせはスキップとして記録し、それ以外の失敗で中断する
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	if err := r.config.Job.Validate(); err != nil {
		return nil, err
	}

	logger.Info("", "=== Sweep '%s' started ===", r.config.Name)
	logger.Info("", "Job: %s", r.config.Job)

	result := &Result{
		Name:      r.config.Name,
		Job:       r.config.Job,
		StartTime: time.Now(),
	}

	for _, g := range r.config.Granularities {
		entries := make([]Entry, 0, len(r.config.Parallelisms))
		for _, p := range r.config.Parallelisms {
			entry, err := r.measure(ctx, g, p)
			if err != nil {
				return nil, fmt.Errorf("g=%d p=%d: %w", g, p, err)
			}
			entries = append(entries, entry)
		}
		applySpeedup(entries)
		result.Entries = append(result.Entries, entries...)
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	logger.Info("", "=== Sweep '%s' completed in %v ===", r.config.Name, result.Duration.Round(time.Millisecond))

	return result, nil
}

// applySpeedup は同じ粒度の p=1 を基準に速度向上率を設定する
// p=1 が無い、またはスキップされた場合は Speedup を 0 のままにする
func applySpeedup(entries []Entry) {
	var baseline time.Duration
	for _, e := range entries {
		if e.Parallelism == 1 && !e.Skipped {
			baseline = e.Elapsed
			break
		}
	}
	if baseline <= 0 {
		return
	}
	for i := range entries {
		if entries[i].Skipped || entries[i].Elapsed <= 0 {
			continue
		}
		entries[i].Speedup = float64(baseline) / float64(entries[i].Elapsed)
	}
}

// measure は1つの組み合わせを Repeat 回計算して計測する
func (r *Runner) measure(ctx context.Context, g, p int) (Entry, error) {
	entry := Entry{Granularity: g, Parallelism: p}

	job := r.config.Job
	job.Granularity = g
	job.Parallelism = p

	samples := make([]float64, 0, r.config.Repeat)
	imbalances := make([]float64, 0, r.config.Repeat)
	for range r.config.Repeat {
		if err := ctx.Err(); err != nil {
			return entry, err
		}

		res, err := r.engine.Compute(ctx, job)
		if err != nil {
			if isPlanError(err) {
				logger.Warn("", "Skipping g=%d p=%d: %v", g, p, err)
				entry.Skipped = true
				entry.Reason = err.Error()
				return entry, nil
			}
			return entry, err
		}

		samples = append(samples, res.Elapsed.Seconds())
		imbalances = append(imbalances, res.Imbalance)
	}

	mean, std := meanStdDev(samples)
	entry.Elapsed = seconds(mean)
	entry.StdDev = seconds(std)
	entry.Imbalance = stat.Mean(imbalances, nil)

	logger.Info("", "g=%-3d p=%-3d elapsed=%v imbalance=%.3f", g, p, entry.Elapsed.Round(time.Microsecond), entry.Imbalance)
	return entry, nil
}

func isPlanError(err error) bool {
	return errors.Is(err, partition.ErrTooManyTiles) ||
		errors.Is(err, partition.ErrInvalidParallelism) ||
		errors.Is(err, partition.ErrInvalidGranularity)
}

// meanStdDev は平均と標本標準偏差を返す。サンプル1つの場合の偏差は0
func meanStdDev(samples []float64) (mean, std float64) {
	if len(samples) == 1 {
		return samples[0], 0
	}
	mean, std = stat.MeanStdDev(samples, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return mean, std
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Best は最速の組み合わせを返す。計測できた組み合わせがなければfalse
func (r *Result) Best() (Entry, bool) {
	var best Entry
	found := false
	for _, e := range r.Entries {
		if e.Skipped {
			continue
		}
		if !found || e.Elapsed < best.Elapsed {
			best = e
			found = true
		}
	}
	return best, found
}

// Report は結果をフォーマットして返す
func (r *Result) Report() string {
	var b strings.Builder

	fmt.Fprintf(&b, `
================================================================================
                         SWEEP REPORT: %s
================================================================================

EXECUTION SUMMARY
-----------------
  Start Time:     %s
  End Time:       %s
  Duration:       %v

JOB
---
  Region:         %s
  Resolution:     %s
  Max Iterations: %d

RESULTS
-------
  %-6s %-6s %-14s %-12s %-9s %s
`,
		r.Name,
		r.StartTime.Format("2006-01-02 15:04:05"),
		r.EndTime.Format("2006-01-02 15:04:05"),
		r.Duration.Round(time.Millisecond),
		r.Job.Region,
		r.Job.Resolution,
		r.Job.MaxIterations,
		"G", "P", "ELAPSED", "STDDEV", "SPEEDUP", "IMBALANCE",
	)

	for _, e := range r.Entries {
		if e.Skipped {
			fmt.Fprintf(&b, "  %-6d %-6d skipped: %s\n", e.Granularity, e.Parallelism, e.Reason)
			continue
		}
		speedup := "n/a"
		if e.Speedup > 0 {
			speedup = fmt.Sprintf("%.2f", e.Speedup)
		}
		fmt.Fprintf(&b, "  %-6d %-6d %-14v %-12v %-9s %.3f\n",
			e.Granularity, e.Parallelism,
			e.Elapsed.Round(time.Microsecond), e.StdDev.Round(time.Microsecond),
			speedup, e.Imbalance)
	}

	if best, ok := r.Best(); ok {
		fmt.Fprintf(&b, "\nBEST\n----\n  g=%d p=%d (%v)\n", best.Granularity, best.Parallelism, best.Elapsed.Round(time.Microsecond))
	}

	b.WriteString("\n================================================================================")
	return b.String()
}

// IsRunning は実行中かどうかを返す
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Config は設定を返す
func (r *Runner) Config() Config {
	return r.config
}
