package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"mandelgen/internal/chaos"
	"mandelgen/internal/events"
	"mandelgen/internal/matrixfile"
	"mandelgen/internal/metrics"
	"mandelgen/internal/partition"
)

// ErrUnknownEngine は未知のエンジン種別が指定された場合に返される
var ErrUnknownEngine = errors.New("unknown engine")

// Engine はジョブを計算して行列を返す
type Engine interface {
	Compute(ctx context.Context, job Job) (*Result, error)
}

// Kind はエンジンの種別
type Kind string

const (
	KindInProcess Kind = "inprocess"
	KindExternal  Kind = "external"
)

// ParseKind は文字列を Kind に変換する
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindInProcess, KindExternal:
		return Kind(s), nil
	case "":
		return KindInProcess, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEngine, s)
	}
}

// Options はエンジン生成時の設定
type Options struct {
	Kind    Kind
	Binary  string // KindExternal で実行するバイナリ
	Bus     *events.Bus
	Metrics *metrics.Metrics
	Monkey  *chaos.Monkey // KindInProcess のみ
}

// New は設定に応じたエンジンを作成する
func New(opts Options) (Engine, error) {
	kind, err := ParseKind(string(opts.Kind))
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindExternal:
		if opts.Binary == "" {
			return nil, fmt.Errorf("%w: external engine requires a binary path", ErrUnknownEngine)
		}
		ext := NewExternal(opts.Binary)
		ext.SetEventBus(opts.Bus)
		ext.SetMetrics(opts.Metrics)
		return ext, nil
	default:
		e := NewInProcess()
		e.SetEventBus(opts.Bus)
		e.SetMetrics(opts.Metrics)
		e.SetChaos(opts.Monkey)
		return e, nil
	}
}

// WorkerLog は1ワーカー分の実行記録
type WorkerLog struct {
	ID       int           `json:"id"`
	Rows     int           `json:"rows"`
	Blocks   int           `json:"blocks"`
	Duration time.Duration `json:"duration"`
}

// Result は計算結果
type Result struct {
	RunID      string
	Job        Job
	Matrix     *Matrix
	Plan       *partition.Plan
	WorkerLogs []WorkerLog
	StartTime  time.Time
	Elapsed    time.Duration
	Imbalance  float64
}

// WriteFile は行列を3行形式のファイルとして書き出す
func (r *Result) WriteFile(path string) error {
	return matrixfile.WriteFile(path, r.Matrix.Width, r.Job.Region, r.Matrix.Values)
}

// Summary はAPIやログ向けの結果の要約
type Summary struct {
	RunID         string      `json:"run_id"`
	Width         int         `json:"width"`
	Height        int         `json:"height"`
	MaxIterations int         `json:"max_iterations"`
	Granularity   int         `json:"granularity"`
	Parallelism   int         `json:"parallelism"`
	Remainder     string      `json:"remainder"`
	BlockSize     int         `json:"block_size"`
	CoverageRows  int         `json:"coverage_rows"`
	StartTime     time.Time   `json:"start_time"`
	ElapsedMs     float64     `json:"elapsed_ms"`
	Imbalance     float64     `json:"imbalance"`
	Workers       []WorkerLog `json:"workers,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// Summary は結果の要約を返す
func (r *Result) Summary() Summary {
	s := Summary{
		RunID:         r.RunID,
		Width:         r.Job.Resolution.Width,
		Height:        r.Job.Resolution.Height,
		MaxIterations: r.Job.MaxIterations,
		Granularity:   r.Job.Granularity,
		Parallelism:   r.Job.Parallelism,
		Remainder:     r.Job.Remainder.String(),
		StartTime:     r.StartTime,
		ElapsedMs:     float64(r.Elapsed.Microseconds()) / 1000,
		Imbalance:     r.Imbalance,
		Workers:       r.WorkerLogs,
	}
	if r.Plan != nil {
		s.BlockSize = r.Plan.BlockSize
		s.CoverageRows = r.Plan.CoverageRows
	}
	return s
}

// Report は結果をフォーマットして返す
func (r *Result) Report() string {
	var b strings.Builder

	fmt.Fprintf(&b, `
================================================================================
                         RUN REPORT: %s
================================================================================

JOB
---
  Region:         %s
  Resolution:     %s
  Max Iterations: %d
  Granularity:    %d
  Parallelism:    %d
`,
		r.RunID,
		r.Job.Region,
		r.Job.Resolution,
		r.Job.MaxIterations,
		r.Job.Granularity,
		r.Job.Parallelism,
	)

	if r.Plan != nil {
		start, end := r.Plan.Uncovered()
		fmt.Fprintf(&b, `
PARTITION
---------
  Tiles:          %d
  Block Size:     %d rows
  Coverage:       %d / %d rows
  Uncovered:      [%d, %d)
`,
			r.Plan.TileCount,
			r.Plan.BlockSize,
			r.Plan.CoverageRows, r.Plan.Height,
			start, end,
		)
	}

	fmt.Fprintf(&b, `
TIMING
------
  Elapsed:        %v
  Imbalance:      %.3f
`,
		r.Elapsed.Round(time.Microsecond),
		r.Imbalance,
	)

	if len(r.WorkerLogs) > 0 {
		b.WriteString("\nWORKERS\n-------\n")
		for _, l := range r.WorkerLogs {
			fmt.Fprintf(&b, "  %-12s rows=%-6d blocks=%-4d %v\n",
				fmt.Sprintf("worker-%d:", l.ID), l.Rows, l.Blocks, l.Duration.Round(time.Microsecond))
		}
	}

	b.WriteString("\n================================================================================")
	return b.String()
}

// NewRunID は新しい実行IDを生成する
func NewRunID() string {
	return ulid.Make().String()
}

// SegmentName は実行IDに対応する共有メモリ名を返す
func SegmentName(runID string) string {
	return "mandel-" + runID
}

func durations(logs []WorkerLog) []time.Duration {
	out := make([]time.Duration, len(logs))
	for i, l := range logs {
		out[i] = l.Duration
	}
	return out
}
