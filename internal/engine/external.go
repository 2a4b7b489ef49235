package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mandelgen/internal/events"
	"mandelgen/internal/logger"
	"mandelgen/internal/matrixfile"
	"mandelgen/internal/metrics"
)

// ErrExternalEngine は外部エンジンの実行や出力が不正な場合に返される
var ErrExternalEngine = errors.New("external engine failed")

// OutputEnv は外部エンジンへ出力先を渡す環境変数名
const OutputEnv = "MANDEL_OUTPUT"

// External は同じ引数規約を持つ別バイナリで計算するエンジン
type External struct {
	binary   string
	eventBus *events.Bus
	metrics  *metrics.Metrics
}

// NewExternal は新しいExternalエンジンを作成する
func NewExternal(binary string) *External {
	return &External{binary: binary}
}

// SetEventBus はイベントバスを設定する
func (e *External) SetEventBus(bus *events.Bus) {
	e.eventBus = bus
}

// SetMetrics はメトリクスを設定する
func (e *External) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// Binary は実行するバイナリのパスを返す
func (e *External) Binary() string {
	return e.binary
}

// Args はジョブを位置引数 P G XMIN XMAX YMIN YMAX W H ITERS MODE に変換する
func Args(job Job) []string {
	return []string{
		strconv.Itoa(job.Parallelism),
		strconv.Itoa(job.Granularity),
		formatFloat(job.Region.XMin),
		formatFloat(job.Region.XMax),
		formatFloat(job.Region.YMin),
		formatFloat(job.Region.YMax),
		strconv.Itoa(job.Resolution.Width),
		strconv.Itoa(job.Resolution.Height),
		strconv.Itoa(job.MaxIterations),
		string(ModeGenerate),
	}
}

// Compute は外部バイナリを実行し、書き出された行列ファイルを読み戻す
func (e *External) Compute(ctx context.Context, job Job) (*Result, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	plan, err := job.Plan()
	if err != nil {
		return nil, err
	}

	runID := NewRunID()
	result := &Result{
		RunID:     runID,
		Job:       job,
		Plan:      plan,
		StartTime: time.Now(),
	}

	if e.metrics != nil {
		defer e.metrics.RunStarted()()
	}
	e.publishEvent(events.NewRunStartedEvent(runID, job.Resolution.Width, job.Resolution.Height, plan.Parallelism, plan.Granularity))

	matrix, err := e.run(ctx, runID, job)
	result.Elapsed = time.Since(result.StartTime)

	if err != nil {
		logger.Error(runID, "External run failed after %v: %v", result.Elapsed, err)
		if e.metrics != nil {
			e.metrics.RecordFailure(result.Elapsed)
		}
		e.publishEvent(events.NewRunFailedEvent(runID, err))
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}

	result.Matrix = matrix
	if e.metrics != nil {
		e.metrics.RecordSuccess(result.Elapsed, job.Resolution.Pixels())
	}

	logger.Info(runID, "External run completed in %v", result.Elapsed)
	e.publishEvent(events.NewRunCompletedEvent(runID, result.Elapsed))

	return result, nil
}

func (e *External) run(ctx context.Context, runID string, job Job) (*Matrix, error) {
	dir, err := os.MkdirTemp("", "mandelgen-"+runID+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	output := filepath.Join(dir, "matrix.txt")

	cmd := exec.CommandContext(ctx, e.binary, Args(job)...)
	cmd.Env = append(os.Environ(), OutputEnv+"="+output)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Info(runID, "Running external engine: %s %s", e.binary, strings.Join(cmd.Args[1:], " "))

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %v: %s", ErrExternalEngine, err, strings.TrimSpace(stderr.String()))
	}

	file, err := matrixfile.ReadFile(output)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExternalEngine, err)
	}

	if file.Width != job.Resolution.Width || file.Height() != job.Resolution.Height {
		return nil, fmt.Errorf("%w: produced %dx%d matrix, want %s",
			ErrExternalEngine, file.Width, file.Height(), job.Resolution)
	}

	return &Matrix{
		Width:  file.Width,
		Height: file.Height(),
		Values: file.Values,
	}, nil
}

// publishEvent はイベントを発行する
func (e *External) publishEvent(event events.Event) {
	if e.eventBus != nil {
		e.eventBus.Publish(event)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
