package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mandelgen/internal/chaos"
	"mandelgen/internal/escape"
	"mandelgen/internal/events"
	"mandelgen/internal/logger"
	"mandelgen/internal/metrics"
	"mandelgen/internal/partition"
	"mandelgen/internal/plane"
	"mandelgen/internal/shm"
	"mandelgen/internal/worker"
)

// InProcess はゴルーチンのワーカーで共有メモリに書き込むエンジン
type InProcess struct {
	eventBus *events.Bus
	metrics  *metrics.Metrics
	monkey   *chaos.Monkey
}

// NewInProcess は新しいInProcessエンジンを作成する
func NewInProcess() *InProcess {
	return &InProcess{}
}

// SetEventBus はイベントバスを設定する
func (e *InProcess) SetEventBus(bus *events.Bus) {
	e.eventBus = bus
}

// SetMetrics はメトリクスを設定する
func (e *InProcess) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// SetChaos は障害注入を設定する
func (e *InProcess) SetChaos(m *chaos.Monkey) {
	e.monkey = m
}

// Compute はジョブを計算する
//
// 検証と分割計画はセグメント作成前に行う。ワーカーが1つでも失敗した場合、
// セグメントをアンリンクしてから worker.ErrWorkerFailure を返し、行列は返さない
func (e *InProcess) Compute(ctx context.Context, job Job) (*Result, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	plan, err := job.Plan()
	if err != nil {
		return nil, err
	}
	grid, err := plane.NewGrid(job.Region, job.Resolution)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runID := NewRunID()
	segment := SegmentName(runID)
	result := &Result{
		RunID:      runID,
		Job:        job,
		Plan:       plan,
		WorkerLogs: make([]WorkerLog, plan.Parallelism),
		StartTime:  time.Now(),
	}

	if e.metrics != nil {
		defer e.metrics.RunStarted()()
	}

	logger.Info(runID, "Run started: %s", job)
	logger.Debug(runID, "Partition: %s", plan)
	e.publishEvent(events.NewRunStartedEvent(runID, job.Resolution.Width, job.Resolution.Height, plan.Parallelism, plan.Granularity))

	err = shm.With(segment, job.Resolution.Pixels()*4, func(seg *shm.Segment) error {
		pool := worker.NewPoolWithConfig(worker.PoolConfig{
			NumWorkers: plan.Parallelism,
			OnFinish:   e.onWorkerFinish,
		})

		work := func(id int) error {
			log, err := computeBlocks(segment, grid, plan, id, job.MaxIterations)
			if err != nil {
				return err
			}
			result.WorkerLogs[id] = log
			e.publishEvent(events.NewWorkerFinishedEvent(runID, id, log.Rows, log.Blocks, log.Duration))
			return nil
		}

		if err := pool.Run(ctx, e.monkey.Wrap(runID, plan.Parallelism, work)); err != nil {
			return err
		}

		result.Matrix = NewMatrix(job.Resolution.Width, job.Resolution.Height)
		copy(result.Matrix.Values, seg.Int32s())
		return nil
	})
	e.publishEvent(events.NewSegmentReleasedEvent(runID, segment))

	result.Elapsed = time.Since(result.StartTime)

	if err != nil {
		logger.Error(runID, "Run failed after %v: %v", result.Elapsed, err)
		if e.metrics != nil {
			e.metrics.RecordFailure(result.Elapsed)
		}
		e.publishEvent(events.NewRunFailedEvent(runID, err))
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}

	result.Imbalance = metrics.Imbalance(durations(result.WorkerLogs))
	if e.metrics != nil {
		e.metrics.RecordSuccess(result.Elapsed, job.Resolution.Pixels())
		e.metrics.RecordImbalance(durations(result.WorkerLogs))
	}

	logger.Info(runID, "Run completed in %v (imbalance %.3f)", result.Elapsed, result.Imbalance)
	e.publishEvent(events.NewRunCompletedEvent(runID, result.Elapsed))

	return result, nil
}

// computeBlocks はワーカーidに割り当てられたブロックを計算し、
// 名前で開いた共有メモリの担当行へ書き込む
func computeBlocks(segment string, grid *plane.Grid, plan *partition.Plan, id, maxIter int) (log WorkerLog, err error) {
	start := time.Now()

	seg, err := shm.Attach(segment)
	if err != nil {
		return WorkerLog{}, err
	}
	defer func() {
		err = errors.Join(err, seg.Close())
	}()

	out := seg.Int32s()
	width := grid.Width

	log.ID = id
	for _, block := range plan.Assign(id) {
		for row := block.StartRow; row < block.EndRow(); row++ {
			escape.Row(out[row*width:(row+1)*width], grid.Row(row), maxIter)
		}
		log.Rows += block.Size
		log.Blocks++
	}
	log.Duration = time.Since(start)

	logger.Debug(fmt.Sprintf("worker-%d", id), "Finished %d rows in %d blocks (%v)", log.Rows, log.Blocks, log.Duration)
	return log, nil
}

func (e *InProcess) onWorkerFinish(id int, elapsed time.Duration, err error) {
	if err == nil && e.metrics != nil {
		e.metrics.RecordWorker(elapsed)
	}
}

// publishEvent はイベントを発行する
func (e *InProcess) publishEvent(event events.Event) {
	if e.eventBus != nil {
		e.eventBus.Publish(event)
	}
}
