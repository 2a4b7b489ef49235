package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mandelgen/internal/logger"
)

// ErrWorkerFailure はワーカーが異常終了した場合の基底エラー
var ErrWorkerFailure = errors.New("worker failure")

// ErrPoolBusy は実行中のプールでRunを呼んだ場合に返される
var ErrPoolBusy = errors.New("worker pool is already running")

// Job はワーカーIDを受け取って実行されるジョブ
type Job func(id int) error

// Failure は個々のワーカーの異常終了
type Failure struct {
	WorkerID int
	Cause    error
	Panic    any    // panicした場合の値
	Stack    []byte // panicした場合のスタック
}

func (f *Failure) Error() string {
	if f.Panic != nil {
		return fmt.Sprintf("worker %d panicked: %v", f.WorkerID, f.Panic)
	}
	return fmt.Sprintf("worker %d failed: %v", f.WorkerID, f.Cause)
}

// Is は errors.Is(err, ErrWorkerFailure) を成立させる
func (f *Failure) Is(target error) bool {
	return target == ErrWorkerFailure
}

// Unwrap は元のエラーを返す
func (f *Failure) Unwrap() error {
	return f.Cause
}

// PoolConfig はワーカープールの設定
type PoolConfig struct {
	NumWorkers int                                            // ワーカー数（0でCPU数）
	OnFinish   func(id int, elapsed time.Duration, err error) // ワーカー終了時のフック
}

// DefaultPoolConfig はデフォルト設定を返す
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		NumWorkers: 0, // CPU数
	}
}

// Pool は1回の計算をワーカー間で分担させる
type Pool struct {
	numWorkers int
	onFinish   func(id int, elapsed time.Duration, err error)

	mu      sync.Mutex
	running bool
}

// NewPool は新しいワーカープールを作成する
// numWorkers が 0 以下の場合は CPU 数を使用
func NewPool(numWorkers int) *Pool {
	config := DefaultPoolConfig()
	config.NumWorkers = numWorkers
	return NewPoolWithConfig(config)
}

// NewPoolWithConfig は設定を指定してワーカープールを作成する
func NewPoolWithConfig(config PoolConfig) *Pool {
	numWorkers := config.NumWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	return &Pool{
		numWorkers: numWorkers,
		onFinish:   config.OnFinish,
	}
}

// Run はワーカー 1..N-1 をゴルーチンで起動し、ワーカー0を呼び出し元で実行し、
// 全員の終了を待つ。ctxは起動前にのみ確認され、開始後の計算は中断されない
func (p *Pool) Run(ctx context.Context, job Job) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrPoolBusy
	}
	p.running = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	logger.Debug("", "WorkerPool running with %d workers (%d spawned)", p.numWorkers, p.numWorkers-1)

	var g errgroup.Group
	for id := 1; id < p.numWorkers; id++ {
		g.Go(func() error {
			return p.runWorker(id, job)
		})
	}

	inlineErr := p.runWorker(0, job)
	spawnedErr := g.Wait()

	return errors.Join(inlineErr, spawnedErr)
}

// runWorker は1ワーカー分のジョブを実行し、panicをFailureに変換する
func (p *Pool) runWorker(id int, job Job) (err error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = &Failure{WorkerID: id, Panic: r, Stack: debug.Stack()}
		}
		if err != nil {
			logger.Error(workerTag(id), "%v", err)
		}
		if p.onFinish != nil {
			p.onFinish(id, time.Since(start), err)
		}
	}()

	if jobErr := job(id); jobErr != nil {
		var f *Failure
		if errors.As(jobErr, &f) {
			return jobErr
		}
		return &Failure{WorkerID: id, Cause: jobErr}
	}
	return nil
}

// NumWorkers はワーカー数を返す
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

// IsRunning は実行中かどうかを返す
func (p *Pool) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func workerTag(id int) string {
	return fmt.Sprintf("worker-%d", id)
}
