// Package worker runs one job across a fixed number of workers.
//
// Pool.Run spawns NumWorkers-1 goroutines for worker ids 1..N-1 and runs
// worker id 0 on the calling goroutine, so the caller is one of the workers
// rather than an idle coordinator. Run returns only after every worker has
// finished.
//
// # Basic Usage
//
//	pool := worker.NewPool(4) // 4 workers, one of them inline
//	err := pool.Run(ctx, func(id int) error {
//	    // do the share of work owned by id
//	    return nil
//	})
//
// # Configuration
//
// Use NewPoolWithConfig for custom settings:
//
//	config := worker.PoolConfig{
//	    NumWorkers: 8,
//	    OnFinish: func(id int, d time.Duration, err error) { ... },
//	}
//	pool := worker.NewPoolWithConfig(config)
//
// # Failures
//
// A worker that returns an error or panics is not retried. Its failure is
// reported as a *Failure wrapping ErrWorkerFailure once all workers have
// joined. Work done by the other workers is left to the caller to discard.
package worker
