// Package engine computes Mandelbrot escape-time matrices.
//
// An Engine takes a Job (region, resolution, iteration limit, granularity,
// parallelism) and returns a Result holding the matrix plus per-worker
// timing. Two implementations share the interface:
//
//   - InProcess partitions the rows with package partition, creates a named
//     shared memory segment sized Height*Width*4 bytes, and runs one goroutine
//     per worker through worker.Pool. Each worker attaches to the segment by
//     name and writes only the rows it owns. After the join the segment is
//     copied into a private Matrix, then detached and unlinked on every exit
//     path.
//   - External runs a separate binary that follows the same positional
//     argument contract and reads its output back through package matrixfile.
//
// # Basic Usage
//
//	eng, err := engine.New(engine.Options{Kind: engine.KindInProcess})
//	if err != nil {
//	    return err
//	}
//
//	job := engine.DefaultJob()
//	job.Parallelism = runtime.NumCPU()
//
//	res, err := eng.Compute(ctx, job)
//	if err != nil {
//	    return err
//	}
//	return res.WriteFile("mandelbrot.txt")
//
// # Failure
//
// Validation happens before any segment exists. If a worker panics or
// returns an error the whole run fails with worker.ErrWorkerFailure; no
// matrix is returned and nothing is written.
package engine
