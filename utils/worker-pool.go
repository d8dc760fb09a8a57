package utils

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ProgressTracker counts completed items and reports each completion.
type ProgressTracker struct {
	Total     int64
	Processed int64
	StartTime time.Time
	Name      string
	report    func(done, total int)
}

// NewProgressTracker creates a tracker; report may be nil.
func NewProgressTracker(total int64, name string, report func(done, total int)) *ProgressTracker {
	return &ProgressTracker{
		Total:     total,
		StartTime: time.Now(),
		Name:      name,
		report:    report,
	}
}

// Increment records one finished item.
func (pt *ProgressTracker) Increment() {
	processed := atomic.AddInt64(&pt.Processed, 1)
	if pt.report != nil {
		pt.report(int(processed), int(pt.Total))
	}
}

// GetProgress returns processed, total and the completion percentage.
func (pt *ProgressTracker) GetProgress() (int64, int64, float64) {
	processed := atomic.LoadInt64(&pt.Processed)
	if pt.Total == 0 {
		return processed, pt.Total, 100
	}
	percentage := float64(processed) / float64(pt.Total) * 100
	return processed, pt.Total, percentage
}

// Rate returns items per second since the tracker was created.
func (pt *ProgressTracker) Rate() float64 {
	elapsed := time.Since(pt.StartTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&pt.Processed)) / elapsed
}

// ParallelProcessor runs independent jobs over a fixed number of workers.
type ParallelProcessor struct {
	NumWorkers int
}

// NewParallelProcessor creates a processor; numWorkers <= 0 means NumCPU.
func NewParallelProcessor(numWorkers int) *ParallelProcessor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	return &ParallelProcessor{NumWorkers: numWorkers}
}

// ProcessOrdered applies work to every item and returns the results in
// item order, whatever order the workers finish in. The first error, or
// cancellation of ctx, stops the remaining jobs and is returned.
func ProcessOrdered[T, R any](ctx context.Context, pp *ParallelProcessor, items []T,
	work func(ctx context.Context, index int, item T) (R, error),
	tracker *ProgressTracker) ([]R, error) {

	results := make([]R, len(items))
	if len(items) == 0 {
		return results, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	numWorkers := min(pp.NumWorkers, len(items))
	if numWorkers <= 0 {
		numWorkers = 1
	}

	jobs := make(chan int)
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	wg.Add(numWorkers)
	for range numWorkers {
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					fail(err)
					continue
				}
				result, err := work(ctx, i, items[i])
				if err != nil {
					fail(err)
					continue
				}
				results[i] = result
				if tracker != nil {
					tracker.Increment()
				}
			}
		}()
	}

submit:
	for i := range items {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break submit
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
