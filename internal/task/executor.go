// Package task owns the process-wide executor that drives engine operations
// to completion from synchronous entry points.
//
// The foreign ABI cannot express suspension, so every engine call is
// submitted as a task and the calling thread blocks until the task produces
// a value. The default executor is initialized lazily on first use and is
// never torn down; it lives until process exit.
package task

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrExecutorClosed is returned when submitting to a closed executor.
var ErrExecutorClosed = errors.New("task: executor closed")

// Executor manages a fixed pool of goroutines that run submitted tasks.
// A fixed pool avoids spawning a goroutine per entry-point call under
// high call rates from many foreign threads.
type Executor struct {
	numWorkers int
	workCh     chan func()
	stopCh     chan struct{}
	wg         sync.WaitGroup
	closed     atomic.Bool
	submitMu   sync.RWMutex
}

// NewExecutor creates an executor with numWorkers goroutines.
// numWorkers <= 0 selects runtime.GOMAXPROCS(0).
func NewExecutor(numWorkers int) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}

	e := &Executor{
		numWorkers: numWorkers,
		workCh:     make(chan func(), numWorkers*2),
		stopCh:     make(chan struct{}),
	}

	e.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go e.worker()
	}

	return e
}

func (e *Executor) worker() {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopCh:
			// Drain remaining work before exiting.
			for {
				select {
				case fn, ok := <-e.workCh:
					if !ok {
						return
					}
					fn()
				default:
					return
				}
			}
		case fn, ok := <-e.workCh:
			if !ok {
				return
			}
			fn()
		}
	}
}

// Submit enqueues a task and returns once it has been accepted.
// It fails if the executor is closed or ctx is cancelled before the task
// could be enqueued.
func (e *Executor) Submit(ctx context.Context, fn func()) error {
	e.submitMu.RLock()
	defer e.submitMu.RUnlock()

	if e.closed.Load() {
		return ErrExecutorClosed
	}

	select {
	case e.workCh <- fn:
		return nil
	case <-e.stopCh:
		return ErrExecutorClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts the executor down gracefully. Idempotent.
func (e *Executor) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}

	e.submitMu.Lock()
	close(e.stopCh)
	close(e.workCh)
	e.submitMu.Unlock()

	e.wg.Wait()
}

var (
	defaultOnce sync.Once
	defaultExec *Executor
)

// Default returns the process-wide executor, creating it on first use.
// The default executor is never closed.
func Default() *Executor {
	defaultOnce.Do(func() {
		defaultExec = NewExecutor(0)
	})
	return defaultExec
}
