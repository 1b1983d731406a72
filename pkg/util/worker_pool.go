package util

import (
	"github.com/panjf2000/ants/v2"
)

// WorkerPool represents the tool for control
// the execution of go-routine pool.
type WorkerPool interface {
	// Submit queues a function for execution
	// in a separate routine.
	//
	// Implementation must return any error encountered
	// that prevented the function from being queued.
	Submit(func()) error

	// Release releases worker pool resources. All `Submit` calls will
	// finish with ErrPoolClosed. It doesn't wait until all submitted
	// functions have returned so synchronization must be achieved
	// via other means (e.g. sync.WaitGroup).
	Release()
}

// ErrPoolClosed is returned when submitting task to a closed pool.
var ErrPoolClosed = ants.ErrPoolClosed

// ErrPoolOverload is returned when every worker of the pool is busy.
var ErrPoolOverload = ants.ErrPoolOverload

// NewWorkerPool returns pool of at most size routines. Submit does not
// block and fails with ErrPoolOverload when all routines are busy.
func NewWorkerPool(size int) (WorkerPool, error) {
	p, err := ants.NewPool(size, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	return p, nil
}
