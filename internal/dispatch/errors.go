package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkload marks a failure inside the computation itself.
	ErrWorkload = errors.New("workload failed")
	// ErrInvalidOptions is returned before any worker starts.
	ErrInvalidOptions = errors.New("invalid dispatch options")
)

// WorkerError records which worker stopped, and on which iteration.
type WorkerError struct {
	Worker    int
	Iteration int
	Err       error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %d iteration %d: %v", e.Worker, e.Iteration, e.Err)
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}
