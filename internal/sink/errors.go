package sink

import (
	"errors"
	"os"
	"syscall"
)

var (
	// ErrResourceUnavailable means the destination could not be opened or
	// can no longer be written at all. Once an open sink returns it, every
	// later Append returns it too.
	ErrResourceUnavailable = errors.New("sink resource unavailable")

	// ErrWriteFailed means a single append did not land. The sink is still
	// usable and no partial record was left behind.
	ErrWriteFailed = errors.New("sink write failed")
)

// permanent reports whether a write error means the handle itself is gone.
func permanent(err error) bool {
	switch {
	case errors.Is(err, os.ErrClosed),
		errors.Is(err, syscall.EBADF),
		errors.Is(err, syscall.EROFS),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	return false
}
