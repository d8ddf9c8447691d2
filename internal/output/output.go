package output

import (
	"io"
	"os"
	"sync"
)

// SyncWriter wraps an io.Writer with a mutex so each Write lands as one
// uninterrupted block, no matter how many goroutines share it.
type SyncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSyncWriter returns a SyncWriter around w.
func NewSyncWriter(w io.Writer) *SyncWriter {
	return &SyncWriter{w: w}
}

func (sw *SyncWriter) Write(p []byte) (n int, err error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.w.Write(p)
}

// WriteString writes s as a single locked write.
func (sw *SyncWriter) WriteString(s string) (n int, err error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return io.WriteString(sw.w, s)
}

// Stdout is the synchronized process stdout. Operational logs, echoed
// records and a "-" sink all share it so console lines never interleave.
var Stdout = NewSyncWriter(os.Stdout)

// Stderr is the synchronized process stderr.
var Stderr = NewSyncWriter(os.Stderr)
