// Package sink implements the single shared append-only destination that
// every worker writes its records to.
//
// A Sink owns one writer and one mutex. Append holds the mutex for the whole
// write-and-flush sequence, so each record reaches the destination as one
// contiguous, newline-terminated line regardless of how many goroutines call
// it. Nothing else about ordering is promised: records from different
// goroutines land in whatever order they win the lock.
package sink

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/aran/fanlog/internal/output"
)

// StdoutPath is the destination name that selects standard output.
const StdoutPath = "-"

// DefaultTimeLayout is used by WithTimestamps when no layout is given.
const DefaultTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Stats counts what a sink has done so far.
type Stats struct {
	Records  int64 // appends that landed
	Bytes    int64 // bytes written by those appends
	Failures int64 // appends that returned an error
}

// Option configures a Sink.
type Option func(*Sink)

// WithTimestamps prefixes every record with the current time in layout.
func WithTimestamps(layout string) Option {
	return func(s *Sink) {
		if layout == "" {
			layout = DefaultTimeLayout
		}
		s.timeLayout = layout
	}
}

// WithClock replaces time.Now for timestamp prefixes.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// WithSync makes every append fsync the destination before the lock is
// released, when the destination supports it.
func WithSync(enabled bool) Option {
	return func(s *Sink) { s.sync = enabled }
}

// WithEcho also writes "Logged: <record>" to w while the lock is held, so
// the echo shows records in the same order as the destination.
func WithEcho(w io.Writer) Option {
	return func(s *Sink) { s.echo = w }
}

// WithLogger sets the logger used for sink lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) { s.logger = l }
}

type syncer interface {
	Sync() error
}

type truncater interface {
	Truncate(size int64) error
}

type statter interface {
	Stat() (os.FileInfo, error)
}

// Sink serializes appends to one destination.
type Sink struct {
	mu     sync.Mutex
	name   string
	w      io.Writer
	closer io.Closer
	size   int64 // current destination size, -1 when unknown
	closed bool
	broken error
	stats  Stats

	timeLayout string
	now        func() time.Time
	sync       bool
	echo       io.Writer
	logger     *slog.Logger
}

// Open opens path for appending, creating it if needed. StdoutPath selects
// the process stdout, shared with the rest of the console output.
func Open(path string, opts ...Option) (*Sink, error) {
	if path == StdoutPath {
		s := New(output.Stdout, opts...)
		s.name = "stdout"
		return s, nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResourceUnavailable, err)
	}

	s := New(f, opts...)
	s.name = path
	s.logger.Debug("sink opened", "path", path, "size", s.size)
	return s, nil
}

// New wraps an already open writer. If w is an io.Closer, Close closes it.
func New(w io.Writer, opts ...Option) *Sink {
	s := &Sink{
		name: "writer",
		w:    w,
		size: -1,
		now:  time.Now,
	}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	if st, ok := w.(statter); ok {
		if fi, err := st.Stat(); err == nil && fi.Mode().IsRegular() {
			s.size = fi.Size()
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Name returns the destination path, or a short description for streams.
func (s *Sink) Name() string {
	return s.name
}

// Append writes message as one newline-terminated record. It is safe to
// call from any number of goroutines.
func (s *Sink) Append(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.stats.Failures++
		return fmt.Errorf("%w: sink %s is closed", ErrResourceUnavailable, s.name)
	}
	if s.broken != nil {
		s.stats.Failures++
		return fmt.Errorf("%w: %w", ErrResourceUnavailable, s.broken)
	}

	record := s.format(message)
	n, err := s.w.Write(record)
	if err == nil && n < len(record) {
		err = io.ErrShortWrite
	}
	if err != nil {
		s.stats.Failures++
		return s.fail(n, err)
	}
	if s.size >= 0 {
		s.size += int64(n)
	}

	if s.sync {
		if f, ok := s.w.(syncer); ok {
			if err := f.Sync(); err != nil {
				// The bytes may or may not survive; nothing later can be trusted.
				s.broken = fmt.Errorf("sync %s: %w", s.name, err)
				s.stats.Failures++
				s.logger.Error("sink sync failed", "sink", s.name, "error", err)
				return fmt.Errorf("%w: %w", ErrResourceUnavailable, s.broken)
			}
		}
	}

	s.stats.Records++
	s.stats.Bytes += int64(n)

	if s.echo != nil {
		_, _ = fmt.Fprintf(s.echo, "Logged: %s", record)
	}
	return nil
}

// fail classifies a write error. Partial bytes are rolled back when the
// destination can be truncated; otherwise the torn fragment would glue onto
// the next record, so the sink is retired instead.
func (s *Sink) fail(n int, err error) error {
	if permanent(err) {
		s.broken = err
		s.logger.Error("sink became unwritable", "sink", s.name, "error", err)
		return fmt.Errorf("%w: %w", ErrResourceUnavailable, err)
	}

	if n > 0 {
		t, ok := s.w.(truncater)
		if !ok || s.size < 0 {
			s.broken = fmt.Errorf("partial record on %s cannot be rolled back: %w", s.name, err)
			s.logger.Error("sink left with partial record", "sink", s.name, "written", n, "error", err)
			return fmt.Errorf("%w: %w", ErrResourceUnavailable, s.broken)
		}
		if terr := t.Truncate(s.size); terr != nil {
			s.broken = fmt.Errorf("roll back partial record on %s: %w", s.name, terr)
			s.logger.Error("sink rollback failed", "sink", s.name, "error", terr)
			return fmt.Errorf("%w: %w", ErrResourceUnavailable, s.broken)
		}
	}

	s.logger.Warn("sink append failed", "sink", s.name, "error", err)
	return fmt.Errorf("%w: %w", ErrWriteFailed, err)
}

func (s *Sink) format(message string) []byte {
	buf := make([]byte, 0, len(message)+len(s.timeLayout)+2)
	if s.timeLayout != "" {
		buf = s.now().AppendFormat(buf, s.timeLayout)
		buf = append(buf, ' ')
	}
	buf = append(buf, message...)
	return append(buf, '\n')
}

// Stats returns a snapshot of the sink counters.
func (s *Sink) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close releases the destination. Calling it again, or on a nil Sink left
// behind by a failed Open, is a no-op.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.logger.Debug("sink closed", "sink", s.name, "records", s.stats.Records, "failures", s.stats.Failures)
	if s.closer == nil {
		return nil
	}
	if err := s.closer.Close(); err != nil {
		return fmt.Errorf("close sink %s: %w", s.name, err)
	}
	return nil
}
