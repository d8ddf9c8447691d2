// Package dispatch runs a fixed number of identical worker loops against a
// shared sink and joins them.
//
// Each worker computes a value, formats one record, appends it and then
// waits out the delay before the next iteration. Workers share nothing but
// the sink. A worker that hits an error stops on its own; the others run to
// completion and RunAll reports the first error only after all of them have
// returned.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aran/fanlog/internal/sink"
)

// Workload is the computation each iteration performs.
type Workload interface {
	Label() string
	Compute() (any, error)
}

// Appender is the sink side of a worker. *sink.Sink satisfies it.
type Appender interface {
	Append(message string) error
}

// Options fixes the shape of a run.
type Options struct {
	Workers    int
	Iterations int
	Delay      time.Duration

	// RunID is stamped on every record when set.
	RunID string

	// ContinueOnWriteFailure lets a worker drop the record of an iteration
	// whose append failed with sink.ErrWriteFailed and carry on. The error is
	// still reported. Any other error always stops the worker.
	ContinueOnWriteFailure bool

	Logger *slog.Logger
}

func (o Options) validate() error {
	switch {
	case o.Workers < 1:
		return fmt.Errorf("%w: workers must be at least 1, got %d", ErrInvalidOptions, o.Workers)
	case o.Iterations < 1:
		return fmt.Errorf("%w: iterations must be at least 1, got %d", ErrInvalidOptions, o.Iterations)
	case o.Delay < 0:
		return fmt.Errorf("%w: delay must not be negative, got %s", ErrInvalidOptions, o.Delay)
	}
	return nil
}

// WorkerSummary is what one worker got done.
type WorkerSummary struct {
	ID       int
	Appended int   // records that reached the sink
	Failed   int   // iterations that produced no record
	Err      error // first error the worker saw, if any
}

// Summary covers the whole run.
type Summary struct {
	Workers []WorkerSummary
	Elapsed time.Duration
}

// Appended is the number of records all workers got into the sink.
func (s Summary) Appended() int {
	n := 0
	for _, w := range s.Workers {
		n += w.Appended
	}
	return n
}

// Failed is the number of iterations, across all workers, without a record.
func (s Summary) Failed() int {
	n := 0
	for _, w := range s.Workers {
		n += w.Failed
	}
	return n
}

// RunAll starts opts.Workers workers with ids 1..Workers and blocks until
// every one of them has finished. It returns the first error a worker
// reported, wrapped in a *WorkerError.
func RunAll(ctx context.Context, opts Options, workload Workload, s Appender) (Summary, error) {
	if err := opts.validate(); err != nil {
		return Summary{}, err
	}
	if workload == nil || s == nil {
		return Summary{}, fmt.Errorf("%w: workload and sink are required", ErrInvalidOptions)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	start := time.Now()
	results := make([]WorkerSummary, opts.Workers)

	// No derived context: one worker's failure must not cancel the others.
	var g errgroup.Group
	for id := 1; id <= opts.Workers; id++ {
		id := id
		g.Go(func() error {
			w := &worker{id: id, opts: opts, workload: workload, sink: s, logger: logger.With("worker", id)}
			results[id-1] = w.run(ctx)
			return results[id-1].Err
		})
	}
	err := g.Wait()

	summary := Summary{Workers: results, Elapsed: time.Since(start)}
	logger.Debug("all workers joined",
		"workers", opts.Workers,
		"appended", summary.Appended(),
		"failed", summary.Failed(),
		"elapsed", summary.Elapsed)
	return summary, err
}

type worker struct {
	id       int
	opts     Options
	workload Workload
	sink     Appender
	logger   *slog.Logger
}

func (w *worker) run(ctx context.Context) WorkerSummary {
	res := WorkerSummary{ID: w.id}
	stop := func(iter int, err error) WorkerSummary {
		if res.Err == nil {
			res.Err = &WorkerError{Worker: w.id, Iteration: iter, Err: err}
		}
		w.logger.Warn("worker stopped early", "iteration", iter, "error", err)
		return res
	}

	w.logger.Debug("worker started", "iterations", w.opts.Iterations)
	for iter := 1; iter <= w.opts.Iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return stop(iter, err)
		}

		value, err := w.workload.Compute()
		if err != nil {
			res.Failed++
			return stop(iter, fmt.Errorf("%w: %s: %w", ErrWorkload, w.workload.Label(), err))
		}

		record := FormatRecord(w.opts.RunID, w.id, iter, w.workload.Label(), value)
		if err := w.sink.Append(record); err != nil {
			res.Failed++
			if !w.opts.ContinueOnWriteFailure || !errors.Is(err, sink.ErrWriteFailed) {
				return stop(iter, err)
			}
			if res.Err == nil {
				res.Err = &WorkerError{Worker: w.id, Iteration: iter, Err: err}
			}
			w.logger.Warn("record dropped", "iteration", iter, "error", err)
		} else {
			res.Appended++
		}

		if iter < w.opts.Iterations {
			if err := pause(ctx, w.opts.Delay); err != nil {
				return stop(iter+1, err)
			}
		}
	}
	w.logger.Debug("worker finished", "appended", res.Appended, "failed", res.Failed)
	return res
}

// pause waits for d unless ctx ends first.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FormatRecord lays out one record as space separated key=value fields:
//
//	run=3f2a9c1e worker=2 iter=4 fibonacci(10)=55
//
// The run field is left out when runID is empty.
func FormatRecord(runID string, workerID, iter int, label string, value any) string {
	var b strings.Builder
	if runID != "" {
		b.WriteString("run=")
		b.WriteString(runID)
		b.WriteByte(' ')
	}
	b.WriteString("worker=")
	b.WriteString(strconv.Itoa(workerID))
	b.WriteString(" iter=")
	b.WriteString(strconv.Itoa(iter))
	b.WriteByte(' ')
	b.WriteString(label)
	b.WriteByte('=')
	fmt.Fprint(&b, value)
	return b.String()
}
