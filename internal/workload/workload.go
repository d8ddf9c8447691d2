// Package workload provides the pure computations workers run each
// iteration. Any deterministic function works; Fibonacci is the default.
package workload

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnknownWorkload is returned by New for an unregistered name.
	ErrUnknownWorkload = errors.New("unknown workload")
	// ErrInputRange is returned when the input cannot be computed sensibly.
	ErrInputRange = errors.New("workload input out of range")
)

// Workload is one repeatable computation.
type Workload interface {
	// Label names the computation in a record, e.g. "fibonacci(10)".
	Label() string
	Compute() (any, error)
}

// Func adapts a plain function to the Workload interface.
type Func struct {
	Name string
	Fn   func() (any, error)
}

func (f Func) Label() string { return f.Name }

func (f Func) Compute() (any, error) { return f.Fn() }

// Fibonacci computes fib(N) by plain recursion.
type Fibonacci struct {
	N int
}

// MaxRecursiveInput bounds Fibonacci so a single call stays well under a
// second.
const MaxRecursiveInput = 40

func (f Fibonacci) Label() string { return fmt.Sprintf("fibonacci(%d)", f.N) }

func (f Fibonacci) Compute() (any, error) {
	if f.N < 0 || f.N > MaxRecursiveInput {
		return nil, fmt.Errorf("%w: fibonacci(%d), want 0..%d", ErrInputRange, f.N, MaxRecursiveInput)
	}
	return fib(f.N), nil
}

func fib(n int) int64 {
	if n <= 1 {
		return int64(n)
	}
	return fib(n-1) + fib(n-2)
}

// FibonacciIterative computes fib(N) in a loop.
type FibonacciIterative struct {
	N int
}

// MaxIterativeInput is the largest n whose fib(n) fits in an int64.
const MaxIterativeInput = 92

func (f FibonacciIterative) Label() string { return fmt.Sprintf("fibonacci(%d)", f.N) }

func (f FibonacciIterative) Compute() (any, error) {
	if f.N < 0 || f.N > MaxIterativeInput {
		return nil, fmt.Errorf("%w: fibonacci(%d), want 0..%d", ErrInputRange, f.N, MaxIterativeInput)
	}
	var a, b int64 = 0, 1
	for i := 0; i < f.N; i++ {
		a, b = b, a+b
	}
	return a, nil
}

type entry struct {
	max  int
	ctor func(n int) Workload
}

var registry = map[string]entry{
	"fibonacci":           {MaxRecursiveInput, func(n int) Workload { return Fibonacci{N: n} }},
	"fibonacci-iterative": {MaxIterativeInput, func(n int) Workload { return FibonacciIterative{N: n} }},
}

// Names lists the registered workload names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the named workload for input n. The input is checked up front
// so a bad value fails at startup rather than inside every worker.
func New(name string, n int) (Workload, error) {
	e, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownWorkload, name, strings.Join(Names(), ", "))
	}
	if n < 0 || n > e.max {
		return nil, fmt.Errorf("%w: %s(%d), want 0..%d", ErrInputRange, name, n, e.max)
	}
	return e.ctor(n), nil
}
