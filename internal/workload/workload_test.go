package workload

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFibonacciVariantsAgree(t *testing.T) {
	known := map[int]int64{0: 0, 1: 1, 2: 1, 10: 55, 20: 6765, 30: 832040}
	for n, want := range known {
		rec, err := Fibonacci{N: n}.Compute()
		require.NoError(t, err)
		assert.Equal(t, want, rec, "recursive fib(%d)", n)

		it, err := FibonacciIterative{N: n}.Compute()
		require.NoError(t, err)
		assert.Equal(t, want, it, "iterative fib(%d)", n)
	}
}

func TestFibonacciIsRepeatable(t *testing.T) {
	w := Fibonacci{N: 10}
	first, err := w.Compute()
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := w.Compute()
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, "fibonacci(10)", w.Label())
}

func TestIterativeUpperBound(t *testing.T) {
	v, err := FibonacciIterative{N: MaxIterativeInput}.Compute()
	require.NoError(t, err)
	assert.Equal(t, int64(7540113804746346429), v)

	_, err = FibonacciIterative{N: MaxIterativeInput + 1}.Compute()
	assert.ErrorIs(t, err, ErrInputRange)
}

func TestComputeRejectsNegativeInput(t *testing.T) {
	_, err := Fibonacci{N: -1}.Compute()
	assert.ErrorIs(t, err, ErrInputRange)
}

func TestNew(t *testing.T) {
	w, err := New("fibonacci", 10)
	require.NoError(t, err)
	assert.Equal(t, Fibonacci{N: 10}, w)

	w, err = New("fibonacci-iterative", 90)
	require.NoError(t, err)
	assert.Equal(t, FibonacciIterative{N: 90}, w)

	_, err = New("fibonacci", MaxRecursiveInput+1)
	assert.ErrorIs(t, err, ErrInputRange)

	_, err = New("factorial", 5)
	assert.ErrorIs(t, err, ErrUnknownWorkload)
	assert.Contains(t, err.Error(), "fibonacci-iterative")
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"fibonacci", "fibonacci-iterative"}, Names())
}

func TestFuncAdapter(t *testing.T) {
	boom := errors.New("boom")
	f := Func{Name: "always-fails", Fn: func() (any, error) { return nil, boom }}

	assert.Equal(t, "always-fails", f.Label())
	_, err := f.Compute()
	assert.ErrorIs(t, err, boom)
}
