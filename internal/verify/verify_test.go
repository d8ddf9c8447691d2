package verify

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aran/fanlog/internal/dispatch"
	"github.com/aran/fanlog/internal/sink"
	"github.com/aran/fanlog/internal/workload"
)

func TestParseRecord(t *testing.T) {
	rec, err := ParseRecord("2026-10-19T08:30:00.250Z run=ab12cd34 worker=2 iter=5 fibonacci(10)=55")
	require.NoError(t, err)
	assert.Equal(t, Record{
		Timestamp: "2026-10-19T08:30:00.250Z",
		Run:       "ab12cd34",
		Worker:    2,
		Iter:      5,
		Label:     "fibonacci(10)",
		Value:     "55",
	}, rec)

	rec, err = ParseRecord("worker=1 iter=1 answer=42")
	require.NoError(t, err)
	assert.Empty(t, rec.Timestamp)
	assert.Empty(t, rec.Run)
	assert.Equal(t, "42", rec.Value)
}

func TestParseRecordRejectsTornLines(t *testing.T) {
	for _, line := range []string{
		"",
		"worker=1 iter=1",
		"worker=1 fibonacci(10)=55",
		"iter=1 fibonacci(10)=55",
		"worker=1 iter=1 fibonacci(10)=",
		"worker=x iter=1 f=1",
		"worker=1 iter=0 f=1",
		"worker=1 iter=1 f=1 g=2",
		"2026-10-19T08:30:00Z worker=1 iter=1 f=1 stray",
		"worker=1 iter=1 fibonacci(10)=55worker=2 iter=1 fibonacci(10)=55",
	} {
		_, err := ParseRecord(line)
		assert.Error(t, err, "%q", line)
	}
}

func TestCheckCleanRun(t *testing.T) {
	var b strings.Builder
	for iter := 1; iter <= 2; iter++ {
		for w := 1; w <= 3; w++ {
			b.WriteString(dispatch.FormatRecord("r1", w, iter, "fibonacci(10)", 55) + "\n")
		}
	}

	rep, err := Check(strings.NewReader(b.String()), Expect{Workers: 3, Iterations: 2})
	require.NoError(t, err)
	assert.True(t, rep.OK(), rep.Problems())
	assert.Equal(t, 6, rep.Records())
	assert.Equal(t, []string{"r1"}, rep.RunIDs())
	assert.Equal(t, map[string]int{"fibonacci(10)=55": 6}, rep.Runs["r1"].Values)
}

func TestCheckFindsProblems(t *testing.T) {
	input := strings.Join([]string{
		"run=r1 worker=1 iter=1 f=1",
		"run=r1 worker=1 iter=3 f=1",
		"run=r1 worker=1 iter=2 f=1",
		"run=r1 worker=4 iter=1 f=1",
		"run=r1 worker=1 iter=1 f=",
		"garbage",
	}, "\n") + "\n"

	rep, err := Check(strings.NewReader(input), Expect{Workers: 2, Iterations: 3})
	require.NoError(t, err)
	assert.False(t, rep.OK())
	assert.Len(t, rep.Malformed, 2)
	require.Len(t, rep.Order, 1)
	assert.Equal(t, 3, rep.Order[0].Line)

	problems := strings.Join(rep.Problems(), "\n")
	assert.Contains(t, problems, "unexpected worker 4")
	assert.Contains(t, problems, "worker 2 has no records")
	assert.Contains(t, problems, "worker 4 has 1 records, want 3")
}

func TestCheckFiltersByRun(t *testing.T) {
	input := "run=old worker=1 iter=1 f=1\nrun=new worker=1 iter=1 f=1\nrun=old worker=1 iter=2 f=1\n"

	rep, err := Check(strings.NewReader(input), Expect{Run: "new", Workers: 1, Iterations: 1})
	require.NoError(t, err)
	assert.True(t, rep.OK(), rep.Problems())
	assert.Equal(t, 2, rep.Skipped)

	rep, err = Check(strings.NewReader(input), Expect{Run: "missing"})
	require.NoError(t, err)
	assert.Contains(t, rep.Problems(), "run missing: no records")
}

func TestCheckRealRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	s, err := sink.Open(path, sink.WithTimestamps(""))
	require.NoError(t, err)

	opts := dispatch.Options{Workers: 4, Iterations: 25, RunID: "cafe0001"}
	_, err = dispatch.RunAll(context.Background(), opts, workload.Fibonacci{N: 15}, s)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rep, err := Check(f, Expect{Run: "cafe0001", Workers: 4, Iterations: 25})
	require.NoError(t, err)
	assert.True(t, rep.OK(), rep.Problems())
	assert.Equal(t, 100, rep.Records())
	// deterministic workload: one distinct value across every record
	assert.Equal(t, map[string]int{"fibonacci(15)=610": 100}, rep.Runs["cafe0001"].Values)

	first, err := ParseRecord(strings.SplitN(readFile(t, path), "\n", 2)[0])
	require.NoError(t, err)
	_, err = time.Parse(sink.DefaultTimeLayout, first.Timestamp)
	assert.NoError(t, err)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
