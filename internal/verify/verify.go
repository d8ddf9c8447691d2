// Package verify reads a sink file back and checks that every record is
// whole, that each worker's records are in order, and optionally that a run
// produced exactly the records it should have.
package verify

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Record is one parsed sink line.
type Record struct {
	Timestamp string // empty when the sink ran without timestamps
	Run       string
	Worker    int
	Iter      int
	Label     string
	Value     string
}

// ParseRecord splits a line of the form
//
//	[timestamp] [run=<id>] worker=<n> iter=<n> <label>=<value>
func ParseRecord(line string) (Record, error) {
	var rec Record
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return rec, fmt.Errorf("empty line")
	}

	if !strings.Contains(fields[0], "=") {
		rec.Timestamp = fields[0]
		fields = fields[1:]
	}

	var haveWorker, haveIter, haveValue bool
	for _, f := range fields {
		key, val, ok := strings.Cut(f, "=")
		if !ok {
			return rec, fmt.Errorf("unexpected field %q", f)
		}
		switch key {
		case "run":
			rec.Run = val
		case "worker":
			if haveWorker {
				return rec, fmt.Errorf("duplicate worker field")
			}
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return rec, fmt.Errorf("bad worker id %q", val)
			}
			rec.Worker, haveWorker = n, true
		case "iter":
			if haveIter {
				return rec, fmt.Errorf("duplicate iter field")
			}
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return rec, fmt.Errorf("bad iteration %q", val)
			}
			rec.Iter, haveIter = n, true
		default:
			if haveValue {
				return rec, fmt.Errorf("more than one value field")
			}
			i := strings.LastIndex(f, "=")
			rec.Label, rec.Value, haveValue = f[:i], f[i+1:], true
		}
	}

	switch {
	case !haveWorker:
		return rec, fmt.Errorf("missing worker field")
	case !haveIter:
		return rec, fmt.Errorf("missing iter field")
	case !haveValue || rec.Value == "":
		return rec, fmt.Errorf("missing value field")
	}
	return rec, nil
}

// Expect describes what a complete run looks like. Zero fields are not
// checked.
type Expect struct {
	Run        string // only look at records of this run
	Workers    int
	Iterations int
}

// LineError ties a problem to a 1-based line number.
type LineError struct {
	Line   int
	Reason string
}

func (e LineError) String() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// RunReport holds what was seen for one run id.
type RunReport struct {
	Records   int
	PerWorker map[int]int
	Values    map[string]int // "label=value" -> occurrences
}

// Report is the outcome of Check.
type Report struct {
	Lines     int
	Skipped   int // records of other runs when Expect.Run is set
	Malformed []LineError
	Order     []LineError
	Runs      map[string]*RunReport

	expect Expect
}

// Check reads records from r and builds a Report. The error is only for
// read failures; record problems end up in the Report.
func Check(r io.Reader, expect Expect) (*Report, error) {
	rep := &Report{Runs: make(map[string]*RunReport), expect: expect}
	type key struct {
		run    string
		worker int
	}
	last := make(map[key]int)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		rep.Lines++
		rec, err := ParseRecord(sc.Text())
		if err != nil {
			rep.Malformed = append(rep.Malformed, LineError{Line: rep.Lines, Reason: err.Error()})
			continue
		}
		if expect.Run != "" && rec.Run != expect.Run {
			rep.Skipped++
			continue
		}

		k := key{rec.Run, rec.Worker}
		if prev, ok := last[k]; ok && rec.Iter <= prev {
			rep.Order = append(rep.Order, LineError{
				Line:   rep.Lines,
				Reason: fmt.Sprintf("worker %d iter %d after iter %d", rec.Worker, rec.Iter, prev),
			})
		}
		last[k] = rec.Iter

		run := rep.Runs[rec.Run]
		if run == nil {
			run = &RunReport{PerWorker: make(map[int]int), Values: make(map[string]int)}
			rep.Runs[rec.Run] = run
		}
		run.Records++
		run.PerWorker[rec.Worker]++
		run.Values[rec.Label+"="+rec.Value]++
	}
	if err := sc.Err(); err != nil {
		return rep, fmt.Errorf("read records: %w", err)
	}
	return rep, nil
}

// RunIDs returns the run ids seen, sorted.
func (r *Report) RunIDs() []string {
	ids := make([]string, 0, len(r.Runs))
	for id := range r.Runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Records is the number of well-formed records counted.
func (r *Report) Records() int {
	n := 0
	for _, run := range r.Runs {
		n += run.Records
	}
	return n
}

// Problems lists everything wrong, one line each. Empty means the file
// passed.
func (r *Report) Problems() []string {
	var out []string
	for _, e := range r.Malformed {
		out = append(out, "malformed "+e.String())
	}
	for _, e := range r.Order {
		out = append(out, "out of order "+e.String())
	}

	if r.expect.Run != "" && r.Runs[r.expect.Run] == nil {
		out = append(out, fmt.Sprintf("run %s: no records", r.expect.Run))
	}
	for _, id := range r.RunIDs() {
		out = append(out, r.checkRun(id, r.Runs[id])...)
	}
	return out
}

// OK reports whether Problems is empty.
func (r *Report) OK() bool {
	return len(r.Problems()) == 0
}

func (r *Report) checkRun(id string, run *RunReport) []string {
	name := id
	if name == "" {
		name = "(no run id)"
	}
	var out []string

	workers := make([]int, 0, len(run.PerWorker))
	for worker := range run.PerWorker {
		workers = append(workers, worker)
	}
	sort.Ints(workers)

	if w := r.expect.Workers; w > 0 {
		for _, worker := range workers {
			if worker > w {
				out = append(out, fmt.Sprintf("run %s: unexpected worker %d (want 1..%d)", name, worker, w))
			}
		}
		for worker := 1; worker <= w; worker++ {
			if run.PerWorker[worker] == 0 {
				out = append(out, fmt.Sprintf("run %s: worker %d has no records", name, worker))
			}
		}
	}

	if it := r.expect.Iterations; it > 0 {
		for _, worker := range workers {
			if got := run.PerWorker[worker]; got != it {
				out = append(out, fmt.Sprintf("run %s: worker %d has %d records, want %d", name, worker, got, it))
			}
		}
	}
	return out
}
