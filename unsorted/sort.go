package unsorted

import (
	"fmt"

	"golang.org/x/sync/errgroup"
)

// SortRuns splits recs into consecutive runs of at most runLen records and
// sorts them concurrently on up to workers goroutines. Runs that are
// already sorted are left alone.
func SortRuns(recs []Record, runLen, workers int) [][]Record {
	if len(recs) == 0 {
		return nil
	}
	if runLen <= 0 || runLen > len(recs) {
		runLen = len(recs)
	}

	var runs [][]Record
	for start := 0; start < len(recs); start += runLen {
		runs = append(runs, recs[start:min(start+runLen, len(recs))])
	}

	var g errgroup.Group
	g.SetLimit(max(workers, 1))
	for _, run := range runs {
		g.Go(func() error {
			if !IsSorted(run) {
				Sort(run)
			}
			return nil
		})
	}
	_ = g.Wait()
	return runs
}

// SortParallel sorts src using runs of at most runLen records, merging the
// runs into scratch. It returns whichever of the two buffers holds the
// sorted result.
func SortParallel(src, scratch []Record, runLen, workers int) ([]Record, error) {
	runs := SortRuns(src, runLen, workers)
	if len(runs) <= 1 {
		return src, nil
	}
	if len(scratch) < len(src) {
		return nil, fmt.Errorf("%w: scratch holds %d of %d records", ErrLengthMismatch, len(scratch), len(src))
	}

	dst := scratch[:len(src)]
	if err := MergeRuns(dst, runs...); err != nil {
		return nil, err
	}
	if !IsSorted(dst) {
		return nil, ErrNotSorted
	}
	return dst, nil
}

// RunLength returns the run length used to sort n records on workers
// goroutines, capped at maxRun.
func RunLength(n, workers, maxRun int) int {
	workers = max(workers, 1)
	runLen := (n + workers - 1) / workers
	if maxRun > 0 && runLen > maxRun {
		runLen = maxRun
	}
	return max(runLen, 1)
}
