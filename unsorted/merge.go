package unsorted

import (
	"fmt"

	"github.com/hupe1980/kvingest/internal/queue"
)

// linearMergeMaxRuns is the largest fan-in merged by scanning all run
// heads; wider merges use a heap.
const linearMergeMaxRuns = 32

// MergeRuns merges the sorted runs into dst, which must have exactly the
// total length of the runs and must not overlap them.
func MergeRuns(dst []Record, runs ...[]Record) error {
	total := 0
	live := runs[:0:0]
	for _, r := range runs {
		if len(r) > 0 {
			live = append(live, r)
			total += len(r)
		}
	}
	if total != len(dst) {
		return fmt.Errorf("%w: %d records into %d slots", ErrLengthMismatch, total, len(dst))
	}

	switch n := len(live); {
	case n == 0:
	case n == 1:
		copy(dst, live[0])
	case n == 2:
		mergeTwo(dst, live[0], live[1])
	case n <= linearMergeMaxRuns:
		mergeLinear(dst, live)
	default:
		mergeHeap(dst, live)
	}
	return nil
}

func mergeTwo(dst, a, b []Record) {
	i, j, k := 0, 0, 0
	for i < len(a) && j < len(b) {
		if Compare(b[j], a[i]) < 0 {
			dst[k] = b[j]
			j++
		} else {
			dst[k] = a[i]
			i++
		}
		k++
	}
	k += copy(dst[k:], a[i:])
	copy(dst[k:], b[j:])
}

func mergeLinear(dst []Record, runs [][]Record) {
	pos := make([]int, len(runs))
	for k := range dst {
		best := -1
		for r, run := range runs {
			if pos[r] == len(run) {
				continue
			}
			if best < 0 || Compare(run[pos[r]], runs[best][pos[best]]) < 0 {
				best = r
			}
		}
		dst[k] = runs[best][pos[best]]
		pos[best]++
	}
}

type cursor struct {
	head Record
	run  int
	pos  int
}

func mergeHeap(dst []Record, runs [][]Record) {
	h := queue.NewMin(len(runs), func(a, b cursor) bool {
		if c := Compare(a.head, b.head); c != 0 {
			return c < 0
		}
		return a.run < b.run
	})
	for r, run := range runs {
		h.Push(cursor{head: run[0], run: r})
	}

	for k := range dst {
		c, _ := h.Top()
		dst[k] = c.head
		c.pos++
		if c.pos < len(runs[c.run]) {
			c.head = runs[c.run][c.pos]
			h.ReplaceTop(c)
		} else {
			h.Pop()
		}
	}
}
