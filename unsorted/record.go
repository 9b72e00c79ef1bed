// Package unsorted turns large unordered streams of u64-keyed updates into
// sorted bulk-load files.
//
// Producers append fixed 16-byte records into off-heap buffers without any
// coordination beyond one atomic reservation per batch. Building then sorts
// the records (in parallel runs that are N-way merged), cuts them into
// blocks that never split a key, and emits every block into its own file
// concurrently.
//
// A buffer must not receive appends while it is being built.
package unsorted

import (
	"cmp"
	"errors"
	"slices"
	"sort"
)

// RecordSize is the size of a Record in bytes.
const RecordSize = 16

var (
	// ErrBufferFull is returned when a reservation exceeds the buffer capacity.
	ErrBufferFull = errors.New("unsorted: buffer is full")
	// ErrFlushing is returned when a buffer is modified during a build.
	ErrFlushing = errors.New("unsorted: currently flushing")
	// ErrNotSorted is returned when merged output fails verification.
	ErrNotSorted = errors.New("unsorted: merged output is not sorted")
	// ErrLengthMismatch is returned when a merge destination does not match
	// the total length of its runs.
	ErrLengthMismatch = errors.New("unsorted: destination length does not match runs")
	// ErrDeleteUnsupported is returned for set operands that delete values.
	ErrDeleteUnsupported = errors.New("unsorted: set buffers only accept additions")
	// ErrDuplicateSubkey is returned when a blob map key receives the same
	// subkey twice in one build.
	ErrDuplicateSubkey = errors.New("unsorted: duplicate blob map subkey")
	// ErrValueTooLarge is returned for values that do not fit a 32-bit length.
	ErrValueTooLarge = errors.New("unsorted: value too large")
)

// Record is a (key, value) pair. For set buffers the value is a set member,
// for blob buffers it is an offset into the data area.
type Record struct {
	Key   uint64
	Value uint64
}

// Compare orders records by key, then value.
func Compare(a, b Record) int {
	if c := cmp.Compare(a.Key, b.Key); c != 0 {
		return c
	}
	return cmp.Compare(a.Value, b.Value)
}

// IsSorted reports whether recs is ordered by Compare.
func IsSorted(recs []Record) bool {
	return slices.IsSortedFunc(recs, Compare)
}

// Sort sorts recs in place by Compare.
func Sort(recs []Record) {
	slices.SortFunc(recs, Compare)
}

// KeyRun returns the length of the run of records at the front of recs
// sharing recs[0].Key.
func KeyRun(recs []Record) int {
	if len(recs) == 0 {
		return 0
	}
	key := recs[0].Key
	n := 1
	for n < len(recs) && recs[n].Key == key {
		n++
	}
	return n
}

// Lookup returns the records for key in sorted recs.
func Lookup(recs []Record, key uint64) []Record {
	i := sort.Search(len(recs), func(i int) bool { return recs[i].Key >= key })
	if i == len(recs) || recs[i].Key != key {
		return nil
	}
	return recs[i : i+KeyRun(recs[i:])]
}
