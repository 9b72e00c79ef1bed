// Package updatelog buffers Put, Merge and Delete calls in arrival order and
// reduces them per key into a single bulk-load file.
//
// A Log moves through Idle → Recording → Flushing → Idle. Appends are only
// accepted outside of Flushing. A Log is not safe for concurrent use; the
// state guard catches re-entrant appends from inside a flush.
package updatelog

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/hupe1980/kvingest/bulk"
	"github.com/hupe1980/kvingest/merge"
	"github.com/hupe1980/kvingest/resource"
)

var (
	// ErrFlushing is returned when the log is modified during a flush.
	ErrFlushing = errors.New("updatelog: currently flushing")
	// ErrNotCombinable is returned when several merge operands for one key
	// cannot be combined because the operator has no partial merge.
	ErrNotCombinable = errors.New("updatelog: merge operands cannot be combined")
	// ErrInvalidKind is returned for an unknown update kind.
	ErrInvalidKind = errors.New("updatelog: invalid update kind")
)

// State is the lifecycle state of a Log.
type State int32

const (
	StateIdle State = iota
	StateRecording
	StateFlushing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateFlushing:
		return "flushing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options configures a Log.
type Options struct {
	// InitialCapacity is the first reservation of the byte buffer.
	InitialCapacity int
	// Resources accounts buffer growth. May be nil.
	Resources *resource.Controller
	// Logger receives flush summaries. May be nil.
	Logger *slog.Logger
}

// DefaultOptions returns the defaults.
func DefaultOptions() Options {
	return Options{InitialCapacity: 64 << 10}
}

// update references its key and value by offset into the shared buffer, so
// growing the buffer never leaves an update pointing at released storage.
type update struct {
	kind   bulk.Kind
	keyOff int
	keyLen int
	valLen int
}

// Log is a buffered update log.
type Log struct {
	op       merge.Operator
	opts     Options
	logger   *slog.Logger
	buf      []byte
	reserved int64
	updates  []update
	state    atomic.Int32
}

// New returns an empty Log that combines operands with op.
func New(op merge.Operator, opts Options) *Log {
	if opts.InitialCapacity <= 0 {
		opts.InitialCapacity = DefaultOptions().InitialCapacity
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Log{op: op, opts: opts, logger: logger}
}

// State returns the current lifecycle state.
func (l *Log) State() State { return State(l.state.Load()) }

// Len returns the number of buffered updates.
func (l *Log) Len() int { return len(l.updates) }

// Size returns the number of buffered key and value bytes.
func (l *Log) Size() int { return len(l.buf) }

// Put buffers a Put.
func (l *Log) Put(key, value []byte) error { return l.Append(key, value, bulk.KindPut) }

// Merge buffers a merge operand.
func (l *Log) Merge(key, operand []byte) error { return l.Append(key, operand, bulk.KindMerge) }

// Delete buffers a Delete.
func (l *Log) Delete(key []byte) error { return l.Append(key, nil, bulk.KindDelete) }

// Append copies key and value into the log. On error nothing is recorded.
func (l *Log) Append(key, value []byte, kind bulk.Kind) error {
	switch kind {
	case bulk.KindPut, bulk.KindMerge, bulk.KindDelete:
	default:
		return fmt.Errorf("%w: %d", ErrInvalidKind, kind)
	}
	if l.State() == StateFlushing {
		return ErrFlushing
	}

	if err := l.reserve(len(key) + len(value)); err != nil {
		return err
	}

	u := update{kind: kind, keyOff: len(l.buf), keyLen: len(key), valLen: len(value)}
	l.buf = append(l.buf, key...)
	l.buf = append(l.buf, value...)
	l.updates = append(l.updates, u)
	l.state.Store(int32(StateRecording))
	return nil
}

// reserve makes room for n more bytes, doubling the buffer as needed.
func (l *Log) reserve(n int) error {
	need := len(l.buf) + n
	if need <= cap(l.buf) {
		return nil
	}

	newCap := max(cap(l.buf)*2, l.opts.InitialCapacity)
	for newCap < need {
		newCap *= 2
	}

	grow := int64(newCap) - l.reserved
	if err := l.opts.Resources.AcquireMemory(grow); err != nil {
		return err
	}
	l.reserved += grow

	next := make([]byte, len(l.buf), newCap)
	copy(next, l.buf)
	l.buf = next
	return nil
}

func (l *Log) key(u update) []byte {
	return l.buf[u.keyOff : u.keyOff+u.keyLen]
}

func (l *Log) value(u update) []byte {
	off := u.keyOff + u.keyLen
	return l.buf[off : off+u.valLen : off+u.valLen]
}

// Clear drops all buffered updates and returns the log to Idle, keeping the
// buffer for reuse.
func (l *Log) Clear() {
	l.buf = l.buf[:0]
	l.updates = l.updates[:0]
	l.state.Store(int32(StateIdle))
}

// Release clears the log and gives its memory reservation back.
func (l *Log) Release() {
	l.Clear()
	l.buf = nil
	l.updates = nil
	l.opts.Resources.ReleaseMemory(l.reserved)
	l.reserved = 0
}

// Stats summarizes one flush.
type Stats struct {
	Updates int
	Keys    int
	Puts    int
	Merges  int
	Deletes int
}

// Flush reduces the buffered updates per key and writes them to w in
// ascending key order, then clears the log.
//
// Updates for one key keep their arrival order. Within a key, a Put or
// Delete discards the merge operands before it and becomes the base; the
// operands after it are applied on top:
//
//	Put                  → Put
//	Delete               → Delete
//	Put|Delete + merges  → Put(FullMerge(base, merges)), a Delete base counts as absent
//	merge                → Merge
//	merges               → Merge(PartialMergeMulti(merges))
//
// The first error stops the flush and is returned as is; the log keeps its
// contents and returns to Recording.
func (l *Log) Flush(w bulk.Writer) (Stats, error) {
	if !l.state.CompareAndSwap(int32(StateRecording), int32(StateFlushing)) &&
		!l.state.CompareAndSwap(int32(StateIdle), int32(StateFlushing)) {
		return Stats{}, ErrFlushing
	}

	stats, err := l.flush(w)
	if err != nil {
		l.state.Store(int32(StateRecording))
		l.logger.Error("update log flush failed", "updates", len(l.updates), "error", err)
		return stats, err
	}

	l.logger.Debug("update log flushed",
		"updates", stats.Updates,
		"keys", stats.Keys,
		"puts", stats.Puts,
		"merges", stats.Merges,
		"deletes", stats.Deletes,
	)
	l.Clear()
	return stats, nil
}

func (l *Log) flush(w bulk.Writer) (Stats, error) {
	order := make([]int, len(l.updates))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return bytes.Compare(l.key(l.updates[a]), l.key(l.updates[b]))
	})

	stats := Stats{Updates: len(order)}
	var operands [][]byte
	for start := 0; start < len(order); {
		key := l.key(l.updates[order[start]])
		end := start + 1
		for end < len(order) && bytes.Equal(l.key(l.updates[order[end]]), key) {
			end++
		}

		var err error
		operands, err = l.flushKey(w, key, order[start:end], operands[:0], &stats)
		if err != nil {
			return stats, err
		}
		stats.Keys++
		start = end
	}
	return stats, nil
}

func (l *Log) flushKey(w bulk.Writer, key []byte, run []int, operands [][]byte, stats *Stats) ([][]byte, error) {
	var base *update
	for _, i := range run {
		u := &l.updates[i]
		switch u.kind {
		case bulk.KindPut, bulk.KindDelete:
			base = u
			operands = operands[:0]
		case bulk.KindMerge:
			operands = append(operands, l.value(*u))
		}
	}

	switch {
	case base != nil && len(operands) == 0:
		if base.kind == bulk.KindDelete {
			stats.Deletes++
			return operands, w.Delete(key)
		}
		stats.Puts++
		return operands, w.Put(key, l.value(*base))

	case base != nil:
		var existing []byte
		if base.kind == bulk.KindPut {
			existing = l.value(*base)
			if existing == nil {
				existing = []byte{}
			}
		}
		if l.op == nil {
			return operands, fmt.Errorf("%w: key %x has merges but no operator", ErrNotCombinable, key)
		}
		merged, err := l.op.FullMerge(key, existing, operands)
		if err != nil {
			return operands, fmt.Errorf("updatelog: merge key %x: %w", key, err)
		}
		stats.Puts++
		return operands, w.Put(key, merged)

	case len(operands) == 1:
		stats.Merges++
		return operands, w.Merge(key, operands[0])

	default:
		if l.op == nil {
			return operands, fmt.Errorf("%w: key %x has merges but no operator", ErrNotCombinable, key)
		}
		merged, ok := merge.PartialMergeMulti(l.op, key, operands)
		if !ok {
			return operands, fmt.Errorf("%w: key %x, %d operands for %s", ErrNotCombinable, key, len(operands), l.op.Name())
		}
		stats.Merges++
		return operands, w.Merge(key, merged)
	}
}
