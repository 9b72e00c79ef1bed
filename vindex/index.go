// Package vindex is a fixed-size, lock-free index of versioned values
// addressed directly by u64 key.
//
// Many writers may install values concurrently; a slot only ever moves to a
// strictly newer version. Draining writes the installed values to bulk-load
// files in ascending key order and releases them as it goes.
package vindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/kvingest/bulk"
	"github.com/hupe1980/kvingest/codec"
	"github.com/hupe1980/kvingest/resource"
)

// Rejected is returned by TrySwap when the installed version is not older
// than the candidate.
const Rejected = -1

// slotSize is the accounted size of one slot.
const slotSize = 16

var (
	// ErrKeyOutOfRange is returned for keys outside the index.
	ErrKeyOutOfRange = errors.New("vindex: key out of range")
	// ErrFlushing is returned when the index is modified during a build.
	ErrFlushing = errors.New("vindex: currently flushing")
)

// Value is one installed version. An installed Value is owned by the index
// and must not be modified.
type Value struct {
	Version uint32
	Deleted bool
	Data    []byte
}

// Size returns the accounted size of v.
func (v *Value) Size() int {
	return len(v.Data)
}

// The slot index is the key, so a slot only holds the value.
type slot struct {
	val atomic.Pointer[Value]
}

// Options configures an Index.
type Options struct {
	// Capacity is the number of slots; valid keys are [0, Capacity).
	Capacity int

	// AssumeEmpty omits Deletes for deleted values when draining.
	AssumeEmpty bool

	// TargetFileSize and CompressionRatio size the key ranges built by Build.
	TargetFileSize   int64
	CompressionRatio float64

	// Workers bounds concurrent file builders.
	Workers int

	// Resources accounts slots and installed values. May be nil.
	Resources *resource.Controller

	// Logger may be nil.
	Logger *slog.Logger
}

// DefaultOptions returns the defaults.
func DefaultOptions() Options {
	return Options{
		Capacity:         1 << 20,
		TargetFileSize:   64 << 20,
		CompressionRatio: 1,
		Workers:          runtime.GOMAXPROCS(0),
	}
}

// Stats reports the installed values.
type Stats struct {
	Values int64
	Bytes  int64
	MaxKey uint64
}

// Index is a versioned concurrent index.
type Index struct {
	opts     Options
	logger   *slog.Logger
	slots    []slot
	count    atomic.Int64
	bytes    atomic.Int64
	maxKey   atomic.Uint64
	touched  atomic.Bool
	flushing atomic.Bool
}

// New allocates an index of opts.Capacity slots.
func New(opts Options) (*Index, error) {
	d := DefaultOptions()
	if opts.Capacity <= 0 {
		opts.Capacity = d.Capacity
	}
	if opts.TargetFileSize <= 0 {
		opts.TargetFileSize = d.TargetFileSize
	}
	if opts.CompressionRatio <= 0 {
		opts.CompressionRatio = d.CompressionRatio
	}
	if opts.Workers <= 0 {
		opts.Workers = d.Workers
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if err := opts.Resources.AcquireMemory(int64(opts.Capacity) * slotSize); err != nil {
		return nil, err
	}
	return &Index{
		opts:   opts,
		logger: logger.With("buffer", "vindex"),
		slots:  make([]slot, opts.Capacity),
	}, nil
}

// Cap returns the number of slots.
func (ix *Index) Cap() int { return len(ix.slots) }

// TrySwap installs candidate for key if it is newer than the installed
// value. It returns Rejected when the installed version is greater or
// equal, otherwise the size of the evicted value (0 if the slot was empty).
// A rejected candidate stays owned by the caller; an installed one is owned
// by the index and its memory is charged to the resource controller.
func (ix *Index) TrySwap(key uint64, candidate *Value) (int, error) {
	old, ok, err := ix.install(key, candidate)
	if err != nil {
		return 0, err
	}
	if !ok {
		return Rejected, nil
	}
	if old == nil {
		return 0, nil
	}
	return old.Size(), nil
}

func (ix *Index) swap(key uint64, candidate *Value) (*Value, bool) {
	s := &ix.slots[key]
	for {
		cur := s.val.Load()
		if cur != nil && cur.Version >= candidate.Version {
			return nil, false
		}
		if s.val.CompareAndSwap(cur, candidate) {
			ix.bumpMaxKey(key)
			return cur, true
		}
	}
}

func (ix *Index) bumpMaxKey(key uint64) {
	ix.touched.Store(true)
	for {
		cur := ix.maxKey.Load()
		if key <= cur || ix.maxKey.CompareAndSwap(cur, key) {
			return
		}
	}
}

// Put copies data and installs it as version of key. It reports whether
// the value was installed.
func (ix *Index) Put(key uint64, version uint32, data []byte) (bool, error) {
	_, ok, err := ix.install(key, &Value{Version: version, Data: append([]byte{}, data...)})
	return ok, err
}

// Delete installs a deletion marker as version of key.
func (ix *Index) Delete(key uint64, version uint32) (bool, error) {
	_, ok, err := ix.install(key, &Value{Version: version, Deleted: true})
	return ok, err
}

// install swaps v into its slot and moves the accounting from the evicted
// value to v.
func (ix *Index) install(key uint64, v *Value) (*Value, bool, error) {
	if key >= uint64(len(ix.slots)) {
		return nil, false, fmt.Errorf("%w: %d >= %d", ErrKeyOutOfRange, key, len(ix.slots))
	}
	if ix.flushing.Load() {
		return nil, false, ErrFlushing
	}
	size := int64(v.Size())
	if err := ix.opts.Resources.AcquireMemory(size); err != nil {
		return nil, false, err
	}

	old, ok := ix.swap(key, v)
	if !ok {
		ix.opts.Resources.ReleaseMemory(size)
		return nil, false, nil
	}

	if old == nil {
		ix.count.Add(1)
	} else {
		ix.opts.Resources.ReleaseMemory(int64(old.Size()))
		size -= int64(old.Size())
	}
	ix.bytes.Add(size)
	return old, true, nil
}

// Get returns the installed value for key, or nil.
func (ix *Index) Get(key uint64) *Value {
	if key >= uint64(len(ix.slots)) {
		return nil
	}
	return ix.slots[key].val.Load()
}

// Stats returns the current counters.
func (ix *Index) Stats() Stats {
	return Stats{
		Values: ix.count.Load(),
		Bytes:  ix.bytes.Load(),
		MaxKey: ix.maxKey.Load(),
	}
}

// AppendKeys drains the slots in [lo, hi) into w in ascending key order and
// returns the number of records written. Each value is released right
// after it is written; the first write error stops the drain and leaves the
// remaining values installed.
func (ix *Index) AppendKeys(w bulk.Writer, lo, hi uint64) (int, error) {
	hi = min(hi, uint64(len(ix.slots)))
	var key [codec.KeySize]byte
	written := 0
	for k := lo; k < hi; k++ {
		s := &ix.slots[k]
		v := s.val.Load()
		if v == nil {
			continue
		}

		var err error
		switch {
		case !v.Deleted:
			err = w.Put(codec.AppendKey(key[:0], k), v.Data)
			written++
		case !ix.opts.AssumeEmpty:
			err = w.Delete(codec.AppendKey(key[:0], k))
			written++
		}
		if err != nil {
			return written - 1, err
		}

		if s.val.CompareAndSwap(v, nil) {
			ix.release(v)
		}
	}
	return written, nil
}

func (ix *Index) release(v *Value) {
	ix.count.Add(-1)
	ix.bytes.Add(-int64(v.Size()))
	ix.opts.Resources.ReleaseMemory(int64(v.Size()))
}

// Ranges splits [0, MaxKey] into key ranges holding about
// CompressionRatio*TargetFileSize value bytes each, assuming values are
// spread evenly.
func (ix *Index) Ranges() [][2]uint64 {
	st := ix.Stats()
	if !ix.touched.Load() || st.Values == 0 {
		return nil
	}
	span := st.MaxKey + 1

	perRange := span
	target := ix.opts.CompressionRatio * float64(ix.opts.TargetFileSize)
	if share := target / float64(max(st.Bytes, 1)); share < 1 {
		perRange = uint64(share * float64(span))
	}
	perRange = max(perRange, 1)

	var ranges [][2]uint64
	for lo := uint64(0); lo < span; {
		hi := span
		if span-lo > perRange {
			hi = lo + perRange
		}
		ranges = append(ranges, [2]uint64{lo, hi})
		lo = hi
	}
	return ranges
}

// Build drains the index into files from sink, one per key range, built
// concurrently. Ranges without values produce no file.
func (ix *Index) Build(ctx context.Context, sink bulk.Sink) ([]bulk.FileMeta, error) {
	if !ix.flushing.CompareAndSwap(false, true) {
		return nil, ErrFlushing
	}
	defer ix.flushing.Store(false)

	start := time.Now()
	ranges := ix.Ranges()
	metas := make([]bulk.FileMeta, len(ranges))
	built := make([]bool, len(ranges))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.opts.Workers)
	for i, r := range ranges {
		g.Go(func() error {
			if err := ix.opts.Resources.AcquireBackground(gctx); err != nil {
				return err
			}
			defer ix.opts.Resources.ReleaseBackground()

			w, err := sink.Create(i)
			if err != nil {
				return err
			}
			n, err := ix.AppendKeys(w, r[0], r[1])
			if err != nil || n == 0 {
				_ = w.Abort()
				return err
			}
			meta, err := w.Finish()
			if err != nil {
				return err
			}
			metas[i], built[i] = meta, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		ix.logger.Error("build failed", "ranges", len(ranges), "error", err)
		return nil, err
	}

	out := metas[:0]
	for i, m := range metas {
		if built[i] {
			out = append(out, m)
		}
	}
	if ix.count.Load() == 0 {
		ix.maxKey.Store(0)
		ix.touched.Store(false)
	}

	ix.logger.Info("built files", "ranges", len(ranges), "files", len(out), "elapsed", time.Since(start))
	return out, nil
}

// Clear drops every installed value.
func (ix *Index) Clear() {
	for k := range ix.slots {
		if v := ix.slots[k].val.Swap(nil); v != nil {
			ix.release(v)
		}
	}
	ix.maxKey.Store(0)
	ix.touched.Store(false)
}

// Close drops all values and returns the slot reservation.
func (ix *Index) Close() error {
	ix.Clear()
	if ix.slots != nil {
		ix.opts.Resources.ReleaseMemory(int64(len(ix.slots)) * slotSize)
		ix.slots = nil
	}
	return nil
}
