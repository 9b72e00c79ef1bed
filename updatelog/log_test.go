package updatelog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/kvingest/bulk"
	"github.com/hupe1980/kvingest/codec"
	"github.com/hupe1980/kvingest/merge"
	"github.com/hupe1980/kvingest/resource"
)

func key(k uint64) []byte { return codec.EncodeKey(k) }

func set(vals ...uint64) []byte { return codec.EncodeUint64s(vals) }

func flushToMem(t *testing.T, l *Log) []bulk.Entry {
	t.Helper()
	w := bulk.NewMemWriter()
	_, err := l.Flush(w)
	require.NoError(t, err)
	return w.Entries()
}

func TestFlush_SortsAndReducesPerKey(t *testing.T) {
	l := New(merge.SetOperator{}, DefaultOptions())

	require.NoError(t, l.Put(key(3), set(1)))
	require.NoError(t, l.Delete(key(1)))
	require.NoError(t, l.Merge(key(2), codec.SingleAdd(9)))
	require.NoError(t, l.Put(key(3), set(2)))
	assert.Equal(t, StateRecording, l.State())
	assert.Equal(t, 4, l.Len())

	w := bulk.NewMemWriter()
	stats, err := l.Flush(w)
	require.NoError(t, err)
	assert.Equal(t, Stats{Updates: 4, Keys: 3, Puts: 1, Merges: 1, Deletes: 1}, stats)

	entries := w.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, bulk.Entry{Kind: bulk.KindDelete, Key: key(1)}, entries[0])
	assert.Equal(t, bulk.KindMerge, entries[1].Kind)
	assert.Equal(t, codec.SingleAdd(9), entries[1].Value)
	// Later Put for the same key wins.
	assert.Equal(t, bulk.KindPut, entries[2].Kind)
	assert.Equal(t, set(2), entries[2].Value)

	assert.Equal(t, StateIdle, l.State())
	assert.Equal(t, 0, l.Len())
}

func TestFlush_CombinesMergeOperands(t *testing.T) {
	l := New(merge.SetOperator{}, DefaultOptions())
	require.NoError(t, l.Merge(key(5), codec.SingleAdd(1)))
	require.NoError(t, l.Merge(key(5), codec.SingleAdd(2)))
	require.NoError(t, l.Merge(key(5), codec.SingleDelete(1)))

	entries := flushToMem(t, l)
	require.Len(t, entries, 1)
	assert.Equal(t, bulk.KindMerge, entries[0].Kind)

	d, err := codec.DecodeSetDelta(entries[0].Value)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, d.Add)
	assert.Equal(t, []uint64{1}, d.Del)
}

func TestFlush_PutBaseWithMerges(t *testing.T) {
	l := New(merge.SetOperator{}, DefaultOptions())
	require.NoError(t, l.Merge(key(1), codec.SingleAdd(100)))
	require.NoError(t, l.Put(key(1), set(5)))
	require.NoError(t, l.Merge(key(1), codec.SingleAdd(7)))
	require.NoError(t, l.Merge(key(1), codec.SingleDelete(5)))

	entries := flushToMem(t, l)
	require.Len(t, entries, 1)
	assert.Equal(t, bulk.KindPut, entries[0].Kind)
	assert.Equal(t, set(7), entries[0].Value)
}

func TestFlush_DeleteBaseWithMerges(t *testing.T) {
	l := New(merge.SetOperator{}, DefaultOptions())
	require.NoError(t, l.Put(key(1), set(1, 2)))
	require.NoError(t, l.Delete(key(1)))
	require.NoError(t, l.Merge(key(1), codec.SingleAdd(3)))

	entries := flushToMem(t, l)
	require.Len(t, entries, 1)
	assert.Equal(t, bulk.KindPut, entries[0].Kind)
	assert.Equal(t, set(3), entries[0].Value)
}

func TestFlush_MergesAfterEmptyPut(t *testing.T) {
	l := New(merge.AccumulatorOperator{}, DefaultOptions())
	require.NoError(t, l.Put(key(1), merge.EncodeCounter(100)))
	require.NoError(t, l.Merge(key(1), merge.EncodeCounter(5)))
	require.NoError(t, l.Merge(key(1), merge.EncodeCounter(10)))

	entries := flushToMem(t, l)
	require.Len(t, entries, 1)
	assert.Equal(t, merge.EncodeCounter(115), entries[0].Value)
}

func TestFlush_NotCombinable(t *testing.T) {
	l := New(merge.AccumulatorOperator{}, DefaultOptions())
	require.NoError(t, l.Merge(key(1), merge.EncodeCounter(1)))
	require.NoError(t, l.Merge(key(1), merge.EncodeCounter(2)))

	_, err := l.Flush(bulk.NewMemWriter())
	assert.ErrorIs(t, err, ErrNotCombinable)
	assert.Equal(t, StateRecording, l.State())
	assert.Equal(t, 2, l.Len())
}

func TestFlush_MalformedOperand(t *testing.T) {
	l := New(merge.SetOperator{}, DefaultOptions())
	require.NoError(t, l.Put(key(1), set(1)))
	require.NoError(t, l.Merge(key(1), []byte{1, 2, 3}))

	_, err := l.Flush(bulk.NewMemWriter())
	assert.ErrorIs(t, err, codec.ErrMalformedOperand)
}

type failingWriter struct {
	bulk.Writer
	calls int
	after int
	err   error
}

func (w *failingWriter) Put(k, v []byte) error {
	w.calls++
	if w.calls > w.after {
		return w.err
	}
	return w.Writer.Put(k, v)
}

func TestFlush_EngineFailureAborts(t *testing.T) {
	l := New(merge.SetOperator{}, DefaultOptions())
	for k := uint64(1); k <= 5; k++ {
		require.NoError(t, l.Put(key(k), set(k)))
	}

	engineErr := errors.New("engine: disk full")
	mem := bulk.NewMemWriter()
	w := &failingWriter{Writer: mem, after: 2, err: engineErr}

	_, err := l.Flush(w)
	assert.Same(t, engineErr, err)
	assert.Equal(t, 3, w.calls)
	assert.Len(t, mem.Entries(), 2)

	l.Clear()
	assert.Equal(t, StateIdle, l.State())
	assert.Equal(t, 0, l.Len())
}

type reentrantWriter struct {
	bulk.Writer
	log *Log
	err error
}

func (w *reentrantWriter) Put(k, v []byte) error {
	w.err = w.log.Put(key(99), nil)
	return w.Writer.Put(k, v)
}

func TestAppend_RejectedWhileFlushing(t *testing.T) {
	l := New(merge.SetOperator{}, DefaultOptions())
	require.NoError(t, l.Put(key(1), set(1)))

	w := &reentrantWriter{Writer: bulk.NewMemWriter(), log: l}
	_, err := l.Flush(w)
	require.NoError(t, err)
	assert.ErrorIs(t, w.err, ErrFlushing)
}

func TestAppend_GrowthKeepsEarlierUpdates(t *testing.T) {
	l := New(merge.SetOperator{}, Options{InitialCapacity: 16})
	for k := uint64(0); k < 1000; k++ {
		require.NoError(t, l.Put(key(999-k), set(k, k+1)))
	}

	entries := flushToMem(t, l)
	require.Len(t, entries, 1000)
	for i, e := range entries {
		k := uint64(999 - i)
		assert.Equal(t, key(uint64(i)), e.Key)
		assert.Equal(t, set(k, k+1), e.Value)
	}
}

func TestAppend_OutOfMemoryLeavesLogUnchanged(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 64})
	l := New(merge.SetOperator{}, Options{InitialCapacity: 32, Resources: rc})

	require.NoError(t, l.Put(key(1), set(1)))
	assert.Equal(t, int64(32), rc.MemoryUsage())

	err := l.Put(key(2), make([]byte, 200))
	assert.ErrorIs(t, err, resource.ErrOutOfMemory)
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, 16, l.Size())

	entries := flushToMem(t, l)
	require.Len(t, entries, 1)

	l.Release()
	assert.Equal(t, int64(0), rc.MemoryUsage())
}

func TestAppend_InvalidKind(t *testing.T) {
	l := New(merge.SetOperator{}, DefaultOptions())
	assert.ErrorIs(t, l.Append(key(1), nil, bulk.Kind(42)), ErrInvalidKind)
	assert.Equal(t, StateIdle, l.State())
}
