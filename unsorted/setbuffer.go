package unsorted

import (
	"context"

	"github.com/hupe1980/kvingest/bulk"
	"github.com/hupe1980/kvingest/codec"
)

// SetBuffer collects (key, member) pairs for u64-set values and builds
// files holding one add-only operand, or the full set, per key.
//
// Add, AddRecords and Batch.Flush are safe for concurrent use.
type SetBuffer struct {
	p *pipeline
}

// NewSetBuffer allocates a buffer of opts.Capacity records.
func NewSetBuffer(opts Options) (*SetBuffer, error) {
	p, err := newPipeline(opts, "set")
	if err != nil {
		return nil, err
	}
	return &SetBuffer{p: p}, nil
}

// Len returns the number of buffered records.
func (b *SetBuffer) Len() int { return b.p.index.len() }

// Cap returns the record capacity.
func (b *SetBuffer) Cap() int { return b.p.index.cap() }

// Mode returns the emit mode.
func (b *SetBuffer) Mode() Mode { return b.p.opts.Mode }

// Add buffers member value for key.
func (b *SetBuffer) Add(key, value uint64) error {
	return b.AddRecords(Record{Key: key, Value: value})
}

// AddRecords buffers recs with a single reservation. Either all records
// are buffered or none.
func (b *SetBuffer) AddRecords(recs ...Record) error {
	if len(recs) == 0 {
		return nil
	}
	start, err := b.p.reserve(len(recs))
	if err != nil {
		return err
	}
	copy(b.p.index.items[start:], recs)
	return nil
}

// AddOperand buffers the additions of an encoded set delta for an encoded
// key. Operands that delete members are rejected.
func (b *SetBuffer) AddOperand(key, operand []byte) error {
	k, err := codec.DecodeKey(key)
	if err != nil {
		return err
	}
	d, err := codec.DecodeSetDelta(operand)
	if err != nil {
		return err
	}
	if len(d.Del) > 0 {
		return ErrDeleteUnsupported
	}

	recs := make([]Record, len(d.Add))
	for i, v := range d.Add {
		recs[i] = Record{Key: k, Value: v}
	}
	return b.AddRecords(recs...)
}

// NewBatch returns a producer-local batch that reserves space in b only
// when it fills up or is flushed.
func (b *SetBuffer) NewBatch() *Batch {
	return &Batch{buf: b, recs: make([]Record, 0, DefaultBatchBytes/RecordSize)}
}

// Sorted sorts the buffered records in place and returns them. The slice
// is valid until the next Build, Clear or Close.
func (b *SetBuffer) Sorted() ([]Record, error) {
	if !b.p.flushing.CompareAndSwap(false, true) {
		return nil, ErrFlushing
	}
	defer b.p.flushing.Store(false)
	return b.p.sort()
}

// Values returns the distinct members buffered for key in ascending order.
// It sorts the buffer first.
func (b *SetBuffer) Values(key uint64) ([]uint64, error) {
	recs, err := b.Sorted()
	if err != nil {
		return nil, err
	}

	var out []uint64
	for i, r := range Lookup(recs, key) {
		if i > 0 && out[len(out)-1] == r.Value {
			continue
		}
		out = append(out, r.Value)
	}
	return out, nil
}

// Build writes the buffered records to files from sink, one per block, and
// clears the buffer on success.
func (b *SetBuffer) Build(ctx context.Context, sink bulk.Sink) ([]bulk.FileMeta, error) {
	mode := b.p.opts.Mode
	metas, err := b.p.build(ctx, sink, func() blockEmitter {
		c := NewCombiner(mode)
		return c.AppendAll
	})
	if err != nil {
		return nil, err
	}
	b.p.clear()
	return metas, nil
}

// Clear drops all buffered records.
func (b *SetBuffer) Clear() { b.p.clear() }

// Close releases the buffer memory.
func (b *SetBuffer) Close() error { return b.p.close() }

// Batch accumulates records for one producer.
type Batch struct {
	buf  *SetBuffer
	recs []Record
}

// Add appends a record and flushes when the batch is full.
func (bt *Batch) Add(key, value uint64) error {
	bt.recs = append(bt.recs, Record{Key: key, Value: value})
	if len(bt.recs) == cap(bt.recs) {
		return bt.Flush()
	}
	return nil
}

// Len returns the number of unflushed records.
func (bt *Batch) Len() int { return len(bt.recs) }

// Flush moves the batched records into the buffer. On error they stay in
// the batch.
func (bt *Batch) Flush() error {
	if err := bt.buf.AddRecords(bt.recs...); err != nil {
		return err
	}
	bt.recs = bt.recs[:0]
	return nil
}
