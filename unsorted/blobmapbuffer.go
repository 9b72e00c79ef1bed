package unsorted

import (
	"cmp"
	"context"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/hupe1980/kvingest/bulk"
	"github.com/hupe1980/kvingest/codec"
)

// blobMapEntryHeader is [subkey u64][len u32].
const blobMapEntryHeader = 8 + blobLenSize

// BlobMapBuffer collects (key, subkey, value) triples and builds one
// blob map per key. In ModeMerge each key becomes a blob map operand that
// may carry tombstones; in ModePut it becomes the full map and tombstones
// are dropped.
//
// Put and Delete are safe for concurrent use. A subkey may be written at
// most once per key and build.
type BlobMapBuffer struct {
	s *blobStore
}

// NewBlobMapBuffer allocates opts.Capacity index records and
// opts.DataCapacity value bytes.
func NewBlobMapBuffer(opts Options) (*BlobMapBuffer, error) {
	s, err := newBlobStore(opts, "blobmap")
	if err != nil {
		return nil, err
	}
	return &BlobMapBuffer{s: s}, nil
}

// Len returns the number of buffered elements.
func (b *BlobMapBuffer) Len() int { return b.s.p.index.len() }

// Put buffers value for subkey of key.
func (b *BlobMapBuffer) Put(key, subkey uint64, value []byte) error {
	if !codec.ValidElementValue(value) {
		return fmt.Errorf("%w: %d bytes", ErrValueTooLarge, len(value))
	}
	dst, err := b.s.append(key, blobMapEntryHeader+len(value))
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(dst, subkey)
	binary.LittleEndian.PutUint32(dst[8:], uint32(len(value)))
	copy(dst[blobMapEntryHeader:], value)
	return nil
}

// Delete buffers a tombstone for subkey of key.
func (b *BlobMapBuffer) Delete(key, subkey uint64) error {
	dst, err := b.s.append(key, blobMapEntryHeader)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(dst, subkey)
	binary.LittleEndian.PutUint32(dst[8:], tombstoneLen)
	return nil
}

func (b *BlobMapBuffer) element(off uint64) codec.Element {
	data := b.s.data.items[off:]
	subkey := binary.LittleEndian.Uint64(data)
	n := binary.LittleEndian.Uint32(data[8:])
	if n == tombstoneLen {
		return codec.Tombstone(subkey)
	}
	return codec.Put(subkey, data[blobMapEntryHeader:blobMapEntryHeader+int(n)])
}

// Build writes one blob map per key and clears the buffer on success.
func (b *BlobMapBuffer) Build(ctx context.Context, sink bulk.Sink) ([]bulk.FileMeta, error) {
	mode := b.s.p.opts.Mode
	metas, err := b.s.p.build(ctx, sink, func() blockEmitter {
		e := &blobMapEmitter{b: b, mode: mode}
		return e.emit
	})
	if err != nil {
		return nil, err
	}
	b.s.clear()
	return metas, nil
}

// Clear drops all buffered elements.
func (b *BlobMapBuffer) Clear() { b.s.clear() }

// Close releases the buffer memory.
func (b *BlobMapBuffer) Close() error { return b.s.close() }

type blobMapEmitter struct {
	b     *BlobMapBuffer
	mode  Mode
	elems []codec.Element
	key   [codec.KeySize]byte
	buf   []byte
}

func (e *blobMapEmitter) emit(w bulk.Writer, recs []Record) error {
	for len(recs) > 0 {
		n := KeyRun(recs)
		if err := e.emitKey(w, recs[:n]); err != nil {
			return err
		}
		recs = recs[n:]
	}
	return nil
}

func (e *blobMapEmitter) emitKey(w bulk.Writer, run []Record) error {
	e.elems = e.elems[:0]
	for _, r := range run {
		el := e.b.element(r.Value)
		if el.Tombstone && e.mode == ModePut {
			continue
		}
		e.elems = append(e.elems, el)
	}
	if len(e.elems) == 0 {
		return nil
	}

	slices.SortFunc(e.elems, func(a, b codec.Element) int { return cmp.Compare(a.Key, b.Key) })
	for i := 1; i < len(e.elems); i++ {
		if e.elems[i].Key == e.elems[i-1].Key {
			return fmt.Errorf("%w: key %d subkey %d", ErrDuplicateSubkey, run[0].Key, e.elems[i].Key)
		}
	}

	e.buf = e.buf[:0]
	for _, el := range e.elems {
		e.buf = codec.AppendElement(e.buf, el)
	}

	key := codec.AppendKey(e.key[:0], run[0].Key)
	if e.mode == ModePut {
		return w.Put(key, e.buf)
	}
	return w.Merge(key, e.buf)
}
