package unsorted

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hupe1980/kvingest/bulk"
	"github.com/hupe1980/kvingest/codec"
)

// blobStore appends length-prefixed values into a byte arena and indexes
// them by key. Record.Value holds the offset of the entry.
type blobStore struct {
	p    *pipeline
	data *arena[byte]
}

func newBlobStore(opts Options, kind string) (*blobStore, error) {
	p, err := newPipeline(opts, kind)
	if err != nil {
		return nil, err
	}
	data, err := newArena[byte](p.opts.DataCapacity, p.opts.Resources)
	if err != nil {
		_ = p.close()
		return nil, err
	}
	return &blobStore{p: p, data: data}, nil
}

// append reserves n data bytes and one index slot for key and returns the
// data slice to fill. When the index slot cannot be reserved the data bytes
// are handed back unless a concurrent append already claimed bytes after
// them; those bytes are then unreferenced until Clear.
func (s *blobStore) append(key uint64, n int) ([]byte, error) {
	if s.p.flushing.Load() {
		return nil, ErrFlushing
	}
	if s.p.index.len() >= s.p.index.cap() {
		return nil, ErrBufferFull
	}
	off, err := s.data.reserve(n)
	if err != nil {
		return nil, err
	}
	i, err := s.p.reserve(1)
	if err != nil {
		s.data.unreserve(off, n)
		return nil, err
	}
	s.p.index.items[i] = Record{Key: key, Value: uint64(off)}
	return s.data.items[off : off+n : off+n], nil
}

func (s *blobStore) clear() {
	s.p.clear()
	s.data.reset()
}

func (s *blobStore) close() error {
	err := s.p.close()
	if derr := s.data.close(); err == nil {
		err = derr
	}
	return err
}

const blobLenSize = 4

// tombstoneLen marks a blob map entry without payload.
const tombstoneLen = math.MaxUint32

// BlobBuffer collects opaque values per key. When a key is written more
// than once, the last write wins.
//
// Put is safe for concurrent use; among concurrent writers of the same key
// the one reserving space last wins.
type BlobBuffer struct {
	s *blobStore
}

// NewBlobBuffer allocates opts.Capacity index records and opts.DataCapacity
// value bytes.
func NewBlobBuffer(opts Options) (*BlobBuffer, error) {
	s, err := newBlobStore(opts, "blob")
	if err != nil {
		return nil, err
	}
	return &BlobBuffer{s: s}, nil
}

// Len returns the number of buffered values.
func (b *BlobBuffer) Len() int { return b.s.p.index.len() }

// DataSize returns the used value bytes.
func (b *BlobBuffer) DataSize() int { return b.s.data.len() }

// Put buffers value for key.
func (b *BlobBuffer) Put(key uint64, value []byte) error {
	if len(value) > math.MaxInt32 {
		return fmt.Errorf("%w: %d bytes", ErrValueTooLarge, len(value))
	}
	dst, err := b.s.append(key, blobLenSize+len(value))
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(dst, uint32(len(value)))
	copy(dst[blobLenSize:], value)
	return nil
}

func (b *BlobBuffer) value(off uint64) []byte {
	data := b.s.data.items[off:]
	n := binary.LittleEndian.Uint32(data)
	return data[blobLenSize : blobLenSize+int(n)]
}

// Build writes one Put per key with its latest value and clears the buffer
// on success.
func (b *BlobBuffer) Build(ctx context.Context, sink bulk.Sink) ([]bulk.FileMeta, error) {
	metas, err := b.s.p.build(ctx, sink, func() blockEmitter {
		var key [codec.KeySize]byte
		return func(w bulk.Writer, recs []Record) error {
			for len(recs) > 0 {
				n := KeyRun(recs)
				last := recs[n-1]
				if err := w.Put(codec.AppendKey(key[:0], last.Key), b.value(last.Value)); err != nil {
					return err
				}
				recs = recs[n:]
			}
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	b.s.clear()
	return metas, nil
}

// Clear drops all buffered values.
func (b *BlobBuffer) Clear() { b.s.clear() }

// Close releases the buffer memory.
func (b *BlobBuffer) Close() error { return b.s.close() }
