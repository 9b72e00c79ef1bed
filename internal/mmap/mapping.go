package mmap

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/hupe1980/kvingest/resource"
)

// Mapping is a memory region outside the Go heap, either a read-only file
// mapping or a writable anonymous buffer.
type Mapping struct {
	data     []byte
	size     int
	writable bool
	closed   atomic.Bool
	unmap    func([]byte) error
}

// Open maps the file at path read-only.
func Open(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size := fi.Size()
	if size < 0 || int64(int(size)) != size {
		return nil, ErrInvalidSize
	}
	if size == 0 {
		return &Mapping{}, nil
	}

	data, unmap, err := osMap(f, int(size))
	if err != nil {
		return nil, err
	}
	return &Mapping{data: data, size: int(size), unmap: unmap}, nil
}

// MapAnon allocates a zeroed, writable buffer of size bytes. An allocation
// refused by the operating system is reported as resource.ErrOutOfMemory.
func MapAnon(size int) (*Mapping, error) {
	if size < 0 {
		return nil, ErrInvalidSize
	}
	if size == 0 {
		return &Mapping{writable: true}, nil
	}

	data, unmap, err := osMapAnon(size)
	if err != nil {
		return nil, resource.NewOutOfMemoryError(int64(size), err)
	}
	return &Mapping{data: data, size: size, writable: true, unmap: unmap}, nil
}

// Close unmaps the memory. It is idempotent.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	if m.unmap != nil && m.data != nil {
		return m.unmap(m.data)
	}
	return nil
}

// Bytes returns the mapped memory. The slice must not be used after Close.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the size of the mapping in bytes.
func (m *Mapping) Size() int {
	return m.size
}

// Writable reports whether the mapping may be written through Bytes.
func (m *Mapping) Writable() bool {
	return m.writable
}

// Advise hints how the whole mapping is about to be accessed. Hints are
// advisory; platforms without support ignore them.
func (m *Mapping) Advise(pattern AccessPattern) error {
	return m.AdviseRange(0, m.size, pattern)
}

// AdviseRange hints how [off, off+n) is about to be accessed. The range is
// widened to page boundaries.
func (m *Mapping) AdviseRange(off, n int, pattern AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if off < 0 || n < 0 || off+n > m.size {
		return ErrOutOfBounds
	}
	if n == 0 {
		return nil
	}

	page := os.Getpagesize()
	start := off &^ (page - 1)
	end := off + n
	if rem := end % page; rem != 0 && end+page-rem <= m.size {
		end += page - rem
	}
	return osAdvise(m.data[start:end], pattern)
}

// ReadAt implements io.ReaderAt.
func (m *Mapping) ReadAt(p []byte, off int64) (n int, err error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, ErrInvalidOffset
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n = copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
