package unsorted

import (
	"sync/atomic"
	"unsafe"

	"github.com/hupe1980/kvingest/internal/mmap"
	"github.com/hupe1980/kvingest/resource"
)

// arena is a fixed-capacity array of T backed by an anonymous mapping.
// Slots are handed out with a lock-free reservation counter.
type arena[T any] struct {
	m     *mmap.Mapping
	items []T
	next  atomic.Int64
	rc    *resource.Controller
	bytes int64
}

func newArena[T any](capacity int, rc *resource.Controller) (*arena[T], error) {
	var zero T
	size := int64(capacity) * int64(unsafe.Sizeof(zero))
	if err := rc.AcquireMemory(size); err != nil {
		return nil, err
	}

	m, err := mmap.MapAnon(int(size))
	if err != nil {
		rc.ReleaseMemory(size)
		return nil, err
	}

	a := &arena[T]{m: m, rc: rc, bytes: size}
	if b := m.Bytes(); len(b) > 0 {
		a.items = unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), capacity)
	}
	return a, nil
}

// reserve claims n consecutive slots and returns the first index. Either
// all n slots are claimed or none.
func (a *arena[T]) reserve(n int) (int, error) {
	for {
		cur := a.next.Load()
		if cur+int64(n) > int64(len(a.items)) {
			return 0, ErrBufferFull
		}
		if a.next.CompareAndSwap(cur, cur+int64(n)) {
			return int(cur), nil
		}
	}
}

// unreserve returns the n slots at off if nothing was reserved after them.
func (a *arena[T]) unreserve(off, n int) bool {
	return a.next.CompareAndSwap(int64(off+n), int64(off))
}

func (a *arena[T]) len() int { return int(a.next.Load()) }

func (a *arena[T]) cap() int { return len(a.items) }

// used returns the claimed slots.
func (a *arena[T]) used() []T { return a.items[:a.len()] }

func (a *arena[T]) advise(p mmap.AccessPattern) {
	_ = a.m.Advise(p)
}

// reset forgets all slots and lets the kernel drop the pages.
func (a *arena[T]) reset() {
	a.next.Store(0)
	a.advise(mmap.AccessDontNeed)
	a.advise(mmap.AccessDefault)
}

func (a *arena[T]) close() error {
	if a == nil {
		return nil
	}
	a.items = nil
	err := a.m.Close()
	a.rc.ReleaseMemory(a.bytes)
	a.bytes = 0
	return err
}
