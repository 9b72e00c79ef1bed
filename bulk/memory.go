package bulk

import (
	"bytes"
	"sort"
	"sync"
)

// Entry is one recorded bulk-load record.
type Entry struct {
	Kind  Kind
	Key   []byte
	Value []byte
}

// MemWriter records entries in memory with the same ordering rules as a
// file writer. It is used for dry runs and tests.
type MemWriter struct {
	id      int
	tracker tracker
	entries []Entry
	closed  bool
	aborted bool
}

var _ FileWriter = (*MemWriter)(nil)

// NewMemWriter returns an empty MemWriter.
func NewMemWriter() *MemWriter {
	return &MemWriter{}
}

func (w *MemWriter) add(kind Kind, key, value []byte) error {
	if w.closed {
		return ErrClosed
	}
	if err := w.tracker.admit(kind, key); err != nil {
		return err
	}
	w.entries = append(w.entries, Entry{
		Kind:  kind,
		Key:   bytes.Clone(key),
		Value: bytes.Clone(value),
	})
	return nil
}

// Put implements Writer.
func (w *MemWriter) Put(key, value []byte) error { return w.add(KindPut, key, value) }

// Merge implements Writer.
func (w *MemWriter) Merge(key, operand []byte) error { return w.add(KindMerge, key, operand) }

// Delete implements Writer.
func (w *MemWriter) Delete(key []byte) error { return w.add(KindDelete, key, nil) }

// Finish implements FileWriter.
func (w *MemWriter) Finish() (FileMeta, error) {
	if w.closed {
		return FileMeta{}, ErrClosed
	}
	w.closed = true
	meta := w.tracker.finish()
	meta.ID = w.id
	for _, e := range w.entries {
		meta.Size += int64(len(e.Key) + len(e.Value))
	}
	return meta, nil
}

// Abort implements FileWriter.
func (w *MemWriter) Abort() error {
	w.closed = true
	w.aborted = true
	w.entries = nil
	return nil
}

// Entries returns the recorded entries in write order.
func (w *MemWriter) Entries() []Entry { return w.entries }

// Aborted reports whether Abort was called.
func (w *MemWriter) Aborted() bool { return w.aborted }

// MemSink hands out MemWriters and keeps them for inspection.
type MemSink struct {
	mu      sync.Mutex
	writers map[int]*MemWriter
}

var _ Sink = (*MemSink)(nil)

// NewMemSink returns an empty MemSink.
func NewMemSink() *MemSink {
	return &MemSink{writers: make(map[int]*MemWriter)}
}

// Create implements Sink.
func (s *MemSink) Create(id int) (FileWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := &MemWriter{id: id}
	s.writers[id] = w
	return w, nil
}

// Writers returns the created writers ordered by id.
func (s *MemSink) Writers() []*MemWriter {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int, 0, len(s.writers))
	for id := range s.writers {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]*MemWriter, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.writers[id])
	}
	return out
}

// Entries returns the entries of all non-aborted writers ordered by writer id.
func (s *MemSink) Entries() []Entry {
	var out []Entry
	for _, w := range s.Writers() {
		if !w.Aborted() {
			out = append(out, w.Entries()...)
		}
	}
	return out
}
