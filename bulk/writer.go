// Package bulk defines the bulk-load writer contract and its implementations.
//
// A bulk-load file is an immutable sorted run of Put, Merge and Delete
// records that the engine ingests directly. Writers require strictly
// ascending keys and reject anything else with ErrOutOfOrder.
package bulk

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	// ErrOutOfOrder is returned when a key does not sort after the previous one.
	ErrOutOfOrder = errors.New("bulk: keys must be strictly ascending")
	// ErrClosed is returned when writing to a finished writer.
	ErrClosed = errors.New("bulk: writer is closed")
)

// Writer receives records in strictly ascending key order. Implementations
// copy key and value, so callers may reuse both after a call returns.
type Writer interface {
	Put(key, value []byte) error
	Merge(key, operand []byte) error
	Delete(key []byte) error
}

// FileWriter is a Writer producing one bulk-load file.
type FileWriter interface {
	Writer
	// Finish flushes and closes the file and returns its metadata.
	Finish() (FileMeta, error)
	// Abort discards the file.
	Abort() error
}

// Sink creates one FileWriter per independent key range.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	Create(id int) (FileWriter, error)
}

// Kind is the type of a bulk-load record.
type Kind uint8

const (
	KindPut Kind = iota + 1
	KindMerge
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindPut:
		return "put"
	case KindMerge:
		return "merge"
	case KindDelete:
		return "delete"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// FileMeta describes a finished bulk-load file.
type FileMeta struct {
	ID       int    `json:"id"`
	Path     string `json:"path,omitempty"`
	Operator string `json:"operator,omitempty"`
	Smallest []byte `json:"smallest,omitempty"`
	Largest  []byte `json:"largest,omitempty"`
	Puts     uint64 `json:"puts"`
	Merges   uint64 `json:"merges"`
	Deletes  uint64 `json:"deletes"`
	Size     int64  `json:"size"`
}

// Entries returns the total number of records.
func (m FileMeta) Entries() uint64 {
	return m.Puts + m.Merges + m.Deletes
}

// Empty reports whether the file holds no records.
func (m FileMeta) Empty() bool {
	return m.Entries() == 0
}

// tracker enforces key order and accumulates FileMeta counters.
type tracker struct {
	meta    FileMeta
	last    []byte
	started bool
}

func (t *tracker) admit(kind Kind, key []byte) error {
	if t.started && bytes.Compare(key, t.last) <= 0 {
		return fmt.Errorf("%w: %s key %x after %x", ErrOutOfOrder, kind, key, t.last)
	}
	if !t.started {
		t.meta.Smallest = append([]byte{}, key...)
		t.started = true
	}
	t.last = append(t.last[:0], key...)

	switch kind {
	case KindPut:
		t.meta.Puts++
	case KindMerge:
		t.meta.Merges++
	case KindDelete:
		t.meta.Deletes++
	}
	return nil
}

func (t *tracker) finish() FileMeta {
	if t.started {
		t.meta.Largest = append([]byte{}, t.last...)
	}
	return t.meta
}
