package kvingest

import (
	"errors"
	"fmt"

	"github.com/hupe1980/kvingest/blobstore"
	"github.com/hupe1980/kvingest/bulk"
	"github.com/hupe1980/kvingest/codec"
	"github.com/hupe1980/kvingest/internal/manifest"
	"github.com/hupe1980/kvingest/merge"
	"github.com/hupe1980/kvingest/resource"
	"github.com/hupe1980/kvingest/unsorted"
	"github.com/hupe1980/kvingest/updatelog"
	"github.com/hupe1980/kvingest/vindex"
)

// Errors returned by the loader and its buffers. They are the sentinels of
// the sub-packages, so errors.Is works with either name.
var (
	ErrOutOfMemory            = resource.ErrOutOfMemory
	ErrMalformedOperand       = codec.ErrMalformedOperand
	ErrUnknownOperator        = merge.ErrUnknownOperator
	ErrOutOfOrder             = bulk.ErrOutOfOrder
	ErrBufferFull             = unsorted.ErrBufferFull
	ErrDuplicateSubkey        = unsorted.ErrDuplicateSubkey
	ErrNotCombinable          = updatelog.ErrNotCombinable
	ErrKeyOutOfRange          = vindex.ErrKeyOutOfRange
	ErrNotFound               = blobstore.ErrNotFound
	ErrManifestNotFound       = manifest.ErrNotFound
	ErrConcurrentModification = blobstore.ErrConcurrentModification
)

var (
	// ErrFlushing is returned when a buffer is modified while it is being
	// flushed. It matches the flushing errors of every buffer.
	ErrFlushing = errors.New("kvingest: currently flushing")

	// ErrClosed is returned by a closed Loader.
	ErrClosed = errors.New("kvingest: loader is closed")

	// ErrNoBlobStore is returned by Publish when no blob store is configured.
	ErrNoBlobStore = errors.New("kvingest: no blob store configured")

	// ErrChecksumMismatch is returned when a downloaded file does not match
	// its recorded checksum.
	ErrChecksumMismatch = errors.New("kvingest: checksum mismatch")
)

// ErrOperatorMismatch indicates that a buffer or a published manifest
// needs a different merge operator than the loader was created with.
type ErrOperatorMismatch struct {
	Expected string
	Actual   string
}

func (e *ErrOperatorMismatch) Error() string {
	return fmt.Sprintf("operator mismatch: expected %q, got %q", e.Expected, e.Actual)
}

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Flushing unification.
	if errors.Is(err, updatelog.ErrFlushing) ||
		errors.Is(err, unsorted.ErrFlushing) ||
		errors.Is(err, vindex.ErrFlushing) {
		return fmt.Errorf("%w: %w", ErrFlushing, err)
	}
	return err
}
