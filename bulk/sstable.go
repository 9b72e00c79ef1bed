package bulk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/cockroachdb/pebble/sstable"

	"github.com/hupe1980/kvingest/resource"
)

// SSTOptions configures SSTWriter.
type SSTOptions struct {
	// BlockSize is the target uncompressed data block size.
	BlockSize int
	// Compression is "none" or "snappy".
	Compression string
	// Operator is recorded as the table's merge operator name.
	Operator string
	// Resources throttles file writes through its IO limiter. May be nil.
	Resources *resource.Controller
}

// DefaultSSTOptions returns the defaults used by the loader.
func DefaultSSTOptions() SSTOptions {
	return SSTOptions{
		BlockSize:   32 << 10,
		Compression: "snappy",
	}
}

func (o SSTOptions) compression() (sstable.Compression, error) {
	switch o.Compression {
	case "", "snappy":
		return sstable.SnappyCompression, nil
	case "none":
		return sstable.NoCompression, nil
	default:
		return 0, fmt.Errorf("bulk: unsupported sstable compression %q", o.Compression)
	}
}

// SSTWriter writes a RocksDB-format sstable suitable for external file
// ingestion.
type SSTWriter struct {
	path    string
	id      int
	opts    SSTOptions
	w       *sstable.Writer
	tracker tracker
	closed  bool
}

var _ FileWriter = (*SSTWriter)(nil)

// CreateSST creates path and returns a writer for it.
func CreateSST(path string, id int, opts SSTOptions) (*SSTWriter, error) {
	compression, err := opts.compression()
	if err != nil {
		return nil, err
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	wopts := sstable.WriterOptions{
		BlockSize:   opts.BlockSize,
		Compression: compression,
		MergerName:  opts.Operator,
		TableFormat: sstable.TableFormatRocksDBv2,
	}

	return &SSTWriter{
		path: path,
		id:   id,
		opts: opts,
		w:    sstable.NewWriter(&throttledFile{File: f, rc: opts.Resources}, wopts),
	}, nil
}

func (w *SSTWriter) admit(kind Kind, key []byte) error {
	if w.closed {
		return ErrClosed
	}
	return w.tracker.admit(kind, key)
}

// Put implements Writer.
func (w *SSTWriter) Put(key, value []byte) error {
	if err := w.admit(KindPut, key); err != nil {
		return err
	}
	return w.w.Set(key, value)
}

// Merge implements Writer.
func (w *SSTWriter) Merge(key, operand []byte) error {
	if err := w.admit(KindMerge, key); err != nil {
		return err
	}
	return w.w.Merge(key, operand)
}

// Delete implements Writer.
func (w *SSTWriter) Delete(key []byte) error {
	if err := w.admit(KindDelete, key); err != nil {
		return err
	}
	return w.w.Delete(key)
}

// Finish implements FileWriter.
func (w *SSTWriter) Finish() (FileMeta, error) {
	if w.closed {
		return FileMeta{}, ErrClosed
	}
	w.closed = true

	if err := w.w.Close(); err != nil {
		return FileMeta{}, fmt.Errorf("bulk: close %s: %w", w.path, err)
	}
	fi, err := os.Stat(w.path)
	if err != nil {
		return FileMeta{}, err
	}

	meta := w.tracker.finish()
	meta.ID = w.id
	meta.Path = w.path
	meta.Operator = w.opts.Operator
	meta.Size = fi.Size()
	return meta, nil
}

// Abort implements FileWriter.
func (w *SSTWriter) Abort() error {
	if !w.closed {
		w.closed = true
		_ = w.w.Close()
	}
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// throttledFile charges every write against the IO limiter.
type throttledFile struct {
	*os.File
	rc *resource.Controller
}

func (f *throttledFile) Write(p []byte) (int, error) {
	if err := f.rc.AcquireIO(context.Background(), len(p)); err != nil {
		return 0, err
	}
	return f.File.Write(p)
}

// DirSink creates numbered sstables inside a directory.
type DirSink struct {
	dir  string
	opts SSTOptions
	seq  *atomic.Int64
}

var _ Sink = (*DirSink)(nil)

// NewDirSink returns a sink writing into dir. seq supplies file numbers and
// may be shared between sinks writing into the same directory.
func NewDirSink(dir string, seq *atomic.Int64, opts SSTOptions) *DirSink {
	if seq == nil {
		seq = new(atomic.Int64)
	}
	return &DirSink{dir: dir, opts: opts, seq: seq}
}

// Create implements Sink. id only orders files of one batch; the file
// number comes from the shared sequence.
func (s *DirSink) Create(id int) (FileWriter, error) {
	n := s.seq.Add(1)
	return CreateSST(filepath.Join(s.dir, FileName(n)), id, s.opts)
}

// FileName returns the name of bulk-load file number n.
func FileName(n int64) string {
	return fmt.Sprintf("%06d.sst", n)
}
