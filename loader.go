package kvingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/kvingest/bulk"
	"github.com/hupe1980/kvingest/internal/compress"
	"github.com/hupe1980/kvingest/internal/hash"
	"github.com/hupe1980/kvingest/internal/manifest"
	"github.com/hupe1980/kvingest/merge"
	"github.com/hupe1980/kvingest/resource"
	"github.com/hupe1980/kvingest/unsorted"
	"github.com/hupe1980/kvingest/updatelog"
	"github.com/hupe1980/kvingest/vindex"
)

// Manifest lists the files published by one or more loaders.
type Manifest = manifest.Manifest

// FileInfo describes one published file.
type FileInfo = manifest.FileInfo

// Builder turns buffered data into bulk-load files. The buffers of the
// unsorted and vindex packages implement it.
type Builder interface {
	Build(ctx context.Context, sink bulk.Sink) ([]bulk.FileMeta, error)
}

// Loader owns an output directory of bulk-load files built for one merge
// operator, and publishes them to a blob store.
//
// A Loader is safe for concurrent use. The buffers it creates follow their
// own concurrency rules.
type Loader struct {
	dir       string
	op        merge.Operator
	opts      options
	logger    *Logger
	sstOpts   bulk.SSTOptions
	seq       atomic.Int64
	runID     string
	manifests *manifest.Store

	mu      sync.Mutex
	pending []bulk.FileMeta

	publishMu sync.Mutex
	closed    atomic.Bool
}

// New creates a loader writing bulk-load files for operator into dir. dir
// is created if needed; numbering continues after the files already in it.
func New(dir string, operator string, optFns ...Option) (*Loader, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.parallelism <= 0 {
		opts.parallelism = runtime.GOMAXPROCS(0)
	}

	op, err := opts.registry.Lookup(operator)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	sstOpts := bulk.DefaultSSTOptions()
	sstOpts.Compression = opts.sstCompression
	if opts.sstBlockSize > 0 {
		sstOpts.BlockSize = opts.sstBlockSize
	}
	sstOpts.Operator = op.Name()
	sstOpts.Resources = opts.resources

	l := &Loader{
		dir:     dir,
		op:      op,
		opts:    opts,
		logger:  opts.logger.WithOperator(op.Name()),
		sstOpts: sstOpts,
		runID:   fmt.Sprintf("%016x", uint64(time.Now().UnixNano())),
	}

	last, err := lastFileNumber(dir)
	if err != nil {
		return nil, err
	}
	l.seq.Store(last)

	if l.pending, err = loadPending(dir); err != nil {
		return nil, fmt.Errorf("read %s: %w", PendingFileName, err)
	}
	for _, f := range l.pending {
		if f.Operator != op.Name() {
			return nil, &ErrOperatorMismatch{Expected: op.Name(), Actual: f.Operator}
		}
	}

	if opts.blobStore != nil {
		var mopts []manifest.Option
		if opts.committer != nil {
			mopts = append(mopts, manifest.WithCommitter(opts.committer))
		}
		l.manifests = manifest.NewStore(opts.blobStore, mopts...)
	}
	return l, nil
}

func lastFileNumber(dir string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	var last int64
	for _, e := range entries {
		var n int64
		if _, err := fmt.Sscanf(e.Name(), "%d.sst", &n); err != nil || bulk.FileName(n) != e.Name() {
			continue
		}
		last = max(last, n)
	}
	return last, nil
}

// Dir returns the output directory.
func (l *Loader) Dir() string { return l.dir }

// Operator returns the merge operator files are built for.
func (l *Loader) Operator() merge.Operator { return l.op }

func (l *Loader) unsortedOptions(capacity, dataCapacity int) unsorted.Options {
	o := unsorted.DefaultOptions()
	if capacity > 0 {
		o.Capacity = capacity
	}
	if dataCapacity > 0 {
		o.DataCapacity = dataCapacity
	}
	o.TargetFileSize = l.opts.targetFileSize
	o.CompressionRatio = l.opts.compressionRatio
	o.Workers = l.opts.parallelism
	o.Resources = l.opts.resources
	o.Logger = l.logger.Logger
	if l.opts.assumeEmpty {
		o.Mode = unsorted.ModePut
	}
	return o
}

func (l *Loader) requireOperator(name string) error {
	if l.op.Name() != name {
		return &ErrOperatorMismatch{Expected: name, Actual: l.op.Name()}
	}
	return nil
}

// NewUpdateLog creates an update log reduced through the loader's operator.
// Flush it with FlushUpdateLog.
func (l *Loader) NewUpdateLog() *updatelog.Log {
	return updatelog.New(l.op, updatelog.Options{
		InitialCapacity: updatelog.DefaultOptions().InitialCapacity,
		Resources:       l.opts.resources,
		Logger:          l.logger.Logger,
	})
}

// NewSetBuffer creates a buffer of capacity (key, value) records. The
// loader must use the set operator.
func (l *Loader) NewSetBuffer(capacity int) (*unsorted.SetBuffer, error) {
	if err := l.requireOperator(merge.SetOperatorName); err != nil {
		return nil, err
	}
	return unsorted.NewSetBuffer(l.unsortedOptions(capacity, 0))
}

// NewBlobBuffer creates a buffer of capacity values holding up to
// dataCapacity value bytes.
func (l *Loader) NewBlobBuffer(capacity, dataCapacity int) (*unsorted.BlobBuffer, error) {
	return unsorted.NewBlobBuffer(l.unsortedOptions(capacity, dataCapacity))
}

// NewBlobMapBuffer creates a buffer of capacity map entries holding up to
// dataCapacity bytes. The loader must use the blob map operator.
func (l *Loader) NewBlobMapBuffer(capacity, dataCapacity int) (*unsorted.BlobMapBuffer, error) {
	if err := l.requireOperator(merge.BlobMapOperatorName); err != nil {
		return nil, err
	}
	return unsorted.NewBlobMapBuffer(l.unsortedOptions(capacity, dataCapacity))
}

// NewIndex creates a versioned index over the keys [0, capacity).
func (l *Loader) NewIndex(capacity int) (*vindex.Index, error) {
	return vindex.New(vindex.Options{
		Capacity:         capacity,
		AssumeEmpty:      l.opts.assumeEmpty,
		TargetFileSize:   l.opts.targetFileSize,
		CompressionRatio: l.opts.compressionRatio,
		Workers:          l.opts.parallelism,
		Resources:        l.opts.resources,
		Logger:           l.logger.Logger,
	})
}

// Build turns b into bulk-load files in the output directory and returns
// the non-empty ones. Empty files are removed.
func (l *Loader) Build(ctx context.Context, b Builder) ([]bulk.FileMeta, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}

	kind := kindOf(b)
	start := time.Now()
	metas, err := b.Build(ctx, &trackingSink{
		ctx:    ctx,
		loader: l,
		inner:  bulk.NewDirSink(l.dir, &l.seq, l.sstOpts),
	})
	duration := time.Since(start)

	files := slices.DeleteFunc(metas, bulk.FileMeta.Empty)
	l.opts.metricsCollector.RecordBuild(kind, len(files), duration, err)
	l.logger.LogBuild(ctx, kind, files, duration, err)
	if err != nil {
		return nil, translateError(err)
	}
	return files, nil
}

// FlushUpdateLog flushes ul into one bulk-load file. An empty log produces
// no file.
func (l *Loader) FlushUpdateLog(ctx context.Context, ul *updatelog.Log) ([]bulk.FileMeta, error) {
	return l.Build(ctx, updateLogBuilder{log: ul})
}

// Files returns the built files that were not published yet, including
// those left in the directory by earlier loaders.
func (l *Loader) Files() []bulk.FileMeta {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.pending)
}

func (l *Loader) record(ctx context.Context, meta bulk.FileMeta) error {
	l.mu.Lock()
	l.pending = append(l.pending, meta)
	err := savePending(l.dir, l.pending)
	l.mu.Unlock()
	if err != nil {
		return err
	}

	l.opts.metricsCollector.RecordFile(meta)
	l.logger.LogFile(ctx, meta)
	return nil
}

// Publish uploads the pending files to the blob store and commits a new
// manifest version listing them on top of the current one. A lost commit
// race is retried against the newer manifest. With no pending files the
// current manifest is returned unchanged.
func (l *Loader) Publish(ctx context.Context) (*Manifest, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	if l.manifests == nil {
		return nil, ErrNoBlobStore
	}

	l.publishMu.Lock()
	defer l.publishMu.Unlock()

	files := l.Files()
	if len(files) == 0 {
		return l.manifests.Load(ctx)
	}

	start := time.Now()
	m, stored, err := l.publish(ctx, files)
	duration := time.Since(start)

	l.opts.metricsCollector.RecordPublish(len(files), stored, duration, err)
	if err != nil {
		l.logger.LogPublish(ctx, 0, len(files), stored, err)
		return nil, err
	}
	l.logger.LogPublish(ctx, m.ID, len(files), stored, nil)

	l.mu.Lock()
	l.pending = slices.DeleteFunc(l.pending, func(f bulk.FileMeta) bool {
		return slices.ContainsFunc(files, func(p bulk.FileMeta) bool { return p.Path == f.Path })
	})
	err = savePending(l.dir, l.pending)
	l.mu.Unlock()
	if err != nil {
		l.logger.WarnContext(ctx, "failed to update pending files", "error", err)
	}
	return m, nil
}

func (l *Loader) publish(ctx context.Context, files []bulk.FileMeta) (*Manifest, int64, error) {
	infos := make([]FileInfo, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.parallelism)
	for i, f := range files {
		g.Go(func() error {
			info, err := l.upload(gctx, f)
			if err != nil {
				return fmt.Errorf("upload %s: %w", f.Path, err)
			}
			infos[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		l.discard(ctx, infos)
		return nil, 0, err
	}

	var stored int64
	for _, info := range infos {
		stored += info.StoredSize
	}

	for attempt := 0; ; attempt++ {
		m, err := l.manifests.Load(ctx)
		switch {
		case errors.Is(err, manifest.ErrNotFound):
			m = manifest.New(l.op.Name())
		case err != nil:
			l.discard(ctx, infos)
			return nil, stored, err
		case m.Operator != l.op.Name():
			l.discard(ctx, infos)
			return nil, stored, &ErrOperatorMismatch{Expected: l.op.Name(), Actual: m.Operator}
		}

		m.Files = append(m.Files, infos...)
		err = l.manifests.Save(ctx, m)
		if err == nil {
			return m, stored, nil
		}
		if !errors.Is(err, ErrConcurrentModification) || attempt >= l.opts.publishRetries {
			l.discard(ctx, infos)
			return nil, stored, err
		}
		l.logger.WarnContext(ctx, "manifest commit lost, retrying", "attempt", attempt+1)
	}
}

func (l *Loader) blobName(p string) string {
	name := path.Join("files", l.runID, filepath.Base(p))
	switch l.opts.publishCompression {
	case compress.LZ4:
		name += ".lz4"
	case compress.ZSTD:
		name += ".zst"
	}
	return name
}

func (l *Loader) upload(ctx context.Context, meta bulk.FileMeta) (FileInfo, error) {
	f, err := os.Open(meta.Path)
	if err != nil {
		return FileInfo{}, err
	}
	defer f.Close()

	name := l.blobName(meta.Path)
	bw, err := l.opts.blobStore.Create(ctx, name)
	if err != nil {
		return FileInfo{}, err
	}

	hw := hash.NewWriter(bw)
	cw := compress.NewWriter(hw, l.opts.publishCompression, l.opts.publishBlockSize)
	if _, err := io.Copy(cw, resource.NewRateLimitedReader(ctx, f, l.opts.resources)); err != nil {
		return FileInfo{}, errors.Join(err, bw.Abort())
	}
	if err := cw.Close(); err != nil {
		return FileInfo{}, errors.Join(err, bw.Abort())
	}
	if err := bw.Close(); err != nil {
		return FileInfo{}, err
	}

	return FileInfo{
		Name:        name,
		Size:        meta.Size,
		StoredSize:  hw.Count(),
		Compression: l.opts.publishCompression,
		CRC32C:      hw.Sum32(),
		Smallest:    meta.Smallest,
		Largest:     meta.Largest,
		Puts:        meta.Puts,
		Merges:      meta.Merges,
		Deletes:     meta.Deletes,
	}, nil
}

// discard removes uploaded blobs of a failed publish.
func (l *Loader) discard(ctx context.Context, infos []FileInfo) {
	for _, info := range infos {
		if info.Name == "" {
			continue
		}
		if err := l.opts.blobStore.Delete(context.WithoutCancel(ctx), info.Name); err != nil {
			l.logger.WarnContext(ctx, "failed to remove uploaded file", "name", info.Name, "error", err)
		}
	}
}

// Manifest returns the current published manifest.
func (l *Loader) Manifest(ctx context.Context) (*Manifest, error) {
	if l.manifests == nil {
		return nil, ErrNoBlobStore
	}
	return l.manifests.Load(ctx)
}

// Download writes the contents of a published file to w and verifies the
// stored checksum.
func (l *Loader) Download(ctx context.Context, info FileInfo, w io.Writer) (int64, error) {
	if l.opts.blobStore == nil {
		return 0, ErrNoBlobStore
	}
	b, err := l.opts.blobStore.Open(ctx, info.Name)
	if err != nil {
		return 0, err
	}
	defer b.Close()

	crc := hash.NewCRC32C()
	r := io.TeeReader(io.NewSectionReader(b, 0, b.Size()), crc)
	n, err := io.Copy(w, compress.NewReader(resource.NewRateLimitedReader(ctx, r, l.opts.resources), info.Compression))
	if err != nil {
		return n, err
	}
	if got := crc.Sum32(); got != info.CRC32C {
		return n, fmt.Errorf("%w: %s: got %08x, want %08x", ErrChecksumMismatch, info.Name, got, info.CRC32C)
	}
	return n, nil
}

// Close marks the loader closed. Built files stay in the output directory.
func (l *Loader) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	l.mu.Lock()
	pending := len(l.pending)
	l.mu.Unlock()
	if pending > 0 && l.manifests != nil {
		l.logger.Warn("closing with unpublished files", "files", pending)
	}
	return nil
}

func kindOf(b Builder) string {
	switch b.(type) {
	case *unsorted.SetBuffer:
		return "set"
	case *unsorted.BlobBuffer:
		return "blob"
	case *unsorted.BlobMapBuffer:
		return "blobmap"
	case *vindex.Index:
		return "index"
	case updateLogBuilder:
		return "log"
	default:
		return "custom"
	}
}

type updateLogBuilder struct {
	log *updatelog.Log
}

func (b updateLogBuilder) Build(ctx context.Context, sink bulk.Sink) ([]bulk.FileMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w, err := sink.Create(0)
	if err != nil {
		return nil, err
	}
	if _, err := b.log.Flush(w); err != nil {
		return nil, errors.Join(err, w.Abort())
	}
	meta, err := w.Finish()
	if err != nil {
		return nil, err
	}
	return []bulk.FileMeta{meta}, nil
}

// trackingSink records every non-empty file finished through it and
// removes empty ones.
type trackingSink struct {
	ctx    context.Context
	loader *Loader
	inner  bulk.Sink
}

func (s *trackingSink) Create(id int) (bulk.FileWriter, error) {
	w, err := s.inner.Create(id)
	if err != nil {
		return nil, err
	}
	return &trackingWriter{FileWriter: w, sink: s}, nil
}

type trackingWriter struct {
	bulk.FileWriter
	sink *trackingSink
}

func (w *trackingWriter) Finish() (bulk.FileMeta, error) {
	meta, err := w.FileWriter.Finish()
	if err != nil {
		return meta, err
	}
	if meta.Empty() {
		return meta, w.FileWriter.Abort()
	}
	return meta, w.sink.loader.record(w.sink.ctx, meta)
}
