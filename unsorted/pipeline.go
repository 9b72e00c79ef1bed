package unsorted

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/kvingest/bulk"
	"github.com/hupe1980/kvingest/internal/mmap"
)

// blockEmitter writes one block of sorted records. Each build worker gets
// its own emitter.
type blockEmitter func(w bulk.Writer, recs []Record) error

// pipeline owns the record index shared by all buffer kinds and runs the
// sort, partition and build phases over it.
type pipeline struct {
	opts     Options
	logger   *slog.Logger
	index    *arena[Record]
	scratch  *arena[Record]
	flushing atomic.Bool
}

func newPipeline(opts Options, kind string) (*pipeline, error) {
	opts = opts.withDefaults()
	index, err := newArena[Record](opts.Capacity, opts.Resources)
	if err != nil {
		return nil, err
	}
	return &pipeline{
		opts:   opts,
		logger: opts.Logger.With("buffer", kind),
		index:  index,
	}, nil
}

func (p *pipeline) reserve(n int) (int, error) {
	if p.flushing.Load() {
		return 0, ErrFlushing
	}
	return p.index.reserve(n)
}

// sort orders the claimed records and leaves them in p.index.
func (p *pipeline) sort() ([]Record, error) {
	recs := p.index.used()
	p.index.advise(mmap.AccessWillNeed)
	if IsSorted(recs) {
		return recs, nil
	}

	start := time.Now()
	runLen := RunLength(len(recs), p.opts.Workers, p.opts.MaxSortRun)
	p.index.advise(mmap.AccessRandom)
	runs := SortRuns(recs, runLen, p.opts.Workers)
	if len(runs) <= 1 {
		p.logger.Debug("sorted records", "records", len(recs), "runs", len(runs), "elapsed", time.Since(start))
		return recs, nil
	}

	if p.scratch == nil {
		scratch, err := newArena[Record](p.index.cap(), p.opts.Resources)
		if err != nil {
			return nil, err
		}
		p.scratch = scratch
	}

	p.scratch.advise(mmap.AccessDontNeed)
	p.scratch.advise(mmap.AccessSequential)
	p.index.advise(mmap.AccessSequential)

	dst := p.scratch.items[:len(recs)]
	if err := MergeRuns(dst, runs...); err != nil {
		return nil, err
	}
	if !IsSorted(dst) {
		return nil, ErrNotSorted
	}

	// The merged copy becomes the index; the old one is scratch from now on.
	n := int64(len(recs))
	p.index, p.scratch = p.scratch, p.index
	p.index.next.Store(n)
	p.scratch.next.Store(0)
	p.scratch.advise(mmap.AccessDontNeed)
	p.scratch.advise(mmap.AccessDefault)

	p.logger.Debug("sorted records", "records", len(recs), "runs", len(runs), "elapsed", time.Since(start))
	return dst, nil
}

// build sorts and partitions the index and emits every block into its own
// file from sink. On error the buffer keeps its records; files finished
// before the failure are left to the caller.
func (p *pipeline) build(ctx context.Context, sink bulk.Sink, newEmitter func() blockEmitter) ([]bulk.FileMeta, error) {
	if !p.flushing.CompareAndSwap(false, true) {
		return nil, ErrFlushing
	}
	defer p.flushing.Store(false)

	if p.index.len() == 0 {
		return nil, nil
	}

	start := time.Now()
	recs, err := p.sort()
	if err != nil {
		return nil, err
	}

	p.index.advise(mmap.AccessRandom)
	blocks := Partition(recs, BlockRecords(p.opts.TargetBlockSize()))
	p.index.advise(mmap.AccessSequential)

	metas := make([]bulk.FileMeta, len(blocks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i, blk := range blocks {
		g.Go(func() error {
			if err := p.opts.Resources.AcquireBackground(gctx); err != nil {
				return err
			}
			defer p.opts.Resources.ReleaseBackground()

			if err := gctx.Err(); err != nil {
				return err
			}

			meta, err := buildBlock(sink, i, recs[blk.Start:blk.End], newEmitter())
			if err != nil {
				return err
			}
			metas[i] = meta
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.logger.Error("build failed", "records", len(recs), "blocks", len(blocks), "error", err)
		return nil, err
	}

	p.index.advise(mmap.AccessDefault)
	p.logger.Info("built files",
		"records", len(recs),
		"files", len(metas),
		"elapsed", time.Since(start),
	)
	return metas, nil
}

func buildBlock(sink bulk.Sink, id int, recs []Record, emit blockEmitter) (bulk.FileMeta, error) {
	w, err := sink.Create(id)
	if err != nil {
		return bulk.FileMeta{}, err
	}
	if err := emit(w, recs); err != nil {
		_ = w.Abort()
		return bulk.FileMeta{}, err
	}
	return w.Finish()
}

func (p *pipeline) clear() {
	p.index.reset()
	if p.scratch != nil {
		p.scratch.reset()
	}
}

func (p *pipeline) close() error {
	err := p.index.close()
	if serr := p.scratch.close(); err == nil {
		err = serr
	}
	return err
}
