package unsorted

import (
	"log/slog"
	"runtime"

	"github.com/hupe1980/kvingest/resource"
)

const (
	// DefaultBatchBytes is the size of a producer-local Batch.
	DefaultBatchBytes = 1 << 20

	// DefaultMaxSortRun bounds a single sort run to 8 GiB of records.
	DefaultMaxSortRun = (8 << 30) / RecordSize
)

// Options configures the unsorted buffers.
type Options struct {
	// Capacity is the number of records the buffer holds.
	Capacity int

	// DataCapacity is the size in bytes of the value area of blob buffers.
	DataCapacity int

	// TargetFileSize is the expected size of one output file in bytes.
	TargetFileSize int64

	// CompressionRatio scales TargetFileSize into the uncompressed record
	// bytes per block.
	CompressionRatio float64

	// Workers bounds sort and build concurrency.
	Workers int

	// MaxSortRun caps the records sorted by one worker before merging.
	MaxSortRun int

	// Mode selects how set values are emitted.
	Mode Mode

	// Resources accounts buffers and limits concurrent builders. May be nil.
	Resources *resource.Controller

	// Logger receives phase timings. May be nil.
	Logger *slog.Logger
}

// DefaultOptions returns the defaults.
func DefaultOptions() Options {
	return Options{
		Capacity:         1 << 20,
		DataCapacity:     64 << 20,
		TargetFileSize:   64 << 20,
		CompressionRatio: 1,
		Workers:          runtime.GOMAXPROCS(0),
		MaxSortRun:       DefaultMaxSortRun,
		Mode:             ModeMerge,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Capacity <= 0 {
		o.Capacity = d.Capacity
	}
	if o.DataCapacity <= 0 {
		o.DataCapacity = d.DataCapacity
	}
	if o.TargetFileSize <= 0 {
		o.TargetFileSize = d.TargetFileSize
	}
	if o.CompressionRatio <= 0 {
		o.CompressionRatio = d.CompressionRatio
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.MaxSortRun <= 0 {
		o.MaxSortRun = d.MaxSortRun
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// TargetBlockSize returns CompressionRatio * TargetFileSize rounded up to a
// whole record.
func (o Options) TargetBlockSize() int64 {
	n := int64(o.CompressionRatio * float64(o.TargetFileSize))
	return (n + RecordSize - 1) / RecordSize * RecordSize
}
