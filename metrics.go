package kvingest

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/hupe1980/kvingest/bulk"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems.
type MetricsCollector interface {
	// RecordBuild is called after a buffer was turned into bulk-load files.
	// kind names the ingestion path (set, blob, blobmap, index, log).
	RecordBuild(kind string, files int, duration time.Duration, err error)

	// RecordFile is called for every finished bulk-load file.
	RecordFile(meta bulk.FileMeta)

	// RecordPublish is called after each publish. bytes is the number of
	// bytes uploaded after compression.
	RecordPublish(files int, bytes int64, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordBuild(string, int, time.Duration, error)  {}
func (NoopMetricsCollector) RecordFile(bulk.FileMeta)                        {}
func (NoopMetricsCollector) RecordPublish(int, int64, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	BuildCount        atomic.Int64
	BuildErrors       atomic.Int64
	BuildTotalNanos   atomic.Int64
	FileCount         atomic.Int64
	FileBytes         atomic.Int64
	Puts              atomic.Int64
	Merges            atomic.Int64
	Deletes           atomic.Int64
	PublishCount      atomic.Int64
	PublishErrors     atomic.Int64
	PublishFiles      atomic.Int64
	PublishBytes      atomic.Int64
	PublishTotalNanos atomic.Int64
}

// RecordBuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBuild(_ string, _ int, duration time.Duration, err error) {
	b.BuildCount.Add(1)
	b.BuildTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.BuildErrors.Add(1)
	}
}

// RecordFile implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFile(meta bulk.FileMeta) {
	b.FileCount.Add(1)
	b.FileBytes.Add(meta.Size)
	b.Puts.Add(int64(meta.Puts))
	b.Merges.Add(int64(meta.Merges))
	b.Deletes.Add(int64(meta.Deletes))
}

// RecordPublish implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPublish(files int, bytes int64, duration time.Duration, err error) {
	b.PublishCount.Add(1)
	b.PublishTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.PublishErrors.Add(1)
		return
	}
	b.PublishFiles.Add(int64(files))
	b.PublishBytes.Add(bytes)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		BuildCount:      b.BuildCount.Load(),
		BuildErrors:     b.BuildErrors.Load(),
		BuildAvgNanos:   avg(b.BuildTotalNanos.Load(), b.BuildCount.Load()),
		FileCount:       b.FileCount.Load(),
		FileBytes:       b.FileBytes.Load(),
		Puts:            b.Puts.Load(),
		Merges:          b.Merges.Load(),
		Deletes:         b.Deletes.Load(),
		PublishCount:    b.PublishCount.Load(),
		PublishErrors:   b.PublishErrors.Load(),
		PublishFiles:    b.PublishFiles.Load(),
		PublishBytes:    b.PublishBytes.Load(),
		PublishAvgNanos: avg(b.PublishTotalNanos.Load(), b.PublishCount.Load()),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	BuildCount      int64
	BuildErrors     int64
	BuildAvgNanos   int64
	FileCount       int64
	FileBytes       int64
	Puts            int64
	Merges          int64
	Deletes         int64
	PublishCount    int64
	PublishErrors   int64
	PublishFiles    int64
	PublishBytes    int64
	PublishAvgNanos int64
}

// VictoriaMetricsCollector exports metrics in Prometheus text format
// through a private metrics.Set.
type VictoriaMetricsCollector struct {
	set *metrics.Set

	files        *metrics.Counter
	fileBytes    *metrics.Counter
	puts         *metrics.Counter
	merges       *metrics.Counter
	deletes      *metrics.Counter
	publishes    *metrics.Counter
	publishErrs  *metrics.Counter
	publishBytes *metrics.Counter
	publishTime  *metrics.Histogram
}

// NewVictoriaMetricsCollector creates a collector with its own metric set.
func NewVictoriaMetricsCollector() *VictoriaMetricsCollector {
	set := metrics.NewSet()
	return &VictoriaMetricsCollector{
		set:          set,
		files:        set.NewCounter("kvingest_files_total"),
		fileBytes:    set.NewCounter("kvingest_file_bytes_total"),
		puts:         set.NewCounter(`kvingest_records_total{kind="put"}`),
		merges:       set.NewCounter(`kvingest_records_total{kind="merge"}`),
		deletes:      set.NewCounter(`kvingest_records_total{kind="delete"}`),
		publishes:    set.NewCounter("kvingest_publish_total"),
		publishErrs:  set.NewCounter("kvingest_publish_errors_total"),
		publishBytes: set.NewCounter("kvingest_publish_bytes_total"),
		publishTime:  set.NewHistogram("kvingest_publish_duration_seconds"),
	}
}

// RecordBuild implements MetricsCollector.
func (v *VictoriaMetricsCollector) RecordBuild(kind string, files int, duration time.Duration, err error) {
	v.set.GetOrCreateCounter(fmt.Sprintf(`kvingest_build_total{kind=%q}`, kind)).Inc()
	if err != nil {
		v.set.GetOrCreateCounter(fmt.Sprintf(`kvingest_build_errors_total{kind=%q}`, kind)).Inc()
		return
	}
	v.set.GetOrCreateHistogram(fmt.Sprintf(`kvingest_build_duration_seconds{kind=%q}`, kind)).Update(duration.Seconds())
	v.set.GetOrCreateCounter(fmt.Sprintf(`kvingest_build_files_total{kind=%q}`, kind)).Add(files)
}

// RecordFile implements MetricsCollector.
func (v *VictoriaMetricsCollector) RecordFile(meta bulk.FileMeta) {
	v.files.Inc()
	v.fileBytes.Add(int(meta.Size))
	v.puts.Add(int(meta.Puts))
	v.merges.Add(int(meta.Merges))
	v.deletes.Add(int(meta.Deletes))
}

// RecordPublish implements MetricsCollector.
func (v *VictoriaMetricsCollector) RecordPublish(_ int, bytes int64, duration time.Duration, err error) {
	v.publishes.Inc()
	if err != nil {
		v.publishErrs.Inc()
		return
	}
	v.publishBytes.Add(int(bytes))
	v.publishTime.Update(duration.Seconds())
}

// WritePrometheus writes all metrics in Prometheus text exposition format.
func (v *VictoriaMetricsCollector) WritePrometheus(w io.Writer) {
	v.set.WritePrometheus(w)
}
