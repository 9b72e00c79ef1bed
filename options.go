package kvingest

import (
	"github.com/hupe1980/kvingest/blobstore"
	"github.com/hupe1980/kvingest/internal/compress"
	"github.com/hupe1980/kvingest/internal/manifest"
	"github.com/hupe1980/kvingest/merge"
	"github.com/hupe1980/kvingest/resource"
)

// Compression selects how Publish frames uploaded files.
type Compression = compress.Type

const (
	CompressionNone = compress.None
	CompressionLZ4  = compress.LZ4
	CompressionZSTD = compress.ZSTD
)

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, error) {
	return compress.ParseType(s)
}

// Committer makes a published manifest version current.
type Committer = manifest.Committer

type options struct {
	logger             *Logger
	metricsCollector   MetricsCollector
	resources          *resource.Controller
	registry           *merge.Registry
	targetFileSize     int64
	compressionRatio   float64
	parallelism        int
	assumeEmpty        bool
	sstCompression     string
	sstBlockSize       int
	blobStore          blobstore.Store
	committer          Committer
	publishCompression Compression
	publishBlockSize   int
	publishRetries     int
}

func defaultOptions() options {
	return options{
		logger:             NoopLogger(),
		metricsCollector:   NoopMetricsCollector{},
		registry:           merge.Builtin(),
		targetFileSize:     64 << 20,
		compressionRatio:   1,
		sstCompression:     "snappy",
		publishCompression: compress.None,
		publishRetries:     5,
	}
}

// Option configures a Loader.
type Option func(*options)

// WithLogger configures the logger. Pass nil to discard log output.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetrics configures a metrics collector for monitoring builds and
// publishes. Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &kvingest.BasicMetricsCollector{}
//	loader, _ := kvingest.New(dir, merge.SetOperatorName, kvingest.WithMetrics(metrics))
//	// ... build and publish ...
//	stats := metrics.GetStats()
//	fmt.Printf("files: %d, bytes: %d\n", stats.FileCount, stats.FileBytes)
func WithMetrics(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithResourceController shares a resource controller between the buffers
// of the loader. It bounds buffer memory, concurrent file builders and file
// IO bandwidth.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// WithRegistry configures the registry the operator name is looked up in.
// Defaults to merge.Builtin().
func WithRegistry(r *merge.Registry) Option {
	return func(o *options) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithTargetFileSize sets the expected size in bytes of one bulk-load file.
func WithTargetFileSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.targetFileSize = n
		}
	}
}

// WithCompressionRatio sets the expected ratio between uncompressed record
// bytes and file size. Blocks hold ratio*targetFileSize record bytes.
func WithCompressionRatio(r float64) Option {
	return func(o *options) {
		if r > 0 {
			o.compressionRatio = r
		}
	}
}

// WithParallelism bounds sort, build and upload concurrency. Values <= 0
// select GOMAXPROCS.
func WithParallelism(n int) Option {
	return func(o *options) {
		o.parallelism = n
	}
}

// WithAssumeEmpty tells the versioned index that the target store holds no
// data yet, so deleted values produce no Delete records.
func WithAssumeEmpty(v bool) Option {
	return func(o *options) {
		o.assumeEmpty = v
	}
}

// WithSSTCompression selects the sstable block compression ("none" or
// "snappy") and block size. A blockSize <= 0 keeps the default.
func WithSSTCompression(name string, blockSize int) Option {
	return func(o *options) {
		o.sstCompression = name
		if blockSize > 0 {
			o.sstBlockSize = blockSize
		}
	}
}

// WithBlobStore configures where Publish uploads finished files.
func WithBlobStore(s blobstore.Store) Option {
	return func(o *options) {
		o.blobStore = s
	}
}

// WithCommitter replaces the CURRENT blob used to commit manifests, for
// example with an s3.CommitStore backed by DynamoDB.
func WithCommitter(c Committer) Option {
	return func(o *options) {
		o.committer = c
	}
}

// WithPublishCompression frames published files with t using blocks of
// blockSize uncompressed bytes. A blockSize <= 0 selects the default.
func WithPublishCompression(t Compression, blockSize int) Option {
	return func(o *options) {
		o.publishCompression = t
		o.publishBlockSize = blockSize
	}
}

// WithPublishRetries sets how often Publish retries after losing a
// manifest commit race.
func WithPublishRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.publishRetries = n
		}
	}
}
