// Package blobstore abstracts where finished bulk-load files and ingestion
// manifests are published.
//
// Store is the interface every backend implements. Implementations must be
// safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local directory, atomic rename on Close, mmap reads;
//     WithFileSystem swaps the write path for fault injection
//   - MemoryStore: in-memory, for tests and dry runs
//   - s3.Store: Amazon S3 with multipart uploads, plus s3.CommitStore for
//     DynamoDB-backed manifest commits
//   - minio.Store: MinIO and other S3-compatible services
//
// # Custom Implementations
//
//	type Store interface {
//	    Open(ctx, name) (Blob, error)
//	    Create(ctx, name) (WritableBlob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore
