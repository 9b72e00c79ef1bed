// Package s3 publishes bulk-load files and manifests to Amazon S3.
//
// # Usage
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	client := s3.NewFromConfig(cfg)
//	store := s3store.NewStore(client, "my-bucket", "ingest/",
//	    s3store.WithUploadConfig(s3store.DefaultUploadConfig()),
//	)
//
// S3 has no compare-and-swap, so concurrent publishers should commit
// manifests through a CommitStore, which keeps the version history in a
// DynamoDB table:
//
//	commits := s3store.NewCommitStore(store, dynamodb.NewFromConfig(cfg),
//	    "kvingest-commits", "s3://my-bucket/ingest/")
//
// # Features
//
//   - Multipart uploads with configurable part size and concurrency
//   - CRC32C checksums on every upload
//   - Range reads through io.ReaderAt
//   - Automatic pagination for listing
package s3
