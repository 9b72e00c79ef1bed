// Package kvingest builds bulk-load files for LSM key-value stores.
//
// A Loader owns an output directory and offers four ingestion paths:
//
//   - UpdateLog: Put, Merge and Delete calls in arrival order, reduced per key
//     through a merge operator and flushed into one file.
//   - SetBuffer: u64 → set of u64 additions from many concurrent producers,
//     sorted in parallel and emitted as set operands.
//   - BlobBuffer and BlobMapBuffer: u64 → blob and u64 → (u64 → blob).
//   - Index: a versioned concurrent index where the highest version wins.
//
// Build turns a buffer into sorted, non-overlapping sstables that the engine
// can ingest directly. Publish uploads the finished files to a blob store
// (local directory, S3 or MinIO) and records them in a manifest.
//
// # Quick Start
//
//	loader, err := kvingest.New("./out", merge.SetOperatorName)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer loader.Close()
//
//	buf, err := loader.NewSetBuffer(1 << 20)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer buf.Close()
//
//	_ = buf.Add(42, 7)
//	_ = buf.Add(42, 9)
//
//	files, err := loader.Build(ctx, buf)
//
// # Merge Operators
//
// Files carry the name of the merge operator they were built for. The
// engine must open the store with a merge.Registry holding the same
// operator, see merge.Builtin.
package kvingest
