// Package mmap provides off-heap buffers and read-only file mappings with
// kernel paging hints.
//
// The ingestion pipeline keeps multi-gigabyte record buffers in anonymous
// mappings so that they neither count against the Go heap nor get scanned by
// the garbage collector, and brackets long scans with hints:
//
//	buf, err := mmap.MapAnon(1 << 30)
//	if err != nil { ... } // resource.ErrOutOfMemory
//	defer buf.Close()
//
//	buf.Advise(mmap.AccessRandom)     // sorting
//	buf.Advise(mmap.AccessSequential) // merging and emitting
//	buf.Advise(mmap.AccessDontNeed)   // done, give the pages back
//
// Hints are advisory. On Windows they are no-ops and every caller must stay
// correct if they are ignored.
//
// Mapping is safe for concurrent reads. Close is idempotent, but callers
// must ensure no goroutine uses Bytes after Close returns.
package mmap
