// Package hash computes the CRC32-Castagnoli checksums recorded for every
// published bulk-load file and manifest.
//
// CRC32C is hardware accelerated on x86 (SSE4.2) and ARM (CRC extension)
// and is the checksum S3 accepts natively, so one sum serves both the
// manifest and the upload integrity check.
//
// # Usage
//
// For one-shot checksums:
//
//	sum := hash.CRC32C(data)
//
// For checksums of a stream:
//
//	w := hash.NewWriter(dst)
//	io.Copy(w, src)
//	sum, n := w.Sum32(), w.Count()
package hash
