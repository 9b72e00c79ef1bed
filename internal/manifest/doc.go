// Package manifest records which bulk-load files were published.
//
// # Overview
//
// A manifest lists every published file with its key range, record counts,
// sizes, compression and CRC32C checksum, together with the name of the
// merge operator the files were built for. Each publish appends files and
// commits a new manifest version; old versions stay readable until deleted.
//
// # Binary Format
//
//	Header (16 bytes):
//	  Magic    (4 bytes) - 0x4B56494E ("KVIN")
//	  Version  (4 bytes) - Format version (currently 1)
//	  Checksum (4 bytes) - CRC32C of payload
//	  Length   (4 bytes) - Payload length in bytes
//
//	Payload:
//	  ID        (8 bytes) - Manifest version
//	  CreatedAt (8 bytes) - Unix nanoseconds
//	  Operator  (string)
//	  NumFiles  (4 bytes)
//	  Files[]:
//	    Name (string), Size (8), StoredSize (8), Compression (1),
//	    CRC32C (4), Smallest (bytes), Largest (bytes),
//	    Puts (8), Merges (8), Deletes (8)
//
// Integers are little-endian. Strings carry a 2-byte length, byte slices a
// 4-byte length.
//
// # Commit Protocol
//
// Save writes MANIFEST-NNNNNN-TTTTTTTTTTTTTTTT.bin (version and creation
// time) and then asks a Committer to make that version current. The default committer overwrites the CURRENT blob, which
// is atomic on local disks and on S3 but does not detect two publishers
// racing. A committer with conditional writes (such as the DynamoDB-backed
// s3.CommitStore) returns blobstore.ErrConcurrentModification to the
// loser, whose manifest blob is removed again.
package manifest
