// Package minio publishes bulk-load files to MinIO and other
// S3-compatible object stores (Ceph, Garage, SeaweedFS) through the
// native MinIO client.
//
// # Basic Usage
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := minioblob.NewStore(client, "my-bucket", "ingest/")
//
// # Features
//
//   - Streaming uploads for large files
//   - Range reads through io.ReaderAt
//   - No AWS SDK dependency
package minio
