// Package storage provides the object sources that monthly trip files are
// fetched from: a local directory, an S3 bucket or a static HTTP site.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
)

// ObjectStorage is the read side of a source. Object paths are slash
// separated and relative to the source root, e.g.
// "data/green/green_tripdata_2023-01.parquet".
type ObjectStorage interface {
	// Fetch reads the whole object into memory.
	// Returns ErrObjectNotFound (possibly wrapped) when the object is absent.
	Fetch(ctx context.Context, objectPath string) ([]byte, error)

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// ObjectWriter is implemented by sources that can be published to.
type ObjectWriter interface {
	// Upload copies localPath to objectPath.
	Upload(ctx context.Context, localPath, objectPath string) error
}

// MultipartUploadConfig holds configuration for multipart uploads.
type MultipartUploadConfig struct {
	// PartSize is the size of each part in bytes (default: 5MB).
	PartSize int64
}

// DefaultMultipartConfig returns the default multipart upload configuration.
func DefaultMultipartConfig() MultipartUploadConfig {
	return MultipartUploadConfig{
		PartSize: 5 * 1024 * 1024, // 5MB
	}
}
