// Package storage uploads call recordings to object storage.
package storage

import (
	"context"
	"io"
	"time"
)

const (
	BackendS3  = "s3"
	BackendGCS = "gcs"
)

type ObjectStore interface {
	// Put uploads body under key and returns its location, e.g. s3://bucket/key.
	Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	// URL returns a time limited download link for key.
	URL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Close() error
}
