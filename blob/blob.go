// Package blob stores raw manifest payloads outside the database, on the
// local filesystem or in an S3-compatible bucket.
package blob

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound            = errors.New("object not found")
	ErrPresignNotSupported = errors.New("presigned URLs are not supported")
)

// Store persists manifest payloads by key. Payloads are small (manifests
// are capped at 1 MiB) so the API works on byte slices.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// Presign returns a time-limited download URL. Backends without
	// presigning return ErrPresignNotSupported.
	Presign(ctx context.Context, key string, expiry time.Duration) (string, error)
}
