// Package storage persists backup artifacts on a local directory and/or an
// S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrStorage wraps every backend failure.
	ErrStorage = errors.New("storage error")
	// ErrNoDestination means neither a local path nor a bucket is configured.
	ErrNoDestination = errors.New("no backup destination configured")
	// ErrNotFound is returned by Load when no backend holds the key.
	ErrNotFound = errors.New("object not found")
)

// Kind identifies a backend variant.
type Kind string

const (
	KindLocal Kind = "local"
	KindS3    Kind = "s3"
)

// Backend is one durable destination. The set of implementations is closed:
// *Local and *S3.
type Backend interface {
	Kind() Kind
	// Name is a human readable location, e.g. "local:/backups".
	Name() string
	Save(ctx context.Context, key string, src io.ReadSeeker) error
	Load(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	sealed()
}

func sizeOf(src io.ReadSeeker) (int64, error) {
	size, err := src.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return size, nil
}
