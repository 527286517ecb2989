// Package storage reads and routes the uploaded files.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

type Object struct {
	Name    string
	Size    int64
	Updated time.Time
}

// ObjectStore is a flat namespace of slash-separated object names.
type ObjectStore interface {
	List(ctx context.Context) ([]Object, error)
	Download(ctx context.Context, name string) ([]byte, error)
	// Move copies name to dest and then deletes name.
	Move(ctx context.Context, name, dest string) error
	Upload(ctx context.Context, name string, data []byte) error
}
