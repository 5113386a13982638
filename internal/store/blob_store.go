package store

import (
	"context"
	"io"
)

// BlobStore uploads archived partition files.
type BlobStore interface {
	// PutObject writes r under path and returns a URI for the stored object.
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher announces finished sweeps.
type Publisher interface {
	// Publish sends payload as event and returns the broker message ID.
	Publish(ctx context.Context, event string, payload any) (string, error)
}
