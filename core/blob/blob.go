package blob

import (
	"context"
	"errors"
)

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrBlobTooLarge = errors.New("blob exceeds max blob size")
)

// Transport stores and retrieves single bounded-size blobs. Handles are
// opaque; callers persist them and hand them back verbatim.
type Transport interface {
	Store(ctx context.Context, data []byte) (string, error)
	Fetch(ctx context.Context, handle string) ([]byte, error)
	Discard(ctx context.Context, handle string) error
}
