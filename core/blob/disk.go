package blob

import (
	"context"
	"fmt"
	"os"
	fp "path/filepath"

	"github.com/google/uuid"
)

// DiskStore keeps each blob as a single file under Root, named by a
// generated uuid handle.
type DiskStore struct {
	Root    string
	MaxSize int64
}

func NewDiskStore(root string, maxSize int64) (*DiskStore, error) {
	err := os.MkdirAll(root, 0750)
	if err != nil && !os.IsExist(err) {
		return nil, err
	}

	return &DiskStore{Root: root, MaxSize: maxSize}, nil
}

func GetBlobPath(root, handle string) string {
	return fp.Join(root, fmt.Sprintf("%s.blob", handle))
}

func (d *DiskStore) Store(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if int64(len(data)) > d.MaxSize {
		return "", ErrBlobTooLarge
	}

	handle := uuid.NewString()
	if err := os.WriteFile(GetBlobPath(d.Root, handle), data, 0640); err != nil {
		return "", err
	}

	return handle, nil
}

func (d *DiskStore) Fetch(ctx context.Context, handle string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(GetBlobPath(d.Root, handle))
	if os.IsNotExist(err) {
		return nil, ErrBlobNotFound
	}

	return data, err
}

func (d *DiskStore) Discard(ctx context.Context, handle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := os.Remove(GetBlobPath(d.Root, handle))
	if os.IsNotExist(err) {
		return ErrBlobNotFound
	}

	return err
}
