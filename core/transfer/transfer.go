package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sethvargo/go-retry"

	"github.com/pyropy/drive/core/blob"
	"github.com/pyropy/drive/core/chunker"
	"github.com/pyropy/drive/core/inventory"
	"github.com/pyropy/drive/core/model"
	"github.com/pyropy/drive/lib/cache"
	"github.com/pyropy/drive/lib/checksum"
	"github.com/pyropy/drive/lib/cmap"
	"github.com/pyropy/drive/lib/logger"
)

var log, _ = logger.New("transfer")

var (
	ErrEmptyInput   = errors.New("source stream is empty")
	ErrFileNotFound = errors.New("file not found")
	ErrCorruptPart  = errors.New("part hash mismatch")
)

// Engine orchestrates uploads and downloads: it is the only component
// touching both the chunker/hasher side and the inventory/transport side.
type Engine struct {
	cfg       *Config
	inventory *inventory.Store
	transport blob.Transport

	cacheMu   sync.Mutex
	partCache *cache.LRU

	statuses cmap.Map[string, Status]
}

func NewEngine(cfg *Config, inv *inventory.Store, transport blob.Transport) *Engine {
	return &Engine{
		cfg:       cfg,
		inventory: inv,
		transport: transport,
		partCache: cache.NewLRU(cfg.PartCacheSize),
		statuses:  cmap.NewMap[string, Status](),
	}
}

// Upload splits src into parts, stores each part not already known to
// the inventory and commits the file record. It either commits fully or
// leaves no inventory trace; blobs stored before a failure are discarded
// or left for the sweeper.
func (e *Engine) Upload(ctx context.Context, owner, name string, src io.Reader) (*model.File, error) {
	e.setStatus(owner, name, StatePending, 0, 0)

	splitter, err := chunker.NewSplitter(src, e.cfg.MaxPartSize)
	if err != nil {
		e.setStatus(owner, name, StateAborted, 0, 0)
		return nil, err
	}

	e.setStatus(owner, name, StateSplitting, 0, 0)

	var parts []model.Part
	var staged []model.Part
	var reserved []string

	// hashes already settled by this upload, so a repeated part within
	// one file is stored and counted once
	seen := map[string]string{}

	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			return nil, e.abortUpload(ctx, owner, name, staged, reserved, err)
		}

		data, err := splitter.Next()
		if errors.Is(err, io.EOF) {
			if index == 0 {
				e.setStatus(owner, name, StateAborted, 0, 0)
				return nil, ErrEmptyInput
			}
			break
		}
		if err != nil {
			return nil, e.abortUpload(ctx, owner, name, staged, reserved, err)
		}

		hash := checksum.Sum(data)

		handle, ok := seen[hash]
		if !ok {
			handle, err = e.inventory.Reserve(ctx, hash)
			if errors.Is(err, inventory.ErrNotFound) {
				handle, err = e.storeBlob(ctx, data)
				if err != nil {
					return nil, e.abortUpload(ctx, owner, name, staged, reserved, err)
				}

				if err := e.inventory.MarkStaged(ctx, handle, hash); err != nil {
					log.Warnw("failed to mark blob as staged", "handle", handle, "hash", hash, "error", err)
				}

				staged = append(staged, model.Part{Index: index, Size: int64(len(data)), Hash: hash, Handle: handle})
			} else if err != nil {
				return nil, e.abortUpload(ctx, owner, name, staged, reserved, err)
			} else {
				reserved = append(reserved, handle)
			}

			seen[hash] = handle
		}

		parts = append(parts, model.Part{Index: index, Size: int64(len(data)), Hash: hash, Handle: handle})
		e.setStatus(owner, name, StateStoring, 0, len(parts))
	}

	file := model.NewFile(owner, name, parts)

	released, err := e.inventory.Put(ctx, file)
	if err != nil {
		return nil, e.abortUpload(ctx, owner, name, staged, reserved, err)
	}

	// Put rewrites part handles to the canonical dedup entry, so a blob
	// this upload stored may not be the committed copy. Its staged
	// marker stays set and the sweeper reclaims the duplicate.
	committed := make(map[string]struct{}, len(file.Parts))
	for _, p := range file.Parts {
		committed[p.Handle] = struct{}{}
	}

	for _, p := range staged {
		if _, ok := committed[p.Handle]; !ok {
			continue
		}

		if err := e.inventory.ClearStaged(ctx, p.Handle); err != nil {
			log.Warnw("failed to clear staged marker", "handle", p.Handle, "error", err)
		}
	}

	e.unreserve(ctx, reserved)
	e.discardReleased(ctx, released)
	e.setStatus(owner, name, StateCommitted, len(parts), len(parts))
	log.Infow("upload committed", "owner", owner, "name", name, "parts", len(parts), "size", file.TotalSize)

	return &file, nil
}

// abortUpload undoes a failed upload: blobs this upload stored are
// discarded best-effort, claims on reused handles are dropped, and
// anything that cannot be discarded now stays in the staged ledger for
// the sweeper.
func (e *Engine) abortUpload(ctx context.Context, owner, name string, staged []model.Part, reserved []string, cause error) error {
	for _, p := range staged {
		if err := e.transport.Discard(ctx, p.Handle); err != nil {
			log.Warnw("leaving staged blob for sweeper", "handle", p.Handle, "error", err)
			continue
		}

		if err := e.inventory.ClearStaged(ctx, p.Handle); err != nil {
			log.Warnw("failed to clear staged marker", "handle", p.Handle, "error", err)
		}
	}

	e.unreserve(ctx, reserved)

	e.setStatus(owner, name, StateAborted, 0, 0)
	log.Errorw("upload aborted", "owner", owner, "name", name, "error", cause)

	return fmt.Errorf("upload %s for owner %s: %w", name, owner, cause)
}

// unreserve drops the upload's claims on reused handles and discards any
// blob whose last reference disappeared while the claim was held.
func (e *Engine) unreserve(ctx context.Context, handles []string) {
	for _, handle := range handles {
		rb, err := e.inventory.Unreserve(ctx, handle)
		if err != nil {
			log.Warnw("failed to unreserve handle", "handle", handle, "error", err)
			continue
		}

		if rb != nil {
			if err := e.transport.Discard(ctx, rb.Handle); err != nil {
				log.Warnw("failed to discard released blob", "handle", rb.Handle, "hash", rb.Hash, "error", err)
			}
		}
	}
}

// Download fetches the file's parts in index order, verifies each part
// against its recorded hash and streams the verified bytes to dst. On
// any failure it stops immediately; bytes already written to dst must be
// discarded by the caller.
func (e *Engine) Download(ctx context.Context, owner, name string, dst io.Writer) (*model.File, error) {
	e.setStatus(owner, name, StatePending, 0, 0)

	file, err := e.inventory.Get(ctx, owner, name)
	if errors.Is(err, inventory.ErrNotFound) {
		e.setStatus(owner, name, StateAborted, 0, 0)
		return nil, ErrFileNotFound
	}
	if err != nil {
		e.setStatus(owner, name, StateAborted, 0, 0)
		return nil, err
	}

	e.setStatus(owner, name, StateFetching, len(file.Parts), 0)

	for i, part := range file.Parts {
		if err := ctx.Err(); err != nil {
			e.setStatus(owner, name, StateAborted, len(file.Parts), i)
			return nil, err
		}

		data, cached := e.cachedPart(part.Hash)
		if !cached {
			data, err = e.fetchBlob(ctx, part.Handle)
			if err != nil {
				e.setStatus(owner, name, StateAborted, len(file.Parts), i)
				return nil, fmt.Errorf("fetch part %d of %s: %w", part.Index, name, err)
			}
		}

		if checksum.Sum(data) != part.Hash {
			e.setStatus(owner, name, StateAborted, len(file.Parts), i)
			return nil, fmt.Errorf("part %d of %s: %w", part.Index, name, ErrCorruptPart)
		}

		if !cached {
			e.cachePart(part.Hash, data)
		}

		if _, err := dst.Write(data); err != nil {
			e.setStatus(owner, name, StateAborted, len(file.Parts), i)
			return nil, err
		}

		e.setStatus(owner, name, StateFetching, len(file.Parts), i+1)
	}

	e.setStatus(owner, name, StateAssembled, len(file.Parts), len(file.Parts))
	log.Infow("download assembled", "owner", owner, "name", name, "parts", len(file.Parts), "size", file.TotalSize)

	return file, nil
}

// Remove deletes the file record and discards blobs no remaining file
// references. Parts shared with other files survive.
func (e *Engine) Remove(ctx context.Context, owner, name string) (*model.File, error) {
	file, released, err := e.inventory.Delete(ctx, owner, name)
	if errors.Is(err, inventory.ErrNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}

	e.discardReleased(ctx, released)
	log.Infow("file removed", "owner", owner, "name", name, "releasedBlobs", len(released))

	return file, nil
}

// RemoveAll removes every file of the owner and returns how many were
// removed.
func (e *Engine) RemoveAll(ctx context.Context, owner string) (int, error) {
	infos, err := e.inventory.List(ctx, owner)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, info := range infos {
		if _, err := e.Remove(ctx, owner, info.Name); err != nil {
			return removed, err
		}
		removed++
	}

	return removed, nil
}

func (e *Engine) List(ctx context.Context, owner string) ([]model.FileInfo, error) {
	return e.inventory.List(ctx, owner)
}

// storeBlob stores a part under bounded exponential-backoff retry.
// Oversized blobs are never retried: a part over the transport ceiling
// means the chunker misbehaved.
func (e *Engine) storeBlob(ctx context.Context, data []byte) (string, error) {
	var handle string

	backoff := retry.WithMaxRetries(e.cfg.StoreAttempts, retry.NewExponential(e.cfg.RetryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		h, err := e.transport.Store(ctx, data)
		if errors.Is(err, blob.ErrBlobTooLarge) {
			return err
		}
		if err != nil {
			return retry.RetryableError(err)
		}

		handle = h
		return nil
	})

	return handle, err
}

func (e *Engine) fetchBlob(ctx context.Context, handle string) ([]byte, error) {
	var data []byte

	backoff := retry.WithMaxRetries(e.cfg.StoreAttempts, retry.NewExponential(e.cfg.RetryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		b, err := e.transport.Fetch(ctx, handle)
		if errors.Is(err, blob.ErrBlobNotFound) {
			return err
		}
		if err != nil {
			return retry.RetryableError(err)
		}

		data = b
		return nil
	})

	return data, err
}

func (e *Engine) discardReleased(ctx context.Context, released []inventory.ReleasedBlob) {
	for _, r := range released {
		if err := e.transport.Discard(ctx, r.Handle); err != nil {
			log.Warnw("failed to discard released blob", "handle", r.Handle, "hash", r.Hash, "error", err)
		}
	}
}

func (e *Engine) cachedPart(hash string) ([]byte, bool) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	return e.partCache.Get(hash)
}

func (e *Engine) cachePart(hash string, data []byte) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	e.partCache.Put(hash, data)
}
