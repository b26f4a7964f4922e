package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/pyropy/drive/core/blob"
	"github.com/pyropy/drive/core/inventory"
)

// Sweeper reclaims blobs stored by uploads that never committed. A blob
// stays reclaimable in the staged ledger until a file record references
// its hash; anything older than the threshold with no referencing file
// is discarded from the transport.
type Sweeper struct {
	inventory *inventory.Store
	transport blob.Transport
	interval  time.Duration
	threshold time.Duration
}

func NewSweeper(cfg *Config, inv *inventory.Store, transport blob.Transport) *Sweeper {
	return &Sweeper{
		inventory: inv,
		transport: transport,
		interval:  cfg.Sweep.Interval,
		threshold: cfg.Sweep.Threshold,
	}
}

// Start runs the sweep loop until ctx is done.
func (s *Sweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info("starting orphan sweeper")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				log.Errorw("sweep failed", "error", err)
			}
		}
	}
}

// Sweep performs a single pass over the staged ledger.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-s.threshold)

	staged, err := s.inventory.StagedBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, entry := range staged {
		handle, err := s.inventory.FindByHash(ctx, entry.Hash)
		switch {
		case errors.Is(err, inventory.ErrNotFound):
			// no file references the hash, the blob is orphaned
			s.discard(ctx, entry)
		case err != nil:
			return err
		case handle != entry.Handle:
			// the content was committed under a different handle, this
			// copy is a duplicate left by a racing upload
			s.discard(ctx, entry)
		default:
			// committed, only the staged marker was never cleared
			if err := s.inventory.ClearStaged(ctx, entry.Handle); err != nil {
				log.Warnw("failed to clear staged marker", "handle", entry.Handle, "error", err)
			}
		}
	}

	return nil
}

func (s *Sweeper) discard(ctx context.Context, entry inventory.StagedBlob) {
	err := s.transport.Discard(ctx, entry.Handle)
	if err != nil && !errors.Is(err, blob.ErrBlobNotFound) {
		log.Warnw("failed to discard orphaned blob", "handle", entry.Handle, "hash", entry.Hash, "error", err)
		return
	}

	if err := s.inventory.ClearStaged(ctx, entry.Handle); err != nil {
		log.Warnw("failed to clear staged marker", "handle", entry.Handle, "error", err)
		return
	}

	log.Infow("reclaimed orphaned blob", "handle", entry.Handle, "hash", entry.Hash)
}
