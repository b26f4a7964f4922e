package main

import (
	"context"
	"errors"

	"github.com/pyropy/drive/core/blob"
	"github.com/pyropy/drive/lib/checksum"
	rpcBlob "github.com/pyropy/drive/rpc/blobserver"
)

var (
	ErrCheckSumMismatch = errors.New("given checksum does not match calculated checksum")
)

type BlobAPI struct {
	store *blob.DiskStore
}

func NewBlobAPI(store *blob.DiskStore) *BlobAPI {
	return &BlobAPI{
		store: store,
	}
}

// Store verifies the sender's checksum before persisting so a blob
// mangled in transit is rejected instead of stored.
func (b *BlobAPI) Store(args *rpcBlob.StoreArgs, reply *rpcBlob.StoreReply) error {
	log.Infow("rpc", "event", "BlobAPI.Store", "size", len(args.Data), "checksum", args.CheckSum)

	if checksum.Sum(args.Data) != args.CheckSum {
		return ErrCheckSumMismatch
	}

	handle, err := b.store.Store(context.Background(), args.Data)
	if err != nil {
		return err
	}

	reply.Handle = handle

	return nil
}

func (b *BlobAPI) Fetch(args *rpcBlob.FetchArgs, reply *rpcBlob.FetchReply) error {
	log.Infow("rpc", "event", "BlobAPI.Fetch", "handle", args.Handle)

	data, err := b.store.Fetch(context.Background(), args.Handle)
	if err != nil {
		return err
	}

	reply.Data = data
	reply.CheckSum = checksum.Sum(data)

	return nil
}

func (b *BlobAPI) Discard(args *rpcBlob.DiscardArgs, _ *rpcBlob.DiscardReply) error {
	log.Infow("rpc", "event", "BlobAPI.Discard", "handle", args.Handle)

	return b.store.Discard(context.Background(), args.Handle)
}
