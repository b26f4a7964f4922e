package blob

import (
	"context"
	"errors"
	"net/rpc"

	"github.com/pyropy/drive/lib/checksum"
	rpcBlob "github.com/pyropy/drive/rpc/blobserver"
)

var (
	ErrCheckSumMismatch = errors.New("fetched data does not match reported checksum")
)

// RPCStore talks to a remote blobserver over net/rpc. It satisfies
// Transport so the engine cannot tell remote and local storage apart.
type RPCStore struct {
	client *rpc.Client
}

func NewRPCStore(addr string) (*RPCStore, error) {
	client, err := rpc.DialHTTP("tcp", addr)
	if err != nil {
		return nil, err
	}

	return &RPCStore{client: client}, nil
}

// mapError restores sentinel errors flattened to plain strings by
// net/rpc so callers can match them with errors.Is.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	switch err.Error() {
	case ErrBlobTooLarge.Error():
		return ErrBlobTooLarge
	case ErrBlobNotFound.Error():
		return ErrBlobNotFound
	}

	return err
}

func (s *RPCStore) Store(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	args := rpcBlob.StoreArgs{Data: data, CheckSum: checksum.Sum(data)}
	var reply rpcBlob.StoreReply
	if err := s.client.Call("BlobAPI.Store", args, &reply); err != nil {
		return "", mapError(err)
	}

	return reply.Handle, nil
}

func (s *RPCStore) Fetch(ctx context.Context, handle string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	args := rpcBlob.FetchArgs{Handle: handle}
	var reply rpcBlob.FetchReply
	if err := s.client.Call("BlobAPI.Fetch", args, &reply); err != nil {
		return nil, mapError(err)
	}

	if checksum.Sum(reply.Data) != reply.CheckSum {
		return nil, ErrCheckSumMismatch
	}

	return reply.Data, nil
}

func (s *RPCStore) Discard(ctx context.Context, handle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	args := rpcBlob.DiscardArgs{Handle: handle}
	var reply rpcBlob.DiscardReply
	return mapError(s.client.Call("BlobAPI.Discard", args, &reply))
}

func (s *RPCStore) Close() error {
	return s.client.Close()
}
