package main

import (
	"context"
	"net"
	"net/http"
	"net/rpc"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyropy/drive/core/blob"
	"github.com/pyropy/drive/lib/checksum"
	rpcBlob "github.com/pyropy/drive/rpc/blobserver"
)

func newTestAPI(t *testing.T) *BlobAPI {
	t.Helper()

	store, err := blob.NewDiskStore(t.TempDir(), 64)
	require.NoError(t, err)

	return NewBlobAPI(store)
}

func TestBlobAPIStoreFetch(t *testing.T) {
	api := newTestAPI(t)
	data := []byte("wire bytes")

	var storeReply rpcBlob.StoreReply
	err := api.Store(&rpcBlob.StoreArgs{Data: data, CheckSum: checksum.Sum(data)}, &storeReply)
	require.NoError(t, err)
	require.NotEmpty(t, storeReply.Handle)

	var fetchReply rpcBlob.FetchReply
	err = api.Fetch(&rpcBlob.FetchArgs{Handle: storeReply.Handle}, &fetchReply)
	require.NoError(t, err)
	assert.Equal(t, data, fetchReply.Data)
	assert.Equal(t, checksum.Sum(data), fetchReply.CheckSum)
}

func TestBlobAPIStoreRejectsBadChecksum(t *testing.T) {
	api := newTestAPI(t)

	var reply rpcBlob.StoreReply
	err := api.Store(&rpcBlob.StoreArgs{Data: []byte("data"), CheckSum: "bogus"}, &reply)
	assert.ErrorIs(t, err, ErrCheckSumMismatch)
}

// newTestRPCClient starts a blobserver on a loopback listener and dials
// it the way cmd/drive does.
func newTestRPCClient(t *testing.T, maxBlobSize int64) *blob.RPCStore {
	t.Helper()

	store, err := blob.NewDiskStore(t.TempDir(), maxBlobSize)
	require.NoError(t, err)

	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("BlobAPI", NewBlobAPI(store)))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	mux := http.NewServeMux()
	mux.Handle(rpc.DefaultRPCPath, srv)
	go func() { _ = http.Serve(l, mux) }()

	client, err := blob.NewRPCStore(l.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestRPCStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newTestRPCClient(t, 64)

	handle, err := client.Store(ctx, []byte("over the wire"))
	require.NoError(t, err)

	data, err := client.Fetch(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, []byte("over the wire"), data)

	require.NoError(t, client.Discard(ctx, handle))
}

func TestRPCStoreRestoresSentinelErrors(t *testing.T) {
	ctx := context.Background()
	client := newTestRPCClient(t, 4)

	// net/rpc flattens server errors to strings; the client must map
	// them back so errors.Is matching works across the wire
	_, err := client.Store(ctx, []byte("too large for the server"))
	assert.ErrorIs(t, err, blob.ErrBlobTooLarge)

	_, err = client.Fetch(ctx, "no-such-handle")
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)

	assert.ErrorIs(t, client.Discard(ctx, "no-such-handle"), blob.ErrBlobNotFound)
}

func TestBlobAPIDiscard(t *testing.T) {
	api := newTestAPI(t)
	data := []byte("gone soon")

	var storeReply rpcBlob.StoreReply
	require.NoError(t, api.Store(&rpcBlob.StoreArgs{Data: data, CheckSum: checksum.Sum(data)}, &storeReply))

	require.NoError(t, api.Discard(&rpcBlob.DiscardArgs{Handle: storeReply.Handle}, &rpcBlob.DiscardReply{}))

	var fetchReply rpcBlob.FetchReply
	err := api.Fetch(&rpcBlob.FetchArgs{Handle: storeReply.Handle}, &fetchReply)
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)
}
