package transfer

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyropy/drive/core/inventory"
	"github.com/pyropy/drive/lib/checksum"
)

func newTestSweeper(t *testing.T) (*Sweeper, *Engine, *fakeTransport, *inventory.Store) {
	t.Helper()

	store, err := inventory.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	transport := newFakeTransport()
	cfg := testConfig()

	return NewSweeper(cfg, store, transport), NewEngine(cfg, store, transport), transport, store
}

func TestSweepReclaimsOrphanedBlob(t *testing.T) {
	ctx := context.Background()
	sweeper, _, transport, store := newTestSweeper(t)

	// a blob stored by an upload that never committed
	data := []byte("orphan")
	handle, err := transport.Store(ctx, data)
	require.NoError(t, err)
	require.NoError(t, store.MarkStaged(ctx, handle, checksum.Sum(data)))

	require.NoError(t, sweeper.Sweep(ctx))

	assert.Zero(t, transport.blobCount())

	staged, err := store.StagedBefore(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestSweepKeepsCommittedBlob(t *testing.T) {
	ctx := context.Background()
	sweeper, engine, transport, store := newTestSweeper(t)

	data := []byte("committed")
	file, err := engine.Upload(ctx, "alice", "kept", bytes.NewReader(data))
	require.NoError(t, err)

	// simulate a crash between commit and marker cleanup
	require.NoError(t, store.MarkStaged(ctx, file.Parts[0].Handle, file.Parts[0].Hash))

	require.NoError(t, sweeper.Sweep(ctx))

	// the blob survives, only the stale marker is dropped
	assert.Equal(t, 1, transport.blobCount())

	staged, err := store.StagedBefore(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, staged)

	var out bytes.Buffer
	_, err = engine.Download(ctx, "alice", "kept", &out)
	require.NoError(t, err)
	assert.Equal(t, data, out.Bytes())
}

func TestSweepReclaimsDuplicateStore(t *testing.T) {
	ctx := context.Background()
	sweeper, engine, transport, store := newTestSweeper(t)

	data := []byte("raced")
	_, err := engine.Upload(ctx, "alice", "winner", bytes.NewReader(data))
	require.NoError(t, err)

	// a racing upload stored the same content under a second handle
	// before the first one committed
	duplicate, err := transport.Store(ctx, data)
	require.NoError(t, err)
	require.NoError(t, store.MarkStaged(ctx, duplicate, checksum.Sum(data)))
	require.Equal(t, 2, transport.blobCount())

	require.NoError(t, sweeper.Sweep(ctx))

	// only the committed copy remains
	assert.Equal(t, 1, transport.blobCount())

	var out bytes.Buffer
	_, err = engine.Download(ctx, "alice", "winner", &out)
	require.NoError(t, err)
	assert.Equal(t, data, out.Bytes())
}

func TestSweepRespectsThreshold(t *testing.T) {
	ctx := context.Background()

	store, err := inventory.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	transport := newFakeTransport()
	cfg := testConfig()
	cfg.Sweep.Threshold = time.Hour

	sweeper := NewSweeper(cfg, store, transport)

	data := []byte("young orphan")
	handle, err := transport.Store(ctx, data)
	require.NoError(t, err)
	require.NoError(t, store.MarkStaged(ctx, handle, checksum.Sum(data)))

	require.NoError(t, sweeper.Sweep(ctx))

	// staged less than an hour ago, must not be touched yet
	assert.Equal(t, 1, transport.blobCount())
}
