package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"sync"
	"time"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	dslvl "github.com/ipfs/go-ds-leveldb"

	"github.com/pyropy/drive/core/model"
)

var (
	ErrNotFound = errors.New("inventory entry not found")
)

var (
	inventoryPrefix = ds.NewKey("/inventory")
	dedupPrefix     = ds.NewKey("/dedup")
	stagedPrefix    = ds.NewKey("/staged")
)

// Store persists per-owner file records, the dedup reference-count index
// and the staged-blob ledger in a single LevelDB datastore. All mutations
// are serialized so a partially written record is never observable; when
// two uploads race on the same (owner, name) the last commit wins.
type Store struct {
	mu sync.Mutex
	db *dslvl.Datastore

	// reserved tracks handles reused by in-flight uploads, keyed by
	// handle. A reserved handle is never reported as released even when
	// its refcount hits zero.
	reserved map[string]*reservation
}

type reservation struct {
	hash  string
	count int
}

// dedupEntry tracks how many files reference a part hash and the handle
// its blob is stored under.
type dedupEntry struct {
	Handle string `json:"handle"`
	Refs   int    `json:"refs"`
}

// stagedEntry marks a blob stored in the transport but not yet committed
// to any file record.
type stagedEntry struct {
	Handle   string    `json:"handle"`
	Hash     string    `json:"hash"`
	StoredAt time.Time `json:"stored_at"`
}

// StagedBlob is the sweeper's view of a staged entry.
type StagedBlob struct {
	Handle   string
	Hash     string
	StoredAt time.Time
}

// ReleasedBlob is a blob whose last referencing file is gone. The caller
// decides when to discard it from the transport.
type ReleasedBlob struct {
	Hash   string
	Handle string
}

func NewStore(path string) (*Store, error) {
	db, err := dslvl.NewDatastore(path, nil)
	if err != nil {
		return nil, err
	}

	return &Store{db: db, reserved: make(map[string]*reservation)}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func fileKey(owner, name string) ds.Key {
	return inventoryPrefix.ChildString(url.PathEscape(owner)).ChildString(url.PathEscape(name))
}

func ownerKey(owner string) ds.Key {
	return inventoryPrefix.ChildString(url.PathEscape(owner))
}

func dedupKey(hash string) ds.Key {
	return dedupPrefix.ChildString(hash)
}

func stagedKey(handle string) ds.Key {
	return stagedPrefix.ChildString(url.PathEscape(handle))
}

func (s *Store) Get(ctx context.Context, owner, name string) (*model.File, error) {
	b, err := s.db.Get(ctx, fileKey(owner, name))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var file model.File
	if err := json.Unmarshal(b, &file); err != nil {
		return nil, err
	}

	return &file, nil
}

// Put commits the file record and adjusts the dedup index in a single
// batch: refs for the new parts go up, refs held by a replaced record
// under the same name go down. Blobs whose count reaches zero are
// returned for the caller to discard.
func (s *Store) Put(ctx context.Context, file model.File) ([]ReleasedBlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.Get(ctx, file.Owner, file.Name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	// the dedup entry's handle is canonical: a handle reused by this
	// upload may have been superseded while the upload was in flight
	for i, p := range file.Parts {
		entry, err := s.getDedup(ctx, p.Hash)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		file.Parts[i].Handle = entry.Handle
	}

	batch, err := s.db.Batch(ctx)
	if err != nil {
		return nil, err
	}

	deltas := map[string]int{}
	handles := map[string]string{}
	for _, p := range file.DistinctParts() {
		deltas[p.Hash]++
		handles[p.Hash] = p.Handle
	}
	if prev != nil {
		for _, p := range prev.DistinctParts() {
			deltas[p.Hash]--
			if _, ok := handles[p.Hash]; !ok {
				handles[p.Hash] = p.Handle
			}
		}
	}

	released, err := s.applyRefDeltas(ctx, batch, deltas, handles)
	if err != nil {
		return nil, err
	}

	b, err := json.Marshal(file)
	if err != nil {
		return nil, err
	}

	if err := batch.Put(ctx, fileKey(file.Owner, file.Name), b); err != nil {
		return nil, err
	}

	if err := batch.Commit(ctx); err != nil {
		return nil, err
	}

	return released, nil
}

// Delete removes the entry and decrements the refcount of each distinct
// part hash in the same batch. Returns the removed record and the blobs
// released by the removal.
func (s *Store) Delete(ctx context.Context, owner, name string) (*model.File, []ReleasedBlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.Get(ctx, owner, name)
	if err != nil {
		return nil, nil, err
	}

	batch, err := s.db.Batch(ctx)
	if err != nil {
		return nil, nil, err
	}

	deltas := map[string]int{}
	handles := map[string]string{}
	for _, p := range file.DistinctParts() {
		deltas[p.Hash]--
		handles[p.Hash] = p.Handle
	}

	released, err := s.applyRefDeltas(ctx, batch, deltas, handles)
	if err != nil {
		return nil, nil, err
	}

	if err := batch.Delete(ctx, fileKey(owner, name)); err != nil {
		return nil, nil, err
	}

	if err := batch.Commit(ctx); err != nil {
		return nil, nil, err
	}

	return file, released, nil
}

func (s *Store) applyRefDeltas(ctx context.Context, batch ds.Batch, deltas map[string]int, handles map[string]string) ([]ReleasedBlob, error) {
	var released []ReleasedBlob

	for hash, delta := range deltas {
		if delta == 0 {
			continue
		}

		entry, err := s.getDedup(ctx, hash)
		if errors.Is(err, ErrNotFound) {
			entry = &dedupEntry{Handle: handles[hash]}
		} else if err != nil {
			return nil, err
		}

		entry.Refs += delta
		if entry.Refs <= 0 {
			if err := batch.Delete(ctx, dedupKey(hash)); err != nil {
				return nil, err
			}

			if _, ok := s.reserved[entry.Handle]; ok {
				// an in-flight upload holds the handle; it either
				// recommits the blob or hands it back on unreserve
				continue
			}

			released = append(released, ReleasedBlob{Hash: hash, Handle: entry.Handle})
			continue
		}

		b, err := json.Marshal(entry)
		if err != nil {
			return nil, err
		}

		if err := batch.Put(ctx, dedupKey(hash), b); err != nil {
			return nil, err
		}
	}

	return released, nil
}

// List returns the owner's files in lexical name order.
func (s *Store) List(ctx context.Context, owner string) ([]model.FileInfo, error) {
	q := dsq.Query{Prefix: ownerKey(owner).String()}
	infos := make([]model.FileInfo, 0)

	res, err := s.db.Query(ctx, q)
	if err != nil {
		return infos, err
	}
	defer res.Close()

	for {
		r, hasNext := res.NextSync()
		if !hasNext {
			break
		}
		if r.Error != nil {
			return infos, r.Error
		}

		var file model.File
		if err := json.Unmarshal(r.Value, &file); err != nil {
			return infos, err
		}

		infos = append(infos, model.FileInfo{
			Name:      file.Name,
			Size:      file.TotalSize,
			Parts:     len(file.Parts),
			CreatedAt: file.CreatedAt,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	return infos, nil
}

func (s *Store) getDedup(ctx context.Context, hash string) (*dedupEntry, error) {
	b, err := s.db.Get(ctx, dedupKey(hash))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var entry dedupEntry
	if err := json.Unmarshal(b, &entry); err != nil {
		return nil, err
	}

	return &entry, nil
}

// Reserve looks up the handle a hash is stored under and claims it for
// an in-flight upload. While the claim is held a release of the handle
// is deferred instead of reported, so the blob cannot be discarded
// between the reuse decision and the upload's commit.
func (s *Store) Reserve(ctx context.Context, hash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.getDedup(ctx, hash)
	if err != nil {
		return "", err
	}

	r, ok := s.reserved[entry.Handle]
	if !ok {
		r = &reservation{hash: hash}
		s.reserved[entry.Handle] = r
	}
	r.count++

	return entry.Handle, nil
}

// Unreserve drops an upload's claim on a reused handle. When the last
// claim is dropped and no dedup entry references the handle anymore,
// the blob is returned for the caller to discard.
func (s *Store) Unreserve(ctx context.Context, handle string) (*ReleasedBlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reserved[handle]
	if !ok {
		return nil, nil
	}

	r.count--
	if r.count > 0 {
		return nil, nil
	}
	delete(s.reserved, handle)

	entry, err := s.getDedup(ctx, r.hash)
	if errors.Is(err, ErrNotFound) {
		return &ReleasedBlob{Hash: r.hash, Handle: handle}, nil
	}
	if err != nil {
		return nil, err
	}

	if entry.Handle != handle {
		return &ReleasedBlob{Hash: r.hash, Handle: handle}, nil
	}

	return nil, nil
}

// FindByHash returns the handle a part hash is stored under, enabling
// the engine to reuse the blob instead of storing it again.
func (s *Store) FindByHash(ctx context.Context, hash string) (string, error) {
	entry, err := s.getDedup(ctx, hash)
	if err != nil {
		return "", err
	}

	return entry.Handle, nil
}

// RefCount returns how many files reference the hash. Absent hashes
// count as zero.
func (s *Store) RefCount(ctx context.Context, hash string) (int, error) {
	entry, err := s.getDedup(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return entry.Refs, nil
}

// MarkStaged records that a blob was stored in the transport ahead of an
// inventory commit. Cleared on commit; stale entries are reclaimed by
// the sweeper.
func (s *Store) MarkStaged(ctx context.Context, handle, hash string) error {
	b, err := json.Marshal(stagedEntry{Handle: handle, Hash: hash, StoredAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	return s.db.Put(ctx, stagedKey(handle), b)
}

func (s *Store) ClearStaged(ctx context.Context, handle string) error {
	err := s.db.Delete(ctx, stagedKey(handle))
	if errors.Is(err, ds.ErrNotFound) {
		return nil
	}

	return err
}

// StagedBefore returns staged entries recorded before the cutoff.
func (s *Store) StagedBefore(ctx context.Context, cutoff time.Time) ([]StagedBlob, error) {
	q := dsq.Query{Prefix: stagedPrefix.String()}
	staged := make([]StagedBlob, 0)

	res, err := s.db.Query(ctx, q)
	if err != nil {
		return staged, err
	}
	defer res.Close()

	for {
		r, hasNext := res.NextSync()
		if !hasNext {
			break
		}
		if r.Error != nil {
			return staged, r.Error
		}

		var entry stagedEntry
		if err := json.Unmarshal(r.Value, &entry); err != nil {
			return staged, err
		}

		if entry.StoredAt.Before(cutoff) {
			staged = append(staged, StagedBlob{Handle: entry.Handle, Hash: entry.Hash, StoredAt: entry.StoredAt})
		}
	}

	return staged, nil
}
