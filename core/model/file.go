package model

import "time"

// Part is a size-bounded contiguous slice of a file, stored as a single
// transport blob. Parts are immutable once created.
type Part struct {
	Index  int    `json:"index"`
	Size   int64  `json:"size"`
	Hash   string `json:"hash"`
	Handle string `json:"handle"`
}

// File maps a name in an owner's drive to the ordered list of parts
// needed to rebuild the original bytes. Concatenating the parts in index
// order, each verified against its hash, reproduces the file exactly.
type File struct {
	Owner     string    `json:"owner"`
	Name      string    `json:"name"`
	Parts     []Part    `json:"parts"`
	TotalSize int64     `json:"total_size"`
	CreatedAt time.Time `json:"created_at"`
}

// FileInfo is the listing view of a stored file.
type FileInfo struct {
	Name      string
	Size      int64
	Parts     int
	CreatedAt time.Time
}

func NewFile(owner, name string, parts []Part) File {
	var total int64
	for _, p := range parts {
		total += p.Size
	}

	return File{
		Owner:     owner,
		Name:      name,
		Parts:     parts,
		TotalSize: total,
		CreatedAt: time.Now().UTC(),
	}
}

// DistinctParts returns one part per unique hash, in first appearance
// order. Reference counting is per file, so a file holding the same
// content twice still counts as a single reference.
func (f *File) DistinctParts() []Part {
	seen := make(map[string]struct{}, len(f.Parts))
	distinct := make([]Part, 0, len(f.Parts))

	for _, p := range f.Parts {
		if _, ok := seen[p.Hash]; ok {
			continue
		}

		seen[p.Hash] = struct{}{}
		distinct = append(distinct, p)
	}

	return distinct
}
