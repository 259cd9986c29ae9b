// This package provides the path-resolution cache that Mft.FileInfo can
// optionally use to avoid re-walking shared ancestor directories.

package ntfs

// PathCache maps MFT record numbers to their already-resolved full path.
// Two interchangeable implementations are provided: a dense, slice-backed
// cache for callers who will visit most of the volume (fast, but sized to
// the highest record number seen), and a sparse, map-backed cache for
// callers touching a small, scattered subset of records.
type PathCache interface {
	Lookup(number uint64) (path string, found bool)
	Insert(number uint64, path string)
}

// SparseCache is a map-backed PathCache, suited to resolving paths for a
// small or scattered set of records (e.g. journal change events).
type SparseCache struct {
	entries map[uint64]string
}

// NewSparseCache returns an empty SparseCache.
func NewSparseCache() *SparseCache {
	return &SparseCache{entries: make(map[uint64]string)}
}

func (c *SparseCache) Lookup(number uint64) (string, bool) {
	path, found := c.entries[number]
	return path, found
}

func (c *SparseCache) Insert(number uint64, path string) {
	c.entries[number] = path
}

// DenseCache is a slice-backed PathCache indexed directly by record
// number, suited to bulk-enumerating most or all of a volume's files.
type DenseCache struct {
	paths []string
	set   []bool
}

// NewDenseCache returns an empty DenseCache sized to hold up to
// `maxRecord` entries without reallocating.
func NewDenseCache(maxRecord uint64) *DenseCache {
	return &DenseCache{
		paths: make([]string, maxRecord),
		set:   make([]bool, maxRecord),
	}
}

func (c *DenseCache) Lookup(number uint64) (string, bool) {
	if number >= uint64(len(c.paths)) || !c.set[number] {
		return "", false
	}
	return c.paths[number], true
}

func (c *DenseCache) Insert(number uint64, path string) {
	if number >= uint64(len(c.paths)) {
		grown := make([]string, number+1)
		grownSet := make([]bool, number+1)
		copy(grown, c.paths)
		copy(grownSet, c.set)
		c.paths = grown
		c.set = grownSet
	}
	c.paths[number] = path
	c.set[number] = true
}
