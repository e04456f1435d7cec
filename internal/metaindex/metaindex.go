// Package metaindex maintains id-only secondary indexes over the named
// metadata fields that filtered queries predicate on: date, document type,
// and asset. It never stores the metadata itself — that lives in
// internal/store — only which ids currently carry a given value.
package metaindex

import "sync"

// Index maintains three incrementally-updated posting sets.
type Index struct {
	mu   sync.RWMutex
	date map[string]map[uint64]struct{}
	docType map[uint8]map[uint64]struct{}
	asset map[string]map[uint64]struct{}
}

// New creates an empty secondary index set.
func New() *Index {
	return &Index{
		date:    make(map[string]map[uint64]struct{}),
		docType: make(map[uint8]map[uint64]struct{}),
		asset:   make(map[string]map[uint64]struct{}),
	}
}

// Entry is the subset of a document's metadata the secondary indexes key
// on. An empty Date/Asset string means "not set" and is not indexed.
type Entry struct {
	Date  string
	Type  uint8
	Asset string
}

// Add inserts id into the posting set for each non-empty field in e.
func (idx *Index) Add(id uint64, e Entry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if e.Date != "" {
		addTo(idx.date, e.Date, id)
	}
	addTo(idx.docType, e.Type, id)
	if e.Asset != "" {
		addTo(idx.asset, e.Asset, id)
	}
}

// Remove drops id from the posting set for each non-empty field in e. The
// caller must pass the same field values used in the matching Add call.
func (idx *Index) Remove(id uint64, e Entry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if e.Date != "" {
		removeFrom(idx.date, e.Date, id)
	}
	removeFrom(idx.docType, e.Type, id)
	if e.Asset != "" {
		removeFrom(idx.asset, e.Asset, id)
	}
}

// Update removes old's posting memberships and adds new's in a single
// locked section, so a filtered query never observes a half-applied
// metadata update.
func (idx *Index) Update(id uint64, old, new Entry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if old.Date != "" {
		removeFrom(idx.date, old.Date, id)
	}
	removeFrom(idx.docType, old.Type, id)
	if old.Asset != "" {
		removeFrom(idx.asset, old.Asset, id)
	}

	if new.Date != "" {
		addTo(idx.date, new.Date, id)
	}
	addTo(idx.docType, new.Type, id)
	if new.Asset != "" {
		addTo(idx.asset, new.Asset, id)
	}
}

// ByDate returns the live id set tagged with the exact date string.
func (idx *Index) ByDate(date string) map[uint64]struct{} {
	return idx.snapshot(idx.date, date)
}

// ByType returns the live id set tagged with the given document type.
func (idx *Index) ByType(docType uint8) map[uint64]struct{} {
	return idx.snapshotUint8(idx.docType, docType)
}

// ByAsset returns the live id set tagged with the given asset string.
func (idx *Index) ByAsset(asset string) map[uint64]struct{} {
	return idx.snapshot(idx.asset, asset)
}

// Predicate turns a candidate id set into a membership test usable
// directly as the filter predicate threaded through flat/HNSW search.
func Predicate(ids map[uint64]struct{}) func(uint64) bool {
	return func(id uint64) bool {
		_, ok := ids[id]
		return ok
	}
}

func (idx *Index) snapshot(m map[string]map[uint64]struct{}, key string) map[uint64]struct{} {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return copySet(m[key])
}

func (idx *Index) snapshotUint8(m map[uint8]map[uint64]struct{}, key uint8) map[uint64]struct{} {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return copySet(m[key])
}

func copySet(src map[uint64]struct{}) map[uint64]struct{} {
	out := make(map[uint64]struct{}, len(src))
	for id := range src {
		out[id] = struct{}{}
	}
	return out
}

func addTo[K comparable](m map[K]map[uint64]struct{}, key K, id uint64) {
	set, ok := m[key]
	if !ok {
		set = make(map[uint64]struct{})
		m[key] = set
	}
	set[id] = struct{}{}
}

func removeFrom[K comparable](m map[K]map[uint64]struct{}, key K, id uint64) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(m, key)
	}
}
