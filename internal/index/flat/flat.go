// Package flat implements the exact brute-force index: ground truth for
// tests and the backend for collections too small for HNSW's overhead to
// pay off.
package flat

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/veloxdb/veloxdb/internal/errs"
	"github.com/veloxdb/veloxdb/internal/quant"
	"github.com/veloxdb/veloxdb/internal/util"
)

// VectorEntry is a single (id, vector) pair held by the index.
type VectorEntry struct {
	ID     uint64
	Vector []float32
}

// SearchResult is one ranked hit from Search.
type SearchResult struct {
	ID     uint64
	Score  float32
	Vector []float32
}

// FilterFunc reports whether id should be considered for a result set.
type FilterFunc func(id uint64) bool

// Config holds the flat index's configuration.
type Config struct {
	Dimension    int
	Metric       util.DistanceMetric
	Quantization *quant.QuantizationConfig
}

// Index is a linear scan over every live (id, vector) pair.
type Index struct {
	mu        sync.RWMutex
	config    *Config
	distance  util.DistanceFunc
	entries   []*VectorEntry
	idToSlot  map[uint64]int
	tombstone map[uint64]bool
	quantizer quant.Quantizer
}

// New creates an empty flat index.
func New(config *Config) (*Index, error) {
	if config.Dimension <= 0 {
		return nil, errs.InvalidInputf("dimension must be positive, got %d", config.Dimension)
	}
	distanceFunc, err := util.GetDistanceFunc(config.Metric)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "unsupported distance metric", err)
	}

	idx := &Index{
		config:    config,
		distance:  distanceFunc,
		entries:   make([]*VectorEntry, 0),
		idToSlot:  make(map[uint64]int),
		tombstone: make(map[uint64]bool),
	}

	if config.Quantization != nil {
		idx.quantizer, err = quant.Create(config.Quantization)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "failed to create quantizer", err)
		}
	}

	return idx, nil
}

// Insert adds a new vector under id. Re-inserting a live id is rejected.
func (idx *Index) Insert(ctx context.Context, entry *VectorEntry) error {
	if len(entry.Vector) != idx.config.Dimension {
		return errs.InvalidInputf("vector dimension mismatch: expected %d, got %d", idx.config.Dimension, len(entry.Vector))
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if slot, exists := idx.idToSlot[entry.ID]; exists && !idx.tombstone[entry.ID] {
		_ = slot
		return errs.New(errs.Conflict, "vector id already exists")
	}

	vec := make([]float32, len(entry.Vector))
	copy(vec, entry.Vector)

	idx.idToSlot[entry.ID] = len(idx.entries)
	idx.entries = append(idx.entries, &VectorEntry{ID: entry.ID, Vector: vec})
	delete(idx.tombstone, entry.ID)

	return nil
}

// Search scans every live entry, scoring and optionally filtering each one,
// and returns the k closest. filter may be nil to accept everything.
func (idx *Index) Search(ctx context.Context, query []float32, k int, filter FilterFunc) ([]*SearchResult, error) {
	if len(query) != idx.config.Dimension {
		return nil, errs.InvalidInputf("query dimension mismatch: expected %d, got %d", idx.config.Dimension, len(query))
	}
	if k <= 0 {
		return []*SearchResult{}, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	top := util.NewMaxHeap(k)
	slotByHeapID := make(map[uint32]*VectorEntry, len(idx.entries))

	for slot, entry := range idx.entries {
		if idx.tombstone[entry.ID] {
			continue
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if filter != nil && !filter(entry.ID) {
			continue
		}

		score := idx.distance(query, entry.Vector)
		cand := &util.Candidate{ID: uint32(slot), Distance: score}
		slotByHeapID[uint32(slot)] = entry

		if top.Len() < k {
			heap.Push(top, cand)
		} else if score < top.Top().Distance {
			heap.Pop(top)
			heap.Push(top, cand)
		}
	}

	ordered := make([]*SearchResult, top.Len())
	for i := len(ordered) - 1; i >= 0; i-- {
		cand := heap.Pop(top).(*util.Candidate)
		entry := slotByHeapID[cand.ID]
		vec := make([]float32, len(entry.Vector))
		copy(vec, entry.Vector)
		ordered[i] = &SearchResult{ID: entry.ID, Score: cand.Distance, Vector: vec}
	}

	return ordered, nil
}

// Delete tombstones id. Like HNSW, space is reclaimed only by Compact.
func (idx *Index) Delete(ctx context.Context, id uint64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.idToSlot[id]; !exists || idx.tombstone[id] {
		return errs.NotFoundf("vector id %d not found", id)
	}
	idx.tombstone[id] = true
	return nil
}

// Compact drops tombstoned entries and rebuilds the slot index.
func (idx *Index) Compact(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	live := make([]*VectorEntry, 0, len(idx.entries))
	for _, entry := range idx.entries {
		if idx.tombstone[entry.ID] {
			continue
		}
		live = append(live, entry)
	}

	idx.entries = live
	idx.idToSlot = make(map[uint64]int, len(live))
	for slot, entry := range live {
		idx.idToSlot[entry.ID] = slot
	}
	idx.tombstone = make(map[uint64]bool)

	return nil
}

// All returns a copy of every live entry, for callers that need to rebuild
// a different index backend from the same contents.
func (idx *Index) All() []*VectorEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]*VectorEntry, 0, len(idx.entries))
	for _, entry := range idx.entries {
		if idx.tombstone[entry.ID] {
			continue
		}
		vec := make([]float32, len(entry.Vector))
		copy(vec, entry.Vector)
		out = append(out, &VectorEntry{ID: entry.ID, Vector: vec})
	}
	return out
}

// Size returns the number of live vectors.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.idToSlot) - len(idx.tombstone)
}

// MemoryUsage estimates the index's resident memory in bytes.
func (idx *Index) MemoryUsage() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var usage int64
	usage += int64(len(idx.entries)) * int64(idx.config.Dimension) * 4
	usage += int64(len(idx.idToSlot)) * 16
	return usage
}

// Close releases the index's in-memory state.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = nil
	idx.idToSlot = nil
	idx.tombstone = nil
	idx.quantizer = nil
	return nil
}

// PersistenceMetadata describes a persisted flat index without loading it.
type PersistenceMetadata struct {
	NodeCount int
	Dimension int
	CreatedAt time.Time
}

// GetPersistenceMetadata summarizes the index's current state.
func (idx *Index) GetPersistenceMetadata() *PersistenceMetadata {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return &PersistenceMetadata{
		NodeCount: len(idx.idToSlot) - len(idx.tombstone),
		Dimension: idx.config.Dimension,
		CreatedAt: time.Now(),
	}
}

// GetConfig returns the index's configuration.
func (idx *Index) GetConfig() *Config {
	return idx.config
}
