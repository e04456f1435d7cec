// Package index exposes a single Index interface over the two concrete
// vector index implementations (flat, HNSW) plus an Auto index that starts
// flat and promotes itself to HNSW once a collection outgrows brute force.
package index

import (
	"context"
	"math"
	"sync"

	"github.com/veloxdb/veloxdb/internal/errs"
	"github.com/veloxdb/veloxdb/internal/index/flat"
	"github.com/veloxdb/veloxdb/internal/index/hnsw"
	"github.com/veloxdb/veloxdb/internal/quant"
	"github.com/veloxdb/veloxdb/internal/util"
)

// VectorEntry is a single (id, vector) pair given to an index.
type VectorEntry struct {
	ID     uint64
	Vector []float32
}

// SearchResult is one ranked hit from a search.
type SearchResult struct {
	ID     uint64
	Score  float32
	Vector []float32
}

// FilterFunc reports whether id should be considered for a result set.
// A neighbor that fails the filter is still traversed during graph
// expansion — only excluded from the returned set — so filtered HNSW
// searches don't get stranded behind rejected nodes.
type FilterFunc func(id uint64) bool

// Index is implemented by every vector index backend.
type Index interface {
	Insert(ctx context.Context, entry *VectorEntry) error
	Search(ctx context.Context, query []float32, k int, filter FilterFunc) ([]*SearchResult, error)
	Delete(ctx context.Context, id uint64) error
	Compact(ctx context.Context) error
	Size() int
	MemoryUsage() int64
	Close() error
}

// HNSWConfig configures the HNSW-backed index.
type HNSWConfig struct {
	Dimension             int
	M                     int
	EfConstruction        int
	EfSearch              int
	ML                    float64
	Metric                util.DistanceMetric
	RandomSeed            int64
	RebuildTombstoneRatio float64
	Quantization          *quant.QuantizationConfig

	// OnQuantizerTrained, if set, is called once after the index's
	// quantizer finishes training (directly or via recovery), so a
	// caller can observe the event without this package depending on
	// whatever the caller uses for metrics.
	OnQuantizerTrained func()
}

// FlatConfig configures the brute-force index.
type FlatConfig struct {
	Dimension    int
	Metric       util.DistanceMetric
	Quantization *quant.QuantizationConfig
}

// AutoConfig configures an index that promotes flat to HNSW at a size
// threshold, per the documented default for when HNSW overhead stops
// paying for itself on small collections.
type AutoConfig struct {
	Dimension     int
	Metric        util.DistanceMetric
	Quantization  *quant.QuantizationConfig
	FlatThreshold int // promote to HNSW once Size() reaches this; default 10000
	HNSW          HNSWConfig
}

const defaultFlatThreshold = 10000

// hnswWrapper adapts *hnsw.Index to Index.
type hnswWrapper struct{ idx *hnsw.Index }

func (w *hnswWrapper) Insert(ctx context.Context, e *VectorEntry) error {
	return w.idx.Insert(ctx, &hnsw.VectorEntry{ID: e.ID, Vector: e.Vector})
}

func (w *hnswWrapper) Search(ctx context.Context, query []float32, k int, filter FilterFunc) ([]*SearchResult, error) {
	var hnswFilter hnsw.FilterFunc
	if filter != nil {
		hnswFilter = hnsw.FilterFunc(filter)
	}
	res, err := w.idx.Search(ctx, query, k, hnswFilter)
	if err != nil {
		return nil, err
	}
	out := make([]*SearchResult, len(res))
	for i, r := range res {
		out[i] = &SearchResult{ID: r.ID, Score: r.Score, Vector: r.Vector}
	}
	return out, nil
}

func (w *hnswWrapper) Delete(ctx context.Context, id uint64) error { return w.idx.Delete(ctx, id) }
func (w *hnswWrapper) Compact(ctx context.Context) error           { return w.idx.Compact(ctx) }
func (w *hnswWrapper) Size() int                                   { return w.idx.Size() }
func (w *hnswWrapper) MemoryUsage() int64                          { return w.idx.MemoryUsage() }
func (w *hnswWrapper) Close() error                                { return w.idx.Close() }

// NewHNSW creates an HNSW-backed Index.
func NewHNSW(config *HNSWConfig) (Index, error) {
	idx, err := hnsw.NewHNSW(&hnsw.Config{
		Dimension:             config.Dimension,
		M:                     config.M,
		EfConstruction:        config.EfConstruction,
		EfSearch:              config.EfSearch,
		ML:                    config.ML,
		Metric:                config.Metric,
		RandomSeed:            config.RandomSeed,
		RebuildTombstoneRatio: config.RebuildTombstoneRatio,
		Quantization:          config.Quantization,
	})
	if err != nil {
		return nil, err
	}
	idx.OnQuantizerTrained = config.OnQuantizerTrained
	return &hnswWrapper{idx: idx}, nil
}

// flatWrapper adapts *flat.Index to Index.
type flatWrapper struct{ idx *flat.Index }

func (w *flatWrapper) Insert(ctx context.Context, e *VectorEntry) error {
	return w.idx.Insert(ctx, &flat.VectorEntry{ID: e.ID, Vector: e.Vector})
}

func (w *flatWrapper) Search(ctx context.Context, query []float32, k int, filter FilterFunc) ([]*SearchResult, error) {
	var flatFilter flat.FilterFunc
	if filter != nil {
		flatFilter = flat.FilterFunc(filter)
	}
	res, err := w.idx.Search(ctx, query, k, flatFilter)
	if err != nil {
		return nil, err
	}
	out := make([]*SearchResult, len(res))
	for i, r := range res {
		out[i] = &SearchResult{ID: r.ID, Score: r.Score, Vector: r.Vector}
	}
	return out, nil
}

func (w *flatWrapper) Delete(ctx context.Context, id uint64) error { return w.idx.Delete(ctx, id) }
func (w *flatWrapper) Compact(ctx context.Context) error           { return w.idx.Compact(ctx) }
func (w *flatWrapper) Size() int                                   { return w.idx.Size() }
func (w *flatWrapper) MemoryUsage() int64                          { return w.idx.MemoryUsage() }
func (w *flatWrapper) Close() error                                { return w.idx.Close() }

// NewFlat creates a flat (brute-force) Index.
func NewFlat(config *FlatConfig) (Index, error) {
	idx, err := flat.New(&flat.Config{
		Dimension:    config.Dimension,
		Metric:       config.Metric,
		Quantization: config.Quantization,
	})
	if err != nil {
		return nil, err
	}
	return &flatWrapper{idx: idx}, nil
}

// autoIndex starts as a flat index and promotes itself to HNSW once the
// live vector count reaches FlatThreshold. The promotion is one-way:
// correctness under brute force never regresses, so there's no reason to
// ever demote back.
type autoIndex struct {
	mu        sync.RWMutex
	config    *AutoConfig
	threshold int
	backend   Index
	promoted  bool
}

// NewAuto creates an index that runs flat until the collection reaches
// FlatThreshold, then transparently rebuilds itself on HNSW.
func NewAuto(config *AutoConfig) (Index, error) {
	threshold := config.FlatThreshold
	if threshold <= 0 {
		threshold = defaultFlatThreshold
	}
	flatIdx, err := NewFlat(&FlatConfig{
		Dimension:    config.Dimension,
		Metric:       config.Metric,
		Quantization: config.Quantization,
	})
	if err != nil {
		return nil, err
	}
	return &autoIndex{config: config, threshold: threshold, backend: flatIdx}, nil
}

func (a *autoIndex) Insert(ctx context.Context, e *VectorEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.backend.Insert(ctx, e); err != nil {
		return err
	}
	if !a.promoted && a.backend.Size() >= a.threshold {
		if err := a.promoteLocked(ctx); err != nil {
			return errs.Wrap(errs.Internal, "failed to promote flat index to hnsw", err)
		}
	}
	return nil
}

// promoteLocked rebuilds the backend as HNSW from the current flat
// contents. Callers must hold a.mu.
func (a *autoIndex) promoteLocked(ctx context.Context) error {
	hnswCfg := a.config.HNSW
	hnswCfg.Dimension = a.config.Dimension
	hnswCfg.Metric = a.config.Metric
	hnswCfg.Quantization = a.config.Quantization
	if hnswCfg.M == 0 {
		hnswCfg.M = 16
	}
	if hnswCfg.EfConstruction == 0 {
		hnswCfg.EfConstruction = 200
	}
	if hnswCfg.EfSearch == 0 {
		hnswCfg.EfSearch = 50
	}
	if hnswCfg.ML == 0 {
		hnswCfg.ML = 1.0 / math.Log(float64(hnswCfg.M))
	}

	next, err := NewHNSW(&hnswCfg)
	if err != nil {
		return err
	}

	flatBackend, ok := a.backend.(*flatWrapper)
	if !ok {
		return errs.Internalf("auto index promotion attempted from a non-flat backend")
	}
	for _, entry := range flatBackend.idx.All() {
		if err := next.Insert(ctx, &VectorEntry{ID: entry.ID, Vector: entry.Vector}); err != nil {
			return err
		}
	}

	a.backend.Close()
	a.backend = next
	a.promoted = true
	return nil
}

func (a *autoIndex) Search(ctx context.Context, query []float32, k int, filter FilterFunc) ([]*SearchResult, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.backend.Search(ctx, query, k, filter)
}

func (a *autoIndex) Delete(ctx context.Context, id uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.backend.Delete(ctx, id)
}

func (a *autoIndex) Compact(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.backend.Compact(ctx)
}

func (a *autoIndex) Size() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.backend.Size()
}

func (a *autoIndex) MemoryUsage() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.backend.MemoryUsage()
}

func (a *autoIndex) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.backend.Close()
}
