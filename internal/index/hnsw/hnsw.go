package hnsw

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/veloxdb/veloxdb/internal/errs"
	"github.com/veloxdb/veloxdb/internal/quant"
	"github.com/veloxdb/veloxdb/internal/util"
)

// VectorEntry is a vector submitted for indexing.
type VectorEntry struct {
	ID     uint64
	Vector []float32
}

// SearchResult is a single hit from a kNN search.
type SearchResult struct {
	ID     uint64
	Score  float32
	Vector []float32
}

// Index implements the HNSW approximate nearest-neighbor graph.
type Index struct {
	mu                   sync.RWMutex
	config               *Config
	nodes                []*Node
	entryPoint           *Node
	maxLevel             int
	levelGenerator       *rand.Rand
	distance             util.DistanceFunc
	size                 int // live (non-tombstoned) node count
	tombstones           int
	idToIndex            map[uint64]uint32
	entryPointCandidates []uint32
	neighborSelector     *NeighborSelector

	quantizer           quant.Quantizer
	trainingVectors     [][]float32
	quantizationTrained bool
	recoveryMgr         *quant.QuantizationRecoveryManager

	logger *slog.Logger

	// OnQuantizerTrained, if set, is called once after a quantizer trains
	// successfully (directly or via recovery). Used to drive an external
	// training counter without this package importing one.
	OnQuantizerTrained func()
}

// Config holds HNSW construction and search parameters.
type Config struct {
	Dimension      int
	M              int
	EfConstruction int
	EfSearch       int
	ML             float64
	Metric         util.DistanceMetric
	RandomSeed     int64
	Quantization   *quant.QuantizationConfig

	// RebuildTombstoneRatio: once a Delete brings the fraction of
	// tombstoned nodes to this threshold, an "hnsw_rebuild_triggered"
	// event is logged. No rebuild starts on its own; tombstoned slots are
	// reclaimed only by an explicit Compact call. Zero disables the event.
	RebuildTombstoneRatio float64

	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.Dimension <= 0 {
		return errs.InvalidInputf("dimension must be positive")
	}
	if c.M <= 0 {
		return errs.InvalidInputf("M must be positive")
	}
	if c.EfConstruction <= 0 {
		return errs.InvalidInputf("EfConstruction must be positive")
	}
	if c.EfSearch <= 0 {
		return errs.InvalidInputf("EfSearch must be positive")
	}
	if c.ML <= 0 {
		return errs.InvalidInputf("ML must be positive")
	}
	if c.Quantization != nil {
		if err := c.Quantization.Validate(); err != nil {
			return errs.Wrap(errs.InvalidInput, "invalid quantization config", err)
		}
	}
	return nil
}

// NewHNSW creates an empty index.
func NewHNSW(config *Config) (*Index, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	distanceFunc, err := util.GetDistanceFunc(config.Metric)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "unsupported distance metric", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	index := &Index{
		config:               config,
		nodes:                make([]*Node, 0),
		levelGenerator:       rand.New(rand.NewSource(config.RandomSeed)),
		distance:             distanceFunc,
		idToIndex:            make(map[uint64]uint32),
		entryPointCandidates: make([]uint32, 0),
		trainingVectors:      make([][]float32, 0),
		logger:               logger,
	}

	if config.Quantization != nil {
		quantizer, err := quant.Create(config.Quantization)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "failed to create quantizer", err)
		}
		index.quantizer = quantizer
		index.recoveryMgr = quant.NewQuantizationRecoveryManager(true)
	}

	return index, nil
}

// Insert adds a vector under a caller-assigned id. Ids must be unique and
// are never reused by the index layer; the caller (internal/store) owns
// allocation.
func (h *Index) Insert(ctx context.Context, entry *VectorEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.idToIndex[entry.ID]; exists {
		return errs.New(errs.Conflict, "vector id already exists")
	}
	if len(entry.Vector) != h.config.Dimension {
		return errs.InvalidInputf("vector dimension %d does not match index dimension %d", len(entry.Vector), h.config.Dimension)
	}

	if h.quantizer != nil && !h.quantizationTrained {
		vectorCopy := make([]float32, len(entry.Vector))
		copy(vectorCopy, entry.Vector)
		h.trainingVectors = append(h.trainingVectors, vectorCopy)

		if len(h.trainingVectors) >= h.getTrainingThreshold() {
			if err := h.trainQuantizer(ctx); err != nil {
				return errs.Wrap(errs.Internal, "quantizer training failed", err)
			}
		}
	}

	level := h.generateLevel()
	node := &Node{
		ID:    entry.ID,
		Level: level,
		Links: make([][]uint32, level+1),
	}

	if h.quantizer != nil && h.quantizationTrained {
		compressed, err := h.quantizer.Compress(entry.Vector)
		if err != nil {
			return errs.Wrap(errs.Internal, "failed to compress vector", err)
		}
		node.CompressedVector = compressed
	} else {
		node.Vector = append([]float32(nil), entry.Vector...)
	}

	for i := 0; i <= level; i++ {
		node.Links[i] = make([]uint32, 0, h.config.M)
	}

	nodeID := uint32(len(h.nodes))
	h.nodes = append(h.nodes, node)
	h.idToIndex[entry.ID] = nodeID

	if level >= 2 {
		h.entryPointCandidates = append(h.entryPointCandidates, nodeID)
	}

	if h.entryPoint == nil {
		h.entryPoint = node
		h.maxLevel = level
		h.size++
		return nil
	}

	if err := h.insertNode(ctx, node, nodeID); err != nil {
		h.nodes = h.nodes[:len(h.nodes)-1]
		delete(h.idToIndex, entry.ID)
		if level >= 2 && len(h.entryPointCandidates) > 0 {
			last := len(h.entryPointCandidates) - 1
			if h.entryPointCandidates[last] == nodeID {
				h.entryPointCandidates = h.entryPointCandidates[:last]
			}
		}
		return errs.Wrap(errs.Internal, "failed to insert node", err)
	}

	h.size++
	if level > h.maxLevel {
		h.entryPoint = node
		h.maxLevel = level
	}

	return nil
}

// Search returns the k nearest live neighbors to query that pass filter.
// filter may be nil to accept every live vector.
func (h *Index) Search(ctx context.Context, query []float32, k int, filter FilterFunc) ([]*SearchResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.size == 0 {
		return nil, errs.New(errs.NotReady, "index is empty")
	}
	if len(query) != h.config.Dimension {
		return nil, errs.InvalidInputf("query dimension %d does not match index dimension %d", len(query), h.config.Dimension)
	}

	ep := h.entryPoint
	for level := h.maxLevel; level > 0; level-- {
		candidates := h.searchLevel(query, ep, 1, level, nil)
		if len(candidates) > 0 {
			ep = h.nodes[candidates[0].ID]
		}
	}

	ef := max(h.config.EfSearch, k)
	candidates := h.searchLevel(query, ep, ef*2, 0, filter) // widen: skip tombstones/filtered without starving k

	results := make([]*SearchResult, 0, min(k, len(candidates)))
	for _, candidate := range candidates {
		if len(results) >= k {
			break
		}
		node := h.nodes[candidate.ID]
		if node.Tombstone {
			continue
		}

		var resultVector []float32
		if node.CompressedVector != nil && h.quantizer != nil {
			if vec, err := h.quantizer.Decompress(node.CompressedVector); err == nil {
				resultVector = vec
			}
		} else {
			resultVector = node.Vector
		}

		results = append(results, &SearchResult{
			ID:     node.ID,
			Score:  candidate.Distance,
			Vector: resultVector,
		})
	}

	return results, nil
}

// Size returns the number of live (non-tombstoned) vectors.
func (h *Index) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// TombstoneRatio reports the fraction of indexed slots that are tombstoned.
func (h *Index) TombstoneRatio() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := h.size + h.tombstones
	if total == 0 {
		return 0
	}
	return float64(h.tombstones) / float64(total)
}

func (h *Index) MemoryUsage() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var usage int64
	for _, node := range h.nodes {
		if node.CompressedVector != nil {
			usage += int64(len(node.CompressedVector))
		} else if node.Vector != nil {
			usage += int64(len(node.Vector) * 4)
		}
		for _, links := range node.Links {
			usage += int64(len(links) * 4)
		}
		usage += 64
	}
	if h.quantizer != nil {
		usage += h.quantizer.MemoryUsage()
	}
	for _, vec := range h.trainingVectors {
		usage += int64(len(vec) * 4)
	}
	return usage
}

func (h *Index) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nodes = nil
	h.entryPoint = nil
	h.size = 0
	return nil
}

func (h *Index) generateLevel() int {
	level := 0
	for h.levelGenerator.Float64() < h.config.ML && level < 16 {
		level++
	}
	return level
}

func (h *Index) getTrainingThreshold() int {
	if h.config.Quantization == nil {
		return 0
	}
	switch h.config.Quantization.Type {
	case quant.ProductQuantization:
		return max(1000, h.config.Quantization.Codebooks*256)
	case quant.ScalarQuantization:
		return max(100, h.config.Dimension*10)
	default:
		return 1000
	}
}

func (h *Index) trainQuantizer(ctx context.Context) error {
	if h.quantizer == nil || len(h.trainingVectors) == 0 {
		return errs.New(errs.Internal, "no quantizer or training data available")
	}

	trainRatio := h.config.Quantization.TrainRatio
	if trainRatio <= 0 || trainRatio > 1 {
		trainRatio = 0.1
	}

	trainCount := int(float64(len(h.trainingVectors)) * trainRatio)
	if trainCount < 1 {
		trainCount = len(h.trainingVectors)
	}

	trainErr := h.quantizer.Train(ctx, h.trainingVectors[:trainCount])
	if trainErr != nil && h.recoveryMgr != nil {
		h.logger.Warn("hnsw_quantizer_training_failed_attempting_recovery", slog.String("error", trainErr.Error()))
		qErr := classifyTrainingFailure(trainErr, trainCount, h.config.Quantization)
		trainErr = h.recoveryMgr.RecoverFromTrainingFailure(ctx, h.quantizer, h.trainingVectors[:trainCount], qErr)
	}
	if trainErr != nil {
		if h.recoveryMgr != nil && h.recoveryMgr.FallbackToUncompressed() {
			h.logger.Warn("hnsw_quantizer_training_abandoned_falling_back_to_uncompressed", slog.String("error", trainErr.Error()))
			h.quantizer = nil
			h.quantizationTrained = false
			h.trainingVectors = nil
			return nil
		}
		return errs.Wrap(errs.Internal, "quantizer training failed", trainErr)
	}

	h.quantizationTrained = true
	h.trainingVectors = nil
	h.logger.Info("hnsw_quantizer_trained", slog.Int("train_count", trainCount))
	if h.OnQuantizerTrained != nil {
		h.OnQuantizerTrained()
	}
	return nil
}

// classifyTrainingFailure turns a quantizer's plain training error into the
// *quant.QuantizationError shape the recovery manager dispatches on, based
// on how much training data was available and what the config looks like —
// the quantizer backends (product.go/scalar.go) return plain wrapped
// errors, not a typed quant.QuantizationError, so there is no structured
// code to read off the error itself.
func classifyTrainingFailure(err error, trainCount int, cfg *quant.QuantizationConfig) *quant.QuantizationError {
	minRequired := cfg.Codebooks
	if cfg.Type == quant.ScalarQuantization {
		minRequired = 1
	}
	if trainCount < minRequired {
		return quant.NewQuantizationError(quant.ErrQuantTrainingDataInsufficient, "hnsw", "trainQuantizer", err.Error()).
			WithCause(err).WithRetryable(true).WithRecoverable(true)
	}
	return quant.NewQuantizationError(quant.ErrQuantTrainingFailed, "hnsw", "trainQuantizer", err.Error()).
		WithCause(err).WithRetryable(true).WithRecoverable(true)
}

func (h *Index) getNodeVector(node *Node) ([]float32, error) {
	if node.CompressedVector != nil && h.quantizer != nil {
		return h.quantizer.Decompress(node.CompressedVector)
	}
	return node.Vector, nil
}

func (h *Index) Delete(ctx context.Context, id uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	slot, exists := h.idToIndex[id]
	if !exists || int(slot) >= len(h.nodes) || h.nodes[slot] == nil {
		return errs.NotFoundf("vector id %d not found", id)
	}
	node := h.nodes[slot]
	if node.Tombstone {
		return errs.NotFoundf("vector id %d not found", id)
	}

	node.Tombstone = true
	h.size--
	h.tombstones++

	if h.entryPoint == node {
		h.replaceEntryPoint(slot)
	}

	if h.config.RebuildTombstoneRatio > 0 {
		total := h.size + h.tombstones
		if total > 0 && float64(h.tombstones)/float64(total) >= h.config.RebuildTombstoneRatio {
			h.logger.Info("hnsw_rebuild_triggered",
				slog.Int("tombstones", h.tombstones), slog.Int("live", h.size))
		}
	}

	return nil
}

// replaceEntryPoint picks a new, non-tombstoned entry point after the
// current one is tombstoned. Caller holds h.mu.
func (h *Index) replaceEntryPoint(excludeSlot uint32) {
	var best *Node
	bestLevel := -1
	for _, candidate := range h.entryPointCandidates {
		if candidate == excludeSlot || int(candidate) >= len(h.nodes) {
			continue
		}
		n := h.nodes[candidate]
		if n != nil && !n.Tombstone && n.Level > bestLevel {
			bestLevel = n.Level
			best = n
		}
	}
	if best == nil {
		for i, n := range h.nodes {
			if uint32(i) == excludeSlot || n == nil || n.Tombstone {
				continue
			}
			if n.Level > bestLevel {
				bestLevel = n.Level
				best = n
			}
		}
	}
	h.entryPoint = best
	if best != nil {
		h.maxLevel = best.Level
	} else {
		h.maxLevel = 0
	}
}

// Compact rebuilds the graph from scratch using only live vectors,
// reclaiming tombstoned slots. Re-insertion of the live set runs
// concurrently, bounded to 8 workers.
func (h *Index) Compact(ctx context.Context) error {
	h.mu.RLock()
	live := make([]*VectorEntry, 0, h.size)
	for _, node := range h.nodes {
		if node == nil || node.Tombstone {
			continue
		}
		vec, err := h.getNodeVector(node)
		if err != nil {
			h.mu.RUnlock()
			return errs.Wrap(errs.Internal, "failed to read vector during compaction", err)
		}
		live = append(live, &VectorEntry{ID: node.ID, Vector: vec})
	}
	config := *h.config
	h.mu.RUnlock()

	fresh, err := NewHNSW(&config)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, entry := range live {
		entry := entry
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			return fresh.Insert(gctx, entry)
		})
	}
	if err := g.Wait(); err != nil {
		return errs.Wrap(errs.Internal, "compaction failed", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.nodes = fresh.nodes
	h.idToIndex = fresh.idToIndex
	h.entryPoint = fresh.entryPoint
	h.maxLevel = fresh.maxLevel
	h.size = fresh.size
	h.tombstones = 0
	h.entryPointCandidates = fresh.entryPointCandidates
	h.logger.Info("hnsw_compacted", slog.Int("live", h.size), slog.Time("at", time.Now()))
	return nil
}

// SaveToDisk persists the index in binary form.
func (h *Index) SaveToDisk(ctx context.Context, path string) error {
	return h.saveToDiskImpl(ctx, path)
}

// LoadFromDisk restores the index from a file written by SaveToDisk.
func (h *Index) LoadFromDisk(ctx context.Context, path string) error {
	return h.loadFromDiskImpl(ctx, path)
}

func (h *Index) GetPersistenceMetadata() *HNSWPersistenceMetadata {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.size == 0 {
		return nil
	}
	return &HNSWPersistenceMetadata{
		Version:       FormatVersion,
		NodeCount:     h.size,
		Dimension:     h.config.Dimension,
		MaxLevel:      h.getMaxLevel(),
		CreatedAt:     time.Now(),
		ChecksumCRC32: h.calculateCRC32(),
		FileSize:      h.estimateFileSize(),
	}
}

func (h *Index) getMaxLevel() int {
	maxLevel := 0
	for _, node := range h.nodes {
		if node != nil && node.Level > maxLevel {
			maxLevel = node.Level
		}
	}
	return maxLevel
}

func (h *Index) estimateFileSize() int64 {
	var size int64
	size += 64
	for _, node := range h.nodes {
		if node == nil {
			continue
		}
		size += 8 + int64(len(node.Vector)*4) + 16
	}
	for _, node := range h.nodes {
		if node == nil {
			continue
		}
		for _, connections := range node.Links {
			size += int64(len(connections) * 4)
		}
	}
	return size
}
