// Package veloxdb is an embedded vector database: one directory holding
// mmap-backed vector and metadata stores, an HNSW or flat similarity index,
// a BM25 lexical index, and a small set of secondary indexes for
// date/type/asset lookups. Database is the single entry point — collections
// are a metadata tag on rows, not a physical partition, so there is no
// separate per-collection handle.
package veloxdb

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/veloxdb/veloxdb/internal/bm25"
	"github.com/veloxdb/veloxdb/internal/cache"
	"github.com/veloxdb/veloxdb/internal/errs"
	"github.com/veloxdb/veloxdb/internal/filter"
	"github.com/veloxdb/veloxdb/internal/fusion"
	"github.com/veloxdb/veloxdb/internal/index"
	"github.com/veloxdb/veloxdb/internal/memory"
	"github.com/veloxdb/veloxdb/internal/metaindex"
	"github.com/veloxdb/veloxdb/internal/obs"
	"github.com/veloxdb/veloxdb/internal/storage"
	"github.com/veloxdb/veloxdb/internal/storage/wal"
	"github.com/veloxdb/veloxdb/internal/store"
	"github.com/veloxdb/veloxdb/internal/util"
)

// textCustomField is the reserved Metadata.Custom key add_text stashes the
// original text under, so BM25 can be rebuilt from the metadata store alone
// on reopen without needing a separate durable text log.
const textCustomField = "_text"

// Database is a single embedded vector database directory.
type Database struct {
	mu sync.RWMutex

	config *Config
	layout *storage.Layout

	vectors   *store.VectorStore
	metadata  *store.MetadataStore
	index     index.Index
	bm25      *bm25.Engine
	secondary *metaindex.Index
	wal       *wal.WAL
	cache     *cache.Store

	metrics    *obs.Metrics
	health     *obs.HealthChecker
	memMgr     memory.MemoryManager
	memRec     *memory.MemoryRecoveryManager
	memHealth  *memory.MemoryHealthMonitor
	memMonitor *memory.Monitor

	startedAt time.Time
	closed    bool
}

// New bootstraps a new database directory or reopens an existing one,
// depending on whether config.json already exists at the configured storage
// path. Structural options (dimension, metric, HNSW parameters) only take
// effect on bootstrap; reopening loads them from the persisted config
// instead.
func New(opts ...Option) (*Database, error) {
	config := &Config{
		StoragePath:    "./veloxdb-data",
		Dimension:      768,
		Metric:         util.CosineDistance,
		IndexType:      AutoIndexType,
		M:              16,
		EfConstruction: 200,
		EfSearch:       50,
		FlatThreshold:  10000,
		BM25K1:         1.2,
		BM25B:          0.75,
		Fusion:         fusion.RRF,
		VectorWeight:   0.5,
		LexicalWeight:  0.5,
		MetricsEnabled: true,
		Logger:         slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.CachePath == "" {
		config.CachePath = filepath.Join(config.StoragePath, "sqlite.db")
	}

	layout, err := storage.Open(config.StoragePath)
	if err != nil {
		return nil, err
	}

	var persisted *storage.Config
	if layout.Exists() {
		persisted, err = layout.LoadConfig()
		if err != nil {
			return nil, err
		}
		config.Dimension = persisted.Dimension
		config.Metric = util.DistanceMetric(persisted.Metric)
		config.IndexType = IndexType(persisted.IndexType)
		config.M = persisted.M
		config.EfConstruction = persisted.EfConstruction
		config.EfSearch = persisted.EfSearch
		config.BM25K1 = persisted.BM25K1
		config.BM25B = persisted.BM25B
	} else {
		ml := 1.0 / math.Log(float64(config.M))
		persisted = &storage.Config{
			Dimension:      config.Dimension,
			Metric:         int(config.Metric),
			IndexType:      int(config.IndexType),
			M:              config.M,
			EfConstruction: config.EfConstruction,
			EfSearch:       config.EfSearch,
			ML:             ml,
			BM25K1:         config.BM25K1,
			BM25B:          config.BM25B,
		}
		if err := layout.SaveConfig(persisted); err != nil {
			return nil, err
		}
	}

	vectors, err := store.OpenVectorStore(layout.VectorsPath(), config.Dimension)
	if err != nil {
		return nil, err
	}
	metadataStore, err := store.OpenMetadataStore(layout.MetadataPath(), layout.MetaHeapPath())
	if err != nil {
		vectors.Close()
		return nil, err
	}
	walLog, err := wal.New(layout.WALPath())
	if err != nil {
		vectors.Close()
		metadataStore.Close()
		return nil, errs.Wrap(errs.IoError, "failed to open write-ahead log", err)
	}

	cacheStore, err := cache.New(cache.Config{DBPath: config.CachePath, Logger: config.Logger})
	if err != nil {
		vectors.Close()
		metadataStore.Close()
		walLog.Close()
		return nil, err
	}
	if err := cacheStore.Init(context.Background()); err != nil {
		vectors.Close()
		metadataStore.Close()
		walLog.Close()
		cacheStore.Close()
		return nil, err
	}

	var metrics *obs.Metrics
	if config.MetricsEnabled {
		metrics = obs.NewMetrics()
	}

	idx, err := buildIndex(config, metrics)
	if err != nil {
		vectors.Close()
		metadataStore.Close()
		walLog.Close()
		cacheStore.Close()
		return nil, err
	}

	memMgr, err := buildMemoryManager(config, cacheStore)
	if err != nil {
		vectors.Close()
		metadataStore.Close()
		walLog.Close()
		cacheStore.Close()
		idx.Close()
		return nil, err
	}

	db := &Database{
		config:     config,
		layout:     layout,
		vectors:    vectors,
		metadata:   metadataStore,
		index:      idx,
		bm25:       bm25.New(&bm25.Config{K1: config.BM25K1, B: config.BM25B, Logger: config.Logger}),
		secondary:  metaindex.New(),
		wal:        walLog,
		cache:      cacheStore,
		metrics:    metrics,
		memMgr:     memMgr,
		memRec:     memory.NewMemoryRecoveryManager(memMgr),
		memMonitor: memory.NewMonitor(60, time.Minute),
		startedAt:  time.Now(),
	}
	db.health = obs.NewHealthChecker(db)
	db.memHealth = memory.NewMemoryHealthMonitor(memMgr, db.memRec)

	if err := memMgr.Start(context.Background()); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.Internal, "failed to start memory manager", err)
	}
	if err := db.memHealth.Start(context.Background()); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.Internal, "failed to start memory health monitor", err)
	}

	if err := db.rebuildDerivedState(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func buildIndex(config *Config, metrics *obs.Metrics) (index.Index, error) {
	var onTrained func()
	if metrics != nil {
		onTrained = func() { metrics.QuantizerTrainings.Inc() }
	}

	switch config.IndexType {
	case FlatIndexType:
		return index.NewFlat(&index.FlatConfig{
			Dimension:    config.Dimension,
			Metric:       config.Metric,
			Quantization: config.Quantization,
		})
	case HNSWIndexType:
		return index.NewHNSW(&index.HNSWConfig{
			Dimension:          config.Dimension,
			M:                  config.M,
			EfConstruction:     config.EfConstruction,
			EfSearch:           config.EfSearch,
			ML:                 1.0 / math.Log(float64(config.M)),
			Metric:             config.Metric,
			Quantization:       config.Quantization,
			OnQuantizerTrained: onTrained,
		})
	default:
		return index.NewAuto(&index.AutoConfig{
			Dimension:     config.Dimension,
			Metric:        config.Metric,
			Quantization:  config.Quantization,
			FlatThreshold: config.FlatThreshold,
			HNSW: index.HNSWConfig{
				M:                  config.M,
				EfConstruction:     config.EfConstruction,
				EfSearch:           config.EfSearch,
				ML:                 1.0 / math.Log(float64(config.M)),
				OnQuantizerTrained: onTrained,
			},
		})
	}
}

// buildMemoryManager wires the database's SQLite auxiliary cache into a
// memory.MemoryManager so pressure against config.MemoryLimit evicts expired
// cache rows before the process OOMs. Automatic mmap promotion stays off:
// nothing the database owns implements MemoryMappable, since the vector and
// metadata stores are mmap-backed unconditionally rather than on demand.
func buildMemoryManager(config *Config, cacheStore *cache.Store) (memory.MemoryManager, error) {
	memCfg := memory.DefaultMemoryConfig()
	memCfg.MaxMemory = config.MemoryLimit
	memCfg.EnableMMap = false

	mgr := memory.NewManager(memCfg)
	if err := mgr.RegisterCache("sqlite-cache", newSQLiteMemoryCache(cacheStore)); err != nil {
		return nil, errs.Wrap(errs.Internal, "failed to register sqlite cache with memory manager", err)
	}
	return mgr, nil
}

// rebuildDerivedState replays the durable vector and metadata stores into
// the in-memory index, BM25 engine, and secondary indexes, none of which
// have a persistent on-disk form of their own. It iterates every id ever
// assigned, including tombstoned ones, and simply skips what no longer
// resolves.
func (db *Database) rebuildDerivedState(ctx context.Context) error {
	total := db.vectors.TotalRows()
	for id := uint64(0); id < uint64(total); id++ {
		vec, err := db.vectors.Get(id)
		if err != nil {
			continue
		}
		cp := make([]float32, len(vec))
		copy(cp, vec)

		if err := db.index.Insert(ctx, &index.VectorEntry{ID: id, Vector: cp}); err != nil {
			return errs.Wrap(errs.Internal, fmt.Sprintf("failed to rebuild index entry for id %d", id), err)
		}

		meta, err := db.metadata.Get(id)
		if err != nil {
			continue
		}
		db.secondary.Add(id, metaindex.Entry{Date: meta.Date, Type: uint8(meta.Type), Asset: meta.Asset})

		if text := meta.Custom[textCustomField]; text != "" {
			if err := db.bm25.AddDocument(ctx, id, text); err != nil {
				return errs.Wrap(errs.Internal, fmt.Sprintf("failed to rebuild bm25 entry for id %d", id), err)
			}
		}
	}
	return nil
}

// IsReady reports whether the database will currently accept operations.
func (db *Database) IsReady(ctx context.Context) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return errs.NotReadyf("database is closed")
	}
	return nil
}

// Config returns a copy of the database's effective configuration.
func (db *Database) Config() Config {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return *db.config
}

// Size returns the number of live (non-tombstoned) vectors.
func (db *Database) Size() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.vectors.Size()
}

// Stats reports database-wide counters.
func (db *Database) Stats(ctx context.Context) Stats {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var cacheEntries int64
	if n, err := db.cache.CacheSize(ctx); err == nil {
		cacheEntries = int64(n)
	}

	mem := db.memMgr.GetUsage()
	db.memMonitor.TakeSnapshot()

	return Stats{
		VectorCount:      db.vectors.Size(),
		MetadataCount:    db.metadata.Size(),
		BM25Documents:    db.bm25.Size(),
		Dimension:        db.config.Dimension,
		IndexType:        db.config.IndexType.String(),
		CacheEntries:     cacheEntries,
		Uptime:           time.Since(db.startedAt),
		MemoryUsageBytes: mem.Total,
		MemoryLimitBytes: mem.Limit,
		MemoryAvailable:  mem.Available,
	}
}

// MemoryTrend reports the direction and rate of heap growth across the
// snapshots Stats has taken so far (one per call), or ok=false until at
// least two snapshots exist.
func (db *Database) MemoryTrend() (trend memory.MemoryTrend, ok bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if _, has := db.memMonitor.GetLatestSnapshot(); !has {
		return memory.MemoryTrend{}, false
	}
	t := db.memMonitor.CalculateMemoryTrend()
	return t, t.Direction != memory.TrendUnknown
}

// ComponentHealth implements obs.Checker, reporting the health of each
// subsystem a readiness probe cares about.
func (db *Database) ComponentHealth(ctx context.Context) map[string]obs.HealthLevel {
	db.mu.RLock()
	defer db.mu.RUnlock()

	level := obs.HealthHealthy
	if db.closed {
		level = obs.HealthUnhealthy
	}

	memLevel := obs.HealthHealthy
	if !db.closed {
		usage := db.memMgr.GetUsage()
		if usage.Limit > 0 && usage.Total > usage.Limit {
			memLevel = obs.HealthDegraded
		}
	} else {
		memLevel = level
	}

	return map[string]obs.HealthLevel{
		"vectors":  level,
		"metadata": level,
		"index":    level,
		"bm25":     level,
		"cache":    level,
		"memory":   memLevel,
	}
}

// Health runs a readiness check across the database's components.
func (db *Database) Health(ctx context.Context) (*obs.HealthStatus, error) {
	return db.health.Check(ctx)
}

// Close flushes and releases every open file the database holds. Close is
// idempotent.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}

	var first error
	record := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if db.memHealth != nil {
		// Stop errors only when Start never succeeded (e.g. New failed before
		// rebuildDerivedState); nothing to report in that case.
		_ = db.memHealth.Stop()
	}
	if db.memMgr != nil {
		_ = db.memMgr.Stop()
	}
	if db.vectors != nil {
		record(db.vectors.Sync())
	}
	if db.metadata != nil {
		record(db.metadata.Sync())
	}
	if db.index != nil {
		record(db.index.Close())
	}
	if db.wal != nil {
		record(db.wal.Close())
	}
	if db.cache != nil {
		record(db.cache.Close())
	}
	if db.vectors != nil {
		record(db.vectors.Close())
	}
	if db.metadata != nil {
		record(db.metadata.Close())
	}

	db.closed = true
	if first != nil {
		return errs.Wrap(errs.Internal, "errors during database shutdown", first)
	}
	return nil
}

// AddVector stores vec with its metadata and returns the id assigned to it.
// meta may be nil. The write follows a fixed order — vector, index, metadata,
// secondary indexes — and rolls back everything already committed if a
// later step fails, so a failed insert never leaves a partially-visible row
// behind (aside from the tolerated window while index.Insert is in flight,
// during which the id exists in the vector store but nowhere else yet).
func (db *Database) AddVector(ctx context.Context, vec []float32, meta *Metadata) (uint64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return 0, errs.NotReadyf("database is closed")
	}
	if len(vec) != db.config.Dimension {
		return 0, errs.InvalidInputf("vector dimension %d does not match database dimension %d", len(vec), db.config.Dimension)
	}
	if meta == nil {
		meta = &Metadata{}
	}

	id, err := db.addVectorLocked(ctx, vec, meta, "")
	if err != nil {
		return 0, err
	}
	if db.metrics != nil {
		db.metrics.VectorInserts.Inc()
	}
	return id, nil
}

// AddText encodes text with the configured encoder and stores the result as
// a vector, stashing the original text in metadata so it can be recovered
// for BM25 indexing (including across a reopen). Returns ErrUnsupported if
// no encoder was configured.
func (db *Database) AddText(ctx context.Context, text string, meta *Metadata) (uint64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return 0, errs.NotReadyf("database is closed")
	}
	if db.config.Encoder == nil {
		return 0, errs.UnsupportedErrorf("add_text requires a text encoder; none configured")
	}
	if strings.TrimSpace(text) == "" {
		return 0, errs.InvalidInputf("text must not be empty")
	}

	vec, err := db.config.Encoder.Encode(ctx, text)
	if err != nil {
		return 0, errs.Wrap(errs.Internal, "failed to encode text", err)
	}
	if len(vec) != db.config.Dimension {
		return 0, errs.Internalf("encoder produced vector of dimension %d, expected %d", len(vec), db.config.Dimension)
	}

	if meta == nil {
		meta = &Metadata{}
	} else {
		meta = meta.Clone()
	}
	if meta.Custom == nil {
		meta.Custom = make(map[string]string, 1)
	}
	meta.Custom[textCustomField] = text

	id, err := db.addVectorLocked(ctx, vec, meta, text)
	if err != nil {
		return 0, err
	}
	if db.metrics != nil {
		db.metrics.VectorInserts.Inc()
	}
	return id, nil
}

// addVectorLocked implements the ordered insert: allocate id, append
// vector, insert into the similarity index, append metadata, update BM25 (if
// text is non-empty), then update secondary indexes. Callers must hold
// db.mu for writing.
func (db *Database) addVectorLocked(ctx context.Context, vec []float32, meta *Metadata, text string) (uint64, error) {
	id, err := db.vectors.Append(vec)
	if err != nil {
		return 0, err
	}

	if err := db.index.Insert(ctx, &index.VectorEntry{ID: id, Vector: vec}); err != nil {
		db.vectors.MarkDeleted(id)
		// Append a tombstoned metadata row so both stores keep assigning the same ids.
		if mid, merr := db.metadata.Append(&Metadata{}); merr == nil {
			db.metadata.MarkDeleted(mid)
		}
		return 0, errs.Wrap(errs.Internal, "failed to insert vector into index", err)
	}

	if _, err := db.metadata.Append(meta); err != nil {
		db.index.Delete(ctx, id)
		db.vectors.MarkDeleted(id)
		return 0, errs.Wrap(errs.Internal, "failed to append metadata", err)
	}

	if text != "" {
		if err := db.bm25.AddDocument(ctx, id, text); err != nil {
			db.metadata.MarkDeleted(id)
			db.index.Delete(ctx, id)
			db.vectors.MarkDeleted(id)
			return 0, errs.Wrap(errs.Internal, "failed to index document text", err)
		}
	}

	db.secondary.Add(id, metaindex.Entry{Date: meta.Date, Type: uint8(meta.Type), Asset: meta.Asset})

	if err := db.wal.Append(ctx, &wal.Entry{Operation: wal.OpInsert, ID: id, Vector: vec, Metadata: meta}); err != nil {
		db.config.Logger.Error("wal append failed after commit", "id", id, "error", err)
	}

	return id, nil
}

// GetVector returns a copy of the vector stored at id.
func (db *Database) GetVector(ctx context.Context, id uint64) ([]float32, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, errs.NotReadyf("database is closed")
	}
	vec, err := db.vectors.Get(id)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, nil
}

// GetMetadata returns the metadata stored at id.
func (db *Database) GetMetadata(ctx context.Context, id uint64) (*Metadata, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, errs.NotReadyf("database is closed")
	}
	return db.metadata.Get(id)
}

// UpdateMetadata replaces the metadata stored at id, keeping the secondary
// indexes and BM25 text index consistent with the new values.
func (db *Database) UpdateMetadata(ctx context.Context, id uint64, meta *Metadata) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return errs.NotReadyf("database is closed")
	}
	if meta == nil {
		meta = &Metadata{}
	}

	old, err := db.metadata.Get(id)
	if err != nil {
		return err
	}
	if err := db.metadata.Update(id, meta); err != nil {
		return err
	}

	db.secondary.Update(id,
		metaindex.Entry{Date: old.Date, Type: uint8(old.Type), Asset: old.Asset},
		metaindex.Entry{Date: meta.Date, Type: uint8(meta.Type), Asset: meta.Asset},
	)

	if err := db.syncBM25Text(ctx, id, old.Custom[textCustomField], meta.Custom[textCustomField]); err != nil {
		db.config.Logger.Error("bm25 text sync failed after metadata update", "id", id, "error", err)
	}

	if err := db.wal.Append(ctx, &wal.Entry{Operation: wal.OpUpdate, ID: id, Metadata: meta}); err != nil {
		db.config.Logger.Error("wal append failed after commit", "id", id, "error", err)
	}
	return nil
}

func (db *Database) syncBM25Text(ctx context.Context, id uint64, oldText, newText string) error {
	switch {
	case oldText == "" && newText == "":
		return nil
	case oldText == "" && newText != "":
		return db.bm25.AddDocument(ctx, id, newText)
	case oldText != "" && newText == "":
		return db.bm25.RemoveDocument(ctx, id)
	case oldText == newText:
		return nil
	default:
		return db.bm25.UpdateDocument(ctx, id, newText)
	}
}

// Remove tombstones id across every store and index that references it.
func (db *Database) Remove(ctx context.Context, id uint64) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return errs.NotReadyf("database is closed")
	}

	meta, err := db.metadata.Get(id)
	if err != nil {
		return err
	}
	if err := db.vectors.MarkDeleted(id); err != nil {
		return err
	}
	if err := db.metadata.MarkDeleted(id); err != nil {
		return err
	}
	if err := db.index.Delete(ctx, id); err != nil {
		db.config.Logger.Warn("index delete failed for already-tombstoned row", "id", id, "error", err)
	}
	if text := meta.Custom[textCustomField]; text != "" {
		if err := db.bm25.RemoveDocument(ctx, id); err != nil {
			db.config.Logger.Warn("bm25 remove failed for already-tombstoned row", "id", id, "error", err)
		}
	}
	db.secondary.Remove(id, metaindex.Entry{Date: meta.Date, Type: uint8(meta.Type), Asset: meta.Asset})

	if err := db.wal.Append(ctx, &wal.Entry{Operation: wal.OpDelete, ID: id}); err != nil {
		db.config.Logger.Error("wal append failed after commit", "id", id, "error", err)
	}
	return nil
}

// QueryVector runs a similarity search for vec, applying opts' filters and
// returning up to opts.K ranked results.
func (db *Database) QueryVector(ctx context.Context, vec []float32, opts *QueryOptions) ([]QueryResult, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, errs.NotReadyf("database is closed")
	}
	if len(vec) != db.config.Dimension {
		return nil, errs.InvalidInputf("query vector dimension %d does not match database dimension %d", len(vec), db.config.Dimension)
	}
	o := opts.withDefaults()

	f, err := db.buildFilter(o)
	if err != nil {
		return nil, err
	}
	pred := db.predicateFor(ctx, f)
	limit := searchLimit(o.K, f)

	hits, err := db.index.Search(ctx, vec, limit, pred)
	if err != nil {
		if db.metrics != nil {
			db.metrics.SearchErrors.Inc()
		}
		return nil, errs.Wrap(errs.Internal, "vector search failed", err)
	}

	results := make([]QueryResult, 0, o.K)
	for _, h := range hits {
		if len(results) >= o.K {
			break
		}
		qr := QueryResult{ID: h.ID, Score: h.Score, Vector: h.Vector}
		if o.IncludeMetadata {
			if meta, err := db.metadata.Get(h.ID); err == nil {
				qr.Metadata = meta
			}
		}
		results = append(results, qr)
	}

	if db.metrics != nil {
		db.metrics.SearchQueries.Inc()
	}
	return results, nil
}

// QueryText encodes text, runs both a vector search and a BM25 lexical
// search, and fuses the two rankings per opts.Fusion. Returns ErrUnsupported
// if no encoder was configured.
func (db *Database) QueryText(ctx context.Context, text string, opts *QueryOptions) ([]QueryResult, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, errs.NotReadyf("database is closed")
	}
	if db.config.Encoder == nil {
		return nil, errs.UnsupportedErrorf("query_text requires a text encoder; none configured")
	}
	if strings.TrimSpace(text) == "" {
		return nil, errs.InvalidInputf("query text must not be empty")
	}
	o := opts.withDefaults()

	vec, err := db.config.Encoder.Encode(ctx, text)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "failed to encode query text", err)
	}

	f, err := db.buildFilter(o)
	if err != nil {
		return nil, err
	}
	pred := db.predicateFor(ctx, f)
	limit := searchLimit(o.K, f)

	vecHits, err := db.index.Search(ctx, vec, limit, pred)
	if err != nil {
		if db.metrics != nil {
			db.metrics.SearchErrors.Inc()
		}
		return nil, errs.Wrap(errs.Internal, "vector search failed", err)
	}
	bmHits, err := db.bm25.Search(ctx, text, limit)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "bm25 search failed", err)
	}

	// h.Score is a raw distance (ascending = closer = better); fusion's
	// score-based methods (everything but RRF, which is rank-based) assume
	// higher-is-better, so convert to a bounded similarity before handing it
	// off.
	vectorRanked := make([]fusion.Ranked, len(vecHits))
	for i, h := range vecHits {
		vectorRanked[i] = fusion.Ranked{ID: h.ID, Score: 1 / (1 + float64(h.Score))}
	}
	bm25Ranked := make([]fusion.Ranked, 0, len(bmHits))
	for _, r := range bmHits {
		if pred != nil && !pred(r.ID) {
			continue
		}
		bm25Ranked = append(bm25Ranked, fusion.Ranked{ID: r.ID, Score: r.Score})
	}

	fused := fusion.Fuse(o.Fusion, vectorRanked, bm25Ranked, o.K, fusion.Options{
		VectorWeight: o.VectorWeight,
		BM25Weight:   o.LexicalWeight,
	})

	results := make([]QueryResult, 0, len(fused))
	for _, r := range fused {
		qr := QueryResult{ID: r.ID, Score: float32(r.Score)}
		if v, err := db.vectors.Get(r.ID); err == nil {
			cp := make([]float32, len(v))
			copy(cp, v)
			qr.Vector = cp
		}
		if o.IncludeMetadata {
			if meta, err := db.metadata.Get(r.ID); err == nil {
				qr.Metadata = meta
			}
		}
		results = append(results, qr)
	}

	if db.metrics != nil {
		db.metrics.BM25Queries.Inc()
		db.metrics.HybridQueries.Inc()
		db.metrics.SearchQueries.Inc()
	}
	return results, nil
}

// buildFilter composes a single filter.Filter from QueryOptions' filter
// fields, ANDing together whichever are set. Returns (nil, nil) when no
// filter field is set.
func (db *Database) buildFilter(o *QueryOptions) (filter.Filter, error) {
	var filters []filter.Filter

	if o.TypeFilter != nil {
		filters = append(filters, filter.NewEqualityFilter(filter.FieldDocumentType,(*o.TypeFilter).String()))
	}
	if o.DateFilter != "" {
		filters = append(filters, filter.NewEqualityFilter(filter.FieldDate, o.DateFilter))
	} else if o.DateFrom != "" || o.DateTo != "" {
		var min, max interface{}
		if o.DateFrom != "" {
			min = o.DateFrom
		}
		if o.DateTo != "" {
			max = o.DateTo
		}
		filters = append(filters, filter.NewRangeFilter(filter.FieldDate, min, max))
	}
	if o.AssetFilter != "" {
		filters = append(filters, filter.NewEqualityFilter(filter.FieldAsset, o.AssetFilter))
	}
	if o.BiasFilter != "" {
		filters = append(filters, filter.NewEqualityFilter(filter.FieldBias, o.BiasFilter))
	}

	switch len(filters) {
	case 0:
		return nil, nil
	case 1:
		return filters[0], nil
	default:
		return filter.NewAndFilter(filters...), nil
	}
}

// predicateFor turns a filter into an index.FilterFunc by fetching and
// testing each candidate id's metadata. Returns nil when f is nil, so
// callers can pass it straight through to an unfiltered search.
func (db *Database) predicateFor(ctx context.Context, f filter.Filter) index.FilterFunc {
	if f == nil {
		return nil
	}
	return func(id uint64) bool {
		meta, err := db.metadata.Get(id)
		if err != nil {
			return false
		}
		entry := &filter.VectorEntry{ID: id, Metadata: filter.FieldsOf(meta)}
		matched, err := f.Apply(ctx, []*filter.VectorEntry{entry})
		return err == nil && len(matched) > 0
	}
}

// searchLimit over-fetches candidates from the index so that, after a
// selective filter discards most of them, k results still survive. The
// multiplier is the inverse of the filter's estimated selectivity, clamped
// to a sane range.
func searchLimit(k int, f filter.Filter) int {
	if f == nil {
		return k
	}
	sel := f.EstimateSelectivity()
	if sel <= 0 {
		sel = 0.01
	}
	mult := 1.0 / sel
	if mult < 2.0 {
		mult = 2.0
	}
	if mult > 10.0 {
		mult = 10.0
	}
	return int(float64(k) * mult)
}

// FindByDate returns every live document tagged with the given date.
func (db *Database) FindByDate(ctx context.Context, date string) ([]*Metadata, error) {
	return db.findByIDs(db.secondary.ByDate(date))
}

// FindByType returns every live document of the given type.
func (db *Database) FindByType(ctx context.Context, docType DocumentType) ([]*Metadata, error) {
	return db.findByIDs(db.secondary.ByType(uint8(docType)))
}

// FindByAsset returns every live document tagged with the given asset.
func (db *Database) FindByAsset(ctx context.Context, asset string) ([]*Metadata, error) {
	return db.findByIDs(db.secondary.ByAsset(asset))
}

func (db *Database) findByIDs(ids map[uint64]struct{}) ([]*Metadata, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, errs.NotReadyf("database is closed")
	}
	out := make([]*Metadata, 0, len(ids))
	for id := range ids {
		meta, err := db.metadata.Get(id)
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	return out, nil
}

// Compact reclaims tombstoned rows from the vector and metadata stores. Both
// stores renumber their surviving rows to a dense 0..N-1 range when they do,
// which invalidates every id the similarity index, BM25 engine, and
// secondary indexes hold — none of those can be told "id 7 is now id 4" in
// place, so rather than thread the two translation tables through three
// unrelated data structures, Compact rebuilds them from scratch the same way
// a reopen does, against the now-renumbered stores.
func (db *Database) Compact(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return errs.NotReadyf("database is closed")
	}

	if _, err := db.vectors.Compact(); err != nil {
		return err
	}
	if _, err := db.metadata.Compact(); err != nil {
		return err
	}

	idx, err := buildIndex(db.config, db.metrics)
	if err != nil {
		return errs.Wrap(errs.Internal, "failed to rebuild vector index after compaction", err)
	}
	if err := db.index.Close(); err != nil {
		db.config.Logger.Warn("failed to close pre-compaction index", "error", err)
	}
	db.index = idx
	db.bm25 = bm25.New(&bm25.Config{K1: db.config.BM25K1, B: db.config.BM25B, Logger: db.config.Logger})
	db.secondary = metaindex.New()

	if err := db.rebuildDerivedState(ctx); err != nil {
		return errs.Wrap(errs.Internal, "failed to rebuild derived state after compaction", err)
	}

	if db.metrics != nil {
		db.metrics.CompactionRuns.Inc()
	}
	return nil
}

// CachePut writes key/value into the auxiliary SQLite store, for callers
// that want to cache derived results (e.g. rendered query responses)
// alongside the vector data.
func (db *Database) CachePut(ctx context.Context, key, value string) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return errs.NotReadyf("database is closed")
	}
	return db.cache.CachePut(ctx, key, value)
}

// CacheGet reads a value previously stored with CachePut.
func (db *Database) CacheGet(ctx context.Context, key string) (string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return "", errs.NotReadyf("database is closed")
	}
	val, err := db.cache.CacheGet(ctx, key)
	if db.metrics != nil {
		if err != nil {
			db.metrics.CacheMisses.Inc()
		} else {
			db.metrics.CacheHits.Inc()
		}
	}
	return val, err
}
