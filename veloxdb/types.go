package veloxdb

import (
	"context"
	"time"

	"github.com/veloxdb/veloxdb/internal/fusion"
	"github.com/veloxdb/veloxdb/internal/store"
)

// Metadata is the structured record attached to every stored vector.
type Metadata = store.Metadata

// DocumentType classifies a document's metadata.
type DocumentType = store.DocumentType

// VectorEntry pairs an id with its stored vector and metadata, as returned
// by get_vector/get_metadata style reads.
type VectorEntry struct {
	ID       uint64
	Vector   []float32
	Metadata *Metadata
}

// QueryResult is one ranked hit from query_vector or query_text.
type QueryResult struct {
	ID       uint64
	Score    float32
	Vector   []float32
	Metadata *Metadata
}

// QueryOptions configures a query_vector/query_text call. Filters are
// additive (AND): a result must satisfy every non-empty filter to be
// included. DateFilter and DateFrom/DateTo are mutually exclusive ways of
// constraining the date field — an exact match or a range.
type QueryOptions struct {
	K               int
	EfSearch        int
	IncludeMetadata bool

	TypeFilter  *DocumentType
	DateFilter  string
	DateFrom    string
	DateTo      string
	AssetFilter string
	BiasFilter  string

	Fusion        fusion.Method
	VectorWeight  float64
	LexicalWeight float64
}

func (o *QueryOptions) withDefaults() *QueryOptions {
	out := QueryOptions{K: 10}
	if o != nil {
		out = *o
	}
	if out.K <= 0 {
		out.K = 10
	}
	if out.VectorWeight == 0 && out.LexicalWeight == 0 {
		out.VectorWeight, out.LexicalWeight = 0.5, 0.5
	}
	return &out
}

// TextEncoder turns free text into a vector for add_text/query_text. A
// Database built without one rejects those two operations with
// ErrUnsupported, since no default encoder ships with the core library.
type TextEncoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}

// IndexType selects the vector index backend a Database builds.
type IndexType int

const (
	// AutoIndexType runs brute-force until the collection outgrows it, then
	// transparently rebuilds itself on HNSW.
	AutoIndexType IndexType = iota
	FlatIndexType
	HNSWIndexType
)

func (it IndexType) String() string {
	switch it {
	case FlatIndexType:
		return "flat"
	case HNSWIndexType:
		return "hnsw"
	default:
		return "auto"
	}
}

// Stats reports database-wide counters, for the `size`/`config` facade
// operations and for /metrics-adjacent introspection.
type Stats struct {
	VectorCount     int
	MetadataCount   int
	BM25Documents   int
	Dimension       int
	IndexType       string
	CacheEntries    int64
	Uptime          time.Duration

	// MemoryUsageBytes is heap bytes currently in use (mmap'd vector/metadata
	// regions don't count against it, per the memory manager's accounting).
	MemoryUsageBytes int64
	// MemoryLimitBytes is the configured ceiling (WithMemoryLimit); 0 means
	// unlimited.
	MemoryLimitBytes int64
	// MemoryAvailable is MemoryLimitBytes - MemoryUsageBytes, or -1 if
	// MemoryLimitBytes is 0.
	MemoryAvailable int64
}
