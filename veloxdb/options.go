package veloxdb

import (
	"log/slog"

	"github.com/veloxdb/veloxdb/internal/errs"
	"github.com/veloxdb/veloxdb/internal/fusion"
	"github.com/veloxdb/veloxdb/internal/quant"
	"github.com/veloxdb/veloxdb/internal/util"
)

// Config holds database-wide configuration. Structural fields (Dimension,
// Metric, HNSW parameters) only take effect when bootstrapping a new
// database directory — reopening an existing one loads them from
// config.json instead, since the on-disk files are already shaped around
// whatever they were created with.
type Config struct {
	StoragePath string
	CachePath   string

	Dimension     int
	Metric        util.DistanceMetric
	IndexType     IndexType
	M             int
	EfConstruction int
	EfSearch      int
	FlatThreshold int
	Quantization  *quant.QuantizationConfig

	BM25K1 float64
	BM25B  float64

	Fusion        fusion.Method
	VectorWeight  float64
	LexicalWeight float64

	Encoder TextEncoder

	MetricsEnabled bool
	Logger         *slog.Logger

	// MemoryLimit caps the heap bytes the database's memory manager targets
	// before evicting the SQLite auxiliary cache under pressure. 0 means
	// unlimited (no pressure monitoring beyond reporting).
	MemoryLimit int64
}

// Option configures a Database at construction time.
type Option func(*Config) error

// WithStoragePath sets the directory a Database's hot-path files live in.
func WithStoragePath(path string) Option {
	return func(c *Config) error {
		if path == "" {
			return errs.InvalidInputf("storage path cannot be empty")
		}
		c.StoragePath = path
		return nil
	}
}

// WithCachePath sets the SQLite auxiliary store's file path. Defaults to
// "<storage path>/sqlite.db"; pass ":memory:" for an ephemeral store.
func WithCachePath(path string) Option {
	return func(c *Config) error {
		c.CachePath = path
		return nil
	}
}

// WithDimension sets the vector width a new database is bootstrapped with.
func WithDimension(dim int) Option {
	return func(c *Config) error {
		if dim <= 0 {
			return errs.InvalidInputf("dimension must be positive")
		}
		c.Dimension = dim
		return nil
	}
}

// WithMetric sets the distance metric a new database is bootstrapped with.
func WithMetric(metric util.DistanceMetric) Option {
	return func(c *Config) error {
		c.Metric = metric
		return nil
	}
}

// WithIndexType selects the vector index backend a new database uses.
func WithIndexType(it IndexType) Option {
	return func(c *Config) error {
		c.IndexType = it
		return nil
	}
}

// WithHNSW sets the HNSW parameters M, efConstruction and efSearch. It does
// not change IndexType: they apply to an HNSWIndexType database and, under
// AutoIndexType, to the backend a promotion builds.
func WithHNSW(m, efConstruction, efSearch int) Option {
	return func(c *Config) error {
		if m <= 0 || efConstruction <= 0 || efSearch <= 0 {
			return errs.InvalidInputf("HNSW parameters must be positive")
		}
		c.M = m
		c.EfConstruction = efConstruction
		c.EfSearch = efSearch
		return nil
	}
}

// WithFlatThreshold sets the live-vector count at which an AutoIndexType
// database promotes itself from flat to HNSW.
func WithFlatThreshold(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return errs.InvalidInputf("flat threshold must be positive")
		}
		c.FlatThreshold = n
		return nil
	}
}

// WithQuantization enables vector quantization on the index.
func WithQuantization(qc *quant.QuantizationConfig) Option {
	return func(c *Config) error {
		c.Quantization = qc
		return nil
	}
}

// WithBM25Params tunes the lexical scoring function's k1/b constants.
func WithBM25Params(k1, b float64) Option {
	return func(c *Config) error {
		c.BM25K1 = k1
		c.BM25B = b
		return nil
	}
}

// WithFusionStrategy stores a fusion method and vector/lexical weights in
// Config. QueryText does not read them: it takes the method and weights from
// its QueryOptions (RRF and 0.5/0.5 when unset).
func WithFusionStrategy(method fusion.Method, vectorWeight, lexicalWeight float64) Option {
	return func(c *Config) error {
		c.Fusion = method
		c.VectorWeight = vectorWeight
		c.LexicalWeight = lexicalWeight
		return nil
	}
}

// WithEncoder supplies the text encoder add_text/query_text need to turn
// free text into a vector. Without one, those two operations return
// ErrUnsupported.
func WithEncoder(enc TextEncoder) Option {
	return func(c *Config) error {
		c.Encoder = enc
		return nil
	}
}

// WithMetrics enables or disables Prometheus metrics collection.
func WithMetrics(enabled bool) Option {
	return func(c *Config) error {
		c.MetricsEnabled = enabled
		return nil
	}
}

// WithLogger sets the structured logger used for startup/shutdown and
// recoverable-error diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) error {
		c.Logger = logger
		return nil
	}
}

// WithMemoryLimit caps the heap bytes the database's memory manager targets
// before evicting the SQLite auxiliary cache under pressure. bytes <= 0
// means unlimited.
func WithMemoryLimit(bytes int64) Option {
	return func(c *Config) error {
		c.MemoryLimit = bytes
		return nil
	}
}
