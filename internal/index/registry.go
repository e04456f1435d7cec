package index

import "github.com/veloxdb/veloxdb/internal/errs"

// BackendType names a concrete index implementation.
type BackendType int

const (
	BackendAuto BackendType = iota
	BackendFlat
	BackendHNSW
)

func (b BackendType) String() string {
	switch b {
	case BackendFlat:
		return "flat"
	case BackendHNSW:
		return "hnsw"
	default:
		return "auto"
	}
}

// Factory builds an Index for a given backend and configuration bundle.
type Factory struct{}

// NewFactory creates an index factory.
func NewFactory() *Factory { return &Factory{} }

// Create builds an index for the requested backend. For BackendAuto, cfg
// must be an *AutoConfig; for BackendFlat an *FlatConfig; for BackendHNSW
// an *HNSWConfig.
func (f *Factory) Create(backend BackendType, cfg interface{}) (Index, error) {
	switch backend {
	case BackendHNSW:
		c, ok := cfg.(*HNSWConfig)
		if !ok {
			return nil, errs.InvalidInputf("expected *HNSWConfig for hnsw backend")
		}
		return NewHNSW(c)

	case BackendFlat:
		c, ok := cfg.(*FlatConfig)
		if !ok {
			return nil, errs.InvalidInputf("expected *FlatConfig for flat backend")
		}
		return NewFlat(c)

	case BackendAuto:
		c, ok := cfg.(*AutoConfig)
		if !ok {
			return nil, errs.InvalidInputf("expected *AutoConfig for auto backend")
		}
		return NewAuto(c)

	default:
		return nil, errs.InvalidInputf("unsupported index backend: %v", backend)
	}
}

// DefaultFactory is the package-level index factory instance.
var DefaultFactory = NewFactory()
