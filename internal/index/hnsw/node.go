package hnsw

// Node is a single vertex in the proximity graph. The index layer only ever
// deals in vector ids and link topology; metadata lives in internal/store.
type Node struct {
	ID               uint64
	Vector           []float32 // nil once CompressedVector is populated
	CompressedVector []byte
	Level            int
	Links            [][]uint32 // adjacency list per level, indices into Index.nodes
	Tombstone        bool       // soft-deleted: edges kept, excluded from results
}
