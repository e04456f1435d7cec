package hnsw

import "time"

// Binary format constants.
const (
	IndexFileMagic      = "HNSWVIDX"
	FormatVersion       = uint32(2) // v2: uint64 ids + tombstone bit
	MaxSupportedVersion = uint32(2)
	ChunkSize           = 1000
)

// HNSWPersistenceMetadata describes a persisted index without loading it.
type HNSWPersistenceMetadata struct {
	Version       uint32    `json:"version"`
	NodeCount     int       `json:"node_count"`
	Dimension     int       `json:"dimension"`
	MaxLevel      int       `json:"max_level"`
	CreatedAt     time.Time `json:"created_at"`
	ChecksumCRC32 uint32    `json:"checksum_crc32"`
	FileSize      int64     `json:"file_size"`
}

// File layout:
//   header (magic, version, timestamp, crc32)
//   config (M, EfConstruction, EfSearch, dimension, metric, random seed)
//   nodes  (count, then per-slot: marker, id, vector, level, tombstone)
//   links  (count of nodes-with-links, then per node: slot, levels, edges)
//   metadata (entry point slot presence + id)
