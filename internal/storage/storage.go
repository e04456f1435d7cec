// Package storage owns the on-disk directory layout for a veloxdb database:
// a config file plus the fixed set of store/index file paths beneath one
// base directory. Unlike the teacher's per-collection LSM engine, there is
// no per-collection subdirectory — a veloxdb database is one directory, and
// collections are a metadata tag on rows, not a physical partition.
package storage

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/veloxdb/veloxdb/internal/errs"
)

const (
	configFileName   = "config.json"
	vectorsFileName  = "vectors.bin"
	metaFileName     = "metadata.bin"
	metaHeapFileName = "metadata.heap"
	walFileName      = "wal.log"

	configVersion = 1
)

// Config is the persisted, on-disk form of a database's structural settings
// — the values that can't change across a reopen without invalidating the
// files already on disk.
type Config struct {
	Dimension      int     `json:"dimension"`
	Metric         int     `json:"metric"`
	IndexType      int     `json:"index_type"`
	M              int     `json:"m"`
	EfConstruction int     `json:"ef_construction"`
	EfSearch       int     `json:"ef_search"`
	ML             float64 `json:"ml"`
	BM25K1         float64 `json:"bm25_k1"`
	BM25B          float64 `json:"bm25_b"`
	Version        int     `json:"version"`
}

// Layout resolves the fixed set of file paths beneath a database's base
// directory and owns reading/writing its config file.
type Layout struct {
	basePath string
}

// Open ensures the base directory exists and returns a Layout over it. It
// does not read or write config.json — callers that need the persisted
// config call LoadConfig/SaveConfig explicitly, since opening a brand new
// directory and reopening an existing one require different config
// handling upstream.
func Open(basePath string) (*Layout, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, errs.Wrap(errs.IoError, "failed to create storage directory", err)
	}
	return &Layout{basePath: basePath}, nil
}

func (l *Layout) BasePath() string      { return l.basePath }
func (l *Layout) ConfigPath() string    { return filepath.Join(l.basePath, configFileName) }
func (l *Layout) VectorsPath() string   { return filepath.Join(l.basePath, vectorsFileName) }
func (l *Layout) MetadataPath() string  { return filepath.Join(l.basePath, metaFileName) }
func (l *Layout) MetaHeapPath() string  { return filepath.Join(l.basePath, metaHeapFileName) }
func (l *Layout) WALPath() string       { return filepath.Join(l.basePath, walFileName) }

// Exists reports whether a database already exists at this layout's base
// path (i.e. config.json was written by a prior Open+SaveConfig), so
// callers can distinguish "bootstrap a new database" from "recover an
// existing one" without racing a bare os.Stat against MkdirAll.
func (l *Layout) Exists() bool {
	_, err := os.Stat(l.ConfigPath())
	return err == nil
}

// SaveConfig atomically writes cfg to config.json: it writes to a temp
// file in the same directory and renames over the destination, so a crash
// mid-write never leaves a torn config file behind.
func (l *Layout) SaveConfig(cfg *Config) error {
	cfg.Version = configVersion

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errs.Wrap(errs.Internal, "failed to marshal database config", err)
	}

	tmpPath := l.ConfigPath() + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return errs.Wrap(errs.IoError, "failed to write database config", err)
	}
	if err := os.Rename(tmpPath, l.ConfigPath()); err != nil {
		return errs.Wrap(errs.IoError, "failed to finalize database config", err)
	}

	return nil
}

// LoadConfig reads config.json. Returns errs.NotFound if the database has
// not been bootstrapped yet.
func (l *Layout) LoadConfig() (*Config, error) {
	data, err := os.ReadFile(l.ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.NotFoundf("database config not found at %s", l.ConfigPath())
		}
		return nil, errs.Wrap(errs.IoError, "failed to read database config", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errs.Wrap(errs.ParseError, "failed to parse database config", err)
	}

	return &cfg, nil
}
