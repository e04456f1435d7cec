package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/veloxdb/veloxdb/internal/errs"
)

func TestOpenCreatesDirectory(t *testing.T) {
	base := filepath.Join(t.TempDir(), "nested", "db")
	l, err := Open(base)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if l.Exists() {
		t.Fatal("expected fresh directory to report Exists() == false")
	}
}

func TestSaveAndLoadConfigRoundTrip(t *testing.T) {
	l, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	cfg := &Config{
		Dimension:      128,
		Metric:         1,
		IndexType:      0,
		M:              16,
		EfConstruction: 200,
		EfSearch:       50,
		ML:             1.4426950408889634,
		BM25K1:         1.2,
		BM25B:          0.75,
	}
	if err := l.SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	if !l.Exists() {
		t.Fatal("expected Exists() == true after SaveConfig")
	}

	got, err := l.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.Dimension != 128 || got.M != 16 || got.Version != configVersion {
		t.Fatalf("unexpected config round-trip: %+v", got)
	}
}

func TestLoadConfigMissingReturnsNotFound(t *testing.T) {
	l, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	_, err = l.LoadConfig()
	if err == nil {
		t.Fatal("expected error loading config from fresh directory")
	}
	if !errors.Is(err, errs.KindNotFound) {
		t.Fatalf("expected NotFound kind, got %v", err)
	}
}

func TestFilePathsAreDistinctAndWithinBase(t *testing.T) {
	base := t.TempDir()
	l, err := Open(base)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	paths := map[string]string{
		"config":   l.ConfigPath(),
		"vectors":  l.VectorsPath(),
		"metadata": l.MetadataPath(),
		"heap":     l.MetaHeapPath(),
		"wal":      l.WALPath(),
	}
	seen := make(map[string]string, len(paths))
	for name, p := range paths {
		if filepath.Dir(p) != base {
			t.Fatalf("%s path %s not within base %s", name, p, base)
		}
		if other, exists := seen[p]; exists {
			t.Fatalf("%s and %s resolved to the same path %s", name, other, p)
		}
		seen[p] = name
	}
}
