package veloxdb

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/veloxdb/veloxdb/internal/fusion"
	"github.com/veloxdb/veloxdb/internal/store"
)

// stubEncoder turns text into a deterministic vector by hashing bytes into
// fixed dimensions, so add_text/query_text have something real to encode
// against without pulling in an actual embedding model.
type stubEncoder struct{ dim int }

func (e stubEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	for i, b := range []byte(text) {
		vec[i%e.dim] += float32(b)
	}
	return vec, nil
}

func newTestDB(t *testing.T, opts ...Option) *Database {
	t.Helper()
	dir := t.TempDir()
	base := append([]Option{
		WithStoragePath(dir),
		WithCachePath(":memory:"),
		WithDimension(4),
		WithMetrics(false),
	}, opts...)
	db, err := New(base...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAddVectorAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	id, err := db.AddVector(ctx, []float32{1, 0, 0, 0}, &Metadata{Date: "2026-01-01", Asset: "XAU"})
	if err != nil {
		t.Fatalf("AddVector: %v", err)
	}

	vec, err := db.GetVector(ctx, id)
	if err != nil {
		t.Fatalf("GetVector: %v", err)
	}
	if len(vec) != 4 || vec[0] != 1 {
		t.Fatalf("unexpected vector: %v", vec)
	}

	meta, err := db.GetMetadata(ctx, id)
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if meta.Asset != "XAU" {
		t.Fatalf("expected asset XAU, got %q", meta.Asset)
	}

	if db.Size() != 1 {
		t.Fatalf("expected size 1, got %d", db.Size())
	}
}

func TestAddVectorDimensionMismatch(t *testing.T) {
	db := newTestDB(t)
	_, err := db.AddVector(context.Background(), []float32{1, 2}, nil)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestUpdateMetadataKeepsSecondaryIndexesConsistent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	id, err := db.AddVector(ctx, []float32{1, 0, 0, 0}, &Metadata{Date: "2026-01-01", Asset: "XAU"})
	if err != nil {
		t.Fatalf("AddVector: %v", err)
	}

	if err := db.UpdateMetadata(ctx, id, &Metadata{Date: "2026-02-01", Asset: "XAG"}); err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}

	oldHits, err := db.FindByAsset(ctx, "XAU")
	if err != nil {
		t.Fatalf("FindByAsset(old): %v", err)
	}
	if len(oldHits) != 0 {
		t.Fatalf("expected old asset tag to be gone, got %d hits", len(oldHits))
	}

	newHits, err := db.FindByAsset(ctx, "XAG")
	if err != nil {
		t.Fatalf("FindByAsset(new): %v", err)
	}
	if len(newHits) != 1 {
		t.Fatalf("expected 1 hit for new asset, got %d", len(newHits))
	}
}

func TestRemoveTombstonesAcrossStores(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	id, err := db.AddVector(ctx, []float32{1, 0, 0, 0}, &Metadata{Asset: "XAU"})
	if err != nil {
		t.Fatalf("AddVector: %v", err)
	}
	if err := db.Remove(ctx, id); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, err := db.GetVector(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for removed vector, got %v", err)
	}
	if _, err := db.GetMetadata(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for removed metadata, got %v", err)
	}
	if db.Size() != 0 {
		t.Fatalf("expected size 0 after remove, got %d", db.Size())
	}
}

func TestQueryVectorWithTypeFilter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	journalType := store.DocumentTypeJournal
	chartType := store.DocumentTypeChart

	if _, err := db.AddVector(ctx, []float32{1, 0, 0, 0}, &Metadata{Type: journalType}); err != nil {
		t.Fatalf("AddVector: %v", err)
	}
	if _, err := db.AddVector(ctx, []float32{0.9, 0.1, 0, 0}, &Metadata{Type: chartType}); err != nil {
		t.Fatalf("AddVector: %v", err)
	}

	results, err := db.QueryVector(ctx, []float32{1, 0, 0, 0}, &QueryOptions{
		K:          10,
		TypeFilter: &chartType,
	})
	if err != nil {
		t.Fatalf("QueryVector: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result after type filter, got %d", len(results))
	}
	if results[0].Metadata != nil {
		t.Fatalf("did not request metadata, but got some")
	}
}

func TestQueryVectorIncludeMetadata(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	id, err := db.AddVector(ctx, []float32{1, 0, 0, 0}, &Metadata{Asset: "XAU"})
	if err != nil {
		t.Fatalf("AddVector: %v", err)
	}

	results, err := db.QueryVector(ctx, []float32{1, 0, 0, 0}, &QueryOptions{K: 1, IncludeMetadata: true})
	if err != nil {
		t.Fatalf("QueryVector: %v", err)
	}
	if len(results) != 1 || results[0].ID != id {
		t.Fatalf("unexpected results: %+v", results)
	}
	if results[0].Metadata == nil || results[0].Metadata.Asset != "XAU" {
		t.Fatalf("expected metadata to be populated, got %+v", results[0].Metadata)
	}
}

func TestAddTextRequiresEncoder(t *testing.T) {
	db := newTestDB(t)
	_, err := db.AddText(context.Background(), "hello", nil)
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestAddTextAndQueryText(t *testing.T) {
	db := newTestDB(t, WithEncoder(stubEncoder{dim: 4}))
	ctx := context.Background()

	id1, err := db.AddText(ctx, "gold rallies on dovish fed signal", &Metadata{Asset: "XAU"})
	if err != nil {
		t.Fatalf("AddText: %v", err)
	}
	if _, err := db.AddText(ctx, "silver lags industrial demand slump", &Metadata{Asset: "XAG"}); err != nil {
		t.Fatalf("AddText: %v", err)
	}

	results, err := db.QueryText(ctx, "gold rallies on dovish fed signal", &QueryOptions{
		K:      5,
		Fusion: fusion.RRF,
	})
	if err != nil {
		t.Fatalf("QueryText: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one hybrid result")
	}
	if results[0].ID != id1 {
		t.Fatalf("expected best hybrid match to be id %d, got %d", id1, results[0].ID)
	}
}

// fixedVectorEncoder maps specific input strings to specific vectors, so a
// test can control exactly how far each document's vector sits from the
// query vector regardless of BM25 relevance.
type fixedVectorEncoder map[string][]float32

func (e fixedVectorEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	return e[text], nil
}

func TestQueryTextWeightedSumFavorsCloserVector(t *testing.T) {
	enc := fixedVectorEncoder{
		"query": {0, 1, 0, 0},
		"near":  {0, 1, 0, 0},
		"far":   {10, 10, 10, 10},
	}
	db := newTestDB(t, WithEncoder(enc))
	ctx := context.Background()

	idNear, err := db.AddText(ctx, "near", &Metadata{Asset: "A"})
	if err != nil {
		t.Fatalf("AddText(near): %v", err)
	}
	if _, err := db.AddText(ctx, "far", &Metadata{Asset: "B"}); err != nil {
		t.Fatalf("AddText(far): %v", err)
	}

	results, err := db.QueryText(ctx, "query", &QueryOptions{
		K:             2,
		Fusion:        fusion.WeightedSum,
		VectorWeight:  1.0,
		LexicalWeight: 0.0,
	})
	if err != nil {
		t.Fatalf("QueryText: %v", err)
	}
	if len(results) == 0 || results[0].ID != idNear {
		t.Fatalf("expected the closer vector (id %d) to rank first under pure-vector weighted-sum fusion, got %+v", idNear, results)
	}
}

func TestQueryTextRequiresEncoder(t *testing.T) {
	db := newTestDB(t)
	_, err := db.QueryText(context.Background(), "hello", nil)
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestFindByDateTypeAsset(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.AddVector(ctx, []float32{1, 0, 0, 0}, &Metadata{
		Date: "2026-03-01", Type: store.DocumentTypeWeeklyRundown, Asset: "XAU",
	}); err != nil {
		t.Fatalf("AddVector: %v", err)
	}

	if hits, err := db.FindByDate(ctx, "2026-03-01"); err != nil || len(hits) != 1 {
		t.Fatalf("FindByDate: hits=%d err=%v", len(hits), err)
	}
	if hits, err := db.FindByType(ctx, store.DocumentTypeWeeklyRundown); err != nil || len(hits) != 1 {
		t.Fatalf("FindByType: hits=%d err=%v", len(hits), err)
	}
	if hits, err := db.FindByAsset(ctx, "XAU"); err != nil || len(hits) != 1 {
		t.Fatalf("FindByAsset: hits=%d err=%v", len(hits), err)
	}
}

func TestCloseIsIdempotentAndRejectsFurtherWrites(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}

	if _, err := db.AddVector(ctx, []float32{1, 0, 0, 0}, nil); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady after close, got %v", err)
	}
}

func TestReopenRebuildsDerivedState(t *testing.T) {
	dir := t.TempDir()

	db1, err := New(WithStoragePath(dir), WithCachePath(":memory:"), WithDimension(4), WithMetrics(false), WithEncoder(stubEncoder{dim: 4}))
	if err != nil {
		t.Fatalf("New (bootstrap): %v", err)
	}
	id, err := db1.AddText(context.Background(), "gold breaks out above resistance", &Metadata{
		Date: "2026-04-01", Type: store.DocumentTypeJournal, Asset: "XAU",
	})
	if err != nil {
		t.Fatalf("AddText: %v", err)
	}
	if err := db1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := New(WithStoragePath(dir), WithCachePath(":memory:"), WithDimension(4), WithMetrics(false), WithEncoder(stubEncoder{dim: 4}))
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	defer db2.Close()

	if db2.Size() != 1 {
		t.Fatalf("expected 1 live vector after reopen, got %d", db2.Size())
	}

	meta, err := db2.GetMetadata(context.Background(), id)
	if err != nil {
		t.Fatalf("GetMetadata after reopen: %v", err)
	}
	if meta.Asset != "XAU" {
		t.Fatalf("expected asset XAU after reopen, got %q", meta.Asset)
	}

	hits, err := db2.FindByAsset(context.Background(), "XAU")
	if err != nil || len(hits) != 1 {
		t.Fatalf("expected secondary index to survive reopen: hits=%d err=%v", len(hits), err)
	}

	results, err := db2.QueryText(context.Background(), "gold breaks out above resistance", &QueryOptions{K: 3})
	if err != nil {
		t.Fatalf("QueryText after reopen: %v", err)
	}
	if len(results) == 0 || results[0].ID != id {
		t.Fatalf("expected BM25 state to survive reopen via recovered text, got %+v", results)
	}
}

func TestCompactReclaimsTombstones(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	id, err := db.AddVector(ctx, []float32{1, 0, 0, 0}, nil)
	if err != nil {
		t.Fatalf("AddVector: %v", err)
	}
	if _, err := db.AddVector(ctx, []float32{0, 1, 0, 0}, nil); err != nil {
		t.Fatalf("AddVector: %v", err)
	}
	if err := db.Remove(ctx, id); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if err := db.Compact(ctx); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if db.Size() != 1 {
		t.Fatalf("expected size 1 after compact, got %d", db.Size())
	}
}

func TestCachePutGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.CachePut(ctx, "rendered:123", "cached answer"); err != nil {
		t.Fatalf("CachePut: %v", err)
	}
	val, err := db.CacheGet(ctx, "rendered:123")
	if err != nil {
		t.Fatalf("CacheGet: %v", err)
	}
	if val != "cached answer" {
		t.Fatalf("expected cached value, got %q", val)
	}
}

func TestHealthReportsUnhealthyAfterClose(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	status, err := db.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if status.Overall.String() != "healthy" {
		t.Fatalf("expected healthy status, got %v", status.Overall)
	}

	db.Close()
	status, err = db.Health(ctx)
	if err != nil {
		t.Fatalf("Health after close: %v", err)
	}
	if status.Overall.String() != "unhealthy" {
		t.Fatalf("expected unhealthy status after close, got %v", status.Overall)
	}
}

func TestStatsReportsMemoryUsage(t *testing.T) {
	db := newTestDB(t, WithMemoryLimit(64<<20))
	ctx := context.Background()

	stats := db.Stats(ctx)
	if stats.MemoryLimitBytes != 64<<20 {
		t.Fatalf("expected MemoryLimitBytes %d, got %d", int64(64<<20), stats.MemoryLimitBytes)
	}
	if stats.MemoryUsageBytes <= 0 {
		t.Fatalf("expected positive MemoryUsageBytes, got %d", stats.MemoryUsageBytes)
	}
	if stats.MemoryAvailable != stats.MemoryLimitBytes-stats.MemoryUsageBytes {
		t.Fatalf("MemoryAvailable %d inconsistent with limit %d and usage %d",
			stats.MemoryAvailable, stats.MemoryLimitBytes, stats.MemoryUsageBytes)
	}

	if _, ok := db.MemoryTrend(); ok {
		t.Fatalf("expected MemoryTrend to report not-ok after a single snapshot")
	}
	db.Stats(ctx)
	if _, ok := db.MemoryTrend(); !ok {
		t.Fatalf("expected MemoryTrend to report ok after two snapshots")
	}
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
