package store

import (
	"path/filepath"
	"testing"
)

func newTestMetadataStore(t *testing.T) *MetadataStore {
	t.Helper()
	dir := t.TempDir()
	ms, err := OpenMetadataStore(filepath.Join(dir, "meta.records"), filepath.Join(dir, "meta.heap"))
	if err != nil {
		t.Fatalf("OpenMetadataStore: %v", err)
	}
	t.Cleanup(func() { ms.Close() })
	return ms
}

func floatPtr(v float64) *float64 { return &v }

func TestMetadataStoreAppendAndGet(t *testing.T) {
	ms := newTestMetadataStore(t)

	gold := floatPtr(1950.25)
	meta := &Metadata{
		Date:       "2026-07-30",
		Type:       DocumentTypeJournal,
		SourceFile: "journal/2026-07-30.md",
		Asset:      "XAUUSD",
		Bias:       "bullish",
		GoldPrice:  gold,
		Custom:     map[string]string{"session": "london"},
	}

	id, err := ms.Append(meta)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := ms.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Date != meta.Date || got.Type != meta.Type || got.SourceFile != meta.SourceFile {
		t.Fatalf("unexpected metadata: %+v", got)
	}
	if got.GoldPrice == nil || *got.GoldPrice != 1950.25 {
		t.Fatalf("expected gold price preserved, got %+v", got.GoldPrice)
	}
	if got.SilverPrice != nil {
		t.Fatalf("expected silver price absent, got %v", *got.SilverPrice)
	}
	if got.Custom["session"] != "london" {
		t.Fatalf("expected custom field preserved, got %+v", got.Custom)
	}
}

func TestMetadataStoreUpdate(t *testing.T) {
	ms := newTestMetadataStore(t)

	id, err := ms.Append(&Metadata{Date: "2026-01-01", Type: DocumentTypeChart, Asset: "XAUUSD"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	updated := &Metadata{Date: "2026-01-02", Type: DocumentTypePreMarket, Asset: "DXY"}
	if err := ms.Update(id, updated); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := ms.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Date != "2026-01-02" || got.Type != DocumentTypePreMarket || got.Asset != "DXY" {
		t.Fatalf("update did not apply: %+v", got)
	}
}

func TestMetadataStoreMarkDeletedAndCompact(t *testing.T) {
	ms := newTestMetadataStore(t)

	var ids []uint64
	for i := 0; i < 5; i++ {
		id, err := ms.Append(&Metadata{Asset: "XAUUSD"})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		ids = append(ids, id)
	}

	if err := ms.MarkDeleted(ids[0]); err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}
	if err := ms.MarkDeleted(ids[2]); err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}
	if ms.Size() != 3 {
		t.Fatalf("expected size 3, got %d", ms.Size())
	}

	translation, err := ms.Compact()
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if ms.Size() != 3 {
		t.Fatalf("expected size 3 after compact, got %d", ms.Size())
	}
	newID, ok := translation[ids[4]]
	if !ok {
		t.Fatal("expected translation entry for surviving id")
	}
	if _, err := ms.Get(newID); err != nil {
		t.Fatalf("Get surviving relocated id: %v", err)
	}
}

func TestMetadataStoreGetDeletedReturnsNotFound(t *testing.T) {
	ms := newTestMetadataStore(t)
	id, _ := ms.Append(&Metadata{Asset: "XAUUSD"})
	ms.MarkDeleted(id)
	if _, err := ms.Get(id); err == nil {
		t.Fatal("expected error fetching deleted metadata")
	}
}

func TestMetadataStoreGrowsBeyondInitialCapacity(t *testing.T) {
	ms := newTestMetadataStore(t)
	for i := 0; i < defaultInitialMetaRows+5; i++ {
		if _, err := ms.Append(&Metadata{Asset: "XAUUSD"}); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}
	if ms.Size() != defaultInitialMetaRows+5 {
		t.Fatalf("expected size %d, got %d", defaultInitialMetaRows+5, ms.Size())
	}
}
