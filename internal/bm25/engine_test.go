package bm25

import (
	"context"
	"testing"
)

func TestAddAndSearch(t *testing.T) {
	e := New(nil)
	ctx := context.Background()

	if err := e.AddDocument(ctx, 1, "gold prices rally above resistance"); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if err := e.AddDocument(ctx, 2, "silver ratio steady ahead of the fed decision"); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if err := e.AddDocument(ctx, 3, "dollar index weak against major pairs"); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	results, err := e.Search(ctx, "gold resistance", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 || results[0].ID != 1 {
		t.Fatalf("expected doc 1 top result, got %+v", results)
	}
}

func TestAddDuplicateRejected(t *testing.T) {
	e := New(nil)
	ctx := context.Background()
	e.AddDocument(ctx, 1, "gold rallies")
	if err := e.AddDocument(ctx, 1, "gold rallies again"); err == nil {
		t.Fatal("expected conflict error re-adding a live document id")
	}
}

func TestRemoveDocumentTombstones(t *testing.T) {
	e := New(nil)
	ctx := context.Background()
	e.AddDocument(ctx, 1, "gold rally continues")
	e.AddDocument(ctx, 2, "silver steady")

	if err := e.RemoveDocument(ctx, 1); err != nil {
		t.Fatalf("RemoveDocument: %v", err)
	}
	if e.Size() != 1 {
		t.Fatalf("expected size 1 after remove, got %d", e.Size())
	}

	results, err := e.Search(ctx, "gold rally", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if r.ID == 1 {
			t.Fatal("removed document leaked into search results")
		}
	}

	if err := e.RemoveDocument(ctx, 1); err == nil {
		t.Fatal("expected not-found removing an already-tombstoned document")
	}
}

func TestUpdateDocument(t *testing.T) {
	e := New(nil)
	ctx := context.Background()
	e.AddDocument(ctx, 1, "gold rally continues")

	if err := e.UpdateDocument(ctx, 1, "dollar weakens broadly"); err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}

	results, err := e.Search(ctx, "dollar weakens", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 || results[0].ID != 1 {
		t.Fatalf("expected updated content to be searchable, got %+v", results)
	}

	results, err = e.Search(ctx, "gold rally", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected stale content gone after update, got %+v", results)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	e := New(nil)
	results, err := e.Search(context.Background(), "gold", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results on empty index, got %+v", results)
	}
}

func TestStemmingConfig(t *testing.T) {
	e := New(&Config{Stemming: true})
	ctx := context.Background()
	e.AddDocument(ctx, 1, "rallying prices")

	results, err := e.Search(ctx, "rally price", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected stemmed query to match rallying/prices")
	}
}
