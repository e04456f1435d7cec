package fusion

import "testing"

func TestFuseRRF(t *testing.T) {
	vector := []Ranked{{ID: 1, Score: 0.9}, {ID: 2, Score: 0.8}}
	bm25 := []Ranked{{ID: 2, Score: 5}, {ID: 3, Score: 4}}

	out := Fuse(RRF, vector, bm25, 10, Options{})
	if len(out) != 3 {
		t.Fatalf("expected 3 fused results, got %d", len(out))
	}
	if out[0].ID != 2 {
		t.Fatalf("expected id 2 (present in both lists) to rank first, got %+v", out)
	}
}

func TestFuseWeightedSum(t *testing.T) {
	vector := []Ranked{{ID: 1, Score: 1.0}, {ID: 2, Score: 0.0}}
	bm25 := []Ranked{{ID: 1, Score: 0.0}, {ID: 2, Score: 1.0}}

	out := Fuse(WeightedSum, vector, bm25, 10, Options{VectorWeight: 1.0, BM25Weight: 0.0})
	if out[0].ID != 1 {
		t.Fatalf("expected vector-only weighting to favor id 1, got %+v", out)
	}
}

func TestFuseCombMNZ(t *testing.T) {
	vector := []Ranked{{ID: 1, Score: 1.0}, {ID: 2, Score: 1.0}}
	bm25 := []Ranked{{ID: 1, Score: 1.0}}

	out := Fuse(CombMNZ, vector, bm25, 10, Options{})
	if out[0].ID != 1 {
		t.Fatalf("expected id appearing in both lists to rank first under MNZ, got %+v", out)
	}
}

func TestFuseTruncatesToK(t *testing.T) {
	vector := []Ranked{{ID: 1, Score: 3}, {ID: 2, Score: 2}, {ID: 3, Score: 1}}
	out := Fuse(RRF, vector, nil, 2, Options{})
	if len(out) != 2 {
		t.Fatalf("expected truncation to k=2, got %d", len(out))
	}
}

func TestFuseTieBreakByIDAscending(t *testing.T) {
	vector := []Ranked{{ID: 5, Score: 1}, {ID: 2, Score: 1}}
	out := Fuse(WeightedSum, vector, nil, 10, Options{VectorWeight: 1, BM25Weight: 0})
	if out[0].ID != 2 {
		t.Fatalf("expected tie broken by ascending id, got %+v", out)
	}
}
