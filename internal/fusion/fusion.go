// Package fusion combines independently-ranked vector and BM25 result
// lists into a single ranking.
package fusion

import "sort"

// Method selects a fusion strategy.
type Method int

const (
	RRF Method = iota
	WeightedSum
	CombSum
	CombMNZ
)

const defaultRRFK = 60

// Ranked is one scored id from an upstream result list.
type Ranked struct {
	ID    uint64
	Score float64
}

// Fused is a final, re-ranked output row.
type Fused struct {
	ID    uint64
	Score float64
}

// Options configures fusion: RRFK is used by RRF, the two weights by
// weighted-sum fusion; the other methods ignore it.
type Options struct {
	RRFK        int // k_rrf, default 60
	VectorWeight float64
	BM25Weight   float64
}

func (o Options) withDefaults() Options {
	if o.RRFK == 0 {
		o.RRFK = defaultRRFK
	}
	if o.VectorWeight == 0 && o.BM25Weight == 0 {
		o.VectorWeight, o.BM25Weight = 0.5, 0.5
	}
	return o
}

// Fuse combines vector and bm25 ranked lists using method, returning the
// top k fused results sorted by descending score with id-ascending
// tiebreaks.
func Fuse(method Method, vector, bm25 []Ranked, k int, opts Options) []Fused {
	o := opts.withDefaults()

	var scores map[uint64]float64
	switch method {
	case RRF:
		scores = fuseRRF(vector, bm25, o.RRFK)
	case WeightedSum:
		scores = fuseWeightedSum(vector, bm25, o.VectorWeight, o.BM25Weight)
	case CombSum:
		scores = fuseComb(vector, bm25, false)
	case CombMNZ:
		scores = fuseComb(vector, bm25, true)
	default:
		scores = fuseRRF(vector, bm25, o.RRFK)
	}

	out := make([]Fused, 0, len(scores))
	for id, score := range scores {
		out = append(out, Fused{ID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

func ranks(list []Ranked) map[uint64]int {
	r := make(map[uint64]int, len(list))
	for i, item := range list {
		r[item.ID] = i + 1 // ranks are 1-based
	}
	return r
}

func fuseRRF(vector, bm25 []Ranked, kRRF int) map[uint64]float64 {
	scores := make(map[uint64]float64)
	for id, rank := range ranks(vector) {
		scores[id] += 1.0 / float64(kRRF+rank)
	}
	for id, rank := range ranks(bm25) {
		scores[id] += 1.0 / float64(kRRF+rank)
	}
	return scores
}

func fuseWeightedSum(vector, bm25 []Ranked, wVector, wBM25 float64) map[uint64]float64 {
	vNorm := minMaxNormalize(vector)
	bNorm := minMaxNormalize(bm25)

	scores := make(map[uint64]float64)
	for id, v := range vNorm {
		scores[id] += wVector * v
	}
	for id, b := range bNorm {
		scores[id] += wBM25 * b
	}
	return scores
}

func fuseComb(vector, bm25 []Ranked, mnz bool) map[uint64]float64 {
	vNorm := minMaxNormalize(vector)
	bNorm := minMaxNormalize(bm25)

	scores := make(map[uint64]float64)
	counts := make(map[uint64]int)
	for id, v := range vNorm {
		scores[id] += v
		counts[id]++
	}
	for id, b := range bNorm {
		scores[id] += b
		counts[id]++
	}
	if mnz {
		for id, count := range counts {
			scores[id] *= float64(count)
		}
	}
	return scores
}

// minMaxNormalize rescales scores in list to [0,1]. A list with a single
// distinct score maps every member to 1.0 rather than dividing by zero.
func minMaxNormalize(list []Ranked) map[uint64]float64 {
	out := make(map[uint64]float64, len(list))
	if len(list) == 0 {
		return out
	}

	min, max := list[0].Score, list[0].Score
	for _, item := range list {
		if item.Score < min {
			min = item.Score
		}
		if item.Score > max {
			max = item.Score
		}
	}

	spread := max - min
	for _, item := range list {
		if spread == 0 {
			out[item.ID] = 1.0
			continue
		}
		out[item.ID] = (item.Score - min) / spread
	}
	return out
}
