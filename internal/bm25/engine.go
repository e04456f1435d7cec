package bm25

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/veloxdb/veloxdb/internal/errs"
)

const (
	defaultK1 = 1.2
	defaultB  = 0.75
)

// Config tunes the scoring function and tokenization pipeline.
type Config struct {
	K1       float64
	B        float64
	Stemming bool
	Logger   *slog.Logger
}

func (c *Config) withDefaults() *Config {
	cfg := Config{K1: defaultK1, B: defaultB}
	if c != nil {
		cfg = *c
	}
	if cfg.K1 == 0 {
		cfg.K1 = defaultK1
	}
	if cfg.B == 0 {
		cfg.B = defaultB
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &cfg
}

// Result is a scored document returned from Search.
type Result struct {
	ID    uint64
	Score float64
}

// Engine is an incremental BM25 index over uint64 document ids. Adds append
// to postings and bump the live document count; removes tombstone the
// document length to zero, decrement each of its terms' document
// frequency, and drop the document's own entries from those terms'
// postings.
type Engine struct {
	mu sync.RWMutex

	k1 float64
	b  float64
	opts TokenizeOptions
	log  *slog.Logger

	postings    map[string]map[uint64]int // term -> docID -> term frequency
	docFreq     map[string]int            // term -> number of live docs containing it
	docTerms    map[uint64][]string       // docID -> its distinct terms, for removal
	docLengths  map[uint64]int            // docID -> token count; 0 means tombstoned
	liveDocs    int
	totalLength int64
}

// New creates an empty BM25 engine.
func New(cfg *Config) *Engine {
	c := cfg.withDefaults()
	return &Engine{
		k1:         c.K1,
		b:          c.B,
		opts:       TokenizeOptions{Stemming: c.Stemming},
		log:        c.Logger,
		postings:   make(map[string]map[uint64]int),
		docFreq:    make(map[string]int),
		docTerms:   make(map[uint64][]string),
		docLengths: make(map[uint64]int),
	}
}

// AddDocument indexes text under id. Re-adding an id that is already live
// is rejected — callers needing to replace content should Remove then Add,
// matching how the index tracks per-term document frequency deltas.
func (e *Engine) AddDocument(ctx context.Context, id uint64, text string) error {
	terms := Tokenize(text, e.opts)

	e.mu.Lock()
	defer e.mu.Unlock()

	if length, exists := e.docLengths[id]; exists && length > 0 {
		return errs.ConflictErrorf("bm25 document %d already indexed", id)
	}

	freqs := make(map[string]int, len(terms))
	for _, t := range terms {
		freqs[t]++
	}

	distinct := make([]string, 0, len(freqs))
	for term, freq := range freqs {
		if e.postings[term] == nil {
			e.postings[term] = make(map[uint64]int)
		}
		e.postings[term][id] = freq
		e.docFreq[term]++
		distinct = append(distinct, term)
	}

	e.docTerms[id] = distinct
	e.docLengths[id] = len(terms)
	e.liveDocs++
	e.totalLength += int64(len(terms))

	e.log.Debug("bm25_document_indexed", slog.Uint64("id", id), slog.Int("terms", len(terms)))
	return nil
}

// RemoveDocument tombstones id: its length drops to zero, its terms'
// document frequencies are decremented, and its postings entries are
// removed, so a later re-add under the same id starts from a clean slate.
func (e *Engine) RemoveDocument(ctx context.Context, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	length, exists := e.docLengths[id]
	if !exists || length == 0 {
		return errs.NotFoundf("bm25 document %d not found", id)
	}

	for _, term := range e.docTerms[id] {
		e.docFreq[term]--
		if e.docFreq[term] <= 0 {
			delete(e.docFreq, term)
		}
		delete(e.postings[term], id)
		if len(e.postings[term]) == 0 {
			delete(e.postings, term)
		}
	}
	delete(e.docTerms, id)
	e.docLengths[id] = 0
	e.liveDocs--
	e.totalLength -= int64(length)

	e.log.Debug("bm25_document_removed", slog.Uint64("id", id))
	return nil
}

// UpdateDocument replaces the indexed text for id, which must already be
// live.
func (e *Engine) UpdateDocument(ctx context.Context, id uint64, text string) error {
	e.mu.Lock()
	length, exists := e.docLengths[id]
	e.mu.Unlock()
	if !exists || length == 0 {
		return errs.NotFoundf("bm25 document %d not found", id)
	}
	if err := e.RemoveDocument(ctx, id); err != nil {
		return err
	}
	return e.AddDocument(ctx, id, text)
}

// Search tokenizes query with the same pipeline used for indexing, unions
// the posting lists of its terms, and returns the top-k documents by BM25
// score.
func (e *Engine) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if k <= 0 {
		return nil, errs.InvalidInputf("bm25 search k must be positive, got %d", k)
	}
	terms := Tokenize(query, e.opts)

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.liveDocs == 0 || len(terms) == 0 {
		return nil, nil
	}

	avgdl := float64(e.totalLength) / float64(e.liveDocs)
	scores := make(map[uint64]float64)

	for _, term := range terms {
		n := e.docFreq[term]
		if n == 0 {
			continue
		}
		idf := math.Log((float64(e.liveDocs)-float64(n)+0.5)/(float64(n)+0.5) + 1)

		for docID, tf := range e.postings[term] {
			dl := e.docLengths[docID]
			if dl == 0 {
				continue // tombstoned
			}
			numerator := float64(tf) * (e.k1 + 1)
			denominator := float64(tf) + e.k1*(1-e.b+e.b*float64(dl)/avgdl)
			scores[docID] += idf * (numerator / denominator)
		}
	}

	results := make([]Result, 0, len(scores))
	for id, score := range scores {
		results = append(results, Result{ID: id, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Size returns the number of live (non-tombstoned) documents.
func (e *Engine) Size() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.liveDocs
}
