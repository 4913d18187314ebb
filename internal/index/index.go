// Package index is an in-memory inverted index over the vendor/product
// pairs known to the vulnerability catalog. It is built once before
// analysis starts and is then safe for any number of concurrent searches.
package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/StinkyLord/cpe-identifier/internal/catalog"
)

// Indexed fields.
const (
	FieldVendor  = "vendor"
	FieldProduct = "product"
)

// DefaultMaxResults is the number of hits requested per search.
const DefaultMaxResults = 25

// ErrClosed is returned by operations on a closed index.
var ErrClosed = errors.New("index is closed")

// Source supplies the vendor/product pairs to index.
type Source interface {
	VendorProducts(ctx context.Context) ([]catalog.VendorProduct, error)
}

// Document is a stored vendor/product pair.
type Document struct {
	Vendor  string
	Product string
}

// Hit is a ranked search result.
type Hit struct {
	DocID   int
	Vendor  string
	Product string
	Score   float64
}

// posting records one document's occurrence count for a term.
type posting struct {
	doc  int
	freq int
}

type fieldIndex struct {
	postings map[string][]posting
	lengths  []int // tokens per document
}

// Index is an immutable inverted index. Searches never lock.
type Index struct {
	docs   []Document
	fields map[string]*fieldIndex
	closed atomic.Bool
}

// Open reads every vendor/product pair from src and builds the index.
func Open(ctx context.Context, src Source, logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()
	pairs, err := src.VendorProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading vendor/product pairs: %w", err)
	}
	idx := Build(pairs)
	logger.Info("created CPE index",
		zap.Int("documents", len(idx.docs)),
		zap.Duration("elapsed", time.Since(start)))
	return idx, nil
}

// Build indexes pairs directly. Duplicate pairs are stored once.
func Build(pairs []catalog.VendorProduct) *Index {
	idx := &Index{fields: map[string]*fieldIndex{
		FieldVendor:  {postings: map[string][]posting{}},
		FieldProduct: {postings: map[string][]posting{}},
	}}
	seen := map[catalog.VendorProduct]bool{}
	for _, vp := range pairs {
		if seen[vp] {
			continue
		}
		seen[vp] = true
		doc := len(idx.docs)
		idx.docs = append(idx.docs, Document{Vendor: vp.Vendor, Product: vp.Product})
		idx.fields[FieldVendor].add(doc, vp.Vendor)
		idx.fields[FieldProduct].add(doc, vp.Product)
	}
	return idx
}

func (f *fieldIndex) add(doc int, text string) {
	tokens := Analyze(text)
	freq := map[string]int{}
	for _, tok := range tokens {
		freq[tok]++
	}
	for tok, n := range freq {
		f.postings[tok] = append(f.postings[tok], posting{doc: doc, freq: n})
	}
	f.lengths = append(f.lengths, len(tokens))
}

// Len returns the number of indexed documents.
func (idx *Index) Len() int { return len(idx.docs) }

// Close releases the index. Later searches fail with ErrClosed.
func (idx *Index) Close() error {
	idx.closed.Store(true)
	return nil
}

// ParseQuery parses query text; see the package-level ParseQuery.
func (idx *Index) ParseQuery(text string) (*Query, error) {
	if idx.closed.Load() {
		return nil, ErrClosed
	}
	return ParseQuery(text)
}

// Document returns the stored fields of doc.
func (idx *Index) Document(doc int) (Document, error) {
	if idx.closed.Load() {
		return Document{}, ErrClosed
	}
	if doc < 0 || doc >= len(idx.docs) {
		return Document{}, fmt.Errorf("document %d out of range [0,%d)", doc, len(idx.docs))
	}
	return idx.docs[doc], nil
}

// Search scores every document against q and returns at most maxResults
// hits, best first. Ties are broken by document id.
func (idx *Index) Search(q *Query, maxResults int) ([]Hit, error) {
	if idx.closed.Load() {
		return nil, ErrClosed
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	scores := map[int]float64{}
	for _, group := range q.groups {
		for doc, s := range idx.scoreGroup(group) {
			scores[doc] += s
		}
	}
	hits := make([]Hit, 0, len(scores))
	for doc, s := range scores {
		d := idx.docs[doc]
		hits = append(hits, Hit{DocID: doc, Vendor: d.Vendor, Product: d.Product, Score: s})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].DocID < hits[j].DocID
	})
	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}
	return hits, nil
}

// scoreGroup returns the documents matching every required clause of the
// conjunction and none of its prohibited clauses.
func (idx *Index) scoreGroup(group []clause) map[int]float64 {
	var result map[int]float64
	var prohibited []map[int]float64
	for _, c := range group {
		s := idx.scoreClause(c)
		if c.prohibited {
			prohibited = append(prohibited, s)
			continue
		}
		if result == nil {
			result = s
			continue
		}
		for doc := range result {
			if cs, ok := s[doc]; ok {
				result[doc] += cs
			} else {
				delete(result, doc)
			}
		}
	}
	for _, p := range prohibited {
		for doc := range p {
			delete(result, doc)
		}
	}
	return result
}

// scoreClause sums, per document, a tf-idf score over the clause's terms.
// Boosts multiply the contribution of their term.
func (idx *Index) scoreClause(c clause) map[int]float64 {
	scores := map[int]float64{}
	f, ok := idx.fields[c.field]
	if !ok {
		return scores
	}
	n := float64(len(idx.docs))
	for _, t := range c.terms {
		if len(t.tokens) == 0 {
			continue
		}
		termScores := map[int]float64{}
		for i, tok := range t.tokens {
			postings := f.postings[tok]
			idf := 1 + math.Log(n/float64(len(postings)+1))
			matched := map[int]float64{}
			for _, p := range postings {
				norm := 1 / math.Sqrt(float64(f.lengths[p.doc]))
				matched[p.doc] = t.boost * math.Sqrt(float64(p.freq)) * idf * idf * norm
			}
			if t.phrase && i > 0 {
				// Every token of a phrase must be present.
				for doc := range termScores {
					if s, ok := matched[doc]; ok {
						termScores[doc] += s
					} else {
						delete(termScores, doc)
					}
				}
				continue
			}
			for doc, s := range matched {
				termScores[doc] += s
			}
		}
		for doc, s := range termScores {
			scores[doc] += s
		}
	}
	return scores
}
