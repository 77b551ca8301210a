// Package search ranks documents of an inverted index against a query.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"

	"github.com/mycok/zhsearch/textindexer/index"
	"github.com/mycok/zhsearch/textindexer/tokenize"
)

var (
	// ErrNotLoaded is returned when the engine is queried before an index
	// has been loaded.
	ErrNotLoaded = errors.New("index not loaded")

	// ErrNoIndex is returned when Load is given no index.
	ErrNoIndex = errors.New("no index to load")

	// ErrMetadataMismatch is returned when the metadata table does not
	// describe the documents of the index.
	ErrMetadataMismatch = errors.New("document metadata mismatch")
)

// Config configures an Engine.
type Config struct {
	// Tokenizer splits queries into terms. Defaults to tokenize.Whitespace.
	Tokenizer tokenize.Tokenizer

	// Clock used to time queries. Defaults to the wall clock.
	Clock clock.Clock

	// Logger for query logs. Defaults to a discard logger.
	Logger *logrus.Entry
}

func (cfg *Config) validate() {
	if cfg.Tokenizer == nil {
		cfg.Tokenizer = tokenize.Whitespace{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
	}
}

// Result is a ranked document.
type Result struct {
	DocID int
	Score float64

	// MatchedTerms lists the query terms found in this document, in query
	// order.
	MatchedTerms []string

	// Metadata is nil when the loaded snapshot has no metadata table.
	Metadata *index.DocumentMetadata
}

// TermStat summarises the postings of one term.
type TermStat struct {
	Term              string  `json:"term"`
	DocumentFrequency int     `json:"document_frequency"`
	MaxWeight         float64 `json:"max_tfidf"`
	AvgWeight         float64 `json:"avg_tfidf"`
}

// Engine answers queries against a loaded index. It is safe for concurrent
// use; Load may be called again to swap the index.
type Engine struct {
	cfg Config

	mu         sync.RWMutex
	idx        index.InvertedIndex
	docLengths []float64
	metadata   map[int]index.DocumentMetadata
}

// NewEngine returns an engine without an index.
func NewEngine(cfg Config) *Engine {
	cfg.validate()

	return &Engine{cfg: cfg}
}

// Load makes snap the index being searched. The metadata table is keyed by
// doc id; a table listing the same doc id twice is rejected. An empty table
// is treated as no table at all.
func (e *Engine) Load(snap *index.Snapshot) error {
	if snap == nil || snap.Index == nil {
		return ErrNoIndex
	}

	var metadata map[int]index.DocumentMetadata
	if len(snap.Metadata) != 0 {
		metadata = make(map[int]index.DocumentMetadata, len(snap.Metadata))
		for _, row := range snap.Metadata {
			if _, dup := metadata[row.DocID]; dup {
				return fmt.Errorf("doc id %d listed twice: %w", row.DocID, ErrMetadataMismatch)
			}
			metadata[row.DocID] = row
		}
	}

	e.mu.Lock()
	e.idx = snap.Index
	e.docLengths = snap.DocLengths
	e.metadata = metadata
	e.mu.Unlock()

	e.cfg.Logger.WithFields(logrus.Fields{
		"terms":     len(snap.Index),
		"documents": len(snap.Metadata),
	}).Info("index loaded")

	return nil
}

// Search returns at most topK documents ordered by descending score. A
// document's score is the sum of the weights of the query terms it
// contains; documents with the same score are ordered by ascending doc id.
// When threshold is set, results scoring below it are dropped after
// ranking.
func (e *Engine) Search(ctx context.Context, query string, topK int, threshold *float64) ([]Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.idx == nil {
		return nil, ErrNotLoaded
	}
	if topK <= 0 {
		return []Result{}, nil
	}

	start := e.cfg.Clock.Now()
	terms := dedupe(e.cfg.Tokenizer.Tokenize(query))

	scores := make(map[int]float64)
	matched := make(map[int][]string)
	var hitTerms []string
	for _, term := range terms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		postings, ok := e.idx[term]
		if !ok {
			continue
		}

		hitTerms = append(hitTerms, term)
		for _, p := range postings {
			scores[p.DocID] += p.Weight
			matched[p.DocID] = append(matched[p.DocID], term)
		}
	}

	ranked := topDocuments(scores, topK)

	results := make([]Result, 0, len(ranked))
	for _, d := range ranked {
		if threshold != nil && d.score < *threshold {
			continue
		}

		res := Result{
			DocID:        d.docID,
			Score:        d.score,
			MatchedTerms: matched[d.docID],
		}

		if e.metadata != nil {
			row, ok := e.metadata[d.docID]
			if !ok {
				return nil, fmt.Errorf("doc id %d has no metadata row: %w", d.docID, ErrMetadataMismatch)
			}
			res.Metadata = &row
		}

		results = append(results, res)
	}

	e.cfg.Logger.WithFields(logrus.Fields{
		"query":         query,
		"terms":         terms,
		"matched_terms": hitTerms,
		"matched_docs":  len(scores),
		"returned":      len(results),
		"took":          e.cfg.Clock.Now().Sub(start).String(),
	}).Info("search")

	return results, nil
}

// TermStats summarises the postings of the given terms, or of every indexed
// term when none are given. Terms missing from the index are skipped. Stats
// are ordered by descending document frequency, then by term.
func (e *Engine) TermStats(terms ...string) ([]TermStat, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.idx == nil {
		return nil, ErrNotLoaded
	}
	if len(terms) == 0 {
		terms = e.idx.Terms()
	}

	stats := make([]TermStat, 0, len(terms))
	for _, term := range dedupe(terms) {
		postings := e.idx[term]
		if len(postings) == 0 {
			continue
		}

		st := TermStat{Term: term, DocumentFrequency: len(postings), MaxWeight: postings[0].Weight}
		var sum float64
		for _, p := range postings {
			sum += p.Weight
			if p.Weight > st.MaxWeight {
				st.MaxWeight = p.Weight
			}
		}
		st.AvgWeight = sum / float64(len(postings))

		stats = append(stats, st)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].DocumentFrequency != stats[j].DocumentFrequency {
			return stats[i].DocumentFrequency > stats[j].DocumentFrequency
		}
		return stats[i].Term < stats[j].Term
	})

	return stats, nil
}

// DocLength returns the L2 norm of a document row, when doc lengths were
// loaded.
func (e *Engine) DocLength(row int) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if row < 0 || row >= len(e.docLengths) {
		return 0, false
	}

	return e.docLengths[row], true
}

func dedupe(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}

	return out
}
