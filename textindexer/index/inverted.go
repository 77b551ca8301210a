// Package index turns a document-by-term weight matrix into an inverted
// index and persists it together with the tables a search engine needs.
package index

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Posting records the weight of a term in one document.
type Posting struct {
	DocID  int
	Weight float64
}

// MarshalJSON encodes the posting as a [docId, weight] pair.
func (p Posting) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{p.DocID, p.Weight})
}

// UnmarshalJSON decodes a [docId, weight] pair. The doc id may be quoted.
func (p *Posting) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decode posting: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("decode posting: expected a pair, got %d values", len(pair))
	}

	id, err := decodeDocID(pair[0])
	if err != nil {
		return err
	}

	var w float64
	if err := json.Unmarshal(pair[1], &w); err != nil {
		return fmt.Errorf("decode posting weight: %w", err)
	}

	p.DocID, p.Weight = id, w

	return nil
}

func decodeDocID(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("decode posting doc id: %w", err)
		}
		id, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("decode posting doc id: %w", err)
		}
		return id, nil
	}

	var id int
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, fmt.Errorf("decode posting doc id: %w", err)
	}

	return id, nil
}

// InvertedIndex maps a term to its postings.
type InvertedIndex map[string][]Posting

// Terms returns the indexed terms in lexical order.
func (idx InvertedIndex) Terms() []string {
	terms := make([]string, 0, len(idx))
	for t := range idx {
		terms = append(terms, t)
	}
	sort.Strings(terms)

	return terms
}

// Entries returns the total number of postings.
func (idx InvertedIndex) Entries() int {
	var n int
	for _, postings := range idx {
		n += len(postings)
	}

	return n
}

// AveragePostings returns the mean posting list length.
func (idx InvertedIndex) AveragePostings() float64 {
	return float64(idx.Entries()) / float64(max(1, len(idx)))
}

// Build inverts m. Every cell with a positive weight adds a posting for
// vocabulary[col]. The posting's doc id is docIDs[row] when a mapping is
// given and the row index otherwise. Postings are ordered by doc id.
func Build(m WeightMatrix, vocabulary []string, docIDs []int) (InvertedIndex, error) {
	if m == nil {
		return nil, ErrMissingMatrix
	}
	if len(vocabulary) == 0 {
		return nil, ErrMissingVocabulary
	}

	rows := m.Rows()
	if docIDs != nil && len(docIDs) < rows {
		return nil, fmt.Errorf("%d doc ids for %d rows: %w", len(docIDs), rows, ErrShapeMismatch)
	}

	idx := make(InvertedIndex)
	for row := 0; row < rows; row++ {
		docID := row
		if docIDs != nil {
			docID = docIDs[row]
		}

		for _, cell := range m.Row(row) {
			if cell.Col < 0 || cell.Col >= len(vocabulary) {
				return nil, fmt.Errorf("column %d outside a vocabulary of %d terms: %w", cell.Col, len(vocabulary), ErrShapeMismatch)
			}
			if !(cell.Weight > 0) {
				continue
			}

			term := vocabulary[cell.Col]
			idx[term] = append(idx[term], Posting{DocID: docID, Weight: cell.Weight})
		}
	}

	for _, postings := range idx {
		sort.SliceStable(postings, func(i, j int) bool { return postings[i].DocID < postings[j].DocID })
	}

	return idx, nil
}

// DocLengths returns the L2 norm of every row of m.
func DocLengths(m WeightMatrix) []float64 {
	if m == nil {
		return nil
	}

	lengths := make([]float64, m.Rows())
	for row := range lengths {
		var sum float64
		for _, cell := range m.Row(row) {
			sum += cell.Weight * cell.Weight
		}
		lengths[row] = math.Sqrt(sum)
	}

	return lengths
}

// Reduction holds percentages of removed terms and postings.
type Reduction struct {
	Terms   float64 `json:"terms"`
	Entries float64 `json:"entries"`
}

// OptimizationStats describes the effect of Optimize.
type OptimizationStats struct {
	Threshold           float64   `json:"threshold"`
	OriginalTerms       int       `json:"original_terms"`
	OptimizedTerms      int       `json:"optimized_terms"`
	OriginalEntries     int       `json:"original_entries"`
	OptimizedEntries    int       `json:"optimized_entries"`
	ReductionPercentage Reduction `json:"reduction_percentage"`
}

// Optimize returns a copy of idx without the postings weighing less than
// minWeight. Terms left without postings are dropped. idx is not modified.
func Optimize(idx InvertedIndex, minWeight float64) (InvertedIndex, OptimizationStats) {
	stats := OptimizationStats{
		Threshold:       minWeight,
		OriginalTerms:   len(idx),
		OriginalEntries: idx.Entries(),
	}

	out := make(InvertedIndex, len(idx))
	for term, postings := range idx {
		var kept []Posting
		for _, p := range postings {
			if p.Weight >= minWeight {
				kept = append(kept, p)
			}
		}

		if len(kept) > 0 {
			out[term] = kept
		}
	}

	stats.OptimizedTerms = len(out)
	stats.OptimizedEntries = out.Entries()
	stats.ReductionPercentage = Reduction{
		Terms:   percent(stats.OriginalTerms-stats.OptimizedTerms, stats.OriginalTerms),
		Entries: percent(stats.OriginalEntries-stats.OptimizedEntries, stats.OriginalEntries),
	}

	return out, stats
}

func percent(part, whole int) float64 {
	return float64(part) / float64(max(1, whole)) * 100
}
