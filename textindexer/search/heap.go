package search

import (
	"container/heap"
	"sort"
)

type scoredDoc struct {
	docID int
	score float64
}

// better reports whether a ranks above b.
func better(a, b scoredDoc) bool {
	if a.score != b.score {
		return a.score > b.score
	}

	return a.docID < b.docID
}

// minHeap keeps the weakest of the retained documents at the root.
type minHeap []scoredDoc

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return better(h[j], h[i]) }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(scoredDoc)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]

	return x
}

// topDocuments returns the k best scored documents, best first.
func topDocuments(scores map[int]float64, k int) []scoredDoc {
	h := make(minHeap, 0, min(k, len(scores)))
	for docID, score := range scores {
		d := scoredDoc{docID: docID, score: score}
		if h.Len() < k {
			heap.Push(&h, d)
			continue
		}
		if better(d, h[0]) {
			h[0] = d
			heap.Fix(&h, 0)
		}
	}

	out := []scoredDoc(h)
	sort.Slice(out, func(i, j int) bool { return better(out[i], out[j]) })

	return out
}
