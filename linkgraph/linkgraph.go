// Package linkgraph accumulates the directed graph of crawled pages and
// computes PageRank scores over it.
package linkgraph

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mycok/zhsearch/linkgraph/graph"
	"github.com/mycok/zhsearch/linkgraph/store/memory"
	"github.com/mycok/zhsearch/pagerank"
)

// LinkGraph records page-to-page links keyed by URL.
type LinkGraph struct {
	store graph.Graph
}

// New returns a LinkGraph backed by store. A nil store selects the in-memory
// graph.
func New(store graph.Graph) *LinkGraph {
	if store == nil {
		store = memory.NewInMemoryGraph()
	}

	return &LinkGraph{store: store}
}

// AddNode records url as a vertex even if it has no links.
func (lg *LinkGraph) AddNode(url string) error {
	return lg.store.UpsertLink(&graph.Link{URL: url})
}

// AddEdge records a link from the page at from to the page at to. Repeated
// calls with the same endpoints have no extra effect.
func (lg *LinkGraph) AddEdge(from, to string) error {
	src := &graph.Link{URL: from}
	if err := lg.store.UpsertLink(src); err != nil {
		return fmt.Errorf("add edge source %q: %w", from, err)
	}

	dst := &graph.Link{URL: to}
	if err := lg.store.UpsertLink(dst); err != nil {
		return fmt.Errorf("add edge destination %q: %w", to, err)
	}

	return lg.store.UpsertEdge(&graph.Edge{Src: src.ID, Dst: dst.ID})
}

// Counts returns the number of vertices and edges in the graph.
func (lg *LinkGraph) Counts() (nodes, edges int, err error) {
	linkIt, err := lg.store.Links()
	if err != nil {
		return 0, 0, err
	}
	for linkIt.Next() {
		nodes++
	}
	if err = closeIterator(linkIt); err != nil {
		return 0, 0, err
	}

	edgeIt, err := lg.store.Edges()
	if err != nil {
		return 0, 0, err
	}
	for edgeIt.Next() {
		edges++
	}

	return nodes, edges, closeIterator(edgeIt)
}

// Reset drops every vertex and edge.
func (lg *LinkGraph) Reset() error {
	return lg.store.Reset()
}

// Compute runs PageRank over the accumulated graph and returns the score of
// every URL. An empty graph yields an empty map.
func (lg *LinkGraph) Compute(ctx context.Context, cfg pagerank.Config) (map[string]float64, error) {
	calc, err := pagerank.NewCalculator(cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = calc.Close() }()

	urls := make(map[uuid.UUID]string)

	linkIt, err := lg.store.Links()
	if err != nil {
		return nil, err
	}
	for linkIt.Next() {
		l := linkIt.Link()
		urls[l.ID] = l.URL
		calc.AddVertex(l.URL)
	}
	if err = closeIterator(linkIt); err != nil {
		return nil, err
	}

	if len(urls) == 0 {
		return map[string]float64{}, nil
	}

	edgeIt, err := lg.store.Edges()
	if err != nil {
		return nil, err
	}
	for edgeIt.Next() {
		e := edgeIt.Edge()
		if err = calc.AddEdge(urls[e.Src], urls[e.Dst]); err != nil {
			_ = edgeIt.Close()
			return nil, err
		}
	}
	if err = closeIterator(edgeIt); err != nil {
		return nil, err
	}

	if err = calc.CalculatePageRanks(ctx); err != nil {
		return nil, fmt.Errorf("compute pagerank: %w", err)
	}

	scores := make(map[string]float64, len(urls))
	err = calc.Scores(func(id string, score float64) error {
		scores[id] = score
		return nil
	})

	return scores, err
}

func closeIterator(it graph.Iterator) error {
	if err := it.Error(); err != nil {
		_ = it.Close()
		return err
	}

	return it.Close()
}
