// Package memory provides a concurrency-safe in-memory link graph.
package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mycok/zhsearch/linkgraph/graph"
)

var _ graph.Graph = (*InMemoryGraph)(nil)

type edgeKey struct {
	src, dst uuid.UUID
}

// InMemoryGraph keeps links and edges in maps guarded by a RWMutex.
type InMemoryGraph struct {
	mu        sync.RWMutex
	links     map[uuid.UUID]*graph.Link
	linkByURL map[string]*graph.Link
	edges     map[edgeKey]*graph.Edge

	// edgeOrder keeps insertion order so iteration is deterministic.
	edgeOrder []edgeKey
	linkOrder []uuid.UUID
}

// NewInMemoryGraph returns an empty graph.
func NewInMemoryGraph() *InMemoryGraph {
	g := new(InMemoryGraph)
	_ = g.Reset()

	return g
}

// Reset implements graph.Graph.
func (s *InMemoryGraph) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.links = make(map[uuid.UUID]*graph.Link)
	s.linkByURL = make(map[string]*graph.Link)
	s.edges = make(map[edgeKey]*graph.Edge)
	s.edgeOrder = nil
	s.linkOrder = nil

	return nil
}

// UpsertLink implements graph.Graph.
func (s *InMemoryGraph) UpsertLink(link *graph.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.linkByURL[link.URL]; ok {
		link.ID = existing.ID
		if link.DiscoveredAt.IsZero() || existing.DiscoveredAt.Before(link.DiscoveredAt) {
			link.DiscoveredAt = existing.DiscoveredAt
		}
		*existing = *link

		return nil
	}

	for {
		link.ID = uuid.New()
		if _, taken := s.links[link.ID]; !taken {
			break
		}
	}

	if link.DiscoveredAt.IsZero() {
		link.DiscoveredAt = time.Now()
	}

	lCopy := new(graph.Link)
	*lCopy = *link
	s.links[lCopy.ID] = lCopy
	s.linkByURL[lCopy.URL] = lCopy
	s.linkOrder = append(s.linkOrder, lCopy.ID)

	return nil
}

// FindLink implements graph.Graph.
func (s *InMemoryGraph) FindLink(id uuid.UUID) (*graph.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.links[id]
	if !ok {
		return nil, fmt.Errorf("find link: %w", graph.ErrNotFound)
	}

	lCopy := new(graph.Link)
	*lCopy = *l

	return lCopy, nil
}

// Links implements graph.Graph.
func (s *InMemoryGraph) Links() (graph.LinkIterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*graph.Link, 0, len(s.linkOrder))
	for _, id := range s.linkOrder {
		list = append(list, s.links[id])
	}

	return &linkIterator{store: s, links: list}, nil
}

// UpsertEdge implements graph.Graph.
func (s *InMemoryGraph) UpsertEdge(edge *graph.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, srcOK := s.links[edge.Src]
	_, dstOK := s.links[edge.Dst]
	if !srcOK || !dstOK {
		return fmt.Errorf("upsert edge: %w", graph.ErrUnknownEdgeLinks)
	}

	key := edgeKey{src: edge.Src, dst: edge.Dst}
	if existing, ok := s.edges[key]; ok {
		existing.UpdatedAt = time.Now()
		*edge = *existing

		return nil
	}

	edge.ID = uuid.New()
	edge.UpdatedAt = time.Now()

	eCopy := new(graph.Edge)
	*eCopy = *edge
	s.edges[key] = eCopy
	s.edgeOrder = append(s.edgeOrder, key)

	return nil
}

// Edges implements graph.Graph.
func (s *InMemoryGraph) Edges() (graph.EdgeIterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*graph.Edge, 0, len(s.edgeOrder))
	for _, key := range s.edgeOrder {
		list = append(list, s.edges[key])
	}

	return &edgeIterator{store: s, edges: list}, nil
}
