package memory

import "github.com/mycok/zhsearch/linkgraph/graph"

var (
	_ graph.LinkIterator = (*linkIterator)(nil)
	_ graph.EdgeIterator = (*edgeIterator)(nil)
)

type linkIterator struct {
	store *InMemoryGraph
	links []*graph.Link
	pos   int
}

func (i *linkIterator) Next() bool {
	if i.pos >= len(i.links) {
		return false
	}
	i.pos++

	return true
}

func (i *linkIterator) Error() error { return nil }
func (i *linkIterator) Close() error { return nil }

// Link returns a copy so callers never observe concurrent upserts.
func (i *linkIterator) Link() *graph.Link {
	i.store.mu.RLock()
	defer i.store.mu.RUnlock()

	l := new(graph.Link)
	*l = *i.links[i.pos-1]

	return l
}

type edgeIterator struct {
	store *InMemoryGraph
	edges []*graph.Edge
	pos   int
}

func (i *edgeIterator) Next() bool {
	if i.pos >= len(i.edges) {
		return false
	}
	i.pos++

	return true
}

func (i *edgeIterator) Error() error { return nil }
func (i *edgeIterator) Close() error { return nil }

// Edge returns a copy so callers never observe concurrent upserts.
func (i *edgeIterator) Edge() *graph.Edge {
	i.store.mu.RLock()
	defer i.store.mu.RUnlock()

	e := new(graph.Edge)
	*e = *i.edges[i.pos-1]

	return e
}
