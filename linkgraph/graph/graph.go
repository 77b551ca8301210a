// Package graph defines the link graph model and the store contract used to
// accumulate the pages and hyperlinks discovered by a crawl.
package graph

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a link lookup fails.
	ErrNotFound = errors.New("not found")

	// ErrUnknownEdgeLinks is returned when an edge references a link that is
	// not in the graph.
	ErrUnknownEdgeLinks = errors.New("unknown source and/or destination for edge")
)

// Graph is implemented by link graph stores.
type Graph interface {
	// UpsertLink inserts a link or, when a link with the same URL exists,
	// copies the existing ID into link.
	UpsertLink(link *Link) error

	// FindLink looks a link up by id.
	FindLink(id uuid.UUID) (*Link, error)

	// Links returns an iterator over every link in the graph.
	Links() (LinkIterator, error)

	// UpsertEdge inserts an edge or refreshes the existing edge with the
	// same endpoints, so the graph never holds parallel edges.
	UpsertEdge(edge *Edge) error

	// Edges returns an iterator over every edge in the graph.
	Edges() (EdgeIterator, error)

	// Reset removes all links and edges.
	Reset() error
}

// Iterator is embedded by the graph iterators.
type Iterator interface {
	// Next advances the iterator; it returns false when exhausted.
	Next() bool

	// Error returns the last error encountered by the iterator.
	Error() error

	// Close releases the iterator.
	Close() error
}

// LinkIterator iterates graph links.
type LinkIterator interface {
	Iterator

	// Link returns the current link.
	Link() *Link
}

// EdgeIterator iterates graph edges.
type EdgeIterator interface {
	Iterator

	// Edge returns the current edge.
	Edge() *Edge
}

// Link is a graph vertex: an absolute, fragment-free page URL.
type Link struct {
	ID           uuid.UUID
	URL          string
	DiscoveredAt time.Time
}

// Edge is a hyperlink from the page Src to the page Dst.
type Edge struct {
	ID        uuid.UUID
	Src       uuid.UUID
	Dst       uuid.UUID
	UpdatedAt time.Time
}
