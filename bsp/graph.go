// Package bsp implements a small bulk synchronous parallel graph processor.
// Vertices run a compute function once per super step and exchange float64
// messages that are delivered at the start of the following step.
package bsp

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrUnknownEdgeSource is returned by AddEdge when the source vertex has
	// not been added to the graph.
	ErrUnknownEdgeSource = errors.New("source vertex is not part of the graph")

	// ErrInvalidMessageDestination is returned when a message targets a
	// vertex that does not exist.
	ErrInvalidMessageDestination = errors.New("invalid message destination")
)

// Aggregator combines values reported by vertices during a super step. It
// must be safe for concurrent use.
type Aggregator interface {
	Type() string
	Set(val interface{})
	Get() interface{}
	Aggregate(val interface{})
}

// ComputeFunc is run for each active vertex. msgs holds the messages sent to
// the vertex during the previous super step; it must not be retained.
type ComputeFunc func(g *Graph, v *Vertex, msgs []float64) error

// Graph holds the vertices, the aggregators and the worker pool that runs
// super steps. Call Close when done.
type Graph struct {
	superStep   int
	vertices    map[string]*Vertex
	aggregators map[string]Aggregator
	computeFn   ComputeFunc

	wg         sync.WaitGroup
	vertexChan chan *Vertex
	errChan    chan error
	doneChan   chan struct{}
	active     int64
	pending    int64
}

// NewGraph returns a graph configured by cfg with its compute workers running.
func NewGraph(cfg GraphConfig) (*Graph, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("graph config validation failed: %w", err)
	}

	g := &Graph{
		vertices:    make(map[string]*Vertex),
		aggregators: make(map[string]Aggregator),
		computeFn:   cfg.ComputeFn,
		vertexChan:  make(chan *Vertex),
		errChan:     make(chan error, 1),
		doneChan:    make(chan struct{}),
	}

	g.wg.Add(cfg.ComputeWorkers)
	for i := 0; i < cfg.ComputeWorkers; i++ {
		go g.stepWorker()
	}

	return g, nil
}

// Close stops the compute workers and drops all graph state.
func (g *Graph) Close() error {
	close(g.vertexChan)
	g.wg.Wait()

	g.Reset()

	return nil
}

// Reset clears vertices, aggregators and the super step counter so the graph
// can be loaded again.
func (g *Graph) Reset() {
	g.superStep = 0
	g.vertices = make(map[string]*Vertex)
	g.aggregators = make(map[string]Aggregator)
}

// Vertices returns the vertex map keyed by vertex id.
func (g *Graph) Vertices() map[string]*Vertex { return g.vertices }

// AddVertex inserts a vertex or overwrites the value of an existing one.
func (g *Graph) AddVertex(id string, value float64) {
	v, exists := g.vertices[id]
	if !exists {
		v = &Vertex{id: id, active: true}
		g.vertices[id] = v
	}

	v.SetValue(value)
}

// AddEdge adds a directed edge from srcID to dstID. Adding the same edge
// twice is a no-op.
func (g *Graph) AddEdge(srcID, dstID string) error {
	src, exists := g.vertices[srcID]
	if !exists {
		return fmt.Errorf("create edge from %q to %q: %w", srcID, dstID, ErrUnknownEdgeSource)
	}

	for _, existing := range src.edges {
		if existing == dstID {
			return nil
		}
	}

	src.edges = append(src.edges, dstID)

	return nil
}

// RegisterAggregator registers aggr under name.
func (g *Graph) RegisterAggregator(name string, aggr Aggregator) {
	g.aggregators[name] = aggr
}

// Aggregator returns the aggregator registered under name, or nil.
func (g *Graph) Aggregator(name string) Aggregator { return g.aggregators[name] }

// SuperStep returns the index of the current super step.
func (g *Graph) SuperStep() int { return g.superStep }

// SendMessage queues msg for dstID; it is delivered in the next super step.
func (g *Graph) SendMessage(dstID string, msg float64) error {
	dst, exists := g.vertices[dstID]
	if !exists {
		return fmt.Errorf("message can't be delivered to %q: %w", dstID, ErrInvalidMessageDestination)
	}

	dst.deliver((g.superStep+1)%2, msg)

	return nil
}

// BroadcastToNeighbors sends msg along every outgoing edge of v.
func (g *Graph) BroadcastToNeighbors(v *Vertex, msg float64) error {
	for _, dstID := range v.edges {
		if err := g.SendMessage(dstID, msg); err != nil {
			return err
		}
	}

	return nil
}

// step runs one super step and returns the number of vertices that were
// computed.
func (g *Graph) step() (int, error) {
	g.active = 0
	g.pending = int64(len(g.vertices))
	if g.pending == 0 {
		return 0, nil
	}

	for _, v := range g.vertices {
		g.vertexChan <- v
	}
	<-g.doneChan

	var err error
	select {
	case err = <-g.errChan:
	default:
	}

	return int(g.active), err
}

func (g *Graph) stepWorker() {
	defer g.wg.Done()

	for v := range g.vertexChan {
		slot := g.superStep % 2

		v.mu.Lock()
		msgs := v.inbox[slot]
		v.mu.Unlock()

		if v.active || len(msgs) > 0 {
			atomic.AddInt64(&g.active, 1)
			v.active = true

			if err := g.computeFn(g, v, msgs); err != nil {
				select {
				case g.errChan <- fmt.Errorf("running compute function for vertex %q failed: %w", v.ID(), err):
				default:
				}
			}

			v.mu.Lock()
			v.inbox[slot] = v.inbox[slot][:0]
			v.mu.Unlock()
		}

		if atomic.AddInt64(&g.pending, -1) == 0 {
			g.doneChan <- struct{}{}
		}
	}
}
