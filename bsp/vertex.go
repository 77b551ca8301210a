package bsp

import "sync"

// Vertex is a node of the graph holding a float64 value and its outgoing
// edges.
type Vertex struct {
	id     string
	value  float64
	active bool
	edges  []string

	// inbox[s%2] holds the messages delivered in super step s.
	mu    sync.Mutex
	inbox [2][]float64
}

// ID returns the vertex id.
func (v *Vertex) ID() string { return v.id }

// Edges returns the ids of the vertices this vertex links to.
func (v *Vertex) Edges() []string { return v.edges }

// Value returns the vertex value.
func (v *Vertex) Value() float64 { return v.value }

// SetValue replaces the vertex value.
func (v *Vertex) SetValue(val float64) { v.value = val }

// Freeze deactivates the vertex. A frozen vertex is skipped in later super
// steps until a message reactivates it.
func (v *Vertex) Freeze() { v.active = false }

func (v *Vertex) deliver(slot int, msg float64) {
	v.mu.Lock()
	v.inbox[slot] = append(v.inbox[slot], msg)
	v.mu.Unlock()
}
