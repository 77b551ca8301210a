// Package aggregator provides lock-free accumulators that compute functions
// register on a bsp.Graph to combine per-vertex values within a super step.
package aggregator

import (
	"math"
	"sync/atomic"
)

// Float64Accumulator sums float64 values and is safe for concurrent use.
type Float64Accumulator struct {
	bits atomic.Uint64
}

// Type implements bsp.Aggregator.
func (a *Float64Accumulator) Type() string { return "Float64Accumulator" }

// Get returns the current sum as a float64.
func (a *Float64Accumulator) Get() interface{} {
	return math.Float64frombits(a.bits.Load())
}

// Set overwrites the current sum.
func (a *Float64Accumulator) Set(val interface{}) {
	a.bits.Store(math.Float64bits(val.(float64)))
}

// Aggregate adds val to the current sum.
func (a *Float64Accumulator) Aggregate(val interface{}) {
	delta := val.(float64)
	for {
		old := a.bits.Load()
		sum := math.Float64frombits(old) + delta
		if a.bits.CompareAndSwap(old, math.Float64bits(sum)) {
			return
		}
	}
}

// IntAccumulator sums int values and is safe for concurrent use.
type IntAccumulator struct {
	sum atomic.Int64
}

// Type implements bsp.Aggregator.
func (a *IntAccumulator) Type() string { return "IntAccumulator" }

// Get returns the current sum as an int.
func (a *IntAccumulator) Get() interface{} { return int(a.sum.Load()) }

// Set overwrites the current sum.
func (a *IntAccumulator) Set(val interface{}) { a.sum.Store(int64(val.(int))) }

// Aggregate adds val to the current sum.
func (a *IntAccumulator) Aggregate(val interface{}) { a.sum.Add(int64(val.(int))) }
