package pagerank

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Default values applied by Config when a field is left at its zero value.
const (
	DefaultDampingFactor = 0.85
	DefaultMaxIterations = 100
	DefaultTolerance     = 1e-5
)

// Config holds the options for a PageRank Calculator.
type Config struct {
	// DampingFactor is the probability of following an outgoing link as
	// opposed to jumping to a random page. Defaults to 0.85.
	DampingFactor float64

	// MaxIterations caps the number of score updates. Defaults to 100.
	MaxIterations int

	// Tolerance stops the calculation once the L1 distance between two
	// consecutive score vectors drops below it. Defaults to 1e-5.
	Tolerance float64

	// ComputeWorkers is the number of workers running the compute function.
	// Defaults to 1.
	ComputeWorkers int
}

func (c *Config) validate() error {
	var err error

	if c.DampingFactor == 0 {
		c.DampingFactor = DefaultDampingFactor
	}
	if c.DampingFactor < 0 || c.DampingFactor >= 1 {
		err = multierror.Append(err, fmt.Errorf("invalid damping factor %v: must be in [0, 1)", c.DampingFactor))
	}

	if c.MaxIterations == 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.MaxIterations < 0 {
		err = multierror.Append(err, fmt.Errorf("invalid max iterations %d: must be > 0", c.MaxIterations))
	}

	if c.Tolerance == 0 {
		c.Tolerance = DefaultTolerance
	}
	if c.Tolerance < 0 {
		err = multierror.Append(err, fmt.Errorf("invalid tolerance %v: must be > 0", c.Tolerance))
	}

	if c.ComputeWorkers <= 0 {
		c.ComputeWorkers = 1
	}

	return err
}
