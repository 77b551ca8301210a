package bsp

import (
	"errors"

	"github.com/hashicorp/go-multierror"
)

// GraphConfig holds the options for NewGraph.
type GraphConfig struct {
	// ComputeFn is invoked for every active vertex in each super step.
	// Required.
	ComputeFn ComputeFunc

	// ComputeWorkers is the number of goroutines running ComputeFn. Defaults
	// to 1.
	ComputeWorkers int
}

func (c *GraphConfig) validate() error {
	var err error

	if c.ComputeFn == nil {
		err = multierror.Append(err, errors.New("compute function not provided"))
	}

	if c.ComputeWorkers <= 0 {
		c.ComputeWorkers = 1
	}

	return err
}
