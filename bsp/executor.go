package bsp

import "context"

// ExecutorCallbacks are optional hooks run around every super step.
type ExecutorCallbacks struct {
	// PreStep runs before each super step; typically used to reset
	// aggregators.
	PreStep func(ctx context.Context, g *Graph) error

	// PostStep runs after each super step.
	PostStep func(ctx context.Context, g *Graph, activeInStep int) error

	// ShouldRunAnotherStep decides whether the executor keeps going.
	ShouldRunAnotherStep func(ctx context.Context, g *Graph, activeInStep int) (bool, error)
}

func (cb *ExecutorCallbacks) setDefaults() {
	if cb.PreStep == nil {
		cb.PreStep = func(context.Context, *Graph) error { return nil }
	}

	if cb.PostStep == nil {
		cb.PostStep = func(context.Context, *Graph, int) error { return nil }
	}

	if cb.ShouldRunAnotherStep == nil {
		cb.ShouldRunAnotherStep = func(context.Context, *Graph, int) (bool, error) { return true, nil }
	}
}

// ExecutorFactory creates executors; it allows tests to swap the executor.
type ExecutorFactory func(g *Graph, cbs ExecutorCallbacks) *Executor

// Executor drives a graph through super steps.
type Executor struct {
	g   *Graph
	cbs ExecutorCallbacks
}

// NewExecutor returns an executor for g starting at super step 0.
func NewExecutor(g *Graph, cbs ExecutorCallbacks) *Executor {
	cbs.setDefaults()
	g.superStep = 0

	return &Executor{g: g, cbs: cbs}
}

// Graph returns the graph driven by the executor.
func (ex *Executor) Graph() *Graph { return ex.g }

// SuperStep returns the current super step of the graph.
func (ex *Executor) SuperStep() int { return ex.g.SuperStep() }

// RunToCompletion runs super steps until ShouldRunAnotherStep returns false,
// an error occurs or ctx expires.
func (ex *Executor) RunToCompletion(ctx context.Context) error {
	return ex.run(ctx, -1)
}

// RunSteps is like RunToCompletion but runs at most numOfSteps super steps.
func (ex *Executor) RunSteps(ctx context.Context, numOfSteps int) error {
	return ex.run(ctx, numOfSteps)
}

func (ex *Executor) run(ctx context.Context, maxSteps int) error {
	for ; maxSteps != 0; maxSteps-- {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := ex.cbs.PreStep(ctx, ex.g); err != nil {
			return err
		}

		active, err := ex.g.step()
		if err != nil {
			return err
		}

		if err = ex.cbs.PostStep(ctx, ex.g, active); err != nil {
			return err
		}

		more, err := ex.cbs.ShouldRunAnotherStep(ctx, ex.g, active)
		if err != nil || !more {
			return err
		}

		ex.g.superStep++
	}

	return nil
}
