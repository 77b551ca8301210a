// Package pagerank computes PageRank scores for the crawled link graph on top
// of the bsp graph processor.
package pagerank

import (
	"context"
	"fmt"

	"github.com/mycok/zhsearch/bsp"
	"github.com/mycok/zhsearch/bsp/aggregator"
)

// Calculator runs the iterative PageRank algorithm until the scores converge
// or the iteration cap is reached.
type Calculator struct {
	g               *bsp.Graph
	cfg             Config
	executorFactory bsp.ExecutorFactory
	iterations      int
}

// NewCalculator returns a Calculator configured by cfg.
func NewCalculator(cfg Config) (*Calculator, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("pagerank calculator config validation failed: %w", err)
	}

	g, err := bsp.NewGraph(bsp.GraphConfig{
		ComputeWorkers: cfg.ComputeWorkers,
		ComputeFn:      makeComputeFunc(cfg.DampingFactor),
	})
	if err != nil {
		return nil, err
	}

	return &Calculator{
		g:               g,
		cfg:             cfg,
		executorFactory: bsp.NewExecutor,
	}, nil
}

// Graph returns the underlying bsp graph.
func (c *Calculator) Graph() *bsp.Graph { return c.g }

// Close releases the graph workers.
func (c *Calculator) Close() error { return c.g.Close() }

// SetExecutorFactory overrides the executor used by CalculatePageRanks.
func (c *Calculator) SetExecutorFactory(factory bsp.ExecutorFactory) {
	c.executorFactory = factory
}

// AddVertex adds a page to the graph.
func (c *Calculator) AddVertex(id string) {
	c.g.AddVertex(id, 0)
}

// AddEdge adds a link from src to dst. Self links are ignored and repeated
// links count once.
func (c *Calculator) AddEdge(src, dst string) error {
	if src == dst {
		return nil
	}

	return c.g.AddEdge(src, dst)
}

// Iterations returns the number of score updates run by the last call to
// CalculatePageRanks.
func (c *Calculator) Iterations() int { return c.iterations }

// Scores calls visitFn with every vertex and its score.
func (c *Calculator) Scores(visitFn func(id string, score float64) error) error {
	for id, v := range c.g.Vertices() {
		if err := visitFn(id, v.Value()); err != nil {
			return err
		}
	}

	return nil
}

// CalculatePageRanks runs the algorithm. Super steps 0 and 1 initialise the
// scores; each later step is one power iteration.
func (c *Calculator) CalculatePageRanks(ctx context.Context) error {
	c.registerAggregators()
	c.iterations = 0

	exec := c.executorFactory(c.g, bsp.ExecutorCallbacks{
		PreStep: func(_ context.Context, g *bsp.Graph) error {
			g.Aggregator(sadAcc).Set(0.0)
			g.Aggregator(residualOutputAccName(g.SuperStep())).Set(0.0)

			return nil
		},
		ShouldRunAnotherStep: func(_ context.Context, g *bsp.Graph, _ int) (bool, error) {
			if g.SuperStep() < 2 {
				return true, nil
			}

			c.iterations++
			sad := g.Aggregator(sadAcc).Get().(float64)

			return sad >= c.cfg.Tolerance && c.iterations < c.cfg.MaxIterations, nil
		},
	})

	return exec.RunToCompletion(ctx)
}

func (c *Calculator) registerAggregators() {
	c.g.RegisterAggregator(pageCountAcc, new(aggregator.IntAccumulator))
	c.g.RegisterAggregator("residual_0", new(aggregator.Float64Accumulator))
	c.g.RegisterAggregator("residual_1", new(aggregator.Float64Accumulator))
	c.g.RegisterAggregator(sadAcc, new(aggregator.Float64Accumulator))
}
