package pagerank

import (
	"math"

	"github.com/mycok/zhsearch/bsp"
)

const (
	pageCountAcc = "page_count"
	sadAcc       = "sad"
)

// makeComputeFunc returns the per-vertex PageRank update.
//
// Step 0 counts the vertices and step 1 seeds every vertex with 1/N. From
// step 2 on a vertex scores (1-d)/N plus d times the shares it received plus
// d times the residual mass left by dangling vertices in the previous step.
func makeComputeFunc(dampingFactor float64) bsp.ComputeFunc {
	return func(g *bsp.Graph, v *bsp.Vertex, msgs []float64) error {
		step := g.SuperStep()
		pageCount := g.Aggregator(pageCountAcc)

		if step == 0 {
			pageCount.Aggregate(1)

			return nil
		}

		var (
			n        = float64(pageCount.Get().(int))
			newScore float64
		)

		switch step {
		case 1:
			newScore = 1.0 / n
		default:
			newScore = (1.0 - dampingFactor) / n
			for _, share := range msgs {
				newScore += dampingFactor * share
			}

			newScore += dampingFactor * g.Aggregator(residualInputAccName(step)).Get().(float64)
		}

		g.Aggregator(sadAcc).Aggregate(math.Abs(v.Value() - newScore))
		v.SetValue(newScore)

		// A dangling vertex behaves as if it linked to every vertex,
		// itself included: its mass is spread evenly in the next step.
		outDegree := float64(len(v.Edges()))
		if outDegree == 0 {
			g.Aggregator(residualOutputAccName(step)).Aggregate(newScore / n)

			return nil
		}

		return g.BroadcastToNeighbors(v, newScore/outDegree)
	}
}

// residualOutputAccName names the accumulator that collects the dangling mass
// produced during superStep.
func residualOutputAccName(superStep int) string {
	if superStep%2 == 0 {
		return "residual_0"
	}
	return "residual_1"
}

// residualInputAccName names the accumulator holding the dangling mass
// produced by the step before superStep.
func residualInputAccName(superStep int) string {
	return residualOutputAccName(superStep + 1)
}
