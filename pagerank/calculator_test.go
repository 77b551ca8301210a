package pagerank_test

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	check "gopkg.in/check.v1"

	"github.com/mycok/zhsearch/pagerank"
)

var _ = check.Suite(new(CalculatorTestSuite))

func Test(t *testing.T) {
	check.TestingT(t)
}

const (
	home    = "http://news.example.cn/"
	sports  = "http://news.example.cn/sports/"
	finance = "http://news.example.cn/finance/"
)

type link struct {
	from, to string
}

type linkGraphCase struct {
	name  string
	pages []string
	links []link
	want  map[string]float64
}

type CalculatorTestSuite struct{}

func (s *CalculatorTestSuite) TestScores(c *check.C) {
	cases := []linkGraphCase{
		{
			// home -> sports -> finance -> home
			name:  "ring",
			pages: []string{home, sports, finance},
			links: []link{{home, sports}, {sports, finance}, {finance, home}},
			want:  map[string]float64{home: 1.0 / 3.0, sports: 1.0 / 3.0, finance: 1.0 / 3.0},
		},
		{
			// sports and finance link to each other and sports also has
			// a link from home.
			name:  "back-link",
			pages: []string{home, sports, finance},
			links: []link{{home, sports}, {sports, finance}, {finance, home}, {finance, sports}},
			want:  map[string]float64{home: 0.2145, sports: 0.3937, finance: 0.3879},
		},
		{
			// home <-> sports <-> finance
			name:  "chain",
			pages: []string{home, sports, finance},
			links: []link{{home, sports}, {sports, home}, {sports, finance}, {finance, sports}},
			want:  map[string]float64{home: 0.2569, sports: 0.4860, finance: 0.2569},
		},
		{
			// finance has no outgoing links; its mass is spread over every
			// page, so it collects the most.
			name:  "dead-end",
			pages: []string{home, sports, finance},
			links: []link{{home, sports}, {sports, finance}},
			want:  map[string]float64{home: 0.1842, sports: 0.3411, finance: 0.4745},
		},
		{
			// Two dead-ends with the same in-links end up equal. The
			// repeated link counts once.
			name:  "dangling siblings",
			pages: []string{home, sports, finance},
			links: []link{{home, sports}, {home, finance}, {home, finance}},
			want:  map[string]float64{home: 0.2597, sports: 0.3701, finance: 0.3701},
		},
		{
			name:  "single page",
			pages: []string{home},
			want:  map[string]float64{home: 1.0},
		},
	}

	for _, tc := range cases {
		s.assertScores(c, tc)
	}
}

func (s *CalculatorTestSuite) TestSelfLinksAreIgnored(c *check.C) {
	calc, err := pagerank.NewCalculator(pagerank.Config{
		MaxIterations: 3,
		Tolerance:     1e-12,
	})
	c.Assert(err, check.IsNil)
	defer func() { _ = calc.Close() }()

	for _, id := range []string{home, sports, finance} {
		calc.AddVertex(id)
	}
	c.Assert(calc.AddEdge(home, sports), check.IsNil)
	c.Assert(calc.AddEdge(sports, finance), check.IsNil)
	c.Assert(calc.AddEdge(home, home), check.IsNil)

	c.Assert(calc.CalculatePageRanks(context.TODO()), check.IsNil)
	c.Assert(calc.Iterations(), check.Equals, 3)
	c.Assert(calc.Graph().Vertices()[home].Edges(), check.DeepEquals, []string{sports})
}

func (s *CalculatorTestSuite) TestConfigValidation(c *check.C) {
	_, err := pagerank.NewCalculator(pagerank.Config{DampingFactor: 1.5, MaxIterations: -1, Tolerance: -1})
	c.Assert(err, check.ErrorMatches, "(?ms).*invalid damping factor.*invalid max iterations.*invalid tolerance.*")
}

func (s *CalculatorTestSuite) TestCancelledCalculation(c *check.C) {
	calc, err := pagerank.NewCalculator(pagerank.Config{})
	c.Assert(err, check.IsNil)
	defer func() { _ = calc.Close() }()

	calc.AddVertex(home)
	calc.AddVertex(sports)
	c.Assert(calc.AddEdge(home, sports), check.IsNil)

	ctx, cancelFn := context.WithCancel(context.TODO())
	cancelFn()
	c.Assert(calc.CalculatePageRanks(ctx), check.NotNil)
}

func (s *CalculatorTestSuite) TestConvergenceForLargeCrawls(c *check.C) {
	const numOfPages, maxOutLinks = 100000, 7

	calc, err := pagerank.NewCalculator(pagerank.Config{
		ComputeWorkers: 32,
		Tolerance:      0.001,
	})
	c.Assert(err, check.IsNil)
	defer func() { _ = calc.Close() }()

	rng := rand.New(rand.NewSource(42))
	urls := make([]string, numOfPages)
	for i := range urls {
		urls[i] = fmt.Sprintf("http://news.example.cn/%d.html", i)
	}

	start := time.Now()
	for _, u := range urls {
		calc.AddVertex(u)
		for j := rng.Intn(maxOutLinks); j > 0; j-- {
			c.Assert(calc.AddEdge(u, urls[rng.Intn(numOfPages)]), check.IsNil)
		}
	}
	c.Logf("built link graph of %d pages in %v", numOfPages, time.Since(start).Truncate(time.Millisecond))

	start = time.Now()
	c.Assert(calc.CalculatePageRanks(context.TODO()), check.IsNil)
	c.Logf("converged after %d iterations in %v", calc.Iterations(), time.Since(start).Truncate(time.Millisecond))

	c.Assert(math.Abs(1.0-s.sum(c, calc)) <= 0.001, check.Equals, true)
}

func (s *CalculatorTestSuite) assertScores(c *check.C, tc linkGraphCase) {
	calc, err := pagerank.NewCalculator(pagerank.Config{
		ComputeWorkers: 2,
		DampingFactor:  0.85,
	})
	c.Assert(err, check.IsNil)
	defer func() { _ = calc.Close() }()

	for _, id := range tc.pages {
		calc.AddVertex(id)
	}
	for _, l := range tc.links {
		c.Assert(calc.AddEdge(l.from, l.to), check.IsNil)
	}

	c.Assert(calc.CalculatePageRanks(context.TODO()), check.IsNil)

	err = calc.Scores(func(id string, score float64) error {
		c.Assert(math.Abs(score-tc.want[id]) <= 0.01, check.Equals, true,
			check.Commentf("%s: expected score of %s to be %.4f +/- 0.01; got %.4f", tc.name, id, tc.want[id], score))

		return nil
	})
	c.Assert(err, check.IsNil)

	sum := s.sum(c, calc)
	c.Assert(math.Abs(1.0-sum) <= 0.001, check.Equals, true,
		check.Commentf("%s: expected scores to add up to 1.0; got %f", tc.name, sum))
}

func (s *CalculatorTestSuite) sum(c *check.C, calc *pagerank.Calculator) float64 {
	var total float64
	c.Assert(calc.Scores(func(_ string, score float64) error {
		total += score

		return nil
	}), check.IsNil)

	return total
}
