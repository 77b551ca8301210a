package memory

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	check "gopkg.in/check.v1"

	"github.com/mycok/zhsearch/linkgraph/graph"
)

var _ = check.Suite(new(InMemoryGraphTestSuite))

func Test(t *testing.T) {
	check.TestingT(t)
}

type InMemoryGraphTestSuite struct {
	g *InMemoryGraph
}

func (s *InMemoryGraphTestSuite) SetUpTest(c *check.C) {
	s.g = NewInMemoryGraph()
}

func (s *InMemoryGraphTestSuite) TestUpsertLinkReusesID(c *check.C) {
	first := &graph.Link{URL: "https://example.com/a"}
	c.Assert(s.g.UpsertLink(first), check.IsNil)
	c.Assert(first.ID, check.Not(check.Equals), uuid.Nil)
	c.Assert(first.DiscoveredAt.IsZero(), check.Equals, false)

	dup := &graph.Link{URL: "https://example.com/a"}
	c.Assert(s.g.UpsertLink(dup), check.IsNil)
	c.Assert(dup.ID, check.Equals, first.ID, check.Commentf("link ID changed while upserting"))
	c.Assert(dup.DiscoveredAt.Equal(first.DiscoveredAt), check.Equals, true)

	found, err := s.g.FindLink(first.ID)
	c.Assert(err, check.IsNil)
	c.Assert(found.URL, check.Equals, "https://example.com/a")
}

func (s *InMemoryGraphTestSuite) TestFindUnknownLink(c *check.C) {
	_, err := s.g.FindLink(uuid.New())
	c.Assert(errors.Is(err, graph.ErrNotFound), check.Equals, true)
}

func (s *InMemoryGraphTestSuite) TestUpsertEdgeDeduplicates(c *check.C) {
	ids := s.upsertLinks(c, 2)

	e := &graph.Edge{Src: ids[0], Dst: ids[1]}
	c.Assert(s.g.UpsertEdge(e), check.IsNil)
	c.Assert(e.ID, check.Not(check.Equals), uuid.Nil)

	again := &graph.Edge{Src: ids[0], Dst: ids[1]}
	c.Assert(s.g.UpsertEdge(again), check.IsNil)
	c.Assert(again.ID, check.Equals, e.ID)

	it, err := s.g.Edges()
	c.Assert(err, check.IsNil)

	var count int
	for it.Next() {
		count++
	}
	c.Assert(it.Error(), check.IsNil)
	c.Assert(it.Close(), check.IsNil)
	c.Assert(count, check.Equals, 1)
}

func (s *InMemoryGraphTestSuite) TestUpsertEdgeUnknownLinks(c *check.C) {
	ids := s.upsertLinks(c, 1)

	err := s.g.UpsertEdge(&graph.Edge{Src: ids[0], Dst: uuid.New()})
	c.Assert(errors.Is(err, graph.ErrUnknownEdgeLinks), check.Equals, true)
}

func (s *InMemoryGraphTestSuite) TestLinksIterateInInsertionOrder(c *check.C) {
	ids := s.upsertLinks(c, 5)

	it, err := s.g.Links()
	c.Assert(err, check.IsNil)

	var got []uuid.UUID
	for it.Next() {
		got = append(got, it.Link().ID)
	}
	c.Assert(got, check.DeepEquals, ids)
}

func (s *InMemoryGraphTestSuite) TestReset(c *check.C) {
	s.upsertLinks(c, 3)
	c.Assert(s.g.Reset(), check.IsNil)

	it, err := s.g.Links()
	c.Assert(err, check.IsNil)
	c.Assert(it.Next(), check.Equals, false)
}

func (s *InMemoryGraphTestSuite) TestConcurrentUpserts(c *check.C) {
	var wg sync.WaitGroup

	const workers = 8
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = s.g.UpsertLink(&graph.Link{URL: fmt.Sprintf("https://example.com/%d", i)})
			}
		}()
	}
	wg.Wait()

	it, err := s.g.Links()
	c.Assert(err, check.IsNil)

	var count int
	for it.Next() {
		count++
	}
	c.Assert(count, check.Equals, 50)
}

func (s *InMemoryGraphTestSuite) upsertLinks(c *check.C, n int) []uuid.UUID {
	ids := make([]uuid.UUID, n)
	for i := range ids {
		l := &graph.Link{URL: fmt.Sprintf("https://example.com/%d", i)}
		c.Assert(s.g.UpsertLink(l), check.IsNil)
		ids[i] = l.ID
	}

	return ids
}
