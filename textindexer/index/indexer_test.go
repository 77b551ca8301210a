package index

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/clock/testclock"
	check "gopkg.in/check.v1"

	"github.com/mycok/zhsearch/pagestore/page"
	"github.com/mycok/zhsearch/pagestore/store/memory"
)

var _ = check.Suite(new(builderTestSuite))

type builderTestSuite struct {
	dir string
	clk *testclock.Clock
}

func (s *builderTestSuite) SetUpTest(c *check.C) {
	s.dir = filepath.Join(c.MkDir(), "inverted_index")
	s.clk = testclock.NewClock(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
}

func (s *builderTestSuite) builder(c *check.C, optimize bool, minWeight float64) *Builder {
	b, err := NewBuilder(BuilderConfig{
		OutputDir: s.dir,
		Optimize:  optimize,
		MinWeight: minWeight,
		Clock:     s.clk,
	})
	c.Assert(err, check.IsNil)

	return b
}

func fruitInput() BuildInput {
	return BuildInput{
		Matrix:     DenseMatrix{{0.5, 0}, {0.1, 0.3}},
		Vocabulary: []string{"apple", "banana"},
		DocIDs:     []int{1, 2},
		Metadata: []DocumentMetadata{
			{DocID: 1, Title: "苹果", Source: "水果网"},
			{DocID: 2, Title: "香蕉与苹果", Source: "水果网", PublishTime: "2024-05-01"},
		},
	}
}

func (s *builderTestSuite) TestRunWritesArtifacts(c *check.C) {
	report, err := s.builder(c, true, 0.2).Run(context.TODO(), fruitInput())
	c.Assert(err, check.IsNil)

	c.Assert(report.BuildID, check.Not(check.Equals), "")
	c.Assert(report.DocumentStatistics, check.DeepEquals, DocumentStatistics{TotalDocuments: 2, HasMetadata: true})
	c.Assert(report.IndexStatistics.TotalTerms, check.Equals, 2)
	c.Assert(report.IndexStatistics.TotalPostings, check.Equals, 2)
	c.Assert(report.IndexStatistics.Optimization, check.NotNil)
	c.Assert(report.IndexStatistics.Optimization.OriginalEntries, check.Equals, 3)
	c.Assert(report.PerformanceMetrics.StartTime, check.Equals, "2024-05-01 08:00:00")

	for _, name := range []string{InvertedIndexFile, VocabularyFile, DocLengthsFile, MetadataFile, IndexInfoFile, DocIDMappingFile} {
		c.Assert(report.OutputFiles.Files[name] > 0, check.Equals, true, check.Commentf(name))
	}

	raw, err := os.ReadFile(filepath.Join(s.dir, InvertedIndexFile))
	c.Assert(err, check.IsNil)
	c.Assert(string(raw), check.Equals, `{"apple":[[1,0.5]],"banana":[[2,0.3]]}`+"\n")

	raw, err = os.ReadFile(filepath.Join(s.dir, VocabularyFile))
	c.Assert(err, check.IsNil)
	c.Assert(string(raw), check.Equals, "apple\nbanana\n")

	var info IndexInfo
	raw, err = os.ReadFile(filepath.Join(s.dir, IndexInfoFile))
	c.Assert(err, check.IsNil)
	c.Assert(json.Unmarshal(raw, &info), check.IsNil)
	c.Assert(info.TotalDocuments, check.Equals, 2)
	c.Assert(info.VocabularySize, check.Equals, 2)
	c.Assert(info.TotalIndexEntries, check.Equals, 2)
	c.Assert(info.UsesOriginalDocIDs, check.Equals, true)
	c.Assert(info.Optimized, check.Equals, true)

	var onDisk Report
	raw, err = os.ReadFile(filepath.Join(s.dir, ReportFile))
	c.Assert(err, check.IsNil)
	c.Assert(json.Unmarshal(raw, &onDisk), check.IsNil)
	c.Assert(onDisk.BuildID, check.Equals, report.BuildID)

	// Only the artifacts are left behind.
	entries, err := os.ReadDir(s.dir)
	c.Assert(err, check.IsNil)
	c.Assert(entries, check.HasLen, 7)
}

func (s *builderTestSuite) TestSnapshotRoundTrip(c *check.C) {
	_, err := s.builder(c, false, 0).Run(context.TODO(), fruitInput())
	c.Assert(err, check.IsNil)

	snap, err := LoadSnapshot(s.dir)
	c.Assert(err, check.IsNil)
	c.Assert(snap.Index, check.DeepEquals, fruitIndex())
	c.Assert(snap.Vocabulary, check.DeepEquals, []string{"apple", "banana"})
	c.Assert(snap.DocLengths, check.HasLen, 2)
	c.Assert(snap.DocLengths[0], check.Equals, 0.5)
	c.Assert(snap.Metadata, check.DeepEquals, fruitInput().Metadata)
	c.Assert(snap.Info.Optimized, check.Equals, false)
}

func (s *builderTestSuite) TestSnapshotRequiresIndexOnly(c *check.C) {
	c.Assert(os.MkdirAll(s.dir, 0o755), check.IsNil)
	c.Assert(os.WriteFile(filepath.Join(s.dir, InvertedIndexFile), []byte(`{"apple":[[1,0.5]]}`), 0o644), check.IsNil)

	snap, err := LoadSnapshot(s.dir)
	c.Assert(err, check.IsNil)
	c.Assert(snap.Metadata, check.IsNil)
	c.Assert(snap.Vocabulary, check.IsNil)
	c.Assert(snap.Info, check.IsNil)

	c.Assert(os.WriteFile(filepath.Join(s.dir, MetadataFile), []byte(`{`), 0o644), check.IsNil)
	_, err = LoadSnapshot(s.dir)
	c.Assert(err, check.ErrorMatches, "load snapshot: decode document_metadata.json: .*")

	_, err = LoadSnapshot(c.MkDir())
	c.Assert(errors.Is(err, os.ErrNotExist), check.Equals, true)
}

func (s *builderTestSuite) TestFailedRunKeepsPreviousOutput(c *check.C) {
	_, err := s.builder(c, false, 0).Run(context.TODO(), fruitInput())
	c.Assert(err, check.IsNil)
	before, err := os.ReadFile(filepath.Join(s.dir, InvertedIndexFile))
	c.Assert(err, check.IsNil)

	in := fruitInput()
	in.Metadata = in.Metadata[:1]
	_, err = s.builder(c, false, 0).Run(context.TODO(), in)
	c.Assert(errors.Is(err, ErrShapeMismatch), check.Equals, true)

	in = fruitInput()
	in.Vocabulary = nil
	_, err = s.builder(c, false, 0).Run(context.TODO(), in)
	c.Assert(errors.Is(err, ErrMissingVocabulary), check.Equals, true)

	after, err := os.ReadFile(filepath.Join(s.dir, InvertedIndexFile))
	c.Assert(err, check.IsNil)
	c.Assert(after, check.DeepEquals, before)

	entries, err := os.ReadDir(s.dir)
	c.Assert(err, check.IsNil)
	c.Assert(entries, check.HasLen, 7)
}

func (s *builderTestSuite) TestRunWithoutMappingRemovesStaleMapping(c *check.C) {
	_, err := s.builder(c, false, 0).Run(context.TODO(), fruitInput())
	c.Assert(err, check.IsNil)

	in := fruitInput()
	in.DocIDs = nil
	in.Metadata = nil
	_, err = s.builder(c, false, 0).Run(context.TODO(), in)
	c.Assert(err, check.IsNil)

	for _, name := range []string{DocIDMappingFile, MetadataFile} {
		_, err = os.Stat(filepath.Join(s.dir, name))
		c.Assert(os.IsNotExist(err), check.Equals, true, check.Commentf(name))
	}

	snap, err := LoadSnapshot(s.dir)
	c.Assert(err, check.IsNil)
	c.Assert(snap.Index["banana"], check.DeepEquals, []Posting{{DocID: 1, Weight: 0.3}})
	c.Assert(snap.Metadata, check.IsNil)
}

func (s *builderTestSuite) TestRunHonoursCancellation(c *check.C) {
	ctx, cancel := context.WithCancel(context.TODO())
	cancel()

	_, err := s.builder(c, false, 0).Run(ctx, fruitInput())
	c.Assert(errors.Is(err, context.Canceled), check.Equals, true)

	_, err = os.Stat(filepath.Join(s.dir, InvertedIndexFile))
	c.Assert(os.IsNotExist(err), check.Equals, true)
}

func (s *builderTestSuite) TestBuilderConfig(c *check.C) {
	_, err := NewBuilder(BuilderConfig{MinWeight: -1})
	c.Assert(err, check.ErrorMatches, `(?s)index builder config validation failed: 2 errors occurred.*`)

	b, err := NewBuilder(BuilderConfig{OutputDir: s.dir, Optimize: true})
	c.Assert(err, check.IsNil)
	c.Assert(b.cfg.MinWeight, check.Equals, DefaultMinWeight)
}

func (s *builderTestSuite) TestMetadataFromPages(c *check.C) {
	long := "今天的新闻内容非常丰富，包括国内外的政治、经济、文化、体育等各个方面的报道，读者可以从中了解到最新的动态。"
	pages := []page.Page{
		{URL: "http://news.example.cn/1", Title: "头条", Source: "新华网", PublishTime: "2024-05-01", Content: long},
		{URL: "http://news.example.cn/2", Title: "短讯", Content: "简短"},
	}

	table := MetadataFromPages(pages, []int{10, 11})
	c.Assert(table, check.HasLen, 2)
	c.Assert(table[0].DocID, check.Equals, 10)
	c.Assert(table[0].Source, check.Equals, "新华网")
	c.Assert(table[0].ContentPreview, check.Equals, string([]rune(long)[:50])+"...")
	c.Assert(table[1].ContentPreview, check.Equals, "简短")

	table = MetadataFromPages(pages, nil)
	c.Assert(table[1].DocID, check.Equals, 1)
}

func (s *builderTestSuite) TestLoadPagesFollowsStoreOrder(c *check.C) {
	store := memory.NewInMemoryStore()
	sess, err := store.Session(context.TODO())
	c.Assert(err, check.IsNil)

	for _, u := range []string{"http://b.example.cn/", "http://a.example.cn/"} {
		c.Assert(sess.SavePage(context.TODO(), &page.Page{URL: u, Title: u, Content: "正文"}), check.IsNil)
	}

	pages, err := LoadPages(context.TODO(), store)
	c.Assert(err, check.IsNil)
	c.Assert(pages, check.HasLen, 2)
	c.Assert(pages[0].URL, check.Equals, "http://a.example.cn/")
	c.Assert(pages[1].URL, check.Equals, "http://b.example.cn/")
}
