package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
)

// Artifact names written by Builder.Run.
const (
	InvertedIndexFile = "inverted_index.json"
	VocabularyFile    = "vocabulary.txt"
	DocLengthsFile    = "doc_lengths.json"
	MetadataFile      = "document_metadata.json"
	DocIDMappingFile  = "doc_id_mapping.json"
	IndexInfoFile     = "index_metadata.json"
	ReportFile        = "index_results.json"
)

// DefaultMinWeight is the optimization threshold used when none is set.
const DefaultMinWeight = 0.01

const timeLayout = "2006-01-02 15:04:05"

// BuilderConfig configures a Builder.
type BuilderConfig struct {
	// OutputDir receives the artifacts. It is created when missing.
	OutputDir string

	// Optimize drops postings weighing less than MinWeight.
	Optimize  bool
	MinWeight float64

	// Clock used for the build timestamps. Defaults to the wall clock.
	Clock clock.Clock

	// Logger for build progress. Defaults to a discard logger.
	Logger *logrus.Entry
}

func (cfg *BuilderConfig) validate() error {
	var err error
	if cfg.OutputDir == "" {
		err = multierror.Append(err, fmt.Errorf("output directory has not been provided"))
	}
	if cfg.MinWeight < 0 {
		err = multierror.Append(err, fmt.Errorf("min weight must not be negative"))
	}
	if cfg.Optimize && cfg.MinWeight == 0 {
		cfg.MinWeight = DefaultMinWeight
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
	}

	return err
}

// BuildInput holds the data of one index build.
type BuildInput struct {
	Matrix     WeightMatrix
	Vocabulary []string

	// DocIDs maps matrix rows to document ids. Optional.
	DocIDs []int

	// Metadata must either be empty or hold one row per matrix row.
	Metadata []DocumentMetadata
}

// IndexInfo is the content of index_metadata.json.
type IndexInfo struct {
	CreatedAt          string             `json:"index_created_time"`
	TotalDocuments     int                `json:"total_documents"`
	VocabularySize     int                `json:"vocabulary_size"`
	TotalIndexEntries  int                `json:"total_index_entries"`
	AveragePostings    float64            `json:"average_postings_per_term"`
	UsesOriginalDocIDs bool               `json:"uses_original_doc_ids"`
	Optimized          bool               `json:"optimized"`
	Optimization       *OptimizationStats `json:"optimization,omitempty"`
}

// Report is the content of index_results.json.
type Report struct {
	BuildID            string             `json:"build_id"`
	DocumentStatistics DocumentStatistics `json:"document_statistics"`
	IndexStatistics    IndexStatistics    `json:"index_statistics"`
	PerformanceMetrics PerformanceMetrics `json:"performance_metrics"`
	OutputFiles        OutputFiles        `json:"output_files"`
}

// DocumentStatistics describes the indexed documents.
type DocumentStatistics struct {
	TotalDocuments int  `json:"total_documents"`
	HasMetadata    bool `json:"has_metadata"`
}

// IndexStatistics describes the written index.
type IndexStatistics struct {
	TotalTerms      int                `json:"total_terms"`
	VocabularySize  int                `json:"vocabulary_size"`
	TotalPostings   int                `json:"total_postings"`
	AveragePostings float64            `json:"average_postings_per_term"`
	Optimization    *OptimizationStats `json:"optimization,omitempty"`
}

// PerformanceMetrics records how long the build took.
type PerformanceMetrics struct {
	StartTime    string  `json:"build_start_time"`
	EndTime      string  `json:"build_end_time"`
	TotalSeconds float64 `json:"total_build_time_seconds"`
}

// OutputFiles lists the sizes of the artifacts written before the report.
type OutputFiles struct {
	Files      map[string]int64 `json:"files"`
	TotalBytes int64            `json:"total_size_bytes"`
}

// Builder builds an inverted index and writes its artifacts.
type Builder struct {
	cfg BuilderConfig
}

// NewBuilder returns a Builder for cfg.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("index builder config validation failed: %w", err)
	}

	return &Builder{cfg: cfg}, nil
}

// Run builds the index described by in, optionally optimizes it and writes
// every artifact to the output directory. Artifacts are staged in a
// temporary directory first so a failed run leaves the previous output
// untouched.
func (b *Builder) Run(ctx context.Context, in BuildInput) (*Report, error) {
	start := b.cfg.Clock.Now()
	logger := b.cfg.Logger.WithField("output_dir", b.cfg.OutputDir)

	idx, err := Build(in.Matrix, in.Vocabulary, in.DocIDs)
	if err != nil {
		return nil, fmt.Errorf("build inverted index: %w", err)
	}
	if len(in.Metadata) != 0 && len(in.Metadata) != in.Matrix.Rows() {
		return nil, fmt.Errorf("%d metadata rows for %d matrix rows: %w", len(in.Metadata), in.Matrix.Rows(), ErrShapeMismatch)
	}

	logger.WithFields(logrus.Fields{
		"terms":   len(idx),
		"entries": idx.Entries(),
	}).Info("inverted index built")

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opt *OptimizationStats
	if b.cfg.Optimize {
		var stats OptimizationStats
		idx, stats = Optimize(idx, b.cfg.MinWeight)
		opt = &stats

		logger.WithFields(logrus.Fields{
			"threshold":         stats.Threshold,
			"terms_removed_pct": stats.ReductionPercentage.Terms,
			"entries_removed":   stats.OriginalEntries - stats.OptimizedEntries,
		}).Info("inverted index optimized")
	}

	info := &IndexInfo{
		CreatedAt:          start.Format(timeLayout),
		TotalDocuments:     in.Matrix.Rows(),
		VocabularySize:     len(in.Vocabulary),
		TotalIndexEntries:  idx.Entries(),
		AveragePostings:    idx.AveragePostings(),
		UsesOriginalDocIDs: in.DocIDs != nil,
		Optimized:          opt != nil,
		Optimization:       opt,
	}

	files := []artifact{
		{InvertedIndexFile, idx, false},
		{VocabularyFile, newVocabularyText(in.Vocabulary), false},
		{DocLengthsFile, DocLengths(in.Matrix), false},
		{IndexInfoFile, info, true},
	}
	// An absent metadata file means the index has no metadata table.
	var stale []string
	if len(in.Metadata) != 0 {
		files = append(files, artifact{MetadataFile, in.Metadata, true})
	} else {
		stale = append(stale, MetadataFile)
	}
	if in.DocIDs != nil {
		files = append(files, artifact{DocIDMappingFile, in.DocIDs, false})
	} else {
		stale = append(stale, DocIDMappingFile)
	}

	if err := os.MkdirAll(b.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	staging, err := os.MkdirTemp(b.cfg.OutputDir, ".staging-")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(staging) }()

	out := OutputFiles{Files: make(map[string]int64)}
	for _, f := range files {
		n, err := f.write(staging)
		if err != nil {
			return nil, err
		}
		out.Files[f.name] = n
		out.TotalBytes += n
	}

	end := b.cfg.Clock.Now()
	report := &Report{
		BuildID: uuid.New().String(),
		DocumentStatistics: DocumentStatistics{
			TotalDocuments: in.Matrix.Rows(),
			HasMetadata:    len(in.Metadata) != 0,
		},
		IndexStatistics: IndexStatistics{
			TotalTerms:      len(idx),
			VocabularySize:  len(in.Vocabulary),
			TotalPostings:   idx.Entries(),
			AveragePostings: idx.AveragePostings(),
			Optimization:    opt,
		},
		PerformanceMetrics: PerformanceMetrics{
			StartTime:    start.Format(timeLayout),
			EndTime:      end.Format(timeLayout),
			TotalSeconds: end.Sub(start).Seconds(),
		},
		OutputFiles: out,
	}

	reportFile := artifact{ReportFile, report, true}
	if _, err := reportFile.write(staging); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := b.publish(staging, append(files, reportFile), stale); err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"build_id": report.BuildID,
		"bytes":    out.TotalBytes,
		"took":     end.Sub(start).String(),
	}).Info("index artifacts written")

	return report, nil
}

// publish moves the staged artifacts into the output directory and removes
// the optional artifacts this build did not produce, so that none are left
// over from an earlier build.
func (b *Builder) publish(staging string, files []artifact, stale []string) error {
	for _, f := range files {
		if err := os.Rename(filepath.Join(staging, f.name), filepath.Join(b.cfg.OutputDir, f.name)); err != nil {
			return fmt.Errorf("publish %s: %w", f.name, err)
		}
	}

	for _, name := range stale {
		if err := os.Remove(filepath.Join(b.cfg.OutputDir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale %s: %w", name, err)
		}
	}

	return nil
}

type artifact struct {
	name   string
	value  interface{}
	indent bool
}

func (a artifact) write(dir string) (int64, error) {
	var buf bytes.Buffer

	if text, ok := a.value.(vocabularyText); ok {
		buf.WriteString(string(text))
	} else {
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if a.indent {
			enc.SetIndent("", "  ")
		}
		if err := enc.Encode(a.value); err != nil {
			return 0, fmt.Errorf("encode %s: %w", a.name, err)
		}
	}

	if err := os.WriteFile(filepath.Join(dir, a.name), buf.Bytes(), 0o644); err != nil {
		return 0, fmt.Errorf("write %s: %w", a.name, err)
	}

	return int64(buf.Len()), nil
}

type vocabularyText string

func newVocabularyText(terms []string) vocabularyText {
	var sb strings.Builder
	for _, t := range terms {
		sb.WriteString(t)
		sb.WriteByte('\n')
	}

	return vocabularyText(sb.String())
}
