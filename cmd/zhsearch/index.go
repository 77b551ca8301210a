package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/mycok/zhsearch/textindexer/index"
)

func buildIndexCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build-index",
		Short: "Build an inverted index from a TF-IDF matrix and its vocabulary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			v := bindFlags(cmd)
			logger := rootLogger.WithField("command", "build-index")

			in := index.BuildInput{}
			if in.Matrix, err = index.LoadMatrix(v.GetString("matrix")); err != nil {
				return err
			}
			if in.Vocabulary, err = index.LoadVocabulary(v.GetString("vocabulary")); err != nil {
				return err
			}
			if path := v.GetString("doc-ids"); path != "" {
				if in.DocIDs, err = index.LoadDocIDs(path); err != nil {
					return err
				}
			}

			if dsn := v.GetString("pages-dsn"); dsn != "" {
				store, err := openStore(dsn, logger)
				if err != nil {
					return err
				}

				pages, err := index.LoadPages(cmd.Context(), store)
				if cErr := store.Close(); cErr != nil {
					err = multierror.Append(err, cErr)
				}
				if err != nil {
					return err
				}

				in.Metadata = index.MetadataFromPages(pages, in.DocIDs)
			}

			builder, err := index.NewBuilder(index.BuilderConfig{
				OutputDir: v.GetString("out"),
				Optimize:  v.GetBool("optimize"),
				MinWeight: v.GetFloat64("min-weight"),
				Logger:    logger,
			})
			if err != nil {
				return err
			}

			report, err := builder.Run(cmd.Context(), in)
			if err != nil {
				return err
			}

			renderReport(report)

			return nil
		},
	}

	cmd.Flags().String("matrix", "tfidf_matrix.json", "TF-IDF matrix, dense or sparse json")
	cmd.Flags().String("vocabulary", "vocabulary.txt", "vocabulary file, one term per line")
	cmd.Flags().String("doc-ids", "", "json array mapping matrix rows to document ids")
	cmd.Flags().String("pages-dsn", "", "page store to build the metadata table from")
	cmd.Flags().Bool("optimize", false, "drop postings below --min-weight")
	cmd.Flags().Float64("min-weight", index.DefaultMinWeight, "minimum posting weight kept when optimizing")
	cmd.Flags().StringP("out", "o", "index_output", "output directory")

	return cmd
}

func renderReport(r *index.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("index build " + r.BuildID)

	stats := r.IndexStatistics
	t.AppendRows([]table.Row{
		{"documents", r.DocumentStatistics.TotalDocuments},
		{"metadata", r.DocumentStatistics.HasMetadata},
		{"terms", stats.TotalTerms},
		{"vocabulary", stats.VocabularySize},
		{"postings", stats.TotalPostings},
		{"avg postings/term", fmt.Sprintf("%.2f", stats.AveragePostings)},
	})
	if opt := stats.Optimization; opt != nil {
		t.AppendRow(table.Row{"reduction", fmt.Sprintf("%.2f%% of postings (min weight %g)",
			opt.ReductionPercentage.Entries, opt.Threshold)})
	}
	t.AppendRow(table.Row{"build time", fmt.Sprintf("%.3fs", r.PerformanceMetrics.TotalSeconds)})
	t.AppendSeparator()

	names := make([]string, 0, len(r.OutputFiles.Files))
	for name := range r.OutputFiles.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t.AppendRow(table.Row{name, r.OutputFiles.Files[name]})
	}
	t.AppendFooter(table.Row{"total bytes", r.OutputFiles.TotalBytes})

	t.Render()
}
