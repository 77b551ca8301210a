package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/mycok/zhsearch/textindexer/index"
	"github.com/mycok/zhsearch/textindexer/search"
	"github.com/mycok/zhsearch/textindexer/tokenize"
)

func loadEngine(cmd *cobra.Command, dir, tokenizer string) (*search.Engine, error) {
	tok, err := tokenize.ByName(tokenizer)
	if err != nil {
		return nil, err
	}

	snap, err := index.LoadSnapshot(dir)
	if err != nil {
		return nil, err
	}

	engine := search.NewEngine(search.Config{
		Tokenizer: tok,
		Logger:    rootLogger.WithField("command", cmd.Name()),
	})
	if err = engine.Load(snap); err != nil {
		return nil, err
	}

	return engine, nil
}

func searchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Rank the indexed documents against a query",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := bindFlags(cmd)

			query := v.GetString("query")
			if len(args) == 1 {
				query = args[0]
			}
			if strings.TrimSpace(query) == "" {
				return fmt.Errorf("a query must be provided")
			}

			engine, err := loadEngine(cmd, v.GetString("index"), v.GetString("tokenizer"))
			if err != nil {
				return err
			}

			var threshold *float64
			if v.IsSet("threshold") {
				t := v.GetFloat64("threshold")
				threshold = &t
			}

			results, err := engine.Search(cmd.Context(), query, v.GetInt("top-k"), threshold)
			if err != nil {
				return err
			}

			renderResults(query, results)

			return nil
		},
	}

	cmd.Flags().StringP("index", "i", "index_output", "index directory written by build-index")
	cmd.Flags().StringP("query", "q", "", "query text")
	cmd.Flags().IntP("top-k", "k", 10, "number of results")
	cmd.Flags().Float64("threshold", 0, "drop results scoring below this value")
	cmd.Flags().String("tokenizer", "cjk", "query tokenizer (cjk or whitespace)")

	return cmd
}

func renderResults(query string, results []search.Result) {
	if len(results) == 0 {
		fmt.Printf("no documents match %q\n", query)
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.Style().Options.SeparateRows = true
	t.SetTitle(fmt.Sprintf("%d results for %q", len(results), query))
	t.AppendHeader(table.Row{"#", "Doc", "Score", "Matched", "Title", "URL"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, WidthMax: 40},
		{Number: 6, WidthMax: 60, Colors: text.Colors{text.FgBlue}},
	})

	for i, r := range results {
		var title, url string
		if r.Metadata != nil {
			title, url = r.Metadata.Title, r.Metadata.URL
		}
		t.AppendRow(table.Row{
			i + 1, r.DocID, fmt.Sprintf("%.4f", r.Score), strings.Join(r.MatchedTerms, " "), title, url,
		})
	}

	t.Render()
}

func termStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "term-stats [term...]",
		Short: "Show posting statistics for terms, or for every term when none are given",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := bindFlags(cmd)

			engine, err := loadEngine(cmd, v.GetString("index"), "whitespace")
			if err != nil {
				return err
			}

			stats, err := engine.TermStats(args...)
			if err != nil {
				return err
			}

			if limit := v.GetInt("limit"); limit > 0 && len(stats) > limit {
				stats = stats[:limit]
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"Term", "DF", "Max TF-IDF", "Avg TF-IDF"})
			for _, st := range stats {
				t.AppendRow(table.Row{
					st.Term, st.DocumentFrequency, fmt.Sprintf("%.4f", st.MaxWeight), fmt.Sprintf("%.4f", st.AvgWeight),
				})
			}
			t.Render()

			return nil
		},
	}

	cmd.Flags().StringP("index", "i", "index_output", "index directory written by build-index")
	cmd.Flags().IntP("limit", "n", 20, "show at most this many terms; 0 shows all")

	return cmd
}
