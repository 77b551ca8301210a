package main

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mycok/zhsearch/crawler"
	"github.com/mycok/zhsearch/crawler/charset"
	"github.com/mycok/zhsearch/crawler/progress"
	"github.com/mycok/zhsearch/service"
	"github.com/mycok/zhsearch/service/crawl"
	"github.com/mycok/zhsearch/service/metrics"
	"github.com/mycok/zhsearch/service/report"
)

func crawlCommand(resume bool) *cobra.Command {
	use, short := "crawl", "Start a fresh crawl from the configured start urls"
	if resume {
		use, short = "resume", "Continue a crawl that was stopped, keeping its pages"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			v := bindFlags(cmd)
			logger := rootLogger.WithField("command", use)

			cfg, err := loadCrawlConfig(v)
			if err != nil {
				return err
			}

			store, err := openStore(cfg.Storage.DSN, logger)
			if err != nil {
				return err
			}
			defer func() {
				if cErr := store.Close(); cErr != nil {
					err = multierror.Append(err, cErr)
				}
			}()

			plog, err := progress.OpenLog(progress.LogConfig{Dir: cfg.OutputDir, Logger: logger})
			if err != nil {
				return err
			}
			defer func() {
				if cErr := plog.Close(); cErr != nil {
					err = multierror.Append(err, cErr)
				}
			}()

			reg := prometheus.NewRegistry()
			cfg.Store = store
			cfg.Progress = plog
			cfg.Registerer = reg
			cfg.Logger = logger.WithField("service", "crawler")

			engine, err := crawler.New(cfg)
			if err != nil {
				return err
			}

			crawlSvc, err := crawl.New(crawl.Config{
				Engine:    engine,
				StartURLs: cfg.StartURLs,
				Resume:    resume,
				Logger:    logger.WithField("service", "crawl"),
			})
			if err != nil {
				return err
			}

			group := service.Group{crawlSvc}

			if !v.GetBool("quiet") {
				reportSvc, err := report.New(report.Config{
					Feed:   plog,
					Colors: !v.GetBool("no-color"),
					Logger: logger.WithField("service", "progress-report"),
				})
				if err != nil {
					return err
				}
				group = append(group, reportSvc)
			}

			if addr := v.GetString("metrics-addr"); addr != "" {
				metricsSvc, err := metrics.New(metrics.Config{
					ListenAddr: addr,
					Gatherer:   reg,
					Logger:     logger.WithField("service", "metrics"),
				})
				if err != nil {
					return err
				}
				group = append(group, metricsSvc)
			}

			ctx, cancelFn := signalContext(cmd.Context())
			defer cancelFn()

			return group.Execute(ctx)
		},
	}

	cmd.Flags().StringP("config", "c", "crawler_config.json", "crawl config file (json)")
	cmd.Flags().IntP("workers", "w", 0, "override crawl_settings.max_concurrent_requests")
	cmd.Flags().String("output-dir", "", "override the output directory of the config file")
	cmd.Flags().String("force-encoding", "", "decode every page with this encoding, e.g. gb18030")
	cmd.Flags().String("metrics-addr", "", "serve prometheus metrics on this address while crawling")
	cmd.Flags().Bool("no-color", false, "disable colored progress output")
	cmd.Flags().BoolP("quiet", "q", false, "do not print progress events")

	return cmd
}

// loadCrawlConfig reads the config file named by the config flag and applies
// the command line overrides that were set.
func loadCrawlConfig(v *viper.Viper) (crawler.Config, error) {
	cfg, err := crawler.LoadConfig(v.GetString("config"))
	if err != nil {
		return crawler.Config{}, err
	}

	if v.IsSet("workers") {
		workers := v.GetInt("workers")
		if workers <= 0 {
			return crawler.Config{}, fmt.Errorf("workers must be positive, got %d", workers)
		}
		cfg.CrawlSettings.MaxConcurrentRequests = workers
	}
	if v.IsSet("output-dir") && v.GetString("output-dir") != "" {
		cfg.OutputDir = v.GetString("output-dir")
	}
	if v.IsSet("force-encoding") && v.GetString("force-encoding") != "" {
		name := v.GetString("force-encoding")
		if _, err := charset.DecodeAs(name, nil); err != nil {
			return crawler.Config{}, err
		}
		cfg.EncodingSettings.ForceEncoding = name
	}

	return cfg, nil
}

func fixEncodingCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fix-encoding",
		Short: "Re-detect the encoding of stored pages and repair the misdecoded ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			v := bindFlags(cmd)
			logger := rootLogger.WithField("command", "fix-encoding")

			cfg, err := loadCrawlConfig(v)
			if err != nil {
				return err
			}

			store, err := openStore(cfg.Storage.DSN, logger)
			if err != nil {
				return err
			}
			defer func() {
				if cErr := store.Close(); cErr != nil {
					err = multierror.Append(err, cErr)
				}
			}()

			cfg.Store = store
			cfg.Logger = logger.WithField("service", "repair")

			ctx, cancelFn := signalContext(cmd.Context())
			defer cancelFn()

			report, err := crawler.RepairEncodings(ctx, cfg)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "已修复 %d 个页面的编码问题 (检查 %d, 失败 %d)\n",
				report.Fixed, report.Checked, report.Failed)

			return err
		},
	}

	cmd.Flags().StringP("config", "c", "crawler_config.json", "crawl config file (json)")
	cmd.Flags().String("force-encoding", "", "re-decode every page with this encoding")

	return cmd
}

func progressCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Follow the progress file of a crawl running in another process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := bindFlags(cmd)
			logger := rootLogger.WithField("command", "progress")

			tailer := progress.NewTailer(progress.TailerConfig{
				Dir:       v.GetString("dir"),
				FromStart: v.GetBool("from-start"),
				Logger:    logger,
			})

			reportSvc, err := report.New(report.Config{
				Feed:   tailer,
				Colors: !v.GetBool("no-color"),
				Logger: logger.WithField("service", "progress-report"),
			})
			if err != nil {
				return err
			}

			ctx, cancelFn := signalContext(cmd.Context())
			defer cancelFn()

			return service.Group{reportSvc}.Execute(ctx)
		},
	}

	cmd.Flags().StringP("dir", "d", "crawler_output", "crawl output directory holding progress.jsonl")
	cmd.Flags().Bool("from-start", false, "replay events already in the file")
	cmd.Flags().Bool("no-color", false, "disable colored output")

	return cmd
}
