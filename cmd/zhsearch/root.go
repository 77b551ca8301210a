package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	appName   = "zhsearch"
	envPrefix = "ZHSEARCH"
)

var (
	logLevel  string
	logFormat string

	// rootLogger is configured before any subcommand runs.
	rootLogger = logrus.NewEntry(logrus.New())

	rootCmd = &cobra.Command{
		Use:           appName,
		Short:         "Crawl, index and search Chinese news pages",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupLogger(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	err := rootCmd.ExecuteContext(context.Background())
	if err != nil {
		rootLogger.WithField("err", err).Error("shutting down due to an error")
	}

	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")

	rootCmd.AddCommand(
		crawlCommand(false),
		crawlCommand(true),
		progressCommand(),
		fixEncodingCommand(),
		buildIndexCommand(),
		searchCommand(),
		termStatsCommand(),
	)
}

func setupLogger(cmd *cobra.Command) error {
	v := bindFlags(cmd)

	lvl, err := logrus.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return err
	}

	logger := logrus.New()
	logger.SetLevel(lvl)
	logger.SetOutput(os.Stderr)

	switch v.GetString("log-format") {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", v.GetString("log-format"))
	}

	host, _ := os.Hostname()
	rootLogger = logger.WithFields(logrus.Fields{
		"app":  appName,
		"host": host,
	})

	return nil
}

// bindFlags returns a viper instance that resolves every flag of cmd,
// letting ZHSEARCH_<FLAG_NAME> environment variables stand in for flags
// that were not passed explicitly.
func bindFlags(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
	})

	return v
}

// signalContext returns a context that is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancelFn := context.WithCancel(parent)

	go func() {
		signalChan := make(chan os.Signal, 1)
		signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(signalChan)

		select {
		case s := <-signalChan:
			rootLogger.WithField("signal", s.String()).Info("shutting down due to os signal")
			cancelFn()
		case <-ctx.Done():
		}
	}()

	return ctx, cancelFn
}
