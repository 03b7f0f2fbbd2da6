package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/brettboylen/mischief-tracker/server"
	"github.com/brettboylen/mischief-tracker/utils"
)

var (
	envPath  string
	logLevel string
	version  = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "mischief-tracker",
	Short: "Scrapes Mission Mischief hashtags and publishes the game leaderboard",
	Long: `mischief-tracker collects #missionmischief posts from several redundant
scrapers, parses the hashtag protocol, deduplicates posts against each
source's history and reconciles the per-source views into one published
leaderboard, geography and mission table.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scrape loop and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := setupLogger(logLevel)
		log.Info("Starting Mission Mischief Tracker")

		config, err := utils.LoadConfig(envPath, log)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		log.WithFields(logrus.Fields{
			"sources":         config.SourceNames(),
			"scrape_interval": config.Scrape.Interval.String(),
			"history_backend": config.History.Backend,
			"server_port":     config.Server.Port,
		}).Info("Configuration loaded")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		a, err := newApp(ctx, config, log)
		if err != nil {
			return err
		}
		defer a.Close()

		srv := server.New(a.cache, a.collector, a.justice, server.Options{
			MaxRequestsPerMinute: config.Server.MaxRequestsPerMinute,
			Gatherer:             a.registry,
			Ping:                 a.database.Ping,
		}, log)

		go waitForShutdown(cancel, log)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.Start(gctx, config.Server.Port)
		})
		g.Go(func() error {
			if err := a.collector.Start(gctx); err != nil && err != context.Canceled {
				return fmt.Errorf("collector stopped unexpectedly: %w", err)
			}
			return nil
		})

		err = g.Wait()
		log.Info("Mission Mischief Tracker stopped")
		return err
	},
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run a single scrape, publish it and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := setupLogger(logLevel)

		config, err := utils.LoadConfig(envPath, log)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go waitForShutdown(cancel, log)

		a, err := newApp(ctx, config, log)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.collector.RunOnce(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mischief-tracker %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envPath, "env", ".env", "Path to .env file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Logging level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd, scrapeCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogger sets up the logger with the specified log level
func setupLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// waitForShutdown cancels ctx on SIGINT or SIGTERM
func waitForShutdown(cancel context.CancelFunc, log *logrus.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithField("signal", sig.String()).Info("Shutdown signal received")

	cancel()
}
