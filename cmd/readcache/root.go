package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/go-readcache/pkg/client"
	"github.com/illmade-knight/go-readcache/pkg/config"
	"github.com/illmade-knight/go-readcache/pkg/ranking"
	"github.com/illmade-knight/go-readcache/pkg/service"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "readcache",
		Short:         "Read-through cache for GitHub organization metrics",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCommand(), newTopCommand(os.Stdout))
	return root
}

type serveFlags struct {
	configPath   string
	port         string
	logLevel     string
	organization string
}

func newServeCommand() *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Fetch every metric once, then serve and refresh them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "path to the YAML config file")
	cmd.Flags().StringVar(&flags.port, "port", "", "HTTP listen address, e.g. :8080")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&flags.organization, "org", "", "GitHub organization to cache")
	return cmd
}

// loadConfig loads the file and environment, then applies flags that were
// set explicitly.
func loadConfig(cmd *cobra.Command, flags serveFlags) (*config.Config, error) {
	return config.Load(flags.configPath, func(cfg *config.Config) {
		if cmd.Flags().Changed("port") {
			cfg.HTTPPort = flags.port
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = flags.logLevel
		}
		if cmd.Flags().Changed("org") {
			cfg.Organization = flags.organization
		}
	})
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Str("service", cfg.ServiceName).Logger()
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := service.BuildDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building dependencies: %w", err)
	}
	svc, err := service.NewReadCacheService(cfg, deps, logger)
	if err != nil {
		return err
	}

	startErr := svc.Start(ctx)
	if startErr == nil {
		logger.Info().Str("port", svc.GetHTTPPort()).Str("organization", cfg.Organization).Msg("Service started.")
		<-ctx.Done()
		logger.Info().Msg("Shutdown signal received.")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Shutdown finished with errors.")
		if startErr == nil {
			return err
		}
	}
	return startErr
}

func newTopCommand(out io.Writer) *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "top N CRITERION",
		Short: "Print the top N repositories of a running instance",
		Long: fmt.Sprintf("Print the top N repositories of a running instance, ranked by one of %v.",
			ranking.AllCriteria()),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var n int
			if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil {
				return fmt.Errorf("invalid N %q: %w", args[0], err)
			}
			criterion, err := ranking.ParseCriterion(args[1])
			if err != nil {
				return err
			}
			c, err := client.New(server)
			if err != nil {
				return err
			}
			tuples, err := topBy(cmd.Context(), c, criterion, n)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(tuples)
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "base URL of a running readcache")
	return cmd
}

func topBy(ctx context.Context, c *client.Client, criterion ranking.Criterion, n int) ([][]any, error) {
	switch criterion {
	case ranking.Forks:
		return c.GetTopRepositoriesByForkCount(ctx, n)
	case ranking.LastUpdated:
		return c.GetTopRepositoriesByLastUpdated(ctx, n)
	case ranking.OpenIssues:
		return c.GetTopRepositoriesByOpenIssueCount(ctx, n)
	default:
		return c.GetTopRepositoriesByStarCount(ctx, n)
	}
}
