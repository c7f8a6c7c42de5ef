// Command guildlink serves the linked character aggregate between two guilds.
//
// Logging:
//   - The base zerolog logger is created here from LOG_LEVEL
//   - Components receive it through their constructors and scope it with a component field
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/illmade-knight/guildlink/pkg/aggregator"
	"github.com/illmade-knight/guildlink/pkg/config"
	"github.com/illmade-knight/guildlink/pkg/microservice"
	"github.com/illmade-knight/guildlink/pkg/query"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "guildlink",
		Short:         "Link alt characters in one guild to their mains in another",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newServeCommand(), newAggregateCommand())
	return root
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			prewarm, _ := cmd.Flags().GetBool("prewarm")
			return runServe(cmd.Context(), prewarm)
		},
	}
	cmd.Flags().Bool("prewarm", false, "compute the aggregate at startup when no fresh snapshot is persisted")
	return cmd
}

func runServe(parent context.Context, prewarm bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel).With().Str("service", cfg.ServiceName).Logger()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := shutdownContext()
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Error().Err(err).Msg("Error releasing resources.")
		}
	}()

	if err := a.store.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("Could not restore persisted snapshot, starting empty.")
	}

	svc := microservice.NewLinkService(cfg.HTTPPort, a.store, query.NewService(a.store), logger)
	if err := svc.Start(); err != nil {
		return err
	}
	logger.Info().
		Str("source_guild", cfg.SourceGuild).
		Str("target_guild", cfg.TargetGuild).
		Str("cache_backend", cfg.Cache.Backend).
		Dur("ttl", cfg.Cache.TTL).
		Msg("guildlink started.")

	g, gctx := errgroup.WithContext(ctx)
	if prewarm {
		g.Go(func() error {
			if _, err := a.store.Get(gctx); err != nil {
				logger.Warn().Err(err).Msg("Prewarm failed, the first request will recompute.")
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := shutdownContext()
		defer cancel()
		return svc.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("guildlink stopped.")
	return nil
}

func newAggregateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Compute the aggregate once and print it as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			persist, _ := cmd.Flags().GetBool("persist")
			return runAggregate(cmd.Context(), cmd, persist)
		},
	}
	cmd.Flags().Bool("persist", false, "store the result in the configured cache backend")
	return cmd
}

func runAggregate(parent context.Context, cmd *cobra.Command, persist bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := shutdownContext()
		defer cancel()
		_ = a.Close(closeCtx)
	}()

	recompute := a.agg.For(cfg.SourceGuild, cfg.TargetGuild)
	if persist {
		recompute = a.store.Refresh
	}
	snapshot, err := recompute(ctx)
	if err != nil {
		if errors.Is(err, aggregator.ErrSourceGuildNotFound) {
			return fmt.Errorf("guild %q could not be resolved: %w", cfg.SourceGuild, err)
		}
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(snapshot)
}
