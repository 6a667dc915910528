package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"raidboard/internal/app"
	"raidboard/internal/catalog"
	"raidboard/internal/config"
)

// FUNCTIONAL DISCOVERY: Main entry point with comprehensive error handling and signal management
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "raidboard",
		Short:        "Coordinate multiplayer raid sessions",
		Long:         `raidboard runs the raid-session coordinator: players form parties for catalog dungeons, the leader starts the encounter once the party is ready, and outcomes and rewards are recorded in SQLite.`,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newCatalogCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and live event feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = os.Getenv("RAIDBOARD_CONFIG_FILE")
			}
			return run(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file (overrides RAIDBOARD_* environment)")
	return cmd
}

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect dungeon catalogs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Load a YAML catalog and report every dungeon it defines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := catalog.LoadFromFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range loaded.List() {
				fmt.Fprintf(out, "%-20s levels %d-%d  party %d-%d  boss %s (%.0f, %d phases)\n",
					d.ID, d.MinLevel, d.MaxLevel, d.MinParty, d.MaxParty, d.Boss.Name, d.Boss.Resource, d.Boss.Phases)
			}
			fmt.Fprintf(out, "%s: %d dungeons OK\n", args[0], len(loaded.List()))
			return nil
		},
	})
	return cmd
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
// Signal handling ensures graceful shutdown in production environments
func run(configPath string) error {
	cfg, err := config.LoadConfigWithPrecedence(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}

	<-ctx.Done()
	log.Printf("Received shutdown signal, shutting down gracefully")

	// FUNCTIONAL DISCOVERY: Timeout context prevents hanging shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	return application.Stop(shutdownCtx)
}
