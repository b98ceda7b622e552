// Command northwind-server is the Tool Host: it connects to the Northwind
// database and serves the database tools over MCP on stdio. All logging goes
// to stderr; stdout carries only protocol messages.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"northwind/internal/config"
	"northwind/internal/store"
	"northwind/internal/toolhost"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "northwind-server",
		Short:         "Northwind database tool server speaking MCP over stdio",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	cmd.Flags().String("database-url", config.DefaultDatabaseURL, "postgres:// URL or SQLite database path")
	cmd.Flags().Bool("verbose", false, "Enable debug logging")

	return cmd
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd)
	if err != nil {
		return err
	}

	log := buildLogger(cfg.Verbose)

	st, err := store.Open(log, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := st.Check(ctx); err != nil {
		return fmt.Errorf("database check: %w", err)
	}

	log.Info("Starting tool host", "database", cfg.DatabaseURL, "dialect", st.Dialect().String())

	return toolhost.New(log, st).Run(ctx)
}

// buildLogger writes to stderr; stdout is reserved for the protocol.
func buildLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
