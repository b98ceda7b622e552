// Command northwind-cli is the Northwind database assistant. `ask` and `chat`
// drive an LLM agent over the Tool Host's tools; `tools`, `query`, and
// `report` invoke the tools directly without a model.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"northwind/internal/agent"
	"northwind/internal/config"
	"northwind/internal/llm"
	"northwind/internal/session"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "northwind-cli",
		Short:         "Natural-language assistant for the Northwind database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("database-url", config.DefaultDatabaseURL, "postgres:// URL or SQLite database path")
	cmd.PersistentFlags().String("server", config.DefaultServerCommand, "Tool Host executable to spawn")
	cmd.PersistentFlags().String("model", config.DefaultModel, "Model name")
	cmd.PersistentFlags().Int("max-steps", config.DefaultMaxSteps, "Maximum tool steps per question")
	cmd.PersistentFlags().String("request-timeout", config.DefaultRequestTimeout.String(), "Timeout per tool round trip (e.g. 30s)")
	cmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")

	cmd.AddCommand(newAskCmd(), newChatCmd(), newToolsCmd(), newQueryCmd(), newReportCmd())

	return cmd
}

func newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the agent a single question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")

			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}

			client, err := buildLLMClient(cfg)
			if err != nil {
				return err
			}

			adapter := newAdapter(log, cfg)
			defer adapter.Close()

			ctx, cancel := signalContext(cmd)
			defer cancel()

			ag := agent.New(client, adapter, log, agent.Config{Model: cfg.Model, MaxSteps: cfg.MaxSteps})

			result, runErr := ag.Ask(ctx, question)

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				payload, _ := json.MarshalIndent(result, "", "  ")
				fmt.Fprintln(os.Stdout, string(payload))

				return runErr
			}

			if result.Answer != "" {
				fmt.Fprintln(os.Stdout, result.Answer)
			}

			return runErr
		},
	}

	cmd.Flags().Bool("json", false, "Print the full run result as JSON")

	return cmd
}

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive conversation with the agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}

			client, err := buildLLMClient(cfg)
			if err != nil {
				return err
			}

			adapter := newAdapter(log, cfg)
			defer adapter.Close()

			ctx, cancel := signalContext(cmd)
			defer cancel()

			ag := agent.New(client, adapter, log, agent.Config{Model: cfg.Model, MaxSteps: cfg.MaxSteps})

			return runChat(ctx, ag, cmd.InOrStdin(), os.Stdout)
		},
	}
}

// runChat reads questions line by line until EOF or an exit command. Agent
// failures are printed and the loop continues; only a cancelled context ends
// the conversation with an error.
func runChat(ctx context.Context, ag *agent.Agent, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "Northwind assistant. Ask about the database; type 'exit' to quit.")

	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, "> ")

		if !scanner.Scan() {
			fmt.Fprintln(out)

			return scanner.Err()
		}

		question := strings.TrimSpace(scanner.Text())

		switch question {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "reset":
			ag.Reset()
			fmt.Fprintln(out, "Conversation cleared.")

			continue
		}

		result, err := ag.Ask(ctx, question)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			fmt.Fprintf(out, "error: %v\n", err)
		}

		if result.Answer != "" {
			fmt.Fprintln(out, result.Answer)
		}
	}
}

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools the server exposes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}

			adapter := newAdapter(log, cfg)
			defer adapter.Close()

			ctx, cancel := signalContext(cmd)
			defer cancel()

			tools := adapter.ListTools(ctx)
			if len(tools) == 0 {
				return fmt.Errorf("no tools discovered; is the server reachable?")
			}

			for _, tool := range tools {
				fmt.Fprintf(os.Stdout, "%s\t%s\n", tool.Name, tool.Description)
			}

			return nil
		},
	}
}

func newQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query [sql] [params...]",
		Short: "Run a SELECT statement through the server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arguments := map[string]any{"sql": args[0]}

			if len(args) > 1 {
				params := make([]any, 0, len(args)-1)
				for _, p := range args[1:] {
					params = append(params, p)
				}

				arguments["params"] = params
			}

			return callTool(cmd, "query", arguments)
		},
	}
}

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Run a pre-defined business report",
	}

	sales := &cobra.Command{
		Use:   "sales",
		Short: "Order totals, optionally bounded by date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			arguments := map[string]any{}

			if start, _ := cmd.Flags().GetString("start"); start != "" {
				arguments["start_date"] = start
			}

			if end, _ := cmd.Flags().GetString("end"); end != "" {
				arguments["end_date"] = end
			}

			return callTool(cmd, "sales_report", arguments)
		},
	}
	sales.Flags().String("start", "", "Start date (YYYY-MM-DD)")
	sales.Flags().String("end", "", "End date (YYYY-MM-DD)")

	customers := &cobra.Command{
		Use:   "customers [customer-id]",
		Short: "Orders per customer, all customers by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arguments := map[string]any{}
			if len(args) == 1 {
				arguments["customer_id"] = args[0]
			}

			return callTool(cmd, "customer_orders", arguments)
		},
	}

	cmd.AddCommand(sales, customers)

	return cmd
}

// callTool performs one direct tool invocation and prints the payload as
// indented JSON. Tool and transport failures both surface as command errors.
func callTool(cmd *cobra.Command, name string, arguments map[string]any) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}

	adapter := newAdapter(log, cfg)
	defer adapter.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	res := adapter.CallTool(ctx, name, arguments)
	if !res.OK() {
		return fmt.Errorf("%s: %s", name, res.Err)
	}

	payload, err := json.MarshalIndent(res.Payload, "", "  ")
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout, string(payload))

	return nil
}

func setup(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cmd)
	if err != nil {
		return config.Config{}, nil, err
	}

	return cfg, buildLogger(cfg.Verbose), nil
}

func buildLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newAdapter builds the session adapter, handing the database URL to the
// spawned server through its environment.
func newAdapter(log *slog.Logger, cfg config.Config) *session.Adapter {
	env := append(os.Environ(), "NORTHWIND_DATABASE_URL="+cfg.DatabaseURL)

	return session.New(log, session.Config{
		Command:        cfg.ServerCommand,
		Args:           cfg.ServerArgs,
		Dir:            cfg.ServerDir,
		Env:            env,
		RequestTimeout: cfg.RequestTimeout,
		ShutdownGrace:  cfg.ShutdownGrace,
	})
}

func buildLLMClient(cfg config.Config) (llm.Client, error) {
	if os.Getenv("NORTHWIND_MOCK_LLM") == "1" {
		return llm.NewMockClient(), nil
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required (or set NORTHWIND_API_KEY)")
	}

	return llm.NewOpenAIClient(cfg.APIKey, cfg.BaseURL), nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
