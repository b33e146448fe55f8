// Package main provides the videotask operator CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/maauso/videotask-api/internal/billing"
	"github.com/maauso/videotask-api/internal/bootstrap"
	"github.com/maauso/videotask-api/internal/config"
	"github.com/maauso/videotask-api/internal/provider"
	"github.com/maauso/videotask-api/internal/provider/kling"
)

var (
	ratesFile string
	logLevel  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "videotask",
		Short: "Operator tooling for the video task API",
		Long: `videotask prices generation requests offline, previews the provider
payload a request maps to, and runs reconciliation sweeps against the
task store.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&ratesFile, "rates", os.Getenv("BILLING_RATES_FILE"), "path to billing rate file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")

	rootCmd.AddCommand(quoteCmd())
	rootCmd.AddCommand(payloadCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	cfg := &config.Config{LogFormat: "text", LogLevel: logLevel}
	return cfg.NewLogger()
}

// offlineRegistry builds the adapters without a provider client. Only the
// pure operations (pricing, payload mapping) may be used on it.
func offlineRegistry(logger *slog.Logger) (*provider.Registry, error) {
	rates, err := billing.Load(ratesFile, logger)
	if err != nil {
		return nil, err
	}
	return bootstrap.NewRegistry(nil, rates, logger), nil
}

// readRequest decodes a generation request from path, or stdin for "-".
func readRequest(path string) (provider.GenerationRequest, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path) // #nosec G304 - operator supplied path
		if err != nil {
			return provider.GenerationRequest{}, fmt.Errorf("open request: %w", err)
		}
		defer f.Close()
		r = f
	}

	var req provider.GenerationRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return provider.GenerationRequest{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

func quoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quote [request.json|-]",
		Short: "Print the credit cost of a generation request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			registry, err := offlineRegistry(logger)
			if err != nil {
				return err
			}
			req, err := readRequest(args[0])
			if err != nil {
				return err
			}

			adapter, err := registry.Lookup(req.ModelName)
			if err != nil {
				return err
			}
			credits, err := adapter.CalculateCredits(req)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d credits\n", adapter.Name(), req.ModelName, credits)
			return nil
		},
	}
}

func payloadCmd() *cobra.Command {
	var callbackURL string

	cmd := &cobra.Command{
		Use:   "payload [request.json|-]",
		Short: "Print the provider createTask body a request maps to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			rates, err := billing.Load(ratesFile, logger)
			if err != nil {
				return err
			}
			req, err := readRequest(args[0])
			if err != nil {
				return err
			}

			adapter := kling.New(nil, kling.WithRateTable(rates), kling.WithLogger(logger))
			if _, err := provider.NewRegistry(adapter).Lookup(req.ModelName); err != nil {
				return err
			}
			body, err := adapter.BuildRequest(req, callbackURL)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(body)
		},
	}

	cmd.Flags().StringVar(&callbackURL, "callback-url", "", "callback URL to embed")
	return cmd
}

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List providers and the model names they serve",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := offlineRegistry(newLogger())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODELS")
			for _, name := range registry.Names() {
				a, err := registry.ByName(name)
				if err != nil {
					return err
				}
				for _, m := range a.Models() {
					fmt.Fprintf(w, "%s\t%s*\n", name, m)
				}
			}
			return w.Flush()
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one reconciliation pass over stale active tasks",
		Long: `Queries the provider for every active task that has not been checked
within POLL_STALE_AFTER and applies the answers. Uses the same environment
configuration as the server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.LoadDotEnv()
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := cfg.NewLogger()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize dependencies: %w", err)
			}
			defer deps.Close()

			res, err := deps.Poller.SweepOnce(ctx)
			if err != nil {
				return err
			}
			deps.Service.Wait()

			fmt.Fprintf(cmd.OutOrStdout(), "checked=%d completed=%d errors=%d\n", res.Checked, res.Completed, res.Errors)
			return nil
		},
	}
}
