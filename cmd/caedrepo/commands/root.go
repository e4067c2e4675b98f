package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"caedrepo/internal/components/telemetry"

	"github.com/spf13/cobra"
)

var (
	envName    string
	configPath string
	dotenvPath string
	verbose    bool
)

var otelState telemetry.Telemetry

var rootCmd = &cobra.Command{
	Use:           "caedrepo",
	Short:         "caedrepo requests, waits for and downloads exports from the CAED repository.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(verbose)

		t, err := telemetry.SetupFromEnv(cmd.Context(), "caedrepo")
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("no telemetry.json5 found, running without exporters")
			return
		}
		if err != nil {
			slog.Warn("failed to setup telemetry", "err", err)
			return
		}
		otelState = t
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&envName, "env", "", "The environment to use: central or cpd (defaults to AMBIENTE).")
	flags.StringVar(&configPath, "config", "", "The configuration file (defaults to ./caedrepo.json5 when present).")
	flags.StringVar(&dotenvPath, "dotenv", ".env", "The .env file with the credentials.")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Log debug output.")
}

func shutdownTelemetry() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := otelState.Shutdown(ctx)
	if err != nil {
		slog.Warn("failed to flush telemetry", "err", err)
	}
}

func ExecuteContext(ctx context.Context) {
	err := rootCmd.ExecuteContext(ctx)
	shutdownTelemetry()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
