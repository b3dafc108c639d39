package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1

	defaultAddr = "http://127.0.0.1:8080"
	envAddr     = "CONNECTIVITY_METRICS_ADDR"
)

func Run() ExitCode {
	if err := NewRootCmd().Execute(); err != nil {
		return exitCodeError
	}
	return exitCodeSuccess
}

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "connectivity-cli",
		Short: "CLI for the connectivity metrics daemon.",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := cmd.Help()
			if err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	var verbose bool
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "set debug logging level")

	addr := defaultAddr
	if v := os.Getenv(envAddr); v != "" {
		addr = v
	}
	rootCmd.PersistentFlags().String("addr", addr, "address of the connectivity metrics daemon (env "+envAddr+")")

	rootCmd.AddCommand(
		NewDumpCmd().Command(),
		NewEventCmd().Command(),
		NewNetworkCmd().Command(),
		NewVPNCmd().Command(),
	)
	return rootCmd
}

// newClient builds the daemon client from the root persistent flags.
func newClient(cmd *cobra.Command) (*Client, error) {
	verbose, err := cmd.Root().PersistentFlags().GetBool("verbose")
	if err != nil {
		return nil, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	addr, err := cmd.Root().PersistentFlags().GetString("addr")
	if err != nil {
		return nil, fmt.Errorf("failed to get addr flag: %w", err)
	}
	return NewClient(newLogger(verbose), addr)
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}
