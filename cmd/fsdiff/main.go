package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"fsdiff/internal/config"
	"fsdiff/internal/logging"
)

var version = "dev"

var (
	configPath string
	verbose    bool
	quiet      bool
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := &cobra.Command{
		Use:           "fsdiff",
		Short:         "Differential filesystem fuzzer",
		Long:          "fsdiff mutates filesystem workloads and executes each one on two\nfilesystem implementations, reporting every divergence in returned\nerrors or resulting on-disk state.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "campaign config file (TOML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except warnings")

	rootCmd.AddCommand(greyboxCmd())
	rootCmd.AddCommand(blackboxCmd())
	rootCmd.AddCommand(reduceCmd())
	rootCmd.AddCommand(soloSingleCmd())
	rootCmd.AddCommand(duoSingleCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(docsCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// loadConfig reads the campaign config and installs the process logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	logging.Setup(cfg.Log, verbose, quiet)
	return cfg, nil
}
