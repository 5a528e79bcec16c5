package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ent0n29/tempo/internal/config"
	"github.com/ent0n29/tempo/internal/observability"
)

var rootCmd = &cobra.Command{
	Use:           "tempo",
	Short:         "Realtime personal productivity assistant",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tempo: %v\n", err)
		os.Exit(1)
	}
}

// loadRuntime reads the environment, applies a log level override and
// builds the process logger.
func loadRuntime(logLevel string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("config error: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logger init failed: %w", err)
	}
	return cfg, logger, nil
}
