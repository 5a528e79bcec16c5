package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/tempo/internal/app"
)

var cleanupFlags struct {
	user   string
	maxAge time.Duration
}

func init() {
	cleanupCmd.Flags().StringVar(&cleanupFlags.user, "user", "", "user whose idle sessions are deleted (required)")
	cleanupCmd.Flags().DurationVar(&cleanupFlags.maxAge, "max-age", 0, "idle age threshold (defaults to SESSION_MAX_AGE)")
	_ = cleanupCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(cleanupCmd)
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete idle sessions for one user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadRuntime("")
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		maxAge := cfg.SessionMaxAge
		if cleanupFlags.maxAge > 0 {
			maxAge = cleanupFlags.maxAge
		}

		built, err := app.Build(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = built.Cleanup() }()

		deleted, err := built.Memory.CleanupOldSessions(cmd.Context(), strings.TrimSpace(cleanupFlags.user), maxAge)
		if err != nil {
			return fmt.Errorf("cleanup sessions: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d session(s) idle for more than %s\n", deleted, maxAge)
		return nil
	},
}
