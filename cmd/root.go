// Package cmd implements the turngate command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/turngate/internal/config"
)

// cli carries state shared by the subcommands.
type cli struct {
	cfg      *config.Config
	logger   *zap.Logger
	logLevel string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "turngate",
		Short: "Turn gate for a wellness assistant",
		Long: `turngate decides how to handle each user turn, splits the message into
intents, gates them against the security policy, resolves which users they
target and dispatches the resulting tool calls.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c.cfg = config.Load()
			if c.logLevel != "" {
				c.cfg.LogLevel = c.logLevel
			}
			logger, err := config.NewLogger(c.cfg.LogLevel)
			if err != nil {
				return err
			}
			c.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	root.AddCommand(
		newServeCmd(c),
		newTurnCmd(c),
		newCatalogCmd(),
		newModelsCmd(c),
	)
	return root
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
