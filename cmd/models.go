package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/turngate/internal/adapter/llm"
	"github.com/xiaot623/gogo/turngate/internal/oracle"
)

func newModelsCmd(c *cli) *cobra.Command {
	var mock bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models served by the oracle endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := llm.NewLLMClient(llm.Options{
				Provider: c.cfg.OracleProvider,
				BaseURL:  c.cfg.OracleURL,
				APIKey:   c.cfg.OracleAPIKey,
				Timeout:  c.cfg.OracleTimeout,
				Mock:     mock || c.cfg.Mock,
			}, c.logger)
			invoker := oracle.NewInvoker(client, oracle.Config{Model: c.cfg.OracleModel, Timeout: c.cfg.OracleTimeout}, c.logger)

			models, err := invoker.Models(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range models {
				marker := " "
				if m.ID == invoker.Model() {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %s\t%s\n", marker, m.ID, m.OwnedBy)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&mock, "mock", false, "use the mock oracle")
	return cmd
}
