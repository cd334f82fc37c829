package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/turngate/internal/tools"
)

func newCatalogCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the dispatchable tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog := tools.DefaultCatalog()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"version": catalog.Version(), "tools": catalog.Tools()})
			}

			fmt.Fprintf(out, "catalog %s\n\n", catalog.Version())
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TOOL\tARGS\tDESCRIPTION")
			for _, t := range catalog.Tools() {
				fmt.Fprintf(w, "%s\t%d\t%s\n", t.Name, len(t.Args), t.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the catalog as JSON")
	return cmd
}
