package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newProvidersCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List configured providers and whether they can be used",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cc.commandCtx(cmd.Context())
			defer cancel()

			p, err := cc.pipeline(ctx)
			if err != nil {
				return err
			}

			statuses := p.Aggregator.Status(ctx)
			rows := make([][]string, 0, len(statuses))
			for _, s := range statuses {
				rows = append(rows, []string{s.Name, strconv.Itoa(s.Priority), yesNo(s.Enabled)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Provider", "Priority", "Enabled"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
}
