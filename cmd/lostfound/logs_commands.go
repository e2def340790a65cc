package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"lostfound/internal/apiclient"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				out := cmd.OutOrStdout()
				chunk, err := client.Logs(cmd.Context(), -1, lines, false)
				if err != nil {
					return err
				}
				for _, line := range chunk.Lines {
					fmt.Fprintln(out, line)
				}
				offset := chunk.Offset
				for follow {
					chunk, err = client.Logs(cmd.Context(), offset, 0, true)
					if err != nil {
						if errors.Is(err, context.Canceled) {
							return nil
						}
						return err
					}
					for _, line := range chunk.Lines {
						fmt.Fprintln(out, line)
					}
					offset = chunk.Offset
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new log lines")
	return cmd
}
