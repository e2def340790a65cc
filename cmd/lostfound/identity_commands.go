package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lostfound/internal/api"
	"lostfound/internal/apiclient"
	"lostfound/internal/items"
)

func newIdentityCommand(ctx *commandContext) *cobra.Command {
	identityCmd := &cobra.Command{
		Use:     "identity",
		Aliases: []string{"identities", "id"},
		Short:   "Manage registered students and staff",
	}

	var name, kind string
	addCmd := &cobra.Command{
		Use:   "add <number>",
		Short: "Register an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				identity, err := client.RegisterIdentity(cmd.Context(), api.IdentityRequest{
					Number: args[0],
					Name:   name,
					Type:   kind,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered %s %s (%s)\n", identity.Type, identity.Number, identity.Name)
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&name, "name", "", "Display name")
	addCmd.Flags().StringVar(&kind, "type", string(items.ReporterStudent), "Identity type (student or staff)")

	var listType string
	var listJSON bool
	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered identities",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter items.ReporterType
			if strings.TrimSpace(listType) != "" {
				parsed, err := items.ParseReporterType(listType)
				if err != nil {
					return err
				}
				filter = parsed
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				identities, err := client.ListIdentities(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if listJSON {
					return writeJSON(cmd, identities)
				}
				out := cmd.OutOrStdout()
				if len(identities) == 0 {
					fmt.Fprintln(out, "No identities registered")
					return nil
				}
				rows := make([][]string, 0, len(identities))
				for _, identity := range identities {
					rows = append(rows, []string{identity.Number, identity.Name, string(identity.Type), displayTime(identity.CreatedAt)})
				}
				fmt.Fprint(out, renderTable([]string{"Number", "Name", "Type", "Registered"}, rows, nil))
				return nil
			})
		},
	}
	listCmd.Flags().StringVar(&listType, "type", "", "Only list student or staff identities")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print JSON")

	rmCmd := &cobra.Command{
		Use:     "rm <number>",
		Aliases: []string{"remove", "delete"},
		Short:   "Remove an identity",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				if err := client.DeleteIdentity(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed identity %s\n", args[0])
				return nil
			})
		},
	}

	identityCmd.AddCommand(addCmd, listCmd, rmCmd)
	return identityCmd
}
