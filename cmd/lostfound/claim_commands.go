package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"lostfound/internal/apiclient"
	"lostfound/internal/claims"
)

func newClaimCommand(ctx *commandContext) *cobra.Command {
	claimCmd := &cobra.Command{
		Use:     "claim",
		Aliases: []string{"claims"},
		Short:   "Upload claim evidence and manage claims",
	}

	var foundItem int64
	uploadCmd := &cobra.Command{
		Use:   "upload <identity> <image>...",
		Short: "Upload evidence images for an identity",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				result, err := client.UploadEvidence(cmd.Context(), args[0], foundItem, args[1:])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				verb := "Updated"
				if result.Created {
					verb = "Created"
				}
				fmt.Fprintf(out, "%s claim for %s: %d stored, %d skipped\n", verb, result.Claim.OwnerID, len(result.Stored), len(result.Skipped))
				for _, skipped := range result.Skipped {
					fmt.Fprintf(out, "  skipped %s (%s)\n", skipped.Name, skipped.Reason)
				}
				if linked := result.Claim.LinkedFoundItem; linked != nil {
					fmt.Fprintf(out, "Linked found report %d (%s)\n", linked.ReportID, displayCategory(linked.Category))
				}
				return nil
			})
		},
	}
	uploadCmd.Flags().Int64Var(&foundItem, "found-item", 0, "Found report id to link and consume")

	var listJSON bool
	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List claims",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				list, err := client.ListClaims(cmd.Context())
				if err != nil {
					return err
				}
				if listJSON {
					return writeJSON(cmd, list)
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No claims")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]string{"Identity", "Images", "Size", "Linked item", "Updated"},
					claimRows(list),
					[]columnAlignment{alignLeft, alignRight, alignRight},
				))
				return nil
			})
		},
	}
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print JSON")

	rmCmd := &cobra.Command{
		Use:     "rm <identity>",
		Aliases: []string{"remove", "delete"},
		Short:   "Delete a claim and its evidence files",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				if err := client.DeleteClaim(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted claim for %s\n", args[0])
				return nil
			})
		},
	}

	var outputDir string
	fetchCmd := &cobra.Command{
		Use:   "fetch <file>",
		Short: "Download a stored evidence file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := filepath.Base(args[0])
			target := filepath.Join(outputDir, name)
			return ctx.withClient(func(client *apiclient.Client) error {
				file, err := os.Create(target)
				if err != nil {
					return fmt.Errorf("create %s: %w", target, err)
				}
				if err := client.FetchEvidence(cmd.Context(), name, file); err != nil {
					_ = file.Close()
					_ = os.Remove(target)
					return err
				}
				if err := file.Close(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", target)
				return nil
			})
		},
	}
	fetchCmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Directory to save into")

	claimCmd.AddCommand(uploadCmd, listCmd, rmCmd, fetchCmd)
	return claimCmd
}

func claimRows(list []claims.Claim) [][]string {
	rows := make([][]string, 0, len(list))
	for _, claim := range list {
		var total int64
		for _, image := range claim.Images {
			total += image.Size
		}
		linked := "-"
		if claim.LinkedFoundItem != nil {
			linked = fmt.Sprintf("#%d %s", claim.LinkedFoundItem.ReportID, displayCategory(claim.LinkedFoundItem.Category))
		}
		rows = append(rows, []string{
			claim.OwnerID,
			strconv.Itoa(len(claim.Images)),
			displayBytes(total),
			linked,
			displayTime(claim.UpdatedAt),
		})
	}
	return rows
}
