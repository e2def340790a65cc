package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"lostfound/internal/api"
	"lostfound/internal/apiclient"
	"lostfound/internal/items"
)

func newReportCommand(ctx *commandContext) *cobra.Command {
	reportCmd := &cobra.Command{
		Use:     "report",
		Aliases: []string{"reports"},
		Short:   "File and manage lost and found reports",
	}

	var identity, kind, category, description, reporterType string
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "File a lost or found report",
		Long:  "File a report. Found reports open the matching compartment for the release window.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				resp, err := client.SubmitReport(cmd.Context(), api.ReportRequest{
					IdentityID:   identity,
					ReportKind:   kind,
					Category:     category,
					Description:  description,
					ReporterType: reporterType,
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Filed %s report %d (%s)\n", resp.Report.Kind, resp.ID, displayCategory(resp.Report.Category))
				if resp.Release != nil {
					fmt.Fprintf(out, "Compartment %d open until %s\n", resp.Release.Channel, resp.Release.RelockAt.Local().Format("15:04:05"))
				}
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&identity, "identity", "", "Reporter identity number")
	addCmd.Flags().StringVar(&kind, "kind", "", "Report kind (lost or found)")
	addCmd.Flags().StringVar(&category, "category", "", "Item category")
	addCmd.Flags().StringVar(&description, "description", "", "Item description")
	addCmd.Flags().StringVar(&reporterType, "reporter-type", "", "Expected reporter type (student or staff)")
	_ = addCmd.MarkFlagRequired("identity")
	_ = addCmd.MarkFlagRequired("kind")
	_ = addCmd.MarkFlagRequired("category")

	var listKind string
	var listJSON bool
	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter items.Kind
			if strings.TrimSpace(listKind) != "" {
				parsed, err := items.ParseKind(listKind)
				if err != nil {
					return err
				}
				filter = parsed
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				reports, err := client.ListReports(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if listJSON {
					return writeJSON(cmd, reports)
				}
				out := cmd.OutOrStdout()
				if len(reports) == 0 {
					fmt.Fprintln(out, "No reports")
					return nil
				}
				rows := make([][]string, 0, len(reports))
				for _, report := range reports {
					rows = append(rows, []string{
						strconv.FormatInt(report.ID, 10),
						string(report.Kind),
						displayCategory(report.Category),
						truncate(report.Description, 40),
						report.OwnerID,
						displayTime(report.CreatedAt),
					})
				}
				fmt.Fprint(out, renderTable(
					[]string{"ID", "Kind", "Category", "Description", "Reporter", "Filed"},
					rows,
					[]columnAlignment{alignRight},
				))
				return nil
			})
		},
	}
	listCmd.Flags().StringVar(&listKind, "kind", "", "Only list lost or found reports")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print JSON")

	rmCmd := &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"remove", "delete"},
		Short:   "Delete a report",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid report id %q", args[0])
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				if err := client.DeleteReport(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted report %d\n", id)
				return nil
			})
		},
	}

	var purgeKind string
	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every report of one kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := items.ParseKind(purgeKind)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				deleted, err := client.DeleteReports(cmd.Context(), parsed)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d %s reports\n", deleted, parsed)
				return nil
			})
		},
	}
	purgeCmd.Flags().StringVar(&purgeKind, "kind", "", "Report kind to purge (lost or found)")
	_ = purgeCmd.MarkFlagRequired("kind")

	reportCmd.AddCommand(addCmd, listCmd, rmCmd, purgeCmd)
	return reportCmd
}
