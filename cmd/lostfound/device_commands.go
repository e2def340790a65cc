package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"lostfound/internal/actuator"
	"lostfound/internal/apiclient"
)

func newActuatorCommand(ctx *commandContext) *cobra.Command {
	actuatorCmd := &cobra.Command{
		Use:   "actuator",
		Short: "Drive the locker relay",
	}

	var channelsJSON bool
	channelsCmd := &cobra.Command{
		Use:   "channels",
		Short: "Show the category to channel table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				channels, err := client.Channels(cmd.Context())
				if err != nil {
					return err
				}
				if channelsJSON {
					return writeJSON(cmd, channels)
				}
				rows := make([][]string, 0, len(channels))
				for _, ch := range channels {
					rows = append(rows, []string{titleCaser.String(ch.Category), strconv.Itoa(ch.Channel)})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Category", "Channel"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
	channelsCmd.Flags().BoolVar(&channelsJSON, "json", false, "Print JSON")

	releaseCmd := &cobra.Command{
		Use:   "release <category>",
		Short: "Open a compartment for the release window, then relock it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				release, err := client.Release(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Channel %d open; relocks at %s\n", release.Channel, release.RelockAt.Local().Format("15:04:05"))
				return nil
			})
		},
	}

	setCmd := func(value actuator.Value, short string) *cobra.Command {
		return &cobra.Command{
			Use:   value.String() + " <category>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return ctx.withClient(func(client *apiclient.Client) error {
					resp, err := client.SetChannel(cmd.Context(), args[0], value)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Channel %d (%s) set %s\n", resp.Channel, resp.Category, resp.Value)
					return nil
				})
			},
		}
	}

	actuatorCmd.AddCommand(
		channelsCmd,
		releaseCmd,
		setCmd(actuator.On, "Energize a channel (locks the compartment)"),
		setCmd(actuator.Off, "De-energize a channel (opens the compartment)"),
	)
	return actuatorCmd
}

func newCameraCommand(ctx *commandContext) *cobra.Command {
	cameraCmd := &cobra.Command{
		Use:   "camera",
		Short: "Camera snapshot and source control",
	}

	var outputDir string
	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture the current frame",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				var buf bytes.Buffer
				name, err := client.Snapshot(cmd.Context(), &buf)
				if err != nil {
					return err
				}
				target := filepath.Join(outputDir, name)
				if err := os.WriteFile(target, buf.Bytes(), 0o644); err != nil {
					return fmt.Errorf("write snapshot: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s)\n", target, displayBytes(int64(buf.Len())))
				return nil
			})
		},
	}
	snapshotCmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Directory to save into")

	sourceCmd := &cobra.Command{
		Use:   "source [url]",
		Short: "Show or switch the camera source URL",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				var (
					url string
					err error
				)
				if len(args) == 1 {
					url, err = client.SetCameraSource(cmd.Context(), args[0])
				} else {
					url, err = client.CameraSource(cmd.Context())
				}
				if err != nil {
					return err
				}
				if url == "" {
					url = "(none)"
				}
				fmt.Fprintln(cmd.OutOrStdout(), url)
				return nil
			})
		},
	}

	cameraCmd.AddCommand(snapshotCmd, sourceCmd)
	return cameraCmd
}
