package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"lostfound/internal/config"
	"lostfound/internal/daemonctl"
	"lostfound/internal/daemonrun"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var development bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    ctx.logLevel(),
				Development: development,
			})
		},
	}
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log output")
	return cmd
}

// stopGrace leaves room for pending relocks to fire before SIGKILL.
func stopGrace(cfg *config.Config) time.Duration {
	if cfg == nil {
		return 15 * time.Second
	}
	return time.Duration(cfg.Actuator.ReleaseWindowSeconds)*time.Second + 5*time.Second
}

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the lostfound daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(cmd.Context(), client, exe, daemonLaunchOptions(ctx), 10*time.Second)
			if err != nil {
				return err
			}
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the lostfound daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			client, err := ctx.client()
			if err != nil {
				return err
			}
			cfg := ctx.configValue()
			result, err := daemonctl.StopAndTerminate(cmd.Context(), client, cfg, stopGrace(cfg))
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Daemon did not exit in time; killed pid %d\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the lostfound daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			cfg := ctx.configValue()
			result, err := daemonctl.Restart(cmd.Context(), client, cfg, exe, daemonLaunchOptions(ctx), stopGrace(cfg), 10*time.Second)
			if err != nil {
				return err
			}
			if result.WasRunning {
				if result.Stop.ForcedKill && result.Stop.PID > 0 {
					fmt.Fprintf(stdout, "Killed daemon process (pid %d)\n", result.Stop.PID)
				}
				fmt.Fprintln(stdout, "Daemon stopped")
			}
			fmt.Fprintln(stdout, "Daemon restarted")
			return nil
		},
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, device and report status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			snap, err := daemonctl.BuildStatusSnapshot(cmd.Context(), client, ctx.configValue())
			if err != nil {
				return wrapClientError(err)
			}
			if statusJSON {
				return writeJSON(cmd, snap.Status)
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("System Status", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range snap.SystemChecks {
				fmt.Fprintln(stdout, renderStatusLine(line.Label, statusKindFromSeverity(line.Severity), line.Detail, colorize))
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Reports", colorize) {
				fmt.Fprintln(stdout, line)
			}
			rows := buildCountRows(snap.Status.Reports)
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "No reports on file")
			} else {
				fmt.Fprint(stdout, renderTable([]string{"Kind", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
			}

			if snap.Status.Running {
				fmt.Fprintln(stdout)
				for _, line := range renderSectionHeader("Claims", colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprint(stdout, renderTable(
					[]string{"Claims", "Images", "Indexed hashes"},
					[][]string{{
						strconv.Itoa(snap.Status.Ledger.Claims),
						strconv.Itoa(snap.Status.Ledger.Images),
						strconv.Itoa(snap.Status.Ledger.IndexedHashes),
					}},
					[]columnAlignment{alignRight, alignRight, alignRight},
				))
			}
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the raw status document")

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

func buildCountRows(counts map[string]int) [][]string {
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{titleCaser.String(key), strconv.Itoa(counts[key])})
	}
	return rows
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext) daemonctl.LaunchOptions {
	opts := daemonctl.LaunchOptions{LogLevel: ctx.logLevel()}
	if ctx.configPath != "" {
		opts.ConfigPath = ctx.configPath
	} else if ctx.configFlag != nil {
		opts.ConfigPath = *ctx.configFlag
	}
	return opts
}
