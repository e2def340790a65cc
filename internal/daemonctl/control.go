package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"lostfound/internal/api"
	"lostfound/internal/apiclient"
	"lostfound/internal/config"
	"lostfound/internal/items"
	"lostfound/internal/preflight"
	"lostfound/internal/store"
)

const pollInterval = 200 * time.Millisecond

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State    StartState
	Launched bool
	PID      int
}

// ErrDaemonNotRunning indicates no daemon answers at the API address.
var ErrDaemonNotRunning = errors.New("daemon not running")

// Launch starts a detached `lostfound serve` process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"serve"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

func probe(ctx context.Context, client *apiclient.Client) error {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return client.Health(probeCtx)
}

// WaitForClient polls /healthz until the daemon answers or timeout elapses.
func WaitForClient(ctx context.Context, client *apiclient.Client, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		err := probe(ctx, client)
		if err == nil {
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches the daemon unless one already answers.
func EnsureStarted(ctx context.Context, client *apiclient.Client, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	if err := probe(ctx, client); err == nil {
		_, pid, _ := ProcessInfo(ctx, client)
		return StartResult{State: StartStateAlreadyRunning, PID: pid}, nil
	}
	if err := Launch(executablePath, opts); err != nil {
		return StartResult{}, err
	}
	if err := WaitForClient(ctx, client, waitTimeout); err != nil {
		return StartResult{}, err
	}
	_, pid, _ := ProcessInfo(ctx, client)
	return StartResult{State: StartStateStarted, Launched: true, PID: pid}, nil
}

// WaitForShutdown waits until the daemon stops answering.
func WaitForShutdown(ctx context.Context, client *apiclient.Client, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := probe(ctx, client); errors.Is(err, apiclient.ErrDaemonUnreachable) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return fmt.Errorf("daemon did not stop: still answering after %s", timeout)
}

// ProcessInfo returns whether the daemon is reachable and its PID when the
// status endpoint reports one.
func ProcessInfo(ctx context.Context, client *apiclient.Client) (bool, int, error) {
	statusCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	status, err := client.Status(statusCtx)
	if err != nil {
		if errors.Is(err, apiclient.ErrDaemonUnreachable) {
			return false, 0, nil
		}
		return true, 0, err
	}
	return status.Running, status.PID, nil
}

// ReadPID parses the daemon pid file. A missing file yields 0 and no error.
func ReadPID(pidPath string) (int, error) {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read daemon pid file %q: %w", pidPath, err)
	}
	pidStr := strings.TrimSpace(string(data))
	if pidStr == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid daemon pid file %q: %q", pidPath, pidStr)
	}
	return pid, nil
}

func signalProcess(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("unable to determine daemon pid")
	}
	if pid == os.Getpid() {
		return fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("signal daemon process %d: %w", pid, err)
	}
	return nil
}

// ForceKillProcess sends SIGKILL to the daemon process and cleans pid/lock files.
func ForceKillProcess(pidPath, lockPath string, fallbackPID int) (int, error) {
	pid, err := ReadPID(pidPath)
	if err != nil {
		return 0, err
	}
	if pid == 0 {
		pid = fallbackPID
	}
	if err := signalProcess(pid, syscall.SIGKILL); err != nil {
		return 0, err
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	if lockPath != "" {
		_ = os.Remove(lockPath)
	}
	return pid, nil
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
}

// RestartResult captures stop/start outcomes for daemon restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// StopAndTerminate sends SIGTERM to the daemon and force-kills it if it still
// answers after gracePeriod. The grace period should exceed the release
// window so pending relocks can fire.
func StopAndTerminate(ctx context.Context, client *apiclient.Client, cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	alive, pid, _ := ProcessInfo(ctx, client)
	if !alive {
		return StopResult{}, ErrDaemonNotRunning
	}
	if pid == 0 {
		filePID, err := ReadPID(cfg.PIDPath())
		if err != nil {
			return StopResult{}, err
		}
		pid = filePID
	}
	if err := signalProcess(pid, syscall.SIGTERM); err != nil {
		return StopResult{}, err
	}
	result := StopResult{StopAcknowledged: true, PID: pid}

	if err := WaitForShutdown(ctx, client, gracePeriod); err == nil {
		return result, nil
	}
	killedPID, err := ForceKillProcess(cfg.PIDPath(), cfg.LockPath(), pid)
	if err != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	result.ForcedKill = true
	result.PID = killedPID
	return result, nil
}

// Restart stops the daemon if running, then ensures it is started.
func Restart(ctx context.Context, client *apiclient.Client, cfg *config.Config, executablePath string, opts LaunchOptions, stopGracePeriod, startWaitTimeout time.Duration) (RestartResult, error) {
	stopResult, stopErr := StopAndTerminate(ctx, client, cfg, stopGracePeriod)
	if stopErr != nil && !errors.Is(stopErr, ErrDaemonNotRunning) {
		return RestartResult{}, stopErr
	}
	startResult, err := EnsureStarted(ctx, client, executablePath, opts, startWaitTimeout)
	if err != nil {
		return RestartResult{}, err
	}
	return RestartResult{
		WasRunning: stopErr == nil,
		Stop:       stopResult,
		Start:      startResult,
	}, nil
}

// StatusLine is one labelled row of the status report.
type StatusLine struct {
	Label    string
	Severity string
	Detail   string
}

// Snapshot is the status view rendered by `lostfound status`. When the
// daemon is down, report counts come from the database and preflight runs
// locally.
type Snapshot struct {
	Status       api.DaemonStatus
	SystemChecks []StatusLine
}

// BuildStatusSnapshot collects daemon status and applies offline fallbacks.
func BuildStatusSnapshot(ctx context.Context, client *apiclient.Client, cfg *config.Config) (*Snapshot, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	snap := &Snapshot{}

	statusCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	status, err := client.Status(statusCtx)
	cancel()
	if err == nil {
		snap.Status = status
	} else if !errors.Is(err, apiclient.ErrDaemonUnreachable) {
		return nil, err
	}

	if !snap.Status.Running {
		snap.Status.DatabasePath = cfg.DatabasePath()
		snap.Status.LedgerPath = cfg.LedgerPath()
		snap.Status.LockFilePath = cfg.LockPath()
		if counts, countErr := offlineReportCounts(ctx, cfg); countErr == nil {
			snap.Status.Reports = counts
		}
		snap.Status.Preflight = preflight.RunAll(ctx, cfg)
	}
	snap.SystemChecks = BuildSystemChecks(cfg, snap.Status)
	return snap, nil
}

func offlineReportCounts(ctx context.Context, cfg *config.Config) (map[string]int, error) {
	if _, err := os.Stat(cfg.DatabasePath()); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	st, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	counts := make(map[string]int, 2)
	for _, kind := range []items.Kind{items.KindLost, items.KindFound} {
		reports, err := st.Reports().List(queryCtx, store.ReportFilter{Kind: kind})
		if err != nil {
			return nil, err
		}
		counts[string(kind)] = len(reports)
	}
	return counts, nil
}

// BuildSystemChecks resolves status lines that combine runtime state and
// config checks.
func BuildSystemChecks(cfg *config.Config, status api.DaemonStatus) []StatusLine {
	lines := make([]StatusLine, 0, 4+len(status.Preflight))
	if status.Running {
		lines = append(lines, StatusLine{Label: "Daemon", Severity: "ok", Detail: fmt.Sprintf("Running (pid %d)", status.PID)})
	} else {
		lines = append(lines, StatusLine{Label: "Daemon", Severity: "warn", Detail: "Not running (run `lostfound start`)"})
	}

	if strings.TrimSpace(cfg.Actuator.BaseURL) == "" {
		lines = append(lines, StatusLine{Label: "Actuator", Severity: "warn", Detail: "Not configured"})
	} else {
		lines = append(lines, StatusLine{Label: "Actuator", Severity: "ok", Detail: cfg.Actuator.BaseURL})
	}

	switch {
	case !cfg.Camera.Enabled:
		lines = append(lines, StatusLine{Label: "Camera", Severity: "info", Detail: "Disabled"})
	case status.Running && status.Camera.Connected:
		lines = append(lines, StatusLine{Label: "Camera", Severity: "ok", Detail: fmt.Sprintf("Streaming (frame %d)", status.Camera.Seq)})
	case status.Running:
		detail := "Disconnected"
		if status.Camera.LastError != "" {
			detail += ": " + status.Camera.LastError
		}
		lines = append(lines, StatusLine{Label: "Camera", Severity: "warn", Detail: detail})
	default:
		lines = append(lines, StatusLine{Label: "Camera", Severity: "info", Detail: "Inactive (daemon not running)"})
	}

	if strings.TrimSpace(cfg.Paths.APIToken) == "" {
		lines = append(lines, StatusLine{Label: "API auth", Severity: "warn", Detail: "No api_token set"})
	} else {
		lines = append(lines, StatusLine{Label: "API auth", Severity: "ok", Detail: "Bearer token required"})
	}

	for _, result := range status.Preflight {
		severity := "ok"
		if !result.Passed {
			severity = "error"
		}
		lines = append(lines, StatusLine{Label: result.Name, Severity: severity, Detail: result.Detail})
	}
	return lines
}
