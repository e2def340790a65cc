package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"lostfound/internal/actuator"
	"lostfound/internal/camera"
	"lostfound/internal/claims"
	"lostfound/internal/config"
	"lostfound/internal/daemon"
	"lostfound/internal/evidence"
	"lostfound/internal/logging"
	"lostfound/internal/metrics"
	"lostfound/internal/notifications"
	"lostfound/internal/preflight"
	"lostfound/internal/reconcile"
	"lostfound/internal/store"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the lostfound daemon and blocks until the context is cancelled
// or the process receives SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logCfg := *cfg
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		logCfg.Logging.Level = level
	}
	logger, logPath, err := logging.NewFromConfig(&logCfg, runID, opts.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := ensureCurrentLogPointer(cfg.CurrentLogPath(), logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update lostfound.log link: %v\n", err)
	}
	logging.CleanupOldFiles(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "lostfound-*.log", Exclude: []string{logPath}},
	)
	logDependencySnapshot(logger, cfg)

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	reg := metrics.New()

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open report store", logging.Error(err))
		return err
	}
	defer st.Close()

	storage, err := evidence.NewStorage(cfg.Paths.EvidenceDir)
	if err != nil {
		return fmt.Errorf("open evidence storage: %w", err)
	}
	ledger, err := claims.Open(claims.Options{
		Path:              cfg.LedgerPath(),
		Storage:           storage,
		Registry:          st.Identities(),
		Reconciler:        reconcile.NewService(st.Reports(), logger),
		MaxFileBytes:      cfg.Evidence.MaxFileBytes,
		AllowedExtensions: cfg.Evidence.AllowedExtensions,
		Logger:            logger,
		Metrics:           reg,
	})
	if err != nil {
		logger.Error("open claims ledger", logging.Error(err))
		return err
	}

	notifier := notifications.NewService(cfg)

	actOpts := actuator.OptionsFromConfig(cfg)
	actOpts.Logger = logger
	actOpts.Metrics = reg
	actOpts.OnRelockFailed = daemon.RelockFailureNotifier(notifier, logger)
	act := actuator.NewController(actOpts)

	camOpts := camera.OptionsFromConfig(cfg)
	camOpts.Logger = logger
	camOpts.Metrics = reg
	broker, err := camera.NewBroker(camOpts)
	if err != nil {
		return fmt.Errorf("create camera broker: %w", err)
	}

	d, err := daemon.New(daemon.Deps{
		Config:   cfg,
		Store:    st,
		Ledger:   ledger,
		Actuator: act,
		Camera:   broker,
		Notifier: notifier,
		Metrics:  reg,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	results := preflight.RunAll(signalCtx, cfg)
	for _, result := range preflight.Failed(results) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "related operations will fail until resolved"),
		)
	}
	d.SetPreflight(results)

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check api_bind and that no other daemon holds the lock"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("lostfound daemon shutting down",
		logging.String(logging.FieldEventType, "daemon_shutdown"),
		logging.Int("pending_relocks", act.Pending()),
	)
	return nil
}

func ensureCurrentLogPointer(current, target string) error {
	if current == "" || target == "" {
		return nil
	}
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("api_bind", cfg.Paths.APIBind),
		logging.Bool("api_token_present", cfg.Paths.APIToken != ""),
		logging.Bool("actuator_configured", strings.TrimSpace(cfg.Actuator.BaseURL) != ""),
		logging.Bool("actuator_token_present", strings.TrimSpace(cfg.Actuator.Token) != ""),
		logging.Int("channels", len(cfg.Actuator.Channels)),
		logging.Bool("camera_enabled", cfg.Camera.Enabled),
		logging.Bool("camera_source_present", strings.TrimSpace(cfg.Camera.SourceURL) != ""),
		logging.Bool("notifications_enabled", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
	)
}
