package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"lostfound/internal/actuator"
	"lostfound/internal/api"
	"lostfound/internal/camera"
	"lostfound/internal/claims"
	"lostfound/internal/config"
	"lostfound/internal/items"
	"lostfound/internal/logging"
	"lostfound/internal/metrics"
	"lostfound/internal/notifications"
	"lostfound/internal/preflight"
	"lostfound/internal/store"
)

// Deps are the components a Daemon coordinates. Store, Ledger and Actuator
// are required; Camera may be nil when no broker is configured and a nil
// Notifier disables alerts.
type Deps struct {
	Config   *config.Config
	Store    *store.Store
	Ledger   *claims.Ledger
	Actuator *actuator.Controller
	Camera   *camera.Broker
	Notifier notifications.Service
	Metrics  *metrics.Registry
	Logger   *slog.Logger
}

// Daemon serves the API and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	ledger   *claims.Ledger
	actuator *actuator.Controller
	camera   *camera.Broker
	notifier notifications.Service
	metrics  *metrics.Registry

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running   atomic.Bool
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	workers   sync.WaitGroup

	preflightMu sync.Mutex
	preflight   []preflight.Result
}

// New constructs a daemon with initialized dependencies.
func New(deps Deps) (*Daemon, error) {
	if deps.Config == nil || deps.Store == nil || deps.Ledger == nil || deps.Actuator == nil {
		return nil, errors.New("daemon requires config, store, ledger, and actuator")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := deps.Config.LockPath()
	d := &Daemon{
		cfg:      deps.Config,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    deps.Store,
		ledger:   deps.Ledger,
		actuator: deps.Actuator,
		camera:   deps.Camera,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	srv, err := newAPIServer(deps.Config, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = srv
	return d, nil
}

// Start acquires the daemon lock, starts the camera broker and opens the API
// listener.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another lostfound daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.api.start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start api: %w", err)
	}

	if d.camera != nil {
		d.workers.Add(1)
		go func(ctx context.Context) {
			defer d.workers.Done()
			if err := d.camera.Run(ctx); err != nil {
				d.logger.Error("camera broker stopped", logging.Error(err))
			}
		}(d.ctx)
	}

	d.startedAt = time.Now().UTC()
	d.running.Store(true)
	d.logger.Info("lostfound daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("address", d.Addr()),
	)
	return nil
}

// Stop closes the API, fires pending relocks and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.actuator.ReleaseWindow()+5*time.Second)
	if err := d.actuator.Shutdown(shutdownCtx); err != nil {
		logging.WarnWithContext(d.logger, "pending relocks did not finish", "relock_shutdown_timeout",
			logging.Error(err),
			logging.Int("pending", d.actuator.Pending()),
			logging.String(logging.FieldErrorHint, "verify compartments are locked"),
			logging.String(logging.FieldImpact, "a compartment may remain open"),
		)
	}
	cancel()
	d.workers.Wait()

	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
			logging.String(logging.FieldImpact, "next start may report another instance"),
		)
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("lostfound daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Addr returns the API listener address, empty before Start.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// Handler exposes the API router for in-process use.
func (d *Daemon) Handler() http.Handler {
	return d.api.handler
}

// SetPreflight records startup check results for status output.
func (d *Daemon) SetPreflight(results []preflight.Result) {
	d.preflightMu.Lock()
	d.preflight = append([]preflight.Result(nil), results...)
	d.preflightMu.Unlock()
}

// SubmitReport stores a report and, for found items, runs the release
// sequence for its category. A release failure is returned together with the
// stored report, which is kept.
func (d *Daemon) SubmitReport(ctx context.Context, in store.NewReport) (store.Report, *actuator.Release, error) {
	report, err := d.store.Reports().Create(ctx, in)
	if err != nil {
		return store.Report{}, nil, err
	}
	logger := logging.WithContext(ctx, d.logger).With(
		logging.Int64(logging.FieldReportID, report.ID),
		logging.String(logging.FieldCategory, string(report.Category)),
	)
	logger.Info("report submitted",
		logging.String(logging.FieldEventType, "report_submitted"),
		logging.String("kind", string(report.Kind)),
	)
	if report.Kind != items.KindFound {
		return report, nil, nil
	}
	release, err := d.actuator.ReleaseSequence(ctx, string(report.Category))
	if err != nil {
		logging.WarnWithContext(logger, "found report stored but compartment did not open", "release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "open manually with POST /actuator/"+string(report.Category)+"/release"),
			logging.String(logging.FieldImpact, "item must be stored by hand"),
		)
		d.notifyReleaseFailed(report, err)
		return report, nil, err
	}
	d.notifyFound(report, release)
	return report, &release, nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	counts := map[string]int{}
	if reports, err := d.store.Reports().List(ctx, store.ReportFilter{}); err == nil {
		for _, r := range reports {
			counts[string(r.Kind)]++
		}
	} else {
		d.logger.Warn("status report count failed", logging.Error(err))
	}

	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		StartedAt:    d.startedAt,
		DatabasePath: d.store.Path(),
		LedgerPath:   d.cfg.LedgerPath(),
		LockFilePath: d.lockPath,
		Reports:      counts,
		Ledger:       d.ledger.Stats(),
		Channels:     d.actuator.Channels(),
		Releases:     d.actuator.Releases(),
	}
	if d.camera != nil {
		status.Camera = d.camera.Stats()
	}
	d.preflightMu.Lock()
	status.Preflight = append([]preflight.Result(nil), d.preflight...)
	d.preflightMu.Unlock()
	return status
}
