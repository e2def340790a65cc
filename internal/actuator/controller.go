package actuator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"lostfound/internal/config"
	"lostfound/internal/logging"
	"lostfound/internal/metrics"
	"lostfound/internal/services"
)

var (
	// ErrUnknownCategory is returned for categories without a relay channel.
	ErrUnknownCategory = fmt.Errorf("%w: unknown category", services.ErrNotFound)
	// ErrActuatorUnreachable wraps transport failures and non-success relay responses.
	ErrActuatorUnreachable = fmt.Errorf("%w: actuator unreachable", services.ErrUpstreamUnavailable)
)

// Release states.
const (
	StatePending  = "pending"
	StateRelocked = "relocked"
	StateFailed   = "relock_failed"
)

// Release describes one release sequence. ID increases with every sequence
// the controller starts.
type Release struct {
	ID          uint64     `json:"id"`
	Category    string     `json:"category"`
	Channel     int        `json:"channel"`
	OpenedAt    time.Time  `json:"openedAt"`
	RelockAt    time.Time  `json:"relockAt"`
	State       string     `json:"state"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Channel pairs a category with its relay channel.
type Channel struct {
	Category string `json:"category"`
	Channel  int    `json:"channel"`
}

// Options configures a Controller.
type Options struct {
	BaseURL       string
	Token         string
	TokenInQuery  bool
	Timeout       time.Duration
	ReleaseWindow time.Duration
	Channels      map[string]int
	HTTPClient    *http.Client
	Logger        *slog.Logger
	Metrics       *metrics.Registry
	// OnRelockFailed runs after a relock command fails, outside the
	// controller lock.
	OnRelockFailed func(Release)
}

// OptionsFromConfig maps the [actuator] section onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:       cfg.Actuator.BaseURL,
		Token:         cfg.Actuator.Token,
		TokenInQuery:  cfg.Actuator.TokenInQuery,
		Timeout:       time.Duration(cfg.Actuator.TimeoutSeconds) * time.Second,
		ReleaseWindow: time.Duration(cfg.Actuator.ReleaseWindowSeconds) * time.Second,
		Channels:      cfg.Actuator.Channels,
	}
}

// Controller maps categories to channels and sequences relay commands.
type Controller struct {
	relay    *relayClient
	channels map[string]int
	timeout  time.Duration
	window   time.Duration
	logger   *slog.Logger
	metrics  *metrics.Registry
	onFailed func(Release)

	mu      sync.Mutex
	pending map[uint64]*pendingRelock
	nextID  uint64
	last    map[string]Release
	closed  bool
	wg      sync.WaitGroup
}

type pendingRelock struct {
	timer *time.Timer
	run   func()
}

// NewController constructs a controller; zero durations fall back to 5s
// timeout and a 10s release window.
func NewController(opts Options) *Controller {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	window := opts.ReleaseWindow
	if window <= 0 {
		window = 10 * time.Second
	}
	channels := make(map[string]int, len(opts.Channels))
	for name, ch := range opts.Channels {
		channels[strings.ToLower(strings.TrimSpace(name))] = ch
	}
	if len(channels) == 0 {
		channels = config.DefaultChannels()
	}
	return &Controller{
		relay:    newRelayClient(opts.BaseURL, opts.Token, opts.TokenInQuery, timeout, opts.HTTPClient),
		channels: channels,
		timeout:  timeout,
		window:   window,
		logger:   logging.NewComponentLogger(opts.Logger, "actuator"),
		metrics:  opts.Metrics,
		onFailed: opts.OnRelockFailed,
		pending:  make(map[uint64]*pendingRelock),
		last:     make(map[string]Release),
	}
}

// Channel returns the relay channel for category.
func (c *Controller) Channel(category string) (int, error) {
	key := strings.ToLower(strings.TrimSpace(category))
	ch, ok := c.channels[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	return ch, nil
}

// Channels lists the channel table ordered by channel number.
func (c *Controller) Channels() []Channel {
	out := make([]Channel, 0, len(c.channels))
	for name, ch := range c.channels {
		out = append(out, Channel{Category: name, Channel: ch})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

// ReleaseWindow returns how long a compartment stays open.
func (c *Controller) ReleaseWindow() time.Duration {
	return c.window
}

// SetChannel issues one relay command for category.
func (c *Controller) SetChannel(ctx context.Context, category string, value Value) error {
	ch, err := c.Channel(category)
	if err != nil {
		return err
	}
	return c.command(ctx, strings.ToLower(strings.TrimSpace(category)), ch, value)
}

func (c *Controller) command(ctx context.Context, category string, channel int, value Value) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	err := c.relay.send(ctx, channel, value)
	elapsed := time.Since(started)

	logger := logging.WithContext(ctx, c.logger).With(
		logging.String(logging.FieldCategory, category),
		logging.Int(logging.FieldChannel, channel),
		logging.String("value", value.String()),
	)
	if err != nil {
		if !errors.Is(err, ErrActuatorUnreachable) {
			err = fmt.Errorf("%w: %v", ErrActuatorUnreachable, err)
		}
		c.metrics.ActuatorCommand(category, value.String(), "error", elapsed.Seconds())
		logging.WarnWithContext(logger, "relay command failed", "actuator_command_failed",
			logging.Error(err),
			logging.Duration("elapsed", elapsed),
			logging.String(logging.FieldErrorHint, "check actuator.base_url and relay power"),
			logging.String(logging.FieldImpact, "compartment state unchanged"),
		)
		return err
	}
	c.metrics.ActuatorCommand(category, value.String(), "ok", elapsed.Seconds())
	logger.Info("relay command sent",
		logging.String(logging.FieldEventType, "actuator_command"),
		logging.Duration("elapsed", elapsed),
	)
	return nil
}

// ReleaseSequence switches the category's channel off now and schedules it
// back on after the release window. A failed off command aborts the sequence.
// The scheduled command always fires, including during Shutdown.
func (c *Controller) ReleaseSequence(ctx context.Context, category string) (Release, error) {
	ch, err := c.Channel(category)
	if err != nil {
		return Release{}, err
	}
	key := strings.ToLower(strings.TrimSpace(category))

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return Release{}, fmt.Errorf("%w: controller is shutting down", ErrActuatorUnreachable)
	}

	if err := c.command(ctx, key, ch, Off); err != nil {
		c.metrics.Release("open", "error")
		return Release{}, err
	}
	c.metrics.Release("open", "ok")

	now := time.Now().UTC()
	logger := logging.WithContext(ctx, c.logger)

	c.mu.Lock()
	c.nextID++
	release := Release{
		ID:       c.nextID,
		Category: key,
		Channel:  ch,
		OpenedAt: now,
		RelockAt: now.Add(c.window),
		State:    StatePending,
	}
	c.last[key] = release
	if c.closed {
		// Shutdown began while the off command was in flight; relock inline.
		c.mu.Unlock()
		c.relock(release, logger)
		return release, nil
	}
	var once sync.Once
	p := &pendingRelock{}
	p.run = func() {
		once.Do(func() {
			defer c.wg.Done()
			c.relock(release, logger)
		})
	}
	c.wg.Add(1)
	p.timer = time.AfterFunc(c.window, p.run)
	c.pending[release.ID] = p
	c.mu.Unlock()

	logger.Info("release sequence started",
		logging.String(logging.FieldEventType, "release_started"),
		logging.Uint64("release_id", release.ID),
		logging.String(logging.FieldCategory, key),
		logging.Int(logging.FieldChannel, ch),
		logging.Duration("window", c.window),
	)
	return release, nil
}

// relock closes the compartment opened by rel. The per-category history only
// takes the outcome while rel is still the latest release for its category;
// a superseded release is reported through logs and metrics alone.
func (c *Controller) relock(rel Release, logger *slog.Logger) {
	err := c.command(context.Background(), rel.Category, rel.Channel, On)
	done := time.Now().UTC()

	rel.CompletedAt = &done
	if err != nil {
		rel.State = StateFailed
		rel.Error = err.Error()
	} else {
		rel.State = StateRelocked
	}

	c.mu.Lock()
	delete(c.pending, rel.ID)
	superseded := c.last[rel.Category].ID != rel.ID
	if !superseded {
		c.last[rel.Category] = rel
	}
	c.mu.Unlock()

	logger = logger.With(
		logging.String(logging.FieldCategory, rel.Category),
		logging.Int(logging.FieldChannel, rel.Channel),
		logging.Uint64("release_id", rel.ID),
		logging.Bool("superseded", superseded),
	)
	if err != nil {
		c.metrics.Release("relock", "error")
		logging.ErrorWithContext(logger, "compartment relock failed", "release_relock_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "relock manually with POST /actuator/"+rel.Category+"/on"),
			logging.String(logging.FieldImpact, "compartment may remain open"),
		)
		if c.onFailed != nil {
			c.onFailed(rel)
		}
		return
	}
	c.metrics.Release("relock", "ok")
	logger.Info("compartment relocked",
		logging.String(logging.FieldEventType, "release_relocked"),
	)
}

// LastRelease returns the most recent release sequence for category.
func (c *Controller) LastRelease(category string) (Release, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rel, ok := c.last[strings.ToLower(strings.TrimSpace(category))]
	return rel, ok
}

// Releases returns the latest release per category, ordered by channel.
func (c *Controller) Releases() []Release {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Release, 0, len(c.last))
	for _, rel := range c.last {
		out = append(out, rel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

// Pending reports how many relock commands are scheduled.
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Shutdown fires every scheduled relock immediately and waits for them to
// finish or for ctx to expire.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	fire := make([]func(), 0, len(c.pending))
	for _, p := range c.pending {
		if p.timer.Stop() {
			fire = append(fire, p.run)
		}
	}
	c.mu.Unlock()

	for _, run := range fire {
		go run()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
