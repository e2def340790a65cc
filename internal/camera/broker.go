package camera

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"lostfound/internal/config"
	"lostfound/internal/fileutil"
	"lostfound/internal/logging"
	"lostfound/internal/metrics"
	"lostfound/internal/services"
)

// ErrNoFrameAvailable is returned before the first frame has been published.
var ErrNoFrameAvailable = fmt.Errorf("%w: no frame captured yet", services.ErrNotFound)

// pollInterval paces reopening single-JPEG sources after a clean end.
const pollInterval = 50 * time.Millisecond

// Frame is one validated JPEG image. Frames are immutable once published.
type Frame struct {
	Seq        uint64    `json:"seq"`
	Data       []byte    `json:"-"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Stats summarizes broker state for status output.
type Stats struct {
	Enabled         bool       `json:"enabled"`
	SourceURL       string     `json:"sourceUrl"`
	Connected       bool       `json:"connected"`
	Seq             uint64     `json:"seq"`
	FramesPublished uint64     `json:"framesPublished"`
	FramesRejected  uint64     `json:"framesRejected"`
	Reconnects      uint64     `json:"reconnects"`
	StreamClients   int64      `json:"streamClients"`
	LastFrameAt     *time.Time `json:"lastFrameAt,omitempty"`
	LastError       string     `json:"lastError,omitempty"`
}

// Options configures a Broker.
type Options struct {
	Enabled     bool
	SourceURL   string
	StateFile   string
	Backoff     time.Duration
	MaxBackoff  time.Duration
	ReadTimeout time.Duration
	Source      Source
	Logger      *slog.Logger
	Metrics     *metrics.Registry
	Now         func() time.Time
}

// OptionsFromConfig maps the [camera] section onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Enabled:     cfg.Camera.Enabled,
		SourceURL:   cfg.Camera.SourceURL,
		StateFile:   cfg.Camera.StateFile,
		Backoff:     time.Duration(cfg.Camera.RetryBackoffMS) * time.Millisecond,
		MaxBackoff:  time.Duration(cfg.Camera.MaxBackoffMS) * time.Millisecond,
		ReadTimeout: time.Duration(cfg.Camera.ReadTimeoutSeconds) * time.Second,
	}
}

type sourceState struct {
	SourceURL string    `json:"sourceUrl"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Broker distributes the newest camera frame to any number of readers.
type Broker struct {
	enabled    bool
	stateFile  string
	backoff    time.Duration
	maxBackoff time.Duration
	source     Source
	logger     *slog.Logger
	metrics    *metrics.Registry
	now        func() time.Time

	latest atomic.Pointer[Frame]
	seq    atomic.Uint64

	mu        sync.Mutex
	signal    chan struct{}
	sourceURL string
	reload    chan struct{}
	connected bool
	lastErr   string

	published  atomic.Uint64
	rejected   atomic.Uint64
	reconnects atomic.Uint64
	clients    atomic.Int64
}

// NewBroker builds a broker. A URL persisted in the state file overrides the
// configured one.
func NewBroker(opts Options) (*Broker, error) {
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	maxBackoff := opts.MaxBackoff
	if maxBackoff < backoff {
		maxBackoff = backoff
	}
	source := opts.Source
	if source == nil {
		source = NewHTTPSource(opts.ReadTimeout)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	b := &Broker{
		enabled:    opts.Enabled,
		stateFile:  strings.TrimSpace(opts.StateFile),
		backoff:    backoff,
		maxBackoff: maxBackoff,
		source:     source,
		logger:     logging.NewComponentLogger(opts.Logger, "camera"),
		metrics:    opts.Metrics,
		now:        now,
		signal:     make(chan struct{}),
		sourceURL:  strings.TrimSpace(opts.SourceURL),
		reload:     make(chan struct{}, 1),
	}
	if err := b.loadState(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Broker) loadState() error {
	if b.stateFile == "" {
		return nil
	}
	data, err := os.ReadFile(b.stateFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return services.Wrap(services.ErrStorage, "camera", "load state", "read camera state file", err)
	}
	var state sourceState
	if err := json.Unmarshal(data, &state); err != nil {
		logging.WarnWithContext(b.logger, "camera state file unreadable; using configured source", "camera_state_invalid",
			logging.String("path", b.stateFile),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "set the source again with PUT /camera/source"),
			logging.String(logging.FieldImpact, "runtime source change lost"),
		)
		return nil
	}
	if url := strings.TrimSpace(state.SourceURL); url != "" {
		b.sourceURL = url
	}
	return nil
}

// Run owns the source until ctx is cancelled. A disabled broker returns
// immediately.
func (b *Broker) Run(ctx context.Context) error {
	if !b.enabled {
		b.logger.Info("camera disabled", logging.String(logging.FieldEventType, "camera_disabled"))
		return nil
	}
	delay := b.backoff
	for {
		if ctx.Err() != nil {
			return nil
		}
		url := b.SourceURL()
		if url == "" {
			if !b.waitReload(ctx, 0) {
				return nil
			}
			continue
		}

		frames, err := b.consume(ctx, url)
		if ctx.Err() != nil {
			b.setConnected(false, "")
			return nil
		}
		if frames > 0 {
			delay = b.backoff
		}
		if err == nil || errors.Is(err, io.EOF) {
			b.setConnected(false, "")
			if !b.waitReload(ctx, pollInterval) {
				return nil
			}
			continue
		}

		b.setConnected(false, err.Error())
		b.reconnects.Add(1)
		b.metrics.CameraReconnect()
		logging.WarnWithContext(b.logger, "camera source failed; reconnecting", "camera_reconnect",
			logging.String("source_url", url),
			logging.Error(err),
			logging.Duration("backoff", delay),
			logging.String(logging.FieldErrorHint, "check camera.source_url and network"),
			logging.String(logging.FieldImpact, "live feed paused"),
		)
		if !b.waitReload(ctx, delay) {
			return nil
		}
		delay *= 2
		if delay > b.maxBackoff {
			delay = b.maxBackoff
		}
	}
}

// consume reads frames from one open stream until it fails, ends, or the
// source URL changes.
func (b *Broker) consume(ctx context.Context, url string) (int, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := b.source.Open(streamCtx, url)
	if err != nil {
		return 0, err
	}
	defer stream.Close()
	b.setConnected(true, "")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-b.reload:
			cancel()
			_ = stream.Close()
		case <-stop:
		}
	}()

	frames := 0
	for {
		data, err := stream.Next()
		if err != nil {
			if streamCtx.Err() != nil && ctx.Err() == nil {
				// source switched; reopen without backoff
				return frames, nil
			}
			return frames, err
		}
		if err := b.publish(data); err != nil {
			b.rejected.Add(1)
			b.metrics.FrameRejected()
			b.logger.Debug("camera frame rejected", logging.Error(err))
			continue
		}
		frames++
	}
}

func (b *Broker) publish(data []byte) error {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode jpeg header: %w", err)
	}
	frame := &Frame{
		Seq:        b.seq.Add(1),
		Data:       data,
		Width:      cfg.Width,
		Height:     cfg.Height,
		CapturedAt: b.now().UTC(),
	}
	b.latest.Store(frame)
	b.published.Add(1)
	b.metrics.FramePublished()

	b.mu.Lock()
	close(b.signal)
	b.signal = make(chan struct{})
	b.mu.Unlock()
	return nil
}

// waitReload sleeps for d or until the source URL changes. d == 0 waits only
// for a change. It returns false when ctx is done.
func (b *Broker) waitReload(ctx context.Context, d time.Duration) bool {
	var timer <-chan time.Time
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-ctx.Done():
		return false
	case <-b.reload:
		return true
	case <-timer:
		return true
	}
}

func (b *Broker) setConnected(connected bool, lastErr string) {
	b.mu.Lock()
	b.connected = connected
	if lastErr != "" || connected {
		b.lastErr = lastErr
	}
	b.mu.Unlock()
}

// Latest returns the newest frame.
func (b *Broker) Latest() (Frame, bool) {
	f := b.latest.Load()
	if f == nil {
		return Frame{}, false
	}
	return *f, true
}

// Next blocks until a frame with Seq > afterSeq is published or ctx is done.
func (b *Broker) Next(ctx context.Context, afterSeq uint64) (Frame, error) {
	for {
		b.mu.Lock()
		wait := b.signal
		b.mu.Unlock()

		if f := b.latest.Load(); f != nil && f.Seq > afterSeq {
			return *f, nil
		}
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-wait:
		}
	}
}

// Snapshot writes the newest frame to dir as capture_<timestamp>.jpg and
// returns its path.
func (b *Broker) Snapshot(dir string) (string, error) {
	f := b.latest.Load()
	if f == nil {
		return "", ErrNoFrameAvailable
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", services.Wrap(services.ErrStorage, "camera", "snapshot", "create capture directory", err)
	}
	stamp := f.CapturedAt.Local().Format("20060102_150405")
	path := filepath.Join(dir, fmt.Sprintf("capture_%s.jpg", stamp))
	err := fileutil.WriteNewFile(path, f.Data, 0o644)
	if errors.Is(err, os.ErrExist) {
		path = filepath.Join(dir, fmt.Sprintf("capture_%s_%d.jpg", stamp, f.Seq))
		err = fileutil.WriteNewFile(path, f.Data, 0o644)
		if errors.Is(err, os.ErrExist) {
			return path, nil
		}
	}
	if err != nil {
		return "", services.Wrap(services.ErrStorage, "camera", "snapshot", "write capture", err)
	}
	b.logger.Info("camera snapshot saved",
		logging.String(logging.FieldEventType, "camera_snapshot"),
		logging.String("path", path),
		logging.Uint64("seq", f.Seq),
	)
	return path, nil
}

// SourceURL returns the active camera URL.
func (b *Broker) SourceURL() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sourceURL
}

// SetSourceURL validates url, persists it to the state file and makes the
// broker reopen against it.
func (b *Broker) SetSourceURL(url string) error {
	url = strings.TrimSpace(url)
	if err := config.ValidateSourceURL(url); err != nil {
		return services.Wrap(services.ErrValidation, "camera", "set source", "invalid camera url", err)
	}
	if b.stateFile != "" {
		payload, err := json.MarshalIndent(sourceState{SourceURL: url, UpdatedAt: b.now().UTC()}, "", "  ")
		if err != nil {
			return services.Wrap(services.ErrStorage, "camera", "set source", "encode camera state", err)
		}
		if err := os.MkdirAll(filepath.Dir(b.stateFile), 0o755); err != nil {
			return services.Wrap(services.ErrStorage, "camera", "set source", "create state directory", err)
		}
		if err := fileutil.WriteFileAtomic(b.stateFile, append(payload, '\n'), 0o644); err != nil {
			return services.Wrap(services.ErrStorage, "camera", "set source", "persist camera state", err)
		}
	}

	b.mu.Lock()
	previous := b.sourceURL
	b.sourceURL = url
	b.mu.Unlock()

	select {
	case b.reload <- struct{}{}:
	default:
	}
	b.logger.Info("camera source changed",
		logging.String(logging.FieldEventType, "camera_source_changed"),
		logging.String("previous", previous),
		logging.String("source_url", url),
	)
	return nil
}

// Stats returns counters and connection state.
func (b *Broker) Stats() Stats {
	b.mu.Lock()
	stats := Stats{
		Enabled:   b.enabled,
		SourceURL: b.sourceURL,
		Connected: b.connected,
		LastError: b.lastErr,
	}
	b.mu.Unlock()
	stats.Seq = b.seq.Load()
	stats.FramesPublished = b.published.Load()
	stats.FramesRejected = b.rejected.Load()
	stats.Reconnects = b.reconnects.Load()
	stats.StreamClients = b.clients.Load()
	if f := b.latest.Load(); f != nil {
		at := f.CapturedAt
		stats.LastFrameAt = &at
	}
	return stats
}
