package actuator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"lostfound/internal/metrics"
	"lostfound/internal/services"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type relayRecorder struct {
	mu       sync.Mutex
	queries  []string
	auth     []string
	status   int
	failNext int
}

func (r *relayRecorder) handler(t *testing.T) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/external/api/update" {
			t.Errorf("unexpected path %q", req.URL.Path)
		}
		r.mu.Lock()
		r.queries = append(r.queries, req.URL.RawQuery)
		r.auth = append(r.auth, req.Header.Get("Authorization"))
		status := r.status
		if r.failNext > 0 {
			r.failNext--
			status = http.StatusBadGateway
		}
		r.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte("relay says no"))
	}
}

func (r *relayRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.queries...)
}

func newTestController(t *testing.T, rec *relayRecorder, window time.Duration, reg *metrics.Registry) *Controller {
	t.Helper()
	srv := httptest.NewServer(rec.handler(t))
	t.Cleanup(srv.Close)
	c := NewController(Options{
		BaseURL:       srv.URL + "/",
		Token:         "relay-secret",
		Timeout:       time.Second,
		ReleaseWindow: window,
		Metrics:       reg,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSetChannelSendsCommand(t *testing.T) {
	rec := &relayRecorder{}
	c := newTestController(t, rec, time.Second, nil)

	if err := c.SetChannel(context.Background(), "Wallet", On); err != nil {
		t.Fatalf("SetChannel: %v", err)
	}
	got := rec.snapshot()
	if len(got) != 1 || got[0] != "V2=1" {
		t.Fatalf("queries = %v, want [V2=1]", got)
	}
	if rec.auth[0] != "Bearer relay-secret" {
		t.Fatalf("authorization = %q", rec.auth[0])
	}
}

func TestSetChannelTokenInQuery(t *testing.T) {
	rec := &relayRecorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()
	c := NewController(Options{BaseURL: srv.URL, Token: "abc", TokenInQuery: true})

	if err := c.SetChannel(context.Background(), "phone", Off); err != nil {
		t.Fatalf("SetChannel: %v", err)
	}
	got := rec.snapshot()
	if len(got) != 1 || got[0] != "V1=0&token=abc" {
		t.Fatalf("queries = %v", got)
	}
}

func TestSetChannelErrors(t *testing.T) {
	rec := &relayRecorder{status: http.StatusInternalServerError}
	c := newTestController(t, rec, time.Second, nil)

	err := c.SetChannel(context.Background(), "phone", On)
	if !errors.Is(err, ErrActuatorUnreachable) {
		t.Fatalf("expected ErrActuatorUnreachable, got %v", err)
	}
	if services.HTTPStatus(err) != http.StatusBadGateway {
		t.Fatalf("status = %d", services.HTTPStatus(err))
	}

	err = c.SetChannel(context.Background(), "bicycle", On)
	if !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory, got %v", err)
	}
	if len(rec.snapshot()) != 1 {
		t.Fatal("unknown category must not reach the relay")
	}

	unconfigured := NewController(Options{})
	if err := unconfigured.SetChannel(context.Background(), "phone", On); !errors.Is(err, ErrActuatorUnreachable) {
		t.Fatalf("expected unreachable without base_url, got %v", err)
	}
}

func TestReleaseSequenceRelocksAfterWindow(t *testing.T) {
	rec := &relayRecorder{}
	reg := metrics.New()
	c := newTestController(t, rec, 200*time.Millisecond, reg)

	rel, err := c.ReleaseSequence(context.Background(), "umbrella")
	if err != nil {
		t.Fatalf("ReleaseSequence: %v", err)
	}
	if rel.Channel != 3 || rel.State != StatePending {
		t.Fatalf("unexpected release %+v", rel)
	}
	if got := rec.snapshot(); len(got) != 1 || got[0] != "V3=0" {
		t.Fatalf("queries after open = %v", got)
	}

	waitFor(t, 2*time.Second, func() bool {
		last, ok := c.LastRelease("umbrella")
		return ok && last.State == StateRelocked
	})
	got := rec.snapshot()
	if len(got) != 2 || got[1] != "V3=1" {
		t.Fatalf("queries = %v, want off then on", got)
	}
	if c.Pending() != 0 {
		t.Fatalf("pending = %d", c.Pending())
	}
	expected := `
# HELP lostfound_release_sequences_total Release sequences, by phase and outcome.
# TYPE lostfound_release_sequences_total counter
lostfound_release_sequences_total{outcome="ok",phase="open"} 1
lostfound_release_sequences_total{outcome="ok",phase="relock"} 1
`
	if err := testutil.GatherAndCompare(reg.Gatherer(), strings.NewReader(expected), "lostfound_release_sequences_total"); err != nil {
		t.Fatalf("release metrics: %v", err)
	}
}

func TestReleaseSequenceOpenFailureSkipsRelock(t *testing.T) {
	rec := &relayRecorder{failNext: 1}
	c := newTestController(t, rec, 10*time.Millisecond, nil)

	if _, err := c.ReleaseSequence(context.Background(), "calculator"); !errors.Is(err, ErrActuatorUnreachable) {
		t.Fatalf("expected unreachable, got %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 1 {
		t.Fatalf("queries = %v, want only the failed open", got)
	}
	if _, ok := c.LastRelease("calculator"); ok {
		t.Fatal("failed open must not record a release")
	}
}

func TestReleaseSequenceRecordsRelockFailure(t *testing.T) {
	rec := &relayRecorder{}
	c := newTestController(t, rec, 100*time.Millisecond, nil)

	if _, err := c.ReleaseSequence(context.Background(), "random"); err != nil {
		t.Fatalf("ReleaseSequence: %v", err)
	}
	rec.mu.Lock()
	rec.failNext = 1
	rec.mu.Unlock()

	waitFor(t, 2*time.Second, func() bool {
		last, ok := c.LastRelease("random")
		return ok && last.State == StateFailed
	})
	last, _ := c.LastRelease("random")
	if last.Error == "" || last.CompletedAt == nil {
		t.Fatalf("failure not recorded: %+v", last)
	}
}

func TestShutdownFiresPendingRelocks(t *testing.T) {
	rec := &relayRecorder{}
	c := newTestController(t, rec, time.Hour, nil)

	for _, category := range []string{"phone", "wallet"} {
		if _, err := c.ReleaseSequence(context.Background(), category); err != nil {
			t.Fatalf("ReleaseSequence %s: %v", category, err)
		}
	}
	if c.Pending() != 2 {
		t.Fatalf("pending = %d", c.Pending())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if c.Pending() != 0 {
		t.Fatalf("pending after shutdown = %d", c.Pending())
	}
	got := rec.snapshot()
	if len(got) != 4 {
		t.Fatalf("queries = %v", got)
	}
	for _, rel := range c.Releases() {
		if rel.State != StateRelocked {
			t.Fatalf("release %s state %s", rel.Category, rel.State)
		}
	}

	if _, err := c.ReleaseSequence(context.Background(), "phone"); !errors.Is(err, ErrActuatorUnreachable) {
		t.Fatalf("expected refusal after shutdown, got %v", err)
	}
}

func TestChannelsOrdered(t *testing.T) {
	c := NewController(Options{})
	chans := c.Channels()
	if len(chans) != 5 {
		t.Fatalf("channels = %v", chans)
	}
	for i, ch := range chans {
		if ch.Channel != i+1 {
			t.Fatalf("channels out of order: %v", chans)
		}
	}
}

func TestParseValue(t *testing.T) {
	for raw, want := range map[string]Value{"on": On, "OFF": Off, "1": On, "0": Off} {
		got, err := ParseValue(raw)
		if err != nil || got != want {
			t.Fatalf("ParseValue(%q) = %v, %v", raw, got, err)
		}
	}
	if _, err := ParseValue("maybe"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRelockFailureInvokesHook(t *testing.T) {
	rec := &relayRecorder{}
	srv := httptest.NewServer(rec.handler(t))
	t.Cleanup(srv.Close)

	failed := make(chan Release, 1)
	c := NewController(Options{
		BaseURL:        srv.URL + "/",
		Timeout:        time.Second,
		ReleaseWindow:  100 * time.Millisecond,
		OnRelockFailed: func(rel Release) { failed <- rel },
	})
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	if _, err := c.ReleaseSequence(context.Background(), "wallet"); err != nil {
		t.Fatalf("ReleaseSequence: %v", err)
	}
	rec.mu.Lock()
	rec.failNext = 1
	rec.mu.Unlock()

	select {
	case rel := <-failed:
		if rel.Category != "wallet" || rel.State != StateFailed {
			t.Fatalf("unexpected release passed to hook: %+v", rel)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("relock failure hook not called")
	}
}

func TestOverlappingReleasesKeepLatestRecord(t *testing.T) {
	rec := &relayRecorder{}
	reg := metrics.New()
	c := newTestController(t, rec, 300*time.Millisecond, reg)
	ctx := context.Background()

	first, err := c.ReleaseSequence(ctx, "phone")
	if err != nil {
		t.Fatalf("first ReleaseSequence: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	second, err := c.ReleaseSequence(ctx, "phone")
	if err != nil {
		t.Fatalf("second ReleaseSequence: %v", err)
	}
	if second.ID <= first.ID {
		t.Fatalf("release ids not increasing: %d then %d", first.ID, second.ID)
	}
	// The first relock fails; that outcome belongs to a superseded release.
	rec.mu.Lock()
	rec.failNext = 1
	rec.mu.Unlock()

	waitFor(t, 2*time.Second, func() bool { return c.Pending() == 1 })
	if got := rec.snapshot(); len(got) != 3 || got[2] != "V1=1" {
		t.Fatalf("queries = %v, want two opens and the first relock", got)
	}
	last, ok := c.LastRelease("phone")
	if !ok || last.ID != second.ID || last.State != StatePending || last.CompletedAt != nil {
		t.Fatalf("superseded relock overwrote the latest release: %+v", last)
	}

	waitFor(t, 2*time.Second, func() bool {
		last, ok := c.LastRelease("phone")
		return ok && last.State == StateRelocked
	})
	last, _ = c.LastRelease("phone")
	if last.ID != second.ID || last.Error != "" {
		t.Fatalf("unexpected final record %+v", last)
	}
	if got := c.Releases(); len(got) != 1 || got[0].ID != second.ID {
		t.Fatalf("releases = %+v", got)
	}
	expected := `
# HELP lostfound_release_sequences_total Release sequences, by phase and outcome.
# TYPE lostfound_release_sequences_total counter
lostfound_release_sequences_total{outcome="ok",phase="open"} 2
lostfound_release_sequences_total{outcome="error",phase="relock"} 1
lostfound_release_sequences_total{outcome="ok",phase="relock"} 1
`
	if err := testutil.GatherAndCompare(reg.Gatherer(), strings.NewReader(expected), "lostfound_release_sequences_total"); err != nil {
		t.Fatalf("release metrics: %v", err)
	}
}
