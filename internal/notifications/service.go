package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lostfound/internal/config"
)

const userAgent = "lostfound/1.0"

// Event identifies a notification type.
type Event string

const (
	EventFoundReported Event = "found_reported"
	EventClaimLinked   Event = "claim_linked"
	EventReleaseFailed Event = "release_failed"
	EventRelockFailed  Event = "relock_failed"
	EventTest          Event = "test"
)

// Payload carries the event fields used to format a message.
type Payload map[string]string

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

func format(event Event, p Payload) (message, bool) {
	category := strings.TrimSpace(p["category"])
	switch event {
	case EventFoundReported:
		body := fmt.Sprintf("Found %s stored in compartment %s", category, p["channel"])
		if desc := strings.TrimSpace(p["description"]); desc != "" {
			body += ": " + desc
		}
		return message{
			title: "Lost & Found - Item Stored",
			body:  body,
			tags:  []string{"lostfound", "found", category},
		}, true
	case EventClaimLinked:
		return message{
			title: "Lost & Found - Claim Linked",
			body:  fmt.Sprintf("%s claimed found report %s (%s)", p["identityId"], p["reportId"], category),
			tags:  []string{"lostfound", "claim", category},
		}, true
	case EventReleaseFailed:
		return message{
			title:    "Lost & Found - Release Failed",
			body:     fmt.Sprintf("Compartment for %s did not open (report %s): %s", category, p["reportId"], p["error"]),
			tags:     []string{"lostfound", "actuator", "error"},
			priority: "high",
		}, true
	case EventRelockFailed:
		return message{
			title:    "Lost & Found - Relock Failed",
			body:     fmt.Sprintf("Compartment %s (%s) may be open: %s", p["channel"], category, p["error"]),
			tags:     []string{"lostfound", "actuator", "alert"},
			priority: "urgent",
		}, true
	case EventTest:
		return message{
			title:    "Lost & Found - Test",
			body:     "Notification system test",
			tags:     []string{"lostfound", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := format(event, payload)
	if !ok {
		return fmt.Errorf("unknown notification event %q", event)
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if tags := compact(data.tags); len(tags) > 0 {
		req.Header.Set("Tags", strings.Join(tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func compact(values []string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
