package actuator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lostfound/internal/services"
)

const userAgent = "lostfound/actuator"

// Value is the commanded relay state.
type Value int

const (
	Off Value = 0
	On  Value = 1
)

func (v Value) String() string {
	if v == On {
		return "on"
	}
	return "off"
}

// ParseValue accepts on/off and 1/0.
func ParseValue(raw string) (Value, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "on", "1":
		return On, nil
	case "off", "0":
		return Off, nil
	default:
		return Off, fmt.Errorf("%w: relay value must be on or off, got %q", services.ErrValidation, raw)
	}
}

// relayClient performs single relay commands.
type relayClient struct {
	baseURL      string
	token        string
	tokenInQuery bool
	client       *http.Client
}

func newRelayClient(baseURL, token string, tokenInQuery bool, timeout time.Duration, client *http.Client) *relayClient {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &relayClient{
		baseURL:      strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:        token,
		tokenInQuery: tokenInQuery,
		client:       client,
	}
}

func (r *relayClient) endpoint(channel int, value Value) (string, error) {
	if r.baseURL == "" {
		return "", fmt.Errorf("%w: relay base_url is not configured", ErrActuatorUnreachable)
	}
	u, err := url.Parse(r.baseURL + "/external/api/update")
	if err != nil {
		return "", fmt.Errorf("%w: parse relay url: %v", ErrActuatorUnreachable, err)
	}
	q := u.Query()
	if r.tokenInQuery && r.token != "" {
		q.Set("token", r.token)
	}
	q.Set("V"+strconv.Itoa(channel), strconv.Itoa(int(value)))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (r *relayClient) send(ctx context.Context, channel int, value Value) error {
	endpoint, err := r.endpoint(channel, value)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: build relay request: %v", ErrActuatorUnreachable, err)
	}
	req.Header.Set("User-Agent", userAgent)
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrActuatorUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%w: relay returned %d: %s", ErrActuatorUnreachable, resp.StatusCode, msg)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
