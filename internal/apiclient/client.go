// Package apiclient talks to a running lostfound daemon over its HTTP API.
// Error responses are decoded into *Error values that unwrap to the
// internal/services markers, so callers can use errors.Is across the wire.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"lostfound/internal/actuator"
	"lostfound/internal/api"
	"lostfound/internal/claims"
	"lostfound/internal/config"
	"lostfound/internal/items"
	"lostfound/internal/logs"
	"lostfound/internal/services"
	"lostfound/internal/store"
)

// ErrDaemonUnreachable is returned when no daemon answers at the API address.
var ErrDaemonUnreachable = errors.New("daemon not reachable")

// Error is a non-2xx API response.
type Error struct {
	Status   int
	Kind     string
	Message  string
	ReportID int64
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned %d", e.Status)
	}
	return e.Message
}

// Unwrap maps the wire kind back to its services marker.
func (e *Error) Unwrap() error {
	switch e.Kind {
	case "identity_not_registered":
		return services.ErrIdentityNotRegistered
	case "validation":
		return services.ErrValidation
	case "not_found":
		return services.ErrNotFound
	case "conflict":
		return services.ErrConflict
	case "upstream_unavailable":
		return services.ErrUpstreamUnavailable
	case "storage":
		return services.ErrStorage
	default:
		return nil
	}
}

// Client is a thin typed wrapper over the daemon API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New builds a client for baseURL. A nil httpClient uses a 30s timeout.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// FromConfig targets the daemon configured by cfg. Wildcard bind addresses
// are dialed on loopback.
func FromConfig(cfg *config.Config) *Client {
	return New(BaseURL(cfg.Paths.APIBind), cfg.Paths.APIToken, nil)
}

// BaseURL converts an api_bind value into a dialable URL.
func BaseURL(bind string) string {
	bind = strings.TrimSpace(bind)
	host, port, err := net.SplitHostPort(bind)
	if err != nil {
		return "http://" + bind
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return nil, fmt.Errorf("%w at %s: %v", ErrDaemonUnreachable, c.baseURL, err)
		}
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	apiErr := &Error{Status: resp.StatusCode}
	var payload api.ErrorResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		apiErr.Kind = payload.Kind
		apiErr.Message = payload.Error
		apiErr.ReportID = payload.ReportID
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// Health returns nil when the daemon answers /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/healthz", nil, nil)
}

// Status fetches the daemon status.
func (c *Client) Status(ctx context.Context) (api.DaemonStatus, error) {
	var out api.DaemonStatus
	err := c.doJSON(ctx, http.MethodGet, "/status", nil, &out)
	return out, err
}

// Logs reads the daemon log. A negative offset returns the last lines;
// follow asks the daemon to wait for new output.
func (c *Client) Logs(ctx context.Context, offset int64, lines int, follow bool) (logs.Chunk, error) {
	q := url.Values{}
	if offset >= 0 {
		q.Set("offset", strconv.FormatInt(offset, 10))
	}
	if lines > 0 {
		q.Set("lines", strconv.Itoa(lines))
	}
	if follow {
		q.Set("follow", "1")
	}
	path := "/logs"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var out logs.Chunk
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// RegisterIdentity adds a student or staff member.
func (c *Client) RegisterIdentity(ctx context.Context, req api.IdentityRequest) (store.Identity, error) {
	var out store.Identity
	err := c.doJSON(ctx, http.MethodPost, "/identities", req, &out)
	return out, err
}

// ListIdentities lists identities, optionally of one type.
func (c *Client) ListIdentities(ctx context.Context, kind items.ReporterType) ([]store.Identity, error) {
	path := "/identities"
	if kind != "" {
		path += "?type=" + url.QueryEscape(string(kind))
	}
	var out []store.Identity
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// DeleteIdentity removes an identity by number.
func (c *Client) DeleteIdentity(ctx context.Context, number string) error {
	return c.doJSON(ctx, http.MethodDelete, "/identities/"+url.PathEscape(number), nil, nil)
}

// SubmitReport files a lost or found report. On a relay failure the returned
// *Error carries the id of the report that was kept.
func (c *Client) SubmitReport(ctx context.Context, req api.ReportRequest) (api.ReportResponse, error) {
	var out api.ReportResponse
	err := c.doJSON(ctx, http.MethodPost, "/reports", req, &out)
	return out, err
}

// ListReports lists reports, optionally of one kind.
func (c *Client) ListReports(ctx context.Context, kind items.Kind) ([]store.Report, error) {
	path := "/reports"
	if kind != "" {
		path += "?kind=" + url.QueryEscape(string(kind))
	}
	var out []store.Report
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// DeleteReport removes one report.
func (c *Client) DeleteReport(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, "/reports/"+strconv.FormatInt(id, 10), nil, nil)
}

// DeleteReports removes every report of kind.
func (c *Client) DeleteReports(ctx context.Context, kind items.Kind) (int64, error) {
	var out api.DeleteResponse
	err := c.doJSON(ctx, http.MethodDelete, "/reports?kind="+url.QueryEscape(string(kind)), nil, &out)
	return out.Deleted, err
}

// UploadEvidence sends image files from disk as one evidence batch.
func (c *Client) UploadEvidence(ctx context.Context, identityID string, foundItemID int64, paths []string) (claims.Result, error) {
	var out claims.Result
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("identityId", identityID); err != nil {
		return out, fmt.Errorf("encode form: %w", err)
	}
	if foundItemID > 0 {
		if err := mw.WriteField("foundItemId", strconv.FormatInt(foundItemID, 10)); err != nil {
			return out, fmt.Errorf("encode form: %w", err)
		}
	}
	for _, path := range paths {
		if err := addFile(mw, path); err != nil {
			return out, err
		}
	}
	if err := mw.Close(); err != nil {
		return out, fmt.Errorf("encode form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/claims/evidence", &buf)
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.send(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode evidence response: %w", err)
	}
	return out, nil
}

func addFile(mw *multipart.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open evidence %s: %w", path, err)
	}
	defer file.Close()
	w, err := mw.CreateFormFile("images", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("encode form: %w", err)
	}
	if _, err := io.Copy(w, file); err != nil {
		return fmt.Errorf("read evidence %s: %w", path, err)
	}
	return nil
}

// ListClaims lists every claim.
func (c *Client) ListClaims(ctx context.Context) ([]claims.Claim, error) {
	var out []claims.Claim
	err := c.doJSON(ctx, http.MethodGet, "/claims", nil, &out)
	return out, err
}

// DeleteClaim removes the claim for identityID and its evidence files.
func (c *Client) DeleteClaim(ctx context.Context, identityID string) error {
	return c.doJSON(ctx, http.MethodPost, "/claims/"+url.PathEscape(identityID)+"/delete", nil, nil)
}

// Channels returns the category to relay channel table.
func (c *Client) Channels(ctx context.Context) ([]actuator.Channel, error) {
	var out []actuator.Channel
	err := c.doJSON(ctx, http.MethodGet, "/actuator/channels", nil, &out)
	return out, err
}

// Release runs the release sequence for category.
func (c *Client) Release(ctx context.Context, category string) (actuator.Release, error) {
	var out actuator.Release
	err := c.doJSON(ctx, http.MethodPost, "/actuator/"+url.PathEscape(category)+"/release", nil, &out)
	return out, err
}

// SetChannel switches the relay channel for category.
func (c *Client) SetChannel(ctx context.Context, category string, value actuator.Value) (api.ActuatorCommandResponse, error) {
	var out api.ActuatorCommandResponse
	err := c.doJSON(ctx, http.MethodPost, "/actuator/"+url.PathEscape(category)+"/"+value.String(), nil, &out)
	return out, err
}

// CameraSource returns the active camera URL.
func (c *Client) CameraSource(ctx context.Context) (string, error) {
	var out api.CameraSource
	err := c.doJSON(ctx, http.MethodGet, "/camera/source", nil, &out)
	return out.URL, err
}

// SetCameraSource switches the camera URL.
func (c *Client) SetCameraSource(ctx context.Context, source string) (string, error) {
	var out api.CameraSource
	err := c.doJSON(ctx, http.MethodPut, "/camera/source", api.CameraSource{URL: source}, &out)
	return out.URL, err
}

// Snapshot asks the daemon to capture the current frame and copies it to w.
// It returns the file name the daemon saved it under.
func (c *Client) Snapshot(ctx context.Context, w io.Writer) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/camera/snapshot", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.send(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	name := "snapshot.jpg"
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = filepath.Base(params["filename"])
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", fmt.Errorf("download snapshot: %w", err)
	}
	return name, nil
}

// FetchEvidence copies a stored evidence file to w.
func (c *Client) FetchEvidence(ctx context.Context, name string, w io.Writer) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/claims/files/"+url.PathEscape(name), nil)
	if err != nil {
		return err
	}
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("download evidence %s: %w", name, err)
	}
	return nil
}
