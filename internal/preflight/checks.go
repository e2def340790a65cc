package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"lostfound/internal/config"
)

const probeTimeout = 5 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies the filesystem holding path has at least minBytes
// available to unprivileged users.
func CheckFreeSpace(name, path string, minBytes uint64) Result {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	free := uint64(st.Bavail) * uint64(st.Bsize)
	detail := fmt.Sprintf("%s free", formatBytes(free))
	if free < minBytes {
		return Result{Name: name, Detail: detail + fmt.Sprintf(" (below %s)", formatBytes(minBytes))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckRelay verifies the relay host answers HTTP. It probes the base URL
// itself so no channel changes state.
func CheckRelay(ctx context.Context, baseURL, token string) Result {
	const name = "Relay"

	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing base_url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	client := &http.Client{Timeout: probeTimeout}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, base+"/", nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("probe failed (%v)", err)}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{Name: name, Detail: "auth failed (check actuator.token)"}
	case resp.StatusCode >= 500:
		return Result{Name: name, Detail: fmt.Sprintf("relay error (%d)", resp.StatusCode)}
	default:
		return Result{Name: name, Passed: true, Detail: "Reachable"}
	}
}

// CheckCamera verifies the camera source answers with an image or MJPEG
// stream. The response body is not consumed beyond the headers.
func CheckCamera(ctx context.Context, sourceURL string) Result {
	const name = "Camera"

	source := strings.TrimSpace(sourceURL)
	if source == "" {
		return Result{Name: name, Detail: "missing source_url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, source, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("probe failed (%v)", err)}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{Name: name, Detail: fmt.Sprintf("camera returned %d", resp.StatusCode)}
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") && !strings.HasPrefix(contentType, "multipart/") {
		return Result{Name: name, Detail: fmt.Sprintf("unexpected content type %q", contentType)}
	}
	return Result{Name: name, Passed: true, Detail: "Streaming"}
}

// CheckActuatorFromConfig evaluates relay status from config and connectivity.
func CheckActuatorFromConfig(ctx context.Context, cfg *config.Config) Result {
	if cfg == nil {
		return Result{Name: "Relay", Detail: "Unknown"}
	}
	if strings.TrimSpace(cfg.Actuator.BaseURL) == "" {
		return Result{Name: "Relay", Detail: "Not configured"}
	}
	return CheckRelay(ctx, cfg.Actuator.BaseURL, cfg.Actuator.Token)
}

// CheckCameraFromConfig evaluates camera status from config and connectivity.
// A disabled camera passes.
func CheckCameraFromConfig(ctx context.Context, cfg *config.Config) Result {
	if cfg == nil {
		return Result{Name: "Camera", Detail: "Unknown"}
	}
	if !cfg.Camera.Enabled {
		return Result{Name: "Camera", Passed: true, Detail: "Disabled"}
	}
	return CheckCamera(ctx, cfg.Camera.SourceURL)
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "probe timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "probe timed out (unreachable)"
	}
	return fmt.Sprintf("unreachable (%v)", err)
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
