package daemon

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lostfound/internal/logs"
	"lostfound/internal/services"
)

const (
	defaultLogLines = 50
	maxLogWait      = 10 * time.Second
)

// handleLogs serves GET /logs?offset=&lines=&follow=. Without an offset the
// last lines are returned; follow holds the request open until output
// arrives or maxLogWait elapses.
func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	path := s.daemon.cfg.CurrentLogPath()
	if path == "" {
		s.writeError(w, r, fmt.Errorf("%w: paths.log_dir is not configured", services.ErrNotFound), 0)
		return
	}
	req, err := parseLogRequest(r)
	if err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	chunk, err := logs.Tail(r.Context(), path, req)
	if err != nil && r.Context().Err() == nil {
		s.writeError(w, r, services.Wrap(services.ErrStorage, "logs", "tail", "read daemon log", err), 0)
		return
	}
	s.writeJSON(w, http.StatusOK, chunk)
}

func parseLogRequest(r *http.Request) (logs.Request, error) {
	q := r.URL.Query()
	req := logs.Request{Offset: -1, Lines: defaultLogLines}
	if raw := strings.TrimSpace(q.Get("offset")); raw != "" {
		offset, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return req, fmt.Errorf("%w: offset must be an integer", services.ErrValidation)
		}
		req.Offset = offset
	}
	if raw := strings.TrimSpace(q.Get("lines")); raw != "" {
		lines, err := strconv.Atoi(raw)
		if err != nil || lines < 0 {
			return req, fmt.Errorf("%w: lines must be a non-negative integer", services.ErrValidation)
		}
		req.Lines = lines
	}
	if follow, _ := strconv.ParseBool(q.Get("follow")); follow {
		req.Wait = maxLogWait
	}
	return req, nil
}
