package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"lostfound/internal/api"
	"lostfound/internal/config"
	"lostfound/internal/logging"
	"lostfound/internal/services"
)

// maxJSONBody bounds non-upload request bodies.
const maxJSONBody = 1 << 20

type apiServer struct {
	bind    string
	token   string
	logger  *slog.Logger
	daemon  *Daemon
	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, errors.New("paths.api_bind is required")
	}
	srv := &apiServer{
		bind:   bind,
		token:  cfg.Paths.APIToken,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	srv.route(mux, "GET /status", srv.handleStatus)
	srv.route(mux, "GET /metrics", d.metrics.Handler().ServeHTTP)
	srv.route(mux, "GET /logs", srv.handleLogs)

	srv.route(mux, "POST /reports", srv.handleCreateReport)
	srv.route(mux, "GET /reports", srv.handleListReports)
	srv.route(mux, "GET /reports/{id}", srv.handleGetReport)
	srv.route(mux, "DELETE /reports/{id}", srv.handleDeleteReport)
	srv.route(mux, "DELETE /reports", srv.handleDeleteReports)

	srv.route(mux, "POST /identities", srv.handleRegisterIdentity)
	srv.route(mux, "GET /identities", srv.handleListIdentities)
	srv.route(mux, "GET /identities/{number}", srv.handleGetIdentity)
	srv.route(mux, "DELETE /identities/{number}", srv.handleDeleteIdentity)

	srv.route(mux, "POST /claims/evidence", srv.handleUploadEvidence)
	srv.route(mux, "GET /claims", srv.handleListClaims)
	srv.route(mux, "GET /claims/{identityId}", srv.handleGetClaim)
	srv.route(mux, "POST /claims/{identityId}/delete", srv.handleDeleteClaim)
	srv.route(mux, "DELETE /claims/{identityId}", srv.handleDeleteClaim)
	srv.route(mux, "GET /claims/files/{name}", srv.handleEvidenceFile)

	srv.route(mux, "GET /actuator/channels", srv.handleChannels)
	srv.route(mux, "GET /actuator/releases", srv.handleReleases)
	srv.route(mux, "POST /actuator/{category}/release", srv.handleRelease)
	srv.route(mux, "POST /actuator/{category}/{value}", srv.handleSetChannel)

	srv.route(mux, "GET /camera/stream", srv.handleCameraStream)
	srv.route(mux, "GET /camera/snapshot", srv.handleCameraSnapshot)
	srv.route(mux, "GET /camera/source", srv.handleGetCameraSource)
	srv.route(mux, "PUT /camera/source", srv.handleSetCameraSource)

	srv.handler = requestIDMiddleware(metricsMiddleware(d.metrics, mux))
	return srv, nil
}

func (s *apiServer) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, authMiddleware(s.token, h))
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		// streaming clients hold connections open; drop them
		_ = server.Close()
	}
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errRequestTooLarge
		}
		return fmt.Errorf("%w: invalid JSON body: %v", services.ErrValidation, err)
	}
	if _, err := io.Copy(io.Discard, body); err != nil {
		return errRequestTooLarge
	}
	return nil
}

var errRequestTooLarge = fmt.Errorf("%w: request body too large", services.ErrValidation)

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

// writeError maps err onto the uniform error body. reportID, when non-zero,
// tells the client a report was stored despite the failure.
func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error, reportID int64) {
	status := services.HTTPStatus(err)
	if errors.Is(err, errRequestTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	kind := services.Kind(err)
	if kind == "" {
		kind = "storage"
	}
	if status >= http.StatusInternalServerError {
		logger := logging.WithContext(r.Context(), s.logger)
		logger.Warn("request failed",
			logging.String(logging.FieldEventType, "api_request_failed"),
			logging.String("route", r.Pattern),
			logging.Int("status", status),
			logging.Error(err),
		)
	}
	s.writeJSON(w, status, api.ErrorResponse{Error: err.Error(), Kind: kind, ReportID: reportID})
}
