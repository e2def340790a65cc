package daemon

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"lostfound/internal/actuator"
	"lostfound/internal/api"
	"lostfound/internal/camera"
	"lostfound/internal/logging"
)

func (s *apiServer) handleChannels(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.actuator.Channels())
}

func (s *apiServer) handleReleases(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.actuator.Releases())
}

func (s *apiServer) handleRelease(w http.ResponseWriter, r *http.Request) {
	release, err := s.daemon.actuator.ReleaseSequence(r.Context(), r.PathValue("category"))
	if err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	s.writeJSON(w, http.StatusOK, release)
}

func (s *apiServer) handleSetChannel(w http.ResponseWriter, r *http.Request) {
	category := r.PathValue("category")
	value, err := actuator.ParseValue(r.PathValue("value"))
	if err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	channel, err := s.daemon.actuator.Channel(category)
	if err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	if err := s.daemon.actuator.SetChannel(r.Context(), category, value); err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ActuatorCommandResponse{Category: category, Channel: channel, Value: value.String()})
}

var errCameraUnavailable = fmt.Errorf("%w: camera broker not configured", camera.ErrNoFrameAvailable)

func (s *apiServer) broker() (*camera.Broker, error) {
	if s.daemon.camera == nil {
		return nil, errCameraUnavailable
	}
	return s.daemon.camera, nil
}

func (s *apiServer) handleCameraStream(w http.ResponseWriter, r *http.Request) {
	b, err := s.broker()
	if err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	// the stream outlives the server write timeout
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Debug("clear stream write deadline", logging.Error(err))
	}
	b.ServeStream(w, r)
}

func (s *apiServer) handleCameraSnapshot(w http.ResponseWriter, r *http.Request) {
	b, err := s.broker()
	if err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	path, err := b.Snapshot(s.daemon.cfg.Paths.CaptureDir)
	if err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeFile(w, r, path)
}

func (s *apiServer) handleGetCameraSource(w http.ResponseWriter, r *http.Request) {
	b, err := s.broker()
	if err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	s.writeJSON(w, http.StatusOK, api.CameraSource{URL: b.SourceURL()})
}

func (s *apiServer) handleSetCameraSource(w http.ResponseWriter, r *http.Request) {
	b, err := s.broker()
	if err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	var req api.CameraSource
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	if err := b.SetSourceURL(req.URL); err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	s.writeJSON(w, http.StatusOK, api.CameraSource{URL: b.SourceURL()})
}
