package daemon

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"lostfound/internal/api"
	"lostfound/internal/items"
	"lostfound/internal/services"
	"lostfound/internal/store"
)

func (s *apiServer) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var req api.ReportRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	in, err := req.NewReport()
	if err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	ctx := services.WithOwnerID(r.Context(), in.OwnerID)
	report, release, err := s.daemon.SubmitReport(ctx, in)
	if err != nil {
		s.writeError(w, r, err, report.ID)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.ReportResponse{ID: report.ID, Report: report, Release: release})
}

func (s *apiServer) handleListReports(w http.ResponseWriter, r *http.Request) {
	filter, err := reportFilter(r)
	if err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	reports, err := s.daemon.store.Reports().List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	if reports == nil {
		reports = []store.Report{}
	}
	s.writeJSON(w, http.StatusOK, reports)
}

func (s *apiServer) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	report, err := s.daemon.store.Reports().Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *apiServer) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	if err := s.daemon.store.Reports().Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteReports removes every report of one kind. The kind is mandatory
// so a bare DELETE /reports cannot wipe both tables.
func (s *apiServer) handleDeleteReports(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("kind")
	if strings.TrimSpace(raw) == "" {
		s.writeError(w, r, fmt.Errorf("%w: kind query parameter is required", services.ErrValidation), 0)
		return
	}
	kind, err := items.ParseKind(raw)
	if err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	deleted, err := s.daemon.store.Reports().DeleteKind(r.Context(), kind)
	if err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	s.writeJSON(w, http.StatusOK, api.DeleteResponse{Deleted: deleted})
}

func reportFilter(r *http.Request) (store.ReportFilter, error) {
	query := r.URL.Query()
	var filter store.ReportFilter
	if raw := strings.TrimSpace(query.Get("kind")); raw != "" {
		kind, err := items.ParseKind(raw)
		if err != nil {
			return filter, err
		}
		filter.Kind = kind
	}
	filter.OwnerID = strings.TrimSpace(query.Get("owner"))
	return filter, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", services.ErrValidation, name, raw)
	}
	return id, nil
}
