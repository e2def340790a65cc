package daemon

import (
	"net/http"
	"strings"

	"lostfound/internal/api"
	"lostfound/internal/items"
	"lostfound/internal/logging"
	"lostfound/internal/store"
)

func (s *apiServer) handleRegisterIdentity(w http.ResponseWriter, r *http.Request) {
	var req api.IdentityRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	number, name, kind, err := req.Parse()
	if err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	identity, err := s.daemon.store.Identities().Register(r.Context(), number, name, kind)
	if err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	logging.WithContext(r.Context(), s.logger).Info("identity registered",
		logging.String(logging.FieldEventType, "identity_registered"),
		logging.String(logging.FieldOwnerID, identity.Number),
		logging.String("type", string(identity.Type)),
	)
	s.writeJSON(w, http.StatusCreated, identity)
}

func (s *apiServer) handleListIdentities(w http.ResponseWriter, r *http.Request) {
	var kind items.ReporterType
	if raw := strings.TrimSpace(r.URL.Query().Get("type")); raw != "" {
		parsed, err := items.ParseReporterType(raw)
		if err != nil {
			s.writeError(w, r, err, 0)
			return
		}
		kind = parsed
	}
	identities, err := s.daemon.store.Identities().List(r.Context(), kind)
	if err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	if identities == nil {
		identities = []store.Identity{}
	}
	s.writeJSON(w, http.StatusOK, identities)
}

func (s *apiServer) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	identity, err := s.daemon.store.Identities().Lookup(r.Context(), r.PathValue("number"))
	if err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	s.writeJSON(w, http.StatusOK, identity)
}

func (s *apiServer) handleDeleteIdentity(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.store.Identities().Delete(r.Context(), r.PathValue("number")); err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
